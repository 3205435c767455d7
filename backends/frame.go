// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"strings"
)

// ArgKind is the kind of a kernel call argument.
type ArgKind int

const (
	ArgConstant ArgKind = iota
	ArgReference
	ArgKernelContext
)

// KernelArg is one argument of a kernel call.
type KernelArg struct {
	Kind ArgKind

	// Value is the constant value for ArgConstant, the device Buffer for ArgReference and nil
	// for ArgKernelContext.
	Value any
}

// KernelStackFrame is the reusable call-argument buffer of one kernel call site.
// It is reset and repopulated on every launch.
type KernelStackFrame interface {
	// Reset clears the arguments and the kernel context.
	Reset()

	// SetKernelContext sets the global work sizes per dimension, if a grid was configured.
	SetKernelContext(globalWork map[int]int64)

	// KernelContext returns the global work sizes set with SetKernelContext.
	KernelContext() map[int]int64

	// AddConstant adds an argument passed by value.
	AddConstant(value any)

	// AddReference adds an argument passed by device buffer.
	AddReference(buffer Buffer)

	// AddKernelContext adds the kernel-context argument.
	AddKernelContext()

	// Args returns the arguments added since the last Reset.
	Args() []KernelArg
}

// StackFrame is a generic KernelStackFrame that devices can use or embed.
type StackFrame struct {
	args       []KernelArg
	globalWork map[int]int64
}

var _ KernelStackFrame = (*StackFrame)(nil)

// NewStackFrame creates a StackFrame with space for numArgs arguments.
func NewStackFrame(numArgs int) *StackFrame {
	return &StackFrame{args: make([]KernelArg, 0, numArgs)}
}

// Reset implements KernelStackFrame.
func (f *StackFrame) Reset() {
	f.args = f.args[:0]
	f.globalWork = nil
}

// SetKernelContext implements KernelStackFrame.
func (f *StackFrame) SetKernelContext(globalWork map[int]int64) {
	f.globalWork = globalWork
}

// KernelContext implements KernelStackFrame.
func (f *StackFrame) KernelContext() map[int]int64 {
	return f.globalWork
}

// AddConstant implements KernelStackFrame.
func (f *StackFrame) AddConstant(value any) {
	f.args = append(f.args, KernelArg{Kind: ArgConstant, Value: value})
}

// AddReference implements KernelStackFrame.
func (f *StackFrame) AddReference(buffer Buffer) {
	f.args = append(f.args, KernelArg{Kind: ArgReference, Value: buffer})
}

// AddKernelContext implements KernelStackFrame.
func (f *StackFrame) AddKernelContext() {
	f.args = append(f.args, KernelArg{Kind: ArgKernelContext})
}

// Args implements KernelStackFrame.
func (f *StackFrame) Args() []KernelArg {
	return f.args
}

// String implements fmt.Stringer.
func (f *StackFrame) String() string {
	parts := make([]string, 0, len(f.args))
	for _, arg := range f.args {
		switch arg.Kind {
		case ArgConstant:
			parts = append(parts, fmt.Sprintf("const(%v)", arg.Value))
		case ArgReference:
			parts = append(parts, fmt.Sprintf("ref(%v)", arg.Value))
		case ArgKernelContext:
			parts = append(parts, "kernel_context")
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
