// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xpuvm

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/xpuvm/pkg/bytecode"
	"github.com/pkg/errors"
)

// ErrorKind classifies the failures of an execution.
type ErrorKind int

//go:generate go tool enumer -type=ErrorKind -trimprefix=Kind -transform=snake -output=gen_errorkind_enumer.go errors.go

const (
	// KindInternal is a violated invariant of the program or of the interpreter: malformed opcode,
	// event list overflow, access to an object without a device buffer. It is never retriable.
	KindInternal ErrorKind = iota

	// KindBailout is a compilation or launch failure (or a failing device operation). The caller
	// may fall back to another device.
	KindBailout

	// KindCapability is a device lacking a precision (dtype) required by a task. It is not
	// retriable on the same device.
	KindCapability

	// KindMemory is an execution that would exceed the memory budget of the execution context.
	KindMemory
)

// Error returned by the interpreter.
type Error struct {
	Kind ErrorKind

	// Op is the instruction being executed, bytecode.OpInvalid if the failure happened outside of an instruction.
	Op bytecode.Opcode

	// Position of the instruction in the bytecode, -1 if not known.
	Position int

	// TaskID and Device are set when known.
	TaskID, Device string

	// Bytes and Limit are set for KindMemory.
	Bytes, Limit uint64

	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Op != bytecode.OpInvalid {
		fmt.Fprintf(&sb, " in %s", e.Op)
		if e.Position >= 0 {
			fmt.Fprintf(&sb, "@%d", e.Position)
		}
	}
	if e.TaskID != "" {
		fmt.Fprintf(&sb, " task %q", e.TaskID)
	}
	if e.Device != "" {
		fmt.Fprintf(&sb, " on %s", e.Device)
	}
	if e.Kind == KindMemory {
		fmt.Fprintf(&sb, ": requires %s of device memory, limit is %s",
			humanize.IBytes(e.Bytes), humanize.IBytes(e.Limit))
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

func isKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsInternal returns whether err was caused by a violated invariant.
func IsInternal(err error) bool { return isKind(err, KindInternal) }

// IsBailout returns whether err is a compilation or launch failure.
func IsBailout(err error) bool { return isKind(err, KindBailout) }

// IsCapability returns whether err is caused by a device lacking a required precision.
func IsCapability(err error) bool { return isKind(err, KindCapability) }

// IsMemoryExhausted returns whether err is caused by exceeding the memory budget.
func IsMemoryExhausted(err error) bool { return isKind(err, KindMemory) }

// internalErrorf panics with an internal error. It is caught and returned by Execute.
func internalErrorf(format string, args ...any) {
	exceptions.Panicf(format, args...)
}
