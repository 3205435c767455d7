// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
)

// Buffer represents the device-side storage of a HostObject, as returned by Device.Allocate.
//
// It is opaque from the interpreter perspective, it is only ever handed back to the Device or
// to a KernelStackFrame. It must not be used after the Device.Deallocate call that released it.
type Buffer any

// HostObject is the host-side value of a logical object participating in a task graph.
//
// Flat is a flat Go slice (e.g. []float32) holding the host copy of the data. Its element type
// determines the DType of the object.
type HostObject struct {
	// Name used for debugging and tracing.
	Name string

	// Flat slice with the host data. It may be nil for kernel-context objects.
	Flat any

	// KernelContext objects are placeholders for the kernel execution context (thread ids,
	// local memory, ...). They are never allocated nor transferred, and they are passed to
	// kernels as a kernel-context argument.
	KernelContext bool

	// Atomic requests an atomic region for the object: its values are staged into the atomics
	// buffer of every launch instead of being passed by reference.
	Atomic bool

	// Persisted marks objects whose host copy is kept alive after DEALLOC. It is only used
	// for diagnostics.
	Persisted bool
}

// NewHostObject creates a HostObject for the given flat slice.
func NewHostObject(name string, flat any) *HostObject {
	return &HostObject{Name: name, Flat: flat}
}

// DType returns the element type of the object, or dtypes.InvalidDType if Flat is not a slice.
func (o *HostObject) DType() dtypes.DType {
	if o.Flat == nil {
		return dtypes.InvalidDType
	}
	t := reflect.TypeOf(o.Flat)
	if t.Kind() != reflect.Slice {
		return dtypes.InvalidDType
	}
	return dtypes.FromGoType(t.Elem())
}

// Len returns the number of elements of the object.
func (o *HostObject) Len() int {
	if o.Flat == nil {
		return 0
	}
	v := reflect.ValueOf(o.Flat)
	if v.Kind() != reflect.Slice {
		return 0
	}
	return v.Len()
}

// SizeBytes returns the size of the host data in bytes.
func (o *HostObject) SizeBytes() int64 {
	dtype := o.DType()
	if dtype == dtypes.InvalidDType {
		return 0
	}
	return int64(o.Len()) * int64(dtype.Size())
}

// String implements fmt.Stringer.
func (o *HostObject) String() string {
	if o.KernelContext {
		return fmt.Sprintf("%s(KernelContext)", o.Name)
	}
	return fmt.Sprintf("%s(%s[%d])", o.Name, o.DType(), o.Len())
}
