// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/gomlx/gopjrt/dtypes"
)

// Task is the view of a schedulable task the KernelInstaller needs to compile it.
type Task interface {
	// ID of the task, unique within its execution context.
	ID() string

	// KernelName is the name of the kernel (source or pre-built binary) implementing the task.
	KernelName() string

	// DTypes lists the element types the kernel operates on.
	DTypes() []dtypes.DType

	// BatchThreads is the number of threads of the current batch, 0 if not batched.
	BatchThreads() int64

	// ForceCompilation returns whether the installer must do a full (non-incremental) compilation
	// ignoring any cached code.
	ForceCompilation() bool
}

// InstalledCode is a compiled kernel ready to be launched on a device.
type InstalledCode interface {
	// IsValid returns false after Invalidate is called.
	IsValid() bool

	// Invalidate marks the code as stale: it won't be launched again, and it will be re-installed.
	Invalidate()

	// LaunchWithDependencies enqueues the kernel after the events in waitList complete.
	// atomics is nil if the task has no atomic region.
	LaunchWithDependencies(frame KernelStackFrame, atomics Buffer, batchThreads int64, waitList []Event) (Event, error)

	// LaunchWithoutDependencies enqueues the kernel, relying on the in-order device queue.
	LaunchWithoutDependencies(frame KernelStackFrame, atomics Buffer, batchThreads int64) (Event, error)
}

// KernelInstaller is the JIT collaborator: it turns a task into InstalledCode for a device.
type KernelInstaller interface {
	// Install compiles the task for the device.
	//
	// It returns an *UnsupportedDTypeError if the device doesn't support a required precision.
	Install(task Task, device Device) (InstalledCode, error)

	// Cached returns the code previously installed for the task on the device, if any.
	Cached(task Task, device Device) (InstalledCode, bool)
}
