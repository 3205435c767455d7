// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xpuvm

import (
	"fmt"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/xpuvm/backends"
)

// Task is a schedulable unit of work: one kernel call.
//
// Its batch state is mutated by the interpreter on every LAUNCH, and it is never destroyed during
// the lifetime of the ExecutionContext it belongs to.
type Task struct {
	id         string
	kernelName string
	dtypes     []dtypes.DType

	// writesIndexToOutput is set for kernels that write their loop index into an output buffer:
	// their code is specialized per batch, so it is recompiled for every batch after the first.
	writesIndexToOutput bool

	// atomics are the initial values of the atomic region of the task, nil if it has none.
	atomics []int32

	batchSize    int64
	batchThreads int64
	batchNumber  int

	forceCompile              bool
	useDefaultThreadScheduler bool
	useGridScheduler          bool
}

var _ backends.Task = (*Task)(nil)

// NewTask creates a task for the given kernel operating on the given dtypes.
func NewTask(id, kernelName string, dts ...dtypes.DType) *Task {
	return &Task{id: id, kernelName: kernelName, dtypes: dts}
}

// WithIndexWrittenToOutput marks the task as writing its loop index into an output, which requires
// re-specialization of its code for every batch.
func (t *Task) WithIndexWrittenToOutput() *Task {
	t.writesIndexToOutput = true
	return t
}

// WithAtomics sets the initial values of the atomic region of the task.
func (t *Task) WithAtomics(values ...int32) *Task {
	t.atomics = slices.Clone(values)
	return t
}

// WithBatchSize sets the batch size (in bytes) the task was scheduled with.
func (t *Task) WithBatchSize(batchSize int64) *Task {
	t.batchSize = batchSize
	return t
}

// ID implements backends.Task.
func (t *Task) ID() string { return t.id }

// KernelName implements backends.Task.
func (t *Task) KernelName() string { return t.kernelName }

// DTypes implements backends.Task.
func (t *Task) DTypes() []dtypes.DType { return t.dtypes }

// BatchThreads implements backends.Task. It is the value of the last LAUNCH of the task.
func (t *Task) BatchThreads() int64 { return t.batchThreads }

// ForceCompilation implements backends.Task.
func (t *Task) ForceCompilation() bool { return t.forceCompile }

// BatchSize returns the batch size the task was scheduled with.
func (t *Task) BatchSize() int64 { return t.batchSize }

// BatchNumber is the number of batches the task was compiled for, only incremented for tasks
// writing their index to the output.
func (t *Task) BatchNumber() int { return t.batchNumber }

// WritesIndexToOutput returns whether the code of the task is specialized per batch.
func (t *Task) WritesIndexToOutput() bool { return t.writesIndexToOutput }

// Atomics returns the initial atomic values of the task, or nil.
func (t *Task) Atomics() []int32 { return t.atomics }

// UsesDefaultThreadScheduler returns whether the device default thread scheduler is used.
func (t *Task) UsesDefaultThreadScheduler() bool { return t.useDefaultThreadScheduler }

// UsesGridScheduler returns whether a GridScheduler defines the work sizes of the task.
func (t *Task) UsesGridScheduler() bool { return t.useGridScheduler }

// String implements fmt.Stringer.
func (t *Task) String() string {
	return fmt.Sprintf("%s(%s)", t.id, t.kernelName)
}
