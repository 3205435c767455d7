// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xpuvm

import (
	"maps"
	"slices"
)

// WorkerGrid defines the work sizes of a kernel launch, per dimension.
type WorkerGrid struct {
	GlobalWork []int64
	LocalWork  []int64
}

// GridScheduler maps task ids to the WorkerGrid they should be launched with, overriding the
// device default thread scheduling.
type GridScheduler struct {
	grids map[string]*WorkerGrid
}

// NewGridScheduler creates an empty GridScheduler.
func NewGridScheduler() *GridScheduler {
	return &GridScheduler{grids: make(map[string]*WorkerGrid)}
}

// Set the grid of a task. It returns the GridScheduler itself, so calls can be cascaded.
func (g *GridScheduler) Set(taskID string, grid *WorkerGrid) *GridScheduler {
	g.grids[taskID] = grid
	return g
}

// Get the grid of the task, or nil if it has none.
func (g *GridScheduler) Get(taskID string) *WorkerGrid {
	if g == nil {
		return nil
	}
	return g.grids[taskID]
}

// TaskIDs returns the ids of the tasks with a grid, sorted.
func (g *GridScheduler) TaskIDs() []string {
	return slices.Sorted(maps.Keys(g.grids))
}

// globalWorkMap returns the global work sizes of the grid indexed by dimension, as expected by
// backends.KernelStackFrame.SetKernelContext.
func (w *WorkerGrid) globalWorkMap() map[int]int64 {
	m := make(map[int]int64, len(w.GlobalWork))
	for dim, size := range w.GlobalWork {
		m[dim] = size
	}
	return m
}
