// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xpuvm

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/xpuvm/backends"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ObjectID is the index of an object in the objects table of an ExecutionContext. It is assigned
// when the object is added, and it's the object operand of the bytecode instructions.
type ObjectID int32

// ExecutionContext holds the tables referenced by a bytecode program: objects, constants and tasks,
// and the mapping of tasks to devices.
//
// It is created once per compiled task graph and reused across executions. It is not safe for
// concurrent modification, but multiple interpreters (one per device) can share it once built:
// the only state they mutate is the batch state of the tasks scheduled on their own device.
type ExecutionContext struct {
	id   uuid.UUID
	name string

	objects     []*backends.HostObject
	constants   []any
	tasks       []*Task
	taskDevices []backends.DeviceNum

	numCallWrappers int

	// MemoryLimit is the budget of device memory of a pass, in bytes. 0 means the limit is taken
	// from the interpreter Config.
	MemoryLimit uint64

	// Redeploy forces the creation of new kernel stack frames on every launch.
	Redeploy bool

	// UseDefaultThreadScheduler is passed along to every launched task.
	UseDefaultThreadScheduler bool
}

// NewExecutionContext creates an empty ExecutionContext.
func NewExecutionContext(name string) *ExecutionContext {
	return &ExecutionContext{id: uuid.New(), name: name}
}

// ID uniquely identifies the execution context.
func (c *ExecutionContext) ID() uuid.UUID { return c.id }

// Name of the execution context.
func (c *ExecutionContext) Name() string { return c.name }

// AddObject to the objects table, and returns its id.
func (c *ExecutionContext) AddObject(object *backends.HostObject) ObjectID {
	c.objects = append(c.objects, object)
	return ObjectID(len(c.objects) - 1)
}

// Object returns the object with the given id, or nil if it doesn't exist.
func (c *ExecutionContext) Object(id ObjectID) *backends.HostObject {
	if id < 0 || int(id) >= len(c.objects) {
		return nil
	}
	return c.objects[id]
}

// NumObjects in the objects table.
func (c *ExecutionContext) NumObjects() int { return len(c.objects) }

// AddConstant to the constants table, and returns its index.
func (c *ExecutionContext) AddConstant(value any) int32 {
	c.constants = append(c.constants, value)
	return int32(len(c.constants) - 1)
}

// Constant returns the constant with the given index.
func (c *ExecutionContext) Constant(index int32) (any, bool) {
	if index < 0 || int(index) >= len(c.constants) {
		return nil, false
	}
	return c.constants[index], true
}

// NumConstants in the constants table.
func (c *ExecutionContext) NumConstants() int { return len(c.constants) }

// AddTask to the tasks table, scheduled on the given device, and returns its (global) index.
func (c *ExecutionContext) AddTask(task *Task, device backends.DeviceNum) int32 {
	c.tasks = append(c.tasks, task)
	c.taskDevices = append(c.taskDevices, device)
	return int32(len(c.tasks) - 1)
}

// Task returns the task with the given global index, or nil.
func (c *ExecutionContext) Task(index int32) *Task {
	if index < 0 || int(index) >= len(c.tasks) {
		return nil
	}
	return c.tasks[index]
}

// NumTasks in the tasks table.
func (c *ExecutionContext) NumTasks() int { return len(c.tasks) }

// TaskDevice returns the device the task with the given global index is scheduled on.
func (c *ExecutionContext) TaskDevice(index int32) backends.DeviceNum {
	return c.taskDevices[index]
}

// TasksForDevice returns the global indices of the tasks scheduled on the device, in order.
// The position of a task in this list is its local slot in the interpreter of the device.
func (c *ExecutionContext) TasksForDevice(device backends.DeviceNum) []int32 {
	var indices []int32
	for ii, d := range c.taskDevices {
		if d == device {
			indices = append(indices, int32(ii))
		}
	}
	return indices
}

// SetNumCallWrappers sets the number of kernel stack frames (call sites) used by the program.
func (c *ExecutionContext) SetNumCallWrappers(n int) { c.numCallWrappers = n }

// NumCallWrappers returns the number of kernel stack frames used by the program.
func (c *ExecutionContext) NumCallWrappers() int { return c.numCallWrappers }

// Validate checks that the context is fully defined.
func (c *ExecutionContext) Validate() error {
	for ii, object := range c.objects {
		if object == nil {
			return errors.Errorf("execution context %q: object #%d is nil", c.name, ii)
		}
	}
	for ii, task := range c.tasks {
		if task == nil {
			return errors.Errorf("execution context %q: task #%d is nil", c.name, ii)
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (c *ExecutionContext) String() string {
	var totalBytes int64
	for _, object := range c.objects {
		totalBytes += object.SizeBytes()
	}
	return fmt.Sprintf("ExecutionContext(%q, id=%s, %d objects (%s), %d constants, %d tasks)",
		c.name, c.id, len(c.objects), humanize.Bytes(uint64(totalBytes)), len(c.constants), len(c.tasks))
}
