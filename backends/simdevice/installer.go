// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simdevice

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gomlx/xpuvm/backends"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Installer "compiles" tasks for the simulated devices: it resolves the kernel by name and checks the
// device supports the dtypes of the task.
type Installer struct {
	mu    sync.Mutex
	cache map[installKey]*Code

	numInstalls atomic.Int64
}

var _ backends.KernelInstaller = (*Installer)(nil)

type installKey struct {
	device *Device
	taskID string
}

// NewInstaller creates an Installer for simulated devices.
func NewInstaller() *Installer {
	return &Installer{cache: make(map[installKey]*Code)}
}

// NumInstalls returns the number of tasks installed so far.
func (i *Installer) NumInstalls() int { return int(i.numInstalls.Load()) }

// Install implements backends.KernelInstaller.
//
// Unless the task forces a full compilation, code previously installed for the same batch threads is reused.
func (i *Installer) Install(task backends.Task, device backends.Device) (backends.InstalledCode, error) {
	d, ok := device.(*Device)
	if !ok {
		return nil, errors.Errorf("simdevice.Installer can only install on simulated devices, got %s (%T)", device, device)
	}
	for _, dtype := range task.DTypes() {
		if !d.Capabilities().SupportsDType(dtype) {
			return nil, &backends.UnsupportedDTypeError{DType: dtype, Device: d.Name(), TaskID: task.ID()}
		}
	}
	kernel, found := LookupKernel(task.KernelName())
	if !found {
		return nil, errors.Errorf("unknown kernel %q for task %q, registered kernels: %v",
			task.KernelName(), task.ID(), KernelNames())
	}

	key := installKey{device: d, taskID: task.ID()}
	i.mu.Lock()
	defer i.mu.Unlock()
	if code, found := i.cache[key]; found && code.IsValid() && !task.ForceCompilation() &&
		code.batchThreads == task.BatchThreads() {
		return code, nil
	}
	code := &Code{taskID: task.ID(), kernel: kernel, device: d, batchThreads: task.BatchThreads()}
	code.valid.Store(true)
	i.cache[key] = code
	i.numInstalls.Add(1)
	if klog.V(2).Enabled() {
		klog.Infof("simdevice: installed %s (kernel %q, batch threads %d, forced=%v) on %s",
			task.ID(), task.KernelName(), task.BatchThreads(), task.ForceCompilation(), d)
	}
	return code, nil
}

// Cached implements backends.KernelInstaller.
func (i *Installer) Cached(task backends.Task, device backends.Device) (backends.InstalledCode, bool) {
	d, ok := device.(*Device)
	if !ok {
		return nil, false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	code, found := i.cache[installKey{device: d, taskID: task.ID()}]
	if !found || !code.IsValid() {
		return nil, false
	}
	return code, true
}

// Code is the installed code of a task on a simulated device.
type Code struct {
	taskID       string
	kernel       Kernel
	device       *Device
	batchThreads int64
	valid        atomic.Bool

	mu          sync.Mutex
	lastAtomics []int32
}

var _ backends.InstalledCode = (*Code)(nil)

// String implements fmt.Stringer.
func (c *Code) String() string {
	return fmt.Sprintf("simdevice.Code(%s on %s, valid=%v)", c.taskID, c.device, c.IsValid())
}

// LastAtomics returns the values of the atomics buffer at the end of the last completed launch with atomics.
func (c *Code) LastAtomics() []int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int32(nil), c.lastAtomics...)
}

// IsValid implements backends.InstalledCode.
func (c *Code) IsValid() bool { return c.valid.Load() }

// Invalidate implements backends.InstalledCode.
func (c *Code) Invalidate() { c.valid.Store(false) }

// LaunchWithDependencies implements backends.InstalledCode.
func (c *Code) LaunchWithDependencies(frame backends.KernelStackFrame, atomics backends.Buffer, batchThreads int64,
	waitList []backends.Event) (backends.Event, error) {
	return c.launch(frame, atomics, batchThreads, waitList)
}

// LaunchWithoutDependencies implements backends.InstalledCode.
func (c *Code) LaunchWithoutDependencies(frame backends.KernelStackFrame, atomics backends.Buffer,
	batchThreads int64) (backends.Event, error) {
	return c.launch(frame, atomics, batchThreads, nil)
}

// launch resolves the arguments of the frame, which is reused by the next launch, and enqueues the kernel.
// The atomics buffer is released when the kernel completes, or if the launch fails.
func (c *Code) launch(frame backends.KernelStackFrame, atomics backends.Buffer, batchThreads int64,
	waitList []backends.Event) (backends.Event, error) {
	d := c.device
	var staged *Buffer
	if atomics != nil {
		var err error
		if staged, err = d.buffer(atomics); err != nil {
			return backends.NoEvent, errors.WithMessagef(err, "atomics of task %q", c.taskID)
		}
		// Not usable by another launch.
		staged.valid = false
	}
	event, err := c.enqueueKernel(frame, staged, batchThreads, waitList)
	if err != nil && staged != nil {
		d.releaseAtomics(staged)
	}
	return event, err
}

func (c *Code) enqueueKernel(frame backends.KernelStackFrame, staged *Buffer, batchThreads int64,
	waitList []backends.Event) (backends.Event, error) {
	if !c.IsValid() {
		return backends.NoEvent, errors.Errorf("launch of invalidated %s", c)
	}
	d := c.device
	call := &KernelCall{
		TaskID:       c.taskID,
		BatchThreads: batchThreads,
		GlobalWork:   frame.KernelContext(),
		pool:         d.pool,
	}
	for ii, arg := range frame.Args() {
		switch arg.Kind {
		case backends.ArgConstant:
			call.Args = append(call.Args, arg.Value)
		case backends.ArgReference:
			b, err := d.buffer(arg.Value)
			if err != nil {
				return backends.NoEvent, errors.WithMessagef(err, "argument #%d of task %q", ii, c.taskID)
			}
			call.Args = append(call.Args, b.flat)
		case backends.ArgKernelContext:
			call.Args = append(call.Args, &KernelContext{BatchThreads: batchThreads, GlobalWork: call.GlobalWork})
		}
	}
	if staged == nil {
		return d.enqueue("launch "+c.taskID, waitList, func() error { return c.kernel(call) })
	}
	call.Atomics = staged.flat.([]int32)
	return d.enqueue("launch "+c.taskID, waitList, func() error {
		err := c.kernel(call)
		c.mu.Lock()
		c.lastAtomics = append(c.lastAtomics[:0], call.Atomics...)
		c.mu.Unlock()
		d.releaseAtomics(staged)
		return err
	})
}
