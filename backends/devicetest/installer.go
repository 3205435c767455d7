// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devicetest

import (
	"fmt"

	"github.com/gomlx/xpuvm/backends"
	"github.com/pkg/errors"
)

// Code is the fake installed code of a task, launching on a *Device.
type Code struct {
	TaskID string

	// BatchThreads and ForceCompilation of the task when it was installed.
	BatchThreads     int64
	ForceCompilation bool

	device *Device
	valid  bool
}

var _ backends.InstalledCode = (*Code)(nil)

// IsValid implements backends.InstalledCode.
func (c *Code) IsValid() bool { return c.valid }

// Invalidate implements backends.InstalledCode.
func (c *Code) Invalidate() { c.valid = false }

// LaunchWithDependencies implements backends.InstalledCode.
func (c *Code) LaunchWithDependencies(frame backends.KernelStackFrame, atomics backends.Buffer, batchThreads int64,
	waitList []backends.Event) (backends.Event, error) {
	if !c.valid {
		return backends.NoEvent, errors.Errorf("launch of invalidated code of task %q", c.TaskID)
	}
	return c.device.launch(c.TaskID, frame, atomics, batchThreads, waitList)
}

// LaunchWithoutDependencies implements backends.InstalledCode.
func (c *Code) LaunchWithoutDependencies(frame backends.KernelStackFrame, atomics backends.Buffer,
	batchThreads int64) (backends.Event, error) {
	if !c.valid {
		return backends.NoEvent, errors.Errorf("launch of invalidated code of task %q", c.TaskID)
	}
	return c.device.launch(c.TaskID, frame, atomics, batchThreads, nil)
}

// Installer is a fake backends.KernelInstaller for *Device. Installs are recorded in the calls of the device.
type Installer struct {
	// Fail maps task ids to the error returned when installing them.
	Fail map[string]error

	// Lazy makes Install return no code: it is only returned by Cached.
	Lazy bool

	// Installed lists the codes installed, in order.
	Installed []*Code

	cache map[string]*Code
}

var _ backends.KernelInstaller = (*Installer)(nil)

// NewInstaller creates a fake installer.
func NewInstaller() *Installer {
	return &Installer{Fail: make(map[string]error), cache: make(map[string]*Code)}
}

func cacheKey(task backends.Task, device *Device) string {
	return fmt.Sprintf("%s/%s", device, task.ID())
}

// Install implements backends.KernelInstaller.
//
// Tasks requiring a dtype not supported by the device fail with a *backends.UnsupportedDTypeError.
func (i *Installer) Install(task backends.Task, device backends.Device) (backends.InstalledCode, error) {
	d, ok := device.(*Device)
	if !ok {
		return nil, errors.Errorf("devicetest.Installer can only install on *devicetest.Device, got %T", device)
	}
	d.record(Call{Name: fmt.Sprintf("install(%s)", task.ID()), BatchSize: task.BatchThreads()})
	for _, dtype := range task.DTypes() {
		if !d.Capabilities().SupportsDType(dtype) {
			return nil, &backends.UnsupportedDTypeError{DType: dtype, Device: d.Name(), TaskID: task.ID()}
		}
	}
	if err, found := i.Fail[task.ID()]; found {
		return nil, err
	}
	code := &Code{
		TaskID:           task.ID(),
		BatchThreads:     task.BatchThreads(),
		ForceCompilation: task.ForceCompilation(),
		device:           d,
		valid:            true,
	}
	i.Installed = append(i.Installed, code)
	i.cache[cacheKey(task, d)] = code
	if i.Lazy {
		return nil, nil
	}
	return code, nil
}

// Cached implements backends.KernelInstaller.
func (i *Installer) Cached(task backends.Task, device backends.Device) (backends.InstalledCode, bool) {
	d, ok := device.(*Device)
	if !ok {
		return nil, false
	}
	code, found := i.cache[cacheKey(task, d)]
	if !found || !code.valid {
		return nil, false
	}
	return code, true
}
