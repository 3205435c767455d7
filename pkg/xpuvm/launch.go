// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xpuvm

import (
	"github.com/gomlx/xpuvm/backends"
	"github.com/gomlx/xpuvm/pkg/bytecode"
	"github.com/gomlx/xpuvm/pkg/profiler"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// execLaunch compiles the task if needed, in both modes, and in normal mode launches it.
func (it *Interpreter) execLaunch(inst *bytecode.Launch) error {
	task, slot, err := it.compileTask(inst)
	if err != nil {
		return err
	}
	if it.warmup {
		return nil
	}
	return it.launchTask(inst, task, slot)
}

// localSlot returns the slot in the kernel cache of the task with the given global index.
// A task not scheduled on the interpreter's device is an internal error.
func (it *Interpreter) localSlot(taskIdx int32) (*Task, int) {
	task := it.ctx.Task(taskIdx)
	if task == nil {
		internalErrorf("invalid task #%d, execution context has %d tasks", taskIdx, it.ctx.NumTasks())
	}
	slot, found := it.localSlots[taskIdx]
	if !found {
		internalErrorf("task #%d %s is scheduled on device #%d, not on %s (#%d)",
			taskIdx, task, it.ctx.TaskDevice(taskIdx), it.device, it.device.DeviceNum())
	}
	return task, slot
}

// callWrapper returns the kernel stack frame of the call site, creating it if needed or if the
// execution context requests redeployment.
func (it *Interpreter) callWrapper(index int32, numArgs int) backends.KernelStackFrame {
	it.checkCallWrapper(index)
	if it.ctx.Redeploy && klog.V(1).Enabled() {
		klog.Infof("xpuvm: redeploying call wrapper #%d on %s", index, it.device)
	}
	if it.callWrappers[index] == nil || it.ctx.Redeploy {
		it.callWrappers[index] = it.device.CreateKernelStackFrame(numArgs)
	}
	return it.callWrappers[index]
}

func (it *Interpreter) checkCallWrapper(index int32) {
	if index < 0 || int(index) >= len(it.callWrappers) {
		internalErrorf("invalid call wrapper #%d, program declared %d", index, len(it.callWrappers))
	}
}

// compileTask applies the staleness rules to the installed code of the task, and (re)installs it if needed:
//
//   - Code compiled for a different number of batch threads (if a previous one was recorded) is stale.
//   - Code of tasks that write their index to the output is stale after the first batch.
//   - The last task of the program, or any task after SetCompileUpdate, has a forced full compilation.
func (it *Interpreter) compileTask(inst *bytecode.Launch) (*Task, int, error) {
	task, slot := it.localSlot(inst.Task)
	it.checkCallWrapper(inst.CallWrapper)

	if !it.kernels.shouldCompile(slot) {
		batchChanged := task.batchThreads != 0 && task.batchThreads != inst.BatchThreads
		respecialize := task.writesIndexToOutput && task.batchNumber > 0
		if batchChanged || respecialize {
			if klog.V(1).Enabled() {
				klog.Infof("xpuvm: invalidating code of task %s on %s (batch threads %d -> %d, batch #%d)",
					task, it.device, task.batchThreads, inst.BatchThreads, task.batchNumber)
			}
			it.kernels.invalidate(slot)
		}
	}
	task.batchThreads = inst.BatchThreads
	task.useDefaultThreadScheduler = it.ctx.UseDefaultThreadScheduler
	if it.gridScheduler.Get(task.ID()) != nil {
		task.useGridScheduler = true
	}

	if !it.kernels.shouldCompile(slot) {
		return task, slot, nil
	}
	task.forceCompile = int(inst.Task) == it.ctx.NumTasks()-1 || it.doUpdate
	it.profiler.Start(profiler.TotalCompileTime, task.ID())
	code, err := it.installer.Install(task, it.device)
	it.profiler.Stop(profiler.TotalCompileTime, task.ID())
	if err != nil {
		var dtypeErr *backends.UnsupportedDTypeError
		if errors.As(err, &dtypeErr) {
			return nil, 0, &Error{Kind: KindCapability, Op: it.op, Position: it.position, TaskID: task.ID(),
				Device: it.device.Name(), Err: err}
		}
		return nil, 0, it.bailout(task.ID(), errors.WithMessagef(err, "unable to compile %s", task))
	}
	// A nil code (lazy installers) is only looked up in the installer cache at launch time.
	it.kernels.set(slot, code)
	it.doUpdate = false
	if task.writesIndexToOutput {
		task.batchNumber++
	}
	it.stats.Compilations++
	it.profiler.Add(profiler.NumCompilations, task.ID(), 1)
	return task, slot, nil
}

// launchTask fills the stack frame of the call site with the arguments and launches the installed code.
func (it *Interpreter) launchTask(inst *bytecode.Launch, task *Task, slot int) error {
	code := it.kernels.get(slot)
	if code == nil {
		// With lazy compilation the installed code may only be available from the installer cache.
		if cached, found := it.installer.Cached(task, it.device); found {
			code = cached
			it.kernels.set(slot, code)
		}
	}
	if code == nil {
		return it.bailout(task.ID(), errors.Errorf("code generator failed for %s", task))
	}

	frame := it.callWrapper(inst.CallWrapper, len(inst.Args))
	frame.Reset()
	if grid := it.gridScheduler.Get(task.ID()); grid != nil {
		frame.SetKernelContext(grid.globalWorkMap())
	}

	var atomics []int32
	if task.atomics != nil {
		atomics = append(atomics, task.atomics...)
	}
	var referenced []ObjectID
	for ii, arg := range inst.Args {
		switch arg.Tag {
		case bytecode.OpPushConstantArgument:
			value, found := it.ctx.Constant(arg.Index)
			if !found {
				internalErrorf("invalid constant #%d for argument #%d of task %s", arg.Index, ii, task)
			}
			frame.AddConstant(value)
		case bytecode.OpPushReferenceArgument:
			object := it.object(arg.Index)
			if object.KernelContext {
				frame.AddKernelContext()
				continue
			}
			id := ObjectID(arg.Index)
			state := it.buffers.mustState(id, object)
			if state.AtomicRegion {
				atomics = appendAtomicValues(atomics, object)
				continue
			}
			frame.AddReference(state.buffer)
			referenced = append(referenced, id)
		default:
			internalErrorf("invalid argument tag %s for argument #%d of task %s", arg.Tag, ii, task)
		}
	}

	var atomicsBuffer backends.Buffer
	if atomics != nil && it.device.Capabilities().Atomics {
		var (
			events []backends.Event
			err    error
		)
		atomicsBuffer, events, err = it.device.StageAtomics(atomics)
		if err != nil {
			return it.bailout(task.ID(), errors.WithMessage(err, "staging atomics"))
		}
		it.trace.printf(bytecode.OpTransferHostToDeviceAlways, "STREAM_IN", "ATOMIC %v on %s [event list=%d]", atomics, it.device, inst.EventList)
		if it.profiler != nil {
			if err = it.profileTransfers(events, profiler.CopyInTime, profiler.TotalCopyInSizeBytes, int64(4*len(atomics))); err != nil {
				return it.bailout(task.ID(), err)
			}
		}
	}

	it.trace.printf(bytecode.OpLaunch, "", "%s on %s, size=%d, offset=%d [event list=%d]",
		task, it.device, inst.BatchThreads, inst.Offset, inst.EventList)

	var (
		event backends.Event
		err   error
	)
	if it.config.UseDependencies {
		event, err = code.LaunchWithDependencies(frame, atomicsBuffer, inst.BatchThreads, it.events.waitList(inst.EventList))
	} else {
		event, err = code.LaunchWithoutDependencies(frame, atomicsBuffer, inst.BatchThreads)
	}
	if err != nil {
		return it.bailout(task.ID(), errors.WithMessage(err, "bailout from LAUNCH"))
	}
	it.events.reset(inst.EventList)
	for _, id := range referenced {
		it.buffers.markModified(id)
	}
	it.lastEvent = event
	it.stats.Launches++

	if it.profiler != nil {
		it.profiler.Add(profiler.NumKernelLaunches, task.ID(), 1)
		if event != backends.NoEvent {
			p, err := it.device.ResolveEvent(event)
			if err != nil {
				return it.bailout(task.ID(), errors.WithMessagef(err, "resolving launch event %d for profiling", event))
			}
			it.profiler.AddDuration(profiler.TotalKernelTime, task.ID(), p.ElapsedTime())
			it.profiler.AddDuration(profiler.TotalDispatchKernelTime, task.ID(), p.DriverDispatchTime())
		}
	}
	return nil
}

// appendAtomicValues appends the current host values of an atomic object to the atomics being staged.
func appendAtomicValues(atomics []int32, object *backends.HostObject) []int32 {
	switch flat := object.Flat.(type) {
	case []int32:
		return append(atomics, flat...)
	case int32:
		return append(atomics, flat)
	default:
		internalErrorf("atomic object %s must hold int32 values, got %T", object, object.Flat)
	}
	return atomics
}
