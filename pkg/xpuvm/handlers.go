// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xpuvm

import (
	"github.com/gomlx/xpuvm/backends"
	"github.com/gomlx/xpuvm/pkg/bytecode"
	"github.com/gomlx/xpuvm/pkg/profiler"
	"github.com/pkg/errors"
)

// object returns the host object with the given id. An invalid id is an internal error.
func (it *Interpreter) object(id int32) *backends.HostObject {
	object := it.ctx.Object(ObjectID(id))
	if object == nil {
		internalErrorf("invalid object #%d, execution context has %d objects", id, it.ctx.NumObjects())
	}
	return object
}

// waitList for an instruction waiting on eventList: nil if dependencies are disabled.
func (it *Interpreter) waitList(eventList int32) []backends.Event {
	if !it.config.UseDependencies {
		return nil
	}
	return it.events.waitList(eventList)
}

// bailout returns an error for a failing device operation of the current instruction. A device
// lacking a dtype is reported as KindCapability.
func (it *Interpreter) bailout(taskID string, err error) error {
	kind := KindBailout
	var dtypeErr *backends.UnsupportedDTypeError
	if errors.As(err, &dtypeErr) {
		kind = KindCapability
	}
	return &Error{Kind: kind, Op: it.op, Position: it.position, TaskID: taskID, Device: it.device.Name(), Err: err}
}

func (it *Interpreter) execAlloc(inst *bytecode.Alloc) error {
	if it.warmup {
		return nil
	}
	ids := make([]ObjectID, 0, len(inst.Objects))
	objects := make([]*backends.HostObject, 0, len(inst.Objects))
	for _, id := range inst.Objects {
		object := it.object(id)
		it.trace.printf(bytecode.OpAlloc, "", "%s on %s, size=%d", object, it.device, inst.BatchSize)
		if object.KernelContext {
			continue
		}
		ids = append(ids, ObjectID(id))
		objects = append(objects, object)
	}
	event, err := it.buffers.allocate(ids, objects, inst.BatchSize)
	if err != nil {
		return it.bailout("", err)
	}
	it.lastEvent = event
	return nil
}

func (it *Interpreter) execDealloc(inst *bytecode.Dealloc) error {
	if it.warmup {
		return nil
	}
	object := it.object(inst.Object)
	if object.KernelContext {
		it.lastEvent = backends.NoEvent
		return nil
	}
	it.trace.printf(bytecode.OpDealloc, "", "%s on %s", object, it.device)
	event, err := it.buffers.deallocate(ObjectID(inst.Object), object)
	if err != nil {
		return it.bailout("", err)
	}
	it.lastEvent = event
	return nil
}

// execTransferHostToDevice handles both TRANSFER_HOST_TO_DEVICE_ONCE and _ALWAYS. Batched
// transfers always stream in, since a batch doesn't cover the whole buffer.
func (it *Interpreter) execTransferHostToDevice(t *bytecode.TransferOperands, once bool) error {
	if it.warmup {
		return nil
	}
	object := it.object(t.Object)
	waitList := it.waitList(t.EventList)
	if object.KernelContext {
		it.events.reset(t.EventList)
		return nil
	}
	it.trace.printf(it.op, "", "%s on %s, size=%d, offset=%d [event list=%d]",
		object, it.device, t.BatchSize, t.Offset, t.EventList)

	id := ObjectID(t.Object)
	var (
		events []backends.Event
		err    error
	)
	if once && t.BatchSize <= 0 {
		events, err = it.buffers.ensurePresent(id, object, waitList, t.BatchSize, t.Offset)
	} else {
		events, err = it.buffers.streamIn(id, object, t.BatchSize, t.Offset, waitList)
	}
	if err != nil {
		return it.bailout("", err)
	}
	it.events.reset(t.EventList)
	if it.profiler != nil && len(events) > 0 {
		if err = it.profileTransfers(events, profiler.CopyInTime, profiler.TotalCopyInSizeBytes, transferBytes(object, t.BatchSize)); err != nil {
			return it.bailout("", err)
		}
	}
	return nil
}

// execTransferDeviceToHost handles both TRANSFER_DEVICE_TO_HOST_ALWAYS and _ALWAYS_BLOCKING:
// both use the blocking stream out, but only the non-blocking one publishes its event for ADD_DEPENDENCY.
func (it *Interpreter) execTransferDeviceToHost(t *bytecode.TransferOperands, blocking bool) error {
	if it.warmup {
		return nil
	}
	object := it.object(t.Object)
	waitList := it.waitList(t.EventList)
	if object.KernelContext {
		it.events.reset(t.EventList)
		if !blocking {
			it.lastEvent = backends.NoEvent
		}
		return nil
	}
	label := ""
	if blocking {
		label = "STREAM_OUT_BLOCKING"
	}
	it.trace.printf(it.op, label, "%s on %s, size=%d, offset=%d [event list=%d]",
		object, it.device, t.BatchSize, t.Offset, t.EventList)

	event, err := it.buffers.streamOutBlocking(ObjectID(t.Object), object, t.Offset, waitList)
	if err != nil {
		return it.bailout("", err)
	}
	if !blocking {
		it.lastEvent = event
	}
	it.events.reset(t.EventList)
	if it.profiler != nil && event != backends.NoEvent {
		err = it.profileTransfers([]backends.Event{event}, profiler.CopyOutTime, profiler.TotalCopyOutSizeBytes, transferBytes(object, t.BatchSize))
		if err != nil {
			return it.bailout("", err)
		}
	}
	return nil
}

func (it *Interpreter) execAddDependency(inst *bytecode.AddDependency) {
	if it.warmup {
		return
	}
	if !it.config.UseDependencies || it.lastEvent == backends.NoEvent {
		return
	}
	it.trace.printf(bytecode.OpAddDependency, "", "%d to event list %d", it.lastEvent, inst.EventList)
	it.events.record(inst.EventList, it.lastEvent)
}

func (it *Interpreter) execBarrier(inst *bytecode.Barrier) error {
	if it.warmup {
		return nil
	}
	it.trace.printf(bytecode.OpBarrier, "", "event list %d", inst.EventList)
	waitList := it.waitList(inst.EventList)
	event, err := it.device.EnqueueMarker(waitList)
	if err != nil {
		return it.bailout("", errors.WithMessage(err, "enqueuing marker"))
	}
	it.events.reset(inst.EventList)
	it.lastEvent = event
	return nil
}

// transferBytes returns the number of bytes transferred for the object.
func transferBytes(object *backends.HostObject, batchSize int64) int64 {
	if batchSize > 0 {
		return batchSize
	}
	return object.SizeBytes()
}

// profileTransfers waits for the transfer events and adds their times and bytes to the profiler.
func (it *Interpreter) profileTransfers(events []backends.Event, timeType, bytesType profiler.Type, numBytes int64) error {
	for _, event := range events {
		if event == backends.NoEvent {
			continue
		}
		p, err := it.device.ResolveEvent(event)
		if err != nil {
			return errors.WithMessagef(err, "resolving event %d for profiling", event)
		}
		it.profiler.AddDuration(timeType, "", p.ElapsedTime())
		it.profiler.Add(bytesType, "", numBytes)
		it.profiler.AddDuration(profiler.TotalDispatchDataTransfersTime, "", p.DriverDispatchTime())
	}
	return nil
}
