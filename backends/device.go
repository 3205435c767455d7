// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"time"
)

// Event is an opaque handle to an operation enqueued on a device. It is only meaningful to the
// Device that returned it.
type Event int32

// NoEvent is the sentinel for "no event": the operation was a no-op, or it was already complete.
const NoEvent Event = -1

// EventStatus of an operation enqueued on a device.
type EventStatus int

const (
	EventQueued EventStatus = iota
	EventRunning
	EventComplete
	EventFailed
)

// EventProfile is the resolved information of an Event. All timestamps are relative to the device's
// own clock.
type EventProfile struct {
	Event  Event
	Status EventStatus

	// Err is set if the Status is EventFailed.
	Err error

	Queued, Submit, Start, End time.Time
}

// ElapsedTime of the operation, from start to end.
func (p *EventProfile) ElapsedTime() time.Duration {
	if p == nil || p.End.IsZero() {
		return 0
	}
	return p.End.Sub(p.Start)
}

// DriverDispatchTime is the time between the operation being queued and it being submitted.
func (p *EventProfile) DriverDispatchTime() time.Duration {
	if p == nil || p.Submit.IsZero() {
		return 0
	}
	return p.Submit.Sub(p.Queued)
}

// Device is the API of one accelerator the interpreter is bound to.
//
// Operations are enqueued in-order in the device queue and return immediately, except
// StreamOutBlocking, ResolveEvent and Flush. Wait lists are nil when dependency tracking is
// disabled, in which case the device in-order queue semantics are relied upon.
type Device interface {
	fmt.Stringer

	// Name of the device, used in error messages.
	Name() string

	// DeviceNum of the device within its backend.
	DeviceNum() DeviceNum

	// Capabilities of the device.
	Capabilities() Capabilities

	// EnsureLoaded initializes the device context if not yet initialized.
	EnsureLoaded() error

	// Allocate device buffers for the given objects, as one operation. If batchSize > 0 the
	// buffers hold batchSize bytes, otherwise the full size of each object.
	// It returns one buffer per object and the event of the allocation.
	Allocate(objects []*HostObject, batchSize int64) ([]Buffer, Event, error)

	// Deallocate releases a buffer returned by Allocate.
	Deallocate(buffer Buffer) (Event, error)

	// StreamIn enqueues a copy of the host data of object into buffer.
	// If batchSize > 0 only batchSize bytes starting at hostOffset (in bytes) are copied.
	StreamIn(object *HostObject, buffer Buffer, batchSize, hostOffset int64, waitList []Event) ([]Event, error)

	// StreamOutBlocking copies buffer back into the host data of object, starting at the
	// hostOffset (in bytes), and waits for its completion. The returned event is already complete.
	StreamOutBlocking(object *HostObject, buffer Buffer, hostOffset int64, waitList []Event) (Event, error)

	// EnqueueMarker enqueues a marker that completes when all the events in waitList (or all
	// previously enqueued operations if waitList is nil) complete.
	EnqueueMarker(waitList []Event) (Event, error)

	// ResolveEvent waits for the event and returns its profile.
	ResolveEvent(event Event) (*EventProfile, error)

	// Flush waits for all operations enqueued so far.
	Flush() error

	// CreateKernelStackFrame for a kernel launch with numArgs arguments.
	CreateKernelStackFrame(numArgs int) KernelStackFrame

	// StageAtomics creates an atomics buffer holding values, and enqueues its write.
	StageAtomics(values []int32) (Buffer, []Event, error)
}
