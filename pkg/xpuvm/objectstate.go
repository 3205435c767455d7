// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xpuvm

import (
	"fmt"

	"github.com/gomlx/xpuvm/backends"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BufferState is the state of the device copy of an object on the interpreter's device.
// It exists only between the ALLOC and the DEALLOC of the object.
type BufferState struct {
	// Valid is true if the device copy holds the current host data.
	Valid bool

	// Modified is true if a kernel may have written to the device copy since the last stream out.
	Modified bool

	// AtomicRegion is set for objects requesting an atomic region on a device that supports atomics.
	AtomicRegion bool

	// BatchSize the buffer was allocated with, 0 for full size.
	BatchSize int64

	buffer backends.Buffer
}

// String implements fmt.Stringer.
func (s *BufferState) String() string {
	return fmt.Sprintf("BufferState(valid=%v, modified=%v, atomic=%v, batch=%d)", s.Valid, s.Modified, s.AtomicRegion, s.BatchSize)
}

// bufferStore holds the BufferState of every object on one device, indexed by ObjectID.
type bufferStore struct {
	device backends.Device
	states []*BufferState
}

func newBufferStore(device backends.Device, numObjects int) *bufferStore {
	return &bufferStore{device: device, states: make([]*BufferState, numObjects)}
}

// state returns the BufferState of the object, or nil if it is not allocated.
func (s *bufferStore) state(id ObjectID) *BufferState {
	if id < 0 || int(id) >= len(s.states) {
		return nil
	}
	return s.states[id]
}

// mustState returns the BufferState of the object. Accessing an object without a prior ALLOC is an internal error.
func (s *bufferStore) mustState(id ObjectID, object *backends.HostObject) *BufferState {
	state := s.state(id)
	if state == nil {
		internalErrorf("object #%d %s has no buffer on device %s: missing ALLOC", id, object, s.device)
	}
	return state
}

// allocate the buffers of the objects as a single device operation.
//
// Objects already allocated with the same batch size keep their buffer; those allocated with a
// different batch size have their buffer released first.
func (s *bufferStore) allocate(ids []ObjectID, objects []*backends.HostObject, batchSize int64) (backends.Event, error) {
	var (
		pendingIDs     []ObjectID
		pendingObjects []*backends.HostObject
	)
	for ii, id := range ids {
		if state := s.states[id]; state != nil {
			if state.BatchSize == batchSize {
				continue
			}
			if _, err := s.deallocate(id, objects[ii]); err != nil {
				return backends.NoEvent, err
			}
		}
		pendingIDs = append(pendingIDs, id)
		pendingObjects = append(pendingObjects, objects[ii])
	}
	if len(pendingIDs) == 0 {
		return backends.NoEvent, nil
	}
	buffers, event, err := s.device.Allocate(pendingObjects, batchSize)
	if err != nil {
		return backends.NoEvent, err
	}
	if len(buffers) != len(pendingIDs) {
		internalErrorf("device %s returned %d buffers for %d objects", s.device, len(buffers), len(pendingIDs))
	}
	atomics := s.device.Capabilities().Atomics
	for ii, id := range pendingIDs {
		s.states[id] = &BufferState{
			AtomicRegion: atomics && pendingObjects[ii].Atomic,
			BatchSize:    batchSize,
			buffer:       buffers[ii],
		}
	}
	return event, nil
}

// deallocate the buffer of the object. The BufferState is dropped, and the buffer is never
// accessed again.
func (s *bufferStore) deallocate(id ObjectID, object *backends.HostObject) (backends.Event, error) {
	state := s.mustState(id, object)
	if object.Persisted && klog.V(1).Enabled() {
		klog.Infof("object #%d %s is persisted: host copy kept after deallocation on %s", id, object, s.device)
	}
	s.states[id] = nil
	event, err := s.device.Deallocate(state.buffer)
	if err != nil {
		return backends.NoEvent, errors.WithMessagef(err, "deallocating object #%d %s", id, object)
	}
	return event, nil
}

// ensurePresent copies the object to the device unless its device copy is already valid and
// the transfer is not batched.
func (s *bufferStore) ensurePresent(id ObjectID, object *backends.HostObject, waitList []backends.Event,
	batchSize, offset int64) ([]backends.Event, error) {
	state := s.mustState(id, object)
	if state.Valid && batchSize <= 0 {
		return nil, nil
	}
	return s.streamIn(id, object, batchSize, offset, waitList)
}

// streamIn copies the host data of the object to its device buffer, and marks it valid.
func (s *bufferStore) streamIn(id ObjectID, object *backends.HostObject, batchSize, offset int64,
	waitList []backends.Event) ([]backends.Event, error) {
	state := s.mustState(id, object)
	events, err := s.device.StreamIn(object, state.buffer, batchSize, offset, waitList)
	if err != nil {
		return nil, errors.WithMessagef(err, "streaming in object #%d %s", id, object)
	}
	state.Valid = true
	return events, nil
}

// streamOutBlocking copies the device buffer of the object back to its host data, and waits for it.
func (s *bufferStore) streamOutBlocking(id ObjectID, object *backends.HostObject, offset int64,
	waitList []backends.Event) (backends.Event, error) {
	state := s.mustState(id, object)
	event, err := s.device.StreamOutBlocking(object, state.buffer, offset, waitList)
	if err != nil {
		return backends.NoEvent, errors.WithMessagef(err, "streaming out object #%d %s", id, object)
	}
	state.Modified = false
	return event, nil
}

// markModified marks the device copies of the objects passed by reference to a kernel.
func (s *bufferStore) markModified(id ObjectID) {
	if state := s.state(id); state != nil {
		state.Modified = true
	}
}

// invalidate the device copy of the object, so the next TRANSFER_HOST_TO_DEVICE_ONCE copies it again.
// It is a no-op if the object is not allocated.
func (s *bufferStore) invalidate(id ObjectID) {
	if state := s.state(id); state != nil {
		state.Valid = false
	}
}

// numAllocated returns the number of objects with a device buffer.
func (s *bufferStore) numAllocated() int {
	var n int
	for _, state := range s.states {
		if state != nil {
			n++
		}
	}
	return n
}

// releaseAll deallocates all remaining buffers, and returns the first error.
func (s *bufferStore) releaseAll() error {
	var firstErr error
	for id, state := range s.states {
		if state == nil {
			continue
		}
		s.states[id] = nil
		if _, err := s.device.Deallocate(state.buffer); err != nil {
			klog.Warningf("Error while releasing buffer of object #%d on device %s: %+v", id, s.device, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
