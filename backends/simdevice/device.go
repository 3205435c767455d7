// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simdevice

import (
	"fmt"
	"sync"
	"time"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/xpuvm/backends"
	"github.com/gomlx/xpuvm/internal/workerspool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// commandQueueSize is the number of commands that can be enqueued before the caller blocks.
const commandQueueSize = 256

// defaultEventHistory is the number of completed events kept for ResolveEvent. Older events are dropped.
const defaultEventHistory = 4096

type command struct {
	name  string
	event *eventRecord
	run   func() error
}

type eventRecord struct {
	profile backends.EventProfile
	done    chan struct{}
}

// Device is a simulated accelerator. Commands are run in-order by one goroutine, started by EnsureLoaded.
type Device struct {
	num  backends.DeviceNum
	caps backends.Capabilities
	pool *workerspool.Pool

	buffers bufferPools

	loadOnce sync.Once
	queue    chan *command
	stopped  chan struct{}

	// sendMu is held (read) while sending to the queue, and (write) while closing it.
	sendMu sync.RWMutex

	mu        sync.Mutex
	events    map[backends.Event]*eventRecord
	nextEvent backends.Event
	// completed events still tracked, in completion order. At most eventHistory are kept.
	completed    []backends.Event
	eventHistory int
	firstErr     error
	finished     bool
	numLive      int
}

var _ backends.Device = (*Device)(nil)

func newDevice(num backends.DeviceNum, caps backends.Capabilities, pool *workerspool.Pool) *Device {
	return &Device{num: num, caps: caps, pool: pool,
		events: make(map[backends.Event]*eventRecord), eventHistory: defaultEventHistory}
}

// String implements fmt.Stringer.
func (d *Device) String() string { return fmt.Sprintf("%s:%d", BackendName, d.num) }

// Name implements backends.Device.
func (d *Device) Name() string { return d.String() }

// DeviceNum implements backends.Device.
func (d *Device) DeviceNum() backends.DeviceNum { return d.num }

// Capabilities implements backends.Device.
func (d *Device) Capabilities() backends.Capabilities { return d.caps }

// NumLiveBuffers returns the number of buffers allocated and not yet deallocated.
func (d *Device) NumLiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.numLive
}

// NumTrackedEvents returns the number of events, pending or completed, that can still be resolved.
func (d *Device) NumTrackedEvents() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

// EnsureLoaded implements backends.Device: it starts the command queue.
func (d *Device) EnsureLoaded() error {
	d.mu.Lock()
	finished := d.finished
	d.mu.Unlock()
	if finished {
		return errors.Errorf("device %s was finalized", d)
	}
	d.loadOnce.Do(func() {
		d.queue = make(chan *command, commandQueueSize)
		d.stopped = make(chan struct{})
		go d.runQueue()
		if klog.V(1).Enabled() {
			klog.Infof("simdevice: %s loaded", d)
		}
	})
	return nil
}

func (d *Device) runQueue() {
	defer close(d.stopped)
	for cmd := range d.queue {
		p := &cmd.event.profile
		p.Submit = time.Now()
		p.Status = backends.EventRunning
		p.Start = time.Now()
		err := cmd.run()
		p.End = time.Now()
		d.mu.Lock()
		if err != nil {
			p.Status = backends.EventFailed
			p.Err = errors.WithMessagef(err, "%s on %s", cmd.name, d)
			if d.firstErr == nil {
				d.firstErr = p.Err
			}
		} else {
			p.Status = backends.EventComplete
		}
		d.completed = append(d.completed, p.Event)
		for len(d.completed) > d.eventHistory {
			delete(d.events, d.completed[0])
			d.completed = d.completed[1:]
		}
		d.mu.Unlock()
		close(cmd.event.done)
	}
}

func (d *Device) finalize() {
	d.mu.Lock()
	if d.finished {
		d.mu.Unlock()
		return
	}
	d.finished = true
	queue := d.queue
	d.mu.Unlock()
	if queue != nil {
		d.sendMu.Lock()
		close(queue)
		d.sendMu.Unlock()
		<-d.stopped
	}
}

// checkWaitList verifies the events were issued by the device: the queue is in-order, so they are
// always complete before a new command runs, even if no longer tracked.
func (d *Device) checkWaitList(waitList []backends.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, event := range waitList {
		if event < 0 || event >= d.nextEvent {
			return errors.Errorf("device %s: unknown event %d in wait list", d, event)
		}
	}
	return nil
}

// enqueue a command, and return its event.
func (d *Device) enqueue(name string, waitList []backends.Event, run func() error) (backends.Event, error) {
	if err := d.checkWaitList(waitList); err != nil {
		return backends.NoEvent, err
	}
	d.sendMu.RLock()
	defer d.sendMu.RUnlock()
	d.mu.Lock()
	if d.queue == nil || d.finished {
		d.mu.Unlock()
		return backends.NoEvent, errors.Errorf("device %s not loaded", d)
	}
	record := &eventRecord{done: make(chan struct{})}
	event := d.nextEvent
	d.nextEvent++
	record.profile.Event = event
	record.profile.Status = backends.EventQueued
	record.profile.Queued = time.Now()
	d.events[event] = record
	d.mu.Unlock()
	d.queue <- &command{name: name, event: record, run: run}
	return event, nil
}

func (d *Device) record(event backends.Event) (*eventRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if event < 0 || event >= d.nextEvent {
		return nil, errors.Errorf("device %s: unknown event %d", d, event)
	}
	record, found := d.events[event]
	if !found {
		return nil, errors.Errorf("device %s: event %d expired, only the last %d completed events are kept",
			d, event, d.eventHistory)
	}
	return record, nil
}

// ResolveEvent implements backends.Device.
func (d *Device) ResolveEvent(event backends.Event) (*backends.EventProfile, error) {
	record, err := d.record(event)
	if err != nil {
		return nil, err
	}
	<-record.done
	p := record.profile
	if p.Status == backends.EventFailed {
		return &p, p.Err
	}
	return &p, nil
}

// Flush implements backends.Device. It returns the first failure of an asynchronous command since the last Flush.
func (d *Device) Flush() error {
	event, err := d.EnqueueMarker(nil)
	if err != nil {
		return err
	}
	if _, err = d.ResolveEvent(event); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	err = d.firstErr
	d.firstErr = nil
	return err
}

// EnqueueMarker implements backends.Device.
func (d *Device) EnqueueMarker(waitList []backends.Event) (backends.Event, error) {
	return d.enqueue("marker", waitList, func() error { return nil })
}

func (d *Device) buffer(buffer backends.Buffer) (*Buffer, error) {
	b, ok := buffer.(*Buffer)
	if !ok || b == nil {
		return nil, errors.Errorf("device %s: invalid buffer %v (%T)", d, buffer, buffer)
	}
	if !b.valid {
		return nil, errors.Errorf("device %s: use of a deallocated buffer", d)
	}
	return b, nil
}

// elementRange converts a range in bytes to a range in elements of the dtype.
func elementRange(dtype dtypes.DType, batchSize, offset int64) (length, elemOffset int, err error) {
	size := int64(dtype.Size())
	if size == 0 {
		return 0, 0, errors.Errorf("invalid dtype %s", dtype)
	}
	if batchSize%size != 0 || offset%size != 0 {
		return 0, 0, errors.Errorf("batch size %d and offset %d must be multiples of %d bytes for %s",
			batchSize, offset, size, dtype)
	}
	return int(batchSize / size), int(offset / size), nil
}

// batchLength clamps a batch of length elements at offset to the end of the host object: the last
// batch of an object may be partial.
func batchLength(object *backends.HostObject, length, offset int) (int, error) {
	if offset < 0 || offset > object.Len() {
		return 0, errors.Errorf("offset %d out of bounds of %s (%d elements)", offset, object, object.Len())
	}
	return min(length, object.Len()-offset), nil
}

// Allocate implements backends.Device.
func (d *Device) Allocate(objects []*backends.HostObject, batchSize int64) ([]backends.Buffer, backends.Event, error) {
	buffers := make([]backends.Buffer, 0, len(objects))
	var totalBytes uint64
	for _, object := range objects {
		dtype := object.DType()
		var err error
		if !d.caps.SupportsDType(dtype) {
			err = &backends.UnsupportedDTypeError{DType: dtype, Device: d.Name()}
		}
		length := object.Len()
		if err == nil && batchSize > 0 {
			length, _, err = elementRange(dtype, batchSize, 0)
			err = errors.WithMessagef(err, "allocating %s", object)
		}
		if err != nil {
			d.releaseBuffers(buffers)
			return nil, backends.NoEvent, err
		}
		totalBytes += uint64(length * dtype.Size())
		buffers = append(buffers, d.buffers.getBuffer(dtype, length))
	}
	if limit := d.caps.MaxAllocationBytes; limit > 0 && totalBytes > limit {
		d.releaseBuffers(buffers)
		return nil, backends.NoEvent, errors.Errorf("device %s: allocation of %d bytes exceeds the maximum of %d", d, totalBytes, limit)
	}
	d.mu.Lock()
	d.numLive += len(buffers)
	d.mu.Unlock()
	event, err := d.enqueue("allocate", nil, func() error { return nil })
	return buffers, event, err
}

func (d *Device) releaseBuffers(buffers []backends.Buffer) {
	for _, b := range buffers {
		d.buffers.putBuffer(b.(*Buffer))
	}
}

// Deallocate implements backends.Device.
func (d *Device) Deallocate(buffer backends.Buffer) (backends.Event, error) {
	b, err := d.buffer(buffer)
	if err != nil {
		return backends.NoEvent, err
	}
	// Commands already enqueued may still use the buffer: it only returns to the pool when the queue reaches it.
	b.valid = false
	d.mu.Lock()
	d.numLive--
	d.mu.Unlock()
	return d.enqueue("deallocate", nil, func() error {
		d.buffers.putBuffer(b)
		return nil
	})
}

// StreamIn implements backends.Device.
//
// A batched transfer into a full-size buffer is copied at the same offset, otherwise it is copied
// at the start of the (batch-sized) buffer.
func (d *Device) StreamIn(object *backends.HostObject, buffer backends.Buffer, batchSize, hostOffset int64,
	waitList []backends.Event) ([]backends.Event, error) {
	b, err := d.buffer(buffer)
	if err != nil {
		return nil, err
	}
	length, offset := object.Len(), 0
	if batchSize > 0 {
		length, offset, err = elementRange(b.dtype, batchSize, hostOffset)
		if err == nil {
			length, err = batchLength(object, length, offset)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "streaming in %s", object)
		}
	}
	dstOffset := 0
	if b.length == object.Len() {
		dstOffset = offset
	}
	flat := object.Flat
	event, err := d.enqueue("stream_in", waitList, func() error {
		_, err := copyFlat(b.flat, dstOffset, flat, offset, length)
		return err
	})
	if err != nil {
		return nil, err
	}
	return []backends.Event{event}, nil
}

// StreamOutBlocking implements backends.Device.
func (d *Device) StreamOutBlocking(object *backends.HostObject, buffer backends.Buffer, hostOffset int64,
	waitList []backends.Event) (backends.Event, error) {
	b, err := d.buffer(buffer)
	if err != nil {
		return backends.NoEvent, err
	}
	_, offset, err := elementRange(b.dtype, 0, hostOffset)
	if err != nil {
		return backends.NoEvent, errors.WithMessagef(err, "streaming out %s", object)
	}
	srcOffset := 0
	length := b.length
	if b.length == object.Len() {
		srcOffset = offset
		length = b.length - offset
	} else if length, err = batchLength(object, length, offset); err != nil {
		return backends.NoEvent, errors.WithMessagef(err, "streaming out %s", object)
	}
	flat := object.Flat
	event, err := d.enqueue("stream_out", waitList, func() error {
		_, err := copyFlat(flat, offset, b.flat, srcOffset, length)
		return err
	})
	if err != nil {
		return backends.NoEvent, err
	}
	_, err = d.ResolveEvent(event)
	return event, err
}

// CreateKernelStackFrame implements backends.Device.
func (d *Device) CreateKernelStackFrame(numArgs int) backends.KernelStackFrame {
	return backends.NewStackFrame(numArgs)
}

// StageAtomics implements backends.Device.
func (d *Device) StageAtomics(values []int32) (backends.Buffer, []backends.Event, error) {
	if !d.caps.Atomics {
		return nil, nil, errors.Errorf("device %s doesn't support atomics", d)
	}
	b := d.buffers.getBuffer(dtypes.Int32, len(values))
	d.mu.Lock()
	d.numLive++
	d.mu.Unlock()
	staged := append([]int32(nil), values...)
	event, err := d.enqueue("stage_atomics", nil, func() error {
		copy(b.flat.([]int32), staged)
		return nil
	})
	if err != nil {
		d.releaseAtomics(b)
		return nil, nil, err
	}
	return b, []backends.Event{event}, nil
}

// releaseAtomics returns a staged atomics buffer to the pool, once its launch completed.
func (d *Device) releaseAtomics(b *Buffer) {
	d.buffers.putBuffer(b)
	d.mu.Lock()
	d.numLive--
	d.mu.Unlock()
}
