// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package devicetest provides a recording fake backends.Device and backends.KernelInstaller, to test
// the sequence of device operations issued by the interpreter.
//
// Every operation is recorded as a Call, named after the operation and the objects or task it
// operates on, e.g. "allocate(x,y)", "stream_in(x)", "install(task0)" or "launch(task0)".
// Operations complete immediately, and each returns a new Event.
package devicetest

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/xpuvm/backends"
	"github.com/pkg/errors"
)

// Call is one recorded device operation.
type Call struct {
	// Name of the call, e.g. "stream_in(x)".
	Name string

	// WaitList given to the call, nil if none.
	WaitList []backends.Event

	// Event returned by the call.
	Event backends.Event

	// BatchSize of allocations and transfers, BatchThreads of launches.
	BatchSize int64

	// Offset of transfers.
	Offset int64

	// Args of launches, copied from the kernel stack frame.
	Args []backends.KernelArg

	// KernelContext of launches, as set in the kernel stack frame.
	KernelContext map[int]int64

	// Atomics buffer of launches.
	Atomics backends.Buffer
}

// String implements fmt.Stringer.
func (c Call) String() string {
	if c.WaitList == nil {
		return fmt.Sprintf("%s -> %d", c.Name, c.Event)
	}
	return fmt.Sprintf("%s wait=%v -> %d", c.Name, c.WaitList, c.Event)
}

// Buffer is the fake device buffer of an object.
type Buffer struct {
	ID        int
	Object    *backends.HostObject
	BatchSize int64

	// Atomics holds the values of atomics buffers, created by StageAtomics.
	Atomics []int32

	Released bool
}

// String implements fmt.Stringer.
func (b *Buffer) String() string {
	if b.Object == nil {
		return fmt.Sprintf("buffer#%d(atomics=%v)", b.ID, b.Atomics)
	}
	return fmt.Sprintf("buffer#%d(%s)", b.ID, b.Object.Name)
}

// Device is a fake backends.Device that records all its calls.
type Device struct {
	name string
	num  backends.DeviceNum
	caps backends.Capabilities

	// Calls recorded so far.
	Calls []Call

	// Fail maps an operation ("ensure_loaded", "allocate", "deallocate", "stream_in", "stream_out",
	// "marker", "resolve", "flush", "stage_atomics", "launch") to the error it returns.
	Fail map[string]error

	// NumLoads, NumResolves, NumFlushes and NumFrames count the calls to EnsureLoaded, ResolveEvent,
	// Flush and CreateKernelStackFrame, which are not recorded in Calls.
	NumLoads, NumResolves, NumFlushes, NumFrames int

	// StreamInEvents is the number of events returned by each StreamIn, 1 by default.
	StreamInEvents int

	nextEvent  backends.Event
	nextBuffer int
	buffers    []*Buffer
}

var _ backends.Device = (*Device)(nil)

// NewDevice creates a fake device that supports float32, int32 and atomics.
func NewDevice(name string, num backends.DeviceNum) *Device {
	return &Device{
		name: name,
		num:  num,
		caps: backends.Capabilities{
			DTypes:  map[dtypes.DType]bool{dtypes.Float32: true, dtypes.Int32: true},
			Atomics: true,
		},
		Fail:           make(map[string]error),
		StreamInEvents: 1,
	}
}

// WithCapabilities sets the capabilities of the device.
func (d *Device) WithCapabilities(caps backends.Capabilities) *Device {
	d.caps = caps
	return d
}

// String implements fmt.Stringer.
func (d *Device) String() string { return fmt.Sprintf("%s#%d", d.name, d.num) }

// Name implements backends.Device.
func (d *Device) Name() string { return d.name }

// DeviceNum implements backends.Device.
func (d *Device) DeviceNum() backends.DeviceNum { return d.num }

// Capabilities implements backends.Device.
func (d *Device) Capabilities() backends.Capabilities { return d.caps }

// CallNames returns the names of the recorded calls.
func (d *Device) CallNames() []string {
	names := make([]string, len(d.Calls))
	for ii, c := range d.Calls {
		names[ii] = c.Name
	}
	return names
}

// CallsNamed returns the recorded calls with the given name.
func (d *Device) CallsNamed(name string) []Call {
	var calls []Call
	for _, c := range d.Calls {
		if c.Name == name {
			calls = append(calls, c)
		}
	}
	return calls
}

// Reset the list of recorded calls.
func (d *Device) Reset() {
	d.Calls = nil
}

// NumLiveBuffers returns the number of buffers allocated and not yet released.
func (d *Device) NumLiveBuffers() int {
	var n int
	for _, b := range d.buffers {
		if !b.Released && b.Object != nil {
			n++
		}
	}
	return n
}

func (d *Device) record(c Call) backends.Event {
	c.Event = d.nextEvent
	d.nextEvent++
	d.Calls = append(d.Calls, c)
	return c.Event
}

func (d *Device) failure(op string) error {
	if err, found := d.Fail[op]; found {
		return err
	}
	return nil
}

func (d *Device) newBuffer(object *backends.HostObject, batchSize int64) *Buffer {
	b := &Buffer{ID: d.nextBuffer, Object: object, BatchSize: batchSize}
	d.nextBuffer++
	d.buffers = append(d.buffers, b)
	return b
}

func (d *Device) buffer(buffer backends.Buffer) (*Buffer, error) {
	b, ok := buffer.(*Buffer)
	if !ok || b == nil {
		return nil, errors.Errorf("device %s: invalid buffer %v (%T)", d, buffer, buffer)
	}
	if b.Released {
		return nil, errors.Errorf("device %s: use of released %s", d, b)
	}
	return b, nil
}

func objectNames(objects []*backends.HostObject) string {
	names := make([]string, len(objects))
	for ii, o := range objects {
		names[ii] = o.Name
	}
	return strings.Join(names, ",")
}

// EnsureLoaded implements backends.Device.
func (d *Device) EnsureLoaded() error {
	d.NumLoads++
	return d.failure("ensure_loaded")
}

// Allocate implements backends.Device.
func (d *Device) Allocate(objects []*backends.HostObject, batchSize int64) ([]backends.Buffer, backends.Event, error) {
	if err := d.failure("allocate"); err != nil {
		return nil, backends.NoEvent, err
	}
	buffers := make([]backends.Buffer, len(objects))
	for ii, object := range objects {
		buffers[ii] = d.newBuffer(object, batchSize)
	}
	event := d.record(Call{Name: fmt.Sprintf("allocate(%s)", objectNames(objects)), BatchSize: batchSize})
	return buffers, event, nil
}

// Deallocate implements backends.Device.
func (d *Device) Deallocate(buffer backends.Buffer) (backends.Event, error) {
	b, err := d.buffer(buffer)
	if err != nil {
		return backends.NoEvent, err
	}
	if err = d.failure("deallocate"); err != nil {
		return backends.NoEvent, err
	}
	b.Released = true
	return d.record(Call{Name: fmt.Sprintf("deallocate(%s)", b.Object.Name)}), nil
}

// StreamIn implements backends.Device.
func (d *Device) StreamIn(object *backends.HostObject, buffer backends.Buffer, batchSize, hostOffset int64,
	waitList []backends.Event) ([]backends.Event, error) {
	if _, err := d.buffer(buffer); err != nil {
		return nil, err
	}
	if err := d.failure("stream_in"); err != nil {
		return nil, err
	}
	events := make([]backends.Event, 0, d.StreamInEvents)
	for range d.StreamInEvents {
		events = append(events, d.record(Call{
			Name:      fmt.Sprintf("stream_in(%s)", object.Name),
			WaitList:  slices.Clone(waitList),
			BatchSize: batchSize,
			Offset:    hostOffset,
		}))
	}
	return events, nil
}

// StreamOutBlocking implements backends.Device.
func (d *Device) StreamOutBlocking(object *backends.HostObject, buffer backends.Buffer, hostOffset int64,
	waitList []backends.Event) (backends.Event, error) {
	if _, err := d.buffer(buffer); err != nil {
		return backends.NoEvent, err
	}
	if err := d.failure("stream_out"); err != nil {
		return backends.NoEvent, err
	}
	return d.record(Call{
		Name:     fmt.Sprintf("stream_out_blocking(%s)", object.Name),
		WaitList: slices.Clone(waitList),
		Offset:   hostOffset,
	}), nil
}

// EnqueueMarker implements backends.Device.
func (d *Device) EnqueueMarker(waitList []backends.Event) (backends.Event, error) {
	if err := d.failure("marker"); err != nil {
		return backends.NoEvent, err
	}
	return d.record(Call{Name: "enqueue_marker", WaitList: slices.Clone(waitList)}), nil
}

// ResolveEvent implements backends.Device. All events are complete.
func (d *Device) ResolveEvent(event backends.Event) (*backends.EventProfile, error) {
	d.NumResolves++
	if err := d.failure("resolve"); err != nil {
		return nil, err
	}
	if event < 0 || event >= d.nextEvent {
		return nil, errors.Errorf("device %s: unknown event %d", d, event)
	}
	return &backends.EventProfile{Event: event, Status: backends.EventComplete}, nil
}

// Flush implements backends.Device.
func (d *Device) Flush() error {
	d.NumFlushes++
	return d.failure("flush")
}

// CreateKernelStackFrame implements backends.Device.
func (d *Device) CreateKernelStackFrame(numArgs int) backends.KernelStackFrame {
	d.NumFrames++
	return backends.NewStackFrame(numArgs)
}

// StageAtomics implements backends.Device.
func (d *Device) StageAtomics(values []int32) (backends.Buffer, []backends.Event, error) {
	if err := d.failure("stage_atomics"); err != nil {
		return nil, nil, err
	}
	b := d.newBuffer(nil, 0)
	b.Atomics = slices.Clone(values)
	event := d.record(Call{Name: fmt.Sprintf("stage_atomics(%v)", values)})
	return b, []backends.Event{event}, nil
}

// launch records the launch of the task.
func (d *Device) launch(taskID string, frame backends.KernelStackFrame, atomics backends.Buffer, batchThreads int64,
	waitList []backends.Event) (backends.Event, error) {
	if err := d.failure("launch"); err != nil {
		return backends.NoEvent, err
	}
	for _, arg := range frame.Args() {
		if arg.Kind == backends.ArgReference {
			if _, err := d.buffer(arg.Value); err != nil {
				return backends.NoEvent, err
			}
		}
	}
	return d.record(Call{
		Name:          fmt.Sprintf("launch(%s)", taskID),
		WaitList:      slices.Clone(waitList),
		BatchSize:     batchThreads,
		Args:          slices.Clone(frame.Args()),
		KernelContext: frame.KernelContext(),
		Atomics:       atomics,
	}), nil
}
