// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xpuvm implements the interpreter of the bytecode programs that orchestrate allocations,
// host<->device transfers and kernel launches on one device.
//
// An Interpreter is bound to one ExecutionContext, one program and one backends.Device. Each call
// to Execute runs a full pass over the program, issuing asynchronous device operations chained
// through event lists. Warmup runs the same pass without touching the device, except for
// compiling the launched tasks, so that the following executions find their kernels installed.
//
// Example:
//
//	interp, err := xpuvm.New(ctx, code, device, backend.Installer(), xpuvm.NewConfig())
//	if err != nil { ... }
//	if err = interp.Warmup(); err != nil { ... }
//	if _, err = interp.Execute(); err != nil { ... }
package xpuvm

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/xpuvm/backends"
	"github.com/gomlx/xpuvm/pkg/bytecode"
	"github.com/gomlx/xpuvm/pkg/profiler"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Stats of the executions of an Interpreter.
type Stats struct {
	// Invocations is the number of normal (non warm-up) passes.
	Invocations int

	// WarmupPasses is the number of warm-up and compile passes.
	WarmupPasses int

	// TotalTime and LastTime of the normal passes.
	TotalTime, LastTime time.Duration

	// Compilations is the number of kernels installed.
	Compilations int

	// Launches is the number of kernels launched.
	Launches int
}

// MeanTime of the normal passes.
func (s Stats) MeanTime() time.Duration {
	if s.Invocations == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.Invocations)
}

// Interpreter executes a bytecode program on one device. It is not safe for concurrent use.
type Interpreter struct {
	config    Config
	ctx       *ExecutionContext
	device    backends.Device
	installer backends.KernelInstaller
	profiler  *profiler.Profiler

	code   []byte
	reader *bytecode.Reader

	callWrappers []backends.KernelStackFrame
	events       *eventLists
	buffers      *bufferStore
	kernels      *kernelCache

	// localSlots maps the global index of the tasks scheduled on the device to their slot in kernels.
	localSlots map[int32]int

	// requiredBytes of device memory allocated by one pass.
	requiredBytes uint64

	gridScheduler  *GridScheduler
	doUpdate       bool
	finishedWarmup bool
	stats          Stats

	trace       *tracer
	traceOutput io.Writer
	lastTrace   string

	// lastPassBytes is the number of bytes of code consumed by the last pass.
	lastPassBytes int

	// State of the current pass.
	warmup    bool
	lastEvent backends.Event
	op        bytecode.Opcode
	position  int
}

// New creates an interpreter for the program in code, which must start with the preamble
// (INIT, CONTEXT for the bound device, BEGIN).
//
// The preamble is consumed once: device contexts are loaded (Device.EnsureLoaded) and the
// event lists are sized. Every execution then replays the program from the first instruction
// after BEGIN.
func New(ctx *ExecutionContext, code []byte, device backends.Device, installer backends.KernelInstaller, config Config) (*Interpreter, error) {
	if ctx == nil || device == nil || installer == nil {
		return nil, errors.Errorf("xpuvm.New requires an execution context, a device and a kernel installer")
	}
	if err := ctx.Validate(); err != nil {
		return nil, err
	}
	if config.EventListCapacity <= 0 {
		config.EventListCapacity = DefaultEventListCapacity
	}
	it := &Interpreter{
		config:      config,
		ctx:         ctx,
		device:      device,
		installer:   installer,
		code:        code,
		reader:      bytecode.NewReader(code),
		buffers:     newBufferStore(device, ctx.NumObjects()),
		localSlots:  make(map[int32]int),
		lastEvent:   backends.NoEvent,
		traceOutput: os.Stdout,
	}
	if config.Profile {
		it.profiler = profiler.New()
	}
	if config.PrintBytecodes {
		it.trace = &tracer{}
	}
	for slot, taskIdx := range ctx.TasksForDevice(device.DeviceNum()) {
		it.localSlots[taskIdx] = slot
	}
	it.kernels = newKernelCache(len(it.localSlots))

	err := exceptions.TryCatch[error](it.loadPreamble)
	if err != nil {
		return nil, it.wrapInternal(err)
	}
	it.requiredBytes = it.scanRequiredBytes()
	it.op = bytecode.OpInvalid
	it.position = -1
	if klog.V(1).Enabled() {
		klog.Infof("xpuvm: interpreter for %s ready: %d event lists, %d call wrappers, %d local tasks, %d bytes of code",
			device, it.events.len(), len(it.callWrappers), len(it.localSlots), len(code))
	}
	return it, nil
}

// loadPreamble decodes INIT, the CONTEXT instructions and BEGIN, and marks the reader after it.
func (it *Interpreter) loadPreamble() {
	inst := it.decode()
	header, ok := inst.(*bytecode.Init)
	if !ok {
		internalErrorf("invalid bytecode: program must start with INIT, got %s", inst)
	}
	if header.NumEventLists < 0 || header.NumStacks < 0 {
		internalErrorf("invalid bytecode: %s", header)
	}
	it.events = newEventLists(int(header.NumEventLists), it.config.EventListCapacity)
	numStacks := max(int(header.NumStacks), it.ctx.NumCallWrappers())
	it.callWrappers = make([]backends.KernelStackFrame, numStacks)

	var numContexts int32
	for {
		inst = it.decode()
		if _, ok := inst.(*bytecode.Begin); ok {
			if numContexts != header.NumContexts {
				internalErrorf("invalid bytecode: %s declares %d contexts, found %d CONTEXT instructions before BEGIN",
					header, header.NumContexts, numContexts)
			}
			break
		}
		c, ok := inst.(*bytecode.Context)
		if !ok {
			internalErrorf("invalid bytecode: only CONTEXT instructions are allowed before BEGIN, got %s", inst)
		}
		numContexts++
		if backends.DeviceNum(c.DeviceIndex) != it.device.DeviceNum() {
			internalErrorf("invalid bytecode: CONTEXT for device %d in interpreter bound to device %s (#%d)",
				c.DeviceIndex, it.device, it.device.DeviceNum())
		}
		start := time.Now()
		if err := it.device.EnsureLoaded(); err != nil {
			panic(&Error{Kind: KindBailout, Op: bytecode.OpContext, Position: it.position, Device: it.device.Name(),
				Err: errors.WithMessage(err, "loading device context")})
		}
		elapsed := time.Since(start)
		it.profiler.AddDuration(profiler.TotalDeviceLoadTime, it.device.Name(), elapsed)
		if klog.V(1).Enabled() {
			klog.Infof("xpuvm: loaded context of %s in %s", it.device, elapsed)
		}
	}
	it.reader.Mark()
}

// scanRequiredBytes decodes the program body and sums the device memory allocated by its ALLOC
// instructions. A malformed program is only reported when executed, so the scan stops at the
// first decoding error.
func (it *Interpreter) scanRequiredBytes() uint64 {
	defer it.reader.Reset()
	var total uint64
	for it.reader.HasRemaining() {
		inst, err := bytecode.Decode(it.reader)
		if err != nil {
			break
		}
		if _, ok := inst.(*bytecode.End); ok {
			break
		}
		alloc, ok := inst.(*bytecode.Alloc)
		if !ok {
			continue
		}
		for _, id := range alloc.Objects {
			object := it.ctx.Object(ObjectID(id))
			if object == nil || object.KernelContext {
				continue
			}
			if alloc.BatchSize > 0 {
				total += uint64(alloc.BatchSize)
			} else {
				total += uint64(object.SizeBytes())
			}
		}
	}
	return total
}

// decode the next instruction, recording its opcode and position for error reporting.
func (it *Interpreter) decode() bytecode.Instruction {
	it.position = it.reader.Position()
	inst, err := bytecode.Decode(it.reader)
	if err != nil {
		it.op = bytecode.OpInvalid
		internalErrorf("%v", err)
	}
	it.op = inst.Opcode()
	return inst
}

// Execute runs one normal pass over the program.
//
// It returns the event of the final marker if dependencies are enabled (already resolved), or
// backends.NoEvent otherwise.
func (it *Interpreter) Execute() (backends.Event, error) {
	return it.execute(false)
}

// Warmup runs one warm-up pass: the program is decoded and the launched tasks are compiled, but
// nothing is allocated, transferred or launched.
func (it *Interpreter) Warmup() error {
	_, err := it.execute(true)
	if err == nil {
		it.finishedWarmup = true
	}
	return err
}

// Compile runs a warm-up pass, without marking the interpreter as warmed-up.
func (it *Interpreter) Compile() error {
	_, err := it.execute(true)
	return err
}

// IsWarmedUp returns whether Warmup completed successfully.
func (it *Interpreter) IsWarmedUp() bool { return it.finishedWarmup }

func (it *Interpreter) execute(warmup bool) (event backends.Event, err error) {
	warmup = warmup || it.config.VirtualDevice
	event = backends.NoEvent
	if !warmup {
		if err = it.checkMemoryBudget(); err != nil {
			return
		}
	}
	start := time.Now()
	it.warmup = warmup
	it.lastEvent = backends.NoEvent
	it.events.resetAll()
	it.trace.begin(it.device, warmup)
	defer func() {
		it.lastPassBytes = it.reader.Position() - it.reader.MarkPosition()
		it.reader.Reset()
		it.op = bytecode.OpInvalid
		it.position = -1
		it.flushTrace()
	}()

	var runErr error
	caught := exceptions.TryCatch[error](func() { runErr = it.run() })
	if caught != nil {
		return event, it.wrapInternal(caught)
	}
	if runErr != nil {
		return event, runErr
	}

	if !warmup {
		if it.config.UseDependencies {
			event, err = it.device.EnqueueMarker(nil)
			if err == nil {
				_, err = it.device.ResolveEvent(event)
			}
			if err != nil {
				return backends.NoEvent, &Error{Kind: KindBailout, Position: -1, Device: it.device.Name(),
					Err: errors.WithMessage(err, "final marker")}
			}
		}
		if it.config.FlushAtEnd {
			if err = it.device.Flush(); err != nil {
				return event, &Error{Kind: KindBailout, Position: -1, Device: it.device.Name(),
					Err: errors.WithMessage(err, "flushing device")}
			}
		}
	}

	elapsed := time.Since(start)
	if warmup {
		it.stats.WarmupPasses++
	} else {
		it.stats.Invocations++
		it.stats.TotalTime += elapsed
		it.stats.LastTime = elapsed
		it.profiler.AddDuration(profiler.TotalBytecodeExecutionTime, it.device.Name(), elapsed)
	}
	if klog.V(1).Enabled() {
		klog.Infof("xpuvm: bc: complete elapsed=%s (warmup=%v, %d iterations, %s mean)",
			elapsed, warmup, it.stats.Invocations, it.stats.MeanTime())
	}
	return event, nil
}

// wrapInternal converts a caught panic into an *Error: panics raised with *Error (e.g. device
// failures while loading the preamble) are returned as is, anything else becomes KindInternal.
func (it *Interpreter) wrapInternal(caught error) error {
	var e *Error
	if errors.As(caught, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Op: it.op, Position: it.position, Device: it.device.Name(), Err: caught}
}

// checkMemoryBudget returns a KindMemory error if one pass allocates more than the budget.
func (it *Interpreter) checkMemoryBudget() error {
	limit := it.ctx.MemoryLimit
	if limit == 0 {
		limit = it.config.MemoryLimit
	}
	if limit == 0 || it.requiredBytes <= limit {
		return nil
	}
	return &Error{Kind: KindMemory, Position: -1, Device: it.device.Name(), Bytes: it.requiredBytes, Limit: limit}
}

// LastPassBytes returns the number of bytes of the program body consumed by the last pass.
func (it *Interpreter) LastPassBytes() int { return it.lastPassBytes }

// RequiredBytes returns the device memory allocated by one pass of the program.
func (it *Interpreter) RequiredBytes() uint64 { return it.requiredBytes }

// run decodes and dispatches instructions until END or the end of the code.
func (it *Interpreter) run() error {
	for it.reader.HasRemaining() {
		inst := it.decode()
		if klog.V(2).Enabled() {
			klog.Infof("xpuvm: %06d: %s", it.position, inst)
		}
		var err error
		switch inst := inst.(type) {
		case *bytecode.Alloc:
			err = it.execAlloc(inst)
		case *bytecode.Dealloc:
			err = it.execDealloc(inst)
		case *bytecode.TransferHostToDeviceOnce:
			err = it.execTransferHostToDevice(&inst.TransferOperands, true)
		case *bytecode.TransferHostToDeviceAlways:
			err = it.execTransferHostToDevice(&inst.TransferOperands, false)
		case *bytecode.TransferDeviceToHostAlways:
			err = it.execTransferDeviceToHost(&inst.TransferOperands, false)
		case *bytecode.TransferDeviceToHostAlwaysBlocking:
			err = it.execTransferDeviceToHost(&inst.TransferOperands, true)
		case *bytecode.Launch:
			err = it.execLaunch(inst)
		case *bytecode.AddDependency:
			it.execAddDependency(inst)
		case *bytecode.Barrier:
			err = it.execBarrier(inst)
		case *bytecode.End:
			if !it.warmup {
				it.trace.printf(bytecode.OpEnd, "", "")
			}
			return nil
		default:
			internalErrorf("invalid bytecode: unexpected %s after BEGIN", inst)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// flushTrace prints the trace of the pass, if enabled.
func (it *Interpreter) flushTrace() {
	if it.trace == nil {
		return
	}
	it.lastTrace = it.trace.String()
	if it.traceOutput != nil {
		_, _ = fmt.Fprintln(it.traceOutput, it.lastTrace)
	}
}

// SetTraceOutput sets where the bytecode trace is printed (os.Stdout by default) if it is enabled
// with Config.PrintBytecodes. Set it to nil to only keep it for LastTrace.
func (it *Interpreter) SetTraceOutput(w io.Writer) { it.traceOutput = w }

// LastTrace returns the bytecode trace of the last pass, if enabled.
func (it *Interpreter) LastTrace() string { return it.lastTrace }

// SetGridScheduler sets the work sizes of the tasks it defines.
func (it *Interpreter) SetGridScheduler(gridScheduler *GridScheduler) { it.gridScheduler = gridScheduler }

// SetCompileUpdate forces full compilation of the next task compiled.
func (it *Interpreter) SetCompileUpdate() { it.doUpdate = true }

// SetProfiler replaces the profiler, e.g. to share one across interpreters. It can be set to nil to disable profiling.
func (it *Interpreter) SetProfiler(p *profiler.Profiler) { it.profiler = p }

// Profiler returns the profiler used, or nil if profiling is disabled.
func (it *Interpreter) Profiler() *profiler.Profiler { return it.profiler }

// ClearInstalledCode drops all the installed kernels: the next launch of each task compiles it again.
func (it *Interpreter) ClearInstalledCode() { it.kernels.clear() }

// NumInstalledKernels returns the number of tasks with valid installed code.
func (it *Interpreter) NumInstalledKernels() int { return it.kernels.numValid() }

// InvalidateObject marks the device copy of the object as stale, after its host data was
// updated: the next TRANSFER_HOST_TO_DEVICE_ONCE copies it again.
func (it *Interpreter) InvalidateObject(id ObjectID) { it.buffers.invalidate(id) }

// BufferState returns the state of the device copy of the object, or nil if not allocated.
func (it *Interpreter) BufferState(id ObjectID) *BufferState { return it.buffers.state(id) }

// Stats returns the statistics of the executions so far.
func (it *Interpreter) Stats() Stats { return it.stats }

// Device the interpreter is bound to.
func (it *Interpreter) Device() backends.Device { return it.device }

// Context returns the execution context of the interpreter.
func (it *Interpreter) Context() *ExecutionContext { return it.ctx }

// Config returns the configuration of the interpreter.
func (it *Interpreter) Config() Config { return it.config }

// EventListCursor returns the number of events currently recorded in the event list.
func (it *Interpreter) EventListCursor(eventList int32) (cursor int, err error) {
	err = exceptions.TryCatch[error](func() { cursor = it.events.cursor(eventList) })
	return
}

// Close releases all the device buffers still allocated, and the installed kernels.
func (it *Interpreter) Close() error {
	if n := it.buffers.numAllocated(); n > 0 && klog.V(1).Enabled() {
		klog.Infof("xpuvm: releasing %d buffers still allocated on %s", n, it.device)
	}
	it.kernels.clear()
	return it.buffers.releaseAll()
}

// String implements fmt.Stringer.
func (it *Interpreter) String() string {
	return fmt.Sprintf("Interpreter(%s on %s)", it.ctx.Name(), it.device)
}
