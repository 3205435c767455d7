// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xpuvm

import (
	"bytes"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/xpuvm/backends"
	"github.com/gomlx/xpuvm/backends/devicetest"
	"github.com/gomlx/xpuvm/pkg/bytecode"
	"github.com/gomlx/xpuvm/pkg/profiler"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ctx       *ExecutionContext
	device    *devicetest.Device
	installer *devicetest.Installer
	x         *backends.HostObject
}

// newFixture creates an execution context with one object "x" (4 float32) and one task "task0" on device 0.
func newFixture() *fixture {
	f := &fixture{
		ctx:       NewExecutionContext("test"),
		device:    devicetest.NewDevice("fake", 0),
		installer: devicetest.NewInstaller(),
		x:         backends.NewHostObject("x", []float32{1, 2, 3, 4}),
	}
	f.ctx.AddObject(f.x)
	f.ctx.AddTask(NewTask("task0", "scale", dtypes.Float32), 0)
	return f
}

func (f *fixture) newInterpreter(t *testing.T, code []byte, config Config) *Interpreter {
	it, err := New(f.ctx, code, f.device, f.installer, config)
	require.NoError(t, err)
	it.SetTraceOutput(nil)
	return it
}

// scenarioProgram allocates x, copies it in, launches task0 on it and copies it back.
func scenarioProgram() *bytecode.Assembler {
	asm := bytecode.NewAssembler()
	asm.Prologue(1, 1, 0)
	asm.Alloc(0, 0)
	asm.TransferHostToDeviceOnce(0, 0, 0, 0)
	asm.Launch(0, 0, 0, 0, 1024, bytecode.ReferenceArg(0))
	asm.TransferDeviceToHostAlwaysBlocking(0, 0, 0, 0)
	asm.End()
	return asm
}

func TestExecuteScenario(t *testing.T) {
	f := newFixture()
	it := f.newInterpreter(t, scenarioProgram().Bytes(), NewConfig())
	assert.Equal(t, 1, f.device.NumLoads)
	assert.Empty(t, f.device.Calls)

	event, err := it.Execute()
	require.NoError(t, err)
	assert.Equal(t, backends.NoEvent, event)
	assert.Equal(t, []string{
		"allocate(x)",
		"stream_in(x)",
		"install(task0)",
		"launch(task0)",
		"stream_out_blocking(x)",
	}, f.device.CallNames())
	cursor, err := it.EventListCursor(0)
	require.NoError(t, err)
	assert.Equal(t, 0, cursor)

	launch := f.device.CallsNamed("launch(task0)")[0]
	assert.Nil(t, launch.WaitList)
	assert.Equal(t, int64(1024), launch.BatchSize)
	require.Len(t, launch.Args, 1)
	assert.Equal(t, backends.ArgReference, launch.Args[0].Kind)
	assert.Equal(t, f.x, launch.Args[0].Value.(*devicetest.Buffer).Object)

	state := it.BufferState(0)
	require.NotNil(t, state)
	assert.True(t, state.Valid)
	assert.False(t, state.Modified)

	// Second pass: buffer kept, transfer ONCE skipped, code already installed.
	f.device.Reset()
	_, err = it.Execute()
	require.NoError(t, err)
	assert.Equal(t, []string{"launch(task0)", "stream_out_blocking(x)"}, f.device.CallNames())

	stats := it.Stats()
	assert.Equal(t, 2, stats.Invocations)
	assert.Equal(t, 1, stats.Compilations)
	assert.Equal(t, 2, stats.Launches)
	assert.Equal(t, 1, f.device.NumFrames)
}

func TestWarmupThenExecute(t *testing.T) {
	f := newFixture()
	it := f.newInterpreter(t, scenarioProgram().Bytes(), NewConfig())

	require.NoError(t, it.Warmup())
	assert.True(t, it.IsWarmedUp())
	assert.Equal(t, []string{"install(task0)"}, f.device.CallNames())
	assert.Nil(t, it.BufferState(0))
	warmupBytes := it.LastPassBytes()
	assert.Equal(t, 1, it.NumInstalledKernels())

	f.device.Reset()
	_, err := it.Execute()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"allocate(x)",
		"stream_in(x)",
		"launch(task0)",
		"stream_out_blocking(x)",
	}, f.device.CallNames())
	assert.Equal(t, warmupBytes, it.LastPassBytes(), "warm-up and normal passes must consume the same bytes")
	assert.Len(t, f.installer.Installed, 1)
	assert.Equal(t, 1, it.Stats().WarmupPasses)
}

func TestWarmupConsumesAllOpcodes(t *testing.T) {
	f := newFixture()
	f.ctx.AddObject(backends.NewHostObject("y", make([]float32, 4)))
	alpha := f.ctx.AddConstant(float32(2))
	asm := bytecode.NewAssembler()
	asm.Prologue(1, 2, 0)
	begin := asm.Position()
	asm.Alloc(0, 0)
	asm.Alloc(8, 1)
	asm.TransferHostToDeviceOnce(0, 0, 0, 0)
	asm.AddDependency(0)
	asm.TransferHostToDeviceAlways(1, 1, 8, 8)
	asm.Launch(0, 0, 0, 0, 4, bytecode.ConstantArg(alpha), bytecode.ReferenceArg(0))
	asm.AddDependency(1)
	asm.TransferDeviceToHostAlways(0, 1, 0, 0)
	asm.AddDependency(0)
	asm.Barrier(0)
	asm.TransferDeviceToHostAlwaysBlocking(1, bytecode.NoEventList, 8, 8)
	asm.Dealloc(1)
	asm.Dealloc(0)
	asm.End()
	passBytes := asm.Position() - begin

	config := NewConfig()
	config.UseDependencies = true
	it := f.newInterpreter(t, asm.Bytes(), config)
	require.NoError(t, it.Warmup())
	assert.Equal(t, passBytes, it.LastPassBytes())
	assert.Equal(t, []string{"install(task0)"}, f.device.CallNames())

	for pass := range 2 {
		f.device.Reset()
		_, err := it.Execute()
		require.NoError(t, err, "pass %d", pass)
		assert.Equal(t, passBytes, it.LastPassBytes(), "pass %d", pass)
		assert.Equal(t, []string{
			"allocate(x)",
			"allocate(y)",
			"stream_in(x)",
			"stream_in(y)",
			"launch(task0)",
			"stream_out_blocking(x)",
			"enqueue_marker",
			"stream_out_blocking(y)",
			"deallocate(y)",
			"deallocate(x)",
			"enqueue_marker",
		}, f.device.CallNames(), "pass %d", pass)
	}
	assert.Equal(t, 0, f.device.NumLiveBuffers())
}

func TestCompileDoesNotMarkWarmedUp(t *testing.T) {
	f := newFixture()
	it := f.newInterpreter(t, scenarioProgram().Bytes(), NewConfig())
	require.NoError(t, it.Compile())
	assert.False(t, it.IsWarmedUp())
	assert.Equal(t, 1, it.NumInstalledKernels())
}

func TestVirtualDevice(t *testing.T) {
	f := newFixture()
	config := NewConfig()
	config.VirtualDevice = true
	it := f.newInterpreter(t, scenarioProgram().Bytes(), config)
	event, err := it.Execute()
	require.NoError(t, err)
	assert.Equal(t, backends.NoEvent, event)
	assert.Equal(t, []string{"install(task0)"}, f.device.CallNames())
	assert.Equal(t, 0, it.Stats().Invocations)
}

func TestDependencies(t *testing.T) {
	f := newFixture()
	asm := bytecode.NewAssembler()
	asm.Prologue(1, 2, 0)
	// Events: allocate=0, stream_in=1, install=2, launch=3, stream_out=4, barrier=5, final marker=6.
	asm.Alloc(0, 0)
	asm.AddDependency(0)
	asm.TransferHostToDeviceAlways(0, 0, 0, 0)
	// Host to device transfers don't publish their event: list 1 gets the allocation event.
	asm.AddDependency(1)
	asm.Launch(0, 0, 1, 0, 64, bytecode.ReferenceArg(0))
	asm.AddDependency(0)
	asm.TransferDeviceToHostAlways(0, 0, 0, 0)
	asm.AddDependency(1)
	asm.Barrier(1)
	asm.End()

	config := NewConfig()
	config.UseDependencies = true
	it := f.newInterpreter(t, asm.Bytes(), config)
	event, err := it.Execute()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"allocate(x)",
		"stream_in(x)",
		"install(task0)",
		"launch(task0)",
		"stream_out_blocking(x)",
		"enqueue_marker",
		"enqueue_marker",
	}, f.device.CallNames())
	calls := f.device.Calls
	assert.Equal(t, []backends.Event{0}, calls[1].WaitList)
	assert.Equal(t, []backends.Event{0}, calls[3].WaitList)
	assert.Equal(t, []backends.Event{3}, calls[4].WaitList)
	assert.Equal(t, []backends.Event{4}, calls[5].WaitList)
	assert.Nil(t, calls[6].WaitList, "final marker waits for everything")
	assert.Equal(t, calls[6].Event, event)
	assert.Equal(t, 1, f.device.NumResolves)

	for el := range int32(2) {
		cursor, err := it.EventListCursor(el)
		require.NoError(t, err)
		assert.Equal(t, 0, cursor, "event list %d", el)
	}
}

func TestDependenciesDisabled(t *testing.T) {
	f := newFixture()
	asm := bytecode.NewAssembler()
	asm.Prologue(1, 1, 0)
	asm.Alloc(0, 0)
	asm.AddDependency(0)
	asm.TransferHostToDeviceAlways(0, 0, 0, 0)
	asm.AddDependency(0)
	asm.Barrier(0)
	asm.End()

	it := f.newInterpreter(t, asm.Bytes(), NewConfig())
	_, err := it.Execute()
	require.NoError(t, err)
	for _, c := range f.device.Calls {
		assert.Nil(t, c.WaitList, "call %s", c)
	}
	cursor, err := it.EventListCursor(0)
	require.NoError(t, err)
	assert.Equal(t, 0, cursor, "ADD_DEPENDENCY doesn't record when dependencies are disabled")
}

func TestBlockingStreamOutKeepsLastEvent(t *testing.T) {
	f := newFixture()
	asm := bytecode.NewAssembler()
	asm.Prologue(1, 1, 0)
	asm.Alloc(0, 0)
	asm.TransferDeviceToHostAlwaysBlocking(0, -1, 0, 0)
	asm.AddDependency(0)
	asm.Barrier(0)
	asm.End()

	config := NewConfig()
	config.UseDependencies = true
	it := f.newInterpreter(t, asm.Bytes(), config)
	_, err := it.Execute()
	require.NoError(t, err)
	markers := f.device.CallsNamed("enqueue_marker")
	require.Len(t, markers, 2)
	assert.Equal(t, []backends.Event{0}, markers[0].WaitList)
}

func TestAddDependencyWithoutEvent(t *testing.T) {
	f := newFixture()
	asm := bytecode.NewAssembler()
	asm.Prologue(1, 1, 0)
	asm.AddDependency(0)
	asm.Alloc(0)
	asm.AddDependency(0)
	asm.End()

	config := NewConfig()
	config.UseDependencies = true
	it := f.newInterpreter(t, asm.Bytes(), config)
	_, err := it.Execute()
	require.NoError(t, err)
	cursor, err := it.EventListCursor(0)
	require.NoError(t, err)
	assert.Equal(t, 0, cursor)
	assert.Equal(t, []string{"enqueue_marker"}, f.device.CallNames())
}

func TestEventListsResetEachPass(t *testing.T) {
	t.Run("unconsumed dependency", func(t *testing.T) {
		f := newFixture()
		asm := bytecode.NewAssembler()
		asm.Prologue(1, 1, 0)
		asm.Alloc(0, 0)
		asm.AddDependency(0)
		asm.Dealloc(0)
		asm.End()

		config := NewConfig()
		config.UseDependencies = true
		config.EventListCapacity = 2
		it := f.newInterpreter(t, asm.Bytes(), config)
		for pass := range 4 {
			_, err := it.Execute()
			require.NoError(t, err, "pass %d", pass)
			cursor, err := it.EventListCursor(0)
			require.NoError(t, err)
			assert.Equal(t, 1, cursor, "pass %d", pass)
		}
	})

	t.Run("after a failed pass", func(t *testing.T) {
		f := newFixture()
		asm := bytecode.NewAssembler()
		asm.Prologue(1, 1, 0)
		asm.Alloc(0, 0)
		asm.AddDependency(0)
		asm.Launch(0, 0, 0, 0, 4, bytecode.ReferenceArg(0))
		asm.End()

		config := NewConfig()
		config.UseDependencies = true
		it := f.newInterpreter(t, asm.Bytes(), config)
		f.device.Fail["launch"] = errors.New("kaboom")
		_, err := it.Execute()
		require.Error(t, err)
		assert.True(t, IsBailout(err), "got %v", err)

		// x is still allocated: the second pass records no event before the launch.
		delete(f.device.Fail, "launch")
		f.device.Reset()
		_, err = it.Execute()
		require.NoError(t, err)
		launches := f.device.CallsNamed("launch(task0)")
		require.Len(t, launches, 1)
		assert.Empty(t, launches[0].WaitList, "events of the failed pass must not be waited on")
	})
}

func TestEventListOverflow(t *testing.T) {
	f := newFixture()
	asm := bytecode.NewAssembler()
	asm.Prologue(1, 1, 0)
	asm.Alloc(0, 0)
	asm.AddDependency(0)
	asm.AddDependency(0)
	pos := asm.AddDependency(0)
	asm.End()

	config := NewConfig()
	config.UseDependencies = true
	config.EventListCapacity = 2
	it := f.newInterpreter(t, asm.Bytes(), config)
	_, err := it.Execute()
	require.Error(t, err)
	assert.True(t, IsInternal(err), "got %v", err)
	assert.ErrorContains(t, err, "too small")
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, bytecode.OpAddDependency, e.Op)
	assert.Equal(t, pos, e.Position)
}

func TestZeroObjectAlloc(t *testing.T) {
	f := newFixture()
	kctx := f.ctx.AddObject(&backends.HostObject{Name: "kctx", KernelContext: true})
	asm := bytecode.NewAssembler()
	asm.Prologue(1, 1, 0)
	asm.Alloc(0)
	asm.Alloc(0, int32(kctx))
	asm.Dealloc(int32(kctx))
	asm.End()

	it := f.newInterpreter(t, asm.Bytes(), NewConfig())
	_, err := it.Execute()
	require.NoError(t, err)
	assert.Empty(t, f.device.Calls)
	assert.Nil(t, it.BufferState(kctx))
}

func TestStreamOutWithoutAlloc(t *testing.T) {
	f := newFixture()
	asm := bytecode.NewAssembler()
	asm.Prologue(1, 1, 0)
	pos := asm.TransferDeviceToHostAlwaysBlocking(0, 0, 0, 0)
	asm.End()

	it := f.newInterpreter(t, asm.Bytes(), NewConfig())
	for range 2 {
		// The reader is rewound after the failure, so the second pass fails in the same way.
		_, err := it.Execute()
		require.Error(t, err)
		assert.True(t, IsInternal(err), "got %v", err)
		assert.ErrorContains(t, err, "missing ALLOC")
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, bytecode.OpTransferDeviceToHostAlwaysBlocking, e.Op)
		assert.Equal(t, pos, e.Position)
	}
	assert.Empty(t, f.device.Calls)
}

func TestTransferOnceIsIdempotent(t *testing.T) {
	f := newFixture()
	asm := bytecode.NewAssembler()
	asm.Prologue(1, 1, 0)
	asm.Alloc(0, 0)
	asm.TransferHostToDeviceOnce(0, 0, 0, 0)
	asm.TransferHostToDeviceOnce(0, 0, 0, 0)
	asm.End()

	it := f.newInterpreter(t, asm.Bytes(), NewConfig())
	_, err := it.Execute()
	require.NoError(t, err)
	assert.Len(t, f.device.CallsNamed("stream_in(x)"), 1)

	// Host data updated: the device copy is stale.
	f.device.Reset()
	it.InvalidateObject(0)
	assert.False(t, it.BufferState(0).Valid)
	_, err = it.Execute()
	require.NoError(t, err)
	assert.Equal(t, []string{"stream_in(x)"}, f.device.CallNames())
}

func TestBatchedTransfers(t *testing.T) {
	f := newFixture()
	asm := bytecode.NewAssembler()
	asm.Prologue(1, 1, 0)
	asm.Alloc(8, 0)
	asm.TransferHostToDeviceOnce(0, 0, 8, 8)
	asm.TransferHostToDeviceOnce(0, 0, 8, 8)
	asm.TransferDeviceToHostAlways(0, 0, 8, 8)
	asm.End()

	it := f.newInterpreter(t, asm.Bytes(), NewConfig())
	_, err := it.Execute()
	require.NoError(t, err)
	streamIns := f.device.CallsNamed("stream_in(x)")
	require.Len(t, streamIns, 2, "batched transfers always stream in")
	assert.Equal(t, int64(8), streamIns[0].Offset)
	assert.Equal(t, int64(8), streamIns[0].BatchSize)
	assert.Equal(t, int64(8), it.BufferState(0).BatchSize)
	assert.Equal(t, int64(8), f.device.CallsNamed("stream_out_blocking(x)")[0].Offset)
	assert.Equal(t, uint64(8), it.RequiredBytes())
}

func TestReallocWithNewBatchSize(t *testing.T) {
	f := newFixture()
	asm := bytecode.NewAssembler()
	asm.Prologue(1, 1, 0)
	asm.Alloc(0, 0)
	asm.Alloc(0, 0)
	asm.Alloc(8, 0)
	asm.Dealloc(0)
	asm.End()

	it := f.newInterpreter(t, asm.Bytes(), NewConfig())
	_, err := it.Execute()
	require.NoError(t, err)
	assert.Equal(t, []string{"allocate(x)", "deallocate(x)", "allocate(x)", "deallocate(x)"}, f.device.CallNames())
	assert.Nil(t, it.BufferState(0))
	assert.Equal(t, 0, f.device.NumLiveBuffers())
}

func TestRecompileOnBatchThreadsChange(t *testing.T) {
	f := newFixture()
	asm := bytecode.NewAssembler()
	asm.Prologue(1, 1, 0)
	asm.Alloc(0, 0)
	asm.Launch(0, 0, -1, 0, 512, bytecode.ReferenceArg(0))
	asm.Launch(0, 0, -1, 0, 512, bytecode.ReferenceArg(0))
	asm.Launch(0, 0, -1, 0, 1024, bytecode.ReferenceArg(0))
	asm.End()

	it := f.newInterpreter(t, asm.Bytes(), NewConfig())
	_, err := it.Execute()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"allocate(x)",
		"install(task0)", "launch(task0)",
		"launch(task0)",
		"install(task0)", "launch(task0)",
	}, f.device.CallNames())
	require.Len(t, f.installer.Installed, 2)
	assert.False(t, f.installer.Installed[0].IsValid())
	assert.Equal(t, int64(512), f.installer.Installed[0].BatchThreads)
	assert.Equal(t, int64(1024), f.installer.Installed[1].BatchThreads)
	assert.Equal(t, int64(1024), f.ctx.Task(0).BatchThreads())
}

func TestRecompileTasksWritingIndex(t *testing.T) {
	f := newFixture()
	f.ctx.Task(0).WithIndexWrittenToOutput()
	it := f.newInterpreter(t, scenarioProgram().Bytes(), NewConfig())
	for range 3 {
		_, err := it.Execute()
		require.NoError(t, err)
	}
	assert.Len(t, f.device.CallsNamed("install(task0)"), 3)
	assert.Equal(t, 3, f.ctx.Task(0).BatchNumber())
}

func TestForceCompilation(t *testing.T) {
	f := newFixture()
	f.ctx.AddTask(NewTask("task1", "add", dtypes.Float32), 0)
	asm := bytecode.NewAssembler()
	asm.Prologue(1, 1, 0)
	asm.Alloc(0, 0)
	asm.Launch(0, 0, -1, 0, 0, bytecode.ReferenceArg(0))
	asm.Launch(0, 1, -1, 0, 0, bytecode.ReferenceArg(0))
	asm.End()

	it := f.newInterpreter(t, asm.Bytes(), NewConfig())
	require.NoError(t, it.Warmup())
	require.Len(t, f.installer.Installed, 2)
	assert.False(t, f.installer.Installed[0].ForceCompilation)
	assert.True(t, f.installer.Installed[1].ForceCompilation, "last task of the program is fully compiled")

	// Compile update: the next compiled task is fully compiled too.
	it.ClearInstalledCode()
	assert.Equal(t, 0, it.NumInstalledKernels())
	it.SetCompileUpdate()
	require.NoError(t, it.Warmup())
	require.Len(t, f.installer.Installed, 4)
	assert.True(t, f.installer.Installed[2].ForceCompilation)
	assert.True(t, f.installer.Installed[3].ForceCompilation)

	it.ClearInstalledCode()
	require.NoError(t, it.Warmup())
	require.Len(t, f.installer.Installed, 6)
	assert.False(t, f.installer.Installed[4].ForceCompilation, "compile update is consumed by one compilation")
}

func TestLazyInstaller(t *testing.T) {
	f := newFixture()
	f.installer.Lazy = true
	it := f.newInterpreter(t, scenarioProgram().Bytes(), NewConfig())
	_, err := it.Execute()
	require.NoError(t, err)
	assert.Len(t, f.device.CallsNamed("launch(task0)"), 1)

	f.device.Reset()
	_, err = it.Execute()
	require.NoError(t, err)
	assert.Empty(t, f.device.CallsNamed("install(task0)"), "code found in the installer cache is kept")
}

func TestCodeGeneratorFailed(t *testing.T) {
	f := newFixture()
	f.installer.Lazy = true
	it, err := New(f.ctx, scenarioProgram().Bytes(), f.device, nilInstaller{f.installer}, NewConfig())
	require.NoError(t, err)
	require.NoError(t, it.Warmup())
	_, err = it.Execute()
	require.Error(t, err)
	assert.True(t, IsBailout(err), "got %v", err)
	assert.ErrorContains(t, err, "code generator failed")
}

// nilInstaller never finds cached code.
type nilInstaller struct {
	*devicetest.Installer
}

func (nilInstaller) Cached(backends.Task, backends.Device) (backends.InstalledCode, bool) {
	return nil, false
}

func TestCapabilityError(t *testing.T) {
	f := newFixture()
	f.ctx.Task(0).dtypes = []dtypes.DType{dtypes.Float32, dtypes.Float64}
	it := f.newInterpreter(t, scenarioProgram().Bytes(), NewConfig())

	err := it.Warmup()
	require.Error(t, err)
	assert.True(t, IsCapability(err), "got %v", err)
	assert.False(t, it.IsWarmedUp())
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "task0", e.TaskID)
	assert.Equal(t, bytecode.OpLaunch, e.Op)
	var dtypeErr *backends.UnsupportedDTypeError
	require.ErrorAs(t, err, &dtypeErr)
	assert.Equal(t, dtypes.Float64, dtypeErr.DType)

	_, err = it.Execute()
	assert.True(t, IsCapability(err), "got %v", err)
	assert.Empty(t, f.device.CallsNamed("launch(task0)"))

	t.Run("allocation", func(t *testing.T) {
		f := newFixture()
		f.device.Fail["allocate"] = &backends.UnsupportedDTypeError{DType: dtypes.Float64, Device: "fake"}
		it := f.newInterpreter(t, scenarioProgram().Bytes(), NewConfig())
		_, err := it.Execute()
		require.Error(t, err)
		assert.True(t, IsCapability(err), "got %v", err)
		require.ErrorAs(t, err, &e)
		assert.Equal(t, bytecode.OpAlloc, e.Op)
		assert.Empty(t, e.TaskID)
		assert.NotContains(t, err.Error(), "required by task")
	})
}

func TestBailouts(t *testing.T) {
	failure := errors.New("kaboom")
	for _, op := range []string{"allocate", "stream_in", "launch", "stream_out"} {
		t.Run(op, func(t *testing.T) {
			f := newFixture()
			f.device.Fail[op] = failure
			it := f.newInterpreter(t, scenarioProgram().Bytes(), NewConfig())
			_, err := it.Execute()
			require.Error(t, err)
			assert.True(t, IsBailout(err), "got %v", err)
			assert.ErrorIs(t, err, failure)
		})
	}

	t.Run("install", func(t *testing.T) {
		f := newFixture()
		f.installer.Fail["task0"] = failure
		it := f.newInterpreter(t, scenarioProgram().Bytes(), NewConfig())
		err := it.Warmup()
		require.Error(t, err)
		assert.True(t, IsBailout(err), "got %v", err)
		assert.ErrorIs(t, err, failure)
		assert.ErrorContains(t, err, "unable to compile")
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, "task0", e.TaskID)
		assert.Equal(t, "fake", e.Device)
	})

	t.Run("final marker", func(t *testing.T) {
		f := newFixture()
		f.device.Fail["marker"] = failure
		config := NewConfig()
		config.UseDependencies = true
		it := f.newInterpreter(t, scenarioProgram().Bytes(), config)
		_, err := it.Execute()
		assert.True(t, IsBailout(err), "got %v", err)
		assert.ErrorIs(t, err, failure)
	})
}

func TestMemoryBudget(t *testing.T) {
	f := newFixture()
	f.ctx.MemoryLimit = 8
	it := f.newInterpreter(t, scenarioProgram().Bytes(), NewConfig())
	assert.Equal(t, uint64(16), it.RequiredBytes())

	_, err := it.Execute()
	require.Error(t, err)
	assert.True(t, IsMemoryExhausted(err), "got %v", err)
	assert.ErrorContains(t, err, "requires 16 B of device memory, limit is 8 B")
	assert.Empty(t, f.device.Calls)

	// Warm-up never allocates, so it is not limited.
	require.NoError(t, it.Warmup())

	// The context limit takes precedence over the configuration.
	f.ctx.MemoryLimit = 0
	config := NewConfig()
	config.MemoryLimit = 1 << 10
	it = f.newInterpreter(t, scenarioProgram().Bytes(), config)
	_, err = it.Execute()
	require.NoError(t, err)
}

func TestMalformedPrograms(t *testing.T) {
	t.Run("no INIT", func(t *testing.T) {
		f := newFixture()
		_, err := New(f.ctx, bytecode.Encode(&bytecode.Begin{}), f.device, f.installer, NewConfig())
		require.Error(t, err)
		assert.True(t, IsInternal(err), "got %v", err)
	})

	t.Run("wrong device", func(t *testing.T) {
		f := newFixture()
		asm := bytecode.NewAssembler()
		asm.Prologue(1, 1, 3)
		asm.End()
		_, err := New(f.ctx, asm.Bytes(), f.device, f.installer, NewConfig())
		assert.True(t, IsInternal(err), "got %v", err)
		assert.Equal(t, 0, f.device.NumLoads)
	})

	t.Run("instruction before BEGIN", func(t *testing.T) {
		f := newFixture()
		asm := bytecode.NewAssembler()
		asm.Init(1, 1, 1)
		asm.Alloc(0, 0)
		asm.Begin()
		_, err := New(f.ctx, asm.Bytes(), f.device, f.installer, NewConfig())
		assert.True(t, IsInternal(err), "got %v", err)
		assert.ErrorContains(t, err, "before BEGIN")
	})

	t.Run("missing CONTEXT", func(t *testing.T) {
		f := newFixture()
		asm := bytecode.NewAssembler()
		asm.Init(2, 1, 1)
		asm.Context(0)
		asm.Begin()
		asm.End()
		_, err := New(f.ctx, asm.Bytes(), f.device, f.installer, NewConfig())
		assert.True(t, IsInternal(err), "got %v", err)
		assert.ErrorContains(t, err, "declares 2 contexts, found 1")
	})

	t.Run("truncated preamble", func(t *testing.T) {
		f := newFixture()
		asm := bytecode.NewAssembler()
		asm.Init(1, 1, 1)
		asm.Context(0)
		_, err := New(f.ctx, asm.Bytes(), f.device, f.installer, NewConfig())
		assert.True(t, IsInternal(err), "got %v", err)
	})

	t.Run("device load failure", func(t *testing.T) {
		f := newFixture()
		f.device.Fail["ensure_loaded"] = errors.New("no driver")
		_, err := New(f.ctx, scenarioProgram().Bytes(), f.device, f.installer, NewConfig())
		assert.True(t, IsBailout(err), "got %v", err)
		assert.ErrorContains(t, err, "no driver")
	})

	t.Run("invalid opcode", func(t *testing.T) {
		f := newFixture()
		asm := bytecode.NewAssembler()
		asm.Prologue(1, 1, 0)
		code := append(asm.Bytes(), 0xEE)
		it := f.newInterpreter(t, code, NewConfig())
		_, err := it.Execute()
		assert.True(t, IsInternal(err), "got %v", err)
		assert.ErrorContains(t, err, "invalid opcode 0xee")
		// Warm-up decodes the same bytes.
		err = it.Warmup()
		assert.True(t, IsInternal(err), "got %v", err)
	})

	t.Run("invalid object", func(t *testing.T) {
		f := newFixture()
		asm := bytecode.NewAssembler()
		asm.Prologue(1, 1, 0)
		asm.Alloc(0, 7)
		asm.End()
		it := f.newInterpreter(t, asm.Bytes(), NewConfig())
		_, err := it.Execute()
		assert.True(t, IsInternal(err), "got %v", err)
		assert.ErrorContains(t, err, "invalid object #7")
	})

	t.Run("invalid event list", func(t *testing.T) {
		f := newFixture()
		asm := bytecode.NewAssembler()
		asm.Prologue(1, 1, 0)
		asm.Barrier(3)
		asm.End()
		it := f.newInterpreter(t, asm.Bytes(), NewConfig())
		_, err := it.Execute()
		assert.True(t, IsInternal(err), "got %v", err)
		_, err = it.EventListCursor(3)
		assert.Error(t, err)
	})

	t.Run("task on another device", func(t *testing.T) {
		f := newFixture()
		f.ctx.AddTask(NewTask("task1", "scale", dtypes.Float32), 1)
		asm := bytecode.NewAssembler()
		asm.Prologue(1, 1, 0)
		asm.Launch(0, 1, -1, 0, 0)
		asm.End()
		it := f.newInterpreter(t, asm.Bytes(), NewConfig())
		err := it.Warmup()
		assert.True(t, IsInternal(err), "got %v", err)
		assert.Empty(t, f.installer.Installed)
	})

	t.Run("invalid call wrapper", func(t *testing.T) {
		f := newFixture()
		asm := bytecode.NewAssembler()
		asm.Prologue(1, 1, 0)
		asm.Launch(4, 0, -1, 0, 0)
		asm.End()
		it := f.newInterpreter(t, asm.Bytes(), NewConfig())
		err := it.Warmup()
		assert.True(t, IsInternal(err), "got %v", err)
		assert.ErrorContains(t, err, "call wrapper #4")
	})

	t.Run("invalid constant", func(t *testing.T) {
		f := newFixture()
		asm := bytecode.NewAssembler()
		asm.Prologue(1, 1, 0)
		asm.Launch(0, 0, -1, 0, 0, bytecode.ConstantArg(2))
		asm.End()
		it := f.newInterpreter(t, asm.Bytes(), NewConfig())
		_, err := it.Execute()
		assert.True(t, IsInternal(err), "got %v", err)
		assert.ErrorContains(t, err, "invalid constant #2")
	})
}

func TestLaunchArguments(t *testing.T) {
	f := newFixture()
	kctx := f.ctx.AddObject(&backends.HostObject{Name: "kctx", KernelContext: true})
	alpha := f.ctx.AddConstant(float32(0.5))
	f.ctx.SetNumCallWrappers(2)
	asm := bytecode.NewAssembler()
	asm.Prologue(1, 1, 0)
	asm.Alloc(0, 0, int32(kctx))
	asm.Launch(1, 0, -1, 0, 4,
		bytecode.ReferenceArg(int32(kctx)), bytecode.ConstantArg(alpha), bytecode.ReferenceArg(0))
	asm.End()

	it := f.newInterpreter(t, asm.Bytes(), NewConfig())
	it.SetGridScheduler(NewGridScheduler().Set("task0", &WorkerGrid{GlobalWork: []int64{64, 2}}))
	_, err := it.Execute()
	require.NoError(t, err)

	launch := f.device.CallsNamed("launch(task0)")[0]
	require.Len(t, launch.Args, 3)
	assert.Equal(t, backends.ArgKernelContext, launch.Args[0].Kind)
	assert.Equal(t, backends.KernelArg{Kind: backends.ArgConstant, Value: float32(0.5)}, launch.Args[1])
	assert.Equal(t, backends.ArgReference, launch.Args[2].Kind)
	assert.Equal(t, map[int]int64{0: 64, 1: 2}, launch.KernelContext)
	assert.Nil(t, launch.Atomics)
	assert.True(t, f.ctx.Task(0).UsesGridScheduler())
	assert.True(t, it.BufferState(0).Modified)
	assert.Equal(t, []string{"allocate(x)", "install(task0)", "launch(task0)"}, f.device.CallNames())
}

func TestRedeploy(t *testing.T) {
	f := newFixture()
	f.ctx.Redeploy = true
	f.ctx.UseDefaultThreadScheduler = true
	it := f.newInterpreter(t, scenarioProgram().Bytes(), NewConfig())
	for range 3 {
		_, err := it.Execute()
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.device.NumFrames)
	assert.True(t, f.ctx.Task(0).UsesDefaultThreadScheduler())
}

func TestAtomics(t *testing.T) {
	f := newFixture()
	counter := f.ctx.AddObject(&backends.HostObject{Name: "counter", Flat: []int32{5}, Atomic: true})
	f.ctx.Task(0).WithAtomics(1, 2)
	asm := bytecode.NewAssembler()
	asm.Prologue(1, 1, 0)
	asm.Alloc(0, 0, int32(counter))
	asm.Launch(0, 0, -1, 0, 4, bytecode.ReferenceArg(0), bytecode.ReferenceArg(int32(counter)))
	asm.End()

	it := f.newInterpreter(t, asm.Bytes(), NewConfig())
	_, err := it.Execute()
	require.NoError(t, err)
	assert.True(t, it.BufferState(counter).AtomicRegion)
	assert.Equal(t, []string{"allocate(x,counter)", "install(task0)", "stage_atomics([1 2 5])", "launch(task0)"},
		f.device.CallNames())
	launch := f.device.CallsNamed("launch(task0)")[0]
	require.Len(t, launch.Args, 1, "atomic objects are not passed by reference")
	assert.Equal(t, []int32{1, 2, 5}, launch.Atomics.(*devicetest.Buffer).Atomics)
	assert.Equal(t, []int32{1, 2}, f.ctx.Task(0).Atomics(), "initial atomics are not modified")

	t.Run("without device support", func(t *testing.T) {
		f := newFixture()
		f.device.WithCapabilities(backends.Capabilities{DTypes: map[dtypes.DType]bool{dtypes.Float32: true, dtypes.Int32: true}})
		counter := f.ctx.AddObject(&backends.HostObject{Name: "counter", Flat: []int32{5}, Atomic: true})
		f.ctx.Task(0).WithAtomics(1, 2)
		asm := bytecode.NewAssembler()
		asm.Prologue(1, 1, 0)
		asm.Alloc(0, 0, int32(counter))
		asm.Launch(0, 0, -1, 0, 4, bytecode.ReferenceArg(int32(counter)))
		asm.End()
		it := f.newInterpreter(t, asm.Bytes(), NewConfig())
		_, err := it.Execute()
		require.NoError(t, err)
		assert.False(t, it.BufferState(counter).AtomicRegion)
		launch := f.device.CallsNamed("launch(task0)")[0]
		require.Len(t, launch.Args, 1)
		assert.Nil(t, launch.Atomics)
	})
}

func TestProfiling(t *testing.T) {
	f := newFixture()
	config := NewConfig()
	config.Profile = true
	it := f.newInterpreter(t, scenarioProgram().Bytes(), config)
	p := it.Profiler()
	require.NotNil(t, p)
	_, err := it.Execute()
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Get(profiler.NumKernelLaunches, "task0"))
	assert.Equal(t, int64(1), p.Get(profiler.NumCompilations, "task0"))
	assert.Equal(t, int64(16), p.Sum(profiler.TotalCopyInSizeBytes))
	assert.Equal(t, int64(16), p.Sum(profiler.TotalCopyOutSizeBytes))
	assert.Positive(t, f.device.NumResolves)

	it.SetProfiler(nil)
	_, err = it.Execute()
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Get(profiler.NumKernelLaunches, "task0"))
}

func TestTraceAndFlush(t *testing.T) {
	f := newFixture()
	config := NewConfig()
	config.PrintBytecodes = true
	config.FlushAtEnd = true
	it := f.newInterpreter(t, scenarioProgram().Bytes(), config)
	var buf bytes.Buffer
	it.SetTraceOutput(&buf)
	_, err := it.Execute()
	require.NoError(t, err)
	assert.Equal(t, 1, f.device.NumFlushes)

	trace := it.LastTrace()
	assert.Equal(t, trace+"\n", buf.String())
	for _, want := range []string{"execute", "ALLOC", "TRANSFER_HOST_TO_DEVICE_ONCE", "LAUNCH", "STREAM_OUT_BLOCKING", "END"} {
		assert.Contains(t, trace, want)
	}

	require.NoError(t, it.Warmup())
	assert.Contains(t, it.LastTrace(), "warm-up")
	assert.NotContains(t, it.LastTrace(), "ALLOC")
	assert.Equal(t, 1, f.device.NumFlushes, "warm-up doesn't flush")
}

func TestClose(t *testing.T) {
	f := newFixture()
	it := f.newInterpreter(t, scenarioProgram().Bytes(), NewConfig())
	_, err := it.Execute()
	require.NoError(t, err)
	assert.Equal(t, 1, f.device.NumLiveBuffers())
	require.NoError(t, it.Close())
	assert.Equal(t, 0, f.device.NumLiveBuffers())
	assert.Nil(t, it.BufferState(0))
	assert.Equal(t, 0, it.NumInstalledKernels())
	assert.Contains(t, it.String(), "test")
}
