// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package plan loads YAML descriptions of execution plans: the objects, constants and tasks of an
// execution context plus the program to run on one device. It is the input of the xpuvm command
// line tool, and a convenient way to write end-to-end tests.
//
// Example:
//
//	name: saxpy
//	objects:
//	  - {name: x, dtype: float32, values: [1, 2, 3, 4]}
//	  - {name: y, dtype: float32, size: 4}
//	constants:
//	  - {name: alpha, dtype: float32, value: 2}
//	tasks:
//	  - {id: t0, kernel: saxpy, dtypes: [float32]}
//	program:
//	  - alloc: {objects: [x, y]}
//	  - transfer_once: {object: x, event_list: 0}
//	  - transfer_in: {object: y, event_list: 0}
//	  - add_dependency: 0
//	  - launch: {task: t0, event_list: 0, args: [alpha, x, y]}
//	  - transfer_out_blocking: {object: y, event_list: 0}
//	  - dealloc: x
//	  - dealloc: y
//
// Launch arguments are names of constants (passed by value) or of objects (passed by reference).
// A final END is appended to the program if it is missing.
package plan

import (
	"bytes"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/xpuvm/backends"
	"github.com/gomlx/xpuvm/pkg/bytecode"
	"github.com/gomlx/xpuvm/pkg/xpuvm"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"gopkg.in/yaml.v3"
)

// Plan as described in the YAML file.
type Plan struct {
	Name string `yaml:"name"`

	// Device the program runs on, it defaults to 0.
	Device int32 `yaml:"device"`

	// Config is the default interpreter configuration, see xpuvm.ParseConfig.
	Config string `yaml:"config"`

	// MemoryLimit of the execution context, e.g. "2GiB".
	MemoryLimit string `yaml:"memory_limit"`

	// EventLists is the minimum number of event lists, the program may use more.
	EventLists int32 `yaml:"event_lists"`

	Redeploy                  bool `yaml:"redeploy"`
	UseDefaultThreadScheduler bool `yaml:"default_thread_scheduler"`

	Objects   []Object      `yaml:"objects"`
	Constants []Constant    `yaml:"constants"`
	Tasks     []Task        `yaml:"tasks"`
	Program   []Instruction `yaml:"program"`
}

// Object of the execution context. Its values are zero-initialized with Size elements if Values is empty.
type Object struct {
	Name          string    `yaml:"name"`
	DType         string    `yaml:"dtype"`
	Values        []float64 `yaml:"values"`
	Size          int       `yaml:"size"`
	KernelContext bool      `yaml:"kernel_context"`
	Atomic        bool      `yaml:"atomic"`
	Persisted     bool      `yaml:"persisted"`
}

// Constant passed by value to kernels.
type Constant struct {
	Name  string  `yaml:"name"`
	DType string  `yaml:"dtype"`
	Value float64 `yaml:"value"`
}

// Task of the execution context.
type Task struct {
	ID          string   `yaml:"id"`
	Kernel      string   `yaml:"kernel"`
	DTypes      []string `yaml:"dtypes"`
	Device      int32    `yaml:"device"`
	WritesIndex bool     `yaml:"writes_index"`
	Atomics     []int32  `yaml:"atomics"`
	BatchSize   int64    `yaml:"batch_size"`
	Grid        *Grid    `yaml:"grid"`
}

// Grid of work sizes, per dimension.
type Grid struct {
	Global []int64 `yaml:"global"`
	Local  []int64 `yaml:"local"`
}

// Instruction of the program. Exactly one of the fields must be set.
type Instruction struct {
	Alloc               *Alloc    `yaml:"alloc"`
	Dealloc             string    `yaml:"dealloc"`
	TransferOnce        *Transfer `yaml:"transfer_once"`
	TransferIn          *Transfer `yaml:"transfer_in"`
	TransferOut         *Transfer `yaml:"transfer_out"`
	TransferOutBlocking *Transfer `yaml:"transfer_out_blocking"`
	Launch              *Launch   `yaml:"launch"`
	AddDependency       *int32    `yaml:"add_dependency"`
	Barrier             *int32    `yaml:"barrier"`
	End                 bool      `yaml:"end"`
}

// Alloc instruction.
type Alloc struct {
	Objects []string `yaml:"objects"`
	Batch   int64    `yaml:"batch"`
}

// Transfer instruction, in either direction. EventList defaults to no event list.
type Transfer struct {
	Object    string `yaml:"object"`
	EventList *int32 `yaml:"event_list"`
	Offset    int64  `yaml:"offset"`
	Batch     int64  `yaml:"batch"`
}

// Launch instruction. EventList defaults to no event list.
type Launch struct {
	Task         string   `yaml:"task"`
	CallWrapper  int32    `yaml:"call_wrapper"`
	EventList    *int32   `yaml:"event_list"`
	Offset       int64    `yaml:"offset"`
	BatchThreads int64    `yaml:"batch_threads"`
	Args         []string `yaml:"args"`
}

// Load reads and parses a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading plan %q", path)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "plan %q", path)
	}
	return p, nil
}

// Parse a plan from its YAML contents. Unknown fields are an error.
func Parse(data []byte) (*Plan, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	p := &Plan{}
	if err := decoder.Decode(p); err != nil {
		return nil, errors.Wrap(err, "parsing plan")
	}
	return p, nil
}

// ParseDType parses the name of a dtype, case-insensitive (e.g. "float32" or "Float32").
func ParseDType(name string) (dtypes.DType, error) {
	if dtype, found := dtypes.MapOfNames[name]; found {
		return dtype, nil
	}
	if dtype, found := dtypes.MapOfNames[strings.ToLower(name)]; found {
		return dtype, nil
	}
	return dtypes.InvalidDType, errors.Errorf("unknown dtype %q", name)
}

// flatOf converts values to a flat slice of the dtype with size elements.
func flatOf(dtype dtypes.DType, values []float64, size int) (any, error) {
	if len(values) > 0 {
		if size > 0 && size != len(values) {
			return nil, errors.Errorf("size %d doesn't match the %d values given", size, len(values))
		}
		size = len(values)
	}
	switch dtype {
	case dtypes.Float32:
		return convertFlat(values, size, func(v float64) float32 { return float32(v) }), nil
	case dtypes.Float64:
		return convertFlat(values, size, func(v float64) float64 { return v }), nil
	case dtypes.Float16:
		return convertFlat(values, size, func(v float64) float16.Float16 { return float16.Fromfloat32(float32(v)) }), nil
	case dtypes.Int32:
		return convertFlat(values, size, func(v float64) int32 { return int32(v) }), nil
	case dtypes.Int64:
		return convertFlat(values, size, func(v float64) int64 { return int64(v) }), nil
	}
	return nil, errors.Errorf("dtype %s not supported in plans", dtype)
}

func convertFlat[T any](values []float64, size int, convert func(float64) T) []T {
	flat := make([]T, size)
	for ii, v := range values {
		flat[ii] = convert(v)
	}
	return flat
}

// scalarOf converts a constant value to the dtype.
func scalarOf(dtype dtypes.DType, value float64) (any, error) {
	flat, err := flatOf(dtype, []float64{value}, 1)
	if err != nil {
		return nil, err
	}
	switch flat := flat.(type) {
	case []float32:
		return flat[0], nil
	case []float64:
		return flat[0], nil
	case []float16.Float16:
		return flat[0], nil
	case []int32:
		return flat[0], nil
	case []int64:
		return flat[0], nil
	}
	return nil, errors.Errorf("dtype %s not supported in plans", dtype)
}

// Program built from a plan: the execution context and the bytecode for the device.
type Program struct {
	Name    string
	Context *xpuvm.ExecutionContext
	Code    []byte
	Device  backends.DeviceNum

	// Config is the default interpreter configuration of the plan.
	Config string

	// Grid is the GridScheduler for the tasks with a grid, nil if none has.
	Grid *xpuvm.GridScheduler

	// Objects by name.
	Objects map[string]xpuvm.ObjectID

	// Outputs are the objects transferred back to the host by the program, in order.
	Outputs []xpuvm.ObjectID
}

// Object returns the host object with the given name, or nil.
func (p *Program) Object(name string) *backends.HostObject {
	id, found := p.Objects[name]
	if !found {
		return nil
	}
	return p.Context.Object(id)
}

// Build the execution context and assemble the program. The plan is not modified, and each call
// creates new host objects.
func (p *Plan) Build() (*Program, error) {
	b := &builder{
		plan:      p,
		asm:       bytecode.NewAssembler(),
		constants: make(map[string]int32),
		tasks:     make(map[string]int32),
		outputs:   make(map[xpuvm.ObjectID]bool),
		prog: &Program{
			Name:    p.Name,
			Context: xpuvm.NewExecutionContext(p.Name),
			Device:  backends.DeviceNum(p.Device),
			Config:  p.Config,
			Objects: make(map[string]xpuvm.ObjectID),
		},
	}
	if err := b.buildContext(); err != nil {
		return nil, errors.WithMessagef(err, "plan %q", p.Name)
	}
	if err := b.assemble(); err != nil {
		return nil, errors.WithMessagef(err, "plan %q", p.Name)
	}
	return b.prog, nil
}

type builder struct {
	plan      *Plan
	prog      *Program
	asm       *bytecode.Assembler
	constants map[string]int32
	tasks     map[string]int32
	outputs   map[xpuvm.ObjectID]bool

	numStacks, numEventLists int32
}

func (b *builder) buildContext() error {
	ctx := b.prog.Context
	ctx.Redeploy = b.plan.Redeploy
	ctx.UseDefaultThreadScheduler = b.plan.UseDefaultThreadScheduler
	if b.plan.MemoryLimit != "" {
		limit, err := humanize.ParseBytes(b.plan.MemoryLimit)
		if err != nil {
			return errors.WithMessage(err, "memory_limit")
		}
		ctx.MemoryLimit = limit
	}

	for ii, o := range b.plan.Objects {
		if o.Name == "" {
			return errors.Errorf("objects[%d] has no name", ii)
		}
		if _, found := b.prog.Objects[o.Name]; found {
			return errors.Errorf("object %q defined twice", o.Name)
		}
		object := &backends.HostObject{
			Name:          o.Name,
			KernelContext: o.KernelContext,
			Atomic:        o.Atomic,
			Persisted:     o.Persisted,
		}
		if !o.KernelContext {
			dtype, err := ParseDType(o.DType)
			if err != nil {
				return errors.WithMessagef(err, "object %q", o.Name)
			}
			if object.Flat, err = flatOf(dtype, o.Values, o.Size); err != nil {
				return errors.WithMessagef(err, "object %q", o.Name)
			}
		}
		b.prog.Objects[o.Name] = ctx.AddObject(object)
	}

	for ii, c := range b.plan.Constants {
		if c.Name == "" {
			return errors.Errorf("constants[%d] has no name", ii)
		}
		if _, found := b.prog.Objects[c.Name]; found {
			return errors.Errorf("constant %q has the same name as an object", c.Name)
		}
		if _, found := b.constants[c.Name]; found {
			return errors.Errorf("constant %q defined twice", c.Name)
		}
		dtype, err := ParseDType(c.DType)
		if err != nil {
			return errors.WithMessagef(err, "constant %q", c.Name)
		}
		value, err := scalarOf(dtype, c.Value)
		if err != nil {
			return errors.WithMessagef(err, "constant %q", c.Name)
		}
		b.constants[c.Name] = ctx.AddConstant(value)
	}

	for ii, t := range b.plan.Tasks {
		if t.ID == "" || t.Kernel == "" {
			return errors.Errorf("tasks[%d] requires an id and a kernel", ii)
		}
		if _, found := b.tasks[t.ID]; found {
			return errors.Errorf("task %q defined twice", t.ID)
		}
		dts := make([]dtypes.DType, 0, len(t.DTypes))
		for _, name := range t.DTypes {
			dtype, err := ParseDType(name)
			if err != nil {
				return errors.WithMessagef(err, "task %q", t.ID)
			}
			dts = append(dts, dtype)
		}
		task := xpuvm.NewTask(t.ID, t.Kernel, dts...).WithBatchSize(t.BatchSize)
		if t.WritesIndex {
			task.WithIndexWrittenToOutput()
		}
		if len(t.Atomics) > 0 {
			task.WithAtomics(t.Atomics...)
		}
		if t.Grid != nil {
			if b.prog.Grid == nil {
				b.prog.Grid = xpuvm.NewGridScheduler()
			}
			b.prog.Grid.Set(t.ID, &xpuvm.WorkerGrid{GlobalWork: t.Grid.Global, LocalWork: t.Grid.Local})
		}
		b.tasks[t.ID] = ctx.AddTask(task, backends.DeviceNum(t.Device))
	}
	return nil
}

func (b *builder) object(name string) (int32, error) {
	id, found := b.prog.Objects[name]
	if !found {
		return 0, errors.Errorf("unknown object %q", name)
	}
	return int32(id), nil
}

func (b *builder) eventList(el *int32) (int32, error) {
	if el == nil {
		return bytecode.NoEventList, nil
	}
	if *el < 0 {
		return 0, errors.Errorf("invalid event list %d", *el)
	}
	b.numEventLists = max(b.numEventLists, *el+1)
	return *el, nil
}

// assemble emits the body of the program first, so the preamble can be sized.
func (b *builder) assemble() error {
	body := bytecode.NewAssembler()
	hasEnd := false
	for ii, inst := range b.plan.Program {
		if hasEnd {
			return errors.Errorf("program[%d]: instructions after end", ii)
		}
		var err error
		hasEnd, err = b.emit(body, inst)
		if err != nil {
			return errors.WithMessagef(err, "program[%d]", ii)
		}
	}
	if !hasEnd {
		body.End()
	}
	b.numEventLists = max(b.numEventLists, b.plan.EventLists)
	b.prog.Context.SetNumCallWrappers(int(b.numStacks))

	b.asm.Prologue(b.numStacks, b.numEventLists, b.plan.Device)
	b.prog.Code = append(b.asm.Bytes(), body.Bytes()...)
	return nil
}

// emit one instruction, and returns whether it was the END.
func (b *builder) emit(asm *bytecode.Assembler, inst Instruction) (isEnd bool, err error) {
	numSet := 0
	for _, set := range []bool{inst.Alloc != nil, inst.Dealloc != "", inst.TransferOnce != nil, inst.TransferIn != nil,
		inst.TransferOut != nil, inst.TransferOutBlocking != nil, inst.Launch != nil, inst.AddDependency != nil,
		inst.Barrier != nil, inst.End} {
		if set {
			numSet++
		}
	}
	if numSet != 1 {
		return false, errors.Errorf("exactly one operation per instruction is required, got %d", numSet)
	}

	switch {
	case inst.Alloc != nil:
		objects := make([]int32, 0, len(inst.Alloc.Objects))
		for _, name := range inst.Alloc.Objects {
			id, err := b.object(name)
			if err != nil {
				return false, errors.WithMessage(err, "alloc")
			}
			objects = append(objects, id)
		}
		asm.Alloc(inst.Alloc.Batch, objects...)

	case inst.Dealloc != "":
		id, err := b.object(inst.Dealloc)
		if err != nil {
			return false, errors.WithMessage(err, "dealloc")
		}
		asm.Dealloc(id)

	case inst.TransferOnce != nil:
		return false, b.emitTransfer(inst.TransferOnce, "transfer_once", asm.TransferHostToDeviceOnce, false)
	case inst.TransferIn != nil:
		return false, b.emitTransfer(inst.TransferIn, "transfer_in", asm.TransferHostToDeviceAlways, false)
	case inst.TransferOut != nil:
		return false, b.emitTransfer(inst.TransferOut, "transfer_out", asm.TransferDeviceToHostAlways, true)
	case inst.TransferOutBlocking != nil:
		return false, b.emitTransfer(inst.TransferOutBlocking, "transfer_out_blocking",
			asm.TransferDeviceToHostAlwaysBlocking, true)

	case inst.Launch != nil:
		return false, b.emitLaunch(asm, inst.Launch)

	case inst.AddDependency != nil:
		el, err := b.eventList(inst.AddDependency)
		if err != nil {
			return false, errors.WithMessage(err, "add_dependency")
		}
		asm.AddDependency(el)

	case inst.Barrier != nil:
		el, err := b.eventList(inst.Barrier)
		if err != nil {
			return false, errors.WithMessage(err, "barrier")
		}
		asm.Barrier(el)

	case inst.End:
		asm.End()
		return true, nil
	}
	return false, nil
}

func (b *builder) emitTransfer(t *Transfer, name string, emitFn func(object, eventList int32, offset, batchSize int64) int, isOutput bool) error {
	id, err := b.object(t.Object)
	if err != nil {
		return errors.WithMessage(err, name)
	}
	el, err := b.eventList(t.EventList)
	if err != nil {
		return errors.WithMessage(err, name)
	}
	if t.Offset < 0 || t.Batch < 0 {
		return errors.Errorf("%s: negative offset or batch", name)
	}
	emitFn(id, el, t.Offset, t.Batch)
	if isOutput && !b.outputs[xpuvm.ObjectID(id)] {
		b.outputs[xpuvm.ObjectID(id)] = true
		b.prog.Outputs = append(b.prog.Outputs, xpuvm.ObjectID(id))
	}
	return nil
}

func (b *builder) emitLaunch(asm *bytecode.Assembler, l *Launch) error {
	taskIdx, found := b.tasks[l.Task]
	if !found {
		return errors.Errorf("launch: unknown task %q", l.Task)
	}
	if l.CallWrapper < 0 {
		return errors.Errorf("launch: invalid call wrapper %d", l.CallWrapper)
	}
	b.numStacks = max(b.numStacks, l.CallWrapper+1)
	el, err := b.eventList(l.EventList)
	if err != nil {
		return errors.WithMessage(err, "launch")
	}
	args := make([]bytecode.Argument, 0, len(l.Args))
	for _, name := range l.Args {
		if idx, found := b.constants[name]; found {
			args = append(args, bytecode.ConstantArg(idx))
			continue
		}
		id, err := b.object(name)
		if err != nil {
			return errors.WithMessagef(err, "launch of %q", l.Task)
		}
		args = append(args, bytecode.ReferenceArg(id))
	}
	asm.Launch(l.CallWrapper, taskIdx, el, l.Offset, l.BatchThreads, args...)
	return nil
}
