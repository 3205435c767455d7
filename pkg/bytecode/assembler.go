// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bytecode

// Assembler builds a bytecode program.
//
// It does no validation of the operands: it is meant to be used by the task graph compiler (and
// by tests), which already know which objects, tasks and event lists exist.
//
// Example:
//
//	asm := bytecode.NewAssembler()
//	asm.Prologue(1, 1, 0)
//	asm.Alloc(0, 0)
//	asm.TransferHostToDeviceOnce(0, 0, 0, 0)
//	asm.Launch(0, 0, 0, 0, 1024, bytecode.ReferenceArg(0))
//	asm.TransferDeviceToHostAlwaysBlocking(0, 0, 0, 0)
//	asm.End()
//	code := asm.Bytes()
type Assembler struct {
	code []byte

	// positions of each emitted instruction.
	positions []int

	lastTransferOutPosition int
}

// NewAssembler creates an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{lastTransferOutPosition: -1}
}

// Emit appends any instruction, and returns its position.
func (a *Assembler) Emit(inst Instruction) int {
	position := len(a.code)
	a.positions = append(a.positions, position)
	a.code = inst.appendTo(a.code)
	switch inst.(type) {
	case *TransferDeviceToHostAlways, *TransferDeviceToHostAlwaysBlocking:
		a.lastTransferOutPosition = position
	}
	return position
}

// Bytes returns the assembled code. The returned slice is owned by the Assembler until the next Emit.
func (a *Assembler) Bytes() []byte { return a.code }

// Position returns the offset where the next instruction will be emitted.
func (a *Assembler) Position() int { return len(a.code) }

// NumInstructions emitted so far.
func (a *Assembler) NumInstructions() int { return len(a.positions) }

// LastTransferOutPosition returns the position of the last device-to-host transfer, or -1 if none was emitted.
func (a *Assembler) LastTransferOutPosition() int { return a.lastTransferOutPosition }

// Prologue emits the whole preamble: INIT, one CONTEXT per device index, and BEGIN.
func (a *Assembler) Prologue(numStacks, numEventLists int32, deviceIndices ...int32) {
	a.Init(int32(len(deviceIndices)), numStacks, numEventLists)
	for _, deviceIndex := range deviceIndices {
		a.Context(deviceIndex)
	}
	a.Begin()
}

// Init emits INIT.
func (a *Assembler) Init(numContexts, numStacks, numEventLists int32) int {
	return a.Emit(&Init{NumContexts: numContexts, NumStacks: numStacks, NumEventLists: numEventLists})
}

// Context emits CONTEXT.
func (a *Assembler) Context(deviceIndex int32) int {
	return a.Emit(&Context{DeviceIndex: deviceIndex})
}

// Begin emits BEGIN.
func (a *Assembler) Begin() int { return a.Emit(&Begin{}) }

// Alloc emits ALLOC for the given objects.
func (a *Assembler) Alloc(batchSize int64, objects ...int32) int {
	return a.Emit(&Alloc{BatchSize: batchSize, Objects: objects})
}

// Dealloc emits DEALLOC.
func (a *Assembler) Dealloc(object int32) int {
	return a.Emit(&Dealloc{Object: object})
}

// TransferHostToDeviceOnce emits TRANSFER_HOST_TO_DEVICE_ONCE.
func (a *Assembler) TransferHostToDeviceOnce(object, eventList int32, offset, batchSize int64) int {
	return a.Emit(&TransferHostToDeviceOnce{TransferOperands{object, eventList, offset, batchSize}})
}

// TransferHostToDeviceAlways emits TRANSFER_HOST_TO_DEVICE_ALWAYS.
func (a *Assembler) TransferHostToDeviceAlways(object, eventList int32, offset, batchSize int64) int {
	return a.Emit(&TransferHostToDeviceAlways{TransferOperands{object, eventList, offset, batchSize}})
}

// TransferDeviceToHostAlways emits TRANSFER_DEVICE_TO_HOST_ALWAYS.
func (a *Assembler) TransferDeviceToHostAlways(object, eventList int32, offset, batchSize int64) int {
	return a.Emit(&TransferDeviceToHostAlways{TransferOperands{object, eventList, offset, batchSize}})
}

// TransferDeviceToHostAlwaysBlocking emits TRANSFER_DEVICE_TO_HOST_ALWAYS_BLOCKING.
func (a *Assembler) TransferDeviceToHostAlwaysBlocking(object, eventList int32, offset, batchSize int64) int {
	return a.Emit(&TransferDeviceToHostAlwaysBlocking{TransferOperands{object, eventList, offset, batchSize}})
}

// Launch emits LAUNCH. Use ConstantArg and ReferenceArg to build the arguments.
func (a *Assembler) Launch(callWrapper, task, eventList int32, offset, batchThreads int64, args ...Argument) int {
	return a.Emit(&Launch{
		CallWrapper:  callWrapper,
		Task:         task,
		EventList:    eventList,
		Offset:       offset,
		BatchThreads: batchThreads,
		Args:         args,
	})
}

// AddDependency emits ADD_DEPENDENCY.
func (a *Assembler) AddDependency(eventList int32) int {
	return a.Emit(&AddDependency{EventList: eventList})
}

// Barrier emits BARRIER.
func (a *Assembler) Barrier(eventList int32) int {
	return a.Emit(&Barrier{EventList: eventList})
}

// End emits END.
func (a *Assembler) End() int { return a.Emit(&End{}) }

// Encode is a shortcut to assemble a list of instructions.
func Encode(insts ...Instruction) []byte {
	a := NewAssembler()
	for _, inst := range insts {
		a.Emit(inst)
	}
	return a.Bytes()
}
