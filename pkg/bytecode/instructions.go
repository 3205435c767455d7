// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bytecode

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Instruction is one decoded bytecode instruction. The concrete types are the pointers
// to the structs in this file, one per opcode, and they are meant to be matched with a type switch.
type Instruction interface {
	// Opcode of the instruction.
	Opcode() Opcode

	// EncodedSize is the number of bytes of the encoded instruction, including the opcode.
	EncodedSize() int

	// appendTo appends the encoding of the instruction to buf.
	appendTo(buf []byte) []byte

	fmt.Stringer
}

const (
	sizeOpcode = 1
	sizeInt32  = 4
	sizeInt64  = 8
)

func appendInt32(buf []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(buf, uint32(v))
}

func appendInt64(buf []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(buf, uint64(v))
}

// Init starts the preamble and sizes the interpreter's tables.
type Init struct {
	NumContexts, NumStacks, NumEventLists int32
}

func (*Init) Opcode() Opcode { return OpInit }
func (*Init) EncodedSize() int { return sizeOpcode + 3*sizeInt32 }
func (i *Init) String() string {
	return fmt.Sprintf("INIT contexts=%d stacks=%d event_lists=%d", i.NumContexts, i.NumStacks, i.NumEventLists)
}
func (i *Init) appendTo(buf []byte) []byte {
	buf = append(buf, byte(OpInit))
	buf = appendInt32(buf, i.NumContexts)
	buf = appendInt32(buf, i.NumStacks)
	return appendInt32(buf, i.NumEventLists)
}

// Context binds a device of the program.
type Context struct {
	DeviceIndex int32
}

func (*Context) Opcode() Opcode { return OpContext }
func (*Context) EncodedSize() int { return sizeOpcode + sizeInt32 }
func (c *Context) String() string { return fmt.Sprintf("CONTEXT device=%d", c.DeviceIndex) }
func (c *Context) appendTo(buf []byte) []byte {
	return appendInt32(append(buf, byte(OpContext)), c.DeviceIndex)
}

// Begin ends the preamble.
type Begin struct{}

func (*Begin) Opcode() Opcode { return OpBegin }
func (*Begin) EncodedSize() int { return sizeOpcode }
func (*Begin) String() string { return "BEGIN" }
func (*Begin) appendTo(buf []byte) []byte { return append(buf, byte(OpBegin)) }

// Alloc allocates the device buffers of a set of objects as one step.
type Alloc struct {
	BatchSize int64
	Objects   []int32
}

func (*Alloc) Opcode() Opcode { return OpAlloc }
func (a *Alloc) EncodedSize() int {
	return sizeOpcode + sizeInt64 + sizeInt32 + len(a.Objects)*sizeInt32
}
func (a *Alloc) String() string {
	return fmt.Sprintf("ALLOC batch_size=%d objects=%v", a.BatchSize, a.Objects)
}
func (a *Alloc) appendTo(buf []byte) []byte {
	buf = append(buf, byte(OpAlloc))
	buf = appendInt64(buf, a.BatchSize)
	buf = appendInt32(buf, int32(len(a.Objects)))
	for _, obj := range a.Objects {
		buf = appendInt32(buf, obj)
	}
	return buf
}

// Dealloc releases the device buffer of an object.
type Dealloc struct {
	Object int32
}

func (*Dealloc) Opcode() Opcode { return OpDealloc }
func (*Dealloc) EncodedSize() int { return sizeOpcode + sizeInt32 }
func (d *Dealloc) String() string { return fmt.Sprintf("DEALLOC object=%d", d.Object) }
func (d *Dealloc) appendTo(buf []byte) []byte {
	return appendInt32(append(buf, byte(OpDealloc)), d.Object)
}

// TransferOperands are the operands shared by all the transfer instructions.
type TransferOperands struct {
	Object    int32
	EventList int32
	Offset    int64
	BatchSize int64
}

func (t *TransferOperands) encodedSize() int { return sizeOpcode + 2*sizeInt32 + 2*sizeInt64 }
func (t *TransferOperands) appendTo(op Opcode, buf []byte) []byte {
	buf = append(buf, byte(op))
	buf = appendInt32(buf, t.Object)
	buf = appendInt32(buf, t.EventList)
	buf = appendInt64(buf, t.Offset)
	return appendInt64(buf, t.BatchSize)
}
func (t *TransferOperands) format(op Opcode) string {
	return fmt.Sprintf("%s object=%d event_list=%d offset=%d batch_size=%d",
		op, t.Object, t.EventList, t.Offset, t.BatchSize)
}

// TransferHostToDeviceOnce copies the object to the device, unless the device copy is already valid.
type TransferHostToDeviceOnce struct{ TransferOperands }

func (*TransferHostToDeviceOnce) Opcode() Opcode { return OpTransferHostToDeviceOnce }
func (t *TransferHostToDeviceOnce) EncodedSize() int { return t.encodedSize() }
func (t *TransferHostToDeviceOnce) String() string { return t.format(OpTransferHostToDeviceOnce) }
func (t *TransferHostToDeviceOnce) appendTo(buf []byte) []byte {
	return t.TransferOperands.appendTo(OpTransferHostToDeviceOnce, buf)
}

// TransferHostToDeviceAlways copies the object to the device on every execution.
type TransferHostToDeviceAlways struct{ TransferOperands }

func (*TransferHostToDeviceAlways) Opcode() Opcode { return OpTransferHostToDeviceAlways }
func (t *TransferHostToDeviceAlways) EncodedSize() int { return t.encodedSize() }
func (t *TransferHostToDeviceAlways) String() string { return t.format(OpTransferHostToDeviceAlways) }
func (t *TransferHostToDeviceAlways) appendTo(buf []byte) []byte {
	return t.TransferOperands.appendTo(OpTransferHostToDeviceAlways, buf)
}

// TransferDeviceToHostAlways copies the object back to the host on every execution, and its event
// can be chained with ADD_DEPENDENCY.
type TransferDeviceToHostAlways struct{ TransferOperands }

func (*TransferDeviceToHostAlways) Opcode() Opcode { return OpTransferDeviceToHostAlways }
func (t *TransferDeviceToHostAlways) EncodedSize() int { return t.encodedSize() }
func (t *TransferDeviceToHostAlways) String() string { return t.format(OpTransferDeviceToHostAlways) }
func (t *TransferDeviceToHostAlways) appendTo(buf []byte) []byte {
	return t.TransferOperands.appendTo(OpTransferDeviceToHostAlways, buf)
}

// TransferDeviceToHostAlwaysBlocking copies the object back to the host on every execution, and it is
// treated as complete when it returns.
type TransferDeviceToHostAlwaysBlocking struct{ TransferOperands }

func (*TransferDeviceToHostAlwaysBlocking) Opcode() Opcode { return OpTransferDeviceToHostAlwaysBlocking }
func (t *TransferDeviceToHostAlwaysBlocking) EncodedSize() int { return t.encodedSize() }
func (t *TransferDeviceToHostAlwaysBlocking) String() string {
	return t.format(OpTransferDeviceToHostAlwaysBlocking)
}
func (t *TransferDeviceToHostAlwaysBlocking) appendTo(buf []byte) []byte {
	return t.TransferOperands.appendTo(OpTransferDeviceToHostAlwaysBlocking, buf)
}

// Argument of a Launch: a constant (index into the constants table) or a reference to an object
// (index into the objects table).
type Argument struct {
	// Tag is either OpPushConstantArgument or OpPushReferenceArgument.
	Tag   Opcode
	Index int32
}

// ConstantArg returns an argument passed by value, from the constants table.
func ConstantArg(index int32) Argument { return Argument{Tag: OpPushConstantArgument, Index: index} }

// ReferenceArg returns an argument passed by reference to an object's device buffer.
func ReferenceArg(index int32) Argument { return Argument{Tag: OpPushReferenceArgument, Index: index} }

// String implements fmt.Stringer.
func (a Argument) String() string {
	switch a.Tag {
	case OpPushConstantArgument:
		return fmt.Sprintf("const#%d", a.Index)
	case OpPushReferenceArgument:
		return fmt.Sprintf("ref#%d", a.Index)
	}
	return fmt.Sprintf("%s#%d", a.Tag, a.Index)
}

// Launch invokes a task on the device.
type Launch struct {
	CallWrapper  int32
	Task         int32
	EventList    int32
	Offset       int64
	BatchThreads int64
	Args         []Argument
}

func (*Launch) Opcode() Opcode { return OpLaunch }
func (l *Launch) EncodedSize() int {
	return sizeOpcode + 4*sizeInt32 + 2*sizeInt64 + len(l.Args)*(sizeOpcode+sizeInt32)
}
func (l *Launch) String() string {
	args := make([]string, len(l.Args))
	for ii, arg := range l.Args {
		args[ii] = arg.String()
	}
	return fmt.Sprintf("LAUNCH call_wrapper=%d task=%d event_list=%d offset=%d batch_threads=%d args=[%s]",
		l.CallWrapper, l.Task, l.EventList, l.Offset, l.BatchThreads, strings.Join(args, ", "))
}
func (l *Launch) appendTo(buf []byte) []byte {
	buf = append(buf, byte(OpLaunch))
	buf = appendInt32(buf, l.CallWrapper)
	buf = appendInt32(buf, l.Task)
	buf = appendInt32(buf, int32(len(l.Args)))
	buf = appendInt32(buf, l.EventList)
	buf = appendInt64(buf, l.Offset)
	buf = appendInt64(buf, l.BatchThreads)
	for _, arg := range l.Args {
		buf = append(buf, byte(arg.Tag))
		buf = appendInt32(buf, arg.Index)
	}
	return buf
}

// AddDependency appends the event of the last instruction to an event list.
type AddDependency struct {
	EventList int32
}

func (*AddDependency) Opcode() Opcode { return OpAddDependency }
func (*AddDependency) EncodedSize() int { return sizeOpcode + sizeInt32 }
func (d *AddDependency) String() string { return fmt.Sprintf("ADD_DEPENDENCY event_list=%d", d.EventList) }
func (d *AddDependency) appendTo(buf []byte) []byte {
	return appendInt32(append(buf, byte(OpAddDependency)), d.EventList)
}

// Barrier enqueues a marker that waits on an event list.
type Barrier struct {
	EventList int32
}

func (*Barrier) Opcode() Opcode { return OpBarrier }
func (*Barrier) EncodedSize() int { return sizeOpcode + sizeInt32 }
func (b *Barrier) String() string { return fmt.Sprintf("BARRIER event_list=%d", b.EventList) }
func (b *Barrier) appendTo(buf []byte) []byte {
	return appendInt32(append(buf, byte(OpBarrier)), b.EventList)
}

// End finishes the program.
type End struct{}

func (*End) Opcode() Opcode { return OpEnd }
func (*End) EncodedSize() int { return sizeOpcode }
func (*End) String() string { return "END" }
func (*End) appendTo(buf []byte) []byte { return append(buf, byte(OpEnd)) }

// Compile-time checks.
var (
	_ Instruction = (*Init)(nil)
	_ Instruction = (*Context)(nil)
	_ Instruction = (*Begin)(nil)
	_ Instruction = (*Alloc)(nil)
	_ Instruction = (*Dealloc)(nil)
	_ Instruction = (*TransferHostToDeviceOnce)(nil)
	_ Instruction = (*TransferHostToDeviceAlways)(nil)
	_ Instruction = (*TransferDeviceToHostAlways)(nil)
	_ Instruction = (*TransferDeviceToHostAlwaysBlocking)(nil)
	_ Instruction = (*Launch)(nil)
	_ Instruction = (*AddDependency)(nil)
	_ Instruction = (*Barrier)(nil)
	_ Instruction = (*End)(nil)
)
