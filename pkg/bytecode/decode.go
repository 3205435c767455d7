// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bytecode

import (
	"github.com/pkg/errors"
)

// Decode reads exactly one instruction from r.
//
// All operands of the instruction are consumed, regardless of how they will be used: this is
// what keeps a warm-up pass aligned with a normal pass over the same code.
// On error, the reader position is undefined.
func Decode(r *Reader) (Instruction, error) {
	position := r.Position()
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	op := Opcode(b)
	var inst Instruction
	switch op {
	case OpInit:
		inst, err = decodeInit(r)
	case OpContext:
		var c Context
		c.DeviceIndex, err = r.ReadInt32()
		inst = &c
	case OpBegin:
		inst = &Begin{}
	case OpAlloc:
		inst, err = decodeAlloc(r)
	case OpDealloc:
		var d Dealloc
		d.Object, err = r.ReadInt32()
		inst = &d
	case OpTransferHostToDeviceOnce:
		t := &TransferHostToDeviceOnce{}
		err = t.decode(r)
		inst = t
	case OpTransferHostToDeviceAlways:
		t := &TransferHostToDeviceAlways{}
		err = t.decode(r)
		inst = t
	case OpTransferDeviceToHostAlways:
		t := &TransferDeviceToHostAlways{}
		err = t.decode(r)
		inst = t
	case OpTransferDeviceToHostAlwaysBlocking:
		t := &TransferDeviceToHostAlwaysBlocking{}
		err = t.decode(r)
		inst = t
	case OpLaunch:
		inst, err = decodeLaunch(r)
	case OpAddDependency:
		var d AddDependency
		d.EventList, err = r.ReadInt32()
		inst = &d
	case OpBarrier:
		var b Barrier
		b.EventList, err = r.ReadInt32()
		inst = &b
	case OpEnd:
		inst = &End{}
	default:
		return nil, errors.Errorf("invalid opcode 0x%02x (%s) at position %d", b, op, position)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "decoding %s at position %d", op, position)
	}
	return inst, nil
}

func decodeInit(r *Reader) (*Init, error) {
	var (
		i   Init
		err error
	)
	if i.NumContexts, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	if i.NumStacks, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	if i.NumEventLists, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	return &i, nil
}

func decodeAlloc(r *Reader) (*Alloc, error) {
	batchSize, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	n, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.Errorf("negative number of objects %d", n)
	}
	if err = r.need(int(n) * sizeInt32); err != nil {
		return nil, err
	}
	a := &Alloc{BatchSize: batchSize, Objects: make([]int32, n)}
	for ii := range a.Objects {
		a.Objects[ii], _ = r.ReadInt32()
	}
	return a, nil
}

func (t *TransferOperands) decode(r *Reader) (err error) {
	if t.Object, err = r.ReadInt32(); err != nil {
		return
	}
	if t.EventList, err = r.ReadInt32(); err != nil {
		return
	}
	if t.Offset, err = r.ReadInt64(); err != nil {
		return
	}
	t.BatchSize, err = r.ReadInt64()
	return
}

func decodeLaunch(r *Reader) (*Launch, error) {
	var (
		l       Launch
		numArgs int32
		err     error
	)
	if l.CallWrapper, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	if l.Task, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	if numArgs, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	if l.EventList, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	if l.Offset, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	if l.BatchThreads, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	if numArgs < 0 {
		return nil, errors.Errorf("negative number of arguments %d", numArgs)
	}
	if err = r.need(int(numArgs) * (sizeOpcode + sizeInt32)); err != nil {
		return nil, err
	}
	l.Args = make([]Argument, numArgs)
	for ii := range l.Args {
		tagPosition := r.Position()
		tag, _ := r.ReadByte()
		index, _ := r.ReadInt32()
		arg := Argument{Tag: Opcode(tag), Index: index}
		if arg.Tag != OpPushConstantArgument && arg.Tag != OpPushReferenceArgument {
			return nil, errors.Errorf("invalid argument tag 0x%02x (%s) for argument #%d at position %d",
				tag, arg.Tag, ii, tagPosition)
		}
		l.Args[ii] = arg
	}
	return &l, nil
}
