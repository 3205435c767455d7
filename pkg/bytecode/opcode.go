// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bytecode

// Opcode is the one-byte operation code that starts every instruction.
//
// The values are part of the bytecode format shared with the task graph compiler, never reorder them.
type Opcode uint8

//go:generate go tool enumer -type=Opcode -trimprefix=Op -transform=snake-upper -output=gen_opcode_enumer.go opcode.go

const (
	OpInvalid Opcode = iota

	// OpInit starts the preamble: INIT(num_contexts:i32, num_stacks:i32, num_event_lists:i32).
	OpInit

	// OpContext binds a device: CONTEXT(device_index:i32).
	OpContext

	// OpBegin ends the preamble.
	OpBegin

	// OpAlloc allocates device buffers: ALLOC(batch_size:i64, n:i32, obj:i32 × n).
	OpAlloc

	// OpDealloc releases a device buffer: DEALLOC(obj:i32).
	OpDealloc

	// Transfers share the shape (obj:i32, event_list:i32, offset:i64, batch_size:i64).
	OpTransferHostToDeviceOnce
	OpTransferHostToDeviceAlways
	OpTransferDeviceToHostAlways
	OpTransferDeviceToHostAlwaysBlocking

	// OpLaunch launches a task:
	// LAUNCH(call_wrapper:i32, task:i32, num_args:i32, event_list:i32, offset:i64, batch_threads:i64,
	// [arg_tag:u8, arg_index:i32] × num_args).
	OpLaunch

	// OpPushConstantArgument and OpPushReferenceArgument are the argument tags of LAUNCH.
	OpPushConstantArgument
	OpPushReferenceArgument

	// OpAddDependency appends the last event to an event list: ADD_DEPENDENCY(event_list:i32).
	OpAddDependency

	// OpBarrier enqueues a marker waiting on an event list: BARRIER(event_list:i32).
	OpBarrier

	// OpEnd finishes the program.
	OpEnd
)

// NoEventList is the event list index used by instructions that don't wait on any list.
const NoEventList int32 = -1
