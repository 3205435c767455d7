// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"maps"

	"github.com/gomlx/gopjrt/dtypes"
)

// Capabilities holds what is supported by a device.
type Capabilities struct {
	// DTypes list the data types supported by a device.
	// If not listed, it's assumed to be false, hence not supported.
	DTypes map[dtypes.DType]bool

	// Atomics indicates the device supports atomic regions: objects flagged as atomic are
	// staged into a side atomics buffer for each launch. If false, atomic objects are passed
	// by reference like any other object.
	Atomics bool

	// MaxAllocationBytes is the largest single allocation the device accepts, 0 if unknown.
	MaxAllocationBytes uint64
}

// Clone makes a deep copy of the Capabilities.
func (c Capabilities) Clone() Capabilities {
	c2 := c
	c2.DTypes = make(map[dtypes.DType]bool, len(c.DTypes))
	maps.Copy(c2.DTypes, c.DTypes)
	return c2
}

// SupportsDType returns whether the dtype is listed as supported.
func (c Capabilities) SupportsDType(dtype dtypes.DType) bool {
	return c.DTypes[dtype]
}
