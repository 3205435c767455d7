// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
)

// UnsupportedDTypeError is returned by KernelInstaller.Install or Device.Allocate when the device lacks
// a numeric precision required by a task or an object (typically dtypes.Float64). It is not retriable
// on the same device. TaskID is empty when raised by an allocation.
type UnsupportedDTypeError struct {
	DType  dtypes.DType
	Device string
	TaskID string
}

// Error implements error.
func (e *UnsupportedDTypeError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("device %q does not support dtype %s", e.Device, e.DType)
	}
	return fmt.Sprintf("device %q does not support dtype %s required by task %q", e.Device, e.DType, e.TaskID)
}
