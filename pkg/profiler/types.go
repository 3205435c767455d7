// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package profiler

// Type of a profiler metric.
type Type int

//go:generate go tool enumer -type=Type -transform=snake-upper -output=gen_type_enumer.go types.go

const (
	// TotalBytecodeExecutionTime accumulates the time of the bytecode passes, in nanoseconds.
	TotalBytecodeExecutionTime Type = iota

	// TotalDeviceLoadTime is the time spent initializing device contexts (CONTEXT), in nanoseconds.
	TotalDeviceLoadTime

	// CopyInTime is the device time of the host-to-device transfers, in nanoseconds.
	CopyInTime

	// CopyOutTime is the device time of the device-to-host transfers, in nanoseconds.
	CopyOutTime

	// TotalCopyInSizeBytes transferred from host to device.
	TotalCopyInSizeBytes

	// TotalCopyOutSizeBytes transferred from device to host.
	TotalCopyOutSizeBytes

	// TotalDispatchDataTransfersTime is the driver dispatch time of the transfers, in nanoseconds.
	TotalDispatchDataTransfersTime

	// TotalKernelTime is the device time of the kernel launches, in nanoseconds.
	TotalKernelTime

	// TotalDispatchKernelTime is the driver dispatch time of the kernel launches, in nanoseconds.
	TotalDispatchKernelTime

	// TotalCompileTime is the time spent installing kernels, in nanoseconds.
	TotalCompileTime

	// NumKernelLaunches counts the kernel launches.
	NumKernelLaunches

	// NumCompilations counts the kernel installations.
	NumCompilations
)

// Unit of a metric type, used to format its values.
type Unit int

const (
	UnitNanoseconds Unit = iota
	UnitBytes
	UnitCount
)

// Unit returns the unit of the values of the metric type.
func (t Type) Unit() Unit {
	switch t {
	case TotalCopyInSizeBytes, TotalCopyOutSizeBytes:
		return UnitBytes
	case NumKernelLaunches, NumCompilations:
		return UnitCount
	default:
		return UnitNanoseconds
	}
}
