// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simdevice implements a simulated accelerator backend: device buffers are Go slices, each device
// runs its commands in-order on one goroutine, and kernels are Go functions (see RegisterKernel) run over a
// bounded pool of workers.
//
// It is registered as the "sim" backend, and its configuration is a comma-separated list of options:
//
//   - "devices=<n>": number of simulated devices, 1 by default.
//   - "workers=<n>": maximum parallelism of the kernels, runtime.NumCPU() by default; 0 disables it.
//   - "nofp64": the devices don't support dtypes.Float64, tasks using it fail to install.
//   - "noatomics": the devices don't support atomic regions.
package simdevice

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/xpuvm/backends"
	"github.com/gomlx/xpuvm/internal/workerspool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in XPUVM_BACKEND to specify this backend.
const BackendName = "sim"

func init() {
	backends.Register(BackendName, New)
}

// Options of the simulated backend.
type Options struct {
	NumDevices int
	Workers    int
	NoFloat64  bool
	NoAtomics  bool
}

// ParseOptions parses the configuration string of the backend.
func ParseOptions(config string) (Options, error) {
	opts := Options{NumDevices: 1, Workers: -1}
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		switch {
		case key == "devices" && hasValue:
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return opts, errors.Errorf("invalid %q for backend %q: it must be a positive integer", part, BackendName)
			}
			opts.NumDevices = n
		case key == "workers" && hasValue:
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return opts, errors.Errorf("invalid %q for backend %q: it must be a non-negative integer", part, BackendName)
			}
			opts.Workers = n
		case key == "nofp64" && !hasValue:
			opts.NoFloat64 = true
		case key == "noatomics" && !hasValue:
			opts.NoAtomics = true
		default:
			return opts, errors.Errorf("unknown option %q for backend %q", part, BackendName)
		}
	}
	return opts, nil
}

// Backend of simulated devices.
type Backend struct {
	opts      Options
	devices   []*Device
	installer *Installer
	pool      *workerspool.Pool
}

var _ backends.Backend = (*Backend)(nil)

// New constructs a new simulated Backend from its configuration string.
func New(config string) (backends.Backend, error) {
	opts, err := ParseOptions(config)
	if err != nil {
		return nil, err
	}
	return NewWithOptions(opts), nil
}

// NewWithOptions constructs a new simulated Backend.
func NewWithOptions(opts Options) *Backend {
	b := &Backend{opts: opts, pool: workerspool.New()}
	if opts.Workers >= 0 {
		b.pool.SetMaxParallelism(opts.Workers)
	}
	caps := backends.Capabilities{
		DTypes: map[dtypes.DType]bool{
			dtypes.Float16: true,
			dtypes.Float32: true,
			dtypes.Float64: !opts.NoFloat64,
			dtypes.Int32:   true,
			dtypes.Int64:   true,
		},
		Atomics: !opts.NoAtomics,
	}
	for ii := range max(opts.NumDevices, 1) {
		b.devices = append(b.devices, newDevice(backends.DeviceNum(ii), caps.Clone(), b.pool))
	}
	b.installer = NewInstaller()
	if klog.V(1).Enabled() {
		klog.Infof("simdevice: %d devices, max parallelism %d", len(b.devices), b.pool.MaxParallelism())
	}
	return b
}

// Name implements backends.Backend.
func (b *Backend) Name() string { return BackendName }

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description implements backends.Backend.
func (b *Backend) Description() string {
	return fmt.Sprintf("Simulated accelerators (%d devices)", len(b.devices))
}

// NumDevices implements backends.Backend.
func (b *Backend) NumDevices() int { return len(b.devices) }

// Device implements backends.Backend.
func (b *Backend) Device(deviceNum backends.DeviceNum) (backends.Device, error) {
	return b.SimDevice(deviceNum)
}

// SimDevice returns the simulated device with the given number.
func (b *Backend) SimDevice(deviceNum backends.DeviceNum) (*Device, error) {
	if deviceNum < 0 || int(deviceNum) >= len(b.devices) {
		return nil, errors.Errorf("backend %q has %d devices, device #%d requested", BackendName, len(b.devices), deviceNum)
	}
	return b.devices[deviceNum], nil
}

// Installer implements backends.Backend.
func (b *Backend) Installer() backends.KernelInstaller { return b.installer }

// Finalize implements backends.Backend. It stops the command queues of the devices.
func (b *Backend) Finalize() {
	for _, d := range b.devices {
		d.finalize()
	}
}
