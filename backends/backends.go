// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the device abstraction the xpuvm interpreter drives: buffer allocation,
// host<->device transfers, kernel stack frames, installed (compiled) kernels, markers and events.
//
// Implementations own the real driver bindings (OpenCL, PTX, SPIR-V, ...). The interpreter only
// ever talks to a Device and a KernelInstaller, so tests can plug fakes (see package devicetest)
// and the simdevice package provides an in-process implementation.
//
// Contrary to the interpreter, implementations return errors instead of panicking: a failing
// transfer or launch is a condition the caller may want to recover from (e.g. by falling back to
// another device).
package backends

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// DeviceNum identifies a device within a Backend. It is the index carried by the CONTEXT
// instructions of a bytecode program.
type DeviceNum int

// Backend is a provider of devices, e.g. one driver (OpenCL, PTX, a simulator).
type Backend interface {
	// Name returns the short name of the backend. E.g.: "sim" for the simulated device.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// NumDevices return the number of devices available for this Backend.
	NumDevices() int

	// Device returns the device with the given number.
	Device(deviceNum DeviceNum) (Device, error)

	// Installer returns the JIT collaborator that compiles tasks for the devices of this backend.
	Installer() KernelInstaller

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
const ConfigEnvVar = "XPUVM_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment XPUVM_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
func New() (Backend, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig takes a configurations string formated as "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "sim") and
// "<backend_configuration>" is backend specific.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.Errorf(`no registered backends for xpuvm -- maybe import the simulated one with import _ "github.com/gomlx/xpuvm/backends/simdevice"?`)
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if _, found := registeredConstructors[config]; found {
		backendName = config
		backendConfig = ""
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		return nil, errors.Errorf("can't find backend %q for configuration %q given", backendName, config)
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create backend %q", backendName)
	}
	return backend, nil
}
