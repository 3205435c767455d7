// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xpuvm

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// DefaultEventListCapacity is the capacity of each event list, if not configured otherwise.
const DefaultEventListCapacity = 32

// ConfigEnvVar is the environment variable with the default interpreter configuration, see ParseConfig.
const ConfigEnvVar = "XPUVM_CONFIG"

// Config of an Interpreter.
type Config struct {
	// UseDependencies enables dependency tracking: event lists are passed as wait lists to the device.
	// If false the device in-order queue is relied upon.
	UseDependencies bool

	// Profile resolves the events of transfers and launches and accumulates their times in the profiler.
	Profile bool

	// FlushAtEnd flushes the device queue at the end of every normal pass.
	FlushAtEnd bool

	// PrintBytecodes prints a trace of the executed instructions at the end of every pass.
	PrintBytecodes bool

	// VirtualDevice makes every pass a warm-up pass: nothing is allocated, transferred or launched.
	VirtualDevice bool

	// EventListCapacity is the maximum number of events of each event list.
	EventListCapacity int

	// MemoryLimit is the device memory budget in bytes, 0 for no limit. It is only used if the
	// ExecutionContext doesn't define its own.
	MemoryLimit uint64
}

// NewConfig returns the default configuration: dependencies disabled, no profiling, DefaultEventListCapacity events per list.
func NewConfig() Config {
	return Config{EventListCapacity: DefaultEventListCapacity}
}

// ParseConfig parses a comma-separated list of options:
//
//   - "deps": enable dependency tracking.
//   - "profile": enable profiling.
//   - "flush": flush the device at the end of every pass.
//   - "print": print the bytecode trace.
//   - "virtual": virtual device, only warm-up passes.
//   - "events=<n>": capacity of the event lists.
//   - "memory=<size>": memory budget, e.g. "memory=2GiB".
//
// Options can be negated by prefixing them with "no", e.g. "nodeps".
func ParseConfig(config string) (Config, error) {
	c := NewConfig()
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		if hasValue {
			switch key {
			case "events":
				n, err := strconv.Atoi(value)
				if err != nil || n <= 0 {
					return c, errors.Errorf("invalid value for option %q: it must be a positive integer", part)
				}
				c.EventListCapacity = n
			case "memory":
				limit, err := humanize.ParseBytes(value)
				if err != nil {
					return c, errors.Wrapf(err, "invalid value for option %q", part)
				}
				c.MemoryLimit = limit
			default:
				return c, errors.Errorf("unknown configuration option %q for xpuvm", part)
			}
			continue
		}
		enable := true
		if strings.HasPrefix(key, "no") {
			enable = false
			key = key[2:]
		}
		switch key {
		case "deps":
			c.UseDependencies = enable
		case "profile":
			c.Profile = enable
		case "flush":
			c.FlushAtEnd = enable
		case "print":
			c.PrintBytecodes = enable
		case "virtual":
			c.VirtualDevice = enable
		default:
			return c, errors.Errorf("unknown configuration option %q for xpuvm", part)
		}
	}
	return c, nil
}

// DefaultConfig returns the configuration given by the environment variable XPUVM_CONFIG, or NewConfig if not set.
func DefaultConfig() (Config, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if !found {
		return NewConfig(), nil
	}
	c, err := ParseConfig(config)
	if err != nil {
		return c, errors.WithMessagef(err, "parsing $%s", ConfigEnvVar)
	}
	return c, nil
}

// String returns the configuration in the format accepted by ParseConfig.
func (c Config) String() string {
	var parts []string
	for _, opt := range []struct {
		name    string
		enabled bool
	}{
		{"deps", c.UseDependencies},
		{"profile", c.Profile},
		{"flush", c.FlushAtEnd},
		{"print", c.PrintBytecodes},
		{"virtual", c.VirtualDevice},
	} {
		if opt.enabled {
			parts = append(parts, opt.name)
		}
	}
	parts = append(parts, fmt.Sprintf("events=%d", c.EventListCapacity))
	if c.MemoryLimit > 0 {
		parts = append(parts, "memory="+strings.ReplaceAll(humanize.IBytes(c.MemoryLimit), " ", ""))
	}
	return strings.Join(parts, ",")
}
