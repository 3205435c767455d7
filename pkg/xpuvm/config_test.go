// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xpuvm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	c, err := ParseConfig("")
	require.NoError(t, err)
	assert.Equal(t, NewConfig(), c)

	c, err = ParseConfig("deps, profile,flush,print,events=8,memory=2KiB")
	require.NoError(t, err)
	assert.True(t, c.UseDependencies)
	assert.True(t, c.Profile)
	assert.True(t, c.FlushAtEnd)
	assert.True(t, c.PrintBytecodes)
	assert.False(t, c.VirtualDevice)
	assert.Equal(t, 8, c.EventListCapacity)
	assert.Equal(t, uint64(2048), c.MemoryLimit)
	assert.Equal(t, "deps,profile,flush,print,events=8,memory=2.0KiB", c.String())

	c2, err := ParseConfig(c.String())
	require.NoError(t, err)
	assert.Equal(t, c, c2)

	c, err = ParseConfig("deps,nodeps,virtual")
	require.NoError(t, err)
	assert.False(t, c.UseDependencies)
	assert.True(t, c.VirtualDevice)

	for _, bad := range []string{"fast", "nofast", "events=0", "events=x", "memory=lots", "threads=2"} {
		_, err = ParseConfig(bad)
		assert.Error(t, err, "config %q", bad)
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv(ConfigEnvVar, "deps,events=4")
	c, err := DefaultConfig()
	require.NoError(t, err)
	assert.True(t, c.UseDependencies)
	assert.Equal(t, 4, c.EventListCapacity)

	t.Setenv(ConfigEnvVar, "bogus")
	_, err = DefaultConfig()
	assert.ErrorContains(t, err, ConfigEnvVar)
}
