// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/xpuvm/pkg/bytecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPlan = `
name: scale
config: deps
objects:
  - {name: x, dtype: float32, values: [1, 2, 3]}
constants:
  - {name: alpha, dtype: float32, value: 3}
tasks:
  - {id: t0, kernel: scale, dtypes: [float32]}
program:
  - alloc: {objects: [x]}
  - transfer_once: {object: x, event_list: 0}
  - launch: {task: t0, event_list: 0, args: [alpha, x]}
  - transfer_out_blocking: {object: x, event_list: 0}
  - dealloc: x
`

func writePlan(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPlan), 0o644))
	return path
}

func TestFormatFlat(t *testing.T) {
	assert.Equal(t, "[1 2 3]", formatFlat([]int32{1, 2, 3}, 4))
	assert.Equal(t, "[1 2 ...] (1,000 values)", formatFlat(append([]int32{1, 2}, make([]int32, 998)...), 2))
	assert.Equal(t, "<nil>", formatFlat(nil, 2))
}

func TestRunConfig(t *testing.T) {
	config, err := runConfig("deps,profile", "noprofile,events=4")
	require.NoError(t, err)
	assert.True(t, config.UseDependencies)
	assert.False(t, config.Profile)
	assert.Equal(t, 4, config.EventListCapacity)

	_, err = runConfig("", "bogus")
	assert.Error(t, err)
}

func TestListingTable(t *testing.T) {
	asm := bytecode.NewAssembler()
	asm.Prologue(1, 1, 0)
	asm.Barrier(0)
	asm.End()
	table, err := listingTable(asm.Bytes())
	require.NoError(t, err)
	listing := table.String()
	assert.Contains(t, listing, "INIT")
	assert.Contains(t, listing, "BARRIER")
	assert.Contains(t, listing, "contexts=1")

	_, err = listingTable([]byte{0xff})
	assert.Error(t, err)
}

func TestCommands(t *testing.T) {
	path := writePlan(t)
	require.NoError(t, disasmCmd([]string{"-hex", path}))
	require.NoError(t, runCmd([]string{"-n", "3", "-config", "profile", "-backend", "sim:workers=1", path}))
	require.NoError(t, runCmd([]string{"-warmup=false", "-backend", "sim", path}))

	assert.Error(t, runCmd([]string{"-n", "0", path}))
	assert.Error(t, runCmd([]string{path, path}))
	assert.Error(t, runCmd([]string{"-backend", "sim:gpu", path}))
	assert.Error(t, disasmCmd([]string{filepath.Join(t.TempDir(), "missing.yaml")}))
}
