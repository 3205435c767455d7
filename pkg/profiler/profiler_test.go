// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package profiler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfiler(t *testing.T) {
	p := New()
	p.Add(TotalCopyInSizeBytes, "a", 1024)
	p.Add(TotalCopyInSizeBytes, "b", 2048)
	p.Add(TotalCopyInSizeBytes, "a", 1)
	assert.Equal(t, int64(1025), p.Get(TotalCopyInSizeBytes, "a"))
	assert.Equal(t, int64(3073), p.Sum(TotalCopyInSizeBytes))
	assert.Equal(t, int64(0), p.Sum(TotalCopyOutSizeBytes))

	p.Start(TotalCompileTime, "task0")
	time.Sleep(time.Millisecond)
	elapsed := p.Stop(TotalCompileTime, "task0")
	assert.GreaterOrEqual(t, elapsed, time.Millisecond)
	assert.Equal(t, int64(elapsed), p.Get(TotalCompileTime, "task0"))
	// Stop without Start is a no-op.
	assert.Equal(t, time.Duration(0), p.Stop(TotalCompileTime, "task0"))

	keys := p.Keys()
	require.Len(t, keys, 3)
	assert.Equal(t, Key{TotalCopyInSizeBytes, "a"}, keys[0])
	assert.Equal(t, Key{TotalCopyInSizeBytes, "b"}, keys[1])
	assert.Equal(t, Key{TotalCompileTime, "task0"}, keys[2])

	table := p.Table()
	assert.Contains(t, table, "TOTAL_COPY_IN_SIZE_BYTES")
	assert.Contains(t, table, "1.0 kB")
	assert.Contains(t, p.String(), "TOTAL_COPY_IN_SIZE_BYTES=3.1 kB")

	p.Reset()
	assert.Empty(t, p.Keys())
	assert.Equal(t, "no profiling data", p.Table())
}

func TestNilProfiler(t *testing.T) {
	var p *Profiler
	p.Start(CopyInTime, "x")
	p.Add(CopyInTime, "x", 10)
	assert.Equal(t, time.Duration(0), p.Stop(CopyInTime, "x"))
	assert.Equal(t, int64(0), p.Get(CopyInTime, "x"))
	assert.Equal(t, int64(0), p.Sum(CopyInTime))
	assert.Nil(t, p.Keys())
	p.Reset()
	assert.Equal(t, "profiler(disabled)", p.String())
}

func TestProfilerConcurrency(t *testing.T) {
	p := New()
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				p.Add(NumKernelLaunches, "", 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1000), p.Get(NumKernelLaunches, ""))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "1.5s", Format(TotalKernelTime, int64(1500*time.Millisecond)))
	assert.Equal(t, "2.0 MB", Format(TotalCopyOutSizeBytes, 2_000_000))
	assert.Equal(t, "12,345", Format(NumCompilations, 12345))
	assert.Equal(t, UnitCount, NumKernelLaunches.Unit())
	assert.Equal(t, "COPY_OUT_TIME", CopyOutTime.String())
}
