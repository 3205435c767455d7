// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPool_Saturate(t *testing.T) {
	// Test saturation.
	pool := New()
	wantTasks := 5
	pool.SetMaxParallelism(wantTasks)

	var count atomic.Int32
	allStarted := make(chan struct{})
	var once sync.Once
	doneTest := make(chan struct{})

	go func() {
		pool.Saturate(func() {
			got := count.Add(1)
			runtime.Gosched()
			if int(got) == wantTasks {
				once.Do(func() { close(allStarted) })
				return
			}
			<-allStarted
		})
		close(doneTest)
	}()

	select {
	case <-doneTest:
		// Success
	case <-time.After(time.Second):
		t.Fatal("Timeout before all tasks were executed.")
	}
	if int(count.Load()) != wantTasks {
		t.Fatalf("Expected %d tasks, got %d", wantTasks, count.Load())
	}

	// Test No Parallelism
	pool.SetMaxParallelism(0)
	count.Store(0)
	pool.Saturate(func() { count.Add(1) })
	assert.Equal(t, int32(1), count.Load())
}

func TestPool_StartIfAvailable(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(1)
	release := make(chan struct{})
	var wg sync.WaitGroup
	for range goroutineToParallelismRatio {
		wg.Add(1)
		assert.True(t, pool.StartIfAvailable(func() {
			defer wg.Done()
			<-release
		}))
	}
	assert.False(t, pool.StartIfAvailable(func() {}))
	pool.WorkerIsAsleep()
	wg.Add(1)
	assert.True(t, pool.StartIfAvailable(wg.Done))
	pool.WorkerRestarted()
	close(release)
	wg.Wait()

	pool.SetMaxParallelism(0)
	assert.False(t, pool.IsEnabled())
	assert.False(t, pool.StartIfAvailable(func() {}))
	var ran bool
	pool.WaitToStart(func() { ran = true })
	assert.True(t, ran, "disabled pool runs inline")
}

func TestPool_ParallelFor(t *testing.T) {
	for _, parallelism := range []int{0, 1, 3, -1} {
		pool := New()
		pool.SetMaxParallelism(parallelism)
		const n = 1000
		seen := make([]int32, n)
		pool.ParallelFor(n, 7, func(start, end int) {
			for ii := start; ii < end; ii++ {
				atomic.AddInt32(&seen[ii], 1)
			}
		})
		for ii, s := range seen {
			if s != 1 {
				t.Fatalf("parallelism=%d: element %d processed %d times", parallelism, ii, s)
			}
		}
	}
	New().ParallelFor(0, 1, func(int, int) { t.Fatal("no work to do") })
}
