// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simdevice

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gomlx/xpuvm/internal/workerspool"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Kernel is the Go implementation of a task on the simulated devices.
type Kernel func(call *KernelCall) error

// KernelContext is the kernel-context argument of a call.
type KernelContext struct {
	BatchThreads int64
	GlobalWork   map[int]int64
}

// KernelCall holds the arguments of one kernel launch.
type KernelCall struct {
	TaskID string

	// Args in order: constants by value, references as the flat slice of their buffer (e.g. []float32),
	// and *KernelContext for the kernel-context argument.
	Args []any

	// BatchThreads given to the launch, 0 if not batched.
	BatchThreads int64

	// GlobalWork sizes per dimension, if a grid was set for the task.
	GlobalWork map[int]int64

	// Atomics is the atomics buffer of the launch, nil if the task has none. Kernels can update it.
	Atomics []int32

	pool *workerspool.Pool
}

// NumThreads returns the number of threads to run for n elements: the global work size of the first
// dimension if set, else the batch threads if set, else n. It is never larger than n.
func (c *KernelCall) NumThreads(n int) int {
	if size, found := c.GlobalWork[0]; found && size > 0 {
		return min(int(size), n)
	}
	if c.BatchThreads > 0 {
		return min(int(c.BatchThreads), n)
	}
	return n
}

// ParallelFor runs fn over chunks of [0, n) on the workers of the device.
func (c *KernelCall) ParallelFor(n int, fn func(start, end int)) {
	if c.pool == nil {
		fn(0, n)
		return
	}
	c.pool.ParallelFor(n, minElementsPerWorker, fn)
}

const minElementsPerWorker = 4096

var (
	kernelsMu sync.RWMutex
	kernels   = make(map[string]Kernel)
)

// RegisterKernel registers the Go implementation of the kernel with the given name. Tasks refer to kernels by name.
//
// To be safe, call RegisterKernel during initialization of a package.
func RegisterKernel(name string, kernel Kernel) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	kernels[name] = kernel
}

// LookupKernel returns the kernel registered with the given name.
func LookupKernel(name string) (Kernel, bool) {
	kernelsMu.RLock()
	defer kernelsMu.RUnlock()
	k, found := kernels[name]
	return k, found
}

// KernelNames returns the names of the registered kernels, sorted.
func KernelNames() []string {
	kernelsMu.RLock()
	defer kernelsMu.RUnlock()
	names := make([]string, 0, len(kernels))
	for name := range kernels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterKernel("scale", scaleKernel)
	RegisterKernel("saxpy", saxpyKernel)
	RegisterKernel("add", addKernel)
	RegisterKernel("iota", iotaKernel)
	RegisterKernel("count_positive", countPositiveKernel)
}

// Arg returns the argument ii, or an error if there are not enough arguments.
func (c *KernelCall) Arg(ii int) (any, error) {
	if ii >= len(c.Args) {
		return nil, errors.Errorf("kernel of task %q requires at least %d arguments, got %d", c.TaskID, ii+1, len(c.Args))
	}
	return c.Args[ii], nil
}

// dataArgs returns the arguments that are not the kernel context, in order.
func (c *KernelCall) dataArgs() []any {
	args := make([]any, 0, len(c.Args))
	for _, arg := range c.Args {
		if _, ok := arg.(*KernelContext); !ok {
			args = append(args, arg)
		}
	}
	return args
}

func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case float16.Float16:
		return float64(v.Float32()), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	default:
		return 0, errors.Errorf("constant %v of type %T is not a number", value, value)
	}
}

// elementwise computes out[i] = fn(i, a[i], b[i]) for any of the supported flat types.
func elementwise(c *KernelCall, a, b, out any, fn func(ii int, x, y float64) float64) error {
	switch out := out.(type) {
	case []float32:
		return elementwiseGeneric(c, a, b, out, fn)
	case []float64:
		return elementwiseGeneric(c, a, b, out, fn)
	case []int32:
		return elementwiseGeneric(c, a, b, out, fn)
	case []int64:
		return elementwiseGeneric(c, a, b, out, fn)
	case []float16.Float16:
		// Half-precision is computed in float32.
		a16, ok1 := a.([]float16.Float16)
		b16, ok2 := b.([]float16.Float16)
		if !ok1 || !ok2 {
			return errors.Errorf("mismatched argument types %T, %T and %T", a, b, out)
		}
		n := c.NumThreads(min(len(a16), len(b16), len(out)))
		c.ParallelFor(n, func(start, end int) {
			for ii := start; ii < end; ii++ {
				out[ii] = float16.Fromfloat32(float32(fn(ii, float64(a16[ii].Float32()), float64(b16[ii].Float32()))))
			}
		})
		return nil
	default:
		return errors.Errorf("unsupported output type %T", out)
	}
}

func elementwiseGeneric[T float32 | float64 | int32 | int64](c *KernelCall, a, b any, out []T, fn func(ii int, x, y float64) float64) error {
	aT, ok1 := a.([]T)
	bT, ok2 := b.([]T)
	if !ok1 || !ok2 {
		return errors.Errorf("mismatched argument types %T, %T and %T", a, b, out)
	}
	n := c.NumThreads(min(len(aT), len(bT), len(out)))
	c.ParallelFor(n, func(start, end int) {
		for ii := start; ii < end; ii++ {
			out[ii] = T(fn(ii, float64(aT[ii]), float64(bT[ii])))
		}
	})
	return nil
}

// scaleKernel: (alpha, x) -> x *= alpha.
func scaleKernel(c *KernelCall) error {
	args := c.dataArgs()
	if len(args) != 2 {
		return errors.Errorf("scale requires 2 arguments (alpha, x), got %d", len(args))
	}
	alpha, err := toFloat64(args[0])
	if err != nil {
		return err
	}
	return elementwise(c, args[1], args[1], args[1], func(_ int, x, _ float64) float64 { return alpha * x })
}

// saxpyKernel: (alpha, x, y) -> y = alpha*x + y.
func saxpyKernel(c *KernelCall) error {
	args := c.dataArgs()
	if len(args) != 3 {
		return errors.Errorf("saxpy requires 3 arguments (alpha, x, y), got %d", len(args))
	}
	alpha, err := toFloat64(args[0])
	if err != nil {
		return err
	}
	return elementwise(c, args[1], args[2], args[2], func(_ int, x, y float64) float64 { return alpha*x + y })
}

// addKernel: (a, b, out) -> out = a + b.
func addKernel(c *KernelCall) error {
	args := c.dataArgs()
	if len(args) != 3 {
		return errors.Errorf("add requires 3 arguments (a, b, out), got %d", len(args))
	}
	return elementwise(c, args[0], args[1], args[2], func(_ int, x, y float64) float64 { return x + y })
}

// iotaKernel: (out, [start]) -> out[i] = start + i.
func iotaKernel(c *KernelCall) error {
	args := c.dataArgs()
	if len(args) < 1 || len(args) > 2 {
		return errors.Errorf("iota requires 1 or 2 arguments (out, [start]), got %d", len(args))
	}
	var start float64
	if len(args) == 2 {
		var err error
		if start, err = toFloat64(args[1]); err != nil {
			return err
		}
	}
	return elementwise(c, args[0], args[0], args[0], func(ii int, _, _ float64) float64 { return start + float64(ii) })
}

// countPositiveKernel: (x) -> atomics[0] += number of x[i] > 0.
func countPositiveKernel(c *KernelCall) error {
	args := c.dataArgs()
	if len(args) != 1 {
		return errors.Errorf("count_positive requires 1 argument (x), got %d", len(args))
	}
	if len(c.Atomics) == 0 {
		return errors.Errorf("count_positive requires an atomics buffer for task %q", c.TaskID)
	}
	var count atomic.Int32
	err := elementwise(c, args[0], args[0], args[0], func(_ int, x, _ float64) float64 {
		if x > 0 {
			count.Add(1)
		}
		return x
	})
	if err != nil {
		return err
	}
	c.Atomics[0] += count.Load()
	return nil
}
