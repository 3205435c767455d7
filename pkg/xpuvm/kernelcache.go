// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xpuvm

import (
	"github.com/gomlx/xpuvm/backends"
)

// kernelCache holds the installed code of each task scheduled on the interpreter's device,
// indexed by the local slot of the task.
type kernelCache struct {
	codes []backends.InstalledCode
}

func newKernelCache(numSlots int) *kernelCache {
	return &kernelCache{codes: make([]backends.InstalledCode, numSlots)}
}

func (k *kernelCache) get(slot int) backends.InstalledCode {
	return k.codes[slot]
}

func (k *kernelCache) set(slot int, code backends.InstalledCode) {
	k.codes[slot] = code
}

// shouldCompile returns whether the slot is empty or its code was invalidated.
func (k *kernelCache) shouldCompile(slot int) bool {
	code := k.codes[slot]
	return code == nil || !code.IsValid()
}

// invalidate the code of the slot, if any. It is kept in the slot until re-installed.
func (k *kernelCache) invalidate(slot int) {
	if code := k.codes[slot]; code != nil {
		code.Invalidate()
	}
}

// clear drops all installed codes.
func (k *kernelCache) clear() {
	clear(k.codes)
}

// numValid returns the number of slots with valid installed code.
func (k *kernelCache) numValid() int {
	var n int
	for _, code := range k.codes {
		if code != nil && code.IsValid() {
			n++
		}
	}
	return n
}
