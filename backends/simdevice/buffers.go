// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simdevice

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Buffer of a simulated device holds a flat slice of the object's dtype.
//
// The flat data is owned by the buffer, and it is returned to the device pool of buffers on deallocation.
type Buffer struct {
	dtype  dtypes.DType
	length int
	valid  bool

	// flat is always a slice of the underlying data type (dtype).
	flat any
}

// DType of the buffer.
func (b *Buffer) DType() dtypes.DType { return b.dtype }

// Len is the number of elements of the buffer.
func (b *Buffer) Len() int { return b.length }

// Flat returns the flat slice of the buffer. It must only be accessed by kernels, or after the device queue is flushed.
func (b *Buffer) Flat() any { return b.flat }

// String implements fmt.Stringer.
func (b *Buffer) String() string {
	return fmt.Sprintf("simdevice.Buffer(%s[%d])", b.dtype, b.length)
}

type bufferPoolKey struct {
	dtype  dtypes.DType
	length int
}

// bufferPools are pools of buffers that can be reused. The underlying type is map[bufferPoolKey]*sync.Pool.
type bufferPools struct {
	pools sync.Map
}

// getBufferPool for given dtype/length.
func (p *bufferPools) getBufferPool(dtype dtypes.DType, length int) *sync.Pool {
	key := bufferPoolKey{dtype: dtype, length: length}
	poolInterface, ok := p.pools.Load(key)
	if !ok {
		poolInterface, _ = p.pools.LoadOrStore(key, &sync.Pool{
			New: func() any {
				return &Buffer{
					dtype:  dtype,
					length: length,
					flat:   reflect.MakeSlice(reflect.SliceOf(dtype.GoType()), length, length).Interface(),
				}
			},
		})
	}
	return poolInterface.(*sync.Pool)
}

// getBuffer from the pool of buffers. Its contents are undefined.
func (p *bufferPools) getBuffer(dtype dtypes.DType, length int) *Buffer {
	buf := p.getBufferPool(dtype, length).Get().(*Buffer)
	buf.valid = true
	return buf
}

// putBuffer back into the pool of buffers.
// After this any references to buffer should be dropped.
func (p *bufferPools) putBuffer(buffer *Buffer) {
	if buffer == nil {
		return
	}
	buffer.valid = false
	p.getBufferPool(buffer.dtype, buffer.length).Put(buffer)
}

// copyFlat copies between flat slices of the same underlying type, at the given element offsets.
// It returns the number of elements copied.
func copyFlat(flatDst any, dstOffset int, flatSrc any, srcOffset, length int) (int, error) {
	dst, src := reflect.ValueOf(flatDst), reflect.ValueOf(flatSrc)
	if dst.Type() != src.Type() {
		return 0, errors.Errorf("copying %s into %s", src.Type(), dst.Type())
	}
	if dstOffset < 0 || srcOffset < 0 || dstOffset+length > dst.Len() || srcOffset+length > src.Len() {
		return 0, errors.Errorf("copying %d elements from offset %d of %d into offset %d of %d: out of bounds",
			length, srcOffset, src.Len(), dstOffset, dst.Len())
	}
	return reflect.Copy(dst.Slice(dstOffset, dstOffset+length), src.Slice(srcOffset, srcOffset+length)), nil
}
