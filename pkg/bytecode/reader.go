// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bytecode

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrTruncated is returned when an instruction extends past the end of the code.
var ErrTruncated = errors.New("truncated bytecode")

// Reader is a position-tracked, little-endian reader over an immutable bytecode program.
//
// It supports a single saved mark, so that repeated executions can replay the program from the
// first instruction after the preamble.
type Reader struct {
	code     []byte
	position int
	mark     int
}

// NewReader creates a Reader positioned at the start of code.
// The code is not copied, and it should not be modified while in use.
func NewReader(code []byte) *Reader {
	return &Reader{code: code}
}

// Position returns the offset of the next byte to read.
func (r *Reader) Position() int { return r.position }

// Len returns the total length of the code.
func (r *Reader) Len() int { return len(r.code) }

// HasRemaining returns whether there are bytes left to read.
func (r *Reader) HasRemaining() bool { return r.position < len(r.code) }

// Mark saves the current position, see Reset.
func (r *Reader) Mark() { r.mark = r.position }

// MarkPosition returns the position saved with Mark.
func (r *Reader) MarkPosition() int { return r.mark }

// Reset moves back to the position saved with Mark (or the start, if Mark was never called).
func (r *Reader) Reset() { r.position = r.mark }

// Rewind moves back to the start of the code and clears the mark.
func (r *Reader) Rewind() {
	r.position = 0
	r.mark = 0
}

func (r *Reader) need(n int) error {
	if r.position+n > len(r.code) {
		return errors.Wrapf(ErrTruncated, "need %d bytes at position %d, only %d available",
			n, r.position, len(r.code)-r.position)
	}
	return nil
}

// ReadByte implements io.ByteReader.
func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.code[r.position]
	r.position++
	return b, nil
}

// ReadInt32 reads a little-endian int32.
func (r *Reader) ReadInt32() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(r.code[r.position:]))
	r.position += 4
	return v, nil
}

// ReadInt64 reads a little-endian int64.
func (r *Reader) ReadInt64() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.LittleEndian.Uint64(r.code[r.position:]))
	r.position += 8
	return v, nil
}
