// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bytecode

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// Entry of a listing: one decoded instruction and its offset in the code.
type Entry struct {
	Offset int
	Inst   Instruction
}

// String implements fmt.Stringer.
func (e Entry) String() string {
	return fmt.Sprintf("%06d: %s", e.Offset, e.Inst)
}

// Disassemble decodes the whole code, up to and including the first END (or to the end of the code).
//
// It returns the instructions decoded so far along with the error if the code is malformed.
func Disassemble(code []byte) ([]Entry, error) {
	r := NewReader(code)
	var entries []Entry
	for r.HasRemaining() {
		offset := r.Position()
		inst, err := Decode(r)
		if err != nil {
			return entries, err
		}
		entries = append(entries, Entry{Offset: offset, Inst: inst})
		if inst.Opcode() == OpEnd {
			break
		}
	}
	return entries, nil
}

// Fprint writes the listing of code to w, one instruction per line.
func Fprint(w io.Writer, code []byte) error {
	entries, disErr := Disassemble(code)
	if _, err := fmt.Fprintf(w, "bytecode: %s, %d instructions\n", humanize.Bytes(uint64(len(code))), len(entries)); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintln(w, e); err != nil {
			return err
		}
	}
	if disErr != nil {
		return errors.WithMessage(disErr, "disassembling")
	}
	return nil
}

// Dump returns an hex dump of the code, 16 bytes per line, with the offsets of each line.
func Dump(code []byte) string {
	var sb strings.Builder
	for start := 0; start < len(code); start += 16 {
		end := min(start+16, len(code))
		fmt.Fprintf(&sb, "%06x:", start)
		for _, b := range code[start:end] {
			fmt.Fprintf(&sb, " %02x", b)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
