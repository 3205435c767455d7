// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/xpuvm/pkg/bytecode"
	"github.com/gomlx/xpuvm/pkg/plan"
	"github.com/pkg/errors"
)

func disasmCmd(args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ContinueOnError)
	flagHex := fs.Bool("hex", false, "Also print an hex dump of the bytecode.")
	path, err := planArg(fs, args)
	if err != nil {
		return err
	}
	p, err := plan.Load(path)
	if err != nil {
		return err
	}
	prog, err := p.Build()
	if err != nil {
		return err
	}
	table, err := listingTable(prog.Code)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render(fmt.Sprintf("%s: %s of bytecode", prog.Name, humanize.Bytes(uint64(len(prog.Code))))))
	fmt.Println(table)
	if *flagHex {
		fmt.Println(bytecode.Dump(prog.Code))
	}
	return nil
}

// listingTable returns a table with the offset, opcode and operands of each instruction.
func listingTable(code []byte) (*lgtable.Table, error) {
	entries, err := bytecode.Disassemble(code)
	if err != nil {
		return nil, errors.WithMessage(err, "disassembling")
	}
	table := newPlainTable(lipgloss.Right, lipgloss.Left).Headers("offset", "opcode", "operands")
	for _, e := range entries {
		name, operands, _ := strings.Cut(e.Inst.String(), " ")
		table.Row(strconv.Itoa(e.Offset), name, operands)
	}
	return table, nil
}
