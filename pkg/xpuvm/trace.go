// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xpuvm

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/xpuvm/pkg/bytecode"
)

var (
	traceHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	traceOpStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	traceDeviceStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// tracer collects the human-readable listing of the instructions executed in one pass.
// A nil tracer is disabled.
type tracer struct {
	sb strings.Builder
}

func (t *tracer) begin(device fmt.Stringer, warmup bool) {
	if t == nil {
		return
	}
	t.sb.Reset()
	mode := "execute"
	if warmup {
		mode = "warm-up"
	}
	t.sb.WriteString(traceHeaderStyle.Render("Interpreter running bytecodes for: "))
	t.sb.WriteString(traceDeviceStyle.Render(device.String()))
	t.sb.WriteString(traceHeaderStyle.Render(" mode: "))
	t.sb.WriteString(mode)
	t.sb.WriteByte('\n')
}

// printf adds a line for the given opcode. The label is used instead of the opcode name if given.
func (t *tracer) printf(op bytecode.Opcode, label string, format string, args ...any) {
	if t == nil {
		return
	}
	if label == "" {
		label = op.String()
	}
	t.sb.WriteString("bc: ")
	t.sb.WriteString(traceOpStyle.Render(label))
	if format != "" {
		t.sb.WriteByte(' ')
		fmt.Fprintf(&t.sb, format, args...)
	}
	t.sb.WriteByte('\n')
}

func (t *tracer) String() string {
	if t == nil {
		return ""
	}
	return t.sb.String()
}
