// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package profiler accumulates timers and metrics of bytecode executions: transfer and kernel times,
// bytes transferred, compilations.
//
// It is a best-effort sink: all methods are safe to call on a nil *Profiler, in which case they are no-ops.
// It is safe for concurrent use.
package profiler

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

// Key of a metric: its type and the id of what is being measured (a task id, an object name,
// a device name). The id may be empty for global metrics.
type Key struct {
	Type Type
	ID   string
}

// Profiler holds the accumulated metrics.
type Profiler struct {
	mu      sync.Mutex
	values  map[Key]int64
	started map[Key]time.Time
}

// New creates an empty Profiler.
func New() *Profiler {
	return &Profiler{
		values:  make(map[Key]int64),
		started: make(map[Key]time.Time),
	}
}

// Start a timer for the metric. The elapsed time is added when Stop is called.
func (p *Profiler) Start(typ Type, id string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started[Key{typ, id}] = time.Now()
}

// Stop the timer started with Start and add its elapsed time to the metric.
// It returns the elapsed time, or 0 if the timer was not started.
func (p *Profiler) Stop(typ Type, id string) time.Duration {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := Key{typ, id}
	start, found := p.started[key]
	if !found {
		return 0
	}
	delete(p.started, key)
	elapsed := time.Since(start)
	p.values[key] += int64(elapsed)
	return elapsed
}

// Add value to the metric.
func (p *Profiler) Add(typ Type, id string, value int64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[Key{typ, id}] += value
}

// AddDuration to a time metric.
func (p *Profiler) AddDuration(typ Type, id string, d time.Duration) {
	p.Add(typ, id, int64(d))
}

// Get the current value of the metric.
func (p *Profiler) Get(typ Type, id string) int64 {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[Key{typ, id}]
}

// Sum of the values of all the ids of the metric type.
func (p *Profiler) Sum(typ Type) int64 {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var sum int64
	for key, value := range p.values {
		if key.Type == typ {
			sum += value
		}
	}
	return sum
}

// Keys returns the keys with values, sorted by type and id.
func (p *Profiler) Keys() []Key {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]Key, 0, len(p.values))
	for key := range p.values {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b Key) int {
		if a.Type != b.Type {
			return int(a.Type) - int(b.Type)
		}
		return strings.Compare(a.ID, b.ID)
	})
	return keys
}

// Reset all metrics and timers.
func (p *Profiler) Reset() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.values)
	clear(p.started)
}

// Format a value of a metric type according to its unit.
func Format(typ Type, value int64) string {
	switch typ.Unit() {
	case UnitBytes:
		return humanize.Bytes(uint64(value))
	case UnitCount:
		return humanize.Comma(value)
	default:
		return time.Duration(value).String()
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	valueStyle  = cellStyle.Align(lipgloss.Right)
)

// Table renders all metrics as a table.
func (p *Profiler) Table() string {
	keys := p.Keys()
	if len(keys) == 0 {
		return "no profiling data"
	}
	t := lgtable.New().
		Border(lipgloss.NormalBorder()).
		Headers("Metric", "ID", "Value").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			if col == 2 {
				return valueStyle
			}
			return cellStyle
		})
	for _, key := range keys {
		t.Row(key.Type.String(), key.ID, Format(key.Type, p.Get(key.Type, key.ID)))
	}
	return t.Render()
}

// String implements fmt.Stringer with a compact summary of the totals per metric type.
func (p *Profiler) String() string {
	if p == nil {
		return "profiler(disabled)"
	}
	var parts []string
	for _, typ := range TypeValues() {
		if sum := p.Sum(typ); sum != 0 {
			parts = append(parts, fmt.Sprintf("%s=%s", typ, Format(typ, sum)))
		}
	}
	return "profiler(" + strings.Join(parts, ", ") + ")"
}
