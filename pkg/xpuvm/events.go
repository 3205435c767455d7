// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xpuvm

import (
	"slices"

	"github.com/gomlx/xpuvm/backends"
	"github.com/gomlx/xpuvm/pkg/bytecode"
)

// eventLists is the event/dependency tracker: a fixed number of fixed-capacity lists of events,
// indexed by the event list ids of the bytecode.
type eventLists struct {
	lists   [][]backends.Event
	cursors []int
}

func newEventLists(numLists, capacity int) *eventLists {
	e := &eventLists{
		lists:   make([][]backends.Event, numLists),
		cursors: make([]int, numLists),
	}
	for ii := range e.lists {
		e.lists[ii] = make([]backends.Event, capacity)
	}
	e.resetAll()
	return e
}

func (e *eventLists) checkID(id int32) {
	if id < 0 || int(id) >= len(e.lists) {
		internalErrorf("invalid event list %d, program declared %d event lists", id, len(e.lists))
	}
}

// reset the cursor of the list and fill it with NoEvent. The id NoEventList is ignored.
func (e *eventLists) reset(id int32) {
	if id == bytecode.NoEventList {
		return
	}
	e.checkID(id)
	e.cursors[id] = 0
	for ii := range e.lists[id] {
		e.lists[id][ii] = backends.NoEvent
	}
}

func (e *eventLists) resetAll() {
	for ii := range e.lists {
		e.reset(int32(ii))
	}
}

// record appends the event to the list. Overflowing the list capacity is an internal error.
func (e *eventLists) record(id int32, event backends.Event) {
	e.checkID(id)
	if e.cursors[id] >= len(e.lists[id]) {
		internalErrorf("event list %d is too small: capacity of %d events exceeded", id, len(e.lists[id]))
	}
	e.lists[id][e.cursors[id]] = event
	e.cursors[id]++
}

// waitList returns a copy of the events recorded in the list, or nil for NoEventList.
func (e *eventLists) waitList(id int32) []backends.Event {
	if id == bytecode.NoEventList {
		return nil
	}
	e.checkID(id)
	return slices.Clone(e.lists[id][:e.cursors[id]])
}

func (e *eventLists) cursor(id int32) int {
	e.checkID(id)
	return e.cursors[id]
}

func (e *eventLists) len() int { return len(e.lists) }
