// Package storetest provides an in-memory store.Store for tests that need
// the counter table without a kernel.
package storetest

import (
	"sync/atomic"

	"github.com/srodi/pcp-bpf/pkg/store"
	"github.com/srodi/pcp-bpf/pkg/types"
)

var _ store.Store = (*MemStore)(nil)

type slot struct {
	value atomic.Uint64
	live  atomic.Bool
}

// MemStore is a fixed-capacity table with one atomic slot per CPU id.
// Writers never lock: each CPU only ever touches its own slot.
//
// An eager store has every slot live from the start and ClearAll only zeroes
// values (point-sample model). A lazy store creates slots on first write and
// ClearAll forgets them (event-count model).
type MemStore struct {
	slots []slot
	eager bool
}

// NewMemStore allocates a table for cpu ids in [0, capacity).
func NewMemStore(capacity int, eager bool) *MemStore {
	if capacity < 0 {
		capacity = 0
	}
	s := &MemStore{slots: make([]slot, capacity), eager: eager}
	if eager {
		for i := range s.slots {
			s.slots[i].live.Store(true)
		}
	}
	return s
}

// Capacity is the number of addressable CPU ids.
func (s *MemStore) Capacity() int {
	return len(s.slots)
}

// Update overwrites the counter for cpu.
func (s *MemStore) Update(cpu uint32, value uint64) error {
	if int(cpu) >= len(s.slots) {
		return store.ErrCapacity
	}
	sl := &s.slots[cpu]
	sl.value.Store(value)
	sl.live.Store(true)
	return nil
}

// Increment initializes the counter for cpu if absent and adds one.
// When cpu is outside the table the event is dropped.
func (s *MemStore) Increment(cpu uint32) error {
	if int(cpu) >= len(s.slots) {
		return store.ErrCapacity
	}
	sl := &s.slots[cpu]
	sl.live.Store(true)
	sl.value.Add(1)
	return nil
}

// Get returns the counter for cpu and whether the slot is live.
func (s *MemStore) Get(cpu uint32) (uint64, bool, error) {
	if int(cpu) >= len(s.slots) {
		return 0, false, nil
	}
	sl := &s.slots[cpu]
	if !sl.live.Load() {
		return 0, false, nil
	}
	return sl.value.Load(), true, nil
}

// Entries lists every live slot in ascending CPU order.
func (s *MemStore) Entries() ([]types.CounterEntry, error) {
	entries := make([]types.CounterEntry, 0, len(s.slots))
	for i := range s.slots {
		sl := &s.slots[i]
		if !sl.live.Load() {
			continue
		}
		entries = append(entries, types.CounterEntry{CPU: uint32(i), Value: sl.value.Load()})
	}
	return entries, nil
}

// ClearAll resets every counter to zero.
func (s *MemStore) ClearAll() error {
	for i := range s.slots {
		sl := &s.slots[i]
		if !s.eager {
			sl.live.Store(false)
		}
		sl.value.Store(0)
	}
	return nil
}

// Size counts live slots.
func (s *MemStore) Size() (int, error) {
	n := 0
	for i := range s.slots {
		if s.slots[i].live.Load() {
			n++
		}
	}
	return n, nil
}
