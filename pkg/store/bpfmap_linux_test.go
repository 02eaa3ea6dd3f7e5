//go:build linux
// +build linux

package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"
)

// fakeMap follows the kernel's u32 -> u64 hash and array map semantics.
type fakeMap struct {
	typ     ebpf.MapType
	max     uint32
	keySize uint32
	order   []uint32
	values  map[uint32]uint64
	// restarts makes the next NextKey calls jump back to the first key, as
	// the kernel does when the current key vanished under the walk.
	restarts int
}

func newFakeMap(typ ebpf.MapType, max uint32) *fakeMap {
	m := &fakeMap{typ: typ, max: max, keySize: 4, values: make(map[uint32]uint64)}
	if typ == ebpf.Array {
		for i := uint32(0); i < max; i++ {
			m.order = append(m.order, i)
			m.values[i] = 0
		}
	}
	return m
}

func (m *fakeMap) Type() ebpf.MapType { return m.typ }
func (m *fakeMap) KeySize() uint32    { return m.keySize }
func (m *fakeMap) ValueSize() uint32  { return 8 }
func (m *fakeMap) MaxEntries() uint32 { return m.max }

func (m *fakeMap) Lookup(key, valueOut interface{}) error {
	v, ok := m.values[key.(uint32)]
	if !ok {
		return fmt.Errorf("lookup: %w", ebpf.ErrKeyNotExist)
	}
	*valueOut.(*uint64) = v
	return nil
}

func (m *fakeMap) Put(key, value interface{}) error {
	k := key.(uint32)
	if _, ok := m.values[k]; !ok {
		if m.typ == ebpf.Array || uint32(len(m.values)) >= m.max {
			return fmt.Errorf("update: %w", unix.E2BIG)
		}
		m.order = append(m.order, k)
	}
	m.values[k] = value.(uint64)
	return nil
}

func (m *fakeMap) Delete(key interface{}) error {
	k := key.(uint32)
	if m.typ == ebpf.Array {
		return fmt.Errorf("delete: %w", unix.EINVAL)
	}
	if _, ok := m.values[k]; !ok {
		return fmt.Errorf("delete: %w", ebpf.ErrKeyNotExist)
	}
	delete(m.values, k)
	for i, o := range m.order {
		if o == k {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *fakeMap) NextKey(key, nextKeyOut interface{}) error {
	out := nextKeyOut.(*uint32)
	if len(m.order) == 0 {
		return fmt.Errorf("next key: %w", ebpf.ErrKeyNotExist)
	}
	if key == nil || m.restarts > 0 {
		if key != nil {
			m.restarts--
		}
		*out = m.order[0]
		return nil
	}
	k := key.(uint32)
	for i, o := range m.order {
		if o != k {
			continue
		}
		if i+1 == len(m.order) {
			return fmt.Errorf("next key: %w", ebpf.ErrKeyNotExist)
		}
		*out = m.order[i+1]
		return nil
	}
	*out = m.order[0]
	return nil
}

func TestNewMapStoreRejectsWrongShape(t *testing.T) {
	m := newFakeMap(ebpf.Hash, 4)
	m.keySize = 8
	if _, err := NewMapStore(m); err == nil {
		t.Fatalf("expected error for 8 byte keys")
	}
	if _, err := NewMapStore(nil); err == nil {
		t.Fatalf("expected error for nil map")
	}
}

func TestMapStoreHashEntriesSorted(t *testing.T) {
	m := newFakeMap(ebpf.Hash, 8)
	s, err := NewMapStore(m)
	if err != nil {
		t.Fatalf("new map store: %v", err)
	}
	for _, cpu := range []uint32{5, 1, 3} {
		if err := s.Update(cpu, uint64(cpu)*10); err != nil {
			t.Fatalf("update cpu %d: %v", cpu, err)
		}
	}

	entries, err := s.Entries()
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 3 || entries[0].CPU != 1 || entries[1].CPU != 3 || entries[2].CPU != 5 {
		t.Fatalf("expected cpus 1,3,5 in order, got %+v", entries)
	}
	if entries[2].Value != 50 {
		t.Fatalf("expected cpu 5 = 50, got %d", entries[2].Value)
	}

	if v, ok, err := s.Get(2); v != 0 || ok || err != nil {
		t.Fatalf("missing key should be absent, got %d ok=%t err=%v", v, ok, err)
	}
	if n, _ := s.Size(); n != 3 {
		t.Fatalf("expected size 3, got %d", n)
	}
}

func TestMapStoreHashClearAllRetriesAbortedWalk(t *testing.T) {
	m := newFakeMap(ebpf.Hash, 4)
	s, _ := NewMapStore(m)
	for cpu := uint32(0); cpu < 3; cpu++ {
		_ = s.Update(cpu, 1)
	}
	m.restarts = 1

	if err := s.ClearAll(); err != nil {
		t.Fatalf("clear should survive one aborted walk: %v", err)
	}
	if n, _ := s.Size(); n != 0 {
		t.Fatalf("hash clear should remove every key, got %d", n)
	}
}

func TestMapStoreHashClearAllGivesUp(t *testing.T) {
	m := newFakeMap(ebpf.Hash, 4)
	s, _ := NewMapStore(m)
	_ = s.Update(0, 1)
	_ = s.Update(1, 1)
	m.restarts = 1 << 20

	err := s.ClearAll()
	if !errors.Is(err, ebpf.ErrIterationAborted) {
		t.Fatalf("expected ErrIterationAborted, got %v", err)
	}
}

func TestMapStoreArrayClearAllZeroes(t *testing.T) {
	m := newFakeMap(ebpf.Array, 4)
	s, _ := NewMapStore(m)
	if err := s.Update(2, 7); err != nil {
		t.Fatalf("update: %v", err)
	}
	if v, ok, _ := s.Get(2); !ok || v != 7 {
		t.Fatalf("expected cpu 2 = 7, got %d ok=%t", v, ok)
	}

	if err := s.ClearAll(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n, _ := s.Size(); n != 4 {
		t.Fatalf("array clear should keep every slot, got %d", n)
	}
	if v, ok, _ := s.Get(2); !ok || v != 0 {
		t.Fatalf("expected cpu 2 zeroed, got %d ok=%t", v, ok)
	}
	if _, ok, err := s.Get(9); ok || err != nil {
		t.Fatalf("cpu beyond the array should be absent, got ok=%t err=%v", ok, err)
	}
}

func TestMapStoreCapacity(t *testing.T) {
	hash, _ := NewMapStore(newFakeMap(ebpf.Hash, 2))
	_ = hash.Update(0, 1)
	_ = hash.Update(1, 1)
	if err := hash.Update(2, 1); !errors.Is(err, ErrCapacity) {
		t.Fatalf("full hash: expected ErrCapacity, got %v", err)
	}

	array, _ := NewMapStore(newFakeMap(ebpf.Array, 2))
	if err := array.Update(4, 1); !errors.Is(err, ErrCapacity) {
		t.Fatalf("array out of range: expected ErrCapacity, got %v", err)
	}
}
