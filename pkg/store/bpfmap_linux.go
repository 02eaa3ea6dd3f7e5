//go:build linux
// +build linux

package store

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"

	"github.com/srodi/pcp-bpf/pkg/types"
)

const clearSweepRetries = 3

// Map is the part of *ebpf.Map the store uses.
type Map interface {
	Lookup(key, valueOut interface{}) error
	Put(key, value interface{}) error
	Delete(key interface{}) error
	NextKey(key, nextKeyOut interface{}) error
	Type() ebpf.MapType
	KeySize() uint32
	ValueSize() uint32
	MaxEntries() uint32
}

// MapStore exposes a BPF map keyed by u32 CPU id with u64 values. Writes
// normally come from the attached BPF program; the sampling loop reads and
// clears through this type.
type MapStore struct {
	m Map
}

// NewMapStore wraps m, which must be a hash or array map with 4 byte keys and
// 8 byte values.
func NewMapStore(m Map) (*MapStore, error) {
	if m == nil {
		return nil, errors.New("nil counter map")
	}
	if m.KeySize() != 4 || m.ValueSize() != 8 {
		return nil, fmt.Errorf("counter map: want u32->u64, got key %d value %d bytes",
			m.KeySize(), m.ValueSize())
	}
	return &MapStore{m: m}, nil
}

func (s *MapStore) isArray() bool {
	return s.m.Type() == ebpf.Array
}

// Update overwrites the counter for cpu.
func (s *MapStore) Update(cpu uint32, value uint64) error {
	if err := s.m.Put(cpu, value); err != nil {
		if errors.Is(err, unix.E2BIG) || errors.Is(err, ebpf.ErrKeyNotExist) {
			return ErrCapacity
		}
		return fmt.Errorf("updating cpu %d: %w", cpu, err)
	}
	return nil
}

// Get looks up the counter for cpu. A missing key is not an error.
func (s *MapStore) Get(cpu uint32) (uint64, bool, error) {
	if s.isArray() && cpu >= s.m.MaxEntries() {
		return 0, false, nil
	}
	var value uint64
	if err := s.m.Lookup(cpu, &value); err != nil {
		if errors.Is(err, ebpf.ErrKeyNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("looking up cpu %d: %w", cpu, err)
	}
	return value, true, nil
}

// keys walks the map once. Deleting the key a walk stands on makes the kernel
// restart from the first key; a key seen twice aborts the walk.
func (s *MapStore) keys() ([]uint32, error) {
	var (
		keys []uint32
		seen = make(map[uint32]struct{})
		prev interface{}
		next uint32
	)
	for {
		err := s.m.NextKey(prev, &next)
		if errors.Is(err, ebpf.ErrKeyNotExist) {
			return keys, nil
		}
		if err != nil {
			return nil, err
		}
		if _, dup := seen[next]; dup || uint32(len(keys)) >= s.m.MaxEntries() {
			return nil, ebpf.ErrIterationAborted
		}
		seen[next] = struct{}{}
		keys = append(keys, next)
		prev = next
	}
}

// Entries returns every key in the map sorted by CPU id. Keys removed between
// the walk and the lookup are skipped.
func (s *MapStore) Entries() ([]types.CounterEntry, error) {
	keys, err := s.keys()
	if err != nil {
		return nil, fmt.Errorf("iterating counter map: %w", err)
	}
	entries := make([]types.CounterEntry, 0, len(keys))
	for _, cpu := range keys {
		value, ok, err := s.Get(cpu)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, types.CounterEntry{CPU: cpu, Value: value})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CPU < entries[j].CPU })
	return entries, nil
}

// ClearAll zeroes an array map, or deletes every key of a hash map so the
// next window starts with no CPUs present.
func (s *MapStore) ClearAll() error {
	if s.isArray() {
		for cpu := uint32(0); cpu < s.m.MaxEntries(); cpu++ {
			if err := s.m.Put(cpu, uint64(0)); err != nil {
				return fmt.Errorf("zeroing cpu %d: %w", cpu, err)
			}
		}
		return nil
	}

	var err error
	for attempt := 0; attempt < clearSweepRetries; attempt++ {
		var keys []uint32
		keys, err = s.keys()
		if errors.Is(err, ebpf.ErrIterationAborted) {
			continue
		}
		if err != nil {
			break
		}
		for _, key := range keys {
			if err := s.m.Delete(key); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
				return fmt.Errorf("clearing cpu %d: %w", key, err)
			}
		}
		return nil
	}
	return fmt.Errorf("iterating counter map: %w", err)
}

// Size counts the keys currently in the map.
func (s *MapStore) Size() (int, error) {
	keys, err := s.keys()
	if err != nil {
		return 0, fmt.Errorf("iterating counter map: %w", err)
	}
	return len(keys), nil
}
