// Package store holds the per-CPU counter table shared between the
// instrumentation side (writers, one per CPU) and the sampling loop (the
// single reader that may also clear it).
package store

import (
	"errors"

	"github.com/srodi/pcp-bpf/pkg/types"
)

// ErrCapacity is returned when a CPU id does not fit in the table.
var ErrCapacity = errors.New("counter table at capacity")

// Store is the contract the sampling loop consumes. Update is the writer
// side; Entries, Get and ClearAll are only issued by the sampling loop.
type Store interface {
	Update(cpu uint32, value uint64) error
	Get(cpu uint32) (uint64, bool, error)
	Entries() ([]types.CounterEntry, error)
	ClearAll() error
	Size() (int, error)
}

// Present returns the CPU ids of the live entries.
func Present(entries []types.CounterEntry) []uint32 {
	ids := make([]uint32, len(entries))
	for i, e := range entries {
		ids[i] = e.CPU
	}
	return ids
}
