package types

import (
	"fmt"
	"time"
)

// DefaultInterval is the sampling window used when none is configured.
const DefaultInterval = time.Second

// Mode selects which counter model a collector feeds.
type Mode int

const (
	// ModeOccupancy reads the current order-0 unmovable PCP list length on every
	// sched_switch and keeps the last value per CPU (point-sample model).
	ModeOccupancy Mode = iota
	// ModeAllocs counts order-0 unmovable page allocations per CPU and drains the
	// counters once per window (event-count model).
	ModeAllocs
)

func (m Mode) String() string {
	switch m {
	case ModeOccupancy:
		return "occupancy"
	case ModeAllocs:
		return "allocs"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps a mode name to its Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "occupancy", "pcp":
		return ModeOccupancy, nil
	case "allocs", "alloc":
		return ModeAllocs, nil
	}
	return 0, fmt.Errorf("unknown mode %q (want occupancy or allocs)", s)
}

// Drains reports whether the store is cleared after every window.
func (m Mode) Drains() bool {
	return m == ModeAllocs
}

// CounterEntry is one per-CPU counter value.
type CounterEntry struct {
	CPU   uint32
	Value uint64
}

// Window is the sample taken at one tick. Entries are sorted by ascending CPU.
type Window struct {
	Mode     Mode
	Interval time.Duration
	Elapsed  time.Duration
	Taken    time.Time
	Entries  []CounterEntry
	// AllLists marks occupancy values that are the page count over every
	// per-CPU list, for kernels that do not count lists separately.
	AllLists bool
}

// Total sums every entry in the window.
func (w Window) Total() uint64 {
	var total uint64
	for _, e := range w.Entries {
		total += e.Value
	}
	return total
}
