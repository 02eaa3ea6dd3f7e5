//go:build linux
// +build linux

package allocs

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/btf"
	"github.com/cilium/ebpf/link"
	"github.com/phuslu/log"
	"github.com/spf13/afero"

	"github.com/srodi/pcp-bpf/pkg/kernel"
	"github.com/srodi/pcp-bpf/pkg/store"
)

// Collector owns the mm_page_alloc counter program and its per-CPU hash map.
type Collector struct {
	counters  *ebpf.Map
	prog      *ebpf.Program
	tp        link.Link
	store     *store.MapStore
	unmovable int32
}

// NewCollector reads the mm_page_alloc layout from tracefs, resolves the
// unmovable migratetype from kernel BTF and attaches the counter.
func NewCollector() (*Collector, error) {
	format, err := kernel.ReadEventFormat(afero.NewOsFs(), "kmem", "mm_page_alloc")
	if err != nil {
		return nil, err
	}
	order, err := format.Field("order")
	if err != nil {
		return nil, err
	}
	migratetype, err := format.Field("migratetype")
	if err != nil {
		return nil, err
	}

	unmovable := int32(defaultUnmovable)
	if spec, err := btf.LoadKernelSpec(); err != nil {
		log.Warn().Err(err).Int32("migratetype", unmovable).Msg("kernel BTF unavailable, assuming upstream MIGRATE_UNMOVABLE")
	} else if v, err := kernel.EnumValue(spec, "migratetype", "MIGRATE_UNMOVABLE"); err != nil {
		return nil, err
	} else {
		unmovable = int32(v)
	}

	cpus, err := ebpf.PossibleCPU()
	if err != nil {
		return nil, fmt.Errorf("counting possible cpus: %w", err)
	}
	counters, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "alloc_cnt",
		Type:       ebpf.Hash,
		KeySize:    4,
		ValueSize:  8,
		MaxEntries: uint32(cpus),
	})
	if err != nil {
		return nil, fmt.Errorf("creating counter map: %w", err)
	}

	insns, err := instructions(programConfig{
		countersFD:  counters.FD(),
		order:       order,
		migratetype: migratetype,
		unmovable:   unmovable,
	})
	if err != nil {
		counters.Close()
		return nil, err
	}
	prog, err := ebpf.NewProgram(&ebpf.ProgramSpec{
		Name:         "pcp_allocs",
		Type:         ebpf.TracePoint,
		License:      "GPL",
		Instructions: insns,
	})
	if err != nil {
		counters.Close()
		return nil, fmt.Errorf("loading allocs program: %w", err)
	}

	tp, err := link.Tracepoint("kmem", "mm_page_alloc", prog, nil)
	if err != nil {
		prog.Close()
		counters.Close()
		return nil, fmt.Errorf("attaching tracepoint: %w", err)
	}

	st, err := store.NewMapStore(counters)
	if err != nil {
		tp.Close()
		prog.Close()
		counters.Close()
		return nil, err
	}
	return &Collector{counters: counters, prog: prog, tp: tp, store: st, unmovable: unmovable}, nil
}

// Store exposes the counter table; CPUs appear on their first matching allocation.
func (c *Collector) Store() store.Store {
	return c.store
}

// Unmovable is the migratetype value the filter matches.
func (c *Collector) Unmovable() int32 {
	return c.unmovable
}

// Close detaches the tracepoint and releases the program and map.
func (c *Collector) Close() error {
	var err error
	if c.tp != nil {
		err = errors.Join(err, c.tp.Close())
	}
	if c.prog != nil {
		err = errors.Join(err, c.prog.Close())
	}
	if c.counters != nil {
		err = errors.Join(err, c.counters.Close())
	}
	return err
}
