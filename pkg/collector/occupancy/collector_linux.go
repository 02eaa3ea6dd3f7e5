//go:build linux
// +build linux

package occupancy

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/btf"
	"github.com/cilium/ebpf/link"
	"github.com/spf13/afero"

	"github.com/srodi/pcp-bpf/pkg/kernel"
	"github.com/srodi/pcp-bpf/pkg/store"
)

// Collector owns the sched_switch program that samples PCP occupancy and
// the array map it writes into.
type Collector struct {
	counters *ebpf.Map
	prog     *ebpf.Program
	tp       link.Link
	store    *store.MapStore
	layout   kernel.PCPLayout
}

// NewCollector resolves the per-CPU pageset layout of the running kernel,
// assembles the sampler and attaches it to sched/sched_switch.
func NewCollector() (*Collector, error) {
	version, err := kernel.CurrentVersion()
	if err != nil {
		return nil, err
	}
	spec, err := btf.LoadKernelSpec()
	if err != nil {
		return nil, fmt.Errorf("loading kernel BTF: %w", err)
	}
	unmovable, err := kernel.EnumValue(spec, "migratetype", "MIGRATE_UNMOVABLE")
	if err != nil {
		return nil, err
	}
	strategy, err := kernel.SelectPCPStrategy(spec, version)
	if err != nil {
		return nil, fmt.Errorf("selecting pcp layout for %s: %w", version, err)
	}
	layout, err := kernel.ResolvePCPLayout(spec, strategy, unmovable)
	if err != nil {
		return nil, fmt.Errorf("resolving pcp layout for %s: %w", version, err)
	}

	syms, err := kernel.LookupSymbols(afero.NewOsFs(), "node_data", "contig_page_data", "__per_cpu_offset")
	if err != nil {
		return nil, err
	}
	if syms["__per_cpu_offset"] == 0 {
		return nil, fmt.Errorf("__per_cpu_offset: %w", kernel.ErrSymbolNotFound)
	}
	cfg := programConfig{
		layout:       layout,
		perCPUOffset: syms["__per_cpu_offset"],
		probeRead:    probeReadHelper(version),
	}
	switch {
	case syms["node_data"] != 0:
		cfg.nodeData, cfg.nodeDataIndirect = syms["node_data"], true
	case syms["contig_page_data"] != 0:
		cfg.nodeData = syms["contig_page_data"]
	default:
		return nil, fmt.Errorf("node_data or contig_page_data: %w", kernel.ErrSymbolNotFound)
	}

	cpus, err := ebpf.PossibleCPU()
	if err != nil {
		return nil, fmt.Errorf("counting possible cpus: %w", err)
	}
	counters, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "pcp_cnt",
		Type:       ebpf.Array,
		KeySize:    4,
		ValueSize:  8,
		MaxEntries: uint32(cpus),
	})
	if err != nil {
		return nil, fmt.Errorf("creating counter map: %w", err)
	}
	cfg.countersFD = counters.FD()

	prog, err := ebpf.NewProgram(&ebpf.ProgramSpec{
		Name:         "pcp_occupancy",
		Type:         ebpf.TracePoint,
		License:      "GPL",
		Instructions: instructions(cfg),
	})
	if err != nil {
		counters.Close()
		return nil, fmt.Errorf("loading occupancy program: %w", err)
	}

	tp, err := link.Tracepoint("sched", "sched_switch", prog, nil)
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
	return &Collector{counters: counters, prog: prog, tp: tp, store: st, layout: layout}, nil
}

// Store exposes the counter table; every possible CPU has a slot.
func (c *Collector) Store() store.Store {
	return c.store
}

// Layout reports how the pageset was resolved.
func (c *Collector) Layout() kernel.PCPLayout {
	return c.layout
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
