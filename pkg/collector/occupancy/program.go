package occupancy

import (
	"github.com/cilium/ebpf/asm"

	"github.com/srodi/pcp-bpf/pkg/kernel"
)

const (
	keySlot     = -4  // u32 cpu id
	scratchSlot = -16 // probe_read destination
	valueSlot   = -24 // u64 map value
	exitLabel   = "exit"
)

// probeReadKernelSince is the first release with bpf_probe_read_kernel.
var probeReadKernelSince = kernel.Version{Major: 5, Minor: 5}

// probeReadHelper picks the kernel memory read helper for v.
func probeReadHelper(v kernel.Version) asm.BuiltinFunc {
	if v.Less(probeReadKernelSince) {
		return asm.FnProbeRead
	}
	return asm.FnProbeReadKernel
}

// programConfig carries everything resolved at attach time. The program
// itself contains no conditionals on kernel version.
type programConfig struct {
	countersFD int
	layout     kernel.PCPLayout
	// nodeData is &node_data (an array of pglist_data pointers) when
	// nodeDataIndirect, otherwise &contig_page_data itself.
	nodeData         uint64
	nodeDataIndirect bool
	// perCPUOffset is &__per_cpu_offset, or 0 on kernels without it.
	perCPUOffset uint64
	probeRead    asm.BuiltinFunc
}

// readInto emits probe_read(fp+scratchSlot, size, src) with src already in R3
// and bails out when the read fails.
func readInto(cfg programConfig, size int32) asm.Instructions {
	return asm.Instructions{
		asm.Mov.Reg(asm.R1, asm.RFP),
		asm.Add.Imm(asm.R1, scratchSlot),
		asm.Mov.Imm(asm.R2, size),
		cfg.probeRead.Call(),
		asm.JNE.Imm(asm.R0, 0, exitLabel),
	}
}

// instructions builds the sched_switch handler. It reads the current CPU's
// order-0 unmovable PCP list length and stores it under the CPU id. Every
// unresolvable pointer exits without writing.
func instructions(cfg programConfig) asm.Instructions {
	insns := asm.Instructions{
		asm.FnGetSmpProcessorId.Call(),
		asm.Mov.Reg(asm.R6, asm.R0),
		asm.StoreMem(asm.RFP, keySlot, asm.R6, asm.Word),
	}

	// R7 = node 0 pglist_data
	if cfg.nodeDataIndirect {
		insns = append(insns, asm.LoadImm(asm.R3, int64(cfg.nodeData), asm.DWord))
		insns = append(insns, readInto(cfg, 8)...)
		insns = append(insns,
			asm.LoadMem(asm.R7, asm.RFP, scratchSlot, asm.DWord),
			asm.JEq.Imm(asm.R7, 0, exitLabel),
		)
	} else {
		insns = append(insns, asm.LoadImm(asm.R7, int64(cfg.nodeData), asm.DWord))
	}

	// R8 = zone->per_cpu_pageset (the __percpu base pointer)
	insns = append(insns,
		asm.Mov.Reg(asm.R3, asm.R7),
		asm.Add.Imm(asm.R3, int32(cfg.layout.PagesetPtrOffset)),
	)
	insns = append(insns, readInto(cfg, 8)...)
	insns = append(insns,
		asm.LoadMem(asm.R8, asm.RFP, scratchSlot, asm.DWord),
		asm.JEq.Imm(asm.R8, 0, exitLabel),
	)

	// R8 += __per_cpu_offset[cpu]
	if cfg.perCPUOffset != 0 {
		insns = append(insns,
			asm.LoadImm(asm.R3, int64(cfg.perCPUOffset), asm.DWord),
			asm.Mov.Reg(asm.R4, asm.R6),
			asm.LSh.Imm(asm.R4, 3),
			asm.Add.Reg(asm.R3, asm.R4),
		)
		insns = append(insns, readInto(cfg, 8)...)
		insns = append(insns,
			asm.LoadMem(asm.R9, asm.RFP, scratchSlot, asm.DWord),
			asm.Add.Reg(asm.R8, asm.R9),
		)
	}

	countSize := asm.Word
	if cfg.layout.CountSize == 8 {
		countSize = asm.DWord
	}
	insns = append(insns,
		asm.Mov.Reg(asm.R3, asm.R8),
		asm.Add.Imm(asm.R3, int32(cfg.layout.CountOffset)),
	)
	insns = append(insns, readInto(cfg, int32(cfg.layout.CountSize))...)
	insns = append(insns,
		asm.LoadMem(asm.R1, asm.RFP, scratchSlot, countSize),
		asm.StoreMem(asm.RFP, valueSlot, asm.R1, asm.DWord),

		asm.LoadMapPtr(asm.R1, cfg.countersFD),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, keySlot),
		asm.Mov.Reg(asm.R3, asm.RFP),
		asm.Add.Imm(asm.R3, valueSlot),
		asm.Mov.Imm(asm.R4, 0), // BPF_ANY
		asm.FnMapUpdateElem.Call(),

		asm.Mov.Imm(asm.R0, 0).WithSymbol(exitLabel),
		asm.Return(),
	)
	return insns
}
