package allocs

import (
	"fmt"

	"github.com/cilium/ebpf/asm"

	"github.com/srodi/pcp-bpf/pkg/kernel"
)

const (
	keySlot   = -4
	zeroSlot  = -16
	exitLabel = "exit"
	incLabel  = "inc"

	bpfNoExist = 1

	// defaultUnmovable is MIGRATE_UNMOVABLE in upstream enum migratetype.
	defaultUnmovable = 0
)

// programConfig carries the tracepoint layout and filter constants.
type programConfig struct {
	countersFD  int
	order       kernel.Field
	migratetype kernel.Field
	unmovable   int32
}

func loadSize(f kernel.Field) (asm.Size, error) {
	switch f.Size {
	case 1:
		return asm.Byte, nil
	case 2:
		return asm.Half, nil
	case 4:
		return asm.Word, nil
	case 8:
		return asm.DWord, nil
	}
	return 0, fmt.Errorf("field %s has unsupported size %d", f.Name, f.Size)
}

// filterJump exits unless the field in R2 equals value.
func filterJump(f kernel.Field, value int32) asm.Instruction {
	if f.Size <= 4 {
		return asm.JNE.Imm32(asm.R2, value, exitLabel)
	}
	return asm.JNE.Imm(asm.R2, value, exitLabel)
}

// instructions builds the mm_page_alloc handler: order-0 unmovable
// allocations bump the current CPU's counter; anything else returns at once.
// When the table cannot take a new CPU the event is dropped.
func instructions(cfg programConfig) (asm.Instructions, error) {
	orderSize, err := loadSize(cfg.order)
	if err != nil {
		return nil, err
	}
	mtSize, err := loadSize(cfg.migratetype)
	if err != nil {
		return nil, err
	}

	return asm.Instructions{
		asm.Mov.Reg(asm.R6, asm.R1),

		asm.LoadMem(asm.R2, asm.R6, int16(cfg.order.Offset), orderSize),
		filterJump(cfg.order, 0),
		asm.LoadMem(asm.R2, asm.R6, int16(cfg.migratetype.Offset), mtSize),
		filterJump(cfg.migratetype, cfg.unmovable),

		asm.FnGetSmpProcessorId.Call(),
		asm.StoreMem(asm.RFP, keySlot, asm.R0, asm.Word),

		asm.LoadMapPtr(asm.R1, cfg.countersFD),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, keySlot),
		asm.FnMapLookupElem.Call(),
		asm.JNE.Imm(asm.R0, 0, incLabel),

		asm.StoreImm(asm.RFP, zeroSlot, 0, asm.DWord),
		asm.LoadMapPtr(asm.R1, cfg.countersFD),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, keySlot),
		asm.Mov.Reg(asm.R3, asm.RFP),
		asm.Add.Imm(asm.R3, zeroSlot),
		asm.Mov.Imm(asm.R4, bpfNoExist),
		asm.FnMapUpdateElem.Call(),

		asm.LoadMapPtr(asm.R1, cfg.countersFD),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, keySlot),
		asm.FnMapLookupElem.Call(),
		asm.JEq.Imm(asm.R0, 0, exitLabel),

		asm.Mov.Imm(asm.R1, 1).WithSymbol(incLabel),
		asm.StoreXAdd(asm.R0, asm.R1, asm.DWord),

		asm.Mov.Imm(asm.R0, 0).WithSymbol(exitLabel),
		asm.Return(),
	}, nil
}
