package armthumb

import (
	"testing"

	"dynatrans/ir"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func findSetRegister(t *testing.T, block *ir.Block, reg Reg) ir.Inst {
	t.Helper()
	for _, inst := range block.Insts() {
		if inst.Op == ir.OpA32SetRegister && inst.Args[0].AsReg() == uint8(reg) {
			return inst
		}
	}
	t.Fatalf("expected a SetRegister(%s, ...) instruction", reg)
	return ir.Inst{}
}

func TestLiftLSLImmShiftBy2(t *testing.T) {
	d, err := NewThumbDecoder()
	assert(t, err == nil, "unexpected error: %v", err)

	// 0x0088 = LSL r0, r1, #2
	program := map[uint32]uint16{0x0: 0x0088, 0x2: 0xE7FE}
	block, err := Lift(d, ir.NewA32Location(0, true, false, 0), func(pc uint32) (uint16, error) { return program[pc], nil })
	assert(t, err == nil, "unexpected lift error: %v", err)

	set := findSetRegister(t, block, R0)
	shiftInst := block.Inst(set.Args[1].Inst(block))
	assert(t, shiftInst.Op == ir.OpLogicalShiftLeft32, "expected LSL r0 to be fed by a LogicalShiftLeft32, got %s", shiftInst.Op)
	assert(t, block.Inst(shiftInst.Args[0].Inst(block)).Args[0].AsReg() == uint8(R1), "expected shift source r1")
	assert(t, shiftInst.Args[1].AsU8() == 2, "expected shift amount 2, got %d", shiftInst.Args[1].AsU8())
}

func TestLiftLSLImmShiftBy31(t *testing.T) {
	d, err := NewThumbDecoder()
	assert(t, err == nil, "unexpected error: %v", err)

	// 0x07C8 = LSL r0, r1, #31
	program := map[uint32]uint16{0x0: 0x07C8, 0x2: 0xE7FE}
	block, err := Lift(d, ir.NewA32Location(0, true, false, 0), func(pc uint32) (uint16, error) { return program[pc], nil })
	assert(t, err == nil, "unexpected lift error: %v", err)

	set := findSetRegister(t, block, R0)
	shiftInst := block.Inst(set.Args[1].Inst(block))
	assert(t, shiftInst.Op == ir.OpLogicalShiftLeft32, "expected a LogicalShiftLeft32 producer")
	assert(t, shiftInst.Args[1].AsU8() == 31, "expected shift amount 31, got %d", shiftInst.Args[1].AsU8())
}

func TestLiftREVSH(t *testing.T) {
	d, err := NewThumbDecoder()
	assert(t, err == nil, "unexpected error: %v", err)

	// 0xBADC = REVSH r4, r3
	program := map[uint32]uint16{0x0: 0xBADC, 0x2: 0xE7FE}
	block, err := Lift(d, ir.NewA32Location(0, true, false, 0), func(pc uint32) (uint16, error) { return program[pc], nil })
	assert(t, err == nil, "unexpected lift error: %v", err)

	set := findSetRegister(t, block, R4)
	revInst := block.Inst(set.Args[1].Inst(block))
	assert(t, revInst.Op == ir.OpByteReverseSignedHalf, "expected REVSH to lower to ByteReverseSignedHalf, got %s", revInst.Op)
	assert(t, block.Inst(revInst.Args[0].Inst(block)).Args[0].AsReg() == uint8(R3), "expected REVSH source r3")
}

func TestLiftBLXSwitchesToARMAndSetsLR(t *testing.T) {
	d, err := NewThumbDecoder()
	assert(t, err == nil, "unexpected error: %v", err)

	program := map[uint32]uint16{0x0: 0xF010, 0x2: 0xEC3E}
	block, err := Lift(d, ir.NewA32Location(0, true, false, 0), func(pc uint32) (uint16, error) { return program[pc], nil })
	assert(t, err == nil, "unexpected lift error: %v", err)

	set := findSetRegister(t, block, LR)
	assert(t, set.Args[1].AsU32() == 0x5, "expected LR = 0x5, got %#x", set.Args[1].AsU32())

	assert(t, block.HasTerminal(), "expected a terminal")
	term := block.Terminal()
	assert(t, term.Kind == ir.TerminalLinkBlock, "expected LinkBlock terminal for BLX")
	assert(t, term.Next.PC() == 0x10880, "expected BLX target PC 0x10880, got %#x", term.Next.PC())
	assert(t, !term.Next.Thumb(), "expected BLX to switch to ARM mode")
}

func TestLiftBLStaysInThumbAndSetsLR(t *testing.T) {
	d, err := NewThumbDecoder()
	assert(t, err == nil, "unexpected error: %v", err)

	program := map[uint32]uint16{0x0: 0xF039, 0x2: 0xFA2A}
	block, err := Lift(d, ir.NewA32Location(0, true, false, 0), func(pc uint32) (uint16, error) { return program[pc], nil })
	assert(t, err == nil, "unexpected lift error: %v", err)

	set := findSetRegister(t, block, LR)
	assert(t, set.Args[1].AsU32() == 0x5, "expected LR = 0x5, got %#x", set.Args[1].AsU32())

	term := block.Terminal()
	assert(t, term.Kind == ir.TerminalLinkBlock, "expected LinkBlock terminal for BL")
	assert(t, term.Next.PC() == 0x39458, "expected BL target PC 0x39458, got %#x", term.Next.PC())
	assert(t, term.Next.Thumb(), "expected BL to remain in Thumb mode")
}

func TestLiftUnknownHalfwordRaisesException(t *testing.T) {
	d, err := NewThumbDecoder()
	assert(t, err == nil, "unexpected error: %v", err)

	program := map[uint32]uint16{0x0: 0xFFFF}
	block, err := Lift(d, ir.NewA32Location(0, true, false, 0), func(pc uint32) (uint16, error) { return program[pc], nil })
	assert(t, err == nil, "unexpected lift error: %v", err)

	term := block.Terminal()
	assert(t, term.Kind == ir.TerminalCheckHalt, "expected CheckHalt-wrapped terminal for undefined halfword")
	assert(t, term.Inner.Kind == ir.TerminalReturnToDispatch, "expected inner ReturnToDispatch")
}
