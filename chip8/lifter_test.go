package chip8

import (
	"testing"

	"dynatrans/ir"
)

func TestLiftCallEndsBlockWithLinkBlockAndRSBPush(t *testing.T) {
	d, err := NewChip8Decoder()
	assert(t, err == nil, "unexpected error: %v", err)

	program := map[uint32]uint16{0x200: 0x2206}
	block, err := Lift(d, ir.NewChip8Location(0x200), func(pc uint32) (uint16, error) { return program[pc], nil })
	assert(t, err == nil, "unexpected lift error: %v", err)

	assert(t, block.HasTerminal(), "expected a terminal to be set")
	term := block.Terminal()
	assert(t, term.Kind == ir.TerminalLinkBlock, "expected LinkBlock terminal for CALL, got %s", term.Kind)
	assert(t, term.Next.PC() == 0x206, "expected CALL to target PC 0x206, got %#x", term.Next.PC())

	foundPush := false
	for _, inst := range block.Insts() {
		if inst.Op == ir.OpPushRSB {
			foundPush = true
		}
	}
	assert(t, foundPush, "expected a PushRSB instruction emitted for CALL")
}

func TestLiftRetEndsBlockWithPopRSBHint(t *testing.T) {
	d, err := NewChip8Decoder()
	assert(t, err == nil, "unexpected error: %v", err)

	program := map[uint32]uint16{0x206: 0x00EE}
	block, err := Lift(d, ir.NewChip8Location(0x206), func(pc uint32) (uint16, error) { return program[pc], nil })
	assert(t, err == nil, "unexpected lift error: %v", err)

	term := block.Terminal()
	assert(t, term.Kind == ir.TerminalPopRSBHint, "expected PopRSBHint terminal for RET, got %s", term.Kind)
}

func TestLiftAccumulatesStraightLineCode(t *testing.T) {
	d, err := NewChip8Decoder()
	assert(t, err == nil, "unexpected error: %v", err)

	program := map[uint32]uint16{
		0x200: 0x6A05, // LD VA, 5
		0x202: 0x6B03, // LD VB, 3
		0x204: 0x00EE, // RET ends the block
	}
	block, err := Lift(d, ir.NewChip8Location(0x200), func(pc uint32) (uint16, error) { return program[pc], nil })
	assert(t, err == nil, "unexpected lift error: %v", err)
	assert(t, block.CycleCount == 3, "expected 3 lifted instructions, got cycle count %d", block.CycleCount)
	assert(t, block.Terminal().Kind == ir.TerminalPopRSBHint, "expected block to end at RET")
}

func TestLiftUndefinedWordRaisesException(t *testing.T) {
	d, err := NewChip8Decoder()
	assert(t, err == nil, "unexpected error: %v", err)

	program := map[uint32]uint16{0x200: 0xFFFF}
	block, err := Lift(d, ir.NewChip8Location(0x200), func(pc uint32) (uint16, error) { return program[pc], nil })
	assert(t, err == nil, "unexpected lift error: %v", err)

	term := block.Terminal()
	assert(t, term.Kind == ir.TerminalCheckHalt, "expected CheckHalt-wrapped terminal for undefined word")
	assert(t, term.Inner.Kind == ir.TerminalReturnToDispatch, "expected inner ReturnToDispatch")
}
