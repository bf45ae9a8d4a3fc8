package ir

import "testing"

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestValueIdentityCollapse(t *testing.T) {
	b := NewBlock(NewChip8Location(0x200))

	reg := b.Emit(OpChip8GetRegister, ImmReg(0))
	aliased := b.Emit(OpIdentity, reg)

	assert(t, !aliased.IsImmediate(b), "aliased opaque value should not be immediate before collapsing producer")
	assert(t, aliased.Inst(b) == reg.Inst(b), "Identity should collapse to the same producer instruction, got %d vs %d", aliased.Inst(b), reg.Inst(b))
	assert(t, aliased.Type(b) == TypeU32, "collapsed type should be U32, got %s", aliased.Type(b))
}

func TestReplaceUsesWithPreservesHandles(t *testing.T) {
	b := NewBlock(NewChip8Location(0x200))

	sum := b.Emit(OpAdd32, ImmU32(1), ImmU32(2))
	user := b.Emit(OpIdentity, sum)

	b.ReplaceUsesWith(sum.Inst(b), ImmU32(99))

	assert(t, user.IsImmediate(b), "value should resolve to an immediate after ReplaceUsesWith")
	assert(t, user.resolve(b).AsU32() == 99, "expected replaced value 99, got %d", user.resolve(b).AsU32())
}

func TestPseudoOpSingleAttachEnforced(t *testing.T) {
	b := NewBlock(NewChip8Location(0x200))
	sum := b.Emit(OpAdd32, ImmU32(1), ImmU32(2))

	_ = b.EmitPseudoOp(OpGetNZCVFromOp, sum)

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic attaching a second NZCV pseudo-op to the same producer")
		}
	}()
	_ = b.EmitPseudoOp(OpGetNZCVFromOp, sum)
}

func TestPseudoOpWhitelistEnforced(t *testing.T) {
	b := NewBlock(NewChip8Location(0x200))
	reg := b.Emit(OpChip8GetRegister, ImmReg(0))

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic attaching NZCV pseudo-op to a non-whitelisted producer")
		}
	}()
	_ = b.EmitPseudoOp(OpGetNZCVFromOp, reg)
}

func TestTerminalSetOnce(t *testing.T) {
	b := NewBlock(NewChip8Location(0x200))
	b.SetTerminal(ReturnToDispatch())

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic setting a second terminal on the same block")
		}
	}()
	b.SetTerminal(ReturnToDispatch())
}

func TestDCERemovesDeadPureInstructions(t *testing.T) {
	b := NewBlock(NewChip8Location(0x200))
	dead := b.Emit(OpAdd32, ImmU32(1), ImmU32(2))
	_ = dead
	b.EmitVoid(OpChip8WritePC, ImmU32(0x202))

	b.DCE()

	assert(t, b.Inst(dead.inst).IsVoid(), "dead pure Add32 with no uses should be DCE'd")
}

func TestDCEKeepsSideEffectingInstructions(t *testing.T) {
	b := NewBlock(NewChip8Location(0x200))
	write := b.Emit(OpChip8ReadMemory8, ImmU32(0x200))
	_ = write
	b.DCE()
	// ReadMemory8 has EffectReadsMemory, so even with zero uses it must survive DCE.
	idx := InstIndex(0)
	assert(t, !b.Inst(idx).IsVoid(), "memory-reading instruction must not be eliminated even with zero uses")
}

func TestLocationDescriptorAdvancePCPreservesModeBits(t *testing.T) {
	loc := NewA32Location(0x1000, true, false, 3)
	advanced := loc.AdvancePC(2)

	assert(t, advanced.PC() == 0x1002, "expected PC 0x1002, got %#x", advanced.PC())
	assert(t, advanced.Thumb(), "Thumb flag should survive AdvancePC")
	assert(t, advanced.FPCRRoundingMode() == 3, "FPCR rounding mode should survive AdvancePC, got %d", advanced.FPCRRoundingMode())
}

func TestChip8LocationHash(t *testing.T) {
	loc := NewChip8Location(0x200)
	assert(t, loc.Hash() == uint64(0x200)<<32, "expected hash %#x, got %#x", uint64(0x200)<<32, loc.Hash())
}
