package x64

import (
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"dynatrans/ir"
)

// lowerSaturating ports dynarmic's EmitSignedSaturatedOp/EmitUnsignedSaturation
// idiom (original_source/src/backend/X64/emit_x64_saturation.cpp): compute
// the result with an ordinary add/sub, precompute the saturated
// replacement value from the operands' signs/magnitudes, then CMOV the
// replacement in based on the flag the arithmetic instruction itself
// leaves set. No branches, matching the original's branch-free approach.
func (c *Compiler) lowerSaturating(pos int, idx ir.InstIndex, inst *ir.Inst) error {
	switch inst.Op {
	case ir.OpSignedSaturatedAdd32:
		return c.lowerSignedSaturated(pos, idx, inst, x86.AADDL)
	case ir.OpSignedSaturatedSub32:
		return c.lowerSignedSaturated(pos, idx, inst, x86.ASUBL)
	case ir.OpUnsignedSaturatedAdd32:
		return c.lowerUnsignedSaturated(pos, idx, inst, x86.AADDL, 0xFFFFFFFF)
	case ir.OpUnsignedSaturatedSub32:
		return c.lowerUnsignedSaturated(pos, idx, inst, x86.ASUBL, 0)
	default:
		panic(ir.InvariantViolation{Where: "x64.lowerSaturating", Why: "opcode is not a saturating arithmetic op"})
	}
}

// lowerSignedSaturated computes, from the sign of the first operand alone,
// the value the result must clamp to on signed overflow (0x7FFFFFFF if a
// was non-negative, 0x80000000 if a was negative — the only two values a
// single signed add/sub can overflow to) and CMOVs it in when the
// arithmetic instruction sets OF.
func (c *Compiler) lowerSignedSaturated(pos int, idx ir.InstIndex, inst *ir.Inst, as obj.As) error {
	a := c.operand(pos, inst.Args[0])
	b := c.operand(pos, inst.Args[1])
	dst := c.destRegister(pos, idx)
	saturated := c.alloc.UseScratchGpr(c.asm, pos)
	defer c.alloc.ScratchGpr(saturated)

	c.asm.twoOperand(x86.AMOVL, a, regOperand(saturated))
	c.asm.twoOperand(x86.ASARL, constant(31), regOperand(saturated))
	c.asm.twoOperand(x86.AXORL, constant(0x7FFFFFFF), regOperand(saturated))

	c.asm.twoOperand(x86.AMOVL, a, regOperand(dst))
	c.asm.twoOperand(as, b, regOperand(dst))

	p := c.asm.NewProg()
	p.As = x86.ACMOVLOS
	p.From = regOperand(saturated)
	p.To = regOperand(dst)
	c.asm.Add(p)

	// A GetOverflowFromOp pseudo-op, if present, is the very next Inst the
	// lifter emitted after this producer (see armthumb/chip8's Emit-then-
	// EmitPseudoOp call pattern) — Lower's main loop reaches it immediately
	// after this instruction, while OF still holds the value the CMOVLOS
	// above just consumed, so no inline handling is needed here.
	return nil
}

// lowerUnsignedSaturated clamps to clampTo (0xFFFFFFFF for add-overflow,
// 0 for sub-underflow) whenever the arithmetic instruction leaves the
// carry flag set (unsigned overflow/borrow).
func (c *Compiler) lowerUnsignedSaturated(pos int, idx ir.InstIndex, inst *ir.Inst, as obj.As, clampTo int64) error {
	a := c.operand(pos, inst.Args[0])
	b := c.operand(pos, inst.Args[1])
	dst := c.destRegister(pos, idx)
	saturated := c.alloc.UseScratchGpr(c.asm, pos)
	defer c.alloc.ScratchGpr(saturated)

	c.asm.twoOperand(x86.AMOVL, a, regOperand(dst))
	c.asm.twoOperand(as, b, regOperand(dst))
	c.asm.twoOperand(x86.AMOVL, constant(clampTo), regOperand(saturated))

	p := c.asm.NewProg()
	p.As = x86.ACMOVLCS
	p.From = regOperand(saturated)
	p.To = regOperand(dst)
	c.asm.Add(p)

	// See lowerSignedSaturated: an attached GetOverflowFromOp pseudo-op is
	// the immediately following Inst and reads CF itself, unaffected by
	// anything emitted here.
	return nil
}
