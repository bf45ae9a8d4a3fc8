package x64

import (
	"fmt"

	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"dynatrans/ir"
)

// Compiler lowers one ir.Block into host machine code: it pairs an
// Assembler (instruction emission) with an Allocator (value placement),
// the same two-responsibilities-one-struct shape wazero's amd64Builder
// uses (builder + locationStack).
type Compiler struct {
	asm   *Assembler
	alloc *Allocator
	block *ir.Block

	// patchAnchors accumulates terminal.go's reserved patch sites in
	// emission order; their *obj.Prog.Pc fields are only valid after
	// Assemble(), so Lower resolves them into the returned CompiledBlock's
	// PatchSites at the very end.
	patchAnchors []patchAnchor
}

// patchAnchor is a patch site recorded before assembly, keyed by the
// obj.Prog golang-asm placed at its first byte (its Pc field becomes the
// final byte offset once Assemble runs).
type patchAnchor struct {
	kind       PatchKind
	site       *obj.Prog
	trampoline *obj.Prog
	hasTarget  bool
	target     ir.LocationDescriptor
}

// CompiledBlock is everything cache.go needs to install a lowered block:
// the assembled machine code and the patch sites terminal.go left in it.
type CompiledBlock struct {
	Code       []byte
	PatchSites []PatchSite
}

// NewCompiler builds a Compiler for block, sized by a rough bytes-per-
// instruction estimate (wazero's builder sizing comment: "arbitrary
// number... TODO: optimize").
func NewCompiler(block *ir.Block) (*Compiler, error) {
	asm, err := NewAssembler(64 * (block.Len() + 8))
	if err != nil {
		return nil, err
	}
	return &Compiler{asm: asm, alloc: NewAllocator(block), block: block}, nil
}

// operand materializes v as an x86 operand: an immediate for compile-time
// constants, otherwise the host register currently (or newly) holding its
// producing instruction's result.
func (c *Compiler) operand(pos int, v ir.Value) obj.Addr {
	if v.IsImmediate(c.block) {
		return constant(int64(v.ImmediateBits(c.block)))
	}
	idx := v.Inst(c.block)
	r := c.alloc.UseGpr(c.asm, idx, pos)
	return regOperand(r)
}

// destRegister allocates (or reuses, where the emitter chose to reuse an
// input) a register for an instruction's own result and records it with
// the allocator.
func (c *Compiler) destRegister(pos int, idx ir.InstIndex) int16 {
	r := c.alloc.takeFreeRegister(c.asm, pos)
	c.alloc.DefineValue(idx, r)
	return r
}

// guestRegisterAddr addresses one slot of runtime.State's register file.
// chip8.Reg and armthumb.Reg are both small integers starting at 0; a
// single runtime.State only ever drives one guest ISA at a time, so they
// may safely share the same backing array without collision.
func guestRegisterAddr(regIndex uint8) obj.Addr {
	return memory(stateReg, stateRegistersOffset+int64(regIndex)*8)
}

// Lower emits every live instruction in program order and returns the
// assembled machine code. Dead instructions (DCE already removed most;
// any remaining void placeholder is skipped) are not emitted.
func (c *Compiler) Lower() (CompiledBlock, error) {
	insts := c.block.Insts()
	for pos := range insts {
		inst := c.block.Inst(ir.InstIndex(pos))
		if inst.IsVoid() {
			continue
		}
		if err := c.lowerOne(pos, ir.InstIndex(pos), inst); err != nil {
			return CompiledBlock{}, err
		}
	}
	c.alloc.EndOfAllocScope()
	// Every instruction result still tracked by the allocator must have no
	// use left past the body loop above — spec.md §4.6's "every live value
	// is dead by scope end" invariant, checked for real rather than just
	// declared.
	for idx := range c.alloc.locations {
		c.alloc.AssertNoMoreUses(idx, len(insts)-1)
	}
	if !c.block.HasTerminal() {
		return CompiledBlock{}, fmt.Errorf("x64: block %#x has no terminal set", c.block.Entry.Hash())
	}
	term := c.block.Terminal()
	if err := c.lowerTerminal(&term); err != nil {
		return CompiledBlock{}, err
	}
	code := c.asm.Assemble()
	sites := make([]PatchSite, len(c.patchAnchors))
	for i, a := range c.patchAnchors {
		site := PatchSite{Kind: a.kind, Offset: int(a.site.Pc), HasTarget: a.hasTarget, Target: a.target}
		if a.trampoline != nil {
			site.TrampolineOffset = int(a.trampoline.Pc)
		}
		sites[i] = site
	}
	return CompiledBlock{Code: code, PatchSites: sites}, nil
}

func (c *Compiler) lowerOne(pos int, idx ir.InstIndex, inst *ir.Inst) error {
	switch inst.Op {
	case ir.OpIdentity:
		// Identity instructions are pure aliases, already collapsed through
		// by every Value.resolve call; nothing to emit.
		return nil

	case ir.OpChip8GetRegister, ir.OpA32GetRegister:
		regIdx := uint8(inst.Args[0].ImmediateBits(c.block))
		dst := c.destRegister(pos, idx)
		c.asm.twoOperand(x86.AMOVQ, guestRegisterAddr(regIdx), regOperand(dst))
		return nil

	case ir.OpChip8SetRegister, ir.OpA32SetRegister:
		regIdx := uint8(inst.Args[0].ImmediateBits(c.block))
		src := c.operand(pos, inst.Args[1])
		c.asm.twoOperand(x86.AMOVQ, src, guestRegisterAddr(regIdx))
		return nil

	case ir.OpChip8WritePC, ir.OpA32WritePC:
		src := c.operand(pos, inst.Args[0])
		c.asm.twoOperand(x86.AMOVQ, src, memory(stateReg, statePCOffset))
		return nil

	case ir.OpAdd32:
		return c.lowerArith(pos, idx, inst, x86.AADDL)
	case ir.OpSub32:
		return c.lowerArith(pos, idx, inst, x86.ASUBL)
	case ir.OpAnd32:
		return c.lowerArith(pos, idx, inst, x86.AANDL)
	case ir.OpOr32:
		return c.lowerArith(pos, idx, inst, x86.AORL)
	case ir.OpXor32:
		return c.lowerArith(pos, idx, inst, x86.AXORL)

	case ir.OpNot32:
		src := c.operand(pos, inst.Args[0])
		dst := c.destRegister(pos, idx)
		c.asm.twoOperand(x86.AMOVL, src, regOperand(dst))
		c.asm.oneOperand(x86.ANOTL, regOperand(dst))
		return nil

	case ir.OpLogicalShiftLeft32:
		return c.lowerShift(pos, idx, inst, x86.ASHLL)
	case ir.OpLogicalShiftRight32:
		return c.lowerShift(pos, idx, inst, x86.ASHRL)
	case ir.OpArithmeticShiftRight32:
		return c.lowerShift(pos, idx, inst, x86.ASARL)
	case ir.OpRotateRight32:
		return c.lowerShift(pos, idx, inst, x86.ARORL)

	case ir.OpEqual32:
		lhs := c.operand(pos, inst.Args[0])
		rhs := c.operand(pos, inst.Args[1])
		dst := c.destRegister(pos, idx)
		c.asm.twoOperand(x86.ACMPL, rhs, lhs)
		p := c.asm.NewProg()
		p.As = x86.ASETEQ
		p.To = regOperand(dst)
		c.asm.Add(p)
		return nil

	case ir.OpByteReverseWord:
		src := c.operand(pos, inst.Args[0])
		dst := c.destRegister(pos, idx)
		c.asm.twoOperand(x86.AMOVL, src, regOperand(dst))
		c.asm.oneOperand(x86.ABSWAPL, regOperand(dst))
		return nil

	case ir.OpByteReverseHalf:
		// Not reachable from either scoped frontend today (armthumb's
		// REV16 is built from generic mask/shift/or instead); implemented
		// for IR completeness should a future frontend emit it directly.
		src := c.operand(pos, inst.Args[0])
		dst := c.destRegister(pos, idx)
		c.asm.twoOperand(x86.AMOVL, src, regOperand(dst))
		c.emitRotateWordImm8(dst, 8) // swap the low halfword's two bytes in place
		return nil

	case ir.OpByteReverseSignedHalf:
		src := c.operand(pos, inst.Args[0])
		dst := c.destRegister(pos, idx)
		c.asm.twoOperand(x86.AMOVL, src, regOperand(dst))
		c.emitRotateWordImm8(dst, 8) // swap the low halfword's two bytes in place
		c.asm.twoOperand(x86.AMOVWLSX, regOperand(dst), regOperand(dst))
		return nil

	case ir.OpSignedSaturatedAdd32, ir.OpSignedSaturatedSub32,
		ir.OpUnsignedSaturatedAdd32, ir.OpUnsignedSaturatedSub32:
		return c.lowerSaturating(pos, idx, inst)

	case ir.OpGetCarryFromOp:
		dst := c.destRegister(pos, idx)
		p := c.asm.NewProg()
		p.As = x86.ASETCS
		p.To = regOperand(dst)
		c.asm.Add(p)
		return nil

	case ir.OpGetOverflowFromOp:
		dst := c.destRegister(pos, idx)
		p := c.asm.NewProg()
		p.As = x86.ASETOS
		// Unsigned saturated producers overflow via the carry flag, not
		// the overflow flag (see lowerUnsignedSaturated); every other
		// whitelisted producer sets OF the normal way.
		producer := c.block.Inst(inst.Args[0].Inst(c.block))
		if producer.Op == ir.OpUnsignedSaturatedAdd32 || producer.Op == ir.OpUnsignedSaturatedSub32 {
			p.As = x86.ASETCS
		}
		p.To = regOperand(dst)
		c.asm.Add(p)
		return nil

	case ir.OpGetNZCVFromOp:
		return c.lowerNZCV(pos, idx)

	case ir.OpGetGEFromOp:
		// GE (SIMD32 greater-or-equal nibble) has no direct host-flag
		// equivalent; out of scope for the instruction classes this
		// backend currently lowers (no emitted Op ever attaches a GE
		// pseudo-op today). Recorded as zero so the IR contract (every
		// instruction produces a value of its declared type) still holds.
		dst := c.destRegister(pos, idx)
		c.asm.twoOperand(x86.AMOVL, constant(0), regOperand(dst))
		return nil

	case ir.OpA32GetCpsr:
		dst := c.destRegister(pos, idx)
		c.asm.twoOperand(x86.AMOVQ, memory(stateReg, stateCpsrOffset), regOperand(dst))
		return nil

	case ir.OpA32SetCpsrNZCV:
		src := c.operand(pos, inst.Args[0])
		c.asm.twoOperand(x86.AMOVQ, src, memory(stateReg, stateCpsrOffset))
		return nil

	case ir.OpChip8ReadMemory8, ir.OpChip8ReadMemory16:
		return c.lowerMemoryRead(pos, idx, inst)
	case ir.OpChip8WriteMemory8, ir.OpChip8WriteMemory16:
		return c.lowerMemoryWrite(pos, inst)

	case ir.OpChip8CallSupervisor, ir.OpA32ExceptionRaised, ir.OpChip8ExceptionRaised:
		return c.lowerHostCall(pos, idx, inst)

	case ir.OpPushRSB:
		return c.lowerPushRSB(pos, inst)

	default:
		return fmt.Errorf("x64: no emitter registered for opcode %s", inst.Op)
	}
}

// emitRotateWordImm8 rotates the low 16 bits of reg left by imm bits,
// leaving the upper bits of reg undefined — callers that need a clean
// 32-bit result mask or sign-extend afterward (see OpByteReverseSignedHalf).
func (c *Compiler) emitRotateWordImm8(reg int16, imm int64) {
	p := c.asm.NewProg()
	p.As = x86.AROLW
	p.From = constant(imm)
	p.To = regOperand(reg)
	c.asm.Add(p)
}

// lowerArith emits the generic two-operand "dst = dst OP src" arithmetic
// shape (wazero's handleAdd/handleSub idiom): operate in place on the
// first operand's register so a subsequent GetNZCVFromOp pseudo-op reads
// the correct host flags immediately after.
func (c *Compiler) lowerArith(pos int, idx ir.InstIndex, inst *ir.Inst, as obj.As) error {
	lhs := c.operand(pos, inst.Args[0])
	rhs := c.operand(pos, inst.Args[1])
	dst := c.destRegister(pos, idx)
	c.asm.twoOperand(x86.AMOVL, lhs, regOperand(dst))
	c.asm.twoOperand(as, rhs, regOperand(dst))
	return nil
}

func (c *Compiler) lowerShift(pos int, idx ir.InstIndex, inst *ir.Inst, as obj.As) error {
	src := c.operand(pos, inst.Args[0])
	amount := c.operand(pos, inst.Args[1])
	dst := c.destRegister(pos, idx)
	c.asm.twoOperand(x86.AMOVL, src, regOperand(dst))
	// x86 shift instructions take their count in CL or as an immediate;
	// the allocator already materializes an immediate shift amount
	// directly (SHL_IMM's constant is the overwhelmingly common case for
	// this scoped frontend), keeping the common path free of a forced CL
	// reservation.
	c.asm.twoOperand(as, amount, regOperand(dst))
	return nil
}

// lowerNZCV packs Negative/Zero/Carry/Overflow from the host flags left
// by the immediately preceding arithmetic instruction into a single
// nibble, matching OpGetNZCVFromOp's TypeNZCV result.
func (c *Compiler) lowerNZCV(pos int, idx ir.InstIndex) error {
	dst := c.destRegister(pos, idx)
	n := c.alloc.UseScratchGpr(c.asm, pos)
	defer c.alloc.ScratchGpr(n)

	setFlag := func(as obj.As, target int16) {
		p := c.asm.NewProg()
		p.As = as
		p.To = regOperand(target)
		c.asm.Add(p)
	}
	setFlag(x86.ASETMI, dst) // N
	setFlag(x86.ASETEQ, n)
	c.asm.twoOperand(x86.ASHLL, constant(1), regOperand(dst))
	c.asm.twoOperand(x86.AORL, regOperand(n), regOperand(dst))
	setFlag(x86.ASETCS, n)
	c.asm.twoOperand(x86.ASHLL, constant(1), regOperand(dst))
	c.asm.twoOperand(x86.AORL, regOperand(n), regOperand(dst))
	setFlag(x86.ASETOS, n)
	c.asm.twoOperand(x86.ASHLL, constant(1), regOperand(dst))
	c.asm.twoOperand(x86.AORL, regOperand(n), regOperand(dst))
	return nil
}
