package x64

import (
	"fmt"

	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"dynatrans/ir"
)

// lowerTerminal is the entry point Lower calls once the block's body
// instructions are all emitted. It first accounts for the block's cycle
// cost (spec.md §4.7's "block exit calls EmitAddCycles(block.CycleCount())")
// exactly once, regardless of how deeply the terminal itself recurses
// through If/CheckHalt, then dispatches on Kind per §4.8.
func (c *Compiler) lowerTerminal(term *ir.Terminal) error {
	if c.block.CycleCount != 0 {
		c.asm.twoOperand(x86.ASUBQ, constant(int64(c.block.CycleCount)), memory(stateReg, stateCyclesOffset))
	}
	return c.lowerOneTerminal(term)
}

func (c *Compiler) lowerOneTerminal(term *ir.Terminal) error {
	switch term.Kind {
	case ir.TerminalReturnToDispatch:
		c.jumpToReturnStub()
		return nil

	case ir.TerminalInterpret:
		return c.lowerInterpret(term)

	case ir.TerminalLinkBlock:
		return c.lowerLinkBlock(term)

	case ir.TerminalLinkBlockFast:
		return c.lowerLinkBlockFast(term)

	case ir.TerminalPopRSBHint:
		return c.lowerPopRSBHint()

	case ir.TerminalIf:
		return c.lowerIf(term)

	case ir.TerminalCheckHalt:
		return c.lowerCheckHalt(term)

	case ir.TerminalCheckBit:
		// Reserved; spec.md §3/§7 treats emission from the CHIP-8 frontend
		// as an internal invariant violation, never guest-observable.
		return fmt.Errorf("x64: Term::CheckBit has no lowering (internal invariant violation)")

	default:
		return fmt.Errorf("x64: unknown terminal kind %s", term.Kind)
	}
}

// jumpToReturnStub emits an indirect jump through runtime.State's
// return-stub pointer slot — every terminal that needs to "return to the
// run loop" (ReturnToDispatch itself, Interpret's tail, CheckHalt's taken
// branch, and every link's unlinked fallback) funnels through this one
// instruction shape so relocating the stub never touches compiled code.
func (c *Compiler) jumpToReturnStub() {
	c.asm.oneOperand(x86.AJMP, memory(stateReg, stateReturnStubOffset))
}

// lowerInterpret sets the guest PC, calls the InterpreterFallback shim
// for InterpretNumInstructions guest instructions, and falls back to the
// return stub — spec.md §4.8's "set guest PC in state, switch MXCSR out,
// InterpreterFallback(pc, 1) user call, ReturnFromRunCode(check_halt=true)".
// MXCSR restore lives in the shared return stub (runtime/shim_amd64.s's
// returnStubEntry), not inlined per call site.
func (c *Compiler) lowerInterpret(term *ir.Terminal) error {
	pc := term.InterpretNext.PC()
	c.asm.twoOperand(x86.AMOVQ, constant(int64(pc)), memory(stateReg, statePCOffset))
	c.alloc.HostCall(c.asm)
	c.asm.twoOperand(x86.AMOVQ, constant(int64(pc)), regOperand(x86.REG_DI))
	c.asm.twoOperand(x86.AMOVQ, constant(int64(term.InterpretNumInstructions)), regOperand(x86.REG_SI))
	shim := c.alloc.UseScratchGpr(c.asm, c.block.Len())
	c.asm.twoOperand(x86.AMOVQ, memory(stateReg, stateInterpreterShimOffset), regOperand(shim))
	call := c.asm.NewProg()
	call.As = x86.ACALL
	call.To.Type = obj.TYPE_REG
	call.To.Reg = shim
	c.asm.Add(call)
	c.alloc.ScratchGpr(shim)
	c.jumpToReturnStub()
	return nil
}

// reservePatchSite appends n one-byte filler instructions (ABYTE $0xCC —
// an int3 trap, so an unpatched/un-reverted site faults loudly instead of
// running garbage if ever reached before cache.go establishes its
// unlinked baseline) and returns the anchor marking the site's first byte.
func (c *Compiler) reservePatchSite(n int) *obj.Prog {
	var anchor *obj.Prog
	for i := 0; i < n; i++ {
		p := c.asm.rawByte(0xCC)
		if i == 0 {
			anchor = p
		}
	}
	return anchor
}

// lowerLinkBlock emits Terminal.LinkBlock: compare cycles_remaining to
// zero, then a 14-byte PatchSlowLink site that — unlinked — falls through
// into the trampoline emitted right after it (commit next's PC, jump to
// the return stub); once cache.go patches the site, it jumps past the
// trampoline straight into next's compiled entrypoint.
func (c *Compiler) lowerLinkBlock(term *ir.Terminal) error {
	c.asm.twoOperand(x86.ACMPQ, constant(0), memory(stateReg, stateCyclesOffset))
	site := c.reservePatchSite(SlowLinkPatchBytes)
	trampoline := c.emitLinkTrampoline(term.Next.PC())
	c.patchAnchors = append(c.patchAnchors, patchAnchor{
		kind: PatchSlowLink, site: site, trampoline: trampoline,
		hasTarget: true, target: term.Next,
	})
	return nil
}

// lowerLinkBlockFast emits Terminal.LinkBlockFast: a 13-byte PatchFastLink
// site with the same unlinked-trampoline/linked-direct-jump shape as
// LinkBlock's site, but with no preceding cycle comparison (spec.md §4.8:
// "used only when the block cannot possibly exhaust its budget further").
func (c *Compiler) lowerLinkBlockFast(term *ir.Terminal) error {
	site := c.reservePatchSite(FastLinkPatchBytes)
	trampoline := c.emitLinkTrampoline(term.Next.PC())
	c.patchAnchors = append(c.patchAnchors, patchAnchor{
		kind: PatchFastLink, site: site, trampoline: trampoline,
		hasTarget: true, target: term.Next,
	})
	return nil
}

// emitLinkTrampoline writes the small always-present fallback every link
// site's unpatched/reverted form targets: commit the linked-to PC, then
// jump to the return stub. Returns its anchor Prog.
func (c *Compiler) emitLinkTrampoline(nextPC uint32) *obj.Prog {
	anchor := c.asm.twoOperand(x86.AMOVQ, constant(int64(nextPC)), memory(stateReg, statePCOffset))
	c.jumpToReturnStub()
	return anchor
}

// lowerPopRSBHint emits Terminal.PopRSBHint: decrement the RSB head index
// (masked to the circular buffer's size), compare the slot's recorded
// location hash against the guest PC currently in flight, and either
// indirect-jump through the slot's stored code pointer on a match or fall
// through the PatchIndirectLink site (unlinked: the shared return stub;
// see patch.go's PatchIndirectLink) on a mismatch.
func (c *Compiler) lowerPopRSBHint() error {
	slot := c.alloc.UseScratchGpr(c.asm, c.block.Len())
	c.asm.twoOperand(x86.AMOVQ, memory(stateReg, stateRSBIndexOffset), regOperand(slot))
	c.asm.twoOperand(x86.ASUBQ, constant(1), regOperand(slot))
	c.asm.twoOperand(x86.AANDQ, constant(rsbSlots-1), regOperand(slot))
	c.asm.twoOperand(x86.AMOVQ, regOperand(slot), memory(stateReg, stateRSBIndexOffset))

	expected := c.alloc.UseScratchGpr(c.asm, c.block.Len())
	c.asm.twoOperand(x86.AMOVQ, memory(stateReg, statePCOffset), regOperand(expected))
	hash := c.alloc.UseScratchGpr(c.asm, c.block.Len())
	c.asm.twoOperand(x86.AMOVQ, scaledMemory(stateReg, slot, 8, stateRSBLocationsOffset), regOperand(hash))
	c.asm.twoOperand(x86.ACMPQ, regOperand(expected), regOperand(hash))
	c.alloc.ScratchGpr(expected)
	c.alloc.ScratchGpr(hash)
	mismatch := c.asm.oneOperand(x86.AJNE, branch())

	target := c.alloc.UseScratchGpr(c.asm, c.block.Len())
	c.asm.twoOperand(x86.AMOVQ, scaledMemory(stateReg, slot, 8, stateRSBPointersOffset), regOperand(target))
	c.alloc.ScratchGpr(slot)
	jmp := c.asm.NewProg()
	jmp.As = x86.AJMP
	jmp.To.Type = obj.TYPE_REG
	jmp.To.Reg = target
	c.asm.Add(jmp)
	c.alloc.ScratchGpr(target)

	miss := c.asm.NewProg()
	miss.As = obj.ANOP
	c.asm.Add(miss)
	mismatch.To.SetTarget(miss)

	siteHeader1 := c.asm.rawByte(0x48)
	c.asm.rawByte(0xB9)
	for i := 0; i < IndirectLinkPatchBytes-2; i++ {
		c.asm.rawByte(0xCC)
	}
	jmpRcx := c.asm.NewProg()
	jmpRcx.As = x86.AJMP
	jmpRcx.To.Type = obj.TYPE_REG
	jmpRcx.To.Reg = x86.REG_CX
	c.asm.Add(jmpRcx)

	c.patchAnchors = append(c.patchAnchors, patchAnchor{kind: PatchIndirectLink, site: siteHeader1})
	return nil
}

// lowerIf emits Terminal.If: evaluate the already-computed guest-flag
// value, jump past the "then" terminal when it is false, lower "then",
// then lower "else" — matching spec.md §4.8's "the 'then' code follows
// the branch target label" structure.
func (c *Compiler) lowerIf(term *ir.Terminal) error {
	cond := c.operand(c.block.Len(), term.IfValue)
	c.asm.twoOperand(x86.ATESTL, constant(1), cond)
	toElse := c.asm.oneOperand(x86.AJEQ, branch())

	if err := c.lowerOneTerminal(term.Then); err != nil {
		return err
	}
	c.alloc.EndOfAllocScope()
	skipElse := c.asm.oneOperand(x86.AJMP, branch())

	elseStart := c.asm.NewProg()
	elseStart.As = obj.ANOP
	c.asm.Add(elseStart)
	toElse.To.SetTarget(elseStart)

	if err := c.lowerOneTerminal(term.Else); err != nil {
		return err
	}
	c.alloc.EndOfAllocScope()

	after := c.asm.NewProg()
	after.As = obj.ANOP
	c.asm.Add(after)
	skipElse.To.SetTarget(after)
	return nil
}

// lowerCheckHalt emits Terminal.CheckHalt: compare the halt-requested
// flag to zero; on non-zero jump to the (shared) force-return stub; then
// lower the wrapped terminal in the fallthrough path.
func (c *Compiler) lowerCheckHalt(term *ir.Terminal) error {
	c.asm.twoOperand(x86.ACMPB, constant(0), memory(stateReg, stateHaltOffset))
	skip := c.asm.oneOperand(x86.AJEQ, branch())
	c.jumpToReturnStub()

	cont := c.asm.NewProg()
	cont.As = obj.ANOP
	c.asm.Add(cont)
	skip.To.SetTarget(cont)

	return c.lowerOneTerminal(term.Inner)
}
