package x64

import (
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"dynatrans/ir"
)

// Page-table geometry, grounded on original_source/src/dynarmic/config.h's
// PAGE_BITS=12 constant: guest addresses are split into a 20-bit page
// index and a 12-bit in-page offset, addressing a page_table array of
// 8-byte host pointers (nil entry == page not mapped, fast path misses).
const (
	pageBits       = 12
	pageOffsetMask = (1 << pageBits) - 1
)

// lowerMemoryRead emits the inline fast path: look up the guest page in
// pageTableReg's table, and on a hit load directly from host memory;
// on a miss (nil page pointer), fall back to the MemoryRead callback shim.
// Grounded in wazero's handleBrIf branch-then-patch-target idiom (see
// asm.go's branch()/SetTarget usage) generalized from a Wasm conditional
// branch to a cache-miss slow path.
func (c *Compiler) lowerMemoryRead(pos int, idx ir.InstIndex, inst *ir.Inst) error {
	width := readWidth(inst.Op)
	addr := c.operand(pos, inst.Args[0])
	dst := c.destRegister(pos, idx)
	page := c.alloc.UseScratchGpr(c.asm, pos)

	c.asm.twoOperand(x86.AMOVQ, addr, regOperand(page))
	c.asm.twoOperand(x86.ASHRQ, constant(pageBits), regOperand(page))
	c.asm.twoOperand(x86.AMOVQ, scaledMemory(pageTableReg, page, 8, 0), regOperand(page))

	c.asm.twoOperand(x86.ATESTQ, regOperand(page), regOperand(page))
	missJump := c.asm.oneOperand(x86.AJEQ, branch())

	offsetReg := c.alloc.UseScratchGpr(c.asm, pos)
	c.asm.twoOperand(x86.AMOVQ, addr, regOperand(offsetReg))
	c.asm.twoOperand(x86.AANDQ, constant(pageOffsetMask), regOperand(offsetReg))
	loadFrom := scaledMemory(page, offsetReg, 1, 0)
	c.alloc.ScratchGpr(offsetReg)
	if width == 8 {
		c.asm.twoOperand(x86.AMOVBLZX, loadFrom, regOperand(dst))
	} else {
		c.asm.twoOperand(x86.AMOVWLZX, loadFrom, regOperand(dst))
	}
	c.alloc.ScratchGpr(page)
	doneJump := c.asm.oneOperand(x86.AJMP, branch())

	slowPathEntry := c.callMemoryShim(pos, stateMemoryReadShimOffset, addr, obj.Addr{}, false, dst, width)
	missJump.To.SetTarget(slowPathEntry)

	done := c.asm.NewProg()
	c.asm.Add(done)
	doneJump.To.SetTarget(done)
	return nil
}

// lowerMemoryWrite mirrors lowerMemoryRead for the write direction; the
// slow path carries no result value.
func (c *Compiler) lowerMemoryWrite(pos int, inst *ir.Inst) error {
	width := writeWidth(inst.Op)
	addr := c.operand(pos, inst.Args[0])
	value := c.operand(pos, inst.Args[1])
	page := c.alloc.UseScratchGpr(c.asm, pos)

	c.asm.twoOperand(x86.AMOVQ, addr, regOperand(page))
	c.asm.twoOperand(x86.ASHRQ, constant(pageBits), regOperand(page))
	c.asm.twoOperand(x86.AMOVQ, scaledMemory(pageTableReg, page, 8, 0), regOperand(page))

	c.asm.twoOperand(x86.ATESTQ, regOperand(page), regOperand(page))
	missJump := c.asm.oneOperand(x86.AJEQ, branch())

	offsetReg := c.alloc.UseScratchGpr(c.asm, pos)
	c.asm.twoOperand(x86.AMOVQ, addr, regOperand(offsetReg))
	c.asm.twoOperand(x86.AANDQ, constant(pageOffsetMask), regOperand(offsetReg))
	storeTo := scaledMemory(page, offsetReg, 1, 0)
	c.alloc.ScratchGpr(offsetReg)
	if width == 8 {
		c.asm.twoOperand(x86.AMOVB, value, storeTo)
	} else {
		c.asm.twoOperand(x86.AMOVW, value, storeTo)
	}
	c.alloc.ScratchGpr(page)
	doneJump := c.asm.oneOperand(x86.AJMP, branch())

	slowPathEntry := c.callMemoryShim(pos, stateMemoryWriteShimOffset, addr, value, true, -1, width)
	missJump.To.SetTarget(slowPathEntry)

	done := c.asm.NewProg()
	c.asm.Add(done)
	doneJump.To.SetTarget(done)
	return nil
}

func readWidth(op ir.Op) int {
	if op == ir.OpChip8ReadMemory8 {
		return 8
	}
	return 16
}

func writeWidth(op ir.Op) int {
	if op == ir.OpChip8WriteMemory8 {
		return 8
	}
	return 16
}

// callMemoryShim spills live register state, loads the trampoline pointer
// from runtime.State at shimOffset, and calls it with (addr, width) or
// (addr, value, width) per the fixed DI/SI/CX convention
// runtime/shim_amd64.s's entry stubs expect — this is the one place
// compiled code crosses into Go code, so it follows a small fixed-register
// C-like calling convention rather than Go's internal register ABI,
// matching how wazero's legacy JIT backend bridges into host functions via
// a fixed-signature trampoline. widthBits (8 or 16) lets the single shared
// shim distinguish an 8-bit access from a 16-bit one, since both widths'
// inline fast paths fall back to the same shim offset. Returns the first
// emitted Prog so callers can SetTarget a branch at this slow path.
func (c *Compiler) callMemoryShim(pos int, shimOffset int64, addr, value obj.Addr, hasValue bool, dst int16, widthBits int) *obj.Prog {
	// ANOP anchors the slow path's branch target at the very first
	// instruction of this sequence; HostCall's spill traffic (if any) must
	// execute as part of the slow path, not be skipped by the jump.
	entry := c.asm.NewProg()
	entry.As = obj.ANOP
	c.asm.Add(entry)

	// HostCall copies every register-resident value to its spill slot
	// without clearing the register itself, so addr/value's original
	// registers (captured by the caller's earlier c.operand calls) are
	// still valid to read from immediately afterward.
	c.alloc.HostCall(c.asm)
	c.asm.twoOperand(x86.AMOVQ, addr, regOperand(x86.REG_DI))
	if hasValue {
		c.asm.twoOperand(x86.AMOVQ, value, regOperand(x86.REG_SI))
	}
	c.asm.twoOperand(x86.AMOVQ, constant(int64(widthBits)), regOperand(x86.REG_CX))
	shim := c.alloc.UseScratchGpr(c.asm, pos)
	c.asm.twoOperand(x86.AMOVQ, memory(stateReg, shimOffset), regOperand(shim))
	call := c.asm.NewProg()
	call.As = x86.ACALL
	call.To.Type = obj.TYPE_REG
	call.To.Reg = shim
	c.asm.Add(call)
	c.alloc.ScratchGpr(shim)
	if dst >= 0 {
		c.asm.twoOperand(x86.AMOVQ, regOperand(x86.REG_AX), regOperand(dst))
	}
	return entry
}

// lowerHostCall bridges OpChip8CallSupervisor/OpA32ExceptionRaised/
// OpChip8ExceptionRaised into the matching runtime.Callbacks shim,
// following the same spill-then-CALL shape as callMemoryShim.
func (c *Compiler) lowerHostCall(pos int, idx ir.InstIndex, inst *ir.Inst) error {
	shimOffset := int64(stateSupervisorShimOffset)
	if inst.Op != ir.OpChip8CallSupervisor {
		shimOffset = stateExceptionShimOffset
	}
	first := c.operand(pos, inst.Args[0])
	var second obj.Addr
	if inst.Op != ir.OpChip8CallSupervisor {
		second = c.operand(pos, inst.Args[1])
	}
	// HostCall copies (rather than clears) register-resident values, so
	// first/second's original registers are still readable afterward.
	c.alloc.HostCall(c.asm)
	c.asm.twoOperand(x86.AMOVQ, first, regOperand(x86.REG_DI))
	if inst.Op != ir.OpChip8CallSupervisor {
		c.asm.twoOperand(x86.AMOVQ, second, regOperand(x86.REG_SI))
	}
	shim := c.alloc.UseScratchGpr(c.asm, pos)
	c.asm.twoOperand(x86.AMOVQ, memory(stateReg, shimOffset), regOperand(shim))
	call := c.asm.NewProg()
	call.As = x86.ACALL
	call.To.Type = obj.TYPE_REG
	call.To.Reg = shim
	c.asm.Add(call)
	c.alloc.ScratchGpr(shim)
	return nil
}

// lowerPushRSB appends a (location_hash, code_ptr) pair to the circular
// Return-Stack Buffer, advancing state.RSBIndex mod rsbSlots. The code
// pointer half is left zero here — cache.BlockDescriptor linking patches
// it in once the callee block is actually compiled, per spec.md §3's
// patch-based-linking description.
func (c *Compiler) lowerPushRSB(pos int, inst *ir.Inst) error {
	hash := c.operand(pos, inst.Args[0])
	slot := c.alloc.UseScratchGpr(c.asm, pos)

	c.asm.twoOperand(x86.AMOVQ, memory(stateReg, stateRSBIndexOffset), regOperand(slot))
	c.asm.twoOperand(x86.AANDQ, constant(rsbSlots-1), regOperand(slot))

	c.asm.twoOperand(x86.AMOVQ, hash, scaledMemory(stateReg, slot, 8, stateRSBLocationsOffset))
	c.asm.twoOperand(x86.AMOVQ, constant(0), scaledMemory(stateReg, slot, 8, stateRSBPointersOffset))
	c.alloc.ScratchGpr(slot)

	next := c.alloc.UseScratchGpr(c.asm, pos)
	c.asm.twoOperand(x86.AMOVQ, memory(stateReg, stateRSBIndexOffset), regOperand(next))
	c.asm.twoOperand(x86.AADDQ, constant(1), regOperand(next))
	c.asm.twoOperand(x86.AMOVQ, regOperand(next), memory(stateReg, stateRSBIndexOffset))
	c.alloc.ScratchGpr(next)
	return nil
}
