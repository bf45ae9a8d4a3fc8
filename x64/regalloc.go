package x64

import (
	"sort"

	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"dynatrans/ir"
)

// Reserved host registers, grounded on wazero's engineInstanceReg/
// cachedStackBasePointerReg const block (dae1d11e_tetratelabs-wazero):
// a handful of GPRs are carved out for the JIT's own bookkeeping and
// never handed to the value allocator.
const (
	// stateReg holds a pointer to the running runtime.State (guest
	// register file, spill array, cycle counters) for the lifetime of a
	// compiled block.
	stateReg = x86.REG_R12
	// spillBaseReg holds the base address of state.Spill[64]uint64,
	// avoiding a reload-from-stateReg-then-offset on every spill access.
	spillBaseReg = x86.REG_R13
	// pageTableReg holds the guest memory page-table base pointer for
	// emit_memory.go's inline fast path.
	pageTableReg = x86.REG_R14
)

// gprPool is the set of GPRs available to the value allocator: every
// general-purpose register except the three reserved above and the host
// frame/stack pointers (REG_BP, REG_SP), which golang-asm/the Go runtime
// calling convention require untouched.
var gprPool = []int16{
	x86.REG_AX, x86.REG_BX, x86.REG_CX, x86.REG_DX,
	x86.REG_SI, x86.REG_DI,
	x86.REG_R8, x86.REG_R9, x86.REG_R10, x86.REG_R11, x86.REG_R15,
}

// spillSlots matches runtime.State's fixed 64-entry overflow array
// (spec.md §3 JIT state / DESIGN.md's runtime/state.go entry).
const spillSlots = 64

// valueLocation is where one Inst's result currently lives: either a host
// GPR or a slot in the spill array, never both at once.
type valueLocation struct {
	inst      ir.InstIndex
	register  int16 // -1 if spilled
	spillSlot int   // -1 if in a register
}

func (l *valueLocation) inRegister() bool { return l.register >= 0 }

// Allocator is the C8 register allocator: it tracks where every live
// Inst's result currently lives and assigns/evicts host GPRs on demand,
// grounded on wazero's valueLocationStack (assignRegisterToValue/
// releaseRegister/takeFreeRegister) generalized from a stack machine's
// operand stack to an SSA block's instruction results, keyed by
// ir.InstIndex instead of stack depth.
type Allocator struct {
	block *ir.Block

	// usePositions[idx] is the ascending list of instruction positions at
	// which idx is consumed as an argument, precomputed once per block so
	// eviction can pick the value whose NEXT use (after the current
	// position) is furthest away — spec.md §4.6's eviction policy.
	usePositions map[ir.InstIndex][]int

	locations map[ir.InstIndex]*valueLocation
	free      []int16
	spillFree [spillSlots]bool

	scratchOut []int16 // scratch registers currently lent out via UseScratchGpr
}

// NewAllocator precomputes use positions for block and returns an
// allocator with every GPR and spill slot free.
func NewAllocator(block *ir.Block) *Allocator {
	a := &Allocator{
		block:        block,
		usePositions: make(map[ir.InstIndex][]int),
		locations:    make(map[ir.InstIndex]*valueLocation),
		free:         append([]int16(nil), gprPool...),
	}
	for i := range a.spillFree {
		a.spillFree[i] = true
	}
	insts := block.Insts()
	for pos, inst := range insts {
		for _, arg := range inst.Args {
			if arg.IsImmediate(block) {
				continue
			}
			idx := arg.Inst(block)
			a.usePositions[idx] = append(a.usePositions[idx], pos)
		}
	}
	for idx := range a.usePositions {
		sort.Ints(a.usePositions[idx])
	}
	return a
}

// nextUseAfter returns the smallest recorded use position for idx that is
// > pos, or math.MaxInt if idx has no further use.
func (a *Allocator) nextUseAfter(idx ir.InstIndex, pos int) int {
	positions := a.usePositions[idx]
	for _, p := range positions {
		if p > pos {
			return p
		}
	}
	return int(^uint(0) >> 1)
}

// GetArgumentInfo reports whether v is a compile-time immediate (in which
// case callers should emit an immediate operand directly, with no
// register needed) or a register-backed producer.
func (a *Allocator) GetArgumentInfo(v ir.Value) (immediate bool, value ir.Value) {
	return v.IsImmediate(a.block), v
}

// evict spills the resident value occupying reg, chosen by the caller,
// into a free spill slot and emits the MOV. It is the allocator's only
// source of spill traffic besides an explicit HostCall-driven flush.
func (a *Allocator) evict(asm *Assembler, reg int16) {
	var victim *valueLocation
	for _, loc := range a.locations {
		if loc.register == reg {
			victim = loc
			break
		}
	}
	if victim == nil {
		panic(ir.InvariantViolation{Where: "x64.Allocator.evict", Why: "no resident value found in the register being evicted"})
	}
	slot := a.allocSpillSlot()
	asm.twoOperand(x86.AMOVQ, regOperand(reg), memory(spillBaseReg, int64(slot)*8))
	victim.register = -1
	victim.spillSlot = slot
	a.free = append(a.free, reg)
}

func (a *Allocator) allocSpillSlot() int {
	for i, free := range a.spillFree {
		if free {
			a.spillFree[i] = false
			return i
		}
	}
	panic(ir.InvariantViolation{Where: "x64.Allocator.allocSpillSlot", Why: "spill array exhausted (more than 64 simultaneously live values)"})
}

// pickEvictionVictim chooses, among currently register-resident values,
// the one whose next use (strictly after pos) is furthest away —
// "furthest-next-use" eviction, the standard choice for minimizing future
// reload traffic when no perfect information about the rest of the
// program is available.
func (a *Allocator) pickEvictionVictim(pos int) int16 {
	var bestReg int16 = -1
	bestDistance := -1
	for _, loc := range a.locations {
		if !loc.inRegister() {
			continue
		}
		dist := a.nextUseAfter(loc.inst, pos)
		if dist > bestDistance {
			bestDistance = dist
			bestReg = loc.register
		}
	}
	if bestReg < 0 {
		panic(ir.InvariantViolation{Where: "x64.Allocator.pickEvictionVictim", Why: "no register-resident value available to evict"})
	}
	return bestReg
}

// takeFreeRegister returns a free GPR, evicting the furthest-next-use
// resident value at position pos if none is free.
func (a *Allocator) takeFreeRegister(asm *Assembler, pos int) int16 {
	if len(a.free) > 0 {
		r := a.free[len(a.free)-1]
		a.free = a.free[:len(a.free)-1]
		return r
	}
	victim := a.pickEvictionVictim(pos)
	a.evict(asm, victim)
	for i, r := range a.free {
		if r == victim {
			a.free = append(a.free[:i], a.free[i+1:]...)
			return r
		}
	}
	return victim
}

// UseGpr materializes idx's value into a host register, reloading it from
// its spill slot if necessary, and returns that register. pos is idx's
// consumer's position in the block (used to drive eviction decisions for
// any register this call must free up).
func (a *Allocator) UseGpr(asm *Assembler, idx ir.InstIndex, pos int) int16 {
	loc, ok := a.locations[idx]
	if !ok {
		panic(ir.InvariantViolation{Where: "x64.Allocator.UseGpr", Why: "no location recorded for producer instruction"})
	}
	if loc.inRegister() {
		return loc.register
	}
	r := a.takeFreeRegister(asm, pos)
	asm.twoOperand(x86.AMOVQ, memory(spillBaseReg, int64(loc.spillSlot)*8), regOperand(r))
	a.spillFree[loc.spillSlot] = true
	loc.register = r
	loc.spillSlot = -1
	return r
}

// UseScratchGpr lends out a free register with no associated value,
// evicting if necessary, for emitters that need a temporary (e.g. the
// saturating-arithmetic sequences in emit_saturation.go). The caller must
// release it via ScratchGpr before the allocator is asked to hand out
// another register for the same instruction's emission.
func (a *Allocator) UseScratchGpr(asm *Assembler, pos int) int16 {
	r := a.takeFreeRegister(asm, pos)
	a.scratchOut = append(a.scratchOut, r)
	return r
}

// ScratchGpr releases a register borrowed via UseScratchGpr back to the
// free pool.
func (a *Allocator) ScratchGpr(r int16) {
	for i, out := range a.scratchOut {
		if out == r {
			a.scratchOut = append(a.scratchOut[:i], a.scratchOut[i+1:]...)
			a.free = append(a.free, r)
			return
		}
	}
	panic(ir.InvariantViolation{Where: "x64.Allocator.ScratchGpr", Why: "register was not lent out via UseScratchGpr"})
}

// DefineValue records that idx's result now lives in reg, claiming reg
// from the free pool (the caller must not also hold it as a scratch
// register).
func (a *Allocator) DefineValue(idx ir.InstIndex, reg int16) {
	a.locations[idx] = &valueLocation{inst: idx, register: reg, spillSlot: -1}
	for i, r := range a.free {
		if r == reg {
			a.free = append(a.free[:i], a.free[i+1:]...)
			break
		}
	}
}

// HostCall spills every live register-resident value to the spill array
// before a native Go call (a supervisor call/callback bridge per
// spec.md §6), since such a call follows the Go calling convention and
// may clobber any caller-saved GPR. It returns nothing, and nothing is
// reloaded after the call: evicted values stay in their spill slots.
func (a *Allocator) HostCall(asm *Assembler) {
	for _, loc := range a.locations {
		if loc.inRegister() {
			reg := loc.register
			a.evict(asm, reg)
		}
	}
}

// EndOfAllocScope is a scope boundary marker (the end of a block, or
// between terminal branches): it only checks that every register lent out
// via UseScratchGpr has been released. It resets no allocator state, does
// not decrement use counts, and releases no register or spill slot, not
// even those of values with no remaining uses; callers that need a hard
// reset construct a fresh Allocator instead.
func (a *Allocator) EndOfAllocScope() {
	if len(a.scratchOut) != 0 {
		panic(ir.InvariantViolation{Where: "x64.Allocator.EndOfAllocScope", Why: "a scratch register was never released before the scope ended"})
	}
}

// AssertNoMoreUses panics if idx is still referenced by any instruction
// not yet emitted — a defensive check for the end of compilation, where
// every live range should already have closed.
func (a *Allocator) AssertNoMoreUses(idx ir.InstIndex, pos int) {
	if a.nextUseAfter(idx, pos) != int(^uint(0)>>1) {
		panic(ir.InvariantViolation{Where: "x64.Allocator.AssertNoMoreUses", Why: "instruction still has a pending use past the asserted position"})
	}
}
