package chip8

import "dynatrans/ir"

// ReadCodeFunc fetches the 16-bit instruction word at a guest PC,
// standing in for the user's MemoryReadCode callback at translation time
// (spec.md §6).
type ReadCodeFunc func(pc uint32) (uint16, error)

// Exception kinds, matching the three spec.md §7 translation-time
// exception classes.
const (
	ExceptionUndefinedInstruction uint8 = iota
	ExceptionUnpredictableInstruction
	ExceptionBreakpoint
)

// ConditionalState mirrors original_source's Chip8TranslatorVisitor state
// machine (spec.md §4.4). CHIP-8 has no per-instruction predication the
// way A32 does, so in practice every CHIP-8 block stays in None — the
// state exists so the outer lifting loop's shape (shared in spirit with
// armthumb's) matches the spec's description exactly and so a future
// predicated CHIP-8-like extension has somewhere to hook in.
type ConditionalState uint8

const (
	StateNone ConditionalState = iota
	StateTranslating
	StateTrailing
	StateBreak
)

// instructionWidthBytes is CHIP-8's fixed instruction width.
const instructionWidthBytes = 2

// Lift translates one basic block of CHIP-8 code starting at entry,
// following the outer loop from spec.md §4.4 exactly: decode, dispatch to
// a per-instruction emitter, advance PC and cycle count, stop when the
// instruction breaks the block or sets a terminal, and default to
// LinkBlockFast if translation ran off the end without one.
func Lift(d *Decoder, entry ir.LocationDescriptor, readCode ReadCodeFunc) (*ir.Block, error) {
	block := ir.NewBlock(entry)
	loc := entry

	for {
		word, err := readCode(loc.PC())
		if err != nil {
			return nil, err
		}

		decoded, ok := d.Decode(word)
		var cont bool
		if !ok {
			block.EmitVoid(ir.OpChip8ExceptionRaised, ir.ImmU32(loc.PC()), ir.ImmU8(ExceptionUndefinedInstruction))
			block.SetTerminal(ir.CheckHalt(ir.ReturnToDispatch()))
			cont = false
		} else {
			cont = liftOne(block, loc, decoded)
		}

		loc = loc.AdvancePC(instructionWidthBytes)
		block.CycleCount++

		if !cont || block.HasTerminal() {
			break
		}
	}

	block.End = loc
	if !block.HasTerminal() {
		block.SetTerminal(ir.LinkBlockFast(loc))
	}
	block.DCE()
	return block, nil
}

func getRegister(b *ir.Block, r Reg) ir.Value {
	if r == RegPC {
		panic(ir.InvariantViolation{Where: "chip8.getRegister", Why: "PC is not readable through GetRegister"})
	}
	return b.Emit(ir.OpChip8GetRegister, ir.ImmReg(uint8(r)))
}

func setRegister(b *ir.Block, r Reg, v ir.Value) {
	if r == RegPC {
		panic(ir.InvariantViolation{Where: "chip8.setRegister", Why: "PC is never writable via SetRegister; use WritePC or a block terminal"})
	}
	b.EmitVoid(ir.OpChip8SetRegister, ir.ImmReg(uint8(r)), v)
}

// liftOne dispatches one decoded instruction to its IR emission and
// reports whether the outer loop may continue accumulating instructions
// into the same block (spec.md §4.5's worked examples cover the subset
// reproduced in the switch's comments).
func liftOne(b *ir.Block, loc ir.LocationDescriptor, d Decoded) bool {
	pc := loc.PC()
	nextPC := pc + instructionWidthBytes

	switch d.Name {
	case "CLS":
		// Clear-screen is a pure side effect on the user's display
		// surface, modeled as a supervisor call the embedder interprets.
		b.EmitVoid(ir.OpChip8CallSupervisor, ir.ImmU32(0))
		return true

	case "RET":
		b.SetTerminal(ir.PopRSBHint())
		return false

	case "JP_ONNN":
		// Legacy "0NNN" form: historically a call into native code on
		// real hardware; here treated as an unconditional jump like
		// JP_NNN, matching the original's dynarmic rendition.
		target := ir.NewChip8Location(d.Fields['n'])
		b.SetTerminal(ir.LinkBlock(target))
		return false

	case "JP_NNN":
		target := ir.NewChip8Location(d.Fields['n'])
		b.SetTerminal(ir.LinkBlock(target))
		return false

	case "CALL_NNN":
		returnLoc := loc.AdvancePC(instructionWidthBytes)
		b.EmitVoid(ir.OpPushRSB, ir.ImmU64(returnLoc.Hash()))
		target := ir.NewChip8Location(d.Fields['n'])
		b.SetTerminal(ir.LinkBlock(target))
		return false

	case "SE_XKK":
		vx := getRegister(b, Vx(uint8(d.Fields['x'])))
		eq := b.Emit(ir.OpEqual32, vx, ir.ImmU32(d.Fields['k']))
		b.SetTerminal(ir.If(eq,
			ir.LinkBlock(ir.NewChip8Location(nextPC+instructionWidthBytes)),
			ir.LinkBlock(ir.NewChip8Location(nextPC))))
		return false

	case "SNE_XKK":
		vx := getRegister(b, Vx(uint8(d.Fields['x'])))
		eq := b.Emit(ir.OpEqual32, vx, ir.ImmU32(d.Fields['k']))
		b.SetTerminal(ir.If(eq,
			ir.LinkBlock(ir.NewChip8Location(nextPC)),
			ir.LinkBlock(ir.NewChip8Location(nextPC+instructionWidthBytes))))
		return false

	case "SE_XY":
		vx := getRegister(b, Vx(uint8(d.Fields['x'])))
		vy := getRegister(b, Vx(uint8(d.Fields['y'])))
		eq := b.Emit(ir.OpEqual32, vx, vy)
		b.SetTerminal(ir.If(eq,
			ir.LinkBlock(ir.NewChip8Location(nextPC+instructionWidthBytes)),
			ir.LinkBlock(ir.NewChip8Location(nextPC))))
		return false

	case "SNE_XY":
		vx := getRegister(b, Vx(uint8(d.Fields['x'])))
		vy := getRegister(b, Vx(uint8(d.Fields['y'])))
		eq := b.Emit(ir.OpEqual32, vx, vy)
		b.SetTerminal(ir.If(eq,
			ir.LinkBlock(ir.NewChip8Location(nextPC)),
			ir.LinkBlock(ir.NewChip8Location(nextPC+instructionWidthBytes))))
		return false

	case "LD_XKK":
		setRegister(b, Vx(uint8(d.Fields['x'])), ir.ImmU32(d.Fields['k']))
		return true

	case "ADD_XKK":
		x := Vx(uint8(d.Fields['x']))
		sum := b.Emit(ir.OpAdd32, getRegister(b, x), ir.ImmU32(d.Fields['k']))
		masked := b.Emit(ir.OpAnd32, sum, ir.ImmU32(0xFF))
		setRegister(b, x, masked)
		return true

	case "LD_XY":
		setRegister(b, Vx(uint8(d.Fields['x'])), getRegister(b, Vx(uint8(d.Fields['y']))))
		return true

	case "OR_XY":
		x := Vx(uint8(d.Fields['x']))
		v := b.Emit(ir.OpOr32, getRegister(b, x), getRegister(b, Vx(uint8(d.Fields['y']))))
		setRegister(b, x, v)
		return true

	case "AND_XY":
		x := Vx(uint8(d.Fields['x']))
		v := b.Emit(ir.OpAnd32, getRegister(b, x), getRegister(b, Vx(uint8(d.Fields['y']))))
		setRegister(b, x, v)
		return true

	case "XOR_XY":
		x := Vx(uint8(d.Fields['x']))
		v := b.Emit(ir.OpXor32, getRegister(b, x), getRegister(b, Vx(uint8(d.Fields['y']))))
		setRegister(b, x, v)
		return true

	case "ADD_XY":
		x := Vx(uint8(d.Fields['x']))
		vx := getRegister(b, x)
		vy := getRegister(b, Vx(uint8(d.Fields['y'])))
		sum := b.Emit(ir.OpAdd32, vx, vy)
		carry := b.EmitPseudoOp(ir.OpGetCarryFromOp, sum)
		masked := b.Emit(ir.OpAnd32, sum, ir.ImmU32(0xFF))
		setRegister(b, x, masked)
		setRegister(b, VF, carry)
		return true

	case "SUB_XY":
		x := Vx(uint8(d.Fields['x']))
		vx := getRegister(b, x)
		vy := getRegister(b, Vx(uint8(d.Fields['y'])))
		diff := b.Emit(ir.OpSub32, vx, vy)
		notBorrow := b.EmitPseudoOp(ir.OpGetCarryFromOp, diff)
		masked := b.Emit(ir.OpAnd32, diff, ir.ImmU32(0xFF))
		setRegister(b, x, masked)
		setRegister(b, VF, notBorrow)
		return true

	case "SUBN_XY":
		x := Vx(uint8(d.Fields['x']))
		vx := getRegister(b, x)
		vy := getRegister(b, Vx(uint8(d.Fields['y'])))
		diff := b.Emit(ir.OpSub32, vy, vx)
		notBorrow := b.EmitPseudoOp(ir.OpGetCarryFromOp, diff)
		masked := b.Emit(ir.OpAnd32, diff, ir.ImmU32(0xFF))
		setRegister(b, x, masked)
		setRegister(b, VF, notBorrow)
		return true

	case "SHR_XY":
		x := Vx(uint8(d.Fields['x']))
		vx := getRegister(b, x)
		lsb := b.Emit(ir.OpAnd32, vx, ir.ImmU32(1))
		shifted := b.Emit(ir.OpLogicalShiftRight32, vx, ir.ImmU8(1))
		setRegister(b, x, shifted)
		setRegister(b, VF, lsb)
		return true

	case "SHL_XY":
		x := Vx(uint8(d.Fields['x']))
		vx := getRegister(b, x)
		msb := b.Emit(ir.OpLogicalShiftRight32, vx, ir.ImmU8(7))
		msb = b.Emit(ir.OpAnd32, msb, ir.ImmU32(1))
		shifted := b.Emit(ir.OpLogicalShiftLeft32, vx, ir.ImmU8(1))
		masked := b.Emit(ir.OpAnd32, shifted, ir.ImmU32(0xFF))
		setRegister(b, x, masked)
		setRegister(b, VF, msb)
		return true

	case "LD_I":
		setRegister(b, RegI, ir.ImmU32(d.Fields['n']))
		return true

	case "JP_V0":
		// Guest-data-dependent jump target: V0 + nnn is only known at
		// runtime, so this must end the block via a dynamic PC write
		// rather than a statically known LinkBlock target.
		v0 := getRegister(b, V0)
		target := b.Emit(ir.OpAdd32, v0, ir.ImmU32(d.Fields['n']))
		b.EmitVoid(ir.OpChip8WritePC, target)
		b.SetTerminal(ir.CheckHalt(ir.ReturnToDispatch()))
		return false

	case "RND_X":
		// Randomness is an external collaborator concern (spec.md §1);
		// bridged through the supervisor-call surface like DRW.
		rnd := b.Emit(ir.OpChip8CallSupervisor, ir.ImmU32(1))
		masked := b.Emit(ir.OpAnd32, rnd, ir.ImmU32(d.Fields['k']))
		setRegister(b, Vx(uint8(d.Fields['x'])), masked)
		return true

	case "DRW_XYN":
		// Side-effect terminal at block end, per spec.md §4.5's example.
		b.EmitVoid(ir.OpChip8CallSupervisor, ir.ImmU32(2))
		return false

	case "SKP_X":
		key := b.Emit(ir.OpChip8CallSupervisor, ir.ImmU32(3))
		pressed := b.Emit(ir.OpEqual32, key, getRegister(b, Vx(uint8(d.Fields['x']))))
		b.SetTerminal(ir.If(pressed,
			ir.LinkBlock(ir.NewChip8Location(nextPC+instructionWidthBytes)),
			ir.LinkBlock(ir.NewChip8Location(nextPC))))
		return false

	case "SKNP_X":
		key := b.Emit(ir.OpChip8CallSupervisor, ir.ImmU32(3))
		pressed := b.Emit(ir.OpEqual32, key, getRegister(b, Vx(uint8(d.Fields['x']))))
		b.SetTerminal(ir.If(pressed,
			ir.LinkBlock(ir.NewChip8Location(nextPC)),
			ir.LinkBlock(ir.NewChip8Location(nextPC+instructionWidthBytes))))
		return false

	case "LD_XDT":
		setRegister(b, Vx(uint8(d.Fields['x'])), getRegister(b, RegDT))
		return true

	case "LD_XK":
		key := b.Emit(ir.OpChip8CallSupervisor, ir.ImmU32(4))
		setRegister(b, Vx(uint8(d.Fields['x'])), key)
		return true

	case "LD_DTX":
		setRegister(b, RegDT, getRegister(b, Vx(uint8(d.Fields['x']))))
		return true

	case "LD_STX":
		setRegister(b, RegST, getRegister(b, Vx(uint8(d.Fields['x']))))
		return true

	case "ADD_IX":
		i := getRegister(b, RegI)
		sum := b.Emit(ir.OpAdd32, i, getRegister(b, Vx(uint8(d.Fields['x']))))
		setRegister(b, RegI, sum)
		return true

	case "LD_FX":
		// Font sprite address lookup: external collaborator (font table
		// layout is embedder-defined), bridged via supervisor call.
		addr := b.Emit(ir.OpChip8CallSupervisor, ir.ImmU32(5))
		setRegister(b, RegI, addr)
		return true

	case "LD_BX":
		b.EmitVoid(ir.OpChip8CallSupervisor, ir.ImmU32(6))
		return true

	case "LD_IX":
		for reg := V0; reg <= Vx(uint8(d.Fields['x'])); reg++ {
			i := getRegister(b, RegI)
			addr := b.Emit(ir.OpAdd32, i, ir.ImmU32(uint32(reg)))
			b.EmitVoid(ir.OpChip8WriteMemory8, addr, getRegister(b, reg))
		}
		return true

	case "LD_XI":
		for reg := V0; reg <= Vx(uint8(d.Fields['x'])); reg++ {
			i := getRegister(b, RegI)
			addr := b.Emit(ir.OpAdd32, i, ir.ImmU32(uint32(reg)))
			v := b.Emit(ir.OpChip8ReadMemory8, addr)
			setRegister(b, reg, v)
		}
		return true

	default:
		b.EmitVoid(ir.OpChip8ExceptionRaised, ir.ImmU32(pc), ir.ImmU8(ExceptionUndefinedInstruction))
		b.SetTerminal(ir.CheckHalt(ir.ReturnToDispatch()))
		return false
	}
}
