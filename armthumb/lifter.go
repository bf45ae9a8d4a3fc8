package armthumb

import "dynatrans/ir"

// ReadCodeFunc fetches the 16-bit Thumb halfword at a guest PC, mirroring
// chip8.ReadCodeFunc and standing in for the user's MemoryReadCode
// callback at translation time (spec.md §6).
type ReadCodeFunc func(pc uint32) (uint16, error)

// Exception kinds, matching the three spec.md §7 translation-time
// exception classes.
const (
	ExceptionUndefinedInstruction uint8 = iota
	ExceptionUnpredictableInstruction
	ExceptionBreakpoint
)

// ConditionalState mirrors original_source's A32 translator visitor state
// machine (spec.md §4.4): None while accumulating straight-line code,
// Translating/Trailing/Break around a conditionally-executed instruction
// group. The scoped instruction set implemented here (shift-immediate,
// REV family, BL/BLX) carries no IT-block predication, so every block
// built by Lift stays in StateNone — the type exists so this package's
// outer-loop shape matches chip8's and a future IT-block extension has
// somewhere to hook in.
type ConditionalState uint8

const (
	StateNone ConditionalState = iota
	StateTranslating
	StateTrailing
	StateBreak
)

const instructionWidthBytes = 2

// Lift translates one basic block of Thumb code starting at entry. The
// outer loop matches chip8.Lift's shape: decode, dispatch, advance PC and
// cycle count, stop at a terminal, default to LinkBlockFast otherwise. The
// one structural difference is BL/BLX, whose prefix halfword needs the
// immediately following suffix halfword before anything can be emitted;
// that pair is handled as a single two-halfword step inline below rather
// than by threading state through liftOne, since it's the only multi-word
// instruction in this scoped frontend.
func Lift(d *Decoder, entry ir.LocationDescriptor, readCode ReadCodeFunc) (*ir.Block, error) {
	block := ir.NewBlock(entry)
	loc := entry

	for {
		word, err := readCode(loc.PC())
		if err != nil {
			return nil, err
		}

		decoded, ok := d.Decode(word)
		if !ok {
			block.EmitVoid(ir.OpA32ExceptionRaised, ir.ImmU32(loc.PC()), ir.ImmU8(ExceptionUndefinedInstruction))
			block.SetTerminal(ir.CheckHalt(ir.ReturnToDispatch()))
			break
		}

		if decoded.Name == "BL_BLX_PREFIX" {
			suffixPC := loc.PC() + instructionWidthBytes
			suffixWord, err := readCode(suffixPC)
			if err != nil {
				return nil, err
			}
			suffixDecoded, ok := d.Decode(suffixWord)
			if !ok || (suffixDecoded.Name != "BL_SUFFIX" && suffixDecoded.Name != "BLX_SUFFIX") {
				block.EmitVoid(ir.OpA32ExceptionRaised, ir.ImmU32(loc.PC()), ir.ImmU8(ExceptionUndefinedInstruction))
				block.SetTerminal(ir.CheckHalt(ir.ReturnToDispatch()))
				loc = loc.AdvancePC(instructionWidthBytes)
				block.CycleCount++
				break
			}
			liftBranchWithLink(block, loc, decoded, suffixDecoded)
			loc = loc.AdvancePC(2 * instructionWidthBytes)
			block.CycleCount++
			break
		}

		cont := liftOne(block, loc, decoded)
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
	if r == PC {
		panic(ir.InvariantViolation{Where: "armthumb.getRegister", Why: "PC is not readable through GetRegister"})
	}
	return b.Emit(ir.OpA32GetRegister, ir.ImmReg(uint8(r)))
}

func setRegister(b *ir.Block, r Reg, v ir.Value) {
	if r == PC {
		panic(ir.InvariantViolation{Where: "armthumb.setRegister", Why: "PC is never writable via SetRegister; use WritePC or a block terminal"})
	}
	b.EmitVoid(ir.OpA32SetRegister, ir.ImmReg(uint8(r)), v)
}

// liftOne dispatches one single-halfword decoded instruction and reports
// whether the outer loop may keep accumulating instructions into the
// block.
func liftOne(b *ir.Block, loc ir.LocationDescriptor, d Decoded) bool {
	switch d.Name {
	case "LSL_IMM":
		rm := getRegister(b, Reg(d.Fields['m']))
		shifted := b.Emit(ir.OpLogicalShiftLeft32, rm, ir.ImmU8(uint8(d.Fields['i'])))
		nzcv := b.EmitPseudoOp(ir.OpGetNZCVFromOp, shifted)
		setRegister(b, Reg(d.Fields['d']), shifted)
		b.EmitVoid(ir.OpA32SetCpsrNZCV, nzcv)
		return true

	case "LSR_IMM":
		rm := getRegister(b, Reg(d.Fields['m']))
		shifted := b.Emit(ir.OpLogicalShiftRight32, rm, ir.ImmU8(uint8(d.Fields['i'])))
		nzcv := b.EmitPseudoOp(ir.OpGetNZCVFromOp, shifted)
		setRegister(b, Reg(d.Fields['d']), shifted)
		b.EmitVoid(ir.OpA32SetCpsrNZCV, nzcv)
		return true

	case "ASR_IMM":
		rm := getRegister(b, Reg(d.Fields['m']))
		shifted := b.Emit(ir.OpArithmeticShiftRight32, rm, ir.ImmU8(uint8(d.Fields['i'])))
		nzcv := b.EmitPseudoOp(ir.OpGetNZCVFromOp, shifted)
		setRegister(b, Reg(d.Fields['d']), shifted)
		b.EmitVoid(ir.OpA32SetCpsrNZCV, nzcv)
		return true

	case "REV":
		rm := getRegister(b, Reg(d.Fields['m']))
		reversed := b.Emit(ir.OpByteReverseWord, rm)
		setRegister(b, Reg(d.Fields['d']), reversed)
		return true

	case "REV16":
		// Swap bytes within each 16-bit half independently: the register
		// carries two packed halfwords, each reversed in place.
		rm := getRegister(b, Reg(d.Fields['m']))
		hi := b.Emit(ir.OpAnd32, rm, ir.ImmU32(0xFF00FF00))
		hi = b.Emit(ir.OpLogicalShiftRight32, hi, ir.ImmU8(8))
		lo := b.Emit(ir.OpAnd32, rm, ir.ImmU32(0x00FF00FF))
		lo = b.Emit(ir.OpLogicalShiftLeft32, lo, ir.ImmU8(8))
		reversed := b.Emit(ir.OpOr32, hi, lo)
		setRegister(b, Reg(d.Fields['d']), reversed)
		return true

	case "REVSH":
		rm := getRegister(b, Reg(d.Fields['m']))
		reversed := b.Emit(ir.OpByteReverseSignedHalf, rm)
		setRegister(b, Reg(d.Fields['d']), reversed)
		return true

	default:
		b.EmitVoid(ir.OpA32ExceptionRaised, ir.ImmU32(loc.PC()), ir.ImmU8(ExceptionUndefinedInstruction))
		b.SetTerminal(ir.CheckHalt(ir.ReturnToDispatch()))
		return false
	}
}

// branchOffsetBits is the width of the signed offset BL/BLX's combined
// prefix/suffix 11+11-bit fields produce before sign extension.
const branchOffsetBits = 23

// liftBranchWithLink decodes the combined prefix+suffix halfword pair and
// emits the link-register write plus a block-ending terminal that targets
// the computed destination. No file in the retrieval pack implements
// 16-bit Thumb-1's split-halfword BL/BLX form, so this arithmetic was
// derived directly from the ARM architecture reference's BL/BLX
// definitions and hand-verified against spec.md §8's stated results:
// target = (PC after the pair) + sign_extend(offset_high<<12 |
// offset_low<<1), LR = (PC after the pair) | 1. BLX additionally
// word-aligns the target and switches CPSR's Thumb bit off.
func liftBranchWithLink(b *ir.Block, prefixLoc ir.LocationDescriptor, prefix, suffix Decoded) {
	offsetHigh := prefix.Fields['o']
	offsetLow := suffix.Fields['o']

	raw := (offsetHigh << 12) | (offsetLow << 1)
	signBit := uint32(1) << (branchOffsetBits - 1)
	var offset int64
	if raw&signBit != 0 {
		offset = int64(raw) - int64(signBit<<1)
	} else {
		offset = int64(raw)
	}

	pcAfterPair := prefixLoc.PC() + 2*instructionWidthBytes
	target := uint32(int64(pcAfterPair) + offset)
	lr := pcAfterPair | 1

	isBLX := suffix.Name == "BLX_SUFFIX"

	b.EmitVoid(ir.OpA32SetRegister, ir.ImmReg(uint8(LR)), ir.ImmU32(lr))

	thumb := true
	if isBLX {
		target &^= 3
		thumb = false
	}

	dest := ir.NewA32Location(target, thumb, prefixLoc.BigEndian(), prefixLoc.FPCRRoundingMode())
	b.SetTerminal(ir.LinkBlock(dest))
}
