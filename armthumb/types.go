// Package armthumb lifts a scoped subset of the Thumb instruction set into
// the shared IR (dynatrans/ir). Only the instruction classes exercised by
// the project's named end-to-end scenarios are implemented — shift-by-
// immediate, the REV family, and the BL/BLX branch-with-link pair — not a
// general A32/Thumb decoder. See SPEC_FULL.md's "ARM/Thumb scope" section.
package armthumb

// Reg names one of Thumb's sixteen general-purpose registers.
type Reg uint8

const (
	R0 Reg = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	SP
	LR
	PC
)

func (r Reg) String() string {
	switch r {
	case SP:
		return "sp"
	case LR:
		return "lr"
	case PC:
		return "pc"
	default:
		names := [...]string{"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8", "r9", "r10", "r11", "r12"}
		if int(r) < len(names) {
			return names[r]
		}
		return "r?"
	}
}

// cpsrThumbBit is CPSR's T (Thumb-state) bit, per original_source's
// A32::Cpsr; BLX clears it to switch to ARM mode, BL leaves it set.
const cpsrThumbBit uint32 = 1 << 5
