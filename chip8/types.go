// Package chip8 implements the CHIP-8 frontend: the bit-pattern decoder
// (C5) and the per-instruction lifter (C6) from the specification's
// component table, producing dynatrans/ir blocks from guest CHIP-8 code.
package chip8

// Reg enumerates the CHIP-8 register file, grounded on
// original_source/src/frontend/Chip8/types.h: 16 general-purpose
// registers V0-VF, plus the four special registers and PC, plus an
// invalid-register sentinel matching the original's INVALID_REG = 99.
type Reg uint8

const (
	V0 Reg = iota
	V1
	V2
	V3
	V4
	V5
	V6
	V7
	V8
	V9
	VA
	VB
	VC
	VD
	VE
	VF
	RegI
	RegDT
	RegST
	RegSP
	RegPC

	InvalidReg Reg = 99
)

func (r Reg) String() string {
	names := [...]string{
		"V0", "V1", "V2", "V3", "V4", "V5", "V6", "V7",
		"V8", "V9", "VA", "VB", "VC", "VD", "VE", "VF",
		"I", "DT", "ST", "SP", "PC",
	}
	if int(r) < len(names) {
		return names[r]
	}
	return "INVALID"
}

// Vx returns the general-purpose register for a 4-bit field value,
// matching the original's RegNumber + operator+ offset-from-V0 helper
// (which asserts new_reg <= 20; here the field is always 4 bits so it can
// never exceed VF and the assertion can never fire, but InvalidReg is
// still returned for any field value outside the valid range as the
// invariant the original defends).
func Vx(field uint8) Reg {
	if field > 0xF {
		return InvalidReg
	}
	return Reg(field)
}
