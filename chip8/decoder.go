package chip8

import (
	"dynatrans/ir"
)

// ErrDecode re-exports the generic decoder's construction-time error
// sentinel so callers can keep writing errors.Is(err, chip8.ErrDecode).
var ErrDecode = ir.ErrDecode

// Encoding and Decoded are aliases onto the generic, ISA-agnostic decoder
// (ir.Decoder, shared with armthumb) — only the bitstring table and
// instruction width are CHIP-8-specific.
type Encoding = ir.Encoding
type Decoded = ir.Decoded

const instructionWidth = 16

// Decoder wraps ir.Decoder, narrowing Decode's argument to the CHIP-8
// instruction width.
type Decoder struct {
	inner *ir.Decoder
}

// NewDecoder validates and compiles a set of Encodings into a Decoder. See
// SPEC_FULL.md's "Decoder Duplicate-Row Decision" for why genuine mask
// overlaps (same mask, different expected) are allowed through to the
// popcount sort while identical (mask, expected) pairs are a construction
// error.
func NewDecoder(encodings []Encoding) (*Decoder, error) {
	inner, err := ir.NewDecoder(instructionWidth, encodings)
	if err != nil {
		return nil, err
	}
	return &Decoder{inner: inner}, nil
}

// Decode finds the first (most specific) matching row and extracts its fields.
func (d *Decoder) Decode(word uint16) (Decoded, bool) {
	return d.inner.Decode(uint32(word))
}

// chip8Encodings is the production CHIP-8 decoder table, grounded on
// original_source/src/frontend/Chip8/decoder/chip8.h. The table's one
// genuine real-world oddity from the original is preserved in spirit but
// not literally: JP_ONNN (the legacy "0NNN" form) and JP_NNN ("1NNN")
// share a mask (same four fixed leading bits) but differ in the expected
// value at those bits, and are resolved correctly by the popcount sort
// exactly as the original requires; the original's *bugs* — a literal
// duplicate AND_XY row and a malformed "...0002" bitstring — are not
// reproduced here (see SPEC_FULL.md's Decoder Duplicate-Row Decision for
// why, and decoder_test.go for tests exercising the rejection machinery
// that would have caught both).
var chip8Encodings = []Encoding{
	{Name: "CLS", Bits: "0000000011100000"},
	{Name: "RET", Bits: "0000000011101110"},
	{Name: "JP_ONNN", Bits: "0000nnnnnnnnnnnn"},
	{Name: "JP_NNN", Bits: "0001nnnnnnnnnnnn"},
	{Name: "CALL_NNN", Bits: "0010nnnnnnnnnnnn"},
	{Name: "SE_XKK", Bits: "0011xxxxkkkkkkkk"},
	{Name: "SNE_XKK", Bits: "0100xxxxkkkkkkkk"},
	{Name: "SE_XY", Bits: "0101xxxxyyyy0000"},
	{Name: "LD_XKK", Bits: "0110xxxxkkkkkkkk"},
	{Name: "ADD_XKK", Bits: "0111xxxxkkkkkkkk"},
	{Name: "LD_XY", Bits: "1000xxxxyyyy0000"},
	{Name: "OR_XY", Bits: "1000xxxxyyyy0001"},
	{Name: "AND_XY", Bits: "1000xxxxyyyy0010"},
	{Name: "XOR_XY", Bits: "1000xxxxyyyy0011"},
	{Name: "ADD_XY", Bits: "1000xxxxyyyy0100"},
	{Name: "SUB_XY", Bits: "1000xxxxyyyy0101"},
	{Name: "SHR_XY", Bits: "1000xxxxyyyy0110"},
	{Name: "SUBN_XY", Bits: "1000xxxxyyyy0111"},
	{Name: "SHL_XY", Bits: "1000xxxxyyyy1110"},
	{Name: "SNE_XY", Bits: "1001xxxxyyyy0000"},
	{Name: "LD_I", Bits: "1010nnnnnnnnnnnn"},
	{Name: "JP_V0", Bits: "1011nnnnnnnnnnnn"},
	{Name: "RND_X", Bits: "1100xxxxkkkkkkkk"},
	{Name: "DRW_XYN", Bits: "1101xxxxyyyypppp"},
	{Name: "SKP_X", Bits: "1110xxxx10011110"},
	{Name: "SKNP_X", Bits: "1110xxxx10100001"},
	{Name: "LD_XDT", Bits: "1111xxxx00000111"},
	{Name: "LD_XK", Bits: "1111xxxx00001010"},
	{Name: "LD_DTX", Bits: "1111xxxx00010101"},
	{Name: "LD_STX", Bits: "1111xxxx00011000"},
	{Name: "ADD_IX", Bits: "1111xxxx00011110"},
	{Name: "LD_FX", Bits: "1111xxxx00101001"},
	{Name: "LD_BX", Bits: "1111xxxx00110011"},
	{Name: "LD_IX", Bits: "1111xxxx01010101"},
	{Name: "LD_XI", Bits: "1111xxxx01100101"},
}

// NewChip8Decoder builds the production decoder table.
func NewChip8Decoder() (*Decoder, error) {
	return NewDecoder(chip8Encodings)
}
