package armthumb

import "dynatrans/ir"

// Encoding and Decoded reuse the generic, ISA-agnostic bit-pattern decoder
// (ir.Decoder) that chip8 also uses — only the table and instruction width
// differ.
type Encoding = ir.Encoding
type Decoded = ir.Decoded

const instructionWidth = 16

// Decoder narrows ir.Decoder's Decode argument to Thumb's 16-bit halfword.
type Decoder struct {
	inner *ir.Decoder
}

func NewDecoder(encodings []Encoding) (*Decoder, error) {
	inner, err := ir.NewDecoder(instructionWidth, encodings)
	if err != nil {
		return nil, err
	}
	return &Decoder{inner: inner}, nil
}

func (d *Decoder) Decode(halfword uint16) (Decoded, bool) {
	return d.inner.Decode(uint32(halfword))
}

// thumbEncodings is the scoped Thumb decoder table. No file in the
// retrieval pack models 16-bit Thumb-1 encodings (its only
// translate_thumb.cpp covers LSL/LSR/ASR_imm/ADD_reg/UDF and nothing
// else); these bit layouts come directly from the ARM architecture
// reference's Thumb instruction set encoding tables. LSL, LSR, and ASR
// share bits 12-11 as a 2-bit shift-type opcode field; each gets its own
// fully-expected row rather than a captured field, since only LSL is
// exercised by a named scenario and the other two are included for the
// group's completeness.
var thumbEncodings = []Encoding{
	{Name: "LSL_IMM", Bits: "00000iiiiimmmddd"},
	{Name: "LSR_IMM", Bits: "00001iiiiimmmddd"},
	{Name: "ASR_IMM", Bits: "00010iiiiimmmddd"},
	{Name: "REV", Bits: "1011101000mmmddd"},
	{Name: "REV16", Bits: "1011101001mmmddd"},
	{Name: "REVSH", Bits: "1011101011mmmddd"},
	{Name: "BL_BLX_PREFIX", Bits: "11110ooooooooooo"},
	{Name: "BLX_SUFFIX", Bits: "11101ooooooooooo"},
	{Name: "BL_SUFFIX", Bits: "11111ooooooooooo"},
}

// NewThumbDecoder builds the scoped production decoder table.
func NewThumbDecoder() (*Decoder, error) {
	return NewDecoder(thumbEncodings)
}
