package chip8

import (
	"errors"
	"testing"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestDecoderRejectsMalformedBitstring(t *testing.T) {
	_, err := NewDecoder([]Encoding{
		{"BAD_AND_XY", "1000xxxxyyyy0002"},
	})
	assert(t, err != nil, "expected an error constructing a decoder with a non-binary bitstring character")
	assert(t, errors.Is(err, ErrDecode), "expected ErrDecode sentinel, got %v", err)
}

func TestDecoderRejectsDuplicateMaskExpected(t *testing.T) {
	_, err := NewDecoder([]Encoding{
		{"AND_XY", "1000xxxxyyyy0010"},
		{"AND_XY_AGAIN", "1000xxxxyyyy0010"},
	})
	assert(t, err != nil, "expected an error constructing a decoder with two rows sharing (mask, expected)")
	assert(t, errors.Is(err, ErrDecode), "expected ErrDecode sentinel, got %v", err)
}

func TestDecoderMostSpecificWins(t *testing.T) {
	d, err := NewDecoder([]Encoding{
		{"JP_ONNN", "0000nnnnnnnnnnnn"},
		{"JP_NNN", "0001nnnnnnnnnnnn"},
		{"CLS", "0000000011100000"},
	})
	assert(t, err == nil, "unexpected error: %v", err)

	// 0x00E0 matches both JP_ONNN's mask/expected (low nibble unconstrained
	// there) and CLS's fully-specified pattern; CLS has a higher popcount
	// mask and must win.
	decoded, ok := d.Decode(0x00E0)
	assert(t, ok, "expected a decode match for 0x00E0")
	assert(t, decoded.Name == "CLS", "expected CLS to win over JP_ONNN for 0x00E0, got %s", decoded.Name)

	decoded, ok = d.Decode(0x1234)
	assert(t, ok, "expected a decode match for 0x1234")
	assert(t, decoded.Name == "JP_NNN", "expected JP_NNN for 0x1234, got %s", decoded.Name)
	assert(t, decoded.Fields['n'] == 0x234, "expected field n=0x234, got %#x", decoded.Fields['n'])
}

func TestProductionTableDecodesKnownOpcodes(t *testing.T) {
	d, err := NewChip8Decoder()
	assert(t, err == nil, "unexpected error building production decoder: %v", err)

	cases := []struct {
		word uint16
		name string
	}{
		{0x00E0, "CLS"},
		{0x00EE, "RET"},
		{0x1234, "JP_NNN"},
		{0x2206, "CALL_NNN"},
		{0x6A05, "LD_XKK"},
		{0x8AB4, "ADD_XY"},
		{0xA222, "LD_I"},
		{0xD123, "DRW_XYN"},
		{0xF129, "LD_FX"},
	}
	for _, c := range cases {
		decoded, ok := d.Decode(c.word)
		assert(t, ok, "expected %#04x to decode", c.word)
		assert(t, decoded.Name == c.name, "expected %#04x to decode as %s, got %s", c.word, c.name, decoded.Name)
	}
}

func TestProductionTableRejectsUnknownWord(t *testing.T) {
	d, err := NewChip8Decoder()
	assert(t, err == nil, "unexpected error: %v", err)
	_, ok := d.Decode(0xFFFF)
	assert(t, !ok, "0xFFFF should not decode against the CHIP-8 table")
}

func TestCallThenRetFieldExtraction(t *testing.T) {
	d, err := NewChip8Decoder()
	assert(t, err == nil, "unexpected error: %v", err)

	decoded, ok := d.Decode(0x2206)
	assert(t, ok, "expected 0x2206 to decode")
	assert(t, decoded.Name == "CALL_NNN", "expected CALL_NNN, got %s", decoded.Name)
	assert(t, decoded.Fields['n'] == 0x206, "expected n=0x206, got %#x", decoded.Fields['n'])

	decoded, ok = d.Decode(0x00EE)
	assert(t, ok, "expected 0x00EE to decode")
	assert(t, decoded.Name == "RET", "expected RET, got %s", decoded.Name)
}
