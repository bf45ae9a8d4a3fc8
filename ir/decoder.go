package ir

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
)

// ErrDecode wraps every construction-time decoder-table error (malformed
// bitstring, duplicate mask/expected pair). This generic decoder (C5) is
// shared by every ISA frontend — only the bitstring table and instruction
// width differ between chip8 and armthumb.
var ErrDecode = errors.New("ir: decoder table error")

// Encoding is one decoder-table row before it's compiled into a Matcher: a
// mnemonic name and a bit pattern of '0', '1', or a lowercase field
// letter, one character per instruction bit, following original_source's
// decoder bitstring convention (spec.md §4.3).
type Encoding struct {
	Name string
	Bits string
}

// Matcher is a compiled, immutable decoder row (spec.md §4.3 — "Matcher
// objects are immutable after construction").
type Matcher struct {
	Name     string
	Mask     uint32
	Expected uint32
	fields   map[byte][]int
}

func compile(width int, e Encoding) (Matcher, error) {
	if len(e.Bits) != width {
		return Matcher{}, fmt.Errorf("%w: %q has length %d, want %d", ErrDecode, e.Name, len(e.Bits), width)
	}
	m := Matcher{Name: e.Name, fields: make(map[byte][]int)}
	for i := 0; i < width; i++ {
		c := e.Bits[i]
		pos := width - 1 - i
		switch {
		case c == '0':
			m.Mask |= 1 << pos
		case c == '1':
			m.Mask |= 1 << pos
			m.Expected |= 1 << pos
		case c >= 'a' && c <= 'z':
			m.fields[c] = append(m.fields[c], pos)
		default:
			return Matcher{}, fmt.Errorf("%w: %q contains invalid character %q at position %d", ErrDecode, e.Name, c, i)
		}
	}
	return m, nil
}

func (m Matcher) field(word uint32, letter byte) uint32 {
	positions, ok := m.fields[letter]
	if !ok {
		return 0
	}
	var v uint32
	for _, pos := range positions {
		v <<= 1
		v |= (word >> pos) & 1
	}
	return v
}

// Decoded is the result of a successful Decode.
type Decoded struct {
	Name   string
	Fields map[byte]uint32
}

// Decoder holds the popcount-sorted, validated matcher table.
type Decoder struct {
	width    int
	matchers []Matcher
}

// NewDecoder validates and compiles a set of Encodings of the given
// instruction width (16 for CHIP-8 and Thumb, 32 for A32) into a Decoder.
// See SPEC_FULL.md's "Decoder Duplicate-Row Decision" for the exact
// handling of genuine mask overlaps versus identical-pair duplicates.
func NewDecoder(width int, encodings []Encoding) (*Decoder, error) {
	matchers := make([]Matcher, 0, len(encodings))
	seen := make(map[[2]uint32]string)
	for _, e := range encodings {
		m, err := compile(width, e)
		if err != nil {
			return nil, err
		}
		key := [2]uint32{m.Mask, m.Expected}
		if other, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %q and %q share an identical (mask=%#x, expected=%#x) pair", ErrDecode, other, m.Name, m.Mask, m.Expected)
		}
		seen[key] = m.Name
		matchers = append(matchers, m)
	}
	sort.SliceStable(matchers, func(i, j int) bool {
		return bits.OnesCount32(matchers[i].Mask) > bits.OnesCount32(matchers[j].Mask)
	})
	return &Decoder{width: width, matchers: matchers}, nil
}

// Decode finds the first (most specific) matching row and extracts its fields.
func (d *Decoder) Decode(word uint32) (Decoded, bool) {
	for _, m := range d.matchers {
		if word&m.Mask != m.Expected {
			continue
		}
		fields := make(map[byte]uint32, len(m.fields))
		for letter := range m.fields {
			fields[letter] = m.field(word, letter)
		}
		return Decoded{Name: m.Name, Fields: fields}, true
	}
	return Decoded{}, false
}
