package main

import (
	"encoding/binary"
)

// flatMemory is the simplest possible embedder-side guest memory: a flat
// byte slice loaded from the program image, with no MMU, no separate
// device address space, and no write protection — enough to drive the
// runtime.Callbacks surface for a CLI demo. A real embedder (spec.md §6's
// intended audience) supplies its own Callbacks backed by whatever guest
// memory model it already has; flatMemory exists only so `main` has
// something concrete to wire runtime.NewJITState's required callbacks to.
type flatMemory struct {
	bytes []byte
}

func newFlatMemory(image []byte) *flatMemory {
	return &flatMemory{bytes: image}
}

func (m *flatMemory) read8(addr uint32) uint8 {
	if int(addr) >= len(m.bytes) {
		return 0
	}
	return m.bytes[addr]
}

func (m *flatMemory) read16(addr uint32) uint16 {
	if int(addr)+2 > len(m.bytes) {
		return 0
	}
	return binary.BigEndian.Uint16(m.bytes[addr:])
}

func (m *flatMemory) write8(addr uint32, v uint8) {
	if int(addr) < len(m.bytes) {
		m.bytes[addr] = v
	}
}

func (m *flatMemory) write16(addr uint32, v uint16) {
	if int(addr)+2 <= len(m.bytes) {
		binary.BigEndian.PutUint16(m.bytes[addr:], v)
	}
}
