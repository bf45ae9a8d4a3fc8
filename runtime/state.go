// Package runtime ties the compiled-code backend (x64), the block cache
// (cache), and guest frontends (chip8, armthumb) together into the C12
// run loop: the per-context JIT state compiled code addresses directly,
// the capability-struct callback bridge, and the dispatch loop itself.
package runtime

import (
	"sync/atomic"
)

// rsbSlots must match x64's unexported constant of the same name
// (x64/layout.go) — both sides size the Return-Stack Buffer the same
// way, but x64's constant is unexported so this is the one place the
// number 16 is restated rather than imported.
const rsbSlots = 16

// spillSlots must match x64.spillSlots (x64/regalloc.go) for the same
// reason: the allocator and this struct agree on the spill array's size
// without either importing the other's unexported constant.
const spillSlots = 64

// numRegisters must match x64's stateNumRegisters (x64/layout.go).
const numRegisters = 24

// State is the per-context JIT state spec.md §3 describes: a structure
// compiled code addresses at a fixed base pointer (x64's stateReg, R12)
// for the guest register file, spill array, cycle counters, halt flag,
// exclusive monitor, RSB, and the shim/return-stub pointers that let
// compiled code cross back into Go.
//
// Field order and sizing here must match x64/layout.go's hand-computed
// byte offsets exactly — every field is 8 bytes (or an array of 8-byte
// elements) except Halt, whose natural 4-byte alignment requirement
// already forces the Go compiler to insert the same 4 bytes of padding
// before Cpsr that layout.go reserves for it; nothing here needs an
// explicit padding field. A comment above each field gives the matching
// x64 offset constant for cross-checking.
type State struct {
	Registers [numRegisters]uint64 // stateRegistersOffset = 0

	PC uint64 // statePCOffset

	// Cycles is decremented by each compiled block's cycle count before
	// terminal evaluation (spec.md §4.10); LinkBlock's slow path compares
	// it against zero to decide whether to keep chaining.
	Cycles int64 // stateCyclesOffset

	// Halt is checked by every CheckHalt terminal via a raw, non-atomic
	// byte compare against zero (spec.md §5: "setting halt_requested =
	// true from any thread causes the running block to return at its
	// next CheckHalt point") — Store/Load here are still atomic so a
	// concurrent setter from another goroutine is race-free; the compiled
	// side's plain read is safe because x86 guarantees aligned-word load/
	// store atomicity on its own.
	Halt atomic.Bool // stateHaltOffset

	Cpsr uint64 // stateCpsrOffset

	// RSBLocations/RSBPointers/RSBIndex implement the 16-entry circular
	// Return-Stack Buffer (spec.md §3/GLOSSARY "RSB"). x64/emit_memory.go's
	// lowerPushRSB/lowerPopRSBHint address these directly; index is
	// masked mod rsbSlots by compiled code, never by Go-side code, since
	// pushes only ever happen from inside compiled blocks.
	RSBLocations [rsbSlots]uint64 // stateRSBLocationsOffset
	RSBPointers  [rsbSlots]uint64 // stateRSBPointersOffset
	RSBIndex     uint64           // stateRSBIndexOffset

	// Exclusive packs the exclusive-monitor reservation spec.md §3/§5
	// describes (state byte in the low byte, reservation granule address
	// in the next 32 bits) into the single 8-byte slot x64/layout.go
	// reserves for it. No opcode in this scope's ARM/Thumb subset lifts
	// to an exclusive load/store (see SPEC_FULL.md's "ARM/Thumb scope"),
	// so no x64 emitter addresses this slot today; ReserveExclusive/
	// ExclusiveWrite below implement the monitor's semantics directly so
	// a future exclusive-access opcode has a correct, tested mechanism to
	// call into via the supervisor/host-call bridge rather than an
	// invented one.
	Exclusive uint64 // stateExclusiveOffset

	Spill [spillSlots]uint64 // stateSpillArrayOffset

	// The six shim/stub pointers below are filled once by NewJITState with
	// the addresses of the process-global assembly stubs in
	// runtime/shim_amd64.s (one copy shared by every State; see
	// runtime/callbacks.go). Compiled code only ever reads them; nothing
	// in this package mutates them after construction.
	MemoryReadShim  uintptr // stateMemoryReadShimOffset
	MemoryWriteShim uintptr // stateMemoryWriteShimOffset
	SupervisorShim  uintptr // stateSupervisorShimOffset
	ExceptionShim   uintptr // stateExceptionShimOffset
	InterpreterShim uintptr // stateInterpreterShimOffset
	ReturnStub      uintptr // stateReturnStubOffset

	// config is not part of the fixed offset prefix above and compiled
	// code never addresses it directly — x64/layout.go's hand-computed
	// offsets stop at ReturnStub. The bridgeXxx functions in callbacks.go
	// read it to reach this context's Callbacks, since the shim entry
	// points in shim_amd64.s are process-global code (one copy, shared by
	// every State) and need a way back to the owning Config at call time.
	config *Config
}

// exclusiveStateSet marks a live reservation in Exclusive's low byte.
const exclusiveStateSet = 1

// reservationGranuleMask is spec.md §5's "mask = 0xFFFFFFF8" — 8-byte
// aligned reservation granules.
const reservationGranuleMask = 0xFFFFFFF8

// ReserveExclusive records a live reservation over addr's granule.
func (s *State) ReserveExclusive(addr uint32) {
	granule := uint64(addr & reservationGranuleMask)
	s.Exclusive = exclusiveStateSet | granule<<8
}

// ClearExclusive drops any live reservation, as a context reset or an
// ordinary (non-exclusive) store to an overlapping granule must.
func (s *State) ClearExclusive() {
	s.Exclusive = 0
}

// ExclusiveWrite implements spec.md §5's "An exclusive write succeeds
// only if state==set and the stored granule equals the write granule;
// success clears state." Returns whether the write may proceed.
func (s *State) ExclusiveWrite(addr uint32) bool {
	if s.Exclusive&exclusiveStateSet == 0 {
		return false
	}
	granule := uint64(addr & reservationGranuleMask)
	ok := s.Exclusive>>8 == granule
	if ok {
		s.ClearExclusive()
	}
	return ok
}

// GetRegister reads guest register index idx. Bounds are the caller's
// responsibility — compiled code never goes out of bounds because the
// opcode table's register arguments are validated at decode time, and
// Go-side callers (the interpreter fallback, debug tooling) are trusted
// internal code, not guest input.
func (s *State) GetRegister(idx uint8) uint32 {
	return uint32(s.Registers[idx])
}

// SetRegister writes guest register index idx.
func (s *State) SetRegister(idx uint8, v uint32) {
	s.Registers[idx] = uint64(v)
}

// NewState returns a zeroed JIT state. JITState (runloop.go) is
// responsible for filling the shim/stub pointer fields before any
// compiled code runs against it.
func NewState() *State {
	return &State{}
}
