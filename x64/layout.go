package x64

// Field offsets into runtime.State, in bytes. This is the single source
// of truth both the emitter (addressing via stateReg) and runtime/state.go
// (declaring the actual Go struct) are built against — see
// runtime/state.go's doc comment, which repeats these offsets next to
// the field declarations they must match.
//
// Every register slot is stored 8 bytes wide even though CHIP-8 and A32
// guest registers are logically 32-bit: it keeps every offset a multiple
// of 8 (simpler address arithmetic, no mixed-width MOV variants to track)
// at the cost of some wasted padding, a trade the teacher's own bytecode
// VM makes too (vm/bytecode.go's registers are full machine words
// regardless of the value's logical width).
const (
	stateRegistersOffset    = 0
	stateNumRegisters       = 24 // covers chip8's 21 and armthumb's 16 with room to spare
	statePCOffset           = stateRegistersOffset + stateNumRegisters*8
	stateCyclesOffset       = statePCOffset + 8
	stateHaltOffset         = stateCyclesOffset + 8
	stateCpsrOffset         = stateHaltOffset + 8
	stateRSBLocationsOffset = stateCpsrOffset + 8
	stateRSBPointersOffset  = stateRSBLocationsOffset + rsbSlots*8
	stateRSBIndexOffset     = stateRSBPointersOffset + rsbSlots*8
	stateExclusiveOffset    = stateRSBIndexOffset + 8
	stateSpillArrayOffset   = stateExclusiveOffset + 8

	// Callback trampoline pointers: runtime.State stores the address of a
	// process-global assembly shim (runtime/shim_amd64.s, one copy shared
	// by every State, wired in by runtime.NewJITState) for each slow-path
	// operation the inline fast paths fall back to. emit.go/emit_memory.go
	// CALL through these rather than resolving a Go func value address
	// directly, keeping compiled code's only knowledge of Go's calling
	// convention confined to those shims.
	stateMemoryReadShimOffset    = stateSpillArrayOffset + spillSlots*8
	stateMemoryWriteShimOffset   = stateMemoryReadShimOffset + 8
	stateSupervisorShimOffset    = stateMemoryWriteShimOffset + 8
	stateExceptionShimOffset     = stateSupervisorShimOffset + 8
	stateInterpreterShimOffset   = stateExceptionShimOffset + 8

	// stateReturnStubOffset holds the address of the shared
	// return-to-dispatch stub (runtime/shim_amd64.s's returnStubEntry,
	// which restores host MXCSR and hands control back to the run loop).
	// Every unlinked/reverted LinkBlock, LinkBlockFast, and PopRSBHint
	// patch site reaches it through this slot rather than a hardcoded
	// immediate, so relocating the stub (or building it lazily per
	// runtime.JITState) never requires re-patching any compiled block.
	stateReturnStubOffset = stateInterpreterShimOffset + 8
)

// rsbSlots is the Return-Stack Buffer's fixed size (spec.md §3's "16-entry
// circular buffer of location_hash/code_ptr").
const rsbSlots = 16
