package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func fullCallbacks() Callbacks {
	return Callbacks{
		MemoryReadCode:      func(uint32) uint32 { return 0 },
		MemoryRead8:         func(uint32) uint8 { return 0 },
		MemoryRead16:        func(uint32) uint16 { return 0 },
		MemoryWrite8:        func(uint32, uint8) {},
		MemoryWrite16:       func(uint32, uint16) {},
		CallSVC:             func(uint32) {},
		ExceptionRaised:     func(uint32, uint8) {},
		InterpreterFallback: func(uint32, int) {},
	}
}

func TestCallbacksValidateRequiresCorePaths(t *testing.T) {
	cb := fullCallbacks()
	require.NoError(t, cb.validate())

	missing := fullCallbacks()
	missing.MemoryWrite16 = nil
	require.ErrorIs(t, missing.validate(), errMissingCallback)
}

func TestCallbacksValidateIgnoresOptionalFields(t *testing.T) {
	cb := fullCallbacks()
	// AddTicks/GetTicksRemaining/IsReadOnlyMemory/MemoryRead32/64/Write32/64
	// are all left nil and must not fail validation.
	require.NoError(t, cb.validate())
}

func stateWithCallbacks(cb Callbacks) *State {
	s := NewState()
	s.config = &Config{Callbacks: cb}
	return s
}

func TestBridgeMemoryReadDispatchesByWidth(t *testing.T) {
	cb := fullCallbacks()
	cb.MemoryRead8 = func(addr uint32) uint8 { return uint8(addr + 1) }
	cb.MemoryRead16 = func(addr uint32) uint16 { return uint16(addr + 2) }
	s := stateWithCallbacks(cb)

	require.Equal(t, uint64(0x11), bridgeMemoryRead(s, 0x10, 8))
	require.Equal(t, uint64(0x12), bridgeMemoryRead(s, 0x10, 16))
}

func TestBridgeMemoryWriteDispatchesByWidth(t *testing.T) {
	var got8 uint8
	var got16 uint16
	cb := fullCallbacks()
	cb.MemoryWrite8 = func(_ uint32, v uint8) { got8 = v }
	cb.MemoryWrite16 = func(_ uint32, v uint16) { got16 = v }
	s := stateWithCallbacks(cb)

	bridgeMemoryWrite(s, 0, 0xAB, 8)
	require.Equal(t, uint8(0xAB), got8)

	bridgeMemoryWrite(s, 0, 0xABCD, 16)
	require.Equal(t, uint16(0xABCD), got16)
}

func TestBridgeSupervisorAndException(t *testing.T) {
	var svc uint32
	var excPC uint32
	var excKind uint8
	cb := fullCallbacks()
	cb.CallSVC = func(code uint32) { svc = code }
	cb.ExceptionRaised = func(pc uint32, kind uint8) { excPC, excKind = pc, kind }
	s := stateWithCallbacks(cb)

	bridgeSupervisor(s, 7)
	require.Equal(t, uint32(7), svc)

	bridgeException(s, 0x200, uint64(ExceptionBreakpoint))
	require.Equal(t, uint32(0x200), excPC)
	require.Equal(t, ExceptionBreakpoint, excKind)
}

func TestBridgeInterpret(t *testing.T) {
	var gotPC uint32
	var gotCount int
	cb := fullCallbacks()
	cb.InterpreterFallback = func(pc uint32, count int) { gotPC, gotCount = pc, count }
	s := stateWithCallbacks(cb)

	bridgeInterpret(s, 0x400, 3)
	require.Equal(t, uint32(0x400), gotPC)
	require.Equal(t, 3, gotCount)
}

func TestStubAddrDistinctPerFunc(t *testing.T) {
	require.NotZero(t, stubAddr(memoryReadEntry))
	require.NotEqual(t, stubAddr(memoryReadEntry), stubAddr(memoryWriteEntry))
}
