package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"dynatrans/ir"
)

func TestNewJITStateRejectsMissingCallbacks(t *testing.T) {
	_, err := NewJITState(Config{})
	require.ErrorIs(t, err, errMissingCallback)
}

func TestNewJITStateWiresShimsAndReturnStub(t *testing.T) {
	js, err := NewJITState(Config{Callbacks: fullCallbacks()})
	require.NoError(t, err)

	require.NotZero(t, js.State.MemoryReadShim)
	require.NotZero(t, js.State.MemoryWriteShim)
	require.NotZero(t, js.State.SupervisorShim)
	require.NotZero(t, js.State.ExceptionShim)
	require.NotZero(t, js.State.InterpreterShim)
	require.NotZero(t, js.State.ReturnStub)
	require.NotNil(t, js.State.config)
	require.Equal(t, js.cfg.ISA, js.State.config.ISA)
}

func TestNewJITStateDefaultsToChip8(t *testing.T) {
	js, err := NewJITState(Config{Callbacks: fullCallbacks()})
	require.NoError(t, err)
	require.NotNil(t, js.chip8Decoder)
	require.Nil(t, js.thumbDecoder)
}

func TestNewJITStateSelectsThumbDecoder(t *testing.T) {
	js, err := NewJITState(Config{ISA: ISAThumb, Callbacks: fullCallbacks()})
	require.NoError(t, err)
	require.NotNil(t, js.thumbDecoder)
	require.Nil(t, js.chip8Decoder)
}

// testChip8Program is a tiny CHIP-8 image: a single JP 0x200 at 0x200 that
// jumps back to itself, so lifting from 0x200 always terminates in one
// basic block.
var testChip8Program = map[uint32]uint16{
	0x200: 0x1200, // JP 0x200
}

func chip8Callbacks() Callbacks {
	cb := fullCallbacks()
	cb.MemoryReadCode = func(pc uint32) uint32 { return uint32(testChip8Program[pc]) }
	return cb
}

func TestLookupOrCompileCachesAcrossCalls(t *testing.T) {
	js, err := NewJITState(Config{Callbacks: chip8Callbacks()})
	require.NoError(t, err)

	loc := ir.NewChip8Location(0x200)
	descA, err := js.lookupOrCompile(loc)
	require.NoError(t, err)
	require.NotNil(t, descA)

	descB, err := js.lookupOrCompile(loc)
	require.NoError(t, err)
	require.Same(t, descA, descB)
}

func TestDisassembleAtReturnsNonEmptyListing(t *testing.T) {
	js, err := NewJITState(Config{Callbacks: chip8Callbacks()})
	require.NoError(t, err)

	out, err := js.DisassembleAt(ir.NewChip8Location(0x200))
	require.NoError(t, err)
	require.NotEmpty(t, out)
}
