package x64

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"dynatrans/ir"
)

// decodedLen walks forward from off, summing decoded instruction lengths
// until it reaches n, returning how many bytes were actually consumed —
// this is how patch-site lengths are checked, per the "assert len(bytes)
// == N via x86asm.Decode-based disassembly ... rather than a raw
// byte-literal comparison" requirement: it catches accidental NOP-padding
// drift from the underlying assembler instead of just trusting the
// recorded Offset arithmetic.
func decodedLen(t *testing.T, code []byte, off, n int) int {
	t.Helper()
	consumed := 0
	for consumed < n {
		inst, err := x86asm.Decode(code[off+consumed:], 64)
		require.NoError(t, err, "failed to decode at offset %d (%s)", off+consumed, Disassemble(code[off:off+n]))
		require.Greater(t, inst.Len, 0)
		consumed += inst.Len
	}
	return consumed
}

func compileSingleTerminal(t *testing.T, term ir.Terminal) CompiledBlock {
	t.Helper()
	block := ir.NewBlock(ir.NewChip8Location(0x200))
	block.CycleCount = 3
	block.SetTerminal(term)
	c, err := NewCompiler(block)
	require.NoError(t, err)
	cb, err := c.Lower()
	require.NoError(t, err)
	return cb
}

func TestLowerLinkBlockPatchSiteLength(t *testing.T) {
	next := ir.NewChip8Location(0x202)
	cb := compileSingleTerminal(t, ir.LinkBlock(next))

	require.Len(t, cb.PatchSites, 1)
	site := cb.PatchSites[0]
	require.Equal(t, PatchSlowLink, site.Kind)
	require.Equal(t, SlowLinkPatchBytes, decodedLen(t, cb.Code, site.Offset, SlowLinkPatchBytes))
	require.Greater(t, site.TrampolineOffset, site.Offset)
	require.True(t, site.HasTarget)
	require.Equal(t, next, site.Target)
}

func TestLowerLinkBlockFastPatchSiteLength(t *testing.T) {
	next := ir.NewChip8Location(0x202)
	cb := compileSingleTerminal(t, ir.LinkBlockFast(next))

	require.Len(t, cb.PatchSites, 1)
	site := cb.PatchSites[0]
	require.Equal(t, PatchFastLink, site.Kind)
	require.Equal(t, FastLinkPatchBytes, decodedLen(t, cb.Code, site.Offset, FastLinkPatchBytes))
	require.Greater(t, site.TrampolineOffset, site.Offset)
	require.True(t, site.HasTarget)
	require.Equal(t, next, site.Target)
}

func TestLowerPopRSBHintPatchSiteLength(t *testing.T) {
	cb := compileSingleTerminal(t, ir.PopRSBHint())

	require.Len(t, cb.PatchSites, 1)
	site := cb.PatchSites[0]
	require.Equal(t, PatchIndirectLink, site.Kind)
	require.False(t, site.HasTarget)
	require.Equal(t, IndirectLinkPatchBytes, decodedLen(t, cb.Code, site.Offset, IndirectLinkPatchBytes))

	// MOVABS RCX, imm64 always starts with the REX.W + B9 prefix pair
	// this package's reservation hardcodes.
	require.Equal(t, byte(0x48), cb.Code[site.Offset])
	require.Equal(t, byte(0xB9), cb.Code[site.Offset+1])
}

func TestLowerReturnToDispatchSubtractsCycleCount(t *testing.T) {
	cb := compileSingleTerminal(t, ir.ReturnToDispatch())
	require.Empty(t, cb.PatchSites)

	inst, err := x86asm.Decode(cb.Code, 64)
	require.NoError(t, err)
	require.Equal(t, x86asm.SUB, inst.Op, Disassemble(cb.Code))
}

func TestLowerCheckHaltWrapsInner(t *testing.T) {
	cb := compileSingleTerminal(t, ir.CheckHalt(ir.ReturnToDispatch()))
	require.Empty(t, cb.PatchSites)
	require.NotEmpty(t, cb.Code)
}

func TestLowerIfBothBranchesReachable(t *testing.T) {
	block := ir.NewBlock(ir.NewChip8Location(0x200))
	block.SetTerminal(ir.If(ir.ImmU1(true), ir.ReturnToDispatch(), ir.PopRSBHint()))

	c, err := NewCompiler(block)
	require.NoError(t, err)
	cb, err := c.Lower()
	require.NoError(t, err)
	require.Len(t, cb.PatchSites, 1)
	require.Equal(t, PatchIndirectLink, cb.PatchSites[0].Kind)
}

func TestLowerCheckBitRejected(t *testing.T) {
	block := ir.NewBlock(ir.NewChip8Location(0x200))
	block.SetTerminal(ir.CheckBit())
	c, err := NewCompiler(block)
	require.NoError(t, err)
	_, err = c.Lower()
	require.Error(t, err)
}
