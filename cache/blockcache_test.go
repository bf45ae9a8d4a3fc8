package cache

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"dynatrans/ir"
	"dynatrans/x64"
)

const fakeReturnStub = uintptr(0x7f0000000000)

func compile(t *testing.T, entry ir.LocationDescriptor, term ir.Terminal) x64.CompiledBlock {
	t.Helper()
	block := ir.NewBlock(entry)
	block.End = entry.AdvancePC(2)
	block.SetTerminal(term)
	c, err := x64.NewCompiler(block)
	require.NoError(t, err)
	cb, err := c.Lower()
	require.NoError(t, err)
	return cb
}

// jmpTarget reads a FastLink site's rel32 JMP and returns the absolute
// address (relative to codeBase) it currently targets.
func jmpTarget(t *testing.T, code []byte, codeBase uintptr, off int) uintptr {
	t.Helper()
	require.Equal(t, byte(0xE9), code[off])
	disp := int32(binary.LittleEndian.Uint32(code[off+1:]))
	instrEnd := int64(codeBase) + int64(off) + 5
	return uintptr(instrEnd + int64(disp))
}

func TestBlockCacheLinksAcrossInstallOrder(t *testing.T) {
	locA := ir.NewChip8Location(0x200)
	locB := ir.NewChip8Location(0x202)
	hashA := locA.Hash()
	hashB := locB.Hash()

	cbA := compile(t, locA, ir.LinkBlockFast(locB))
	cbB := compile(t, locB, ir.ReturnToDispatch())

	cache := NewBlockCache(fakeReturnStub)

	descA, err := cache.InstallCompiled(hashA, locA, locA.AdvancePC(2), cbA)
	require.NoError(t, err)
	require.Len(t, descA.Sites, 1)
	site := descA.Sites[0]

	// Unresolved: A's site still falls back to its own trampoline.
	require.Equal(t, descA.CodeBase+uintptr(site.TrampolineOffset),
		jmpTarget(t, descA.Code, descA.CodeBase, site.Offset))

	descB, err := cache.InstallCompiled(hashB, locB, locB.AdvancePC(2), cbB)
	require.NoError(t, err)

	// Resolved: A's site now jumps directly to B's entrypoint.
	require.Equal(t, descB.CodeBase, jmpTarget(t, descA.Code, descA.CodeBase, site.Offset))

	got, ok := cache.Lookup(hashB)
	require.True(t, ok)
	require.Equal(t, descB, got)
}

func TestBlockCacheEvictRevertsIncomingSites(t *testing.T) {
	locA := ir.NewChip8Location(0x200)
	locB := ir.NewChip8Location(0x202)
	hashA := locA.Hash()
	hashB := locB.Hash()

	cbA := compile(t, locA, ir.LinkBlockFast(locB))
	cbB := compile(t, locB, ir.ReturnToDispatch())

	cache := NewBlockCache(fakeReturnStub)
	descA, err := cache.InstallCompiled(hashA, locA, locA.AdvancePC(2), cbA)
	require.NoError(t, err)
	_, err = cache.InstallCompiled(hashB, locB, locB.AdvancePC(2), cbB)
	require.NoError(t, err)

	cache.Evict(hashB)

	_, ok := cache.Lookup(hashB)
	require.False(t, ok)

	site := descA.Sites[0]
	require.Equal(t, descA.CodeBase+uintptr(site.TrampolineOffset),
		jmpTarget(t, descA.Code, descA.CodeBase, site.Offset))
}

func TestBlockCacheInvalidateCacheRanges(t *testing.T) {
	locA := ir.NewChip8Location(0x200)
	hashA := locA.Hash()
	cbA := compile(t, locA, ir.ReturnToDispatch())

	cache := NewBlockCache(fakeReturnStub)
	_, err := cache.InstallCompiled(hashA, locA, locA.AdvancePC(2), cbA)
	require.NoError(t, err)

	hashes := cache.InvalidateCacheRanges([]Interval{{Lo: 0x200, Hi: 0x201}})
	require.Equal(t, []uint64{hashA}, hashes)

	_, ok := cache.Lookup(hashA)
	require.False(t, ok)
}

func TestBlockCacheClearCache(t *testing.T) {
	locA := ir.NewChip8Location(0x200)
	hashA := locA.Hash()
	cbA := compile(t, locA, ir.ReturnToDispatch())

	cache := NewBlockCache(fakeReturnStub)
	_, err := cache.InstallCompiled(hashA, locA, locA.AdvancePC(2), cbA)
	require.NoError(t, err)

	require.NoError(t, cache.ClearCache())
	_, ok := cache.Lookup(hashA)
	require.False(t, ok)
}
