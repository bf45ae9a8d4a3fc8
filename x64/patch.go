package x64

import (
	"encoding/binary"

	"dynatrans/ir"
)

// PatchKind identifies which of the three fixed-length patchable shapes
// terminal.go left behind in a compiled block's machine code, matching
// the patch record spec.md §4 describes: "list of jump-greater sites
// (slow link) and list of unconditional-jump sites (fast link), plus
// optional indirect-mov-rcx sites."
type PatchKind int

const (
	// PatchSlowLink is Terminal.LinkBlock's site: a 14-byte conditional
	// jump (JG rel32, NOP-padded) that, unlinked, targets the small
	// in-line trampoline emitted right after it (which commits the next
	// guest PC to runtime.State and jumps to the shared return stub);
	// linked, it jumps straight past that trampoline into the target
	// block's entrypoint.
	PatchSlowLink PatchKind = iota
	// PatchFastLink is Terminal.LinkBlockFast's site: the same shape as
	// PatchSlowLink but an unconditional 13-byte JMP rel32, since
	// LinkBlockFast is only ever emitted where no cycle check is needed.
	PatchFastLink
	// PatchIndirectLink is Terminal.PopRSBHint's miss path: a 10-byte
	// MOVABS RCX, imm64 whose imm64 field is the entire patchable region,
	// followed by a fixed (never rewritten) JMP RCX. Unlinked, the imm64
	// holds the return-stub address that cache.BlockCache writes through
	// Revert when the block is installed; a far/non-local target can be patched in without needing a
	// rel32 to reach it.
	PatchIndirectLink
)

// Fixed patch-site byte lengths (spec.md §4/GLOSSARY "Patch site"). Every
// lowerer that leaves a patch site behind emits exactly this many bytes
// for it; x64/terminal_test.go checks this via x86asm-based disassembly
// of a representative block rather than a raw byte-literal comparison.
const (
	SlowLinkPatchBytes     = 14
	FastLinkPatchBytes     = 13
	IndirectLinkPatchBytes = 10

	slowLinkJccBytes = 6 // 0F 8F cd
	fastLinkJmpBytes = 5 // E9 cd
)

// PatchSite records one patchable location inside a compiled block's
// machine code, in the byte-offset space Compiler.Lower returns code in.
// cache.BlockDescriptor keeps these alongside the code slice and hands
// them to Patch/Revert once a link target's address is known or the
// target block is evicted.
type PatchSite struct {
	Kind PatchKind
	// Offset is the byte offset, within the block's assembled code, of
	// the patch site's first byte.
	Offset int
	// TrampolineOffset is the byte offset of the code the site falls
	// back to when unlinked: for slow/fast links, the in-line
	// "commit PC, jump to return stub" trampoline immediately following
	// the site; unused (zero) for indirect links, which have no
	// trampoline of their own — Revert reads the return stub straight out
	// of runtime.State instead.
	TrampolineOffset int
	// HasTarget and Target record the statically-known guest location a
	// LinkBlock/LinkBlockFast site resolves to once its target block is
	// cached (spec.md §4.8: "record a patch site ... to next's entrypoint
	// if known"). PopRSBHint's indirect site has no statically-known
	// target — its destination depends on the runtime call stack — so it
	// is never looked up by cache.BlockCache and always stays reverted to
	// the return stub; HasTarget is false for it.
	HasTarget bool
	Target    ir.LocationDescriptor
}

// nopFill writes n bytes of NOPs (the same multi-byte encodings an x86
// assembler emits for alignment padding) starting at code[off:].
func nopFill(code []byte, off, n int) {
	for n > 0 {
		switch {
		case n >= 4:
			copy(code[off:], []byte{0x0F, 0x1F, 0x40, 0x00})
			off += 4
			n -= 4
		default:
			code[off] = 0x90
			off++
			n--
		}
	}
}

// rel32 computes the displacement golang-asm's own branch encodings use:
// measured from the address immediately following the instruction to target.
func rel32(instrEnd, target uintptr) int32 {
	return int32(int64(target) - int64(instrEnd))
}

// Patch overwrites site with a direct jump/load to target, called once the
// target block's LocationDescriptor is looked up in the cache and found
// (spec.md §4.8 "Patching": "look up all patch records keyed on its entry
// LocationDescriptor and overwrite each patch site with the direct jump").
// codeBase is the address the owning block's code is mapped at.
func Patch(code []byte, codeBase uintptr, site PatchSite, target uintptr) {
	writeSite(code, codeBase, site, target)
}

// Revert restores site to its unlinked form: for slow/fast links, a jump
// back to the site's own trampoline (spec.md §4.8 "restore the original
// mov-pc + jump-to-return sequence" — the trampoline never moves, so
// reverting is just re-pointing the jump at it); for an indirect link,
// a direct load of the shared return stub's address.
func Revert(code []byte, codeBase uintptr, site PatchSite, returnStub uintptr) {
	if site.Kind == PatchIndirectLink {
		writeSite(code, codeBase, site, returnStub)
		return
	}
	writeSite(code, codeBase, site, codeBase+uintptr(site.TrampolineOffset))
}

func writeSite(code []byte, codeBase uintptr, site PatchSite, target uintptr) {
	switch site.Kind {
	case PatchSlowLink:
		off := site.Offset
		disp := rel32(codeBase+uintptr(off+slowLinkJccBytes), target)
		code[off] = 0x0F
		code[off+1] = 0x8F
		binary.LittleEndian.PutUint32(code[off+2:], uint32(disp))
		nopFill(code, off+slowLinkJccBytes, SlowLinkPatchBytes-slowLinkJccBytes)
	case PatchFastLink:
		off := site.Offset
		disp := rel32(codeBase+uintptr(off+fastLinkJmpBytes), target)
		code[off] = 0xE9
		binary.LittleEndian.PutUint32(code[off+1:], uint32(disp))
		nopFill(code, off+fastLinkJmpBytes, FastLinkPatchBytes-fastLinkJmpBytes)
	case PatchIndirectLink:
		// MOVABS RCX, imm64: REX.W B9+rcx(1) opcode(1) imm64(8) = 10 bytes;
		// the imm64 field occupies the final 8 bytes of the reservation.
		binary.LittleEndian.PutUint64(code[site.Offset+2:], uint64(target))
	}
}
