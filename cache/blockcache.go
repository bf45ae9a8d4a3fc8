// Package cache implements the primary block cache and range index spec.md
// §4.9 describes: a location_hash -> BlockDescriptor map backing lookup and
// linking, and a range index used to invalidate translated blocks when the
// guest writes to memory it previously translated as code.
package cache

import (
	"dynatrans/ir"
	"dynatrans/x64"
)

// BlockDescriptor is everything the cache keeps for one compiled block:
// its machine code, the address it is mapped at, and the patch sites
// terminal.go left inside that code.
type BlockDescriptor struct {
	Entry    ir.LocationDescriptor
	End      ir.LocationDescriptor
	Code     []byte
	CodeBase uintptr
	Sites    []x64.PatchSite
}

// patchRef is one outgoing patch site, recorded against the target hash it
// points at so an eviction of the target can find and revert it.
type patchRef struct {
	owner uint64
	site  x64.PatchSite
}

// BlockCache is the primary cache spec.md §4.9 calls `block_descriptors`,
// paired with the `block_ranges` index and the incoming-patch bookkeeping
// needed to revert links on eviction ("its incoming sites must also be
// reverted"). Per spec.md §5 the JIT is single-threaded per context and
// "cache invalidation from another thread is unsafe while code is running;
// callers must quiesce first" — so, like the teacher's own bytecode cache
// (`vm/compile.go`'s plain map, no locking), this holds no mutex.
type BlockCache struct {
	descriptors map[uint64]*BlockDescriptor
	incoming    map[uint64][]patchRef
	ranges      *RangeIndex
	code        *CodeBuffer
	returnStub  uintptr
}

// NewBlockCache builds an empty cache backed by its own CodeBuffer.
// returnStub is the address every reverted patch site falls back to
// (PatchIndirectLink sites) or, for slow/fast links, the address already
// baked into each block's own trampoline — Revert only needs it for the
// indirect case.
func NewBlockCache(returnStub uintptr) *BlockCache {
	return &BlockCache{
		descriptors: make(map[uint64]*BlockDescriptor),
		incoming:    make(map[uint64][]patchRef),
		ranges:      NewRangeIndex(),
		code:        NewCodeBuffer(),
		returnStub:  returnStub,
	}
}

// InstallCompiled maps cb.Code into this cache's executable code buffer
// and installs the resulting BlockDescriptor under hash. This is the
// normal entry point a run loop uses after x64.Compiler.Lower succeeds.
func (c *BlockCache) InstallCompiled(hash uint64, entry, end ir.LocationDescriptor, cb x64.CompiledBlock) (*BlockDescriptor, error) {
	base, mapped, err := c.code.Write(cb.Code)
	if err != nil {
		return nil, err
	}
	desc := &BlockDescriptor{
		Entry:    entry,
		End:      end,
		Code:     mapped,
		CodeBase: base,
		Sites:    cb.PatchSites,
	}
	c.Install(hash, desc)
	return desc, nil
}

// Lookup returns the cached block for hash, if any.
func (c *BlockCache) Lookup(hash uint64) (*BlockDescriptor, bool) {
	d, ok := c.descriptors[hash]
	return d, ok
}

// Install registers a newly compiled block under hash, patches any of its
// own outgoing sites whose target is already cached, and patches any
// already-cached block waiting to link to hash (spec.md §4.8
// "Patching": "look up all patch records keyed on its entry LocationDescriptor
// and overwrite each patch site with the direct jump").
func (c *BlockCache) Install(hash uint64, desc *BlockDescriptor) {
	c.descriptors[hash] = desc
	c.ranges.AddRange(desc.Entry.PC(), desc.End.PC()-1, hash)

	for _, site := range desc.Sites {
		x64.Revert(desc.Code, desc.CodeBase, site, c.returnStub)
		if !site.HasTarget {
			continue
		}
		targetHash := site.Target.Hash()
		c.incoming[targetHash] = append(c.incoming[targetHash], patchRef{owner: hash, site: site})
		if target, ok := c.descriptors[targetHash]; ok {
			x64.Patch(desc.Code, desc.CodeBase, site, target.CodeBase)
		}
	}

	for _, ref := range c.incoming[hash] {
		if owner, ok := c.descriptors[ref.owner]; ok {
			x64.Patch(owner.Code, owner.CodeBase, ref.site, desc.CodeBase)
		}
	}
}

// Evict removes hash from the primary cache, reverts its own outgoing
// sites to their unlinked form, and reverts every other cached block's
// site that linked to it — matching spec.md §4.8's "When a block is
// evicted (C11), iterate its outgoing patch records in reverse and restore
// the original mov-pc + jump-to-return sequence; its incoming sites must
// also be reverted." Its host code bytes are left in place (orphaned);
// ClearCache is the only reclamation path, per spec.md §4.9/§5.
func (c *BlockCache) Evict(hash uint64) {
	desc, ok := c.descriptors[hash]
	if !ok {
		return
	}
	delete(c.descriptors, hash)

	for i := len(desc.Sites) - 1; i >= 0; i-- {
		x64.Revert(desc.Code, desc.CodeBase, desc.Sites[i], c.returnStub)
	}

	for _, ref := range c.incoming[hash] {
		if owner, ok := c.descriptors[ref.owner]; ok {
			x64.Revert(owner.Code, owner.CodeBase, ref.site, c.returnStub)
		}
	}
	delete(c.incoming, hash)
}

// InvalidateCacheRanges is spec.md §4.9's guest-memory-write entry point:
// "InvalidateCacheRanges(ranges) returns all overlapping hashes; each must
// be removed from the primary cache and its incoming/outgoing patches
// reverted."
func (c *BlockCache) InvalidateCacheRanges(ranges []Interval) []uint64 {
	hashes := c.ranges.InvalidateRanges(ranges)
	for _, h := range hashes {
		c.Evict(h)
	}
	return hashes
}

// ClearCache drops every cached block and range and unmaps the underlying
// code buffer — the only reclamation path for orphaned host code
// (spec.md §4.9/§5).
func (c *BlockCache) ClearCache() error {
	c.descriptors = make(map[uint64]*BlockDescriptor)
	c.incoming = make(map[uint64][]patchRef)
	c.ranges.ClearCache()
	if err := c.code.Reset(); err != nil {
		return err
	}
	c.code = NewCodeBuffer()
	return nil
}
