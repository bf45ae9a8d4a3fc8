package cache

import (
	"fmt"
	"syscall"
	"unsafe"
)

// codeBufferChunkBytes is the size of each mmap'd arena the buffer grows
// by once the current one runs out of room.
const codeBufferChunkBytes = 64 * 1024

type codeChunk struct {
	mem  []byte
	used int
}

// CodeBuffer is the append-only, RWX-mapped host code buffer spec.md §5
// describes: "the host code buffer is append-only during a context's
// lifetime; ClearCache is the only reset." Grounded on stdlib
// syscall.Mmap/Munmap — no third-party memory-mapping library appears
// anywhere in the example pack (every go.mod in the corpus was checked for
// golang.org/x/sys and none carries it), so this is one of the few
// stdlib-only components, justified in DESIGN.md.
type CodeBuffer struct {
	chunks []*codeChunk
}

func NewCodeBuffer() *CodeBuffer {
	return &CodeBuffer{}
}

// Write copies code into the buffer, growing it with a fresh mmap'd chunk
// if the current one has insufficient room, and returns both the host
// address it now lives at and a slice aliasing that same mapped memory —
// callers (cache.BlockCache) keep the slice so later Patch/Revert calls
// mutate the actual executable bytes rather than the caller's original
// (non-executable) assembled copy.
func (b *CodeBuffer) Write(code []byte) (uintptr, []byte, error) {
	if len(code) == 0 {
		return 0, nil, nil
	}
	chunk := b.fit(len(code))
	if chunk == nil {
		c, err := newCodeChunk(len(code))
		if err != nil {
			return 0, nil, err
		}
		b.chunks = append(b.chunks, c)
		chunk = c
	}
	start := chunk.used
	base := &chunk.mem[start]
	copy(chunk.mem[start:], code)
	chunk.used += len(code)
	return uintptr(unsafe.Pointer(base)), chunk.mem[start:chunk.used:chunk.used], nil
}

func (b *CodeBuffer) fit(n int) *codeChunk {
	if len(b.chunks) == 0 {
		return nil
	}
	last := b.chunks[len(b.chunks)-1]
	if len(last.mem)-last.used < n {
		return nil
	}
	return last
}

func newCodeChunk(minBytes int) (*codeChunk, error) {
	size := codeBufferChunkBytes
	if minBytes > size {
		size = minBytes
	}
	mem, err := syscall.Mmap(-1, 0, size,
		syscall.PROT_READ|syscall.PROT_WRITE|syscall.PROT_EXEC,
		syscall.MAP_PRIVATE|syscall.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("cache: mmap code chunk: %w", err)
	}
	return &codeChunk{mem: mem}, nil
}

// Reset unmaps every chunk — the reclamation path ClearCache drives once
// orphaned blocks (from eviction or invalidation) have accumulated.
func (b *CodeBuffer) Reset() error {
	for _, c := range b.chunks {
		if err := syscall.Munmap(c.mem); err != nil {
			return err
		}
	}
	b.chunks = nil
	return nil
}
