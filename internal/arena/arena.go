// Package arena implements the runtime's two-pool allocator: a preferred
// external-RAM pool and a smaller internal-RAM fallback, each a first-fit
// free-list over one pre-allocated byte slice.
//
// Both pools are plain Go byte slices sized at construction time — this
// process models the embedded two-pool discipline rather than talking to
// real external/internal RAM controllers, the same way the teacher's
// engine.Config models a hardware memory-page limit as a runtime config
// value instead of an OS call.
package arena

import (
	"sort"
	"sync"

	"github.com/akiraos/runtime/internal/akerr"
)

// Source identifies which pool satisfied an allocation.
type Source int

const (
	SourceNone Source = iota
	SourceExternal
	SourceInternal
)

func (s Source) String() string {
	switch s {
	case SourceExternal:
		return "external"
	case SourceInternal:
		return "internal"
	default:
		return "none"
	}
}

// Block is a tagged handle to one live allocation. Allocating produces a
// Block that carries its size and owning pool; freeing consumes it.
type Block struct {
	data   []byte
	pool   *pool
	offset int
}

// Bytes returns the block's backing storage.
func (b *Block) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

// Len returns the block's size in bytes.
func (b *Block) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Arena is the runtime's single allocation surface.
type Arena struct {
	external *pool
	internal *pool
}

// Config sizes the two pools. Either may be zero to disable that pool.
type Config struct {
	ExternalBytes uint32
	InternalBytes uint32
}

// New creates an arena with the given pool sizes.
func New(cfg Config) *Arena {
	a := &Arena{}
	if cfg.ExternalBytes > 0 {
		a.external = newPool(int(cfg.ExternalBytes))
	}
	if cfg.InternalBytes > 0 {
		a.internal = newPool(int(cfg.InternalBytes))
	}
	return a
}

// Alloc returns a block of at least size bytes, preferring the external
// pool when present and falling back to the internal pool. It never
// partially succeeds: either a single block of the requested size is
// returned, or (nil, SourceNone, error).
func (a *Arena) Alloc(size int) (*Block, Source, error) {
	return a.alloc(size)
}

// AllocPreferringExternal is an alias used by the chunked loader to make the
// preference explicit at call sites.
func (a *Arena) AllocPreferringExternal(size int) (*Block, Source, error) {
	return a.alloc(size)
}

func (a *Arena) alloc(size int) (*Block, Source, error) {
	if size <= 0 {
		return nil, SourceNone, akerr.InvalidArgument(akerr.PhaseArena, "alloc size must be positive")
	}

	if a.external != nil {
		if b, ok := a.external.alloc(size); ok {
			return b, SourceExternal, nil
		}
	}
	if a.internal != nil {
		if b, ok := a.internal.alloc(size); ok {
			return b, SourceInternal, nil
		}
	}
	return nil, SourceNone, akerr.NoMemory(akerr.PhaseArena, "no pool could satisfy allocation")
}

// Free returns a block to its originating pool. Free(nil) is a no-op.
func (a *Arena) Free(b *Block) {
	if b == nil || b.pool == nil {
		return
	}
	b.pool.release(b)
}

// HasExternal reports whether an external pool was configured.
func (a *Arena) HasExternal() bool {
	return a.external != nil
}

// span is a free region within a pool, identified by offset and size.
type span struct {
	offset int
	size   int
}

// pool is a first-fit free-list allocator over one contiguous buffer.
type pool struct {
	mu   sync.Mutex
	buf  []byte
	free []span
}

func newPool(size int) *pool {
	return &pool{
		buf:  make([]byte, size),
		free: []span{{offset: 0, size: size}},
	}
}

func (p *pool) alloc(size int) (*Block, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, s := range p.free {
		if s.size < size {
			continue
		}
		p.free = append(p.free[:i:i], p.free[i+1:]...)
		if remaining := s.size - size; remaining > 0 {
			p.insertLocked(span{offset: s.offset + size, size: remaining})
		}
		return &Block{
			data:   p.buf[s.offset : s.offset+size : s.offset+size],
			pool:   p,
			offset: s.offset,
		}, true
	}
	return nil, false
}

func (p *pool) release(b *Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insertLocked(span{offset: b.offset, size: len(b.data)})
}

// insertLocked inserts a freed span in offset order and coalesces it with
// any adjacent free spans. Callers must hold p.mu.
func (p *pool) insertLocked(s span) {
	i := sort.Search(len(p.free), func(i int) bool { return p.free[i].offset >= s.offset })
	p.free = append(p.free, span{})
	copy(p.free[i+1:], p.free[i:])
	p.free[i] = s

	// Coalesce with the following neighbor first so indices stay valid.
	if i+1 < len(p.free) && p.free[i].offset+p.free[i].size == p.free[i+1].offset {
		p.free[i].size += p.free[i+1].size
		p.free = append(p.free[:i+1], p.free[i+2:]...)
	}
	if i > 0 && p.free[i-1].offset+p.free[i-1].size == p.free[i].offset {
		p.free[i-1].size += p.free[i].size
		p.free = append(p.free[:i], p.free[i+1:]...)
	}
}
