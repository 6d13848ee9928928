// Package quota implements the guest memory allocator backing mem_alloc and
// mem_free (spec §4.8): host-side allocations accounted through the arena
// with a corruption-detecting header, and guest-linear-memory allocations
// pre-checked against the slot's quota with a side map tracking size by
// pointer (since wazero's own allocator does not report freed sizes).
package quota

import (
	"encoding/binary"
	"sync"

	"github.com/akiraos/runtime/internal/akerr"
	"github.com/akiraos/runtime/internal/apptable"
	"github.com/akiraos/runtime/internal/arena"
)

// SanityLimitBytes rejects any single allocation request larger than this,
// regardless of quota (spec §4.8's "implementation-defined sanity limit").
const SanityLimitBytes = 16 * 1024 * 1024

// headerMagic marks a live host-side allocation. headerSize is the
// allocation header's on-wire size: magic(4) + size(4) + owner_slot(4).
const (
	headerMagic         uint32 = 0xA11A5EED
	headerSize                 = 12
)

// Allocator enforces per-slot memory quotas for both host-side staging
// buffers and guest-linear-memory allocations.
type Allocator struct {
	arena *arena.Arena
	table *apptable.Table

	mu          sync.Mutex
	guestSizeOf map[guestPtrKey]uint32 // (slot, ptr) -> size, for guest-linear frees
}

type guestPtrKey struct {
	slot int
	ptr  uint32
}

// New creates an allocator sharing the runtime's arena and app table.
func New(a *arena.Arena, t *apptable.Table) *Allocator {
	return &Allocator{
		arena:       a,
		table:       t,
		guestSizeOf: make(map[guestPtrKey]uint32),
	}
}

func checkSize(size uint32) error {
	if size == 0 {
		return akerr.InvalidArgument(akerr.PhaseQuota, "allocation size must be non-zero")
	}
	if size > SanityLimitBytes {
		return akerr.InvalidArgument(akerr.PhaseQuota, "allocation exceeds sanity limit")
	}
	return nil
}

// reserve pre-checks and charges size against the slot's quota, treating
// memory_used+size overflow as a quota violation. Callers must undo the
// charge (via release) if the allocation they were reserving for then fails.
func (a *Allocator) reserve(slot int, size uint32) error {
	s, err := a.table.Get(slot)
	if err != nil {
		return err
	}
	used, err := a.table.MemoryUsed(slot)
	if err != nil {
		return err
	}
	newUsed := used + size
	if newUsed < used || (s.MemoryQuotaBytes != 0 && newUsed > s.MemoryQuotaBytes) {
		return akerr.QuotaExceeded(akerr.PhaseQuota, s.Name, used, size, s.MemoryQuotaBytes)
	}
	if _, err := a.table.AddMemoryUsed(slot, size); err != nil {
		return err
	}
	return nil
}

func (a *Allocator) release(slot int, size uint32) {
	// Two's-complement subtraction via the table's AddMemoryUsed.
	a.table.AddMemoryUsed(slot, ^size+1)
}

// HostAlloc allocates a host-side buffer on behalf of the native bridge
// (e.g. an RF-transmit staging copy), charged against the slot's quota and
// prefixed with a corruption-detecting header. Returns the user-visible
// slice (header hidden).
func (a *Allocator) HostAlloc(slot int, size uint32) ([]byte, *arena.Block, error) {
	if err := checkSize(size); err != nil {
		return nil, nil, err
	}
	if err := a.reserve(slot, size); err != nil {
		return nil, nil, err
	}

	block, _, err := a.arena.Alloc(int(headerSize + size))
	if err != nil {
		a.release(slot, size)
		return nil, nil, akerr.NoMemory(akerr.PhaseQuota, "arena exhausted")
	}

	buf := block.Bytes()
	binary.LittleEndian.PutUint32(buf[0:4], headerMagic)
	binary.LittleEndian.PutUint32(buf[4:8], size)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(slot))

	return buf[headerSize:], block, nil
}

// HostFree validates the allocation header and releases a buffer previously
// returned by HostAlloc, refusing (and logging, via the caller) a corrupted
// or already-freed header.
func (a *Allocator) HostFree(block *arena.Block) error {
	if block == nil {
		return nil
	}
	buf := block.Bytes()
	if len(buf) < headerSize {
		return akerr.InvalidArgument(akerr.PhaseQuota, "block too small to carry an allocation header")
	}

	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != headerMagic {
		return akerr.New(akerr.PhaseQuota, akerr.KindInvalidArgument).
			Detail("allocation header magic mismatch (double-free or corruption)").Build()
	}
	size := binary.LittleEndian.Uint32(buf[4:8])
	slot := int(binary.LittleEndian.Uint32(buf[8:12]))

	// Zero the magic first so a concurrent/repeated free on the same
	// header is detected even if the arena free below is slow.
	binary.LittleEndian.PutUint32(buf[0:4], 0)

	a.release(slot, size)
	a.arena.Free(block)
	return nil
}

// GuestAlloc pre-checks size against the slot's quota and, on success,
// delegates to alloc (the engine's guest-linear-memory allocator, e.g. a
// module-exported `malloc`), recording the returned pointer's size in the
// side map so GuestFree can later find it.
func (a *Allocator) GuestAlloc(slot int, size uint32, alloc func(uint32) (uint32, error)) (uint32, error) {
	if err := checkSize(size); err != nil {
		return 0, err
	}
	if err := a.reserve(slot, size); err != nil {
		return 0, err
	}

	ptr, err := alloc(size)
	if err != nil || ptr == 0 {
		a.release(slot, size)
		return 0, akerr.NoMemory(akerr.PhaseQuota, "guest linear-memory allocator exhausted")
	}

	a.mu.Lock()
	a.guestSizeOf[guestPtrKey{slot: slot, ptr: ptr}] = size
	a.mu.Unlock()

	return ptr, nil
}

// GuestFree looks up ptr's recorded size, decrements memory_used, and
// delegates to free (the engine's guest-linear-memory deallocator). Freeing
// an unrecorded pointer (never allocated, or already freed) is a no-op,
// matching mem_free's "idempotent on 0 / unknown pointer" contract.
func (a *Allocator) GuestFree(slot int, ptr uint32, free func(uint32) error) error {
	if ptr == 0 {
		return nil
	}

	key := guestPtrKey{slot: slot, ptr: ptr}
	a.mu.Lock()
	size, ok := a.guestSizeOf[key]
	if ok {
		delete(a.guestSizeOf, key)
	}
	a.mu.Unlock()

	if !ok {
		return nil
	}

	a.release(slot, size)
	if free != nil {
		return free(ptr)
	}
	return nil
}

// ReleaseSlot force-frees every guest-linear allocation still charged to
// slot and zeroes its memory_used, matching destroy's "force-free rather
// than abandon" preference (spec §4.6).
func (a *Allocator) ReleaseSlot(slot int) {
	a.mu.Lock()
	for k := range a.guestSizeOf {
		if k.slot == slot {
			delete(a.guestSizeOf, k)
		}
	}
	a.mu.Unlock()

	used, err := a.table.MemoryUsed(slot)
	if err == nil && used != 0 {
		a.table.AddMemoryUsed(slot, ^used+1)
	}
}
