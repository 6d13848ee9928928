// Package apptable is the fixed-size slot table that gives every installed
// guest a stable integer identity for its lifetime (spec §4.4). It tracks
// occupancy, the engine-level module/instance handles, capability mask,
// memory quota/usage, name, and running flag for each slot.
package apptable

import (
	"sync"

	"github.com/google/uuid"

	"github.com/akiraos/runtime/internal/akerr"
)

// Slot holds all per-guest state the lifecycle controller and native bridge
// need, indexed by a stable integer position in the table.
type Slot struct {
	Used bool

	// Generation is a fresh, uncollidable token stamped on every install,
	// so a stale instance handle from a destroyed guest can never be
	// mistaken for the guest now occupying the same slot (I5).
	Generation uuid.UUID

	ModuleHandle   any
	InstanceHandle any

	CapabilityMask   uint32
	MemoryQuotaBytes uint32
	MemoryUsedBytes  uint32

	Name    string
	Version string
	Running bool
}

// Table is the fixed-size array of slots, guarded by a single table-wide
// lock. With N capped at a small constant (spec's "N ≤ 16 typical"), a
// single RWMutex for both occupancy transitions and memory accounting stays
// cheap and keeps Slot a plain copyable value for Get/Mutate.
type Table struct {
	mu    sync.RWMutex
	slots []Slot

	cacheMu sync.RWMutex
	cache   map[any]int // instance handle -> slot index, invalidated on stop/destroy
}

// New allocates a table with n slots, all initially free.
func New(n int) *Table {
	return &Table{
		slots: make([]Slot, n),
		cache: make(map[any]int),
	}
}

// Len returns the table's fixed slot count.
func (t *Table) Len() int {
	return len(t.slots)
}

// FindFreeSlot scans linearly for the lowest unused index, marks it used
// with a fresh generation token, and returns it. Returns a no_memory akerr
// when the table is full (spec's "no slots" condition).
func (t *Table) FindFreeSlot() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if !t.slots[i].Used {
			t.slots[i] = Slot{Used: true, Generation: uuid.New()}
			return i, nil
		}
	}
	return -1, akerr.New(akerr.PhaseLifecycle, akerr.KindNoMemory).
		Detail("no free slots").Build()
}

// Release clears a slot back to its zero (unused) state and invalidates any
// inline-cache entry pointing at it.
func (t *Table) Release(index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= len(t.slots) {
		return akerr.InvalidArgument(akerr.PhaseLifecycle, "slot index out of range")
	}

	handle := t.slots[index].InstanceHandle
	t.slots[index] = Slot{}

	if handle != nil {
		t.cacheMu.Lock()
		delete(t.cache, handle)
		t.cacheMu.Unlock()
	}
	return nil
}

// IsValid reports whether index is within range and currently occupied.
func (t *Table) IsValid(index int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return index >= 0 && index < len(t.slots) && t.slots[index].Used
}

// Get returns a copy of the slot at index for read-only inspection.
func (t *Table) Get(index int) (Slot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index < 0 || index >= len(t.slots) {
		return Slot{}, akerr.InvalidArgument(akerr.PhaseLifecycle, "slot index out of range")
	}
	return t.slots[index], nil
}

// Mutate applies fn to the slot at index under the table lock. fn must not
// call back into the table.
func (t *Table) Mutate(index int, fn func(*Slot)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.slots) {
		return akerr.InvalidArgument(akerr.PhaseLifecycle, "slot index out of range")
	}
	fn(&t.slots[index])
	return nil
}

// MemoryUsed returns the slot's current guest allocation total.
func (t *Table) MemoryUsed(index int) (uint32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index < 0 || index >= len(t.slots) {
		return 0, akerr.InvalidArgument(akerr.PhaseLifecycle, "slot index out of range")
	}
	return t.slots[index].MemoryUsedBytes, nil
}

// AddMemoryUsed adds delta (two's-complement for a decrease) to the slot's
// memory_used counter and returns the new total.
func (t *Table) AddMemoryUsed(index int, delta uint32) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.slots) {
		return 0, akerr.InvalidArgument(akerr.PhaseLifecycle, "slot index out of range")
	}
	t.slots[index].MemoryUsedBytes += delta
	return t.slots[index].MemoryUsedBytes, nil
}

// BindInstance records the engine instance handle for index and registers it
// in the inline cache used by SlotForInstance.
func (t *Table) BindInstance(index int, instanceHandle any) error {
	t.mu.Lock()
	if index < 0 || index >= len(t.slots) {
		t.mu.Unlock()
		return akerr.InvalidArgument(akerr.PhaseLifecycle, "slot index out of range")
	}
	t.slots[index].InstanceHandle = instanceHandle
	t.mu.Unlock()

	t.cacheMu.Lock()
	t.cache[instanceHandle] = index
	t.cacheMu.Unlock()
	return nil
}

// UnbindInstance clears a slot's InstanceHandle and running flag while
// leaving the rest of the slot (module handle, capability mask, quota, name)
// intact — the state stop() needs (spec §4.6: "LOADED" after a successful
// stop, not "EMPTY").
func (t *Table) UnbindInstance(index int) error {
	t.mu.Lock()
	if index < 0 || index >= len(t.slots) {
		t.mu.Unlock()
		return akerr.InvalidArgument(akerr.PhaseLifecycle, "slot index out of range")
	}
	handle := t.slots[index].InstanceHandle
	t.slots[index].InstanceHandle = nil
	t.slots[index].Running = false
	t.mu.Unlock()

	if handle != nil {
		t.cacheMu.Lock()
		delete(t.cache, handle)
		t.cacheMu.Unlock()
	}
	return nil
}

// SlotForInstance finds the slot whose InstanceHandle matches instanceHandle.
// This is the critical per-native-call lookup (spec §4.4): it checks the
// inline cache first, falling back to the O(N) linear scan only on a miss
// or a stale cache entry. A handle that was never passed to BindInstance is
// found by neither path.
func (t *Table) SlotForInstance(instanceHandle any) (int, error) {
	t.cacheMu.RLock()
	if idx, ok := t.cache[instanceHandle]; ok {
		t.cacheMu.RUnlock()
		t.mu.RLock()
		valid := idx >= 0 && idx < len(t.slots) && t.slots[idx].Used && t.slots[idx].InstanceHandle == instanceHandle
		t.mu.RUnlock()
		if valid {
			return idx, nil
		}
	} else {
		t.cacheMu.RUnlock()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := range t.slots {
		if t.slots[i].Used && t.slots[i].InstanceHandle == instanceHandle {
			return i, nil
		}
	}
	return -1, akerr.NotFound(akerr.PhaseLifecycle, "instance", "")
}
