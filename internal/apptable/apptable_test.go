package apptable_test

import (
	"testing"

	"github.com/akiraos/runtime/internal/apptable"
)

func TestFindFreeSlot_LowestIndexFirst(t *testing.T) {
	table := apptable.New(4)

	a, err := table.FindFreeSlot()
	if err != nil || a != 0 {
		t.Fatalf("FindFreeSlot() = %d, %v; want 0, nil", a, err)
	}
	b, err := table.FindFreeSlot()
	if err != nil || b != 1 {
		t.Fatalf("FindFreeSlot() = %d, %v; want 1, nil", b, err)
	}
}

func TestFindFreeSlot_Exhaustion(t *testing.T) {
	table := apptable.New(2)

	if _, err := table.FindFreeSlot(); err != nil {
		t.Fatalf("first FindFreeSlot: %v", err)
	}
	if _, err := table.FindFreeSlot(); err != nil {
		t.Fatalf("second FindFreeSlot: %v", err)
	}
	if _, err := table.FindFreeSlot(); err == nil {
		t.Fatalf("expected no_memory error on third FindFreeSlot")
	}
}

func TestRelease_FreesSlotForReuse(t *testing.T) {
	table := apptable.New(2)

	idx0, _ := table.FindFreeSlot()
	if _, err := table.FindFreeSlot(); err != nil {
		t.Fatalf("second FindFreeSlot: %v", err)
	}

	if err := table.Release(idx0); err != nil {
		t.Fatalf("Release: %v", err)
	}

	reused, err := table.FindFreeSlot()
	if err != nil {
		t.Fatalf("FindFreeSlot after release: %v", err)
	}
	if reused != idx0 {
		t.Errorf("reused slot = %d, want %d", reused, idx0)
	}
}

func TestRelease_GenerationChangesOnReuse(t *testing.T) {
	table := apptable.New(1)

	idx, _ := table.FindFreeSlot()
	first, _ := table.Get(idx)

	table.Release(idx)
	idx2, _ := table.FindFreeSlot()
	second, _ := table.Get(idx2)

	if first.Generation == second.Generation {
		t.Errorf("expected a new generation token after slot reuse, got the same one")
	}
}

func TestIsValid(t *testing.T) {
	table := apptable.New(2)
	if table.IsValid(0) {
		t.Errorf("IsValid(0) = true before any install")
	}
	table.FindFreeSlot()
	if !table.IsValid(0) {
		t.Errorf("IsValid(0) = false after install")
	}
	if table.IsValid(-1) || table.IsValid(5) {
		t.Errorf("IsValid should reject out-of-range indices")
	}
}

func TestSlotForInstance_FoundAndNotFound(t *testing.T) {
	table := apptable.New(2)
	idx, _ := table.FindFreeSlot()

	type fakeHandle struct{ id int }
	handle := &fakeHandle{id: 1}

	if err := table.BindInstance(idx, handle); err != nil {
		t.Fatalf("BindInstance: %v", err)
	}

	found, err := table.SlotForInstance(handle)
	if err != nil {
		t.Fatalf("SlotForInstance: %v", err)
	}
	if found != idx {
		t.Errorf("SlotForInstance = %d, want %d", found, idx)
	}

	other := &fakeHandle{id: 2}
	if _, err := table.SlotForInstance(other); err == nil {
		t.Fatalf("expected not_found for unbound instance handle")
	}
}

func TestSlotForInstance_StaleCacheEntryAfterRelease(t *testing.T) {
	table := apptable.New(1)
	idx, _ := table.FindFreeSlot()

	type fakeHandle struct{ id int }
	handle := &fakeHandle{id: 1}
	table.BindInstance(idx, handle)

	if err := table.Release(idx); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if _, err := table.SlotForInstance(handle); err == nil {
		t.Fatalf("expected not_found for instance handle of a released slot")
	}
}

func TestMemoryUsedAccounting(t *testing.T) {
	table := apptable.New(1)
	idx, _ := table.FindFreeSlot()

	if _, err := table.AddMemoryUsed(idx, 128); err != nil {
		t.Fatalf("AddMemoryUsed: %v", err)
	}
	got, err := table.MemoryUsed(idx)
	if err != nil {
		t.Fatalf("MemoryUsed: %v", err)
	}
	if got != 128 {
		t.Errorf("MemoryUsed() = %d, want 128", got)
	}
}

func TestMutate_UpdatesSlotInPlace(t *testing.T) {
	table := apptable.New(1)
	idx, _ := table.FindFreeSlot()

	err := table.Mutate(idx, func(s *apptable.Slot) {
		s.Name = "paint"
		s.CapabilityMask = 0x3
		s.Running = true
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	slot, _ := table.Get(idx)
	if slot.Name != "paint" || slot.CapabilityMask != 0x3 || !slot.Running {
		t.Errorf("Mutate did not persist: %+v", slot)
	}
}

func TestOutOfRangeOperations(t *testing.T) {
	table := apptable.New(1)

	if err := table.Release(5); err == nil {
		t.Errorf("expected error releasing out-of-range slot")
	}
	if _, err := table.Get(-1); err == nil {
		t.Errorf("expected error getting out-of-range slot")
	}
	if err := table.Mutate(5, func(*apptable.Slot) {}); err == nil {
		t.Errorf("expected error mutating out-of-range slot")
	}
	if err := table.BindInstance(5, 1); err == nil {
		t.Errorf("expected error binding instance at out-of-range slot")
	}
}
