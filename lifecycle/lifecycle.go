// Package lifecycle is the runtime's main entry point (spec §4.6): it
// bundles the memory arena, app table, engine, loader, quota allocator, and
// native bridge into a single Runtime and drives every guest through
// install -> start -> stop -> destroy, matching the supervisor-facing
// operations a real AkiraOS build calls.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/akiraos/runtime/bridge"
	"github.com/akiraos/runtime/config"
	"github.com/akiraos/runtime/internal/akerr"
	"github.com/akiraos/runtime/internal/apptable"
	"github.com/akiraos/runtime/internal/arena"
	"github.com/akiraos/runtime/internal/engine"
	"github.com/akiraos/runtime/internal/loader"
	"github.com/akiraos/runtime/manifest"
	"github.com/akiraos/runtime/quota"
	"github.com/akiraos/runtime/storage"
)

// Runtime is the supervisor-facing handle on everything a running set of
// guests needs: the app table, the shared engine and its bound native
// bridge, the loader, the quota allocator, and (optionally) a storage
// collaborator for sidecar persistence.
type Runtime struct {
	cfg     config.Config
	table   *apptable.Table
	arena   *arena.Arena
	engine  *engine.Engine
	loader  *loader.Loader
	quota   *quota.Allocator
	bridge  *bridge.Bridge
	storage storage.Collaborator

	mu        sync.Mutex
	instances []*engine.Instance // slot -> live instance, lifecycle-internal
}

// New wires a Runtime from cfg. subsystem may be bridge.NopHostSubsystem{}
// until real hardware collaborators exist; storageCollab may be nil, in
// which case sidecar persistence (install step 6, uninstall's cleanup) is
// silently skipped.
func New(ctx context.Context, cfg config.Config, subsystem bridge.HostSubsystem, storageCollab storage.Collaborator) (*Runtime, error) {
	a := arena.New(arena.Config{
		ExternalBytes: cfg.ExternalRAMBytes,
		InternalBytes: cfg.InternalRAMBytes,
	})
	table := apptable.New(cfg.MaxSlots)
	q := quota.New(a, table)
	br := bridge.New(table, q, subsystem)

	eng, err := engine.New(ctx, engine.Config{
		InstanceHeapPages: cfg.InstanceHeapBytes / wasmPageBytes,
	})
	if err != nil {
		return nil, err
	}
	if err := eng.BindEnv(ctx, br.HostFuncs()); err != nil {
		return nil, err
	}

	r := &Runtime{
		cfg:       cfg,
		table:     table,
		arena:     a,
		engine:    eng,
		loader:    loader.New(a, eng, int(cfg.ChunkBytes)),
		quota:     q,
		bridge:    br,
		storage:   storageCollab,
		instances: make([]*engine.Instance, cfg.MaxSlots),
	}
	return r, nil
}

// wasmPageBytes is wazero's fixed linear-memory page size.
const wasmPageBytes = 64 * 1024

// Close tears down the underlying engine and every guest instance it owns.
func (r *Runtime) Close(ctx context.Context) error {
	return r.engine.Close(ctx)
}

// Table exposes the app table for supervisor inspection (e.g. `-list`).
func (r *Runtime) Table() *apptable.Table {
	return r.table
}

func sidecarPath(name string) string {
	return fmt.Sprintf("%s.manifest.json", name)
}

// Install reserves a slot, parses the guest's manifest (embedded, then
// sidecar), loads the binary through the chunked loader, and populates the
// slot. Matches spec §4.6's install steps exactly, including the sidecar
// union-of-capabilities/quota-override rule and the non-fatal
// sidecar-write-failure rule.
func (r *Runtime) Install(ctx context.Context, name string, wasmBytes, sidecar []byte) (int, error) {
	slot, err := r.table.FindFreeSlot()
	if err != nil {
		return -1, err
	}

	m, embeddedOK, err := r.resolveManifest(wasmBytes, sidecar, slot)
	if err != nil {
		r.table.Release(slot)
		return -1, err
	}

	mod, err := r.loader.Load(ctx, wasmBytes, slot)
	if err != nil {
		r.table.Release(slot)
		return -1, err
	}

	if name != "" {
		m.Name = name
	}

	if err := r.table.Mutate(slot, func(s *apptable.Slot) {
		s.CapabilityMask = m.CapabilityMask
		s.MemoryQuotaBytes = m.MemoryQuotaBytes
		s.MemoryUsedBytes = 0
		s.Name = m.Name
		s.Version = m.Version
		s.Running = false
		s.ModuleHandle = mod
	}); err != nil {
		mod.Close(ctx)
		r.table.Release(slot)
		return -1, err
	}

	// Step 5: when both an embedded manifest and a sidecar are present,
	// union the capability masks and let a non-zero sidecar quota win.
	if embeddedOK && len(sidecar) > 0 {
		if sm, serr := manifest.ParseSidecar(sidecar, slot); serr == nil {
			r.table.Mutate(slot, func(s *apptable.Slot) {
				if sm.CapabilityMask != 0 {
					s.CapabilityMask |= sm.CapabilityMask
				}
				if sm.MemoryQuotaBytes != 0 {
					s.MemoryQuotaBytes = sm.MemoryQuotaBytes
				}
			})
		}
	}

	// Step 6: best-effort sidecar persistence.
	if r.storage != nil && len(sidecar) > 0 {
		s, _ := r.table.Get(slot)
		if err := r.storage.WriteFile(sidecarPath(s.Name), sidecar, 0o644); err != nil {
			Logger().Warn("sidecar write failed", zap.Int("slot", slot), zap.Error(err))
		}
	}

	return slot, nil
}

// resolveManifest implements install steps 2: embedded-first, sidecar
// fallback when there is no embedded manifest at all. A malformed binary or
// malformed manifest JSON is propagated as an error (scenario 6); a genuine
// absence of any manifest is not — the slot gets Manifest.Default.
func (r *Runtime) resolveManifest(wasmBytes, sidecar []byte, slot int) (manifest.Manifest, bool, error) {
	m, err := manifest.Parse(wasmBytes, slot)
	if err == nil {
		return m, true, nil
	}

	var ae *akerr.Error
	if !errors.As(err, &ae) || ae.Kind != akerr.KindNotFound {
		return manifest.Manifest{}, false, err
	}

	if len(sidecar) == 0 {
		return manifest.Default(slot), false, nil
	}

	sm, serr := manifest.ParseSidecar(sidecar, slot)
	if serr != nil {
		return manifest.Manifest{}, false, serr
	}
	return sm, false, nil
}

// Start instantiates slot's module, locates an entry point (_start, then
// main), and calls it. Matches spec §4.6's start transition.
func (r *Runtime) Start(ctx context.Context, slot int) error {
	s, err := r.table.Get(slot)
	if err != nil {
		return err
	}
	if !s.Used {
		return akerr.NotFound(akerr.PhaseLifecycle, "slot", fmt.Sprintf("%d", slot))
	}
	if s.Running {
		return akerr.New(akerr.PhaseLifecycle, akerr.KindInvalidArgument).
			Detail("slot already running").Slot(slot).Build()
	}

	mod, ok := s.ModuleHandle.(*engine.Module)
	if !ok || mod == nil {
		return akerr.NotInitialized(akerr.PhaseLifecycle, "module")
	}

	inst, err := mod.Instantiate(ctx)
	if err != nil {
		return akerr.IOFailure(akerr.PhaseLifecycle, "instantiate module", err)
	}

	if err := r.table.BindInstance(slot, inst.Identity()); err != nil {
		inst.Close(ctx)
		return err
	}
	r.setInstance(slot, inst)

	entry := ""
	switch {
	case inst.HasExport("_start"):
		entry = "_start"
	case inst.HasExport("main"):
		entry = "main"
	}
	if entry == "" {
		inst.Close(ctx)
		r.table.UnbindInstance(slot)
		r.setInstance(slot, nil)
		return akerr.NotFound(akerr.PhaseLifecycle, "entry point", "_start/main")
	}

	if _, err := inst.Call(ctx, entry); err != nil {
		// Retain the instance per spec: a failed entry point still leaves
		// something the caller can stop/destroy cleanly.
		Logger().Error("guest entry point raised an exception",
			zap.Int("slot", slot), zap.String("entry", entry), zap.Error(err))
		return akerr.IOFailure(akerr.PhaseLifecycle, "call entry point", err)
	}

	return r.table.Mutate(slot, func(s *apptable.Slot) { s.Running = true })
}

// Stop is idempotent: if the slot has no running instance and no retained
// instance handle, it returns ok without doing anything. Otherwise it
// deinstantiates and clears the instance, leaving the module loaded.
func (r *Runtime) Stop(ctx context.Context, slot int) error {
	s, err := r.table.Get(slot)
	if err != nil {
		return err
	}
	if !s.Running && s.InstanceHandle == nil {
		return nil
	}

	if inst := r.getInstance(slot); inst != nil {
		inst.Close(ctx)
	}
	r.setInstance(slot, nil)
	return r.table.UnbindInstance(slot)
}

// Destroy stops the slot, unloads the module, force-frees any outstanding
// guest allocations charged to it, and marks the slot free.
func (r *Runtime) Destroy(ctx context.Context, slot int) error {
	if err := r.Stop(ctx, slot); err != nil {
		return err
	}

	s, err := r.table.Get(slot)
	if err != nil {
		return err
	}
	if mod, ok := s.ModuleHandle.(*engine.Module); ok && mod != nil {
		mod.Close(ctx)
	}

	r.quota.ReleaseSlot(slot)
	return r.table.Release(slot)
}

// Uninstall wraps Stop+Destroy and, when a storage collaborator is present,
// removes any sidecar artifact persisted at install time.
func (r *Runtime) Uninstall(ctx context.Context, slot int) error {
	s, err := r.table.Get(slot)
	if err != nil {
		return err
	}
	name := s.Name

	if err := r.Destroy(ctx, slot); err != nil {
		return err
	}

	if r.storage != nil && name != "" {
		if err := r.storage.Remove(sidecarPath(name)); err != nil {
			Logger().Warn("sidecar removal failed", zap.String("name", name), zap.Error(err))
		}
	}
	return nil
}

func (r *Runtime) setInstance(slot int, inst *engine.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot >= 0 && slot < len(r.instances) {
		r.instances[slot] = inst
	}
}

func (r *Runtime) getInstance(slot int) *engine.Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot < 0 || slot >= len(r.instances) {
		return nil
	}
	return r.instances[slot]
}
