// Package bridge is the Native Bridge and Capability Gate (spec §4.7): it
// registers the "env" host module with the engine and, for every call from
// a guest, resolves the calling slot, checks the required capability bit,
// validates pointer/length arguments against the guest's own linear memory,
// and dispatches to a HostSubsystem — never letting a guest fault the host
// process and never allocating beyond the guest's declared quota on the hot
// path.
package bridge

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/akiraos/runtime/internal/apptable"
	"github.com/akiraos/runtime/internal/capability"
	"github.com/akiraos/runtime/internal/engine"
	"github.com/akiraos/runtime/quota"
)

// Sentinels returned to the guest on denial/failure. Native calls never
// propagate errors as exceptions (spec §7); they return these in place of a
// normal result and log the reason.
const (
	sentinelDenied  int32 = -1
	maxLogMessage         = 256
)

// Bridge wires the app table, quota allocator, and a HostSubsystem into the
// fixed set of native imports guests may call.
type Bridge struct {
	table     *apptable.Table
	quota     *quota.Allocator
	subsystem HostSubsystem
}

// New creates a bridge. subsystem may be NopHostSubsystem{} until real
// hardware collaborators are wired.
func New(table *apptable.Table, q *quota.Allocator, subsystem HostSubsystem) *Bridge {
	return &Bridge{table: table, quota: q, subsystem: subsystem}
}

// HostFuncs returns the full "env" import table (spec §6), ready to pass to
// engine.Engine.BindEnv.
func (b *Bridge) HostFuncs() []engine.HostFunc {
	i32 := api.ValueTypeI32
	return []engine.HostFunc{
		{Name: "log", Params: []api.ValueType{i32, i32}, Results: []api.ValueType{i32}, Fn: b.log},
		{Name: "display_clear", Params: []api.ValueType{i32}, Results: []api.ValueType{i32}, Fn: b.displayClear},
		{Name: "display_pixel", Params: []api.ValueType{i32, i32, i32}, Results: []api.ValueType{i32}, Fn: b.displayPixel},
		{Name: "input_read_buttons", Params: nil, Results: []api.ValueType{i32}, Fn: b.inputReadButtons},
		{Name: "rf_send", Params: []api.ValueType{i32, i32}, Results: []api.ValueType{i32}, Fn: b.rfSend},
		{Name: "sensor_read", Params: []api.ValueType{i32}, Results: []api.ValueType{i32}, Fn: b.sensorRead},
		{Name: "mem_alloc", Params: []api.ValueType{i32}, Results: []api.ValueType{i32}, Fn: b.memAlloc},
		{Name: "mem_free", Params: []api.ValueType{i32}, Results: nil, Fn: b.memFree},
	}
}

// resolve finds the calling slot and its current capability mask. Every
// native call starts here.
func (b *Bridge) resolve(mod api.Module) (slot int, mask uint32, name string, ok bool) {
	idx, err := b.table.SlotForInstance(mod)
	if err != nil {
		Logger().Warn("native call from unresolvable instance")
		return 0, 0, "", false
	}
	s, err := b.table.Get(idx)
	if err != nil {
		return 0, 0, "", false
	}
	return idx, s.CapabilityMask, s.Name, true
}

func (b *Bridge) deny(guest, cap string) {
	Logger().Warn("capability denied", zap.String("guest", guest), zap.String("capability", cap))
}

func (b *Bridge) log(ctx context.Context, mod api.Module, stack []uint64) {
	slot, _, name, ok := b.resolve(mod)
	if !ok {
		stack[0] = api.EncodeI32(sentinelDenied)
		return
	}
	level := api.DecodeI32(stack[0])
	ptr := uint32(stack[1])

	msg, err := readCString(mod.Memory(), ptr, maxLogMessage)
	if err != nil {
		stack[0] = api.EncodeI32(sentinelDenied)
		return
	}

	logLevel := "info"
	switch level {
	case 0:
		logLevel = "error"
	case 1:
		logLevel = "warn"
	case 2:
		logLevel = "info"
	default:
		logLevel = "debug"
	}
	Logger().Info("guest log", zap.Int("slot", slot), zap.String("guest", name),
		zap.String("level", logLevel), zap.String("message", msg))
	stack[0] = api.EncodeI32(0)
}

func (b *Bridge) displayClear(ctx context.Context, mod api.Module, stack []uint64) {
	slot, mask, name, ok := b.resolve(mod)
	if !ok || !capability.Check(mask, capability.BitDisplayWrite) {
		if ok {
			b.deny(name, capability.DisplayWrite)
		}
		stack[0] = api.EncodeI32(sentinelDenied)
		return
	}
	color := api.DecodeI32(stack[0])
	if err := b.subsystem.DisplayClear(slot, color); err != nil {
		stack[0] = api.EncodeI32(sentinelDenied)
		return
	}
	stack[0] = api.EncodeI32(0)
}

func (b *Bridge) displayPixel(ctx context.Context, mod api.Module, stack []uint64) {
	slot, mask, name, ok := b.resolve(mod)
	if !ok || !capability.Check(mask, capability.BitDisplayWrite) {
		if ok {
			b.deny(name, capability.DisplayWrite)
		}
		stack[0] = api.EncodeI32(sentinelDenied)
		return
	}
	x := api.DecodeI32(stack[0])
	y := api.DecodeI32(stack[1])
	color := api.DecodeI32(stack[2])
	if err := b.subsystem.DisplayPixel(slot, x, y, color); err != nil {
		stack[0] = api.EncodeI32(sentinelDenied)
		return
	}
	stack[0] = api.EncodeI32(0)
}

func (b *Bridge) inputReadButtons(ctx context.Context, mod api.Module, stack []uint64) {
	slot, mask, name, ok := b.resolve(mod)
	if !ok || !capability.Check(mask, capability.BitInputRead) {
		if ok {
			b.deny(name, capability.InputRead)
		}
		stack[0] = api.EncodeI32(0)
		return
	}
	buttons, err := b.subsystem.InputReadButtons(slot)
	if err != nil {
		stack[0] = api.EncodeI32(0)
		return
	}
	stack[0] = api.EncodeU32(buttons)
}

func (b *Bridge) rfSend(ctx context.Context, mod api.Module, stack []uint64) {
	slot, mask, name, ok := b.resolve(mod)
	if !ok || !capability.Check(mask, capability.BitRFTransceive) {
		if ok {
			b.deny(name, capability.RFTransceive)
		}
		stack[0] = api.EncodeI32(sentinelDenied)
		return
	}
	ptr := uint32(stack[0])
	length := uint32(stack[1])

	data, err := engine.ReadBytes(mod.Memory(), ptr, length)
	if err != nil {
		stack[0] = api.EncodeI32(sentinelDenied)
		return
	}
	if err := b.subsystem.RFSend(slot, data); err != nil {
		stack[0] = api.EncodeI32(sentinelDenied)
		return
	}
	stack[0] = api.EncodeI32(0)
}

func (b *Bridge) sensorRead(ctx context.Context, mod api.Module, stack []uint64) {
	slot, mask, name, ok := b.resolve(mod)
	if !ok || !capability.Check(mask, capability.BitSensorRead) {
		if ok {
			b.deny(name, capability.SensorRead)
		}
		stack[0] = api.EncodeI32(sentinelDenied)
		return
	}
	sensorType := api.DecodeI32(stack[0])
	value, err := b.subsystem.SensorRead(slot, sensorType)
	if err != nil {
		stack[0] = api.EncodeI32(sentinelDenied)
		return
	}
	stack[0] = api.EncodeI32(value)
}

func (b *Bridge) memAlloc(ctx context.Context, mod api.Module, stack []uint64) {
	slot, _, name, ok := b.resolve(mod)
	if !ok {
		stack[0] = api.EncodeI32(0)
		return
	}
	size := uint32(api.DecodeI32(stack[0]))

	allocFn := func(sz uint32) (uint32, error) {
		fn := mod.ExportedFunction("malloc")
		if fn == nil {
			fn = mod.ExportedFunction("mem_alloc_guest")
		}
		if fn == nil {
			return 0, nil
		}
		results, err := fn.Call(ctx, uint64(sz))
		if err != nil || len(results) == 0 {
			return 0, err
		}
		return uint32(results[0]), nil
	}

	ptr, err := b.quota.GuestAlloc(slot, size, allocFn)
	if err != nil {
		Logger().Warn("guest allocation refused", zap.Int("slot", slot), zap.String("guest", name),
			zap.Uint32("size", size), zap.Error(err))
		stack[0] = api.EncodeI32(0)
		return
	}
	stack[0] = api.EncodeU32(ptr)
}

func (b *Bridge) memFree(ctx context.Context, mod api.Module, stack []uint64) {
	slot, _, _, ok := b.resolve(mod)
	if !ok {
		return
	}
	ptr := uint32(stack[0])

	freeFn := func(p uint32) error {
		fn := mod.ExportedFunction("free")
		if fn == nil {
			fn = mod.ExportedFunction("mem_free_guest")
		}
		if fn == nil {
			return nil
		}
		_, err := fn.Call(ctx, uint64(p))
		return err
	}

	if err := b.quota.GuestFree(slot, ptr, freeFn); err != nil {
		Logger().Warn("guest free failed", zap.Int("slot", slot), zap.Error(err))
	}
}

// readCString reads up to maxLen bytes starting at ptr, stopping at the
// first NUL byte, failing if the memory access itself is out of bounds.
func readCString(mem api.Memory, ptr uint32, maxLen uint32) (string, error) {
	raw, err := engine.ReadBytes(mem, ptr, maxLen)
	if err != nil {
		// The guest's string may be shorter than maxLen and butt up
		// against the end of memory; retry shrinking the window until
		// a read succeeds or we give up at zero.
		for n := maxLen / 2; n > 0; n /= 2 {
			raw, err = engine.ReadBytes(mem, ptr, n)
			if err == nil {
				break
			}
		}
		if err != nil {
			return "", err
		}
	}
	for i, c := range raw {
		if c == 0 {
			return string(raw[:i]), nil
		}
	}
	return string(raw), nil
}
