// Package engine wraps wazero for the narrow subset of core-WebAssembly
// behavior AkiraOS needs: compile, bind one "env" host module per engine,
// instantiate, call exported functions, and read/write guest linear memory
// with bounds checking. It does not implement the Component Model, WASI
// preview2, or async/yield support — those are non-goals for this runtime.
package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/akiraos/runtime/internal/akerr"
)

// Config tunes the underlying wazero runtime.
type Config struct {
	// InstanceHeapPages caps each instance's linear memory, in 64KiB pages.
	// 0 leaves wazero's default (no explicit cap beyond the module's own
	// declared maximum).
	InstanceHeapPages uint32
}

// HostFunc describes one native import bound under the "env" namespace.
type HostFunc struct {
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
	Fn      api.GoModuleFunc
}

// Engine owns one wazero runtime and the single "env" host module bound to
// it. All guest modules compiled through this engine share that host module.
type Engine struct {
	runtime   wazero.Runtime
	hostBound bool
	cfg       Config
}

// New creates an engine with its own wazero runtime.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.InstanceHeapPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.InstanceHeapPages)
	}
	return &Engine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cfg:     cfg,
	}, nil
}

// BindEnv registers the native bridge's host functions under the "env"
// namespace. It must be called exactly once, before the first LoadModule.
func (e *Engine) BindEnv(ctx context.Context, funcs []HostFunc) error {
	if e.hostBound {
		return akerr.New(akerr.PhaseBridge, akerr.KindInvalidArgument).
			Detail("env host module already bound").Build()
	}

	builder := e.runtime.NewHostModuleBuilder("env")
	for _, hf := range funcs {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(hf.Fn, hf.Params, hf.Results).
			Export(hf.Name)
	}

	if _, err := builder.Instantiate(ctx); err != nil {
		return akerr.IOFailure(akerr.PhaseBridge, "instantiate env host module", err)
	}
	e.hostBound = true
	return nil
}

// LoadModule compiles a WASM binary. The binary must already have passed
// the chunked loader's magic/length pre-checks.
func (e *Engine) LoadModule(ctx context.Context, wasmBytes []byte) (*Module, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, akerr.IOFailure(akerr.PhaseLoad, "compile module", err)
	}
	return &Module{engine: e, compiled: compiled}, nil
}

// Close tears down the runtime and every module/instance compiled through
// it.
func (e *Engine) Close(ctx context.Context) error {
	if err := e.runtime.Close(ctx); err != nil {
		return akerr.IOFailure(akerr.PhaseLoad, "close engine runtime", err)
	}
	return nil
}

// Module is a compiled, not-yet-instantiated guest.
type Module struct {
	engine   *Engine
	compiled wazero.CompiledModule
}

// Instantiate creates a fresh instance of the module. Each guest slot gets
// its own anonymous instance so two slots can run the same compiled module
// concurrently.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	modCfg := wazero.NewModuleConfig().WithName("")
	inst, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, modCfg)
	if err != nil {
		return nil, akerr.IOFailure(akerr.PhaseLoad, "instantiate module", err)
	}
	return &Instance{module: m, api: inst}, nil
}

// Close releases the compiled module. Call once every instance derived
// from it has been closed.
func (m *Module) Close(ctx context.Context) error {
	if err := m.compiled.Close(ctx); err != nil {
		return akerr.IOFailure(akerr.PhaseLoad, "close compiled module", err)
	}
	return nil
}

// Instance is one running guest.
type Instance struct {
	module *Module
	api    api.Module
}

// Identity returns a stable, comparable value used as the app table's
// instance handle — the underlying api.Module itself, since wazero gives
// each instantiation a distinct value.
func (i *Instance) Identity() any {
	return i.api
}

// Memory returns the instance's linear memory, or nil if it exports none.
func (i *Instance) Memory() api.Memory {
	return i.api.Memory()
}

// Call invokes an exported function by name. It returns a not_found akerr
// if no such export exists, and an io_failure akerr carrying the engine's
// diagnostic (including any trap message) on a guest-side failure.
func (i *Instance) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	fn := i.api.ExportedFunction(name)
	if fn == nil {
		return nil, akerr.NotFound(akerr.PhaseLifecycle, "exported function", name)
	}
	results, err := fn.Call(ctx, args...)
	if err != nil {
		return nil, akerr.IOFailure(akerr.PhaseLifecycle, fmt.Sprintf("call %q", name), err)
	}
	return results, nil
}

// HasExport reports whether the instance exports a function by that name.
func (i *Instance) HasExport(name string) bool {
	return i.api.ExportedFunction(name) != nil
}

// Close releases the instance.
func (i *Instance) Close(ctx context.Context) error {
	if err := i.api.Close(ctx); err != nil {
		return akerr.IOFailure(akerr.PhaseLifecycle, "close instance", err)
	}
	return nil
}

// ReadBytes copies length bytes starting at ptr out of the instance's
// linear memory, failing with an invalid_argument akerr if the range is
// out of bounds.
func ReadBytes(mem api.Memory, ptr, length uint32) ([]byte, error) {
	if mem == nil {
		return nil, akerr.NotInitialized(akerr.PhaseBridge, "guest memory")
	}
	data, ok := mem.Read(ptr, length)
	if !ok {
		return nil, akerr.New(akerr.PhaseBridge, akerr.KindInvalidArgument).
			Detail("pointer/length out of bounds: ptr=%d len=%d", ptr, length).Build()
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// WriteBytes copies data into the instance's linear memory at ptr, failing
// with an invalid_argument akerr if the range is out of bounds.
func WriteBytes(mem api.Memory, ptr uint32, data []byte) error {
	if mem == nil {
		return akerr.NotInitialized(akerr.PhaseBridge, "guest memory")
	}
	if !mem.Write(ptr, data) {
		return akerr.New(akerr.PhaseBridge, akerr.KindInvalidArgument).
			Detail("pointer/length out of bounds: ptr=%d len=%d", ptr, len(data)).Build()
	}
	return nil
}
