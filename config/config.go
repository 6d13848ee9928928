// Package config collapses the runtime's compile-time/init-time constants
// (spec §6) into a single builder-style record, the way the teacher's
// engine.Config and engine.InstanceConfig gather WAMR's preprocessor
// conditionals into fields of a Go struct.
package config

import (
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the runtime's init-time configuration.
type Config struct {
	// MaxSlots sizes the app table. Typical range 4-16.
	MaxSlots int `yaml:"max_slots"`

	// EngineHeapBytes is the pool size for the WASM engine's internal
	// allocator. lifecycle.New does not pass it to the engine, so it has no
	// effect.
	EngineHeapBytes uint32 `yaml:"engine_heap_bytes"`

	// InstanceHeapBytes bounds each guest instance's linear memory:
	// lifecycle.New divides it by the 64 KiB page size and passes the result
	// to the engine as a memory limit in pages (a value below one page sets
	// no limit). It does not set the size an instance's memory starts at.
	InstanceHeapBytes uint32 `yaml:"instance_heap_bytes"`

	// InstanceStackBytes is the stack size per guest instance. lifecycle.New
	// does not pass it to the engine, so it has no effect.
	InstanceStackBytes uint32 `yaml:"instance_stack_bytes"`

	// ChunkBytes is the staging buffer size for the chunked loader.
	ChunkBytes uint32 `yaml:"chunk_bytes"`

	// AppsRoot is the directory for sidecar manifest persistence.
	AppsRoot string `yaml:"apps_root"`

	// PreferExternalRAM names the arena's bias toward external RAM.
	// lifecycle.New does not read it: the arena tries the external pool
	// first whenever one is configured, whatever this field holds.
	PreferExternalRAM bool `yaml:"prefer_external_ram"`

	// ExternalRAMBytes / InternalRAMBytes size the two memory arena pools.
	// Not named directly in the externally-visible configuration table, but
	// required to size the arena the table describes ("size via
	// configuration" in the arena's design notes).
	ExternalRAMBytes uint32 `yaml:"external_ram_bytes"`
	InternalRAMBytes uint32 `yaml:"internal_ram_bytes"`

	// Logger is the supervisor's structured logger, returned by
	// EffectiveLogger (a no-op logger when nil, matching the engine/linker
	// packages' zap.NewNop() default). lifecycle.New does not install it:
	// each runtime package logs through its own package-level logger, set
	// with that package's SetLogger.
	Logger *zap.Logger `yaml:"-"`
}

// DefaultConfig returns the specification's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxSlots:           8,
		EngineHeapBytes:    256 * 1024,
		InstanceHeapBytes:  64 * 1024,
		InstanceStackBytes: 16 * 1024,
		ChunkBytes:         16 * 1024,
		AppsRoot:           "/apps",
		PreferExternalRAM:  true,
		ExternalRAMBytes:   1 << 20,
		InternalRAMBytes:   128 * 1024,
	}
}

// Load reads a YAML configuration file, applying it on top of DefaultConfig.
// Supervisors that keep runtime tuning out of code (rather than constructing
// a Config literal) use this from cmd/akirad's -config flag.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// EffectiveLogger returns cfg.Logger, or a no-op logger when unset.
func EffectiveLogger(cfg Config) *zap.Logger {
	if cfg.Logger == nil {
		return zap.NewNop()
	}
	return cfg.Logger
}
