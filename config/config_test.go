package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/akiraos/runtime/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if cfg.MaxSlots <= 0 {
		t.Errorf("MaxSlots = %d, want > 0", cfg.MaxSlots)
	}
	if cfg.ChunkBytes != 16*1024 {
		t.Errorf("ChunkBytes = %d, want 16KiB", cfg.ChunkBytes)
	}
	if !cfg.PreferExternalRAM {
		t.Errorf("PreferExternalRAM = false, want true")
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "akira.yaml")
	yamlBody := "max_slots: 4\nchunk_bytes: 8192\napps_root: /data/apps\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxSlots != 4 {
		t.Errorf("MaxSlots = %d, want 4", cfg.MaxSlots)
	}
	if cfg.ChunkBytes != 8192 {
		t.Errorf("ChunkBytes = %d, want 8192", cfg.ChunkBytes)
	}
	if cfg.AppsRoot != "/data/apps" {
		t.Errorf("AppsRoot = %q, want /data/apps", cfg.AppsRoot)
	}
	// Fields not present in the YAML keep their defaults.
	if cfg.InstanceStackBytes == 0 {
		t.Errorf("InstanceStackBytes reset to zero, want default preserved")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load("/nonexistent/path/akira.yaml"); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestEffectiveLogger(t *testing.T) {
	if l := config.EffectiveLogger(config.Config{}); l == nil {
		t.Fatalf("EffectiveLogger() = nil, want non-nil no-op logger")
	}
	custom := zap.NewExample()
	if l := config.EffectiveLogger(config.Config{Logger: custom}); l != custom {
		t.Errorf("EffectiveLogger() did not return the configured logger")
	}
}
