// Command akirad is the development supervisor for the AkiraOS WASM runtime:
// a flag-based CLI that drives install/start/stop/destroy/list against a
// real .wasm guest, the same role the teacher's cmd/run plays for its
// component runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/akiraos/runtime/bridge"
	"github.com/akiraos/runtime/config"
	"github.com/akiraos/runtime/internal/apptable"
	"github.com/akiraos/runtime/lifecycle"
	"github.com/akiraos/runtime/storage"
)

func main() {
	var (
		appsRoot   = flag.String("apps-root", "", "Directory for sidecar manifest persistence (overrides -config)")
		maxSlots   = flag.Int("max-slots", 0, "App table size (overrides -config)")
		chunkBytes = flag.Int("chunk-bytes", 0, "Chunked loader staging buffer size in bytes (overrides -config)")
		configPath = flag.String("config", "", "Path to a YAML configuration file")
		install    = flag.String("install", "", "Path to a .wasm guest binary to install")
		sidecar    = flag.String("sidecar", "", "Path to a JSON sidecar manifest for -install")
		start      = flag.Int("start", -1, "Slot index to start")
		stop       = flag.Int("stop", -1, "Slot index to stop")
		destroy    = flag.Int("destroy", -1, "Slot index to destroy")
		list       = flag.Bool("list", false, "List occupied slots and exit")
	)
	flag.Parse()

	if err := run(*appsRoot, *maxSlots, *chunkBytes, *configPath, *install, *sidecar, *start, *stop, *destroy, *list); err != nil {
		fmt.Fprintf(os.Stderr, "akirad: %v\n", err)
		os.Exit(1)
	}
}

func run(appsRoot string, maxSlots, chunkBytes int, configPath, installPath, sidecarPath string, startSlot, stopSlot, destroySlot int, listOnly bool) error {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if appsRoot != "" {
		cfg.AppsRoot = appsRoot
	}
	if maxSlots > 0 {
		cfg.MaxSlots = maxSlots
	}
	if chunkBytes > 0 {
		cfg.ChunkBytes = uint32(chunkBytes)
	}

	ctx := context.Background()

	backend := storage.NewLocalBackend(cfg.AppsRoot)
	if err := backend.MkdirAll(".", 0o755); err != nil {
		return fmt.Errorf("prepare apps root: %w", err)
	}

	rt, err := lifecycle.New(ctx, cfg, bridge.NopHostSubsystem{}, backend)
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer rt.Close(ctx)

	if installPath != "" {
		wasmBytes, err := os.ReadFile(installPath)
		if err != nil {
			return fmt.Errorf("read guest binary: %w", err)
		}
		var sidecarBytes []byte
		if sidecarPath != "" {
			sidecarBytes, err = os.ReadFile(sidecarPath)
			if err != nil {
				return fmt.Errorf("read sidecar manifest: %w", err)
			}
		}
		slot, err := rt.Install(ctx, "", wasmBytes, sidecarBytes)
		if err != nil {
			return fmt.Errorf("install: %w", err)
		}
		fmt.Printf("installed %q into slot %d\n", installPath, slot)
	}

	if startSlot >= 0 {
		if err := rt.Start(ctx, startSlot); err != nil {
			return fmt.Errorf("start slot %d: %w", startSlot, err)
		}
		fmt.Printf("started slot %d\n", startSlot)
	}

	if stopSlot >= 0 {
		if err := rt.Stop(ctx, stopSlot); err != nil {
			return fmt.Errorf("stop slot %d: %w", stopSlot, err)
		}
		fmt.Printf("stopped slot %d\n", stopSlot)
	}

	if destroySlot >= 0 {
		if err := rt.Destroy(ctx, destroySlot); err != nil {
			return fmt.Errorf("destroy slot %d: %w", destroySlot, err)
		}
		fmt.Printf("destroyed slot %d\n", destroySlot)
	}

	if listOnly {
		printSlots(rt.Table())
	}

	return nil
}

func printSlots(table *apptable.Table) {
	fmt.Printf("%-5s %-16s %-10s %-10s %-10s %s\n", "slot", "name", "running", "mask", "quota", "used")
	for i := 0; i < table.Len(); i++ {
		s, err := table.Get(i)
		if err != nil || !s.Used {
			continue
		}
		fmt.Printf("%-5d %-16s %-10t 0x%08x %-10d %d\n", i, s.Name, s.Running, s.CapabilityMask, s.MemoryQuotaBytes, s.MemoryUsedBytes)
	}
}
