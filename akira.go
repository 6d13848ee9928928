// Package akira is the AkiraOS WASM runtime: a capability-guarded host for
// running untrusted core-WebAssembly guest applications on memory-constrained
// embedded hardware, built on wazero.
//
// # Architecture Overview
//
// The module is organized by responsibility, most of it behind internal/
// since none of it is meant to be imported outside this repo:
//
//	lifecycle/          Runtime: install/start/stop/destroy/uninstall
//	bridge/              Native host-function table and capability gating
//	manifest/            Embedded + sidecar manifest parsing
//	storage/             Sidecar/app persistence and optional fs watcher
//	quota/               Guest and host allocation accounting
//	config/              Runtime tuning (slots, memory pools, chunk size)
//	internal/arena/       Two-pool (external/internal RAM) block allocator
//	internal/apptable/    Fixed-size slot table with generation tokens
//	internal/engine/      wazero compile/instantiate/call wrapper
//	internal/loader/      Chunked, memory-bounded binary staging
//	internal/capability/  Fixed capability bitmask
//	internal/akerr/       Structured, phase-tagged error type
//	internal/wasmbin/     WASM binary-format primitives (LEB128, sections)
//	internal/testwasm/    Hand-encoded WASM fixtures shared by test suites
//	cmd/akirad/           Supervisor CLI
//
// # Quick Start
//
//	rt, err := lifecycle.New(ctx, config.DefaultConfig(), subsystem, storageCollab)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	slot, err := rt.Install(ctx, "", wasmBytes, sidecarBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := rt.Start(ctx, slot); err != nil {
//	    log.Fatal(err)
//	}
//
// # Memory Model
//
// Guests never see Go's heap directly: every allocation charged to a slot is
// bounded by that slot's manifest quota (0 meaning unlimited) so that a
// misbehaving or malicious guest cannot exhaust memory the rest of the
// device needs. Host-side buffers come from one of two fixed pools
// (external PSRAM, preferred, and internal SRAM); mem_alloc allocations
// live in the guest's own linear memory and are only counted.
//
// # Thread Safety
//
// A lifecycle.Runtime and its app table are safe for concurrent use across
// goroutines; an individual guest's engine.Instance is not, and the
// lifecycle controller never calls into one concurrently with itself.
package akira
