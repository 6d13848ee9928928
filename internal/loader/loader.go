// Package loader implements the chunked staging policy (spec §4.5): move a
// WASM binary into a buffer sized for the engine's compile step without
// ever holding the whole binary in internal RAM when an external pool is
// available.
package loader

import (
	"context"

	"github.com/akiraos/runtime/internal/akerr"
	"github.com/akiraos/runtime/internal/arena"
	"github.com/akiraos/runtime/internal/engine"
	"github.com/akiraos/runtime/internal/wasmbin"
)

// DefaultChunkBytes is the tunable staging chunk size from spec §4.5.
const DefaultChunkBytes = 16 * 1024

// Loader stages and compiles guest binaries through an Arena and Engine.
type Loader struct {
	arena      *arena.Arena
	engine     *engine.Engine
	chunkBytes int
}

// New creates a loader backed by the given arena and engine.
func New(a *arena.Arena, e *engine.Engine, chunkBytes int) *Loader {
	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkBytes
	}
	return &Loader{arena: a, engine: e, chunkBytes: chunkBytes}
}

// Load validates and stages wasmBytes, then compiles it through the engine.
// The slot argument is only used to annotate errors; slot reservation and
// table bookkeeping are the lifecycle controller's job.
func (l *Loader) Load(ctx context.Context, wasmBytes []byte, slot int) (*engine.Module, error) {
	if len(wasmBytes) < wasmbin.HeaderLen {
		return nil, akerr.New(akerr.PhaseLoad, akerr.KindInvalidArgument).
			Detail("binary shorter than the 8-byte header").Slot(slot).Build()
	}
	if err := wasmbin.CheckHeader(wasmBytes); err != nil {
		return nil, akerr.New(akerr.PhaseLoad, akerr.KindInvalidArgument).
			Detail("bad magic/version header").Cause(err).Slot(slot).Build()
	}

	chunk, chunkSrc, err := l.arena.AllocPreferringExternal(l.chunkBytes)
	if err != nil {
		return nil, akerr.NoMemory(akerr.PhaseLoad, "allocate chunk buffer")
	}
	defer l.arena.Free(chunk)

	var source []byte
	var staged *arena.Block

	switch {
	case len(wasmBytes) <= l.chunkBytes || chunkSrc != arena.SourceExternal:
		// Small enough to load directly, or no external RAM to stage
		// the whole binary in — compile straight from the caller's buffer.
		source = wasmBytes

	default:
		// Binary is larger than one chunk and the chunk buffer came from
		// external RAM: stage a second external buffer for the whole
		// binary, filled CHUNK bytes at a time, so peak internal-RAM use
		// stays bounded by the chunk size.
		staged, _, err = l.arena.AllocPreferringExternal(len(wasmBytes))
		if err != nil {
			return nil, akerr.NoMemory(akerr.PhaseLoad, "allocate staging buffer")
		}
		dst := staged.Bytes()
		for off := 0; off < len(wasmBytes); off += l.chunkBytes {
			end := off + l.chunkBytes
			if end > len(wasmBytes) {
				end = len(wasmBytes)
			}
			n := copy(chunk.Bytes(), wasmBytes[off:end])
			copy(dst[off:end], chunk.Bytes()[:n])
		}
		source = dst
	}

	mod, err := l.engine.LoadModule(ctx, source)
	if staged != nil {
		l.arena.Free(staged)
	}
	if err != nil {
		return nil, akerr.New(akerr.PhaseLoad, akerr.KindIOFailure).
			Detail("engine rejected module").Cause(err).Slot(slot).Build()
	}
	return mod, nil
}
