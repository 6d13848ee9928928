// Package manifest extracts a guest's declared capabilities, memory quota,
// name, and version from either a WASM custom section or a fallback JSON
// sidecar buffer (spec §4.3).
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/akiraos/runtime/internal/akerr"
	"github.com/akiraos/runtime/internal/capability"
	"github.com/akiraos/runtime/internal/wasmbin"
)

// SectionName is the exact, case-sensitive custom section name the parser
// looks for.
const SectionName = ".akira.manifest"

const (
	maxNameBytes    = 31
	maxVersionBytes = 15
)

// Manifest is the parsed result consumed by the lifecycle controller.
type Manifest struct {
	CapabilityMask   uint32
	MemoryQuotaBytes uint32
	Name             string
	Version          string

	// Author and IconResource are additive fields carried for supervisor
	// UIs; they do not affect capability or quota enforcement.
	Author       string
	IconResource string

	// Valid is false when no source (neither embedded section nor sidecar)
	// yielded a parseable manifest.
	Valid bool
}

// Default returns the zero-value manifest for a slot that has no parseable
// manifest: no capabilities, no quota, and a synthesized name.
func Default(slot int) Manifest {
	return Manifest{Name: fmt.Sprintf("app%d", slot)}
}

// wireManifest mirrors the JSON grammar from spec §4.3/§6. Unknown keys are
// ignored by encoding/json's default decode behavior; duplicate keys are
// resolved last-wins by the same default behavior.
type wireManifest struct {
	Name         string      `json:"name"`
	Version      string      `json:"version"`
	MemoryQuota  json.Number `json:"memory_quota"`
	Capabilities []string    `json:"capabilities"`
	Author       string      `json:"author"`
	IconResource string      `json:"icon_resource"`
}

// Parse locates the `.akira.manifest` custom section in a WASM binary and
// decodes it. It returns a *akerr.Error with Kind akerr.KindNotFound when no
// such section exists, and Kind akerr.KindInvalidArgument when the section
// exists but its JSON payload is malformed.
func Parse(wasmBytes []byte, slot int) (Manifest, error) {
	sec, ok, err := wasmbin.FindCustomSection(wasmBytes, SectionName)
	if err != nil {
		return Default(slot), akerr.InvalidArgument(akerr.PhaseManifest, "malformed wasm binary while scanning for manifest section")
	}
	if !ok {
		return Default(slot), akerr.NotFound(akerr.PhaseManifest, "custom section", SectionName)
	}
	return decode(sec.Data, slot)
}

// ParseWithFallback implements the fallback strategy: attempt the embedded
// section first; if it returns not-found, attempt the caller-provided JSON
// buffer. When there is no sidecar, the not-found error is returned; when the
// sidecar is malformed, its invalid_argument error is returned. Either way
// the manifest is left at its defaults.
func ParseWithFallback(wasmBytes, sidecar []byte, slot int) (Manifest, error) {
	m, err := Parse(wasmBytes, slot)
	if err == nil {
		return m, nil
	}

	var ae *akerr.Error
	if !errors.As(err, &ae) || ae.Kind != akerr.KindNotFound {
		// Malformed embedded manifest: distinct from not-found, propagate.
		return Default(slot), err
	}

	if len(sidecar) == 0 {
		return Default(slot), err
	}

	m, sidecarErr := decode(sidecar, slot)
	if sidecarErr != nil {
		return Default(slot), sidecarErr
	}
	return m, nil
}

// ParseSidecar decodes a standalone JSON sidecar buffer, independent of any
// embedded manifest. The lifecycle controller uses this (rather than
// ParseWithFallback's embedded-or-sidecar choice) when both an embedded
// manifest and a sidecar are present and must be merged (spec §4.6 step 5).
func ParseSidecar(sidecar []byte, slot int) (Manifest, error) {
	return decode(sidecar, slot)
}

// decode parses a manifest JSON payload and maps capability strings to bits.
func decode(payload []byte, slot int) (Manifest, error) {
	var wire wireManifest
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&wire); err != nil {
		return Default(slot), akerr.New(akerr.PhaseManifest, akerr.KindInvalidArgument).
			Detail("malformed manifest JSON").Cause(err).Build()
	}

	m := Manifest{
		Name:         truncate(trimNUL(wire.Name), maxNameBytes),
		Version:      truncate(trimNUL(wire.Version), maxVersionBytes),
		Author:       wire.Author,
		IconResource: wire.IconResource,
		Valid:        true,
	}
	if m.Name == "" {
		m.Name = fmt.Sprintf("app%d", slot)
	}

	if wire.MemoryQuota != "" {
		quota, err := wire.MemoryQuota.Int64()
		if err != nil || quota < 0 {
			return Default(slot), akerr.New(akerr.PhaseManifest, akerr.KindInvalidArgument).
				Detail("memory_quota must be a non-negative integer").Cause(err).Build()
		}
		m.MemoryQuotaBytes = uint32(quota)
	}

	var mask uint32
	for _, name := range wire.Capabilities {
		bit := capability.BitOf(name)
		if bit == 0 {
			Logger().Warn("unknown capability in manifest", zap.String("capability", name), zap.Int("slot", slot))
			continue
		}
		mask |= bit
	}
	m.CapabilityMask = mask

	return m, nil
}

func trimNUL(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return s[:i]
		}
	}
	return s
}

func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes]
}
