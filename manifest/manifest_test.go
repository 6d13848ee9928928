package manifest_test

import (
	"strings"
	"testing"

	"github.com/akiraos/runtime/internal/capability"
	"github.com/akiraos/runtime/internal/testwasm"
	"github.com/akiraos/runtime/manifest"
)

func buildModule(sections ...[]byte) []byte { return testwasm.Module(sections...) }

func moduleWithManifest(payload string) []byte {
	return buildModule(testwasm.CustomSection(manifest.SectionName, []byte(payload)))
}

func TestParse_EmbeddedSection(t *testing.T) {
	data := moduleWithManifest(`{
		"name": "paint",
		"version": "1.2",
		"memory_quota": 65536,
		"capabilities": ["display.write", "input.read"]
	}`)

	m, err := manifest.Parse(data, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !m.Valid {
		t.Errorf("Valid = false, want true")
	}
	if m.Name != "paint" {
		t.Errorf("Name = %q, want paint", m.Name)
	}
	if m.Version != "1.2" {
		t.Errorf("Version = %q, want 1.2", m.Version)
	}
	if m.MemoryQuotaBytes != 65536 {
		t.Errorf("MemoryQuotaBytes = %d, want 65536", m.MemoryQuotaBytes)
	}
	want := capability.BitDisplayWrite | capability.BitInputRead
	if m.CapabilityMask != want {
		t.Errorf("CapabilityMask = %b, want %b", m.CapabilityMask, want)
	}
}

func TestParse_NoSection(t *testing.T) {
	data := buildModule()

	m, err := manifest.Parse(data, 3)
	if err == nil {
		t.Fatalf("expected not-found error")
	}
	if m.Name != "app3" {
		t.Errorf("Name = %q, want app3 (default for missing manifest)", m.Name)
	}
	if m.Valid {
		t.Errorf("Valid = true, want false")
	}
}

func TestParse_MalformedJSON(t *testing.T) {
	data := moduleWithManifest(`{"name": "paint",`)

	_, err := manifest.Parse(data, 0)
	if err == nil {
		t.Fatalf("expected malformed-JSON error")
	}
}

func TestParse_MalformedBinary(t *testing.T) {
	_, err := manifest.Parse([]byte{0xDE, 0xAD, 0xBE, 0xEF}, 0)
	if err == nil {
		t.Fatalf("expected error for malformed wasm binary")
	}
}

func TestDefault(t *testing.T) {
	m := manifest.Default(7)
	if m.Name != "app7" {
		t.Errorf("Name = %q, want app7", m.Name)
	}
	if m.Valid {
		t.Errorf("Valid = true, want false for a default manifest")
	}
	if m.CapabilityMask != 0 || m.MemoryQuotaBytes != 0 {
		t.Errorf("Default manifest should carry no capabilities or quota")
	}
}

func TestParseWithFallback_UsesSidecarWhenSectionMissing(t *testing.T) {
	data := buildModule()
	sidecar := []byte(`{"name": "sensor-app", "capabilities": ["sensor.read"]}`)

	m, err := manifest.ParseWithFallback(data, sidecar, 1)
	if err != nil {
		t.Fatalf("ParseWithFallback: %v", err)
	}
	if m.Name != "sensor-app" {
		t.Errorf("Name = %q, want sensor-app", m.Name)
	}
	if m.CapabilityMask != capability.BitSensorRead {
		t.Errorf("CapabilityMask = %b, want %b", m.CapabilityMask, capability.BitSensorRead)
	}
}

func TestParseWithFallback_EmbeddedMalformedDoesNotFallThrough(t *testing.T) {
	data := moduleWithManifest(`{"name": `)
	sidecar := []byte(`{"name": "sidecar-name"}`)

	_, err := manifest.ParseWithFallback(data, sidecar, 0)
	if err == nil {
		t.Fatalf("expected embedded malformed-JSON error to propagate, not fall through to sidecar")
	}
}

func TestParseWithFallback_NoSidecarAvailable(t *testing.T) {
	data := buildModule()

	m, err := manifest.ParseWithFallback(data, nil, 2)
	if err == nil {
		t.Fatalf("expected error when neither section nor sidecar is available")
	}
	if m.Name != "app2" {
		t.Errorf("Name = %q, want app2", m.Name)
	}
}

func TestParseWithFallback_MalformedSidecar(t *testing.T) {
	data := buildModule()
	sidecar := []byte(`not json`)

	_, err := manifest.ParseWithFallback(data, sidecar, 0)
	if err == nil {
		t.Fatalf("expected error for malformed sidecar JSON")
	}
}

func TestParseWithFallback_Idempotent(t *testing.T) {
	data := moduleWithManifest(`{"name": "paint", "capabilities": ["display.write"]}`)

	first, err1 := manifest.ParseWithFallback(data, nil, 0)
	second, err2 := manifest.ParseWithFallback(data, nil, 0)
	if err1 != nil || err2 != nil {
		t.Fatalf("ParseWithFallback errors: %v, %v", err1, err2)
	}
	if first != second {
		t.Errorf("ParseWithFallback is not idempotent: %+v != %+v", first, second)
	}
}

func TestDecode_NameAndVersionTruncation(t *testing.T) {
	longName := strings.Repeat("a", 40)
	longVersion := strings.Repeat("9", 20)
	data := moduleWithManifest(`{"name": "` + longName + `", "version": "` + longVersion + `"}`)

	m, err := manifest.Parse(data, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Name) != 31 {
		t.Errorf("Name length = %d, want 31", len(m.Name))
	}
	if len(m.Version) != 15 {
		t.Errorf("Version length = %d, want 15", len(m.Version))
	}
}

func TestDecode_EmptyNameFallsBackToSynthesized(t *testing.T) {
	data := moduleWithManifest(`{"capabilities": []}`)

	m, err := manifest.Parse(data, 5)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Name != "app5" {
		t.Errorf("Name = %q, want app5", m.Name)
	}
}

func TestDecode_UnknownCapabilityIgnored(t *testing.T) {
	data := moduleWithManifest(`{"name": "x", "capabilities": ["display.write", "teleport"]}`)

	m, err := manifest.Parse(data, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.CapabilityMask != capability.BitDisplayWrite {
		t.Errorf("CapabilityMask = %b, want only BitDisplayWrite", m.CapabilityMask)
	}
}

func TestDecode_DuplicateKeyLastWins(t *testing.T) {
	data := moduleWithManifest(`{"name": "first", "name": "second"}`)

	m, err := manifest.Parse(data, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Name != "second" {
		t.Errorf("Name = %q, want second (last key wins)", m.Name)
	}
}

func TestDecode_UnknownTopLevelFieldIgnored(t *testing.T) {
	data := moduleWithManifest(`{"name": "x", "future_field": {"nested": true}}`)

	m, err := manifest.Parse(data, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Name != "x" {
		t.Errorf("Name = %q, want x", m.Name)
	}
}

func TestDecode_NegativeMemoryQuotaRejected(t *testing.T) {
	data := moduleWithManifest(`{"name": "x", "memory_quota": -1}`)

	_, err := manifest.Parse(data, 0)
	if err == nil {
		t.Fatalf("expected error for negative memory_quota")
	}
}

func TestDecode_NonIntegerMemoryQuotaRejected(t *testing.T) {
	data := moduleWithManifest(`{"name": "x", "memory_quota": "a lot"}`)

	_, err := manifest.Parse(data, 0)
	if err == nil {
		t.Fatalf("expected error for non-integer memory_quota")
	}
}

func TestDecode_NoCapabilitiesYieldsZeroMask(t *testing.T) {
	data := moduleWithManifest(`{"name": "x"}`)

	m, err := manifest.Parse(data, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.CapabilityMask != 0 {
		t.Errorf("CapabilityMask = %b, want 0", m.CapabilityMask)
	}
}
