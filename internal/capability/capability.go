// Package capability is the bijection between capability strings carried in
// manifests and the capability bits tested on every native call. BitOf is
// the only map lookup in the package; Check is a pure bitwise AND meant to
// be inlined at every native-bridge call site.
package capability

// Closed set of capability strings recognized by the runtime (spec §6).
// Any other string in a manifest's capabilities array maps to bit 0 and is
// logged and ignored by the manifest parser.
const (
	DisplayWrite = "display.write"
	InputRead    = "input.read"
	InputWrite   = "input.write"
	SensorRead   = "sensor.read"
	RFTransceive = "rf.transceive"
	BTShell      = "bt.shell"
	StorageRead  = "storage.read"
	StorageWrite = "storage.write"
	Network      = "network"
)

// Bit assignments, fixed for the lifetime of the wire format.
const (
	BitDisplayWrite uint32 = 1 << iota
	BitInputRead
	BitInputWrite
	BitSensorRead
	BitRFTransceive
	BitBTShell
	BitStorageRead
	BitStorageWrite
	BitNetwork
)

var byName = map[string]uint32{
	DisplayWrite: BitDisplayWrite,
	InputRead:    BitInputRead,
	InputWrite:   BitInputWrite,
	SensorRead:   BitSensorRead,
	RFTransceive: BitRFTransceive,
	BTShell:      BitBTShell,
	StorageRead:  BitStorageRead,
	StorageWrite: BitStorageWrite,
	Network:      BitNetwork,
}

// BitOf returns the bit for a recognized capability string, or 0 for an
// unrecognized string (which can then never be granted).
func BitOf(name string) uint32 {
	return byName[name]
}

// Check reports whether mask grants bit. Allocation-free, inlinable.
func Check(mask, bit uint32) bool {
	return mask&bit != 0
}

// Names returns the capability strings set in mask, for logging/inspection.
func Names(mask uint32) []string {
	var names []string
	for name, bit := range byName {
		if mask&bit != 0 {
			names = append(names, name)
		}
	}
	return names
}
