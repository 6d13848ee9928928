// Package testwasm builds minimal, hand-encoded WASM binaries for tests
// across the runtime, so every package's test suite constructs fixtures the
// same way instead of re-deriving the binary format locally.
package testwasm

// Header returns the 8-byte magic+version prefix every module starts with.
func Header() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
}

// LEB128 encodes v as unsigned LEB128.
func LEB128(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// Section frames body with a section id and LEB128 length prefix.
func Section(id byte, body []byte) []byte {
	sec := []byte{id}
	sec = append(sec, LEB128(uint32(len(body)))...)
	return append(sec, body...)
}

// CustomSection builds a full ID-0 custom section with the given name and
// payload.
func CustomSection(name string, payload []byte) []byte {
	body := append(LEB128(uint32(len(name))), []byte(name)...)
	body = append(body, payload...)
	return Section(0, body)
}

// Module assembles a full binary from the header plus a list of already
// framed sections.
func Module(sections ...[]byte) []byte {
	data := Header()
	for _, s := range sections {
		data = append(data, s...)
	}
	return data
}

// MinimalModule returns the smallest valid module exporting a zero-arg,
// zero-result function named export that returns immediately. It is
// sufficient for exercising the engine's compile/instantiate/call path
// without pulling in a real guest binary.
func MinimalModule(export string) []byte {
	typeSec := Section(1, append(LEB128(1), 0x60, 0x00, 0x00))
	funcSec := Section(3, append(LEB128(1), 0x00))

	exportBody := LEB128(1)
	exportBody = append(exportBody, LEB128(uint32(len(export)))...)
	exportBody = append(exportBody, []byte(export)...)
	exportBody = append(exportBody, 0x00, 0x00) // kind=func, index=0
	exportSec := Section(7, exportBody)

	codeBody := append(LEB128(1), 0x02, 0x00, 0x0B) // 1 body, size=2, 0 locals, end
	codeSec := Section(10, codeBody)

	return Module(typeSec, funcSec, exportSec, codeSec)
}

// ModuleWithTrappingStart returns a module exporting "_start" as a function
// whose body is a single unreachable instruction, so calling it always
// raises an engine-level trap. Used to exercise the lifecycle controller's
// "retain the instance on a failed entry-point call" path.
func ModuleWithTrappingStart() []byte {
	typeSec := Section(1, append(LEB128(1), 0x60, 0x00, 0x00))
	funcSec := Section(3, append(LEB128(1), 0x00))

	exportBody := LEB128(1)
	exportBody = append(exportBody, LEB128(6)...)
	exportBody = append(exportBody, []byte("_start")...)
	exportBody = append(exportBody, 0x00, 0x00)
	exportSec := Section(7, exportBody)

	body := []byte{0x00, 0x00, 0x0B} // 0 locals, unreachable, end
	codeBody := append(LEB128(1), LEB128(uint32(len(body)))...)
	codeBody = append(codeBody, body...)
	codeSec := Section(10, codeBody)

	return Module(typeSec, funcSec, exportSec, codeSec)
}

// MinimalModuleWithManifest returns MinimalModule("_start") with an
// additional custom section carrying a manifest payload under name.
func MinimalModuleWithManifest(name string, payload []byte) []byte {
	base := MinimalModule("_start")
	return append(base, CustomSection(name, payload)...)
}

// MinimalModuleWithMemory is MinimalModule plus one page (64KiB) of
// exported linear memory named "mem", for tests that need guest memory to
// validate pointer/length bridge arguments against. Both the function and
// memory exports live in a single export section, as the binary format
// requires.
func MinimalModuleWithMemory(export string) []byte {
	typeSec := Section(1, append(LEB128(1), 0x60, 0x00, 0x00))
	funcSec := Section(3, append(LEB128(1), 0x00))
	memSec := Section(5, []byte{0x01, 0x00, 0x01}) // count=1, flags=min-only, min=1 page

	exportBody := LEB128(2) // two exports: the function, then memory
	exportBody = append(exportBody, LEB128(uint32(len(export)))...)
	exportBody = append(exportBody, []byte(export)...)
	exportBody = append(exportBody, 0x00, 0x00) // kind=func, index=0
	exportBody = append(exportBody, LEB128(3)...)
	exportBody = append(exportBody, []byte("mem")...)
	exportBody = append(exportBody, 0x02, 0x00) // kind=memory, index=0
	exportSec := Section(7, exportBody)

	codeBody := append(LEB128(1), 0x02, 0x00, 0x0B) // 1 body, size=2, 0 locals, end
	codeSec := Section(10, codeBody)

	return Module(typeSec, funcSec, memSec, exportSec, codeSec)
}

// ModuleWithGuestAllocator returns a module exporting "_start", "mem" (one
// page), and a trivial bump allocator: "malloc" ignores its size argument and
// always returns a fixed offset, "free" ignores its pointer argument and does
// nothing. That's enough to exercise the guest-linear-allocation wiring
// without needing a real allocator in the fixture.
func ModuleWithGuestAllocator() []byte {
	typeSec := Section(1, append(
		LEB128(3),
		0x60, 0x00, 0x00, // type 0: () -> ()
		0x60, 0x01, 0x7f, 0x00, // type 1: (i32) -> ()
		0x60, 0x01, 0x7f, 0x01, 0x7f, // type 2: (i32) -> (i32)
	))
	funcSec := Section(3, append(LEB128(3), 0x00, 0x02, 0x01)) // _start:type0, malloc:type2, free:type1
	memSec := Section(5, []byte{0x01, 0x00, 0x01})

	exportBody := LEB128(4)
	exportBody = append(exportBody, LEB128(6)...)
	exportBody = append(exportBody, []byte("_start")...)
	exportBody = append(exportBody, 0x00, 0x00)
	exportBody = append(exportBody, LEB128(6)...)
	exportBody = append(exportBody, []byte("malloc")...)
	exportBody = append(exportBody, 0x00, 0x01)
	exportBody = append(exportBody, LEB128(4)...)
	exportBody = append(exportBody, []byte("free")...)
	exportBody = append(exportBody, 0x00, 0x02)
	exportBody = append(exportBody, LEB128(3)...)
	exportBody = append(exportBody, []byte("mem")...)
	exportBody = append(exportBody, 0x02, 0x00)
	exportSec := Section(7, exportBody)

	startBody := []byte{0x00, 0x0B}                         // 0 locals, end
	mallocBody := []byte{0x00, 0x41, 0x80, 0x08, 0x0B}       // 0 locals, i32.const 1024, end
	freeBody := []byte{0x00, 0x0B}                           // 0 locals, end
	codeBody := LEB128(3)
	codeBody = append(codeBody, LEB128(uint32(len(startBody)))...)
	codeBody = append(codeBody, startBody...)
	codeBody = append(codeBody, LEB128(uint32(len(mallocBody)))...)
	codeBody = append(codeBody, mallocBody...)
	codeBody = append(codeBody, LEB128(uint32(len(freeBody)))...)
	codeBody = append(codeBody, freeBody...)
	codeSec := Section(10, codeBody)

	return Module(typeSec, funcSec, memSec, exportSec, codeSec)
}
