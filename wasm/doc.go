// Package wasm provides the WebAssembly module model consumed by the
// compiler: binary parsing and encoding, opcode constants and bounded
// LEB128 decoding.
//
// Only the core module shape is modelled (WebAssembly 2.0 value types,
// functions, tables, memories, globals, element and data segments).
// Function bodies are kept as raw expression bytes; the compiler decodes
// them itself in a single pass.
//
// # Parsing
//
//	data, _ := os.ReadFile("module.wasm")
//	module, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # LEB128
//
// ReadLEB and its typed wrappers decode from a slice with an explicit end
// bound and report ErrTruncated or ErrOverlong:
//
//	v, n, err := wasm.ReadVarUint32(code, pos, len(code))
//
// # Encoding
//
// Module.Encode produces a binary module, mostly useful for building test
// inputs:
//
//	m := &wasm.Module{
//	    Types: []wasm.FuncType{{Params: []wasm.ValType{wasm.ValI32}}},
//	    Funcs: []uint32{0},
//	    Code:  []wasm.FuncBody{{Code: []byte{wasm.OpEnd}}},
//	}
//	bin := m.Encode()
package wasm
