package wasm

import "fmt"

// PageSize is the size of a linear memory page in bytes.
const PageSize = 65536

// ValType is a value type encoding.
type ValType byte

// String returns the text-format name of the type.
func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExternRef:
		return "externref"
	}
	return fmt.Sprintf("valtype(0x%02x)", byte(v))
}

// IsRef reports whether v is a reference type.
func (v ValType) IsRef() bool {
	return v == ValFuncRef || v == ValExternRef
}

// Module represents a parsed WebAssembly module
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // Type indices for declared functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment

	// DataCount holds the count from the DataCount section (ID 12).
	DataCount *uint32

	CustomSections []CustomSection
}

// FuncType represents a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures are structurally identical.
func (f *FuncType) Equal(o *FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// String renders the signature in text-format style.
func (f *FuncType) String() string {
	return fmt.Sprintf("%v -> %v", f.Params, f.Results)
}

// Import describes an imported item.
type Import struct {
	Module string
	Name   string
	Desc   ImportDesc
}

// ImportDesc describes the kind-specific part of an import.
// Kind uses KindFunc, KindTable, KindMemory or KindGlobal.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// TableType describes a table with element type and size limits.
type TableType struct {
	Limits   Limits
	ElemType byte
}

// MemoryType describes a linear memory with size limits.
type MemoryType struct {
	Limits Limits
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max    *uint64
	Min    uint64
	Shared bool
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global represents a global variable with type and initialization.
type Global struct {
	Type GlobalType
	Init []byte // Raw init expression bytes
}

// Export describes an exported item.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element represents an element segment. Only the function-index forms
// (flags 0-3) are modelled; expression forms keep their raw bytes.
type Element struct {
	Offset   []byte
	FuncIdxs []uint32
	Exprs    [][]byte
	Flags    uint32
	TableIdx uint32
	ElemKind byte
	Type     ValType
}

// Passive reports whether the segment is passive.
func (e *Element) Passive() bool { return e.Flags&0x03 == 0x01 }

// Declarative reports whether the segment is declarative.
func (e *Element) Declarative() bool { return e.Flags&0x03 == 0x03 }

// FuncBody represents a function's local declarations and bytecode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte // Expression bytes including the final end opcode

	// CodeOffset is the offset of Code[0] within the module binary. Zero for
	// bodies that were not produced by ParseModule.
	CodeOffset int
}

// LocalEntry represents a group of local variables with the same type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// LocalTypes expands the local declarations into one type per local.
func (f *FuncBody) LocalTypes() []ValType {
	var n int
	for _, l := range f.Locals {
		n += int(l.Count)
	}
	out := make([]ValType, 0, n)
	for _, l := range f.Locals {
		for i := uint32(0); i < l.Count; i++ {
			out = append(out, l.ValType)
		}
	}
	return out
}

// DataSegment represents a data segment.
// Flags determine the format:
//   - 0: active, memIdx=0, offset expr, vec(byte)
//   - 1: passive, vec(byte)
//   - 2: active, memIdx, offset expr, vec(byte)
type DataSegment struct {
	Offset []byte
	Init   []byte
	Flags  uint32
	MemIdx uint32
}

// CustomSection holds a named custom section's data.
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs returns the number of imported functions
func (m *Module) NumImportedFuncs() int {
	return m.countImports(KindFunc)
}

// NumImportedGlobals returns the number of imported globals
func (m *Module) NumImportedGlobals() int {
	return m.countImports(KindGlobal)
}

// NumImportedTables returns the number of imported tables
func (m *Module) NumImportedTables() int {
	return m.countImports(KindTable)
}

// NumImportedMemories returns the number of imported memories
func (m *Module) NumImportedMemories() int {
	return m.countImports(KindMemory)
}

func (m *Module) countImports(kind byte) int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == kind {
			count++
		}
	}
	return count
}

// GetFuncType returns the type of a function by its index in the function
// index space (imports first).
func (m *Module) GetFuncType(funcIdx uint32) *FuncType {
	numImported := uint32(m.NumImportedFuncs())
	if funcIdx < numImported {
		for i, imp := range m.Imports {
			if imp.Desc.Kind != KindFunc {
				continue
			}
			if funcIdx == 0 {
				return m.typeAt(m.Imports[i].Desc.TypeIdx)
			}
			funcIdx--
		}
		return nil
	}
	localIdx := funcIdx - numImported
	if int(localIdx) >= len(m.Funcs) {
		return nil
	}
	return m.typeAt(m.Funcs[localIdx])
}

func (m *Module) typeAt(idx uint32) *FuncType {
	if int(idx) >= len(m.Types) {
		return nil
	}
	return &m.Types[idx]
}

// ImportedFunc returns the import entry for an imported function index.
func (m *Module) ImportedFunc(funcIdx uint32) *Import {
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind != KindFunc {
			continue
		}
		if funcIdx == 0 {
			return &m.Imports[i]
		}
		funcIdx--
	}
	return nil
}

// GlobalType returns the type of a global by its index (imports first).
func (m *Module) GlobalType(idx uint32) *GlobalType {
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind != KindGlobal {
			continue
		}
		if idx == 0 {
			return m.Imports[i].Desc.Global
		}
		idx--
	}
	if int(idx) >= len(m.Globals) {
		return nil
	}
	return &m.Globals[idx].Type
}

// NumGlobals returns the size of the global index space.
func (m *Module) NumGlobals() int {
	return m.NumImportedGlobals() + len(m.Globals)
}

// NumTables returns the size of the table index space.
func (m *Module) NumTables() int {
	return m.NumImportedTables() + len(m.Tables)
}

// NumMemories returns the size of the memory index space.
func (m *Module) NumMemories() int {
	return m.NumImportedMemories() + len(m.Memories)
}

// Memory returns the type of memory 0, or nil if the module has none.
func (m *Module) Memory() *MemoryType {
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind == KindMemory {
			return m.Imports[i].Desc.Memory
		}
	}
	if len(m.Memories) > 0 {
		return &m.Memories[0]
	}
	return nil
}

// Table returns the type of a table by index (imports first).
func (m *Module) Table(idx uint32) *TableType {
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind != KindTable {
			continue
		}
		if idx == 0 {
			return m.Imports[i].Desc.Table
		}
		idx--
	}
	if int(idx) >= len(m.Tables) {
		return nil
	}
	return &m.Tables[idx]
}

// ExportedFunc looks up an exported function by name and returns its index.
func (m *Module) ExportedFunc(name string) (uint32, bool) {
	for _, e := range m.Exports {
		if e.Kind == KindFunc && e.Name == name {
			return e.Idx, true
		}
	}
	return 0, false
}

// FuncName returns a stable symbol name for a function index, preferring
// the export name when one exists.
func (m *Module) FuncName(funcIdx uint32) string {
	for _, e := range m.Exports {
		if e.Kind == KindFunc && e.Idx == funcIdx {
			return e.Name
		}
	}
	if imp := m.ImportedFunc(funcIdx); imp != nil {
		return imp.Module + "." + imp.Name
	}
	return fmt.Sprintf("func%d", funcIdx)
}

// BlockType resolves a block type immediate into params and results.
// Negative values are the single-byte shorthand forms.
func (m *Module) BlockType(bt int64) (params, results []ValType, err error) {
	switch bt {
	case int64(BlockTypeVoid):
		return nil, nil, nil
	case int64(BlockTypeI32):
		return nil, []ValType{ValI32}, nil
	case int64(BlockTypeI64):
		return nil, []ValType{ValI64}, nil
	case int64(BlockTypeF32):
		return nil, []ValType{ValF32}, nil
	case int64(BlockTypeF64):
		return nil, []ValType{ValF64}, nil
	case int64(BlockTypeV128):
		return nil, []ValType{ValV128}, nil
	case -16:
		return nil, []ValType{ValFuncRef}, nil
	case -17:
		return nil, []ValType{ValExternRef}, nil
	}
	if bt < 0 || int(bt) >= len(m.Types) {
		return nil, nil, fmt.Errorf("invalid block type %d", bt)
	}
	ft := &m.Types[bt]
	return ft.Params, ft.Results, nil
}
