package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-aot/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// ParseModule parses a WebAssembly binary module. Function bodies keep
// their raw expression bytes; CodeOffset records where each body starts in
// data.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}

	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	var lastSectionOrder int

	for r.Len() > 0 {
		sectionID, err := r.ReadByte()
		if err != nil {
			return nil, r.WrapError("section header", err)
		}

		if sectionID != SectionCustom {
			order := sectionOrder(sectionID)
			if order <= lastSectionOrder {
				return nil, fmt.Errorf("section %d appears out of order", sectionID)
			}
			lastSectionOrder = order
		}

		sectionSize, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}

		start := r.Position()
		sectionData, err := r.ReadBytes(int(sectionSize))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}

		sr := binary.NewReaderAt(sectionData, start)

		switch sectionID {
		case SectionCustom:
			err = parseCustomSection(sr, m)
		case SectionType:
			err = parseTypeSection(sr, m)
		case SectionImport:
			err = parseImportSection(sr, m)
		case SectionFunction:
			err = parseFunctionSection(sr, m)
		case SectionTable:
			err = parseTableSection(sr, m)
		case SectionMemory:
			err = parseMemorySection(sr, m)
		case SectionGlobal:
			err = parseGlobalSection(sr, m)
		case SectionExport:
			err = parseExportSection(sr, m)
		case SectionStart:
			err = parseStartSection(sr, m)
		case SectionElement:
			err = parseElementSection(sr, m)
		case SectionCode:
			err = parseCodeSection(sr, m)
		case SectionData:
			err = parseDataSection(sr, m)
		case SectionDataCount:
			err = parseDataCountSection(sr, m)
		default:
			return nil, fmt.Errorf("unknown section ID: 0x%02x", sectionID)
		}
		if err != nil {
			return nil, fmt.Errorf("%s section: %w", sectionName(sectionID), err)
		}
	}

	if len(m.Code) != len(m.Funcs) {
		return nil, fmt.Errorf("function and code section have inconsistent lengths (%d vs %d)",
			len(m.Funcs), len(m.Code))
	}

	return m, nil
}

func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionGlobal:
		return 6
	case SectionExport:
		return 7
	case SectionStart:
		return 8
	case SectionElement:
		return 9
	case SectionDataCount:
		return 10
	case SectionCode:
		return 11
	case SectionData:
		return 12
	default:
		return 100
	}
}

func sectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom"
	case SectionType:
		return "type"
	case SectionImport:
		return "import"
	case SectionFunction:
		return "function"
	case SectionTable:
		return "table"
	case SectionMemory:
		return "memory"
	case SectionGlobal:
		return "global"
	case SectionExport:
		return "export"
	case SectionStart:
		return "start"
	case SectionElement:
		return "element"
	case SectionCode:
		return "code"
	case SectionData:
		return "data"
	case SectionDataCount:
		return "data count"
	}
	return fmt.Sprintf("section(%d)", id)
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{
		Name: name,
		Data: r.ReadRemaining(),
	})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return fmt.Errorf("unsupported type form 0x%02x", form)
		}
		params, err := readValTypes(r)
		if err != nil {
			return err
		}
		results, err := readValTypes(r)
		if err != nil {
			return err
		}
		m.Types[i] = FuncType{Params: params, Results: results}
	}
	return nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Imports = make([]Import, count)
	for i := uint32(0); i < count; i++ {
		module, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}

		imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}

		switch kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		case KindTable:
			table, err := readTableType(r)
			if err != nil {
				return err
			}
			imp.Desc.Table = &table
		case KindMemory:
			memory, err := readMemoryType(r)
			if err != nil {
				return err
			}
			imp.Desc.Memory = &memory
		case KindGlobal:
			global, err := readGlobalType(r)
			if err != nil {
				return err
			}
			imp.Desc.Global = &global
		default:
			return fmt.Errorf("unknown import kind: %d", kind)
		}

		m.Imports[i] = imp
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := uint32(0); i < count; i++ {
		m.Funcs[i], err = r.ReadU32()
		if err != nil {
			return err
		}
	}
	return nil
}

func parseTableSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Tables = make([]TableType, count)
	for i := uint32(0); i < count; i++ {
		m.Tables[i], err = readTableType(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Memories = make([]MemoryType, count)
	for i := uint32(0); i < count; i++ {
		m.Memories[i], err = readMemoryType(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Globals = make([]Global, count)
	for i := uint32(0); i < count; i++ {
		globalType, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readInitExpr(r)
		if err != nil {
			return err
		}
		m.Globals[i] = Global{Type: globalType, Init: init}
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Exports = make([]Export, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindGlobal {
			return fmt.Errorf("invalid export kind: 0x%02x", kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Exports[i] = Export{Name: name, Kind: kind, Idx: idx}
	}
	return nil
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Elements = make([]Element, count)
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 7 {
			return fmt.Errorf("invalid element segment flags: %d", flags)
		}

		elem := Element{Flags: flags, Type: ValFuncRef}

		hasTableIdx := flags&0x02 != 0 && flags&0x01 == 0
		hasOffset := flags&0x01 == 0
		usesExprs := flags&0x04 != 0

		if hasTableIdx {
			if elem.TableIdx, err = r.ReadU32(); err != nil {
				return err
			}
		}
		if hasOffset {
			if elem.Offset, err = readInitExpr(r); err != nil {
				return err
			}
		}
		if flags&0x03 != 0 {
			b, err := r.ReadByte()
			if err != nil {
				return err
			}
			if usesExprs {
				elem.Type = ValType(b)
			} else {
				elem.ElemKind = b
			}
		}

		vecCount, err := r.ReadU32()
		if err != nil {
			return err
		}
		if usesExprs {
			elem.Exprs = make([][]byte, vecCount)
			for j := uint32(0); j < vecCount; j++ {
				if elem.Exprs[j], err = readInitExpr(r); err != nil {
					return err
				}
			}
		} else {
			elem.FuncIdxs = make([]uint32, vecCount)
			for j := uint32(0); j < vecCount; j++ {
				if elem.FuncIdxs[j], err = r.ReadU32(); err != nil {
					return err
				}
			}
		}

		m.Elements[i] = elem
	}
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, count)
	for i := uint32(0); i < count; i++ {
		bodySize, err := r.ReadU32()
		if err != nil {
			return err
		}
		bodyStart := r.Position()
		bodyData, err := r.ReadBytes(int(bodySize))
		if err != nil {
			return err
		}

		br := binary.NewReaderAt(bodyData, bodyStart)

		localCount, err := br.ReadU32()
		if err != nil {
			return err
		}
		var locals []LocalEntry
		var total uint64
		for j := uint32(0); j < localCount; j++ {
			n, err := br.ReadU32()
			if err != nil {
				return err
			}
			t, err := br.ReadByte()
			if err != nil {
				return err
			}
			total += uint64(n)
			if total > 50000 {
				return fmt.Errorf("function %d: too many locals", i)
			}
			locals = append(locals, LocalEntry{Count: n, ValType: ValType(t)})
		}

		codeOffset := br.Position()
		m.Code[i] = FuncBody{Locals: locals, Code: br.ReadRemaining(), CodeOffset: codeOffset}
	}
	return nil
}

func parseDataSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Data = make([]DataSegment, count)
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 2 {
			return fmt.Errorf("invalid data segment flags: %d", flags)
		}

		seg := DataSegment{Flags: flags}
		if flags == 2 {
			if seg.MemIdx, err = r.ReadU32(); err != nil {
				return err
			}
		}
		if flags != 1 {
			if seg.Offset, err = readInitExpr(r); err != nil {
				return err
			}
		}

		initLen, err := r.ReadU32()
		if err != nil {
			return err
		}
		if seg.Init, err = r.ReadBytes(int(initLen)); err != nil {
			return err
		}

		m.Data[i] = seg
	}
	return nil
}

func parseDataCountSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.DataCount = &count
	return nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(count) > r.Len() {
		return nil, fmt.Errorf("value type count %d exceeds section", count)
	}
	out := make([]ValType, count)
	for i := range out {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		out[i] = ValType(b)
	}
	return out, nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags&LimitsMemory64 != 0 {
		return Limits{}, errors.New("memory64 is not supported")
	}

	l := Limits{Shared: flags&LimitsShared != 0}
	minVal, err := r.ReadU32()
	if err != nil {
		return Limits{}, err
	}
	l.Min = uint64(minVal)
	if flags&LimitsHasMax != 0 {
		maxVal, err := r.ReadU32()
		if err != nil {
			return Limits{}, err
		}
		max64 := uint64(maxVal)
		l.Max = &max64
	}

	if l.Max != nil && l.Min > *l.Max {
		return Limits{}, fmt.Errorf("limits min (%d) exceeds max (%d)", l.Min, *l.Max)
	}
	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	elemType, err := r.ReadByte()
	if err != nil {
		return TableType{}, err
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: elemType, Limits: limits}, nil
}

func readMemoryType(r *binary.Reader) (MemoryType, error) {
	limits, err := readLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	valType, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	return GlobalType{ValType: ValType(valType), Mutable: mut != 0}, nil
}

// readInitExpr returns the raw bytes of a constant expression, including
// the terminating end opcode.
func readInitExpr(r *binary.Reader) ([]byte, error) {
	var out []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
		if b == OpEnd {
			return out, nil
		}
		switch b {
		case OpI32Const, OpI64Const, OpGlobalGet, OpRefNull, OpRefFunc:
			out, err = copyLEB128(r, out)
		case OpF32Const:
			out, err = copyBytes(r, out, 4)
		case OpF64Const:
			out, err = copyBytes(r, out, 8)
		case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
		case OpPrefixSIMD:
			var sub uint32
			if sub, err = r.ReadU32(); err != nil {
				return nil, err
			}
			out = AppendLEB128u(out, uint64(sub))
			if sub == SimdV128Const {
				out, err = copyBytes(r, out, 16)
			}
		default:
			return nil, fmt.Errorf("opcode 0x%02x not allowed in constant expression", b)
		}
		if err != nil {
			return nil, err
		}
	}
}

func copyLEB128(r *binary.Reader, out []byte) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
		if b&0x80 == 0 {
			return out, nil
		}
	}
}

func copyBytes(r *binary.Reader, out []byte, n int) ([]byte, error) {
	data, err := r.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	return append(out, data...), nil
}

// EvalConstExpr evaluates a constant expression that produces a number.
// globals supplies the values of imported globals referenced by global.get.
func EvalConstExpr(expr []byte, globals func(idx uint32) (uint64, bool)) (uint64, error) {
	var stack []uint64
	pos := 0
	for pos < len(expr) {
		op := expr[pos]
		pos++
		switch op {
		case OpEnd:
			if len(stack) != 1 {
				return 0, fmt.Errorf("constant expression leaves %d values", len(stack))
			}
			return stack[0], nil
		case OpI32Const:
			v, n, err := ReadVarInt32(expr, pos, len(expr))
			if err != nil {
				return 0, err
			}
			pos += n
			stack = append(stack, uint64(uint32(v)))
		case OpI64Const:
			v, n, err := ReadVarInt64(expr, pos, len(expr))
			if err != nil {
				return 0, err
			}
			pos += n
			stack = append(stack, uint64(v))
		case OpF32Const:
			if pos+4 > len(expr) {
				return 0, ErrTruncated
			}
			stack = append(stack, uint64(uint32(expr[pos])|uint32(expr[pos+1])<<8|uint32(expr[pos+2])<<16|uint32(expr[pos+3])<<24))
			pos += 4
		case OpF64Const:
			if pos+8 > len(expr) {
				return 0, ErrTruncated
			}
			var v uint64
			for i := 7; i >= 0; i-- {
				v = v<<8 | uint64(expr[pos+i])
			}
			stack = append(stack, v)
			pos += 8
		case OpGlobalGet:
			idx, n, err := ReadVarUint32(expr, pos, len(expr))
			if err != nil {
				return 0, err
			}
			pos += n
			if globals == nil {
				return 0, fmt.Errorf("global.get %d in constant expression", idx)
			}
			v, ok := globals(idx)
			if !ok {
				return 0, fmt.Errorf("global.get %d: unknown global", idx)
			}
			stack = append(stack, v)
		case OpRefNull:
			_, n, err := ReadVarInt33(expr, pos, len(expr))
			if err != nil {
				return 0, err
			}
			pos += n
			stack = append(stack, 0)
		case OpRefFunc:
			idx, n, err := ReadVarUint32(expr, pos, len(expr))
			if err != nil {
				return 0, err
			}
			pos += n
			// function references are encoded as index+1 so that null stays 0
			stack = append(stack, uint64(idx)+1)
		case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
			if len(stack) < 2 {
				return 0, errors.New("constant expression stack underflow")
			}
			a, b := stack[len(stack)-2], stack[len(stack)-1]
			stack = stack[:len(stack)-2]
			var v uint64
			switch op {
			case OpI32Add:
				v = uint64(uint32(a) + uint32(b))
			case OpI32Sub:
				v = uint64(uint32(a) - uint32(b))
			case OpI32Mul:
				v = uint64(uint32(a) * uint32(b))
			case OpI64Add:
				v = a + b
			case OpI64Sub:
				v = a - b
			case OpI64Mul:
				v = a * b
			}
			stack = append(stack, v)
		default:
			return 0, fmt.Errorf("unsupported constant expression opcode 0x%02x", op)
		}
	}
	return 0, ErrTruncated
}
