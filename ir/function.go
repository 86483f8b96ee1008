package ir

// Block is a basic block. A finished block ends with exactly one terminator.
type Block struct {
	fn     *Function
	Name   string
	Instrs []*Instr
}

// Function returns the function owning b.
func (b *Block) Function() *Function { return b.fn }

// Terminator returns the last instruction if it is a terminator.
func (b *Block) Terminator() *Instr {
	if n := len(b.Instrs); n > 0 && b.Instrs[n-1].Op.IsTerminator() {
		return b.Instrs[n-1]
	}
	return nil
}

// Terminated reports whether b already ends with a terminator.
func (b *Block) Terminated() bool { return b.Terminator() != nil }

// Successors returns the distinct blocks b may branch to.
func (b *Block) Successors() []*Block {
	t := b.Terminator()
	if t == nil {
		return nil
	}
	var out []*Block
	seen := make(map[*Block]bool)
	add := func(s *Block) {
		if s != nil && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range t.Targets {
		add(s)
	}
	for _, c := range t.Cases {
		add(c.Target)
	}
	return out
}

// Function is a compiled function. Params[0] is always the native frame
// pointer, Params[1] the instance pointer; the WebAssembly parameters follow.
type Function struct {
	Name      string
	Params    []*Value
	Results   []Type
	Blocks    []*Block
	Index     uint32
	FrameSize uint32
	nextID    int
}

// NewFunction creates a function with an empty entry block.
func NewFunction(name string, params, results []Type) *Function {
	f := &Function{Name: name, Results: results}
	for i, t := range params {
		f.Params = append(f.Params, &Value{Kind: ValueParam, Type: t, Param: i, ID: f.nextID})
		f.nextID++
	}
	f.Blocks = []*Block{{fn: f, Name: "entry"}}
	return f
}

// Entry returns the entry block.
func (f *Function) Entry() *Block { return f.Blocks[0] }

// BlockByName returns the first block named name.
func (f *Function) BlockByName(name string) *Block {
	for _, b := range f.Blocks {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// NumValues returns the number of SSA values defined in f.
func (f *Function) NumValues() int { return f.nextID }

// Instrs calls fn for every instruction in block order.
func (f *Function) Instrs(fn func(*Instr)) {
	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			fn(i)
		}
	}
}

// Count returns the number of instructions with op.
func (f *Function) Count(op Op) int {
	n := 0
	f.Instrs(func(i *Instr) {
		if i.Op == op {
			n++
		}
	})
	return n
}

func (f *Function) indexOf(b *Block) int {
	for i, x := range f.Blocks {
		if x == b {
			return i
		}
	}
	return -1
}

func (f *Function) newValue(t Type, def *Instr) *Value {
	v := &Value{Kind: ValueInstr, Type: t, Def: def, ID: f.nextID}
	f.nextID++
	return v
}

// Import is a host function reachable through OpCall.
type Import struct {
	Module  string
	Name    string
	Params  []Type
	Results []Type
}

// Module is the unit handed to a backend or to the evaluator. Function
// indices used by OpCall count imports first.
type Module struct {
	Name      string
	Imports   []*Import
	Functions []*Function
}

// Func returns the defined function with WebAssembly index idx, or nil
// when idx names an import.
func (m *Module) Func(idx uint32) *Function {
	n := uint32(len(m.Imports))
	if idx < n || int(idx-n) >= len(m.Functions) {
		return nil
	}
	return m.Functions[idx-n]
}

// FuncByName looks up a defined function by name.
func (m *Module) FuncByName(name string) *Function {
	for _, f := range m.Functions {
		if f != nil && f.Name == name {
			return f
		}
	}
	return nil
}
