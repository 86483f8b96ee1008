package ir

import "fmt"

// Builder appends instructions to a function at the current insert block.
type Builder struct {
	fn  *Function
	cur *Block
}

// NewBuilder returns a builder positioned at the function's entry block.
func NewBuilder(fn *Function) *Builder {
	return &Builder{fn: fn, cur: fn.Entry()}
}

// Function returns the function being built.
func (b *Builder) Function() *Function { return b.fn }

// InsertBlock returns the current insert block.
func (b *Builder) InsertBlock() *Block { return b.cur }

// SetInsertBlock moves the insert point to the end of blk.
func (b *Builder) SetInsertBlock(blk *Block) {
	if blk.fn != b.fn {
		panic(fmt.Sprintf("BUG: block %q belongs to another function", blk.Name))
	}
	b.cur = blk
}

// AppendBlock creates a block at the end of the block list.
func (b *Builder) AppendBlock(name string) *Block {
	blk := &Block{fn: b.fn, Name: name}
	b.fn.Blocks = append(b.fn.Blocks, blk)
	return blk
}

// MoveBlockAfter places blk directly after the block after.
func (b *Builder) MoveBlockAfter(blk, after *Block) {
	if blk == after {
		return
	}
	b.remove(blk)
	at := b.fn.indexOf(after)
	if at < 0 {
		panic(fmt.Sprintf("BUG: block %q not in function", after.Name))
	}
	blocks := b.fn.Blocks
	blocks = append(blocks, nil)
	copy(blocks[at+2:], blocks[at+1:])
	blocks[at+1] = blk
	b.fn.Blocks = blocks
}

// MoveBlockToEnd places blk last.
func (b *Builder) MoveBlockToEnd(blk *Block) {
	b.remove(blk)
	b.fn.Blocks = append(b.fn.Blocks, blk)
}

func (b *Builder) remove(blk *Block) {
	i := b.fn.indexOf(blk)
	if i < 0 {
		panic(fmt.Sprintf("BUG: block %q not in function", blk.Name))
	}
	if i == 0 {
		panic("BUG: cannot move the entry block")
	}
	b.fn.Blocks = append(b.fn.Blocks[:i], b.fn.Blocks[i+1:]...)
}

func (b *Builder) emit(i *Instr) *Instr {
	if b.cur.Terminated() {
		panic(fmt.Sprintf("BUG: %s appended after terminator in %q", i.Op, b.cur.Name))
	}
	i.block = b.cur
	b.cur.Instrs = append(b.cur.Instrs, i)
	return i
}

func (b *Builder) emitValue(i *Instr, t Type) *Value {
	v := b.fn.newValue(t, i)
	i.Results = []*Value{v}
	b.emit(i)
	return v
}

// Alloca reserves a zero-initialized stack slot of type t. Allocas are
// grouped at the start of the entry block regardless of the insert point.
func (b *Builder) Alloca(t Type, comment string) *Value {
	i := &Instr{Op: OpAlloca, Type: t, Comment: comment}
	v := b.fn.newValue(TypePtr, i)
	i.Results = []*Value{v}
	entry := b.fn.Entry()
	i.block = entry
	n := 0
	for n < len(entry.Instrs) && entry.Instrs[n].Op == OpAlloca {
		n++
	}
	entry.Instrs = append(entry.Instrs, nil)
	copy(entry.Instrs[n+1:], entry.Instrs[n:])
	entry.Instrs[n] = i
	return v
}

// AllocaInit allocates like Alloca and stores the constant init into the
// slot in the entry block, after the allocas and before anything else, so
// every path through the function sees it initialized.
func (b *Builder) AllocaInit(t Type, init *Value, comment string) *Value {
	if !init.IsConst() {
		panic(fmt.Sprintf("BUG: non-constant initializer %s for %s", init, comment))
	}
	v := b.Alloca(t, comment)
	entry := b.fn.Entry()
	n := 0
	for n < len(entry.Instrs) && entry.Instrs[n].Op == OpAlloca {
		n++
	}
	st := &Instr{Op: OpStore, Type: init.Type, Args: []*Value{init, v}, block: entry}
	entry.Instrs = append(entry.Instrs, nil)
	copy(entry.Instrs[n+1:], entry.Instrs[n:])
	entry.Instrs[n] = st
	return v
}

// PtrAdd offsets p by a constant number of bytes.
func (b *Builder) PtrAdd(p *Value, off int64) *Value {
	if off == 0 {
		return p
	}
	return b.PtrAddV(p, ConstI64(off))
}

// PtrAddV offsets p by an i64 (or i32, zero-extended) byte count.
func (b *Builder) PtrAddV(p, off *Value) *Value {
	return b.emitValue(&Instr{Op: OpPtrAdd, Args: []*Value{p, off}}, TypePtr)
}

// Load reads a value of type t.
func (b *Builder) Load(t Type, p *Value, align uint8) *Value {
	return b.emitValue(&Instr{Op: OpLoad, Type: t, Args: []*Value{p}, Align: align}, t)
}

// LoadN reads width bytes and extends them to t.
func (b *Builder) LoadN(t Type, p *Value, width uint8, signed bool, align uint8) *Value {
	return b.emitValue(&Instr{Op: OpLoad, Type: t, Width: width, Signed: signed, Args: []*Value{p}, Align: align}, t)
}

// AtomicLoad is a sequentially consistent load of width bytes.
func (b *Builder) AtomicLoad(t Type, p *Value, width uint8) *Value {
	return b.emitValue(&Instr{Op: OpLoad, Type: t, Width: width, Atomic: true, Args: []*Value{p}, Align: width}, t)
}

// Store writes v.
func (b *Builder) Store(v, p *Value, align uint8) *Instr {
	return b.emit(&Instr{Op: OpStore, Type: v.Type, Args: []*Value{v, p}, Align: align})
}

// StoreN writes the low width bytes of v.
func (b *Builder) StoreN(v, p *Value, width, align uint8) *Instr {
	return b.emit(&Instr{Op: OpStore, Type: v.Type, Width: width, Args: []*Value{v, p}, Align: align})
}

// AtomicStore is a sequentially consistent store of width bytes.
func (b *Builder) AtomicStore(v, p *Value, width uint8) *Instr {
	return b.emit(&Instr{Op: OpStore, Type: v.Type, Width: width, Atomic: true, Args: []*Value{v, p}, Align: width})
}

// Binary emits a two-operand arithmetic op. The result has x's type.
func (b *Builder) Binary(op Op, x, y *Value) *Value {
	return b.emitValue(&Instr{Op: op, Type: x.Type, Args: []*Value{x, y}}, x.Type)
}

// Unary emits a one-operand arithmetic op.
func (b *Builder) Unary(op Op, x *Value) *Value {
	return b.emitValue(&Instr{Op: op, Type: x.Type, Args: []*Value{x}}, x.Type)
}

// ICmp compares integers and yields an I1.
func (b *Builder) ICmp(p Pred, x, y *Value) *Value {
	return b.emitValue(&Instr{Op: OpICmp, Pred: p, Type: x.Type, Args: []*Value{x, y}}, TypeI1)
}

// FCmp compares floats and yields an I1.
func (b *Builder) FCmp(p Pred, x, y *Value) *Value {
	return b.emitValue(&Instr{Op: OpFCmp, Pred: p, Type: x.Type, Args: []*Value{x, y}}, TypeI1)
}

// Convert emits a conversion of x to type to.
func (b *Builder) Convert(op Op, x *Value, to Type) *Value {
	return b.emitValue(&Instr{Op: op, Type: to, Args: []*Value{x}}, to)
}

// ConvertSat emits a saturating float-to-int conversion.
func (b *Builder) ConvertSat(op Op, x *Value, to Type) *Value {
	return b.emitValue(&Instr{Op: op, Type: to, Sat: true, Args: []*Value{x}}, to)
}

// SExtInReg sign-extends the low bits of x in place.
func (b *Builder) SExtInReg(x *Value, bits uint8) *Value {
	return b.emitValue(&Instr{Op: OpSExtInReg, Type: x.Type, Width: bits, Args: []*Value{x}}, x.Type)
}

// Select yields x when c is true, else y.
func (b *Builder) Select(c, x, y *Value) *Value {
	return b.emitValue(&Instr{Op: OpSelect, Type: x.Type, Args: []*Value{c, x, y}}, x.Type)
}

// ZExtBool widens an I1 to I32.
func (b *Builder) ZExtBool(c *Value) *Value {
	return b.Convert(OpZExt, c, TypeI32)
}

// Br jumps to target.
func (b *Builder) Br(target *Block) *Instr {
	return b.emit(&Instr{Op: OpBr, Targets: []*Block{target}})
}

// CondBr jumps to then when c is true, else to els.
func (b *Builder) CondBr(c *Value, then, els *Block) *Instr {
	return b.emit(&Instr{Op: OpCondBr, Args: []*Value{c}, Targets: []*Block{then, els}})
}

// Switch emits a multi-way branch on key. Cases are added with AddCase.
func (b *Builder) Switch(key *Value, def *Block) *Instr {
	return b.emit(&Instr{Op: OpSwitch, Args: []*Value{key}, Targets: []*Block{def}})
}

// AddCase registers key -> target on sw.
func (b *Builder) AddCase(sw *Instr, key uint64, target *Block) {
	if sw.Op != OpSwitch {
		panic("BUG: AddCase on " + sw.Op.String())
	}
	sw.Cases = append(sw.Cases, Case{Key: key, Target: target})
}

// Ret returns vals from the function.
func (b *Builder) Ret(vals ...*Value) *Instr {
	return b.emit(&Instr{Op: OpRet, Args: vals})
}

// Trap aborts execution with the given i32 trap code.
func (b *Builder) Trap(code *Value) *Instr {
	return b.emit(&Instr{Op: OpTrap, Args: []*Value{code}})
}

func (b *Builder) emitResults(i *Instr, results []Type) []*Value {
	out := make([]*Value, len(results))
	for k, t := range results {
		out[k] = b.fn.newValue(t, i)
	}
	i.Results = out
	b.emit(i)
	return out
}

// Call calls the function with index idx.
func (b *Builder) Call(idx uint32, name string, results []Type, args ...*Value) []*Value {
	return b.emitResults(&Instr{Op: OpCall, Imm: uint64(idx), Name: name, Args: args}, results)
}

// CallIndirect calls the function whose index is fidx. The caller has
// already checked the signature against typeIdx.
func (b *Builder) CallIndirect(typeIdx uint32, results []Type, fidx *Value, args ...*Value) []*Value {
	all := append([]*Value{fidx}, args...)
	return b.emitResults(&Instr{Op: OpCallIndirect, Imm: uint64(typeIdx), Args: all}, results)
}

// Intrinsic calls a runtime helper by name.
func (b *Builder) Intrinsic(name string, results []Type, args ...*Value) []*Value {
	return b.emitResults(&Instr{Op: OpIntrinsic, Name: name, Args: args}, results)
}

// Fence emits an inert marker tagged with a checkpoint key. The caller
// marks it Resumable once the key has a restore case.
func (b *Builder) Fence(key uint64) *Instr {
	return b.emit(&Instr{Op: OpFence, Imm: key})
}

// AtomicRMW performs an atomic read-modify-write of width bytes and yields
// the old value extended to v's type.
func (b *Builder) AtomicRMW(op RMWOp, p, v *Value, width uint8) *Value {
	return b.emitValue(&Instr{Op: OpAtomicRMW, RMW: op, Type: v.Type, Width: width, Args: []*Value{p, v}, Align: width}, v.Type)
}

// Cmpxchg atomically replaces the value at p with repl if it equals expected
// and yields the old value.
func (b *Builder) Cmpxchg(p, expected, repl *Value, width uint8) *Value {
	return b.emitValue(&Instr{Op: OpCmpxchg, Type: repl.Type, Width: width, Args: []*Value{p, expected, repl}, Align: width}, repl.Type)
}

// Vector emits a lane-wise operation named like the WebAssembly mnemonic.
func (b *Builder) Vector(name string, t Type, imm uint64, args ...*Value) *Value {
	return b.emitValue(&Instr{Op: OpVector, Name: name, Type: t, Imm: imm, Args: args}, t)
}
