package compiler

import (
	stderrors "errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-aot/compiler/internal/checkpoint"
	"github.com/wippyai/wasm-aot/compiler/internal/frame"
	"github.com/wippyai/wasm-aot/compiler/internal/handler"
	"github.com/wippyai/wasm-aot/compiler/internal/pgo"
	"github.com/wippyai/wasm-aot/errors"
	"github.com/wippyai/wasm-aot/ir"
	"github.com/wippyai/wasm-aot/wasm"
)

// translator compiles one function body in a single pass. Control flow,
// calls and locals are handled here because they drive the checkpoint
// hooks; every other opcode goes to the handler registry.
type translator struct {
	opts   *Options
	mod    *wasm.Module
	layout *handler.InstanceLayout
	reg    *handler.Registry
	skip   *pgo.Table
	log    *zap.Logger

	idx    uint32 // WebAssembly function index, imports first
	defIdx uint32 // index among defined functions

	b   *ir.Builder
	f   *frame.CompFrame
	ctx *handler.Context
	in  *checkpoint.Injector
	r   *handler.Reader

	ctrl    []*control
	results []frame.Type
	ret     *ir.Block
	retVals []*ir.Value
	// loop is the loop whose first body instruction is next.
	loop  *control
	start int

	stats FuncStats
}

func (t *translator) compileErr(kind errors.Kind, format string, args ...any) error {
	return errors.New(errors.PhaseCompile, kind).
		Func(t.idx).
		Offset(t.start).
		Detail(format, args...).
		Build()
}

func (t *translator) internal(format string, args ...any) error {
	return t.compileErr(errors.KindInternal, format, args...)
}

// translate compiles body into an IR function.
func (t *translator) translate(body *wasm.FuncBody) (*ir.Function, error) {
	ft := t.mod.GetFuncType(t.idx)
	if ft == nil {
		return nil, t.internal("function %d has no type", t.idx)
	}
	params, ok := frame.FromWasmList(ft.Params)
	if !ok {
		return nil, t.compileErr(errors.KindUnsupported, "unsupported parameter type")
	}
	results, ok := frame.FromWasmList(ft.Results)
	if !ok {
		return nil, t.compileErr(errors.KindUnsupported, "unsupported result type")
	}
	locals, ok := frame.FromWasmList(body.LocalTypes())
	if !ok {
		return nil, t.compileErr(errors.KindUnsupported, "unsupported local type")
	}
	t.results = results

	irParams := []ir.Type{ir.TypePtr, ir.TypePtr}
	for _, p := range params {
		irParams = append(irParams, p.IR())
	}
	irResults := make([]ir.Type, len(results))
	for i, r := range results {
		irResults[i] = r.IR()
	}
	fn := ir.NewFunction(t.mod.FuncName(t.idx), irParams, irResults)
	fn.Index = t.idx
	t.b = ir.NewBuilder(fn)

	f, err := frame.New(params, locals)
	if err != nil {
		return nil, errors.Wrap(err, errors.PhaseCompile, errors.KindUnsupported, "shadow frame")
	}
	t.f = f
	for i := 0; i < f.NumLocals(); i++ {
		lt := f.LocalType(i)
		f.Locals[i] = t.b.Alloca(lt.IR(), fmt.Sprintf("local %d", i))
		if i < len(params) {
			t.b.Store(fn.Params[2+i], f.Locals[i], 0)
		} else {
			t.b.Store(ir.Zero(lt.IR()), f.Locals[i], 0)
		}
	}

	t.ctx = handler.NewContext(t.b, f, t.mod, t.layout, fn.Params[1], t.idx)
	t.ctx.Features = t.opts.features()
	t.ctx.BoundsChecks = t.opts.BoundsChecks
	t.r = handler.NewReader(body.Code, t.idx)

	t.buildReturn()

	if t.opts.checkpointing() {
		l, err := t.opts.layout()
		if err != nil {
			return nil, err
		}
		codeBase := t.opts.CodeBase + uint64(body.CodeOffset)
		eng := checkpoint.NewEngine(t.b, f, fn.Params[0], t.opts.engineConfig(l, codeBase))
		t.in = checkpoint.NewInjector(eng)
		t.in.Prologue()
	}

	t.ctrl = []*control{{kind: ctlFunc, results: results, base: f.SP(), end: t.ret}}
	for len(t.ctrl) > 0 {
		if t.r.Done() {
			return nil, errors.New(errors.PhaseDecode, errors.KindTruncated).
				Func(t.idx).
				Offset(t.r.Pos).
				Detail("function body ends inside a block").
				Build()
		}
		if err := t.step(); err != nil {
			return nil, err
		}
	}
	if !t.r.Done() {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Func(t.idx).
			Offset(t.r.Pos).
			Detail("%d bytes after the final end", len(t.r.Code)-t.r.Pos).
			Build()
	}

	t.b.MoveBlockToEnd(t.ret)
	if exc := t.ctx.ExceptionBlock(); exc != nil {
		t.b.MoveBlockToEnd(exc)
	}
	l, err := t.opts.layout()
	if err != nil {
		return nil, err
	}
	fn.FrameSize = uint32(l.Size(f.TotalCells()))

	t.stats.FrameSize = int(fn.FrameSize)
	if t.in != nil {
		s := t.in.Stats
		t.stats.Checkpoints = s.Sites
		t.stats.LoopCheckpoints = s.LoopSites
		t.stats.BranchCheckpoints = s.BranchSites
		t.stats.Commits = s.Commits
		t.stats.Restores = s.Restores
		t.stats.Sites = append([]uint64(nil), t.in.Sites...)
	}
	if err := fn.Verify(); err != nil {
		return nil, errors.Wrap(err, errors.PhaseCompile, errors.KindInternal, "emitted function is malformed")
	}
	return fn, nil
}

// buildReturn creates the shared return block, which reads the results
// from their allocas.
func (t *translator) buildReturn() {
	b := t.b
	t.retVals = make([]*ir.Value, len(t.results))
	for i, r := range t.results {
		t.retVals[i] = b.Alloca(r.IR(), fmt.Sprintf("result %d", i))
	}
	cur := b.InsertBlock()
	t.ret = b.AppendBlock("func_return")
	b.SetInsertBlock(t.ret)
	vals := make([]*ir.Value, len(t.results))
	for i, r := range t.results {
		vals[i] = b.Load(r.IR(), t.retVals[i], 0)
	}
	b.Ret(vals...)
	b.SetInsertBlock(cur)
}

func (t *translator) top() *control { return t.ctrl[len(t.ctrl)-1] }

// label resolves a branch depth.
func (t *translator) label(depth uint32) (*control, error) {
	if int(depth) >= len(t.ctrl) {
		return nil, t.internal("branch depth %d exceeds %d labels", depth, len(t.ctrl))
	}
	return t.ctrl[len(t.ctrl)-1-int(depth)], nil
}

// step translates one instruction.
func (t *translator) step() error {
	t.start = t.r.Pos
	op, err := t.r.Byte()
	if err != nil {
		return err
	}
	if c := t.top(); c.unreachable {
		return t.skipDead(c, op)
	}
	t.stats.Instructions++

	offset := uint64(t.r.Pos)
	if t.in != nil {
		t.in.BeginInstr()
		if err := t.beforeInstr(offset); err != nil {
			return err
		}
	}

	switch op {
	case wasm.OpUnreachable:
		t.ctx.Throw(ir.TrapUnreachable)
		t.top().unreachable = true
		return nil
	case wasm.OpNop:
		return nil
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
		return t.enter(op)
	case wasm.OpElse:
		return t.elseArm()
	case wasm.OpEnd:
		return t.end()
	case wasm.OpBr:
		return t.br()
	case wasm.OpBrIf:
		return t.brIf()
	case wasm.OpBrTable:
		return t.brTable()
	case wasm.OpReturn:
		if err := t.emitReturn(); err != nil {
			return err
		}
		t.top().unreachable = true
		return nil
	case wasm.OpCall, wasm.OpReturnCall:
		return t.call(op == wasm.OpReturnCall, offset)
	case wasm.OpCallIndirect, wasm.OpReturnCallIndirect:
		return t.callIndirect(op == wasm.OpReturnCallIndirect, offset)
	case wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee:
		return t.local(op)
	}

	h := t.reg.Get(op)
	if h == nil {
		return t.internal("invalid opcode 0x%02x", op)
	}
	if err := h.Handle(t.ctx, t.r); err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) && e.Opcode == "" {
			e.Opcode = t.reg.Name(op)
		}
		return err
	}
	return nil
}

// beforeInstr runs the checkpoint hooks that precede every instruction:
// the every-instruction checkpoint and the pending loop-header one.
func (t *translator) beforeInstr(offset uint64) error {
	if t.opts.EveryCheckpoint && t.f.SP() > 0 {
		if err := t.in.Checkpoint(checkpoint.KindEvery, offset); err != nil {
			return err
		}
	}
	c := t.loop
	if c == nil {
		return nil
	}
	t.loop = nil
	if t.skip != nil && t.skip.Skip(t.defIdx, offset) {
		t.stats.PGOSkips++
		t.log.Debug("loop checkpoint suppressed",
			zap.Uint32("func_index", t.defIdx),
			zap.Uint64("ip", offset))
		return nil
	}
	if t.opts.CounterLoopCheckpoint {
		return t.in.CounterCheckpoint(c.counter, offset-1, offset)
	}
	return t.in.Checkpoint(checkpoint.KindLoop, offset)
}

// skipDead consumes an instruction of unreachable code, leaving the dead
// region at the else or end that closes the enclosing block.
func (t *translator) skipDead(c *control, op byte) error {
	switch op {
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
		c.dead++
		_, err := t.r.S33()
		return err
	case wasm.OpElse:
		if c.dead == 0 {
			return t.elseArm()
		}
		return nil
	case wasm.OpEnd:
		if c.dead == 0 {
			return t.end()
		}
		c.dead--
		return nil
	}
	return skipImmediates(t.r, op)
}

func (t *translator) blockType() ([]frame.Type, []frame.Type, error) {
	bt, err := t.r.S33()
	if err != nil {
		return nil, nil, err
	}
	wp, wr, err := t.mod.BlockType(bt)
	if err != nil {
		return nil, nil, t.internal("%v", err)
	}
	params, ok := frame.FromWasmList(wp)
	if !ok {
		return nil, nil, t.compileErr(errors.KindUnsupported, "unsupported block parameter type")
	}
	results, ok := frame.FromWasmList(wr)
	if !ok {
		return nil, nil, t.compileErr(errors.KindUnsupported, "unsupported block result type")
	}
	return params, results, nil
}

// enter opens a block, loop or if.
func (t *translator) enter(op byte) error {
	params, results, err := t.blockType()
	if err != nil {
		return err
	}
	b := t.b

	var cond *ir.Value
	if op == wasm.OpIf {
		if cond, err = t.ctx.PopCond(); err != nil {
			return err
		}
	} else if t.in != nil && t.opts.LoopCheckpoint {
		if t.opts.DisableStackCommitBeforeBlock {
			err = t.in.CommitAllDry(true)
		} else {
			err = t.in.CommitAll(true)
		}
		if err != nil {
			return err
		}
	}

	if len(params) > t.f.Height() {
		return t.internal("block takes %d params from a stack of %d", len(params), t.f.Height())
	}
	c := &control{
		params:  params,
		results: results,
		height:  t.f.Height() - len(params),
	}
	if err := t.settle(params); err != nil {
		return err
	}
	c.base = t.f.SP() - cellsOf(params)

	switch op {
	case wasm.OpBlock:
		c.kind = ctlBlock
		c.end = b.AppendBlock(fmt.Sprintf("block-%d-end", t.start))

	case wasm.OpLoop:
		c.kind = ctlLoop
		if t.in != nil && t.opts.CounterLoopCheckpoint {
			c.counter = t.in.NewCounter()
		}
		c.header = b.AppendBlock(fmt.Sprintf("loop-%d", t.start))
		c.end = b.AppendBlock(fmt.Sprintf("loop-%d-end", t.start))
		b.Br(c.header)
		b.SetInsertBlock(c.header)
		// Back edges may change locals without committing them unless
		// every local write commits eagerly.
		if !t.opts.eagerLocals() {
			t.f.MarkLocalsDirty()
		}
		for i := 0; i < len(params); i++ {
			_, cell, err := t.f.Peek(i)
			if err != nil {
				return t.internal("%v", err)
			}
			t.f.MarkDirty(cell)
		}
		if t.in != nil && t.opts.LoopCheckpoint {
			t.loop = c
		}

	case wasm.OpIf:
		c.kind = ctlIf
		then := b.AppendBlock(fmt.Sprintf("if-%d-then", t.start))
		c.alt = b.AppendBlock(fmt.Sprintf("if-%d-else", t.start))
		c.end = b.AppendBlock(fmt.Sprintf("if-%d-end", t.start))
		c.entry = t.f.DirtySet()
		b.CondBr(cond, then, c.alt)
		b.SetInsertBlock(then)
	}

	t.ctrl = append(t.ctrl, c)
	return nil
}

func cellsOf(types []frame.Type) int {
	n := 0
	for _, ty := range types {
		n += ty.Cells()
	}
	return n
}

// moveLabel stores the top len(types) operands into the storage of a
// label whose values start at cell base, converting comparison results
// to i32 where the label expects one. The shadow frame is unchanged. It
// reports whether any value moved.
func (t *translator) moveLabel(types []frame.Type, base int) (bool, error) {
	n := len(types)
	vals := make([]*ir.Value, n)
	dsts := make([]*ir.Value, n)
	moved := false
	cell := base
	for i, ty := range types {
		slot, _, err := t.f.Peek(n - 1 - i)
		if err != nil {
			return false, t.internal("%v", err)
		}
		dst := t.ctx.CellStorage(cell, ty)
		cell += ty.Cells()
		if slot.Value == dst {
			continue
		}
		v := t.b.Load(slot.Type.IR(), slot.Value, 0)
		if slot.Type == frame.TypeI1 && ty != frame.TypeI1 {
			v = t.b.ZExtBool(v)
		}
		vals[i], dsts[i] = v, dst
		moved = true
	}
	for i := range vals {
		if vals[i] != nil {
			t.b.Store(vals[i], dsts[i], 0)
		}
	}
	return moved, nil
}

// settle puts the top operands into the canonical storage of types, so
// a block's params sit where its label expects them.
func (t *translator) settle(types []frame.Type) error {
	base := t.f.SP() - cellsOf(types)
	moved, err := t.moveLabel(types, base)
	if err != nil || !moved {
		return err
	}
	t.f.Truncate(t.f.Height() - len(types))
	return t.pushLabel(types)
}

// pushLabel pushes label values that already sit in their storage.
func (t *translator) pushLabel(types []frame.Type) error {
	for _, ty := range types {
		if _, err := t.f.Push(ty, t.ctx.CellStorage(t.f.SP(), ty)); err != nil {
			return t.internal("%v", err)
		}
	}
	return nil
}

// jump ends the current block with a branch to c, carrying its label
// values.
func (t *translator) jump(c *control) error {
	if c.kind == ctlFunc {
		return t.emitReturn()
	}
	if _, err := t.moveLabel(c.labelTypes(), c.base); err != nil {
		return err
	}
	if c.kind == ctlLoop {
		t.b.Br(c.header)
		return nil
	}
	c.merge(t.f.DirtySet())
	t.b.Br(c.end)
	return nil
}

// leave ends the current block with the edge from the end of c's
// body into its continuation.
func (t *translator) leave(c *control) error {
	if c.kind == ctlFunc {
		return t.emitReturn()
	}
	if _, err := t.moveLabel(c.results, c.base); err != nil {
		return err
	}
	c.merge(t.f.DirtySet())
	t.b.Br(c.end)
	return nil
}

// elseArm closes the then arm of an if and starts the else arm from the
// state the if was entered with.
func (t *translator) elseArm() error {
	c := t.top()
	if c.kind != ctlIf || c.alt == nil {
		return t.internal("else without if")
	}
	if !c.unreachable {
		if err := t.leave(c); err != nil {
			return err
		}
	}
	return t.reopen(c)
}

// reopen resets the frame to the entry state of if c and continues in
// its false arm.
func (t *translator) reopen(c *control) error {
	t.f.Truncate(c.height)
	if err := t.pushLabel(c.params); err != nil {
		return err
	}
	t.f.SetDirty(c.entry)
	t.b.SetInsertBlock(c.alt)
	c.alt = nil
	c.unreachable = false
	c.dead = 0
	return nil
}

// end closes the innermost block. Closing the function body returns.
func (t *translator) end() error {
	c := t.top()
	if c.kind == ctlIf && c.alt != nil {
		// An if without else: the false arm passes its params through.
		if !c.unreachable {
			if err := t.leave(c); err != nil {
				return err
			}
		}
		if err := t.reopen(c); err != nil {
			return err
		}
	}
	if !c.unreachable {
		if err := t.leave(c); err != nil {
			return err
		}
	}
	t.ctrl = t.ctrl[:len(t.ctrl)-1]
	if c.kind == ctlFunc {
		return nil
	}

	b := t.b
	b.SetInsertBlock(c.end)
	t.f.Truncate(c.height)
	if err := t.pushLabel(c.results); err != nil {
		return err
	}
	if !c.reached {
		b.Trap(ir.ConstI32(int32(ir.TrapUnreachable)))
		t.top().unreachable = true
		return nil
	}
	t.f.SetDirty(c.exit)
	for i := range c.results {
		_, cell, err := t.f.Peek(i)
		if err != nil {
			return t.internal("%v", err)
		}
		t.f.MarkDirty(cell)
	}
	return nil
}

// branchHook runs before br, br_if and br_table: a branch checkpoint, or
// a plain commit when the aux dirty bit protocol is on.
func (t *translator) branchHook(offset uint64) error {
	if t.in == nil || t.in.Checkpointed() {
		return nil
	}
	if t.opts.BrCheckpoint {
		return t.in.Checkpoint(checkpoint.KindBranch, offset)
	}
	if t.opts.AuxStackDirtyBit {
		return t.in.CommitAll(false)
	}
	return nil
}

func (t *translator) br() error {
	offset := uint64(t.r.Pos)
	depth, err := t.r.U32()
	if err != nil {
		return err
	}
	c, err := t.label(depth)
	if err != nil {
		return err
	}
	if err := t.branchHook(offset); err != nil {
		return err
	}
	if err := t.jump(c); err != nil {
		return err
	}
	t.top().unreachable = true
	return nil
}

func (t *translator) brIf() error {
	offset := uint64(t.r.Pos)
	depth, err := t.r.U32()
	if err != nil {
		return err
	}
	c, err := t.label(depth)
	if err != nil {
		return err
	}
	if err := t.branchHook(offset); err != nil {
		return err
	}
	cond, err := t.ctx.PopCond()
	if err != nil {
		return err
	}
	b := t.b
	taken := b.AppendBlock(fmt.Sprintf("br_if-%d", t.start))
	cont := b.AppendBlock(fmt.Sprintf("br_if-%d-cont", t.start))
	b.CondBr(cond, taken, cont)
	b.SetInsertBlock(taken)
	if err := t.jump(c); err != nil {
		return err
	}
	b.SetInsertBlock(cont)
	return nil
}

func (t *translator) brTable() error {
	offset := uint64(t.r.Pos)
	n, err := t.r.U32()
	if err != nil {
		return err
	}
	depths := make([]uint32, 0, min(int(n)+1, len(t.r.Code)))
	for i := uint32(0); i <= n; i++ {
		d, err := t.r.U32()
		if err != nil {
			return err
		}
		depths = append(depths, d)
	}
	if err := t.branchHook(offset); err != nil {
		return err
	}
	idx, err := t.ctx.Pop(frame.TypeI32)
	if err != nil {
		return err
	}

	// One trampoline per distinct target moves that label's values.
	b := t.b
	cur := b.InsertBlock()
	targets := make(map[uint32]*ir.Block)
	trampoline := func(depth uint32) (*ir.Block, error) {
		if blk, ok := targets[depth]; ok {
			return blk, nil
		}
		c, err := t.label(depth)
		if err != nil {
			return nil, err
		}
		blk := b.AppendBlock(fmt.Sprintf("br_table-%d-%d", t.start, depth))
		b.SetInsertBlock(blk)
		err = t.jump(c)
		b.SetInsertBlock(cur)
		targets[depth] = blk
		return blk, err
	}

	def, err := trampoline(depths[n])
	if err != nil {
		return err
	}
	sw := b.Switch(idx, def)
	for i, d := range depths[:n] {
		blk, err := trampoline(d)
		if err != nil {
			return err
		}
		b.AddCase(sw, uint64(i), blk)
	}
	t.top().unreachable = true
	return nil
}

// emitReturn stores the top operands into the result allocas and jumps
// to the return block. The shadow frame is unchanged.
func (t *translator) emitReturn() error {
	n := len(t.results)
	for i, ty := range t.results {
		slot, _, err := t.f.Peek(n - 1 - i)
		if err != nil {
			return t.internal("%v", err)
		}
		v := t.b.Load(slot.Type.IR(), slot.Value, 0)
		if slot.Type == frame.TypeI1 && ty != frame.TypeI1 {
			v = t.b.ZExtBool(v)
		}
		t.b.Store(v, t.retVals[i], 0)
	}
	t.b.Br(t.ret)
	return nil
}

// popArgs pops the parameters of ft and prepends the instance pointer.
func (t *translator) popArgs(ft *wasm.FuncType) ([]*ir.Value, error) {
	params, ok := frame.FromWasmList(ft.Params)
	if !ok {
		return nil, t.compileErr(errors.KindUnsupported, "unsupported callee parameter type")
	}
	args := make([]*ir.Value, len(params)+1)
	args[0] = t.ctx.Instance
	for i := len(params) - 1; i >= 0; i-- {
		v, err := t.ctx.Pop(params[i])
		if err != nil {
			return nil, err
		}
		args[i+1] = v
	}
	return args, nil
}

func (t *translator) pushResults(ft *wasm.FuncType, vals []*ir.Value) error {
	results, ok := frame.FromWasmList(ft.Results)
	if !ok {
		return t.compileErr(errors.KindUnsupported, "unsupported callee result type")
	}
	for i, r := range results {
		if err := t.ctx.Push(r, vals[i]); err != nil {
			return err
		}
	}
	return nil
}

func irTypes(vts []wasm.ValType) []ir.Type {
	out := make([]ir.Type, 0, len(vts))
	for _, vt := range vts {
		ft, _ := frame.FromWasm(vt)
		out = append(out, ft.IR())
	}
	return out
}

// finishTail completes a tail call: the callee's results are returned.
func (t *translator) finishTail() error {
	if err := t.emitReturn(); err != nil {
		return err
	}
	t.top().unreachable = true
	return nil
}

func (t *translator) call(tail bool, offset uint64) error {
	fidx, err := t.r.U32()
	if err != nil {
		return err
	}
	if tail && !t.opts.EnableTailCall {
		return t.compileErr(errors.KindUnsupported, "return_call requires tail calls")
	}
	if t.in != nil {
		if err := t.in.Checkpoint(checkpoint.KindCall, offset); err != nil {
			return err
		}
	}
	ft := t.mod.GetFuncType(fidx)
	if ft == nil {
		return t.internal("call to unknown function %d", fidx)
	}
	args, err := t.popArgs(ft)
	if err != nil {
		return err
	}
	res := t.b.Call(fidx, t.mod.FuncName(fidx), irTypes(ft.Results), args...)
	if err := t.pushResults(ft, res); err != nil {
		return err
	}
	if tail {
		return t.finishTail()
	}
	return nil
}

// callIndirect checks the table entry and the callee's canonical type id
// before calling through the function index.
func (t *translator) callIndirect(tail bool, offset uint64) error {
	typeIdx, err := t.r.U32()
	if err != nil {
		return err
	}
	table, err := t.r.U32()
	if err != nil {
		return err
	}
	if tail && !t.opts.EnableTailCall {
		return t.compileErr(errors.KindUnsupported, "return_call_indirect requires tail calls")
	}
	if int(typeIdx) >= len(t.mod.Types) {
		return t.internal("call_indirect type %d out of range", typeIdx)
	}
	if t.in != nil {
		if err := t.in.Checkpoint(checkpoint.KindCall, offset); err != nil {
			return err
		}
	}
	ft := &t.mod.Types[typeIdx]

	elem, err := t.ctx.Pop(frame.TypeI32)
	if err != nil {
		return err
	}
	args, err := t.popArgs(ft)
	if err != nil {
		return err
	}

	b := t.b
	p, ok := t.ctx.TableElement(table, elem)
	if !ok {
		return t.internal("table %d out of range", table)
	}
	ref := b.Load(ir.TypeI32, p, 0)
	t.ctx.TrapIf(b.ICmp(ir.PredEQ, ref, ir.ConstI32(0)), ir.TrapUninitializedElement)
	fidx := b.Binary(ir.OpSub, ref, ir.ConstI32(1))

	ids := b.Load(ir.TypePtr, b.PtrAdd(t.ctx.Instance, int64(t.layout.FuncTypes)), 0)
	off := b.Binary(ir.OpMul, b.Convert(ir.OpZExt, fidx, ir.TypeI64), ir.ConstI64(4))
	id := b.Load(ir.TypeI32, b.PtrAddV(ids, off), 0)
	want := ir.ConstI32(int32(t.layout.TypeIDs[typeIdx]))
	t.ctx.TrapIf(b.ICmp(ir.PredNE, id, want), ir.TrapIndirectCallTypeMismatch)

	res := b.CallIndirect(typeIdx, irTypes(ft.Results), fidx, args...)
	if err := t.pushResults(ft, res); err != nil {
		return err
	}
	if tail {
		return t.finishTail()
	}
	return nil
}

// local translates local.get, local.set and local.tee. Writes mark the
// local dirty and, in the eager protocols, commit it at once.
func (t *translator) local(op byte) error {
	idx, err := t.r.U32()
	if err != nil {
		return err
	}
	if int(idx) >= t.f.NumLocals() {
		return t.internal("local %d out of range", idx)
	}
	ty := t.f.LocalType(int(idx))
	storage := t.f.Locals[idx]

	if op == wasm.OpLocalGet {
		return t.ctx.Push(ty, t.b.Load(ty.IR(), storage, 0))
	}
	v, err := t.ctx.Pop(ty)
	if err != nil {
		return err
	}
	t.b.Store(v, storage, 0)
	t.f.LocalSlot(int(idx)).Dirty = true
	if t.in != nil && t.opts.eagerLocals() {
		if err := t.in.CommitLocal(int(idx)); err != nil {
			return err
		}
	}
	if op == wasm.OpLocalTee {
		return t.ctx.Push(ty, v)
	}
	return nil
}
