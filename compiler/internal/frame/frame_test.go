package frame

import (
	"testing"

	"github.com/wippyai/wasm-aot/ir"
)

func TestNew_LocalLayout(t *testing.T) {
	f, err := New([]Type{TypeI32, TypeI64}, []Type{TypeV128, TypeF32})
	if err != nil {
		t.Fatal(err)
	}
	wantCells := []int{0, 1, 3, 7}
	for i, want := range wantCells {
		if got := f.LocalCell(i); got != want {
			t.Errorf("local %d cell = %d, want %d", i, got, want)
		}
		if !f.LocalSlot(i).Dirty {
			t.Errorf("local %d should start dirty", i)
		}
	}
	if f.LocalCells != 8 || f.SP() != 8 {
		t.Errorf("LocalCells = %d, SP = %d", f.LocalCells, f.SP())
	}
	if f.Slots[2].Type != TypeVoid || f.Slots[4].Type != TypeVoid {
		t.Error("continuation cells must be placeholders")
	}
}

func TestNew_RejectsVoid(t *testing.T) {
	if _, err := New([]Type{TypeVoid}, nil); err == nil {
		t.Error("expected error for void local")
	}
}

func TestCompFrame_PushPop(t *testing.T) {
	f, _ := New([]Type{TypeI32}, nil)
	storage := ir.Zero(ir.TypePtr)

	steps := []struct {
		typ  Type
		cell int
		sp   int
	}{
		{TypeI64, 1, 3},
		{TypeV128, 3, 7},
		{TypeI1, 7, 8},
	}
	for _, s := range steps {
		cell, err := f.Push(s.typ, storage)
		if err != nil {
			t.Fatal(err)
		}
		if cell != s.cell || f.SP() != s.sp {
			t.Errorf("push %s: cell %d sp %d, want %d %d", s.typ, cell, f.SP(), s.cell, s.sp)
		}
	}
	if f.MaxStackCells != 7 || f.TotalCells() != 1+7+SafetyCells {
		t.Errorf("MaxStackCells = %d, TotalCells = %d", f.MaxStackCells, f.TotalCells())
	}

	slot, cell, err := f.Pop()
	if err != nil || slot.Type != TypeI1 || cell != 7 {
		t.Fatalf("pop: %v %d %v", slot, cell, err)
	}
	if f.SP() != 7 || f.Height() != 2 {
		t.Errorf("after pop: sp %d height %d", f.SP(), f.Height())
	}

	f.Truncate(0)
	if f.SP() != 1 || f.Height() != 0 {
		t.Errorf("after truncate: sp %d height %d", f.SP(), f.Height())
	}
	if _, _, err := f.Pop(); err == nil {
		t.Error("expected underflow")
	}
	if f.MaxStackCells != 7 {
		t.Error("high water mark must survive pops")
	}
}

func TestCursor_CellWidthConservation(t *testing.T) {
	f, _ := New([]Type{TypeF64, TypeI32}, []Type{TypeV128})
	for _, typ := range []Type{TypeI32, TypeF64, TypeV128, TypeI64, TypeFuncRef} {
		if _, err := f.Push(typ, nil); err != nil {
			t.Fatal(err)
		}
	}

	var strides []int
	var locals int
	consumed := 0
	cur := f.Cursor()
	for !cur.Done() {
		if cur.IsLocal() {
			locals++
		}
		before := cur.Cell
		if err := cur.Advance(); err != nil {
			t.Fatal(err)
		}
		strides = append(strides, cur.Cell-before)
		consumed += cur.Cell - before
	}
	want := []int{2, 1, 4, 1, 2, 4, 2, 1}
	if len(strides) != len(want) {
		t.Fatalf("strides %v, want %v", strides, want)
	}
	for i := range want {
		if strides[i] != want[i] {
			t.Errorf("stride %d = %d, want %d", i, strides[i], want[i])
		}
	}
	if consumed != f.SP() {
		t.Errorf("consumed %d cells, sp is %d", consumed, f.SP())
	}
	if locals != 3 || cur.Index != 8 {
		t.Errorf("locals %d, index %d", locals, cur.Index)
	}
}

func TestCursor_UnknownType(t *testing.T) {
	f, _ := New([]Type{TypeI32}, nil)
	f.Slots[0].Type = Type(99)
	cur := f.Cursor()
	if err := cur.Advance(); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestCompFrame_DirtySnapshot(t *testing.T) {
	f, _ := New([]Type{TypeI32, TypeI64}, nil)
	f.Push(TypeF64, nil)
	f.LocalSlot(0).Dirty = false

	snap := f.DirtySet()
	if got := snap.ToSlice(); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("snapshot = %v", got)
	}

	f.LocalSlot(1).Dirty = false
	f.Slots[3].Dirty = false
	f.SetDirty(snap)
	if !f.LocalSlot(1).Dirty || !f.Slots[3].Dirty || f.LocalSlot(0).Dirty {
		t.Error("SetDirty did not restore snapshot")
	}

	f.MarkLocalsDirty()
	if !f.LocalSlot(0).Dirty {
		t.Error("MarkLocalsDirty missed local 0")
	}
}

func TestLayoutFor(t *testing.T) {
	tests := []struct {
		jit  bool
		ptr  int
		want Layout
		err  bool
	}{
		{false, 8, AOTFrame64, false},
		{false, 4, AOTFrame32, false},
		{true, 8, InterpFrame64, false},
		{true, 4, InterpFrame32, false},
		{false, 2, Layout{}, true},
	}
	for _, tt := range tests {
		got, err := LayoutFor(tt.jit, tt.ptr)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("LayoutFor(%v, %d) = %+v, %v", tt.jit, tt.ptr, got, err)
		}
	}
	if AOTFrame64.OffsetOfLocal(3) != 56+12 {
		t.Errorf("OffsetOfLocal(3) = %d", AOTFrame64.OffsetOfLocal(3))
	}
	if AOTFrame64.Size(10) != 96 {
		t.Errorf("Size(10) = %d", AOTFrame64.Size(10))
	}
}

func TestLayout_HeaderOffsets(t *testing.T) {
	tests := []struct {
		l                 Layout
		ip, sp, cells, lp int
	}{
		{AOTFrame64, 32, 40, 56, 64},
		{AOTFrame32, 16, 20, 28, 36},
		{InterpFrame64, 16, 40, 72, 80},
		{InterpFrame32, 8, 20, 36, 44},
	}
	for _, tt := range tests {
		if tt.l.IPOffset != tt.ip || tt.l.SPOffset != tt.sp || tt.l.CellsOffset != tt.cells {
			t.Errorf("%s: ip %d sp %d cells %d, want %d %d %d",
				tt.l.Name, tt.l.IPOffset, tt.l.SPOffset, tt.l.CellsOffset, tt.ip, tt.sp, tt.cells)
		}
		// sp is a pointer-sized field ahead of the cells.
		if tt.l.SPOffset+tt.l.PointerSize > tt.l.CellsOffset {
			t.Errorf("%s: sp overlaps the value cells", tt.l.Name)
		}
		if got := tt.l.OffsetOfLocal(2); got != tt.lp {
			t.Errorf("%s: OffsetOfLocal(2) = %d, want %d", tt.l.Name, got, tt.lp)
		}
	}
}

func TestFromWasm(t *testing.T) {
	for _, vt := range []byte{0x7F, 0x7E, 0x7D, 0x7C, 0x7B, 0x70, 0x6F} {
		typ, ok := FromWasm(wasmType(vt))
		if !ok || typ.Cells() == 0 || typ.IR() == ir.TypeVoid {
			t.Errorf("FromWasm(%#x) = %v %v", vt, typ, ok)
		}
	}
	if _, ok := FromWasm(wasmType(0x40)); ok {
		t.Error("0x40 is not a value type")
	}
}
