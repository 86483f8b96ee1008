package compiler

import (
	"github.com/wippyai/wasm-aot/compiler/internal/frame"
	"github.com/wippyai/wasm-aot/ir"
)

type ctlKind uint8

const (
	ctlFunc ctlKind = iota
	ctlBlock
	ctlLoop
	ctlIf
)

// control is one entry of the control stack.
//
// Label values travel through stack storage: a branch stores the values
// it carries into the cells the label's values occupy, starting at base,
// so every edge into a join leaves them in the same allocas.
type control struct {
	kind    ctlKind
	params  []frame.Type
	results []frame.Type
	// height is the operand stack height below the block's params.
	height int
	base   int

	header *ir.Block // loop header, target of a loop label
	end    *ir.Block // continuation after the block
	alt    *ir.Block // false arm of an if until else is seen

	// entry is the dirty set on entry, restored for the else arm.
	entry *frame.BitSet
	// exit accumulates the dirty sets of the edges into end.
	exit    *frame.BitSet
	reached bool

	// unreachable marks the rest of the block as dead; dead counts the
	// nesting of blocks opened inside the dead region.
	unreachable bool
	dead        int

	counter *ir.Value
}

// labelTypes returns the types a branch to c carries.
func (c *control) labelTypes() []frame.Type {
	if c.kind == ctlLoop {
		return c.params
	}
	return c.results
}

// merge records an edge into c's end with dirty set s.
func (c *control) merge(s *frame.BitSet) {
	c.reached = true
	if c.exit == nil {
		c.exit = s.Clone()
		return
	}
	c.exit.Union(s)
}
