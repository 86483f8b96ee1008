package ir

import (
	"errors"
	"fmt"
)

// Verify checks structural well-formedness: every block ends with exactly
// one terminator, branch targets belong to the function and switch keys
// are unique.
func (f *Function) Verify() error {
	if len(f.Blocks) == 0 {
		return errors.New("function has no blocks")
	}
	owned := make(map[*Block]bool, len(f.Blocks))
	for _, b := range f.Blocks {
		if owned[b] {
			return fmt.Errorf("block %q listed twice", b.Name)
		}
		owned[b] = true
	}

	for _, b := range f.Blocks {
		if !b.Terminated() {
			return fmt.Errorf("block %q is not terminated", b.Name)
		}
		for k, i := range b.Instrs {
			if i.Op.IsTerminator() && k != len(b.Instrs)-1 {
				return fmt.Errorf("block %q: %s in the middle of the block", b.Name, i.Op)
			}
			for _, a := range i.Args {
				if a == nil {
					return fmt.Errorf("block %q: %s has a nil operand", b.Name, i.Op)
				}
			}
		}

		t := b.Terminator()
		for _, s := range t.Targets {
			if !owned[s] {
				return fmt.Errorf("block %q branches to foreign block %q", b.Name, s.Name)
			}
		}
		if t.Op == OpSwitch {
			keys := make(map[uint64]bool, len(t.Cases))
			for _, c := range t.Cases {
				if keys[c.Key] {
					return fmt.Errorf("block %q: duplicate switch key %d", b.Name, c.Key)
				}
				keys[c.Key] = true
				if !owned[c.Target] {
					return fmt.Errorf("block %q: switch case %d targets foreign block %q", b.Name, c.Key, c.Target.Name)
				}
			}
		}
		if t.Op == OpRet && len(t.Args) != len(f.Results) {
			return fmt.Errorf("block %q returns %d values, want %d", b.Name, len(t.Args), len(f.Results))
		}
	}
	return nil
}

// Verify checks every function of the module.
func (m *Module) Verify() error {
	for _, f := range m.Functions {
		if f == nil {
			continue
		}
		if err := f.Verify(); err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
	}
	return nil
}
