package ir

import (
	"fmt"
	"strings"
)

// Format returns the textual form of the function. The output is
// deterministic for a given build sequence.
func (f *Function) Format() string {
	var sb strings.Builder
	sb.WriteString("func ")
	sb.WriteString(f.Name)
	sb.WriteByte('(')
	for i, p := range f.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "v%d:%s", p.ID, p.Type)
	}
	sb.WriteByte(')')
	if len(f.Results) > 0 {
		sb.WriteString(" -> ")
		for i, t := range f.Results {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(t.String())
		}
	}
	if f.FrameSize > 0 {
		fmt.Fprintf(&sb, " frame=%d", f.FrameSize)
	}
	sb.WriteString(" {\n")
	for _, b := range f.Blocks {
		sb.WriteString(b.Name)
		sb.WriteString(":\n")
		for _, i := range b.Instrs {
			sb.WriteByte('\t')
			sb.WriteString(i.String())
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

// Format returns the textual form of every function in the module.
func (m *Module) Format() string {
	var sb strings.Builder
	for _, imp := range m.Imports {
		fmt.Fprintf(&sb, "import %s.%s%s\n", imp.Module, imp.Name, sigString(imp.Params, imp.Results))
	}
	for _, f := range m.Functions {
		if f == nil {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(f.Format())
	}
	return sb.String()
}

func sigString(params, results []Type) string {
	ps := make([]string, len(params))
	for i, t := range params {
		ps[i] = t.String()
	}
	rs := make([]string, len(results))
	for i, t := range results {
		rs[i] = t.String()
	}
	return "(" + strings.Join(ps, ", ") + ") -> (" + strings.Join(rs, ", ") + ")"
}

// String implements fmt.Stringer.
func (i *Instr) String() string {
	var sb strings.Builder
	if len(i.Results) > 0 {
		for k, r := range i.Results {
			if k > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "v%d:%s", r.ID, r.Type)
		}
		sb.WriteString(" = ")
	}
	sb.WriteString(i.Op.String())

	switch i.Op {
	case OpAlloca:
		sb.WriteByte(' ')
		sb.WriteString(i.Type.String())
	case OpLoad:
		if i.Atomic {
			sb.WriteString(".atomic")
		}
		if i.Width != 0 {
			if i.Signed {
				fmt.Fprintf(&sb, ".s%d", i.Width*8)
			} else {
				fmt.Fprintf(&sb, ".u%d", i.Width*8)
			}
		}
	case OpStore:
		if i.Atomic {
			sb.WriteString(".atomic")
		}
		if i.Width != 0 {
			fmt.Fprintf(&sb, "%d", i.Width*8)
		}
	case OpICmp, OpFCmp:
		sb.WriteByte(' ')
		sb.WriteString(i.Pred.String())
	case OpSExtInReg:
		fmt.Fprintf(&sb, ".%d", i.Width)
	case OpFPToSI, OpFPToUI:
		if i.Sat {
			sb.WriteString(".sat")
		}
	case OpCall:
		fmt.Fprintf(&sb, " %s#%d", i.Name, i.Imm)
	case OpCallIndirect:
		fmt.Fprintf(&sb, " type%d", i.Imm)
	case OpIntrinsic, OpVector:
		sb.WriteByte(' ')
		sb.WriteString(i.Name)
		if i.Op == OpVector && i.Imm != 0 {
			fmt.Fprintf(&sb, "[%d]", i.Imm)
		}
	case OpFence:
		fmt.Fprintf(&sb, " %d", i.Imm)
		if i.Resumable {
			sb.WriteString(" resumable")
		}
	case OpAtomicRMW:
		fmt.Fprintf(&sb, ".%s%d", i.RMW, i.AccessWidth()*8)
	case OpCmpxchg:
		fmt.Fprintf(&sb, "%d", i.AccessWidth()*8)
	}

	for k, a := range i.Args {
		if k == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(a.String())
	}

	switch i.Op {
	case OpBr:
		sb.WriteByte(' ')
		sb.WriteString(i.Targets[0].Name)
	case OpCondBr:
		fmt.Fprintf(&sb, ", %s, %s", i.Targets[0].Name, i.Targets[1].Name)
	case OpSwitch:
		fmt.Fprintf(&sb, ", default %s", i.Targets[0].Name)
		for _, c := range i.Cases {
			fmt.Fprintf(&sb, ", %d: %s", c.Key, c.Target.Name)
		}
	case OpLoad, OpStore:
		if i.Align != 0 {
			fmt.Fprintf(&sb, ", align %d", i.Align)
		}
	case OpPtrAdd, OpZExt, OpSExt, OpTrunc, OpFPTrunc, OpFPExt, OpSIToFP, OpUIToFP,
		OpFPToSI, OpFPToUI, OpBitcast, OpPtrToInt, OpIntToPtr:
		if i.Op != OpPtrAdd {
			sb.WriteString(" to ")
			sb.WriteString(i.Type.String())
		}
	}

	if i.Comment != "" {
		sb.WriteString(" ; ")
		sb.WriteString(i.Comment)
	}
	return sb.String()
}
