package ir

// Op is an IR opcode.
type Op uint8

const (
	OpInvalid Op = iota

	// memory
	OpAlloca
	OpLoad
	OpStore
	OpPtrAdd

	// integer
	OpAdd
	OpSub
	OpMul
	OpDivS
	OpDivU
	OpRemS
	OpRemU
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShrS
	OpShrU
	OpRotl
	OpRotr
	OpClz
	OpCtz
	OpPopcnt

	// float
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFMin
	OpFMax
	OpFCopysign
	OpFAbs
	OpFNeg
	OpFSqrt
	OpFCeil
	OpFFloor
	OpFTrunc
	OpFNearest

	OpICmp
	OpFCmp

	// conversions
	OpZExt
	OpSExt
	OpTrunc
	OpSExtInReg
	OpFPTrunc
	OpFPExt
	OpSIToFP
	OpUIToFP
	OpFPToSI
	OpFPToUI
	OpBitcast
	OpPtrToInt
	OpIntToPtr

	OpSelect
	OpCall
	OpCallIndirect
	OpIntrinsic
	OpFence
	OpAtomicRMW
	OpCmpxchg
	OpVector

	// terminators
	OpBr
	OpCondBr
	OpSwitch
	OpRet
	OpTrap

	opCount
)

var opNames = [opCount]string{
	OpInvalid:      "invalid",
	OpAlloca:       "alloca",
	OpLoad:         "load",
	OpStore:        "store",
	OpPtrAdd:       "ptradd",
	OpAdd:          "add",
	OpSub:          "sub",
	OpMul:          "mul",
	OpDivS:         "sdiv",
	OpDivU:         "udiv",
	OpRemS:         "srem",
	OpRemU:         "urem",
	OpAnd:          "and",
	OpOr:           "or",
	OpXor:          "xor",
	OpShl:          "shl",
	OpShrS:         "sshr",
	OpShrU:         "ushr",
	OpRotl:         "rotl",
	OpRotr:         "rotr",
	OpClz:          "clz",
	OpCtz:          "ctz",
	OpPopcnt:       "popcnt",
	OpFAdd:         "fadd",
	OpFSub:         "fsub",
	OpFMul:         "fmul",
	OpFDiv:         "fdiv",
	OpFMin:         "fmin",
	OpFMax:         "fmax",
	OpFCopysign:    "fcopysign",
	OpFAbs:         "fabs",
	OpFNeg:         "fneg",
	OpFSqrt:        "sqrt",
	OpFCeil:        "ceil",
	OpFFloor:       "floor",
	OpFTrunc:       "ftrunc",
	OpFNearest:     "nearest",
	OpICmp:         "icmp",
	OpFCmp:         "fcmp",
	OpZExt:         "zext",
	OpSExt:         "sext",
	OpTrunc:        "trunc",
	OpSExtInReg:    "sextinreg",
	OpFPTrunc:      "fptrunc",
	OpFPExt:        "fpext",
	OpSIToFP:       "sitofp",
	OpUIToFP:       "uitofp",
	OpFPToSI:       "fptosi",
	OpFPToUI:       "fptoui",
	OpBitcast:      "bitcast",
	OpPtrToInt:     "ptrtoint",
	OpIntToPtr:     "inttoptr",
	OpSelect:       "select",
	OpCall:         "call",
	OpCallIndirect: "call_indirect",
	OpIntrinsic:    "intrinsic",
	OpFence:        "fence",
	OpAtomicRMW:    "atomic_rmw",
	OpCmpxchg:      "cmpxchg",
	OpVector:       "vector",
	OpBr:           "br",
	OpCondBr:       "brif",
	OpSwitch:       "switch",
	OpRet:          "ret",
	OpTrap:         "trap",
}

// String implements fmt.Stringer.
func (o Op) String() string {
	if o < opCount {
		return opNames[o]
	}
	return "invalid"
}

// IsTerminator reports whether o ends a block.
func (o Op) IsTerminator() bool {
	return o >= OpBr && o <= OpTrap
}

// Pred is a comparison predicate for OpICmp and OpFCmp.
type Pred uint8

const (
	PredEQ Pred = iota
	PredNE
	PredSLT
	PredULT
	PredSGT
	PredUGT
	PredSLE
	PredULE
	PredSGE
	PredUGE
	// float predicates are ordered except FNE, which is true for NaN.
	PredFEQ
	PredFNE
	PredFLT
	PredFGT
	PredFLE
	PredFGE
)

var predNames = [...]string{
	"eq", "ne", "slt", "ult", "sgt", "ugt", "sle", "ule", "sge", "uge",
	"feq", "fne", "flt", "fgt", "fle", "fge",
}

// String implements fmt.Stringer.
func (p Pred) String() string {
	if int(p) < len(predNames) {
		return predNames[p]
	}
	return "?"
}

// RMWOp is the operation of an atomic read-modify-write.
type RMWOp uint8

const (
	RMWAdd RMWOp = iota
	RMWSub
	RMWAnd
	RMWOr
	RMWXor
	RMWXchg
)

var rmwNames = [...]string{"add", "sub", "and", "or", "xor", "xchg"}

// String implements fmt.Stringer.
func (r RMWOp) String() string {
	if int(r) < len(rmwNames) {
		return rmwNames[r]
	}
	return "?"
}

// Case is one arm of a switch.
type Case struct {
	Target *Block
	Key    uint64
}

// Instr is a single IR instruction. Field use depends on Op:
//
//	Alloca          Type = allocated type
//	Load/Store      Type = value type, Width = access bytes when narrower, Signed for sign-extending loads
//	SExtInReg       Width = source bits
//	FPToSI/FPToUI   Sat = saturating
//	Call            Imm = function index, Name = callee name
//	CallIndirect    Imm = type index, Args[0] = function index value
//	Intrinsic       Name = intrinsic
//	Vector          Name = lane op, Imm = lane or immediate
//	Fence           Imm = checkpoint key, Resumable = a restore case exists for it
//	Br/CondBr       Targets
//	Switch          Args[0] = key, Targets[0] = default, Cases
type Instr struct {
	block   *Block
	Name    string
	Comment string
	Args    []*Value
	Results []*Value
	Targets []*Block
	Cases   []Case
	Imm     uint64
	Op      Op
	Type    Type
	Width   uint8
	Align   uint8
	Pred    Pred
	RMW     RMWOp
	Signed  bool
	Sat     bool
	Atomic  bool

	Resumable bool
}

// Block returns the block containing i.
func (i *Instr) Block() *Block { return i.block }

// Value returns the single result of i, or nil.
func (i *Instr) Value() *Value {
	if len(i.Results) == 0 {
		return nil
	}
	return i.Results[0]
}

// AccessWidth returns the number of bytes touched by a load, store or
// atomic instruction.
func (i *Instr) AccessWidth() int {
	if i.Width != 0 {
		return int(i.Width)
	}
	return i.Type.Size()
}
