package code

import "fmt"

// Opcode identifies an instruction.
type Opcode byte

const (
	OpNop Opcode = iota
	OpUnreachable
	OpI32Const
	OpI64Const
	OpF32Const
	OpF64Const
	OpRefNull
	OpStrConst
	OpLocalGet
	OpLocalSet
	OpDup
	OpPop
	OpSwap

	OpI32Add
	OpI32Sub
	OpI32Mul
	OpI32DivS
	OpI32RemS
	OpI32Eq
	OpI32Ne
	OpI32LtS
	OpI32GtS
	OpI32LeS
	OpI32GeS
	OpI32Eqz
	OpI64Add
	OpI64Sub
	OpI64Mul
	OpF32Add
	OpF32Mul
	OpF64Add
	OpF64Sub
	OpF64Mul
	OpF64Div
	OpI64ExtendI32S
	OpI32WrapI64
	OpF64ConvertI32S
	OpI32TruncF64S
	OpF32DemoteF64
	OpF64PromoteF32

	OpRefEq
	OpRefIsNull
	OpConcat
	OpToStr

	OpJump
	OpJumpIf
	OpReturn
	OpThrow

	OpCall
	OpFuncRef
	OpCallRef
	OpNew
	OpInit
	OpGetField

	// Frame opcodes, valid only in resumable procedures.
	OpDispatch
	OpSlotLoad
	OpSlotStore
	OpSlotClear
	OpUnwind
	OpResult
	OpSkipSignal
	OpSkipWind
	OpCheckWind

	opCount
)

// ImmKind describes the immediate carried by an opcode.
type ImmKind byte

const (
	ImmNone ImmKind = iota
	ImmI32
	ImmI64
	ImmF32
	ImmF64
	ImmStr
	ImmLocal
	ImmBranch
	ImmCall
	ImmFunc
	ImmSig
	ImmClass
	ImmInit
	ImmField
	ImmDispatch
	ImmSlot
	ImmState
	ImmType
)

// OpInfo is static opcode metadata.
type OpInfo struct {
	Name      string
	Imm       ImmKind
	FrameOnly bool
}

var opInfo = [opCount]OpInfo{
	OpNop:         {Name: "nop"},
	OpUnreachable: {Name: "unreachable"},
	OpI32Const:    {Name: "i32.const", Imm: ImmI32},
	OpI64Const:    {Name: "i64.const", Imm: ImmI64},
	OpF32Const:    {Name: "f32.const", Imm: ImmF32},
	OpF64Const:    {Name: "f64.const", Imm: ImmF64},
	OpRefNull:     {Name: "ref.null"},
	OpStrConst:    {Name: "str.const", Imm: ImmStr},
	OpLocalGet:    {Name: "local.get", Imm: ImmLocal},
	OpLocalSet:    {Name: "local.set", Imm: ImmLocal},
	OpDup:         {Name: "dup"},
	OpPop:         {Name: "pop"},
	OpSwap:        {Name: "swap"},

	OpI32Add:         {Name: "i32.add"},
	OpI32Sub:         {Name: "i32.sub"},
	OpI32Mul:         {Name: "i32.mul"},
	OpI32DivS:        {Name: "i32.div_s"},
	OpI32RemS:        {Name: "i32.rem_s"},
	OpI32Eq:          {Name: "i32.eq"},
	OpI32Ne:          {Name: "i32.ne"},
	OpI32LtS:         {Name: "i32.lt_s"},
	OpI32GtS:         {Name: "i32.gt_s"},
	OpI32LeS:         {Name: "i32.le_s"},
	OpI32GeS:         {Name: "i32.ge_s"},
	OpI32Eqz:         {Name: "i32.eqz"},
	OpI64Add:         {Name: "i64.add"},
	OpI64Sub:         {Name: "i64.sub"},
	OpI64Mul:         {Name: "i64.mul"},
	OpF32Add:         {Name: "f32.add"},
	OpF32Mul:         {Name: "f32.mul"},
	OpF64Add:         {Name: "f64.add"},
	OpF64Sub:         {Name: "f64.sub"},
	OpF64Mul:         {Name: "f64.mul"},
	OpF64Div:         {Name: "f64.div"},
	OpI64ExtendI32S:  {Name: "i64.extend_i32_s"},
	OpI32WrapI64:     {Name: "i32.wrap_i64"},
	OpF64ConvertI32S: {Name: "f64.convert_i32_s"},
	OpI32TruncF64S:   {Name: "i32.trunc_f64_s"},
	OpF32DemoteF64:   {Name: "f32.demote_f64"},
	OpF64PromoteF32:  {Name: "f64.promote_f32"},

	OpRefEq:     {Name: "ref.eq"},
	OpRefIsNull: {Name: "ref.is_null"},
	OpConcat:    {Name: "concat"},
	OpToStr:     {Name: "to_str"},

	OpJump:   {Name: "jump", Imm: ImmBranch},
	OpJumpIf: {Name: "jump_if", Imm: ImmBranch},
	OpReturn: {Name: "return"},
	OpThrow:  {Name: "throw"},

	OpCall:     {Name: "call", Imm: ImmCall},
	OpFuncRef:  {Name: "func.ref", Imm: ImmFunc},
	OpCallRef:  {Name: "call_ref", Imm: ImmSig},
	OpNew:      {Name: "new", Imm: ImmClass},
	OpInit:     {Name: "init", Imm: ImmInit},
	OpGetField: {Name: "get_field", Imm: ImmField},

	OpDispatch:   {Name: "dispatch", Imm: ImmDispatch, FrameOnly: true},
	OpSlotLoad:   {Name: "slot.load", Imm: ImmSlot, FrameOnly: true},
	OpSlotStore:  {Name: "slot.store", Imm: ImmSlot, FrameOnly: true},
	OpSlotClear:  {Name: "slot.clear", Imm: ImmSlot, FrameOnly: true},
	OpUnwind:     {Name: "unwind", Imm: ImmState, FrameOnly: true},
	OpResult:     {Name: "result", Imm: ImmType, FrameOnly: true},
	OpSkipSignal: {Name: "skip.signal", FrameOnly: true},
	OpSkipWind:   {Name: "skip.wind", FrameOnly: true},
	OpCheckWind:  {Name: "check.wind", FrameOnly: true},
}

var opByName = func() map[string]Opcode {
	m := make(map[string]Opcode, opCount)
	for op := Opcode(0); op < opCount; op++ {
		m[opInfo[op].Name] = op
	}
	return m
}()

// Info returns metadata for the opcode.
func (op Opcode) Info() (OpInfo, bool) {
	if op >= opCount {
		return OpInfo{}, false
	}
	return opInfo[op], true
}

func (op Opcode) String() string {
	if op >= opCount {
		return fmt.Sprintf("op(0x%02x)", byte(op))
	}
	return opInfo[op].Name
}

// LookupOpcode finds an opcode by its textual name.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opByName[name]
	return op, ok
}

// Instruction is one decoded instruction.
type Instruction struct {
	Imm    any
	Opcode Opcode
}

// I32Imm holds the constant for i32.const.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant for i64.const.
type I64Imm struct {
	Value int64
}

// F32Imm holds the constant for f32.const.
type F32Imm struct {
	Value float32
}

// F64Imm holds the constant for f64.const.
type F64Imm struct {
	Value float64
}

// StrImm holds the constant for str.const.
type StrImm struct {
	Value string
}

// LocalImm holds the local index for local.get and local.set.
type LocalImm struct {
	Index uint32
}

// BranchImm holds the target instruction index of a jump.
type BranchImm struct {
	Target int
}

// CallImm names a direct call target and its signature.
type CallImm struct {
	Module string
	Name   string
	Sig    Signature
}

// Target returns "module.name".
func (c CallImm) Target() string {
	return c.Module + "." + c.Name
}

// FuncImm names the procedure a func.ref refers to.
type FuncImm struct {
	Module string
	Name   string
}

// SigImm holds the signature of an indirect call.
type SigImm struct {
	Sig Signature
}

// ClassImm names the class an object is created with.
type ClassImm struct {
	Class string
}

// InitImm describes the initializer run on a fresh object.
type InitImm struct {
	Class  string
	Params []ValType
}

// FieldImm reads one object field.
type FieldImm struct {
	Index uint32
	Type  ValType
}

// DispatchImm holds one restore target per state.
type DispatchImm struct {
	Targets []int
}

// SlotImm addresses one frame slot.
type SlotImm struct {
	Cat   Category
	Index uint32
}

// StateImm holds the state id recorded on capture.
type StateImm struct {
	State uint32
}

// TypeImm holds the result type fetched on resume.
type TypeImm struct {
	Type ValType
}

// Branches returns the jump targets of the instruction.
func (i Instruction) Branches() []int {
	switch i.Opcode {
	case OpJump, OpJumpIf:
		if imm, ok := i.Imm.(BranchImm); ok {
			return []int{imm.Target}
		}
	case OpDispatch:
		if imm, ok := i.Imm.(DispatchImm); ok {
			return imm.Targets
		}
	}
	return nil
}

// FallsThrough reports whether control may continue at the next instruction.
func (i Instruction) FallsThrough() bool {
	switch i.Opcode {
	case OpJump, OpReturn, OpThrow, OpUnreachable, OpDispatch, OpUnwind:
		return false
	}
	return true
}

// CallSig returns the signature of a direct or indirect call.
func (i Instruction) CallSig() (Signature, bool) {
	switch imm := i.Imm.(type) {
	case CallImm:
		return imm.Sig, i.Opcode == OpCall
	case SigImm:
		return imm.Sig, i.Opcode == OpCallRef
	}
	return Signature{}, false
}

// Op builds an instruction without immediate.
func Op(op Opcode) Instruction {
	return Instruction{Opcode: op}
}

// Imm builds an instruction with an immediate.
func Imm(op Opcode, imm any) Instruction {
	return Instruction{Opcode: op, Imm: imm}
}
