package code

import (
	"github.com/wippyai/ctrl/errors"
)

// StackValue is the verifier's view of one operand.
type StackValue struct {
	Type ValType
	// New is one plus the index of the new instruction that produced an
	// uninitialized object, zero for every other value.
	New int
}

// Uninit reports whether the value is an object whose initializer has not run.
func (v StackValue) Uninit() bool {
	return v.New != 0
}

// Analysis holds the operand stack types before every instruction.
type Analysis struct {
	Stacks  [][]StackValue
	reached []bool
}

// Reachable reports whether instruction i can execute.
func (a *Analysis) Reachable(i int) bool {
	return a.reached[i]
}

// Validate checks every procedure of the unit.
func Validate(u *Unit) error {
	seen := make(map[string]bool, len(u.Procs))
	for _, p := range u.Procs {
		if seen[p.Name] {
			return errors.New(errors.PhaseVerify, errors.KindAlreadyDefined).
				Proc(p.Name).Detail("duplicate procedure").Build()
		}
		seen[p.Name] = true
	}
	for _, p := range u.Procs {
		if _, err := Analyze(p); err != nil {
			return err
		}
		for i, ins := range p.Code {
			imm, ok := ins.Imm.(CallImm)
			if !ok || imm.Module != u.Name {
				continue
			}
			callee := u.Proc(imm.Name)
			if callee == nil {
				return errors.Verify(errors.KindNotFound, p.Name, i, "call to unknown procedure %q", imm.Name)
			}
			if !callee.Sig().Equal(imm.Sig) {
				return errors.Verify(errors.KindTypeMismatch, p.Name, i, "call signature differs from %q", imm.Name)
			}
		}
	}
	return nil
}

// ExceptionTargets returns the handler entries of every entry protecting i.
func (p *Procedure) ExceptionTargets(i int) []int {
	var ts []int
	for _, h := range p.Handlers {
		if h.Covers(i) {
			ts = append(ts, h.Target)
		}
	}
	return ts
}

// Successors returns the normal control flow successors of instruction i.
func (p *Procedure) Successors(i int) []int {
	ins := p.Code[i]
	succ := append([]int(nil), ins.Branches()...)
	if ins.FallsThrough() && i+1 < len(p.Code) {
		succ = append(succ, i+1)
	}
	return succ
}

// Analyze computes operand stack types by abstract interpretation and
// rejects ill-typed procedures.
func Analyze(p *Procedure) (*Analysis, error) {
	n := len(p.Code)
	if n == 0 {
		return nil, errors.Verify(errors.KindInvalidData, p.Name, 0, "empty body")
	}
	if err := checkStructure(p); err != nil {
		return nil, err
	}

	a := &Analysis{
		Stacks:  make([][]StackValue, n),
		reached: make([]bool, n),
	}
	var work []int
	merge := func(from, to int, st []StackValue) error {
		if !a.reached[to] {
			a.reached[to] = true
			a.Stacks[to] = append([]StackValue{}, st...)
			work = append(work, to)
			return nil
		}
		if !sameStack(a.Stacks[to], st) {
			return errors.Verify(errors.KindStackMismatch, p.Name, from,
				"stack %s does not match %s at %d", formatStack(st), formatStack(a.Stacks[to]), to)
		}
		return nil
	}
	if err := merge(0, 0, nil); err != nil {
		return nil, err
	}

	exc := []StackValue{{Type: Ref}}
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]

		out, err := step(p, i, a.Stacks[i])
		if err != nil {
			return nil, err
		}
		ins := p.Code[i]
		if ins.FallsThrough() {
			if i+1 >= n {
				return nil, errors.Verify(errors.KindInvalidData, p.Name, i, "control falls off the end")
			}
			if err := merge(i, i+1, out); err != nil {
				return nil, err
			}
		}
		for _, t := range ins.Branches() {
			if err := merge(i, t, out); err != nil {
				return nil, err
			}
		}
		for _, t := range p.ExceptionTargets(i) {
			if err := merge(i, t, exc); err != nil {
				return nil, err
			}
		}
	}
	return a, nil
}

func sameStack(a, b []StackValue) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func formatStack(st []StackValue) string {
	s := "["
	for i, v := range st {
		if i > 0 {
			s += " "
		}
		s += v.Type.String()
		if v.Uninit() {
			s += "!"
		}
	}
	return s + "]"
}

func checkStructure(p *Procedure) error {
	n := len(p.Code)
	for i, t := range p.Params {
		if !t.Valid() {
			return errors.Verify(errors.KindInvalidData, p.Name, 0, "param %d has invalid type", i)
		}
	}
	for i, t := range p.Locals {
		if !t.Valid() {
			return errors.Verify(errors.KindInvalidData, p.Name, 0, "local %d has invalid type", len(p.Params)+i)
		}
	}
	if p.Result != Void && !p.Result.Valid() {
		return errors.Verify(errors.KindInvalidData, p.Name, 0, "invalid result type")
	}
	for _, h := range p.Handlers {
		if h.Start < 0 || h.Start > h.End || h.End > n || h.Target < 0 || h.Target >= n {
			return errors.Verify(errors.KindOutOfBounds, p.Name, h.Target,
				"handler [%d,%d)->%d out of range", h.Start, h.End, h.Target)
		}
	}
	for _, v := range p.Vars {
		if int(v.Local) >= p.NumLocals() || v.Start < 0 || v.Start > v.End || v.End > n {
			return errors.Verify(errors.KindOutOfBounds, p.Name, v.Start, "variable %q out of range", v.Name)
		}
	}
	for i, ins := range p.Code {
		info, ok := ins.Opcode.Info()
		if !ok {
			return errors.Verify(errors.KindInvalidData, p.Name, i, "unknown opcode %s", ins.Opcode)
		}
		if info.FrameOnly && p.Frame == nil {
			return errors.Verify(errors.KindUnsupported, p.Name, i, "%s outside a resumable procedure", ins.Opcode)
		}
		for _, t := range ins.Branches() {
			if t < 0 || t >= n {
				return errors.Verify(errors.KindOutOfBounds, p.Name, i, "jump target %d out of range", t)
			}
		}
	}
	return nil
}

type stack struct {
	p   *Procedure
	at  int
	st  []StackValue
	err error
}

func (s *stack) fail(kind errors.Kind, detail string, args ...any) {
	if s.err == nil {
		s.err = errors.Verify(kind, s.p.Name, s.at, detail, args...)
	}
}

func (s *stack) push(t ValType) {
	s.st = append(s.st, StackValue{Type: t})
}

func (s *stack) popAny() StackValue {
	if len(s.st) == 0 {
		s.fail(errors.KindStackMismatch, "stack underflow")
		return StackValue{}
	}
	v := s.st[len(s.st)-1]
	s.st = s.st[:len(s.st)-1]
	return v
}

func (s *stack) pop(want ValType) {
	v := s.popAny()
	if s.err != nil {
		return
	}
	if v.Uninit() {
		s.fail(errors.KindUninitialized, "uninitialized object used as %s", want)
		return
	}
	if v.Type != want {
		s.fail(errors.KindTypeMismatch, "expected %s, got %s", want, v.Type)
	}
}

func (s *stack) popInit() ValType {
	v := s.popAny()
	if s.err == nil && v.Uninit() {
		s.fail(errors.KindUninitialized, "uninitialized object used as a value")
	}
	return v.Type
}

func (s *stack) popParams(params []ValType) {
	for i := len(params) - 1; i >= 0; i-- {
		s.pop(params[i])
	}
}

func (s *stack) peekRef() {
	if len(s.st) == 0 {
		s.fail(errors.KindStackMismatch, "stack underflow")
		return
	}
	if top := s.st[len(s.st)-1]; top.Type != Ref || top.Uninit() {
		s.fail(errors.KindTypeMismatch, "expected caught error on the stack")
	}
}

func (s *stack) binary(in, out ValType) {
	s.pop(in)
	s.pop(in)
	s.push(out)
}

func (s *stack) unary(in, out ValType) {
	s.pop(in)
	s.push(out)
}

func (s *stack) slot(imm SlotImm) {
	if s.p.Frame == nil || imm.Cat >= NumCategories || imm.Index >= s.p.Frame.Slots[imm.Cat] {
		s.fail(errors.KindOutOfBounds, "slot %s %d out of range", imm.Cat, imm.Index)
	}
}

func step(p *Procedure, i int, in []StackValue) ([]StackValue, error) {
	s := &stack{p: p, at: i, st: append([]StackValue(nil), in...)}
	ins := p.Code[i]

	immOK := true
	switch ins.Opcode {
	case OpNop, OpUnreachable:
	case OpI32Const:
		s.push(I32)
	case OpI64Const:
		s.push(I64)
	case OpF32Const:
		s.push(F32)
	case OpF64Const:
		s.push(F64)
	case OpRefNull, OpStrConst, OpFuncRef:
		s.push(Ref)
	case OpLocalGet, OpLocalSet:
		imm, ok := ins.Imm.(LocalImm)
		immOK = ok
		if !ok {
			break
		}
		t, ok := p.LocalType(imm.Index)
		if !ok {
			s.fail(errors.KindOutOfBounds, "local %d out of range", imm.Index)
			break
		}
		if ins.Opcode == OpLocalGet {
			s.push(t)
		} else {
			s.pop(t)
		}
	case OpDup:
		v := s.popAny()
		if s.err == nil {
			s.st = append(s.st, v, v)
		}
	case OpPop:
		s.popAny()
	case OpSwap:
		a := s.popAny()
		b := s.popAny()
		if s.err == nil {
			s.st = append(s.st, a, b)
		}
	case OpI32Add, OpI32Sub, OpI32Mul, OpI32DivS, OpI32RemS,
		OpI32Eq, OpI32Ne, OpI32LtS, OpI32GtS, OpI32LeS, OpI32GeS:
		s.binary(I32, I32)
	case OpI32Eqz:
		s.unary(I32, I32)
	case OpI64Add, OpI64Sub, OpI64Mul:
		s.binary(I64, I64)
	case OpF32Add, OpF32Mul:
		s.binary(F32, F32)
	case OpF64Add, OpF64Sub, OpF64Mul, OpF64Div:
		s.binary(F64, F64)
	case OpI64ExtendI32S:
		s.unary(I32, I64)
	case OpI32WrapI64:
		s.unary(I64, I32)
	case OpF64ConvertI32S:
		s.unary(I32, F64)
	case OpI32TruncF64S:
		s.unary(F64, I32)
	case OpF32DemoteF64:
		s.unary(F64, F32)
	case OpF64PromoteF32:
		s.unary(F32, F64)
	case OpRefEq:
		s.binary(Ref, I32)
	case OpRefIsNull:
		s.unary(Ref, I32)
	case OpConcat:
		s.binary(Ref, Ref)
	case OpToStr:
		s.popInit()
		s.push(Ref)
	case OpJump:
		_, immOK = ins.Imm.(BranchImm)
	case OpJumpIf:
		_, immOK = ins.Imm.(BranchImm)
		s.pop(I32)
	case OpReturn:
		if p.Result != Void {
			s.pop(p.Result)
		}
	case OpThrow:
		s.pop(Ref)
	case OpCall, OpCallRef:
		sig, ok := ins.CallSig()
		immOK = ok
		if !ok {
			break
		}
		s.popParams(sig.Params)
		if ins.Opcode == OpCallRef {
			s.pop(Ref)
		}
		if sig.Result != Void {
			s.push(sig.Result)
		}
	case OpNew:
		_, immOK = ins.Imm.(ClassImm)
		s.st = append(s.st, StackValue{Type: Ref, New: i + 1})
	case OpInit:
		imm, ok := ins.Imm.(InitImm)
		immOK = ok
		if !ok {
			break
		}
		s.popParams(imm.Params)
		obj := s.popAny()
		if s.err != nil {
			break
		}
		if !obj.Uninit() {
			s.fail(errors.KindUninitialized, "init on an initialized value")
			break
		}
		for k := range s.st {
			if s.st[k].New == obj.New {
				s.st[k].New = 0
			}
		}
	case OpGetField:
		imm, ok := ins.Imm.(FieldImm)
		immOK = ok
		if ok {
			s.unary(Ref, imm.Type)
		}
	case OpDispatch:
		imm, ok := ins.Imm.(DispatchImm)
		immOK = ok
		if ok && (len(imm.Targets) == 0 || len(s.st) != 0) {
			s.fail(errors.KindInvalidData, "dispatch needs targets and an empty stack")
		}
	case OpSlotLoad:
		imm, ok := ins.Imm.(SlotImm)
		immOK = ok
		if ok {
			s.slot(imm)
			s.push(imm.Cat.Type())
		}
	case OpSlotStore:
		imm, ok := ins.Imm.(SlotImm)
		immOK = ok
		if ok {
			s.slot(imm)
			s.pop(imm.Cat.Type())
		}
	case OpSlotClear:
		imm, ok := ins.Imm.(SlotImm)
		immOK = ok
		if ok {
			s.slot(imm)
			if imm.Cat != CatRef {
				s.fail(errors.KindTypeMismatch, "slot.clear on %s slot", imm.Cat)
			}
		}
	case OpUnwind:
		_, immOK = ins.Imm.(StateImm)
		s.pop(Ref)
	case OpResult:
		imm, ok := ins.Imm.(TypeImm)
		immOK = ok
		if ok && imm.Type != Void {
			s.push(imm.Type)
		}
	case OpSkipSignal, OpSkipWind, OpCheckWind:
		s.peekRef()
	default:
		s.fail(errors.KindInvalidData, "unknown opcode %s", ins.Opcode)
	}
	if !immOK {
		s.fail(errors.KindInvalidData, "%s has immediate %T", ins.Opcode, ins.Imm)
	}
	return s.st, s.err
}
