package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/wippyai/ctrl/code"
	"github.com/wippyai/ctrl/cont"
)

// procedure is a loaded procedure. Resumable procedures are their own frame
// handler: winding re-runs the body with the frame, whose state selects the
// restore block.
type procedure struct {
	m    *Machine
	unit *code.Unit
	p    *code.Procedure
	id   string
}

// Run implements cont.Handler.
func (pr *procedure) Run(f *cont.Frame) (any, error) {
	return pr.exec(pr.m.context(), f, nil)
}

func (pr *procedure) invoke(ctx context.Context, args []any) (any, error) {
	if len(args) != len(pr.p.Params) {
		return nil, raise(ClassCast, "%s: got %d arguments, want %d", pr.id, len(args), len(pr.p.Params))
	}
	var f *cont.Frame
	if l := pr.p.Frame; l != nil {
		s := l.Slots
		f = cont.NewFrame(pr.id, pr,
			int(s[code.CatI32]), int(s[code.CatI64]), int(s[code.CatF32]),
			int(s[code.CatF64]), int(s[code.CatRef]))
	}
	return pr.exec(ctx, f, args)
}

// exec runs one activation. A fresh call passes its arguments; a wind
// passes none and the locals start zeroed.
func (pr *procedure) exec(ctx context.Context, f *cont.Frame, args []any) (any, error) {
	m := pr.m
	if m.depth >= m.maxDepth {
		return nil, raise(ClassOverflow, "%s: depth %d", pr.id, m.depth)
	}
	m.depth++
	defer func() { m.depth-- }()

	p := pr.p
	a := &activation{
		ctx:    ctx,
		pr:     pr,
		f:      f,
		locals: make([]any, p.NumLocals()),
		stack:  make([]any, 0, 8),
	}
	for i := range a.locals {
		t, _ := p.LocalType(uint32(i))
		a.locals[i] = zero(t)
	}
	for i, arg := range args {
		v, err := coerce(arg, p.Params[i])
		if err != nil {
			return nil, err
		}
		a.locals[i] = v
	}
	return a.run()
}

type activation struct {
	ctx    context.Context
	pr     *procedure
	f      *cont.Frame
	locals []any
	stack  []any
	pc     int
}

func (a *activation) push(v any) {
	a.stack = append(a.stack, v)
}

func (a *activation) pop() any {
	v := a.stack[len(a.stack)-1]
	a.stack = a.stack[:len(a.stack)-1]
	return v
}

func (a *activation) popN(n int) []any {
	args := make([]any, n)
	copy(args, a.stack[len(a.stack)-n:])
	a.stack = a.stack[:len(a.stack)-n]
	return args
}

func (a *activation) peek() any {
	return a.stack[len(a.stack)-1]
}

func (a *activation) popI32() int32   { return a.pop().(int32) }
func (a *activation) popI64() int64   { return a.pop().(int64) }
func (a *activation) popF32() float32 { return a.pop().(float32) }
func (a *activation) popF64() float64 { return a.pop().(float64) }

func bool32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// run interprets the body until it returns or an error escapes every
// handler.
func (a *activation) run() (any, error) {
	body := a.pr.p.Code
	for {
		v, done, err := a.step(body[a.pc])
		if err != nil {
			target, ok := a.handler(err)
			if !ok {
				return nil, err
			}
			a.stack = append(a.stack[:0], caught(err))
			a.pc = target
			continue
		}
		if done {
			return v, nil
		}
	}
}

// handler finds the first entry protecting pc that catches err.
func (a *activation) handler(err error) (int, bool) {
	for _, h := range a.pr.p.Handlers {
		if h.Covers(a.pc) && matches(h.Class, err) {
			return h.Target, true
		}
	}
	return 0, false
}

func (a *activation) jump(target int) error {
	if target <= a.pc {
		if err := a.ctx.Err(); err != nil {
			return err
		}
	}
	a.pc = target
	return nil
}

// step executes one instruction and advances pc unless it raised.
func (a *activation) step(ins code.Instruction) (any, bool, error) {
	next := a.pc + 1
	switch ins.Opcode {
	case code.OpNop:
	case code.OpUnreachable:
		return nil, false, raise(ClassUnreachable, "%s at %d", a.pr.id, a.pc)
	case code.OpI32Const:
		a.push(ins.Imm.(code.I32Imm).Value)
	case code.OpI64Const:
		a.push(ins.Imm.(code.I64Imm).Value)
	case code.OpF32Const:
		a.push(ins.Imm.(code.F32Imm).Value)
	case code.OpF64Const:
		a.push(ins.Imm.(code.F64Imm).Value)
	case code.OpRefNull:
		a.push(nil)
	case code.OpStrConst:
		a.push(ins.Imm.(code.StrImm).Value)
	case code.OpLocalGet:
		a.push(a.locals[ins.Imm.(code.LocalImm).Index])
	case code.OpLocalSet:
		a.locals[ins.Imm.(code.LocalImm).Index] = a.pop()
	case code.OpDup:
		a.push(a.peek())
	case code.OpPop:
		a.pop()
	case code.OpSwap:
		x, y := a.pop(), a.pop()
		a.push(x)
		a.push(y)

	case code.OpI32Add, code.OpI32Sub, code.OpI32Mul, code.OpI32DivS, code.OpI32RemS,
		code.OpI32Eq, code.OpI32Ne, code.OpI32LtS, code.OpI32GtS, code.OpI32LeS, code.OpI32GeS:
		y, x := a.popI32(), a.popI32()
		r, err := i32Binary(ins.Opcode, x, y)
		if err != nil {
			return nil, false, err
		}
		a.push(r)
	case code.OpI32Eqz:
		a.push(bool32(a.popI32() == 0))
	case code.OpI64Add:
		y, x := a.popI64(), a.popI64()
		a.push(x + y)
	case code.OpI64Sub:
		y, x := a.popI64(), a.popI64()
		a.push(x - y)
	case code.OpI64Mul:
		y, x := a.popI64(), a.popI64()
		a.push(x * y)
	case code.OpF32Add:
		y, x := a.popF32(), a.popF32()
		a.push(x + y)
	case code.OpF32Mul:
		y, x := a.popF32(), a.popF32()
		a.push(x * y)
	case code.OpF64Add:
		y, x := a.popF64(), a.popF64()
		a.push(x + y)
	case code.OpF64Sub:
		y, x := a.popF64(), a.popF64()
		a.push(x - y)
	case code.OpF64Mul:
		y, x := a.popF64(), a.popF64()
		a.push(x * y)
	case code.OpF64Div:
		y, x := a.popF64(), a.popF64()
		a.push(x / y)
	case code.OpI64ExtendI32S:
		a.push(int64(a.popI32()))
	case code.OpI32WrapI64:
		a.push(int32(a.popI64()))
	case code.OpF64ConvertI32S:
		a.push(float64(a.popI32()))
	case code.OpI32TruncF64S:
		x := a.popF64()
		if math.IsNaN(x) || x < math.MinInt32 || x > math.MaxInt32 {
			return nil, false, raise(ClassArithmetic, "%v does not fit i32", x)
		}
		a.push(int32(x))
	case code.OpF32DemoteF64:
		a.push(float32(a.popF64()))
	case code.OpF64PromoteF32:
		a.push(float64(a.popF32()))

	case code.OpRefEq:
		y, x := a.pop(), a.pop()
		a.push(bool32(refEqual(x, y)))
	case code.OpRefIsNull:
		a.push(bool32(a.pop() == nil))
	case code.OpConcat:
		y, x := a.pop(), a.pop()
		a.push(toString(x) + toString(y))
	case code.OpToStr:
		a.push(toString(a.pop()))

	case code.OpJump:
		return nil, false, a.jump(ins.Imm.(code.BranchImm).Target)
	case code.OpJumpIf:
		if a.popI32() != 0 {
			return nil, false, a.jump(ins.Imm.(code.BranchImm).Target)
		}
	case code.OpReturn:
		if a.pr.p.Result == code.Void {
			return nil, true, nil
		}
		return a.pop(), true, nil
	case code.OpThrow:
		return nil, false, throwable(a.pop())

	case code.OpCall:
		imm := ins.Imm.(code.CallImm)
		args := a.popN(len(imm.Sig.Params))
		v, err := a.call(imm.Module, imm.Name, args)
		if err != nil {
			return nil, false, err
		}
		if err := a.result(v, imm.Sig.Result); err != nil {
			return nil, false, err
		}
	case code.OpFuncRef:
		imm := ins.Imm.(code.FuncImm)
		pr, ok := a.pr.m.procs[imm.Module+"."+imm.Name]
		if !ok {
			return nil, false, missing(imm.Module + "." + imm.Name)
		}
		a.push(&Func{m: a.pr.m, proc: pr})
	case code.OpCallRef:
		sig := ins.Imm.(code.SigImm).Sig
		args := a.popN(len(sig.Params))
		v, err := a.callRef(a.pop(), args)
		if err != nil {
			return nil, false, err
		}
		if err := a.result(v, sig.Result); err != nil {
			return nil, false, err
		}
	case code.OpNew:
		a.push(&Object{Class: ins.Imm.(code.ClassImm).Class})
	case code.OpInit:
		imm := ins.Imm.(code.InitImm)
		fields := a.popN(len(imm.Params))
		obj := a.pop().(*Object)
		obj.Fields = fields
		obj.ready = true
	case code.OpGetField:
		imm := ins.Imm.(code.FieldImm)
		v, err := field(a.pop(), imm)
		if err != nil {
			return nil, false, err
		}
		a.push(v)

	default:
		if err := a.frameOp(ins); err != nil {
			return nil, false, err
		}
		if ins.Opcode == code.OpDispatch {
			return nil, false, nil
		}
	}
	a.pc = next
	return nil, false, nil
}

// frameOp executes the opcodes of resumable procedures.
func (a *activation) frameOp(ins code.Instruction) error {
	f := a.f
	if f == nil {
		return fmt.Errorf("%s: %s outside a resumable activation", a.pr.id, ins.Opcode)
	}
	switch ins.Opcode {
	case code.OpDispatch:
		targets := ins.Imm.(code.DispatchImm).Targets
		if int(f.State) >= len(targets) {
			return fmt.Errorf("%w: %s", cont.ErrInvalidState, f)
		}
		a.pc = targets[f.State]
	case code.OpSlotLoad:
		imm := ins.Imm.(code.SlotImm)
		a.push(loadSlot(f, imm))
	case code.OpSlotStore:
		imm := ins.Imm.(code.SlotImm)
		storeSlot(f, imm, a.pop())
	case code.OpSlotClear:
		f.Refs[ins.Imm.(code.SlotImm).Index] = nil
	case code.OpUnwind:
		u, ok := a.pop().(*cont.Unwind)
		if !ok {
			return raise(ClassCast, "%s: unwind of a non-capture value", a.pr.id)
		}
		state := ins.Imm.(code.StateImm).State
		f.Capture(u, state)
		debugf("capture %s state=%d depth=%d", a.pr.id, state, u.Depth())
		return u
	case code.OpResult:
		v, err := f.Result()
		if err != nil {
			return err
		}
		return a.result(v, ins.Imm.(code.TypeImm).Type)
	case code.OpSkipSignal:
		if err, ok := a.peek().(error); ok && cont.SkipSignal(err) != nil {
			return err
		}
	case code.OpSkipWind:
		if err, ok := a.peek().(error); ok && cont.SkipWind(err) != nil {
			return err
		}
	case code.OpCheckWind:
		if err, ok := a.peek().(error); ok {
			if err := f.CheckWind(err); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%s: unknown opcode %s", a.pr.id, ins.Opcode)
	}
	return nil
}

// result pushes a call result converted to t.
func (a *activation) result(v any, t code.ValType) error {
	if t == code.Void {
		return nil
	}
	v, err := coerce(v, t)
	if err != nil {
		return err
	}
	a.push(v)
	return nil
}

func (a *activation) call(module, name string, args []any) (any, error) {
	if err := a.ctx.Err(); err != nil {
		return nil, err
	}
	pr, host, ok := a.pr.m.target(module, name)
	switch {
	case !ok:
		return nil, missing(module + "." + name)
	case pr != nil:
		return pr.invoke(a.ctx, args)
	default:
		return host(a.ctx, args)
	}
}

func (a *activation) callRef(ref any, args []any) (any, error) {
	if err := a.ctx.Err(); err != nil {
		return nil, err
	}
	switch fn := ref.(type) {
	case nil:
		return nil, raise(ClassNull, "call_ref on null")
	case *Func:
		return fn.proc.invoke(a.ctx, args)
	case HostFunc:
		return fn(a.ctx, args)
	case func(context.Context, []any) (any, error):
		return fn(a.ctx, args)
	}
	return nil, raise(ClassCast, "call_ref on %T", ref)
}

func i32Binary(op code.Opcode, x, y int32) (int32, error) {
	switch op {
	case code.OpI32Add:
		return x + y, nil
	case code.OpI32Sub:
		return x - y, nil
	case code.OpI32Mul:
		return x * y, nil
	case code.OpI32DivS, code.OpI32RemS:
		if y == 0 {
			return 0, raise(ClassArithmetic, "division by zero")
		}
		if op == code.OpI32DivS {
			return x / y, nil
		}
		return x % y, nil
	case code.OpI32Eq:
		return bool32(x == y), nil
	case code.OpI32Ne:
		return bool32(x != y), nil
	case code.OpI32LtS:
		return bool32(x < y), nil
	case code.OpI32GtS:
		return bool32(x > y), nil
	case code.OpI32LeS:
		return bool32(x <= y), nil
	}
	return bool32(x >= y), nil
}

func field(v any, imm code.FieldImm) (any, error) {
	switch obj := v.(type) {
	case nil:
		return nil, raise(ClassNull, "get_field on null")
	case *Object:
		if !obj.ready {
			return nil, raise(ClassCast, "%s: field read before init", obj.Class)
		}
		if int(imm.Index) >= len(obj.Fields) {
			return nil, raise(ClassCast, "%s has no field %d", obj.Class, imm.Index)
		}
		return coerce(obj.Fields[imm.Index], imm.Type)
	case []any:
		if int(imm.Index) >= len(obj) {
			return nil, raise(ClassCast, "list has no element %d", imm.Index)
		}
		return coerce(obj[imm.Index], imm.Type)
	}
	return nil, raise(ClassCast, "get_field on %T", v)
}

func loadSlot(f *cont.Frame, imm code.SlotImm) any {
	switch imm.Cat {
	case code.CatI32:
		return f.I32[imm.Index]
	case code.CatI64:
		return f.I64[imm.Index]
	case code.CatF32:
		return f.F32[imm.Index]
	case code.CatF64:
		return f.F64[imm.Index]
	}
	return f.Refs[imm.Index]
}

func storeSlot(f *cont.Frame, imm code.SlotImm, v any) {
	switch imm.Cat {
	case code.CatI32:
		f.I32[imm.Index] = v.(int32)
	case code.CatI64:
		f.I64[imm.Index] = v.(int64)
	case code.CatF32:
		f.F32[imm.Index] = v.(float32)
	case code.CatF64:
		f.F64[imm.Index] = v.(float64)
	default:
		f.Refs[imm.Index] = v
	}
}
