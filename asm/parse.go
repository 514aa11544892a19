package asm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/ctrl/asm/internal/token"
	"github.com/wippyai/ctrl/code"
)

type parser struct {
	tokens []token.Token
	pos    int
}

func (p *parser) peek() *token.Token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	return &p.tokens[p.pos]
}

func (p *parser) next() *token.Token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	t := &p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) expect(typ token.Type) (*token.Token, error) {
	t := p.next()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of input, expected %v", typ)
	}
	if t.Type != typ {
		return nil, fmt.Errorf("line %d: expected %v, got %q", t.Line, typ, t.Value)
	}
	return t, nil
}

func (p *parser) expectKeyword(kw string) error {
	t, err := p.expect(token.Ident)
	if err != nil {
		return err
	}
	if t.Value != kw {
		return fmt.Errorf("line %d: expected %q, got %q", t.Line, kw, t.Value)
	}
	return nil
}

// openForm consumes "(" and returns the keyword following it.
func (p *parser) openForm() (string, int, error) {
	if _, err := p.expect(token.LParen); err != nil {
		return "", 0, err
	}
	t, err := p.expect(token.Ident)
	if err != nil {
		return "", 0, err
	}
	return t.Value, t.Line, nil
}

func (p *parser) atForm(kw string) bool {
	if p.pos+1 >= len(p.tokens) {
		return false
	}
	return p.tokens[p.pos].Type == token.LParen &&
		p.tokens[p.pos+1].Type == token.Ident && p.tokens[p.pos+1].Value == kw
}

func (p *parser) closeForm() error {
	_, err := p.expect(token.RParen)
	return err
}

func (p *parser) str() (string, error) {
	t, err := p.expect(token.String)
	if err != nil {
		return "", err
	}
	s, err := strconv.Unquote(`"` + t.Value + `"`)
	if err != nil {
		return "", fmt.Errorf("line %d: bad string %q", t.Line, t.Value)
	}
	return s, nil
}

func (p *parser) parseUnit() (*code.Unit, error) {
	if _, _, err := p.openFormKw("unit"); err != nil {
		return nil, err
	}
	name, err := p.str()
	if err != nil {
		return nil, err
	}
	u := &code.Unit{Name: name}
	for p.atForm("proc") {
		proc, err := p.parseProc()
		if err != nil {
			return nil, err
		}
		u.Procs = append(u.Procs, proc)
	}
	if err := p.closeForm(); err != nil {
		return nil, err
	}
	if t := p.peek(); t != nil {
		return nil, fmt.Errorf("line %d: unexpected %q after unit", t.Line, t.Value)
	}
	return u, nil
}

func (p *parser) openFormKw(kw string) (string, int, error) {
	got, line, err := p.openForm()
	if err != nil {
		return "", 0, err
	}
	if got != kw {
		return "", 0, fmt.Errorf("line %d: expected (%s ...), got (%s ...)", line, kw, got)
	}
	return got, line, nil
}

// procState collects the symbolic references of one procedure until its
// labels are known.
type procState struct {
	proc     *code.Procedure
	locals   map[string]uint32
	labels   map[string]int
	fixups   []fixup
	handlers []handlerRef
	vars     []varRef
}

type fixup struct {
	label string
	ins   int
	slot  int // index into DispatchImm targets, or -1 for BranchImm
	line  int
}

type handlerRef struct {
	class              string
	start, end, target string
	line               int
}

type varRef struct {
	name       string
	local      uint32
	start, end string
	line       int
}

func (p *parser) parseProc() (*code.Procedure, error) {
	if _, _, err := p.openFormKw("proc"); err != nil {
		return nil, err
	}
	name, err := p.str()
	if err != nil {
		return nil, err
	}
	st := &procState{
		proc:   &code.Procedure{Name: name},
		locals: make(map[string]uint32),
		labels: make(map[string]int),
	}

	for {
		t := p.peek()
		if t == nil {
			return nil, fmt.Errorf("unexpected end of input in proc %q", name)
		}
		if t.Type == token.RParen {
			p.next()
			break
		}
		kw, line, err := p.openForm()
		if err != nil {
			return nil, err
		}
		switch kw {
		case "param":
			if err := p.parseLocals(st, true); err != nil {
				return nil, err
			}
		case "local":
			if err := p.parseLocals(st, false); err != nil {
				return nil, err
			}
		case "result":
			vt, err := p.valType()
			if err != nil {
				return nil, err
			}
			st.proc.Result = vt
			err = p.closeForm()
			if err != nil {
				return nil, err
			}
		case "var":
			if err := p.parseVar(st, line); err != nil {
				return nil, err
			}
		case "catch":
			if err := p.parseCatch(st, line); err != nil {
				return nil, err
			}
		case "frame":
			if err := p.parseFrame(st); err != nil {
				return nil, err
			}
		case "code":
			if err := p.parseCode(st); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("line %d: unknown proc field %q", line, kw)
		}
	}
	if err := st.resolve(); err != nil {
		return nil, fmt.Errorf("proc %q: %w", name, err)
	}
	return st.proc, nil
}

// parseLocals reads "$name type" pairs or bare types up to ")".
func (p *parser) parseLocals(st *procState, params bool) error {
	if params && len(st.proc.Locals) > 0 {
		return fmt.Errorf("proc %q: params must precede locals", st.proc.Name)
	}
	for {
		t := p.peek()
		if t == nil {
			return fmt.Errorf("unexpected end of input")
		}
		if t.Type == token.RParen {
			p.next()
			return nil
		}
		label := ""
		if t.Type == token.Ident && strings.HasPrefix(t.Value, "$") {
			label = t.Value
			p.next()
		}
		vt, err := p.valType()
		if err != nil {
			return err
		}
		if vt == code.Void {
			return fmt.Errorf("line %d: void local", t.Line)
		}
		var idx uint32
		if params {
			st.proc.Params = append(st.proc.Params, vt)
			idx = uint32(len(st.proc.Params) - 1)
		} else {
			idx = st.proc.AddLocal(vt)
		}
		if label != "" {
			if _, dup := st.locals[label]; dup {
				return fmt.Errorf("line %d: duplicate local %s", t.Line, label)
			}
			st.locals[label] = idx
		}
	}
}

func (p *parser) parseVar(st *procState, line int) error {
	name, err := p.str()
	if err != nil {
		return err
	}
	local, err := p.localRef(st)
	if err != nil {
		return err
	}
	start, err := p.labelRef()
	if err != nil {
		return err
	}
	end, err := p.labelRef()
	if err != nil {
		return err
	}
	st.vars = append(st.vars, varRef{name: name, local: local, start: start, end: end, line: line})
	return p.closeForm()
}

func (p *parser) parseCatch(st *procState, line int) error {
	class, err := p.str()
	if err != nil {
		return err
	}
	var refs [3]string
	for i := range refs {
		if refs[i], err = p.labelRef(); err != nil {
			return err
		}
	}
	st.handlers = append(st.handlers, handlerRef{
		class: class, start: refs[0], end: refs[1], target: refs[2], line: line,
	})
	return p.closeForm()
}

func (p *parser) parseFrame(st *procState) error {
	f := &code.FrameLayout{}
	for c := range f.Slots {
		n, err := p.u32()
		if err != nil {
			return err
		}
		f.Slots[c] = n
	}
	n, err := p.u32()
	if err != nil {
		return err
	}
	f.States = n
	st.proc.Frame = f
	return p.closeForm()
}

func (p *parser) parseCode(st *procState) error {
	for {
		t := p.next()
		if t == nil {
			return fmt.Errorf("unexpected end of input in code")
		}
		switch t.Type {
		case token.RParen:
			return nil
		case token.Label:
			if _, dup := st.labels[t.Value]; dup {
				return fmt.Errorf("line %d: duplicate label %s", t.Line, t.Value)
			}
			st.labels[t.Value] = len(st.proc.Code)
		case token.Ident:
			op, ok := code.LookupOpcode(t.Value)
			if !ok {
				return fmt.Errorf("line %d: unknown instruction %q", t.Line, t.Value)
			}
			ins, err := p.parseInstruction(st, op, t.Line)
			if err != nil {
				return err
			}
			st.proc.Code = append(st.proc.Code, ins)
		default:
			return fmt.Errorf("line %d: unexpected %v %q in code", t.Line, t.Type, t.Value)
		}
	}
}

func (p *parser) parseInstruction(st *procState, op code.Opcode, line int) (code.Instruction, error) {
	info, _ := op.Info()
	ins := code.Instruction{Opcode: op}
	var err error
	switch info.Imm {
	case code.ImmNone:
	case code.ImmI32:
		var v int64
		v, err = p.int(32)
		ins.Imm = code.I32Imm{Value: int32(v)}
	case code.ImmI64:
		var v int64
		v, err = p.int(64)
		ins.Imm = code.I64Imm{Value: v}
	case code.ImmF32:
		var v float64
		v, err = p.float(32)
		ins.Imm = code.F32Imm{Value: float32(v)}
	case code.ImmF64:
		var v float64
		v, err = p.float(64)
		ins.Imm = code.F64Imm{Value: v}
	case code.ImmStr:
		var s string
		s, err = p.str()
		ins.Imm = code.StrImm{Value: s}
	case code.ImmLocal:
		var idx uint32
		idx, err = p.localRef(st)
		ins.Imm = code.LocalImm{Index: idx}
	case code.ImmBranch:
		var l string
		l, err = p.labelRef()
		st.fixups = append(st.fixups, fixup{label: l, ins: len(st.proc.Code), slot: -1, line: line})
		ins.Imm = code.BranchImm{}
	case code.ImmCall:
		var imm code.CallImm
		if imm.Module, err = p.str(); err == nil {
			if imm.Name, err = p.str(); err == nil {
				imm.Sig, err = p.sig()
			}
		}
		ins.Imm = imm
	case code.ImmFunc:
		var imm code.FuncImm
		if imm.Module, err = p.str(); err == nil {
			imm.Name, err = p.str()
		}
		ins.Imm = imm
	case code.ImmSig:
		var s code.Signature
		s, err = p.sig()
		ins.Imm = code.SigImm{Sig: s}
	case code.ImmClass:
		var s string
		s, err = p.str()
		ins.Imm = code.ClassImm{Class: s}
	case code.ImmInit:
		var imm code.InitImm
		if imm.Class, err = p.str(); err == nil {
			var s code.Signature
			s, err = p.sig()
			imm.Params = s.Params
		}
		ins.Imm = imm
	case code.ImmField:
		var imm code.FieldImm
		if imm.Index, err = p.u32(); err == nil {
			imm.Type, err = p.valType()
		}
		ins.Imm = imm
	case code.ImmDispatch:
		var targets []int
		for {
			t := p.peek()
			if t == nil || t.Type != token.Ident || !strings.HasPrefix(t.Value, "$") {
				break
			}
			p.next()
			st.fixups = append(st.fixups, fixup{label: t.Value, ins: len(st.proc.Code), slot: len(targets), line: line})
			targets = append(targets, 0)
		}
		ins.Imm = code.DispatchImm{Targets: targets}
	case code.ImmSlot:
		var imm code.SlotImm
		var vt code.ValType
		if vt, err = p.valType(); err == nil {
			if !vt.Valid() {
				return ins, fmt.Errorf("line %d: slot of type %s", line, vt)
			}
			imm.Cat = vt.Category()
			imm.Index, err = p.u32()
		}
		ins.Imm = imm
	case code.ImmState:
		var n uint32
		n, err = p.u32()
		ins.Imm = code.StateImm{State: n}
	case code.ImmType:
		var vt code.ValType
		vt, err = p.valType()
		ins.Imm = code.TypeImm{Type: vt}
	}
	if err != nil {
		return ins, fmt.Errorf("%s: %w", op, err)
	}
	return ins, nil
}

// sig reads optional "(param ...)" and "(result t)" forms.
func (p *parser) sig() (code.Signature, error) {
	var s code.Signature
	if p.atForm("param") {
		p.pos += 2
		for {
			t := p.peek()
			if t != nil && t.Type == token.RParen {
				p.next()
				break
			}
			vt, err := p.valType()
			if err != nil {
				return s, err
			}
			s.Params = append(s.Params, vt)
		}
	}
	if p.atForm("result") {
		p.pos += 2
		vt, err := p.valType()
		if err != nil {
			return s, err
		}
		s.Result = vt
		if err := p.closeForm(); err != nil {
			return s, err
		}
	}
	return s, nil
}

func (p *parser) valType() (code.ValType, error) {
	t, err := p.expect(token.Ident)
	if err != nil {
		return code.Void, err
	}
	vt, ok := code.ParseValType(t.Value)
	if !ok {
		return code.Void, fmt.Errorf("line %d: unknown type %q", t.Line, t.Value)
	}
	return vt, nil
}

func (p *parser) localRef(st *procState) (uint32, error) {
	t := p.next()
	if t == nil {
		return 0, fmt.Errorf("expected local")
	}
	if t.Type == token.Ident && strings.HasPrefix(t.Value, "$") {
		idx, ok := st.locals[t.Value]
		if !ok {
			return 0, fmt.Errorf("line %d: unknown local %s", t.Line, t.Value)
		}
		return idx, nil
	}
	p.pos--
	return p.u32()
}

func (p *parser) labelRef() (string, error) {
	t, err := p.expect(token.Ident)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(t.Value, "$") {
		return "", fmt.Errorf("line %d: expected label, got %q", t.Line, t.Value)
	}
	return t.Value, nil
}

func (p *parser) u32() (uint32, error) {
	t, err := p.expect(token.Number)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.ReplaceAll(t.Value, "_", ""), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("line %d: invalid number %s", t.Line, t.Value)
	}
	return uint32(v), nil
}

func (p *parser) int(bits int) (int64, error) {
	t, err := p.expect(token.Number)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.ReplaceAll(t.Value, "_", ""), 0, bits)
	if err != nil {
		return 0, fmt.Errorf("line %d: invalid i%d %s", t.Line, bits, t.Value)
	}
	return v, nil
}

func (p *parser) float(bits int) (float64, error) {
	t := p.next()
	if t == nil {
		return 0, fmt.Errorf("unexpected end of input")
	}
	if t.Type == token.Ident {
		switch t.Value {
		case "inf", "+inf":
			return math.Inf(1), nil
		case "-inf":
			return math.Inf(-1), nil
		case "nan", "+nan", "-nan":
			return math.NaN(), nil
		}
	}
	if t.Type != token.Number {
		return 0, fmt.Errorf("line %d: expected float, got %q", t.Line, t.Value)
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(t.Value, "_", ""), bits)
	if err != nil {
		return 0, fmt.Errorf("line %d: invalid f%d %s", t.Line, bits, t.Value)
	}
	return v, nil
}

func (st *procState) label(name string, line int) (int, error) {
	at, ok := st.labels[name]
	if !ok {
		return 0, fmt.Errorf("line %d: undefined label %s", line, name)
	}
	return at, nil
}

func (st *procState) resolve() error {
	for _, f := range st.fixups {
		at, err := st.label(f.label, f.line)
		if err != nil {
			return err
		}
		ins := &st.proc.Code[f.ins]
		if f.slot < 0 {
			ins.Imm = code.BranchImm{Target: at}
		} else {
			ins.Imm.(code.DispatchImm).Targets[f.slot] = at
		}
	}
	for _, h := range st.handlers {
		var tc code.TryCatch
		var err error
		tc.Class = h.class
		if tc.Start, err = st.label(h.start, h.line); err != nil {
			return err
		}
		if tc.End, err = st.label(h.end, h.line); err != nil {
			return err
		}
		if tc.Target, err = st.label(h.target, h.line); err != nil {
			return err
		}
		st.proc.Handlers = append(st.proc.Handlers, tc)
	}
	for _, v := range st.vars {
		cv := code.Var{Name: v.name, Local: v.local}
		var err error
		if cv.Start, err = st.label(v.start, v.line); err != nil {
			return err
		}
		if cv.End, err = st.label(v.end, v.line); err != nil {
			return err
		}
		st.proc.Vars = append(st.proc.Vars, cv)
	}
	return nil
}
