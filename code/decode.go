package code

import (
	"bytes"
	"fmt"

	"github.com/wippyai/ctrl/errors"
	"github.com/wippyai/ctrl/internal/binary"
)

// IsUnit reports whether data starts with the unit magic.
func IsUnit(data []byte) bool {
	return len(data) >= len(Magic) && bytes.Equal(data[:len(Magic)], Magic[:])
}

// Decode parses a unit from its binary form.
func Decode(data []byte) (*Unit, error) {
	if !IsUnit(data) {
		return nil, errors.InvalidData(errors.PhaseDecode, nil, "missing unit magic")
	}
	r := binary.NewReader(data[len(Magic):])
	d := decoder{r: r}

	version := d.u32("version")
	if d.err == nil && version != Version {
		return nil, errors.New(errors.PhaseDecode, errors.KindUnsupported).
			Detail("unit version %d", version).Value(version).Build()
	}

	u := &Unit{Name: d.name("unit name")}
	n := d.count("procedures")
	for i := 0; i < n && d.err == nil; i++ {
		u.Procs = append(u.Procs, d.proc())
	}
	if d.err != nil {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Cause(d.err).Detail("decode unit").Build()
	}
	if r.Len() != 0 {
		return nil, errors.InvalidData(errors.PhaseDecode, nil,
			fmt.Sprintf("%d trailing bytes", r.Len()))
	}
	return u, nil
}

// decoder latches the first error so field reads stay linear.
type decoder struct {
	r   *binary.Reader
	err error
}

func (d *decoder) fail(section string, err error) {
	if d.err == nil {
		d.err = d.r.WrapError(section, err)
	}
}

func (d *decoder) u32(section string) uint32 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadU32()
	if err != nil {
		d.fail(section, err)
	}
	return v
}

func (d *decoder) count(section string) int {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadLen()
	if err != nil {
		d.fail(section, err)
	}
	return v
}

func (d *decoder) name(section string) string {
	if d.err != nil {
		return ""
	}
	v, err := d.r.ReadName()
	if err != nil {
		d.fail(section, err)
	}
	return v
}

func (d *decoder) u8(section string) byte {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadByte()
	if err != nil {
		d.fail(section, err)
	}
	return v
}

func (d *decoder) valType(section string, allowVoid bool) ValType {
	t := ValType(d.u8(section))
	if d.err == nil && !t.Valid() && (!allowVoid || t != Void) {
		d.fail(section, fmt.Errorf("invalid type 0x%02x", byte(t)))
	}
	return t
}

func (d *decoder) types(section string) []ValType {
	n := d.count(section)
	var ts []ValType
	for i := 0; i < n && d.err == nil; i++ {
		ts = append(ts, d.valType(section, false))
	}
	return ts
}

func (d *decoder) sig(section string) Signature {
	return Signature{Params: d.types(section), Result: d.valType(section, true)}
}

func (d *decoder) proc() *Procedure {
	p := &Procedure{Name: d.name("procedure name")}
	p.Params = d.types("params")
	p.Result = d.valType("result", true)
	p.Locals = d.types("locals")

	n := d.count("vars")
	for i := 0; i < n && d.err == nil; i++ {
		p.Vars = append(p.Vars, Var{
			Name:  d.name("var"),
			Local: d.u32("var"),
			Start: int(d.u32("var")),
			End:   int(d.u32("var")),
		})
	}

	n = d.count("handlers")
	for i := 0; i < n && d.err == nil; i++ {
		p.Handlers = append(p.Handlers, TryCatch{
			Class:  d.name("handler"),
			Start:  int(d.u32("handler")),
			End:    int(d.u32("handler")),
			Target: int(d.u32("handler")),
		})
	}

	switch d.u8("frame") {
	case 0:
	case 1:
		f := &FrameLayout{}
		for c := range f.Slots {
			f.Slots[c] = d.u32("frame")
		}
		f.States = d.u32("frame")
		p.Frame = f
	default:
		d.fail("frame", fmt.Errorf("invalid frame flag"))
	}

	n = d.count("code")
	p.Code = make([]Instruction, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		p.Code = append(p.Code, d.instruction())
	}
	return p
}

func (d *decoder) instruction() Instruction {
	op := Opcode(d.u8("opcode"))
	if d.err != nil {
		return Instruction{}
	}
	info, ok := op.Info()
	if !ok {
		d.fail("opcode", fmt.Errorf("unknown opcode 0x%02x", byte(op)))
		return Instruction{}
	}
	ins := Instruction{Opcode: op}
	switch info.Imm {
	case ImmNone:
	case ImmI32:
		v, err := d.r.ReadS32()
		if err != nil {
			d.fail("i32 immediate", err)
		}
		ins.Imm = I32Imm{Value: v}
	case ImmI64:
		v, err := d.r.ReadS64()
		if err != nil {
			d.fail("i64 immediate", err)
		}
		ins.Imm = I64Imm{Value: v}
	case ImmF32:
		v, err := d.r.ReadFloat32()
		if err != nil {
			d.fail("f32 immediate", err)
		}
		ins.Imm = F32Imm{Value: v}
	case ImmF64:
		v, err := d.r.ReadFloat64()
		if err != nil {
			d.fail("f64 immediate", err)
		}
		ins.Imm = F64Imm{Value: v}
	case ImmStr:
		ins.Imm = StrImm{Value: d.name("string immediate")}
	case ImmLocal:
		ins.Imm = LocalImm{Index: d.u32("local immediate")}
	case ImmBranch:
		ins.Imm = BranchImm{Target: int(d.u32("branch immediate"))}
	case ImmCall:
		ins.Imm = CallImm{Module: d.name("call"), Name: d.name("call"), Sig: d.sig("call")}
	case ImmFunc:
		ins.Imm = FuncImm{Module: d.name("func.ref"), Name: d.name("func.ref")}
	case ImmSig:
		ins.Imm = SigImm{Sig: d.sig("call_ref")}
	case ImmClass:
		ins.Imm = ClassImm{Class: d.name("class")}
	case ImmInit:
		ins.Imm = InitImm{Class: d.name("init"), Params: d.types("init")}
	case ImmField:
		ins.Imm = FieldImm{Index: d.u32("field"), Type: d.valType("field", false)}
	case ImmDispatch:
		n := d.count("dispatch")
		targets := make([]int, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			targets = append(targets, int(d.u32("dispatch")))
		}
		ins.Imm = DispatchImm{Targets: targets}
	case ImmSlot:
		cat := Category(d.u8("slot"))
		if d.err == nil && cat >= NumCategories {
			d.fail("slot", fmt.Errorf("invalid category %d", cat))
		}
		ins.Imm = SlotImm{Cat: cat, Index: d.u32("slot")}
	case ImmState:
		ins.Imm = StateImm{State: d.u32("state")}
	case ImmType:
		ins.Imm = TypeImm{Type: d.valType("result type", true)}
	}
	return ins
}
