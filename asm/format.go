package asm

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/wippyai/ctrl/code"
)

// Format renders a unit in the text form accepted by Parse.
// Locals are printed by index and labels are synthesized as $L<index>.
func Format(u *code.Unit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "(unit %s", strconv.Quote(u.Name))
	for _, p := range u.Procs {
		b.WriteString("\n")
		formatProc(&b, p)
	}
	b.WriteString(")\n")
	return b.String()
}

// FormatProc renders one procedure.
func FormatProc(p *code.Procedure) string {
	var b strings.Builder
	formatProc(&b, p)
	return b.String()
}

func label(i int) string {
	return "$L" + strconv.Itoa(i)
}

func formatProc(b *strings.Builder, p *code.Procedure) {
	fmt.Fprintf(b, "  (proc %s", strconv.Quote(p.Name))
	if len(p.Params) > 0 {
		b.WriteString(" (param")
		writeTypes(b, p.Params)
		b.WriteString(")")
	}
	if p.Result != code.Void {
		fmt.Fprintf(b, " (result %s)", p.Result)
	}
	if len(p.Locals) > 0 {
		b.WriteString("\n    (local")
		writeTypes(b, p.Locals)
		b.WriteString(")")
	}
	if f := p.Frame; f != nil {
		fmt.Fprintf(b, "\n    (frame %d %d %d %d %d %d)",
			f.Slots[code.CatI32], f.Slots[code.CatI64], f.Slots[code.CatF32],
			f.Slots[code.CatF64], f.Slots[code.CatRef], f.States)
	}

	labels := map[int]bool{}
	for _, i := range Labels(p) {
		labels[i] = true
	}
	for _, h := range p.Handlers {
		fmt.Fprintf(b, "\n    (catch %s %s %s %s)",
			strconv.Quote(h.Class), label(h.Start), label(h.End), label(h.Target))
	}
	for _, v := range p.Vars {
		fmt.Fprintf(b, "\n    (var %s %d %s %s)", strconv.Quote(v.Name), v.Local, label(v.Start), label(v.End))
	}

	b.WriteString("\n    (code")
	for i, ins := range p.Code {
		if labels[i] {
			fmt.Fprintf(b, "\n   %s:", label(i))
		}
		b.WriteString("\n      ")
		b.WriteString(FormatInstruction(ins))
	}
	if labels[len(p.Code)] {
		fmt.Fprintf(b, "\n   %s:", label(len(p.Code)))
	}
	b.WriteString("))")
}

// Labels returns the sorted instruction indices that Format labels.
func Labels(p *code.Procedure) []int {
	set := map[int]bool{}
	for _, h := range p.Handlers {
		set[h.Start], set[h.End], set[h.Target] = true, true, true
	}
	for _, v := range p.Vars {
		set[v.Start], set[v.End] = true, true
	}
	for _, ins := range p.Code {
		for _, t := range ins.Branches() {
			set[t] = true
		}
	}
	out := make([]int, 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func writeTypes(b *strings.Builder, ts []code.ValType) {
	for _, t := range ts {
		b.WriteByte(' ')
		b.WriteString(t.String())
	}
}

func formatSig(s code.Signature) string {
	var b strings.Builder
	if len(s.Params) > 0 {
		b.WriteString(" (param")
		writeTypes(&b, s.Params)
		b.WriteString(")")
	}
	if s.Result != code.Void {
		fmt.Fprintf(&b, " (result %s)", s.Result)
	}
	return b.String()
}

func formatFloat(v float64, bits int) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(v, 'g', -1, bits)
	if !strings.ContainsAny(s, ".en") {
		s += ".0"
	}
	return s
}

// FormatInstruction renders a single instruction with its immediate.
func FormatInstruction(ins code.Instruction) string {
	name := ins.Opcode.String()
	switch imm := ins.Imm.(type) {
	case nil:
		return name
	case code.I32Imm:
		return fmt.Sprintf("%s %d", name, imm.Value)
	case code.I64Imm:
		return fmt.Sprintf("%s %d", name, imm.Value)
	case code.F32Imm:
		return name + " " + formatFloat(float64(imm.Value), 32)
	case code.F64Imm:
		return name + " " + formatFloat(imm.Value, 64)
	case code.StrImm:
		return name + " " + strconv.Quote(imm.Value)
	case code.LocalImm:
		return fmt.Sprintf("%s %d", name, imm.Index)
	case code.BranchImm:
		return name + " " + label(imm.Target)
	case code.CallImm:
		return fmt.Sprintf("%s %s %s%s", name, strconv.Quote(imm.Module), strconv.Quote(imm.Name), formatSig(imm.Sig))
	case code.FuncImm:
		return fmt.Sprintf("%s %s %s", name, strconv.Quote(imm.Module), strconv.Quote(imm.Name))
	case code.SigImm:
		return name + formatSig(imm.Sig)
	case code.ClassImm:
		return name + " " + strconv.Quote(imm.Class)
	case code.InitImm:
		return name + " " + strconv.Quote(imm.Class) + formatSig(code.Signature{Params: imm.Params})
	case code.FieldImm:
		return fmt.Sprintf("%s %d %s", name, imm.Index, imm.Type)
	case code.DispatchImm:
		parts := []string{name}
		for _, t := range imm.Targets {
			parts = append(parts, label(t))
		}
		return strings.Join(parts, " ")
	case code.SlotImm:
		return fmt.Sprintf("%s %s %d", name, imm.Cat, imm.Index)
	case code.StateImm:
		return fmt.Sprintf("%s %d", name, imm.State)
	case code.TypeImm:
		return fmt.Sprintf("%s %s", name, imm.Type)
	}
	return fmt.Sprintf("%s <%T>", name, ins.Imm)
}
