package engine

import (
	"fmt"

	"github.com/wippyai/ctrl/code"
)

// label is a position in the emitted stream resolved when the builder finishes.
type label int

// builder emits instructions with symbolic jump targets.
type builder struct {
	code   []code.Instruction
	labels []int
	fixups []fixup
}

type fixup struct {
	at      int
	targets []label
}

func (b *builder) newLabel() label {
	b.labels = append(b.labels, -1)
	return label(len(b.labels) - 1)
}

// newLabels allocates n labels, one per original instruction index.
func (b *builder) newLabels(n int) []label {
	ls := make([]label, n)
	for i := range ls {
		ls[i] = b.newLabel()
	}
	return ls
}

func (b *builder) mark(l label) {
	b.labels[l] = len(b.code)
}

func (b *builder) pos(l label) int {
	return b.labels[l]
}

func (b *builder) emit(ins code.Instruction) {
	b.code = append(b.code, ins)
}

func (b *builder) op(op code.Opcode) {
	b.emit(code.Op(op))
}

func (b *builder) imm(op code.Opcode, imm any) {
	b.emit(code.Imm(op, imm))
}

func (b *builder) localGet(idx uint32) {
	b.imm(code.OpLocalGet, code.LocalImm{Index: idx})
}

func (b *builder) localSet(idx uint32) {
	b.imm(code.OpLocalSet, code.LocalImm{Index: idx})
}

func (b *builder) slot(op code.Opcode, cat code.Category, idx uint32) {
	b.imm(op, code.SlotImm{Cat: cat, Index: idx})
}

func (b *builder) jump(op code.Opcode, l label) {
	b.fixups = append(b.fixups, fixup{at: len(b.code), targets: []label{l}})
	b.imm(op, code.BranchImm{})
}

func (b *builder) dispatch(ls []label) {
	b.fixups = append(b.fixups, fixup{at: len(b.code), targets: ls})
	b.imm(code.OpDispatch, code.DispatchImm{})
}

// remap re-emits an original instruction, translating its jump targets
// through orig.
func (b *builder) remap(ins code.Instruction, orig []label) {
	switch ins.Opcode {
	case code.OpJump, code.OpJumpIf:
		b.jump(ins.Opcode, orig[ins.Imm.(code.BranchImm).Target])
	case code.OpDispatch:
		imm := ins.Imm.(code.DispatchImm)
		ls := make([]label, len(imm.Targets))
		for i, t := range imm.Targets {
			ls[i] = orig[t]
		}
		b.dispatch(ls)
	default:
		b.emit(ins)
	}
}

func (b *builder) finish() ([]code.Instruction, error) {
	for _, f := range b.fixups {
		ts := make([]int, len(f.targets))
		for i, l := range f.targets {
			if b.labels[l] < 0 {
				return nil, fmt.Errorf("unresolved label %d", l)
			}
			ts[i] = b.labels[l]
		}
		switch b.code[f.at].Opcode {
		case code.OpDispatch:
			b.code[f.at].Imm = code.DispatchImm{Targets: ts}
		default:
			b.code[f.at].Imm = code.BranchImm{Target: ts[0]}
		}
	}
	return b.code, nil
}

// remapHandlers translates handler ranges through orig. Ranges that became
// empty are dropped.
func remapHandlers(b *builder, hs []code.TryCatch, orig []label) []code.TryCatch {
	out := make([]code.TryCatch, 0, len(hs))
	for _, h := range hs {
		n := code.TryCatch{
			Class:  h.Class,
			Start:  b.pos(orig[h.Start]),
			End:    b.pos(orig[h.End]),
			Target: b.pos(orig[h.Target]),
		}
		if n.Start < n.End {
			out = append(out, n)
		}
	}
	return out
}

func remapVars(b *builder, vs []code.Var, orig []label) []code.Var {
	out := make([]code.Var, len(vs))
	for i, v := range vs {
		v.Start = b.pos(orig[v.Start])
		v.End = b.pos(orig[v.End])
		out[i] = v
	}
	return out
}
