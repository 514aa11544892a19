package engine

import (
	"github.com/wippyai/ctrl/code"
	"github.com/wippyai/ctrl/errors"
)

// Emit rewrites p into its resumable form.
//
// Layout of the result:
//
//	dispatch entry restore1 .. restoreN
//	entry:     parameters written to their slots
//	body:      original code, stores to tracked locals mirrored to slots,
//	           every site expanded (see emitSite)
//	restoreK:  reload stored operands and live locals, jump to resumeK
//
// The capture entries of every site precede the original handler table.
func Emit(p *code.Procedure, sites []Site, l *Layout) error {
	e := &emitter{
		p:     p,
		l:     l,
		b:     &builder{},
		temps: map[[2]int]uint32{},
	}
	return e.run(sites)
}

type emitter struct {
	p     *code.Procedure
	l     *Layout
	b     *builder
	temps map[[2]int]uint32
}

type siteLabels struct {
	start  label
	after  label
	unwind label
	resume label
	join   label
}

// filterFor returns the instruction injected at the entry of a handler of
// the given class, or false when the class cannot see a resume signal.
func filterFor(class string) (code.Opcode, bool) {
	switch class {
	case code.CatchAll:
		return code.OpSkipSignal, true
	case code.CatchSignal:
		return code.OpSkipWind, true
	case code.CatchWind:
		return code.OpCheckWind, true
	}
	return 0, false
}

func (e *emitter) run(sites []Site) error {
	p, b := e.p, e.b
	n := len(p.Code)
	orig := b.newLabels(n + 1)

	entry := b.newLabel()
	states := []label{entry}
	for range sites {
		states = append(states, b.newLabel())
	}
	b.dispatch(states)

	b.mark(entry)
	for _, v := range e.l.Vars {
		if int(v.Local) < len(p.Params) {
			b.localGet(v.Local)
			b.slot(code.OpSlotStore, v.Type.Category(), v.Slot)
		}
	}

	filters := map[int]code.Opcode{}
	for _, h := range p.Handlers {
		if _, seen := filters[h.Target]; seen {
			continue
		}
		if op, ok := filterFor(h.Class); ok {
			filters[h.Target] = op
		}
	}

	bySite := make(map[int]int, len(sites))
	for k, s := range sites {
		bySite[s.At] = k
	}
	labels := make([]siteLabels, len(sites))

	for i, ins := range p.Code {
		b.mark(orig[i])
		if op, ok := filters[i]; ok {
			b.op(op)
		}
		if k, ok := bySite[i]; ok {
			labels[k] = e.emitSite(&sites[k], ins, orig)
			continue
		}
		if ins.Opcode == code.OpLocalSet {
			idx := ins.Imm.(code.LocalImm).Index
			if v, ok := e.l.SlotOf(idx, i); ok {
				b.emit(ins)
				b.localGet(idx)
				b.slot(code.OpSlotStore, v.Type.Category(), v.Slot)
				continue
			}
		}
		b.remap(ins, orig)
	}
	b.mark(orig[n])

	for k := range sites {
		b.mark(states[k+1])
		e.emitRestore(&sites[k], labels[k].resume)
	}

	out, err := b.finish()
	if err != nil {
		return errors.Transform(errors.KindInvalidData, p.Name, 0, "%v", err)
	}

	handlers := make([]code.TryCatch, 0, len(sites)+len(p.Handlers))
	for _, sl := range labels {
		handlers = append(handlers, code.TryCatch{
			Class:  code.CatchUnwind,
			Start:  b.pos(sl.start),
			End:    b.pos(sl.after),
			Target: b.pos(sl.unwind),
		})
	}
	handlers = append(handlers, remapHandlers(b, p.Handlers, orig)...)

	p.Vars = remapVars(b, p.Vars, orig)
	p.Handlers = handlers
	p.Code = out
	p.Frame = &code.FrameLayout{Slots: e.l.Slots, States: uint32(len(sites) + 1)}
	return nil
}

// temp returns a scratch local for the operand at the given stack depth.
func (e *emitter) temp(t code.ValType, depth int) uint32 {
	key := [2]int{int(t), depth}
	if idx, ok := e.temps[key]; ok {
		return idx
	}
	idx := e.p.AddLocal(t)
	e.temps[key] = idx
	return idx
}

// emitSite expands one suspend site:
//
//	spill/reload the operand stack     (only with stored operands)
//	start:  call
//	after:  jump join
//	unwind: save stored operands, clear dead ref slots, unwind <state>
//	resume: result, clear stored ref slots
//	join:
func (e *emitter) emitSite(s *Site, call code.Instruction, orig []label) siteLabels {
	b := e.b
	sl := siteLabels{
		start:  b.newLabel(),
		after:  b.newLabel(),
		unwind: b.newLabel(),
		resume: b.newLabel(),
		join:   b.newLabel(),
	}

	if len(s.Stored) > 0 {
		full := append(append([]code.ValType(nil), s.Stored...), s.Args...)
		for j := len(full) - 1; j >= 0; j-- {
			b.localSet(e.temp(full[j], j))
		}
		for j, t := range full {
			b.localGet(e.temp(t, j))
		}
	}

	b.mark(sl.start)
	b.remap(call, orig)
	b.mark(sl.after)
	b.jump(code.OpJump, sl.join)

	b.mark(sl.unwind)
	slots := s.StackSlots()
	for j, t := range s.Stored {
		b.localGet(e.temp(t, j))
		b.slot(code.OpSlotStore, t.Category(), slots[j])
	}
	live := map[uint32]bool{}
	for _, local := range s.Live {
		if v, ok := e.l.SlotOf(local, s.At); ok && v.Type == code.Ref {
			live[v.Slot] = true
		}
	}
	for slot := e.l.Stack[code.CatRef]; slot < e.l.Slots[code.CatRef]; slot++ {
		if !live[slot] {
			b.slot(code.OpSlotClear, code.CatRef, slot)
		}
	}
	b.imm(code.OpUnwind, code.StateImm{State: s.State})

	b.mark(sl.resume)
	b.imm(code.OpResult, code.TypeImm{Type: s.Result})
	for j, t := range s.Stored {
		if t == code.Ref {
			b.slot(code.OpSlotClear, code.CatRef, slots[j])
		}
	}
	b.mark(sl.join)
	return sl
}

func (e *emitter) emitRestore(s *Site, resume label) {
	b := e.b
	slots := s.StackSlots()
	for j, t := range s.Stored {
		b.slot(code.OpSlotLoad, t.Category(), slots[j])
	}
	for _, local := range s.Live {
		v, ok := e.l.SlotOf(local, s.At)
		if !ok {
			continue
		}
		b.slot(code.OpSlotLoad, v.Type.Category(), v.Slot)
		b.localSet(local)
	}
	b.jump(code.OpJump, resume)
}
