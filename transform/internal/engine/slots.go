package engine

import (
	"cmp"
	"slices"

	"github.com/addrummond/heap"

	"github.com/wippyai/ctrl/code"
)

// Site is one suspend-capable call.
type Site struct {
	At    int
	State uint32
	// Stored are the operand values pending below the call's operands.
	Stored []code.ValType
	// Args are the values the call consumes.
	Args     []code.ValType
	Operands int
	Result   code.ValType
	// Live are the locals live across the call.
	Live []uint32
}

// StackSlots returns the frame slot of each stored operand. Stored values
// occupy the low indices of each category.
func (s *Site) StackSlots() []uint32 {
	var next [code.NumCategories]uint32
	out := make([]uint32, len(s.Stored))
	for j, t := range s.Stored {
		c := t.Category()
		out[j] = next[c]
		next[c]++
	}
	return out
}

// Variable is a local with one declared scope, kept in a frame slot while
// in scope.
type Variable struct {
	Local uint32
	Type  code.ValType
	Start int
	End   int
	Slot  uint32
}

func (v Variable) covers(pc int) bool {
	return pc >= v.Start && pc < v.End
}

// Layout is the slot assignment of one procedure.
type Layout struct {
	// Slots is the total slot count per category.
	Slots [code.NumCategories]uint32
	// Stack is the size of the stored-operand region per category.
	Stack [code.NumCategories]uint32
	Vars  []Variable

	byLocal map[uint32][]int
}

// SlotOf returns the variable holding local at instruction pc.
func (l *Layout) SlotOf(local uint32, pc int) (Variable, bool) {
	for _, i := range l.byLocal[local] {
		if v := l.Vars[i]; v.covers(pc) {
			return v, true
		}
	}
	return Variable{}, false
}

// Tracked reports whether local is kept in the frame at all.
func (l *Layout) Tracked(local uint32) bool {
	return len(l.byLocal[local]) > 0
}

// AllocateSlots assigns frame slots.
//
// Each category starts with the stored-operand region, sized by the largest
// number of values of that category pending at any site. Variables follow:
// every parameter, and every local live across some site, split into its
// declared scopes. Variables whose scopes do not overlap share an index.
func AllocateSlots(p *code.Procedure, sites []Site) *Layout {
	l := &Layout{byLocal: map[uint32][]int{}}
	for i := range sites {
		var n [code.NumCategories]uint32
		for _, t := range sites[i].Stored {
			n[t.Category()]++
		}
		for c := range n {
			l.Stack[c] = max(l.Stack[c], n[c])
		}
	}

	liveAt := map[uint32][]int{}
	for _, s := range sites {
		for _, local := range s.Live {
			liveAt[local] = append(liveAt[local], s.At)
		}
	}
	accesses := map[uint32][]int{}
	for i, ins := range p.Code {
		if ins.Opcode == code.OpLocalGet || ins.Opcode == code.OpLocalSet {
			idx := ins.Imm.(code.LocalImm).Index
			accesses[idx] = append(accesses[idx], i)
		}
	}

	whole := len(p.Code)
	for local := uint32(0); local < uint32(p.NumLocals()); local++ {
		isParam := int(local) < len(p.Params)
		if !isParam && len(liveAt[local]) == 0 {
			continue
		}
		t, _ := p.LocalType(local)
		scopes := [][2]int{{0, whole}}
		if !isParam {
			if declared, ok := declaredScopes(p, local, accesses[local], liveAt[local]); ok {
				scopes = declared
			}
		}
		for _, sc := range scopes {
			l.Vars = append(l.Vars, Variable{Local: local, Type: t, Start: sc[0], End: sc[1]})
		}
	}

	for c := code.Category(0); c < code.NumCategories; c++ {
		l.Slots[c] = l.Stack[c] + assignCategory(l.Vars, c, l.Stack[c])
	}
	for i, v := range l.Vars {
		l.byLocal[v.Local] = append(l.byLocal[v.Local], i)
	}
	return l
}

// declaredScopes returns the scopes the variable table declares for local,
// provided they are disjoint and cover every access and every site where the
// local is live.
func declaredScopes(p *code.Procedure, local uint32, accesses, live []int) ([][2]int, bool) {
	var scopes [][2]int
	for _, v := range p.Vars {
		if v.Local == local && v.Start < v.End {
			scopes = append(scopes, [2]int{v.Start, v.End})
		}
	}
	if len(scopes) == 0 {
		return nil, false
	}
	slices.SortFunc(scopes, func(a, b [2]int) int { return cmp.Compare(a[0], b[0]) })
	for i := 1; i < len(scopes); i++ {
		if scopes[i][0] < scopes[i-1][1] {
			return nil, false
		}
	}
	inScope := func(pc int) bool {
		for _, sc := range scopes {
			if pc >= sc[0] && pc < sc[1] {
				return true
			}
		}
		return false
	}
	for _, pc := range accesses {
		if !inScope(pc) {
			return nil, false
		}
	}
	for _, pc := range live {
		if !inScope(pc) {
			return nil, false
		}
	}
	return scopes, true
}

type activeSlot struct {
	end  int
	slot uint32
}

func (a *activeSlot) Cmp(b *activeSlot) int {
	return cmp.Compare(a.end, b.end)
}

type freeSlot struct {
	slot uint32
}

func (a *freeSlot) Cmp(b *freeSlot) int {
	return cmp.Compare(a.slot, b.slot)
}

// assignCategory colors the intervals of one category greedily in start
// order, reusing the lowest slot freed by an interval that already ended.
// Returns the number of slots used.
func assignCategory(vars []Variable, c code.Category, base uint32) uint32 {
	var order []int
	for i, v := range vars {
		if v.Type.Category() == c {
			order = append(order, i)
		}
	}
	slices.SortStableFunc(order, func(a, b int) int {
		if d := cmp.Compare(vars[a].Start, vars[b].Start); d != 0 {
			return d
		}
		return cmp.Compare(vars[a].End, vars[b].End)
	})

	var active heap.Heap[activeSlot, heap.Min]
	var free heap.Heap[freeSlot, heap.Min]
	var used uint32
	for _, i := range order {
		v := &vars[i]
		for {
			top, ok := heap.Peek(&active)
			if !ok || top.end > v.Start {
				break
			}
			_, _ = heap.PopOrderable(&active)
			heap.PushOrderable(&free, freeSlot{slot: top.slot})
		}
		if f, ok := heap.PopOrderable(&free); ok {
			v.Slot = f.slot
		} else {
			v.Slot = base + used
			used++
		}
		heap.PushOrderable(&active, activeSlot{end: v.End, slot: v.Slot})
	}
	return used
}
