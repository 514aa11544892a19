// Liveness analysis for the resumable rewrite.
//
// A local is LIVE at a program point if there exists a path from that point
// to a read of the local that does not pass through a store to it. Only live
// locals need to be restored when an activation is re-entered at a state.
//
// Backward dataflow over the control flow graph, exception edges included:
//
//	in[i] = use[i] ∪ (∪ in[succ] − def[i]) ∪ (∪ in[handler])
//
// The handler term is not filtered by def[i]: an instruction raising before
// its store completes leaves the previous value visible to the handler.
// Iterated to a fixed point in reverse instruction order.
package engine

import (
	"github.com/wippyai/ctrl/code"
)

// LivenessAnalyzer computes live locals at program points.
type LivenessAnalyzer struct {
	numLocals int
}

// NewLivenessAnalyzer creates an analyzer for a procedure with the given
// local index space size.
func NewLivenessAnalyzer(numLocals int) *LivenessAnalyzer {
	return &LivenessAnalyzer{numLocals: numLocals}
}

// Compute returns the live-in set of every instruction.
func (la *LivenessAnalyzer) Compute(p *code.Procedure) []*BitSet {
	n := len(p.Code)
	in := make([]*BitSet, n)
	for i := range in {
		in[i] = NewBitSet(la.numLocals)
	}

	succ := make([][]int, n)
	exc := make([][]int, n)
	for i := range p.Code {
		succ[i] = p.Successors(i)
		exc[i] = p.ExceptionTargets(i)
	}

	scratch := NewBitSet(la.numLocals)
	for changed := true; changed; {
		changed = false
		for i := n - 1; i >= 0; i-- {
			scratch.Reset()
			for _, s := range succ[i] {
				scratch.Union(in[s])
			}
			la.applyTransfer(p.Code[i], scratch)
			for _, t := range exc[i] {
				scratch.Union(in[t])
			}
			if !scratch.Equal(in[i]) {
				in[i] = scratch.Clone()
				changed = true
			}
		}
	}
	return in
}

// LiveAt returns the locals live immediately before each requested
// instruction, as sorted index lists.
func (la *LivenessAnalyzer) LiveAt(p *code.Procedure, sites []int) map[int][]uint32 {
	if len(sites) == 0 {
		return nil
	}
	in := la.Compute(p)
	result := make(map[int][]uint32, len(sites))
	for _, s := range sites {
		result[s] = in[s].ToSlice()
	}
	return result
}

// applyTransfer applies the transfer function for liveness at an instruction.
// For backward analysis: uses add to live set, defs remove from live set.
func (la *LivenessAnalyzer) applyTransfer(ins code.Instruction, live *BitSet) {
	switch ins.Opcode {
	case code.OpLocalGet:
		if imm, ok := ins.Imm.(code.LocalImm); ok {
			live.Set(imm.Index)
		}
	case code.OpLocalSet:
		if imm, ok := ins.Imm.(code.LocalImm); ok {
			live.Clear(imm.Index)
		}
	}
}
