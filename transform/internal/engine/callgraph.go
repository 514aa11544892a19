package engine

import (
	"github.com/wippyai/ctrl/code"
)

// CallGraph maps each procedure of a unit to the procedures of the same
// unit it calls directly.
type CallGraph map[string][]string

// BuildCallGraph collects the direct calls between procedures of u.
func BuildCallGraph(u *code.Unit) CallGraph {
	cg := make(CallGraph)
	for _, p := range u.Procs {
		for _, ins := range p.Code {
			if ins.Opcode != code.OpCall {
				continue
			}
			if imm, ok := ins.Imm.(code.CallImm); ok && imm.Module == u.Name {
				cg[p.Name] = appendUnique(cg[p.Name], imm.Name)
			}
		}
	}
	return cg
}

// TransitiveCallers finds all procedures that transitively call any of the
// targets. The targets themselves are included.
func (cg CallGraph) TransitiveCallers(targets map[string]bool) map[string]bool {
	result := make(map[string]bool, len(targets))
	for t := range targets {
		result[t] = true
	}

	changed := true
	for changed {
		changed = false
		for caller, callees := range cg {
			if result[caller] {
				continue
			}
			for _, callee := range callees {
				if result[callee] {
					result[caller] = true
					changed = true
					break
				}
			}
		}
	}
	return result
}

func appendUnique(slice []string, val string) []string {
	for _, v := range slice {
		if v == val {
			return slice
		}
	}
	return append(slice, val)
}
