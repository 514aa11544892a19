package engine

import (
	"go.uber.org/zap"

	"github.com/wippyai/ctrl/code"
	"github.com/wippyai/ctrl/errors"
)

// CallMatcher selects the call targets that may suspend.
type CallMatcher interface {
	Match(module, name string) bool
}

// FunctionMatcher selects procedures by name.
type FunctionMatcher interface {
	MatchFunction(name string) bool
}

// Config configures the transformation engine.
type Config struct {
	Matcher CallMatcher
	// RemoveList names procedures that are never rewritten.
	RemoveList FunctionMatcher
	// IndirectCalls treats every call_ref as suspend-capable.
	IndirectCalls bool
	// Propagate treats calls to rewritten procedures of the same unit as
	// suspend-capable, transitively.
	Propagate bool
	// Verify runs the verifier on the rewritten unit.
	Verify bool
}

// Engine orchestrates the rewrite of a unit.
//
// The engine is stateless between calls.
type Engine struct {
	matcher       CallMatcher
	removeList    FunctionMatcher
	indirectCalls bool
	propagate     bool
	verify        bool
}

// New creates a new transformation engine with the given config.
func New(cfg Config) *Engine {
	return &Engine{
		matcher:       cfg.Matcher,
		removeList:    cfg.RemoveList,
		indirectCalls: cfg.IndirectCalls,
		propagate:     cfg.Propagate,
		verify:        cfg.Verify,
	}
}

// Transform decodes a unit, rewrites it and encodes the result.
// It reports false and no bytes when nothing was rewritten.
func (e *Engine) Transform(data []byte) ([]byte, bool, error) {
	u, err := code.Decode(data)
	if err != nil {
		return nil, false, err
	}
	changed, err := e.TransformUnit(u)
	if err != nil || !changed {
		return nil, false, err
	}
	out, err := u.Encode()
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// TransformUnit rewrites the procedures of u in place.
//
// A procedure is rewritten when it has at least one reachable
// suspend-capable call. Procedures without one are left untouched.
func (e *Engine) TransformUnit(u *code.Unit) (bool, error) {
	for _, p := range u.Procs {
		if p.Resumable() {
			return false, errors.New(errors.PhaseTransform, errors.KindUnsupported).
				Proc(p.Name).Detail("unit %q is already transformed", u.Name).Build()
		}
	}

	var resumable map[string]bool
	if e.propagate {
		direct := map[string]bool{}
		for _, p := range u.Procs {
			if e.removed(p) {
				continue
			}
			for _, ins := range p.Code {
				if e.directSite(ins) {
					direct[p.Name] = true
					break
				}
			}
		}
		resumable = BuildCallGraph(u).TransitiveCallers(direct)
		for _, p := range u.Procs {
			if e.removed(p) {
				delete(resumable, p.Name)
			}
		}
	}

	isSite := func(ins code.Instruction) bool {
		if e.directSite(ins) {
			return true
		}
		if imm, ok := ins.Imm.(code.CallImm); ok && ins.Opcode == code.OpCall {
			return imm.Module == u.Name && resumable[imm.Name]
		}
		return false
	}

	changed := false
	for _, p := range u.Procs {
		if e.removed(p) {
			continue
		}
		ok, err := e.transformProc(p, isSite)
		if err != nil {
			return false, err
		}
		changed = changed || ok
	}
	if !changed {
		return false, nil
	}

	if e.verify {
		if err := code.Validate(u); err != nil {
			return false, errors.New(errors.PhaseTransform, errors.KindInvalidData).
				Cause(err).Detail("rewritten unit %q does not verify", u.Name).Build()
		}
	}
	return true, nil
}

func (e *Engine) removed(p *code.Procedure) bool {
	return e.removeList != nil && e.removeList.MatchFunction(p.Name)
}

func (e *Engine) directSite(ins code.Instruction) bool {
	switch ins.Opcode {
	case code.OpCall:
		imm, ok := ins.Imm.(code.CallImm)
		return ok && e.matcher != nil && e.matcher.Match(imm.Module, imm.Name)
	case code.OpCallRef:
		return e.indirectCalls
	}
	return false
}

func findSites(p *code.Procedure, a *code.Analysis, isSite func(code.Instruction) bool) []int {
	var sites []int
	for i, ins := range p.Code {
		if a.Reachable(i) && isSite(ins) {
			sites = append(sites, i)
		}
	}
	return sites
}

func (e *Engine) transformProc(p *code.Procedure, isSite func(code.Instruction) bool) (bool, error) {
	work := p.Clone()
	narrowed := NarrowHandlers(work)

	a, err := code.Analyze(work)
	if err != nil {
		return false, errors.New(errors.PhaseTransform, errors.KindInvalidData).
			Proc(p.Name).Cause(err).Detail("analyze").Build()
	}
	at := findSites(work, a, isSite)
	if len(at) == 0 {
		return false, nil
	}

	staged, err := StageConstructions(work, a, at)
	if err != nil {
		return false, err
	}
	if staged > 0 {
		if a, err = code.Analyze(work); err != nil {
			return false, errors.New(errors.PhaseTransform, errors.KindInvalidData).
				Proc(p.Name).Cause(err).Detail("analyze staged constructions").Build()
		}
		at = findSites(work, a, isSite)
	}

	live := NewLivenessAnalyzer(work.NumLocals()).LiveAt(work, at)
	sites := make([]Site, len(at))
	for k, i := range at {
		ins := work.Code[i]
		sig, _ := ins.CallSig()
		operands := len(sig.Params)
		if ins.Opcode == code.OpCallRef {
			operands++
		}
		st := a.Stacks[i]
		s := Site{
			At:       i,
			State:    uint32(k + 1),
			Operands: operands,
			Result:   sig.Result,
			Live:     live[i],
		}
		for j, v := range st {
			if v.Uninit() {
				return false, errors.Transform(errors.KindUnsupported, p.Name, i,
					"uninitialized object on the stack across a suspend site")
			}
			if j < len(st)-operands {
				s.Stored = append(s.Stored, v.Type)
			} else {
				s.Args = append(s.Args, v.Type)
			}
		}
		sites[k] = s
	}

	layout := AllocateSlots(work, sites)
	if err := Emit(work, sites, layout); err != nil {
		return false, err
	}

	Logger().Debug("procedure rewritten",
		zap.String("proc", p.Name),
		zap.Int("states", len(sites)+1),
		zap.Int("narrowed", narrowed),
		zap.Int("staged", staged),
		zap.Uint32s("slots", layout.Slots[:]),
	)
	*p = *work
	return true, nil
}
