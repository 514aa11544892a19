package transform

import (
	"go.uber.org/zap"

	"github.com/wippyai/ctrl/code"
	"github.com/wippyai/ctrl/transform/internal/engine"
)

// RuntimeCalls are the built-in calls of the interpreter that suspend or
// resume a chain.
var RuntimeCalls = []string{
	"cont.brk",
	"cont.suspend",
	"cont.resume",
	"cont.resume_throw",
}

// Config configures the transformation.
type Config struct {
	// Matcher selects suspend-capable call targets.
	Matcher CallMatcher
	// RemoveList names procedures that are never rewritten.
	RemoveList FunctionMatcher
	// SuspendCalls are extra wildcard patterns of suspend-capable targets.
	SuspendCalls []string
	// IndirectCalls treats every call_ref as suspend-capable.
	IndirectCalls bool
	// Propagate treats calls to rewritten procedures of the same unit as
	// suspend-capable.
	Propagate bool
	// Verify runs the verifier on the rewritten unit.
	Verify bool
}

func (cfg Config) engine() *engine.Engine {
	matcher := cfg.Matcher
	if len(cfg.SuspendCalls) > 0 {
		matcher = NewCompositeMatcher(NewWildcardMatcher(cfg.SuspendCalls), cfg.Matcher)
	}
	if matcher == nil {
		matcher = NewExactMatcher(RuntimeCalls)
	}
	return engine.New(engine.Config{
		Matcher:       matcher,
		RemoveList:    cfg.RemoveList,
		IndirectCalls: cfg.IndirectCalls,
		Propagate:     cfg.Propagate,
		Verify:        cfg.Verify,
	})
}

// Transform rewrites an encoded unit so that its procedures can be
// suspended and resumed at every suspend-capable call.
//
// Every procedure with a reachable suspend-capable call becomes a state
// machine over a frame: state 0 enters it normally, every call site is one
// further state. On a capture signal the pending operands are saved into
// the frame and the frame is prepended to the signal; re-entering the frame
// restores the live locals and continues right after the call.
//
// Returns the rewritten bytes and true, or nil and false when nothing in
// the unit needed rewriting. Without a Matcher and SuspendCalls, the
// RuntimeCalls are used.
func Transform(data []byte, cfg Config) ([]byte, bool, error) {
	return cfg.engine().Transform(data)
}

// TransformUnit rewrites u in place and reports whether anything changed.
func TransformUnit(u *code.Unit, cfg Config) (bool, error) {
	return cfg.engine().TransformUnit(u)
}

// IsTransformed reports whether an encoded unit holds rewritten procedures.
func IsTransformed(data []byte) bool {
	u, err := code.Decode(data)
	if err != nil {
		return false
	}
	for _, p := range u.Procs {
		if p.Resumable() {
			return true
		}
	}
	return false
}

// SetLogger configures the logger of the rewriting engine.
func SetLogger(l *zap.Logger) {
	engine.SetLogger(l)
}
