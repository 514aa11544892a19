package engine

import (
	"context"
	"io"
	"os"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/ctrl/code"
	"github.com/wippyai/ctrl/cont"
	"github.com/wippyai/ctrl/errors"
)

// DefaultMaxDepth bounds nested procedure activations.
const DefaultMaxDepth = 4096

// HostFunc is a Go function callable from bytecode with the call's
// operands. Its result is converted to the result type of the call site.
type HostFunc func(ctx context.Context, args []any) (any, error)

// Config configures a Machine.
type Config struct {
	// Output receives io.print calls without an explicit writer.
	// Defaults to os.Stdout.
	Output io.Writer
	// MaxDepth bounds nested activations. Defaults to DefaultMaxDepth.
	MaxDepth int
}

// Machine executes loaded units.
//
// A Machine is not safe for concurrent use: it runs one logical thread of
// control, as does every chain it captures.
type Machine struct {
	out      io.Writer
	units    map[string]*code.Unit
	procs    map[string]*procedure
	hosts    map[string]HostFunc
	ctx      context.Context
	maxDepth int
	depth    int
}

// New creates a machine with the built-in host functions registered.
func New(cfg Config) *Machine {
	m := &Machine{
		out:      cfg.Output,
		units:    make(map[string]*code.Unit),
		procs:    make(map[string]*procedure),
		hosts:    make(map[string]HostFunc),
		maxDepth: cfg.MaxDepth,
	}
	if m.out == nil {
		m.out = os.Stdout
	}
	if m.maxDepth <= 0 {
		m.maxDepth = DefaultMaxDepth
	}
	m.registerBuiltins()
	return m
}

// Load verifies u and makes its procedures callable.
// Resumable procedures are registered as frame owners under their
// qualified name.
func (m *Machine) Load(u *code.Unit) error {
	if u.Name == "" {
		return errors.InvalidInput(errors.PhaseLoad, "unit name cannot be empty")
	}
	if _, ok := m.units[u.Name]; ok {
		return errors.New(errors.PhaseLoad, errors.KindAlreadyDefined).
			Path(u.Name).Detail("unit already loaded").Build()
	}
	if err := code.Validate(u); err != nil {
		return errors.Load("unit "+u.Name, err)
	}
	m.units[u.Name] = u
	for _, p := range u.Procs {
		id := u.Qualified(p)
		m.procs[id] = &procedure{m: m, unit: u, p: p, id: id}
	}
	Logger().Debug("unit loaded",
		zap.String("unit", u.Name),
		zap.Int("procs", len(u.Procs)))
	return nil
}

// Unit returns a loaded unit.
func (m *Machine) Unit(name string) (*code.Unit, bool) {
	u, ok := m.units[name]
	return u, ok
}

// RegisterHost makes fn callable as "module.name". Registering a name twice
// replaces the previous function.
func (m *Machine) RegisterHost(module, name string, fn HostFunc) error {
	if module == "" || name == "" {
		return errors.InvalidInput(errors.PhaseLoad, "host module and name cannot be empty")
	}
	if fn == nil {
		return errors.InvalidInput(errors.PhaseLoad, "host function cannot be nil")
	}
	m.hosts[module+"."+name] = fn
	return nil
}

// Call runs the procedure named "unit.proc" with args.
//
// Capture signals escaping the procedure are returned unchanged as errors,
// so the caller can take the captured chain with cont.AsUnwind.
func (m *Machine) Call(ctx context.Context, name string, args ...any) (any, error) {
	pr, ok := m.procs[name]
	if !ok {
		return nil, missing(name)
	}
	defer m.enter(ctx)()
	return pr.invoke(ctx, args)
}

// Resume winds the chain starting at head, delivering v at its innermost
// suspension. Procedures re-entered by the wind see ctx.
func (m *Machine) Resume(ctx context.Context, head *cont.Frame, v any) (any, error) {
	if head == nil {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "cannot resume an empty chain")
	}
	defer m.enter(ctx)()
	return head.Resume(v)
}

// Func returns a callable reference to a loaded procedure.
func (m *Machine) Func(name string) (*Func, bool) {
	pr, ok := m.procs[name]
	if !ok {
		return nil, false
	}
	return &Func{m: m, proc: pr}, true
}

// Resolve implements cont.Resolver for chains captured by this machine.
func (m *Machine) Resolve(owner string) (cont.Handler, bool) {
	pr, ok := m.procs[owner]
	if !ok || !pr.p.Resumable() {
		return nil, false
	}
	return pr, true
}

// enter installs ctx as the context of winds started by Go code while the
// call runs and returns the function restoring the previous one.
func (m *Machine) enter(ctx context.Context) func() {
	prev := m.ctx
	m.ctx = ctx
	return func() { m.ctx = prev }
}

func (m *Machine) context() context.Context {
	if m.ctx != nil {
		return m.ctx
	}
	return context.Background()
}

// target resolves a direct call: procedures first, then host functions.
func (m *Machine) target(module, name string) (*procedure, HostFunc, bool) {
	full := module + "." + name
	if pr, ok := m.procs[full]; ok {
		return pr, nil, true
	}
	if fn, ok := m.hosts[full]; ok {
		return nil, fn, true
	}
	return nil, nil, false
}

// Procedures lists the qualified names of all loaded procedures with the
// given prefix.
func (m *Machine) Procedures(prefix string) []string {
	var out []string
	for id := range m.procs {
		if strings.HasPrefix(id, prefix) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}
