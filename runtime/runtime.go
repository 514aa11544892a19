package runtime

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/ctrl/asm"
	"github.com/wippyai/ctrl/code"
	"github.com/wippyai/ctrl/cont"
	"github.com/wippyai/ctrl/engine"
	"github.com/wippyai/ctrl/errors"
	"github.com/wippyai/ctrl/transform"
)

// Config configures a Runtime.
type Config struct {
	// Transform configures the rewrite applied to units that are not
	// transformed yet. Suspending host functions are added to its
	// SuspendCalls.
	Transform transform.Config
	// Output receives io.print. Defaults to os.Stdout.
	Output io.Writer
	// MaxDepth bounds nested calls. Defaults to engine.DefaultMaxDepth.
	MaxDepth int
}

// Runtime loads units into one interpreter and keeps their host functions.
// A Runtime is not safe for concurrent use.
type Runtime struct {
	machine *engine.Machine
	hosts   *HostRegistry
	cfg     Config
}

func New(cfg Config) *Runtime {
	return &Runtime{
		machine: engine.New(engine.Config{Output: cfg.Output, MaxDepth: cfg.MaxDepth}),
		hosts:   NewHostRegistry(),
		cfg:     cfg,
	}
}

// RegisterHost registers all exported methods of h as host functions.
// Must be called BEFORE loading units that call these functions.
// Method names are converted from PascalCase to snake_case (GetValue -> get_value).
func (r *Runtime) RegisterHost(h Host) error {
	return r.hosts.RegisterHost(h)
}

func (r *Runtime) RegisterFunc(module, name string, fn any) error {
	return r.hosts.RegisterFunc(module, name, fn)
}

// RegisterFuncSuspending registers a function that may raise a capture
// signal. Units loaded afterwards treat calls to it as suspend sites.
func (r *Runtime) RegisterFuncSuspending(module, name string, fn any) error {
	return r.hosts.RegisterFuncSuspending(module, name, fn)
}

func (r *Runtime) Hosts() *HostRegistry {
	return r.hosts
}

// Machine returns the underlying interpreter.
func (r *Runtime) Machine() *engine.Machine {
	return r.machine
}

// Load decodes a binary unit, transforms it when needed and loads it.
func (r *Runtime) Load(ctx context.Context, data []byte) (*Module, error) {
	if !code.IsUnit(data) {
		return nil, errors.InvalidInput(errors.PhaseLoad, "not a valid unit binary")
	}
	u, err := code.Decode(data)
	if err != nil {
		return nil, errors.Load("decode unit", err)
	}
	return r.LoadUnit(ctx, u)
}

// LoadText assembles src, transforms it when needed and loads it.
func (r *Runtime) LoadText(ctx context.Context, src string) (*Module, error) {
	u, err := asm.Parse(src)
	if err != nil {
		return nil, err
	}
	return r.LoadUnit(ctx, u)
}

// LoadUnit transforms u in place unless it already holds resumable
// procedures, binds the registered hosts and loads it.
func (r *Runtime) LoadUnit(ctx context.Context, u *code.Unit) (*Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !transformed(u) {
		cfg := r.cfg.Transform
		if extra := r.hosts.Suspending(); len(extra) > 0 {
			if cfg.Matcher == nil && len(cfg.SuspendCalls) == 0 {
				cfg.Matcher = transform.NewExactMatcher(transform.RuntimeCalls)
			}
			cfg.SuspendCalls = append(append([]string(nil), cfg.SuspendCalls...), extra...)
		}
		changed, err := transform.TransformUnit(u, cfg)
		if err != nil {
			return nil, errors.Load("transform unit "+u.Name, err)
		}
		Logger().Debug("unit transformed",
			zap.String("unit", u.Name),
			zap.Bool("changed", changed))
	}

	if err := r.hosts.Bind(r.machine); err != nil {
		return nil, errors.Load("bind hosts", err)
	}
	if err := r.machine.Load(u); err != nil {
		return nil, err
	}
	return &Module{runtime: r, unit: u}, nil
}

// Call runs the procedure named "unit.proc".
func (r *Runtime) Call(ctx context.Context, name string, args ...any) (any, error) {
	return r.machine.Call(ctx, name, args...)
}

// Marshal serializes a captured chain.
func (r *Runtime) Marshal(head *cont.Frame, opts ...cont.Option) ([]byte, error) {
	return cont.Marshal(head, opts...)
}

// Unmarshal restores a chain captured by procedures of this runtime.
func (r *Runtime) Unmarshal(data []byte, opts ...cont.Option) (*cont.Frame, error) {
	return cont.Unmarshal(data, append([]cont.Option{cont.WithResolver(r.machine)}, opts...)...)
}

// Resume winds a captured chain delivering v.
func (r *Runtime) Resume(ctx context.Context, head *cont.Frame, v any) (any, error) {
	return r.machine.Resume(ctx, head, v)
}

func transformed(u *code.Unit) bool {
	for _, p := range u.Procs {
		if p.Resumable() {
			return true
		}
	}
	return false
}

// TransformFile rewrites the unit stored at in and writes the result to out.
// An unchanged unit is copied as is. Reports whether anything changed.
func TransformFile(in, out string, cfg transform.Config) (bool, error) {
	data, err := os.ReadFile(in)
	if err != nil {
		return false, errors.Load("read "+in, err)
	}
	result, changed, err := transform.Transform(data, cfg)
	if err != nil {
		return false, err
	}
	if !changed {
		result = data
	}
	if err := os.WriteFile(out, result, 0o644); err != nil {
		return false, errors.Load("write "+out, err)
	}
	Logger().Info("unit written",
		zap.String("in", in),
		zap.String("out", out),
		zap.Bool("changed", changed))
	return changed, nil
}
