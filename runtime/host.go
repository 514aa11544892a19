package runtime

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/wippyai/ctrl/engine"
	"github.com/wippyai/ctrl/errors"
)

// Host is the interface for struct-based host modules.
// All exported methods (except Module and Suspending) are registered as host
// functions.
type Host interface {
	// Module returns the module name calls use to reach the host (e.g. "io").
	Module() string
}

// SuspendingHost extends Host with the functions that may raise a capture
// signal. Calls to them become suspend sites when a unit is loaded.
type SuspendingHost interface {
	Host
	Suspending() []string
}

// ExplicitRegistrar allows hosts to provide exact function names when the
// automatic PascalCase to snake_case conversion doesn't apply.
type ExplicitRegistrar interface {
	Register() map[string]any
}

type HostRegistry struct {
	funcs map[string]map[string]*HostFunc
	mu    sync.RWMutex
}

type HostFunc struct {
	Handler    any
	Receiver   reflect.Value
	Suspending bool
}

func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		funcs: make(map[string]map[string]*HostFunc),
	}
}

func (r *HostRegistry) RegisterHost(h Host) error {
	module := h.Module()
	if module == "" {
		return errors.InvalidInput(errors.PhaseLoad, "module cannot be empty")
	}

	suspending := make(map[string]bool)
	if sh, ok := h.(SuspendingHost); ok {
		for _, name := range sh.Suspending() {
			suspending[name] = true
		}
	}

	funcs := make(map[string]any)
	rv := reflect.ValueOf(h)
	if er, ok := h.(ExplicitRegistrar); ok {
		funcs = er.Register()
	} else {
		rt := rv.Type()
		for i := 0; i < rt.NumMethod(); i++ {
			method := rt.Method(i)
			if !method.IsExported() || method.Name == "Module" || method.Name == "Suspending" {
				continue
			}
			funcs[toSnakeCase(method.Name)] = rv.Method(i).Interface()
		}
	}

	for name, fn := range funcs {
		if err := checkHandler(fn); err != nil {
			return errors.New(errors.PhaseLoad, errors.KindTypeMismatch).
				Path(module, name).Cause(err).Detail("invalid host function").Build()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.funcs[module] == nil {
		r.funcs[module] = make(map[string]*HostFunc)
	}
	for name, fn := range funcs {
		r.funcs[module][name] = &HostFunc{
			Handler:    fn,
			Receiver:   rv,
			Suspending: suspending[name],
		}
	}
	return nil
}

func (r *HostRegistry) RegisterFunc(module, name string, fn any) error {
	return r.register(module, name, fn, false)
}

// RegisterFuncSuspending registers a function that may raise a capture
// signal.
func (r *HostRegistry) RegisterFuncSuspending(module, name string, fn any) error {
	return r.register(module, name, fn, true)
}

func (r *HostRegistry) register(module, name string, fn any, suspending bool) error {
	if module == "" {
		return errors.InvalidInput(errors.PhaseLoad, "module cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseLoad, "function name cannot be empty")
	}
	if err := checkHandler(fn); err != nil {
		return errors.New(errors.PhaseLoad, errors.KindTypeMismatch).
			Path(module, name).Cause(err).Detail("handler must be a function").Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.funcs[module] == nil {
		r.funcs[module] = make(map[string]*HostFunc)
	}
	r.funcs[module][name] = &HostFunc{
		Handler:    fn,
		Suspending: suspending,
	}
	return nil
}

// Suspending returns the "module.name" patterns of every suspending host
// function, sorted.
func (r *HostRegistry) Suspending() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for module, funcs := range r.funcs {
		for name, hf := range funcs {
			if hf.Suspending {
				out = append(out, module+"."+name)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Bind registers host functions with a machine.
func (r *HostRegistry) Bind(m *engine.Machine) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for module, funcs := range r.funcs {
		for name, hf := range funcs {
			if err := m.RegisterHost(module, name, adapt(hf.Handler)); err != nil {
				return errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "bind "+module+"."+name)
			}
		}
	}
	return nil
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

func checkHandler(fn any) error {
	switch fn.(type) {
	case engine.HostFunc, func(context.Context, []any) (any, error):
		return nil
	}
	if fn == nil {
		return fmt.Errorf("nil handler")
	}
	t := reflect.TypeOf(fn)
	if t.Kind() != reflect.Func {
		return fmt.Errorf("%s is not a function", t)
	}
	if t.IsVariadic() {
		return fmt.Errorf("variadic %s is not supported", t)
	}
	switch t.NumOut() {
	case 0, 1:
	case 2:
		if t.Out(1) != errorType {
			return fmt.Errorf("second result of %s must be error", t)
		}
	default:
		return fmt.Errorf("%s returns more than two values", t)
	}
	return nil
}

// adapt turns a Go function into an engine host function. Arguments are
// converted to the parameter types; a leading context.Context parameter
// receives the calling context.
func adapt(fn any) engine.HostFunc {
	switch f := fn.(type) {
	case engine.HostFunc:
		return f
	case func(context.Context, []any) (any, error):
		return f
	}

	rv := reflect.ValueOf(fn)
	rt := rv.Type()
	withCtx := rt.NumIn() > 0 && rt.In(0) == contextType
	first := 0
	if withCtx {
		first = 1
	}

	return func(ctx context.Context, args []any) (any, error) {
		if len(args) != rt.NumIn()-first {
			return nil, &engine.Exception{
				Class: engine.ClassCast,
				Value: fmt.Sprintf("%s takes %d arguments, got %d", rt, rt.NumIn()-first, len(args)),
			}
		}
		in := make([]reflect.Value, rt.NumIn())
		if withCtx {
			in[0] = reflect.ValueOf(ctx)
		}
		for i, a := range args {
			v, err := convert(a, rt.In(i+first))
			if err != nil {
				return nil, err
			}
			in[i+first] = v
		}

		out := rv.Call(in)
		switch len(out) {
		case 0:
			return nil, nil
		case 1:
			if rt.Out(0) == errorType {
				err, _ := out[0].Interface().(error)
				return nil, err
			}
			return out[0].Interface(), nil
		default:
			err, _ := out[1].Interface().(error)
			return out[0].Interface(), err
		}
	}
}

func convert(a any, t reflect.Type) (reflect.Value, error) {
	if a == nil {
		return reflect.Zero(t), nil
	}
	v := reflect.ValueOf(a)
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	if numeric(v.Kind()) && numeric(t.Kind()) {
		return v.Convert(t), nil
	}
	if v.Kind() == reflect.Int32 && t.Kind() == reflect.Bool {
		return reflect.ValueOf(v.Int() != 0), nil
	}
	return reflect.Value{}, &engine.Exception{
		Class: engine.ClassCast,
		Value: fmt.Sprintf("cannot use %T as %s", a, t),
	}
}

func numeric(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Float64
}

// initialisms are split out of runs of capitals, longest first:
// GetHTTPURL has the words get, http and url.
var initialisms = map[string]bool{
	"API": true, "ASCII": true, "CPU": true, "CSS": true, "DNS": true,
	"EOF": true, "GUID": true, "HTML": true, "HTTP": true, "HTTPS": true,
	"ID": true, "IO": true, "IP": true, "JSON": true, "RPC": true,
	"SQL": true, "TCP": true, "TLS": true, "TTL": true, "UDP": true,
	"UI": true, "UID": true, "URI": true, "URL": true, "UTF8": true,
	"UUID": true, "XML": true,
}

// toSnakeCase converts PascalCase to snake_case. A run of capitals is one
// word unless it starts with known initialisms: HTTPServer -> http_server,
// GetHTTPURL -> get_http_url.
func toSnakeCase(s string) string {
	runes := []rune(s)
	var words []string
	for i := 0; i < len(runes); {
		j := i + 1
		if unicode.IsUpper(runes[i]) {
			for j < len(runes) && unicode.IsUpper(runes[j]) {
				j++
			}
			// The last capital of a run followed by lower case starts the
			// next word.
			if j-i > 1 && j < len(runes) && unicode.IsLower(runes[j]) {
				j--
			}
			if j-i > 1 {
				words = append(words, splitInitialisms(string(runes[i:j]))...)
				i = j
				continue
			}
		}
		for j < len(runes) && !unicode.IsUpper(runes[j]) {
			j++
		}
		words = append(words, strings.ToLower(string(runes[i:j])))
		i = j
	}
	return strings.Join(words, "_")
}

func splitInitialisms(run string) []string {
	var words []string
	for run != "" {
		n := len(run)
		for ; n > 1 && !initialisms[run[:n]]; n-- {
		}
		if n == 1 {
			// No known prefix: keep the rest together.
			n = len(run)
		}
		words = append(words, strings.ToLower(run[:n]))
		run = run[n:]
	}
	return words
}
