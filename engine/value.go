package engine

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/wippyai/ctrl/code"
	"github.com/wippyai/ctrl/cont"
	"github.com/wippyai/ctrl/errors"
)

// Exception classes raised by the interpreter itself.
const (
	ClassArithmetic  = "Arithmetic"
	ClassNull        = "Null"
	ClassCast        = "Cast"
	ClassUnreachable = "Unreachable"
	ClassOverflow    = "StackOverflow"
	ClassValue       = "Value"
)

// Exception is a thrown value that is not itself an error.
type Exception struct {
	Class string
	Value any
}

func (e *Exception) Error() string {
	if e.Value == nil {
		return e.Class
	}
	return fmt.Sprintf("%s: %s", e.Class, toString(e.Value))
}

func raise(class string, format string, args ...any) *Exception {
	return &Exception{Class: class, Value: fmt.Sprintf(format, args...)}
}

// Object is an instance created by new and filled by init.
type Object struct {
	Class  string
	Fields []any
	ready  bool
}

func (o *Object) String() string {
	parts := make([]string, len(o.Fields))
	for i, f := range o.Fields {
		parts[i] = toString(f)
	}
	return o.Class + "{" + strings.Join(parts, ", ") + "}"
}

// Func is a procedure reference produced by func.ref.
type Func struct {
	m    *Machine
	proc *procedure
}

// Name returns the qualified procedure name.
func (fn *Func) Name() string {
	return fn.proc.id
}

// Call invokes the procedure.
func (fn *Func) Call(args ...any) (any, error) {
	return fn.proc.invoke(fn.m.context(), args)
}

func (fn *Func) String() string {
	return "func " + fn.proc.id
}

// throwable converts a thrown operand into the error that propagates.
// Errors, signals included, propagate unchanged.
func throwable(v any) error {
	switch x := v.(type) {
	case nil:
		return &Exception{Class: ClassNull, Value: "throw of null"}
	case error:
		return x
	case *Object:
		return &Exception{Class: x.Class, Value: x}
	}
	return &Exception{Class: ClassValue, Value: v}
}

// caught returns the operand a handler receives for err.
func caught(err error) any {
	if e, ok := err.(*Exception); ok {
		return e.Value
	}
	return err
}

// matches reports whether a handler of class catches err.
func matches(class string, err error) bool {
	switch class {
	case code.CatchAll:
		return true
	case code.CatchSignal:
		return isSignal(err)
	case code.CatchUnwind:
		_, ok := err.(*cont.Unwind)
		return ok
	case code.CatchWind:
		_, ok := err.(*cont.Wind)
		return ok
	case code.CatchError:
		return !isSignal(err)
	}
	e, ok := err.(*Exception)
	return ok && e.Class == class
}

// isSignal checks identity types only: signals are never wrapped.
func isSignal(err error) bool {
	switch err.(type) {
	case *cont.Unwind, *cont.Wind:
		return true
	}
	return false
}

func zero(t code.ValType) any {
	switch t {
	case code.I32:
		return int32(0)
	case code.I64:
		return int64(0)
	case code.F32:
		return float32(0)
	case code.F64:
		return float64(0)
	}
	return nil
}

// coerce converts a Go value into the operand representation of t.
func coerce(v any, t code.ValType) (any, error) {
	switch t {
	case code.Void, code.Ref:
		return v, nil
	case code.I32:
		switch x := v.(type) {
		case int32:
			return x, nil
		case int:
			return int32(x), nil
		case int64:
			return int32(x), nil
		case bool:
			if x {
				return int32(1), nil
			}
			return int32(0), nil
		}
	case code.I64:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		}
	case code.F32:
		switch x := v.(type) {
		case float32:
			return x, nil
		case float64:
			return float32(x), nil
		}
	case code.F64:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		}
	}
	return nil, raise(ClassCast, "cannot use %T as %s", v, t)
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case error:
		return x.Error()
	}
	return fmt.Sprint(v)
}

// refEqual compares references by identity, values by equality.
func refEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Slice, reflect.Map, reflect.Func:
		return va.Pointer() == vb.Pointer()
	}
	return false
}

func frameOf(v any, what string) (*cont.Frame, error) {
	f, ok := v.(*cont.Frame)
	if !ok || f == nil {
		return nil, raise(ClassCast, "%s: expected a frame, got %T", what, v)
	}
	return f, nil
}

func missing(target string) error {
	return errors.NotFound(errors.PhaseRuntime, "procedure", target)
}
