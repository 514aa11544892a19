package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/wippyai/ctrl/cont"
)

// Built-in host functions. The call site's signature decides how results
// are converted, so one built-in serves every operand type.
//
//	cont.brk(u)                 raise u if it is a capture signal, else suspend with u as payload
//	cont.suspend(payload)       raise a fresh capture signal
//	cont.resume(frame, v)       wind a copy of frame delivering v
//	cont.resume_throw(frame, e) wind a copy of frame raising e
//	cont.head(u), cont.next(f)  walk a captured chain
//	cont.payload(u)             payload of a capture signal
//	cont.wind_value(w)          value carried by a resume signal
//	cont.set_wind_value(w, v)   replace it, seen by the inner handlers and the resume point
//	io.print(out, v)            write v and a newline to out, or the machine output
func (m *Machine) registerBuiltins() {
	builtins := map[string]HostFunc{
		"cont.brk":            brk,
		"cont.suspend":        suspend,
		"cont.resume":         resume,
		"cont.resume_throw":   resumeThrow,
		"cont.head":           head,
		"cont.next":           next,
		"cont.payload":        payload,
		"cont.wind_value":     windValue,
		"cont.set_wind_value": setWindValue,
		"io.print":            m.print,
	}
	for name, fn := range builtins {
		m.hosts[name] = fn
	}
}

func arg(args []any, i int) any {
	if i >= 0 && i < len(args) {
		return args[i]
	}
	return nil
}

func brk(_ context.Context, args []any) (any, error) {
	if u, ok := arg(args, 0).(*cont.Unwind); ok {
		return cont.Break(u)
	}
	return cont.Suspend(arg(args, 0))
}

func suspend(_ context.Context, args []any) (any, error) {
	return cont.Suspend(arg(args, 0))
}

func resume(_ context.Context, args []any) (any, error) {
	f, err := frameOf(arg(args, 0), "cont.resume")
	if err != nil {
		return nil, err
	}
	return f.Resume(arg(args, 1))
}

func resumeThrow(_ context.Context, args []any) (any, error) {
	f, err := frameOf(arg(args, 0), "cont.resume_throw")
	if err != nil {
		return nil, err
	}
	return f.ResumeThrow(throwable(arg(args, 1)))
}

func head(_ context.Context, args []any) (any, error) {
	u, ok := arg(args, 0).(*cont.Unwind)
	if !ok {
		return nil, raise(ClassCast, "cont.head: expected a capture signal, got %T", arg(args, 0))
	}
	if u.Head == nil {
		return nil, nil
	}
	return u.Head, nil
}

func next(_ context.Context, args []any) (any, error) {
	f, err := frameOf(arg(args, 0), "cont.next")
	if err != nil {
		return nil, err
	}
	if f.Next == nil {
		return nil, nil
	}
	return f.Next, nil
}

func payload(_ context.Context, args []any) (any, error) {
	u, ok := arg(args, 0).(*cont.Unwind)
	if !ok {
		return nil, raise(ClassCast, "cont.payload: expected a capture signal, got %T", arg(args, 0))
	}
	return u.Payload, nil
}

func windValue(_ context.Context, args []any) (any, error) {
	w, ok := arg(args, 0).(*cont.Wind)
	if !ok {
		return nil, raise(ClassCast, "cont.wind_value: expected a resume signal, got %T", arg(args, 0))
	}
	return w.Value, nil
}

func setWindValue(_ context.Context, args []any) (any, error) {
	w, ok := arg(args, 0).(*cont.Wind)
	if !ok {
		return nil, raise(ClassCast, "cont.set_wind_value: expected a resume signal, got %T", arg(args, 0))
	}
	w.Value = arg(args, 1)
	return nil, nil
}

func (m *Machine) print(_ context.Context, args []any) (any, error) {
	out := m.out
	if w, ok := arg(args, 0).(io.Writer); ok {
		out = w
	}
	_, err := fmt.Fprintln(out, toString(arg(args, len(args)-1)))
	return nil, err
}
