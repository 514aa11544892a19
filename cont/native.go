package cont

import "fmt"

// Supplier is a suspend-capable computation.
type Supplier func() (any, error)

// Value returns a Supplier that yields v without suspending.
func Value(v any) Supplier {
	return func() (any, error) { return v, nil }
}

const (
	bindOwner      = "cont.bind"
	catchOwner     = "cont.catch"
	interceptOwner = "cont.intercept"
)

func init() {
	Register(bindOwner, HandlerFunc(runBind))
	Register(catchOwner, HandlerFunc(runCatch))
	Register(interceptOwner, HandlerFunc(runIntercept))
}

// Bind runs m and passes its value to k. If m suspends, the captured chain
// continues into k once m is resumed.
func Bind(m Supplier, k func(any) (any, error)) (any, error) {
	v, err := m()
	if u, ok := err.(*Unwind); ok {
		f := NewFrame(bindOwner, HandlerFunc(runBind), 0, 0, 0, 0, 1)
		f.Refs[0] = k
		f.Capture(u, 1)
		return nil, u
	}
	if err != nil {
		return nil, err
	}
	return k(v)
}

func runBind(f *Frame) (any, error) {
	if f.State != 1 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, f)
	}
	v, err := f.Result()
	if err != nil {
		return nil, err
	}
	return f.Refs[0].(func(any) (any, error))(v)
}

// Catch runs body and passes an error it fails with to h, also when body
// fails after being resumed. Signals are never passed to h. h may suspend.
func Catch(body Supplier, h func(err error) (any, error)) (any, error) {
	f := NewFrame(catchOwner, HandlerFunc(runCatch), 0, 0, 0, 0, 2)
	f.Refs[0] = body
	f.Refs[1] = h
	return runCatch(f)
}

// runCatch: state 1 resumes body, 2 resumes h.
func runCatch(f *Frame) (any, error) {
	var v any
	var err error
	switch f.State {
	case 0:
		v, err = f.Refs[0].(Supplier)()
		if u, ok := err.(*Unwind); ok {
			f.Capture(u, 1)
			return nil, u
		}
	case 1:
		v, err = f.Result()
	case 2:
		return f.Result()
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, f)
	}
	if err == nil || IsSignal(err) {
		return v, err
	}
	v, err = f.Refs[1].(func(error) (any, error))(err)
	if u, ok := err.(*Unwind); ok {
		f.Capture(u, 2)
		return nil, u
	}
	return v, err
}

// Intercept runs body with a handler for resume signals around it.
// onWind sees every Wind delivered through body exactly once per wind and
// either returns a result, which ends the wind there, or returns the Wind
// to let it continue.
func Intercept(body Supplier, onWind func(w *Wind) (any, error)) (any, error) {
	f := NewFrame(interceptOwner, HandlerFunc(runIntercept), 0, 0, 0, 0, 2)
	f.Refs[0] = body
	f.Refs[1] = onWind
	return runIntercept(f)
}

func runIntercept(f *Frame) (any, error) {
	var v any
	var err error
	switch f.State {
	case 0:
		v, err = f.Refs[0].(Supplier)()
		if u, ok := err.(*Unwind); ok {
			f.Capture(u, 1)
			return nil, u
		}
	case 1:
		v, err = f.Result()
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, f)
	}
	if w, ok := err.(*Wind); ok {
		if err := f.CheckWind(w); err != nil {
			return nil, err
		}
		return f.Refs[1].(func(*Wind) (any, error))(w)
	}
	return v, err
}

// Brackets runs body at a scheduling boundary. A capture signal escaping
// body is absorbed after its Boundary hook ran; the returned suspended flag
// reports that case. Resume signals escaping body are absorbed too.
func Brackets(body Supplier) (v any, suspended bool, err error) {
	v, err = body()
	if u, ok := err.(*Unwind); ok {
		u.Boundary()
		return nil, true, nil
	}
	if _, ok := err.(*Wind); ok {
		return nil, false, nil
	}
	return v, false, err
}
