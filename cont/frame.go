package cont

import (
	"fmt"

	"go.uber.org/zap"
)

// Phase is the winding step a frame is replaying.
type Phase uint8

const (
	// Probe runs the activation once to count the handlers that intercept
	// the resume signal.
	Probe Phase = iota
	// Replay runs the activation once per counted handler, letting exactly
	// one of them execute its body per pass, outermost first.
	Replay
	// Deliver runs the activation for real and hands over the value.
	Deliver
)

func (p Phase) String() string {
	switch p {
	case Probe:
		return "probe"
	case Replay:
		return "replay"
	case Deliver:
		return "deliver"
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// Handler re-enters a resumable activation at f.State.
type Handler interface {
	Run(f *Frame) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(f *Frame) (any, error)

// Run calls h(f).
func (h HandlerFunc) Run(f *Frame) (any, error) {
	return h(f)
}

// Frame is one activation of a resumable procedure.
//
// A captured frame is treated as immutable: every wind operates on a copy,
// so the same frame can be resumed any number of times.
type Frame struct {
	Handler Handler
	// Next is the activation this one was calling when it was captured.
	Next *Frame
	// Owner identifies the procedure, used to recover Handler after
	// deserialization.
	Owner string

	I32  []int32
	I64  []int64
	F32  []float32
	F64  []float64
	Refs []any

	State uint32

	token *Wind
	phase Phase
	count int
	iter  int
}

// NewFrame allocates a frame with the given slot counts per category.
func NewFrame(owner string, h Handler, i32, i64, f32, f64, refs int) *Frame {
	f := &Frame{Owner: owner, Handler: h}
	if i32 > 0 {
		f.I32 = make([]int32, i32)
	}
	if i64 > 0 {
		f.I64 = make([]int64, i64)
	}
	if f32 > 0 {
		f.F32 = make([]float32, f32)
	}
	if f64 > 0 {
		f.F64 = make([]float64, f64)
	}
	if refs > 0 {
		f.Refs = make([]any, refs)
	}
	return f
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s@%d", f.Owner, f.State)
}

// Phase returns the winding phase of the frame.
func (f *Frame) Phase() Phase {
	return f.phase
}

// Winding reports whether the frame is being re-entered by a wind.
func (f *Frame) Winding() bool {
	return f.token != nil
}

// Copy returns a copy of the frame owning fresh slot arrays.
// Values referenced from Refs and the Next chain are shared.
func (f *Frame) Copy() *Frame {
	c := *f
	c.I32 = cloneSlice(f.I32)
	c.I64 = cloneSlice(f.I64)
	c.F32 = cloneSlice(f.F32)
	c.F64 = cloneSlice(f.F64)
	c.Refs = cloneSlice(f.Refs)
	return &c
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

// Capture records the resume state and prepends f to the signal's chain.
func (f *Frame) Capture(u *Unwind, state uint32) {
	f.State = state
	f.Next = u.Head
	u.Head = f
}

// Resume winds a copy of the chain delivering v at the suspension point.
func (f *Frame) Resume(v any) (any, error) {
	return f.Wind(Return(v))
}

// ResumeThrow winds a copy of the chain raising err at the suspension point.
func (f *Frame) ResumeThrow(err error) (any, error) {
	return f.Wind(Throw(err))
}

// Wind copies the frame and replays it with w.
// The result may itself be a capture signal if the chain suspends again.
func (f *Frame) Wind(w *Wind) (any, error) {
	return f.Copy().windSelf(w)
}

// WindTop is Wind for callers outside any resumable activation: a chain
// that suspends again is reported as ErrSuspended.
func (f *Frame) WindTop(w *Wind) (any, error) {
	v, err := f.Wind(w)
	if err != nil && IsSignal(err) {
		return nil, fmt.Errorf("%w: %s: %v", ErrSuspended, f, err)
	}
	return v, err
}

// ResumeTop is Resume for callers outside any resumable activation.
func (f *Frame) ResumeTop(v any) (any, error) {
	return f.WindTop(Return(v))
}

// ResumeThrowTop is ResumeThrow for callers outside any resumable activation.
func (f *Frame) ResumeThrowTop(err error) (any, error) {
	return f.WindTop(Throw(err))
}

func (f *Frame) windSelf(w *Wind) (any, error) {
	if f.Handler == nil {
		panic(fmt.Sprintf("cont: winding %s without a handler", f))
	}
	f.token, f.phase, f.count = w, Probe, 0
	v, err := f.Handler.Run(f)
	if err == nil {
		return v, nil
	}
	other, ok := err.(*Wind)
	if !ok {
		return v, err
	}
	if other != w {
		panic(fmt.Sprintf("cont: %s probed with a foreign wind %v", f, other))
	}

	f.phase = Replay
	if f.count > 0 {
		Logger().Debug("replay", zap.Stringer("frame", f), zap.Int("handlers", f.count))
	}
	for i := f.count; i > 0; i-- {
		f.iter = i
		v, err = f.Handler.Run(f)
		if other, ok := err.(*Wind); ok && other == w {
			continue
		}
		return v, err
	}

	f.phase = Deliver
	return f.Handler.Run(f)
}

// Result is called at the resume point of a suspended call.
// Before Deliver it re-raises the resume signal so handlers can be counted
// and replayed. On Deliver it winds the callee chain, or for the innermost
// frame returns the delivered value. If the callee suspends again, f is
// prepended to the new signal.
func (f *Frame) Result() (any, error) {
	if f.token == nil {
		panic(fmt.Sprintf("cont: %s resumed without a wind", f))
	}
	if f.phase < Deliver {
		return nil, f.token
	}
	if f.Next == nil {
		return f.token.Result()
	}
	v, err := f.Next.Wind(f.token)
	if u, ok := err.(*Unwind); ok {
		f.Next = u.Head
		u.Head = f
	}
	return v, err
}

// CheckWind is injected at handlers able to catch the resume signal being
// delivered. It returns err when the handler must pass it on for this
// pass, nil when the handler body should run.
func (f *Frame) CheckWind(err error) error {
	w, ok := err.(*Wind)
	if !ok || w != f.token {
		return nil
	}
	switch f.phase {
	case Probe:
		f.count++
		return err
	case Replay:
		f.iter--
		if f.iter == 0 {
			return nil
		}
		return err
	}
	return nil
}
