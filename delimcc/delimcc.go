package delimcc

import (
	"fmt"
	"sync/atomic"

	"github.com/wippyai/ctrl/cont"
	"github.com/wippyai/ctrl/errors"
)

const (
	pushPromptOwner  = "delimcc.push_prompt"
	withSubContOwner = "delimcc.with_sub_cont"
)

func init() {
	cont.Register(pushPromptOwner, cont.HandlerFunc(runPushPrompt))
	cont.Register(withSubContOwner, cont.HandlerFunc(runWithSubCont))
}

// Supplier is a suspend-capable computation producing an A.
type Supplier[A any] func() (A, error)

// Pure returns a Supplier that yields v without suspending.
func Pure[A any](v A) Supplier[A] {
	return func() (A, error) { return v, nil }
}

// Continuation resumes a captured computation expecting an A with the value
// of a Supplier and returns the B it eventually produces.
type Continuation[A, B any] func(a Supplier[A]) (B, error)

var promptCount atomic.Uint64

// Prompt delimits a continuation's scope. Prompts compare by identity.
type Prompt[A any] struct {
	Name string
}

// NewPrompt returns a fresh prompt. An empty name is replaced by a
// generated one.
func NewPrompt[A any](name string) *Prompt[A] {
	if name == "" {
		name = fmt.Sprintf("p%d", promptCount.Add(1)-1)
	}
	return &Prompt[A]{Name: name}
}

func (p *Prompt[A]) String() string {
	return p.Name
}

// SubCont is a captured sub-continuation expecting an A and producing a B.
type SubCont[A, B any] struct {
	frame *cont.Frame
}

// Frame returns the head of the captured chain.
func (s *SubCont[A, B]) Frame() *cont.Frame {
	return s.frame
}

// capture is the payload of the signal raised by WithSubCont.
type capture struct {
	prompt  any
	handler func(sub *cont.Frame) (any, error)
}

func (c *capture) String() string {
	return fmt.Sprintf("capture(%v)", c.prompt)
}

// PushPrompt runs block delimited by p. A WithSubCont for p raised inside
// block is handled here unless a more recent PushPrompt for p is active.
func PushPrompt[A any](p *Prompt[A], block Supplier[A]) (A, error) {
	f := cont.NewFrame(pushPromptOwner, cont.HandlerFunc(runPushPrompt), 0, 0, 0, 0, 2)
	f.Refs[0] = p
	f.Refs[1] = erase(block)
	return result[A](runPushPrompt(f))
}

// runPushPrompt: state 0 runs the block, 1 resumes it, 2 resumes the
// handler of a capture caught here.
func runPushPrompt(f *cont.Frame) (any, error) {
	var v any
	var err error
	switch f.State {
	case 0:
		v, err = f.Refs[1].(cont.Supplier)()
		if u, ok := err.(*cont.Unwind); ok {
			f.Capture(u, 1)
		}
	case 1, 2:
		v, err = f.Result()
	default:
		return nil, fmt.Errorf("%w: %s", cont.ErrInvalidState, f)
	}

	u, ok := err.(*cont.Unwind)
	if !ok || f.State == 2 {
		return v, err
	}
	c, ok := u.Payload.(*capture)
	if !ok || c.prompt != f.Refs[0] {
		return nil, u
	}
	// u.Head is f itself; the sub-continuation starts below it.
	v, err = c.handler(u.Head.Next)
	if u, ok := err.(*cont.Unwind); ok {
		f.Capture(u, 2)
		return nil, u
	}
	return v, err
}

// WithSubCont captures the continuation up to the innermost PushPrompt for
// p, aborts it and runs handler with it in place of that PushPrompt. The
// result is the value later pushed into the sub-continuation.
func WithSubCont[A, B any](p *Prompt[B], handler func(sk *SubCont[A, B]) (B, error)) (A, error) {
	f := cont.NewFrame(withSubContOwner, cont.HandlerFunc(runWithSubCont), 0, 0, 0, 0, 0)
	u := &cont.Unwind{Payload: &capture{
		prompt: p,
		handler: func(sub *cont.Frame) (any, error) {
			return handler(&SubCont[A, B]{frame: sub})
		},
	}}
	f.Capture(u, 1)
	var zero A
	return zero, u
}

// runWithSubCont: state 1 evaluates the pushed supplier, 2 resumes it.
func runWithSubCont(f *cont.Frame) (any, error) {
	switch f.State {
	case 1:
		v, err := f.Result()
		if err != nil {
			return nil, err
		}
		s, ok := v.(cont.Supplier)
		if !ok {
			return v, nil
		}
		v, err = s()
		if u, ok := err.(*cont.Unwind); ok {
			f.Capture(u, 2)
			return nil, u
		}
		return v, err
	case 2:
		return f.Result()
	}
	return nil, fmt.Errorf("%w: %s", cont.ErrInvalidState, f)
}

// PushSubCont resumes sk with the value of a, composed with the current
// continuation. sk is left untouched and can be pushed again.
func PushSubCont[A, B any](sk *SubCont[A, B], a Supplier[A]) (B, error) {
	if sk == nil || sk.frame == nil {
		var zero B
		return zero, errors.InvalidInput(errors.PhaseRuntime, "push of an empty sub-continuation")
	}
	return result[B](sk.frame.Resume(erase(a)))
}

// Then runs m and passes its value to k. If m suspends, k runs once m is
// resumed, as often as it is resumed.
func Then[A, B any](m Supplier[A], k func(A) (B, error)) (B, error) {
	return result[B](cont.Bind(erase(m), func(v any) (any, error) {
		a, err := result[A](v, nil)
		if err != nil {
			return nil, err
		}
		return k(a)
	}))
}

func erase[A any](s Supplier[A]) cont.Supplier {
	return func() (any, error) { return s() }
}

// result converts an untyped result. Errors, signals included, pass
// unchanged.
func result[A any](v any, err error) (A, error) {
	var zero A
	if err != nil || v == nil {
		return zero, err
	}
	a, ok := v.(A)
	if !ok {
		return zero, errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
			Value(v).Detail("got %T, want %T", v, zero).Build()
	}
	return a, nil
}
