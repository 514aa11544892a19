package cont

import (
	"errors"
	"fmt"
)

type constError string

func (e constError) Error() string {
	return string(e)
}

// ErrSuspended is reported by the top-level winding helpers when the chain
// suspended again instead of completing.
const ErrSuspended = constError("continuation suspended again")

// ErrInvalidState is raised when a handler is entered at a state it does
// not know.
const ErrInvalidState = constError("invalid frame state")

// Unwind is the capture signal. It travels up the call chain as an error and
// every resumable activation it crosses prepends its frame to Head.
//
// Signals are compared by identity, so an Unwind must never be wrapped.
type Unwind struct {
	// Payload is whatever the suspending code wants to hand to the catcher.
	Payload any
	// Head is the outermost captured frame so far.
	Head *Frame
	// OnBoundary runs when a scheduling boundary absorbs the signal.
	OnBoundary func(u *Unwind)
}

func (u *Unwind) Error() string {
	if u.Payload == nil {
		return "unwind"
	}
	return fmt.Sprintf("unwind(%v)", u.Payload)
}

// Boundary runs the OnBoundary hook, if any.
func (u *Unwind) Boundary() {
	if u.OnBoundary != nil {
		u.OnBoundary(u)
	}
}

// Depth returns the number of frames captured so far.
func (u *Unwind) Depth() int {
	n := 0
	for f := u.Head; f != nil; f = f.Next {
		n++
	}
	return n
}

// Wind is the resume signal. It carries either a value or an error to
// deliver at the original suspension point.
type Wind struct {
	Value any
	Err   error
}

// Return builds a Wind delivering v.
func Return(v any) *Wind {
	return &Wind{Value: v}
}

// Throw builds a Wind raising err at the suspension point.
func Throw(err error) *Wind {
	return &Wind{Err: err}
}

func (w *Wind) Error() string {
	if w.Err != nil {
		return fmt.Sprintf("wind(error: %v)", w.Err)
	}
	return fmt.Sprintf("wind(%v)", w.Value)
}

// Result returns the delivered value or error.
func (w *Wind) Result() (any, error) {
	if w.Err != nil {
		return nil, w.Err
	}
	return w.Value, nil
}

// Suspend raises a fresh capture signal carrying payload.
// The returned error must be propagated unchanged.
func Suspend(payload any) (any, error) {
	return nil, &Unwind{Payload: payload}
}

// Break raises a caller-built capture signal.
func Break(u *Unwind) (any, error) {
	return nil, u
}

// AsUnwind reports whether err is a capture signal.
func AsUnwind(err error) (*Unwind, bool) {
	var u *Unwind
	if errors.As(err, &u) {
		return u, true
	}
	return nil, false
}

// AsWind reports whether err is a resume signal.
func AsWind(err error) (*Wind, bool) {
	var w *Wind
	if errors.As(err, &w) {
		return w, true
	}
	return nil, false
}

// IsSignal reports whether err is an Unwind or a Wind.
func IsSignal(err error) bool {
	if _, ok := AsUnwind(err); ok {
		return true
	}
	_, ok := AsWind(err)
	return ok
}

// SkipSignal is injected at catch-all handlers: it returns err when the
// handler must let it pass, nil when the handler body may run.
func SkipSignal(err error) error {
	if IsSignal(err) {
		return err
	}
	return nil
}

// SkipWind is injected at handlers that catch every signal: capture signals
// reach the handler body, resume signals pass through.
func SkipWind(err error) error {
	if _, ok := AsWind(err); ok {
		return err
	}
	return nil
}
