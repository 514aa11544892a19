package concurrency

import (
	"github.com/wippyai/ctrl/cont"
	"github.com/wippyai/ctrl/errors"
)

type constError string

func (e constError) Error() string {
	return string(e)
}

// ErrCanceled is raised inside branches that are canceled because the
// aggregate no longer needs them.
const ErrCanceled = constError("concurrency: branch canceled")

// ErrTimeout is returned by Race when the timeout finishes first.
const ErrTimeout = constError("concurrency: timeout")

type allOf struct {
	results   []any
	remaining int
}

func (m *allOf) ready(j *join) bool {
	return m.remaining == 0 || j.err != nil
}

func (m *allOf) set(i int, v any) {
	m.results[i] = v
	m.remaining--
}

func (m *allOf) result() any {
	return m.results
}

type anyOf struct {
	done  bool
	value any
}

func (m *anyOf) ready(j *join) bool {
	return m.done || j.err != nil
}

func (m *anyOf) set(_ int, v any) {
	if !m.done {
		m.done = true
		m.value = v
	}
}

func (m *anyOf) result() any {
	return m.value
}

// AllOf runs branches cooperatively and returns their values in branch
// order. The first error cancels the remaining branches and is returned
// once they drained.
func AllOf(branches ...cont.Supplier) ([]any, error) {
	m := &allOf{results: make([]any, len(branches)), remaining: len(branches)}
	v, err := newJoin(m, branches).run()
	if err != nil {
		return nil, err
	}
	return v.([]any), nil
}

// AnyOf runs branches cooperatively and returns the first value produced.
// The remaining branches are canceled. AnyOf of no branches returns nil.
func AnyOf(branches ...cont.Supplier) (any, error) {
	return newJoin(&anyOf{}, branches).run()
}

// All is AllOf for branches of one result type.
func All[T any](branches ...func() (T, error)) ([]T, error) {
	erased := make([]cont.Supplier, len(branches))
	for i, b := range branches {
		erased[i] = erase(b)
	}
	v, err := cont.Bind(func() (any, error) {
		return AllOf(erased...)
	}, func(v any) (any, error) {
		values := v.([]any)
		out := make([]T, len(values))
		for i, x := range values {
			t, err := typed[T](x)
			if err != nil {
				return nil, err
			}
			out[i] = t
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]T), nil
}

// Any is AnyOf for branches of one result type.
func Any[T any](branches ...func() (T, error)) (T, error) {
	erased := make([]cont.Supplier, len(branches))
	for i, b := range branches {
		erased[i] = erase(b)
	}
	v, err := AnyOf(erased...)
	if err != nil {
		var zero T
		return zero, err
	}
	return typed[T](v)
}

// Race runs body against timeout. If timeout finishes first, body is
// canceled and ErrTimeout is returned; an error of timeout itself is
// returned as is.
func Race(timeout, body cont.Supplier) (any, error) {
	expired := func() (any, error) {
		return cont.Bind(timeout, func(any) (any, error) {
			return nil, ErrTimeout
		})
	}
	return AnyOf(body, expired)
}

func erase[T any](b func() (T, error)) cont.Supplier {
	return func() (any, error) {
		v, err := b()
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

func typed[T any](v any) (T, error) {
	if v == nil {
		var zero T
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
			Value(v).Detail("branch result is %T", v).Build()
	}
	return t, nil
}
