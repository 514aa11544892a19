package cont_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/wippyai/ctrl/cont"
	"github.com/wippyai/ctrl/errors"
	"github.com/wippyai/ctrl/internal/binary"
)

const askOwner = "cont_test.ask"

func init() {
	cont.Register(askOwner, cont.HandlerFunc(runAsk))
}

// ask suspends with n and returns n plus the resumed value.
func ask(n int) (any, error) {
	f := cont.NewFrame(askOwner, cont.HandlerFunc(runAsk), 0, 0, 0, 0, 1)
	f.Refs[0] = n
	return runAsk(f)
}

func runAsk(f *cont.Frame) (any, error) {
	var v any
	var err error
	switch f.State {
	case 0:
		v, err = cont.Suspend(f.Refs[0])
		if u, ok := err.(*cont.Unwind); ok {
			f.Capture(u, 1)
			return nil, u
		}
	case 1:
		v, err = f.Result()
	default:
		return nil, cont.ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	return v.(int) + f.Refs[0].(int), nil
}

func capture(t *testing.T, v any, err error) *cont.Unwind {
	t.Helper()
	require.Nil(t, v)
	u, ok := cont.AsUnwind(err)
	require.True(t, ok, "expected a capture signal, got %v", err)
	return u
}

func TestResumeIsMultiShot(t *testing.T) {
	v, err := ask(10)
	u := capture(t, v, err)
	require.Equal(t, 10, u.Payload)
	require.Equal(t, 1, u.Depth())

	head := u.Head
	for _, in := range []int{1, 5, 1} {
		got, err := head.ResumeTop(in)
		require.NoError(t, err)
		require.Equal(t, 10+in, got)
	}
	require.Equal(t, uint32(1), head.State)
	require.Equal(t, 10, head.Refs[0])
	require.False(t, head.Winding())
}

func TestResumeThrowRaisesAtSuspension(t *testing.T) {
	_, err := ask(1)
	u := capture(t, nil, err)

	boom := stderrors.New("boom")
	_, err = u.Head.ResumeThrowTop(boom)
	require.ErrorIs(t, err, boom)
}

func TestCopyOwnsSlots(t *testing.T) {
	f := cont.NewFrame("x", nil, 1, 1, 1, 1, 1)
	f.I32[0], f.Refs[0] = 7, "a"
	c := f.Copy()
	c.I32[0], c.Refs[0] = 8, "b"
	require.Equal(t, int32(7), f.I32[0])
	require.Equal(t, "a", f.Refs[0])
}

func TestBindChainsFrames(t *testing.T) {
	double := func(v any) (any, error) { return v.(int) * 2, nil }
	v, err := cont.Bind(func() (any, error) { return ask(10) }, double)
	u := capture(t, v, err)
	require.Equal(t, 2, u.Depth())
	require.Equal(t, "cont.bind", u.Head.Owner)
	require.Equal(t, askOwner, u.Head.Next.Owner)

	got, err := u.Head.ResumeTop(1)
	require.NoError(t, err)
	require.Equal(t, 22, got)

	got, err = cont.Bind(cont.Value(4), double)
	require.NoError(t, err)
	require.Equal(t, 8, got)
}

func TestResumeSuspendingAgain(t *testing.T) {
	twice := func() (any, error) {
		return cont.Bind(func() (any, error) { return ask(1) }, func(v any) (any, error) {
			return ask(v.(int))
		})
	}
	_, err := twice()
	u := capture(t, nil, err)

	_, err = u.Head.ResumeTop(2)
	require.ErrorIs(t, err, cont.ErrSuspended)

	v, err := u.Head.Resume(2)
	second := capture(t, v, err)
	require.Equal(t, 3, second.Payload)
	require.Equal(t, 1, second.Depth())

	got, err := second.Head.ResumeTop(4)
	require.NoError(t, err)
	require.Equal(t, 7, got)
}

func TestInterceptSeesEachWindOnce(t *testing.T) {
	var seen []string
	pass := func(name string) func(w *cont.Wind) (any, error) {
		return func(w *cont.Wind) (any, error) {
			seen = append(seen, name)
			return nil, w
		}
	}
	v, err := cont.Intercept(func() (any, error) {
		return cont.Intercept(func() (any, error) { return ask(1) }, pass("inner"))
	}, pass("outer"))
	u := capture(t, v, err)
	require.Equal(t, 3, u.Depth())

	got, err := u.Head.ResumeTop(5)
	require.NoError(t, err)
	require.Equal(t, 6, got)
	require.Equal(t, []string{"outer", "inner"}, seen)

	seen = nil
	got, err = u.Head.ResumeTop(6)
	require.NoError(t, err)
	require.Equal(t, 7, got)
	require.Equal(t, []string{"outer", "inner"}, seen)
}

func TestInterceptCanEndWind(t *testing.T) {
	v, err := cont.Intercept(func() (any, error) { return ask(1) }, func(w *cont.Wind) (any, error) {
		return fmt.Sprintf("caught %v", w.Value), nil
	})
	u := capture(t, v, err)

	got, err := u.Head.ResumeTop(5)
	require.NoError(t, err)
	require.Equal(t, "caught 5", got)
}

func TestCatch(t *testing.T) {
	boom := stderrors.New("boom")
	var caught []error
	h := func(err error) (any, error) {
		caught = append(caught, err)
		return ask(100)
	}

	v, err := cont.Catch(func() (any, error) { return nil, boom }, func(err error) (any, error) {
		caught = append(caught, err)
		return "handled", nil
	})
	require.NoError(t, err)
	require.Equal(t, "handled", v)

	v, err = cont.Catch(func() (any, error) { return ask(1) }, h)
	u := capture(t, v, err)
	require.Equal(t, 2, u.Depth())

	got, err := u.Head.ResumeTop(2)
	require.NoError(t, err)
	require.Equal(t, 3, got)

	// The handler suspends; the second capture resumes inside it.
	v, err = u.Head.ResumeThrow(boom)
	again := capture(t, v, err)
	require.Equal(t, 100, again.Payload)
	got, err = again.Head.ResumeTop(5)
	require.NoError(t, err)
	require.Equal(t, 105, got)
	require.Equal(t, []error{boom, boom}, caught)
}

func TestBrackets(t *testing.T) {
	called := false
	_, suspended, err := cont.Brackets(func() (any, error) {
		return cont.Break(&cont.Unwind{OnBoundary: func(*cont.Unwind) { called = true }})
	})
	require.NoError(t, err)
	require.True(t, suspended)
	require.True(t, called)

	_, suspended, err = cont.Brackets(func() (any, error) { return nil, cont.Return(1) })
	require.NoError(t, err)
	require.False(t, suspended)

	boom := stderrors.New("boom")
	_, _, err = cont.Brackets(func() (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	v, _, err := cont.Brackets(cont.Value(3))
	require.NoError(t, err)
	require.Equal(t, 3, v)
}

func TestSignalFilters(t *testing.T) {
	u, w, plain := &cont.Unwind{}, cont.Return(1), stderrors.New("plain")

	require.Equal(t, u, cont.SkipSignal(u))
	require.Equal(t, w, cont.SkipSignal(w))
	require.NoError(t, cont.SkipSignal(plain))

	require.NoError(t, cont.SkipWind(u))
	require.Equal(t, w, cont.SkipWind(w))
	require.NoError(t, cont.SkipWind(plain))
}

func TestRegistry(t *testing.T) {
	r := cont.NewRegistry()
	require.NoError(t, r.Register("a", cont.HandlerFunc(runAsk)))

	err := r.Register("a", cont.HandlerFunc(runAsk))
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errors.KindAlreadyDefined, e.Kind)

	_, ok := r.Resolve("b")
	require.False(t, ok)
	_, ok = cont.Lookup(askOwner)
	require.True(t, ok)

	require.Panics(t, func() { cont.Register(askOwner, cont.HandlerFunc(runAsk)) })
}

func TestMarshalResumesAfterRestore(t *testing.T) {
	double := func(v any) (any, error) { return v.(int) * 2, nil }
	_, err := cont.Bind(func() (any, error) { return ask(10) }, double)
	u := capture(t, nil, err)

	// Closures are not serializable, so the bind frame must be swapped.
	_, err = cont.Marshal(u.Head)
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errors.KindNotSerialized, e.Kind)

	data, err := cont.Marshal(u.Head.Next)
	require.NoError(t, err)
	back, err := cont.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, askOwner, back.Owner)

	got, err := back.ResumeTop(3)
	require.NoError(t, err)
	require.Equal(t, 13, got)
}

func TestMarshalPlaceholders(t *testing.T) {
	type sink struct{ name string }
	out := &sink{name: "stdout"}

	f := cont.NewFrame(askOwner, nil, 0, 0, 0, 0, 2)
	f.Refs[0], f.Refs[1] = 4, out

	swap := func(v any) any {
		if s, ok := v.(*sink); ok {
			return cont.Placeholder{Name: s.name}
		}
		return v
	}
	cont.Substitute(f, swap)
	data, err := cont.Marshal(f)
	require.NoError(t, err)

	back, err := cont.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, cont.Placeholder{Name: "stdout"}, back.Refs[1])

	cont.Substitute(back, func(v any) any {
		if p, ok := v.(cont.Placeholder); ok && p.Name == "stdout" {
			return out
		}
		return v
	})
	require.Same(t, out, back.Refs[1])
}

type pointCodec struct{}

type point struct{ X, Y int32 }

func (pointCodec) Name() string { return "point" }

func (pointCodec) Accepts(v any) bool {
	_, ok := v.(point)
	return ok
}

func (pointCodec) Encode(v any) ([]byte, error) {
	p := v.(point)
	return []byte(fmt.Sprintf("%d,%d", p.X, p.Y)), nil
}

func (pointCodec) Decode(data []byte) (any, error) {
	var p point
	_, err := fmt.Sscanf(string(data), "%d,%d", &p.X, &p.Y)
	return p, err
}

func TestMarshalCodecAndSharing(t *testing.T) {
	inner := cont.NewFrame(askOwner, nil, 0, 0, 0, 0, 1)
	outer := cont.NewFrame(askOwner, nil, 0, 0, 0, 0, 3)
	outer.Next = inner
	// a frame referencing itself and its callee
	outer.Refs[0], outer.Refs[1], outer.Refs[2] = outer, []any{inner, point{1, 2}}, nil

	_, err := cont.Marshal(outer)
	require.Error(t, err)

	data, err := cont.Marshal(outer, cont.WithCodec(pointCodec{}))
	require.NoError(t, err)
	back, err := cont.Unmarshal(data, cont.WithCodec(pointCodec{}))
	require.NoError(t, err)

	require.Same(t, back, back.Refs[0])
	list := back.Refs[1].([]any)
	require.Same(t, back.Next, list[0])
	require.Equal(t, point{1, 2}, list[1])
}

func TestUnmarshalErrors(t *testing.T) {
	f := cont.NewFrame("cont_test.unknown", nil, 0, 0, 0, 0, 0)
	data, err := cont.Marshal(f)
	require.NoError(t, err)

	_, err = cont.Unmarshal(data)
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errors.KindNotFound, e.Kind)

	resolver := cont.ResolverFunc(func(owner string) (cont.Handler, bool) {
		return cont.HandlerFunc(runAsk), owner == "cont_test.unknown"
	})
	_, err = cont.Unmarshal(data, cont.WithResolver(resolver))
	require.NoError(t, err)

	_, err = cont.Unmarshal([]byte("nope"))
	require.Error(t, err)
	_, err = cont.Unmarshal(data[:len(data)-1], cont.WithResolver(resolver))
	require.Error(t, err)
	_, err = cont.Unmarshal(append(data, 0), cont.WithResolver(resolver))
	require.Error(t, err)
}

// chainRecords encodes bare ask records linked by next (0 ends a chain,
// otherwise the record index plus one).
func chainRecords(next ...uint32) []byte {
	w := binary.NewWriter()
	w.WriteBytes([]byte{0x00, 'c', 'f', 'r'})
	w.WriteU32(1)
	w.WriteU32(uint32(len(next)))
	for _, n := range next {
		w.WriteName(askOwner)
		w.WriteU32(0)
		for range 5 {
			w.WriteU32(0)
		}
		w.WriteU32(n)
	}
	return w.Bytes()
}

func TestUnmarshalRejectsBrokenChains(t *testing.T) {
	_, err := cont.Unmarshal(chainRecords(0))
	require.NoError(t, err)
	_, err = cont.Unmarshal(chainRecords(2, 0))
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"no frames", chainRecords()},
		{"frame calls itself", chainRecords(1)},
		{"two frames call each other", chainRecords(2, 1)},
		{"cycle below the head", chainRecords(2, 3, 2)},
		{"link out of range", chainRecords(5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var back *cont.Frame
			require.NotPanics(t, func() { back, err = cont.Unmarshal(tt.data) })
			require.Nil(t, back)
			var e *errors.Error
			require.ErrorAs(t, err, &e)
		})
	}
}

func TestMarshalSharedCallee(t *testing.T) {
	// The head references a captured chain that ends in the head's own
	// grand-callee, so the callee is written before its caller.
	head := cont.NewFrame(askOwner, nil, 0, 0, 0, 0, 1)
	ref := cont.NewFrame(askOwner, nil, 0, 0, 0, 0, 0)
	caller := cont.NewFrame(askOwner, nil, 0, 0, 0, 0, 0)
	shared := cont.NewFrame(askOwner, nil, 0, 0, 0, 0, 0)
	head.Refs[0] = ref
	ref.Next = shared
	head.Next = caller
	caller.Next = shared

	data, err := cont.Marshal(head)
	require.NoError(t, err)
	back, err := cont.Unmarshal(data)
	require.NoError(t, err)
	require.Same(t, back.Next.Next, back.Refs[0].(*cont.Frame).Next)
	require.Nil(t, back.Next.Next.Next)
}

func TestMarshalSlotsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := cont.NewFrame(askOwner, nil, 0, 0, 0, 0, 0)
		f.State = rapid.Uint32().Draw(t, "state")
		f.I32 = rapid.SliceOf(rapid.Int32()).Draw(t, "i32")
		f.I64 = rapid.SliceOf(rapid.Int64()).Draw(t, "i64")
		f.F64 = rapid.SliceOf(rapid.Float64Range(-1e9, 1e9)).Draw(t, "f64")
		strs := rapid.SliceOf(rapid.String()).Draw(t, "refs")
		for _, s := range strs {
			f.Refs = append(f.Refs, s)
		}

		data, err := cont.Marshal(f)
		require.NoError(t, err)
		back, err := cont.Unmarshal(data)
		require.NoError(t, err)

		require.Equal(t, f.State, back.State)
		require.Equal(t, len(f.I32), len(back.I32))
		for i := range f.I32 {
			require.Equal(t, f.I32[i], back.I32[i])
		}
		for i := range f.I64 {
			require.Equal(t, f.I64[i], back.I64[i])
		}
		for i := range f.F64 {
			require.Equal(t, f.F64[i], back.F64[i])
		}
		require.Equal(t, len(f.Refs), len(back.Refs))
		for i := range f.Refs {
			require.Equal(t, f.Refs[i], back.Refs[i])
		}
	})
}
