package engine_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/ctrl/asm"
	"github.com/wippyai/ctrl/cont"
	"github.com/wippyai/ctrl/engine"
	"github.com/wippyai/ctrl/errors"
	"github.com/wippyai/ctrl/transform"
)

// load parses src, optionally rewrites it and loads it into a new machine.
func load(t *testing.T, src string, cfg *transform.Config, out *bytes.Buffer) *engine.Machine {
	t.Helper()
	u, err := asm.Parse(src)
	require.NoError(t, err)
	if cfg != nil {
		cfg.Verify = true
		changed, err := transform.TransformUnit(u, *cfg)
		require.NoError(t, err)
		require.True(t, changed)
	}
	var cfgm engine.Config
	if out != nil {
		cfgm.Output = out
	}
	m := engine.New(cfgm)
	require.NoError(t, m.Load(u))
	return m
}

const basicSrc = `
(unit "basic"
  (proc "sum" (param $n i32) (result i32)
    (local $acc i32)
    (code
    $loop:
      local.get $n
      i32.eqz
      jump_if $done
      local.get $acc
      local.get $n
      i32.add
      local.set $acc
      local.get $n
      i32.const 1
      i32.sub
      local.set $n
      jump $loop
    $done:
      local.get $acc
      return))
  (proc "divide" (param $a i32 $b i32) (result i32)
    (catch "Arithmetic" $try $end $h)
    (code
    $try:
      local.get $a
      local.get $b
      i32.div_s
    $end:
      return
    $h:
      pop
      i32.const -1
      return))
  (proc "area" (param $x i32 $y i32) (result i32)
    (local $p ref)
    (code
      new "Point"
      dup
      local.get $x
      local.get $y
      init "Point" (param i32 i32)
      local.set $p
      local.get $p
      get_field 0 i32
      local.get $p
      get_field 1 i32
      i32.mul
      return))
  (proc "boom" (result ref)
    (catch "Error" $try $h $h)
    (code
    $try:
      new "Boom"
      dup
      str.const "bad"
      init "Boom" (param ref)
      throw
    $h:
      get_field 0 ref
      return))
  (proc "raise" (result i32)
    (code
      str.const "oops"
      throw))
  (proc "host" (param $n i32) (result i32)
    (code
      local.get $n
      call "host" "twice" (param i32) (result i32)
      return))
  (proc "greet" (param $who ref)
    (code
      str.const "hello, "
      local.get $who
      concat
      call "io" "print" (param ref)
      return)))`

func TestInterpreter(t *testing.T) {
	var out bytes.Buffer
	m := load(t, basicSrc, nil, &out)
	require.NoError(t, m.RegisterHost("host", "twice", func(_ context.Context, args []any) (any, error) {
		return int(args[0].(int32)) * 2, nil
	}))

	tests := []struct {
		name string
		proc string
		args []any
		want any
	}{
		{"loop", "basic.sum", []any{int32(10)}, int32(55)},
		{"divide", "basic.divide", []any{int32(12), int32(4)}, int32(3)},
		{"divide_by_zero", "basic.divide", []any{int32(1), int32(0)}, int32(-1)},
		{"object", "basic.area", []any{int32(6), int32(7)}, int32(42)},
		{"catch_object", "basic.boom", nil, "bad"},
		{"host_result_coerced", "basic.host", []any{21}, int32(42)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Call(t.Context(), tt.proc, tt.args...)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := m.Call(t.Context(), "basic.greet", "world")
	require.NoError(t, err)
	require.Equal(t, "hello, world\n", out.String())
}

func TestInterpreterErrors(t *testing.T) {
	m := load(t, basicSrc, nil, nil)

	_, err := m.Call(t.Context(), "basic.raise")
	var exc *engine.Exception
	require.ErrorAs(t, err, &exc)
	require.Equal(t, engine.ClassValue, exc.Class)
	require.Equal(t, "oops", exc.Value)

	_, err = m.Call(t.Context(), "basic.host", int32(1))
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errors.KindNotFound, e.Kind)

	_, err = m.Call(t.Context(), "basic.nope")
	require.ErrorAs(t, err, &e)
	require.Equal(t, errors.KindNotFound, e.Kind)

	_, err = m.Call(t.Context(), "basic.sum")
	require.ErrorAs(t, err, &exc)
	require.Equal(t, engine.ClassCast, exc.Class)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = m.Call(ctx, "basic.sum", int32(3))
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoadErrors(t *testing.T) {
	m := load(t, basicSrc, nil, nil)

	err := m.Load(asm.MustParse(basicSrc))
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errors.KindAlreadyDefined, e.Kind)

	bad := asm.MustParse(`(unit "bad" (proc "p" (result i32) (code ref.null return)))`)
	require.Error(t, m.Load(bad))
	_, ok := m.Unit("bad")
	require.False(t, ok)
}

func TestDepthLimit(t *testing.T) {
	u := asm.MustParse(`
(unit "rec"
  (proc "down" (result i32)
    (code
      call "rec" "down" (result i32)
      return)))`)
	m := engine.New(engine.Config{MaxDepth: 64})
	require.NoError(t, m.Load(u))

	_, err := m.Call(t.Context(), "rec.down")
	var exc *engine.Exception
	require.ErrorAs(t, err, &exc)
	require.Equal(t, engine.ClassOverflow, exc.Class)
}

const genSrc = `
(unit "gen"
  (proc "add" (param $a i32) (result i32)
    (code
      local.get $a
      str.const "ask"
      call "cont" "suspend" (param ref) (result i32)
      i32.add
      return))
  (proc "wrap" (param $a i32) (result i32)
    (code
      local.get $a
      call "gen" "add" (param i32) (result i32)
      i32.const 100
      i32.add
      return))
  (proc "guarded" (result i32)
    (catch "Error" $try $h $h)
    (code
    $try:
      ref.null
      call "cont" "suspend" (param ref) (result i32)
      return
    $h:
      pop
      i32.const -1
      return))
  (proc "swallow" (result i32)
    (catch "" $try $h $h)
    (code
    $try:
      ref.null
      call "cont" "suspend" (param ref) (result i32)
      return
    $h:
      pop
      i32.const -1
      return)))`

func TestResumeIsMultiShot(t *testing.T) {
	m := load(t, genSrc, &transform.Config{}, nil)

	_, err := m.Call(t.Context(), "gen.add", int32(10))
	u, ok := cont.AsUnwind(err)
	require.True(t, ok)
	require.Equal(t, "ask", u.Payload)
	require.Equal(t, 1, u.Depth())

	for _, v := range []int32{1, 5, 1} {
		got, err := u.Head.ResumeTop(v)
		require.NoError(t, err)
		require.Equal(t, 10+v, got)
	}
}

func TestPlainCallersAreNotCaptured(t *testing.T) {
	m := load(t, genSrc, &transform.Config{}, nil)

	_, err := m.Call(t.Context(), "gen.wrap", int32(1))
	u, ok := cont.AsUnwind(err)
	require.True(t, ok)
	require.Equal(t, 1, u.Depth())
	require.Equal(t, "gen.add", u.Head.Owner)

	got, err := u.Head.ResumeTop(int32(2))
	require.NoError(t, err)
	require.Equal(t, int32(3), got)
}

func TestPropagateCapturesCallers(t *testing.T) {
	m := load(t, genSrc, &transform.Config{Propagate: true}, nil)

	_, err := m.Call(t.Context(), "gen.wrap", int32(1))
	u, ok := cont.AsUnwind(err)
	require.True(t, ok)
	require.Equal(t, 2, u.Depth())
	require.Equal(t, "gen.wrap", u.Head.Owner)
	require.Equal(t, "gen.add", u.Head.Next.Owner)

	got, err := u.Head.ResumeTop(int32(2))
	require.NoError(t, err)
	require.Equal(t, int32(103), got)
}

func TestResumeThrowReachesHandlers(t *testing.T) {
	m := load(t, genSrc, &transform.Config{}, nil)

	for _, proc := range []string{"gen.guarded", "gen.swallow"} {
		t.Run(proc, func(t *testing.T) {
			_, err := m.Call(t.Context(), proc)
			u, ok := cont.AsUnwind(err)
			require.True(t, ok, "capture signal must pass the handler")

			got, err := u.Head.ResumeTop(int32(7))
			require.NoError(t, err)
			require.Equal(t, int32(7), got)

			got, err = u.Head.ResumeThrowTop(fmt.Errorf("rejected"))
			require.NoError(t, err)
			require.Equal(t, int32(-1), got)
		})
	}
}

const windSrc = `
(unit "wind"
  (proc "nested" (param $r1 i32 $r2 i32) (result ref)
    (local $count i32 $ret ref $w ref $e ref)
    (catch "Wind" $try $end1 $wind1)
    (catch "Wind" $try $after1 $wind2)
    (catch "Unwind" $try $end3 $unwind)
    (code
      i32.const 0
      local.set $count
      str.const "default"
      local.set $ret
    $try:
      str.const "payload1"
      call "cont" "brk" (param ref) (result ref)
      local.set $ret
      local.get $count
      i32.const 1
      i32.add
      local.set $count
    $end1:
      jump $after1
    $wind1:
      local.set $w
      local.get $w
      local.get $w
      call "cont" "wind_value" (param ref) (result ref)
      str.const "-w1"
      concat
      call "cont" "set_wind_value" (param ref ref)
      local.get $count
      i32.const 1
      i32.add
      local.set $count
      local.get $r1
      i32.eqz
      jump_if $after1
      local.get $w
      throw
    $after1:
      jump $after2
    $wind2:
      local.set $w
      local.get $w
      local.get $w
      call "cont" "wind_value" (param ref) (result ref)
      str.const "-w2"
      concat
      call "cont" "set_wind_value" (param ref ref)
      local.get $count
      i32.const 1
      i32.add
      local.set $count
      local.get $r2
      i32.eqz
      jump_if $after2
      local.get $w
      throw
    $after2:
      str.const "ret1("
      local.get $ret
      concat
      str.const ","
      concat
      local.get $count
      to_str
      concat
      str.const ")"
      concat
    $end3:
      return
    $unwind:
      local.set $e
      local.get $count
      i32.const 1
      i32.add
      local.set $count
      str.const "ret2("
      local.get $e
      call "cont" "head" (param ref) (result ref)
      str.const "unwind1"
      call "cont" "resume" (param ref ref) (result ref)
      concat
      str.const ")"
      concat
      return)))`

// Each Wind handler of one activation runs at most once per wind,
// outermost first; a handler that does not re-raise ends the wind with its
// own result. Stores made while handling the capture are seen by the
// resumed copy, and stores made by a replayed handler by the later passes.
func TestNestedWindHandlers(t *testing.T) {
	m := load(t, windSrc, &transform.Config{}, nil)

	tests := []struct {
		rethrow1, rethrow2 int32
		want               string
	}{
		{0, 0, "ret2(ret1(default,2))"},
		{0, 1, "ret2(ret1(default,3))"},
		{1, 0, "ret2(ret1(default,2))"},
		{1, 1, "ret2(ret1(unwind1-w2-w1,4))"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got, err := m.Call(t.Context(), "wind.nested", tt.rethrow1, tt.rethrow2)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

const framesSrc = `
(unit "frames"
  (proc "inner" (param $wind1 i32) (result ref)
    (local $ret ref $w ref)
    (catch "Wind" $try $end $h1)
    (code
      str.const "?1"
      local.set $ret
    $try:
      str.const "payload1"
      call "cont" "brk" (param ref) (result ref)
      local.set $ret
    $end:
      jump $after
    $h1:
      local.set $w
      local.get $wind1
      i32.eqz
      jump_if $after
      local.get $w
      throw
    $after:
      local.get $ret
      return))
  (proc "middle" (param $wind1 i32 $wind2a i32 $wind2b i32) (result ref)
    (local $ret ref $w ref)
    (catch "Wind" $try $end1 $h2a)
    (catch "Wind" $try $end2 $h2b)
    (code
      str.const "?2"
      local.set $ret
    $try:
      local.get $wind1
      call "frames" "inner" (param i32) (result ref)
      local.set $ret
    $end1:
      jump $end2
    $h2a:
      local.set $w
      local.get $wind2b
      i32.eqz
      jump_if $end2
      local.get $w
      throw
    $end2:
      jump $after
    $h2b:
      local.set $w
      local.get $wind2a
      i32.eqz
      jump_if $after
      local.get $w
      throw
    $after:
      local.get $ret
      return))
  (proc "outer" (param $wind1 i32 $wind2a i32 $wind2b i32 $wind3 i32) (result ref)
    (local $count i32 $ret ref $w ref $e ref)
    (catch "Wind" $try $end1 $h3)
    (catch "Unwind" $try $end2 $unwind)
    (code
      i32.const 0
      local.set $count
      str.const "?3"
      local.set $ret
    $try:
      local.get $wind1
      local.get $wind2a
      local.get $wind2b
      call "frames" "middle" (param i32 i32 i32) (result ref)
      local.set $ret
      local.get $count
      i32.const 1
      i32.add
      local.set $count
    $end1:
      jump $after
    $h3:
      local.set $w
      local.get $count
      i32.const 1
      i32.add
      local.set $count
      local.get $wind3
      i32.eqz
      jump_if $after
      local.get $w
      throw
    $after:
      local.get $count
      i32.const 1
      i32.add
      local.set $count
      str.const "ret1("
      local.get $ret
      concat
      str.const ","
      concat
      local.get $count
      to_str
      concat
      str.const ")"
      concat
    $end2:
      return
    $unwind:
      local.set $e
      local.get $count
      i32.const 1
      i32.add
      local.set $count
      str.const "ret2("
      local.get $e
      call "cont" "head" (param ref) (result ref)
      str.const "unwind1"
      call "cont" "resume" (param ref ref) (result ref)
      concat
      local.get $count
      i32.const 1
      i32.add
      local.set $count
      str.const ","
      concat
      local.get $count
      to_str
      concat
      str.const ")"
      concat
      return)))`

// Wind handlers spread over a chain of three activations. The wind passes
// them from the outermost activation inward and stops at the first one that
// does not re-raise it; the activations below then keep their values from
// before the capture.
func TestNestedWindHandlersInSeveralFrames(t *testing.T) {
	m := load(t, framesSrc, &transform.Config{Propagate: true}, nil)

	tests := []struct {
		wind1, wind2a, wind2b, wind3 int32
		want                         string
	}{
		{1, 1, 1, 1, "ret2(ret1(unwind1,4),2)"},
		{0, 1, 1, 1, "ret2(ret1(?1,4),2)"},
		{0, 0, 1, 1, "ret2(ret1(?2,4),2)"},
		{0, 0, 0, 1, "ret2(ret1(?2,4),2)"},
		{0, 0, 0, 0, "ret2(ret1(?3,3),2)"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d%d%d%d", tt.wind1, tt.wind2a, tt.wind2b, tt.wind3), func(t *testing.T) {
			got, err := m.Call(t.Context(), "frames.outer", tt.wind1, tt.wind2a, tt.wind2b, tt.wind3)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

const monadSrc = `
(unit "monad"
  (proc "run" (param $body ref) (result ref)
    (catch "Unwind" $try $end $h)
    (code
    $try:
      local.get $body
      call_ref (result i32)
      call "test" "single" (param i32) (result ref)
    $end:
      return
    $h:
      call "test" "flat_map" (param ref) (result ref)
      return))
  (proc "pairs" (result i32)
    (local $x i32 $y i32 $r i32)
    (code
      i32.const 1
      i32.const 3
      call "test" "range" (param i32 i32) (result ref)
      call "cont" "brk" (param ref) (result i32)
      local.set $x
      i32.const 4
      i32.const 6
      call "test" "range" (param i32 i32) (result ref)
      call "cont" "brk" (param ref) (result i32)
      local.set $y
      local.get $x
      local.get $y
      i32.add
      local.set $r
      local.get $r
      i32.const 2
      i32.rem_s
      i32.eqz
      jump_if $even
      ref.null
      call "cont" "brk" (param ref) (result ref)
      pop
    $even:
      local.get $r
      return)))`

// The capture handler of run resumes the chain once per element of the
// payload and concatenates the results, a list monad over suspensions.
func TestListMonad(t *testing.T) {
	m := load(t, monadSrc, &transform.Config{IndirectCalls: true}, nil)
	require.NoError(t, m.RegisterHost("test", "range", func(_ context.Context, args []any) (any, error) {
		var out []any
		for i := args[0].(int32); i <= args[1].(int32); i++ {
			out = append(out, i)
		}
		return out, nil
	}))
	require.NoError(t, m.RegisterHost("test", "single", func(_ context.Context, args []any) (any, error) {
		return []any{args[0]}, nil
	}))
	require.NoError(t, m.RegisterHost("test", "flat_map", func(_ context.Context, args []any) (any, error) {
		u := args[0].(*cont.Unwind)
		items, _ := u.Payload.([]any)
		out := []any{}
		for _, v := range items {
			r, err := u.Head.ResumeTop(v)
			if err != nil {
				return nil, err
			}
			out = append(out, r.([]any)...)
		}
		return out, nil
	}))

	body, ok := m.Func("monad.pairs")
	require.True(t, ok)
	got, err := m.Call(t.Context(), "monad.run", body)
	require.NoError(t, err)
	require.Equal(t, []any{int32(6), int32(6), int32(8), int32(8)}, got)
}

const loopSrc = `
(unit "types"
  (proc "count" (param $out ref $num i32) (result i32)
    (local $acc i32 $i i32 $val i32)
    (code
      local.get $out
      str.const "enter-loop"
      call "io" "print" (param ref ref)
    $cond:
      local.get $i
      local.get $num
      i32.lt_s
      i32.eqz
      jump_if $exit
      local.get $out
      str.const "before-suspend: i="
      local.get $i
      to_str
      concat
      str.const ", acc="
      concat
      local.get $acc
      to_str
      concat
      call "io" "print" (param ref ref)
      local.get $i
      call "cont" "suspend" (param i32) (result i32)
      local.set $val
      local.get $acc
      local.get $val
      i32.add
      local.set $acc
      local.get $out
      str.const "after-suspend: i="
      local.get $i
      to_str
      concat
      str.const ", val="
      concat
      local.get $val
      to_str
      concat
      str.const ", acc="
      concat
      local.get $acc
      to_str
      concat
      call "io" "print" (param ref ref)
      local.get $i
      i32.const 1
      i32.add
      local.set $i
      jump $cond
    $exit:
      local.get $out
      str.const "exit-loop: acc="
      local.get $acc
      to_str
      concat
      call "io" "print" (param ref ref)
      local.get $acc
      return))
  (proc "loop" (param $out ref) (result i32)
    (local $acc i32)
    (code
      local.get $out
      str.const "loop-wrap"
      call "io" "print" (param ref ref)
      local.get $out
      i32.const 10
      call "types" "count" (param ref i32) (result i32)
      local.set $acc
      local.get $out
      str.const "loop-wrap-exit"
      call "io" "print" (param ref ref)
      local.get $acc
      return)))`

func toPlaceholder(out *bytes.Buffer) func(any) any {
	return func(v any) any {
		if b, ok := v.(*bytes.Buffer); ok && b == out {
			return cont.Placeholder{Name: "out"}
		}
		return v
	}
}

func fromPlaceholder(out *bytes.Buffer) func(any) any {
	return func(v any) any {
		if p, ok := v.(cont.Placeholder); ok && p.Name == "out" {
			return out
		}
		return v
	}
}

// A chain saved in the middle of the loop resumes on another machine, with
// the output handle swapped for a placeholder while it is persisted.
func TestSerializationAcrossMachines(t *testing.T) {
	cfg := transform.Config{Propagate: true}
	var out bytes.Buffer
	m := load(t, loopSrc, &cfg, &out)

	_, err := m.Call(t.Context(), "types.loop", &out)
	u, ok := cont.AsUnwind(err)
	require.True(t, ok)

	var saved []byte
	var got any
	for {
		require.Equal(t, 2, u.Depth())
		cur := u.Payload.(int32)
		if cur == 4 {
			cont.Substitute(u.Head, toPlaceholder(&out))
			saved, err = cont.Marshal(u.Head)
			require.NoError(t, err)
			cont.Substitute(u.Head, fromPlaceholder(&out))
		}
		got, err = u.Head.Resume(cur * 10)
		if next, ok := cont.AsUnwind(err); ok {
			u = next
			continue
		}
		require.NoError(t, err)
		break
	}
	require.Equal(t, int32(450), got)
	require.True(t, strings.HasPrefix(out.String(), "loop-wrap\nenter-loop\n"))
	require.True(t, strings.HasSuffix(out.String(), "exit-loop: acc=450\nloop-wrap-exit\n"))

	var restored bytes.Buffer
	m2 := load(t, loopSrc, &transform.Config{Propagate: true}, &restored)
	head, err := cont.Unmarshal(saved, cont.WithResolver(m2))
	require.NoError(t, err)
	cont.Substitute(head, fromPlaceholder(&restored))

	cur := int32(4)
	for {
		got, err = head.Resume(cur * 10)
		if next, ok := cont.AsUnwind(err); ok {
			head, cur = next.Head, next.Payload.(int32)
			continue
		}
		require.NoError(t, err)
		break
	}
	require.Equal(t, int32(450), got)
	require.NotContains(t, restored.String(), "enter-loop")
	require.Contains(t, restored.String(), "after-suspend: i=4, val=40, acc=100\n")
	require.True(t, strings.HasSuffix(restored.String(), "exit-loop: acc=450\nloop-wrap-exit\n"))
}

func TestUnmarshalNeedsTheMachine(t *testing.T) {
	m := load(t, genSrc, &transform.Config{}, nil)
	_, err := m.Call(t.Context(), "gen.add", int32(1))
	u, ok := cont.AsUnwind(err)
	require.True(t, ok)

	data, err := cont.Marshal(u.Head)
	require.NoError(t, err)

	_, err = cont.Unmarshal(data)
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errors.KindNotFound, e.Kind)

	head, err := cont.Unmarshal(data, cont.WithResolver(m))
	require.NoError(t, err)
	got, err := head.ResumeTop(int32(2))
	require.NoError(t, err)
	require.Equal(t, int32(3), got)
}
