package runtime

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wippyai/ctrl/asm"
	"github.com/wippyai/ctrl/code"
	"github.com/wippyai/ctrl/cont"
	"github.com/wippyai/ctrl/transform"
)

const schedSrc = `
(unit "job"
  (proc "sum" (param $n i32) (result i32)
    (local $i i32 $acc i32)
    (code
    $cond:
      local.get $i
      local.get $n
      i32.lt_s
      i32.eqz
      jump_if $exit
      local.get $i
      call "sched" "yield" (param i32) (result i32)
      local.get $acc
      i32.add
      local.set $acc
      local.get $i
      i32.const 1
      i32.add
      local.set $i
      jump $cond
    $exit:
      local.get $acc
      return))
  (proc "greet" (param $who ref) (result ref)
    (code
      local.get $who
      i32.const 2
      call "str" "repeat" (param ref i32) (result ref)
      return)))`

func newSchedRuntime(t *testing.T, out *bytes.Buffer) *Runtime {
	t.Helper()
	rt := New(Config{Output: out})
	if err := rt.RegisterFuncSuspending("sched", "yield", func(v int32) (any, error) {
		return cont.Suspend(v)
	}); err != nil {
		t.Fatal(err)
	}
	if err := rt.RegisterFunc("str", "repeat", strings.Repeat); err != nil {
		t.Fatal(err)
	}
	return rt
}

func TestLoadTextAndCall(t *testing.T) {
	ctx := context.Background()
	rt := newSchedRuntime(t, nil)
	mod, err := rt.LoadText(ctx, schedSrc)
	if err != nil {
		t.Fatalf("LoadText: %v", err)
	}
	if mod.Name() != "job" {
		t.Errorf("Name() = %q", mod.Name())
	}

	exports := mod.Exports()
	if len(exports) != 2 || !exports[0].Resumable || exports[1].Resumable {
		t.Errorf("exports = %+v, want only sum resumable", exports)
	}

	got, err := mod.Call(ctx, "greet", "ab")
	if err != nil || got != "abab" {
		t.Errorf("greet = %v, %v", got, err)
	}
	got, err = mod.Call(ctx, "sum", int32(0))
	if err != nil || got != int32(0) {
		t.Errorf("sum(0) = %v, %v", got, err)
	}
}

func drive(t *testing.T, rt *Runtime, u *cont.Unwind) any {
	t.Helper()
	for {
		v := u.Payload.(int32) * 10
		got, err := rt.Resume(context.Background(), u.Head, v)
		if next, ok := cont.AsUnwind(err); ok {
			u = next
			continue
		}
		if err != nil {
			t.Fatalf("resume: %v", err)
		}
		return got
	}
}

func TestSuspendingHost(t *testing.T) {
	ctx := context.Background()
	rt := newSchedRuntime(t, nil)
	if _, err := rt.LoadText(ctx, schedSrc); err != nil {
		t.Fatal(err)
	}

	_, err := rt.Call(ctx, "job.sum", int32(4))
	u, ok := cont.AsUnwind(err)
	if !ok {
		t.Fatalf("Call err = %v, want a capture signal", err)
	}
	if got := drive(t, rt, u); got != int32(60) {
		t.Errorf("sum = %v, want 60", got)
	}
}

func TestResumeOnAnotherRuntime(t *testing.T) {
	ctx := context.Background()
	data, err := asm.MustParse(schedSrc).Encode()
	if err != nil {
		t.Fatal(err)
	}

	first := newSchedRuntime(t, nil)
	if _, err := first.Load(ctx, data); err != nil {
		t.Fatal(err)
	}
	_, err = first.Call(ctx, "job.sum", int32(5))
	u, _ := cont.AsUnwind(err)
	for u.Payload.(int32) < 2 {
		_, err = first.Resume(ctx, u.Head, u.Payload.(int32)*10)
		u, _ = cont.AsUnwind(err)
	}
	saved, err := first.Marshal(u.Head)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	second := newSchedRuntime(t, nil)
	if _, err := second.Load(ctx, data); err != nil {
		t.Fatal(err)
	}
	head, err := second.Unmarshal(saved)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	got := drive(t, second, &cont.Unwind{Head: head, Payload: int32(2)})
	if got != int32(100) {
		t.Errorf("sum = %v, want 100", got)
	}
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	rt := New(Config{})

	if _, err := rt.Load(ctx, []byte("junk")); err == nil {
		t.Error("expected an error for a non-unit binary")
	}
	if _, err := rt.LoadText(ctx, `(unit`); err == nil {
		t.Error("expected a parse error")
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := rt.LoadText(canceled, schedSrc); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}

	if _, err := rt.LoadText(ctx, `(unit "a" (proc "p" (code return)))`); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.LoadText(ctx, `(unit "a" (proc "p" (code return)))`); err == nil {
		t.Error("expected an error loading a unit twice")
	}
}

func TestTransformFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.unit")
	out := filepath.Join(dir, "out.unit")

	data, err := asm.MustParse(schedSrc).Encode()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(in, data, 0o644); err != nil {
		t.Fatal(err)
	}

	changed, err := TransformFile(in, out, transform.Config{SuspendCalls: []string{"sched.yield"}, Verify: true})
	if err != nil {
		t.Fatalf("TransformFile: %v", err)
	}
	if !changed {
		t.Fatal("expected the unit to change")
	}
	written, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !transform.IsTransformed(written) {
		t.Error("output is not transformed")
	}
	u, err := code.Decode(written)
	if err != nil || !u.Proc("sum").Resumable() {
		t.Errorf("decoded output: %v", err)
	}

	if _, err := TransformFile(filepath.Join(dir, "missing"), out, transform.Config{}); err == nil {
		t.Error("expected an error for a missing input")
	}
}
