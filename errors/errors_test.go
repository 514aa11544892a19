package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseVerify,
				Kind:   KindStackMismatch,
				Path:   []string{"unit", "procs", "3"},
				Proc:   "demo.main",
				Offset: 8,
				Detail: "expected i32",
			},
			contains: []string{"[verify]", "stack_mismatch", "unit.procs.3", "demo.main@7", "expected i32"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[decode]", "out_of_bounds"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhasePersist,
				Kind:   KindNotSerialized,
				Detail: "value of type chan int",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[persist]", "not_serializable", "chan int", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_ProcWithoutOffset(t *testing.T) {
	err := &Error{Phase: PhaseTransform, Kind: KindUnsupported, Proc: "demo.f"}
	msg := err.Error()
	if !strings.Contains(msg, " in demo.f") || strings.Contains(msg, "@") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseEncode,
		Kind:  KindInvalidData,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseTransform,
		Kind:  KindUnsupported,
		Proc:  "foo",
	}

	if !err.Is(&Error{Phase: PhaseTransform, Kind: KindUnsupported}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseDecode, Kind: KindUnsupported}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseTransform, Kind: KindOutOfBounds}) {
		t.Error("Is should not match different kind")
	}

	target := &Error{Phase: PhaseTransform, Kind: KindUnsupported}
	if !errors.Is(err, target) {
		t.Error("errors.Is should match")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseVerify, KindTypeMismatch).
		Path("procs", "main").
		Proc("demo.main").
		At(0).
		Value(42).
		Cause(cause).
		Detail("expected %s, got %s", "i32", "ref").
		Build()

	if err.Phase != PhaseVerify {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseVerify)
	}
	if err.Kind != KindTypeMismatch {
		t.Errorf("Kind = %v, want %v", err.Kind, KindTypeMismatch)
	}
	if len(err.Path) != 2 || err.Path[0] != "procs" || err.Path[1] != "main" {
		t.Errorf("Path = %v, want [procs main]", err.Path)
	}
	if err.Proc != "demo.main" || err.Offset != 1 {
		t.Errorf("Proc=%v Offset=%v", err.Proc, err.Offset)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected i32, got ref" {
		t.Errorf("Detail = %v", err.Detail)
	}
	if !strings.Contains(err.Error(), "demo.main@0") {
		t.Errorf("message %q lacks location", err.Error())
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("Unsupported", func(t *testing.T) {
		err := Unsupported(PhaseTransform, "construction shape")
		if err.Kind != KindUnsupported {
			t.Errorf("Kind = %v, want %v", err.Kind, KindUnsupported)
		}
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		err := OutOfBounds(PhaseDecode, []string{"code"}, 10, 5)
		if err.Kind != KindOutOfBounds {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOutOfBounds)
		}
		if err.Value != 10 {
			t.Errorf("Value = %v, want 10", err.Value)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		err := NotFound(PhasePersist, "handler", "demo.main")
		if err.Kind != KindNotFound || !strings.Contains(err.Detail, `"demo.main"`) {
			t.Errorf("unexpected %v", err)
		}
	})

	t.Run("Verify", func(t *testing.T) {
		err := Verify(KindUninitialized, "demo.f", 3, "uninitialized %s", "ref")
		if err.Phase != PhaseVerify || err.Offset != 4 || err.Detail != "uninitialized ref" {
			t.Errorf("unexpected %+v", err)
		}
	})

	t.Run("Transform", func(t *testing.T) {
		err := Transform(KindUnsupported, "demo.f", 0, "shape")
		if err.Phase != PhaseTransform || err.Proc != "demo.f" {
			t.Errorf("unexpected %+v", err)
		}
	})

	t.Run("Wrap", func(t *testing.T) {
		cause := errors.New("io")
		err := Wrap(PhaseLoad, KindInvalidData, cause, "read unit")
		if !errors.Is(err, cause) {
			t.Error("Wrap should keep cause")
		}
	})

	t.Run("ParseFailed", func(t *testing.T) {
		err := ParseFailed("assembly", errors.New("eof"))
		if err.Phase != PhaseParse || !strings.Contains(err.Error(), "parse assembly") {
			t.Errorf("unexpected %v", err)
		}
	})
}
