// Package errors provides structured error types for the ctrl module.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the procedure and instruction index it refers to, a field
// path for decoders and an optional cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseVerify, errors.KindStackMismatch).
//		Proc("demo.main").
//		At(12).
//		Detail("expected i32, got ref").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Transform(errors.KindUnsupported, "demo.main", 4, "construction shape")
//	err := errors.OutOfBounds(errors.PhaseDecode, path, 10, 5)
//
// Capture and resume signals are not errors of this package; they live in
// package cont and travel through ordinary error returns.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
