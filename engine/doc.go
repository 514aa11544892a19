// Package engine interprets code units.
//
// Procedures run on an operand stack with typed locals. Besides call and
// return, the only non-local control transfer is the exception: any Go
// error propagates up the activations until a handler entry covering the
// raising instruction catches it.
//
// # Values
//
// Operands are int32, int64, float32, float64 or a reference (any Go value,
// nil for ref.null). Host function results are converted to the result type
// of the call site, so hosts may return int, bool or float values freely.
//
// # Exceptions
//
// A thrown error propagates unchanged; any other thrown value is wrapped in
// an *Exception whose class is the object's class, or "Value". Handlers
// receive the unwrapped value. Catch classes:
//
//	""        every error, signals included
//	"Signal"  *cont.Unwind and *cont.Wind
//	"Unwind"  *cont.Unwind
//	"Wind"    *cont.Wind
//	"Error"   every error that is not a signal
//	other     an *Exception of exactly that class
//
// # Resumable Procedures
//
// A procedure carrying a frame layout gets a cont.Frame on every call and is
// its own cont.Handler: winding the frame re-runs the body with zeroed
// locals and the dispatch at entry jumps to the restore block of the
// frame's state. Frames are owned by the qualified procedure name, and the
// Machine resolves owners for cont.Unmarshal:
//
//	head, err := cont.Unmarshal(data, cont.WithResolver(m))
//
// # Built-ins
//
// The cont module bridges bytecode to the frame protocol: cont.brk,
// cont.suspend, cont.resume and cont.resume_throw raise and wind chains;
// cont.head, cont.next, cont.payload, cont.wind_value and
// cont.set_wind_value inspect them. io.print writes a line.
package engine
