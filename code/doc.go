// Package code defines the compiled-procedure model the transformer rewrites
// and the engine executes.
//
// A Unit holds procedures. Each Procedure is a flat instruction stream over a
// typed operand stack and typed locals, with an exception table of TryCatch
// entries. Jump targets and protected ranges are instruction indices.
//
// Five value categories exist: i32, i64, f32, f64 and ref. A resumable
// procedure carries a FrameLayout giving the number of frame slots of each
// category, and may use the frame opcodes (dispatch, slot.load, slot.store,
// slot.clear, unwind, result, skip.signal, skip.wind, check.wind).
//
// # Binary Form
//
//	magic   00 'c' 't' 'l'
//	version LEB128 (1)
//	name    LEB128 length + UTF-8
//	procs   LEB128 count, each: name, params, result, locals, vars,
//	        handlers, frame layout flag, instructions
//
// Encode and Decode round-trip every unit accepted by Validate.
//
// # Verification
//
// Analyze performs abstract interpretation of the operand stack, following
// normal and exceptional edges. Objects created by new are tracked as
// uninitialized until their init runs; they may be duplicated and swapped but
// never stored, passed to calls, returned or thrown.
package code
