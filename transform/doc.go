// Package transform rewrites compiled procedures into resumable state
// machines, giving them multi-shot, serializable continuations.
//
// # Overview
//
// The platform procedures run on only knows call, return and exceptions.
// The rewrite threads two signals through those: a capture signal
// (cont.Unwind) raised at a suspension point, which every rewritten
// activation it crosses records itself into, and a resume signal
// (cont.Wind) used to re-enter the recorded activations.
//
// # How It Works
//
// For every procedure with a suspend-capable call:
//
//  1. The entry dispatches on the frame state. State 0 runs the body.
//  2. Every store to a local that is live across some call is mirrored
//     into its frame slot.
//  3. Every suspend-capable call gets a capture handler that saves the
//     pending operands into the frame, prepends the frame to the signal
//     and re-raises it. State k restores the operands and live locals and
//     continues at the k-th call with the value delivered by the resume.
//  4. Handlers that could intercept a signal get a filter: catch-all
//     handlers let both signals pass, Signal handlers let resume signals
//     pass, Wind handlers take part in the replay of a resume.
//
// # Usage
//
//	out, changed, err := transform.Transform(data, transform.Config{
//	    Matcher:   transform.NewWildcardMatcher([]string{"cont.*", "io.read"}),
//	    Propagate: true,
//	    Verify:    true,
//	})
//
// The load-time hook in package runtime applies the same rewrite to units
// before they first run.
package transform
