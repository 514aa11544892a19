// Package cont is the runtime support for resumable procedures.
//
// A resumable activation is a Frame: typed slot arrays, a resume State, the
// Owner identity of its procedure and a link to the activation it was
// calling. Suspension raises an Unwind signal through ordinary error returns;
// every resumable activation it crosses records its state and prepends its
// frame, so Unwind.Head is the outermost captured frame.
//
// Resuming winds a copy of the chain with a Wind signal:
//
//	v, err := head.Resume(42)
//
// Each frame is entered three ways. Probe counts the handlers in the
// activation that would catch the Wind, Replay runs the activation once per
// counted handler so each sees the Wind exactly once, outermost first, and
// Deliver re-enters the callee chain and hands over the value. Captured
// frames are never mutated, so a chain can be resumed any number of times.
//
// # Go-native resumable code
//
// Code written by hand follows the same protocol as rewritten procedures:
// keep all locals in frame slots, switch on f.State, call Capture when a
// callee returns an Unwind, call Result at the resume point and CheckWind
// in handlers that catch Wind. Register the handler from init so
// Unmarshal can recover it:
//
//	func init() { cont.Register("app.step", cont.HandlerFunc(runStep)) }
//
// Bind and Intercept are built this way.
//
// # Persistence
//
// Marshal writes a chain as an ordered list of frame records, following Next
// links and frames held in reference slots. Values without a built-in form
// need a ValueCodec, or can be swapped for a Placeholder with Substitute and
// restored after Unmarshal.
package cont
