// Package ctrl adds multi-shot, serializable continuations to code units
// whose procedures only know call, return and exceptions.
//
// Procedures that reach a suspend-capable call are rewritten into resumable
// state machines. At run time a suspension unwinds the stack while every
// rewritten procedure records its state in a frame; resuming replays the
// recorded chain back to the suspension point, as often as needed.
//
// # Architecture Overview
//
// The module is organized into several packages with distinct responsibilities:
//
//	ctrl/
//	├── code/            Bytecode model, binary encoding and verifier
//	├── asm/             Text assembler and disassembler for code units
//	├── transform/       Rewrites procedures into resumable state machines
//	├── cont/            Frames, capture (Unwind) and resume (Wind) signals
//	├── engine/          Interpreter for code units
//	├── runtime/         High-level API: transform on load, hosts, resume
//	├── delimcc/         Delimited continuations: prompts, shift and reset
//	├── concurrency/     Cooperative AllOf and AnyOf over suspending branches
//	├── errors/          Structured error types for debugging
//	└── cmd/ctrlc/       Ahead-of-time transform CLI
//
// # Quick Start
//
// Load a unit and drive its suspensions:
//
//	rt := runtime.New(runtime.Config{})
//	rt.RegisterFuncSuspending("gen", "yield", func(v int32) (any, error) {
//	    return cont.Suspend(v)
//	})
//
//	if _, err := rt.LoadText(ctx, src); err != nil {
//	    log.Fatal(err)
//	}
//
//	_, err := rt.Call(ctx, "counter.total", int32(4))
//	for {
//	    u, ok := cont.AsUnwind(err)
//	    if !ok {
//	        break
//	    }
//	    _, err = rt.Resume(ctx, u.Head, u.Payload)
//	}
//
// # Go Code
//
// Go functions take part through cont.NewFrame and the helpers built on it
// (cont.Bind, cont.Catch, cont.Intercept). The delimcc and concurrency
// packages are written that way and mix freely with rewritten procedures.
//
// # Thread Safety
//
// Runtimes, machines and frames are not safe for concurrent use. A captured
// chain is immutable and may be resumed from any goroutine, one resume at a
// time per runtime.
package ctrl
