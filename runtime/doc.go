// Package runtime provides the high-level API for running resumable code
// units.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt := runtime.New(runtime.Config{})
//
//	// Load a unit; it is transformed on the way in
//	mod, err := rt.LoadText(ctx, src)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Call a procedure
//	result, err := mod.Call(ctx, "main")
//
// # Loading Units
//
// The runtime supports three loading modes:
//
//	Load(bytes)      - Load a binary unit
//	LoadText(src)    - Assemble and load text
//	LoadUnit(unit)   - Load a decoded unit
//
// Units without resumable procedures are rewritten with Config.Transform
// first. Already transformed units are loaded unchanged.
//
// # Host Functions
//
// Register Go functions as host implementations:
//
//	rt.RegisterFunc("str", "repeat",
//	    func(s string, n int) string {
//	        return strings.Repeat(s, n)
//	    })
//
//	// Or implement the Host interface for a full module
//	rt.RegisterHost(myHost)
//
// Arguments are converted to the Go parameter types: operands of any numeric
// type convert to any numeric parameter, i32 converts to bool, and
// references must be assignable. A leading context.Context parameter receives
// the calling context. Results may be (T), (error) or (T, error).
//
// # Suspending Hosts
//
// A host function may suspend the calling procedures by returning the
// error of cont.Suspend. Register it with RegisterFuncSuspending, or list it
// in SuspendingHost.Suspending, so that loaded units treat calls to it as
// suspend sites:
//
//	rt.RegisterFuncSuspending("sched", "yield", func(v int32) (any, error) {
//	    return cont.Suspend(v)
//	})
//
// The captured chain is returned by Call as a *cont.Unwind error and can be
// resumed, or marshaled and resumed by another Runtime that loaded the same
// units:
//
//	u, _ := cont.AsUnwind(err)
//	data, _ := rt.Marshal(u.Head)
//	head, _ := other.Unmarshal(data)
//	v, err := other.Resume(ctx, head, 42)
//
// # Thread Safety
//
// A Runtime is NOT safe for concurrent use. Give each goroutine its own
// Runtime, or synchronize access externally.
package runtime
