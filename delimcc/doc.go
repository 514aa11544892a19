// Package delimcc implements delimited control on top of the frame protocol
// of package cont.
//
// A Prompt delimits a dynamic scope. PushPrompt runs a block inside that
// scope; WithSubCont captures the computation between itself and the
// innermost PushPrompt of the same prompt, aborts it and hands it to a
// handler as a SubCont. PushSubCont composes a captured SubCont with the
// current computation. Every resume winds a copy, so a SubCont can be
// pushed any number of times.
//
// The derived operators differ in whether the captured continuation and the
// handler's own result are delimited again by the prompt:
//
//	Shift     both
//	Control   only the handler's result
//	Shift0    only the captured continuation
//	Control0  neither
//	Abort     drops the continuation
//
// Go code between a capture point and its prompt must itself be resumable:
// compose suspend-capable steps with Then (or cont.Bind), never with plain
// Go sequencing, so the remainder of the computation is recorded in frames.
//
//	r, err := delimcc.Reset(func(p *delimcc.Prompt[int]) (int, error) {
//	    return delimcc.Then(func() (int, error) {
//	        return delimcc.Shift(p, func(k delimcc.Continuation[int, int]) (int, error) {
//	            return k(delimcc.Pure(3))
//	        })
//	    }, func(v int) (int, error) {
//	        return v + 1, nil
//	    })
//	})
//	// r == 4
//
// Frames created here hold Go closures and cannot be marshaled.
package delimcc
