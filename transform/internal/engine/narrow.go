package engine

import (
	"github.com/wippyai/ctrl/code"
)

// NarrowHandlers fixes catch-all entries whose handler lies inside the range
// they protect. Compilers emit such entries for finally blocks, and left as
// they are the injected signal filter would rethrow into itself.
//
// An entry whose range starts at its handler is dropped; any other such
// entry is cut to end at its handler. Returns the number of
// entries changed.
func NarrowHandlers(p *code.Procedure) int {
	changed := 0
	out := p.Handlers[:0]
	for _, h := range p.Handlers {
		if h.Class == code.CatchAll && h.Start <= h.Target && h.Target < h.End {
			changed++
			if h.Start == h.Target {
				continue
			}
			h.End = h.Target
		}
		out = append(out, h)
	}
	p.Handlers = out
	return changed
}
