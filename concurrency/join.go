package concurrency

import (
	"fmt"

	"github.com/gammazero/deque"
	"go.uber.org/zap"

	"github.com/wippyai/ctrl/cont"
)

const (
	forkOwner = "concurrency.fork"
	joinOwner = "concurrency.join"
)

func init() {
	cont.Register(forkOwner, cont.HandlerFunc(runFork))
	cont.Register(joinOwner, cont.HandlerFunc(runJoin))
}

// mode is the combination rule of a join.
type mode interface {
	ready(j *join) bool
	set(i int, v any)
	result() any
}

// join is the state shared by the frames of one aggregate. Frames reach it
// through their first reference slot, so every copy a wind produces sees the
// same join.
type join struct {
	mode     mode
	branches []cont.Supplier

	// suspended holds the head frames of the parked branches.
	suspended deque.Deque[*cont.Frame]
	// token is the aggregate's own capture signal.
	token *cont.Unwind
	// wind is an outer resume signal waiting for the branches to drain.
	wind *cont.Wind

	stopped bool
	// canceling counts the cancellations stop has not finished forking.
	// The aggregate is not wound before it drops to zero.
	canceling int
	// ignoreResult is set once the aggregate is wound from outside.
	ignoreResult bool
	err          error
}

func newJoin(m mode, branches []cont.Supplier) *join {
	return &join{
		mode:     m,
		branches: branches,
		token:    &cont.Unwind{Payload: "join"},
	}
}

func (j *join) ready() bool {
	return j.mode.ready(j)
}

// run starts the branches until the join is ready and suspends once if any
// of them is parked.
func (j *join) run() (any, error) {
	for i := 0; i < len(j.branches) && !j.ready(); i++ {
		branch := j.branches[i]
		body := func() (any, error) {
			return cont.Bind(branch, func(v any) (any, error) {
				j.mode.set(i, v)
				return nil, nil
			})
		}
		if _, err := j.fork(body); err != nil {
			return nil, err
		}
	}
	if j.suspended.Len() == 0 {
		return j.finish()
	}

	f := cont.NewFrame(joinOwner, cont.HandlerFunc(runJoin), 0, 0, 0, 0, 1)
	f.Refs[0] = j
	f.Capture(j.token, 1)
	cont.Logger().Debug("join suspended",
		zap.Int("branches", len(j.branches)),
		zap.Int("parked", j.suspended.Len()))
	return nil, j.token
}

func (j *join) finish() (any, error) {
	if j.err != nil {
		return nil, j.err
	}
	return j.mode.result(), nil
}

// runJoin resumes the aggregate. A foreign wind reaching it while branches
// are still running cancels them; the wind is held back until they drained.
func runJoin(f *cont.Frame) (any, error) {
	if f.State != 1 {
		return nil, fmt.Errorf("%w: %s", cont.ErrInvalidState, f)
	}
	j := f.Refs[0].(*join)
	_, err := f.Result()
	if w, ok := err.(*cont.Wind); ok {
		if err := f.CheckWind(w); err != nil {
			return nil, err
		}
		if !j.stopped {
			j.ignoreResult = true
			if err := j.stop(); err != nil {
				return nil, err
			}
			if j.suspended.Len() > 0 {
				cont.Logger().Debug("join draining",
					zap.Int("parked", j.suspended.Len()))
				j.wind = w
				j.token.Head = nil
				return nil, j.token
			}
		}
		return nil, w
	}
	if err != nil {
		return nil, err
	}
	return j.finish()
}

// fork runs body as one branch. A branch that suspends is parked and fork
// returns normally.
func (j *join) fork(body cont.Supplier) (any, error) {
	f := cont.NewFrame(forkOwner, cont.HandlerFunc(runFork), 0, 0, 0, 0, 3)
	f.Refs[0] = j
	f.Refs[1] = body
	return runFork(f)
}

// runFork: Refs holds the join, the branch body and the frame currently
// parked for the branch.
func runFork(f *cont.Frame) (any, error) {
	j := f.Refs[0].(*join)
	var err error
	switch f.State {
	case 0:
		_, err = f.Refs[1].(cont.Supplier)()
		if u, ok := err.(*cont.Unwind); ok {
			f.Capture(u, 1)
		}
	case 1:
		_, err = f.Result()
	default:
		return nil, fmt.Errorf("%w: %s", cont.ErrInvalidState, f)
	}

	switch e := err.(type) {
	case nil:
	case *cont.Wind:
		if err := f.CheckWind(e); err != nil {
			return nil, err
		}
		if parked, ok := f.Refs[2].(*cont.Frame); ok {
			j.remove(parked)
		}
		return nil, e
	case *cont.Unwind:
		e.Boundary()
		f.Refs[2] = e.Head
		if e.Head != nil {
			j.suspended.PushBack(e.Head)
		}
		return nil, nil
	default:
		if !j.ready() {
			j.err = err
		}
	}
	return j.settle()
}

// settle runs after a branch finished. It cancels the rest once the join is
// ready and, when every cancellation has finished or parked and nothing is
// parked any more, winds the suspended aggregate.
func (j *join) settle() (any, error) {
	if j.ready() && !j.stopped {
		if err := j.stop(); err != nil {
			return nil, err
		}
	}
	if !j.stopped || j.canceling > 0 || j.suspended.Len() > 0 || j.token.Head == nil {
		return nil, nil
	}

	head := j.token.Head
	j.token.Head = nil
	if j.ignoreResult {
		if j.wind == nil {
			return nil, nil
		}
		return head.Wind(j.wind)
	}
	if j.err != nil {
		return head.Wind(cont.Throw(j.err))
	}
	return head.Wind(cont.Return(j.mode.result()))
}

// stop cancels every parked branch. Each cancellation runs as a branch of
// its own, so a branch that suspends while handling it is parked again.
// Callers settle the aggregate once stop returns.
func (j *join) stop() error {
	j.stopped = true
	parked := make([]*cont.Frame, 0, j.suspended.Len())
	for j.suspended.Len() > 0 {
		parked = append(parked, j.suspended.PopFront())
	}
	if len(parked) > 0 {
		cont.Logger().Debug("canceling branches", zap.Int("count", len(parked)))
	}
	j.canceling = len(parked)
	for _, f := range parked {
		_, err := j.fork(func() (any, error) { return f.ResumeThrow(ErrCanceled) })
		j.canceling--
		if err != nil {
			j.canceling = 0
			return err
		}
	}
	return nil
}

func (j *join) remove(f *cont.Frame) {
	if i := j.suspended.Index(func(g *cont.Frame) bool { return g == f }); i >= 0 {
		j.suspended.Remove(i)
	}
}
