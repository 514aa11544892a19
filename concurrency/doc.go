// Package concurrency runs several suspend-capable branches cooperatively on
// one thread of control and joins them into a single suspension point.
//
// Each branch is started in turn. A branch that suspends is parked and the
// next one starts. When every started branch has either finished or been
// parked, the aggregate itself suspends once; resuming a parked branch (its
// captured chain is the Head of the signal it raised) lets it run on, and
// the branch that completes the aggregate winds the caller's chain with the
// combined result.
//
// AllOf completes when every branch produced a value. AnyOf completes with
// the first value. Either way the first error wins and the branches still
// parked at that moment are canceled by resuming them with ErrCanceled; the
// aggregate is delivered only after all of them have drained. Canceled
// branches may catch ErrCanceled, clean up and even suspend again.
//
// Winding the aggregate itself from outside (for example resuming it with
// an error) cancels its branches the same way and delivers that wind once
// they have drained.
//
//	x := &cont.Unwind{}
//	v, err := concurrency.AllOf(
//	    cont.Value(10),
//	    func() (any, error) { return cont.Break(x) },
//	)
//	// err is the aggregate's capture signal; resuming x.Head with 20
//	// completes the aggregate with [10 20].
//
// A branch never runs in parallel with another: all resumptions happen on
// the goroutine that drives them, and a join must not be resumed from two
// goroutines at once.
package concurrency
