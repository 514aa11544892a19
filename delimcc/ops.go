package delimcc

// Reset runs body with a fresh prompt delimiting it.
func Reset[A any](body func(p *Prompt[A]) (A, error)) (A, error) {
	p := NewPrompt[A]("")
	return PushPrompt(p, func() (A, error) { return body(p) })
}

// Shift captures and aborts the continuation up to p and runs body with it.
// Both the captured continuation and body's result are delimited by p.
func Shift[A, B any](p *Prompt[B], body func(k Continuation[A, B]) (B, error)) (A, error) {
	return WithSubCont(p, func(sk *SubCont[A, B]) (B, error) {
		return PushPrompt(p, func() (B, error) {
			return body(func(a Supplier[A]) (B, error) {
				return PushPrompt(p, func() (B, error) { return PushSubCont(sk, a) })
			})
		})
	})
}

// Control is Shift without delimiting the captured continuation.
func Control[A, B any](p *Prompt[B], body func(k Continuation[A, B]) (B, error)) (A, error) {
	return WithSubCont(p, func(sk *SubCont[A, B]) (B, error) {
		return PushPrompt(p, func() (B, error) {
			return body(func(a Supplier[A]) (B, error) { return PushSubCont(sk, a) })
		})
	})
}

// Shift0 is Shift without delimiting body's result.
func Shift0[A, B any](p *Prompt[B], body func(k Continuation[A, B]) (B, error)) (A, error) {
	return WithSubCont(p, func(sk *SubCont[A, B]) (B, error) {
		return body(func(a Supplier[A]) (B, error) {
			return PushPrompt(p, func() (B, error) { return PushSubCont(sk, a) })
		})
	})
}

// Control0 delimits neither the captured continuation nor body's result.
func Control0[A, B any](p *Prompt[B], body func(k Continuation[A, B]) (B, error)) (A, error) {
	return WithSubCont(p, func(sk *SubCont[A, B]) (B, error) {
		return body(func(a Supplier[A]) (B, error) { return PushSubCont(sk, a) })
	})
}

// Abort discards the continuation up to p; the PushPrompt for p returns the
// value of body.
func Abort[A, B any](p *Prompt[B], body Supplier[B]) (A, error) {
	return WithSubCont(p, func(*SubCont[A, B]) (B, error) { return body() })
}
