package delimcc

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/wippyai/ctrl/cont"
)

func add(n int) func(int) (int, error) {
	return func(v int) (int, error) { return n + v, nil }
}

func TestOrderOfExecution(t *testing.T) {
	var out strings.Builder
	logf := func(format string, args ...any) {
		fmt.Fprintf(&out, format+"\n", args...)
	}
	p := NewPrompt[int]("")

	r1, err := PushPrompt(p, func() (int, error) {
		logf("pushPrompt1")
		return Then(func() (int, error) {
			return WithSubCont(p, func(sk *SubCont[int, int]) (int, error) {
				logf("withSubCont1.0")
				v1, err := PushSubCont(sk, Pure(100))
				if err != nil {
					return 0, err
				}
				logf("withSubCont1.1: v1=%d", v1)
				v2, err := PushSubCont(sk, Pure(200))
				if err != nil {
					return 0, err
				}
				logf("withSubCont1.2: v2=%d", v2)
				require.Equal(t, 1000, v1)
				require.Equal(t, 2000, v2)
				return v1 + v2, nil
			})
		}, func(t1 int) (int, error) {
			logf("pushPrompt1: t1=%d", t1)
			return t1 * 10, nil
		})
	})
	require.NoError(t, err)
	require.Equal(t, 3000, r1)

	r2, err := PushPrompt(p, func() (int, error) {
		logf("pushPrompt2")
		return Then(func() (int, error) {
			return WithSubCont(p, func(sk *SubCont[int, int]) (int, error) {
				logf("withSubCont2")
				return Then(func() (int, error) {
					return PushSubCont(sk, func() (int, error) {
						logf("pushSubCont2.1")
						return Then(func() (int, error) {
							return PushSubCont(sk, func() (int, error) {
								logf("pushSubCont2.2")
								return 800, nil
							})
						}, func(t3 int) (int, error) {
							logf("pushSubCont2.1: t3=%d", t3)
							return t3 + 1, nil
						})
					})
				}, func(t2 int) (int, error) {
					logf("withSubCont2: t2=%d", t2)
					return t2 + 2, nil
				})
			})
		}, func(t1 int) (int, error) {
			logf("pushPrompt2: t1=%d", t1)
			return t1 + 3, nil
		})
	})
	require.NoError(t, err)
	require.Equal(t, 809, r2)

	require.Equal(t, `pushPrompt1
withSubCont1.0
pushPrompt1: t1=100
withSubCont1.1: v1=1000
pushPrompt1: t1=200
withSubCont1.2: v2=2000
pushPrompt2
withSubCont2
pushSubCont2.1
pushSubCont2.2
pushPrompt2: t1=800
pushSubCont2.1: t3=803
pushPrompt2: t1=804
withSubCont2: t2=807
`, out.String())
}

func concat(prefix string) func(string) (string, error) {
	return func(s string) (string, error) { return prefix + s, nil }
}

func TestShift(t *testing.T) {
	ps := NewPrompt[string]("ps")
	got, err := PushPrompt(ps, func() (string, error) {
		return Then(func() (string, error) {
			return Shift(ps, func(f Continuation[string, string]) (string, error) {
				return Then(func() (string, error) { return f(Pure("")) }, concat("a"))
			})
		}, func(x string) (string, error) {
			return Shift(ps, func(Continuation[string, string]) (string, error) { return x, nil })
		})
	})
	require.NoError(t, err)
	require.Equal(t, "a", got)
}

func TestShift0(t *testing.T) {
	ps := NewPrompt[string]("ps")

	got, err := PushPrompt(ps, func() (string, error) {
		return Then(func() (string, error) {
			return Shift0(ps, func(Continuation[string, string]) (string, error) { return "", nil })
		}, concat("a"))
	})
	require.NoError(t, err)
	require.Equal(t, "", got)

	got, err = PushPrompt(ps, func() (string, error) {
		return Then(func() (string, error) {
			return PushPrompt(ps, func() (string, error) {
				return Shift0(ps, func(f Continuation[string, string]) (string, error) {
					return f(func() (string, error) {
						return Shift0(ps, func(Continuation[string, string]) (string, error) { return "", nil })
					})
				})
			})
		}, concat("a"))
	})
	require.NoError(t, err)
	require.Equal(t, "a", got)
}

func TestControl(t *testing.T) {
	ps := NewPrompt[string]("ps")
	run := func(second func(xv string, g Continuation[string, string]) (string, error)) (string, error) {
		return PushPrompt(ps, func() (string, error) {
			return Then(func() (string, error) {
				return Control(ps, func(f Continuation[string, string]) (string, error) {
					return Then(func() (string, error) { return f(Pure("")) }, concat("a"))
				})
			}, func(xv string) (string, error) {
				return Control(ps, func(g Continuation[string, string]) (string, error) { return second(xv, g) })
			})
		})
	}

	got, err := run(func(xv string, _ Continuation[string, string]) (string, error) { return xv, nil })
	require.NoError(t, err)
	require.Equal(t, "", got)

	got, err = run(func(xv string, g Continuation[string, string]) (string, error) { return g(Pure(xv)) })
	require.NoError(t, err)
	require.Equal(t, "a", got)
}

func TestControl0(t *testing.T) {
	p := NewPrompt[int]("")
	got, err := PushPrompt(p, func() (int, error) {
		return Control0(p, func(f Continuation[int, int]) (int, error) { return f(Pure(2)) })
	})
	require.NoError(t, err)
	require.Equal(t, 2, got)
}

func TestExpressions(t *testing.T) {
	p := NewPrompt[int]("")
	p1 := NewPrompt[int]("p1")
	p2 := NewPrompt[int]("p2")
	p3 := NewPrompt[int]("p3")
	p2L := NewPrompt[int]("p2L")
	p2R := NewPrompt[int]("p2R")

	pushtwice := func(sk *SubCont[int, int]) (int, error) {
		return PushSubCont(sk, func() (int, error) { return PushSubCont(sk, Pure(3)) })
	}
	pushtwice2 := func(sk *SubCont[int, int]) (int, error) {
		return PushSubCont(sk, func() (int, error) {
			return PushSubCont(sk, func() (int, error) {
				return WithSubCont(p2, func(sk2 *SubCont[int, int]) (int, error) {
					return PushSubCont(sk2, func() (int, error) { return PushSubCont(sk2, Pure(3)) })
				})
			})
		})
	}
	pushtwiceF := func(f Continuation[int, int]) (int, error) {
		return f(func() (int, error) {
			return f(func() (int, error) {
				return Shift0(p2, func(f2 Continuation[int, int]) (int, error) {
					return f2(func() (int, error) { return f2(Pure(3)) })
				})
			})
		})
	}
	// nest builds 1 + PushPrompt(p2, 10 + PushPrompt(p3, body)) under p1.
	nest := func(body Supplier[int]) (int, error) {
		return PushPrompt(p1, func() (int, error) {
			return Then(func() (int, error) {
				return PushPrompt(p2, func() (int, error) {
					return Then(func() (int, error) { return PushPrompt(p3, body) }, add(10))
				})
			}, add(1))
		})
	}

	tests := []struct {
		name string
		want int
		run  func() (int, error)
	}{
		{"nested prompts", 9, func() (int, error) {
			return Then(func() (int, error) {
				return PushPrompt(p, func() (int, error) { return PushPrompt(p, Pure(5)) })
			}, add(4))
		}},
		{"abort", 9, func() (int, error) {
			return Then(func() (int, error) {
				return PushPrompt(p, func() (int, error) {
					return Then(func() (int, error) { return Abort[int](p, Pure(5)) }, add(6))
				})
			}, add(4))
		}},
		{"abort inner then outer", 27, func() (int, error) {
			return Then(func() (int, error) {
				return PushPrompt(p, func() (int, error) {
					return Then(func() (int, error) {
						return PushPrompt(p, func() (int, error) {
							return Then(func() (int, error) { return Abort[int](p, Pure(5)) }, add(6))
						})
					}, func(v1 int) (int, error) {
						return Then(func() (int, error) { return Abort[int](p, Pure(7)) }, add(v1+10))
					})
				})
			}, add(20))
		}},
		{"push under prompt", 35, func() (int, error) {
			return Then(func() (int, error) {
				return PushPrompt(p, func() (int, error) {
					return Then(func() (int, error) {
						return WithSubCont(p, func(sk *SubCont[int, int]) (int, error) {
							return PushPrompt(p, func() (int, error) { return PushSubCont(sk, Pure(5)) })
						})
					}, add(10))
				})
			}, add(20))
		}},
		{"abort inside pushed continuation", 35, func() (int, error) {
			return Then(func() (int, error) {
				return PushPrompt(p, func() (int, error) {
					return Then(func() (int, error) {
						return WithSubCont(p, func(sk *SubCont[int, int]) (int, error) {
							return PushSubCont(sk, func() (int, error) {
								return PushPrompt(p, func() (int, error) {
									return PushSubCont(sk, func() (int, error) { return Abort[int](p, Pure(5)) })
								})
							})
						})
					}, add(10))
				})
			}, add(20))
		}},
		{"shift twice", 117, func() (int, error) {
			return Then(func() (int, error) {
				return PushPrompt(p, func() (int, error) {
					return Then(func() (int, error) {
						return Shift(p, func(sk Continuation[int, int]) (int, error) {
							return Then(func() (int, error) {
								return sk(func() (int, error) { return sk(Pure(3)) })
							}, add(100))
						})
					}, add(2))
				})
			}, add(10))
		}},
		{"shift with a second prompt", 115, func() (int, error) {
			return Then(func() (int, error) {
				return PushPrompt(p2L, func() (int, error) {
					return Then(func() (int, error) {
						return Shift(p2L, func(sk Continuation[int, int]) (int, error) {
							return Then(func() (int, error) {
								return sk(func() (int, error) {
									return PushPrompt(p2R, func() (int, error) {
										return sk(func() (int, error) {
											return sk(func() (int, error) { return Abort[int](p2R, Pure(3)) })
										})
									})
								})
							}, add(100))
						})
					}, add(2))
				})
			}, add(10))
		}},
		{"push twice", 15, func() (int, error) {
			return Then(func() (int, error) {
				return PushPrompt(p1, func() (int, error) {
					return Then(func() (int, error) {
						return PushPrompt(p2, func() (int, error) { return WithSubCont(p1, pushtwice) })
					}, add(1))
				})
			}, add(10))
		}},
		{"push twice through an inner capture", 135, func() (int, error) {
			return Then(func() (int, error) {
				return nest(func() (int, error) { return WithSubCont(p1, pushtwice2) })
			}, add(100))
		}},
		{"shift0 twice through an inner shift0", 135, func() (int, error) {
			return Then(func() (int, error) {
				return nest(func() (int, error) { return Shift0(p1, pushtwiceF) })
			}, add(100))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.run()
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestReset(t *testing.T) {
	got, err := Reset(func(p *Prompt[int]) (int, error) {
		return Then(func() (int, error) {
			return Shift(p, func(k Continuation[int, int]) (int, error) { return k(Pure(3)) })
		}, add(1))
	})
	require.NoError(t, err)
	require.Equal(t, 4, got)
}

func TestPromptNames(t *testing.T) {
	a := NewPrompt[int]("")
	b := NewPrompt[string]("")
	require.True(t, strings.HasPrefix(a.String(), "p"))
	require.NotEqual(t, a.String(), b.String())
	require.Equal(t, "named", NewPrompt[int]("named").String())
}

func TestUndelimitedCaptureEscapes(t *testing.T) {
	p := NewPrompt[int]("outer")
	q := NewPrompt[int]("other")
	_, err := PushPrompt(q, func() (int, error) {
		return Abort[int](p, Pure(1))
	})
	u, ok := cont.AsUnwind(err)
	require.True(t, ok)
	require.Equal(t, 2, u.Depth())
}

func TestPushEmptySubCont(t *testing.T) {
	_, err := PushSubCont(&SubCont[int, int]{}, Pure(1))
	require.Error(t, err)
}

func TestTypeMismatch(t *testing.T) {
	p := NewPrompt[int]("")
	_, err := PushPrompt(p, func() (int, error) {
		return Then(func() (int, error) {
			return WithSubCont(p, func(sk *SubCont[int, int]) (int, error) {
				// Resuming with a value of the wrong type bypasses the typed API.
				v, err := sk.Frame().Resume("three")
				if err != nil {
					return 0, err
				}
				return v.(int), nil
			})
		}, add(1))
	})
	require.Error(t, err)
}

// A multi-shot continuation applied to any two values behaves like the
// function it captured.
func TestShiftAppliesCapturedFunction(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.IntRange(-1000, 1000).Draw(t, "a")
		b := rapid.IntRange(-1000, 1000).Draw(t, "b")
		m := rapid.IntRange(-10, 10).Draw(t, "m")

		got, err := Reset(func(p *Prompt[int]) (int, error) {
			return Then(func() (int, error) {
				return Shift(p, func(k Continuation[int, int]) (int, error) {
					return Then(func() (int, error) { return k(Pure(a)) }, func(x int) (int, error) {
						return Then(func() (int, error) { return k(Pure(b)) }, add(x))
					})
				})
			}, func(v int) (int, error) { return v * m, nil })
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := a*m + b*m; got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
	})
}
