// Package asm reads and writes the text form of code units.
//
// A unit is an S-expression:
//
//	(unit "demo"
//	  (proc "count" (param $n i32) (result i32)
//	    (local $i i32)
//	    (catch "Error" $try $end $fail)
//	    (code
//	      i32.const 0
//	      local.set $i
//	    $try:
//	      call "host" "tick" (param i32) (result i32)
//	      ...
//	    $end:
//	      return
//	    $fail:
//	      ...)))
//
// Labels are "$name:" inside (code ...) and are referenced as "$name" by
// branches, dispatch tables, (catch class start end target) and
// (var name local start end). A resumable procedure additionally carries
// (frame i32 i64 f32 f64 ref states).
package asm

import (
	"github.com/wippyai/ctrl/asm/internal/token"
	"github.com/wippyai/ctrl/code"
	"github.com/wippyai/ctrl/errors"
)

// Parse assembles source text into a unit. The result is not verified.
func Parse(src string) (*code.Unit, error) {
	p := &parser{tokens: token.Tokenize(src)}
	u, err := p.parseUnit()
	if err != nil {
		return nil, errors.ParseFailed("unit", err)
	}
	return u, nil
}

// MustParse is Parse for sources known to be valid, such as test fixtures.
func MustParse(src string) *code.Unit {
	u, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return u
}
