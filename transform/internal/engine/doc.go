// Package engine rewrites procedures into resumable state machines.
//
// Transformation pipeline, per procedure:
//  1. Find reachable suspend-capable calls (sites)
//  2. Narrow catch-all entries that protect their own handler
//  3. Stage object constructions pending across a site
//  4. Compute operand stacks and live locals at every site
//  5. Allocate frame slots, sharing indices between disjoint scopes
//  6. Emit dispatch, write-through stores, capture and restore blocks
package engine
