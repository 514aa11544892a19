package engine

import (
	"sort"

	"github.com/wippyai/ctrl/code"
	"github.com/wippyai/ctrl/errors"
)

// construction is one new..init sequence that has to be moved past a
// suspend site.
type construction struct {
	newAt  int
	initAt int
	dups   int
}

// StageConstructions rewrites object constructions whose uninitialized
// references would sit on the operand stack across a suspend site.
//
// The new and the dups copying its reference are removed. Before the
// matching init the arguments are stored to fresh locals, the new and its
// dups are emitted again and the arguments reloaded:
//
//	new C; dup; <args>; init C     =>     <args>; set t..; new C; dup; get t..; init C
//
// Only dups may follow the new. Any other shape is rejected. Returns the
// number of staged constructions.
func StageConstructions(p *code.Procedure, a *code.Analysis, sites []int) (int, error) {
	staged := map[int]*construction{}
	for _, s := range sites {
		for _, v := range a.Stacks[s] {
			if v.Uninit() {
				staged[v.New-1] = &construction{newAt: v.New - 1, initAt: -1}
			}
		}
	}
	if len(staged) == 0 {
		return 0, nil
	}

	byInit := map[int]*construction{}
	for i, ins := range p.Code {
		if ins.Opcode != code.OpInit || !a.Reachable(i) {
			continue
		}
		st := a.Stacks[i]
		imm := ins.Imm.(code.InitImm)
		recv := st[len(st)-len(imm.Params)-1]
		c, ok := staged[recv.New-1]
		if !ok || !recv.Uninit() {
			continue
		}
		if c.initAt >= 0 {
			return 0, errors.Transform(errors.KindUnsupported, p.Name, i,
				"construction at %d is initialized at %d and %d", c.newAt, c.initAt, i)
		}
		c.initAt = i
		byInit[i] = c
	}

	removed := map[int]bool{}
	for _, c := range staged {
		if c.initAt < 0 {
			return 0, errors.Transform(errors.KindUnsupported, p.Name, c.newAt,
				"construction is never initialized")
		}
		for j := c.newAt + 1; j < len(p.Code) && p.Code[j].Opcode == code.OpDup; j++ {
			c.dups++
		}
		st := a.Stacks[c.initAt]
		nargs := len(p.Code[c.initAt].Imm.(code.InitImm).Params)
		copies, top := 0, len(st)-nargs
		for k, v := range st {
			if v.New == c.newAt+1 {
				copies++
				if k < top-c.dups-1 || k >= top {
					copies = -1
					break
				}
			}
		}
		if copies != c.dups+1 {
			return 0, errors.Transform(errors.KindUnsupported, p.Name, c.newAt,
				"construction shape is not new followed by dups")
		}
		for j := c.newAt; j <= c.newAt+c.dups; j++ {
			removed[j] = true
		}
	}

	b := &builder{}
	orig := b.newLabels(len(p.Code) + 1)
	for i, ins := range p.Code {
		b.mark(orig[i])
		if removed[i] {
			continue
		}
		c, ok := byInit[i]
		if !ok {
			b.remap(ins, orig)
			continue
		}
		params := ins.Imm.(code.InitImm).Params
		temps := make([]uint32, len(params))
		for k, t := range params {
			temps[k] = p.AddLocal(t)
		}
		for k := len(temps) - 1; k >= 0; k-- {
			b.localSet(temps[k])
		}
		b.emit(p.Code[c.newAt])
		for k := 0; k < c.dups; k++ {
			b.op(code.OpDup)
		}
		for _, t := range temps {
			b.localGet(t)
		}
		b.emit(ins)
	}
	b.mark(orig[len(p.Code)])

	out, err := b.finish()
	if err != nil {
		return 0, errors.Transform(errors.KindInvalidData, p.Name, 0, "%v", err)
	}
	p.Handlers = remapHandlers(b, p.Handlers, orig)
	p.Vars = remapVars(b, p.Vars, orig)
	p.Code = out

	news := make([]int, 0, len(staged))
	for at := range staged {
		news = append(news, at)
	}
	sort.Ints(news)
	debugf("%s: staged constructions at %v", p.Name, news)
	return len(staged), nil
}
