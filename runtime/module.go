package runtime

import (
	"context"
	"strings"

	"github.com/wippyai/ctrl/code"
)

// Module is a unit loaded into a Runtime.
type Module struct {
	runtime *Runtime
	unit    *code.Unit
}

func (m *Module) Name() string {
	return m.unit.Name
}

// Unit returns the loaded, possibly transformed, unit.
func (m *Module) Unit() *code.Unit {
	return m.unit
}

type Export struct {
	Name      string
	Signature code.Signature
	Resumable bool
}

// Exports lists the procedures of the module in declaration order.
func (m *Module) Exports() []Export {
	exports := make([]Export, len(m.unit.Procs))
	for i, p := range m.unit.Procs {
		exports[i] = Export{Name: p.Name, Signature: p.Sig(), Resumable: p.Resumable()}
	}
	return exports
}

// Call runs a procedure of this module. name may be qualified or not.
func (m *Module) Call(ctx context.Context, name string, args ...any) (any, error) {
	if !strings.HasPrefix(name, m.unit.Name+".") {
		name = m.unit.Name + "." + name
	}
	return m.runtime.Call(ctx, name, args...)
}
