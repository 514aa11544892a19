package code

// Unit is a named collection of procedures, the unit of transformation and loading.
type Unit struct {
	Name  string
	Procs []*Procedure
}

// Proc returns the procedure with the given name, or nil.
func (u *Unit) Proc(name string) *Procedure {
	for _, p := range u.Procs {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Qualified returns the process-wide identity of a procedure in this unit.
func (u *Unit) Qualified(p *Procedure) string {
	return u.Name + "." + p.Name
}

// Signature describes parameter and result types of a callable.
type Signature struct {
	Params []ValType
	Result ValType
}

// Equal reports whether two signatures are identical.
func (s Signature) Equal(o Signature) bool {
	if s.Result != o.Result || len(s.Params) != len(o.Params) {
		return false
	}
	for i := range s.Params {
		if s.Params[i] != o.Params[i] {
			return false
		}
	}
	return true
}

// Procedure is a compiled procedure body.
//
// The local index space starts with the parameters followed by Locals.
// Jump targets and handler ranges are instruction indices into Code.
type Procedure struct {
	Frame    *FrameLayout
	Name     string
	Params   []ValType
	Locals   []ValType
	Vars     []Var
	Handlers []TryCatch
	Code     []Instruction
	Result   ValType
}

// Sig returns the procedure signature.
func (p *Procedure) Sig() Signature {
	return Signature{Params: p.Params, Result: p.Result}
}

// NumLocals returns the size of the local index space.
func (p *Procedure) NumLocals() int {
	return len(p.Params) + len(p.Locals)
}

// LocalType returns the declared type of a local.
func (p *Procedure) LocalType(idx uint32) (ValType, bool) {
	i := int(idx)
	if i < len(p.Params) {
		return p.Params[i], true
	}
	i -= len(p.Params)
	if i < len(p.Locals) {
		return p.Locals[i], true
	}
	return Void, false
}

// AddLocal appends a fresh local of the given type and returns its index.
func (p *Procedure) AddLocal(t ValType) uint32 {
	p.Locals = append(p.Locals, t)
	return uint32(p.NumLocals() - 1)
}

// Resumable reports whether the procedure has been rewritten into a state machine.
func (p *Procedure) Resumable() bool {
	return p.Frame != nil
}

// Clone returns a deep copy of the procedure.
func (p *Procedure) Clone() *Procedure {
	c := *p
	c.Params = append([]ValType(nil), p.Params...)
	c.Locals = append([]ValType(nil), p.Locals...)
	c.Vars = append([]Var(nil), p.Vars...)
	c.Handlers = append([]TryCatch(nil), p.Handlers...)
	c.Code = append([]Instruction(nil), p.Code...)
	if p.Frame != nil {
		f := *p.Frame
		c.Frame = &f
	}
	return &c
}

// Var declares the scope of one variable living in a local.
// A local may host several variables with disjoint scopes.
// Start and End delimit the instructions [Start, End) where the variable is
// stored or read, the initializing store included.
type Var struct {
	Name  string
	Local uint32
	Start int
	End   int
}

// Catch classes with special meaning. Any other class matches an exception
// raised with exactly that class name.
const (
	CatchAll    = ""       // every error, signals included
	CatchSignal = "Signal" // capture and resume signals
	CatchUnwind = "Unwind" // capture signals
	CatchWind   = "Wind"   // resume signals
	CatchError  = "Error"  // every error that is not a signal
)

// TryCatch is one exception table entry protecting [Start, End).
// Entries are searched in order; the first match wins.
type TryCatch struct {
	Class  string
	Start  int
	End    int
	Target int
}

// Covers reports whether the entry protects instruction i.
func (h TryCatch) Covers(i int) bool {
	return i >= h.Start && i < h.End
}

// FrameLayout is attached to resumable procedures.
type FrameLayout struct {
	Slots  [NumCategories]uint32
	States uint32
}

// ValType is the type of a local, operand or result.
type ValType byte

const (
	Void ValType = iota
	I32
	I64
	F32
	F64
	Ref
)

func (v ValType) String() string {
	switch v {
	case Void:
		return "void"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case Ref:
		return "ref"
	default:
		return "unknown"
	}
}

// Valid reports whether v names a value type (void excluded).
func (v ValType) Valid() bool {
	return v >= I32 && v <= Ref
}

// Category returns the slot category values of this type are stored in.
func (v ValType) Category() Category {
	return Category(v - I32)
}

// ParseValType parses the textual name of a type.
func ParseValType(s string) (ValType, bool) {
	switch s {
	case "void":
		return Void, true
	case "i32":
		return I32, true
	case "i64":
		return I64, true
	case "f32":
		return F32, true
	case "f64":
		return F64, true
	case "ref":
		return Ref, true
	}
	return Void, false
}

// Category indexes one of the five typed slot arrays of a frame.
type Category uint8

const (
	CatI32 Category = iota
	CatI64
	CatF32
	CatF64
	CatRef
	NumCategories = 5
)

// Type returns the value type stored in the category.
func (c Category) Type() ValType {
	return ValType(c) + I32
}

func (c Category) String() string {
	return c.Type().String()
}
