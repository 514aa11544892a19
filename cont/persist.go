package cont

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/ctrl/errors"
	"github.com/wippyai/ctrl/internal/binary"
)

// chainMagic starts every serialized frame chain.
var chainMagic = [4]byte{0x00, 'c', 'f', 'r'}

const chainVersion = 1

// Placeholder stands in for a captured value that cannot be serialized,
// such as a live output handle. Swap values for placeholders with
// Substitute before Marshal and back after Unmarshal.
type Placeholder struct {
	Name string
}

// ValueCodec serializes captured values of application types.
type ValueCodec interface {
	// Name identifies the codec in the serialized form.
	Name() string
	// Accepts reports whether the codec handles v.
	Accepts(v any) bool
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// Option configures Marshal and Unmarshal.
type Option func(*persistConfig)

type persistConfig struct {
	codecs    []ValueCodec
	resolvers []Resolver
}

// WithCodec adds a codec for application values.
func WithCodec(c ValueCodec) Option {
	return func(cfg *persistConfig) { cfg.codecs = append(cfg.codecs, c) }
}

// WithResolver adds a resolver consulted before the process-wide registry.
func WithResolver(r Resolver) Option {
	return func(cfg *persistConfig) { cfg.resolvers = append(cfg.resolvers, r) }
}

func newPersistConfig(opts []Option) *persistConfig {
	cfg := &persistConfig{}
	for _, o := range opts {
		o(cfg)
	}
	cfg.resolvers = append(cfg.resolvers, defaultRegistry)
	return cfg
}

// value tags
const (
	tagNil byte = iota
	tagBool
	tagInt
	tagInt32
	tagInt64
	tagUint32
	tagFloat32
	tagFloat64
	tagString
	tagBytes
	tagList
	tagFrame
	tagPlaceholder
	tagCodec
)

// Substitute replaces every reference slot value v of every frame reachable
// from head with fn(v). Frames are reached through Next links and through
// reference slots holding frames.
func Substitute(head *Frame, fn func(v any) any) {
	walkFrames(head, func(f *Frame) {
		for i, v := range f.Refs {
			f.Refs[i] = fn(v)
		}
	})
}

func walkFrames(head *Frame, visit func(f *Frame)) {
	seen := map[*Frame]bool{}
	var walkValue func(v any)
	var walk func(f *Frame)
	walk = func(f *Frame) {
		for ; f != nil && !seen[f]; f = f.Next {
			seen[f] = true
			visit(f)
			for _, v := range f.Refs {
				walkValue(v)
			}
		}
	}
	walkValue = func(v any) {
		switch x := v.(type) {
		case *Frame:
			walk(x)
		case []any:
			for _, e := range x {
				walkValue(e)
			}
		}
	}
	walk(head)
}

// Marshal serializes the chain starting at head. The form is an ordered
// list of records (owner, state, five slot arrays, link to next); frames
// referenced from slots are included and shared references are preserved.
// Handlers are not serialized.
func Marshal(head *Frame, opts ...Option) ([]byte, error) {
	if head == nil {
		return nil, errors.InvalidInput(errors.PhasePersist, "nil frame chain")
	}
	cfg := newPersistConfig(opts)

	index := map[*Frame]int{}
	var order []*Frame
	walkFrames(head, func(f *Frame) {
		index[f] = len(order)
		order = append(order, f)
	})

	w := binary.NewWriter()
	w.WriteBytes(chainMagic[:])
	w.WriteU32(chainVersion)
	w.WriteU32(uint32(len(order)))
	for _, f := range order {
		w.WriteName(f.Owner)
		w.WriteU32(f.State)
		w.WriteU32(uint32(len(f.I32)))
		for _, v := range f.I32 {
			w.WriteS32(v)
		}
		w.WriteU32(uint32(len(f.I64)))
		for _, v := range f.I64 {
			w.WriteS64(v)
		}
		w.WriteU32(uint32(len(f.F32)))
		for _, v := range f.F32 {
			w.WriteFloat32(v)
		}
		w.WriteU32(uint32(len(f.F64)))
		for _, v := range f.F64 {
			w.WriteFloat64(v)
		}
		w.WriteU32(uint32(len(f.Refs)))
		for i, v := range f.Refs {
			if err := cfg.writeValue(w, index, v); err != nil {
				Logger().Debug("value is not serializable",
					zap.String("owner", f.Owner), zap.Int("slot", i), zap.Error(err))
				return nil, errors.New(errors.PhasePersist, errors.KindNotSerialized).
					Path(f.Owner, fmt.Sprintf("ref[%d]", i)).Cause(err).Build()
			}
		}
		if f.Next == nil {
			w.WriteU32(0)
		} else {
			w.WriteU32(uint32(index[f.Next] + 1))
		}
	}
	return w.Bytes(), nil
}

func (cfg *persistConfig) writeValue(w *binary.Writer, index map[*Frame]int, v any) error {
	switch x := v.(type) {
	case nil:
		w.Byte(tagNil)
	case bool:
		w.Byte(tagBool)
		if x {
			w.Byte(1)
		} else {
			w.Byte(0)
		}
	case int:
		w.Byte(tagInt)
		w.WriteS64(int64(x))
	case int32:
		w.Byte(tagInt32)
		w.WriteS32(x)
	case int64:
		w.Byte(tagInt64)
		w.WriteS64(x)
	case uint32:
		w.Byte(tagUint32)
		w.WriteU32(x)
	case float32:
		w.Byte(tagFloat32)
		w.WriteFloat32(x)
	case float64:
		w.Byte(tagFloat64)
		w.WriteFloat64(x)
	case string:
		w.Byte(tagString)
		w.WriteBlob([]byte(x))
	case []byte:
		w.Byte(tagBytes)
		w.WriteBlob(x)
	case []any:
		w.Byte(tagList)
		w.WriteU32(uint32(len(x)))
		for _, e := range x {
			if err := cfg.writeValue(w, index, e); err != nil {
				return err
			}
		}
	case *Frame:
		w.Byte(tagFrame)
		w.WriteU32(uint32(index[x]))
	case Placeholder:
		w.Byte(tagPlaceholder)
		w.WriteName(x.Name)
	case *Placeholder:
		w.Byte(tagPlaceholder)
		w.WriteName(x.Name)
	default:
		for _, c := range cfg.codecs {
			if !c.Accepts(v) {
				continue
			}
			data, err := c.Encode(v)
			if err != nil {
				return err
			}
			w.Byte(tagCodec)
			w.WriteName(c.Name())
			w.WriteBlob(data)
			return nil
		}
		return fmt.Errorf("no codec for %T", v)
	}
	return nil
}

// Unmarshal rebuilds a chain written by Marshal and recovers each frame's
// handler by owner. An owner no resolver knows is an error.
func Unmarshal(data []byte, opts ...Option) (*Frame, error) {
	if len(data) < len(chainMagic) || !bytes.Equal(data[:len(chainMagic)], chainMagic[:]) {
		return nil, errors.InvalidData(errors.PhasePersist, nil, "missing frame chain magic")
	}
	cfg := newPersistConfig(opts)
	d := &chainDecoder{r: binary.NewReader(data[len(chainMagic):]), cfg: cfg}

	if v := d.u32(); d.err == nil && v != chainVersion {
		return nil, errors.New(errors.PhasePersist, errors.KindUnsupported).
			Detail("frame chain version %d", v).Build()
	}
	n := d.count()
	if d.err != nil {
		return nil, d.fail()
	}
	if n == 0 {
		return nil, errors.InvalidData(errors.PhasePersist, nil, "empty frame chain")
	}
	frames := make([]*Frame, n)
	next := make([]int, n)
	for i := range frames {
		frames[i] = &Frame{}
		next[i] = -1
	}
	d.frames = frames

	for i, f := range frames {
		f.Owner = d.name()
		f.State = d.u32()
		if k := d.count(); k > 0 {
			f.I32 = make([]int32, k)
			for i := range f.I32 {
				f.I32[i] = d.s32()
			}
		}
		if k := d.count(); k > 0 {
			f.I64 = make([]int64, k)
			for i := range f.I64 {
				f.I64[i] = d.s64()
			}
		}
		if k := d.count(); k > 0 {
			f.F32 = make([]float32, k)
			for i := range f.F32 {
				f.F32[i] = d.f32()
			}
		}
		if k := d.count(); k > 0 {
			f.F64 = make([]float64, k)
			for i := range f.F64 {
				f.F64[i] = d.f64()
			}
		}
		if k := d.count(); k > 0 {
			f.Refs = make([]any, k)
			for i := range f.Refs {
				f.Refs[i] = d.value()
			}
		}
		if link := d.u32(); link > 0 {
			f.Next = d.frame(link - 1)
			next[i] = int(link - 1)
		}
		if d.err != nil {
			return nil, d.fail()
		}

		h, ok := cfg.resolve(f.Owner)
		if !ok {
			return nil, errors.NotFound(errors.PhasePersist, "handler", f.Owner)
		}
		f.Handler = h
	}
	if d.r.Len() != 0 {
		return nil, errors.InvalidData(errors.PhasePersist, nil,
			fmt.Sprintf("%d trailing bytes", d.r.Len()))
	}
	if i := findCycle(next); i >= 0 {
		return nil, errors.InvalidData(errors.PhasePersist, nil,
			fmt.Sprintf("frame %d (%s) is on a cycle of next links", i, frames[i].Owner))
	}
	return frames[0], nil
}

// findCycle returns a record on a cycle of next links, or -1. Links only
// leave a record once, so every record is walked at most twice.
func findCycle(next []int) int {
	const (
		unseen = iota
		onPath
		done
	)
	mark := make([]uint8, len(next))
	for i := range next {
		j := i
		for j >= 0 && mark[j] == unseen {
			mark[j] = onPath
			j = next[j]
		}
		if j >= 0 && mark[j] == onPath {
			return j
		}
		for k := i; k >= 0 && mark[k] == onPath; k = next[k] {
			mark[k] = done
		}
	}
	return -1
}

func (cfg *persistConfig) resolve(owner string) (Handler, bool) {
	for _, r := range cfg.resolvers {
		if h, ok := r.Resolve(owner); ok {
			return h, true
		}
	}
	return nil, false
}

type chainDecoder struct {
	r      *binary.Reader
	cfg    *persistConfig
	err    error
	frames []*Frame
}

func (d *chainDecoder) fail() error {
	return errors.New(errors.PhasePersist, errors.KindInvalidData).
		Cause(d.err).Detail("decode frame chain").Build()
}

func (d *chainDecoder) set(err error) {
	if d.err == nil && err != nil {
		d.err = d.r.WrapError("frame chain", err)
	}
}

func (d *chainDecoder) u32() uint32 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadU32()
	d.set(err)
	return v
}

func (d *chainDecoder) count() int {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadLen()
	d.set(err)
	return v
}

func (d *chainDecoder) s32() int32 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadS32()
	d.set(err)
	return v
}

func (d *chainDecoder) s64() int64 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadS64()
	d.set(err)
	return v
}

func (d *chainDecoder) f32() float32 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadFloat32()
	d.set(err)
	return v
}

func (d *chainDecoder) f64() float64 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadFloat64()
	d.set(err)
	return v
}

func (d *chainDecoder) name() string {
	if d.err != nil {
		return ""
	}
	v, err := d.r.ReadName()
	d.set(err)
	return v
}

func (d *chainDecoder) blob() []byte {
	if d.err != nil {
		return nil
	}
	v, err := d.r.ReadBlob()
	d.set(err)
	return v
}

func (d *chainDecoder) frame(i uint32) *Frame {
	if int(i) >= len(d.frames) {
		d.set(fmt.Errorf("frame index %d out of range", i))
		return nil
	}
	return d.frames[i]
}

func (d *chainDecoder) value() any {
	if d.err != nil {
		return nil
	}
	tag, err := d.r.ReadByte()
	if err != nil {
		d.set(err)
		return nil
	}
	switch tag {
	case tagNil:
		return nil
	case tagBool:
		b, err := d.r.ReadByte()
		d.set(err)
		return b != 0
	case tagInt:
		return int(d.s64())
	case tagInt32:
		return d.s32()
	case tagInt64:
		return d.s64()
	case tagUint32:
		return d.u32()
	case tagFloat32:
		return d.f32()
	case tagFloat64:
		return d.f64()
	case tagString:
		return string(d.blob())
	case tagBytes:
		return d.blob()
	case tagList:
		n := d.count()
		list := make([]any, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			list = append(list, d.value())
		}
		return list
	case tagFrame:
		return d.frame(d.u32())
	case tagPlaceholder:
		return Placeholder{Name: d.name()}
	case tagCodec:
		name := d.name()
		data := d.blob()
		if d.err != nil {
			return nil
		}
		for _, c := range d.cfg.codecs {
			if c.Name() == name {
				v, err := c.Decode(data)
				d.set(err)
				return v
			}
		}
		d.set(fmt.Errorf("unknown value codec %q", name))
		return nil
	}
	d.set(fmt.Errorf("unknown value tag %d", tag))
	return nil
}
