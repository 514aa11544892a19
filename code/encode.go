package code

import (
	"fmt"

	"github.com/wippyai/ctrl/errors"
	"github.com/wippyai/ctrl/internal/binary"
)

// Magic starts every encoded unit.
var Magic = [4]byte{0x00, 'c', 't', 'l'}

// Version is the binary format version written by Encode.
const Version = 1

// Encode serializes a unit to its binary form.
func (u *Unit) Encode() ([]byte, error) {
	w := binary.NewWriter()
	w.WriteBytes(Magic[:])
	w.WriteU32(Version)
	w.WriteName(u.Name)
	w.WriteU32(uint32(len(u.Procs)))
	for _, p := range u.Procs {
		if err := encodeProc(w, p); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

func encodeProc(w *binary.Writer, p *Procedure) error {
	w.WriteName(p.Name)
	writeTypes(w, p.Params)
	w.Byte(byte(p.Result))
	writeTypes(w, p.Locals)

	w.WriteU32(uint32(len(p.Vars)))
	for _, v := range p.Vars {
		w.WriteName(v.Name)
		w.WriteU32(v.Local)
		w.WriteU32(uint32(v.Start))
		w.WriteU32(uint32(v.End))
	}

	w.WriteU32(uint32(len(p.Handlers)))
	for _, h := range p.Handlers {
		w.WriteName(h.Class)
		w.WriteU32(uint32(h.Start))
		w.WriteU32(uint32(h.End))
		w.WriteU32(uint32(h.Target))
	}

	if p.Frame == nil {
		w.Byte(0)
	} else {
		w.Byte(1)
		for _, n := range p.Frame.Slots {
			w.WriteU32(n)
		}
		w.WriteU32(p.Frame.States)
	}

	w.WriteU32(uint32(len(p.Code)))
	for i := range p.Code {
		if err := encodeInstruction(w, &p.Code[i]); err != nil {
			return errors.New(errors.PhaseEncode, errors.KindInvalidData).
				Proc(p.Name).At(i).Cause(err).Build()
		}
	}
	return nil
}

func writeTypes(w *binary.Writer, ts []ValType) {
	w.WriteU32(uint32(len(ts)))
	for _, t := range ts {
		w.Byte(byte(t))
	}
}

func writeSig(w *binary.Writer, s Signature) {
	writeTypes(w, s.Params)
	w.Byte(byte(s.Result))
}

func encodeInstruction(w *binary.Writer, ins *Instruction) error {
	info, ok := ins.Opcode.Info()
	if !ok {
		return fmt.Errorf("unknown opcode 0x%02x", byte(ins.Opcode))
	}
	w.Byte(byte(ins.Opcode))

	bad := func() error {
		return fmt.Errorf("%s: unexpected immediate %T", ins.Opcode, ins.Imm)
	}

	switch info.Imm {
	case ImmNone:
	case ImmI32:
		imm, ok := ins.Imm.(I32Imm)
		if !ok {
			return bad()
		}
		w.WriteS32(imm.Value)
	case ImmI64:
		imm, ok := ins.Imm.(I64Imm)
		if !ok {
			return bad()
		}
		w.WriteS64(imm.Value)
	case ImmF32:
		imm, ok := ins.Imm.(F32Imm)
		if !ok {
			return bad()
		}
		w.WriteFloat32(imm.Value)
	case ImmF64:
		imm, ok := ins.Imm.(F64Imm)
		if !ok {
			return bad()
		}
		w.WriteFloat64(imm.Value)
	case ImmStr:
		imm, ok := ins.Imm.(StrImm)
		if !ok {
			return bad()
		}
		w.WriteName(imm.Value)
	case ImmLocal:
		imm, ok := ins.Imm.(LocalImm)
		if !ok {
			return bad()
		}
		w.WriteU32(imm.Index)
	case ImmBranch:
		imm, ok := ins.Imm.(BranchImm)
		if !ok {
			return bad()
		}
		w.WriteU32(uint32(imm.Target))
	case ImmCall:
		imm, ok := ins.Imm.(CallImm)
		if !ok {
			return bad()
		}
		w.WriteName(imm.Module)
		w.WriteName(imm.Name)
		writeSig(w, imm.Sig)
	case ImmFunc:
		imm, ok := ins.Imm.(FuncImm)
		if !ok {
			return bad()
		}
		w.WriteName(imm.Module)
		w.WriteName(imm.Name)
	case ImmSig:
		imm, ok := ins.Imm.(SigImm)
		if !ok {
			return bad()
		}
		writeSig(w, imm.Sig)
	case ImmClass:
		imm, ok := ins.Imm.(ClassImm)
		if !ok {
			return bad()
		}
		w.WriteName(imm.Class)
	case ImmInit:
		imm, ok := ins.Imm.(InitImm)
		if !ok {
			return bad()
		}
		w.WriteName(imm.Class)
		writeTypes(w, imm.Params)
	case ImmField:
		imm, ok := ins.Imm.(FieldImm)
		if !ok {
			return bad()
		}
		w.WriteU32(imm.Index)
		w.Byte(byte(imm.Type))
	case ImmDispatch:
		imm, ok := ins.Imm.(DispatchImm)
		if !ok {
			return bad()
		}
		w.WriteU32(uint32(len(imm.Targets)))
		for _, t := range imm.Targets {
			w.WriteU32(uint32(t))
		}
	case ImmSlot:
		imm, ok := ins.Imm.(SlotImm)
		if !ok {
			return bad()
		}
		w.Byte(byte(imm.Cat))
		w.WriteU32(imm.Index)
	case ImmState:
		imm, ok := ins.Imm.(StateImm)
		if !ok {
			return bad()
		}
		w.WriteU32(imm.State)
	case ImmType:
		imm, ok := ins.Imm.(TypeImm)
		if !ok {
			return bad()
		}
		w.Byte(byte(imm.Type))
	}
	return nil
}
