package asm

import (
	"fmt"
)

// Variable names a machine register by its physical number.
type Variable int

// Context receives the bytes produced by fragments. Offsets are relative to
// the start of the function being compiled.
type Context interface {
	EmitBytes(data []byte)
	Offset() int

	AddRelocation(rel Relocation)

	GetLabel(label Label) (int, bool)
	SetLabel(label Label)
}

type Fragment interface {
	Emit(ctx Context) error
}

type Group []Fragment

var (
	_ Fragment = Group{}
)

func (g Group) Emit(ctx Context) error {
	for _, frag := range g {
		if err := frag.Emit(ctx); err != nil {
			return err
		}
	}
	return nil
}

type Label string

type labelDef struct {
	label Label
}

func MarkLabel(label Label) Fragment {
	return &labelDef{label: label}
}

func (l *labelDef) Emit(ctx Context) error {
	if _, exists := ctx.GetLabel(l.label); exists {
		return fmt.Errorf("label %q already defined", l.label)
	}
	ctx.SetLabel(l.label)
	return nil
}

// RelocationKind mirrors the ELF relocation numbers used by the AVR
// toolchain so an object writer can copy them through unchanged.
type RelocationKind uint8

const (
	RelocPCRel13 RelocationKind = 3 // R_AVR_13_PCREL
	RelocLo8LDI  RelocationKind = 6 // R_AVR_LO8_LDI
	RelocHi8LDI  RelocationKind = 7 // R_AVR_HI8_LDI
)

func (k RelocationKind) String() string {
	switch k {
	case RelocPCRel13:
		return "R_AVR_13_PCREL"
	case RelocLo8LDI:
		return "R_AVR_LO8_LDI"
	case RelocHi8LDI:
		return "R_AVR_HI8_LDI"
	default:
		return fmt.Sprintf("reloc(%d)", uint8(k))
	}
}

// Relocation asks the linker to patch the instruction word at Offset once the
// address of Symbol is known.
type Relocation struct {
	Symbol string
	Offset int
	Kind   RelocationKind
	Addend int64
}

func (r Relocation) String() string {
	if r.Addend != 0 {
		return fmt.Sprintf("%#04x %s %s%+d", r.Offset, r.Kind, r.Symbol, r.Addend)
	}
	return fmt.Sprintf("%#04x %s %s", r.Offset, r.Kind, r.Symbol)
}

type Program struct {
	code        []byte
	relocations []Relocation
}

func (p Program) Bytes() []byte {
	return append([]byte(nil), p.code...)
}

func (p Program) Relocations() []Relocation {
	return append([]Relocation(nil), p.relocations...)
}

// Len is the final cursor position of the function.
func (p Program) Len() int {
	return len(p.code)
}

func NewProgram(code []byte, relocations []Relocation) Program {
	return Program{
		code:        append([]byte(nil), code...),
		relocations: append([]Relocation(nil), relocations...),
	}
}
