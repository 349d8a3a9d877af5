package ir

import (
	"fmt"
)

// Location says where an operand's value currently lives.
type Location uint8

const (
	LocConst Location = iota
	LocFrame
	LocRegister
	LocComparison
	LocBranch
	LocAbsolute
	LocIndirect
)

func (l Location) String() string {
	switch l {
	case LocConst:
		return "const"
	case LocFrame:
		return "frame"
	case LocRegister:
		return "register"
	case LocComparison:
		return "comparison"
	case LocBranch:
		return "branch"
	case LocAbsolute:
		return "absolute"
	case LocIndirect:
		return "indirect"
	default:
		return fmt.Sprintf("loc(%d)", uint8(l))
	}
}

// NoRegister marks an unused register field.
const NoRegister = -1

// NoChain is the empty branch chain handle.
const NoChain = -1

// Operand describes one entry of the evaluation stack.
//
// Value is the constant for LocConst, the frame offset for LocFrame and the
// address for LocAbsolute; with Sym set it is an addend to the symbol.
// Reg and Reg2 are physical register numbers holding the low and high byte
// of a register value, or of the address for LocIndirect.
type Operand struct {
	Loc   Location
	Type  Type
	Value int64
	Sym   string
	Reg   int
	Reg2  int

	// Relation and Swapped describe a pending comparison. Swapped means the
	// flags were computed as rhs-lhs.
	Relation Operator
	Swapped  bool

	// Chain is the pending branch chain of a LocBranch operand.
	Chain int
}

func Const(t Type, v int64) Operand {
	return Operand{Loc: LocConst, Type: t, Value: v, Reg: NoRegister, Reg2: NoRegister}
}

// SymbolRef is the address of sym plus addend as a constant.
func SymbolRef(t Type, sym string, addend int64) Operand {
	return Operand{Loc: LocConst, Type: t, Value: addend, Sym: sym, Reg: NoRegister, Reg2: NoRegister}
}

func Frame(t Type, offset int) Operand {
	return Operand{Loc: LocFrame, Type: t, Value: int64(offset), Reg: NoRegister, Reg2: NoRegister}
}

// Resident is a byte value held in reg.
func Resident(t Type, reg int) Operand {
	return Operand{Loc: LocRegister, Type: t, Reg: reg, Reg2: NoRegister}
}

// ResidentPair is a word value held in lo:hi.
func ResidentPair(t Type, lo, hi int) Operand {
	return Operand{Loc: LocRegister, Type: t, Reg: lo, Reg2: hi}
}

func Absolute(t Type, addr int64) Operand {
	return Operand{Loc: LocAbsolute, Type: t, Value: addr, Reg: NoRegister, Reg2: NoRegister}
}

func AbsoluteSymbol(t Type, sym string, addend int64) Operand {
	return Operand{Loc: LocAbsolute, Type: t, Value: addend, Sym: sym, Reg: NoRegister, Reg2: NoRegister}
}

// Indirect is an lvalue whose address is held in the registers lo:hi.
func Indirect(t Type, lo, hi int) Operand {
	return Operand{Loc: LocIndirect, Type: t, Reg: lo, Reg2: hi}
}

func Comparison(t Type, rel Operator) Operand {
	return Operand{Loc: LocComparison, Type: t, Relation: rel, Reg: NoRegister, Reg2: NoRegister}
}

func PendingBranch(chain int) Operand {
	return Operand{Loc: LocBranch, Type: Int, Chain: chain, Reg: NoRegister, Reg2: NoRegister}
}

// Registers lists the physical registers the operand occupies.
func (o Operand) Registers() []int {
	if o.Loc != LocRegister && o.Loc != LocIndirect {
		return nil
	}
	var regs []int
	if o.Reg != NoRegister {
		regs = append(regs, o.Reg)
	}
	if o.Reg2 != NoRegister {
		regs = append(regs, o.Reg2)
	}
	return regs
}

func (o Operand) String() string {
	switch o.Loc {
	case LocConst:
		if o.Sym != "" {
			return fmt.Sprintf("%s %s%+d", o.Type, o.Sym, o.Value)
		}
		return fmt.Sprintf("%s %d", o.Type, o.Value)
	case LocFrame:
		return fmt.Sprintf("%s frame[%d]", o.Type, o.Value)
	case LocRegister:
		if o.Reg2 != NoRegister {
			return fmt.Sprintf("%s r%d:r%d", o.Type, o.Reg2, o.Reg)
		}
		return fmt.Sprintf("%s r%d", o.Type, o.Reg)
	case LocComparison:
		return fmt.Sprintf("cmp %s", o.Relation)
	case LocBranch:
		return fmt.Sprintf("branch %#x", o.Chain)
	case LocAbsolute:
		if o.Sym != "" {
			return fmt.Sprintf("%s [%s%+d]", o.Type, o.Sym, o.Value)
		}
		return fmt.Sprintf("%s [%#04x]", o.Type, o.Value)
	case LocIndirect:
		return fmt.Sprintf("%s [r%d:r%d]", o.Type, o.Reg2, o.Reg)
	default:
		return o.Loc.String()
	}
}
