package avr

import (
	"encoding/binary"
	"fmt"
)

// Register reports the physical register named by the d operand.
func (in Inst) Register() int {
	switch in.Op {
	case LDI, SUBI, SBCI, CPI:
		return in.D + 16
	case ADIW:
		return 24 + 2*in.D
	default:
		return in.D
	}
}

// String renders the instruction in avr-objdump syntax.
func (in Inst) String() string {
	switch in.Op {
	case ADC, ADD, AND, SBC, SUB, MOV:
		return fmt.Sprintf("%s r%d, r%d", in.Op, in.D, in.R)
	case SUBI, SBCI, CPI, LDI:
		return fmt.Sprintf("%s r%d, 0x%02X", in.Op, in.Register(), in.K)
	case ADIW:
		return fmt.Sprintf("adiw r%d, 0x%02X", in.Register(), in.K)
	case BRBS, BRBC:
		return fmt.Sprintf("%s .%+d", branchName(in), 2*in.K)
	case RCALL, RJMP:
		return fmt.Sprintf("%s .%+d", in.Op, 2*in.K)
	case RET:
		return "ret"
	case LDD:
		return fmt.Sprintf("ldd r%d, Y+%d", in.D, in.Q)
	case STD:
		return fmt.Sprintf("std Y+%d, r%d", in.Q, in.R)
	case STZ:
		return fmt.Sprintf("st Z, r%d", in.R)
	default:
		return in.Op.String()
	}
}

func branchName(in Inst) string {
	set := in.Op == BRBS
	switch {
	case in.S == FlagZ && set:
		return "breq"
	case in.S == FlagZ:
		return "brne"
	case in.S == FlagS && set:
		return "brlt"
	case in.S == FlagS:
		return "brge"
	default:
		return fmt.Sprintf("%s %d,", in.Op, in.S)
	}
}

// FormatWord decodes and renders a single word.
func FormatWord(word uint16) string {
	in, ok := Decode(word)
	if !ok {
		return fmt.Sprintf(".word 0x%04x", word)
	}
	return in.String()
}

// Line is one decoded word of a listing.
type Line struct {
	Offset int
	Word   uint16
	Text   string
}

// Disassemble decodes a code buffer word by word. A trailing odd byte is
// ignored.
func Disassemble(code []byte) []Line {
	lines := make([]Line, 0, len(code)/2)
	for pos := 0; pos+2 <= len(code); pos += 2 {
		word := binary.LittleEndian.Uint16(code[pos:])
		lines = append(lines, Line{Offset: pos, Word: word, Text: FormatWord(word)})
	}
	return lines
}
