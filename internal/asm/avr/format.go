package avr

import (
	"fmt"
)

// Op identifies one of the supported 16-bit instruction formats.
type Op uint8

const (
	ADC Op = iota
	ADD
	ADIW
	AND
	SBC
	SUB
	SBCI
	SUBI
	BRBS
	BRBC
	CPI
	RCALL
	RJMP
	RET
	LDI
	LDD
	MOV
	STD
	STZ
	numOps
)

func (op Op) String() string {
	if op < numOps {
		return formats[op].mnemonic
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

type field uint8

const (
	fieldD field = iota
	fieldR
	fieldK
	fieldQ
	fieldS
	numFields
)

var fieldNames = [numFields]string{"d", "r", "k", "q", "s"}

// layout lists the word bit positions holding a field, most significant
// field bit first.
type layout struct {
	bits   []uint8
	signed bool
}

type format struct {
	mnemonic string
	pattern  string
	base     uint16
	mask     uint16
	fields   [numFields]layout
}

// Patterns are written MSB first exactly as in the instruction set manual.
// Lower-case k marks a signed relative displacement.
var formats = [numOps]format{
	ADC:   mustFormat("adc", "0001 11rd dddd rrrr"),
	ADD:   mustFormat("add", "0000 11rd dddd rrrr"),
	ADIW:  mustFormat("adiw", "1001 0110 KKdd KKKK"),
	AND:   mustFormat("and", "0010 00rd dddd rrrr"),
	SBC:   mustFormat("sbc", "0000 10rd dddd rrrr"),
	SUB:   mustFormat("sub", "0001 10rd dddd rrrr"),
	SBCI:  mustFormat("sbci", "0100 KKKK dddd KKKK"),
	SUBI:  mustFormat("subi", "0101 KKKK dddd KKKK"),
	BRBS:  mustFormat("brbs", "1111 00kk kkkk kSSS"),
	BRBC:  mustFormat("brbc", "1111 01kk kkkk kSSS"),
	CPI:   mustFormat("cpi", "0011 KKKK dddd KKKK"),
	RCALL: mustFormat("rcall", "1101 kkkk kkkk kkkk"),
	RJMP:  mustFormat("rjmp", "1100 kkkk kkkk kkkk"),
	RET:   mustFormat("ret", "1001 0101 0000 1000"),
	LDI:   mustFormat("ldi", "1110 KKKK dddd KKKK"),
	LDD:   mustFormat("ldd", "10q0 qq0d dddd 1qqq"),
	MOV:   mustFormat("mov", "0010 11rd dddd rrrr"),
	STD:   mustFormat("std", "10q0 qq1r rrrr 1qqq"),
	STZ:   mustFormat("st", "1000 001r rrrr 0000"),
}

func mustFormat(mnemonic, pattern string) format {
	f := format{mnemonic: mnemonic, pattern: pattern}
	bit := 16
	for _, ch := range pattern {
		if ch == ' ' {
			continue
		}
		bit--
		if bit < 0 {
			panic(fmt.Sprintf("avr: pattern %q for %s is longer than 16 bits", pattern, mnemonic))
		}
		var fl field
		switch ch {
		case '0':
			f.mask |= 1 << bit
			continue
		case '1':
			f.mask |= 1 << bit
			f.base |= 1 << bit
			continue
		case 'd':
			fl = fieldD
		case 'r':
			fl = fieldR
		case 'K':
			fl = fieldK
		case 'k':
			fl = fieldK
			f.fields[fieldK].signed = true
		case 'q':
			fl = fieldQ
		case 'S':
			fl = fieldS
		default:
			panic(fmt.Sprintf("avr: bad character %q in pattern for %s", ch, mnemonic))
		}
		f.fields[fl].bits = append(f.fields[fl].bits, uint8(bit))
	}
	if bit != 0 {
		panic(fmt.Sprintf("avr: pattern %q for %s is shorter than 16 bits", pattern, mnemonic))
	}
	return f
}

func (l layout) width() int { return len(l.bits) }

func (l layout) limits() (int, int) {
	n := l.width()
	if l.signed {
		return -(1 << (n - 1)), (1 << (n - 1)) - 1
	}
	return 0, (1 << n) - 1
}

// Inst holds the raw field values of one instruction word. Register fields
// carry the encoded value (LDI's d is the register number minus 16, ADIW's
// d selects the pair); the constructors in insn.go take physical registers.
type Inst struct {
	Op Op
	D  int
	R  int
	K  int
	Q  int
	S  int
}

func (in *Inst) field(f field) *int {
	switch f {
	case fieldD:
		return &in.D
	case fieldR:
		return &in.R
	case fieldK:
		return &in.K
	case fieldQ:
		return &in.Q
	default:
		return &in.S
	}
}

// RangeError reports an operand that does not fit its instruction field.
type RangeError struct {
	Op    Op
	Field string
	Value int
	Min   int
	Max   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("avr: %s operand %s=%d outside [%d, %d]", e.Op, e.Field, e.Value, e.Min, e.Max)
}

// Encode packs the instruction fields into a 16-bit word. Values are never
// truncated: anything outside a field's width is a *RangeError.
func Encode(in Inst) (uint16, error) {
	if in.Op >= numOps {
		return 0, fmt.Errorf("avr: unknown opcode %d", in.Op)
	}
	f := &formats[in.Op]
	word := f.base
	for fl := field(0); fl < numFields; fl++ {
		l := f.fields[fl]
		n := l.width()
		if n == 0 {
			continue
		}
		v := *in.field(fl)
		lo, hi := l.limits()
		if v < lo || v > hi {
			return 0, &RangeError{Op: in.Op, Field: fieldNames[fl], Value: v, Min: lo, Max: hi}
		}
		u := uint32(v) & (1<<n - 1)
		for i, pos := range l.bits {
			if u&(1<<(n-1-i)) != 0 {
				word |= 1 << pos
			}
		}
	}
	return word, nil
}

// Decode recovers the instruction fields from a word produced by Encode.
func Decode(word uint16) (Inst, bool) {
	for op := Op(0); op < numOps; op++ {
		f := &formats[op]
		if word&f.mask != f.base {
			continue
		}
		in := Inst{Op: op}
		for fl := field(0); fl < numFields; fl++ {
			l := f.fields[fl]
			n := l.width()
			if n == 0 {
				continue
			}
			v := 0
			for _, pos := range l.bits {
				v <<= 1
				if word&(1<<pos) != 0 {
					v |= 1
				}
			}
			if l.signed && v&(1<<(n-1)) != 0 {
				v -= 1 << n
			}
			*in.field(fl) = v
		}
		return in, true
	}
	return Inst{}, false
}
