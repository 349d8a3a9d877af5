package avr

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/avrcc/internal/asm"
)

const (
	R0 asm.Variable = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	R16
	R17
	R18
	R19
	R20
	R21
	R22
	R23
	R24
	R25
	R26
	R27
	R28
	R29
	R30
	R31
)

// Pointer pairs. Y holds the frame base, Z is scratch for indirect stores.
const (
	YL = R28
	YH = R29
	ZL = R30
	ZH = R31
)

// SREG bits tested by BRBS/BRBC.
const (
	FlagZ = 1
	FlagS = 4
)

type insn Inst

func (i insn) Emit(ctx asm.Context) error {
	word, err := Encode(Inst(i))
	if err != nil {
		return err
	}
	emitWord(ctx, word)
	return nil
}

func emitWord(ctx asm.Context, word uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], word)
	ctx.EmitBytes(buf[:])
}

type errFragment struct{ err error }

func (e errFragment) Emit(asm.Context) error { return e.err }

func regReg(op Op, d, r asm.Variable) asm.Fragment {
	return insn{Op: op, D: int(d), R: int(r)}
}

// upperReg checks the r16-r31 operand of the immediate instructions and
// returns the 4-bit field value.
func upperReg(op Op, d asm.Variable) (int, error) {
	if d < R16 || d > R31 {
		return 0, &RangeError{Op: op, Field: "d", Value: int(d), Min: int(R16), Max: int(R31)}
	}
	return int(d - R16), nil
}

func regImm(op Op, d asm.Variable, k int) asm.Fragment {
	field, err := upperReg(op, d)
	if err != nil {
		return errFragment{err}
	}
	return insn{Op: op, D: field, K: k}
}

func Adc(d, r asm.Variable) asm.Fragment { return regReg(ADC, d, r) }
func Add(d, r asm.Variable) asm.Fragment { return regReg(ADD, d, r) }
func And(d, r asm.Variable) asm.Fragment { return regReg(AND, d, r) }
func Sbc(d, r asm.Variable) asm.Fragment { return regReg(SBC, d, r) }
func Sub(d, r asm.Variable) asm.Fragment { return regReg(SUB, d, r) }
func Mov(d, r asm.Variable) asm.Fragment { return regReg(MOV, d, r) }

func Sbci(d asm.Variable, k int) asm.Fragment { return regImm(SBCI, d, k) }
func Subi(d asm.Variable, k int) asm.Fragment { return regImm(SUBI, d, k) }
func Cpi(d asm.Variable, k int) asm.Fragment  { return regImm(CPI, d, k) }
func Ldi(d asm.Variable, k int) asm.Fragment  { return regImm(LDI, d, k) }

// Adiw adds k (0..63) to the register pair whose low register is d.
func Adiw(d asm.Variable, k int) asm.Fragment {
	switch d {
	case R24, R26, R28, R30:
		return insn{Op: ADIW, D: int(d-R24) / 2, K: k}
	}
	return errFragment{fmt.Errorf("avr: adiw needs r24, r26, r28 or r30, got r%d", d)}
}

// Ldd loads d from Y+q.
func Ldd(d asm.Variable, q int) asm.Fragment { return insn{Op: LDD, D: int(d), Q: q} }

// Std stores r to Y+q.
func Std(q int, r asm.Variable) asm.Fragment { return insn{Op: STD, R: int(r), Q: q} }

// StZ stores r to the address held in Z.
func StZ(r asm.Variable) asm.Fragment { return insn{Op: STZ, R: int(r)} }

func Ret() asm.Fragment { return insn{Op: RET} }

// Rjmp and Rcall take a word displacement relative to the next instruction.
func Rjmp(k int) asm.Fragment  { return insn{Op: RJMP, K: k} }
func Rcall(k int) asm.Fragment { return insn{Op: RCALL, K: k} }

func Brbs(s, k int) asm.Fragment { return insn{Op: BRBS, S: s, K: k} }
func Brbc(s, k int) asm.Fragment { return insn{Op: BRBC, S: s, K: k} }

// Word appends a raw data word, used for multi-word patch fields.
func Word(w uint16) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		emitWord(ctx, w)
		return nil
	})
}

// CallSymbol emits a relative call with a zero displacement and asks the
// linker to fill it in once sym is placed.
func CallSymbol(sym string, addend int64) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		if sym == "" {
			return fmt.Errorf("avr: call relocation needs a symbol")
		}
		word, err := Encode(Inst{Op: RCALL})
		if err != nil {
			return err
		}
		ctx.AddRelocation(asm.Relocation{
			Symbol: sym,
			Offset: ctx.Offset(),
			Kind:   asm.RelocPCRel13,
			Addend: addend,
		})
		emitWord(ctx, word)
		return nil
	})
}

// LdiSymbol loads the low (or high) byte of sym+addend into d through a
// relocated LDI.
func LdiSymbol(d asm.Variable, sym string, addend int64, high bool) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		field, err := upperReg(LDI, d)
		if err != nil {
			return err
		}
		word, err := Encode(Inst{Op: LDI, D: field})
		if err != nil {
			return err
		}
		kind := asm.RelocLo8LDI
		if high {
			kind = asm.RelocHi8LDI
		}
		ctx.AddRelocation(asm.Relocation{
			Symbol: sym,
			Offset: ctx.Offset(),
			Kind:   kind,
			Addend: addend,
		})
		emitWord(ctx, word)
		return nil
	})
}

type fragmentFunc func(asm.Context) error

func (f fragmentFunc) Emit(ctx asm.Context) error {
	return f(ctx)
}
