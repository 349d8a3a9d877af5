package avr

import (
	"encoding/binary"
	"testing"

	"github.com/tinyrange/avrcc/internal/asm"
	avrasm "github.com/tinyrange/avrcc/internal/asm/avr"
	"github.com/tinyrange/avrcc/internal/ir"
)

func decodeAll(t *testing.T, code []byte) []avrasm.Inst {
	t.Helper()
	var out []avrasm.Inst
	for pos := 0; pos+2 <= len(code); pos += 2 {
		word := binary.LittleEndian.Uint16(code[pos:])
		in, ok := avrasm.Decode(word)
		if !ok {
			t.Fatalf("word %04x at %#x does not decode", word, pos)
		}
		out = append(out, in)
	}
	return out
}

// Every magnitude ADIW can reach takes at most two instructions that add up
// to it exactly.
func TestWordIncrementSplit(t *testing.T) {
	for m := 0; m <= 2*maxAdiw; m++ {
		for _, op := range []ir.Operator{ir.OpAdd, ir.OpSub} {
			k := int64(m)
			if op == ir.OpSub {
				k = -k
			}
			f, stack := newFunction(t, ir.ResidentPair(ir.Int, 24, 25), ir.Const(ir.Int, k))
			if err := f.LowerDyadic(op); err != nil {
				t.Fatalf("%s %d: %v", op, k, err)
			}
			insts := decodeAll(t, f.Bytes())
			if len(insts) > 2 || (m == 0) != (len(insts) == 0) {
				t.Fatalf("%s %d: %d instructions", op, k, len(insts))
			}
			sum := 0
			for _, in := range insts {
				if in.Op != avrasm.ADIW || in.Register() != 24 {
					t.Fatalf("%s %d: unexpected %s", op, k, in)
				}
				sum += in.K
			}
			if sum != m {
				t.Fatalf("%s %d: adiw immediates add up to %d", op, k, sum)
			}
			expectTop(t, stack, ir.ResidentPair(ir.Int, 24, 25))
		}
	}
}

// SUBI/SBCI carry the two bytes of -k for addition and of k for subtraction.
func TestSubtractImmediateBytes(t *testing.T) {
	constants := []int64{1, 5, 127, 128, 255, 256, 1000, -1, -300, 32767, -32768, 65535}
	for _, k := range constants {
		for _, op := range []ir.Operator{ir.OpAdd, ir.OpSub} {
			f, _ := newFunction(t, ir.ResidentPair(ir.Int, 18, 19), ir.Const(ir.Int, k))
			if err := f.LowerDyadic(op); err != nil {
				t.Fatalf("%s %d: %v", op, k, err)
			}
			v := uint16(k)
			if op == ir.OpAdd {
				v = uint16(-k)
			}
			expectCode(t, f,
				avrasm.Subi(avrasm.R18, int(v&0xFF)),
				avrasm.Sbci(avrasm.R19, int(v>>8)))
		}
	}
}

func TestWordAddFallsBackToSubtract(t *testing.T) {
	tests := []struct {
		name string
		op   ir.Operator
		k    int64
		want []asm.Fragment
	}{
		{"too large for adiw", ir.OpAdd, 200, []asm.Fragment{avrasm.Subi(avrasm.R24, 0x38), avrasm.Sbci(avrasm.R25, 0xFF)}},
		{"negative addend", ir.OpAdd, -3, []asm.Fragment{avrasm.Subi(avrasm.R24, 0x03), avrasm.Sbci(avrasm.R25, 0x00)}},
		{"positive subtrahend", ir.OpSub, 3, []asm.Fragment{avrasm.Subi(avrasm.R24, 0x03), avrasm.Sbci(avrasm.R25, 0x00)}},
		{"two increments", ir.OpAdd, 100, []asm.Fragment{avrasm.Adiw(avrasm.R24, 63), avrasm.Adiw(avrasm.R24, 37)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, _ := newFunction(t, ir.ResidentPair(ir.Int, 24, 25), ir.Const(ir.Int, tc.k))
			if err := f.LowerDyadic(tc.op); err != nil {
				t.Fatalf("LowerDyadic: %v", err)
			}
			expectCode(t, f, tc.want...)
		})
	}
}

// ADIW carries into the partner register, so a value split across two
// unrelated registers goes through SUBI/SBCI.
func TestWordIncrementNeedsPartner(t *testing.T) {
	f, stack := newFunction(t, ir.ResidentPair(ir.Int, 24, 18), ir.Const(ir.Int, 5))
	if err := f.LowerDyadic(ir.OpAdd); err != nil {
		t.Fatalf("LowerDyadic: %v", err)
	}
	expectCode(t, f, avrasm.Subi(avrasm.R24, 0xFB), avrasm.Sbci(avrasm.R18, 0xFF))
	expectTop(t, stack, ir.ResidentPair(ir.Int, 24, 18))

	f, _ = newFunction(t, ir.ResidentPair(ir.Int, 26, 17), ir.Const(ir.Int, 1))
	expectUnsupported(t, f.LowerDyadic(ir.OpAdd))
	if f.Len() != 0 {
		t.Fatalf("failed add wrote %d bytes", f.Len())
	}
}

func TestWordConstantLoadsIntoFreshPair(t *testing.T) {
	f, stack := newFunction(t, ir.Frame(ir.Int, 0), ir.Const(ir.Int, 1))
	if err := f.LowerDyadic(ir.OpAdd); err != nil {
		t.Fatalf("LowerDyadic: %v", err)
	}
	expectCode(t, f,
		avrasm.Ldd(avrasm.R24, 1),
		avrasm.Ldd(avrasm.R25, 2),
		avrasm.Adiw(avrasm.R24, 1))
	expectTop(t, stack, ir.ResidentPair(ir.Int, 24, 25))
}

func TestImmediateArithmeticFailures(t *testing.T) {
	tests := []struct {
		name string
		lhs  ir.Operand
		k    int64
		op   ir.Operator
	}{
		{"byte in low register", ir.Resident(ir.Char, 2), 5, ir.OpAdd},
		{"word in low pair", ir.ResidentPair(ir.Int, 2, 3), 5, ir.OpAdd},
		{"32-bit immediate add", ir.Frame(ir.Long, 0), 5, ir.OpAdd},
		{"64-bit immediate add", ir.Frame(ir.LongLong, 0), 5, ir.OpSub},
		{"byte constant out of range", ir.Frame(ir.Char, 0), 256, ir.OpAdd},
		{"word constant out of range", ir.Frame(ir.Int, 0), 70000, ir.OpSub},
		{"float", ir.Frame(ir.Float, 0), 1, ir.OpAdd},
		{"byte comparison with 127", ir.Frame(ir.Char, 0), 127, ir.OpGreater},
		{"unsigned comparison", ir.Frame(ir.UChar, 0), 1, ir.OpGreater},
		{"less than", ir.Frame(ir.Char, 0), 1, ir.OpLess},
		{"equality", ir.Frame(ir.Int, 0), 1, ir.OpEqual},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, stack := newFunction(t, tc.lhs, ir.Const(ir.Int, tc.k))
			diag := expectUnsupported(t, f.LowerDyadic(tc.op))
			if diag.Construct != "dyadic "+tc.op.String() {
				t.Fatalf("construct %q", diag.Construct)
			}
			if f.Len() != 0 {
				t.Fatalf("failed construct wrote %d bytes", f.Len())
			}
			if stack.Len() != 2 {
				t.Fatalf("failed construct left %d operands", stack.Len())
			}
			expectTop(t, stack, ir.Const(ir.Int, tc.k))
		})
	}
}

func TestRuntimeArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   ir.Operator
		typ  ir.Type
		want []asm.Fragment
	}{
		{"byte add", ir.OpAdd, ir.Char, []asm.Fragment{
			avrasm.Ldd(avrasm.R24, 1), avrasm.Ldd(avrasm.R25, 3), avrasm.Add(avrasm.R24, avrasm.R25),
		}},
		{"byte sub", ir.OpSub, ir.Char, []asm.Fragment{
			avrasm.Ldd(avrasm.R24, 1), avrasm.Ldd(avrasm.R25, 3), avrasm.Sub(avrasm.R24, avrasm.R25),
		}},
		{"word add", ir.OpAdd, ir.Int, []asm.Fragment{
			avrasm.Ldd(avrasm.R24, 1), avrasm.Ldd(avrasm.R25, 2),
			avrasm.Ldd(avrasm.R18, 3), avrasm.Ldd(avrasm.R19, 4),
			avrasm.Add(avrasm.R24, avrasm.R18), avrasm.Adc(avrasm.R25, avrasm.R19),
		}},
		{"word sub", ir.OpSub, ir.Int, []asm.Fragment{
			avrasm.Ldd(avrasm.R24, 1), avrasm.Ldd(avrasm.R25, 2),
			avrasm.Ldd(avrasm.R18, 3), avrasm.Ldd(avrasm.R19, 4),
			avrasm.Sub(avrasm.R24, avrasm.R18), avrasm.Sbc(avrasm.R25, avrasm.R19),
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, stack := newFunction(t, ir.Frame(tc.typ, 0), ir.Frame(tc.typ, 2))
			if err := f.LowerDyadic(tc.op); err != nil {
				t.Fatalf("LowerDyadic: %v", err)
			}
			expectCode(t, f, tc.want...)
			if stack.Len() != 1 {
				t.Fatalf("stack holds %d operands", stack.Len())
			}
			want := ir.Resident(tc.typ, 24)
			if tc.typ.Size() == 2 {
				want = ir.ResidentPair(tc.typ, 24, 25)
			}
			expectTop(t, stack, want)
		})
	}
}

func TestRuntimeArithmeticRejectsMixedWidths(t *testing.T) {
	f, stack := newFunction(t, ir.Frame(ir.Char, 0), ir.Frame(ir.Int, 1))
	expectUnsupported(t, f.LowerDyadic(ir.OpAdd))
	if f.Len() != 0 || stack.Len() != 2 {
		t.Fatalf("failed construct changed state")
	}
}

func TestConstantFolding(t *testing.T) {
	tests := []struct {
		op   ir.Operator
		lhs  ir.Operand
		rhs  ir.Operand
		want ir.Operand
	}{
		{ir.OpAdd, ir.Const(ir.Int, 30000), ir.Const(ir.Int, 5000), ir.Const(ir.Int, -30536)},
		{ir.OpSub, ir.Const(ir.Char, 3), ir.Const(ir.Char, 5), ir.Const(ir.Char, -2)},
		{ir.OpSub, ir.Const(ir.UChar, 3), ir.Const(ir.UChar, 5), ir.Const(ir.UChar, 254)},
		{ir.OpGreater, ir.Const(ir.Int, 7), ir.Const(ir.Int, 3), ir.Const(ir.Int, 1)},
		{ir.OpGreater, ir.Const(ir.Char, 3), ir.Const(ir.Char, 7), ir.Const(ir.Int, 0)},
	}
	for _, tc := range tests {
		f, stack := newFunction(t, tc.lhs, tc.rhs)
		if err := f.LowerDyadic(tc.op); err != nil {
			t.Fatalf("%v %s %v: %v", tc.lhs, tc.op, tc.rhs, err)
		}
		if f.Len() != 0 {
			t.Fatalf("folding emitted code")
		}
		expectTop(t, stack, tc.want)
	}
}

func TestGreaterThanConstant(t *testing.T) {
	f, stack := newFunction(t, ir.Frame(ir.Char, 0), ir.Const(ir.Char, 5))
	if err := f.LowerDyadic(ir.OpGreater); err != nil {
		t.Fatalf("LowerDyadic: %v", err)
	}
	expectCode(t, f, avrasm.Ldd(avrasm.R24, 1), avrasm.Cpi(avrasm.R24, 6))
	expectTop(t, stack, ir.Comparison(ir.Int, ir.OpGreater))

	f, stack = newFunction(t, ir.Frame(ir.Int, 0), ir.Const(ir.Int, -2))
	if err := f.LowerDyadic(ir.OpGreater); err != nil {
		t.Fatalf("LowerDyadic: %v", err)
	}
	expectCode(t, f,
		avrasm.Ldd(avrasm.R24, 1), avrasm.Ldd(avrasm.R25, 2),
		avrasm.Subi(avrasm.R24, 0xFF), avrasm.Sbci(avrasm.R25, 0xFF))
	expectTop(t, stack, ir.Comparison(ir.Int, ir.OpGreater))
}

func TestGreaterThanRuntimeSwapsOperands(t *testing.T) {
	f, stack := newFunction(t, ir.Frame(ir.Char, 0), ir.Frame(ir.Char, 1))
	if err := f.LowerDyadic(ir.OpGreater); err != nil {
		t.Fatalf("LowerDyadic: %v", err)
	}
	expectCode(t, f,
		avrasm.Ldd(avrasm.R24, 1),
		avrasm.Ldd(avrasm.R25, 2),
		avrasm.Sub(avrasm.R25, avrasm.R24))
	want := ir.Comparison(ir.Int, ir.OpGreater)
	want.Swapped = true
	expectTop(t, stack, want)
}
