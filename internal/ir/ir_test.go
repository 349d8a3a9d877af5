package ir

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTypeLayout(t *testing.T) {
	tests := []struct {
		typ   Type
		size  int
		align int
	}{
		{Void, 0, 0},
		{Char, 1, 1},
		{Short, 2, 1},
		{Int, 2, 1},
		{Pointer, 2, 1},
		{Long, 4, 1},
		{Float, 4, 1},
		{Double, 4, 1},
		{LongLong, 8, 1},
		{LongDouble, 12, 1},
		{Struct(6, 2), 6, 2},
	}
	for _, tc := range tests {
		if got := tc.typ.Size(); got != tc.size {
			t.Fatalf("%s: size %d, want %d", tc.typ, got, tc.size)
		}
		if got := tc.typ.Align(); got != tc.align {
			t.Fatalf("%s: align %d, want %d", tc.typ, got, tc.align)
		}
	}
}

func TestParseType(t *testing.T) {
	for _, typ := range []Type{Void, Char, UChar, Short, Int, UInt, Pointer, Long, LongLong, Float, Double, LongDouble} {
		got, err := ParseType(typ.String())
		if err != nil {
			t.Fatalf("ParseType(%q): %v", typ, err)
		}
		if got != typ {
			t.Fatalf("ParseType(%q) = %+v, want %+v", typ, got, typ)
		}
	}
	got, err := ParseType("struct:5")
	if err != nil || got.Kind != KindStruct || got.Size() != 5 {
		t.Fatalf("ParseType(struct:5) = %+v, %v", got, err)
	}
	for _, bad := range []string{"", "u", "ufloat", "struct:0", "widget"} {
		if _, err := ParseType(bad); err == nil {
			t.Fatalf("ParseType(%q): expected error", bad)
		}
	}
}

func TestOperators(t *testing.T) {
	for op := OpAdd; op <= OpGreaterOrEqual; op++ {
		got, err := ParseOperator(op.String())
		if err != nil || got != op {
			t.Fatalf("ParseOperator(%q) = %v, %v", op, got, err)
		}
		if want := op != OpAdd && op != OpSub; op.Relational() != want {
			t.Fatalf("%s: Relational() = %v", op, op.Relational())
		}
	}
}

func TestStack(t *testing.T) {
	s := NewStack()
	if _, err := s.Pop(); err == nil {
		t.Fatalf("expected error popping an empty stack")
	}
	s.Push(Frame(Char, 0))
	s.Push(Const(Int, 5))
	snap := s.Snapshot()

	top, err := s.Top()
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	*top = Resident(Int, 24)
	below, err := s.At(1)
	if err != nil || below.Loc != LocFrame {
		t.Fatalf("At(1) = %v, %v", below, err)
	}
	if _, err := s.At(2); err == nil {
		t.Fatalf("expected error reading past the bottom")
	}

	s.Restore(snap)
	top, _ = s.Top()
	if top.Loc != LocConst || top.Value != 5 {
		t.Fatalf("restore lost the top operand: %v", top)
	}
	if err := s.Drop(3); err == nil {
		t.Fatalf("expected error dropping too many operands")
	}
	if err := s.Drop(2); err != nil || s.Len() != 0 {
		t.Fatalf("Drop(2): %v, len %d", err, s.Len())
	}
}

func TestOperandRegisters(t *testing.T) {
	if regs := ResidentPair(Int, 24, 25).Registers(); len(regs) != 2 || regs[0] != 24 || regs[1] != 25 {
		t.Fatalf("pair registers = %v", regs)
	}
	if regs := Indirect(Char, 18, 19).Registers(); len(regs) != 2 {
		t.Fatalf("indirect registers = %v", regs)
	}
	if regs := Frame(Int, 0).Registers(); regs != nil {
		t.Fatalf("frame operand holds registers %v", regs)
	}
}

func TestDiagnosticMatching(t *testing.T) {
	inner := errors.New("field out of range")
	err := fmt.Errorf("compile: %w", &Diagnostic{Kind: EncodingRange, Construct: "load", Offset: 4, Err: inner})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("range diagnostic does not match ErrUnsupported")
	}
	if !errors.Is(err, inner) {
		t.Fatalf("diagnostic does not unwrap to its cause")
	}
	var diag *Diagnostic
	if !errors.As(err, &diag) || diag.Kind != EncodingRange {
		t.Fatalf("errors.As failed: %v", err)
	}
	if msg := diag.Error(); !strings.Contains(msg, "load at 0x04") {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestMisuseIsNotUnsupported(t *testing.T) {
	err := fmt.Errorf("step 3: %w", Misused(errors.New("pop from empty evaluation stack")))
	if errors.Is(err, ErrUnsupported) {
		t.Fatalf("misuse matches ErrUnsupported")
	}
	if !errors.Is(err, ErrMisuse) {
		t.Fatalf("misuse does not match ErrMisuse")
	}
	if errors.Is(Unsupported("struct operand"), ErrMisuse) {
		t.Fatalf("unsupported operand matches ErrMisuse")
	}
	if got := Misuse.String(); got != "misuse" {
		t.Fatalf("Misuse.String() = %q", got)
	}
}

type stubBackend struct{ calls int }

func (b *stubBackend) NewFunction(name string, stack *Stack, opts Options) (Function, error) {
	b.calls++
	return nil, fmt.Errorf("stub backend")
}

func TestBackendRegistry(t *testing.T) {
	arch := Architecture("stub-" + t.Name())
	b := &stubBackend{}
	RegisterBackend(arch, b)

	got, err := LookupBackend(arch)
	if err != nil || got != Backend(b) {
		t.Fatalf("LookupBackend = %v, %v", got, err)
	}
	if _, err := NewFunction(arch, "f", NewStack(), DefaultOptions()); err == nil || b.calls != 1 {
		t.Fatalf("NewFunction did not reach the backend: %v", err)
	}
	if _, err := NewFunction(arch, "f", nil, DefaultOptions()); err == nil {
		t.Fatalf("expected error for a nil stack")
	}
	found := false
	for _, a := range Architectures() {
		found = found || a == arch
	}
	if !found {
		t.Fatalf("Architectures() = %v, missing %q", Architectures(), arch)
	}
	if _, err := LookupBackend("missing"); err == nil {
		t.Fatalf("expected error for unknown architecture")
	}
	if _, err := LookupBackend(ArchitectureInvalid); err == nil {
		t.Fatalf("expected error for invalid architecture")
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("duplicate registration did not panic")
		}
	}()
	RegisterBackend(arch, b)
}
