package testutil

import (
	"fmt"
	"strings"
	"testing"
)

// Expectation describes a single instruction that should appear in the
// disassembly output.
type Expectation struct {
	Name     string
	Mnemonic string
	Contains []string
}

func (e Expectation) match(line DisasmLine) error {
	if e.Mnemonic != "" && line.Mnemonic != e.Mnemonic {
		return fmt.Errorf("mnemonic=%s, want %s", line.Mnemonic, e.Mnemonic)
	}
	for _, needle := range e.Contains {
		if !line.Contains(needle) {
			return fmt.Errorf("missing %q in %q", needle, line.Normalized)
		}
	}
	return nil
}

// VerifyExpectations walks the objdump output and ensures each expectation is
// satisfied in order.
func VerifyExpectations(t *testing.T, lines []DisasmLine, expect []Expectation) {
	t.Helper()
	if len(lines) < len(expect) {
		t.Fatalf("objdump returned %d instructions, want at least %d", len(lines), len(expect))
	}
	for idx, exp := range expect {
		line := lines[idx]
		if err := exp.match(line); err != nil {
			t.Fatalf("instruction %q mismatch at line %d: %v\nline: %s", exp.Name, idx, err, line.Text)
		}
	}
}

// VerifyListing compares objdump's text against our own rendering of the
// same words, ignoring whitespace and hex digit case.
func VerifyListing(t *testing.T, lines []DisasmLine, want []string) {
	t.Helper()
	if len(lines) != len(want) {
		t.Fatalf("objdump returned %d instructions, want %d", len(lines), len(want))
	}
	for idx, line := range lines {
		got := strings.ToLower(line.Normalized)
		exp := strings.ToLower(strings.Join(strings.Fields(want[idx]), " "))
		if got != exp {
			t.Fatalf("instruction %d at %#x: objdump %q, listing %q", idx, line.Offset, line.Normalized, want[idx])
		}
	}
}
