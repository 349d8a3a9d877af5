package ir

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported matches UnsupportedOperand and EncodingRange
	// diagnostics through errors.Is.
	ErrUnsupported = errors.New("ir: unsupported operand")
	// ErrMisuse matches Misuse diagnostics.
	ErrMisuse = errors.New("ir: backend misuse")
)

type DiagnosticKind uint8

const (
	UnsupportedOperand DiagnosticKind = iota + 1
	EncodingRange
	// Misuse is a caller bug such as popping an empty stack or resolving a
	// chain handle that is not a pending branch.
	Misuse
)

func (k DiagnosticKind) String() string {
	switch k {
	case UnsupportedOperand:
		return "unsupported operand"
	case EncodingRange:
		return "encoding range"
	case Misuse:
		return "misuse"
	default:
		return fmt.Sprintf("diagnostic(%d)", uint8(k))
	}
}

// Diagnostic aborts compilation of the current function. Construct names the
// operation that failed and Offset is the code offset it started at.
type Diagnostic struct {
	Kind      DiagnosticKind
	Construct string
	Offset    int
	Err       error
}

func (d *Diagnostic) Error() string {
	if d.Construct == "" {
		return fmt.Sprintf("%s: %v", d.Kind, d.Err)
	}
	return fmt.Sprintf("%s at %#04x: %s: %v", d.Construct, d.Offset, d.Kind, d.Err)
}

func (d *Diagnostic) Unwrap() error { return d.Err }

// Is reports true for ErrMisuse on Misuse diagnostics and for ErrUnsupported
// on the others. Encoding range failures count as unsupported operands.
func (d *Diagnostic) Is(target error) bool {
	if d.Kind == Misuse {
		return target == ErrMisuse
	}
	return target == ErrUnsupported
}

// Unsupported builds an UnsupportedOperand diagnostic. The caller fills in
// the construct and offset.
func Unsupported(format string, args ...any) *Diagnostic {
	return &Diagnostic{Kind: UnsupportedOperand, Err: fmt.Errorf(format, args...)}
}

// OutOfRange wraps an encoder error as an EncodingRange diagnostic.
func OutOfRange(err error) *Diagnostic {
	return &Diagnostic{Kind: EncodingRange, Err: err}
}

// Misused wraps an error caused by the caller driving the backend wrongly.
func Misused(err error) *Diagnostic {
	return &Diagnostic{Kind: Misuse, Err: err}
}
