package ir

import (
	"fmt"
	"strings"
)

type Kind uint8

const (
	KindVoid Kind = iota
	KindChar
	KindShort
	KindInt
	KindPointer
	KindLong
	KindLongLong
	KindFloat
	KindDouble
	KindLongDouble
	KindStruct
)

var kindNames = [...]string{
	KindVoid:       "void",
	KindChar:       "char",
	KindShort:      "short",
	KindInt:        "int",
	KindPointer:    "pointer",
	KindLong:       "long",
	KindLongLong:   "llong",
	KindFloat:      "float",
	KindDouble:     "double",
	KindLongDouble: "ldouble",
	KindStruct:     "struct",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Type is the C type of an operand. Bytes and Alignment are only meaningful
// for structs; scalar layouts follow the 8-bit data model.
type Type struct {
	Kind      Kind
	Unsigned  bool
	Bytes     int
	Alignment int
}

var (
	Void       = Type{Kind: KindVoid}
	Char       = Type{Kind: KindChar}
	UChar      = Type{Kind: KindChar, Unsigned: true}
	Short      = Type{Kind: KindShort}
	Int        = Type{Kind: KindInt}
	UInt       = Type{Kind: KindInt, Unsigned: true}
	Pointer    = Type{Kind: KindPointer, Unsigned: true}
	Long       = Type{Kind: KindLong}
	LongLong   = Type{Kind: KindLongLong}
	Float      = Type{Kind: KindFloat}
	Double     = Type{Kind: KindDouble}
	LongDouble = Type{Kind: KindLongDouble}
)

func Struct(size, align int) Type {
	return Type{Kind: KindStruct, Bytes: size, Alignment: align}
}

// Size is the storage size in bytes.
func (t Type) Size() int {
	switch t.Kind {
	case KindVoid:
		return 0
	case KindChar:
		return 1
	case KindShort, KindInt, KindPointer:
		return 2
	case KindLong, KindFloat, KindDouble:
		return 4
	case KindLongLong:
		return 8
	case KindLongDouble:
		return 12
	case KindStruct:
		return t.Bytes
	default:
		return 0
	}
}

// Align is the required alignment in bytes. The target has no alignment
// constraints for scalars.
func (t Type) Align() int {
	if t.Kind == KindStruct && t.Alignment > 0 {
		return t.Alignment
	}
	if t.Kind == KindVoid {
		return 0
	}
	return 1
}

func (t Type) IsFloat() bool {
	return t.Kind == KindFloat || t.Kind == KindDouble || t.Kind == KindLongDouble
}

func (t Type) IsInteger() bool {
	switch t.Kind {
	case KindChar, KindShort, KindInt, KindPointer, KindLong, KindLongLong:
		return true
	}
	return false
}

func (t Type) String() string {
	switch {
	case t.Kind == KindStruct:
		return fmt.Sprintf("struct(%d)", t.Bytes)
	case t.Unsigned && t.Kind != KindPointer:
		return "u" + t.Kind.String()
	default:
		return t.Kind.String()
	}
}

// ParseType accepts the names printed by Type.String, plus "struct:N".
func ParseType(name string) (Type, error) {
	name = strings.TrimSpace(name)
	if rest, ok := strings.CutPrefix(name, "struct:"); ok {
		var size int
		if _, err := fmt.Sscanf(rest, "%d", &size); err != nil || size <= 0 {
			return Type{}, fmt.Errorf("ir: invalid struct size %q", rest)
		}
		return Struct(size, 1), nil
	}
	unsigned := false
	base := name
	if strings.HasPrefix(name, "u") && name != "u" {
		unsigned = true
		base = name[1:]
	}
	for k, kn := range kindNames {
		if kn != base || Kind(k) == KindStruct {
			continue
		}
		t := Type{Kind: Kind(k), Unsigned: unsigned || Kind(k) == KindPointer}
		if unsigned && !t.IsInteger() {
			break
		}
		return t, nil
	}
	return Type{}, fmt.Errorf("ir: unknown type %q", name)
}

// Operator selects the dyadic operation lowered by Function.LowerDyadic.
type Operator uint8

const (
	OpAdd Operator = iota
	OpSub
	OpEqual
	OpNotEqual
	OpLess
	OpLessOrEqual
	OpGreater
	OpGreaterOrEqual
)

var operatorNames = [...]string{
	OpAdd:            "add",
	OpSub:            "sub",
	OpEqual:          "eq",
	OpNotEqual:       "ne",
	OpLess:           "lt",
	OpLessOrEqual:    "le",
	OpGreater:        "gt",
	OpGreaterOrEqual: "ge",
}

// Relational reports whether the operator yields a comparison rather than a
// value.
func (op Operator) Relational() bool {
	return op >= OpEqual && op <= OpGreaterOrEqual
}

func (op Operator) String() string {
	if int(op) < len(operatorNames) {
		return operatorNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

func ParseOperator(name string) (Operator, error) {
	for op, n := range operatorNames {
		if n == name {
			return Operator(op), nil
		}
	}
	return 0, fmt.Errorf("ir: unknown operator %q", name)
}

// Param is one incoming function parameter in declaration order.
type Param struct {
	Name string
	Type Type
}

// Slot is the frame location assigned to a parameter.
type Slot struct {
	Name   string
	Offset int
	Width  int
}
