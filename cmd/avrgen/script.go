package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tinyrange/avrcc/internal/asm"
	"github.com/tinyrange/avrcc/internal/ir"
	"github.com/tinyrange/avrcc/internal/ir/factory"
	"gopkg.in/yaml.v3"
)

// Script is a recorded sequence of backend operations for one function.
type Script struct {
	Function string  `yaml:"function"`
	Params   []Param `yaml:"params"`
	Steps    []Step  `yaml:"steps"`
	// NoEpilogue leaves the trailing return out.
	NoEpilogue bool `yaml:"no_epilogue"`
}

// Param declares one incoming parameter.
type Param struct {
	Name string   `yaml:"name"`
	Type TypeName `yaml:"type"`
}

// Step is one backend operation. Which fields matter depends on Op.
type Step struct {
	Op       string       `yaml:"op"`
	Operand  *OperandSpec `yaml:"operand"`  // push, call_direct
	Operator string       `yaml:"operator"` // dyadic
	Invert   bool         `yaml:"invert"`   // branch
	Chain    string       `yaml:"chain"`    // branch, jump, resolve
	Label    string       `yaml:"label"`    // label, goto
	Args     int          `yaml:"args"`     // call
	Returns  TypeName     `yaml:"returns"`  // call
	Count    int          `yaml:"count"`    // pop
}

// OperandSpec describes an operand pushed onto the evaluation stack.
type OperandSpec struct {
	Kind   string   `yaml:"kind"` // const, symbol, frame, reg, absolute, indirect
	Type   TypeName `yaml:"type"`
	Value  int64    `yaml:"value"`
	Symbol string   `yaml:"symbol"`
	Slot   string   `yaml:"slot"` // frame operands may name a parameter
	Reg    int      `yaml:"reg"`
	Reg2   *int     `yaml:"reg2"`
}

// TypeName wraps ir.Type for YAML unmarshaling.
type TypeName ir.Type

// UnmarshalYAML implements yaml.Unmarshaler for TypeName.
func (t *TypeName) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ir.ParseType(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*t = TypeName(parsed)
	return nil
}

// Type returns the ir.Type value.
func (t TypeName) Type() ir.Type {
	return ir.Type(t)
}

// LoadScript reads a script from path, or from stdin when path is "-".
func LoadScript(path string) (*Script, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return ParseScript(data)
}

// ParseScript decodes a YAML script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing script: empty script")
		}
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	if s.Function == "" {
		return nil, fmt.Errorf("parsing script: function name missing")
	}
	return &s, nil
}

// replay drives one function through the backend.
type replay struct {
	fn     ir.Function
	stack  *ir.Stack
	params map[string]ir.Type
	slots  map[string]ir.Slot
	chains map[string]int
}

// Run compiles the script for arch and returns the finished program.
func (s *Script) Run(arch ir.Architecture, opts ir.Options) (asm.Program, error) {
	stack := ir.NewStack()
	fn, err := factory.NewFunction(arch, s.Function, stack, opts)
	if err != nil {
		return asm.Program{}, err
	}
	r := &replay{
		fn:     fn,
		stack:  stack,
		params: make(map[string]ir.Type),
		slots:  make(map[string]ir.Slot),
		chains: make(map[string]int),
	}

	params := make([]ir.Param, len(s.Params))
	for i, p := range s.Params {
		params[i] = ir.Param{Name: p.Name, Type: p.Type.Type()}
		r.params[p.Name] = p.Type.Type()
	}
	slots, err := fn.Prologue(params)
	if err != nil {
		return asm.Program{}, err
	}
	for _, slot := range slots {
		r.slots[slot.Name] = slot
	}

	for i, step := range s.Steps {
		if err := r.step(step); err != nil {
			return asm.Program{}, fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
	}
	for name, chain := range r.chains {
		if chain != ir.NoChain {
			return asm.Program{}, fmt.Errorf("chain %q never resolved", name)
		}
	}

	if !s.NoEpilogue {
		if err := fn.Epilogue(); err != nil {
			return asm.Program{}, err
		}
	}
	return fn.Finish()
}

func (r *replay) chain(name string) int {
	if name == "" {
		return ir.NoChain
	}
	if head, ok := r.chains[name]; ok {
		return head
	}
	return ir.NoChain
}

func (r *replay) step(s Step) error {
	switch s.Op {
	case "push":
		op, err := r.operand(s.Operand)
		if err != nil {
			return err
		}
		r.stack.Push(op)
		return nil
	case "pop":
		n := max(s.Count, 1)
		return r.stack.Drop(n)
	case "dyadic":
		op, err := ir.ParseOperator(s.Operator)
		if err != nil {
			return err
		}
		return r.fn.LowerDyadic(op)
	case "store":
		return r.fn.Store()
	case "materialize":
		_, err := r.fn.Materialize()
		return err
	case "branch":
		head, err := r.fn.LowerConditionalBranch(s.Invert, r.chain(s.Chain))
		if err != nil {
			return err
		}
		return r.setChain(s.Chain, head)
	case "jump":
		head, err := r.fn.Jump(r.chain(s.Chain))
		if err != nil {
			return err
		}
		return r.setChain(s.Chain, head)
	case "resolve":
		if err := r.fn.ResolveHere(r.chain(s.Chain)); err != nil {
			return err
		}
		r.chains[s.Chain] = ir.NoChain
		return nil
	case "label":
		if s.Label == "" {
			return fmt.Errorf("label name missing")
		}
		return r.fn.MarkLabel(s.Label)
	case "goto":
		return r.fn.JumpToLabel(s.Label)
	case "call":
		return r.fn.LowerCall(s.Args, s.Returns.Type())
	case "call_direct":
		op, err := r.operand(s.Operand)
		if err != nil {
			return err
		}
		return r.fn.EmitCall(op, false)
	case "return":
		return r.fn.LowerReturnValue()
	default:
		return fmt.Errorf("unknown operation %q", s.Op)
	}
}

func (r *replay) setChain(name string, head int) error {
	if name == "" {
		if head != ir.NoChain {
			return fmt.Errorf("branch needs a chain name")
		}
		return nil
	}
	r.chains[name] = head
	return nil
}

func (r *replay) operand(spec *OperandSpec) (ir.Operand, error) {
	if spec == nil {
		return ir.Operand{}, fmt.Errorf("operand missing")
	}
	t := spec.Type.Type()
	switch spec.Kind {
	case "const":
		return ir.Const(t, spec.Value), nil
	case "symbol":
		if t.Kind == ir.KindVoid {
			t = ir.Pointer
		}
		return ir.SymbolRef(t, spec.Symbol, spec.Value), nil
	case "frame":
		offset := int(spec.Value)
		if spec.Slot != "" {
			slot, ok := r.slots[spec.Slot]
			if !ok {
				return ir.Operand{}, fmt.Errorf("no parameter named %q", spec.Slot)
			}
			offset = slot.Offset
			if t.Kind == ir.KindVoid {
				t = r.params[spec.Slot]
			}
		}
		return ir.Frame(t, offset), nil
	case "reg":
		if spec.Reg2 != nil {
			return ir.ResidentPair(t, spec.Reg, *spec.Reg2), nil
		}
		return ir.Resident(t, spec.Reg), nil
	case "absolute":
		if spec.Symbol != "" {
			return ir.AbsoluteSymbol(t, spec.Symbol, spec.Value), nil
		}
		return ir.Absolute(t, spec.Value), nil
	case "indirect":
		hi := spec.Reg + 1
		if spec.Reg2 != nil {
			hi = *spec.Reg2
		}
		return ir.Indirect(t, spec.Reg, hi), nil
	default:
		return ir.Operand{}, fmt.Errorf("unknown operand kind %q", spec.Kind)
	}
}
