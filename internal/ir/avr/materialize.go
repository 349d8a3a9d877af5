package avr

import (
	"fmt"

	"github.com/tinyrange/avrcc/internal/asm"
	avrasm "github.com/tinyrange/avrcc/internal/asm/avr"
	"github.com/tinyrange/avrcc/internal/ir"
)

// maxDisplacement is the largest q of LDD/STD.
const maxDisplacement = 63

// widthOf returns 1 or 2 for the scalar types this backend lowers.
func widthOf(t ir.Type) (int, error) {
	switch {
	case t.Kind == ir.KindStruct:
		return 0, unsupported("struct operand of %d bytes", t.Size())
	case t.IsFloat():
		return 0, unsupported("floating-point operand %s", t)
	}
	switch n := t.Size(); n {
	case 1, 2:
		return n, nil
	default:
		return 0, unsupported("%d-byte operand %s", n, t)
	}
}

// frameDisplacement is the Y displacement of byte index of the slot at
// offset. The frame grows upward from Y, so loads and stores agree.
func (f *Function) frameDisplacement(offset int64, index int) (int, error) {
	if offset < 0 {
		return 0, ir.OutOfRange(fmt.Errorf("avr: negative frame offset %d", offset))
	}
	q := int64(f.frameBias) + offset + int64(index)
	if q > maxDisplacement {
		return 0, ir.OutOfRange(fmt.Errorf("avr: frame displacement Y+%d beyond Y+%d", q, maxDisplacement))
	}
	return int(q), nil
}

// constantBytes checks that v fits a w-byte immediate, signed or unsigned,
// and returns its two's complement bits.
func constantBytes(v int64, w int) (uint16, error) {
	lo, hi := int64(-128), int64(255)
	if w == 2 {
		lo, hi = -32768, 65535
	}
	if v < lo || v > hi {
		return 0, unsupported("constant %d does not fit a %d-byte immediate", v, w)
	}
	return uint16(v), nil
}

func immediate(reg asm.Variable) bool {
	r, ok := Lookup(reg)
	return ok && r.IsImmediateLoadable()
}

// targetRegs expands lo into the registers that hold a value of type t.
func targetRegs(lo asm.Variable, t ir.Type) ([]asm.Variable, error) {
	w, err := widthOf(t)
	if err != nil {
		return nil, err
	}
	if w == 1 {
		return []asm.Variable{lo}, nil
	}
	r, ok := Lookup(lo)
	if !ok || !r.Is(ClassWord) {
		return nil, unsupported("r%d is not the low register of a pair", lo)
	}
	return []asm.Variable{lo, r.Partner}, nil
}

// operandRegs lists the registers of a register-resident operand, low byte
// first.
func operandRegs(op ir.Operand, w int) ([]asm.Variable, error) {
	if op.Reg < 0 || op.Reg >= 32 {
		return nil, fmt.Errorf("avr: operand %s has no register", op)
	}
	if w == 1 {
		return []asm.Variable{asm.Variable(op.Reg)}, nil
	}
	if op.Reg2 < 0 || op.Reg2 >= 32 {
		return nil, fmt.Errorf("avr: word operand %s has no high register", op)
	}
	return []asm.Variable{asm.Variable(op.Reg), asm.Variable(op.Reg2)}, nil
}

// moves copies src into dst byte by byte without clobbering a source byte
// before it has been read.
func (c *construct) moves(dst, src []asm.Variable) error {
	order := []int{0, 1}
	if len(dst) == 2 && dst[0] == src[1] {
		if dst[1] == src[0] {
			return unsupported("swapping r%d and r%d", src[0], src[1])
		}
		order = []int{1, 0}
	}
	for _, i := range order[:len(dst)] {
		if dst[i] == src[i] {
			continue
		}
		if err := c.emit(avrasm.Mov(dst[i], src[i])); err != nil {
			return err
		}
	}
	return nil
}

// load materializes op into dst, which holds one register per byte.
func (c *construct) load(dst []asm.Variable, op ir.Operand) error {
	w, err := widthOf(op.Type)
	if err != nil {
		return err
	}
	if len(dst) < w {
		return fmt.Errorf("avr: %d-byte load into %d registers", w, len(dst))
	}
	dst = dst[:w]

	switch op.Loc {
	case ir.LocFrame:
		for i, reg := range dst {
			q, err := c.f.frameDisplacement(op.Value, i)
			if err != nil {
				return err
			}
			if err := c.emit(avrasm.Ldd(reg, q)); err != nil {
				return err
			}
		}
		return nil

	case ir.LocConst:
		for _, reg := range dst {
			if !immediate(reg) {
				return unsupported("immediate load into r%d", reg)
			}
		}
		if op.Sym != "" {
			frags := []asm.Fragment{avrasm.LdiSymbol(dst[0], op.Sym, op.Value, false)}
			if w == 2 {
				frags = append(frags, avrasm.LdiSymbol(dst[1], op.Sym, op.Value, true))
			}
			return c.emit(frags...)
		}
		v, err := constantBytes(op.Value, w)
		if err != nil {
			return err
		}
		for i, reg := range dst {
			if err := c.emit(avrasm.Ldi(reg, int(v>>(8*i))&0xFF)); err != nil {
				return err
			}
		}
		return nil

	case ir.LocRegister:
		src, err := operandRegs(op, w)
		if err != nil {
			return err
		}
		return c.moves(dst, src)

	case ir.LocComparison, ir.LocBranch:
		return unsupported("materializing a %s operand", op.Loc)

	default:
		return unsupported("load from %s memory", op.Loc)
	}
}

// store writes the value held in src into the lvalue op.
func (c *construct) store(src []asm.Variable, op ir.Operand) error {
	w, err := widthOf(op.Type)
	if err != nil {
		return err
	}
	if len(src) < w {
		return fmt.Errorf("avr: %d-byte store from %d registers", w, len(src))
	}
	src = src[:w]

	switch op.Loc {
	case ir.LocAbsolute, ir.LocIndirect:
		for _, reg := range src {
			if reg == avrasm.ZL || reg == avrasm.ZH {
				return unsupported("storing r%d through Z", reg)
			}
		}
	}

	switch op.Loc {
	case ir.LocAbsolute:
		for i, reg := range src {
			var frags []asm.Fragment
			if op.Sym != "" {
				addend := op.Value + int64(i)
				frags = append(frags,
					avrasm.LdiSymbol(avrasm.ZL, op.Sym, addend, false),
					avrasm.LdiSymbol(avrasm.ZH, op.Sym, addend, true))
			} else {
				addr := op.Value + int64(i)
				if addr < 0 || addr > 0xFFFF {
					return unsupported("address %#x outside the data space", addr)
				}
				frags = append(frags,
					avrasm.Ldi(avrasm.ZL, int(addr&0xFF)),
					avrasm.Ldi(avrasm.ZH, int(addr>>8)))
			}
			frags = append(frags, avrasm.StZ(reg))
			if err := c.emit(frags...); err != nil {
				return err
			}
		}
		return nil

	case ir.LocFrame:
		for i, reg := range src {
			q, err := c.f.frameDisplacement(op.Value, i)
			if err != nil {
				return err
			}
			if err := c.emit(avrasm.Std(q, reg)); err != nil {
				return err
			}
		}
		return nil

	case ir.LocIndirect:
		addr, err := operandRegs(op, 2)
		if err != nil {
			return unsupported("indirect store without an address pair: %w", err)
		}
		if err := c.moves([]asm.Variable{avrasm.ZL, avrasm.ZH}, addr); err != nil {
			return err
		}
		frags := []asm.Fragment{avrasm.StZ(src[0])}
		if w == 2 {
			frags = append(frags, avrasm.Adiw(avrasm.ZL, 1), avrasm.StZ(src[1]))
		}
		return c.emit(frags...)

	case ir.LocRegister:
		dst, err := operandRegs(op, w)
		if err != nil {
			return err
		}
		return c.moves(dst, src)

	default:
		return unsupported("%s operand is not an lvalue", op.Loc)
	}
}

// toRegister makes the operand at depth register-resident. Operands already
// in registers stay where they are; others get the first free register (or
// pair) with class need.
func (c *construct) toRegister(depth int, need Class) ([]asm.Variable, error) {
	op, err := c.f.stack.At(depth)
	if err != nil {
		return nil, err
	}
	w, err := widthOf(op.Type)
	if err != nil {
		return nil, err
	}
	if op.Loc == ir.LocRegister {
		return operandRegs(*op, w)
	}
	if op.Loc == ir.LocConst {
		need |= ClassImmediate
	}

	busy := c.f.busy(0)
	var regs []asm.Variable
	if w == 1 {
		r, err := allocByte(busy, need)
		if err != nil {
			return nil, unsupported("%w", err)
		}
		regs = []asm.Variable{r.Phys}
	} else {
		r, err := allocPair(busy, need)
		if err != nil {
			return nil, unsupported("%w", err)
		}
		regs = []asm.Variable{r.Phys, r.Partner}
	}
	if err := c.load(regs, *op); err != nil {
		return nil, err
	}
	if w == 1 {
		*op = ir.Resident(op.Type, int(regs[0]))
	} else {
		*op = ir.ResidentPair(op.Type, int(regs[0]), int(regs[1]))
	}
	return regs, nil
}

// Load materializes op into dst, plus its pair partner for word values.
func (f *Function) Load(dst asm.Variable, op ir.Operand) error {
	return f.run("load", func(c *construct) error {
		regs, err := targetRegs(dst, op.Type)
		if err != nil {
			return err
		}
		return c.load(regs, op)
	})
}

// Dematerialize stores the value held in src (and its partner for word
// values) into the lvalue op.
func (f *Function) Dematerialize(src asm.Variable, op ir.Operand) error {
	return f.run("store", func(c *construct) error {
		regs, err := targetRegs(src, op.Type)
		if err != nil {
			return err
		}
		return c.store(regs, op)
	})
}

// Materialize implements ir.Function.
func (f *Function) Materialize() (ir.Operand, error) {
	var result ir.Operand
	err := f.run("materialize", func(c *construct) error {
		if _, err := c.toRegister(0, ClassByte); err != nil {
			return err
		}
		top, err := c.f.stack.Top()
		if err != nil {
			return err
		}
		result = *top
		return nil
	})
	return result, err
}

// Store implements ir.Function.
func (f *Function) Store() error {
	return f.run("store", func(c *construct) error {
		lv, err := c.f.stack.At(1)
		if err != nil {
			return err
		}
		val, err := c.f.stack.Top()
		if err != nil {
			return err
		}
		if val.Loc == ir.LocConst {
			val.Type = lv.Type
		}
		wl, err := widthOf(lv.Type)
		if err != nil {
			return err
		}
		wv, err := widthOf(val.Type)
		if err != nil {
			return err
		}
		if wl != wv {
			return unsupported("storing a %d-byte value into a %d-byte lvalue", wv, wl)
		}
		src, err := c.toRegister(0, ClassByte)
		if err != nil {
			return err
		}
		if err := c.store(src, *lv); err != nil {
			return err
		}
		result := *val
		if err := c.f.stack.Drop(2); err != nil {
			return err
		}
		c.f.stack.Push(result)
		return nil
	})
}
