package avr

import (
	"github.com/tinyrange/avrcc/internal/asm"
	avrasm "github.com/tinyrange/avrcc/internal/asm/avr"
	"github.com/tinyrange/avrcc/internal/ir"
)

// maxAdiw is the largest immediate of one ADIW.
const maxAdiw = 63

// LowerDyadic pops the two top operands, combines them with op and pushes
// the result. Relational operators leave a pending comparison instead of a
// value.
func (f *Function) LowerDyadic(op ir.Operator) error {
	return f.run("dyadic "+op.String(), func(c *construct) error {
		return c.dyadic(op)
	})
}

func (c *construct) dyadic(op ir.Operator) error {
	switch {
	case op == ir.OpAdd, op == ir.OpSub, op == ir.OpGreater:
	case op.Relational():
		return unsupported("relation %s", op)
	default:
		return unsupported("operator %s", op)
	}
	lhs, err := c.f.stack.At(1)
	if err != nil {
		return err
	}
	rhs, err := c.f.stack.At(0)
	if err != nil {
		return err
	}
	for _, o := range []*ir.Operand{lhs, rhs} {
		if o.Loc == ir.LocComparison || o.Loc == ir.LocBranch {
			return unsupported("%s operand of %s", o.Loc, op)
		}
		if _, err := widthOf(o.Type); err != nil {
			return err
		}
	}
	if op == ir.OpGreater && (lhs.Type.Unsigned || rhs.Type.Unsigned) {
		return unsupported("unsigned comparison")
	}

	isConst := func(o *ir.Operand) bool { return o.Loc == ir.LocConst && o.Sym == "" }
	var swapped bool
	switch {
	case isConst(lhs) && isConst(rhs):
		return c.fold(op, *lhs, *rhs)
	case isConst(rhs):
		err = c.dyadicConst(op, rhs.Value)
	default:
		swapped, err = c.dyadicRuntime(op)
	}
	if err != nil {
		return err
	}

	if _, err := c.f.stack.Pop(); err != nil {
		return err
	}
	if op.Relational() {
		top, err := c.f.stack.Top()
		if err != nil {
			return err
		}
		cmp := ir.Comparison(ir.Int, op)
		cmp.Swapped = swapped
		*top = cmp
	}
	return nil
}

// fold evaluates an operation on two constants at compile time.
func (c *construct) fold(op ir.Operator, lhs, rhs ir.Operand) error {
	t := lhs.Type
	if rhs.Type.Size() > t.Size() {
		t = rhs.Type
	}
	var v int64
	switch op {
	case ir.OpAdd:
		v = lhs.Value + rhs.Value
	case ir.OpSub:
		v = lhs.Value - rhs.Value
	case ir.OpGreater:
		t = ir.Int
		if lhs.Value > rhs.Value {
			v = 1
		}
	}
	bits := 8 * t.Size()
	v &= 1<<bits - 1
	if !t.Unsigned && v >= 1<<(bits-1) {
		v -= 1 << bits
	}
	if err := c.f.stack.Drop(2); err != nil {
		return err
	}
	c.f.stack.Push(ir.Const(t, v))
	return nil
}

// dyadicConst lowers lhs op k where the left operand sits below the constant
// on the stack.
func (c *construct) dyadicConst(op ir.Operator, k int64) error {
	lhs, err := c.f.stack.At(1)
	if err != nil {
		return err
	}
	w, err := widthOf(lhs.Type)
	if err != nil {
		return err
	}

	switch op {
	case ir.OpAdd, ir.OpSub:
		if _, err := constantBytes(k, w); err != nil {
			return err
		}
	case ir.OpGreater:
		// lhs > k becomes lhs - (k+1) >= 0, so k+1 must stay in range.
		limit := int64(126)
		if w == 2 {
			limit = 32766
		}
		if k < -1<<(8*w-1) || k > limit {
			return unsupported("comparison of a %d-byte operand with %d", w, k)
		}
	}

	regs, err := c.toRegister(1, ClassImmediate)
	if err != nil {
		return err
	}

	if w == 1 {
		lo := regs[0]
		if !immediate(lo) {
			return unsupported("r%d cannot take an immediate operand", lo)
		}
		switch op {
		case ir.OpAdd:
			return c.emit(avrasm.Subi(lo, int(-k)&0xFF))
		case ir.OpSub:
			return c.emit(avrasm.Subi(lo, int(k)&0xFF))
		default:
			return c.emit(avrasm.Cpi(lo, int(k+1)&0xFF))
		}
	}

	lo, hi := regs[0], regs[1]
	if op == ir.OpGreater {
		if !immediate(lo) || !immediate(hi) {
			return unsupported("r%d:r%d cannot take an immediate operand", hi, lo)
		}
		return c.emit(subtractImmediate(lo, hi, uint16(k+1))...)
	}

	m := k
	if op == ir.OpSub {
		m = -k
	}
	if r, ok := Lookup(lo); ok && r.Partner == hi && r.IsWordIncrementEligible() && m >= 0 && m <= 2*maxAdiw {
		return c.emit(wordIncrement(lo, int(m))...)
	}
	if immediate(lo) && immediate(hi) {
		return c.emit(subtractImmediate(lo, hi, uint16(-m))...)
	}
	return unsupported("r%d:r%d cannot take an immediate operand", hi, lo)
}

// wordIncrement adds m (0..126) to the pair at lo with at most two ADIW.
func wordIncrement(lo asm.Variable, m int) []asm.Fragment {
	var frags []asm.Fragment
	for m > 0 {
		k := min(m, maxAdiw)
		frags = append(frags, avrasm.Adiw(lo, k))
		m -= k
	}
	return frags
}

// subtractImmediate subtracts the 16-bit value v from lo:hi, low byte first.
func subtractImmediate(lo, hi asm.Variable, v uint16) []asm.Fragment {
	return []asm.Fragment{
		avrasm.Subi(lo, int(v&0xFF)),
		avrasm.Sbci(hi, int(v>>8)),
	}
}

// dyadicRuntime lowers an operation on two runtime values. Greater-than is
// computed as rhs-lhs so that a single sign test decides it; the returned
// flag reports that swap.
func (c *construct) dyadicRuntime(op ir.Operator) (bool, error) {
	lhs, err := c.f.stack.At(1)
	if err != nil {
		return false, err
	}
	rhs, err := c.f.stack.At(0)
	if err != nil {
		return false, err
	}
	if lhs.Loc == ir.LocConst {
		lhs.Type = rhs.Type
	}
	if rhs.Loc == ir.LocConst {
		rhs.Type = lhs.Type
	}
	wl, _ := widthOf(lhs.Type)
	wr, _ := widthOf(rhs.Type)
	if wl != wr {
		return false, unsupported("mixed %d-byte and %d-byte operands", wl, wr)
	}

	l, err := c.toRegister(1, ClassByte)
	if err != nil {
		return false, err
	}
	r, err := c.toRegister(0, ClassByte)
	if err != nil {
		return false, err
	}

	var frags []asm.Fragment
	switch op {
	case ir.OpAdd:
		frags = append(frags, avrasm.Add(l[0], r[0]))
		if wl == 2 {
			frags = append(frags, avrasm.Adc(l[1], r[1]))
		}
	case ir.OpSub:
		frags = append(frags, avrasm.Sub(l[0], r[0]))
		if wl == 2 {
			frags = append(frags, avrasm.Sbc(l[1], r[1]))
		}
	default:
		frags = append(frags, avrasm.Sub(r[0], l[0]))
		if wl == 2 {
			frags = append(frags, avrasm.Sbc(r[1], l[1]))
		}
	}
	return op == ir.OpGreater, c.emit(frags...)
}
