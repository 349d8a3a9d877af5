package avr

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/avrcc/internal/asm"
	avrasm "github.com/tinyrange/avrcc/internal/asm/avr"
	"github.com/tinyrange/avrcc/internal/ir"
)

// NoChain is the empty fixup chain.
const NoChain = ir.NoChain

// Label returns the current code offset, usable as a backward jump target.
func (f *Function) Label() int {
	return f.code.Len()
}

// Jump emits a forward jump that joins chain and returns the new chain head.
func (f *Function) Jump(chain int) (int, error) {
	head := chain
	err := f.run("jump", func(c *construct) error {
		head = c.offset()
		return c.emit(avrasm.PendingJump(chain))
	})
	if err != nil {
		return chain, err
	}
	return head, nil
}

// JumpTo emits a jump to an offset that is already known.
func (f *Function) JumpTo(target int) error {
	return f.run("jump", func(c *construct) error {
		return c.jumpTo(target)
	})
}

// MarkLabel names the current code offset. A name can be placed once per
// function.
func (f *Function) MarkLabel(name string) error {
	return f.run("label", func(c *construct) error {
		return c.emit(asm.MarkLabel(asm.Label(name)))
	})
}

// JumpToLabel emits a jump back to a label placed with MarkLabel.
func (f *Function) JumpToLabel(name string) error {
	return f.run("jump", func(c *construct) error {
		target, ok := c.stage.GetLabel(asm.Label(name))
		if !ok {
			return fmt.Errorf("avr: label %q not defined", name)
		}
		return c.jumpTo(target)
	})
}

func (c *construct) jumpTo(target int) error {
	pos := c.offset()
	if target < 0 || target > pos {
		return fmt.Errorf("avr: jump target %#x outside function", target)
	}
	k, err := avrasm.Displacement(pos, target)
	if err != nil {
		return err
	}
	return c.emit(avrasm.Rjmp(k))
}

// ResolveChain points every branch of chain at target.
func (f *Function) ResolveChain(chain, target int) error {
	if chain == NoChain {
		return nil
	}
	return f.run("resolve", func(c *construct) error {
		entries, err := f.code.ChainEntries(chain)
		if err != nil {
			return err
		}
		if err := f.code.ResolveChain(chain, target); err != nil {
			return err
		}
		f.debug("chain resolved", slog.Int("head", chain), slog.Int("target", target), slog.Int("branches", len(entries)))
		return nil
	})
}

// ResolveHere resolves chain to the current offset.
func (f *Function) ResolveHere(chain int) error {
	return f.ResolveChain(chain, f.code.Len())
}

// LowerConditionalBranch pops the top operand and emits a branch, joining
// chain, that is taken when the operand is true (or false with invert).
// It returns the new chain head.
func (f *Function) LowerConditionalBranch(invert bool, chain int) (int, error) {
	head := chain
	err := f.run("branch", func(c *construct) error {
		top, err := c.f.stack.Top()
		if err != nil {
			return err
		}
		switch top.Loc {
		case ir.LocComparison:
			if top.Relation != ir.OpGreater {
				return unsupported("branch on relation %s", top.Relation)
			}
			cond := avrasm.CondGE
			if top.Swapped {
				cond = avrasm.CondLT
			}
			if invert {
				cond = cond.Negate()
			}
			head = c.offset()
			if err := c.emit(avrasm.PendingBranch(cond, chain)); err != nil {
				return err
			}

		case ir.LocBranch:
			return unsupported("branch on a pending branch operand")

		case ir.LocConst:
			if top.Sym != "" {
				return unsupported("branch on the address of %s", top.Sym)
			}
			if (top.Value != 0) != invert {
				head = c.offset()
				if err := c.emit(avrasm.PendingJump(chain)); err != nil {
					return err
				}
			}

		default:
			w, err := widthOf(top.Type)
			if err != nil {
				return err
			}
			if w != 1 {
				return unsupported("truth test of a %d-byte operand", w)
			}
			regs, err := c.toRegister(0, ClassByte)
			if err != nil {
				return err
			}
			cond := avrasm.CondNE
			if invert {
				cond = avrasm.CondEQ
			}
			head = c.offset() + 2
			if err := c.emit(avrasm.And(regs[0], regs[0]), avrasm.PendingBranch(cond, chain)); err != nil {
				return err
			}
		}
		_, err = c.f.stack.Pop()
		return err
	})
	if err != nil {
		return chain, err
	}
	return head, nil
}
