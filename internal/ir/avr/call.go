package avr

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/avrcc/internal/asm"
	avrasm "github.com/tinyrange/avrcc/internal/asm/avr"
	"github.com/tinyrange/avrcc/internal/ir"
)

// Prologue spills the incoming argument registers into consecutive frame
// slots, one register pair per parameter, and returns the slot layout.
func (f *Function) Prologue(params []ir.Param) ([]ir.Slot, error) {
	if f.prologued {
		return nil, fmt.Errorf("avr: prologue of %s already emitted", f.name)
	}
	var slots []ir.Slot
	offset := 0
	err := f.run("prologue", func(c *construct) error {
		for i, p := range params {
			w, err := widthOf(p.Type)
			if err != nil {
				return unsupported("parameter %q: %w", p.Name, err)
			}
			if i >= f.argPairs {
				return unsupported("parameter %q: stack-passed arguments unsupported", p.Name)
			}
			lo, hi := argumentPair(i)
			for b, reg := range []asm.Variable{lo, hi}[:w] {
				q, err := f.frameDisplacement(int64(offset), b)
				if err != nil {
					return err
				}
				if err := c.emit(avrasm.Std(q, reg)); err != nil {
					return err
				}
			}
			slots = append(slots, ir.Slot{Name: p.Name, Offset: offset, Width: w})
			offset += w
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.slots = slots
	f.frameSize = offset
	f.prologued = true
	f.debug("frame", slog.Int("params", len(slots)), slog.Int("bytes", offset))
	return append([]ir.Slot(nil), slots...), nil
}

// FrameSize is the number of frame bytes taken by parameters.
func (f *Function) FrameSize() int { return f.frameSize }

// Epilogue emits the return. Tearing down the frame is up to the caller.
func (f *Function) Epilogue() error {
	return f.run("epilogue", func(c *construct) error {
		return c.emit(avrasm.Ret())
	})
}

// EmitCall calls a statically named function.
func (f *Function) EmitCall(target ir.Operand, tailJump bool) error {
	return f.run("call", func(c *construct) error {
		return c.call(target, tailJump)
	})
}

func (c *construct) call(target ir.Operand, tailJump bool) error {
	if tailJump {
		return unsupported("tail jump to %s", target)
	}
	if target.Loc != ir.LocConst || target.Sym == "" {
		return unsupported("indirect call through %s", target)
	}
	return c.emit(avrasm.CallSymbol(target.Sym, target.Value))
}

// LowerCall calls the function sitting below nbArgs arguments on the stack.
// The top operand is the first argument. Arguments, callee and return type
// are all checked before any code is generated. The arguments and the callee
// are popped, and the return value, if any, is pushed in r24 (r25:r24).
func (f *Function) LowerCall(nbArgs int, ret ir.Type) error {
	return f.run("call", func(c *construct) error {
		if nbArgs < 0 {
			return fmt.Errorf("avr: negative argument count %d", nbArgs)
		}
		callee, err := f.stack.At(nbArgs)
		if err != nil {
			return err
		}
		if callee.Loc != ir.LocConst || callee.Sym == "" {
			return unsupported("indirect call through %s", *callee)
		}
		if ret.Kind != ir.KindVoid {
			if _, err := widthOf(ret); err != nil {
				return unsupported("return type: %w", err)
			}
		}
		if nbArgs > f.argPairs {
			return unsupported("call with %d arguments: stack-passed arguments unsupported", nbArgs)
		}

		args := make([]ir.Operand, nbArgs)
		dests := make([][]asm.Variable, nbArgs)
		for i := range args {
			arg, err := f.stack.At(i)
			if err != nil {
				return err
			}
			w, err := widthOf(arg.Type)
			if err != nil {
				return unsupported("argument %d: %w", i, err)
			}
			lo, hi := argumentPair(i)
			dests[i] = []asm.Variable{lo, hi}[:w]
			if arg.Loc == ir.LocConst && !immediate(lo) {
				return unsupported("argument %d: constant in r%d", i, lo)
			}
			args[i] = *arg
		}

		var live []int
		f.stack.Each(func(depth int, op ir.Operand) {
			if depth > nbArgs {
				live = append(live, op.Registers()...)
			}
		})
		if len(live) > 0 {
			return unsupported("registers %v live across call", live)
		}

		order, err := argumentOrder(args, dests)
		if err != nil {
			return err
		}
		for _, i := range order {
			if err := c.load(dests[i], args[i]); err != nil {
				return unsupported("argument %d: %w", i, err)
			}
		}
		if err := c.call(*callee, false); err != nil {
			return err
		}

		if err := f.stack.Drop(nbArgs + 1); err != nil {
			return err
		}
		switch ret.Size() {
		case 1:
			f.stack.Push(ir.Resident(ret, int(avrasm.R24)))
		case 2:
			f.stack.Push(ir.ResidentPair(ret, int(avrasm.R24), int(avrasm.R25)))
		}
		return nil
	})
}

// argumentOrder picks an order for loading the arguments so that no
// argument is overwritten before it has been moved to its own registers.
func argumentOrder(args []ir.Operand, dests [][]asm.Variable) ([]int, error) {
	done := make([]bool, len(args))
	order := make([]int, 0, len(args))
	for len(order) < len(args) {
		progress := false
		for i := range args {
			if done[i] || clobbersPending(i, args, dests, done) {
				continue
			}
			done[i] = true
			order = append(order, i)
			progress = true
		}
		if !progress {
			return nil, unsupported("call arguments occupy each other's registers")
		}
	}
	return order, nil
}

// clobbersPending reports whether loading argument i would overwrite a
// register still holding another argument that has not been loaded.
func clobbersPending(i int, args []ir.Operand, dests [][]asm.Variable, done []bool) bool {
	for j, arg := range args {
		if j == i || done[j] {
			continue
		}
		for _, held := range arg.Registers() {
			for _, d := range dests[i] {
				if int(d) == held {
					return true
				}
			}
		}
	}
	return false
}

// LowerReturnValue moves the top operand into r24 (r25:r24) and pops it.
func (f *Function) LowerReturnValue() error {
	return f.run("return value", func(c *construct) error {
		top, err := f.stack.Top()
		if err != nil {
			return err
		}
		w, err := widthOf(top.Type)
		if err != nil {
			return unsupported("return value: %w", err)
		}
		if err := c.load([]asm.Variable{avrasm.R24, avrasm.R25}[:w], *top); err != nil {
			return err
		}
		_, err = f.stack.Pop()
		return err
	})
}
