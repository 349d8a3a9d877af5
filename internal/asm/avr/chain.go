package avr

import (
	"fmt"

	"github.com/tinyrange/avrcc/internal/asm"
)

// Forward references are threaded through the displacement fields of the
// branches that are still waiting for their label. While pending, a branch's
// k field holds the distance in words back to the previous pending branch
// of the same chain, or 0 for the oldest one. A chain handle is the byte
// offset of the newest pending branch; NoChain is the empty chain.

const NoChain = -1

// Condition selects the status-register test of a conditional branch.
type Condition uint8

const (
	CondEQ Condition = iota
	CondNE
	CondLT
	CondGE
)

func (c Condition) inst() Inst {
	switch c {
	case CondEQ:
		return Inst{Op: BRBS, S: FlagZ}
	case CondNE:
		return Inst{Op: BRBC, S: FlagZ}
	case CondLT:
		return Inst{Op: BRBS, S: FlagS}
	default:
		return Inst{Op: BRBC, S: FlagS}
	}
}

// Negate returns the condition that holds exactly when c does not.
func (c Condition) Negate() Condition {
	return c ^ 1
}

func (c Condition) String() string {
	switch c {
	case CondEQ:
		return "eq"
	case CondNE:
		return "ne"
	case CondLT:
		return "lt"
	case CondGE:
		return "ge"
	default:
		return fmt.Sprintf("cond(%d)", uint8(c))
	}
}

// Chainable reports whether op can sit in a forward-reference chain.
func (op Op) Chainable() bool {
	return op == RJMP || op == BRBS || op == BRBC
}

type pendingBranch struct {
	in   Inst
	prev int
}

func (b pendingBranch) Emit(ctx asm.Context) error {
	pos := ctx.Offset()
	link, err := chainLink(pos, b.prev)
	if err != nil {
		return err
	}
	in := b.in
	in.K = link
	word, err := Encode(in)
	if err != nil {
		return err
	}
	emitWord(ctx, word)
	return nil
}

func chainLink(pos, prev int) (int, error) {
	if prev == NoChain {
		return 0, nil
	}
	if prev < 0 || prev >= pos || prev%2 != 0 {
		return 0, fmt.Errorf("avr: chain head %#x is not a pending branch before %#x", prev, pos)
	}
	return (pos - prev) / 2, nil
}

// PendingJump emits an RJMP that joins the chain headed by prev. The new
// chain head is the offset the jump lands at.
func PendingJump(prev int) asm.Fragment {
	return pendingBranch{in: Inst{Op: RJMP}, prev: prev}
}

// PendingBranch emits a conditional branch that joins the chain headed by
// prev.
func PendingBranch(cond Condition, prev int) asm.Fragment {
	return pendingBranch{in: cond.inst(), prev: prev}
}

// Displacement is the word offset a relative branch at pos needs to reach
// target; the program counter already points past the branch.
func Displacement(pos, target int) (int, error) {
	if (target-pos)%2 != 0 {
		return 0, fmt.Errorf("avr: branch target %#x is not word aligned", target)
	}
	return (target - (pos + 2)) / 2, nil
}

// ResolveChain rewrites every branch of the chain headed by head so that it
// lands on target. Nothing is patched unless every branch can reach it.
func (e *Emitter) ResolveChain(head, target int) error {
	if target < 0 || target > len(e.code) {
		return fmt.Errorf("avr: chain target %#x outside function", target)
	}
	type patch struct {
		pos  int
		word uint16
	}
	var patches []patch
	for pos := head; pos != NoChain; {
		word, err := e.WordAt(pos)
		if err != nil {
			return fmt.Errorf("avr: chain entry: %w", err)
		}
		in, ok := Decode(word)
		if !ok || !in.Op.Chainable() {
			return fmt.Errorf("avr: chain entry at %#x is not a pending branch (%#04x)", pos, word)
		}
		link := in.K
		if in.K, err = Displacement(pos, target); err != nil {
			return err
		}
		resolved, err := Encode(in)
		if err != nil {
			return fmt.Errorf("avr: %s at %#x cannot reach %#x: %w", in.Op, pos, target, err)
		}
		patches = append(patches, patch{pos: pos, word: resolved})
		if link == 0 {
			break
		}
		if link < 0 {
			return fmt.Errorf("avr: corrupt chain link %d at %#x", link, pos)
		}
		pos -= 2 * link
	}
	for _, p := range patches {
		e.putWord(p.pos, p.word)
		e.logPatch(p.pos, p.word)
	}
	return nil
}

// ChainEntries lists the offsets of a pending chain, newest first.
func (e *Emitter) ChainEntries(head int) ([]int, error) {
	var out []int
	for pos := head; pos != NoChain; {
		word, err := e.WordAt(pos)
		if err != nil {
			return nil, err
		}
		in, ok := Decode(word)
		if !ok || !in.Op.Chainable() {
			return nil, fmt.Errorf("avr: chain entry at %#x is not a pending branch", pos)
		}
		out = append(out, pos)
		if in.K <= 0 {
			break
		}
		pos -= 2 * in.K
	}
	return out, nil
}
