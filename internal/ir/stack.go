package ir

import "fmt"

// Stack is the compiler's evaluation stack. Depth 0 is the top.
type Stack struct {
	items []Operand
}

func NewStack() *Stack {
	return &Stack{}
}

func (s *Stack) Len() int { return len(s.items) }

func (s *Stack) Push(op Operand) {
	s.items = append(s.items, op)
}

func (s *Stack) Pop() (Operand, error) {
	if len(s.items) == 0 {
		return Operand{}, fmt.Errorf("ir: pop from empty evaluation stack")
	}
	op := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return op, nil
}

// Drop discards the top n operands.
func (s *Stack) Drop(n int) error {
	if n < 0 || n > len(s.items) {
		return fmt.Errorf("ir: cannot drop %d of %d operands", n, len(s.items))
	}
	s.items = s.items[:len(s.items)-n]
	return nil
}

// At returns a pointer to the operand depth entries below the top so it can
// be rewritten in place.
func (s *Stack) At(depth int) (*Operand, error) {
	if depth < 0 || depth >= len(s.items) {
		return nil, fmt.Errorf("ir: evaluation stack has %d operands, need %d", len(s.items), depth+1)
	}
	return &s.items[len(s.items)-1-depth], nil
}

func (s *Stack) Top() (*Operand, error) {
	return s.At(0)
}

// Snapshot copies the current contents for a later Restore.
func (s *Stack) Snapshot() []Operand {
	return append([]Operand(nil), s.items...)
}

func (s *Stack) Restore(items []Operand) {
	s.items = append(s.items[:0], items...)
}

// Each calls fn for every operand from the bottom of the stack up.
func (s *Stack) Each(fn func(depth int, op Operand)) {
	for i, op := range s.items {
		fn(len(s.items)-1-i, op)
	}
}
