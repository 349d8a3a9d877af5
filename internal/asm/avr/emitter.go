package avr

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/tinyrange/avrcc/internal/asm"
)

const minCapacity = 64

// Emitter owns the code buffer of one function. Bytes only ever get
// appended, except that resolving a forward-reference chain rewrites branch
// words that are already in place.
type Emitter struct {
	code   []byte
	labels map[asm.Label]int
	relocs []asm.Relocation
	log    *slog.Logger
}

func NewEmitter() *Emitter {
	return &Emitter{
		code:   make([]byte, 0, minCapacity),
		labels: make(map[asm.Label]int),
	}
}

// SetLogger enables the instruction listing. A nil logger disables it.
func (e *Emitter) SetLogger(logger *slog.Logger) {
	e.log = logger
}

// Len is the write cursor.
func (e *Emitter) Len() int { return len(e.code) }

// Cap is the current buffer capacity.
func (e *Emitter) Cap() int { return cap(e.code) }

func (e *Emitter) Bytes() []byte {
	return append([]byte(nil), e.code...)
}

func (e *Emitter) Relocations() []asm.Relocation {
	return append([]asm.Relocation(nil), e.relocs...)
}

func (e *Emitter) GetLabel(label asm.Label) (int, bool) {
	pos, ok := e.labels[label]
	return pos, ok
}

// Program snapshots the code and relocations emitted so far.
func (e *Emitter) Program() asm.Program {
	return asm.NewProgram(e.code, e.relocs)
}

func (e *Emitter) WordAt(pos int) (uint16, error) {
	if pos < 0 || pos%2 != 0 || pos+2 > len(e.code) {
		return 0, fmt.Errorf("avr: offset %#x outside function (len %#x)", pos, len(e.code))
	}
	return binary.LittleEndian.Uint16(e.code[pos:]), nil
}

func (e *Emitter) putWord(pos int, word uint16) {
	binary.LittleEndian.PutUint16(e.code[pos:], word)
}

// grow doubles the capacity until n more bytes fit.
func (e *Emitter) grow(n int) {
	need := len(e.code) + n
	if need <= cap(e.code) {
		return
	}
	newCap := 2 * cap(e.code)
	if newCap < minCapacity {
		newCap = minCapacity
	}
	for newCap < need {
		newCap *= 2
	}
	buf := make([]byte, len(e.code), newCap)
	copy(buf, e.code)
	e.code = buf
}

// Emit runs the fragments and appends their output only if all of them
// succeed.
func (e *Emitter) Emit(frags ...asm.Fragment) error {
	s := e.Begin()
	if err := s.Emit(frags...); err != nil {
		return err
	}
	s.Commit()
	return nil
}

// Begin opens a staging area positioned at the current cursor.
func (e *Emitter) Begin() *Stage {
	return &Stage{e: e}
}

// Stage collects the output of one construct. Nothing reaches the emitter
// until Commit.
type Stage struct {
	e      *Emitter
	code   []byte
	labels map[asm.Label]int
	relocs []asm.Relocation
}

var _ asm.Context = (*Stage)(nil)

func (s *Stage) Emit(frags ...asm.Fragment) error {
	for _, frag := range frags {
		if err := frag.Emit(s); err != nil {
			return err
		}
	}
	return nil
}

// EmitBytes implements asm.Context.
func (s *Stage) EmitBytes(data []byte) {
	s.code = append(s.code, data...)
}

// Offset implements asm.Context.
func (s *Stage) Offset() int {
	return len(s.e.code) + len(s.code)
}

// AddRelocation implements asm.Context.
func (s *Stage) AddRelocation(rel asm.Relocation) {
	s.relocs = append(s.relocs, rel)
}

// GetLabel implements asm.Context.
func (s *Stage) GetLabel(label asm.Label) (int, bool) {
	if pos, ok := s.labels[label]; ok {
		return pos, true
	}
	return s.e.GetLabel(label)
}

// SetLabel implements asm.Context.
func (s *Stage) SetLabel(label asm.Label) {
	if s.labels == nil {
		s.labels = make(map[asm.Label]int)
	}
	s.labels[label] = s.Offset()
}

func (s *Stage) Commit() {
	e := s.e
	base := len(e.code)
	e.grow(len(s.code))
	e.code = append(e.code, s.code...)
	for label, pos := range s.labels {
		e.labels[label] = pos
	}
	e.relocs = append(e.relocs, s.relocs...)
	e.logRange(base, len(e.code))
	s.code, s.labels, s.relocs = nil, nil, nil
}

func (e *Emitter) logRange(from, to int) {
	if e.log == nil {
		return
	}
	for pos := from; pos+2 <= to; pos += 2 {
		word := binary.LittleEndian.Uint16(e.code[pos:])
		e.log.Debug("emit",
			slog.String("offset", fmt.Sprintf("%#06x", pos)),
			slog.String("word", fmt.Sprintf("%04x", word)),
			slog.String("insn", FormatWord(word)))
	}
}

func (e *Emitter) logPatch(pos int, word uint16) {
	if e.log == nil {
		return
	}
	e.log.Debug("patch",
		slog.String("offset", fmt.Sprintf("%#06x", pos)),
		slog.String("insn", FormatWord(word)))
}

// EmitProgram lowers a fragment into a standalone program.
func EmitProgram(frag asm.Fragment) (asm.Program, error) {
	if frag == nil {
		return asm.Program{}, fmt.Errorf("avr: fragment must be non-nil")
	}
	e := NewEmitter()
	if err := e.Emit(frag); err != nil {
		return asm.Program{}, err
	}
	return e.Program(), nil
}

// EmitBytes is a convenience helper returning the raw instruction stream for a fragment.
func EmitBytes(frag asm.Fragment) ([]byte, error) {
	prog, err := EmitProgram(frag)
	if err != nil {
		return nil, err
	}
	return prog.Bytes(), nil
}
