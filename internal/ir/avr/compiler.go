package avr

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinyrange/avrcc/internal/asm"
	avrasm "github.com/tinyrange/avrcc/internal/asm/avr"
	"github.com/tinyrange/avrcc/internal/ir"
)

// Function generates code for one function body. It owns the code buffer;
// the evaluation stack belongs to the caller.
type Function struct {
	name      string
	stack     *ir.Stack
	code      *avrasm.Emitter
	log       *slog.Logger
	argPairs  int
	frameBias int

	slots     []ir.Slot
	frameSize int
	prologued bool
	finished  bool
}

var _ ir.Function = (*Function)(nil)

// New starts a function. Options come from ir.DefaultOptions or a target
// profile.
func New(name string, stack *ir.Stack, opts ir.Options) (*Function, error) {
	if stack == nil {
		return nil, fmt.Errorf("avr: evaluation stack must be non-nil")
	}
	if opts.ArgumentPairs < 1 || opts.ArgumentPairs > MaxArgumentPairs {
		return nil, fmt.Errorf("avr: argument pairs %d outside [1, %d]", opts.ArgumentPairs, MaxArgumentPairs)
	}
	if opts.FrameBias < 0 || opts.FrameBias > maxDisplacement {
		return nil, fmt.Errorf("avr: frame bias %d outside [0, %d]", opts.FrameBias, maxDisplacement)
	}
	f := &Function{
		name:      name,
		stack:     stack,
		code:      avrasm.NewEmitter(),
		log:       opts.Logger,
		argPairs:  opts.ArgumentPairs,
		frameBias: opts.FrameBias,
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	f.log = f.log.With(slog.String("func", name))
	if opts.Listing {
		f.code.SetLogger(f.log)
	}
	return f, nil
}

func (f *Function) Name() string { return f.name }

// Len is the current code offset.
func (f *Function) Len() int { return f.code.Len() }

// Bytes returns a copy of the code emitted so far.
func (f *Function) Bytes() []byte { return f.code.Bytes() }

// Slots lists the frame slots assigned by the prologue.
func (f *Function) Slots() []ir.Slot {
	return append([]ir.Slot(nil), f.slots...)
}

// Finish closes the function and returns its code and relocations.
func (f *Function) Finish() (asm.Program, error) {
	if f.finished {
		return asm.Program{}, fmt.Errorf("avr: function %s already finished", f.name)
	}
	f.finished = true
	f.debug("finish", slog.Int("size", f.code.Len()), slog.Int("relocs", len(f.code.Relocations())))
	return f.code.Program(), nil
}

func (f *Function) debug(msg string, attrs ...any) {
	f.log.Debug(msg, attrs...)
}

// construct is one backend operation in progress. Its code goes to a stage
// that is committed only when the whole operation succeeds.
type construct struct {
	f     *Function
	name  string
	stage *avrasm.Stage
}

func (c *construct) emit(frags ...asm.Fragment) error {
	return c.stage.Emit(frags...)
}

// offset is the code offset the next fragment will be placed at.
func (c *construct) offset() int {
	return c.stage.Offset()
}

// run executes build as one all-or-nothing operation: on failure the staged
// code is dropped and the evaluation stack is restored.
func (f *Function) run(name string, build func(c *construct) error) error {
	if f.finished {
		return fmt.Errorf("avr: %s after function %s finished", name, f.name)
	}
	start := f.code.Len()
	snapshot := f.stack.Snapshot()
	c := &construct{f: f, name: name, stage: f.code.Begin()}
	if err := build(c); err != nil {
		f.stack.Restore(snapshot)
		return f.diagnose(name, start, err)
	}
	c.stage.Commit()
	f.debug(name, slog.Int("offset", start), slog.Int("size", f.code.Len()-start))
	return nil
}

// diagnose turns a lowering failure into the *ir.Diagnostic reported to the
// caller. Errors that are neither diagnostics nor encoder range errors come
// from the caller misusing the backend.
func (f *Function) diagnose(name string, offset int, err error) error {
	var diag *ir.Diagnostic
	if errors.As(err, &diag) {
		if diag.Construct == "" {
			diag.Construct = name
			diag.Offset = offset
		}
		return diag
	}
	var rangeErr *avrasm.RangeError
	if errors.As(err, &rangeErr) {
		diag = ir.OutOfRange(err)
	} else {
		diag = ir.Misused(err)
	}
	diag.Construct = name
	diag.Offset = offset
	return diag
}

// unsupported is the shorthand used throughout the lowering code.
func unsupported(format string, args ...any) error {
	return ir.Unsupported(format, args...)
}

// busy collects the registers held by operands on the stack, skipping the
// top skip entries.
func (f *Function) busy(skip int) regSet {
	var set regSet
	f.stack.Each(func(depth int, op ir.Operand) {
		if depth < skip {
			return
		}
		for _, reg := range op.Registers() {
			if reg >= 0 && reg < 32 {
				set.add(asm.Variable(reg))
			}
		}
	})
	return set
}
