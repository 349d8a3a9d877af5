package ir

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tinyrange/avrcc/internal/asm"
)

// Architecture names a code generation target.
type Architecture string

const (
	ArchitectureInvalid Architecture = ""
	ArchitectureAVR     Architecture = "avr"
)

// Options configures one function compilation.
type Options struct {
	// ArgumentPairs is the number of register pairs available for passing
	// parameters and call arguments.
	ArgumentPairs int
	// FrameBias is the distance in bytes from the frame pointer to the first
	// frame slot.
	FrameBias int
	// Logger receives construct and listing records at debug level. Nil
	// means slog.Default().
	Logger *slog.Logger
	// Listing logs every emitted instruction.
	Listing bool
}

// DefaultOptions matches the stock AVR calling convention.
func DefaultOptions() Options {
	return Options{ArgumentPairs: 4, FrameBias: 1, Listing: true}
}

// Backend creates per-function code generators for one architecture.
type Backend interface {
	NewFunction(name string, stack *Stack, opts Options) (Function, error)
}

// Function is the code generator for a single function body. Every
// operation consumes and produces operands on the shared evaluation stack.
// An operation that fails returns a *Diagnostic and leaves both the code
// and the stack exactly as they were.
type Function interface {
	Prologue(params []Param) ([]Slot, error)
	Epilogue() error

	// Materialize loads the top operand into registers and replaces it with
	// the register-resident descriptor.
	Materialize() (Operand, error)
	// Store writes the top operand into the lvalue below it. Both are
	// replaced by the stored value.
	Store() error

	LowerDyadic(op Operator) error
	LowerConditionalBranch(invert bool, chain int) (int, error)
	Jump(chain int) (int, error)
	JumpTo(target int) error
	ResolveChain(chain, target int) error
	ResolveHere(chain int) error
	Label() int
	// MarkLabel names the current offset for JumpToLabel.
	MarkLabel(name string) error
	JumpToLabel(name string) error

	EmitCall(target Operand, tailJump bool) error
	LowerCall(nbArgs int, ret Type) error
	LowerReturnValue() error

	Finish() (asm.Program, error)
}

var (
	backendsMu sync.RWMutex
	backends   = make(map[Architecture]Backend)
)

// RegisterBackend wires an architecture-specific backend into the registry.
// It panics when attempting to register the same architecture more than
// once so mistakes are caught during init.
func RegisterBackend(arch Architecture, backend Backend) {
	if arch == ArchitectureInvalid {
		panic("ir: cannot register backend for invalid architecture")
	}
	if backend == nil {
		panic("ir: backend must be non-nil")
	}

	backendsMu.Lock()
	defer backendsMu.Unlock()

	if _, exists := backends[arch]; exists {
		panic(fmt.Sprintf("ir: backend for %s already registered", arch))
	}
	backends[arch] = backend
}

// LookupBackend returns the backend registered for arch.
func LookupBackend(arch Architecture) (Backend, error) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	if backend, ok := backends[arch]; ok {
		return backend, nil
	}
	if arch == ArchitectureInvalid {
		return nil, fmt.Errorf("ir: architecture must be specified")
	}
	return nil, fmt.Errorf("ir: no backend registered for %q", arch)
}

// Architectures lists the registered architectures in name order.
func Architectures() []Architecture {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	out := make([]Architecture, 0, len(backends))
	for arch := range backends {
		out = append(out, arch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NewFunction looks up the backend for arch and starts a function on it.
func NewFunction(arch Architecture, name string, stack *Stack, opts Options) (Function, error) {
	if stack == nil {
		return nil, fmt.Errorf("ir: evaluation stack must be non-nil")
	}
	backend, err := LookupBackend(arch)
	if err != nil {
		return nil, err
	}
	return backend.NewFunction(name, stack, opts)
}
