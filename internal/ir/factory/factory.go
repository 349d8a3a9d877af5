// Package factory links every code generation backend into the binary and
// starts functions on them by architecture name.
package factory

import (
	"fmt"

	"github.com/tinyrange/avrcc/internal/ir"
	_ "github.com/tinyrange/avrcc/internal/ir/avr"
)

// ParseArchitecture resolves name to a registered architecture.
func ParseArchitecture(name string) (ir.Architecture, error) {
	arch := ir.Architecture(name)
	if _, err := ir.LookupBackend(arch); err != nil {
		return ir.ArchitectureInvalid, fmt.Errorf("factory: %w (have %v)", err, ir.Architectures())
	}
	return arch, nil
}

// NewFunction starts a function named name for arch.
func NewFunction(arch ir.Architecture, name string, stack *ir.Stack, opts ir.Options) (ir.Function, error) {
	return ir.NewFunction(arch, name, stack, opts)
}
