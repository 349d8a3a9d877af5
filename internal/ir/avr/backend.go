package avr

import (
	"github.com/tinyrange/avrcc/internal/ir"
)

type backend struct{}

func init() {
	ir.RegisterBackend(ir.ArchitectureAVR, backend{})
}

func (backend) NewFunction(name string, stack *ir.Stack, opts ir.Options) (ir.Function, error) {
	fn, err := New(name, stack, opts)
	if err != nil {
		return nil, err
	}
	return fn, nil
}
