package avr

import (
	"fmt"
	"math/bits"

	"github.com/tinyrange/avrcc/internal/asm"
	avrasm "github.com/tinyrange/avrcc/internal/asm/avr"
)

// Class is a set of register capabilities.
type Class uint16

const (
	ClassByte Class = 1 << iota
	// ClassWord marks the primary (low) register of a pair.
	ClassWord
	// ClassImmediate registers accept LDI, SUBI, SBCI and CPI.
	ClassImmediate
	// ClassWordIncrement pairs accept ADIW.
	ClassWordIncrement
	// ClassArgument registers belong to the argument table.
	ClassArgument
	// ClassReturn holds the return value.
	ClassReturn
)

// classParents lists the classes a register must also have before a more
// specific class can apply to it.
var classParents = map[Class]Class{
	ClassWord:          ClassByte,
	ClassImmediate:     ClassByte,
	ClassWordIncrement: ClassWord | ClassImmediate,
	ClassArgument:      ClassByte,
	ClassReturn:        ClassArgument,
}

// Register is one logical register slot.
type Register struct {
	Logical int
	Phys    asm.Variable
	Partner asm.Variable
	classes Class
	argSlot int
}

// Is reports whether the register has every class in c. A class never
// applies unless its superclasses do.
func (r Register) Is(c Class) bool {
	for c != 0 {
		bit := Class(1) << bits.TrailingZeros16(uint16(c))
		c &^= bit
		if r.classes&bit == 0 {
			return false
		}
		if parent := classParents[bit]; parent != 0 && !r.Is(parent) {
			return false
		}
	}
	return true
}

func (r Register) IsImmediateLoadable() bool { return r.Is(ClassImmediate) }

func (r Register) IsWordIncrementEligible() bool { return r.Is(ClassWordIncrement) }

// IsFixedArgumentSlot reports whether r is entry n of the argument table.
func (r Register) IsFixedArgumentSlot(n int) bool {
	return r.Is(ClassArgument) && r.argSlot == n
}

func (r Register) String() string {
	return fmt.Sprintf("r%d", r.Phys)
}

// logicalOrder front-loads the return and early argument registers. Logical
// slots 2i and 2i+1 form a pair.
var logicalOrder = [...]asm.Variable{
	avrasm.R24, avrasm.R25,
	avrasm.R18, avrasm.R19,
	avrasm.R20, avrasm.R21,
	avrasm.R22, avrasm.R23,
	avrasm.R26, avrasm.R27,
	avrasm.R28, avrasm.R29,
	avrasm.R2, avrasm.R3,
	avrasm.R4, avrasm.R5,
	avrasm.R6, avrasm.R7,
	avrasm.R8, avrasm.R9,
	avrasm.R10, avrasm.R11,
	avrasm.R12, avrasm.R13,
	avrasm.R14, avrasm.R15,
	avrasm.R16, avrasm.R17,
	avrasm.R30, avrasm.R31,
}

// argumentTable holds the argument pairs high byte first: pair p is
// argumentTable[2p+1] (low) and argumentTable[2p] (high).
var argumentTable = [...]asm.Variable{
	avrasm.R25, avrasm.R24,
	avrasm.R23, avrasm.R22,
	avrasm.R21, avrasm.R20,
	avrasm.R19, avrasm.R18,
	avrasm.R17, avrasm.R16,
	avrasm.R15, avrasm.R14,
	avrasm.R13, avrasm.R12,
	avrasm.R11, avrasm.R10,
	avrasm.R9, avrasm.R8,
}

// MaxArgumentPairs is the size of the argument table in pairs.
const MaxArgumentPairs = len(argumentTable) / 2

// argumentPair returns the low and high register of argument pair p.
func argumentPair(p int) (lo, hi asm.Variable) {
	return argumentTable[2*p+1], argumentTable[2*p]
}

var (
	registers [len(logicalOrder)]Register
	byPhys    [32]*Register
)

func init() {
	for i, phys := range logicalOrder {
		r := Register{
			Logical: i,
			Phys:    phys,
			Partner: logicalOrder[i^1],
			classes: ClassByte,
			argSlot: -1,
		}
		if i%2 == 0 {
			r.classes |= ClassWord
		}
		if phys >= avrasm.R16 {
			r.classes |= ClassImmediate
		}
		switch phys {
		case avrasm.R24, avrasm.R26, avrasm.R28, avrasm.R30:
			r.classes |= ClassWordIncrement
		}
		for n, arg := range argumentTable {
			if arg == phys {
				r.classes |= ClassArgument
				r.argSlot = n
			}
		}
		if phys == avrasm.R24 || phys == avrasm.R25 {
			r.classes |= ClassReturn
		}
		registers[i] = r
		byPhys[phys] = &registers[i]
	}
}

// Lookup finds the logical register for a physical register number.
func Lookup(phys asm.Variable) (Register, bool) {
	if phys < 0 || int(phys) >= len(byPhys) || byPhys[phys] == nil {
		return Register{}, false
	}
	return *byPhys[phys], true
}

// reserved registers are never handed out: Y is the frame pointer and Z is
// the indirect store pointer.
func reserved(phys asm.Variable) bool {
	return phys == avrasm.YL || phys == avrasm.YH || phys == avrasm.ZL || phys == avrasm.ZH
}

// regSet tracks physical registers in use.
type regSet uint32

func (s regSet) has(phys asm.Variable) bool { return s&(1<<uint(phys)) != 0 }

func (s *regSet) add(phys asm.Variable) { *s |= 1 << uint(phys) }

// allocByte returns the first free register in logical order with class need.
func allocByte(busy regSet, need Class) (Register, error) {
	for _, r := range registers {
		if reserved(r.Phys) || busy.has(r.Phys) || !r.Is(need) {
			continue
		}
		return r, nil
	}
	return Register{}, unsupported("no free register with class %#x", need)
}

// allocPair returns the first free pair whose primary register has class
// need.
func allocPair(busy regSet, need Class) (Register, error) {
	for _, r := range registers {
		if !r.Is(ClassWord) || reserved(r.Phys) {
			continue
		}
		if busy.has(r.Phys) || busy.has(r.Partner) || !r.Is(need) {
			continue
		}
		return r, nil
	}
	return Register{}, unsupported("no free register pair with class %#x", need)
}
