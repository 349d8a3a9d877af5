package avr

import (
	"testing"

	"github.com/tinyrange/avrcc/internal/asm"
	"github.com/tinyrange/avrcc/internal/asm/testutil"
)

func TestObjdumpAgreesWithListing(t *testing.T) {
	code, err := EmitBytes(asm.Group{
		Ldd(R24, 1),
		Ldd(R25, 2),
		Subi(R24, 0xFB),
		Sbci(R25, 0xFF),
		Adiw(R24, 63),
		Add(R24, R22),
		Adc(R25, R23),
		Sub(R18, R24),
		Sbc(R19, R25),
		Cpi(R24, 6),
		Brbs(FlagS, 3),
		Brbc(FlagS, -2),
		Brbs(FlagZ, 0),
		Brbc(FlagZ, 1),
		Ldi(ZL, 0x34),
		Ldi(ZH, 0x12),
		StZ(R24),
		Mov(R30, R18),
		Std(63, R25),
		Rjmp(-5),
		Rcall(0),
		Ret(),
	})
	if err != nil {
		t.Fatalf("EmitBytes: %v", err)
	}

	lines := testutil.DisassembleAVR(t, code)

	var want []string
	for _, line := range Disassemble(code) {
		want = append(want, line.Text)
	}
	testutil.VerifyListing(t, lines, want)
}

func TestObjdumpSeesPatchedChain(t *testing.T) {
	e := NewEmitter()
	mustEmit(t, e, PendingBranch(CondGE, NoChain))
	mustEmit(t, e, Ldi(R24, 1))
	mustEmit(t, e, PendingJump(0))
	mustEmit(t, e, Ldi(R24, 2))
	if err := e.ResolveChain(4, e.Len()); err != nil {
		t.Fatalf("ResolveChain: %v", err)
	}

	lines := testutil.DisassembleAVR(t, e.Bytes())
	testutil.VerifyExpectations(t, lines, []testutil.Expectation{
		{Name: "branch", Mnemonic: "brge", Contains: []string{".+6"}},
		{Name: "then", Mnemonic: "ldi", Contains: []string{"r24", "0x01"}},
		{Name: "jump", Mnemonic: "rjmp", Contains: []string{".+2"}},
		{Name: "else", Mnemonic: "ldi", Contains: []string{"r24", "0x02"}},
	})
}
