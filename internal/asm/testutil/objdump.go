package testutil

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
)

const (
	// MachineAVR is the ELF e_machine value for Atmel AVR.
	MachineAVR = 83

	// flagsAVR5 selects the avr5 core, which has ADIW and the full register file.
	flagsAVR5 = 5
)

// DisasmLine represents a single instruction line emitted by objdump.
type DisasmLine struct {
	Offset     int
	Text       string
	Normalized string
	Mnemonic   string
}

// Contains reports whether the normalized instruction text contains the provided substring.
func (l DisasmLine) Contains(substr string) bool {
	return strings.Contains(l.Normalized, substr)
}

// DisassembleAVR wraps code into a relocatable ELF32 image and runs
// avr-objdump over it. The test is skipped when the tool is not installed.
func DisassembleAVR(t *testing.T, code []byte, extraArgs ...string) []DisasmLine {
	t.Helper()
	args := []string{"-d", "--no-show-raw-insn"}
	args = append(args, extraArgs...)
	return DisassembleWithTool(t, "avr-objdump", code, MachineAVR, args...)
}

// DisassembleWithTool wraps the provided code bytes into a minimal ELF32 for
// the supplied machine type and invokes the requested disassembler.
func DisassembleWithTool(t *testing.T, tool string, code []byte, machine uint16, args ...string) []DisasmLine {
	t.Helper()

	toolPath, err := exec.LookPath(tool)
	if err != nil {
		t.Skipf("%s not found: %v", tool, err)
	}

	elf := buildMinimalELF32(code, machine)

	tmp, err := os.CreateTemp("", "avrcc-objdump-*.elf")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(elf); err != nil {
		t.Fatalf("write temp ELF: %v", err)
	}
	if err := tmp.Close(); err != nil {
		t.Fatalf("close temp ELF: %v", err)
	}

	cmdArgs := append([]string{}, args...)
	cmdArgs = append(cmdArgs, tmp.Name())
	output, err := exec.Command(toolPath, cmdArgs...).CombinedOutput()
	if err != nil {
		t.Fatalf("%s failed: %v\n\n%s", tool, err, output)
	}

	lines, err := parseObjdumpOutput(string(output))
	if err != nil {
		t.Fatalf("parse objdump output: %v", err)
	}
	if len(lines) == 0 {
		t.Fatalf("objdump produced no instructions:\n%s", output)
	}
	return lines
}

func buildMinimalELF32(code []byte, machine uint16) []byte {
	const (
		elfHeaderSize = 52
		sectionCount  = 3 // null, .text, .shstrtab
		secHeaderSize = 40
		textAlign     = 2
	)

	textOffset := elfHeaderSize
	textPadded := align(textOffset+len(code), 4) - textOffset
	shstr := []byte("\x00.text\x00.shstrtab\x00")
	shstrOffset := textOffset + textPadded
	sectionOffset := shstrOffset + align(len(shstr), 4)
	totalSize := sectionOffset + sectionCount*secHeaderSize

	buf := make([]byte, totalSize)
	copy(buf[textOffset:], code)
	copy(buf[shstrOffset:], shstr)

	copy(buf[:4], "\x7fELF")
	buf[4] = 1 // 32-bit
	buf[5] = 1 // little endian
	buf[6] = 1 // current version

	binary.LittleEndian.PutUint16(buf[16:], 1)                     // e_type (ET_REL)
	binary.LittleEndian.PutUint16(buf[18:], machine)               // e_machine
	binary.LittleEndian.PutUint32(buf[20:], 1)                     // e_version
	binary.LittleEndian.PutUint32(buf[32:], uint32(sectionOffset)) // e_shoff
	binary.LittleEndian.PutUint32(buf[36:], flagsAVR5)             // e_flags
	binary.LittleEndian.PutUint16(buf[40:], elfHeaderSize)         // e_ehsize
	binary.LittleEndian.PutUint16(buf[46:], secHeaderSize)         // e_shentsize
	binary.LittleEndian.PutUint16(buf[48:], sectionCount)          // e_shnum
	binary.LittleEndian.PutUint16(buf[50:], 2)                     // e_shstrndx

	shdr := buf[sectionOffset:]

	text := shdr[secHeaderSize : 2*secHeaderSize]
	binary.LittleEndian.PutUint32(text[0:], 1)                   // sh_name
	binary.LittleEndian.PutUint32(text[4:], 1)                   // SHT_PROGBITS
	binary.LittleEndian.PutUint32(text[8:], 0x6)                 // SHF_ALLOC|SHF_EXECINSTR
	binary.LittleEndian.PutUint32(text[16:], uint32(textOffset)) // sh_offset
	binary.LittleEndian.PutUint32(text[20:], uint32(len(code)))  // sh_size
	binary.LittleEndian.PutUint32(text[32:], textAlign)          // sh_addralign

	strtab := shdr[2*secHeaderSize : 3*secHeaderSize]
	binary.LittleEndian.PutUint32(strtab[0:], uint32(len("\x00.text\x00")))
	binary.LittleEndian.PutUint32(strtab[4:], 3) // SHT_STRTAB
	binary.LittleEndian.PutUint32(strtab[16:], uint32(shstrOffset))
	binary.LittleEndian.PutUint32(strtab[20:], uint32(len(shstr)))
	binary.LittleEndian.PutUint32(strtab[32:], 1)

	return buf
}

// parseObjdumpOutput keeps the instruction lines of a disassembly. Trailing
// "; ..." annotations are dropped from the normalized text.
func parseObjdumpOutput(out string) ([]DisasmLine, error) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	var lines []DisasmLine
	for scanner.Scan() {
		line := scanner.Text()
		colon := strings.IndexRune(line, ':')
		if colon == -1 {
			continue
		}
		var offset int
		if _, err := fmt.Sscanf(strings.TrimSpace(line[:colon]), "%x", &offset); err != nil {
			continue
		}
		text := strings.TrimSpace(line[colon+1:])
		if text == "" || strings.HasPrefix(text, "<") || strings.HasPrefix(text, "...") {
			continue
		}
		body := text
		if semi := strings.IndexRune(body, ';'); semi >= 0 {
			body = body[:semi]
		}
		fields := strings.Fields(body)
		if len(fields) == 0 {
			continue
		}
		lines = append(lines, DisasmLine{
			Offset:     offset,
			Text:       text,
			Normalized: strings.Join(fields, " "),
			Mnemonic:   strings.ToLower(fields[0]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	return lines, nil
}

func align(value int, boundary int) int {
	rem := value % boundary
	if rem == 0 {
		return value
	}
	return value + boundary - rem
}
