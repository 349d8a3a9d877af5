// Command avrgen replays a YAML script of code generation operations
// through the AVR backend and prints the resulting machine code.
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tinyrange/avrcc/internal/asm"
	avrasm "github.com/tinyrange/avrcc/internal/asm/avr"
	"github.com/tinyrange/avrcc/internal/config"
	"github.com/tinyrange/avrcc/internal/ir"
	"golang.org/x/term"
)

// outputMode selects how the finished function is printed.
type outputMode int

const (
	outputListing outputMode = iota
	outputHex
	outputRaw
)

func chooseOutput(hexFlag, listFlag, terminal bool) outputMode {
	switch {
	case hexFlag:
		return outputHex
	case listFlag || terminal:
		return outputListing
	default:
		return outputRaw
	}
}

func writeListing(w io.Writer, name string, prog asm.Program) error {
	if _, err := fmt.Fprintf(w, "%s:\n", name); err != nil {
		return err
	}
	relocs := make(map[int][]asm.Relocation)
	for _, rel := range prog.Relocations() {
		relocs[rel.Offset] = append(relocs[rel.Offset], rel)
	}
	for _, line := range avrasm.Disassemble(prog.Bytes()) {
		if _, err := fmt.Fprintf(w, "%6x:\t%02x %02x\t%s\n", line.Offset, line.Word&0xFF, line.Word>>8, line.Text); err != nil {
			return err
		}
		for _, rel := range relocs[line.Offset] {
			if _, err := fmt.Fprintf(w, "\t\t\t%6x: %s\t%s%+d\n", rel.Offset, rel.Kind, rel.Symbol, rel.Addend); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeOutput(w io.Writer, mode outputMode, name string, prog asm.Program) error {
	switch mode {
	case outputHex:
		_, err := fmt.Fprintln(w, hex.EncodeToString(prog.Bytes()))
		return err
	case outputRaw:
		_, err := w.Write(prog.Bytes())
		return err
	default:
		return writeListing(w, name, prog)
	}
}

func run() error {
	configPath := flag.String("config", "", "target profile (YAML); defaults to the stock AVR convention")
	verbose := flag.Bool("v", false, "log every construct and emitted instruction")
	hexOut := flag.Bool("hex", false, "print the code as a hex string")
	listOut := flag.Bool("list", false, "print a disassembly listing even when stdout is not a terminal")
	outPath := flag.String("o", "", "write output to file instead of stdout")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `avrgen - replay code generation scripts through the AVR backend

USAGE:
  avrgen [flags] <script.yml|->

FLAGS:
  -config FILE  Target profile (target, argument_pairs, frame_bias, listing)
  -v            Debug logging to stderr, including the instruction listing
  -hex          Print the function as one hex string
  -list         Print a listing even when stdout is redirected
  -o FILE       Write to FILE instead of stdout

OUTPUT:
  A listing with relocations when stdout is a terminal, raw code bytes
  otherwise.
`)
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	profile := config.Default()
	if *configPath != "" {
		var err error
		if profile, err = config.Load(*configPath); err != nil {
			return err
		}
	}

	script, err := LoadScript(flag.Arg(0))
	if err != nil {
		return err
	}

	prog, err := script.Run(profile.Target, profile.Options(logger))
	if err != nil {
		return err
	}
	slog.Debug("compiled", "func", script.Function, "bytes", prog.Len(), "relocations", len(prog.Relocations()))

	if *outPath != "" {
		return writeFile(*outPath, chooseOutput(*hexOut, *listOut, false), script.Function, prog)
	}
	mode := chooseOutput(*hexOut, *listOut, term.IsTerminal(int(os.Stdout.Fd())))
	return writeOutput(os.Stdout, mode, script.Function, prog)
}

// writeFile writes prog to path. A failed close is reported since it may
// lose buffered output.
func writeFile(path string, mode outputMode, name string, prog asm.Program) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := writeOutput(f, mode, name, prog); err != nil {
		f.Close()
		return fmt.Errorf("write output: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		var diag *ir.Diagnostic
		if errors.As(err, &diag) {
			fmt.Fprintf(os.Stderr, "avrgen: %s: %v\n", diag.Kind, err)
		} else {
			fmt.Fprintf(os.Stderr, "avrgen: %v\n", err)
		}
		os.Exit(1)
	}
}
