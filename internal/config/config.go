package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tinyrange/avrcc/internal/ir"
	"github.com/tinyrange/avrcc/internal/ir/factory"
	"gopkg.in/yaml.v3"
)

// maxProfileSize bounds the profile files we are willing to read.
const maxProfileSize = 1024 * 1024

// Profile describes the code generation target.
type Profile struct {
	Target        ir.Architecture `yaml:"target"`
	ArgumentPairs int             `yaml:"argument_pairs"` // register pairs for parameters (1..9)
	FrameBias     int             `yaml:"frame_bias"`     // bytes between Y and slot 0
	Listing       *bool           `yaml:"listing"`        // pointer to distinguish unset vs false
}

// Default returns the profile of the stock AVR calling convention.
func Default() Profile {
	opts := ir.DefaultOptions()
	listing := opts.Listing
	return Profile{
		Target:        ir.ArchitectureAVR,
		ArgumentPairs: opts.ArgumentPairs,
		FrameBias:     opts.FrameBias,
		Listing:       &listing,
	}
}

// Parse decodes a YAML profile. Keys left out keep their default values and
// unknown keys are rejected.
func Parse(data []byte) (Profile, error) {
	p := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Profile{}, fmt.Errorf("config: parsing profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Load reads and parses the profile at path.
func Load(path string) (Profile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Profile{}, fmt.Errorf("config: %w", err)
	}
	if info.Size() > maxProfileSize {
		return Profile{}, fmt.Errorf("config: profile %s is %d bytes, limit %d", path, info.Size(), maxProfileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("config: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return Profile{}, fmt.Errorf("%w (%s)", err, path)
	}
	slog.Debug("loaded target profile", "path", path, "target", p.Target, "argument_pairs", p.ArgumentPairs)
	return p, nil
}

// Validate rejects profiles the backend cannot honour.
func (p Profile) Validate() error {
	if _, err := factory.ParseArchitecture(string(p.Target)); err != nil {
		return fmt.Errorf("config: target: %w", err)
	}
	if p.ArgumentPairs < 1 || p.ArgumentPairs > 9 {
		return fmt.Errorf("config: argument_pairs %d outside [1, 9]", p.ArgumentPairs)
	}
	if p.FrameBias < 0 || p.FrameBias > 63 {
		return fmt.Errorf("config: frame_bias %d outside [0, 63]", p.FrameBias)
	}
	return nil
}

// Options converts the profile into backend options logging to logger.
func (p Profile) Options(logger *slog.Logger) ir.Options {
	opts := ir.DefaultOptions()
	opts.ArgumentPairs = p.ArgumentPairs
	opts.FrameBias = p.FrameBias
	opts.Logger = logger
	if p.Listing != nil {
		opts.Listing = *p.Listing
	}
	return opts
}
