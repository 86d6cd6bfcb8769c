// Package manifest handles govm.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/chazu/govm"
	"github.com/chazu/govm/vm"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "govm.toml"

// Manifest represents a govm.toml configuration.
type Manifest struct {
	Machine  Machine  `toml:"machine" json:"machine"`
	Frontend Frontend `toml:"frontend" json:"frontend"`
	Server   Server   `toml:"server" json:"server"`

	// Dir is the directory containing the govm.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Machine configures the heap machine and the compiled entry point.
type Machine struct {
	HeapWords int    `toml:"heap-words" json:"heap-words"`
	NodeWords int    `toml:"node-words" json:"node-words"`
	Quantum   int    `toml:"quantum" json:"quantum"`
	MaxSteps  int    `toml:"max-steps" json:"max-steps"`
	Entry     string `toml:"entry" json:"entry"`
}

// Frontend configures the external Go-to-JSON translator. Args may contain
// the {input} and {output} placeholders.
type Frontend struct {
	Command string   `toml:"command" json:"command"`
	Args    []string `toml:"args" json:"args"`
	Timeout string   `toml:"timeout" json:"timeout"`
}

// Server configures the execution service.
type Server struct {
	Addr string `toml:"addr" json:"addr"`
	// History is the sqlite database path; empty disables run history.
	History       string `toml:"history" json:"history"`
	MaxConcurrent int    `toml:"max-concurrent" json:"max-concurrent"`
	MaxSteps      int    `toml:"max-steps" json:"max-steps"`
}

// Default returns the configuration used when no govm.toml exists.
func Default() *Manifest {
	return &Manifest{
		Machine: Machine{
			HeapWords: 65536,
			NodeWords: 16,
			Quantum:   10,
			Entry:     "main",
		},
		Frontend: Frontend{
			Command: "asty",
			Args:    []string{"go2json", "-input", "{input}", "-output", "{output}"},
			Timeout: "10s",
		},
		Server: Server{
			Addr:          ":3000",
			MaxConcurrent: 4,
			MaxSteps:      5000000,
		},
	}
}

// Load parses a govm.toml file from the given directory. Keys missing from
// the file keep their defaults; unknown keys are an error.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes and validates manifest text.
func Parse(data []byte) (*Manifest, error) {
	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a govm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks the manifest against the schema and the machine limits.
func (m *Manifest) Validate() error {
	if m.Frontend.Args == nil {
		m.Frontend.Args = []string{}
	}
	if err := validateSchema(m); err != nil {
		return err
	}
	if err := m.MachineConfig().Validate(); err != nil {
		return fmt.Errorf("machine: %w", err)
	}
	if _, err := m.Frontend.TimeoutDuration(); err != nil {
		return fmt.Errorf("frontend: %w", err)
	}
	return nil
}

// MachineConfig converts the [machine] section.
func (m *Manifest) MachineConfig() vm.Config {
	return vm.Config{
		HeapWords: m.Machine.HeapWords,
		NodeWords: m.Machine.NodeWords,
		Quantum:   m.Machine.Quantum,
		MaxSteps:  int64(m.Machine.MaxSteps),
	}
}

// Config returns the run configuration for the CLI.
func (m *Manifest) Config() govm.Config {
	return govm.Config{Config: m.MachineConfig(), Entry: m.Machine.Entry}
}

// ServerConfig returns the run configuration for service requests: the
// machine section with the server's step limit.
func (m *Manifest) ServerConfig() govm.Config {
	cfg := m.Config()
	cfg.MaxSteps = int64(m.Server.MaxSteps)
	return cfg
}

// TimeoutDuration parses Timeout; empty means no timeout.
func (f Frontend) TimeoutDuration() (time.Duration, error) {
	if f.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(f.Timeout)
	if err != nil {
		return 0, fmt.Errorf("bad timeout %q: %w", f.Timeout, err)
	}
	return d, nil
}
