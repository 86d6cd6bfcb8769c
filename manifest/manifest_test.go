package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[machine]
heap-words = 4096
node-words = 12
quantum = 3
max-steps = 100000
entry = "start"

[frontend]
command = "go2json"
args = ["{input}", "{output}"]
timeout = "2s"

[server]
addr = "127.0.0.1:9000"
history = "runs.db"
max-concurrent = 2
max-steps = 5000
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Machine.HeapWords != 4096 || m.Machine.NodeWords != 12 || m.Machine.Quantum != 3 {
		t.Errorf("machine = %+v", m.Machine)
	}
	if m.Machine.Entry != "start" {
		t.Errorf("entry = %q, want start", m.Machine.Entry)
	}
	if m.Frontend.Command != "go2json" || len(m.Frontend.Args) != 2 {
		t.Errorf("frontend = %+v", m.Frontend)
	}
	if d, _ := m.Frontend.TimeoutDuration(); d != 2*time.Second {
		t.Errorf("timeout = %v, want 2s", d)
	}
	if m.Server.Addr != "127.0.0.1:9000" || m.Server.History != "runs.db" || m.Server.MaxConcurrent != 2 {
		t.Errorf("server = %+v", m.Server)
	}

	cfg := m.Config()
	if cfg.Entry != "start" || cfg.HeapWords != 4096 || cfg.MaxSteps != 100000 {
		t.Errorf("Config() = %+v", cfg)
	}
	if got := m.ServerConfig().MaxSteps; got != 5000 {
		t.Errorf("ServerConfig().MaxSteps = %d, want 5000", got)
	}
	if m.Dir == "" || !filepath.IsAbs(m.Dir) {
		t.Errorf("Dir = %q, want absolute path", m.Dir)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("[machine]\nquantum = 5\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	def := Default()
	if m.Machine.Quantum != 5 {
		t.Errorf("quantum = %d, want 5", m.Machine.Quantum)
	}
	if m.Machine.HeapWords != def.Machine.HeapWords || m.Machine.Entry != "main" {
		t.Errorf("machine defaults not applied: %+v", m.Machine)
	}
	if m.Frontend.Command != "asty" || m.Server.Addr != ":3000" {
		t.Errorf("section defaults not applied: %+v %+v", m.Frontend, m.Server)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want string
	}{
		{"small node", "[machine]\nnode-words = 4\n", "invalid manifest"},
		{"zero quantum", "[machine]\nquantum = 0\n", "invalid manifest"},
		{"bad entry", "[machine]\nentry = \"1main\"\n", "invalid manifest"},
		{"heap too small for nodes", "[machine]\nheap-words = 1024\nnode-words = 64\n", "machine"},
		{"no workers", "[server]\nmax-concurrent = 0\n", "invalid manifest"},
		{"bad timeout", "[frontend]\ntimeout = \"soon\"\n", "timeout"},
		{"unknown key", "[machine]\nheap = 5\n", "unknown keys: machine.heap"},
		{"syntax", "[machine\n", "parse error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.toml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("[machine]\nentry = \"found\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Machine.Entry != "found" {
		t.Errorf("entry = %q, want found", m.Machine.Entry)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no govm.toml exists")
	}
}
