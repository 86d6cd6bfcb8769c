package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/govm/vm"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// returningProgram prints hi and returns 120 from main.
const returningProgram = `{"NodeType": "File", "Name": {"NodeType": "Ident", "Name": "main"}, "Decls": [
  {"NodeType": "FuncDecl", "Recv": null, "Name": {"NodeType": "Ident", "Name": "main"},
   "Type": {"NodeType": "FuncType", "Params": {"NodeType": "FieldList", "List": null}, "Results": null},
   "Body": {"NodeType": "BlockStmt", "List": [
     {"NodeType": "ExprStmt", "X": {"NodeType": "CallExpr",
      "Fun": {"NodeType": "Ident", "Name": "println"},
      "Args": [{"NodeType": "BasicLit", "Kind": "STRING", "Value": "\"hi\""}]}},
     {"NodeType": "ReturnStmt", "Results": [{"NodeType": "BasicLit", "Kind": "INT", "Value": "120"}]}]}}]}`

// writeProject creates a directory holding a default govm.toml and the
// program, returning both paths.
func writeProject(t *testing.T, program string) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "govm.toml"), []byte("[machine]\nentry = \"main\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	path = filepath.Join(dir, "prog.json")
	if err := os.WriteFile(path, []byte(program), 0644); err != nil {
		t.Fatal(err)
	}
	return dir, path
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRunIgnoresEntryResult(t *testing.T) {
	dir, path := writeProject(t, returningProgram)
	out, _, err := runCLI(t, "-config", dir, path)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if out != "hi\n" {
		t.Errorf("stdout = %q, want %q", out, "hi\n")
	}
}

func TestRunCompileAndDisassemble(t *testing.T) {
	dir, path := writeProject(t, returningProgram)
	image := filepath.Join(dir, "prog"+vm.ImageExt)

	if _, _, err := runCLI(t, "-config", dir, "-o", image, path); err != nil {
		t.Fatalf("compile error: %v", err)
	}
	if _, err := vm.ReadProgramFile(image); err != nil {
		t.Fatalf("reading image: %v", err)
	}

	out, _, err := runCLI(t, "-config", dir, image)
	if err != nil || out != "hi\n" {
		t.Errorf("running image: stdout %q, error %v", out, err)
	}

	listing, _, err := runCLI(t, "-config", dir, "-disasm", path)
	if err != nil {
		t.Fatalf("disasm error: %v", err)
	}
	if !strings.Contains(listing, "DONE") {
		t.Errorf("listing missing DONE:\n%s", listing)
	}
}

func TestRunUsageErrors(t *testing.T) {
	dir, _ := writeProject(t, returningProgram)

	_, stderr, err := runCLI(t, "-config", dir)
	if !errors.Is(err, errUsage) {
		t.Errorf("no program: error = %v, want errUsage", err)
	}
	if !strings.Contains(stderr, "Usage: govm") {
		t.Errorf("stderr = %q, want usage text", stderr)
	}

	if _, _, err := runCLI(t, "-no-such-flag"); !errors.Is(err, errUsage) {
		t.Errorf("bad flag: error = %v, want errUsage", err)
	}
}

func TestRunReportsProgramFailure(t *testing.T) {
	dir, path := writeProject(t, strings.Replace(returningProgram, `"println"`, `"panic"`, 1))
	out, _, err := runCLI(t, "-config", dir, path)
	if !errors.Is(err, vm.ErrGuestError) {
		t.Errorf("error = %v, want ErrGuestError", err)
	}
	if out != "" {
		t.Errorf("stdout = %q, want nothing", out)
	}
}
