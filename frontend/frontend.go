// Package frontend runs the external Go-to-JSON translator (asty go2json)
// and decodes its output.
package frontend

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/govm/ast"
)

var log = commonlog.GetLogger("govm.frontend")

// Placeholders substituted in Translator.Args.
const (
	InputPlaceholder  = "{input}"
	OutputPlaceholder = "{output}"
)

// Translator invokes an external command that reads a Go source file and
// writes its go2json syntax tree.
type Translator struct {
	Command string
	Args    []string
	// Timeout bounds one invocation; zero means no limit beyond ctx.
	Timeout time.Duration
}

// Default returns a Translator for `asty go2json` on PATH.
func Default() *Translator {
	return &Translator{
		Command: "asty",
		Args:    []string{"go2json", "-input", InputPlaceholder, "-output", OutputPlaceholder},
		Timeout: 10 * time.Second,
	}
}

// Translate converts source to a syntax tree. Every call works in its own
// temporary directory, so concurrent calls do not collide.
func (t *Translator) Translate(ctx context.Context, source string) (*ast.File, error) {
	data, err := t.TranslateJSON(ctx, source)
	if err != nil {
		return nil, err
	}
	return ast.Decode(data)
}

// TranslateJSON converts source and returns the raw go2json document.
func (t *Translator) TranslateJSON(ctx context.Context, source string) ([]byte, error) {
	if t.Command == "" {
		return nil, fmt.Errorf("frontend: no translator command configured")
	}

	dir, err := os.MkdirTemp("", "govm-frontend-")
	if err != nil {
		return nil, fmt.Errorf("frontend: creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "main.go")
	output := filepath.Join(dir, "main.json")
	if err := os.WriteFile(input, []byte(source), 0644); err != nil {
		return nil, fmt.Errorf("frontend: writing source: %w", err)
	}

	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	args := make([]string, len(t.Args))
	for i, a := range t.Args {
		a = strings.ReplaceAll(a, InputPlaceholder, input)
		args[i] = strings.ReplaceAll(a, OutputPlaceholder, output)
	}

	cmd := exec.CommandContext(ctx, t.Command, args...)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	log.Debugf("running %s %s", t.Command, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("frontend: %s: %w", t.Command, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("frontend: %s: %w", t.Command, err)
		}
		return nil, fmt.Errorf("frontend: %s: %w: %s", t.Command, err, msg)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("frontend: reading translator output: %w", err)
	}
	return data, nil
}
