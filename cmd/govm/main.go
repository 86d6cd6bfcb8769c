// govm CLI - compiles and runs go2json programs, or serves them over HTTP
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/govm"
	"github.com/chazu/govm/ast"
	"github.com/chazu/govm/frontend"
	"github.com/chazu/govm/manifest"
	"github.com/chazu/govm/server"
	"github.com/chazu/govm/vm"
)

// verbosity counts repeated -v flags.
type verbosity int

func (v *verbosity) String() string { return strconv.Itoa(int(*v)) }

func (v *verbosity) Set(s string) error {
	if s == "true" {
		*v++
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*v = verbosity(n)
	return nil
}

func (v *verbosity) IsBoolFlag() bool { return true }

// errUsage reports bad command-line usage; main exits with status 2.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	switch {
	case errors.Is(err, errUsage):
		os.Exit(2)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the whole CLI minus process exit. Printed program output goes to
// stdout, usage to stderr.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("govm", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var verbose verbosity
	fs.Var(&verbose, "v", "Verbose logging (repeat for more)")
	configDir := fs.String("config", "", "Directory holding govm.toml (default: search upward from the working directory)")
	output := fs.String("o", "", "Compile only and write the program image to this file")
	disasm := fs.Bool("disasm", false, "Print the instruction listing instead of running")
	entry := fs.String("entry", "", "Entry function (default from govm.toml, else main)")
	heap := fs.Int("heap", 0, "Heap size in words")
	quantum := fs.Int("quantum", 0, "Instructions per time slice")
	maxSteps := fs.Int64("max-steps", -1, "Instruction limit, 0 for none")
	serveMode := fs.Bool("serve", false, "Start the execution service")
	addr := fs.String("addr", "", "Service address (used with -serve)")
	history := fs.String("history", "", "sqlite run history path (used with -serve)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: govm [options] program\n\n")
		fmt.Fprintf(stderr, "Runs a program given as go2json (.json), Go source (.go) or a compiled image (%s).\n\n", vm.ImageExt)
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  govm prog.json                 # Run an AST\n")
		fmt.Fprintf(stderr, "  govm prog.go                   # Translate with asty, then run\n")
		fmt.Fprintf(stderr, "  govm -o prog%s prog.json     # Compile to an image\n", vm.ImageExt)
		fmt.Fprintf(stderr, "  govm -disasm prog.json         # Show the instructions\n")
		fmt.Fprintf(stderr, "  govm -serve -addr :3000        # Start the service\n")
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return errUsage
	}

	commonlog.Configure(int(verbose), nil)

	m, err := loadManifest(*configDir)
	if err != nil {
		return err
	}
	if *entry != "" {
		m.Machine.Entry = *entry
	}
	if *heap > 0 {
		m.Machine.HeapWords = *heap
	}
	if *quantum > 0 {
		m.Machine.Quantum = *quantum
	}
	if *maxSteps >= 0 {
		m.Machine.MaxSteps = int(*maxSteps)
		m.Server.MaxSteps = int(*maxSteps)
	}
	if *addr != "" {
		m.Server.Addr = *addr
	}
	if *history != "" {
		m.Server.History = *history
	}
	if err := m.Validate(); err != nil {
		return err
	}

	if *serveMode {
		return serve(ctx, m)
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}

	prog, err := loadProgram(ctx, m, fs.Arg(0))
	if err != nil {
		return err
	}

	if *output != "" {
		return vm.WriteProgramFile(*output, prog)
	}
	if *disasm {
		_, err := io.WriteString(stdout, prog.Disassemble())
		return err
	}

	cfg := m.Config()
	cfg.OnOutput = func(line string) { fmt.Fprintln(stdout, line) }
	_, err = govm.ExecuteProgram(ctx, prog, cfg)
	return err
}

func loadManifest(dir string) (*manifest.Manifest, error) {
	if dir != "" {
		return manifest.Load(dir)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
	}
	return m, nil
}

func translator(m *manifest.Manifest) (*frontend.Translator, error) {
	timeout, err := m.Frontend.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	return &frontend.Translator{Command: m.Frontend.Command, Args: m.Frontend.Args, Timeout: timeout}, nil
}

// loadProgram reads path by extension: images directly, ASTs through the
// compiler, Go sources through the frontend first.
func loadProgram(ctx context.Context, m *manifest.Manifest, path string) (*vm.Program, error) {
	var (
		file *ast.File
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case vm.ImageExt:
		return vm.ReadProgramFile(path)
	case ".go":
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		tr, err := translator(m)
		if err != nil {
			return nil, err
		}
		if file, err = tr.Translate(ctx, string(src)); err != nil {
			return nil, err
		}
	default:
		if file, err = ast.DecodeFile(path); err != nil {
			return nil, err
		}
	}
	return govm.Compile(file, m.Config())
}

func serve(ctx context.Context, m *manifest.Manifest) error {
	tr, err := translator(m)
	if err != nil {
		return err
	}
	opts := []server.Option{
		server.WithTranslator(tr),
		server.WithWorkers(m.Server.MaxConcurrent),
	}
	if m.Server.History != "" {
		h, err := server.OpenHistory(m.Server.History)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithHistory(h))
	}
	srv := server.New(m.ServerConfig(), opts...)
	defer srv.Close()
	return srv.ListenAndServe(ctx, m.Server.Addr)
}
