// Package govm compiles go2json syntax trees for a small Go subset and runs
// them on a heap machine with green-thread concurrency.
//
// Typical use:
//
//	out, err := govm.RunJSON(ctx, data, govm.Config{})
//
// Each run gets a fresh machine; nothing is shared between runs.
package govm

import (
	"context"

	"github.com/chazu/govm/ast"
	"github.com/chazu/govm/compiler"
	"github.com/chazu/govm/vm"
)

// Config bundles the machine parameters with the entry function name.
type Config struct {
	vm.Config
	// Entry is the function called after the top-level declarations.
	// Empty means "main".
	Entry string
}

// Result is everything a finished run produced.
type Result struct {
	Output []string
	// Value is the entry function's return value as a Go value.
	Value interface{}
	Stats vm.Stats
}

// Compile compiles file with cfg's entry function.
func Compile(file *ast.File, cfg Config) (*vm.Program, error) {
	entry := cfg.Entry
	if entry == "" {
		entry = compiler.DefaultEntry
	}
	return compiler.Compile(file, compiler.WithEntry(entry))
}

// Execute compiles and runs file on a fresh machine.
func Execute(ctx context.Context, file *ast.File, cfg Config) (*Result, error) {
	prog, err := Compile(file, cfg)
	if err != nil {
		return nil, err
	}
	return ExecuteProgram(ctx, prog, cfg)
}

// ExecuteProgram runs an already compiled program on a fresh machine.
func ExecuteProgram(ctx context.Context, prog *vm.Program, cfg Config) (*Result, error) {
	m, err := vm.NewMachine(cfg.Config)
	if err != nil {
		return nil, err
	}
	out, err := m.Run(ctx, prog)
	if err != nil {
		return nil, err
	}
	return &Result{Output: out, Value: m.Result(), Stats: m.Stats()}, nil
}

// Run compiles and runs file, returning the printed lines in order.
func Run(ctx context.Context, file *ast.File, cfg Config) ([]string, error) {
	res, err := Execute(ctx, file, cfg)
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

// RunJSON decodes a go2json document and runs it.
func RunJSON(ctx context.Context, data []byte, cfg Config) ([]string, error) {
	file, err := ast.Decode(data)
	if err != nil {
		return nil, err
	}
	return Run(ctx, file, cfg)
}
