// Package compiler translates the ast subset into vm programs. Every
// identifier is resolved to a (frame, slot) address at compile time.
package compiler

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/govm/ast"
	"github.com/chazu/govm/vm"
)

var log = commonlog.GetLogger("govm.compiler")

// DefaultEntry is the function called after the top-level declarations run.
const DefaultEntry = "main"

// Compiler compiles a File to a flat instruction sequence.
type Compiler struct {
	entry  string
	instrs []vm.Instruction
	err    error
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithEntry sets the function called once the top-level declarations have
// run. An empty name compiles the declarations only.
func WithEntry(name string) Option {
	return func(c *Compiler) { c.entry = name }
}

// New creates a compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{entry: DefaultEntry}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile is shorthand for New(opts...).Compile(file).
func Compile(file *ast.File, opts ...Option) (*vm.Program, error) {
	return New(opts...).Compile(file)
}

// Compile compiles the file's declarations as one block, followed by a
// call to the entry function and DONE. The program leaves the entry
// function's result on the main operand stack.
func (c *Compiler) Compile(file *ast.File) (*vm.Program, error) {
	c.instrs = nil
	c.err = nil
	if file == nil {
		return nil, fmt.Errorf("%w: no file", ErrCompile)
	}

	items := make([]ast.Node, 0, len(file.Decls)+1)
	for _, d := range file.Decls {
		items = append(items, d)
	}
	if c.entry != "" {
		items = append(items, &ast.ExprStmt{X: &ast.CallExpr{Fun: &ast.Ident{Name: c.entry}}})
	}
	c.compileBlock(items, globalEnv())
	c.emit(vm.Instruction{Op: vm.OpDone})

	if c.err != nil {
		return nil, c.err
	}
	if len(c.instrs) > vm.MaxProgramSize {
		return nil, &Error{
			Node: "File",
			Msg:  fmt.Sprintf("%d instructions, limit %d", len(c.instrs), vm.MaxProgramSize),
			Err:  ErrProgramTooLarge,
		}
	}
	log.Debugf("compiled %d declarations to %d instructions", len(file.Decls), len(c.instrs))
	return &vm.Program{Instrs: c.instrs, Entry: c.entry}, nil
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

func (c *Compiler) emit(in vm.Instruction) int {
	c.instrs = append(c.instrs, in)
	return len(c.instrs) - 1
}

func (c *Compiler) emitOp(op vm.Opcode) int {
	return c.emit(vm.Instruction{Op: op})
}

func (c *Compiler) emitConst(lit *vm.Literal) int {
	return c.emit(vm.Instruction{Op: vm.OpLoadConst, Lit: lit})
}

func (c *Compiler) here() int { return len(c.instrs) }

// patch points the jump at index at to the next instruction.
func (c *Compiler) patch(at int) {
	c.instrs[at].Addr = c.here()
}

// ---------------------------------------------------------------------------
// Hoisting
// ---------------------------------------------------------------------------

// scanLocals returns the names declared directly in a block: var and const
// specs, function declarations and short variable declarations.
func scanLocals(items []ast.Node) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(id *ast.Ident) {
		if id == nil || id.Name == "_" || seen[id.Name] {
			return
		}
		seen[id.Name] = true
		names = append(names, id.Name)
	}
	addGen := func(d *ast.GenDecl) {
		if d.Tok != "var" && d.Tok != "const" {
			return
		}
		for _, s := range d.Specs {
			if vs, ok := s.(*ast.ValueSpec); ok {
				for _, id := range vs.Names {
					add(id)
				}
			}
		}
	}

	for _, item := range items {
		switch n := item.(type) {
		case *ast.GenDecl:
			addGen(n)
		case *ast.DeclStmt:
			if d, ok := n.Decl.(*ast.GenDecl); ok {
				addGen(d)
			}
		case *ast.FuncDecl:
			add(n.Name)
		case *ast.AssignStmt:
			if n.Tok == ":=" {
				for _, lhs := range n.Lhs {
					if id, ok := lhs.(*ast.Ident); ok {
						add(id)
					}
				}
			}
		}
	}
	return names
}

func stmtNodes(stmts []ast.Stmt) []ast.Node {
	nodes := make([]ast.Node, len(stmts))
	for i, s := range stmts {
		nodes[i] = s
	}
	return nodes
}

func endsWithReturn(items []ast.Node) bool {
	if len(items) == 0 {
		return false
	}
	_, ok := items[len(items)-1].(*ast.ReturnStmt)
	return ok
}
