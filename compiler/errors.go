package compiler

import (
	"errors"
	"fmt"

	"github.com/chazu/govm/ast"
)

// ErrCompile is the root of every compile error.
var ErrCompile = errors.New("compile error")

var (
	ErrUnresolvedSymbol = fmt.Errorf("%w: unresolved symbol", ErrCompile)
	ErrUnknownNode      = fmt.Errorf("%w: unknown node type", ErrCompile)
	ErrUnsupported      = fmt.Errorf("%w: unsupported construct", ErrCompile)
	ErrReadOnlySymbol   = fmt.Errorf("%w: assignment to predeclared name", ErrCompile)
	ErrProgramTooLarge  = fmt.Errorf("%w: program too large", ErrCompile)
)

// Error is a compile error attached to the node that caused it.
type Error struct {
	Node string // go2json node type
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%v (%s)", e.Err, e.Node)
	}
	return fmt.Sprintf("%v: %s (%s)", e.Err, e.Msg, e.Node)
}

func (e *Error) Unwrap() error { return e.Err }

// errorf records the first compile error; later ones are dropped since they
// usually cascade from it.
func (c *Compiler) errorf(n ast.Node, kind error, format string, args ...interface{}) {
	if c.err != nil {
		return
	}
	c.err = &Error{Node: ast.TypeName(n), Msg: fmt.Sprintf(format, args...), Err: kind}
}
