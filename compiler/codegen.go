package compiler

import (
	"strconv"
	"strings"

	"github.com/chazu/govm/ast"
	"github.com/chazu/govm/vm"
)

// ---------------------------------------------------------------------------
// Codegen: every node leaves exactly one value on the operand stack
// ---------------------------------------------------------------------------

// qualified maps package selectors onto predeclared names.
var qualified = map[string]string{
	"fmt.Println":      "println",
	"time.Sleep":       "sleep",
	"time.Millisecond": "time.Millisecond",
	"time.Second":      "time.Second",
	"math.E":           "math_E",
	"math.Pi":          "math_PI",
	"math.Ln2":         "math_LN2",
	"math.Ln10":        "math_LN10",
	"math.Log2E":       "math_LOG2E",
	"math.Log10E":      "math_LOG10E",
	"math.Sqrt2":       "math_SQRT2",
}

// aliases maps unqualified Go names onto predeclared names.
var aliases = map[string]string{
	"panic": "error",
}

var binaryOps = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "%": true,
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

func (c *Compiler) compile(n ast.Node, e env) {
	if c.err != nil {
		return
	}
	switch n := n.(type) {
	case *ast.BasicLit:
		c.compileBasicLit(n)
	case *ast.Ident:
		c.compileIdent(n, e)
	case *ast.ParenExpr:
		c.compile(n.X, e)
	case *ast.StarExpr:
		c.compile(n.X, e)
	case *ast.UnaryExpr:
		c.compileUnary(n, e)
	case *ast.BinaryExpr:
		c.compileBinary(n, e)
	case *ast.CallExpr:
		c.compileCall(n, e, false)
	case *ast.SelectorExpr:
		c.compileSelector(n, e)
	case *ast.FuncLit:
		c.compileFunction(n.Type, n.Body, e)

	case *ast.BlockStmt:
		if n == nil {
			c.emitConst(vm.UndefinedLit())
			return
		}
		c.compileBlock(stmtNodes(n.List), e)
	case *ast.ExprStmt:
		c.compile(n.X, e)
	case *ast.DeclStmt:
		c.compileDecl(n.Decl, e)
	case *ast.GenDecl:
		c.compileGenDecl(n, e)
	case *ast.FuncDecl:
		c.compileFuncDecl(n, e)
	case *ast.AssignStmt:
		c.compileAssign(n, e)
	case *ast.IncDecStmt:
		c.compileIncDec(n, e)
	case *ast.IfStmt:
		c.compileIf(n, e)
	case *ast.ForStmt:
		c.compileFor(n, e)
	case *ast.ReturnStmt:
		c.compileReturn(n, e)
	case *ast.GoStmt:
		if n.Call == nil {
			c.errorf(n, ErrUnsupported, "go statement without call")
			return
		}
		c.compileCall(n.Call, e, true)
	case *ast.SendStmt:
		c.compile(n.Chan, e)
		c.compile(n.Value, e)
		c.emitOp(vm.OpSend)
	case *ast.EmptyStmt:
		c.emitConst(vm.UndefinedLit())

	case *ast.BadNode:
		c.errorf(n, ErrUnknownNode, "%s", n.NodeType)
	case nil:
		c.errorf(n, ErrUnknownNode, "missing node")
	default:
		c.errorf(n, ErrUnsupported, "%s", ast.TypeName(n))
	}
}

// ---------------------------------------------------------------------------
// Blocks and sequences
// ---------------------------------------------------------------------------

// compileBlock hoists the block's declarations into a fresh frame. A block
// declaring nothing runs in the enclosing frame.
func (c *Compiler) compileBlock(items []ast.Node, e env) {
	locals := scanLocals(items)
	if len(locals) == 0 {
		c.compileSequence(items, e)
		return
	}
	c.emit(vm.Instruction{Op: vm.OpEnterScope, Num: len(locals)})
	c.compileSequence(items, e.extend(locals))
	c.emitOp(vm.OpExitScope)
}

func (c *Compiler) compileSequence(items []ast.Node, e env) {
	if len(items) == 0 {
		c.emitConst(vm.UndefinedLit())
		return
	}
	for i, item := range items {
		if i > 0 {
			c.emitOp(vm.OpPop)
		}
		c.compile(item, e)
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (c *Compiler) compileBasicLit(n *ast.BasicLit) {
	switch n.Kind {
	case "INT":
		v, err := strconv.ParseInt(strings.ReplaceAll(n.Value, "_", ""), 0, 64)
		if err != nil {
			c.errorf(n, ErrUnsupported, "integer literal %s", n.Value)
			return
		}
		c.emitConst(vm.NumberLit(float64(v)))
	case "FLOAT":
		v, err := strconv.ParseFloat(strings.ReplaceAll(n.Value, "_", ""), 64)
		if err != nil {
			c.errorf(n, ErrUnsupported, "float literal %s", n.Value)
			return
		}
		c.emitConst(vm.NumberLit(v))
	case "STRING":
		s, err := strconv.Unquote(n.Value)
		if err != nil {
			c.errorf(n, ErrUnsupported, "string literal %s", n.Value)
			return
		}
		c.emitConst(vm.StringLit(s))
	case "CHAR":
		r, _, _, err := strconv.UnquoteChar(strings.Trim(n.Value, "'"), '\'')
		if err != nil {
			c.errorf(n, ErrUnsupported, "char literal %s", n.Value)
			return
		}
		c.emitConst(vm.NumberLit(float64(r)))
	default:
		c.errorf(n, ErrUnsupported, "%s literal", n.Kind)
	}
}

func (c *Compiler) compileIdent(n *ast.Ident, e env) {
	if pos, ok := e.lookup(n.Name); ok {
		c.emit(vm.Instruction{Op: vm.OpLoad, Pos: pos, Sym: n.Name})
		return
	}
	switch n.Name {
	case "true", "false":
		c.emitConst(vm.BoolLit(n.Name == "true"))
		return
	case "nil":
		c.emitConst(vm.NullLit())
		return
	}
	if alias, ok := aliases[n.Name]; ok {
		if pos, ok := e.lookup(alias); ok {
			c.emit(vm.Instruction{Op: vm.OpLoad, Pos: pos, Sym: alias})
			return
		}
	}
	c.errorf(n, ErrUnresolvedSymbol, "%s", n.Name)
}

// qualifiedName resolves pkg.Name when pkg is not a variable in scope.
func (c *Compiler) qualifiedName(n *ast.SelectorExpr, e env) (name string, isPkg bool, ok bool) {
	x, isIdent := n.X.(*ast.Ident)
	if !isIdent || n.Sel == nil {
		return "", false, false
	}
	if _, local := e.lookup(x.Name); local {
		return "", false, false
	}
	full := x.Name + "." + n.Sel.Name
	name, ok = qualified[full]
	if !ok {
		return full, true, false
	}
	return name, true, true
}

func (c *Compiler) compileSelector(n *ast.SelectorExpr, e env) {
	name, isPkg, ok := c.qualifiedName(n, e)
	if !ok {
		if isPkg {
			c.errorf(n, ErrUnresolvedSymbol, "%s", name)
		} else {
			c.errorf(n, ErrUnsupported, "field selection")
		}
		return
	}
	pos, _ := e.lookup(name)
	c.emit(vm.Instruction{Op: vm.OpLoad, Pos: pos, Sym: name})
}

func (c *Compiler) compileUnary(n *ast.UnaryExpr, e env) {
	switch n.Op {
	case "<-":
		c.compile(n.X, e)
		c.emitOp(vm.OpRecv)
	case "&":
		c.compile(n.X, e)
	case "-", "+", "!":
		c.compile(n.X, e)
		c.emit(vm.Instruction{Op: vm.OpUnary, Sym: n.Op})
	default:
		c.errorf(n, ErrUnsupported, "unary operator %s", n.Op)
	}
}

func (c *Compiler) compileBinary(n *ast.BinaryExpr, e env) {
	switch n.Op {
	case "&&":
		// x && y: if x then y else false
		c.compile(n.X, e)
		jof := c.emitOp(vm.OpJumpFalse)
		c.compile(n.Y, e)
		end := c.emitOp(vm.OpGoto)
		c.patch(jof)
		c.emitConst(vm.BoolLit(false))
		c.patch(end)
		return
	case "||":
		c.compile(n.X, e)
		jof := c.emitOp(vm.OpJumpFalse)
		c.emitConst(vm.BoolLit(true))
		end := c.emitOp(vm.OpGoto)
		c.patch(jof)
		c.compile(n.Y, e)
		c.patch(end)
		return
	}
	if !binaryOps[n.Op] {
		c.errorf(n, ErrUnsupported, "binary operator %s", n.Op)
		return
	}
	c.compile(n.X, e)
	c.compile(n.Y, e)
	c.emit(vm.Instruction{Op: vm.OpBinary, Sym: n.Op})
}

// compileCall emits a CALL, or a SPAWN followed by ENDGO for a go statement.
// A method-style call x.f(a) is sugar for f(x, a).
func (c *Compiler) compileCall(n *ast.CallExpr, e env, spawn bool) {
	if isMake(n, e) {
		if spawn {
			c.errorf(n, ErrUnsupported, "go make")
			return
		}
		c.compileMake(n, vm.Unbound, "", e)
		return
	}

	args := n.Args
	switch fun := n.Fun.(type) {
	case *ast.SelectorExpr:
		if _, isPkg, _ := c.qualifiedName(fun, e); isPkg {
			c.compileSelector(fun, e)
		} else {
			c.compileIdent(fun.Sel, e)
			args = append([]ast.Expr{fun.X}, args...)
		}
	default:
		c.compile(n.Fun, e)
	}
	for _, arg := range args {
		c.compile(arg, e)
	}

	op := vm.OpCall
	if spawn {
		op = vm.OpSpawn
	}
	c.emit(vm.Instruction{Op: op, Arity: len(args)})
	if spawn {
		c.emitOp(vm.OpEndGo)
	}
}

func isMake(n *ast.CallExpr, e env) bool {
	id, ok := n.Fun.(*ast.Ident)
	if !ok || id.Name != "make" {
		return false
	}
	_, shadowed := e.lookup("make")
	return !shadowed
}

func isMakeChan(x ast.Expr, e env) (*ast.CallExpr, bool) {
	call, ok := x.(*ast.CallExpr)
	if !ok || !isMake(call, e) {
		return nil, false
	}
	return call, true
}

// compileMake handles make(chan T). Only unbuffered channels exist.
func (c *Compiler) compileMake(n *ast.CallExpr, pos vm.Pos, sym string, e env) {
	if len(n.Args) == 0 {
		c.errorf(n, ErrUnsupported, "make without type")
		return
	}
	if _, ok := n.Args[0].(*ast.ChanType); !ok {
		c.errorf(n, ErrUnsupported, "make(%s)", ast.TypeName(n.Args[0]))
		return
	}
	if len(n.Args) > 1 {
		c.errorf(n, ErrUnsupported, "buffered channel")
		return
	}
	c.emit(vm.Instruction{Op: vm.OpChannel, Pos: pos, Sym: sym})
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

func paramNames(ft *ast.FuncType) []string {
	if ft == nil || ft.Params == nil {
		return nil
	}
	var names []string
	for _, f := range ft.Params.List {
		if len(f.Names) == 0 {
			names = append(names, "_")
			continue
		}
		for _, id := range f.Names {
			names = append(names, id.Name)
		}
	}
	return names
}

// compileFunction emits LDF, a jump over the body, then the body itself.
// A body that falls off its end returns undefined.
func (c *Compiler) compileFunction(ft *ast.FuncType, body *ast.BlockStmt, e env) {
	params := paramNames(ft)
	if len(params) > 255 {
		c.errorf(ft, ErrUnsupported, "%d parameters", len(params))
		return
	}
	ldf := c.emit(vm.Instruction{Op: vm.OpLoadFunc, Arity: len(params)})
	skip := c.emitOp(vm.OpGoto)
	if c.here() > 0xFFFF {
		c.errorf(ft, ErrProgramTooLarge, "function entry %d", c.here())
		return
	}
	c.instrs[ldf].Addr = c.here()

	var items []ast.Node
	if body != nil {
		items = stmtNodes(body.List)
	}
	c.compileBlock(items, e.extend(params))
	if !endsWithReturn(items) {
		c.emitOp(vm.OpPop)
		c.emitConst(vm.UndefinedLit())
		c.emitOp(vm.OpReset)
	}
	c.patch(skip)
}

func (c *Compiler) compileFuncDecl(n *ast.FuncDecl, e env) {
	if n.Recv != nil {
		c.errorf(n, ErrUnsupported, "method declaration")
		return
	}
	pos, ok := c.target(n.Name, e)
	if !ok {
		return
	}
	c.compileFunction(n.Type, n.Body, e)
	c.emit(vm.Instruction{Op: vm.OpAssign, Pos: pos, Sym: n.Name.Name})
}

func (c *Compiler) compileReturn(n *ast.ReturnStmt, e env) {
	switch len(n.Results) {
	case 0:
		c.emitConst(vm.UndefinedLit())
	case 1:
		c.compile(n.Results[0], e)
	default:
		c.errorf(n, ErrUnsupported, "multiple return values")
		return
	}
	c.emitOp(vm.OpReset)
}

// ---------------------------------------------------------------------------
// Declarations and assignment
// ---------------------------------------------------------------------------

// target resolves an assignable name.
func (c *Compiler) target(x ast.Expr, e env) (vm.Pos, bool) {
	id, ok := x.(*ast.Ident)
	if !ok {
		c.errorf(x, ErrUnsupported, "assignment to %s", ast.TypeName(x))
		return vm.Pos{}, false
	}
	pos, ok := e.lookup(id.Name)
	if !ok {
		c.errorf(id, ErrUnresolvedSymbol, "%s", id.Name)
		return vm.Pos{}, false
	}
	if pos.Frame < globalFrames {
		c.errorf(id, ErrReadOnlySymbol, "%s", id.Name)
		return vm.Pos{}, false
	}
	return pos, true
}

func isBlank(x ast.Expr) bool {
	id, ok := x.(*ast.Ident)
	return ok && id.Name == "_"
}

func (c *Compiler) compileAssign(n *ast.AssignStmt, e env) {
	if len(n.Lhs) != 1 || len(n.Rhs) != 1 {
		c.errorf(n, ErrUnsupported, "%d-to-%d assignment", len(n.Lhs), len(n.Rhs))
		return
	}
	lhs, rhs := n.Lhs[0], n.Rhs[0]

	if n.Tok != "=" && n.Tok != ":=" {
		op := strings.TrimSuffix(n.Tok, "=")
		if !binaryOps[op] || op == n.Tok {
			c.errorf(n, ErrUnsupported, "assignment operator %s", n.Tok)
			return
		}
		rhs = &ast.BinaryExpr{X: lhs, Op: op, Y: rhs}
	}

	if isBlank(lhs) {
		c.compile(rhs, e)
		return
	}
	pos, ok := c.target(lhs, e)
	if !ok {
		return
	}
	c.assignValue(pos, lhs.(*ast.Ident).Name, rhs, e)
}

// assignValue evaluates x into pos. Channels are created in place.
func (c *Compiler) assignValue(pos vm.Pos, sym string, x ast.Expr, e env) {
	if call, ok := isMakeChan(x, e); ok {
		c.compileMake(call, pos, sym, e)
		return
	}
	c.compile(x, e)
	c.emit(vm.Instruction{Op: vm.OpAssign, Pos: pos, Sym: sym})
}

func (c *Compiler) compileIncDec(n *ast.IncDecStmt, e env) {
	op := "+"
	if n.Tok == "--" {
		op = "-"
	}
	pos, ok := c.target(n.X, e)
	if !ok {
		return
	}
	c.compile(&ast.BinaryExpr{X: n.X, Op: op, Y: &ast.BasicLit{Kind: "INT", Value: "1"}}, e)
	c.emit(vm.Instruction{Op: vm.OpAssign, Pos: pos, Sym: n.X.(*ast.Ident).Name})
}

func (c *Compiler) compileDecl(d ast.Decl, e env) {
	switch d := d.(type) {
	case *ast.GenDecl:
		c.compileGenDecl(d, e)
	case *ast.FuncDecl:
		c.compileFuncDecl(d, e)
	default:
		c.errorf(d, ErrUnsupported, "%s", ast.TypeName(d))
	}
}

func (c *Compiler) compileGenDecl(d *ast.GenDecl, e env) {
	switch d.Tok {
	case "import":
		c.emitConst(vm.UndefinedLit())
		return
	case "var", "const":
	default:
		c.errorf(d, ErrUnsupported, "%s declaration", d.Tok)
		return
	}

	emitted := false
	for _, s := range d.Specs {
		vs, ok := s.(*ast.ValueSpec)
		if !ok {
			c.errorf(s, ErrUnsupported, "%s in %s declaration", ast.TypeName(s), d.Tok)
			return
		}
		if len(vs.Values) > 0 && len(vs.Values) != len(vs.Names) {
			c.errorf(vs, ErrUnsupported, "%d names with %d values", len(vs.Names), len(vs.Values))
			return
		}
		for i, id := range vs.Names {
			if emitted {
				c.emitOp(vm.OpPop)
			}
			emitted = true
			c.compileValueSpec(id, vs, i, e)
		}
	}
	if !emitted {
		c.emitConst(vm.UndefinedLit())
	}
}

func (c *Compiler) compileValueSpec(id *ast.Ident, vs *ast.ValueSpec, i int, e env) {
	if id.Name == "_" {
		if len(vs.Values) > 0 {
			c.compile(vs.Values[i], e)
		} else {
			c.emitConst(vm.UndefinedLit())
		}
		return
	}
	pos, ok := c.target(id, e)
	if !ok {
		return
	}
	switch {
	case len(vs.Values) > 0:
		c.assignValue(pos, id.Name, vs.Values[i], e)
	case isMutexType(vs.Type):
		c.emit(vm.Instruction{Op: vm.OpMutex, Pos: pos, Sym: id.Name})
	default:
		c.emitConst(zeroValue(vs.Type))
		c.emit(vm.Instruction{Op: vm.OpAssign, Pos: pos, Sym: id.Name})
	}
}

func isMutexType(t ast.Expr) bool {
	sel, ok := t.(*ast.SelectorExpr)
	if !ok || sel.Sel == nil {
		return false
	}
	pkg, ok := sel.X.(*ast.Ident)
	return ok && pkg.Name == "sync" && sel.Sel.Name == "Mutex"
}

func zeroValue(t ast.Expr) *vm.Literal {
	id, ok := t.(*ast.Ident)
	if !ok {
		return vm.NullLit()
	}
	switch id.Name {
	case "int", "int8", "int16", "int32", "int64",
		"uint", "uint8", "uint16", "uint32", "uint64",
		"float32", "float64", "byte", "rune":
		return vm.NumberLit(0)
	case "string":
		return vm.StringLit("")
	case "bool":
		return vm.BoolLit(false)
	}
	return vm.NullLit()
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func (c *Compiler) compileIf(n *ast.IfStmt, e env) {
	if n.Init != nil {
		c.compileBlock([]ast.Node{n.Init, &ast.IfStmt{Cond: n.Cond, Body: n.Body, Else: n.Else}}, e)
		return
	}
	if n.Cond == nil {
		c.errorf(n, ErrUnsupported, "if without condition")
		return
	}
	c.compile(n.Cond, e)
	jof := c.emitOp(vm.OpJumpFalse)
	c.compile(n.Body, e)
	end := c.emitOp(vm.OpGoto)
	c.patch(jof)
	if n.Else != nil {
		c.compile(n.Else, e)
	} else {
		c.emitConst(vm.UndefinedLit())
	}
	c.patch(end)
}

// compileFor emits: cond; JOF exit; body; POP; post; POP; GOTO cond.
func (c *Compiler) compileFor(n *ast.ForStmt, e env) {
	if n.Init != nil {
		c.compileBlock([]ast.Node{n.Init, &ast.ForStmt{Cond: n.Cond, Post: n.Post, Body: n.Body}}, e)
		return
	}
	start := c.here()
	jof := -1
	if n.Cond != nil {
		c.compile(n.Cond, e)
		jof = c.emitOp(vm.OpJumpFalse)
	}
	c.compile(n.Body, e)
	c.emitOp(vm.OpPop)
	if n.Post != nil {
		c.compile(n.Post, e)
		c.emitOp(vm.OpPop)
	}
	c.emit(vm.Instruction{Op: vm.OpGoto, Addr: start})
	if jof >= 0 {
		c.patch(jof)
	}
	c.emitConst(vm.UndefinedLit())
}
