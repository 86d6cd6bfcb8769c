// Package ast models the subset of the Go syntax tree that govm compiles.
//
// Nodes mirror the go/ast shapes emitted by the external `asty go2json`
// translator, so field names follow go/ast (X, Y, Op, Tok, Lhs, Rhs...).
package ast

// Node is the interface implemented by all AST nodes.
type Node interface {
	node() // marker method
}

// ---------------------------------------------------------------------------
// Node categories
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// Decl is the interface for top-level and block declarations.
type Decl interface {
	Node
	decl() // marker method
}

// Spec is the interface for the specs inside a GenDecl.
type Spec interface {
	Node
	spec() // marker method
}

// ---------------------------------------------------------------------------
// File and declarations
// ---------------------------------------------------------------------------

// File is a whole source file.
type File struct {
	Name  *Ident
	Decls []Decl
}

func (n *File) node() {}

// GenDecl is an import, const, type or var declaration. Tok holds the
// keyword ("import", "const", "type", "var").
type GenDecl struct {
	Tok   string
	Specs []Spec
}

func (n *GenDecl) node() {}
func (n *GenDecl) decl() {}

// ValueSpec is a single const or var spec.
type ValueSpec struct {
	Names  []*Ident
	Type   Expr
	Values []Expr
}

func (n *ValueSpec) node() {}
func (n *ValueSpec) spec() {}

// ImportSpec is a single import.
type ImportSpec struct {
	Name *Ident
	Path *BasicLit
}

func (n *ImportSpec) node() {}
func (n *ImportSpec) spec() {}

// TypeSpec is a type declaration. Decoded so it can be rejected with a
// useful message.
type TypeSpec struct {
	Name *Ident
	Type Expr
}

func (n *TypeSpec) node() {}
func (n *TypeSpec) spec() {}

// FuncDecl is a function or method declaration.
type FuncDecl struct {
	Recv *FieldList
	Name *Ident
	Type *FuncType
	Body *BlockStmt
}

func (n *FuncDecl) node() {}
func (n *FuncDecl) decl() {}

// FuncType is a function signature.
type FuncType struct {
	Params  *FieldList
	Results *FieldList
}

func (n *FuncType) node() {}
func (n *FuncType) expr() {}

// FieldList is a parenthesized list of fields.
type FieldList struct {
	List []*Field
}

func (n *FieldList) node() {}

// NumFields returns the number of names declared by the list, counting
// anonymous fields as one.
func (n *FieldList) NumFields() int {
	if n == nil {
		return 0
	}
	count := 0
	for _, f := range n.List {
		if len(f.Names) == 0 {
			count++
		} else {
			count += len(f.Names)
		}
	}
	return count
}

// Field is a parameter or result group.
type Field struct {
	Names []*Ident
	Type  Expr
}

func (n *Field) node() {}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// BlockStmt is a braced statement list.
type BlockStmt struct {
	List []Stmt
}

func (n *BlockStmt) node() {}
func (n *BlockStmt) stmt() {}

// DeclStmt is a declaration inside a function body.
type DeclStmt struct {
	Decl Decl
}

func (n *DeclStmt) node() {}
func (n *DeclStmt) stmt() {}

// ExprStmt is an expression evaluated for effect.
type ExprStmt struct {
	X Expr
}

func (n *ExprStmt) node() {}
func (n *ExprStmt) stmt() {}

// AssignStmt is an assignment or short variable declaration. Tok is
// "=", ":=" or an operator assignment such as "+=".
type AssignStmt struct {
	Lhs []Expr
	Tok string
	Rhs []Expr
}

func (n *AssignStmt) node() {}
func (n *AssignStmt) stmt() {}

// IncDecStmt is x++ or x--.
type IncDecStmt struct {
	X   Expr
	Tok string
}

func (n *IncDecStmt) node() {}
func (n *IncDecStmt) stmt() {}

// IfStmt is an if statement. Else is nil, a *BlockStmt or another *IfStmt.
type IfStmt struct {
	Init Stmt
	Cond Expr
	Body *BlockStmt
	Else Stmt
}

func (n *IfStmt) node() {}
func (n *IfStmt) stmt() {}

// ForStmt is a for loop. Any of Init, Cond and Post may be nil.
type ForStmt struct {
	Init Stmt
	Cond Expr
	Post Stmt
	Body *BlockStmt
}

func (n *ForStmt) node() {}
func (n *ForStmt) stmt() {}

// ReturnStmt is a return statement.
type ReturnStmt struct {
	Results []Expr
}

func (n *ReturnStmt) node() {}
func (n *ReturnStmt) stmt() {}

// GoStmt is a go statement.
type GoStmt struct {
	Call *CallExpr
}

func (n *GoStmt) node() {}
func (n *GoStmt) stmt() {}

// SendStmt is a channel send.
type SendStmt struct {
	Chan  Expr
	Value Expr
}

func (n *SendStmt) node() {}
func (n *SendStmt) stmt() {}

// EmptyStmt is an empty statement.
type EmptyStmt struct{}

func (n *EmptyStmt) node() {}
func (n *EmptyStmt) stmt() {}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// BasicLit is a literal of basic type. Kind is "INT", "FLOAT", "STRING" or
// "CHAR"; Value is the literal source text (strings keep their quotes).
type BasicLit struct {
	Kind  string
	Value string
}

func (n *BasicLit) node() {}
func (n *BasicLit) expr() {}

// Ident is an identifier.
type Ident struct {
	Name string
}

func (n *Ident) node() {}
func (n *Ident) expr() {}

// UnaryExpr is a unary expression, including a receive (Op "<-").
type UnaryExpr struct {
	Op string
	X  Expr
}

func (n *UnaryExpr) node() {}
func (n *UnaryExpr) expr() {}

// BinaryExpr is a binary expression.
type BinaryExpr struct {
	X  Expr
	Op string
	Y  Expr
}

func (n *BinaryExpr) node() {}
func (n *BinaryExpr) expr() {}

// ParenExpr is a parenthesized expression.
type ParenExpr struct {
	X Expr
}

func (n *ParenExpr) node() {}
func (n *ParenExpr) expr() {}

// CallExpr is a function call.
type CallExpr struct {
	Fun  Expr
	Args []Expr
}

func (n *CallExpr) node() {}
func (n *CallExpr) expr() {}

// SelectorExpr is x.Sel.
type SelectorExpr struct {
	X   Expr
	Sel *Ident
}

func (n *SelectorExpr) node() {}
func (n *SelectorExpr) expr() {}

// StarExpr is *X, either a dereference or a pointer type.
type StarExpr struct {
	X Expr
}

func (n *StarExpr) node() {}
func (n *StarExpr) expr() {}

// ChanType is a channel type.
type ChanType struct {
	Value Expr
}

func (n *ChanType) node() {}
func (n *ChanType) expr() {}

// FuncLit is an anonymous function.
type FuncLit struct {
	Type *FuncType
	Body *BlockStmt
}

func (n *FuncLit) node() {}
func (n *FuncLit) expr() {}

// BadNode stands in for any node type the decoder does not model.
// The compiler rejects it.
type BadNode struct {
	NodeType string
}

func (n *BadNode) node() {}
func (n *BadNode) expr() {}
func (n *BadNode) stmt() {}
func (n *BadNode) decl() {}
func (n *BadNode) spec() {}

// TypeName returns the go2json node type name of n.
func TypeName(n Node) string {
	switch n := n.(type) {
	case nil:
		return "<nil>"
	case *File:
		return "File"
	case *GenDecl:
		return "GenDecl"
	case *ValueSpec:
		return "ValueSpec"
	case *ImportSpec:
		return "ImportSpec"
	case *TypeSpec:
		return "TypeSpec"
	case *FuncDecl:
		return "FuncDecl"
	case *FuncType:
		return "FuncType"
	case *FieldList:
		return "FieldList"
	case *Field:
		return "Field"
	case *BlockStmt:
		return "BlockStmt"
	case *DeclStmt:
		return "DeclStmt"
	case *ExprStmt:
		return "ExprStmt"
	case *AssignStmt:
		return "AssignStmt"
	case *IncDecStmt:
		return "IncDecStmt"
	case *IfStmt:
		return "IfStmt"
	case *ForStmt:
		return "ForStmt"
	case *ReturnStmt:
		return "ReturnStmt"
	case *GoStmt:
		return "GoStmt"
	case *SendStmt:
		return "SendStmt"
	case *EmptyStmt:
		return "EmptyStmt"
	case *BasicLit:
		return "BasicLit"
	case *Ident:
		return "Ident"
	case *UnaryExpr:
		return "UnaryExpr"
	case *BinaryExpr:
		return "BinaryExpr"
	case *ParenExpr:
		return "ParenExpr"
	case *CallExpr:
		return "CallExpr"
	case *SelectorExpr:
		return "SelectorExpr"
	case *StarExpr:
		return "StarExpr"
	case *ChanType:
		return "ChanType"
	case *FuncLit:
		return "FuncLit"
	case *BadNode:
		return n.NodeType
	}
	return "?"
}
