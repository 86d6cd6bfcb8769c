package ast

import (
	"bytes"
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// Decode parses the JSON produced by `asty go2json` into a File.
func Decode(data []byte) (*File, error) {
	n, err := DecodeNode(data)
	if err != nil {
		return nil, err
	}
	f, ok := n.(*File)
	if !ok {
		return nil, fmt.Errorf("ast: top-level node is %s, want File", TypeName(n))
	}
	return f, nil
}

// DecodeFile reads and decodes a go2json file from disk.
func DecodeFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	f, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// DecodeNode parses a single node of any type. Unknown node types decode
// to *BadNode rather than failing, so the compiler can report them.
func DecodeNode(data []byte) (Node, error) {
	d := &decoder{}
	n := d.node(data)
	if d.err != nil {
		return nil, d.err
	}
	if n == nil {
		return nil, fmt.Errorf("ast: empty document")
	}
	return n, nil
}

// decoder keeps the first error seen; every helper is a no-op after it.
type decoder struct {
	err error
}

type object map[string]json.RawMessage

func (d *decoder) fail(format string, args ...interface{}) {
	if d.err == nil {
		d.err = fmt.Errorf("ast: "+format, args...)
	}
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func (d *decoder) node(raw json.RawMessage) Node {
	if d.err != nil || isNull(raw) {
		return nil
	}
	var m object
	if err := json.Unmarshal(raw, &m); err != nil {
		d.fail("decode node: %v", err)
		return nil
	}
	typ := d.str(m["NodeType"])
	if typ == "" {
		d.fail("node without NodeType")
		return nil
	}

	switch typ {
	case "File":
		return &File{Name: d.ident(m["Name"]), Decls: d.decls(m["Decls"])}
	case "GenDecl":
		return &GenDecl{Tok: d.str(m["Tok"]), Specs: d.specs(m["Specs"])}
	case "ValueSpec":
		return &ValueSpec{Names: d.idents(m["Names"]), Type: d.expr(m["Type"]), Values: d.exprs(m["Values"])}
	case "ImportSpec":
		return &ImportSpec{Name: d.ident(m["Name"]), Path: d.basicLit(m["Path"])}
	case "TypeSpec":
		return &TypeSpec{Name: d.ident(m["Name"]), Type: d.expr(m["Type"])}
	case "FuncDecl":
		return &FuncDecl{
			Recv: d.fieldList(m["Recv"]),
			Name: d.ident(m["Name"]),
			Type: d.funcType(m["Type"]),
			Body: d.block(m["Body"]),
		}
	case "FuncType":
		return &FuncType{Params: d.fieldList(m["Params"]), Results: d.fieldList(m["Results"])}
	case "FieldList":
		var fields []*Field
		for _, r := range d.list(m["List"]) {
			f, ok := d.node(r).(*Field)
			if !ok {
				d.fail("FieldList entry is not a Field")
				return nil
			}
			fields = append(fields, f)
		}
		return &FieldList{List: fields}
	case "Field":
		return &Field{Names: d.idents(m["Names"]), Type: d.expr(m["Type"])}

	case "BlockStmt":
		return &BlockStmt{List: d.stmts(m["List"])}
	case "DeclStmt":
		return &DeclStmt{Decl: d.decl(m["Decl"])}
	case "ExprStmt":
		return &ExprStmt{X: d.expr(m["X"])}
	case "AssignStmt":
		return &AssignStmt{Lhs: d.exprs(m["Lhs"]), Tok: d.str(m["Tok"]), Rhs: d.exprs(m["Rhs"])}
	case "IncDecStmt":
		return &IncDecStmt{X: d.expr(m["X"]), Tok: d.str(m["Tok"])}
	case "IfStmt":
		return &IfStmt{
			Init: d.stmt(m["Init"]),
			Cond: d.expr(m["Cond"]),
			Body: d.block(m["Body"]),
			Else: d.stmt(m["Else"]),
		}
	case "ForStmt":
		return &ForStmt{
			Init: d.stmt(m["Init"]),
			Cond: d.expr(m["Cond"]),
			Post: d.stmt(m["Post"]),
			Body: d.block(m["Body"]),
		}
	case "ReturnStmt":
		return &ReturnStmt{Results: d.exprs(m["Results"])}
	case "GoStmt":
		return &GoStmt{Call: d.call(m["Call"])}
	case "SendStmt":
		return &SendStmt{Chan: d.expr(m["Chan"]), Value: d.expr(m["Value"])}
	case "EmptyStmt":
		return &EmptyStmt{}

	case "BasicLit":
		return &BasicLit{Kind: d.str(m["Kind"]), Value: d.str(m["Value"])}
	case "Ident":
		return &Ident{Name: d.str(m["Name"])}
	case "UnaryExpr":
		return &UnaryExpr{Op: d.str(m["Op"]), X: d.expr(m["X"])}
	case "BinaryExpr":
		return &BinaryExpr{X: d.expr(m["X"]), Op: d.str(m["Op"]), Y: d.expr(m["Y"])}
	case "ParenExpr":
		return &ParenExpr{X: d.expr(m["X"])}
	case "CallExpr":
		return &CallExpr{Fun: d.expr(m["Fun"]), Args: d.exprs(m["Args"])}
	case "SelectorExpr":
		return &SelectorExpr{X: d.expr(m["X"]), Sel: d.ident(m["Sel"])}
	case "StarExpr":
		return &StarExpr{X: d.expr(m["X"])}
	case "ChanType":
		return &ChanType{Value: d.expr(m["Value"])}
	case "FuncLit":
		return &FuncLit{Type: d.funcType(m["Type"]), Body: d.block(m["Body"])}
	}
	return &BadNode{NodeType: typ}
}

// str decodes a string field. Non-string scalars (asty emits some token
// fields as numbers) decode as "".
func (d *decoder) str(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func (d *decoder) list(raw json.RawMessage) []json.RawMessage {
	if d.err != nil || isNull(raw) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		d.fail("decode list: %v", err)
		return nil
	}
	return items
}

// ---------------------------------------------------------------------------
// Typed helpers
// ---------------------------------------------------------------------------

func (d *decoder) expr(raw json.RawMessage) Expr {
	n := d.node(raw)
	if n == nil {
		return nil
	}
	e, ok := n.(Expr)
	if !ok {
		d.fail("%s is not an expression", TypeName(n))
		return nil
	}
	return e
}

func (d *decoder) stmt(raw json.RawMessage) Stmt {
	n := d.node(raw)
	if n == nil {
		return nil
	}
	s, ok := n.(Stmt)
	if !ok {
		d.fail("%s is not a statement", TypeName(n))
		return nil
	}
	return s
}

func (d *decoder) decl(raw json.RawMessage) Decl {
	n := d.node(raw)
	if n == nil {
		return nil
	}
	s, ok := n.(Decl)
	if !ok {
		d.fail("%s is not a declaration", TypeName(n))
		return nil
	}
	return s
}

func (d *decoder) ident(raw json.RawMessage) *Ident {
	n := d.node(raw)
	if n == nil {
		return nil
	}
	id, ok := n.(*Ident)
	if !ok {
		d.fail("%s is not an identifier", TypeName(n))
		return nil
	}
	return id
}

func (d *decoder) basicLit(raw json.RawMessage) *BasicLit {
	n := d.node(raw)
	if n == nil {
		return nil
	}
	lit, ok := n.(*BasicLit)
	if !ok {
		d.fail("%s is not a literal", TypeName(n))
		return nil
	}
	return lit
}

func (d *decoder) block(raw json.RawMessage) *BlockStmt {
	n := d.node(raw)
	if n == nil {
		return nil
	}
	b, ok := n.(*BlockStmt)
	if !ok {
		d.fail("%s is not a block", TypeName(n))
		return nil
	}
	return b
}

func (d *decoder) call(raw json.RawMessage) *CallExpr {
	n := d.node(raw)
	if n == nil {
		return nil
	}
	c, ok := n.(*CallExpr)
	if !ok {
		d.fail("%s is not a call", TypeName(n))
		return nil
	}
	return c
}

func (d *decoder) funcType(raw json.RawMessage) *FuncType {
	n := d.node(raw)
	if n == nil {
		return nil
	}
	t, ok := n.(*FuncType)
	if !ok {
		d.fail("%s is not a function type", TypeName(n))
		return nil
	}
	return t
}

func (d *decoder) fieldList(raw json.RawMessage) *FieldList {
	n := d.node(raw)
	if n == nil {
		return nil
	}
	fl, ok := n.(*FieldList)
	if !ok {
		d.fail("%s is not a field list", TypeName(n))
		return nil
	}
	return fl
}

func (d *decoder) exprs(raw json.RawMessage) []Expr {
	var out []Expr
	for _, r := range d.list(raw) {
		if e := d.expr(r); e != nil {
			out = append(out, e)
		}
	}
	return out
}

func (d *decoder) stmts(raw json.RawMessage) []Stmt {
	var out []Stmt
	for _, r := range d.list(raw) {
		if s := d.stmt(r); s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (d *decoder) decls(raw json.RawMessage) []Decl {
	var out []Decl
	for _, r := range d.list(raw) {
		if s := d.decl(r); s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (d *decoder) specs(raw json.RawMessage) []Spec {
	var out []Spec
	for _, r := range d.list(raw) {
		n := d.node(r)
		if n == nil {
			continue
		}
		s, ok := n.(Spec)
		if !ok {
			d.fail("%s is not a spec", TypeName(n))
			return nil
		}
		out = append(out, s)
	}
	return out
}

func (d *decoder) idents(raw json.RawMessage) []*Ident {
	var out []*Ident
	for _, r := range d.list(raw) {
		if id := d.ident(r); id != nil {
			out = append(out, id)
		}
	}
	return out
}
