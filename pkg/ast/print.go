package ast

import (
	"fmt"
	"io"
	"strings"
)

// Fprint writes an indented outline of prog, one node per line.
func Fprint(w io.Writer, prog *Program) error {
	p := &printer{w: w, tree: prog.Tree}
	p.line(0, "Program vars=%d frame=%d", prog.Scope.Len(), prog.Scope.Size())
	for _, sym := range prog.Scope.Symbols() {
		p.line(1, "var %s [rbp-%d]", sym.Name, sym.Offset)
	}
	for _, stmt := range prog.Stmts {
		p.node(1, stmt)
	}
	return p.err
}

type printer struct {
	w    io.Writer
	tree *Tree
	err  error
}

func (p *printer) line(depth int, format string, args ...interface{}) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, "%s%s\n", strings.Repeat("  ", depth), fmt.Sprintf(format, args...))
}

func (p *printer) node(depth int, r Ref) {
	if r == Nil {
		p.line(depth, "<nil>")
		return
	}
	n := p.tree.Node(r)
	switch d := n.Data.(type) {
	case NumberNode:
		p.line(depth, "Number %d", d.Value)
	case LocalVarNode:
		p.line(depth, "LocalVar %s [rbp-%d]", d.Name, d.Offset)
	case CallNode:
		p.line(depth, "Call %s", d.Name)
	case BinaryOpNode:
		p.line(depth, "BinaryOp %s", d.Op)
	case BlockNode:
		p.line(depth, "Block (%d)", len(d.Stmts))
	default:
		p.line(depth, "%s", n.Type)
	}
	for _, child := range p.tree.Children(r) {
		p.node(depth+1, child)
	}
}
