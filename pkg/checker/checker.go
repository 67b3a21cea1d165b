// Package checker runs the semantic warning passes over a parsed program.
// It never rejects a program; every finding goes through the Reporter.
package checker

import (
	"github.com/xplshn/cinc/pkg/ast"
	"github.com/xplshn/cinc/pkg/config"
	"github.com/xplshn/cinc/pkg/util"
)

type Checker struct {
	tree     *ast.Tree
	cfg      *config.Config
	rep      *util.Reporter
	assigned map[int]bool
	warned   map[int]bool
}

func NewChecker(cfg *config.Config, rep *util.Reporter) *Checker {
	return &Checker{
		cfg:      cfg,
		rep:      rep,
		assigned: make(map[int]bool),
		warned:   make(map[int]bool),
	}
}

// Check walks prog in evaluation order.
func Check(prog *ast.Program, cfg *config.Config, rep *util.Reporter) {
	NewChecker(cfg, rep).Check(prog)
}

func (c *Checker) Check(prog *ast.Program) {
	c.tree = prog.Tree
	c.checkStmtList(prog.Stmts)
}

func (c *Checker) checkStmtList(stmts []ast.Ref) {
	for i, stmt := range stmts {
		c.checkNode(stmt)
		if c.tree.Node(stmt).Type == ast.Return && i+1 < len(stmts) {
			next := c.tree.Node(stmts[i+1])
			c.rep.Warn(config.WarnUnreachableCode, next.Tok, "code after 'return' is never executed")
			for _, rest := range stmts[i+1:] {
				c.checkNode(rest)
			}
			return
		}
	}
}

func (c *Checker) checkNode(r ast.Ref) {
	node := c.tree.Node(r)
	switch d := node.Data.(type) {
	case ast.NumberNode, ast.CallNode:
	case ast.LocalVarNode:
		if !c.assigned[d.Offset] && !c.warned[d.Offset] {
			c.warned[d.Offset] = true
			c.rep.Warn(config.WarnImplicitDecl, node.Tok, "'%s' is read before anything is assigned to it", d.Name)
		}
	case ast.AssignNode:
		c.checkNode(d.Value)
		target := c.tree.Node(d.Target).Data.(ast.LocalVarNode)
		c.assigned[target.Offset] = true
	case ast.BinaryOpNode:
		c.checkNode(d.Left)
		c.checkNode(d.Right)
		if d.Op == ast.Div && c.isZero(d.Right) {
			c.rep.Warn(config.WarnExtra, node.Tok, "division by constant zero")
		}
	case ast.BlockNode:
		c.checkStmtList(d.Stmts)
	default:
		for _, child := range c.tree.Children(r) {
			c.checkNode(child)
		}
	}
}

func (c *Checker) isZero(r ast.Ref) bool {
	n, ok := c.tree.Node(r).Data.(ast.NumberNode)
	return ok && n.Value == 0
}
