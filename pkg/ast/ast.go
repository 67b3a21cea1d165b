// Package ast defines the arena-allocated syntax tree produced by the parser
package ast

import (
	"github.com/xplshn/cinc/pkg/token"
)

// NodeType defines the kind of a node in the AST
type NodeType int

const (
	// Expressions
	Number NodeType = iota
	LocalVar
	Assign
	BinaryOp
	Call

	// Statements
	Return
	If
	While
	For
	Block
)

var nodeTypeNames = [...]string{
	Number:   "Number",
	LocalVar: "LocalVar",
	Assign:   "Assign",
	BinaryOp: "BinaryOp",
	Call:     "Call",
	Return:   "Return",
	If:       "If",
	While:    "While",
	For:      "For",
	Block:    "Block",
}

func (t NodeType) String() string {
	if t >= 0 && int(t) < len(nodeTypeNames) {
		return nodeTypeNames[t]
	}
	return "NodeType(?)"
}

// BinOp is the operator of a BinaryOp node
type BinOp int

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Eq
	Ne
	Lt
	Le
	Gt
	Ge
)

var binOpNames = [...]string{
	Add: "+", Sub: "-", Mul: "*", Div: "/",
	Eq: "==", Ne: "!=", Lt: "<", Le: "<=", Gt: ">", Ge: ">=",
}

func (op BinOp) String() string {
	if op >= 0 && int(op) < len(binOpNames) {
		return binOpNames[op]
	}
	return "BinOp(?)"
}

// IsComparison reports whether op yields 0 or 1
func (op BinOp) IsComparison() bool { return op >= Eq && op <= Ge }

// BinOpFor maps an operator token to its BinOp
var BinOpFor = map[token.Type]BinOp{
	token.Plus: Add, token.Minus: Sub, token.Star: Mul, token.Slash: Div,
	token.EqEq: Eq, token.Neq: Ne, token.Lt: Lt, token.Lte: Le, token.Gt: Gt, token.Gte: Ge,
}

// Ref addresses a node in a Tree. The zero value is Nil.
type Ref int32

const Nil Ref = 0

// Node represents a node in the Abstract Syntax Tree
type Node struct {
	Type NodeType
	Tok  token.Token
	Data interface{}
}

// --- Node Data Structs ---
type NumberNode struct{ Value int64 }
type LocalVarNode struct {
	Name   string
	Offset int
}
type AssignNode struct{ Target, Value Ref }
type BinaryOpNode struct {
	Op          BinOp
	Left, Right Ref
}
type CallNode struct{ Name string }
type ReturnNode struct{ Value Ref }
type IfNode struct{ Cond, Then, Else Ref }
type WhileNode struct{ Cond, Body Ref }
type ForNode struct{ Init, Cond, Step, Body Ref }
type BlockNode struct{ Stmts []Ref }

// Tree owns every node of one compilation. Nodes are appended and never
// mutated or freed; the whole arena goes away with the Tree.
type Tree struct {
	nodes []Node
}

func NewTree() *Tree {
	// slot 0 backs Nil
	return &Tree{nodes: make([]Node, 1, 64)}
}

// Len is the number of live nodes.
func (t *Tree) Len() int { return len(t.nodes) - 1 }

// Node returns the node at r. Callers must not pass Nil.
func (t *Tree) Node(r Ref) *Node {
	if r <= Nil || int(r) >= len(t.nodes) {
		panic("ast: invalid node reference")
	}
	return &t.nodes[r]
}

func (t *Tree) add(tok token.Token, nodeType NodeType, data interface{}) Ref {
	t.nodes = append(t.nodes, Node{Type: nodeType, Tok: tok, Data: data})
	return Ref(len(t.nodes) - 1)
}

// --- Node Constructors ---

func (t *Tree) NewNumber(tok token.Token, value int64) Ref {
	return t.add(tok, Number, NumberNode{Value: value})
}
func (t *Tree) NewLocalVar(tok token.Token, name string, offset int) Ref {
	return t.add(tok, LocalVar, LocalVarNode{Name: name, Offset: offset})
}
func (t *Tree) NewAssign(tok token.Token, target, value Ref) Ref {
	return t.add(tok, Assign, AssignNode{Target: target, Value: value})
}
func (t *Tree) NewBinaryOp(tok token.Token, op BinOp, left, right Ref) Ref {
	return t.add(tok, BinaryOp, BinaryOpNode{Op: op, Left: left, Right: right})
}
func (t *Tree) NewCall(tok token.Token, name string) Ref {
	return t.add(tok, Call, CallNode{Name: name})
}
func (t *Tree) NewReturn(tok token.Token, value Ref) Ref {
	return t.add(tok, Return, ReturnNode{Value: value})
}
func (t *Tree) NewIf(tok token.Token, cond, then, els Ref) Ref {
	return t.add(tok, If, IfNode{Cond: cond, Then: then, Else: els})
}
func (t *Tree) NewWhile(tok token.Token, cond, body Ref) Ref {
	return t.add(tok, While, WhileNode{Cond: cond, Body: body})
}
func (t *Tree) NewFor(tok token.Token, initExpr, cond, step, body Ref) Ref {
	return t.add(tok, For, ForNode{Init: initExpr, Cond: cond, Step: step, Body: body})
}
func (t *Tree) NewBlock(tok token.Token, stmts []Ref) Ref {
	return t.add(tok, Block, BlockNode{Stmts: stmts})
}

// Children lists the direct children of r in evaluation order.
func (t *Tree) Children(r Ref) []Ref {
	switch d := t.Node(r).Data.(type) {
	case AssignNode:
		return []Ref{d.Target, d.Value}
	case BinaryOpNode:
		return []Ref{d.Left, d.Right}
	case ReturnNode:
		return []Ref{d.Value}
	case IfNode:
		if d.Else == Nil {
			return []Ref{d.Cond, d.Then}
		}
		return []Ref{d.Cond, d.Then, d.Else}
	case WhileNode:
		return []Ref{d.Cond, d.Body}
	case ForNode:
		return []Ref{d.Init, d.Cond, d.Step, d.Body}
	case BlockNode:
		return d.Stmts
	}
	return nil
}

// Program is the result of parsing one translation unit.
type Program struct {
	Tree  *Tree
	Scope *Scope
	Stmts []Ref
}
