package codegen

import (
	"bytes"
	"fmt"
	"math"

	"github.com/xplshn/cinc/pkg/ast"
	"github.com/xplshn/cinc/pkg/config"
	"github.com/xplshn/cinc/pkg/token"
)

type valueMode int

const (
	discard valueMode = iota
	keep
)

type amd64Backend struct{}

// NewAMD64Backend returns the native stack-machine backend. It emits
// Intel-syntax x86-64 assembly that any GNU-compatible assembler accepts.
func NewAMD64Backend() Backend { return &amd64Backend{} }

func (b *amd64Backend) Name() string { return "amd64" }

func (b *amd64Backend) Generate(prog *ast.Program, cfg *config.Config) (buf *bytes.Buffer, err error) {
	defer recoverFault(&err)
	g := &amd64Gen{
		out:            new(bytes.Buffer),
		prog:           prog,
		tree:           prog.Tree,
		cfg:            cfg,
		sharedEpilogue: cfg.IsFeatureEnabled(config.FeatSharedEpilogue),
		alignCalls:     cfg.IsFeatureEnabled(config.FeatAlignCalls),
	}
	g.genProgram()
	return g.out, nil
}

type amd64Gen struct {
	out            *bytes.Buffer
	prog           *ast.Program
	tree           *ast.Tree
	cfg            *config.Config
	depth          int // words pushed by expression code
	labelSeq       int
	sharedEpilogue bool
	alignCalls     bool
}

const returnLabel = ".Lreturn"

func (g *amd64Gen) emit(format string, args ...interface{}) {
	g.out.WriteString("  ")
	fmt.Fprintf(g.out, format, args...)
	g.out.WriteByte('\n')
}

func (g *amd64Gen) label(name string, seq int) {
	fmt.Fprintf(g.out, "%s%d:\n", name, seq)
}

func (g *amd64Gen) push(operand string) {
	g.emit("push %s", operand)
	g.depth++
}

func (g *amd64Gen) pop(reg string) {
	g.emit("pop %s", reg)
	g.depth--
}

func (g *amd64Gen) nextLabel() int {
	seq := g.labelSeq
	g.labelSeq++
	return seq
}

func (g *amd64Gen) genProgram() {
	g.out.WriteString(".intel_syntax noprefix\n.globl main\nmain:\n")
	g.emit("push rbp")
	g.emit("mov rbp, rsp")
	g.emit("sub rsp, %d", g.prog.Scope.FrameSize(g.cfg.StackAlignment))

	stmts := g.prog.Stmts
	if len(stmts) == 0 {
		g.push("0")
	}
	for i, stmt := range stmts {
		mode := discard
		if i == len(stmts)-1 {
			mode = keep
		}
		g.genStmt(stmt, mode)
	}

	g.pop("rax")
	if g.depth != 0 {
		fault(g.lastTok(), "stack depth is %d at the end of the program", g.depth)
	}
	if g.sharedEpilogue {
		g.out.WriteString(returnLabel + ":\n")
	}
	g.epilogue()
}

func (g *amd64Gen) epilogue() {
	g.emit("mov rsp, rbp")
	g.emit("pop rbp")
	g.emit("ret")
}

func (g *amd64Gen) genStmt(r ast.Ref, mode valueMode) {
	node := g.tree.Node(r)
	switch d := node.Data.(type) {
	case ast.ReturnNode:
		g.genExpr(d.Value)
		g.pop("rax")
		if g.sharedEpilogue {
			g.emit("jmp %s", returnLabel)
		} else {
			g.epilogue()
		}
		// control never falls through, but the enclosing construct still
		// accounts for the value it asked for
		if mode == keep {
			g.depth++
		}

	case ast.IfNode:
		seq := g.nextLabel()
		g.genCond(d.Cond)
		g.emit("je .Lelse%d", seq)
		before := g.depth
		g.genStmt(d.Then, mode)
		after := g.depth
		g.emit("jmp .Lend%d", seq)
		g.label(".Lelse", seq)
		g.depth = before
		if d.Else != ast.Nil {
			g.genStmt(d.Else, mode)
		} else if mode == keep {
			g.push("0")
		}
		if g.depth != after {
			fault(node.Tok, "branches of 'if' leave %d and %d values", after-before, g.depth-before)
		}
		g.label(".Lend", seq)

	case ast.WhileNode:
		seq := g.nextLabel()
		g.label(".Lbegin", seq)
		g.genCond(d.Cond)
		g.emit("je .Lend%d", seq)
		g.genLoopBody(node.Tok, d.Body, ast.Nil)
		g.emit("jmp .Lbegin%d", seq)
		g.label(".Lend", seq)
		if mode == keep {
			g.push("0")
		}

	case ast.ForNode:
		seq := g.nextLabel()
		g.genStmt(d.Init, discard)
		g.label(".Lbegin", seq)
		g.genCond(d.Cond)
		g.emit("je .Lend%d", seq)
		g.genLoopBody(node.Tok, d.Body, d.Step)
		g.emit("jmp .Lbegin%d", seq)
		g.label(".Lend", seq)
		if mode == keep {
			g.push("0")
		}

	case ast.BlockNode:
		if len(d.Stmts) == 0 {
			if mode == keep {
				g.push("0")
			}
			return
		}
		for i, stmt := range d.Stmts {
			m := discard
			if i == len(d.Stmts)-1 {
				m = mode
			}
			g.genStmt(stmt, m)
		}

	default:
		g.genExpr(r)
		if mode == discard {
			g.pop("rax")
		}
	}
}

// genCond evaluates cond and sets the flags for a jump on false.
func (g *amd64Gen) genCond(cond ast.Ref) {
	g.genExpr(cond)
	g.pop("rax")
	g.emit("cmp rax, 0")
}

func (g *amd64Gen) genLoopBody(loopTok token.Token, body, step ast.Ref) {
	before := g.depth
	g.genStmt(body, discard)
	if step != ast.Nil {
		g.genStmt(step, discard)
	}
	if g.depth != before {
		fault(loopTok, "loop body leaves %d values on the stack", g.depth-before)
	}
}

func (g *amd64Gen) genAddr(r ast.Ref) {
	node := g.tree.Node(r)
	lv, ok := node.Data.(ast.LocalVarNode)
	if !ok {
		fault(node.Tok, "%s is not assignable", node.Type)
	}
	g.emit("mov rax, rbp")
	g.emit("sub rax, %d", lv.Offset)
	g.push("rax")
}

func (g *amd64Gen) genExpr(r ast.Ref) {
	node := g.tree.Node(r)
	switch d := node.Data.(type) {
	case ast.NumberNode:
		if d.Value >= math.MinInt32 && d.Value <= math.MaxInt32 {
			g.push(fmt.Sprint(d.Value))
			return
		}
		g.emit("movabs rax, %d", d.Value)
		g.push("rax")

	case ast.LocalVarNode:
		g.genAddr(r)
		g.pop("rax")
		g.emit("mov rax, [rax]")
		g.push("rax")

	case ast.AssignNode:
		g.genAddr(d.Target)
		g.genExpr(d.Value)
		g.pop("rdi")
		g.pop("rax")
		g.emit("mov [rax], rdi")
		g.push("rdi")

	case ast.CallNode:
		pad := g.alignCalls && g.depth%2 != 0
		if pad {
			g.emit("sub rsp, 8")
		}
		g.emit("call %s", d.Name)
		if pad {
			g.emit("add rsp, 8")
		}
		g.push("rax")

	case ast.BinaryOpNode:
		g.genExpr(d.Left)
		g.genExpr(d.Right)
		g.pop("rdi")
		g.pop("rax")
		g.genBinaryOp(node.Tok, d.Op)
		g.push("rax")

	default:
		fault(node.Tok, "unexpected %s node in expression", node.Type)
	}
}

var setccFor = map[ast.BinOp]string{
	ast.Eq: "sete",
	ast.Ne: "setne",
	ast.Lt: "setl",
	ast.Le: "setle",
	ast.Gt: "setl",
	ast.Ge: "setle",
}

func (g *amd64Gen) genBinaryOp(tok token.Token, op ast.BinOp) {
	switch op {
	case ast.Add:
		g.emit("add rax, rdi")
	case ast.Sub:
		g.emit("sub rax, rdi")
	case ast.Mul:
		g.emit("imul rax, rdi")
	case ast.Div:
		g.emit("cqo")
		g.emit("idiv rdi")
	case ast.Eq, ast.Ne, ast.Lt, ast.Le:
		g.emit("cmp rax, rdi")
		g.emit("%s al", setccFor[op])
		g.emit("movzb rax, al")
	case ast.Gt, ast.Ge:
		// a > b is b < a
		g.emit("cmp rdi, rax")
		g.emit("%s al", setccFor[op])
		g.emit("movzb rax, al")
	default:
		fault(tok, "unknown binary operator %d", int(op))
	}
}

func (g *amd64Gen) lastTok() token.Token {
	if n := len(g.prog.Stmts); n > 0 {
		return g.tree.Node(g.prog.Stmts[n-1]).Tok
	}
	return token.Token{}
}
