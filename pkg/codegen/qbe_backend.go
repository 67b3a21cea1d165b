package codegen

import (
	"fmt"
	"strings"

	"github.com/xplshn/cinc/pkg/ast"
	"github.com/xplshn/cinc/pkg/config"
)

type qbeBackend struct {
	out        *strings.Builder
	prog       *ast.Program
	tree       *ast.Tree
	tempCount  int
	labelSeq   int
	terminated bool
}

// NewQBEBackend returns a backend that lowers the program to QBE IL and
// hands it to QBE for the selected target.
func NewQBEBackend() Backend { return &qbeBackend{} }

func (b *qbeBackend) Name() string { return "qbe" }

// GenerateIR returns the QBE IL for prog without assembling it.
func (b *qbeBackend) GenerateIR(prog *ast.Program, cfg *config.Config) (ir string, err error) {
	defer recoverFault(&err)
	var qbeIRBuilder strings.Builder
	b.out = &qbeIRBuilder
	b.prog = prog
	b.tree = prog.Tree
	b.tempCount, b.labelSeq, b.terminated = 0, 0, false

	b.genFunc()
	return qbeIRBuilder.String(), nil
}

func (b *qbeBackend) newTemp() string {
	t := fmt.Sprintf("%%t%d", b.tempCount)
	b.tempCount++
	return t
}

func slotName(name string) string { return "%v_" + name }

func (b *qbeBackend) instr(format string, args ...interface{}) {
	if b.terminated {
		// QBE wants every instruction inside a block
		fmt.Fprintf(b.out, "@dead.%d\n", b.labelSeq)
		b.labelSeq++
		b.terminated = false
	}
	b.out.WriteString("\t")
	fmt.Fprintf(b.out, format, args...)
	b.out.WriteByte('\n')
}

func (b *qbeBackend) jump(format string, args ...interface{}) {
	b.instr(format, args...)
	b.terminated = true
}

func (b *qbeBackend) label(name string, seq int) {
	fmt.Fprintf(b.out, "@%s.%d\n", name, seq)
	b.terminated = false
}

func (b *qbeBackend) genFunc() {
	b.out.WriteString("export function l $main() {\n@start\n")
	for _, sym := range b.prog.Scope.Symbols() {
		b.instr("%s =l alloc8 8", slotName(sym.Name))
	}
	b.instr("%%res =l copy 0")

	for i, stmt := range b.prog.Stmts {
		mode := discard
		if i == len(b.prog.Stmts)-1 {
			mode = keep
		}
		b.genStmt(stmt, mode)
	}
	b.jump("ret %%res")
	b.out.WriteString("}\n")
}

func (b *qbeBackend) genStmt(r ast.Ref, mode valueMode) {
	node := b.tree.Node(r)
	switch d := node.Data.(type) {
	case ast.ReturnNode:
		val := b.genExpr(d.Value)
		b.jump("ret %s", val)

	case ast.IfNode:
		seq := b.nextLabel()
		cond := b.genCond(d.Cond)
		b.jump("jnz %s, @then.%d, @else.%d", cond, seq, seq)
		b.label("then", seq)
		b.genStmt(d.Then, mode)
		b.jump("jmp @end.%d", seq)
		b.label("else", seq)
		if d.Else != ast.Nil {
			b.genStmt(d.Else, mode)
		} else if mode == keep {
			b.instr("%%res =l copy 0")
		}
		b.label("end", seq)

	case ast.WhileNode:
		seq := b.nextLabel()
		b.label("begin", seq)
		cond := b.genCond(d.Cond)
		b.jump("jnz %s, @body.%d, @end.%d", cond, seq, seq)
		b.label("body", seq)
		b.genStmt(d.Body, discard)
		b.jump("jmp @begin.%d", seq)
		b.label("end", seq)
		if mode == keep {
			b.instr("%%res =l copy 0")
		}

	case ast.ForNode:
		seq := b.nextLabel()
		b.genStmt(d.Init, discard)
		b.label("begin", seq)
		cond := b.genCond(d.Cond)
		b.jump("jnz %s, @body.%d, @end.%d", cond, seq, seq)
		b.label("body", seq)
		b.genStmt(d.Body, discard)
		b.genStmt(d.Step, discard)
		b.jump("jmp @begin.%d", seq)
		b.label("end", seq)
		if mode == keep {
			b.instr("%%res =l copy 0")
		}

	case ast.BlockNode:
		if len(d.Stmts) == 0 && mode == keep {
			b.instr("%%res =l copy 0")
		}
		for i, stmt := range d.Stmts {
			m := discard
			if i == len(d.Stmts)-1 {
				m = mode
			}
			b.genStmt(stmt, m)
		}

	default:
		val := b.genExpr(r)
		if mode == keep {
			b.instr("%%res =l copy %s", val)
		}
	}
}

// genCond reduces cond to a word for jnz, which only tests the low 32 bits.
func (b *qbeBackend) genCond(cond ast.Ref) string {
	val := b.genExpr(cond)
	res := b.newTemp()
	b.instr("%s =w cnel %s, 0", res, val)
	return res
}

func (b *qbeBackend) nextLabel() int {
	seq := b.labelSeq
	b.labelSeq++
	return seq
}

var qbeOps = map[ast.BinOp]string{
	ast.Add: "add",
	ast.Sub: "sub",
	ast.Mul: "mul",
	ast.Div: "div",
	ast.Eq:  "ceql",
	ast.Ne:  "cnel",
	ast.Lt:  "csltl",
	ast.Le:  "cslel",
	ast.Gt:  "csgtl",
	ast.Ge:  "csgel",
}

func (b *qbeBackend) genExpr(r ast.Ref) string {
	node := b.tree.Node(r)
	switch d := node.Data.(type) {
	case ast.NumberNode:
		return fmt.Sprint(d.Value)

	case ast.LocalVarNode:
		res := b.newTemp()
		b.instr("%s =l loadl %s", res, slotName(d.Name))
		return res

	case ast.AssignNode:
		target, ok := b.tree.Node(d.Target).Data.(ast.LocalVarNode)
		if !ok {
			fault(node.Tok, "%s is not assignable", b.tree.Node(d.Target).Type)
		}
		val := b.genExpr(d.Value)
		b.instr("storel %s, %s", val, slotName(target.Name))
		return val

	case ast.CallNode:
		res := b.newTemp()
		b.instr("%s =l call $%s()", res, d.Name)
		return res

	case ast.BinaryOpNode:
		op, ok := qbeOps[d.Op]
		if !ok {
			fault(node.Tok, "unknown binary operator %d", int(d.Op))
		}
		l := b.genExpr(d.Left)
		rv := b.genExpr(d.Right)
		res := b.newTemp()
		b.instr("%s =l %s %s, %s", res, op, l, rv)
		return res
	}
	fault(node.Tok, "unexpected %s node in expression", node.Type)
	return ""
}
