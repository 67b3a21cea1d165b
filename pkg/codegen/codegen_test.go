package codegen

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/cinc/pkg/ast"
	"github.com/xplshn/cinc/pkg/config"
	"github.com/xplshn/cinc/pkg/lexer"
	"github.com/xplshn/cinc/pkg/parser"
	"github.com/xplshn/cinc/pkg/token"
	"github.com/xplshn/cinc/pkg/util"
)

func parseProgram(t *testing.T, cfg *config.Config, src string) *ast.Program {
	t.Helper()
	toks, err := lexer.Tokenize([]byte(src), cfg, nil)
	if err != nil {
		t.Fatalf("Tokenize(%q): %v", src, err)
	}
	prog, err := parser.NewParser(toks, []byte(src), cfg).Parse()
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	return prog
}

func genAMD64(t *testing.T, cfg *config.Config, src string) string {
	t.Helper()
	buf, err := NewAMD64Backend().Generate(parseProgram(t, cfg, src), cfg)
	if err != nil {
		t.Fatalf("Generate(%q): %v", src, err)
	}
	return buf.String()
}

// execute compiles src and runs it, checking that the frame is torn down,
// that loop heads always see the same rsp and that calls are aligned.
func execute(t *testing.T, cfg *config.Config, src string, calls map[string]func() int64) int64 {
	t.Helper()
	asm := genAMD64(t, cfg, src)
	m := newMachine(calls)
	got, err := m.run(asm)
	if err != nil {
		t.Fatalf("run(%q): %v\n%s", src, err, asm)
	}
	if m.regs["rsp"] != stackTop || m.regs["rbp"] != callerRBP {
		t.Errorf("run(%q): caller frame not restored: rsp=%#x rbp=%#x", src, m.regs["rsp"], m.regs["rbp"])
	}
	if len(m.misaligned) > 0 {
		t.Errorf("run(%q): misaligned calls:\n%s", src, strings.Join(m.misaligned, "\n"))
	}
	if bad := m.unbalancedLoops(); len(bad) > 0 {
		t.Errorf("run(%q): stack depth changes across loop iterations:\n%s", src, strings.Join(bad, "\n"))
	}
	return got
}

var evalTests = []struct {
	name string
	src  string
	want int64
}{
	{"precedence", "2+3*4;", 14},
	{"parens", "(2+3)*4;", 20},
	{"unary_minus", "-3+5;", 2},
	{"unary_plus", "+5;", 5},
	{"gt_true", "5>3;", 1},
	{"gt_false", "3>5;", 0},
	{"ge_equal", "3>=3;", 1},
	{"ge_false", "3>=4;", 0},
	{"lt", "2<1;", 0},
	{"le", "3<=3;", 1},
	{"eq", "1==1;", 1},
	{"ne", "1!=1;", 0},
	{"div", "10/3;", 3},
	{"div_truncates_toward_zero", "-7/2;", -3},
	{"sub_left_assoc", "10-3-2;", 5},
	{"variables", "a=3; b=a+2; b;", 5},
	{"chained_assign", "a=b=4; a+b;", 8},
	{"assign_value", "a=(b=2)+1; a*b;", 6},
	{"if_else_false", "if(0) 1; else 2;", 2},
	{"if_else_true", "if(1) 1; else 2;", 1},
	{"if_no_else_false", "if(0) 5;", 0},
	{"if_no_else_true", "if(1) 5;", 5},
	{"if_nonzero_is_true", "if(-1) 7; else 8;", 7},
	{"while", "i=0; while(i<10) i=i+1; i;", 10},
	{"while_value", "while(0) 1;", 0},
	{"for_sum", "s=0; for(i=1;i<=10;i=i+1) s=s+i; s;", 55},
	{"for_value", "for(i=0;i<3;i=i+1) 9;", 0},
	{"empty", "", 0},
	{"empty_block", "{}", 0},
	{"block_value", "{1; 2; 3;}", 3},
	{"nested_blocks", "{ a=1; { b=2; { a+b; } } }", 3},
	{"return", "return 7; 8;", 7},
	{"return_in_loop", "x=0; while(1) { x=x+1; if (x==5) return x*10; }", 50},
	{"return_in_taken_branch", "if (1) return 3; else 4;", 3},
	{"return_in_untaken_branch", "if (0) return 3; else 4;", 4},
	{"return_in_block", "{ return 6; }", 6},
	{"nested_if", "a=2; if (a==1) 10; else if (a==2) 20; else 30;", 20},
	{"fib", "a=0; b=1; for(i=0;i<50;i=i+1) { t=a+b; a=b; b=t; } a;", 12586269025},
	{"imm32_max", "2147483647;", 2147483647},
	{"movabs", "3000000000;", 3000000000},
	{"int64_max", "9223372036854775807;", 9223372036854775807},
	{"wide_product", "a = 3000000000 * 4; a;", 12000000000},
	{"negative_wide", "-3000000000;", -3000000000},
}

func TestAMD64Eval(t *testing.T) {
	for _, tt := range evalTests {
		t.Run(tt.name, func(t *testing.T) {
			if got := execute(t, config.NewConfig(), tt.src, nil); got != tt.want {
				t.Errorf("%q = %d, want %d", tt.src, got, tt.want)
			}
		})
	}
}

func TestAMD64EvalSharedEpilogue(t *testing.T) {
	cfg := config.NewConfig()
	cfg.SetFeature(config.FeatSharedEpilogue, true)
	for _, tt := range evalTests {
		t.Run(tt.name, func(t *testing.T) {
			if got := execute(t, cfg, tt.src, nil); got != tt.want {
				t.Errorf("%q = %d, want %d", tt.src, got, tt.want)
			}
		})
	}
}

func TestAMD64Listing(t *testing.T) {
	want := `.intel_syntax noprefix
.globl main
main:
  push rbp
  mov rbp, rsp
  sub rsp, 16
  push 2
  push 3
  push 4
  pop rdi
  pop rax
  imul rax, rdi
  push rax
  pop rdi
  pop rax
  add rax, rdi
  push rax
  pop rax
  mov rsp, rbp
  pop rbp
  ret
`
	if diff := cmp.Diff(want, genAMD64(t, config.NewConfig(), "2+3*4;")); diff != "" {
		t.Errorf("listing mismatch (-want +got):\n%s", diff)
	}
}

func TestAMD64Snippets(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{"assign", "a=1;", []string{
			"  mov rax, rbp", "  sub rax, 8", "  push rax", "  push 1",
			"  pop rdi", "  pop rax", "  mov [rax], rdi", "  push rdi",
		}},
		{"load", "a;", []string{"  mov rax, rbp", "  sub rax, 8", "  push rax", "  pop rax", "  mov rax, [rax]", "  push rax"}},
		{"gt_swaps", "1>2;", []string{"  cmp rdi, rax", "  setl al", "  movzb rax, al"}},
		{"ge_swaps", "1>=2;", []string{"  cmp rdi, rax", "  setle al", "  movzb rax, al"}},
		{"ne", "1!=2;", []string{"  cmp rax, rdi", "  setne al", "  movzb rax, al"}},
		{"div", "1/2;", []string{"  cqo", "  idiv rdi"}},
		{"movabs", "4294967296;", []string{"  movabs rax, 4294967296", "  push rax"}},
		{"if_else", "if (1) 2; else 3;", []string{
			"  pop rax", "  cmp rax, 0", "  je .Lelse0", "  push 2", "  jmp .Lend0", ".Lelse0:", "  push 3", ".Lend0:",
		}},
		{"while", "while (0) 1;", []string{".Lbegin0:", "  push 0", "  pop rax", "  cmp rax, 0", "  je .Lend0"}},
		{"discarded_statement", "1; 2;", []string{"  push 1", "  pop rax", "  push 2", "  pop rax"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asm := genAMD64(t, config.NewConfig(), tt.src)
			if !strings.Contains(asm, strings.Join(tt.want, "\n")+"\n") {
				t.Errorf("%q: listing does not contain\n%s\n\ngot:\n%s", tt.src, strings.Join(tt.want, "\n"), asm)
			}
		})
	}
}

func TestFrameSize(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"1;", "sub rsp, 16"},
		{"a=1;", "sub rsp, 16"},
		{"a=1; b=2;", "sub rsp, 32"},
		{"a=1; b=2; c=3;", "sub rsp, 32"},
		{"a=1; b=2; c=3; d=4;", "sub rsp, 48"},
	}
	for _, tt := range tests {
		lines := strings.Split(genAMD64(t, config.NewConfig(), tt.src), "\n")
		if got := strings.TrimSpace(lines[5]); got != tt.want {
			t.Errorf("%q: prologue line = %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestLabelsAreUnique(t *testing.T) {
	asm := genAMD64(t, config.NewConfig(), "if(1) 1; if(1) 2; else 3; while(0) 4; for(i=0;i<1;i=i+1) { if (i) 5; }")
	var labels []string
	for _, l := range strings.Split(asm, "\n") {
		if strings.HasPrefix(l, ".L") && strings.HasSuffix(l, ":") {
			labels = append(labels, l)
		}
	}
	want := []string{
		".Lelse0:", ".Lend0:",
		".Lelse1:", ".Lend1:",
		".Lbegin2:", ".Lend2:",
		".Lbegin3:", ".Lelse4:", ".Lend4:", ".Lend3:",
	}
	if diff := cmp.Diff(want, labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestReturnEpilogues(t *testing.T) {
	src := "if (1) return 1; return 2; 3;"
	count := func(asm, line string) int {
		n := 0
		for _, l := range strings.Split(asm, "\n") {
			if l == line {
				n++
			}
		}
		return n
	}

	inline := genAMD64(t, config.NewConfig(), src)
	if got := count(inline, "  ret"); got != 3 {
		t.Errorf("per-site epilogue: %d ret instructions, want 3\n%s", got, inline)
	}

	cfg := config.NewConfig()
	cfg.SetFeature(config.FeatSharedEpilogue, true)
	shared := genAMD64(t, cfg, src)
	if got := count(shared, "  ret"); got != 1 {
		t.Errorf("shared epilogue: %d ret instructions, want 1\n%s", got, shared)
	}
	if got := count(shared, "  jmp .Lreturn"); got != 2 {
		t.Errorf("shared epilogue: %d jumps to .Lreturn, want 2", got)
	}
	if got := count(shared, ".Lreturn:"); got != 1 {
		t.Errorf("shared epilogue: %d .Lreturn labels, want 1", got)
	}
}

func TestCalls(t *testing.T) {
	n := int64(0)
	calls := map[string]func() int64{
		"next": func() int64 { n++; return n },
		"ten":  func() int64 { return 10 },
	}
	tests := []struct {
		src  string
		want int64
	}{
		{"ten();", 10},
		{"1 + ten();", 11},
		{"1 + (2 + ten());", 13},
		{"x = ten(); x * 2;", 20},
		{"ten() * ten() - ten();", 90},
		{"i=0; s=0; while (i<3) { s = s + ten(); i = i + 1; } s;", 30},
	}
	for _, tt := range tests {
		if got := execute(t, config.NewConfig(), tt.src, calls); got != tt.want {
			t.Errorf("%q = %d, want %d", tt.src, got, tt.want)
		}
	}

	if got := execute(t, config.NewConfig(), "next() * 10 + next();", calls); got != 12 {
		t.Errorf("calls evaluated out of order: got %d, want 12", got)
	}
}

func TestCallAlignmentPadding(t *testing.T) {
	asm := genAMD64(t, config.NewConfig(), "1 + f();")
	if !strings.Contains(asm, "  sub rsp, 8\n  call f\n  add rsp, 8\n") {
		t.Errorf("call at odd depth is not padded:\n%s", asm)
	}
	asm = genAMD64(t, config.NewConfig(), "f();")
	if strings.Contains(asm, "sub rsp, 8") {
		t.Errorf("call at even depth is padded:\n%s", asm)
	}

	cfg := config.NewConfig()
	cfg.SetFeature(config.FeatAlignCalls, false)
	asm = genAMD64(t, cfg, "1 + f();")
	if strings.Contains(asm, "sub rsp, 8") {
		t.Errorf("padding emitted with -Fno-align-calls:\n%s", asm)
	}
	m := newMachine(map[string]func() int64{"f": func() int64 { return 1 }})
	if _, err := m.run(asm); err != nil {
		t.Fatal(err)
	}
	if len(m.misaligned) != 1 {
		t.Errorf("got %d misaligned calls without padding, want 1", len(m.misaligned))
	}
}

func TestLoopStackBalance(t *testing.T) {
	calls := map[string]func() int64{"f": func() int64 { return 2 }}
	m := newMachine(calls)
	asm := genAMD64(t, config.NewConfig(), "s=0; for(i=0;i<3;i=i+1) { s=s+f(); if (s) 1; } s;")
	got, err := m.run(asm)
	if err != nil || got != 6 {
		t.Fatalf("run = %d, %v, want 6", got, err)
	}
	frame := stackTop - 16 - 16
	want := map[string][]int64{".Lbegin0": {frame, frame, frame, frame}}
	if diff := cmp.Diff(want, m.loopRSP); diff != "" {
		t.Errorf("rsp at loop head (-want +got):\n%s", diff)
	}

	leaky := `.intel_syntax noprefix
.globl main
main:
  push rbp
  mov rbp, rsp
  mov rax, 0
.Lbegin0:
  cmp rax, 3
  je .Lend0
  push rax
  add rax, 1
  jmp .Lbegin0
.Lend0:
  mov rsp, rbp
  pop rbp
  ret
`
	m = newMachine(nil)
	if _, err := m.run(leaky); err != nil {
		t.Fatal(err)
	}
	if m.regs["rsp"] != stackTop {
		t.Fatalf("leaky listing did not restore rsp")
	}
	if diff := cmp.Diff([]int64{stackTop - 16, stackTop - 24, stackTop - 32, stackTop - 40}, m.loopRSP[".Lbegin0"]); diff != "" {
		t.Errorf("rsp at loop head (-want +got):\n%s", diff)
	}
	if len(m.unbalancedLoops()) != 1 {
		t.Errorf("push inside the loop went unnoticed")
	}
}

func TestOutputIsDeterministic(t *testing.T) {
	const src = `
sum = 0;
for (i = 1; i <= 10; i = i + 1) {
	if (i / 2 * 2 == i) sum = sum + i * i;
	else { j = i; while (j > 0) j = j - 3; sum = sum - j; }
}
if (sum != 0) return sum / (1 + f());
-sum;
`
	type run struct {
		toks []token.Token
		tree string
		asm  string
		ir   string
	}
	compile := func() run {
		cfg := config.NewConfig()
		toks, err := lexer.Tokenize([]byte(src), cfg, nil)
		if err != nil {
			t.Fatal(err)
		}
		prog, err := parser.NewParser(toks, []byte(src), cfg).Parse()
		if err != nil {
			t.Fatal(err)
		}
		var tree strings.Builder
		if err := ast.Fprint(&tree, prog); err != nil {
			t.Fatal(err)
		}
		asm, err := NewAMD64Backend().Generate(prog, cfg)
		if err != nil {
			t.Fatal(err)
		}
		ir, err := NewQBEBackend().(*qbeBackend).GenerateIR(prog, cfg)
		if err != nil {
			t.Fatal(err)
		}
		return run{toks, tree.String(), asm.String(), ir}
	}

	first, second := compile(), compile()
	if diff := cmp.Diff(first.toks, second.toks); diff != "" {
		t.Errorf("tokens differ between runs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.tree, second.tree); diff != "" {
		t.Errorf("AST differs between runs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.asm, second.asm); diff != "" {
		t.Errorf("assembly differs between runs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.ir, second.ir); diff != "" {
		t.Errorf("QBE IL differs between runs (-first +second):\n%s", diff)
	}
}

func handBuiltProgram(build func(tree *ast.Tree) []ast.Ref) *ast.Program {
	tree := ast.NewTree()
	return &ast.Program{Tree: tree, Scope: ast.NewScope(), Stmts: build(tree)}
}

func TestGeneratorFaults(t *testing.T) {
	tok := token.Token{}
	tests := []struct {
		name string
		prog *ast.Program
	}{
		{"unknown_operator", handBuiltProgram(func(tr *ast.Tree) []ast.Ref {
			return []ast.Ref{tr.NewBinaryOp(tok, ast.BinOp(99), tr.NewNumber(tok, 1), tr.NewNumber(tok, 2))}
		})},
		{"statement_in_expression", handBuiltProgram(func(tr *ast.Tree) []ast.Ref {
			return []ast.Ref{tr.NewBinaryOp(tok, ast.Add, tr.NewBlock(tok, nil), tr.NewNumber(tok, 2))}
		})},
		{"non_variable_target", handBuiltProgram(func(tr *ast.Tree) []ast.Ref {
			return []ast.Ref{tr.NewAssign(tok, tr.NewNumber(tok, 1), tr.NewNumber(tok, 2))}
		})},
		{"unknown_node_data", handBuiltProgram(func(tr *ast.Tree) []ast.Ref {
			r := tr.NewNumber(tok, 1)
			tr.Node(r).Data = struct{}{}
			return []ast.Ref{r}
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, b := range []Backend{NewAMD64Backend(), &qbeBackend{}} {
				var err error
				if q, ok := b.(*qbeBackend); ok {
					_, err = q.GenerateIR(tt.prog, config.NewConfig())
				} else {
					_, err = b.Generate(tt.prog, config.NewConfig())
				}
				if !errors.Is(err, util.ErrGeneratorFault) {
					t.Errorf("%s: err = %v, want a generator fault", b.Name(), err)
				}
				var e *util.Error
				if errors.As(err, &e) && e.Kind != util.GeneratorFault {
					t.Errorf("%s: kind = %v", b.Name(), e.Kind)
				}
			}
		})
	}
}

func TestSelectBackend(t *testing.T) {
	for _, name := range []string{"amd64", "qbe"} {
		b, err := SelectBackend(name)
		if err != nil {
			t.Fatalf("SelectBackend(%q): %v", name, err)
		}
		if b.Name() != name {
			t.Errorf("SelectBackend(%q).Name() = %q", name, b.Name())
		}
	}
	if _, err := SelectBackend("z80"); err == nil {
		t.Errorf("SelectBackend(\"z80\") succeeded")
	}
}
