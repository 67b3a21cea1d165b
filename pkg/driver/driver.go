// Package driver wires the compiler stages together: lexing, parsing,
// checking and code generation for one source file, and the final
// assemble-and-link step through the system C compiler.
package driver

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/xplshn/cinc/pkg/ast"
	"github.com/xplshn/cinc/pkg/checker"
	"github.com/xplshn/cinc/pkg/codegen"
	"github.com/xplshn/cinc/pkg/config"
	"github.com/xplshn/cinc/pkg/lexer"
	"github.com/xplshn/cinc/pkg/parser"
	"github.com/xplshn/cinc/pkg/token"
	"github.com/xplshn/cinc/pkg/util"
)

// Options selects an intermediate stage to dump instead of generating code.
// At most one should be set; the earliest stage wins.
type Options struct {
	DumpTokens bool
	DumpAST    bool
	DumpIR     bool
}

type irGenerator interface {
	GenerateIR(prog *ast.Program, cfg *config.Config) (string, error)
}

// Compile runs the pipeline over file and writes the selected output to w.
// Warnings go to rep; the first error stops the pipeline and is returned.
func Compile(file util.SourceFile, cfg *config.Config, rep *util.Reporter, opts Options, w io.Writer) error {
	toks, err := lexer.Tokenize(file.Content, cfg, rep)
	if err != nil {
		return err
	}
	if opts.DumpTokens {
		return dumpTokens(w, file.Content, toks)
	}

	prog, err := parser.NewParser(toks, file.Content, cfg).Parse()
	if err != nil {
		return err
	}
	checker.Check(prog, cfg, rep)
	if opts.DumpAST {
		return ast.Fprint(w, prog)
	}

	backend, err := codegen.SelectBackend(cfg.BackendName)
	if err != nil {
		return err
	}
	if opts.DumpIR {
		gen, ok := backend.(irGenerator)
		if !ok {
			return fmt.Errorf("the '%s' backend has no intermediate representation; use -t qbe", backend.Name())
		}
		ir, err := gen.GenerateIR(prog, cfg)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, ir)
		return err
	}

	out, err := backend.Generate(prog, cfg)
	if err != nil {
		return err
	}
	_, err = out.WriteTo(w)
	return err
}

func dumpTokens(w io.Writer, src []byte, toks []token.Token) error {
	for _, tok := range toks {
		var err error
		switch tok.Type {
		case token.EOF:
			_, err = fmt.Fprintf(w, "%d:%d\tEOF\n", tok.Line, tok.Column)
		case token.Number:
			_, err = fmt.Fprintf(w, "%d:%d\tNumber\t%d\n", tok.Line, tok.Column, tok.Val)
		case token.Ident:
			_, err = fmt.Fprintf(w, "%d:%d\tIdent\t%s\n", tok.Line, tok.Column, tok.Text(src))
		default:
			kind := "Punct"
			if tok.Type.IsKeyword() {
				kind = "Keyword"
			}
			_, err = fmt.Fprintf(w, "%d:%d\t%s\t%s\n", tok.Line, tok.Column, kind, tok.Text(src))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// AssembleAndLink turns asm into the executable outFile with the system
// C compiler. linkerArgs are appended to the cc command line.
func AssembleAndLink(outFile string, asm []byte, linkerArgs []string) error {
	asmFile, err := os.CreateTemp("", "cinc-main-*.s")
	if err != nil {
		return fmt.Errorf("failed to create temp file for asm: %w", err)
	}
	defer os.Remove(asmFile.Name())
	if _, err := asmFile.Write(asm); err != nil {
		asmFile.Close()
		return fmt.Errorf("failed to write to temp file for asm: %w", err)
	}
	if err := asmFile.Close(); err != nil {
		return err
	}

	// external calls are emitted without @PLT
	ccArgs := []string{"-no-pie", "-o", outFile, asmFile.Name()}
	ccArgs = append(ccArgs, linkerArgs...)

	cmd := exec.Command("cc", ccArgs...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("cc command failed: %w\nOutput:\n%s", err, string(output))
	}
	return nil
}
