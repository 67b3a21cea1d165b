package util

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xplshn/cinc/pkg/config"
	"github.com/xplshn/cinc/pkg/token"
	"golang.org/x/term"
)

type ErrorKind int

const (
	LexError ErrorKind = iota
	ParseError
	GeneratorFault
)

func (k ErrorKind) String() string {
	switch k {
	case LexError:
		return "lex error"
	case ParseError:
		return "parse error"
	case GeneratorFault:
		return "internal compiler error"
	}
	return "error"
}

// ErrGeneratorFault matches every GeneratorFault with errors.Is. A fault means
// the parser and a backend disagree about the AST; it is never the user's fault.
var ErrGeneratorFault = errors.New("generator fault")

// Error is a positioned pipeline failure. Offset and Len locate the offending
// bytes in the source buffer.
type Error struct {
	Kind   ErrorKind
	Offset int
	Len    int
	Msg    string
}

func (e *Error) Error() string { return fmt.Sprintf("%s at offset %d: %s", e.Kind, e.Offset, e.Msg) }

func (e *Error) Is(target error) bool {
	return target == ErrGeneratorFault && e.Kind == GeneratorFault
}

// NewError builds an error located at tok.
func NewError(kind ErrorKind, tok token.Token, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Offset: tok.Offset, Len: tok.Len, Msg: fmt.Sprintf(format, args...)}
}

// SourceFile is the single translation unit being compiled.
type SourceFile struct {
	Name    string
	Content []byte
}

// Position converts a byte offset into a 1-based line and column.
func (f SourceFile) Position(offset int) (line, col int) {
	line, col = 1, 1
	for i := 0; i < offset && i < len(f.Content); i++ {
		if f.Content[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

// Reporter prints errors and warnings against one source file.
type Reporter struct {
	Out      io.Writer
	File     SourceFile
	Cfg      *config.Config
	Color    bool
	Warnings []string
}

// NewReporter writes to out, using colour only when out is a terminal.
func NewReporter(out io.Writer, file SourceFile, cfg *config.Config) *Reporter {
	r := &Reporter{Out: out, File: file, Cfg: cfg}
	if f, ok := out.(*os.File); ok {
		r.Color = term.IsTerminal(int(f.Fd()))
	}
	return r
}

func (r *Reporter) paint(code, s string) string {
	if !r.Color {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// printErrorLine prints the source line holding offset and a caret under it,
// extended with '~' for the rest of the span.
func (r *Reporter) printErrorLine(offset, length int) {
	content := r.File.Content
	if offset < 0 || offset > len(content) {
		return
	}
	lineStart := offset
	for lineStart > 0 && content[lineStart-1] != '\n' {
		lineStart--
	}
	lineEnd := offset
	for lineEnd < len(content) && content[lineEnd] != '\n' {
		lineEnd++
	}

	fmt.Fprintf(r.Out, "  %s\n", string(content[lineStart:lineEnd]))

	// tabs keep their width so the caret lines up
	var pad strings.Builder
	for _, c := range content[lineStart:offset] {
		if c == '\t' {
			pad.WriteByte('\t')
		} else {
			pad.WriteByte(' ')
		}
	}
	marker := "^"
	if length > 1 && offset+length <= lineEnd {
		marker += strings.Repeat("~", length-1)
	}
	fmt.Fprintf(r.Out, "  %s%s\n", pad.String(), r.paint("32", marker))
}

// Error prints err. Positioned errors get the file:line:col prefix and the
// caret excerpt; anything else is printed as a bare message.
func (r *Reporter) Error(err error) {
	var e *Error
	if !errors.As(err, &e) {
		fmt.Fprintf(r.Out, "%s %v\n", r.paint("31", "error:"), err)
		return
	}
	line, col := r.File.Position(e.Offset)
	label := "error:"
	if e.Kind == GeneratorFault {
		label = "internal compiler error:"
	}
	fmt.Fprintf(r.Out, "%s:%d:%d: %s %s\n", r.File.Name, line, col, r.paint("31", label), e.Msg)
	r.printErrorLine(e.Offset, e.Len)
}

// Warn prints a warning at tok if wt is enabled. A nil Reporter drops it.
func (r *Reporter) Warn(wt config.Warning, tok token.Token, format string, args ...interface{}) {
	if r == nil || r.Cfg == nil || !r.Cfg.IsWarningEnabled(wt) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	r.Warnings = append(r.Warnings, msg)
	if r.Out == nil {
		return
	}
	line, col := r.File.Position(tok.Offset)
	fmt.Fprintf(r.Out, "%s:%d:%d: %s %s [-W%s]\n", r.File.Name, line, col, r.paint("33", "warning:"), msg, r.Cfg.Warnings[wt].Name)
	r.printErrorLine(tok.Offset, tok.Len)
}
