package parser_test

import (
	"testing"

	"github.com/xplshn/cinc/pkg/config"
	"github.com/xplshn/cinc/pkg/lexer"
	"github.com/xplshn/cinc/pkg/parser"
)

// FuzzParse checks that arbitrary input never panics the lexer or parser.
func FuzzParse(f *testing.F) {
	seeds := []string{
		``,
		`2+3*4;`,
		`a=3; b=a+2; b;`,
		`if(0) 1; else 2;`,
		`for(i=0;i<10;i=i+1) { s = s + i; } return s;`,
		`while (x < 3) x = x + 1;`,
		`{ { { } } }`,
		`f();`,
		`((((1))));`,
		`1 = 2;`,
		`{`,
		`return`,
		`99999999999999999999999;`,
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, input string) {
		cfg := config.NewConfig()
		src := []byte(input)
		toks, err := lexer.Tokenize(src, cfg, nil)
		if err != nil {
			return
		}
		prog, err := parser.NewParser(toks, src, cfg).Parse()
		if err == nil && prog == nil {
			t.Fatalf("Parse(%q) returned neither a program nor an error", input)
		}
	})
}
