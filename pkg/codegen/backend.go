package codegen

import (
	"bytes"
	"fmt"

	"github.com/xplshn/cinc/pkg/ast"
	"github.com/xplshn/cinc/pkg/config"
	"github.com/xplshn/cinc/pkg/token"
	"github.com/xplshn/cinc/pkg/util"
)

// Backend is the interface that all code generation backends must implement.
type Backend interface {
	Name() string
	// Generate lowers a parsed program and produces the target assembly as a
	// byte buffer. A mismatch between the AST and the backend is reported as
	// a GeneratorFault.
	Generate(prog *ast.Program, cfg *config.Config) (*bytes.Buffer, error)
}

// SelectBackend returns the backend registered under name.
func SelectBackend(name string) (Backend, error) {
	switch name {
	case "amd64":
		return NewAMD64Backend(), nil
	case "qbe":
		return NewQBEBackend(), nil
	}
	return nil, fmt.Errorf("unknown backend '%s'", name)
}

type generatorFault struct{ err *util.Error }

func fault(tok token.Token, format string, args ...interface{}) {
	panic(generatorFault{util.NewError(util.GeneratorFault, tok, format, args...)})
}

// recoverFault turns a fault raised during generation into *err.
func recoverFault(err *error) {
	if r := recover(); r != nil {
		f, ok := r.(generatorFault)
		if !ok {
			panic(r)
		}
		*err = f.err
	}
}
