//go:build windows

package codegen

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"

	"github.com/xplshn/cinc/pkg/ast"
	"github.com/xplshn/cinc/pkg/config"
)

// Generate pipes the IL through a 'qbe' binary from PATH; libqbe does not
// build on Windows.
func (b *qbeBackend) Generate(prog *ast.Program, cfg *config.Config) (*bytes.Buffer, error) {
	qbePath, err := exec.LookPath("qbe")
	if err != nil {
		return nil, fmt.Errorf("the QBE backend needs 'qbe' in PATH on this platform: %w", err)
	}

	qbeIR, err := b.GenerateIR(prog, cfg)
	if err != nil {
		return nil, err
	}

	inputFile, err := os.CreateTemp("", "cinc-qbe-*.ssa")
	if err != nil {
		return nil, err
	}
	defer os.Remove(inputFile.Name())
	if _, err = inputFile.WriteString(qbeIR); err != nil {
		inputFile.Close()
		return nil, err
	}
	if err = inputFile.Close(); err != nil {
		return nil, err
	}

	var asmBuf, stderr bytes.Buffer
	cmd := exec.Command(qbePath, "-t", cfg.BackendTarget, inputFile.Name())
	cmd.Stdout = &asmBuf
	cmd.Stderr = &stderr
	if err = cmd.Run(); err != nil {
		return nil, fmt.Errorf("QBE compilation failed: %w\n%s\ngenerated IL:\n%s", err, stderr.String(), qbeIR)
	}
	return &asmBuf, nil
}
