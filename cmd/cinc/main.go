package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/xplshn/cinc/pkg/cli"
	"github.com/xplshn/cinc/pkg/config"
	"github.com/xplshn/cinc/pkg/driver"
	"github.com/xplshn/cinc/pkg/util"
)

func main() {
	app := cli.NewApp("cinc")
	app.Synopsis = "[options] <input.c | -> | -e <source>"
	app.Description = "A compiler for a tiny C-like expression language. Emits x86-64 assembly for a stack machine, or hands the program to QBE."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/cinc>"

	var (
		outFile    string
		target     string
		evalSrc    string
		linkerArgs []string
		build      bool
		verbose    bool
		opts       driver.Options
	)

	fs := app.FlagSet
	fs.String(&outFile, "output", "o", "-", "Place the output into <file>. '-' is stdout; a.out when building.", "file")
	fs.String(&target, "target", "t", "amd64", "Set the backend and target ABI.", "backend/target")
	fs.String(&evalSrc, "eval", "e", "", "Compile <source> instead of reading a file.", "source")
	fs.Bool(&build, "build", "b", false, "Assemble and link an executable with cc.")
	fs.Bool(&verbose, "verbose", "v", false, "Print informational messages to stderr.")
	fs.Bool(&opts.DumpTokens, "dump-tokens", "", false, "Print the token stream and exit.")
	fs.Bool(&opts.DumpAST, "dump-ast", "", false, "Print the syntax tree and exit.")
	fs.Bool(&opts.DumpIR, "dump-ir", "d", false, "Print the backend's intermediate representation and exit.")
	fs.List(&linkerArgs, "linker-arg", "L", []string{}, "Pass an argument to the linker.", "arg")

	cfg := config.NewConfig()
	groups := cfg.SetupFlagGroups(fs)

	app.Action = func(args []string) error {
		if verbose {
			cfg.Info = os.Stderr
		}
		groups.Apply(cfg)

		file, err := readInput(args, evalSrc)
		if err != nil {
			reportAndExit(util.NewReporter(os.Stderr, file, cfg), err)
		}
		rep := util.NewReporter(os.Stderr, file, cfg)

		if err := cfg.SetTarget(runtime.GOOS, runtime.GOARCH, target); err != nil {
			reportAndExit(rep, err)
		}

		dumping := opts.DumpTokens || opts.DumpAST || opts.DumpIR
		var asm bytes.Buffer
		if err := driver.Compile(file, cfg, rep, opts, &asm); err != nil {
			reportAndExit(rep, err)
		}

		if build && !dumping {
			if outFile == "-" {
				outFile = "a.out"
			}
			if verbose {
				fmt.Fprintf(os.Stderr, "cinc: info: linking '%s'\n", outFile)
			}
			if err := driver.AssembleAndLink(outFile, asm.Bytes(), linkerArgs); err != nil {
				reportAndExit(rep, fmt.Errorf("assembler/linker failed: %w", err))
			}
			return nil
		}

		if err := writeOutput(outFile, asm.Bytes()); err != nil {
			reportAndExit(rep, err)
		}
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		if errors.Is(err, cli.ErrHelp) {
			return
		}
		os.Exit(1)
	}
}

func reportAndExit(rep *util.Reporter, err error) {
	rep.Error(err)
	os.Exit(1)
}

func readInput(args []string, evalSrc string) (util.SourceFile, error) {
	if evalSrc != "" {
		if len(args) > 0 {
			return util.SourceFile{Name: "<eval>"}, fmt.Errorf("-e cannot be combined with input files")
		}
		return util.SourceFile{Name: "<eval>", Content: []byte(evalSrc)}, nil
	}
	switch len(args) {
	case 0:
		return util.SourceFile{}, fmt.Errorf("no input file specified")
	case 1:
	default:
		return util.SourceFile{}, fmt.Errorf("expected one input file, got %d", len(args))
	}

	if args[0] == "-" {
		content, err := io.ReadAll(os.Stdin)
		return util.SourceFile{Name: "<stdin>", Content: content}, err
	}
	content, err := os.ReadFile(args[0])
	if err != nil {
		return util.SourceFile{Name: args[0]}, fmt.Errorf("could not read file '%s': %w", args[0], err)
	}
	return util.SourceFile{Name: args[0], Content: content}, nil
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("could not write '%s': %w", path, err)
	}
	return nil
}
