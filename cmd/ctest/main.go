// ctest compiles every test program with cinc, runs the binaries and
// compares what they do against the recorded .<file>.json goldens.
package main

import (
	"errors"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/xplshn/cinc/pkg/cli"
)

type options struct {
	compiler       string
	compilerArgs   []string
	generateGolden string
	testFiles      []string
	skipFiles      []string
	outputJSON     string
	jsonDir        string
	timeout        time.Duration
	jobs           int
	verbose        bool
}

const (
	cRed    = "\x1b[91m"
	cYellow = "\x1b[93m"
	cGreen  = "\x1b[92m"
	cCyan   = "\x1b[96m"
	cBold   = "\x1b[1m"
	cNone   = "\x1b[0m"
)

func main() {
	log.SetFlags(0)

	app := cli.NewApp("ctest")
	app.Synopsis = "[options]"
	app.Description = "Golden-file test runner for cinc. Each test program is compiled, executed, and checked against its recorded exit status and output."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/cinc>"

	var (
		opts    options
		timeout string
		jobs    string
	)
	fs := app.FlagSet
	fs.String(&opts.compiler, "compiler", "c", "./cinc", "Path to the compiler under test.", "path")
	fs.List(&opts.compilerArgs, "compiler-arg", "C", []string{}, "Pass an extra argument to the compiler.", "arg")
	fs.String(&opts.generateGolden, "generate-golden", "g", "", "Record a golden .json file for <file> and exit.", "file")
	fs.List(&opts.testFiles, "test-files", "f", []string{}, "Glob pattern for files to test (default tests/*.c).", "glob")
	fs.List(&opts.skipFiles, "skip-files", "s", []string{}, "Skip <file>.", "file")
	fs.String(&opts.outputJSON, "output", "o", ".test_results.json", "Write the JSON report to <file>.", "file")
	fs.String(&opts.jsonDir, "dir", "", "", "Directory for golden files (defaults to the source file's directory).", "dir")
	fs.String(&timeout, "timeout", "", "5s", "Timeout for each compile and run.", "duration")
	fs.String(&jobs, "jobs", "j", "4", "Number of parallel test jobs.", "n")
	fs.Bool(&opts.verbose, "verbose", "v", false, "Log every compile and run.")

	app.Action = func(args []string) error {
		var err error
		if opts.timeout, err = time.ParseDuration(timeout); err != nil {
			return err
		}
		if opts.jobs, err = parseJobs(jobs); err != nil {
			return err
		}

		if len(opts.testFiles) == 0 {
			opts.testFiles = []string{"tests/*.c"}
		}

		tempDir, err := os.MkdirTemp("", "ctest-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tempDir)
		setupInterruptHandler(tempDir)

		r := &runner{opts: opts, tempDir: tempDir}
		if opts.generateGolden != "" {
			return r.generateGolden(opts.generateGolden)
		}

		results, err := r.runSuite()
		if err != nil {
			return err
		}
		printSummary(results)
		writeJSONReport(results, opts)
		if hasFailures(results) {
			return errFailures
		}
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		if errors.Is(err, cli.ErrHelp) {
			return
		}
		if !errors.Is(err, errFailures) {
			log.Printf("%s[ERROR]%s %v\n", cRed, cNone, err)
		}
		os.Exit(1)
	}
}

var errFailures = errors.New("test failures")

func setupInterruptHandler(tempDir string) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		os.RemoveAll(tempDir)
		log.Printf("\n%s[INTERRUPT]%s Test run cancelled. Cleaning up...\n", cYellow, cNone)
		os.Exit(1)
	}()
}
