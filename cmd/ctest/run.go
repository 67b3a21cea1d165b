package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
)

// Expectation is what a golden file records about one test program.
type Expectation struct {
	CompileFails bool   `json:"compileFails"`
	ExitCode     int    `json:"exitCode"`
	Stdout       string `json:"stdout"`
}

type Execution struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

type Observation struct {
	Compile Execution  `json:"compile"`
	Run     *Execution `json:"run,omitempty"`
}

// Expectation reduces the observation to the fields a golden file keeps.
func (o *Observation) Expectation() Expectation {
	if o.Run == nil {
		return Expectation{CompileFails: true}
	}
	return Expectation{ExitCode: o.Run.ExitCode, Stdout: o.Run.Stdout}
}

type FileTestResult struct {
	File     string       `json:"file"`
	Status   string       `json:"status"` // PASS, FAIL, SKIP, ERROR
	Message  string       `json:"message,omitempty"`
	Diff     string       `json:"diff,omitempty"`
	Expected *Expectation `json:"expected,omitempty"`
	Got      *Observation `json:"got,omitempty"`
}

type runner struct {
	opts    options
	tempDir string
}

func parseJobs(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid job count '%s': %w", s, err)
	}
	if n < 1 {
		n = 1
	}
	return n, nil
}

func getJSONPath(sourceFile, jsonDir string) string {
	jsonFileName := "." + filepath.Base(sourceFile) + ".json"
	if jsonDir != "" {
		return filepath.Join(jsonDir, jsonFileName)
	}
	return filepath.Join(filepath.Dir(sourceFile), jsonFileName)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum64()), nil
}

func (r *runner) generateGolden(sourceFile string) error {
	log.Printf("Generating golden file for %s...\n", sourceFile)
	fileHash, err := hashFile(sourceFile)
	if err != nil {
		return fmt.Errorf("could not hash %s: %w", sourceFile, err)
	}
	obs := r.compileAndRun(sourceFile, fileHash)
	if obs.Run != nil && obs.Run.TimedOut {
		return fmt.Errorf("%s timed out; refusing to record it", sourceFile)
	}

	jsonData, err := json.MarshalIndent(obs.Expectation(), "", "  ")
	if err != nil {
		return err
	}
	if r.opts.jsonDir != "" {
		if err := os.MkdirAll(r.opts.jsonDir, 0o755); err != nil {
			return err
		}
	}
	goldenFile := getJSONPath(sourceFile, r.opts.jsonDir)
	if err := os.WriteFile(goldenFile, append(jsonData, '\n'), 0o644); err != nil {
		return err
	}
	log.Printf("%s[SUCCESS]%s Golden file created at %s\n", cGreen, cNone, goldenFile)
	return nil
}

func (r *runner) runSuite() ([]*FileTestResult, error) {
	files, err := expandGlobPatterns(r.opts.testFiles)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.New("no test files found matching the pattern(s)")
	}

	skipList := make(map[string]bool)
	for _, f := range r.opts.skipFiles {
		if abs, err := filepath.Abs(f); err == nil {
			skipList[abs] = true
		}
	}

	type task struct{ file, hash string }
	tasks := make(chan task, len(files))
	resultsChan := make(chan *FileTestResult, len(files))
	var wg sync.WaitGroup

	for i := 0; i < r.opts.jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				resultsChan <- r.testFile(t.file, t.hash)
			}
		}()
	}

	// identical files are only compiled once
	seenHashes := make(map[string]string)
	for _, file := range files {
		if skipList[file] {
			resultsChan <- &FileTestResult{File: file, Status: "SKIP", Message: "Explicitly skipped"}
			continue
		}
		fileHash, err := hashFile(file)
		if err != nil {
			resultsChan <- &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Failed to read file for hashing: %v", err)}
			continue
		}
		if originalFile, seen := seenHashes[fileHash]; seen {
			resultsChan <- &FileTestResult{File: file, Status: "SKIP", Message: fmt.Sprintf("Content is identical to %s", originalFile)}
			continue
		}
		seenHashes[fileHash] = file
		tasks <- task{file, fileHash}
	}
	close(tasks)

	wg.Wait()
	close(resultsChan)

	var results []*FileTestResult
	for result := range resultsChan {
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].File < results[j].File })
	return results, nil
}

func (r *runner) testFile(file, fileHash string) *FileTestResult {
	goldenFile := getJSONPath(file, r.opts.jsonDir)
	goldenData, err := os.ReadFile(goldenFile)
	if errors.Is(err, os.ErrNotExist) {
		return &FileTestResult{File: file, Status: "SKIP", Message: "No golden file; record one with --generate-golden"}
	}
	if err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Could not read golden file %s: %v", goldenFile, err)}
	}
	var expected Expectation
	if err := json.Unmarshal(goldenData, &expected); err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Could not parse golden file %s: %v", goldenFile, err)}
	}

	obs := r.compileAndRun(file, fileHash)
	return compareResults(file, expected, obs)
}

func compareResults(file string, expected Expectation, obs *Observation) *FileTestResult {
	result := &FileTestResult{File: file, Expected: &expected, Got: obs}
	switch {
	case obs.Run != nil && obs.Run.TimedOut:
		result.Status, result.Message = "FAIL", "Binary timed out"
	case obs.Compile.TimedOut:
		result.Status, result.Message = "FAIL", "Compiler timed out"
	case expected.CompileFails && obs.Run == nil:
		result.Status, result.Message = "PASS", "Compilation failed as expected"
	case expected.CompileFails:
		result.Status, result.Message = "FAIL", "Compilation succeeded, but the golden file expects it to fail"
	case obs.Run == nil:
		result.Status, result.Message = "FAIL", "Compilation failed, but the golden file expects success"
		result.Diff = fmt.Sprintf("Compiler STDERR:\n%s", obs.Compile.Stderr)
	default:
		if diff := cmp.Diff(expected, obs.Expectation()); diff != "" {
			result.Status, result.Message, result.Diff = "FAIL", "Runtime output or exit code mismatch", diff
		} else {
			result.Status, result.Message = "PASS", "Exit code and output match"
		}
	}
	return result
}

// executeCommand runs a command under ctx and captures its output.
func executeCommand(ctx context.Context, command string, args ...string) Execution {
	startTime := time.Now()
	cmd := exec.CommandContext(ctx, command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	execResult := Execution{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(startTime),
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		execResult.TimedOut = true
		execResult.ExitCode = -1
	case errors.As(err, &exitErr):
		execResult.ExitCode = exitErr.ExitCode()
	case err != nil:
		execResult.ExitCode = -2
		execResult.Stderr += "\nExecution error: " + err.Error()
	}
	return execResult
}

func (r *runner) compileAndRun(sourceFile, binaryHash string) *Observation {
	binaryPath := filepath.Join(r.tempDir, binaryHash)

	args := []string{"-b", "-o", binaryPath}
	args = append(args, r.opts.compilerArgs...)
	args = append(args, sourceFile)

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.timeout)
	defer cancel()
	obs := &Observation{Compile: executeCommand(ctx, r.opts.compiler, args...)}
	if r.opts.verbose {
		log.Printf("[%s] compiled in %s (exit %d)\n", sourceFile, obs.Compile.Duration, obs.Compile.ExitCode)
	}
	if obs.Compile.ExitCode != 0 || obs.Compile.TimedOut {
		return obs
	}
	if _, err := os.Stat(binaryPath); err != nil {
		obs.Compile.ExitCode = -2
		obs.Compile.Stderr += fmt.Sprintf("\ncompilation succeeded but binary was not created at %s", binaryPath)
		return obs
	}

	runCtx, runCancel := context.WithTimeout(context.Background(), r.opts.timeout)
	defer runCancel()
	run := executeCommand(runCtx, binaryPath)
	obs.Run = &run
	if r.opts.verbose {
		log.Printf("[%s] ran in %s (exit %d)\n", sourceFile, run.Duration, run.ExitCode)
	}
	return obs
}

func expandGlobPatterns(patterns []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]bool)
	for _, pattern := range patterns {
		files, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %s: %w", pattern, err)
		}
		for _, file := range files {
			absFile, err := filepath.Abs(file)
			if err != nil || seen[absFile] {
				continue
			}
			if info, err := os.Stat(absFile); err == nil && info.Mode().IsRegular() {
				allFiles = append(allFiles, absFile)
				seen[absFile] = true
			}
		}
	}
	return allFiles, nil
}
