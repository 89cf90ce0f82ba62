// Package system wraps the external programs cnwall drives: it runs commands
// and reports whether a tool is installed.
package system

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Text returns stdout, or stderr when stdout is empty.
func (r Result) Text() string {
	if r.Stdout != "" {
		return r.Stdout
	}
	return r.Stderr
}

// Runner abstracts process execution for testability.
type Runner interface {
	// Run executes name with args and captures stdout and stderr.
	// A non-zero exit yields a populated Result and a non-nil error.
	Run(name string, args ...string) (Result, error)
	// RunInput is like Run but feeds input to the process on stdin.
	RunInput(input string, name string, args ...string) (Result, error)
}

// Prober reports whether an external tool can be executed.
type Prober interface {
	Available(name string) bool
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct{}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) Run(name string, args ...string) (Result, error) {
	return r.run(exec.Command(name, args...))
}

func (r *ExecRunner) RunInput(input string, name string, args ...string) (Result, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdin = strings.NewReader(input)
	return r.run(cmd)
}

func (r *ExecRunner) run(cmd *exec.Cmd) (Result, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		return res, &CommandError{Args: cmd.Args, Stderr: strings.TrimSpace(res.Stderr), Err: err}
	}
	return res, nil
}

// CommandError carries the diagnostic text of a failed command.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	cmd := strings.Join(e.Args, " ")
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", cmd, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", cmd, e.Stderr, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// PathProber implements Prober with a PATH lookup.
type PathProber struct{}

// NewPathProber returns a Prober that checks PATH.
func NewPathProber() *PathProber {
	return &PathProber{}
}

func (PathProber) Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
