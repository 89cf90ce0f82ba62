package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/plexsphere/cnwall/internal/system"
	"github.com/plexsphere/cnwall/internal/system/systemtest"
)

// fakeRunner records every command line and answers from a table of
// command-line prefixes.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	inputs  []string
	replies map[string]system.Result
	fail    map[string]bool
}

func (r *fakeRunner) Run(name string, args ...string) (system.Result, error) {
	return r.RunInput("", name, args...)
}

func (r *fakeRunner) RunInput(input string, name string, args ...string) (system.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	line := strings.Join(append([]string{name}, args...), " ")
	r.calls = append(r.calls, line)
	if input != "" {
		r.inputs = append(r.inputs, input)
	}
	for prefix, res := range r.replies {
		if strings.HasPrefix(line, prefix) {
			if r.fail[prefix] {
				return res, errors.New(res.Stderr)
			}
			return res, nil
		}
	}
	return system.Result{}, nil
}

func (r *fakeRunner) called(prefix string) bool {
	for _, c := range r.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// withFakes swaps the runner and prober for the duration of a test.
func withFakes(t *testing.T, tools ...string) *fakeRunner {
	t.Helper()
	r := &fakeRunner{replies: map[string]system.Result{}, fail: map[string]bool{}}
	prober := systemtest.StaticProber{}
	for _, tool := range tools {
		prober[tool] = true
	}

	origRunner, origProber := newRunner, newProber
	newRunner = func() system.Runner { return r }
	newProber = func() system.Prober { return prober }
	t.Cleanup(func() {
		newRunner, newProber = origRunner, origProber
	})
	return r
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	resetFlags(rootCmd)
	err := rootCmd.Execute()
	return buf.String(), err
}

// resetFlags restores every flag of c and its subcommands to its default,
// since cobra keeps parsed values between Execute calls.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}
