package nft

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/plexsphere/cnwall/internal/system"
	"github.com/plexsphere/cnwall/internal/system/systemtest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ok(stdout string) system.Result {
	return system.Result{Stdout: stdout}
}

func newTestCLI() (*CLIEngine, *systemtest.MockRunner) {
	r := new(systemtest.MockRunner)
	return NewCLI(r, testLogger()), r
}

func TestCLIEngine_EnsureTableChainSet(t *testing.T) {
	e, r := newTestCLI()
	r.On("Run", "nft", "add", "table", "inet", "cnwall").Return(ok(""), nil).Once()
	r.On("Run", "nft", "--", "add", "chain", "inet", "cnwall", "filter",
		"{", "type", "filter", "hook", "prerouting", "priority", "-350", ";", "policy", "accept", ";", "}").
		Return(ok(""), nil).Once()
	r.On("Run", "nft", "add", "set", "inet", "cnwall", "cnwall_china",
		"{", "type", "ipv4_addr", ";", "flags", "interval", ";", "}").Return(ok(""), nil).Once()

	if err := e.EnsureTableChainSet(-350); err != nil {
		t.Fatalf("EnsureTableChainSet() error = %v", err)
	}
	r.AssertExpectations(t)
}

func TestCLIEngine_EnsureTableChainSetStopsOnError(t *testing.T) {
	e, r := newTestCLI()
	r.On("Run", "nft", "add", "table", "inet", "cnwall").
		Return(system.Result{Stderr: "Operation not permitted", ExitCode: 1}, errors.New("exit status 1")).Once()

	err := e.EnsureTableChainSet(-350)
	if err == nil {
		t.Fatal("EnsureTableChainSet() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "nft: ensure table") {
		t.Errorf("error = %q, want ensure table prefix", err)
	}
	r.AssertNumberOfCalls(t, "Run", 1)
}

func TestCLIEngine_AddElementsEmptyIsNoop(t *testing.T) {
	e, r := newTestCLI()

	if err := e.AddElements(nil); err != nil {
		t.Fatalf("AddElements(nil) error = %v", err)
	}
	if err := e.AddElements([]string{}); err != nil {
		t.Fatalf("AddElements([]) error = %v", err)
	}
	r.AssertNotCalled(t, "Run")
}

func TestCLIEngine_AddElementsBatches(t *testing.T) {
	e, r := newTestCLI()

	cidrs := make([]string, 250)
	for i := range cidrs {
		cidrs[i] = fmt.Sprintf("10.%d.%d.0/24", i/256, i%256)
	}
	first := strings.Join(cidrs[:200], ", ")
	second := strings.Join(cidrs[200:], ", ")

	r.On("Run", "nft", "add", "element", "inet", "cnwall", "cnwall_china", "{", first, "}").Return(ok(""), nil).Once()
	r.On("Run", "nft", "add", "element", "inet", "cnwall", "cnwall_china", "{", second, "}").Return(ok(""), nil).Once()

	if err := e.AddElements(cidrs); err != nil {
		t.Fatalf("AddElements() error = %v", err)
	}
	r.AssertExpectations(t)
	r.AssertNumberOfCalls(t, "Run", 2)

	if r.Calls[0].Arguments.Get(7) != first {
		t.Error("first batch was not issued first")
	}
}

func TestCLIEngine_AddElementsContinuesAfterRejectedBatch(t *testing.T) {
	e, r := newTestCLI()

	cidrs := make([]string, 250)
	for i := range cidrs {
		cidrs[i] = fmt.Sprintf("10.%d.%d.0/24", i/256, i%256)
	}
	cidrs[3] = "999.0.0.0/8"
	first := strings.Join(cidrs[:200], ", ")
	second := strings.Join(cidrs[200:], ", ")

	r.On("Run", "nft", "add", "element", "inet", "cnwall", "cnwall_china", "{", first, "}").
		Return(system.Result{Stderr: "Error: Could not resolve hostname", ExitCode: 1}, errors.New("exit status 1")).Once()
	r.On("Run", "nft", "add", "element", "inet", "cnwall", "cnwall_china", "{", second, "}").Return(ok(""), nil).Once()

	err := e.AddElements(cidrs)
	if err == nil {
		t.Fatal("AddElements() error = nil, want the rejected batch reported")
	}
	if !strings.Contains(err.Error(), "batch 0") {
		t.Errorf("error = %q, want batch 0", err)
	}
	if strings.Contains(err.Error(), "batch 1") {
		t.Errorf("error = %q, batch 1 succeeded", err)
	}
	r.AssertExpectations(t)
	r.AssertNumberOfCalls(t, "Run", 2)
}

func TestCLIEngine_Rules(t *testing.T) {
	base := []interface{}{"nft", "add", "rule", "inet", "cnwall", "filter"}
	with := func(tokens ...interface{}) []interface{} {
		return append(append([]interface{}{}, base...), tokens...)
	}

	e, r := newTestCLI()
	r.On("Run", with("tcp", "dport", "443", "ip", "saddr", "10.0.0.0/8", "counter", "accept")...).Return(ok(""), nil).Once()
	r.On("Run", with("tcp", "dport", "443", "ip", "saddr", "9.9.9.0/24", "counter", "drop")...).Return(ok(""), nil).Once()
	r.On("Run", with("udp", "dport", "53", "ip", "saddr", "@cnwall_china", "counter", "drop")...).Return(ok(""), nil).Once()
	r.On("Run", with("tcp", "dport", "22", "ip", "saddr", "!=", "@cnwall_china", "counter", "drop")...).Return(ok(""), nil).Once()

	if err := e.AddAcceptRule(443, "tcp", "10.0.0.0/8"); err != nil {
		t.Fatal(err)
	}
	if err := e.AddDropCIDRRule(443, "tcp", "9.9.9.0/24"); err != nil {
		t.Fatal(err)
	}
	if err := e.AddBlockRule(53, "udp"); err != nil {
		t.Fatal(err)
	}
	if err := e.AddBlockNonChinaRule(22, "tcp"); err != nil {
		t.Fatal(err)
	}
	r.AssertExpectations(t)
}

func TestCLIEngine_AddRuleSurfacesStderr(t *testing.T) {
	e, r := newTestCLI()
	cmdErr := &system.CommandError{
		Args:   []string{"nft", "add", "rule"},
		Stderr: "Error: Could not process rule: No such file or directory",
		Err:    errors.New("exit status 1"),
	}
	r.On("Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(system.Result{ExitCode: 1}, cmdErr)

	err := e.AddBlockRule(443, "tcp")
	if err == nil {
		t.Fatal("AddBlockRule() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "Could not process rule") {
		t.Errorf("error = %q, want raw nft diagnostic", err)
	}
}

func TestCLIEngine_DeleteRuleMatchesAll(t *testing.T) {
	e, r := newTestCLI()
	r.On("Run", "nft", "-a", "list", "chain", "inet", "cnwall", "filter").Return(ok(chainDump), nil).Once()
	r.On("Run", "nft", "delete", "rule", "inet", "cnwall", "filter", "handle", "5").Return(ok(""), nil).Once()
	r.On("Run", "nft", "delete", "rule", "inet", "cnwall", "filter", "handle", "9").Return(ok(""), nil).Once()

	n, err := e.DeleteRule(443, "tcp", SetRef)
	if err != nil {
		t.Fatalf("DeleteRule() error = %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteRule() = %d, want 2", n)
	}
	r.AssertExpectations(t)
	r.AssertNumberOfCalls(t, "Run", 3)
}

func TestCLIEngine_DeleteRuleHostCIDR(t *testing.T) {
	e, r := newTestCLI()
	dump := "table inet cnwall {\n\tchain filter {\n" +
		"\t\ttcp dport 22 ip saddr 1.2.3.4 counter packets 0 bytes 0 drop # handle 6\n" +
		"\t}\n}\n"
	r.On("Run", "nft", "-a", "list", "chain", "inet", "cnwall", "filter").Return(ok(dump), nil).Once()
	r.On("Run", "nft", "delete", "rule", "inet", "cnwall", "filter", "handle", "6").Return(ok(""), nil).Once()

	n, err := e.DeleteRule(22, "tcp", "1.2.3.4/32")
	if err != nil {
		t.Fatalf("DeleteRule() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteRule() = %d, want 1", n)
	}
	r.AssertExpectations(t)
}

func TestCLIEngine_DeleteRuleNoMatch(t *testing.T) {
	e, r := newTestCLI()
	r.On("Run", "nft", "-a", "list", "chain", "inet", "cnwall", "filter").Return(ok(chainDump), nil).Once()

	n, err := e.DeleteRule(8443, "tcp", SetRef)
	if err != nil {
		t.Fatalf("DeleteRule() error = %v", err)
	}
	if n != 0 {
		t.Errorf("DeleteRule() = %d, want 0", n)
	}
	r.AssertNumberOfCalls(t, "Run", 1)
}

func TestCLIEngine_CountSetElements(t *testing.T) {
	e, r := newTestCLI()
	r.On("Run", "nft", "list", "set", "inet", "cnwall", "cnwall_china").
		Return(ok("set cnwall_china {\n\telements = { 1.0.1.0/24, 1.0.2.0/23 }\n}\n"), nil).Once()

	if got := e.CountSetElements(); got != 2 {
		t.Errorf("CountSetElements() = %d, want 2", got)
	}
}

func TestCLIEngine_CountSetElementsOnError(t *testing.T) {
	e, r := newTestCLI()
	r.On("Run", "nft", "list", "set", "inet", "cnwall", "cnwall_china").
		Return(system.Result{Stderr: "No such file or directory", ExitCode: 1}, errors.New("exit status 1")).Once()

	if got := e.CountSetElements(); got != 0 {
		t.Errorf("CountSetElements() = %d, want 0", got)
	}
}

func TestCLIEngine_FlushPolicyChainAndSet(t *testing.T) {
	e, r := newTestCLI()
	r.On("Run", "nft", "flush", "chain", "inet", "cnwall", "filter").Return(ok(""), nil).Once()
	r.On("Run", "nft", "flush", "set", "inet", "cnwall", "cnwall_china").Return(ok(""), nil).Once()

	if err := e.FlushPolicyChain(); err != nil {
		t.Fatal(err)
	}
	if err := e.FlushSet(); err != nil {
		t.Fatal(err)
	}
	r.AssertExpectations(t)
}

func TestCLIEngine_DeleteTableIdempotent(t *testing.T) {
	e, r := newTestCLI()
	r.On("Run", "nft", "delete", "table", "inet", "cnwall").
		Return(system.Result{Stderr: "Error: No such file or directory", ExitCode: 1}, errors.New("exit status 1")).Once()

	if err := e.DeleteTable(); err != nil {
		t.Errorf("DeleteTable() error = %v, want nil for missing table", err)
	}
}

func TestCLIEngine_DeleteTableError(t *testing.T) {
	e, r := newTestCLI()
	r.On("Run", "nft", "delete", "table", "inet", "cnwall").
		Return(system.Result{Stderr: "Operation not permitted", ExitCode: 1}, errors.New("exit status 1")).Once()

	if err := e.DeleteTable(); err == nil {
		t.Error("DeleteTable() error = nil, want error")
	}
}

func TestCLIEngine_ListOurs(t *testing.T) {
	e, r := newTestCLI()
	r.On("Run", "nft", "list", "table", "inet", "cnwall").Return(ok("table inet cnwall {\n}\n"), nil).Once()

	if got := e.ListOurs(); got != "table inet cnwall {\n}\n" {
		t.Errorf("ListOurs() = %q", got)
	}
}

func TestCLIEngine_ListOursMissingTable(t *testing.T) {
	e, r := newTestCLI()
	r.On("Run", "nft", "list", "table", "inet", "cnwall").
		Return(system.Result{Stderr: "Error: No such file or directory", ExitCode: 1}, errors.New("exit status 1")).Once()

	if got := e.ListOurs(); got != "table inet cnwall does not exist" {
		t.Errorf("ListOurs() = %q", got)
	}
}
