package nft

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/plexsphere/cnwall/internal/system"
)

// CLIEngine implements Engine by invoking the nft binary. Rule handles are
// recovered from `nft -a list chain` output, so the rule text format of
// nft is part of this type's contract.
type CLIEngine struct {
	runner system.Runner
	logger *slog.Logger
}

var _ Engine = (*CLIEngine)(nil)

// NewCLI returns a CLIEngine using runner.
func NewCLI(runner system.Runner, logger *slog.Logger) *CLIEngine {
	return &CLIEngine{runner: runner, logger: logger}
}

// EnsureTableChainSet issues `add table`, `add chain` and `add set`; nft
// treats adding an existing object as success.
func (e *CLIEngine) EnsureTableChainSet(priority int) error {
	if _, err := e.nft("add", "table", Family, TableName); err != nil {
		return fmt.Errorf("nft: ensure table: %w", err)
	}
	// "--" keeps a negative priority from being parsed as an nft option.
	if _, err := e.nft("--", "add", "chain", Family, TableName, ChainName,
		"{", "type", "filter", "hook", "prerouting", "priority", strconv.Itoa(priority), ";", "policy", "accept", ";", "}"); err != nil {
		return fmt.Errorf("nft: ensure chain: %w", err)
	}
	if _, err := e.nft("add", "set", Family, TableName, SetName,
		"{", "type", "ipv4_addr", ";", "flags", "interval", ";", "}"); err != nil {
		return fmt.Errorf("nft: ensure set: %w", err)
	}
	e.logger.Debug("nftables table, chain and set ensured", "table", TableName, "priority", priority)
	return nil
}

func (e *CLIEngine) FlushSet() error {
	if _, err := e.nft("flush", "set", Family, TableName, SetName); err != nil {
		return fmt.Errorf("nft: flush set: %w", err)
	}
	return nil
}

// AddElements issues every batch even when an earlier one is rejected; nft
// refuses a whole batch for one bad entry. Batch errors are returned joined.
func (e *CLIEngine) AddElements(cidrs []string) error {
	var errs []error
	for i, batch := range Chunk(cidrs, ElementBatchSize) {
		if _, err := e.nft("add", "element", Family, TableName, SetName, "{", strings.Join(batch, ", "), "}"); err != nil {
			e.logger.Warn("set element batch rejected", "set", SetName, "batch", i, "error", err)
			errs = append(errs, fmt.Errorf("nft: add elements batch %d: %w", i, err))
		}
	}
	if len(cidrs) > 0 {
		e.logger.Debug("set elements added", "set", SetName, "count", len(cidrs), "failed_batches", len(errs))
	}
	return errors.Join(errs...)
}

func (e *CLIEngine) AddAcceptRule(port int, proto, cidr string) error {
	return e.addRule(acceptRule(port, proto, cidr))
}

func (e *CLIEngine) AddDropCIDRRule(port int, proto, cidr string) error {
	return e.addRule(dropCIDRRule(port, proto, cidr))
}

func (e *CLIEngine) AddBlockRule(port int, proto string) error {
	return e.addRule(blockRule(port, proto))
}

func (e *CLIEngine) AddBlockNonChinaRule(port int, proto string) error {
	return e.addRule(blockNonChinaRule(port, proto))
}

func (e *CLIEngine) addRule(r Rule) error {
	args := append([]string{"add", "rule", Family, TableName, ChainName}, r.Tokens()...)
	if _, err := e.nft(args...); err != nil {
		return fmt.Errorf("nft: add rule %q: %w", r.String(), err)
	}
	e.logger.Debug("rule added", "rule", r.String())
	return nil
}

func (e *CLIEngine) ListChain() ([]ListedRule, error) {
	res, err := e.nft("-a", "list", "chain", Family, TableName, ChainName)
	if err != nil {
		return nil, fmt.Errorf("nft: list chain: %w", err)
	}
	return ParseChainListing(res.Stdout), nil
}

// DeleteRule deletes every matching rule by handle. On failure it returns
// the number deleted so far.
func (e *CLIEngine) DeleteRule(port int, proto, ref string) (int, error) {
	rules, err := e.ListChain()
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, r := range rules {
		if !MatchRule(r.Text, port, proto, ref) {
			continue
		}
		handle := strconv.FormatUint(r.Handle, 10)
		if _, err := e.nft("delete", "rule", Family, TableName, ChainName, "handle", handle); err != nil {
			return deleted, fmt.Errorf("nft: delete rule handle %s: %w", handle, err)
		}
		e.logger.Debug("rule deleted", "rule", r.Text, "handle", r.Handle)
		deleted++
	}
	return deleted, nil
}

func (e *CLIEngine) CountSetElements() int {
	res, err := e.nft("list", "set", Family, TableName, SetName)
	if err != nil {
		e.logger.Debug("list set failed, counting zero elements", "error", err)
		return 0
	}
	return CountElements(res.Stdout)
}

func (e *CLIEngine) FlushPolicyChain() error {
	if _, err := e.nft("flush", "chain", Family, TableName, ChainName); err != nil {
		return fmt.Errorf("nft: flush chain: %w", err)
	}
	return nil
}

// DeleteTable is idempotent: a missing table is not an error.
func (e *CLIEngine) DeleteTable() error {
	res, err := e.nft("delete", "table", Family, TableName)
	if err != nil {
		if isNotFound(res) {
			e.logger.Debug("nftables table not found, nothing to delete", "table", TableName)
			return nil
		}
		return fmt.Errorf("nft: delete table: %w", err)
	}
	return nil
}

func (e *CLIEngine) ListOurs() string {
	res, err := e.nft("list", "table", Family, TableName)
	if err != nil && isNotFound(res) {
		return fmt.Sprintf("table %s %s does not exist", Family, TableName)
	}
	return res.Text()
}

func (e *CLIEngine) nft(args ...string) (system.Result, error) {
	return e.runner.Run("nft", args...)
}

// isNotFound reports whether nft failed because the object does not exist.
func isNotFound(res system.Result) bool {
	return strings.Contains(res.Stderr, "No such file or directory")
}
