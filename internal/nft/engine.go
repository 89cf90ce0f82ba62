// Package nft drives the cnwall nftables table: one inet table holding a
// prerouting filter chain and the interval set of China IPv4 prefixes.
//
// Two backends implement Engine. The CLI backend shells out to the nft
// binary and reads rule handles back from its list output; the netlink
// backend talks to the kernel through google/nftables. When neither can be
// used, Unavailable turns every mutation into a no-op.
package nft

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/plexsphere/cnwall/internal/system"
)

// Object names owned by cnwall.
const (
	Family    = "inet"
	TableName = "cnwall"
	ChainName = "filter"
	SetName   = "cnwall_china"

	// SetRef is how rules reference the China set.
	SetRef = "@" + SetName
)

// Backend names accepted by New.
const (
	BackendCLI     = "nft"
	BackendNetlink = "netlink"
)

// ElementBatchSize caps the number of set elements per add operation.
const ElementBatchSize = 200

// NotInstalledMessage is returned by queries when nft cannot be used.
const NotInstalledMessage = "nft not installed"

// ListedRule is one rule of the cnwall chain as reported by the engine.
// Text uses nft list syntax (without the trailing handle comment).
type ListedRule struct {
	Text   string
	Handle uint64
}

// Engine is the rule-engine adapter. Every mutation is idempotent with
// respect to table, chain and set creation; rule additions append.
type Engine interface {
	// EnsureTableChainSet creates the table, the prerouting chain at the
	// given priority with an accept policy, and the China set.
	EnsureTableChainSet(priority int) error
	// FlushSet removes all elements from the China set.
	FlushSet() error
	// AddElements inserts CIDRs into the China set in batches of
	// ElementBatchSize, preserving order. An empty slice is a no-op.
	AddElements(cidrs []string) error
	// AddAcceptRule appends: port/proto from cidr -> counter accept.
	AddAcceptRule(port int, proto, cidr string) error
	// AddDropCIDRRule appends: port/proto from cidr -> counter drop.
	AddDropCIDRRule(port int, proto, cidr string) error
	// AddBlockRule appends: port/proto from the China set -> counter drop.
	AddBlockRule(port int, proto string) error
	// AddBlockNonChinaRule appends: port/proto from outside the China set
	// -> counter drop. With an empty set this drops every source.
	AddBlockNonChinaRule(port int, proto string) error
	// ListChain returns the chain's rules in order.
	ListChain() ([]ListedRule, error)
	// DeleteRule removes every rule matching MatchRule(text, port, proto, ref)
	// and returns how many were deleted.
	DeleteRule(port int, proto, ref string) (int, error)
	// CountSetElements returns the number of China set elements, or 0 when
	// the set cannot be read.
	CountSetElements() int
	// FlushPolicyChain removes all rules from the chain, keeping the set.
	FlushPolicyChain() error
	// DeleteTable removes the table with its chain, set and rules.
	DeleteTable() error
	// ListOurs returns a human-readable dump of the table.
	ListOurs() string
}

// New returns the Engine for backend. The CLI backend degrades to
// Unavailable when nft is not on PATH; the netlink backend degrades when
// the kernel connection is refused.
func New(backend string, runner system.Runner, prober system.Prober, logger *slog.Logger) Engine {
	logger = logger.With("component", "nft")
	if backend == BackendNetlink {
		return NewNetlink(logger)
	}
	if !prober.Available("nft") {
		logger.Debug("nft binary not found, rule engine disabled")
		return Unavailable{}
	}
	return NewCLI(runner, logger)
}

// Rule is a cnwall chain rule: IPv4 traffic to Port/Proto whose source
// matches Source gets Verdict. Source is a CIDR or SetRef; Negate inverts
// the source match.
type Rule struct {
	Port    int
	Proto   string
	Source  string
	Negate  bool
	Verdict string
}

// Verdicts used by cnwall rules.
const (
	VerdictAccept = "accept"
	VerdictDrop   = "drop"
)

// Tokens renders the rule in nft syntax, one token per element.
func (r Rule) Tokens() []string {
	tokens := []string{r.Proto, "dport", strconv.Itoa(r.Port), "ip", "saddr"}
	if r.Negate {
		tokens = append(tokens, "!=")
	}
	return append(tokens, r.Source, "counter", r.Verdict)
}

// String renders the rule as a single nft statement.
func (r Rule) String() string {
	return strings.Join(r.Tokens(), " ")
}

func acceptRule(port int, proto, cidr string) Rule {
	return Rule{Port: port, Proto: proto, Source: cidr, Verdict: VerdictAccept}
}

func dropCIDRRule(port int, proto, cidr string) Rule {
	return Rule{Port: port, Proto: proto, Source: cidr, Verdict: VerdictDrop}
}

func blockRule(port int, proto string) Rule {
	return Rule{Port: port, Proto: proto, Source: SetRef, Verdict: VerdictDrop}
}

func blockNonChinaRule(port int, proto string) Rule {
	return Rule{Port: port, Proto: proto, Source: SetRef, Negate: true, Verdict: VerdictDrop}
}
