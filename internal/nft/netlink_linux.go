//go:build linux

package nft

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"github.com/google/nftables/userdata"
	"go4.org/netipx"
	"golang.org/x/sys/unix"
)

// NetlinkEngine implements Engine through the nftables netlink API. Each
// rule carries its nft-syntax text as a userdata comment so ListChain
// reports the same text contract as the CLI backend.
type NetlinkEngine struct {
	opts   []nftables.ConnOption
	logger *slog.Logger
}

var _ Engine = (*NetlinkEngine)(nil)

// NewNetlink returns a NetlinkEngine, or Unavailable when the kernel
// refuses an nftables connection (missing privileges or module).
func NewNetlink(logger *slog.Logger, opts ...nftables.ConnOption) Engine {
	e := &NetlinkEngine{opts: opts, logger: logger}
	conn, err := e.conn()
	if err == nil {
		_, err = conn.ListTablesOfFamily(nftables.TableFamilyINet)
	}
	if err != nil {
		logger.Warn("nftables netlink unavailable, rule engine disabled", "error", err)
		return Unavailable{}
	}
	return e
}

func (e *NetlinkEngine) conn() (*nftables.Conn, error) {
	return nftables.New(e.opts...)
}

func (e *NetlinkEngine) table() *nftables.Table {
	return &nftables.Table{Family: nftables.TableFamilyINet, Name: TableName}
}

func (e *NetlinkEngine) chain() *nftables.Chain {
	return &nftables.Chain{Name: ChainName, Table: e.table()}
}

func (e *NetlinkEngine) EnsureTableChainSet(priority int) error {
	conn, err := e.conn()
	if err != nil {
		return fmt.Errorf("nft: netlink: ensure table: %w", err)
	}

	table := conn.AddTable(e.table())
	policy := nftables.ChainPolicyAccept
	conn.AddChain(&nftables.Chain{
		Name:     ChainName,
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookPrerouting,
		Priority: nftables.ChainPriorityRef(nftables.ChainPriority(priority)),
		Policy:   &policy,
	})
	if err := conn.AddSet(&nftables.Set{
		Table:    table,
		Name:     SetName,
		KeyType:  nftables.TypeIPAddr,
		Interval: true,
	}, nil); err != nil {
		return fmt.Errorf("nft: netlink: ensure set: %w", err)
	}

	if err := conn.Flush(); err != nil {
		return fmt.Errorf("nft: netlink: ensure table, chain and set: %w", err)
	}
	e.logger.Debug("nftables table, chain and set ensured", "table", TableName, "priority", priority)
	return nil
}

func (e *NetlinkEngine) FlushSet() error {
	conn, err := e.conn()
	if err != nil {
		return fmt.Errorf("nft: netlink: flush set: %w", err)
	}
	conn.FlushSet(&nftables.Set{Table: e.table(), Name: SetName})
	if err := conn.Flush(); err != nil {
		return fmt.Errorf("nft: netlink: flush set: %w", err)
	}
	return nil
}

func (e *NetlinkEngine) AddElements(cidrs []string) error {
	if len(cidrs) == 0 {
		return nil
	}
	conn, err := e.conn()
	if err != nil {
		return fmt.Errorf("nft: netlink: add elements: %w", err)
	}
	set, err := conn.GetSetByName(e.table(), SetName)
	if err != nil {
		return fmt.Errorf("nft: netlink: add elements: get set: %w", err)
	}

	var errs []error
	for i, batch := range Chunk(cidrs, ElementBatchSize) {
		elems, err := intervalElements(batch)
		if err != nil {
			errs = append(errs, fmt.Errorf("nft: netlink: add elements batch %d: %w", i, err))
			continue
		}
		if err := conn.SetAddElements(set, elems); err != nil {
			errs = append(errs, fmt.Errorf("nft: netlink: add elements batch %d: %w", i, err))
			continue
		}
		if err := conn.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("nft: netlink: add elements batch %d: %w", i, err))
		}
	}
	e.logger.Debug("set elements added", "set", SetName, "count", len(cidrs), "failed_batches", len(errs))
	return errors.Join(errs...)
}

func (e *NetlinkEngine) AddAcceptRule(port int, proto, cidr string) error {
	return e.addRule(acceptRule(port, proto, cidr))
}

func (e *NetlinkEngine) AddDropCIDRRule(port int, proto, cidr string) error {
	return e.addRule(dropCIDRRule(port, proto, cidr))
}

func (e *NetlinkEngine) AddBlockRule(port int, proto string) error {
	return e.addRule(blockRule(port, proto))
}

func (e *NetlinkEngine) AddBlockNonChinaRule(port int, proto string) error {
	return e.addRule(blockNonChinaRule(port, proto))
}

func (e *NetlinkEngine) addRule(r Rule) error {
	exprs, err := buildRuleExprs(r)
	if err != nil {
		return fmt.Errorf("nft: netlink: add rule %q: %w", r.String(), err)
	}
	conn, err := e.conn()
	if err != nil {
		return fmt.Errorf("nft: netlink: add rule: %w", err)
	}
	conn.AddRule(&nftables.Rule{
		Table:    e.table(),
		Chain:    e.chain(),
		Exprs:    exprs,
		UserData: userdata.AppendString(nil, userdata.TypeComment, r.String()),
	})
	if err := conn.Flush(); err != nil {
		return fmt.Errorf("nft: netlink: add rule %q: %w", r.String(), err)
	}
	e.logger.Debug("rule added", "rule", r.String())
	return nil
}

// ListChain reports rules by their userdata comment. Rules not written by
// cnwall have no comment and are listed with empty text.
func (e *NetlinkEngine) ListChain() ([]ListedRule, error) {
	conn, err := e.conn()
	if err != nil {
		return nil, fmt.Errorf("nft: netlink: list chain: %w", err)
	}
	rules, err := conn.GetRules(e.table(), e.chain())
	if err != nil {
		return nil, fmt.Errorf("nft: netlink: list chain: %w", err)
	}
	listed := make([]ListedRule, 0, len(rules))
	for _, r := range rules {
		text, _ := userdata.GetString(r.UserData, userdata.TypeComment)
		listed = append(listed, ListedRule{Text: text, Handle: r.Handle})
	}
	return listed, nil
}

func (e *NetlinkEngine) DeleteRule(port int, proto, ref string) (int, error) {
	rules, err := e.ListChain()
	if err != nil {
		return 0, err
	}
	conn, err := e.conn()
	if err != nil {
		return 0, fmt.Errorf("nft: netlink: delete rule: %w", err)
	}
	deleted := 0
	for _, r := range rules {
		if !MatchRule(r.Text, port, proto, ref) {
			continue
		}
		if err := conn.DelRule(&nftables.Rule{Table: e.table(), Chain: e.chain(), Handle: r.Handle}); err != nil {
			return deleted, fmt.Errorf("nft: netlink: delete rule handle %d: %w", r.Handle, err)
		}
		if err := conn.Flush(); err != nil {
			return deleted, fmt.Errorf("nft: netlink: delete rule handle %d: %w", r.Handle, err)
		}
		e.logger.Debug("rule deleted", "rule", r.Text, "handle", r.Handle)
		deleted++
	}
	return deleted, nil
}

func (e *NetlinkEngine) CountSetElements() int {
	conn, err := e.conn()
	if err != nil {
		return 0
	}
	set, err := conn.GetSetByName(e.table(), SetName)
	if err != nil {
		return 0
	}
	elems, err := conn.GetSetElements(set)
	if err != nil {
		e.logger.Debug("get set elements failed, counting zero elements", "error", err)
		return 0
	}
	return countIntervalStarts(elems)
}

func (e *NetlinkEngine) FlushPolicyChain() error {
	conn, err := e.conn()
	if err != nil {
		return fmt.Errorf("nft: netlink: flush chain: %w", err)
	}
	conn.FlushChain(e.chain())
	if err := conn.Flush(); err != nil {
		return fmt.Errorf("nft: netlink: flush chain: %w", err)
	}
	return nil
}

// DeleteTable is idempotent: a missing table is not an error.
func (e *NetlinkEngine) DeleteTable() error {
	conn, err := e.conn()
	if err != nil {
		return fmt.Errorf("nft: netlink: delete table: %w", err)
	}
	exists, err := e.tableExists(conn)
	if err != nil {
		return fmt.Errorf("nft: netlink: delete table: %w", err)
	}
	if !exists {
		e.logger.Debug("nftables table not found, nothing to delete", "table", TableName)
		return nil
	}
	conn.DelTable(e.table())
	if err := conn.Flush(); err != nil {
		return fmt.Errorf("nft: netlink: delete table: %w", err)
	}
	return nil
}

func (e *NetlinkEngine) ListOurs() string {
	conn, err := e.conn()
	if err != nil {
		return err.Error()
	}
	exists, err := e.tableExists(conn)
	if err != nil {
		return err.Error()
	}
	if !exists {
		return fmt.Sprintf("table %s %s does not exist", Family, TableName)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "table %s %s {\n", Family, TableName)
	if chains, err := conn.ListChainsOfTableFamily(nftables.TableFamilyINet); err == nil {
		for _, ch := range chains {
			if ch.Table.Name != TableName || ch.Name != ChainName {
				continue
			}
			fmt.Fprintf(&b, "\tchain %s {\n", ch.Name)
			if ch.Priority != nil {
				fmt.Fprintf(&b, "\t\ttype filter hook prerouting priority %d; policy accept;\n", *ch.Priority)
			}
		}
	}
	rules, err := e.ListChain()
	if err != nil {
		fmt.Fprintf(&b, "\t\t# %v\n", err)
	}
	for _, r := range rules {
		fmt.Fprintf(&b, "\t\t%s # handle %d\n", r.Text, r.Handle)
	}
	fmt.Fprintf(&b, "\t}\n\tset %s {\n\t\ttype ipv4_addr\n\t\tflags interval\n\t\t# %d elements\n\t}\n}\n",
		SetName, e.CountSetElements())
	return b.String()
}

func (e *NetlinkEngine) tableExists(conn *nftables.Conn) (bool, error) {
	tables, err := conn.ListTablesOfFamily(nftables.TableFamilyINet)
	if err != nil {
		return false, err
	}
	for _, t := range tables {
		if t.Name == TableName {
			return true, nil
		}
	}
	return false, nil
}

// buildRuleExprs converts a Rule into match expressions, a counter and a verdict.
func buildRuleExprs(r Rule) ([]expr.Any, error) {
	proto, err := protocolNumber(r.Proto)
	if err != nil {
		return nil, err
	}
	if r.Port < 1 || r.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", r.Port)
	}

	exprs := []expr.Any{
		// meta nfproto ipv4
		&expr.Meta{Key: expr.MetaKeyNFPROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{unix.NFPROTO_IPV4}},
		// meta l4proto <proto>
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{proto}},
		// th dport <port>
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseTransportHeader,
			Offset:       2,
			Len:          2,
		},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: portBytes(uint16(r.Port))},
		// ip saddr
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseNetworkHeader,
			Offset:       12,
			Len:          4,
		},
	}

	if r.Source == SetRef {
		exprs = append(exprs, &expr.Lookup{
			SourceRegister: 1,
			SetName:        SetName,
			Invert:         r.Negate,
		})
	} else {
		match, err := prefixMatchExprs(r.Source, r.Negate)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, match...)
	}

	exprs = append(exprs, &expr.Counter{})
	switch r.Verdict {
	case VerdictAccept:
		exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictAccept})
	case VerdictDrop:
		exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictDrop})
	default:
		return nil, fmt.Errorf("unsupported verdict %q", r.Verdict)
	}
	return exprs, nil
}

// prefixMatchExprs compares the loaded source address against an IPv4
// prefix, masking first unless it is a single host.
func prefixMatchExprs(cidr string, negate bool) ([]expr.Any, error) {
	prefix, err := parseIPv4Prefix(cidr)
	if err != nil {
		return nil, err
	}
	op := expr.CmpOpEq
	if negate {
		op = expr.CmpOpNeq
	}
	addr := prefix.Addr().AsSlice()
	if prefix.Bits() == 32 {
		return []expr.Any{&expr.Cmp{Op: op, Register: 1, Data: addr}}, nil
	}
	return []expr.Any{
		&expr.Bitwise{
			SourceRegister: 1,
			DestRegister:   1,
			Len:            4,
			Mask:           []byte(net.CIDRMask(prefix.Bits(), 32)),
			Xor:            []byte{0x00, 0x00, 0x00, 0x00},
		},
		&expr.Cmp{Op: op, Register: 1, Data: addr},
	}, nil
}

// intervalElements converts CIDRs into the half-open [first, last+1)
// element pairs an interval set stores.
func intervalElements(cidrs []string) ([]nftables.SetElement, error) {
	elems := make([]nftables.SetElement, 0, 2*len(cidrs))
	for _, cidr := range cidrs {
		prefix, err := parseIPv4Prefix(cidr)
		if err != nil {
			return nil, err
		}
		first := prefix.Addr()
		end := netipx.PrefixLastIP(prefix).Next()
		elems = append(elems, nftables.SetElement{Key: first.AsSlice()})
		if !end.IsValid() {
			// 255.255.255.255 wraps around; the set end is then 0.0.0.0.
			end = netip.IPv4Unspecified()
		}
		elems = append(elems, nftables.SetElement{Key: end.AsSlice(), IntervalEnd: true})
	}
	return elems, nil
}

// countIntervalStarts counts the ranges of an interval set, skipping the
// interval-end markers.
func countIntervalStarts(elems []nftables.SetElement) int {
	n := 0
	for _, el := range elems {
		if !el.IntervalEnd {
			n++
		}
	}
	return n
}

func parseIPv4Prefix(cidr string) (netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
	}
	if !prefix.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("non-IPv4 CIDR %q", cidr)
	}
	return prefix.Masked(), nil
}

// protocolNumber maps a protocol string to its IP protocol number.
func protocolNumber(proto string) (byte, error) {
	switch proto {
	case "tcp":
		return unix.IPPROTO_TCP, nil
	case "udp":
		return unix.IPPROTO_UDP, nil
	default:
		return 0, fmt.Errorf("unsupported protocol %q", proto)
	}
}

// portBytes encodes a port number as 2 big-endian bytes for nftables matching.
func portBytes(port uint16) []byte {
	return []byte{byte(port >> 8), byte(port)}
}
