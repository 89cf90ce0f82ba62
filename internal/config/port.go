package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Transport protocols a port policy may name.
const (
	ProtoTCP = "tcp"
	ProtoUDP = "udp"
)

// ChinaPolicy selects how the China address set is applied to a port.
type ChinaPolicy string

const (
	ChinaPolicyNone ChinaPolicy = "none"
	// BlockChina drops sources found in the China set.
	BlockChina ChinaPolicy = "block_china"
	// BlockNonChina drops sources not found in the China set.
	BlockNonChina ChinaPolicy = "block_non_china"
)

// UnmarshalYAML accepts the policy name or the legacy boolean form,
// where true means block_china.
func (p *ChinaPolicy) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!bool" {
		var b bool
		if err := value.Decode(&b); err != nil {
			return err
		}
		if b {
			*p = BlockChina
		} else {
			*p = ChinaPolicyNone
		}
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("china_policy: %w", err)
	}
	*p = ChinaPolicy(strings.TrimSpace(s))
	return nil
}

func (p ChinaPolicy) valid() bool {
	switch p {
	case "", ChinaPolicyNone, BlockChina, BlockNonChina:
		return true
	}
	return false
}

// PortPolicy is one port entry of the desired state.
type PortPolicy struct {
	Port int `yaml:"port"`

	// Protos lists the transport protocols. Empty means tcp.
	Protos []string `yaml:"protos,omitempty"`

	// Proto is the legacy single-protocol form of Protos.
	Proto string `yaml:"proto,omitempty"`

	// Open installs an allow rule for the port. Omitted means true.
	Open bool `yaml:"open"`

	// Container scopes the allow rule to a docker container.
	Container string `yaml:"container,omitempty"`

	ChinaPolicy    ChinaPolicy `yaml:"china_policy,omitempty"`
	WhitelistCIDRs []string    `yaml:"whitelist_cidrs,omitempty"`
	BlacklistCIDRs []string    `yaml:"blacklist_cidrs,omitempty"`
}

// UnmarshalYAML decodes a port entry with Open defaulting to true.
func (p *PortPolicy) UnmarshalYAML(value *yaml.Node) error {
	type plain PortPolicy
	raw := plain{Open: true}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*p = PortPolicy(raw)
	return nil
}

// Protocols returns the normalized, de-duplicated protocol list. It is
// never empty: Protos wins, then the legacy Proto, then tcp.
func (p PortPolicy) Protocols() []string {
	src := p.Protos
	if len(src) == 0 && strings.TrimSpace(p.Proto) != "" {
		src = []string{p.Proto}
	}

	var out []string
	seen := make(map[string]bool, len(src))
	for _, proto := range src {
		proto = strings.ToLower(strings.TrimSpace(proto))
		if proto == "" || seen[proto] {
			continue
		}
		seen[proto] = true
		out = append(out, proto)
	}
	if len(out) == 0 {
		return []string{ProtoTCP}
	}
	return out
}

// Policy returns the China policy with the empty value mapped to none.
func (p PortPolicy) Policy() ChinaPolicy {
	if p.ChinaPolicy == "" {
		return ChinaPolicyNone
	}
	return p.ChinaPolicy
}

// Normalize returns a copy with Protos and ChinaPolicy in canonical form and
// the legacy Proto field folded in.
func (p PortPolicy) Normalize() PortPolicy {
	p.Protos = p.Protocols()
	p.Proto = ""
	p.ChinaPolicy = p.Policy()
	return p
}

// Validate checks the port range, protocols and China policy.
func (p PortPolicy) Validate() error {
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("invalid port %d", p.Port)
	}
	for _, proto := range p.Protocols() {
		if proto != ProtoTCP && proto != ProtoUDP {
			return fmt.Errorf("port %d: invalid protocol %q", p.Port, proto)
		}
	}
	if !p.ChinaPolicy.valid() {
		return fmt.Errorf("port %d: invalid china_policy %q", p.Port, p.ChinaPolicy)
	}
	return nil
}
