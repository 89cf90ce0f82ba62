// Package config holds the cnwall desired-state document: the port policies
// and global lists that the reconciler turns into packet-filter rules.
package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultPath is where the CLI looks for the document.
	DefaultPath = "/etc/cnwall/config.yaml"

	// DefaultChinaIPSource is a newline-delimited list of China IPv4 CIDRs.
	DefaultChinaIPSource = "https://raw.githubusercontent.com/gaoyifan/china-operator-ip/ip-lists/china.txt"

	// DefaultScheduleCron refreshes the China set daily at 03:00.
	DefaultScheduleCron = "0 3 * * *"

	// DefaultPreroutingPriority runs the cnwall chain ahead of most other
	// filtering chains on the host.
	DefaultPreroutingPriority = -350

	// DefaultFetchTimeout bounds the China list download.
	DefaultFetchTimeout = 30 * time.Second
)

// Rule-engine backends.
const (
	BackendNft     = "nft"
	BackendNetlink = "netlink"
)

// Config is the top-level desired-state document.
//
// AllowPrivate and PreroutingPriority have non-zero defaults that cannot be
// told apart from an explicit false/0 after decoding, so Parse seeds them
// from Default before unmarshalling instead of relying on ApplyDefaults.
type Config struct {
	Ports []PortPolicy `yaml:"ports"`

	// ChinaIPSource is the URL of the China CIDR list.
	ChinaIPSource string `yaml:"china_ip_source"`

	// ScheduleCron is the crontab expression for china_update.
	ScheduleCron string `yaml:"schedule_cron"`

	// AllowPrivate injects loopback and RFC1918 ranges into every port's whitelist.
	// Default: true
	AllowPrivate bool `yaml:"allow_private"`

	WhitelistCIDRs []string `yaml:"whitelist_cidrs"`
	BlacklistCIDRs []string `yaml:"blacklist_cidrs"`

	// PreroutingPriority is the hook priority of the cnwall chain.
	// Default: -350
	PreroutingPriority int `yaml:"prerouting_priority"`

	// Backend selects how the rule engine is driven: "nft" (the nft binary)
	// or "netlink" (direct nftables netlink).
	// Default: "nft"
	Backend string `yaml:"backend,omitempty"`

	// FetchTimeout bounds the China list download.
	// Default: 30s
	FetchTimeout time.Duration `yaml:"fetch_timeout,omitempty"`
}

// Default returns the document written by config_reset and used when no file exists.
func Default() *Config {
	return &Config{
		Ports:              []PortPolicy{},
		ChinaIPSource:      DefaultChinaIPSource,
		ScheduleCron:       DefaultScheduleCron,
		AllowPrivate:       true,
		WhitelistCIDRs:     []string{},
		BlacklistCIDRs:     []string{},
		PreroutingPriority: DefaultPreroutingPriority,
		Backend:            BackendNft,
		FetchTimeout:       DefaultFetchTimeout,
	}
}

// ApplyDefaults sets default values for zero-valued string and duration fields.
func (c *Config) ApplyDefaults() {
	if c.ChinaIPSource == "" {
		c.ChinaIPSource = DefaultChinaIPSource
	}
	if c.ScheduleCron == "" {
		c.ScheduleCron = DefaultScheduleCron
	}
	if c.Backend == "" {
		c.Backend = BackendNft
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
}

// Validate checks the document. CIDR strings are not parsed; they reach the
// rule engine as written.
func (c *Config) Validate() error {
	if c.Backend != BackendNft && c.Backend != BackendNetlink {
		return fmt.Errorf("config: invalid backend %q (must be %q or %q)", c.Backend, BackendNft, BackendNetlink)
	}
	if c.FetchTimeout < 0 {
		return errors.New("config: fetch_timeout must not be negative")
	}
	for i := range c.Ports {
		if err := c.Ports[i].Validate(); err != nil {
			return fmt.Errorf("config: ports[%d]: %w", i, err)
		}
	}
	return nil
}
