package policy

import (
	"github.com/plexsphere/cnwall/internal/config"
)

// privateCIDRs are whitelisted on every port when allow_private is set:
// loopback and the RFC 1918 ranges.
var privateCIDRs = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
}

// PrivateCIDRs returns a copy of the private-network whitelist.
func PrivateCIDRs() []string {
	return append([]string(nil), privateCIDRs...)
}

// BuildWhitelist returns the accept sources for a port in rule order:
// private networks (if enabled), the global whitelist, then the port's own.
func BuildWhitelist(cfg *config.Config, p config.PortPolicy) []string {
	var cidrs []string
	if cfg.AllowPrivate {
		cidrs = append(cidrs, privateCIDRs...)
	}
	cidrs = append(cidrs, cfg.WhitelistCIDRs...)
	return append(cidrs, p.WhitelistCIDRs...)
}

// BuildBlacklist returns the drop sources for a port: the global blacklist
// followed by the port's own.
func BuildBlacklist(cfg *config.Config, p config.PortPolicy) []string {
	var cidrs []string
	cidrs = append(cidrs, cfg.BlacklistCIDRs...)
	return append(cidrs, p.BlacklistCIDRs...)
}
