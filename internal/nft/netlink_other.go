//go:build !linux

package nft

import "log/slog"

// NewNetlink returns Unavailable: nftables netlink exists only on Linux.
func NewNetlink(logger *slog.Logger) Engine {
	logger.Warn("nftables netlink backend requires linux, rule engine disabled")
	return Unavailable{}
}
