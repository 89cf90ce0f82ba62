// Package ipset manages the standalone kernel address set that mirrors the
// China prefix list outside of nftables.
package ipset

import (
	"fmt"
	"log/slog"

	"github.com/plexsphere/cnwall/internal/system"
)

const (
	// SetName is the ipset holding the China prefixes.
	SetName = "cnwall_china"
	// SetType is the ipset storage type; hash:net accepts arbitrary CIDRs.
	SetType = "hash:net"
	// NotInstalledMessage is returned by List when ipset is missing.
	NotInstalledMessage = "ipset not installed"
)

// Set is the standalone address set.
type Set interface {
	// Ensure creates the set; an existing set is left untouched.
	Ensure() error
	// Flush removes every member.
	Flush() error
	// Add inserts one network.
	Add(cidr string) error
	// List returns the `ipset list` dump for diagnostics.
	List() string
}

// New returns the ipset CLI adapter, or Unavailable when ipset is not on PATH.
func New(runner system.Runner, prober system.Prober, logger *slog.Logger) Set {
	logger = logger.With("component", "ipset")
	if !prober.Available("ipset") {
		logger.Debug("ipset binary not found, standalone set disabled")
		return Unavailable{}
	}
	return &CLI{runner: runner, logger: logger}
}

// CLI drives the ipset binary.
type CLI struct {
	runner system.Runner
	logger *slog.Logger
}

var _ Set = (*CLI)(nil)

func (s *CLI) Ensure() error {
	if _, err := s.runner.Run("ipset", "-exist", "create", SetName, SetType); err != nil {
		return fmt.Errorf("ipset: create %s: %w", SetName, err)
	}
	return nil
}

func (s *CLI) Flush() error {
	if _, err := s.runner.Run("ipset", "flush", SetName); err != nil {
		return fmt.Errorf("ipset: flush %s: %w", SetName, err)
	}
	return nil
}

func (s *CLI) Add(cidr string) error {
	if _, err := s.runner.Run("ipset", "add", SetName, cidr); err != nil {
		return fmt.Errorf("ipset: add %s: %w", cidr, err)
	}
	return nil
}

func (s *CLI) List() string {
	res, err := s.runner.Run("ipset", "list", SetName)
	if err != nil {
		s.logger.Debug("ipset list failed", "error", err)
	}
	return res.Text()
}

// Unavailable is the Set used when ipset is not installed.
type Unavailable struct{}

var _ Set = Unavailable{}

func (Unavailable) Ensure() error { return nil }

func (Unavailable) Flush() error { return nil }

func (Unavailable) Add(string) error { return nil }

func (Unavailable) List() string { return NotInstalledMessage }
