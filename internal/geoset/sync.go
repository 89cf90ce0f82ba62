package geoset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/plexsphere/cnwall/internal/ipset"
	"github.com/plexsphere/cnwall/internal/nft"
)

// Synchronizer repopulates the standalone ipset and the nftables set from a
// remote list.
type Synchronizer struct {
	set    ipset.Set
	engine nft.Engine
	source Source
	logger *slog.Logger
}

// NewSynchronizer returns a Synchronizer.
func NewSynchronizer(set ipset.Set, engine nft.Engine, source Source, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		set:    set,
		engine: engine,
		source: source,
		logger: logger.With("component", "geoset"),
	}
}

// Refresh flushes both sets, downloads url and loads the parsed CIDRs into
// the ipset one at a time and into the nftables set in batches. It returns
// the number of CIDRs parsed.
//
// Both sets are flushed before the download. A failed download leaves them
// empty until the next successful refresh; block_non_china rules that are
// already installed then drop every non-whitelisted source.
//
// Entries the tools reject do not stop the load: every remaining CIDR is
// still added and the rejections are returned joined.
//
// Refresh takes no lock; a concurrent apply or refresh can interleave with it.
func (s *Synchronizer) Refresh(ctx context.Context, url string, priority int) (int, error) {
	if err := s.set.Ensure(); err != nil {
		return 0, fmt.Errorf("geoset: refresh: %w", err)
	}
	if err := s.set.Flush(); err != nil {
		return 0, fmt.Errorf("geoset: refresh: %w", err)
	}
	if err := s.engine.EnsureTableChainSet(priority); err != nil {
		return 0, fmt.Errorf("geoset: refresh: %w", err)
	}
	if err := s.engine.FlushSet(); err != nil {
		return 0, fmt.Errorf("geoset: refresh: %w", err)
	}

	text, err := s.source.Fetch(ctx, url)
	if err != nil {
		s.logger.Error("china list download failed, address sets left empty", "url", url, "error", err)
		return 0, fmt.Errorf("geoset: refresh: %w", err)
	}

	var errs []error
	cidrs, err := ParseCIDRList(text)
	if err != nil {
		errs = append(errs, err)
	}
	s.logger.Info("china list downloaded", "url", url, "cidrs", len(cidrs))

	for _, cidr := range cidrs {
		if err := s.set.Add(cidr); err != nil {
			s.logger.Warn("ipset rejected entry", "cidr", cidr, "error", err)
			errs = append(errs, err)
		}
	}
	if err := s.engine.AddElements(cidrs); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("china address sets refreshed with errors", "cidrs", len(cidrs), "errors", len(errs))
		return len(cidrs), fmt.Errorf("geoset: refresh: %w", err)
	}
	s.logger.Info("china address sets refreshed", "cidrs", len(cidrs))
	return len(cidrs), nil
}
