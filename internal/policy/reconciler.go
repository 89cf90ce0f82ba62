// Package policy reconciles the configured port policies into the cnwall
// nftables chain.
package policy

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/plexsphere/cnwall/internal/config"
	"github.com/plexsphere/cnwall/internal/nft"
)

// EmptySetWarning is reported when a block_non_china rule is skipped.
const EmptySetWarning = "china address set is empty, skipped block_non_china rule"

// Report summarizes an Apply.
type Report struct {
	// Messages holds the output of the port-open tool, one per allow.
	Messages []string
	// Warnings lists skipped operations.
	Warnings []string
	// Rules counts the nftables rules added.
	Rules int
}

// Reconciler rebuilds the cnwall chain from a Config.
type Reconciler struct {
	engine nft.Engine
	opener PortOpener
	logger *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(engine nft.Engine, opener PortOpener, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		engine: engine,
		opener: opener,
		logger: logger.With("component", "policy"),
	}
}

// Apply ensures the table, flushes the chain and re-adds every port's rules
// in config order. The China set is kept. A rule the engine rejects does not
// stop the rebuild: every remaining rule of every port is still added and the
// rejections are returned joined with the full Report. Only a failure to
// ensure or flush the chain aborts. Nothing is rolled back.
func (r *Reconciler) Apply(cfg *config.Config) (*Report, error) {
	report := &Report{}

	if err := r.engine.EnsureTableChainSet(cfg.PreroutingPriority); err != nil {
		return report, fmt.Errorf("policy: apply: %w", err)
	}
	if err := r.engine.FlushPolicyChain(); err != nil {
		return report, fmt.Errorf("policy: apply: %w", err)
	}

	var errs []error
	for _, p := range cfg.Ports {
		for _, err := range r.applyPort(cfg, p.Normalize(), report) {
			r.logger.Warn("rule rejected", "port", p.Port, "error", err)
			errs = append(errs, fmt.Errorf("port %d: %w", p.Port, err))
		}
	}

	r.logger.Info("applied port policies",
		"ports", len(cfg.Ports),
		"rules", report.Rules,
		"warnings", len(report.Warnings),
		"errors", len(errs),
	)
	if err := errors.Join(errs...); err != nil {
		return report, fmt.Errorf("policy: apply: %w", err)
	}
	return report, nil
}

// applyPort adds the rules of one port and returns the engine errors it met.
func (r *Reconciler) applyPort(cfg *config.Config, p config.PortPolicy, report *Report) []error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		report.Rules++
	}

	if p.Open {
		for _, proto := range p.Protos {
			var msg string
			if p.Container != "" {
				msg = r.opener.AllowContainer(p.Container, p.Port, proto)
			} else {
				msg = r.opener.AllowPort(p.Port, proto)
			}
			report.Messages = append(report.Messages, msg)
		}
	}

	whitelist := BuildWhitelist(cfg, p)
	for _, proto := range p.Protos {
		for _, cidr := range whitelist {
			add(r.engine.AddAcceptRule(p.Port, proto, cidr))
		}
	}

	blacklist := BuildBlacklist(cfg, p)
	for _, proto := range p.Protos {
		for _, cidr := range blacklist {
			add(r.engine.AddDropCIDRRule(p.Port, proto, cidr))
		}
	}

	switch p.ChinaPolicy {
	case config.BlockChina:
		for _, proto := range p.Protos {
			add(r.engine.AddBlockRule(p.Port, proto))
		}
	case config.BlockNonChina:
		// With an empty set the rule would drop every non-whitelisted source.
		if r.engine.CountSetElements() == 0 {
			r.logger.Warn(EmptySetWarning, "port", p.Port)
			report.Warnings = append(report.Warnings, fmt.Sprintf("port %d: %s", p.Port, EmptySetWarning))
			return errs
		}
		for _, proto := range p.Protos {
			add(r.engine.AddBlockNonChinaRule(p.Port, proto))
		}
	}
	return errs
}

// Reset deletes the cnwall table with its chain, set and rules.
func (r *Reconciler) Reset() error {
	if err := r.engine.DeleteTable(); err != nil {
		return fmt.Errorf("policy: reset: %w", err)
	}
	r.logger.Info("deleted nftables table", "table", nft.Family+" "+nft.TableName)
	return nil
}

// DeleteRule removes every chain rule for port/proto that references ref
// (a CIDR, or nft.SetRef when empty).
func (r *Reconciler) DeleteRule(port int, proto, ref string) (int, error) {
	if ref == "" {
		ref = nft.SetRef
	}
	n, err := r.engine.DeleteRule(port, proto, ref)
	if err != nil {
		return n, fmt.Errorf("policy: delete rule: %w", err)
	}
	r.logger.Info("deleted rules", "port", port, "proto", proto, "ref", ref, "count", n)
	return n, nil
}
