package cmd

import (
	"fmt"
	"log/slog"

	"github.com/plexsphere/cnwall/internal/config"
	"github.com/plexsphere/cnwall/internal/nft"
	"github.com/plexsphere/cnwall/internal/policy"
	"github.com/plexsphere/cnwall/internal/system"
	"github.com/plexsphere/cnwall/internal/ufw"
)

// Replaced in tests.
var (
	newRunner = func() system.Runner { return system.NewExecRunner() }
	newProber = func() system.Prober { return system.NewPathProber() }
)

// app holds what a single verb invocation needs. The config is read fresh
// for every verb.
type app struct {
	store  *config.Store
	cfg    *config.Config
	logger *slog.Logger
	runner system.Runner
	prober system.Prober
}

func loadApp() (*app, error) {
	logger := setupLogger(logLevel)
	store := config.NewStore(cfgFile)
	cfg, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("cnwall: %w", err)
	}
	return &app{
		store:  store,
		cfg:    cfg,
		logger: logger,
		runner: newRunner(),
		prober: newProber(),
	}, nil
}

func (a *app) engine() nft.Engine {
	return nft.New(a.cfg.Backend, a.runner, a.prober, a.logger)
}

func (a *app) ufw() *ufw.UFW {
	return ufw.New(a.runner, a.prober, a.logger)
}

func (a *app) reconciler() *policy.Reconciler {
	return policy.NewReconciler(a.engine(), a.ufw(), a.logger)
}
