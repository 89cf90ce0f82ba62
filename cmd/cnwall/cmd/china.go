package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/plexsphere/cnwall/internal/geoset"
	"github.com/plexsphere/cnwall/internal/ipset"
)

var chinaUpdateCmd = &cobra.Command{
	Use:   "china_update",
	Short: "Download the China CIDR list and reload the address sets",
	Long: "Flush the cnwall_china ipset and nftables set, download china_ip_source and\n" +
		"load every CIDR into both. A failed download leaves the sets empty.",
	Args: cobra.NoArgs,
	RunE: runChinaUpdate,
}

func init() {
	rootCmd.AddCommand(chinaUpdateCmd)
}

func runChinaUpdate(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	sync := geoset.NewSynchronizer(
		ipset.New(a.runner, a.prober, a.logger),
		a.engine(),
		geoset.NewFetcher(a.cfg.FetchTimeout),
		a.logger,
	)
	n, err := sync.Refresh(ctx, a.cfg.ChinaIPSource, a.cfg.PreroutingPriority)
	if err == nil || n > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "updated china ip set: %d networks\n", n)
	}
	if err != nil {
		return fmt.Errorf("cnwall china_update: %w", err)
	}
	return nil
}
