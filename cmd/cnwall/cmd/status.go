package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plexsphere/cnwall/internal/docker"
	"github.com/plexsphere/cnwall/internal/ipset"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ufw, nftables, ipset and docker port state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	var errs []error

	fmt.Fprintln(w, "ufw status:")
	fmt.Fprintln(w, a.ufw().Status())

	fmt.Fprintln(w, "nftables status:")
	fmt.Fprintln(w, a.engine().ListOurs())

	fmt.Fprintln(w, "ipset status:")
	fmt.Fprintln(w, ipset.New(a.runner, a.prober, a.logger).List())

	fmt.Fprintln(w, "docker published ports:")
	ports, err := docker.NewInspector(a.runner, a.prober, a.logger).ListPublishedPorts()
	if err != nil {
		errs = append(errs, err)
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, p := range ports {
		fmt.Fprintf(w, "  %s\n", p)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("cnwall status: %w", err)
	}
	return nil
}
