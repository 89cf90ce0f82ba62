package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plexsphere/cnwall/internal/config"
	"github.com/plexsphere/cnwall/internal/nft"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Rebuild the nftables chain from the configured port policies",
	Long: "Ensure the inet cnwall table, flush its filter chain and add the rules of every\n" +
		"configured port in order. The China address set is left untouched.",
	Args: cobra.NoArgs,
	RunE: runApply,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the inet cnwall table with all rules and the China set",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

var deleteRuleCmd = &cobra.Command{
	Use:   "delete_rule",
	Short: "Delete every chain rule for a port that references the China set or a CIDR",
	Args:  cobra.NoArgs,
	RunE:  runDeleteRule,
}

var (
	deletePort  int
	deleteProto string
	deleteMatch string
	deleteClose bool
)

func init() {
	deleteRuleCmd.Flags().IntVar(&deletePort, "port", 0, "destination port")
	deleteRuleCmd.Flags().StringVar(&deleteProto, "proto", config.ProtoTCP, "protocol (tcp, udp)")
	deleteRuleCmd.Flags().StringVar(&deleteMatch, "match", "", "CIDR the rule references (default: the China set)")
	deleteRuleCmd.Flags().BoolVar(&deleteClose, "close", false, "also remove the ufw allow for the port")
	_ = deleteRuleCmd.MarkFlagRequired("port")

	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(deleteRuleCmd)
}

func runApply(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	report, err := a.reconciler().Apply(a.cfg)
	for _, msg := range report.Messages {
		fmt.Fprintln(w, msg)
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	if err == nil || report.Rules > 0 {
		fmt.Fprintf(w, "applied %d rules for %d ports\n", report.Rules, len(a.cfg.Ports))
	}
	if err != nil {
		return fmt.Errorf("cnwall apply: %w", err)
	}
	return nil
}

func runReset(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	if err := a.reconciler().Reset(); err != nil {
		return fmt.Errorf("cnwall reset: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted nftables table %s %s\n", nft.Family, nft.TableName)
	return nil
}

func runDeleteRule(cmd *cobra.Command, _ []string) error {
	p := config.PortPolicy{Port: deletePort, Proto: deleteProto}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("cnwall delete_rule: %w", err)
	}
	proto := p.Protocols()[0]

	a, err := loadApp()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	n, err := a.reconciler().DeleteRule(deletePort, proto, deleteMatch)
	if err != nil {
		return fmt.Errorf("cnwall delete_rule: %w", err)
	}
	fmt.Fprintf(w, "deleted %d rules for %d/%s\n", n, deletePort, proto)
	if deleteClose {
		fmt.Fprintln(w, a.ufw().DenyPort(deletePort, proto))
	}
	return nil
}
