package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plexsphere/cnwall/internal/config"
)

var configShowCmd = &cobra.Command{
	Use:   "config_show",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configResetCmd = &cobra.Command{
	Use:   "config_reset",
	Short: "Overwrite the configuration file with defaults",
	Args:  cobra.NoArgs,
	RunE:  runConfigReset,
}

func init() {
	rootCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configResetCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	data, err := config.Marshal(a.cfg)
	if err != nil {
		return fmt.Errorf("cnwall config_show: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigReset(cmd *cobra.Command, _ []string) error {
	store := config.NewStore(cfgFile)
	if err := store.Save(config.Default()); err != nil {
		return fmt.Errorf("cnwall config_reset: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "config reset to defaults: %s\n", store.Path())
	return nil
}
