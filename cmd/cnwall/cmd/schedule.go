package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/plexsphere/cnwall/internal/scheduler"
)

var scheduleSetCmd = &cobra.Command{
	Use:   "schedule_set",
	Short: "Install a crontab entry running china_update on schedule_cron",
	Args:  cobra.NoArgs,
	RunE:  runScheduleSet,
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "schedule_remove",
	Short: "Remove the china_update crontab entry",
	Args:  cobra.NoArgs,
	RunE:  runScheduleRemove,
}

// executable is replaced in tests.
var executable = os.Executable

func init() {
	rootCmd.AddCommand(scheduleSetCmd)
	rootCmd.AddCommand(scheduleRemoveCmd)
}

func runScheduleSet(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	exe, err := executable()
	if err != nil {
		return fmt.Errorf("cnwall schedule_set: resolve executable: %w", err)
	}
	cfgPath, err := filepath.Abs(cfgFile)
	if err != nil {
		return fmt.Errorf("cnwall schedule_set: %w", err)
	}
	command := fmt.Sprintf("%s --config %s china_update", exe, cfgPath)

	status, err := scheduler.NewCrontab(a.runner, a.prober, a.logger).Set(command, a.cfg.ScheduleCron)
	if err != nil {
		return fmt.Errorf("cnwall schedule_set: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), status)
	return nil
}

func runScheduleRemove(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	status, err := scheduler.NewCrontab(a.runner, a.prober, a.logger).Remove()
	if err != nil {
		return fmt.Errorf("cnwall schedule_remove: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), status)
	return nil
}
