// Package scheduler installs the periodic china_update job in the user's
// crontab.
package scheduler

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/plexsphere/cnwall/internal/system"
)

// Marker tags the crontab line owned by cnwall.
const Marker = "# cnwall-china-update"

// NotInstalledMessage is returned when crontab is missing.
const NotInstalledMessage = "crontab not installed"

// Crontab edits the crontab through `crontab -l` and `crontab -`.
type Crontab struct {
	runner system.Runner
	prober system.Prober
	logger *slog.Logger
	now    func() time.Time
}

// NewCrontab returns a Crontab.
func NewCrontab(runner system.Runner, prober system.Prober, logger *slog.Logger) *Crontab {
	return &Crontab{
		runner: runner,
		prober: prober,
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
	}
}

// ParseSchedule validates a standard five-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// Set replaces any cnwall line with one running command on cronExpr and
// returns a status line including the next run time.
func (c *Crontab) Set(command, cronExpr string) (string, error) {
	sched, err := ParseSchedule(cronExpr)
	if err != nil {
		return "", err
	}
	if !c.prober.Available("crontab") {
		return NotInstalledMessage, nil
	}

	lines := append(c.foreignLines(), fmt.Sprintf("%s %s %s", cronExpr, command, Marker))
	if err := c.write(lines); err != nil {
		return "", err
	}

	next := sched.Next(c.now())
	c.logger.Info("china_update scheduled", "cron", cronExpr, "next", next)
	return fmt.Sprintf("scheduled china_update at %q, next run %s", cronExpr, next.Format(time.RFC3339)), nil
}

// Remove drops the cnwall line, keeping every other entry.
func (c *Crontab) Remove() (string, error) {
	if !c.prober.Available("crontab") {
		return NotInstalledMessage, nil
	}
	if err := c.write(c.foreignLines()); err != nil {
		return "", err
	}
	c.logger.Info("china_update schedule removed")
	return "removed china_update schedule", nil
}

// foreignLines returns the current crontab without cnwall's line. A failing
// `crontab -l` (no crontab yet) reads as empty.
func (c *Crontab) foreignLines() []string {
	res, err := c.runner.Run("crontab", "-l")
	if err != nil {
		c.logger.Debug("no existing crontab", "error", err)
		return nil
	}
	var lines []string
	for _, line := range strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n") {
		if line == "" && len(lines) == 0 {
			continue
		}
		if strings.Contains(line, Marker) {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func (c *Crontab) write(lines []string) error {
	input := strings.Join(lines, "\n") + "\n"
	if _, err := c.runner.RunInput(input, "crontab", "-"); err != nil {
		return fmt.Errorf("scheduler: write crontab: %w", err)
	}
	return nil
}
