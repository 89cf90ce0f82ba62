// Package ufw opens and closes ports through the host's ufw front end, with
// ufw-docker handling container-published ports.
package ufw

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/plexsphere/cnwall/internal/system"
)

// NotInstalledMessage is returned by every operation when ufw is missing.
const NotInstalledMessage = "ufw not installed"

// UFW issues ufw commands and returns their output text. Command failures
// are not errors: the tool's stderr is the operator-facing result.
type UFW struct {
	runner system.Runner
	prober system.Prober
	logger *slog.Logger
}

// New returns a UFW using runner and prober.
func New(runner system.Runner, prober system.Prober, logger *slog.Logger) *UFW {
	return &UFW{
		runner: runner,
		prober: prober,
		logger: logger.With("component", "ufw"),
	}
}

// Status returns `ufw status`.
func (u *UFW) Status() string {
	if !u.prober.Available("ufw") {
		return NotInstalledMessage
	}
	return u.run("ufw", "status")
}

// AllowPort runs `ufw allow <port>/<proto>`.
func (u *UFW) AllowPort(port int, proto string) string {
	if !u.prober.Available("ufw") {
		return NotInstalledMessage
	}
	return u.run("ufw", "allow", portSpec(port, proto))
}

// DenyPort removes the allow rule added by AllowPort.
func (u *UFW) DenyPort(port int, proto string) string {
	if !u.prober.Available("ufw") {
		return NotInstalledMessage
	}
	return u.run("ufw", "delete", "allow", portSpec(port, proto))
}

// AllowContainer runs `ufw-docker allow <container> <port> <proto>`, falling
// back to AllowPort when ufw-docker is not installed.
func (u *UFW) AllowContainer(container string, port int, proto string) string {
	if !u.prober.Available("ufw-docker") {
		u.logger.Debug("ufw-docker not found, opening bare port", "container", container, "port", port)
		return u.AllowPort(port, proto)
	}
	return u.run("ufw-docker", "allow", container, strconv.Itoa(port), proto)
}

func (u *UFW) run(name string, args ...string) string {
	res, err := u.runner.Run(name, args...)
	if err != nil {
		u.logger.Warn("command failed", "command", name, "args", args, "error", err)
	}
	return res.Text()
}

func portSpec(port int, proto string) string {
	return fmt.Sprintf("%d/%s", port, proto)
}
