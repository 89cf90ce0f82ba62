// Package docker lists the host ports published by running containers.
package docker

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/plexsphere/cnwall/internal/system"
)

// PublishedPort is a container port with at least one host binding.
type PublishedPort struct {
	Container string `json:"container"`
	Port      int    `json:"port"`
	Proto     string `json:"proto"`
}

func (p PublishedPort) String() string {
	return fmt.Sprintf("%s %d/%s", p.Container, p.Port, p.Proto)
}

// inspectResult is the subset of `docker inspect` output cnwall reads.
type inspectResult struct {
	Name            string `json:"Name"`
	NetworkSettings struct {
		Ports map[string][]struct {
			HostIP   string `json:"HostIp"`
			HostPort string `json:"HostPort"`
		} `json:"Ports"`
	} `json:"NetworkSettings"`
}

// Inspector queries the docker CLI.
type Inspector struct {
	runner system.Runner
	prober system.Prober
	logger *slog.Logger
}

// NewInspector returns an Inspector.
func NewInspector(runner system.Runner, prober system.Prober, logger *slog.Logger) *Inspector {
	return &Inspector{
		runner: runner,
		prober: prober,
		logger: logger.With("component", "docker"),
	}
}

// ListPublishedPorts returns every bound container port. It is empty when
// docker is not installed.
func (i *Inspector) ListPublishedPorts() ([]PublishedPort, error) {
	if !i.prober.Available("docker") {
		return nil, nil
	}
	res, err := i.runner.Run("docker", "ps", "--format", "{{.ID}}")
	if err != nil {
		return nil, fmt.Errorf("docker: ps: %w", err)
	}

	var ports []PublishedPort
	for _, id := range strings.Fields(res.Stdout) {
		found, err := i.inspect(id)
		if err != nil {
			return nil, err
		}
		ports = append(ports, found...)
	}
	return ports, nil
}

func (i *Inspector) inspect(id string) ([]PublishedPort, error) {
	res, err := i.runner.Run("docker", "inspect", id)
	if err != nil {
		return nil, fmt.Errorf("docker: inspect %s: %w", id, err)
	}
	var results []inspectResult
	if err := json.Unmarshal([]byte(res.Stdout), &results); err != nil {
		return nil, fmt.Errorf("docker: inspect %s: decode: %w", id, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	c := results[0]
	keys := make([]string, 0, len(c.NetworkSettings.Ports))
	for k := range c.NetworkSettings.Ports {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var ports []PublishedPort
	for _, key := range keys {
		if len(c.NetworkSettings.Ports[key]) == 0 {
			continue
		}
		portStr, proto, ok := strings.Cut(key, "/")
		if !ok {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			i.logger.Debug("skipping unparsable port key", "container", c.Name, "key", key)
			continue
		}
		ports = append(ports, PublishedPort{
			Container: strings.TrimPrefix(c.Name, "/"),
			Port:      port,
			Proto:     proto,
		})
	}
	return ports, nil
}
