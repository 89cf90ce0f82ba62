package docker

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/plexsphere/cnwall/internal/system"
	"github.com/plexsphere/cnwall/internal/system/systemtest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const inspectWeb = `[{
  "Name": "/web",
  "NetworkSettings": {
    "Ports": {
      "443/tcp": [{"HostIp": "0.0.0.0", "HostPort": "443"}],
      "80/tcp": [{"HostIp": "0.0.0.0", "HostPort": "8080"}],
      "9000/tcp": null,
      "53/udp": []
    }
  }
}]`

const inspectDNS = `[{
  "Name": "/dns",
  "NetworkSettings": {"Ports": {"53/udp": [{"HostIp": "", "HostPort": "53"}], "bogus/tcp": [{"HostPort": "1"}]}}
}]`

func TestListPublishedPorts(t *testing.T) {
	r := new(systemtest.MockRunner)
	r.On("Run", "docker", "ps", "--format", "{{.ID}}").Return(system.Result{Stdout: "abc123\ndef456\n"}, nil).Once()
	r.On("Run", "docker", "inspect", "abc123").Return(system.Result{Stdout: inspectWeb}, nil).Once()
	r.On("Run", "docker", "inspect", "def456").Return(system.Result{Stdout: inspectDNS}, nil).Once()

	got, err := NewInspector(r, systemtest.StaticProber{"docker": true}, testLogger()).ListPublishedPorts()
	if err != nil {
		t.Fatalf("ListPublishedPorts() error = %v", err)
	}
	want := []PublishedPort{
		{Container: "web", Port: 443, Proto: "tcp"},
		{Container: "web", Port: 80, Proto: "tcp"},
		{Container: "dns", Port: 53, Proto: "udp"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListPublishedPorts() = %+v, want %+v", got, want)
	}
	r.AssertExpectations(t)
}

func TestListPublishedPorts_NoDocker(t *testing.T) {
	r := new(systemtest.MockRunner)
	got, err := NewInspector(r, systemtest.StaticProber{}, testLogger()).ListPublishedPorts()
	if err != nil || got != nil {
		t.Errorf("ListPublishedPorts() = %v, %v, want nil, nil", got, err)
	}
	r.AssertNotCalled(t, "Run")
}

func TestListPublishedPorts_NoContainers(t *testing.T) {
	r := new(systemtest.MockRunner)
	r.On("Run", "docker", "ps", "--format", "{{.ID}}").Return(system.Result{}, nil).Once()

	got, err := NewInspector(r, systemtest.StaticProber{"docker": true}, testLogger()).ListPublishedPorts()
	if err != nil {
		t.Fatalf("ListPublishedPorts() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListPublishedPorts() = %v, want empty", got)
	}
}

func TestListPublishedPorts_DaemonDown(t *testing.T) {
	r := new(systemtest.MockRunner)
	r.On("Run", "docker", "ps", "--format", "{{.ID}}").
		Return(system.Result{Stderr: "Cannot connect to the Docker daemon", ExitCode: 1}, errors.New("exit status 1")).Once()

	if _, err := NewInspector(r, systemtest.StaticProber{"docker": true}, testLogger()).ListPublishedPorts(); err == nil {
		t.Error("ListPublishedPorts() error = nil, want error")
	}
}

func TestListPublishedPorts_BadJSON(t *testing.T) {
	r := new(systemtest.MockRunner)
	r.On("Run", "docker", "ps", "--format", "{{.ID}}").Return(system.Result{Stdout: "abc\n"}, nil).Once()
	r.On("Run", "docker", "inspect", "abc").Return(system.Result{Stdout: "{"}, nil).Once()

	if _, err := NewInspector(r, systemtest.StaticProber{"docker": true}, testLogger()).ListPublishedPorts(); err == nil {
		t.Error("ListPublishedPorts() error = nil, want decode error")
	}
}

func TestPublishedPort_String(t *testing.T) {
	p := PublishedPort{Container: "web", Port: 443, Proto: "tcp"}
	if got := p.String(); got != "web 443/tcp" {
		t.Errorf("String() = %q", got)
	}
}
