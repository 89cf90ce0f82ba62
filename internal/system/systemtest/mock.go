// Package systemtest provides test doubles for the system package's Runner
// and Prober interfaces.
package systemtest

import (
	"github.com/stretchr/testify/mock"

	"github.com/plexsphere/cnwall/internal/system"
)

var _ system.Runner = (*MockRunner)(nil)

// MockRunner is a testify mock of system.Runner. Expectations are keyed on
// the flattened argument list: name first, then each arg.
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(name string, args ...string) (system.Result, error) {
	callArgs := make([]interface{}, 0, len(args)+1)
	callArgs = append(callArgs, name)
	for _, a := range args {
		callArgs = append(callArgs, a)
	}
	ret := m.Called(callArgs...)
	return ret.Get(0).(system.Result), ret.Error(1)
}

func (m *MockRunner) RunInput(input string, name string, args ...string) (system.Result, error) {
	callArgs := make([]interface{}, 0, len(args)+2)
	callArgs = append(callArgs, input, name)
	for _, a := range args {
		callArgs = append(callArgs, a)
	}
	ret := m.Called(callArgs...)
	return ret.Get(0).(system.Result), ret.Error(1)
}

var _ system.Prober = StaticProber(nil)

// StaticProber reports availability from a fixed set of tool names.
type StaticProber map[string]bool

func (p StaticProber) Available(name string) bool {
	return p[name]
}
