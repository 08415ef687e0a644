package gpio

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/cjeanneret/RoverGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l == High {
		return "HIGH"
	}
	return "LOW"
}

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Backend names accepted by NewDriver.
const (
	BackendRPi    = "rpio"
	BackendPeriph = "periph"
)

// ErrPulseTimeout is returned by MeasurePulse when the pulse did not start
// and end within the timeout.
var ErrPulseTimeout = errors.New("pulse timeout")

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	// MeasurePulse waits for pin to reach level, then returns how long it
	// stayed there. The whole wait is bounded by timeout; ctx may end it
	// sooner.
	MeasurePulse(ctx context.Context, pin int, level Level, timeout time.Duration) (time.Duration, error)
	Close() error
}

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test).
// Otherwise backend selects go-rpio ("rpio", default) or periph.io ("periph").
func NewDriver(mock bool, backend string) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return &MockDriver{}, nil
	}
	switch backend {
	case "", BackendRPi:
		return NewRPiRealDriver()
	case BackendPeriph:
		return NewPeriphDriver()
	default:
		return nil, fmt.Errorf("unknown gpio backend: %q", backend)
	}
}

// MockDriver is a development implementation that logs actions and
// simulates an echo on every MeasurePulse call.
// The zero value never sees an echo: MeasurePulse waits out its timeout.
type MockDriver struct {
	// Echo is the simulated pulse length. Zero means no echo.
	Echo  time.Duration
	Clock clock.Clock
}

func (m *MockDriver) clock() clock.Clock {
	if m.Clock == nil {
		return clock.New()
	}
	return m.Clock
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	return Low, nil
}

func (m *MockDriver) MeasurePulse(ctx context.Context, pin int, level Level, timeout time.Duration) (time.Duration, error) {
	debug.GPIO("MeasurePulse", pin, level)
	wait := m.Echo
	if wait <= 0 || wait > timeout {
		wait = timeout
	}
	timer := m.clock().Timer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
	}
	if m.Echo <= 0 || m.Echo > timeout {
		return 0, errors.Wrapf(ErrPulseTimeout, "pin %d: no %v pulse within %v", pin, level, timeout)
	}
	return m.Echo, nil
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
