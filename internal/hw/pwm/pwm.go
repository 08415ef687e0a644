// Package pwm is the PWM output capability consumed by the actuators.
// Channels are configured once (frequency, resolution), pins are attached to
// channels, then duty cycles are written per channel.
package pwm

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/cjeanneret/RoverGo/internal/debug"
)

// Backend names accepted by NewOutput.
const (
	BackendMock    = "mock"
	BackendRPi     = "rpio"
	BackendPCA9685 = "pca9685"
)

// ErrNotConfigured is returned when a channel is used before Configure.
var ErrNotConfigured = errors.New("pwm channel not configured")

// Output is the PWM peripheral seen by the actuators.
type Output interface {
	// Configure sets the carrier frequency and duty resolution of a channel.
	Configure(channel, frequencyHz, resolutionBits int) error
	// Attach routes a channel to a physical pin.
	Attach(pin, channel int) error
	// Write sets the duty cycle of a channel, in units of its resolution.
	Write(channel int, duty uint32) error
	Close() error
}

// Options selects and parameterizes a backend.
type Options struct {
	Backend string
	I2CBus  string // pca9685 only; "" picks the first bus
	I2CAddr uint16 // pca9685 only; 0 means 0x40
}

// NewOutput creates the PWM backend named in opts.
func NewOutput(opts Options) (Output, error) {
	switch opts.Backend {
	case "", BackendMock:
		debug.Info("Using MOCK PWM output (development mode)")
		return NewMockOutput(), nil
	case BackendRPi:
		return NewRPiOutput()
	case BackendPCA9685:
		return NewPCA9685Output(opts.I2CBus, opts.I2CAddr)
	default:
		return nil, fmt.Errorf("unknown pwm backend: %q", opts.Backend)
	}
}

// MaxDuty returns the largest duty value representable with bits of resolution.
func MaxDuty(bits int) uint32 {
	if bits <= 0 {
		return 0
	}
	if bits >= 32 {
		return ^uint32(0)
	}
	return uint32(1)<<uint(bits) - 1
}

// channelConfig is what Configure records for a channel.
type channelConfig struct {
	frequencyHz    int
	resolutionBits int
}

func validate(channel, frequencyHz, resolutionBits int) error {
	if channel < 0 {
		return fmt.Errorf("invalid channel %d", channel)
	}
	if frequencyHz <= 0 {
		return fmt.Errorf("channel %d: frequency must be > 0, got %d", channel, frequencyHz)
	}
	if resolutionBits < 1 || resolutionBits > 32 {
		return fmt.Errorf("channel %d: resolution must be 1-32 bits, got %d", channel, resolutionBits)
	}
	return nil
}
