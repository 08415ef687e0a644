package pwm

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/cjeanneret/RoverGo/internal/debug"
)

// MockOutput keeps duty cycles in memory. Used for development on PC.
type MockOutput struct {
	mu       sync.Mutex
	channels map[int]channelConfig
	pins     map[int]int // pin -> channel
	duty     map[int]uint32
}

// NewMockOutput returns an empty mock peripheral.
func NewMockOutput() *MockOutput {
	return &MockOutput{
		channels: make(map[int]channelConfig),
		pins:     make(map[int]int),
		duty:     make(map[int]uint32),
	}
}

func (m *MockOutput) Configure(channel, frequencyHz, resolutionBits int) error {
	debug.PWM("Configure", channel, fmt.Sprintf("%dHz/%dbit", frequencyHz, resolutionBits))
	if err := validate(channel, frequencyHz, resolutionBits); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[channel] = channelConfig{frequencyHz: frequencyHz, resolutionBits: resolutionBits}
	return nil
}

func (m *MockOutput) Attach(pin, channel int) error {
	debug.PWM("Attach", channel, pin)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[channel]; !ok {
		return errors.Wrapf(ErrNotConfigured, "attach pin %d", pin)
	}
	m.pins[pin] = channel
	return nil
}

func (m *MockOutput) Write(channel int, duty uint32) error {
	debug.PWM("Write", channel, duty)
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.channels[channel]
	if !ok {
		return errors.Wrapf(ErrNotConfigured, "write channel %d", channel)
	}
	if duty > MaxDuty(cfg.resolutionBits) {
		return fmt.Errorf("channel %d: duty %d exceeds %d-bit resolution", channel, duty, cfg.resolutionBits)
	}
	m.duty[channel] = duty
	return nil
}

// Duty returns the last duty written to channel.
func (m *MockOutput) Duty(channel int) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.duty[channel]
	return d, ok
}

// Channel returns the channel a pin is attached to.
func (m *MockOutput) Channel(pin int) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.pins[pin]
	return c, ok
}

func (m *MockOutput) Close() error {
	debug.Trace("PWM Close (mock)")
	return nil
}
