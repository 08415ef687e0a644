package gpio

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"

	"github.com/cjeanneret/RoverGo/internal/debug"
	"github.com/cjeanneret/RoverGo/internal/hw/rpi"
)

// pinReader is the part of rpio.Pin used by MeasurePulse; tests substitute it.
type pinReader interface {
	Read() rpio.State
}

// RPiDriver is the real implementation for Raspberry Pi using go-rpio.
type RPiDriver struct {
	pins  map[int]rpio.Pin
	clock clock.Clock
}

// NewRPiRealDriver creates a real GPIO driver for Raspberry Pi.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpi.Acquire(); err != nil {
		return nil, err
	}

	return &RPiDriver{
		pins:  make(map[int]rpio.Pin),
		clock: clock.New(),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)
	r.pins[pin] = p

	switch mode {
	case Input:
		p.Input()
		p.PullDown()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as output
		if err := r.SetupPin(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}

	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	p, err := r.inputPin(pin)
	if err != nil {
		return Low, err
	}
	return levelOf(p.Read()), nil
}

// MeasurePulse busy-polls the pin: it waits for any pulse already in
// progress to finish, then for the pulse to start, then times it.
func (r *RPiDriver) MeasurePulse(ctx context.Context, pin int, level Level, timeout time.Duration) (time.Duration, error) {
	debug.GPIO("MeasurePulse", pin, level)

	p, err := r.inputPin(pin)
	if err != nil {
		return 0, err
	}
	return pollPulse(ctx, r.clock, p, pin, level, timeout)
}

func (r *RPiDriver) inputPin(pin int) (rpio.Pin, error) {
	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as input
		if err := r.SetupPin(pin, Input); err != nil {
			return 0, err
		}
		p = r.pins[pin]
	}
	return p, nil
}

func pollPulse(ctx context.Context, clk clock.Clock, p pinReader, pin int, level Level, timeout time.Duration) (time.Duration, error) {
	deadline := clk.Now().Add(timeout)
	expired := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !clk.Now().Before(deadline) {
			return errors.Wrapf(ErrPulseTimeout, "pin %d: no %v pulse within %v", pin, level, timeout)
		}
		return nil
	}

	for levelOf(p.Read()) == level {
		if err := expired(); err != nil {
			return 0, err
		}
	}
	for levelOf(p.Read()) != level {
		if err := expired(); err != nil {
			return 0, err
		}
	}
	start := clk.Now()
	for levelOf(p.Read()) == level {
		if err := expired(); err != nil {
			return 0, err
		}
	}
	return clk.Since(start), nil
}

func levelOf(s rpio.State) Level {
	if s == rpio.High {
		return High
	}
	return Low
}

func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")

	// Reset all pins to input (safe state)
	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		p.Input()
	}

	return rpi.Release()
}
