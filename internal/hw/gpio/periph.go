package gpio

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/cjeanneret/RoverGo/internal/debug"
)

// PeriphDriver drives pins through periph.io. Pins are looked up by their
// BCM number. Unlike RPiDriver it waits for edges instead of polling, which
// keeps a CPU core free while the sonar listens for its echo.
type PeriphDriver struct {
	pins  map[int]pgpio.PinIO
	clock clock.Clock
}

// NewPeriphDriver initializes the periph.io host drivers.
func NewPeriphDriver() (*PeriphDriver, error) {
	debug.Info("Initializing real GPIO driver (periph.io)")

	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "periph host init")
	}
	return &PeriphDriver{
		pins:  make(map[int]pgpio.PinIO),
		clock: clock.New(),
	}, nil
}

func (d *PeriphDriver) lookup(pin int) (pgpio.PinIO, error) {
	if p, ok := d.pins[pin]; ok {
		return p, nil
	}
	p := gpioreg.ByName(strconv.Itoa(pin))
	if p == nil {
		return nil, fmt.Errorf("no GPIO pin named %d", pin)
	}
	d.pins[pin] = p
	return p, nil
}

func (d *PeriphDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p, err := d.lookup(pin)
	if err != nil {
		return err
	}
	switch mode {
	case Input:
		return p.In(pgpio.PullDown, pgpio.NoEdge)
	case Output:
		return p.Out(pgpio.Low)
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}
}

func (d *PeriphDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	p, err := d.lookup(pin)
	if err != nil {
		return err
	}
	return p.Out(toPeriph(level))
}

func (d *PeriphDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	p, err := d.lookup(pin)
	if err != nil {
		return Low, err
	}
	return p.Read() == pgpio.High, nil
}

func (d *PeriphDriver) MeasurePulse(ctx context.Context, pin int, level Level, timeout time.Duration) (time.Duration, error) {
	debug.GPIO("MeasurePulse", pin, level)

	p, err := d.lookup(pin)
	if err != nil {
		return 0, err
	}
	return measureEdges(ctx, d.clock, p, pin, level, timeout)
}

// edgePin is the part of pgpio.PinIO needed to time a pulse.
type edgePin interface {
	In(pull pgpio.Pull, edge pgpio.Edge) error
	Read() pgpio.Level
	WaitForEdge(timeout time.Duration) bool
}

// measureEdges arms both edges once and reads the level after each edge to
// tell the start of the pulse from its end. A pulse already in progress is
// skipped.
func measureEdges(ctx context.Context, clk clock.Clock, p edgePin, pin int, level Level, timeout time.Duration) (time.Duration, error) {
	active := toPeriph(level)
	idle := toPeriph(!level)
	deadline := clk.Now().Add(timeout)

	if err := p.In(pgpio.PullDown, pgpio.BothEdges); err != nil {
		return 0, err
	}

	waitLevel := func(want pgpio.Level) error {
		for p.Read() != want {
			if !waitEdge(ctx, clk, p, deadline) {
				if err := ctx.Err(); err != nil {
					return err
				}
				return errors.Wrapf(ErrPulseTimeout, "pin %d: no %v pulse within %v", pin, level, timeout)
			}
		}
		return nil
	}

	if err := waitLevel(idle); err != nil {
		return 0, err
	}
	if err := waitLevel(active); err != nil {
		return 0, err
	}
	start := clk.Now()
	if err := waitLevel(idle); err != nil {
		return 0, err
	}
	return clk.Since(start), nil
}

// waitEdge waits in short slices so ctx is honored even though WaitForEdge
// itself cannot be interrupted.
func waitEdge(ctx context.Context, clk clock.Clock, p edgePin, deadline time.Time) bool {
	const slice = 5 * time.Millisecond
	for {
		if ctx.Err() != nil {
			return false
		}
		remaining := deadline.Sub(clk.Now())
		if remaining <= 0 {
			return false
		}
		if remaining > slice {
			remaining = slice
		}
		if p.WaitForEdge(remaining) {
			return true
		}
	}
}

func toPeriph(l Level) pgpio.Level {
	if l == High {
		return pgpio.High
	}
	return pgpio.Low
}

func (d *PeriphDriver) Close() error {
	debug.Trace("GPIO Close (periph driver)")

	var firstErr error
	for pin, p := range d.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		if err := p.In(pgpio.PullNoChange, pgpio.NoEdge); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
