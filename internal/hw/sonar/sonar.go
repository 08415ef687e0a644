// Package sonar drives an HC-SR04 style ultrasonic rangefinder through the
// digital I/O capability.
package sonar

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/cjeanneret/RoverGo/internal/debug"
	"github.com/cjeanneret/RoverGo/internal/hw/gpio"
)

// ErrRangeTimeout means no echo was observed within Config.Timeout.
// It is recoverable: the caller may ping again later.
var ErrRangeTimeout = errors.New("sonar range timeout")

const (
	DefaultTimeout     = 50 * time.Millisecond
	DefaultSettleDelay = 2 * time.Microsecond
	DefaultPulseWidth  = 10 * time.Microsecond
)

// Config holds the pins, timings and calibration of a rangefinder.
// Zero durations and a nil Clock take the defaults.
type Config struct {
	TriggerPin  int
	EchoPin     int
	Timeout     time.Duration // max wait for the echo pulse
	SettleDelay time.Duration // trigger held LOW before the ping
	PulseWidth  time.Duration // trigger HIGH time
	Calibration Calibration
	Clock       clock.Clock
}

// Measurement is one ping. It is never cached.
type Measurement struct {
	Echo     time.Duration `json:"echo"`
	Distance float64       `json:"distance"`
	At       time.Time     `json:"at"`
}

// Rangefinder owns a trigger/echo pin pair.
//
// Measure blocks the caller for up to SettleDelay+PulseWidth+Timeout.
// Not safe for concurrent use.
type Rangefinder struct {
	io  gpio.Driver
	cfg Config
}

// New sets the echo pin as input and the trigger pin as output, driven LOW.
func New(io gpio.Driver, cfg Config) (*Rangefinder, error) {
	if io == nil {
		return nil, errors.New("sonar: nil gpio driver")
	}
	if cfg.TriggerPin == cfg.EchoPin {
		return nil, fmt.Errorf("sonar: trigger and echo share pin %d", cfg.TriggerPin)
	}
	if cfg.Calibration == nil {
		return nil, errors.New("sonar: no calibration")
	}
	if err := cfg.Calibration.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.PulseWidth <= 0 {
		cfg.PulseWidth = DefaultPulseWidth
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	if err := io.SetupPin(cfg.EchoPin, gpio.Input); err != nil {
		return nil, errors.Wrapf(err, "sonar: echo pin %d", cfg.EchoPin)
	}
	if err := io.SetupPin(cfg.TriggerPin, gpio.Output); err != nil {
		return nil, errors.Wrapf(err, "sonar: trigger pin %d", cfg.TriggerPin)
	}
	if err := io.WritePin(cfg.TriggerPin, gpio.Low); err != nil {
		return nil, errors.Wrapf(err, "sonar: trigger pin %d", cfg.TriggerPin)
	}

	debug.Verbose("Sonar ready: trigger=%d echo=%d timeout=%v calibration=%v",
		cfg.TriggerPin, cfg.EchoPin, cfg.Timeout, cfg.Calibration)
	return &Rangefinder{io: io, cfg: cfg}, nil
}

// Timeout is the echo wait window in use.
func (r *Rangefinder) Timeout() time.Duration { return r.cfg.Timeout }

// Measure pings once and converts the echo.
// Sequence: trigger LOW (settle) -> HIGH (pulse) -> LOW -> time the echo.
func (r *Rangefinder) Measure(ctx context.Context) (Measurement, error) {
	if err := ctx.Err(); err != nil {
		return Measurement{}, err
	}

	// 1. Clean LOW so the HIGH edge is sharp
	if err := r.io.WritePin(r.cfg.TriggerPin, gpio.Low); err != nil {
		return Measurement{}, errors.Wrap(err, "sonar: trigger low")
	}
	r.cfg.Clock.Sleep(r.cfg.SettleDelay)

	// 2. Ping
	if err := r.io.WritePin(r.cfg.TriggerPin, gpio.High); err != nil {
		return Measurement{}, errors.Wrap(err, "sonar: trigger high")
	}
	r.cfg.Clock.Sleep(r.cfg.PulseWidth)

	// 3. Release
	if err := r.io.WritePin(r.cfg.TriggerPin, gpio.Low); err != nil {
		return Measurement{}, errors.Wrap(err, "sonar: trigger release")
	}

	// 4. Time the echo
	echo, err := r.io.MeasurePulse(ctx, r.cfg.EchoPin, gpio.High, r.cfg.Timeout)
	if err != nil {
		if errors.Is(err, gpio.ErrPulseTimeout) {
			return Measurement{}, errors.Wrapf(ErrRangeTimeout, "no echo on pin %d within %v", r.cfg.EchoPin, r.cfg.Timeout)
		}
		return Measurement{}, errors.Wrap(err, "sonar: echo")
	}

	m := Measurement{
		Echo:     echo,
		Distance: r.cfg.Calibration.Distance(echo),
		At:       r.cfg.Clock.Now(),
	}
	debug.Range(m.Distance, echo.Microseconds())
	return m, nil
}
