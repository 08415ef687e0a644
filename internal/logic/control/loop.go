// Package control runs the rover's tick: it feeds the latest axis sample to
// the pan/tilt head and the drive, pings the sonar every few ticks and
// publishes what happened.
//
// Everything runs on the loop's goroutine. A sonar ping blocks the tick it
// runs on for up to the rangefinder timeout, so SonarEvery trades range
// freshness against actuation latency.
package control

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/cjeanneret/RoverGo/internal/debug"
	"github.com/cjeanneret/RoverGo/internal/hw/sonar"
	"github.com/cjeanneret/RoverGo/internal/logic/actuator"
)

// PanTilt is satisfied by *actuator.PanTilt.
type PanTilt interface {
	Update(actuator.AxisSample) (actuator.PanTiltDuty, error)
}

// Drive is satisfied by *actuator.DifferentialDrive.
type Drive interface {
	Update(actuator.AxisSample) (actuator.DriveDuty, error)
	Stop() (actuator.DriveDuty, error)
}

// Ranger is satisfied by *sonar.Rangefinder.
type Ranger interface {
	Measure(ctx context.Context) (sonar.Measurement, error)
}

// Publisher receives the telemetry of every tick.
type Publisher interface {
	Publish(Telemetry)
}

// Telemetry describes one tick.
type Telemetry struct {
	Tick    uint64               `json:"tick"`
	At      time.Time            `json:"at"`
	Sample  actuator.AxisSample  `json:"sample"`
	PanTilt actuator.PanTiltDuty `json:"pan_tilt"`
	Drive   actuator.DriveDuty   `json:"drive"`
	// Range is set on ticks where the sonar answered.
	Range *sonar.Measurement `json:"range,omitempty"`
	// RangeErr is set on ticks where the ping timed out.
	RangeErr   error  `json:"-"`
	RangeError string `json:"range_error,omitempty"`
}

// LoopConfig wires a Loop. Nil components are skipped.
type LoopConfig struct {
	PanTilt    PanTilt
	Drive      Drive
	Sonar      Ranger
	Publisher  Publisher
	Interval   time.Duration // tick period, default 20ms
	SonarEvery int           // ping every N ticks; 0 disables the sonar
	Clock      clock.Clock
}

const defaultInterval = 20 * time.Millisecond

// Loop is the single owner of the actuators and the rangefinder.
type Loop struct {
	cfg  LoopConfig
	tick uint64
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.SonarEvery < 0 {
		cfg.SonarEvery = 0
	}
	return &Loop{cfg: cfg}
}

// Tick applies one sample. Actuator errors are returned. A sonar timeout is
// recorded in the telemetry and the next scheduled ping is the retry.
func (l *Loop) Tick(ctx context.Context, s actuator.AxisSample) (Telemetry, error) {
	l.tick++
	t := Telemetry{Tick: l.tick, At: l.cfg.Clock.Now(), Sample: s}

	if l.cfg.PanTilt != nil {
		d, err := l.cfg.PanTilt.Update(s)
		if err != nil {
			return t, errors.Wrapf(err, "tick %d: pan/tilt", l.tick)
		}
		t.PanTilt = d
	}
	if l.cfg.Drive != nil {
		d, err := l.cfg.Drive.Update(s)
		if err != nil {
			return t, errors.Wrapf(err, "tick %d: drive", l.tick)
		}
		t.Drive = d
	}

	if l.cfg.Sonar != nil && l.cfg.SonarEvery > 0 && l.tick%uint64(l.cfg.SonarEvery) == 0 {
		m, err := l.cfg.Sonar.Measure(ctx)
		switch {
		case err == nil:
			t.Range = &m
		case errors.Is(err, sonar.ErrRangeTimeout):
			debug.Live("Tick %d: %v", l.tick, err)
			t.RangeErr = err
			t.RangeError = err.Error()
		default:
			return t, errors.Wrapf(err, "tick %d: sonar", l.tick)
		}
	}

	if l.cfg.Publisher != nil {
		l.cfg.Publisher.Publish(t)
	}
	return t, nil
}

// Run ticks every Interval with the most recent sample from samples.
// Ticks before the first sample are skipped. When ctx ends or samples is
// closed the drive is stopped and Run returns nil; a tick error stops the
// drive too and is returned.
func (l *Loop) Run(ctx context.Context, samples <-chan actuator.AxisSample) error {
	debug.Section("Control loop")
	debug.Info("Ticking every %v, sonar every %d tick(s)", l.cfg.Interval, l.cfg.SonarEvery)

	ticker := l.cfg.Clock.Ticker(l.cfg.Interval)
	defer ticker.Stop()

	var (
		latest actuator.AxisSample
		have   bool
	)
	for {
		select {
		case <-ctx.Done():
			debug.Info("Control loop cancelled")
			return l.stop(nil)
		case s, ok := <-samples:
			if !ok {
				debug.Info("Input closed, stopping")
				return l.stop(nil)
			}
			latest, have = s, true
		case <-ticker.C:
			if !have {
				continue
			}
			if _, err := l.Tick(ctx, latest); err != nil {
				if ctx.Err() != nil {
					return l.stop(nil)
				}
				return l.stop(err)
			}
		}
	}
}

func (l *Loop) stop(cause error) error {
	if l.cfg.Drive == nil {
		return cause
	}
	if _, err := l.cfg.Drive.Stop(); err != nil {
		debug.Error(err)
		if cause == nil {
			return errors.Wrap(err, "stop drive")
		}
	}
	return cause
}
