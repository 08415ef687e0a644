package pwm

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"

	"github.com/cjeanneret/RoverGo/internal/debug"
	"github.com/cjeanneret/RoverGo/internal/hw/rpi"
)

// hardwareChannel lists the Raspberry Pi pins (BCM) wired to the two PWM
// generators.
var hardwareChannel = map[int]int{
	12: 0, 18: 0, 40: 0,
	13: 1, 19: 1, 41: 1, 45: 1,
}

// go-rpio accepts PWM clock frequencies in this range.
const (
	minPwmClockHz = 4688
	maxPwmClockHz = 19200000
)

// RPiOutput uses the Raspberry Pi's two hardware PWM generators through
// go-rpio. Only two logical channels can be driven at once; use the pca9685
// backend for more.
type RPiOutput struct {
	channels map[int]channelConfig
	pins     map[int][]rpio.Pin // channel -> attached pins
	hwOwner  map[int]int        // hardware generator -> logical channel
}

// NewRPiOutput maps the PWM registers. PWM needs root on most systems.
func NewRPiOutput() (*RPiOutput, error) {
	debug.Info("Initializing hardware PWM output (go-rpio)")
	if err := rpi.Acquire(); err != nil {
		return nil, err
	}
	return &RPiOutput{
		channels: make(map[int]channelConfig),
		pins:     make(map[int][]rpio.Pin),
		hwOwner:  make(map[int]int),
	}, nil
}

// cycleLen is the number of PWM clock ticks in one period.
func cycleLen(bits int) uint32 {
	return MaxDuty(bits) + 1
}

func (r *RPiOutput) Configure(channel, frequencyHz, resolutionBits int) error {
	debug.PWM("Configure", channel, fmt.Sprintf("%dHz/%dbit", frequencyHz, resolutionBits))
	if err := validate(channel, frequencyHz, resolutionBits); err != nil {
		return err
	}
	clockHz := int64(frequencyHz) * int64(cycleLen(resolutionBits))
	if resolutionBits >= 32 || clockHz < minPwmClockHz || clockHz > maxPwmClockHz {
		return fmt.Errorf("channel %d: %dHz at %d bits needs a %dHz PWM clock, outside %d-%dHz",
			channel, frequencyHz, resolutionBits, clockHz, minPwmClockHz, maxPwmClockHz)
	}
	// Both generators share one clock.
	for other, cfg := range r.channels {
		if other == channel {
			continue
		}
		otherClock := int64(cfg.frequencyHz) * int64(cycleLen(cfg.resolutionBits))
		if otherClock != clockHz {
			return fmt.Errorf("channel %d: PWM clock %dHz conflicts with channel %d (%dHz)", channel, clockHz, other, otherClock)
		}
	}
	r.channels[channel] = channelConfig{frequencyHz: frequencyHz, resolutionBits: resolutionBits}
	return nil
}

func (r *RPiOutput) Attach(pin, channel int) error {
	debug.PWM("Attach", channel, pin)
	cfg, ok := r.channels[channel]
	if !ok {
		return errors.Wrapf(ErrNotConfigured, "attach pin %d", pin)
	}
	hw, ok := hardwareChannel[pin]
	if !ok {
		return fmt.Errorf("pin %d has no hardware PWM", pin)
	}
	if owner, taken := r.hwOwner[hw]; taken && owner != channel {
		return fmt.Errorf("pin %d: PWM generator %d already drives channel %d", pin, hw, owner)
	}

	p := rpio.Pin(pin)
	p.Mode(rpio.Pwm)
	p.Freq(cfg.frequencyHz * int(cycleLen(cfg.resolutionBits)))

	r.hwOwner[hw] = channel
	r.pins[channel] = append(r.pins[channel], p)
	return nil
}

func (r *RPiOutput) Write(channel int, duty uint32) error {
	debug.PWM("Write", channel, duty)
	cfg, ok := r.channels[channel]
	if !ok {
		return errors.Wrapf(ErrNotConfigured, "write channel %d", channel)
	}
	if duty > MaxDuty(cfg.resolutionBits) {
		return fmt.Errorf("channel %d: duty %d exceeds %d-bit resolution", channel, duty, cfg.resolutionBits)
	}
	for _, p := range r.pins[channel] {
		p.DutyCycle(duty, cycleLen(cfg.resolutionBits))
	}
	return nil
}

func (r *RPiOutput) Close() error {
	debug.Trace("PWM Close (go-rpio)")
	for channel, pins := range r.pins {
		for _, p := range pins {
			debug.Verbose("Releasing PWM pin %d (channel %d)", p, channel)
			p.Output()
			p.Low()
		}
	}
	return rpi.Release()
}
