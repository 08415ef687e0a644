package actuator

import (
	"github.com/cjeanneret/RoverGo/internal/debug"
	"github.com/cjeanneret/RoverGo/internal/hw/pwm"
)

// PanTiltConfig holds the hardware configuration for the camera head.
type PanTiltConfig struct {
	PWM  PWMConfig
	Pan  Binding
	Tilt Binding
}

// PanTiltDuty is what one Update wrote.
type PanTiltDuty struct {
	Pan  uint32 `json:"pan"`
	Tilt uint32 `json:"tilt"`
}

// PanTilt positions the two camera servos from axis samples.
// Not safe for concurrent use.
type PanTilt struct {
	pair
}

// NewPanTilt validates both calibrations, then configures and attaches the
// pan and tilt channels on out.
func NewPanTilt(out pwm.Output, cfg PanTiltConfig) (*PanTilt, error) {
	if cfg.Pan.Name == "" {
		cfg.Pan.Name = "pan"
	}
	if cfg.Tilt.Name == "" {
		cfg.Tilt.Name = "tilt"
	}
	p, err := newPair(out, cfg.PWM, cfg.Pan, cfg.Tilt)
	if err != nil {
		return nil, err
	}
	debug.Verbose("Pan/tilt ready: pan ch%d pin%d axis %s, tilt ch%d pin%d axis %s",
		cfg.Pan.Channel, cfg.Pan.Pin, cfg.Pan.Axis, cfg.Tilt.Channel, cfg.Tilt.Pin, cfg.Tilt.Axis)
	return &PanTilt{pair: p}, nil
}

// Update clamps, remaps and writes one duty per servo. Out-of-range samples
// are clamped, never rejected.
func (pt *PanTilt) Update(s AxisSample) (PanTiltDuty, error) {
	pan, tilt, err := pt.update(s)
	if err != nil {
		return PanTiltDuty{}, err
	}
	debug.Duty("pan/tilt", pan, tilt)
	return PanTiltDuty{Pan: pan, Tilt: tilt}, nil
}

// Center parks both servos at the middle of their valid travel.
func (pt *PanTilt) Center() (PanTiltDuty, error) {
	pan, tilt, err := pt.rest()
	if err != nil {
		return PanTiltDuty{}, err
	}
	debug.Live("Pan/tilt centered (pan=%d tilt=%d)", pan, tilt)
	return PanTiltDuty{Pan: pan, Tilt: tilt}, nil
}
