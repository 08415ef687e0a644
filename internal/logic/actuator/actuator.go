// Package actuator turns controller axis samples into PWM duty cycles for the
// pan/tilt head and the two drive wheels.
//
// Every channel runs the same pipeline:
//
//	duty = Remap(Clamp(raw+offset, validMin, validMax), validMin, validMax, dutyMin, dutyMax)
//
// Direction inversion is expressed only by giving dutyMin > dutyMax.
package actuator

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/cjeanneret/RoverGo/internal/hw/pwm"
	"github.com/cjeanneret/RoverGo/internal/logic/mapping"
)

// ErrPeripheralAttach is returned by the constructors when the PWM output
// refuses to configure a channel or attach a pin. The actuator is unusable.
var ErrPeripheralAttach = errors.New("pwm peripheral attach failed")

// Axis selects one coordinate of an AxisSample.
type Axis string

const (
	AxisX Axis = "x"
	AxisY Axis = "y"
)

// ParseAxis accepts "x" or "y".
func ParseAxis(s string) (Axis, error) {
	switch Axis(s) {
	case AxisX, AxisY:
		return Axis(s), nil
	}
	return "", fmt.Errorf("unknown axis %q (want x or y)", s)
}

// AxisSample is one controller reading.
type AxisSample struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Value returns the coordinate selected by a.
func (s AxisSample) Value(a Axis) int {
	if a == AxisY {
		return s.Y
	}
	return s.X
}

// PWMConfig is the carrier shared by the channels of one actuator.
type PWMConfig struct {
	FrequencyHz    int
	ResolutionBits int
}

func (c PWMConfig) validate() error {
	if c.FrequencyHz <= 0 {
		return fmt.Errorf("pwm frequency must be > 0, got %d", c.FrequencyHz)
	}
	if c.ResolutionBits < 1 || c.ResolutionBits > 32 {
		return fmt.Errorf("pwm resolution must be 1-32 bits, got %d", c.ResolutionBits)
	}
	return nil
}

// Calibration describes one physical axis.
type Calibration struct {
	CenteringOffset int // added to the raw sample before clamping
	ValidMin        int // safe mechanical travel, after offset
	ValidMax        int
	DutyMin         int // duty at ValidMin
	DutyMax         int // duty at ValidMax; may be below DutyMin

	// RestDuty overrides the midpoint rest duty when set, e.g. 4915 parks
	// a servo at 1500µs on a 50Hz 16-bit carrier.
	RestDuty *int
}

// Validate checks the calibration against a PWM resolution.
func (c Calibration) Validate(resolutionBits int) error {
	if c.ValidMin >= c.ValidMax {
		return errors.Wrapf(mapping.ErrInvalidCalibration, "valid range [%d, %d] is empty", c.ValidMin, c.ValidMax)
	}
	limit := int64(pwm.MaxDuty(resolutionBits))
	duties := []int{c.DutyMin, c.DutyMax}
	if c.RestDuty != nil {
		duties = append(duties, *c.RestDuty)
	}
	for _, d := range duties {
		if d < 0 || int64(d) > limit {
			return errors.Wrapf(mapping.ErrInvalidCalibration, "duty %d outside %d-bit range [0, %d]", d, resolutionBits, limit)
		}
	}
	return nil
}

// Duty runs the clamp and remap pipeline for one raw sample. The offset is
// added with saturation so extreme samples still clamp to the nearer end.
func (c Calibration) Duty(raw int) (uint32, error) {
	v := mapping.Clamp(mapping.SaturatingAdd(raw, c.CenteringOffset), c.ValidMin, c.ValidMax)
	return c.remap(v)
}

// Rest is the duty at the middle of the valid range: centred for a servo,
// zero velocity for a continuous-rotation wheel. RestDuty replaces it when set.
func (c Calibration) Rest() (uint32, error) {
	if c.RestDuty != nil {
		return uint32(*c.RestDuty), nil
	}
	return c.remap(c.ValidMin + (c.ValidMax-c.ValidMin)/2)
}

func (c Calibration) remap(v int) (uint32, error) {
	d, err := mapping.Remap(v, c.ValidMin, c.ValidMax, c.DutyMin, c.DutyMax)
	if err != nil {
		return 0, err
	}
	return uint32(d), nil
}

// Binding ties a named physical axis to an input axis, an output pin and a
// PWM channel.
type Binding struct {
	Name        string
	Axis        Axis
	Pin         int
	Channel     int
	Calibration Calibration
}

func (b Binding) validate(resolutionBits int) error {
	if b.Axis != AxisX && b.Axis != AxisY {
		return fmt.Errorf("%s: unknown axis %q", b.Name, b.Axis)
	}
	if b.Pin < 0 || b.Channel < 0 {
		return fmt.Errorf("%s: pin %d and channel %d must be >= 0", b.Name, b.Pin, b.Channel)
	}
	if err := b.Calibration.Validate(resolutionBits); err != nil {
		return errors.Wrap(err, b.Name)
	}
	return nil
}

// pair is the two-channel core shared by PanTilt and DifferentialDrive.
type pair struct {
	out           pwm.Output
	first, second Binding
}

func newPair(out pwm.Output, cfg PWMConfig, first, second Binding) (pair, error) {
	if out == nil {
		return pair{}, errors.New("nil pwm output")
	}
	if err := cfg.validate(); err != nil {
		return pair{}, err
	}
	for _, b := range []Binding{first, second} {
		if err := b.validate(cfg.ResolutionBits); err != nil {
			return pair{}, err
		}
	}
	if first.Channel == second.Channel {
		return pair{}, fmt.Errorf("%s and %s share channel %d", first.Name, second.Name, first.Channel)
	}
	if first.Pin == second.Pin {
		return pair{}, fmt.Errorf("%s and %s share pin %d", first.Name, second.Name, first.Pin)
	}

	for _, b := range []Binding{first, second} {
		if err := out.Configure(b.Channel, cfg.FrequencyHz, cfg.ResolutionBits); err != nil {
			return pair{}, fmt.Errorf("%w: configure %s channel %d: %w", ErrPeripheralAttach, b.Name, b.Channel, err)
		}
		if err := out.Attach(b.Pin, b.Channel); err != nil {
			return pair{}, fmt.Errorf("%w: attach %s pin %d to channel %d: %w", ErrPeripheralAttach, b.Name, b.Pin, b.Channel, err)
		}
	}
	return pair{out: out, first: first, second: second}, nil
}

func (p pair) update(s AxisSample) (uint32, uint32, error) {
	a, err := p.first.Calibration.Duty(s.Value(p.first.Axis))
	if err != nil {
		return 0, 0, err
	}
	b, err := p.second.Calibration.Duty(s.Value(p.second.Axis))
	if err != nil {
		return 0, 0, err
	}
	return a, b, p.write(a, b)
}

func (p pair) rest() (uint32, uint32, error) {
	a, err := p.first.Calibration.Rest()
	if err != nil {
		return 0, 0, err
	}
	b, err := p.second.Calibration.Rest()
	if err != nil {
		return 0, 0, err
	}
	return a, b, p.write(a, b)
}

func (p pair) write(a, b uint32) error {
	if err := p.out.Write(p.first.Channel, a); err != nil {
		return errors.Wrapf(err, "write %s", p.first.Name)
	}
	if err := p.out.Write(p.second.Channel, b); err != nil {
		return errors.Wrapf(err, "write %s", p.second.Name)
	}
	return nil
}
