package actuator

import (
	"github.com/cjeanneret/RoverGo/internal/debug"
	"github.com/cjeanneret/RoverGo/internal/hw/pwm"
)

// DriveConfig holds the hardware configuration for the two wheels.
// The wheels are mirrored on the chassis, so one side normally has
// DutyMin > DutyMax.
type DriveConfig struct {
	PWM   PWMConfig
	Left  Binding
	Right Binding
}

// DriveDuty is what one Update wrote.
type DriveDuty struct {
	Left  uint32 `json:"left"`
	Right uint32 `json:"right"`
}

// DifferentialDrive sets the velocity of two continuous-rotation servos.
// The middle of each valid range is zero velocity.
type DifferentialDrive struct {
	pair
}

// NewDifferentialDrive validates both calibrations, then configures and
// attaches the left and right channels on out.
func NewDifferentialDrive(out pwm.Output, cfg DriveConfig) (*DifferentialDrive, error) {
	if cfg.Left.Name == "" {
		cfg.Left.Name = "left"
	}
	if cfg.Right.Name == "" {
		cfg.Right.Name = "right"
	}
	p, err := newPair(out, cfg.PWM, cfg.Left, cfg.Right)
	if err != nil {
		return nil, err
	}
	debug.Verbose("Drive ready: left ch%d pin%d axis %s, right ch%d pin%d axis %s",
		cfg.Left.Channel, cfg.Left.Pin, cfg.Left.Axis, cfg.Right.Channel, cfg.Right.Pin, cfg.Right.Axis)
	return &DifferentialDrive{pair: p}, nil
}

// Update writes one velocity duty per wheel.
func (d *DifferentialDrive) Update(s AxisSample) (DriveDuty, error) {
	left, right, err := d.update(s)
	if err != nil {
		return DriveDuty{}, err
	}
	debug.Duty("drive", left, right)
	return DriveDuty{Left: left, Right: right}, nil
}

// Stop writes the zero-velocity duty to both wheels.
func (d *DifferentialDrive) Stop() (DriveDuty, error) {
	left, right, err := d.rest()
	if err != nil {
		return DriveDuty{}, err
	}
	debug.Live("Drive stopped (left=%d right=%d)", left, right)
	return DriveDuty{Left: left, Right: right}, nil
}
