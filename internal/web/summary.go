package web

import (
	"fmt"

	"github.com/cjeanneret/RoverGo/internal/config"
	"github.com/cjeanneret/RoverGo/internal/hw/pwm"
	"github.com/cjeanneret/RoverGo/internal/logic/actuator"
	"github.com/cjeanneret/RoverGo/internal/logic/mapping"
)

// AxisSummary describes one calibrated servo for GET /config.
type AxisSummary struct {
	Name            string  `json:"name"`
	Axis            string  `json:"axis"`
	Pin             int     `json:"pin"`
	Channel         int     `json:"channel"`
	CenteringOffset int     `json:"centering_offset"`
	ValidMin        int     `json:"valid_min"`
	ValidMax        int     `json:"valid_max"`
	DutyMin         int     `json:"duty_min"`
	DutyMax         int     `json:"duty_max"`
	PulseMinUs      float64 `json:"pulse_min_us"` // DutyMin as a pulse width
	PulseMaxUs      float64 `json:"pulse_max_us"`
	RestDuty        uint32  `json:"rest_duty"` // centred servo / stopped wheel
}

// ConfigSummary is the calibration view served by GET /config.
type ConfigSummary struct {
	PWMBackend       string        `json:"pwm_backend"`
	GPIOBackend      string        `json:"gpio_backend"`
	MockGPIO         bool          `json:"mock_gpio"`
	FrequencyHz      int           `json:"frequency_hz"`
	ResolutionBits   int           `json:"resolution_bits"`
	TickMs           int           `json:"tick_ms"`
	SonarEvery       int           `json:"sonar_every"`
	SonarTimeoutMs   int           `json:"sonar_timeout_ms"`
	SonarCalibration string        `json:"sonar_calibration"`
	Axes             []AxisSummary `json:"axes"`
}

// NewConfigSummary flattens a loaded configuration.
func NewConfigSummary(cfg *config.Config) (ConfigSummary, error) {
	s := ConfigSummary{
		PWMBackend:     cfg.PWMOptions().Backend,
		GPIOBackend:    cfg.GPIO.Backend,
		MockGPIO:       cfg.Defaults.MockGPIO,
		FrequencyHz:    cfg.PWM.FrequencyHz,
		ResolutionBits: cfg.PWM.ResolutionBits,
		TickMs:         cfg.Defaults.TickMs,
		SonarEvery:     cfg.Defaults.SonarEvery,
		SonarTimeoutMs: cfg.Sonar.TimeoutMs,
	}
	sc, err := cfg.SonarConfig()
	if err != nil {
		return ConfigSummary{}, err
	}
	s.SonarCalibration = fmt.Sprint(sc.Calibration)

	pt, drv := cfg.PanTiltConfig(), cfg.DriveConfig()
	for _, b := range []actuator.Binding{pt.Pan, pt.Tilt, drv.Left, drv.Right} {
		a, err := summarizeAxis(b, pt.PWM)
		if err != nil {
			return ConfigSummary{}, err
		}
		s.Axes = append(s.Axes, a)
	}
	return s, nil
}

func summarizeAxis(b actuator.Binding, p actuator.PWMConfig) (AxisSummary, error) {
	c := b.Calibration
	rest, err := c.Rest()
	if err != nil {
		return AxisSummary{}, fmt.Errorf("%s: %w", b.Name, err)
	}
	lo, err := PulseWidthUs(c.DutyMin, p)
	if err != nil {
		return AxisSummary{}, fmt.Errorf("%s: %w", b.Name, err)
	}
	hi, err := PulseWidthUs(c.DutyMax, p)
	if err != nil {
		return AxisSummary{}, fmt.Errorf("%s: %w", b.Name, err)
	}
	return AxisSummary{
		Name:            b.Name,
		Axis:            string(b.Axis),
		Pin:             b.Pin,
		Channel:         b.Channel,
		CenteringOffset: c.CenteringOffset,
		ValidMin:        c.ValidMin,
		ValidMax:        c.ValidMax,
		DutyMin:         c.DutyMin,
		DutyMax:         c.DutyMax,
		PulseMinUs:      lo,
		PulseMaxUs:      hi,
		RestDuty:        rest,
	}, nil
}

// PulseWidthUs converts a duty value to the high time of one PWM period.
// At 50Hz and 16 bits, 8888 is about 2712µs.
func PulseWidthUs(duty int, p actuator.PWMConfig) (float64, error) {
	if p.FrequencyHz <= 0 {
		return 0, fmt.Errorf("pulse width: frequency must be > 0, got %d", p.FrequencyHz)
	}
	period := 1e6 / float64(p.FrequencyHz)
	return mapping.RemapFloat(float64(duty), 0, float64(pwm.MaxDuty(p.ResolutionBits))+1, 0, period)
}
