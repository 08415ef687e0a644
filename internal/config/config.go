package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/RoverGo/internal/hw/pwm"
	"github.com/cjeanneret/RoverGo/internal/hw/sonar"
	"github.com/cjeanneret/RoverGo/internal/input"
	"github.com/cjeanneret/RoverGo/internal/logic/actuator"
)

// MaxConfigFileBytes caps the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // mock GPIO and PWM (true=dev/test, false=real Raspberry Pi)
	TickMs     int  `yaml:"tick_ms"`     // control loop period
	SonarEvery int  `yaml:"sonar_every"` // ping every N ticks (0 = sonar off); a ping blocks its tick up to sonar.timeout_ms
}

// PWMConfig selects the PWM peripheral and the servo carrier.
type PWMConfig struct {
	Backend        string `yaml:"backend"`         // "pca9685" or "rpio"
	FrequencyHz    int    `yaml:"frequency_hz"`    // servo frame rate, 50Hz for SG90/FS90R
	ResolutionBits int    `yaml:"resolution_bits"` // duty resolution
	I2CBus         string `yaml:"i2c_bus"`         // pca9685: bus name, "" = first
	I2CAddr        int    `yaml:"i2c_addr"`        // pca9685: 0 = 0x40
}

// GPIOConfig selects the digital I/O backend used by the sonar.
type GPIOConfig struct {
	Backend string `yaml:"backend"` // "rpio" or "periph"
}

// AxisConfig binds one servo to a controller axis.
type AxisConfig struct {
	Axis            string `yaml:"axis"` // "x" or "y"
	Pin             int    `yaml:"pin"`
	Channel         int    `yaml:"channel"`
	CenteringOffset int    `yaml:"centering_offset"` // added to the raw sample (empirical)
	ValidMin        int    `yaml:"valid_min"`        // safe travel after offset (empirical)
	ValidMax        int    `yaml:"valid_max"`
	DutyMin         int    `yaml:"duty_min"`            // duty at valid_min
	DutyMax         int    `yaml:"duty_max"`            // duty at valid_max; lower than duty_min inverts
	RestDuty        *int   `yaml:"rest_duty,omitempty"` // centred/stopped duty; unset = valid range midpoint
}

// PanTiltSection holds the camera head servos. A missing axis takes the
// stock calibration.
type PanTiltSection struct {
	Pan  *AxisConfig `yaml:"pan,omitempty"`
	Tilt *AxisConfig `yaml:"tilt,omitempty"`
}

// DriveSection holds the wheel servos. A missing wheel takes the stock
// calibration.
type DriveSection struct {
	Left  *AxisConfig `yaml:"left,omitempty"`
	Right *AxisConfig `yaml:"right,omitempty"`
}

// SonarCalibrationConfig picks the distance formula.
type SonarCalibrationConfig struct {
	Form      string  `yaml:"form"`    // "integer" or "affine"
	Divisor   int64   `yaml:"divisor"` // integer: µs/divisor/2 + offset
	Offset    int64   `yaml:"offset"`
	A         float64 `yaml:"a"` // affine: µs/a - b
	B         float64 `yaml:"b"`
	LinearFit bool    `yaml:"linear_fit"` // affine: a, b are raw fit constants, b is divided by a
}

// SonarConfig describes the rangefinder.
type SonarConfig struct {
	TriggerPin   int                    `yaml:"trigger_pin"`
	EchoPin      int                    `yaml:"echo_pin"`
	TimeoutMs    int                    `yaml:"timeout_ms"`     // echo wait window
	PulseWidthUs int                    `yaml:"pulse_width_us"` // trigger HIGH time
	Calibration  SonarCalibrationConfig `yaml:"calibration"`
}

// InputConfig describes where axis samples come from.
type InputConfig struct {
	Source     string `yaml:"source"`      // "stdin" or "serial"
	SerialPort string `yaml:"serial_port"` // e.g. /dev/ttyUSB0
	BaudRate   int    `yaml:"baud_rate"`
}

// Config aggregates all application configuration.
type Config struct {
	Defaults DefaultsConfig `yaml:"defaults"`
	PWM      PWMConfig      `yaml:"pwm"`
	GPIO     GPIOConfig     `yaml:"gpio"`
	PanTilt  PanTiltSection `yaml:"pan_tilt"`
	Drive    DriveSection   `yaml:"drive"`
	Sonar    SonarConfig    `yaml:"sonar"`
	Input    InputConfig    `yaml:"input"`
}

// Stock calibrations of the rover: SG90 pan/tilt head and FS90R wheels at
// 50Hz with 16-bit duty. Wheel duty 3266..5612 is the 376..646 velocity
// window of a 10-bit stick expressed on the 0..8888 servo scale.
func stockPan() AxisConfig {
	return AxisConfig{Axis: "x", Pin: 8, Channel: 8, CenteringOffset: 19, ValidMin: 190, ValidMax: 930, DutyMin: 0, DutyMax: 8888}
}

func stockTilt() AxisConfig {
	return AxisConfig{Axis: "y", Pin: 9, Channel: 9, CenteringOffset: 0, ValidMin: 200, ValidMax: 840, DutyMin: 0, DutyMax: 8888}
}

func stockLeft() AxisConfig {
	return AxisConfig{Axis: "x", Pin: 3, Channel: 3, ValidMin: 0, ValidMax: 1023, DutyMin: 3266, DutyMax: 5612}
}

func stockRight() AxisConfig {
	return AxisConfig{Axis: "y", Pin: 2, Channel: 2, ValidMin: 0, ValidMax: 1023, DutyMin: 5612, DutyMax: 3266}
}

// ValidateConfigPath accepts only a .yaml file directly inside a configs/
// directory, with no ".." component.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	clean := filepath.Clean(path)
	for _, part := range strings.Split(filepath.ToSlash(clean), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q escapes its directory", path)
		}
	}
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q: extension must be .yaml", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q: file must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file larger than %d bytes", MaxConfigFileBytes)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("config file %s is empty", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Defaults.TickMs <= 0 {
		c.Defaults.TickMs = 20 // 50Hz, one servo frame
	}
	if c.Defaults.SonarEvery < 0 {
		return fmt.Errorf("defaults.sonar_every must be >= 0, got %d", c.Defaults.SonarEvery)
	}

	if c.PWM.Backend == "" {
		c.PWM.Backend = pwm.BackendPCA9685
	}
	if c.PWM.FrequencyHz <= 0 {
		c.PWM.FrequencyHz = 50
	}
	if c.PWM.ResolutionBits <= 0 {
		c.PWM.ResolutionBits = 16
	}

	if c.PanTilt.Pan == nil {
		p := stockPan()
		c.PanTilt.Pan = &p
	}
	if c.PanTilt.Tilt == nil {
		t := stockTilt()
		c.PanTilt.Tilt = &t
	}
	if c.Drive.Left == nil {
		l := stockLeft()
		c.Drive.Left = &l
	}
	if c.Drive.Right == nil {
		r := stockRight()
		c.Drive.Right = &r
	}

	if c.Sonar.TriggerPin == 0 && c.Sonar.EchoPin == 0 {
		c.Sonar.TriggerPin, c.Sonar.EchoPin = 23, 24
	}
	if c.Sonar.TimeoutMs <= 0 {
		c.Sonar.TimeoutMs = 50 // ~8m round trip
	}
	if c.Sonar.PulseWidthUs <= 0 {
		c.Sonar.PulseWidthUs = 10
	}
	if c.Sonar.Calibration.Form == "" {
		c.Sonar.Calibration.Form = "integer"
	}
	if c.Sonar.Calibration.Form == "integer" && c.Sonar.Calibration.Divisor == 0 {
		c.Sonar.Calibration.Divisor = 29 // µs per cm
	}

	if c.Input.Source == "" {
		c.Input.Source = input.SourceStdin
	}
	if c.Input.BaudRate <= 0 {
		c.Input.BaudRate = 115200
	}
	return nil
}

func (c *Config) validate() error {
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	switch c.PWM.Backend {
	case pwm.BackendPCA9685, pwm.BackendRPi, pwm.BackendMock:
	default:
		return fmt.Errorf("pwm.backend must be pca9685, rpio or mock, got %q", c.PWM.Backend)
	}
	if c.PWM.ResolutionBits > 32 {
		return fmt.Errorf("pwm.resolution_bits must be <= 32, got %d", c.PWM.ResolutionBits)
	}
	if c.PWM.I2CAddr < 0 || c.PWM.I2CAddr > 0x7f {
		return fmt.Errorf("pwm.i2c_addr must be a 7-bit address, got %#x", c.PWM.I2CAddr)
	}

	axes := []struct {
		name string
		cfg  *AxisConfig
	}{
		{"pan_tilt.pan", c.PanTilt.Pan},
		{"pan_tilt.tilt", c.PanTilt.Tilt},
		{"drive.left", c.Drive.Left},
		{"drive.right", c.Drive.Right},
	}
	channels := make(map[int]string, len(axes))
	pins := make(map[int]string, len(axes))
	for _, a := range axes {
		if _, err := actuator.ParseAxis(a.cfg.Axis); err != nil {
			return fmt.Errorf("%s: %w", a.name, err)
		}
		if err := a.cfg.calibration().Validate(c.PWM.ResolutionBits); err != nil {
			return fmt.Errorf("%s: %w", a.name, err)
		}
		if other, ok := channels[a.cfg.Channel]; ok {
			return fmt.Errorf("%s and %s share pwm channel %d", other, a.name, a.cfg.Channel)
		}
		channels[a.cfg.Channel] = a.name
		if other, ok := pins[a.cfg.Pin]; ok {
			return fmt.Errorf("%s and %s share pin %d", other, a.name, a.cfg.Pin)
		}
		pins[a.cfg.Pin] = a.name
	}

	if c.Sonar.TriggerPin == c.Sonar.EchoPin {
		return fmt.Errorf("sonar.trigger_pin and sonar.echo_pin must differ, both are %d", c.Sonar.TriggerPin)
	}
	if _, err := c.Sonar.Calibration.build(); err != nil {
		return err
	}

	switch c.Input.Source {
	case input.SourceStdin:
	case input.SourceSerial:
		if c.Input.SerialPort == "" {
			return fmt.Errorf("input.serial_port is required for the serial source")
		}
	default:
		return fmt.Errorf("input.source must be stdin or serial, got %q", c.Input.Source)
	}
	return nil
}

func (a AxisConfig) calibration() actuator.Calibration {
	return actuator.Calibration{
		CenteringOffset: a.CenteringOffset,
		ValidMin:        a.ValidMin,
		ValidMax:        a.ValidMax,
		DutyMin:         a.DutyMin,
		DutyMax:         a.DutyMax,
		RestDuty:        a.RestDuty,
	}
}

func (a AxisConfig) binding(name string) actuator.Binding {
	return actuator.Binding{
		Name:        name,
		Axis:        actuator.Axis(a.Axis),
		Pin:         a.Pin,
		Channel:     a.Channel,
		Calibration: a.calibration(),
	}
}

func (s SonarCalibrationConfig) build() (sonar.Calibration, error) {
	var cal sonar.Calibration
	switch s.Form {
	case "integer":
		cal = sonar.IntegerCalibration{Divisor: s.Divisor, Offset: s.Offset}
	case "affine":
		if s.LinearFit {
			cal = sonar.FromLinearFit(s.A, s.B)
		} else {
			cal = sonar.AffineCalibration{A: s.A, B: s.B}
		}
	default:
		return nil, fmt.Errorf("sonar.calibration.form must be integer or affine, got %q", s.Form)
	}
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("sonar.calibration: %w", err)
	}
	return cal, nil
}

// PWMOptions returns the PWM backend selection. Mock mode overrides the
// configured backend.
func (c *Config) PWMOptions() pwm.Options {
	backend := c.PWM.Backend
	if c.Defaults.MockGPIO {
		backend = pwm.BackendMock
	}
	return pwm.Options{Backend: backend, I2CBus: c.PWM.I2CBus, I2CAddr: uint16(c.PWM.I2CAddr)}
}

func (c *Config) actuatorPWM() actuator.PWMConfig {
	return actuator.PWMConfig{FrequencyHz: c.PWM.FrequencyHz, ResolutionBits: c.PWM.ResolutionBits}
}

// PanTiltConfig returns the camera head configuration.
func (c *Config) PanTiltConfig() actuator.PanTiltConfig {
	return actuator.PanTiltConfig{
		PWM:  c.actuatorPWM(),
		Pan:  c.PanTilt.Pan.binding("pan"),
		Tilt: c.PanTilt.Tilt.binding("tilt"),
	}
}

// DriveConfig returns the wheel configuration.
func (c *Config) DriveConfig() actuator.DriveConfig {
	return actuator.DriveConfig{
		PWM:   c.actuatorPWM(),
		Left:  c.Drive.Left.binding("left"),
		Right: c.Drive.Right.binding("right"),
	}
}

// SonarConfig returns the rangefinder configuration.
func (c *Config) SonarConfig() (sonar.Config, error) {
	cal, err := c.Sonar.Calibration.build()
	if err != nil {
		return sonar.Config{}, err
	}
	return sonar.Config{
		TriggerPin:  c.Sonar.TriggerPin,
		EchoPin:     c.Sonar.EchoPin,
		Timeout:     c.SonarTimeout(),
		PulseWidth:  time.Duration(c.Sonar.PulseWidthUs) * time.Microsecond,
		Calibration: cal,
	}, nil
}

// TickInterval returns the control loop period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Defaults.TickMs) * time.Millisecond
}

// SonarTimeout returns the echo wait window.
func (c *Config) SonarTimeout() time.Duration {
	return time.Duration(c.Sonar.TimeoutMs) * time.Millisecond
}
