package pwm

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
	"periph.io/x/host/v3"

	"github.com/cjeanneret/RoverGo/internal/debug"
)

// The PCA9685 has 16 outputs with a 12-bit counter and one shared prescaler.
const (
	pcaChannels = 16
	pcaBits     = 12
)

// pcaDevice is the subset of *pca9685.Dev used here.
type pcaDevice interface {
	SetPwmFreq(freqHz physic.Frequency) error
	SetPwm(channel int, on, off gpio.Duty) error
	SetAllPwm(on, off gpio.Duty) error
}

// PCA9685Output drives a PCA9685 16-channel board over I²C. Its outputs are
// hard-wired, so a channel can only be attached to the pin of the same number.
type PCA9685Output struct {
	dev       pcaDevice
	bus       io.Closer
	channels  map[int]channelConfig
	attached  map[int]bool
	frequency int
}

// NewPCA9685Output opens the I²C bus (empty name = first bus) and the board
// at addr (0 = default 0x40).
func NewPCA9685Output(busName string, addr uint16) (*PCA9685Output, error) {
	debug.Info("Initializing PCA9685 PWM output (periph.io)")
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "periph host init")
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Wrapf(err, "open I2C bus %q", busName)
	}
	if addr == 0 {
		addr = pca9685.I2CAddr
	}
	dev, err := pca9685.NewI2C(bus, addr)
	if err != nil {
		bus.Close()
		return nil, errors.Wrapf(err, "pca9685 at 0x%02x", addr)
	}
	return newPCA9685(dev, bus), nil
}

func newPCA9685(dev pcaDevice, bus io.Closer) *PCA9685Output {
	return &PCA9685Output{
		dev:      dev,
		bus:      bus,
		channels: make(map[int]channelConfig),
		attached: make(map[int]bool),
	}
}

func (p *PCA9685Output) Configure(channel, frequencyHz, resolutionBits int) error {
	debug.PWM("Configure", channel, fmt.Sprintf("%dHz/%dbit", frequencyHz, resolutionBits))
	if err := validate(channel, frequencyHz, resolutionBits); err != nil {
		return err
	}
	if channel >= pcaChannels {
		return fmt.Errorf("pca9685 has channels 0-%d, got %d", pcaChannels-1, channel)
	}
	switch {
	case p.frequency == 0:
		if err := p.dev.SetPwmFreq(physic.Frequency(frequencyHz) * physic.Hertz); err != nil {
			return errors.Wrapf(err, "set pca9685 frequency %dHz", frequencyHz)
		}
		p.frequency = frequencyHz
	case p.frequency != frequencyHz:
		return fmt.Errorf("channel %d: pca9685 already runs at %dHz, cannot use %dHz", channel, p.frequency, frequencyHz)
	}
	p.channels[channel] = channelConfig{frequencyHz: frequencyHz, resolutionBits: resolutionBits}
	return nil
}

func (p *PCA9685Output) Attach(pin, channel int) error {
	debug.PWM("Attach", channel, pin)
	if _, ok := p.channels[channel]; !ok {
		return errors.Wrapf(ErrNotConfigured, "attach pin %d", pin)
	}
	if pin != channel {
		return fmt.Errorf("pca9685 output %d is fixed to channel %d, cannot attach to channel %d", pin, pin, channel)
	}
	p.attached[channel] = true
	return nil
}

func (p *PCA9685Output) Write(channel int, duty uint32) error {
	debug.PWM("Write", channel, duty)
	cfg, ok := p.channels[channel]
	if !ok {
		return errors.Wrapf(ErrNotConfigured, "write channel %d", channel)
	}
	if duty > MaxDuty(cfg.resolutionBits) {
		return fmt.Errorf("channel %d: duty %d exceeds %d-bit resolution", channel, duty, cfg.resolutionBits)
	}
	return p.dev.SetPwm(channel, 0, gpio.Duty(toCounts(duty, cfg.resolutionBits)))
}

// toCounts rescales a duty expressed in bits of resolution to the board's
// 12-bit counter.
func toCounts(duty uint32, bits int) uint32 {
	if bits == pcaBits {
		return duty
	}
	return uint32(uint64(duty) * (1 << pcaBits) / (uint64(MaxDuty(bits)) + 1))
}

func (p *PCA9685Output) Close() error {
	debug.Trace("PWM Close (pca9685)")
	err := p.dev.SetAllPwm(0, 0)
	if p.bus != nil {
		if cerr := p.bus.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
