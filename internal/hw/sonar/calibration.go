package sonar

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/RoverGo/internal/logic/mapping"
)

// Calibration converts a round-trip echo duration to a distance.
// Results are not filtered: a bad fit may yield negative or absurd values.
type Calibration interface {
	Distance(echo time.Duration) float64
	Validate() error
}

// IntegerCalibration is the classic HC-SR04 form:
//
//	distance = µs/Divisor/2 + Offset
//
// with integer division at each step. Divisor 29 gives centimetres.
type IntegerCalibration struct {
	Divisor int64
	Offset  int64
}

func (c IntegerCalibration) Distance(echo time.Duration) float64 {
	us := echo.Microseconds()
	return float64(us/c.Divisor/2 + c.Offset)
}

func (c IntegerCalibration) Validate() error {
	if c.Divisor == 0 {
		return errors.Wrap(mapping.ErrInvalidCalibration, "sonar: integer divisor is zero")
	}
	return nil
}

func (c IntegerCalibration) String() string {
	return fmt.Sprintf("µs/%d/2%+d", c.Divisor, c.Offset)
}

// AffineCalibration is a fitted line:
//
//	distance = µs/A - B
type AffineCalibration struct {
	A float64
	B float64
}

// FromLinearFit builds the affine form from a fit of the sensor's raw
// response, where distance = (µs - b)/a. The stored B is b/a.
func FromLinearFit(a, b float64) AffineCalibration {
	if a == 0 {
		return AffineCalibration{A: 0, B: b}
	}
	return AffineCalibration{A: a, B: b / a}
}

func (c AffineCalibration) Distance(echo time.Duration) float64 {
	us := float64(echo) / float64(time.Microsecond)
	return us/c.A - c.B
}

func (c AffineCalibration) Validate() error {
	if c.A == 0 {
		return errors.Wrap(mapping.ErrInvalidCalibration, "sonar: affine slope is zero")
	}
	return nil
}

func (c AffineCalibration) String() string {
	return fmt.Sprintf("µs/%g-%g", c.A, c.B)
}
