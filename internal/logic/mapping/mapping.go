// Package mapping holds the two numeric building blocks shared by every
// actuator: bounding a value to an interval and re-expressing it in another
// interval. They are kept separate on purpose: callers decide whether to clamp
// before, after, or not at all.
package mapping

import (
	"cmp"
	"math"
	"math/big"

	"github.com/pkg/errors"
)

// ErrInvalidCalibration reports a remap over a zero-width input interval,
// or any calibration that would lead to one.
var ErrInvalidCalibration = errors.New("invalid calibration")

// Clamp bounds value to [lo, hi]. A value already inside the interval is
// returned unchanged.
//
// If lo > hi the bounds are swapped, so Clamp(v, 10, 0) behaves like
// Clamp(v, 0, 10).
func Clamp[T cmp.Ordered](value, lo, hi T) T {
	if lo > hi {
		lo, hi = hi, lo
	}
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// SaturatingAdd returns a+b, pinned to math.MaxInt or math.MinInt instead of
// wrapping around.
func SaturatingAdd(a, b int) int {
	sum := a + b
	switch {
	case b > 0 && sum < a:
		return math.MaxInt
	case b < 0 && sum > a:
		return math.MinInt
	}
	return sum
}

// Remap linearly maps value from [inMin, inMax] to [outMin, outMax]:
//
//	outMin + (value-inMin)*(outMax-outMin)/(inMax-inMin)
//
// The division truncates toward zero. Either interval may be reversed. The
// result is not clamped, so a value outside the input interval lands outside
// the output interval; a result beyond the int range saturates.
func Remap(value, inMin, inMax, outMin, outMax int) (int, error) {
	if inMin == inMax {
		return 0, errors.Wrapf(ErrInvalidCalibration, "remap: zero-width input interval [%d, %d]", inMin, inMax)
	}
	if small(value) && small(inMin) && small(inMax) && small(outMin) && small(outMax) {
		// differences fit in 31 bits, so the product fits in int64
		num := int64(value-inMin) * int64(outMax-outMin)
		return saturate(int64(outMin) + num/int64(inMax-inMin)), nil
	}
	return remapBig(value, inMin, inMax, outMin, outMax), nil
}

const smallLimit = 1 << 30

func small(v int) bool { return v >= -smallLimit && v <= smallLimit }

func saturate(v int64) int {
	if v > math.MaxInt {
		return math.MaxInt
	}
	if v < math.MinInt {
		return math.MinInt
	}
	return int(v)
}

func remapBig(value, inMin, inMax, outMin, outMax int) int {
	b := func(v int) *big.Int { return big.NewInt(int64(v)) }

	num := new(big.Int).Sub(b(value), b(inMin))
	num.Mul(num, new(big.Int).Sub(b(outMax), b(outMin)))
	num.Quo(num, new(big.Int).Sub(b(inMax), b(inMin)))
	num.Add(num, b(outMin))

	switch {
	case num.Cmp(big.NewInt(math.MaxInt)) > 0:
		return math.MaxInt
	case num.Cmp(big.NewInt(math.MinInt)) < 0:
		return math.MinInt
	}
	return int(num.Int64())
}

// RemapFloat is Remap over float64.
func RemapFloat(value, inMin, inMax, outMin, outMax float64) (float64, error) {
	if inMin == inMax {
		return 0, errors.Wrapf(ErrInvalidCalibration, "remap: zero-width input interval [%g, %g]", inMin, inMax)
	}
	return outMin + (value-inMin)*(outMax-outMin)/(inMax-inMin), nil
}
