// Package rpi shares the go-rpio memory mapping between the GPIO and PWM
// backends. Both may be in use at once, and go-rpio only tolerates a single
// Open/Close pair.
package rpi

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"

	"github.com/cjeanneret/RoverGo/internal/debug"
)

var (
	mu   sync.Mutex
	refs int

	// swapped in tests
	openFn  = rpio.Open
	closeFn = rpio.Close
)

// Acquire maps the GPIO/PWM registers on first use.
// Requires /dev/gpiomem (or root for PWM).
func Acquire() error {
	mu.Lock()
	defer mu.Unlock()
	if refs == 0 {
		if err := openFn(); err != nil {
			return errors.Wrap(err, "failed to open GPIO (are you running on a Raspberry Pi?)")
		}
		debug.Verbose("GPIO memory mapped successfully")
	}
	refs++
	return nil
}

// Release unmaps the registers once the last user is done.
func Release() error {
	mu.Lock()
	defer mu.Unlock()
	if refs == 0 {
		return nil
	}
	refs--
	if refs > 0 {
		return nil
	}
	debug.Trace("unmapping GPIO memory")
	return closeFn()
}
