// Package input reads axis samples from a line-oriented source: stdin, a
// file, or a serial link to the joystick controller.
//
// One sample per line, "x y" or "x,y". Blank lines and lines starting with
// '#' are ignored.
package input

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/cjeanneret/RoverGo/internal/debug"
	"github.com/cjeanneret/RoverGo/internal/logic/actuator"
)

// Source names accepted in the configuration.
const (
	SourceStdin  = "stdin"
	SourceSerial = "serial"
)

// ErrMalformedSample is returned by Next for a line that is not two integers.
var ErrMalformedSample = errors.New("malformed axis sample")

// Reader parses samples from r.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{sc: bufio.NewScanner(r)}
}

// Next returns the next sample, io.EOF at the end of input, or an error
// wrapping ErrMalformedSample. A malformed line is consumed, so the caller
// may keep reading.
func (r *Reader) Next() (actuator.AxisSample, error) {
	for r.sc.Scan() {
		r.line++
		text := strings.TrimSpace(r.sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		return parse(text, r.line)
	}
	if err := r.sc.Err(); err != nil {
		return actuator.AxisSample{}, errors.Wrap(err, "read input")
	}
	return actuator.AxisSample{}, io.EOF
}

func parse(text string, line int) (actuator.AxisSample, error) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(fields) != 2 {
		return actuator.AxisSample{}, errors.Wrapf(ErrMalformedSample, "line %d: %q: want 2 values, got %d", line, text, len(fields))
	}
	x, err := strconv.Atoi(fields[0])
	if err != nil {
		return actuator.AxisSample{}, errors.Wrapf(ErrMalformedSample, "line %d: x %q", line, fields[0])
	}
	y, err := strconv.Atoi(fields[1])
	if err != nil {
		return actuator.AxisSample{}, errors.Wrapf(ErrMalformedSample, "line %d: y %q", line, fields[1])
	}
	return actuator.AxisSample{X: x, Y: y}, nil
}

// Stream pushes every sample of r into out until the input ends or ctx is
// done. Malformed lines are logged and skipped. out is closed on return.
//
// A blocked read is not interrupted by ctx; close the underlying source to
// unblock it.
func Stream(ctx context.Context, r *Reader, out chan<- actuator.AxisSample) error {
	defer close(out)
	for {
		s, err := r.Next()
		switch {
		case err == nil:
		case errors.Is(err, ErrMalformedSample):
			debug.Verbose("Skipping input: %v", err)
			continue
		case errors.Is(err, io.EOF):
			debug.Info("Input: end of stream")
			return nil
		default:
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		select {
		case out <- s:
		case <-ctx.Done():
			return nil
		}
	}
}

// OpenSerial opens the joystick controller's serial port (8N1).
func OpenSerial(port string, baud int) (serial.Port, error) {
	if baud <= 0 {
		baud = 115200
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", port)
	}
	debug.Info("Input: serial %s at %d baud", port, baud)
	return p, nil
}
