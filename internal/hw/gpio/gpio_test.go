package gpio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stianeikeland/go-rpio/v4"
)

// scriptedPin replays a fixed sequence of pin states and advances the mock
// clock by step on every read. The last state repeats forever.
type scriptedPin struct {
	clk    *clock.Mock
	states []rpio.State
	step   time.Duration
	reads  int
}

func (s *scriptedPin) Read() rpio.State {
	s.clk.Add(s.step)
	i := s.reads
	s.reads++
	if i >= len(s.states) {
		return s.states[len(s.states)-1]
	}
	return s.states[i]
}

func TestPollPulse_MeasuresHighPulse(t *testing.T) {
	clk := clock.NewMock()
	p := &scriptedPin{
		clk:    clk,
		states: []rpio.State{rpio.Low, rpio.Low, rpio.High, rpio.High, rpio.High, rpio.Low},
		step:   10 * time.Microsecond,
	}

	got, err := pollPulse(context.Background(), clk, p, 24, High, time.Millisecond)
	if err != nil {
		t.Fatalf("pollPulse: %v", err)
	}
	if got != 30*time.Microsecond {
		t.Errorf("pulse = %v, want 30µs", got)
	}
}

func TestPollPulse_SkipsPulseAlreadyInProgress(t *testing.T) {
	clk := clock.NewMock()
	p := &scriptedPin{
		clk:    clk,
		states: []rpio.State{rpio.High, rpio.High, rpio.Low, rpio.High, rpio.Low},
		step:   10 * time.Microsecond,
	}

	got, err := pollPulse(context.Background(), clk, p, 24, High, time.Millisecond)
	if err != nil {
		t.Fatalf("pollPulse: %v", err)
	}
	if got != 10*time.Microsecond {
		t.Errorf("pulse = %v, want 10µs (second pulse only)", got)
	}
}

func TestPollPulse_LowLevel(t *testing.T) {
	clk := clock.NewMock()
	p := &scriptedPin{
		clk:    clk,
		states: []rpio.State{rpio.High, rpio.Low, rpio.Low, rpio.High},
		step:   5 * time.Microsecond,
	}

	got, err := pollPulse(context.Background(), clk, p, 24, Low, time.Millisecond)
	if err != nil {
		t.Fatalf("pollPulse: %v", err)
	}
	if got != 10*time.Microsecond {
		t.Errorf("pulse = %v, want 10µs", got)
	}
}

func TestPollPulse_TimesOutWithoutEcho(t *testing.T) {
	clk := clock.NewMock()
	p := &scriptedPin{
		clk:    clk,
		states: []rpio.State{rpio.Low},
		step:   100 * time.Microsecond,
	}

	_, err := pollPulse(context.Background(), clk, p, 24, High, time.Millisecond)
	if !errors.Is(err, ErrPulseTimeout) {
		t.Fatalf("expected ErrPulseTimeout, got %v", err)
	}
	if p.reads > 11 {
		t.Errorf("kept polling after deadline: %d reads", p.reads)
	}
}

func TestPollPulse_TimesOutOnStuckHigh(t *testing.T) {
	clk := clock.NewMock()
	p := &scriptedPin{
		clk:    clk,
		states: []rpio.State{rpio.Low, rpio.High},
		step:   200 * time.Microsecond,
	}

	_, err := pollPulse(context.Background(), clk, p, 24, High, time.Millisecond)
	if !errors.Is(err, ErrPulseTimeout) {
		t.Fatalf("expected ErrPulseTimeout, got %v", err)
	}
}

func TestPollPulse_ContextCanceled(t *testing.T) {
	clk := clock.NewMock()
	p := &scriptedPin{clk: clk, states: []rpio.State{rpio.Low}, step: time.Microsecond}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pollPulse(ctx, clk, p, 24, High, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMockDriver_ReturnsEcho(t *testing.T) {
	drv := &MockDriver{Echo: 580 * time.Microsecond}
	got, err := drv.MeasurePulse(context.Background(), 24, High, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("MeasurePulse: %v", err)
	}
	if got != 580*time.Microsecond {
		t.Errorf("echo = %v, want 580µs", got)
	}
}

func TestMockDriver_ZeroValueTimesOut(t *testing.T) {
	drv := &MockDriver{}
	timeout := 20 * time.Millisecond

	start := time.Now()
	_, err := drv.MeasurePulse(context.Background(), 24, High, timeout)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrPulseTimeout) {
		t.Fatalf("expected ErrPulseTimeout, got %v", err)
	}
	if elapsed < timeout {
		t.Errorf("returned after %v, before the %v timeout", elapsed, timeout)
	}
	if elapsed > timeout+250*time.Millisecond {
		t.Errorf("blocked %v, well beyond the %v timeout", elapsed, timeout)
	}
}

func TestMockDriver_EchoLongerThanTimeout(t *testing.T) {
	drv := &MockDriver{Echo: time.Second}
	_, err := drv.MeasurePulse(context.Background(), 24, High, 5*time.Millisecond)
	if !errors.Is(err, ErrPulseTimeout) {
		t.Fatalf("expected ErrPulseTimeout, got %v", err)
	}
}

func TestMockDriver_ContextCanceled(t *testing.T) {
	drv := &MockDriver{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := drv.MeasurePulse(ctx, 24, High, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewDriver_Mock(t *testing.T) {
	drv, err := NewDriver(true, "")
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	if _, ok := drv.(*MockDriver); !ok {
		t.Errorf("expected *MockDriver, got %T", drv)
	}
}

func TestNewDriver_UnknownBackend(t *testing.T) {
	if _, err := NewDriver(false, "bogus"); err == nil {
		t.Error("expected error for unknown backend, got nil")
	}
}

func TestLevel_String(t *testing.T) {
	if High.String() != "HIGH" || Low.String() != "LOW" {
		t.Errorf("unexpected level strings %q/%q", High.String(), Low.String())
	}
}
