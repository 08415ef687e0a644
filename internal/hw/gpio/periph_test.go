package gpio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	pgpio "periph.io/x/conn/v3/gpio"
)

type scriptedEdge struct {
	after time.Duration
	level pgpio.Level
}

// scriptedEdgePin reports edges from a script, advancing the mock clock to
// each one. Re-arming the pin drops edges not yet reported, like a line
// that is re-requested while the echo is in flight.
type scriptedEdgePin struct {
	clk   *clock.Mock
	level pgpio.Level
	edges []scriptedEdge
	armed []pgpio.Edge
}

func (s *scriptedEdgePin) In(pull pgpio.Pull, edge pgpio.Edge) error {
	if len(s.armed) > 0 {
		s.edges = nil
	}
	s.armed = append(s.armed, edge)
	return nil
}

func (s *scriptedEdgePin) Read() pgpio.Level { return s.level }

func (s *scriptedEdgePin) WaitForEdge(timeout time.Duration) bool {
	if len(s.edges) == 0 || s.edges[0].after > timeout {
		if len(s.edges) > 0 {
			s.edges[0].after -= timeout
		}
		s.clk.Add(timeout)
		return false
	}
	e := s.edges[0]
	s.edges = s.edges[1:]
	s.clk.Add(e.after)
	s.level = e.level
	return true
}

func TestMeasureEdges_HighPulseArmsOnce(t *testing.T) {
	clk := clock.NewMock()
	p := &scriptedEdgePin{
		clk:   clk,
		level: pgpio.Low,
		edges: []scriptedEdge{{100 * time.Microsecond, pgpio.High}, {300 * time.Microsecond, pgpio.Low}},
	}

	got, err := measureEdges(context.Background(), clk, p, 24, High, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("measureEdges: %v", err)
	}
	if got != 300*time.Microsecond {
		t.Errorf("pulse = %v, want 300µs", got)
	}
	if diff := cmp.Diff([]pgpio.Edge{pgpio.BothEdges}, p.armed); diff != "" {
		t.Errorf("arming mismatch (-want +got):\n%s", diff)
	}
}

func TestMeasureEdges_ShortEchoRightAfterStart(t *testing.T) {
	clk := clock.NewMock()
	p := &scriptedEdgePin{
		clk:   clk,
		level: pgpio.Low,
		edges: []scriptedEdge{{20 * time.Microsecond, pgpio.High}, {0, pgpio.Low}},
	}

	got, err := measureEdges(context.Background(), clk, p, 24, High, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("measureEdges: %v", err)
	}
	if got != 0 {
		t.Errorf("pulse = %v, want 0", got)
	}
}

func TestMeasureEdges_SkipsPulseAlreadyInProgress(t *testing.T) {
	clk := clock.NewMock()
	p := &scriptedEdgePin{
		clk:   clk,
		level: pgpio.High,
		edges: []scriptedEdge{
			{10 * time.Microsecond, pgpio.Low},
			{50 * time.Microsecond, pgpio.High},
			{200 * time.Microsecond, pgpio.Low},
		},
	}

	got, err := measureEdges(context.Background(), clk, p, 24, High, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("measureEdges: %v", err)
	}
	if got != 200*time.Microsecond {
		t.Errorf("pulse = %v, want 200µs (second pulse only)", got)
	}
}

func TestMeasureEdges_IgnoresEdgeWithoutLevelChange(t *testing.T) {
	clk := clock.NewMock()
	p := &scriptedEdgePin{
		clk:   clk,
		level: pgpio.Low,
		edges: []scriptedEdge{
			{5 * time.Microsecond, pgpio.Low},
			{10 * time.Microsecond, pgpio.High},
			{40 * time.Microsecond, pgpio.Low},
		},
	}

	got, err := measureEdges(context.Background(), clk, p, 24, High, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("measureEdges: %v", err)
	}
	if got != 40*time.Microsecond {
		t.Errorf("pulse = %v, want 40µs", got)
	}
}

func TestMeasureEdges_LowLevel(t *testing.T) {
	clk := clock.NewMock()
	p := &scriptedEdgePin{
		clk:   clk,
		level: pgpio.High,
		edges: []scriptedEdge{{20 * time.Microsecond, pgpio.Low}, {80 * time.Microsecond, pgpio.High}},
	}

	got, err := measureEdges(context.Background(), clk, p, 24, Low, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("measureEdges: %v", err)
	}
	if got != 80*time.Microsecond {
		t.Errorf("pulse = %v, want 80µs", got)
	}
}

func TestMeasureEdges_TimesOutWithoutEcho(t *testing.T) {
	clk := clock.NewMock()
	p := &scriptedEdgePin{clk: clk, level: pgpio.Low}

	_, err := measureEdges(context.Background(), clk, p, 24, High, 20*time.Millisecond)
	if !errors.Is(err, ErrPulseTimeout) {
		t.Fatalf("expected ErrPulseTimeout, got %v", err)
	}
}

func TestMeasureEdges_TimesOutOnStuckHigh(t *testing.T) {
	clk := clock.NewMock()
	p := &scriptedEdgePin{
		clk:   clk,
		level: pgpio.Low,
		edges: []scriptedEdge{{10 * time.Microsecond, pgpio.High}},
	}

	_, err := measureEdges(context.Background(), clk, p, 24, High, 20*time.Millisecond)
	if !errors.Is(err, ErrPulseTimeout) {
		t.Fatalf("expected ErrPulseTimeout, got %v", err)
	}
}

func TestMeasureEdges_ContextCanceled(t *testing.T) {
	clk := clock.NewMock()
	p := &scriptedEdgePin{clk: clk, level: pgpio.Low}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := measureEdges(ctx, clk, p, 24, High, 20*time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
