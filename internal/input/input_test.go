package input

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cjeanneret/RoverGo/internal/logic/actuator"
)

func TestReader_Next(t *testing.T) {
	src := "# joystick dump\n512 512\n\n1023,0\r\n  -5 ,  2000 \n"
	r := NewReader(strings.NewReader(src))

	var got []actuator.AxisSample
	for {
		s, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, s)
	}
	want := []actuator.AxisSample{{X: 512, Y: 512}, {X: 1023, Y: 0}, {X: -5, Y: 2000}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
}

func TestReader_Malformed(t *testing.T) {
	cases := []string{
		"512",
		"1 2 3",
		"a 5",
		"5 b",
		"1.5 2",
	}
	for _, line := range cases {
		t.Run(line, func(t *testing.T) {
			_, err := NewReader(strings.NewReader(line + "\n")).Next()
			if !errors.Is(err, ErrMalformedSample) {
				t.Errorf("expected ErrMalformedSample, got %v", err)
			}
		})
	}
}

func TestReader_ContinuesAfterMalformed(t *testing.T) {
	r := NewReader(strings.NewReader("oops\n3 4\n"))
	if _, err := r.Next(); !errors.Is(err, ErrMalformedSample) {
		t.Fatalf("expected ErrMalformedSample, got %v", err)
	}
	s, err := r.Next()
	if err != nil || s != (actuator.AxisSample{X: 3, Y: 4}) {
		t.Errorf("Next = %+v, %v; want {3 4}", s, err)
	}
}

func TestStream(t *testing.T) {
	r := NewReader(strings.NewReader("1 2\nbad line\n3 4\n"))
	out := make(chan actuator.AxisSample, 4)

	if err := Stream(context.Background(), r, out); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var got []actuator.AxisSample
	for s := range out {
		got = append(got, s)
	}
	want := []actuator.AxisSample{{X: 1, Y: 2}, {X: 3, Y: 4}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stream mismatch (-want +got):\n%s", diff)
	}
}

func TestStream_Cancel(t *testing.T) {
	r := NewReader(strings.NewReader("1 2\n3 4\n"))
	out := make(chan actuator.AxisSample) // never drained

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Stream(ctx, r, out) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stream returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stream ignored cancellation")
	}
	if _, ok := <-out; ok {
		t.Error("out should be closed")
	}
}

func TestOpenSerial_MissingPort(t *testing.T) {
	if _, err := OpenSerial("/dev/does-not-exist-rovergo", 9600); err == nil {
		t.Error("expected error opening a missing port")
	}
}
