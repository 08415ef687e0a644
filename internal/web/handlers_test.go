package web

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cjeanneret/RoverGo/internal/config"
	"github.com/cjeanneret/RoverGo/internal/logic/actuator"
	"github.com/cjeanneret/RoverGo/internal/logic/control"
)

// ---------- Handler helpers ----------

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "configs")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte("defaults:\n  mock_gpio: true\n  sonar_every: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	summary, err := NewConfigSummary(loadTestConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	return NewHandlers(NewStatusBroadcaster(), summary)
}

// ---------- HandleConfig ----------

func TestHandleConfig(t *testing.T) {
	h := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	w := httptest.NewRecorder()

	h.HandleConfig(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var s ConfigSummary
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.PWMBackend != "mock" {
		t.Errorf("PWMBackend = %q, want mock", s.PWMBackend)
	}
	if s.SonarEvery != 5 || s.SonarCalibration != "µs/29/2+0" {
		t.Errorf("sonar summary = %d / %q", s.SonarEvery, s.SonarCalibration)
	}
	if len(s.Axes) != 4 {
		t.Fatalf("len(Axes) = %d, want 4", len(s.Axes))
	}
	pan := s.Axes[0]
	if pan.Name != "pan" || pan.Channel != 8 || pan.CenteringOffset != 19 || pan.RestDuty != 4444 {
		t.Errorf("pan = %+v", pan)
	}
	if math.Abs(pan.PulseMaxUs-2712.4) > 0.1 {
		t.Errorf("pan PulseMaxUs = %v, want ~2712.4", pan.PulseMaxUs)
	}
	right := s.Axes[3]
	if right.Name != "right" || right.DutyMin != 5612 || right.DutyMax != 3266 {
		t.Errorf("right = %+v", right)
	}
}

// ---------- HandleState ----------

func TestHandleState_NoContentBeforeFirstTick(t *testing.T) {
	h := newTestHandlers(t)
	w := httptest.NewRecorder()

	h.HandleState(w, httptest.NewRequest(http.MethodGet, "/state", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestHandleState_LatestTelemetry(t *testing.T) {
	h := newTestHandlers(t)
	h.Broadcaster.Publish(control.Telemetry{Tick: 1, Drive: actuator.DriveDuty{Left: 4437, Right: 4441}})
	h.Broadcaster.Publish(control.Telemetry{Tick: 2, Drive: actuator.DriveDuty{Left: 5612, Right: 5612}, RangeError: "no echo"})

	w := httptest.NewRecorder()
	h.HandleState(w, httptest.NewRequest(http.MethodGet, "/state", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var tel control.Telemetry
	if err := json.NewDecoder(w.Body).Decode(&tel); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tel.Tick != 2 || tel.Drive.Left != 5612 || tel.RangeError != "no echo" {
		t.Errorf("state = %+v", tel)
	}
}

// ---------- HandleStatusStream ----------

func TestHandleStatusStream(t *testing.T) {
	h := newTestHandlers(t)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleStatusStream))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	rd := bufio.NewReader(resp.Body)
	line, err := rd.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ": connected") {
		t.Fatalf("first line = %q, %v", line, err)
	}

	// the handler subscribed before writing ": connected"
	h.Broadcaster.BroadcastMsg("rover ready")

	for {
		line, err = rd.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	var evt StatusEvent
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Msg != "rover ready" {
		t.Errorf("msg = %q, want \"rover ready\"", evt.Msg)
	}
}

// ---------- Server ----------

func TestServerMux_Routes(t *testing.T) {
	summary, err := NewConfigSummary(loadTestConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(":0", NewStatusBroadcaster(), summary)
	mux := s.Mux()

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/config", http.StatusOK},
		{http.MethodGet, "/state", http.StatusNoContent},
		{http.MethodPost, "/config", http.StatusMethodNotAllowed},
		{http.MethodGet, "/run", http.StatusNotFound},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		if w.Code != tc.want {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.path, w.Code, tc.want)
		}
	}
}

func TestServerRun_ShutsDownOnCancel(t *testing.T) {
	s := NewServer("127.0.0.1:0", NewStatusBroadcaster(), ConfigSummary{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPulseWidthUs(t *testing.T) {
	p := actuator.PWMConfig{FrequencyHz: 50, ResolutionBits: 16}
	got, err := PulseWidthUs(32768, p)
	if err != nil {
		t.Fatal(err)
	}
	if got != 10000 {
		t.Errorf("PulseWidthUs(32768) = %v, want 10000", got)
	}
	if _, err := PulseWidthUs(1, actuator.PWMConfig{}); err == nil {
		t.Error("expected error for zero frequency")
	}
}
