package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"block-streamer/internal/failover"
)

type fakeStatus struct {
	statuses      []failover.Status
	activeHealthy bool
}

func (f fakeStatus) Snapshot() []failover.Status { return f.statuses }
func (f fakeStatus) ActiveHealthy() bool         { return f.activeHealthy }

func sampleStatuses() []failover.Status {
	return []failover.Status{
		{Name: "alpha", Active: true, Healthy: false, Lag: 45 * time.Second, ScoreErrorRatio: 0.4, AverageLatency: 250 * time.Millisecond, ErrorRatio: 0.5},
		{Name: "beta", Healthy: true},
	}
}

func TestHealthReportsDegradedActiveProvider(t *testing.T) {
	srv := NewServer(":0", "test", nil, fakeStatus{statuses: sampleStatuses()}, nil, zerolog.Nop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	var body HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" || len(body.Providers) != 2 {
		t.Fatalf("unexpected body %+v", body)
	}
	alpha := body.Providers[0]
	if !alpha.Active || alpha.LagSeconds != 45 || alpha.AverageLatencyMs != 250 {
		t.Fatalf("unexpected provider view %+v", alpha)
	}
}

func TestHealthOK(t *testing.T) {
	srv := NewServer(":0", "test", nil, fakeStatus{statuses: sampleStatuses(), activeHealthy: true}, nil, zerolog.Nop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestReadyFollowsCallback(t *testing.T) {
	ready := false
	srv := NewServer(":0", "test", nil, nil, func() bool { return ready }, zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before ready, got %d", rec.Code)
	}

	ready = true
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once ready, got %d", rec.Code)
	}
}

func TestMetricsEndpointExportsInstruments(t *testing.T) {
	m, err := NewMetrics("blockstream-test")
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	defer func() { _ = m.Shutdown(context.Background()) }()

	counter, err := m.MeterProvider().Meter("test").Int64Counter("blockstream_test_events_total")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(context.Background(), 3)

	srv := NewServer(":0", "test", m.Handler(), nil, nil, zerolog.Nop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "blockstream_test_events_total") {
		t.Fatalf("counter missing from scrape:\n%s", rec.Body.String())
	}
}

func TestStartAndStop(t *testing.T) {
	srv := NewServer("127.0.0.1:0", "test", nil, nil, nil, zerolog.Nop())
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/live")
	if err != nil {
		t.Fatalf("get /live: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "alive" {
		t.Fatalf("unexpected /live response %d %q", resp.StatusCode, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
