package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"block-streamer/internal/failover"
)

// StatusSource reports provider health, typically a *failover.Controller.
type StatusSource interface {
	Snapshot() []failover.Status
	ActiveHealthy() bool
}

// ProviderStatus is the JSON view of one provider.
type ProviderStatus struct {
	Name             string  `json:"name"`
	Active           bool    `json:"active"`
	Healthy          bool    `json:"healthy"`
	LagSeconds       float64 `json:"lagSeconds"`
	ScoreErrorRatio  float64 `json:"scoreErrorRatio"`
	AverageLatencyMs int64   `json:"averageLatencyMs"`
	ErrorRatio       float64 `json:"errorRatio"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string           `json:"status"`
	Providers []ProviderStatus `json:"providers"`
	Version   string           `json:"version,omitempty"`
	Timestamp string           `json:"timestamp"`
}

// Server provides /metrics, /health, /ready and /live.
type Server struct {
	addr    string
	version string
	metrics http.Handler
	status  StatusSource
	ready   func() bool
	logger  zerolog.Logger

	server   *http.Server
	listener net.Listener
	now      func() time.Time
}

// NewServer creates a telemetry server. metrics may be nil to omit /metrics.
func NewServer(addr, version string, metrics http.Handler, status StatusSource, ready func() bool, logger zerolog.Logger) *Server {
	return &Server{
		addr:    addr,
		version: version,
		metrics: metrics,
		status:  status,
		ready:   ready,
		logger:  logger.With().Str("component", "telemetry").Logger(),
		now:     time.Now,
	}
}

// Handler returns the routing mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/live", s.handleLive)
	return mux
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("telemetry server stopped")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("telemetry server listening")
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Version:   s.version,
		Timestamp: s.now().UTC().Format(time.RFC3339),
	}

	code := http.StatusOK
	if s.status != nil {
		for _, st := range s.status.Snapshot() {
			resp.Providers = append(resp.Providers, ProviderStatus{
				Name:             st.Name,
				Active:           st.Active,
				Healthy:          st.Healthy,
				LagSeconds:       st.Lag.Seconds(),
				ScoreErrorRatio:  st.ScoreErrorRatio,
				AverageLatencyMs: st.AverageLatency.Milliseconds(),
				ErrorRatio:       st.ErrorRatio,
			})
		}
		if !s.status.ActiveHealthy() {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}
