// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package healthcheck serves the probe endpoints and a /statusz snapshot
// of the ingestion run in progress.
package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPort is used when HEALTH_CHECK_PORT is unset or unusable.
const DefaultPort = 8090

type Status int32

const (
	StatusStarting Status = iota
	StatusHealthy
	StatusUnhealthy
)

var statusNames = [...]string{"starting", "healthy", "unhealthy"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Response is the body of every probe endpoint.
type Response struct {
	Healthy bool `json:"healthy"`
}

// StatusProvider reports what the process is doing for /statusz. The bool
// is false when there is nothing to report yet.
type StatusProvider func() (any, bool)

type Config struct {
	Port            int
	ShutdownTimeout time.Duration
}

// GetConfigFromEnv reads HEALTH_CHECK_PORT.
func GetConfigFromEnv() Config {
	return Config{Port: parsePort(os.Getenv("HEALTH_CHECK_PORT"))}
}

func parsePort(s string) int {
	p, err := strconv.Atoi(s)
	if err != nil || p <= 0 || p > 65535 {
		return DefaultPort
	}
	return p
}

type Server struct {
	port            int
	shutdownTimeout time.Duration

	status   atomic.Int32
	ready    atomic.Bool
	provider atomic.Pointer[StatusProvider]

	condMu     sync.RWMutex
	conditions map[string]bool

	srv *http.Server
}

func NewServer(cfg Config) *Server {
	s := &Server{
		port:            cfg.Port,
		shutdownTimeout: cfg.ShutdownTimeout,
		conditions:      map[string]bool{},
	}
	if s.port == 0 {
		s.port = DefaultPort
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 5 * time.Second
	}
	return s
}

func (s *Server) SetStatus(status Status) {
	s.status.Store(int32(status))
	slog.Debug("Health status changed", slog.String("status", status.String()))
}

func (s *Server) GetStatus() Status {
	return Status(s.status.Load())
}

func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
	slog.Debug("Readiness changed", slog.Bool("ready", ready))
}

// SetReadyCondition records a named precondition for readiness, such as
// the database connection being open. IsReady requires every recorded
// condition to be true.
func (s *Server) SetReadyCondition(name string, ready bool) {
	s.condMu.Lock()
	s.conditions[name] = ready
	s.condMu.Unlock()
	slog.Debug("Readiness condition changed", slog.String("condition", name), slog.Bool("ready", ready))
}

func (s *Server) ClearReadyCondition(name string) {
	s.condMu.Lock()
	delete(s.conditions, name)
	s.condMu.Unlock()
}

func (s *Server) IsReady() bool {
	if !s.ready.Load() {
		return false
	}
	s.condMu.RLock()
	defer s.condMu.RUnlock()
	for _, ok := range s.conditions {
		if !ok {
			return false
		}
	}
	return true
}

func (s *Server) SetStatusProvider(p StatusProvider) {
	s.provider.Store(&p)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", probe(func() bool { return s.GetStatus() == StatusHealthy }))
	mux.Handle("/livez", probe(func() bool { return s.GetStatus() != StatusUnhealthy }))
	mux.Handle("/readyz", probe(s.IsReady))
	mux.HandleFunc("/statusz", s.serveStatus)
	return mux
}

// Start serves until ctx is done, then shuts down. A listen failure is
// returned immediately.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.SetStatus(StatusStarting)
	slog.Info("Health check server listening", slog.Int("port", s.port))

	errc := make(chan error, 1)
	go func() { errc <- s.srv.ListenAndServe() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("health check server on port %d: %w", s.port, err)
	case <-ctx.Done():
		return s.Stop()
	}
}

func (s *Server) Stop() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func probe(check func() bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ok := check()
		code := http.StatusOK
		if !ok {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, Response{Healthy: ok})
	})
}

func (s *Server) serveStatus(w http.ResponseWriter, _ *http.Request) {
	var body any = map[string]string{"state": "idle"}
	if p := s.provider.Load(); p != nil {
		if snap, ok := (*p)(); ok {
			body = snap
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("Failed to write health response", slog.Any("error", err))
	}
}
