// Package api assembles the HTTP surface of the roster service.
package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/kilianp07/roster/api/forecasts"
	"github.com/kilianp07/roster/api/httpx"
	"github.com/kilianp07/roster/api/plans"
	"github.com/kilianp07/roster/core/logger"
	infralogger "github.com/kilianp07/roster/infra/logger"
	"github.com/kilianp07/roster/infra/metrics"
)

// Config configures the HTTP server.
type Config struct {
	Addr string `json:"addr"`
	// Tokens maps accepted bearer tokens to the actor they authenticate.
	// Without tokens the API is open.
	Tokens            map[string]string `json:"tokens"`
	ReadHeaderTimeout int               `json:"read_header_timeout_ms"`
	// Metrics mounts the Prometheus registry on /metrics.
	Metrics bool `json:"metrics"`
}

// Service combines the operations used by every route group.
type Service interface {
	forecasts.Service
	plans.Service
}

// NewHandler builds the router. /healthz and /metrics are not
// authenticated.
func NewHandler(svc Service, cfg Config, opts ...plans.Option) http.Handler {
	v1 := http.NewServeMux()
	forecasts.Register(v1, svc)
	plans.Register(v1, svc, opts...)

	mux := http.NewServeMux()
	mux.Handle("/v1/", httpx.RequireBearer(cfg.Tokens, v1))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	return withAccessLog(infralogger.New("api"), mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent events working through the recorder.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack hands the connection to the websocket upgrader.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer cannot be hijacked")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func withAccessLog(log logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debugf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Microsecond))
	})
}

// Serve runs the HTTP server until ctx is done, then shuts it down.
func Serve(ctx context.Context, cfg Config, h http.Handler) error {
	rht := time.Duration(cfg.ReadHeaderTimeout) * time.Millisecond
	if rht <= 0 {
		rht = 10 * time.Second
	}
	srv := &http.Server{Addr: cfg.Addr, Handler: h, ReadHeaderTimeout: rht}
	log := infralogger.New("api")
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("api shutdown: %v", err)
		}
	}()
	log.Infof("listening on %s", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
