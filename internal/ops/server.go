// Package ops is the operator-facing surface: prometheus metrics, a health
// endpoint fed by the poll loop's liveness snapshot, and systemd watchdog
// notifications. Destination users never see any of this.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"statuswatch/pkg/logx"
)

const defaultAddr = "127.0.0.1:8090"

// Liveness is implemented by the poll loop.
type Liveness interface {
	Healthy() bool
	Snap() any
}

type Server struct {
	addr string
	live Liveness
	reg  *prometheus.Registry
	log  logx.Logger
	srv  *http.Server
}

func NewServer(addr string, live Liveness, reg *prometheus.Registry, log logx.Logger) *Server {
	if addr == "" {
		addr = defaultAddr
	}
	return &Server{addr: addr, live: live, reg: reg, log: log.With(logx.String("comp", "ops"))}
}

func (s *Server) Start() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))

	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		s.log.Info("ops server listening", logx.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("ops server failed", logx.Err(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(sctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := s.live == nil || s.live.Healthy()
	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	body := map[string]any{"healthy": healthy}
	if s.live != nil {
		body["poll"] = s.live.Snap()
	}
	_ = json.NewEncoder(w).Encode(body)
}

// NotifyReady tells systemd the service is up. A no-op outside systemd.
func NotifyReady(log logx.Logger) {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debug("sd_notify ready failed", logx.Err(err))
	} else if ok {
		log.Debug("sd_notify ready sent")
	}
}

// Watchdog returns the per-tick keepalive ping, or nil when no systemd
// watchdog is configured.
func Watchdog(log logx.Logger) func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return nil
	}
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	return func() {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	}
}
