package feed

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxd-io/voxd/internal/health"
	"github.com/voxd-io/voxd/internal/observe"
)

// shutdownGrace bounds how long Server.Run waits for open connections after
// its context is cancelled.
const shutdownGrace = 5 * time.Second

// Controller is the subset of the pipeline controller driven by the control
// endpoints.
type Controller interface {
	Pause() error
	Resume() error
}

// Server hosts the HTTP surface: /feed, /pause, /resume, /healthz, /readyz,
// and /metrics.
type Server struct {
	addr    string
	handler http.Handler
}

// NewServer assembles the HTTP surface around the hub. The checkers feed the
// readiness probe; metrics are scraped from the Prometheus default registry
// populated by [observe.InitProvider]. ctrl may be nil, disabling the
// control endpoints.
func NewServer(addr string, hub *Hub, ctrl Controller, metrics *observe.Metrics, checkers ...health.Checker) *Server {
	mux := http.NewServeMux()
	mux.Handle("GET /feed", hub)
	mux.Handle("GET /metrics", promhttp.Handler())
	if ctrl != nil {
		mux.HandleFunc("POST /pause", controlHandler(hub, "paused", ctrl.Pause))
		mux.HandleFunc("POST /resume", controlHandler(hub, "running", ctrl.Resume))
	}
	health.New(checkers...).Register(mux)

	return &Server{
		addr:    addr,
		handler: observe.Middleware(metrics)(mux),
	}
}

// controlHandler invokes the lifecycle action and, on success, broadcasts
// the new pipeline state on the feed.
func controlHandler(hub *Hub, state string, action func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := action(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		hub.State(state)
		w.WriteHeader(http.StatusNoContent)
	}
}

// Handler exposes the assembled routes, mainly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("http server listening", "addr", s.addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
