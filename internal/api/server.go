package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/shohag/apilogger/internal/config"
	"github.com/shohag/apilogger/internal/metrics"
	"github.com/shohag/apilogger/internal/storage"
)

// Stores are the shared store instances the poller writes to.
type Stores struct {
	Attempts storage.AttemptLog
	Payloads storage.PayloadStore
}

type Server struct {
	cfg     config.ServerConfig
	auth    config.AuthConfig
	stores  Stores
	status  PollStatus
	metrics *metrics.Metrics
	router  *chi.Mux
	log     zerolog.Logger
	http    *http.Server
}

// NewServer builds the query API. status may be nil when polling is disabled.
func NewServer(cfg config.ServerConfig, auth config.AuthConfig, stores Stores, status PollStatus, m *metrics.Metrics, log zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		auth:    auth,
		stores:  stores,
		status:  status,
		metrics: m,
		log:     log,
	}
	s.router = s.buildRouter()
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))
	r.Use(MetricsMiddleware(s.metrics))

	logHandler := NewLogHandler(s.stores.Attempts, s.stores.Payloads, s.log)
	healthHandler := NewHealthHandler(s.status)

	r.Get("/health", healthHandler.Health)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(FunctionKeyMiddleware(s.auth.FunctionKeys))

		r.Get("/logs", logHandler.List)
		r.Get("/logs/{logId}/payload", logHandler.Payload)
	})

	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
