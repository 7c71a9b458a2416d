package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"castctl/internal/api"
	"castctl/internal/observability/logging"
	"castctl/internal/observability/metrics"
	"castctl/internal/serverutil"
	"castctl/internal/session"
)

// DefaultAddr binds every interface on the fixed control port.
const DefaultAddr = ":6767"

type Config struct {
	Addr    string
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Recorder
}

// New wraps the router for handler in an http.Server with conservative
// timeouts.
func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil || handler.Controller == nil {
		return nil, fmt.Errorf("handler with a session controller is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(handler, cfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(cfg.Logger.Handler(), slog.LevelWarn),
	}
	return &Server{httpServer: httpServer, logger: cfg.Logger, metrics: cfg.Metrics}, nil
}

// HTTPServer exposes the configured http.Server for serverutil.Run.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the full middleware chain and router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// NewRouter builds the route table. Unmatched paths and unsupported methods
// both answer 404.
func NewRouter(handler *api.Handler, cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	r := chi.NewRouter()
	r.Use(
		corsMiddleware,
		requestIDMiddleware(logger),
		logging.RequestLogger(logging.RequestLoggerConfig{Logger: logger}),
		func(next http.Handler) http.Handler {
			return metrics.HTTPMiddleware(recorder, routePattern, next)
		},
	)
	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.NotFound)

	r.Get("/healthz", handler.Health)
	r.Method(http.MethodGet, "/metrics", recorder.Handler())

	r.Get("/devices", handler.ListDevices)
	r.Get("/{device}/tracks", handler.ListTracks)
	r.Get("/{device}/track", handler.CurrentTrack)
	r.Put("/{device}/tracks", handler.ReplaceTracks)
	r.Post("/{device}/tracks", handler.AppendTracks)
	r.Put("/{device}/{cmd}", handler.Transport)
	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// ServeConfig is everything Serve needs. Controller is shared by every
// request; it is never copied.
type ServeConfig struct {
	Controller      session.Controller
	Addr            string
	Logger          *slog.Logger
	Metrics         *metrics.Recorder
	Listener        net.Listener
	TLS             serverutil.TLSConfig
	ShutdownTimeout time.Duration
	Ready           chan<- struct{}
}

// Serve runs the control surface until ctx is cancelled.
func Serve(ctx context.Context, cfg ServeConfig) error {
	if cfg.Controller == nil {
		return fmt.Errorf("session controller is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	controller := session.WithObserver(cfg.Controller, recorder)
	handler := api.NewHandler(controller, logging.WithComponent(logger, "api"))
	srv, err := New(handler, Config{Addr: cfg.Addr, Logger: logger, Metrics: recorder})
	if err != nil {
		return err
	}

	addr := srv.httpServer.Addr
	if cfg.Listener != nil {
		addr = cfg.Listener.Addr().String()
	}
	logger.Info("control surface listening", "addr", addr, "tls", cfg.TLS.CertFile != "")
	return serverutil.Run(ctx, serverutil.Config{
		Server:          srv.httpServer,
		Listener:        cfg.Listener,
		TLS:             cfg.TLS,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Ready:           cfg.Ready,
	})
}
