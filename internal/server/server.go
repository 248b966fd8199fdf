// Package server orchestrates all components: logging, command router, HTTP
// listener, NATS bridge, error events, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	masterminds "github.com/Masterminds/semver/v3"
	"github.com/creachadair/taskgroup"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/cmdrpc/internal/config"
	"github.com/morezero/cmdrpc/pkg/commsutil"
	"github.com/morezero/cmdrpc/pkg/dispatcher"
	"github.com/morezero/cmdrpc/pkg/events"
	"github.com/morezero/cmdrpc/pkg/metrics"
	"github.com/morezero/cmdrpc/pkg/registry"
)

const logPrefix = "server:server"

// Server is the cmdrpc orchestrator.
type Server struct {
	cfg        *config.Config
	version    *masterminds.Version
	router     *dispatcher.Router
	metrics    *metrics.Metrics
	nc         *comms.Conn
	sub        *comms.Subscription
	httpServer *http.Server
	ready      atomic.Bool
}

// NewServerParams holds parameters for NewServer.
type NewServerParams struct {
	Config *config.Config
	// Handlers are served beside the ping and info builtins.
	Handlers map[string]registry.Handler
	// Options overrides router policies. When ErrorLogger is nil and
	// CMDRPC_ERROR_EVENT_SUBJECT is set, errors are also published as events.
	Options dispatcher.Options
	// Host backs the info builtin. Nil uses registry.OSHost.
	Host registry.HostInfo
}

// SetupLogging installs the default slog logger described by cfg.
func SetupLogging(cfg *config.Config, w io.Writer) error {
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch cfg.LogFormat {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// NewServer validates cfg, connects to NATS when COMMS_URL is set, and builds
// the router and HTTP handlers. Call Serve to start listening and Close to
// release the NATS connection if Serve is never called.
func NewServer(params NewServerParams) (*Server, error) {
	cfg := params.Config
	if err := cfg.ValidateForServe(); err != nil {
		return nil, err
	}
	version, err := masterminds.NewVersion(cfg.ServiceVersion)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid service version: %w", logPrefix, err)
	}
	s := &Server{cfg: cfg, version: version}

	if cfg.COMMSURL != "" {
		nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
		}
		s.nc = nc
		slog.Info(fmt.Sprintf("%s - Connected to NATS at %s", logPrefix, cfg.COMMSURL))
	}

	opts := params.Options
	if opts.ErrorLogger == nil && cfg.ErrorEventSubject != "" {
		if s.nc == nil {
			slog.Warn(fmt.Sprintf("%s - CMDRPC_ERROR_EVENT_SUBJECT is set but COMMS_URL is empty; error events disabled", logPrefix))
		} else {
			pub := events.NewCommsPublisher(s.nc, &events.CommsPublisherOpts{Subject: cfg.ErrorEventSubject})
			opts.ErrorLogger = events.ErrorLogger(cfg.COMMSName, pub)
			slog.Info(fmt.Sprintf("%s - Publishing error events to %s", logPrefix, cfg.ErrorEventSubject))
		}
	}

	var observer dispatcher.Observer
	if cfg.MetricsEnabled {
		s.metrics = metrics.NewMetrics()
		observer = s.metrics
	}

	s.router = dispatcher.NewRouter(dispatcher.NewRouterParams{
		Handlers: params.Handlers,
		Options:  opts,
		Host:     params.Host,
		Observer: observer,
	})

	if s.nc != nil {
		sub, err := commsutil.Serve(s.nc, cfg.Subject, cfg.COMMSName, s.router)
		if err != nil {
			s.nc.Close()
			return nil, fmt.Errorf("%s - failed to serve NATS subject: %w", logPrefix, err)
		}
		s.sub = sub
	}

	s.httpServer = &http.Server{Addr: cfg.Addr(), Handler: s.Handler()}
	return s, nil
}

// Router returns the command router.
func (s *Server) Router() *dispatcher.Router { return s.router }

// Handler returns the HTTP handler: commands at "/", plus health, readiness
// and (when enabled) metrics endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", s.router)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// healthOutput is the body of GET /health.
type healthOutput struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Version  string `json:"version"`
	Commands int    `json:"commands"`
	Comms    string `json:"comms"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := healthOutput{
		Status:   "healthy",
		Service:  s.cfg.COMMSName,
		Version:  s.version.String(),
		Commands: s.router.Registry().Len(),
		Comms:    "disabled",
	}
	if s.nc != nil {
		h.Comms = "connected"
		if !s.nc.IsConnected() {
			h.Status, h.Comms = "unhealthy", "disconnected"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if h.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(h)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// Serve serves HTTP on ln until ctx ends or the listener fails, then shuts
// down gracefully within SHUTDOWN_TIMEOUT and releases the NATS connection.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g := taskgroup.New(taskgroup.Trigger(cancel))
	g.Go(func() error {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, ln.Addr()))
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s - HTTP server error: %w", logPrefix, err)
		}
		return nil
	})
	s.ready.Store(true)
	slog.Info(fmt.Sprintf("%s - cmdrpc is ready with %d commands", logPrefix, s.router.Registry().Len()))

	<-ctx.Done()
	s.ready.Store(false)
	slog.Info(fmt.Sprintf("%s - Shutting down", logPrefix))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
	}
	s.Close()

	err := g.Wait()
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return err
}

// Close stops the NATS bridge and drains the NATS connection. It is safe to
// call more than once.
func (s *Server) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			slog.Warn(fmt.Sprintf("%s - NATS drain: %v", logPrefix, err))
		}
		s.nc = nil
	}
}

// Run loads configuration, serves handlers until SIGINT or SIGTERM, then
// cleans up.
func Run(handlers map[string]registry.Handler) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := SetupLogging(cfg, os.Stdout); err != nil {
		return fmt.Errorf("%s - failed to set up logging: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Starting cmdrpc %s", logPrefix, cfg.ServiceVersion))

	s, err := NewServer(NewServerParams{Config: cfg, Handlers: handlers})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		s.Close()
		return fmt.Errorf("%s - failed to listen on %s: %w", logPrefix, cfg.Addr(), err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx, ln)
}
