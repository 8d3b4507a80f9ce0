// Package admin exposes the local operator surface: liveness, pipeline
// status, the event listing, and Prometheus metrics.
//
// The listener binds loopback by default and carries no authentication,
// matching its role as a diagnostics port rather than a public API.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iwplog/iwplogd/internal/logger"
	"github.com/iwplog/iwplogd/pkg/events"
	"github.com/iwplog/iwplogd/pkg/metrics"
	"github.com/iwplog/iwplogd/pkg/vfs"
)

const (
	defaultHost         = "127.0.0.1"
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second

	requestTimeout  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Options configures the admin listener.
type Options struct {
	// Host is the bind address.
	Host string

	// Port is the bind port.
	Port int

	// ReadTimeout bounds request reads.
	ReadTimeout time.Duration

	// WriteTimeout bounds response writes.
	WriteTimeout time.Duration

	// IdleTimeout bounds idle keep-alive connections.
	IdleTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.Host == "" {
		o.Host = defaultHost
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = defaultReadTimeout
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = defaultIdleTimeout
	}
}

// Server serves the admin HTTP endpoints. Create with NewServer, run
// with Start.
type Server struct {
	opts   Options
	server *http.Server

	listener      net.Listener
	listenerReady chan struct{}
	shutdownOnce  sync.Once
}

// NewServer creates the admin server. The metrics endpoint is mounted
// only when the process-wide registry exists.
func NewServer(opts Options, store *events.Store, fs *vfs.FS) *Server {
	opts.applyDefaults()

	router := newRouter(newStatusHandler(store, fs), metrics.GetRegistry())
	return &Server{
		opts: opts,
		server: &http.Server{
			Handler:      router,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
		},
		listenerReady: make(chan struct{}),
	}
}

// Start binds the listener and blocks until the context is cancelled or
// the server fails. Cancellation triggers graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen TCP %s: %w", addr, err)
	}
	s.listener = ln
	close(s.listenerReady)

	logger.Info("admin listener started", logger.ListenAddr(ln.Addr().String()))

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("admin listener failed: %w", err)
	}
}

// Stop drains in-flight requests and closes the listener. Safe to call
// more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("admin shutdown: %w", err)
			return
		}
		logger.Info("admin listener stopped")
	})
	return shutdownErr
}

// WaitReady returns a channel closed once the listener is bound.
func (s *Server) WaitReady() <-chan struct{} {
	return s.listenerReady
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// newRouter assembles the middleware stack and routes. registry may be
// nil, in which case /metrics is not mounted.
func newRouter(h *statusHandler, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", h.Liveness)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/healthz", http.StatusTemporaryRedirect)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Get("/events", h.Events)
		r.Get("/events/{id}", h.Event)
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	return r
}

// isQuietPath reports whether the path is probe or scrape traffic that
// should stay out of the info log.
func isQuietPath(path string) bool {
	return path == "/healthz" || path == "/metrics" || strings.HasPrefix(path, "/healthz/")
}

// requestLogger logs one line per request with the status and duration.
// Probe and scrape endpoints log at debug to keep the output readable.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		args := []any{
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.DurationMs(logger.Duration(start)),
		}
		if isQuietPath(r.URL.Path) {
			logger.Debug("admin request completed", args...)
		} else {
			logger.Info("admin request completed", args...)
		}
	})
}
