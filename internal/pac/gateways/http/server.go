// Package http serves the rendered PAC script and a small operational API
// (health, status, host checks, manual refresh and Prometheus metrics).
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haukened/pac-server/internal/pac/common/log"
	"github.com/haukened/pac-server/internal/pac/domain"
	"github.com/haukened/pac-server/internal/pac/repos/matcher"
	"github.com/haukened/pac-server/internal/pac/services/refresher"
)

// PACContentType is the MIME type browsers expect for proxy auto-config files.
const PACContentType = "application/x-ns-proxy-autoconfig"

const shutdownTimeout = 5 * time.Second

// Server serves the published PAC script and the operational endpoints over HTTP.
type Server struct {
	addr      string
	artifacts ArtifactReader
	refresher Refresher
	checker   Checker
	metrics   Metrics
	gatherer  prometheus.Gatherer
	logger    log.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// Options holds the collaborators for NewServer.
type Options struct {
	Addr      string
	Artifacts ArtifactReader
	Refresher Refresher
	Checker   Checker
	Metrics   Metrics
	// Gatherer backs /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
	Logger   log.Logger
}

// NewServer creates a Server. Nil Metrics and Logger fall back to no-ops.
func NewServer(opts Options) *Server {
	s := &Server{
		addr:      opts.Addr,
		artifacts: opts.Artifacts,
		refresher: opts.Refresher,
		checker:   opts.Checker,
		metrics:   opts.Metrics,
		gatherer:  opts.Gatherer,
		logger:    opts.Logger,
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.logger == nil {
		s.logger = log.NewNoopLogger()
	}
	return s
}

// Handler returns the router. Static routes win over /{filename}, so an
// artifact cannot shadow them.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)
	r.Use(s.observe)

	r.NotFound(s.notFound)
	r.Get("/healthz", s.healthz)
	r.Get("/status", s.status)
	r.Get("/check", s.check)
	r.Post("/refresh", s.refresh)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/{filename}", s.serveFile)
	return r
}

// Start listens on the configured address and serves until ctx is cancelled
// or Stop is called. It returns once the server has shut down.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.New("http server already running")
	}
	s.srv = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info(map[string]any{
		"transport": "http",
		"address":   ln.Addr().String(),
	}, "PAC server started")

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop()
		case <-stopped:
		}
	}()
	defer close(stopped)

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(ctx)
	if err != nil {
		s.logger.Warn(map[string]any{"error": err}, "Error shutting down HTTP server")
	}
	s.logger.Info(map[string]any{
		"transport": "http",
		"address":   s.Address(),
	}, "PAC server stopped")
	return err
}

// Address returns the bound address once serving, else the configured one.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// observe logs each request and counts it by route pattern and status.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.Request(route, strconv.Itoa(status))
		s.logger.Debug(map[string]any{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   status,
			"bytes":    ww.BytesWritten(),
			"remote":   r.RemoteAddr,
			"duration": time.Since(start).String(),
		}, "http_request")
	})
}

// remoteHost is the client address without the port.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", remoteHost(r))
	writeText(w, http.StatusNotFound, "404 Not Found")
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if !s.servable(name) {
		s.notFound(w, r)
		return
	}
	f, err := s.artifacts.Open(name)
	if err != nil {
		s.notFound(w, r)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		s.notFound(w, r)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", remoteHost(r))
	w.Header().Set("Content-Type", PACContentType)
	http.ServeContent(w, r, name, fi.ModTime(), f)
}

// servable limits the file route to the published artifact and other .pac files.
func (s *Server) servable(name string) bool {
	if s.refresher != nil && name == s.refresher.Artifact() {
		return true
	}
	return path.Ext(name) == ".pac"
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.refresher.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no PAC script published yet")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Snapshot: snap, Index: s.checker.Stats()})
}

func (s *Server) check(w http.ResponseWriter, r *http.Request) {
	if s.refresher.Mode() != domain.ModeFast {
		writeError(w, http.StatusConflict, "host checks need fast mode")
		return
	}
	host := strings.TrimSpace(r.URL.Query().Get("host"))
	if host == "" {
		writeError(w, http.StatusBadRequest, "missing host parameter")
		return
	}
	d := s.checker.Decide(host)
	s.metrics.Checked(d.Proxied)
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.refresher.Trigger(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, snap)
	case errors.Is(err, refresher.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, refresher.ErrInProgress):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Warn(map[string]any{"error": err}, "manual refresh failed")
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

type statusResponse struct {
	domain.Snapshot
	Index matcher.Stats `json:"index"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
