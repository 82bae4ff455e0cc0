// Package server provides the HTTP server and handlers.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/bryan-buckman/noveltracker/internal/metrics"
	"github.com/bryan-buckman/noveltracker/internal/tracker"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// DefaultRateLimit is the mutating requests per second allowed when none is configured.
const DefaultRateLimit = 5

// Server is the main HTTP server.
type Server struct {
	svc       *tracker.Service
	poller    *tracker.Poller
	router    chi.Router
	templates *template.Template
	metrics   metrics.Recorder
	gatherer  prometheus.Gatherer
	limiter   *rate.Limiter
	log       *slog.Logger
	now       func() time.Time

	mu   sync.Mutex
	http *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records HTTP statuses in rec and serves gatherer on /metrics.
func WithMetrics(rec metrics.Recorder, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = rec
		s.gatherer = gatherer
	}
}

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithRateLimit sets the requests per second allowed on mutating endpoints.
func WithRateLimit(perSecond float64) Option {
	return func(s *Server) {
		burst := max(int(perSecond*2), 1)
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithPoller starts p with the server and stops it on shutdown.
func WithPoller(p *tracker.Poller) Option {
	return func(s *Server) { s.poller = p }
}

// WithClock replaces time.Now for the days-ago column.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a new server.
func New(svc *tracker.Service, opts ...Option) (*Server, error) {
	tmpl, err := template.New("").ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		svc:       svc,
		templates: tmpl,
		metrics:   metrics.Nop{},
		log:       slog.Default(),
		now:       time.Now,
	}
	WithRateLimit(DefaultRateLimit)(s)
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(newLoggingMiddleware(s.log, s.metrics))
	r.Use(newRecoveryMiddleware(s.log))
	r.Use(securityHeaders)
	r.Use(middleware.Compress(5))

	// Serve static files.
	staticSub, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))
	r.Get("/static/img/cover/{file}", s.handleCover)

	// Pages.
	r.Get("/", s.handleHome)
	r.Get("/status", s.handleStatus)
	if s.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.gatherer))
	}

	// Reads, and the per-novel calls the page issues one after another.
	r.Get("/api/novels", s.handleNovels)
	r.Get("/update/{id}", s.handleUpdate)
	r.Post("/import-epub", s.handleImportEPUB)
	r.Get("/get-from-epub", s.handleGetFromEPUB)
	r.Get("/scan-unrecorded", s.handleScanUnrecorded)
	r.Get("/settings", s.handleGetSettings)
	r.Get("/export-opml", s.handleExportOPML)

	// Mutations.
	r.Group(func(r chi.Router) {
		r.Use(newRateLimitMiddleware(s.limiter, s.log))
		r.Post("/add", s.handleAdd)
		r.Post("/edit/{id}", s.handleEdit)
		r.Post("/delete/{id}", s.handleDelete)
		r.Post("/updateall", s.handleUpdateAll)
		r.Post("/settings", s.handleSaveSettings)
		r.Post("/import-opml", s.handleImportOPML)
	})

	s.router = r
}

// Start starts the poller and serves addr until Shutdown.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	if s.http != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.http = srv
	s.mu.Unlock()

	if s.poller != nil {
		s.poller.Start()
	}
	s.log.Info("server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and stops the poller.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	if s.poller != nil {
		s.poller.Stop()
	}
	return err
}

// --- Helpers ---

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.log.Error("template error", "template", name, "error", err)
		http.Error(w, "Render error", http.StatusInternalServerError)
	}
}
