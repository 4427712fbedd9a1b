// Package api exposes the cache, the profiler and the quality controller
// over HTTP.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/labviz/molcache/internal/metrics"
	"github.com/labviz/molcache/internal/orchestrator"
	"github.com/labviz/molcache/internal/profiler"
	"github.com/labviz/molcache/internal/quality"
	"github.com/labviz/molcache/pkg/health"
)

// Cache is the orchestrator surface served by the asset routes.
type Cache interface {
	Fetch(ctx context.Context, key string, opts orchestrator.FetchOptions) (*orchestrator.Result, error)
	Invalidate(ctx context.Context, key string)
	Prefetch(ctx context.Context, keys []string) orchestrator.PrefetchReport
	Stats() orchestrator.Stats
}

// Config configures the API server
type Config struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	// LongPollTimeout bounds GET /v1/quality/events.
	LongPollTimeout time.Duration `yaml:"long_poll_timeout"`
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Address:         ":8420",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     120 * time.Second,
		LongPollTimeout: 30 * time.Second,
	}
}

// Deps are the components behind the routes. Profiler and Quality may be
// nil, in which case their routes answer 503.
type Deps struct {
	Cache    Cache
	Profiler *profiler.Profiler
	Quality  *quality.Controller
	Health   *health.Tracker
	Metrics  *metrics.Collector
	// Memory fills memory_bytes when a frame omits it.
	Memory profiler.MemorySampler
	Logger *zap.Logger
}

// Server provides the HTTP API
type Server struct {
	config     Config
	deps       Deps
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server

	// frameMu makes POST /v1/frames the single producer for the profiler
	// and the controller.
	frameMu sync.Mutex
}

// NewServer builds the router.
func NewServer(config Config, deps Deps) *Server {
	def := DefaultConfig()
	if config.LongPollTimeout <= 0 {
		config.LongPollTimeout = def.LongPollTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config: config,
		deps:   deps,
		logger: logger.Named("api"),
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, s.deps.Metrics.Path(), s.deps.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/assets/{key}", s.handleGetAsset)
		r.Delete("/assets/{key}", s.handleDeleteAsset)
		r.Post("/prefetch", s.handlePrefetch)
		r.Get("/stats", s.handleStats)

		r.Post("/frames", s.handleFrames)
		r.Get("/report", s.handleReport)
		r.Get("/quality", s.handleQuality)
		r.Get("/quality/events", s.handleQualityEvents)
	})
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting API server", zap.String("address", s.config.Address))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
