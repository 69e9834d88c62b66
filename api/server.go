package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/zombar/matchscheduler"
	"github.com/zombar/matchscheduler/db"
	"github.com/zombar/matchscheduler/engine"
	"github.com/zombar/matchscheduler/extraction"
	"github.com/zombar/matchscheduler/history"
	"github.com/zombar/matchscheduler/models"
	"github.com/zombar/matchscheduler/monitor"
	"github.com/zombar/matchscheduler/pkg/logging"
	"github.com/zombar/matchscheduler/pkg/metrics"
	"github.com/zombar/matchscheduler/pkg/tracing"
)

const (
	metricsNamespace = "matchscheduler"
	dbStatsInterval  = 15 * time.Second
	maxImportBytes   = 10 << 20
)

// Config contains server configuration
type Config struct {
	Addr            string
	DBConfig        db.Config
	HistoryPath     string
	EngineURL       string
	EngineTimeout   time.Duration
	SchedulerConfig scheduler.Config
	RateLimitRPS    float64
	RateLimitBurst  int
	CORSEnabled     bool

	// Defaults fill fields missing from extraction requests
	Defaults models.ExtractionConfig

	// Registry receives all collectors; a fresh one is created when nil
	Registry *prometheus.Registry
}

// Server represents the HTTP server
type Server struct {
	config    Config
	db        *db.DB
	history   *history.Store
	manager   *extraction.Manager
	enhanced  *extraction.EnhancedManager
	monitor   *monitor.Monitor
	scheduler *scheduler.Scheduler
	server    *http.Server
	handler   http.Handler

	httpMetrics *metrics.HTTPMetrics
	dbMetrics   *metrics.DatabaseMetrics
	stopStats   chan struct{}
}

// NewServer creates a new server instance
func NewServer(config Config) (*Server, error) {
	// Initialize database
	database, err := db.New(config.DBConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// A damaged history file is not fatal
	hist, err := history.Open(config.HistoryPath)
	if err != nil {
		slog.Default().Warn("failed to load extraction history, starting empty", "path", config.HistoryPath, "error", err)
	}

	// Initialize Prometheus metrics
	reg := config.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	httpMetrics := metrics.NewHTTPMetrics(reg, metricsNamespace)
	dbMetrics := metrics.NewDatabaseMetrics(reg, metricsNamespace)
	extractionMetrics := metrics.NewExtractionMetrics(reg, metricsNamespace)

	// Initialize extraction
	client := engine.NewClient(config.EngineURL, config.EngineTimeout)
	manager := extraction.NewManager(database, client, hist, extraction.WithMetrics(extractionMetrics))
	mon := monitor.New(monitor.NewRateLimiter(config.RateLimitRPS, config.RateLimitBurst))
	enhanced := extraction.NewEnhancedManager(manager, mon)

	// Initialize scheduler
	schedConfig := config.SchedulerConfig
	schedConfig.Store = database
	schedConfig.Metrics = extractionMetrics
	sched := scheduler.New(manager, schedConfig)

	s := &Server{
		config:      config,
		db:          database,
		history:     hist,
		manager:     manager,
		enhanced:    enhanced,
		monitor:     mon,
		scheduler:   sched,
		httpMetrics: httpMetrics,
		dbMetrics:   dbMetrics,
		stopStats:   make(chan struct{}),
	}

	// Start periodic database stats collection
	go func() {
		ticker := time.NewTicker(dbStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				dbMetrics.UpdateDBStats(database.DB())
			case <-s.stopStats:
				return
			}
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", metrics.Handler(reg))
	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Route("/players", func(r chi.Router) {
			r.Get("/", s.handleListPlayers)
			r.Post("/", s.handleCreatePlayer)
			r.Post("/import", s.handleImportPlayers)
			r.Get("/{name}", s.handleGetPlayer)
			r.Put("/{name}", s.handleUpdatePlayer)
			r.Delete("/{name}", s.handleDeletePlayer)
		})
		r.Route("/extractions", func(r chi.Router) {
			r.Get("/", s.handleListExtractions)
			r.Post("/", s.handleStartExtraction)
			r.Post("/validate", s.handleValidateExtraction)
			r.Post("/cleanup", s.handleCleanupExtractions)
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleResume)
			r.Post("/cancel", s.handleCancel)
			r.Get("/{id}", s.handleGetExtraction)
			r.Post("/{id}/pause", s.handlePause)
			r.Post("/{id}/resume", s.handleResume)
			r.Post("/{id}/cancel", s.handleCancel)
		})
		r.Get("/history", s.handleHistory)
		r.Get("/history/export", s.handleExportHistory)
		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", s.handleListSchedules)
			r.Post("/", s.handleScheduleExtraction)
			r.Post("/recurring", s.handleCreateRecurring)
			r.Get("/pending", s.handlePendingSchedules)
			r.Get("/{id}", s.handleGetSchedule)
			r.Delete("/{id}", s.handleDeactivateSchedule)
		})
		r.Route("/enhanced", func(r chi.Router) {
			r.Post("/", s.handleStartEnhanced)
			r.Post("/cleanup", s.handleCleanupEnhanced)
			r.Get("/{id}", s.handleGetEnhanced)
			r.Post("/{id}/cancel", s.handleCancelEnhanced)
			r.Get("/{id}/recommendations", s.handleRecommendations)
		})
	})

	// Wrap with middleware chain: metrics -> HTTP logging -> tracing -> CORS -> handlers
	var handler http.Handler = r
	if config.CORSEnabled {
		handler = corsMiddleware(handler)
	}
	handler = tracing.HTTPMiddleware(metricsNamespace)(handler)
	handler = logging.HTTPLoggingMiddleware(slog.Default())(handler)
	handler = httpMetrics.HTTPMiddleware(handler)

	s.handler = handler
	s.server = &http.Server{
		Addr:              config.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// DB returns the database
func (s *Server) DB() *db.DB {
	return s.db
}

// Start starts the scheduler and serves HTTP until Shutdown
func (s *Server) Start() error {
	// Start scheduler
	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	slog.Default().Info("starting server", "addr", s.config.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Stop scheduler first so nothing new is dispatched
	if err := s.scheduler.Stop(); err != nil {
		slog.Default().Error("error stopping scheduler", "error", err)
	}

	// Shutdown HTTP server
	httpErr := s.server.Shutdown(ctx)

	// Cancel and wait for extraction workers
	if err := s.manager.Shutdown(ctx); err != nil {
		slog.Default().Error("extraction workers did not stop in time", "error", err)
	}
	waitCtx(ctx, s.enhanced.WaitAll)

	if err := s.history.Close(); err != nil {
		slog.Default().Error("error flushing extraction history", "error", err)
	}

	close(s.stopStats)

	// Close database
	if err := s.db.Close(); err != nil {
		slog.Default().Error("error closing database", "error", err)
	}

	return httpErr
}

func waitCtx(ctx context.Context, wait func()) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "healthy",
		"active_operations": len(s.manager.ActiveOperations()),
		"history_entries":   s.history.Len(),
	})
}

// decodeConfig decodes an extraction request on top of the configured defaults
func (s *Server) decodeConfig(raw json.RawMessage) (models.ExtractionConfig, error) {
	cfg := s.config.Defaults.Clone()
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
