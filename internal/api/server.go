// Package api serves the reconciliation engine, the settings and the clients
// registry over HTTP.
package api

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	gocache "github.com/patrickmn/go-cache"

	"neoexcelsync/internal/auth"
	"neoexcelsync/internal/cache"
	"neoexcelsync/internal/exporter"
	"neoexcelsync/internal/journal"
	"neoexcelsync/internal/reconciler"
	"neoexcelsync/internal/settings"
	"neoexcelsync/internal/splits"
	"neoexcelsync/internal/store"
	"neoexcelsync/pkg/errors"
	"neoexcelsync/pkg/logger"
)

// ClientStore is the clients registry.
type ClientStore interface {
	SearchClients(ctx context.Context, search string) ([]store.ClientListItem, error)
	GetClient(ctx context.Context, id int64) (*store.Client, error)
	CreateClient(ctx context.Context, c store.Client) (int64, error)
	UpdateClient(ctx context.Context, c store.Client) error
	SetClientStatus(ctx context.Context, id int64, status string) error
	DeleteClient(ctx context.Context, id int64) error
}

// UserStore looks up login accounts.
type UserStore interface {
	UserByUsername(ctx context.Context, username string) (*store.User, error)
}

// RunJournal records reconciliation runs.
type RunJournal interface {
	Record(ctx context.Context, r journal.Run) (string, error)
	Recent(ctx context.Context, limit int) ([]journal.Run, error)
}

// Config holds the HTTP server settings.
type Config struct {
	Addr string
	// UploadDir holds uploads for the duration of a request.
	UploadDir string
	// DataDir keeps the split reference list.
	DataDir string
	Workers int
	// RateLimit is the sustained requests per second allowed per client IP.
	RateLimit float64
	RateBurst int
	// LimiterIdle drops the bucket of a client IP unused for this long.
	LimiterIdle time.Duration
	// AllowedOrigins lists the CORS origins; "*" allows every origin.
	AllowedOrigins []string
	MaxUploadSize  int64
	LastResultTTL  time.Duration
	RecentRuns     int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the server defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:           ":8000",
		UploadDir:      os.TempDir(),
		DataDir:        "data",
		Workers:        4,
		RateLimit:      10,
		RateBurst:      30,
		LimiterIdle:    10 * time.Minute,
		AllowedOrigins: []string{"*"},
		MaxUploadSize:  100 << 20,
		LastResultTTL:  24 * time.Hour,
		RecentRuns:     50,
		ReadTimeout:    2 * time.Minute,
		WriteTimeout:   5 * time.Minute,
	}
}

// Validate validates the server configuration
func (c *Config) Validate() error {
	checks := []struct {
		key string
		ok  bool
		val interface{}
	}{
		{"workers", c.Workers > 0, c.Workers},
		{"rate_limit", c.RateLimit > 0, c.RateLimit},
		{"rate_burst", c.RateBurst > 0, c.RateBurst},
		{"limiter_idle", c.LimiterIdle > 0, c.LimiterIdle},
		{"max_upload_size", c.MaxUploadSize > 0, c.MaxUploadSize},
		{"last_result_ttl", c.LastResultTTL > 0, c.LastResultTTL},
		{"recent_runs", c.RecentRuns > 0, c.RecentRuns},
	}
	for _, check := range checks {
		if !check.ok {
			return errors.ConfigurationError(errors.CodeInvalidConfig, check.key, check.val, nil).
				WithSuggestion("must be positive")
		}
	}
	if c.UploadDir == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "upload_dir", "", nil)
	}
	if c.DataDir == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "data_dir", "", nil)
	}
	if len(c.AllowedOrigins) == 0 {
		return errors.ConfigurationError(errors.CodeMissingConfig, "cors_origins", "", nil).
			WithSuggestion("list the allowed origins, or \"*\" for any origin")
	}
	return nil
}

// Deps are the services the handlers call into. Clients, Users and Journal
// may be nil; their routes then answer 503.
type Deps struct {
	Service  *reconciler.ReconciliationService
	Splits   *splits.Detector
	Settings *settings.Store
	Exporter *exporter.Exporter
	Results  *cache.TokenCache
	Auth     *auth.Service
	Clients  ClientStore
	Users    UserStore
	Journal  RunJournal
}

func (d Deps) validate() error {
	required := []struct {
		name string
		ok   bool
	}{
		{"service", d.Service != nil},
		{"splits", d.Splits != nil},
		{"settings", d.Settings != nil},
		{"exporter", d.Exporter != nil},
		{"results", d.Results != nil},
		{"auth", d.Auth != nil},
	}
	for _, r := range required {
		if !r.ok {
			return errors.ConfigurationError(errors.CodeMissingConfig, r.name, nil, nil).
				WithSuggestion("the API server needs every core service")
		}
	}
	return nil
}

// Server wires the handlers to a router.
type Server struct {
	config *Config
	deps   Deps
	pool   *WorkerPool
	last   *gocache.Cache
	limits *ipLimiter
	logger logger.Logger
	router *mux.Router
	root   http.Handler
	http   *http.Server
}

// NewServer builds the router. A nil config means defaults.
func NewServer(config *Config, deps Deps) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config: config,
		deps:   deps,
		pool:   NewWorkerPool(config.Workers),
		last:   gocache.New(config.LastResultTTL, 30*time.Minute),
		limits: newIPLimiter(config.RateLimit, config.RateBurst, config.LimiterIdle),
		logger: logger.GetGlobalLogger().WithComponent("api"),
	}
	s.router = s.routes()
	// CORS sits outside the router so preflights and 404s carry its headers.
	s.root = s.recoverMiddleware(s.corsMiddleware(s.rateLimitMiddleware(s.loggingMiddleware(s.router))))
	s.http = &http.Server{
		Addr:         config.Addr,
		Handler:      s.root,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/api/token", s.handleLogin).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleSaveSettings).Methods(http.MethodPost)
	api.HandleFunc("/settings/upload-split-list", s.handleUploadSplitList).Methods(http.MethodPost)

	api.HandleFunc("/compare", s.handleCompare).Methods(http.MethodPost)
	api.HandleFunc("/last-result", s.handleLastResult).Methods(http.MethodGet)
	api.HandleFunc("/export", s.handleExport).Methods(http.MethodPost)
	api.HandleFunc("/check-splits", s.handleCheckSplits).Methods(http.MethodPost)

	tools := api.PathPrefix("/tools/reconcile").Subrouter()
	tools.HandleFunc("/instrument-direction", s.handleInstrumentDirection).Methods(http.MethodPost)
	tools.HandleFunc("/duplicates-single", s.handleDuplicatesSingle).Methods(http.MethodPost)
	tools.HandleFunc("/amount-paper-two-files", s.handleAmountPaper).Methods(http.MethodPost)
	tools.HandleFunc("/download/{token}", s.handleDownload).Methods(http.MethodGet)

	api.HandleFunc("/clients", s.handleSearchClients).Methods(http.MethodGet)
	api.HandleFunc("/clients", s.handleCreateClient).Methods(http.MethodPost)
	api.HandleFunc("/clients/{id:[0-9]+}", s.handleGetClient).Methods(http.MethodGet)
	api.HandleFunc("/clients/{id:[0-9]+}", s.handleUpdateClient).Methods(http.MethodPut)
	api.HandleFunc("/clients/{id:[0-9]+}/status", s.handleSetClientStatus).Methods(http.MethodPut)
	api.HandleFunc("/clients/{id:[0-9]+}", s.handleDeleteClient).Methods(http.MethodDelete)

	api.HandleFunc("/runs", s.handleRecentRuns).Methods(http.MethodGet)
	return r
}

// Handler returns the root handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.root
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logger.Fields{
		"addr":    s.config.Addr,
		"workers": s.config.Workers,
	}).Info("Server starting")

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.InternalError(errors.CodeUnexpectedError, "listen", err)
	}
	s.logger.Info("Server stopped gracefully")
	return nil
}

// Shutdown stops accepting requests and waits for running ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "NeoExcelSync backend is running",
	})
}
