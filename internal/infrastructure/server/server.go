package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/aamira/courier-tracker/internal/api/http"
	"github.com/aamira/courier-tracker/internal/api/middleware"
	"github.com/aamira/courier-tracker/internal/api/ws"
	"github.com/aamira/courier-tracker/internal/domain/session"
	"github.com/aamira/courier-tracker/internal/infrastructure/config"
	"github.com/aamira/courier-tracker/internal/infrastructure/logging"
	"github.com/aamira/courier-tracker/internal/infrastructure/monitoring"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *http.Server
	sessions *session.Manager
	handlers *apihttp.Handlers
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	cancel   context.CancelFunc
}

// Option customizes a server
type Option func(*options)

type options struct {
	logger *logging.Logger
	source session.SourceFactory
}

// WithLogger replaces the logger built from configuration
func WithLogger(log *logging.Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithLiveSource replaces the live transport of every session
func WithLiveSource(factory session.SourceFactory) Option {
	return func(o *options) { o.source = factory }
}

// NewServer creates a new server instance. Sessions run until ctx is done
// or Close is called.
func NewServer(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
	}

	logger.Info("Initializing courier tracker",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("directory", cfg.Directory.BaseURL),
		zap.String("live_transport", cfg.Live.Transport),
	)

	metrics := monitoring.NewMetrics()

	views, err := config.LoadViews(cfg.Sync.ViewsFile)
	if err != nil {
		return nil, err
	}
	if len(views) > 0 {
		logger.Info("Loaded saved views", zap.Int("count", len(views)), zap.String("file", cfg.Sync.ViewsFile))
	}

	ctx, cancel := context.WithCancel(ctx)
	sessions := session.NewManager(ctx, cfg, views, logger, metrics)
	if o.source != nil {
		sessions.WithSource(o.source)
	}

	handlers := apihttp.NewHandlers(sessions, metrics, logger)
	if cfg.Directory.Token != "" {
		s, err := sessions.Open("")
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to open default session: %w", err)
		}
		handlers.SetDefaultSession(s.ID())
		logger.Info("Default session opened", zap.String("session_id", s.ID()))
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(logger))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins...)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		limit := middleware.DefaultRateLimitConfig()
		limit.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		limit.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(limit))
	}

	wsHandler := ws.NewHandler(cfg.Server.AllowedOrigins, metrics, logger)
	apihttp.RegisterRoutes(router, handlers, wsHandler.Stream)

	logger.Info("Server initialized successfully")

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		sessions: sessions,
		handlers: handlers,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		cancel:   cancel,
	}, nil
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the session manager
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Run starts the HTTP server and blocks until it stops
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Close gracefully shuts down the server and every session
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	var shutdownErr error
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shut down HTTP server", zap.Error(err))
		shutdownErr = fmt.Errorf("failed to shut down HTTP server: %w", err)
	}

	s.sessions.CloseAll()
	s.cancel()
	s.logger.Info("Closed all sessions")

	// Sync logger before exit
	_ = s.logger.Sync()

	return shutdownErr
}
