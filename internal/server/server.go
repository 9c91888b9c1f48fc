// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/fashionpoint/platform/internal/account"
	"github.com/fashionpoint/platform/internal/auth"
	"github.com/fashionpoint/platform/internal/catalog"
	"github.com/fashionpoint/platform/internal/config"
	"github.com/fashionpoint/platform/internal/escrow"
	"github.com/fashionpoint/platform/internal/health"
	"github.com/fashionpoint/platform/internal/logging"
	"github.com/fashionpoint/platform/internal/metrics"
	"github.com/fashionpoint/platform/internal/order"
	"github.com/fashionpoint/platform/internal/points"
	"github.com/fashionpoint/platform/internal/ratelimit"
	"github.com/fashionpoint/platform/internal/scheduler"
	"github.com/fashionpoint/platform/internal/security"
	"github.com/fashionpoint/platform/internal/subscription"
	"github.com/fashionpoint/platform/internal/sysconfig"
	"github.com/fashionpoint/platform/internal/traces"
	"github.com/fashionpoint/platform/internal/validation"
	"github.com/fashionpoint/platform/internal/xrpl"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	gateway xrpl.Gateway

	accounts      account.Store
	catalogStore  catalog.Store
	sysconfig     *sysconfig.Service
	pointsService *points.Service
	escrowService *escrow.Service
	orderService  *order.Service
	subscriptions *subscription.Service

	schedRunner *scheduler.Runner
	schedTimer  *scheduler.Timer
	subTimer    *subscription.Timer

	verifier    *auth.Verifier
	rateLimiter *ratelimit.Limiter
	healthReg   *health.Registry

	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	shutdownTrace func(context.Context) error
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGateway sets a custom ledger gateway (for testing)
func WithGateway(g xrpl.Gateway) Option {
	return func(s *Server) {
		s.gateway = g
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set gateway/logger)
	for _, opt := range opts {
		opt(s)
	}

	if s.gateway == nil {
		s.gateway = xrpl.NewClient(cfg.XRPLURL, cfg.LedgerTimeout)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.accounts = account.NewPostgresStore(db)
		s.catalogStore = catalog.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.sysconfig = sysconfig.NewService(sysconfig.NewPostgresStore(db), s.accounts)
		s.pointsService = points.NewService(points.NewPostgresStore(db), s.accounts, s.sysconfig, s.gateway)
		s.escrowService = escrow.NewService(escrow.NewPostgresStore(db), s.gateway, s.pointsService, s.sysconfig, cfg.EscrowBufferDays)
		s.orderService = order.NewService(order.NewPostgresStore(db), s.catalogStore, s.accounts, s.escrowService, s.pointsService, s.gateway, s.sysconfig, cfg.EarnRateBp)
		s.subscriptions = subscription.NewService(subscription.NewPostgresStore(db), s.accounts, s.gateway, s.sysconfig)
	} else {
		s.accounts = account.NewMemoryStore()
		s.catalogStore = catalog.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")

		s.sysconfig = sysconfig.NewService(sysconfig.NewMemoryStore(), s.accounts)
		s.pointsService = points.NewService(points.NewMemoryStore(), s.accounts, s.sysconfig, s.gateway)
		s.escrowService = escrow.NewService(escrow.NewMemoryStore(), s.gateway, s.pointsService, s.sysconfig, cfg.EscrowBufferDays)
		s.orderService = order.NewService(order.NewMemoryStore(), s.catalogStore, s.accounts, s.escrowService, s.pointsService, s.gateway, s.sysconfig, cfg.EarnRateBp)
		s.subscriptions = subscription.NewService(subscription.NewMemoryStore(), s.accounts, s.gateway, s.sysconfig)
	}
	s.escrowService.BindOrders(s.orderService)

	// Reconciliation scheduler: escrow release + order expiry sweeps
	s.schedRunner = scheduler.NewRunner(s.escrowService, s.orderService, cfg.OrderLookbackDays)
	s.schedTimer = scheduler.NewTimer(s.schedRunner, cfg.SchedulerInterval, s.logger)
	s.subTimer = subscription.NewTimer(s.subscriptions, cfg.SchedulerInterval, s.logger)

	s.verifier = auth.NewVerifier(cfg.JWTSecret)

	s.healthReg = health.NewRegistry()
	if s.db != nil {
		db := s.db
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Healthy: false, Detail: err.Error()}
			}
			return health.Status{Healthy: true}
		})
	}

	// Setup router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// maskDSN hides credentials when logging the database URL.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/api", s.infoHandler)

	// V1 API group. The auth middleware only attaches the principal;
	// RequireAuth/RequireAdmin on the subgroups do the rejecting.
	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(s.verifier))

	protected := v1.Group("", auth.RequireAuth())
	admin := v1.Group("", auth.RequireAdmin())

	accountHandler := account.NewHandler(s.accounts)
	accountHandler.RegisterProtectedRoutes(protected)
	accountHandler.RegisterAdminRoutes(admin)

	catalogHandler := catalog.NewHandler(s.catalogStore)
	catalogHandler.RegisterProtectedRoutes(protected)
	catalogHandler.RegisterAdminRoutes(admin)

	sysconfigHandler := sysconfig.NewHandler(s.sysconfig)
	sysconfigHandler.RegisterAdminRoutes(admin)

	pointsHandler := points.NewHandler(s.pointsService)
	pointsHandler.RegisterProtectedRoutes(protected)
	pointsHandler.RegisterAdminRoutes(admin)

	escrowHandler := escrow.NewHandler(s.escrowService)
	escrowHandler.RegisterProtectedRoutes(protected)
	escrowHandler.RegisterAdminRoutes(admin)

	orderHandler := order.NewHandler(s.orderService)
	orderHandler.RegisterProtectedRoutes(protected)

	subscriptionHandler := subscription.NewHandler(s.subscriptions)
	subscriptionHandler.RegisterProtectedRoutes(protected)
	subscriptionHandler.RegisterAdminRoutes(admin)

	schedulerHandler := scheduler.NewHandler(s.schedRunner, s.schedTimer)
	schedulerHandler.RegisterAdminRoutes(admin)
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "fashionpoint settlement platform",
		"version": "0.1.0",
		"endpoints": gin.H{
			"health":  "/health",
			"metrics": "/metrics",
			"api":     "/v1",
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background timers, then blocks until a
// shutdown signal arrives or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op when no endpoint configured)
	shutdownTrace, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Error("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTrace = shutdownTrace
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start reconciliation scheduler
	if s.schedTimer.Start(runCtx) {
		s.logger.Info("reconciliation scheduler started", "interval", s.cfg.SchedulerInterval.String())
	}

	// Start subscription billing sweep
	if s.subTimer.Start(runCtx) {
		s.logger.Info("subscription sweep started", "interval", s.cfg.SchedulerInterval.String())
	}

	// Sample DB pool stats into Prometheus gauges
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop reconciliation scheduler
	if s.schedTimer != nil {
		s.schedTimer.Stop()
		s.logger.Info("reconciliation scheduler stopped")
	}

	// Stop subscription sweep
	if s.subTimer != nil {
		s.subTimer.Stop()
		s.logger.Info("subscription sweep stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.shutdownTrace != nil {
		if err := s.shutdownTrace(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	// Close gateway connection
	if err := s.gateway.Close(); err != nil {
		s.logger.Error("gateway close error", "error", err)
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
