package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"trade-guard/config"
	"trade-guard/internal/auth"
	"trade-guard/internal/circuit"
	"trade-guard/internal/events"
	"trade-guard/internal/exposure"
	"trade-guard/internal/guard"
	"trade-guard/internal/logging"
	"trade-guard/internal/signals"
	"trade-guard/internal/systemguard"
)

// RateLimiter provides simple in-memory rate limiting per key
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// DecisionLister returns recent audited decisions
type DecisionLister interface {
	RecentDecisions(ctx context.Context, account string, limit int) ([]guard.Decision, error)
}

// HealthChecker is anything /health should probe
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the guard components the API exposes. Decisions, Pipeline and
// Health are optional.
type Deps struct {
	Account   string
	Guard     *guard.Orchestrator
	System    *systemguard.Guard
	Breaker   *circuit.Breaker
	Exposure  *exposure.Tracker
	Pipeline  *signals.Pipeline
	Decisions DecisionLister
	Bus       *events.EventBus
	Health    map[string]HealthChecker
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      config.ServerConfig
	deps        Deps
	jwtManager  *auth.JWTManager
	rateLimiter *RateLimiter
	validator   *signals.Validator
	hub         *WSHub
	log         *logging.Logger
}

// NewServer creates a new API server. jwtManager may be nil when auth is
// disabled.
func NewServer(cfg config.ServerConfig, deps Deps, jwtManager *auth.JWTManager) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	corsConfig := cors.DefaultConfig()
	if origins := splitOrigins(cfg.AllowedOrigins); len(origins) == 1 && origins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		config:      cfg,
		deps:        deps,
		jwtManager:  jwtManager,
		rateLimiter: NewRateLimiter(60, time.Minute),
		validator:   signals.NewValidator(),
		log:         logging.WithComponent("api"),
	}

	if deps.Bus != nil {
		s.hub = InitWebSocket(deps.Bus)
	}

	s.setupRoutes()
	return s
}

// Router exposes the handler for tests and embedding
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	if s.jwtManager != nil {
		api.Use(auth.Middleware(s.jwtManager))
	}

	api.GET("/guard/check", s.handleCheckGuards)
	api.GET("/guard/system", s.handleSystemStatus)
	api.POST("/guard/evaluate", s.handleEvaluate)
	api.GET("/circuit", s.handleCircuitStats)
	api.GET("/exposure", s.handleExposure)
	api.GET("/decisions", s.handleRecentDecisions)
	api.POST("/signals", s.handleGenerateSignal)

	ops := api.Group("")
	ops.Use(auth.RequireOperator(), s.rateLimitMiddleware())
	ops.POST("/guard/trip", s.handleTrip)
	ops.POST("/guard/recover", s.handleRecover)
	ops.POST("/guard/reset", s.handleReset)
	ops.POST("/guard/reserve", s.handleReserve)
	ops.DELETE("/guard/reservations/:id", s.handleRelease)
	ops.POST("/executions", s.handleRecordExecution)
	ops.POST("/executions/failure", s.handleRecordFailure)

	ws := s.router.Group("/ws")
	if s.jwtManager != nil {
		ws.Use(auth.Middleware(s.jwtManager))
	}
	ws.GET("/events", s.handleWebSocket)
}

// rateLimitMiddleware limits state-changing calls per operator
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := auth.GetOperator(c) + ":" + c.FullPath()
		if !s.rateLimiter.Allow(key) {
			errorResponse(c, http.StatusTooManyRequests, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

// requestLogger attaches a trace-scoped logger to each request
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx, _ := logging.WithTraceContext(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		l := logging.APIContext(c.Request.Method, c.FullPath(), c.Writer.Status()).
			WithTraceID(logging.TraceID(ctx)).
			WithDuration(time.Since(start))
		if c.Writer.Status() >= http.StatusInternalServerError {
			l.Warn("request failed")
			return
		}
		l.Debug("request served")
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := s.config.Addr()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("starting HTTP server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if s.hub != nil {
		s.hub.Stop()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	components := gin.H{}
	healthy := true
	for name, hc := range s.deps.Health {
		if err := hc.HealthCheck(ctx); err != nil {
			components[name] = "unhealthy"
			healthy = false
			continue
		}
		components[name] = "healthy"
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "components": components})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "components": components})
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func splitOrigins(v string) []string {
	var out []string
	for _, o := range strings.Split(v, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:5173"}
	}
	return out
}
