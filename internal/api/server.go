package api

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chronex-io/chronex/internal/api/handlers"
	"github.com/chronex-io/chronex/internal/api/middleware"
	"github.com/chronex-io/chronex/internal/logging"
	"github.com/chronex-io/chronex/internal/scheduler"
	"github.com/chronex-io/chronex/pkg/config"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server exposes scheduler management over HTTP.
type Server struct {
	config config.App
	logger logging.Logger
	router *gin.Engine
	sched  *scheduler.Scheduler
}

// NewServer wires the management API around an existing scheduler instance.
func NewServer(cfg config.App, logger logging.Logger, sched *scheduler.Scheduler) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	server := &Server{
		config: cfg,
		logger: logger,
		sched:  sched,
	}
	server.setupRouter()
	return server
}

// setupRouter configures the Gin router with middleware and routes.
func (s *Server) setupRouter() {
	router := gin.New()

	// Get underlying zap logger for gin-contrib/zap middleware
	zapLogger := s.getZapLogger()

	// Global middleware (order matters!)
	// 1. Recovery - must be first to catch panics from other middleware
	router.Use(ginzap.RecoveryWithZap(zapLogger, true))

	// 2. Request ID - inject unique ID for tracing
	router.Use(middleware.RequestID())

	// 3. Logging - log all requests with structured fields
	router.Use(ginzap.Ginzap(zapLogger, time.RFC3339, true))

	// 4. CORS - handle cross-origin requests
	router.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health endpoint (no /api/v1 prefix)
	router.GET("/health", handlers.NewHealthHandler(s.logger, s.sched).Health)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		schedHandler := handlers.NewSchedulerHandler(s.logger, s.sched)
		sch := v1.Group("/scheduler")
		{
			sch.GET("", schedHandler.Metadata)
			sch.POST("/start", schedHandler.Start)
			sch.POST("/standby", schedHandler.Standby)
			sch.POST("/pause-all", schedHandler.PauseAll)
			sch.POST("/resume-all", schedHandler.ResumeAll)
			sch.GET("/executing-jobs", schedHandler.ExecutingJobs)
		}

		jobHandler := handlers.NewJobHandler(s.logger, s.sched)
		triggerHandler := handlers.NewTriggerHandler(s.logger, s.sched)
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.CreateJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:group/:name", jobHandler.GetJob)
			jobs.DELETE("/:group/:name", jobHandler.DeleteJob)
			jobs.POST("/:group/:name/trigger", jobHandler.TriggerJob)
			jobs.POST("/:group/:name/pause", jobHandler.PauseJob)
			jobs.POST("/:group/:name/resume", jobHandler.ResumeJob)
			jobs.POST("/:group/:name/interrupt", schedHandler.InterruptJob)
			jobs.GET("/:group/:name/triggers", triggerHandler.ListTriggersForJob)
		}

		triggers := v1.Group("/triggers")
		{
			triggers.POST("", triggerHandler.Schedule)
			triggers.GET("", triggerHandler.ListTriggers)
			triggers.GET("/:group/:name", triggerHandler.GetTrigger)
			triggers.PUT("/:group/:name", triggerHandler.Reschedule)
			triggers.DELETE("/:group/:name", triggerHandler.DeleteTrigger)
			triggers.POST("/:group/:name/pause", triggerHandler.PauseTrigger)
			triggers.POST("/:group/:name/resume", triggerHandler.ResumeTrigger)
		}

		calendarHandler := handlers.NewCalendarHandler(s.logger, s.sched)
		calendars := v1.Group("/calendars")
		{
			calendars.GET("", calendarHandler.ListCalendars)
			calendars.PUT("/:name", calendarHandler.PutCalendar)
			calendars.GET("/:name", calendarHandler.GetCalendar)
			calendars.DELETE("/:name", calendarHandler.DeleteCalendar)
		}
	}

	s.router = router
}

// Router exposes the configured handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// getZapLogger extracts the underlying *zap.Logger from our Logger interface.
// This is needed for gin-contrib/zap middleware.
func (s *Server) getZapLogger() *zap.Logger {
	// Create a new zap logger for middleware (gin-contrib/zap needs *zap.Logger)
	var zapLogger *zap.Logger
	if s.config.Environment == "production" {
		zapLogger, _ = zap.NewProduction()
	} else {
		zapLogger, _ = zap.NewDevelopment()
	}
	return zapLogger
}

// Serve starts the HTTP server and blocks until an interrupt, then drains
// in-flight requests and shuts the scheduler down.
func (s *Server) Serve() error {
	addr := ":" + s.config.APIPort
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Channel to listen for interrupt signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting API server",
			zap.String("address", addr),
			zap.String("environment", s.config.Environment),
			zap.String("log_level", s.config.LogLevel),
		)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	<-quit
	s.logger.Info("shutting down server gracefully...")

	// Graceful shutdown with 30 second timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("server forced to shutdown", zap.Error(err))
		return err
	}

	if err := s.sched.Shutdown(ctx, true); err != nil {
		s.logger.Error("scheduler shutdown failed", zap.Error(err))
	}

	// Flush logger before exit
	if err := s.logger.Sync(); err != nil {
		// Ignore sync errors on stdout/stderr
		if err.Error() != "sync /dev/stdout: invalid argument" &&
			err.Error() != "sync /dev/stderr: invalid argument" {
			return err
		}
	}

	s.logger.Info("server stopped")
	return nil
}
