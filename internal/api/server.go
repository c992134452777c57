// Package api serves the HTTP interface used by scanners and the desktop
// client, including the real-time event streams.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/bolttrack/internal/allocator"
	"github.com/zulandar/bolttrack/internal/audit"
	"github.com/zulandar/bolttrack/internal/events"
	"github.com/zulandar/bolttrack/internal/logging"
	"github.com/zulandar/bolttrack/internal/roll"
	"github.com/zulandar/bolttrack/internal/session"
	"gorm.io/gorm"
)

// Options wires the API to its collaborators.
type Options struct {
	DB         *gorm.DB
	Bus        *events.Bus
	Audit      audit.Sink
	Log        *logrus.Entry
	MaxBatch   int
	StaleAfter time.Duration
}

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	Options
	Port int
}

type server struct {
	db         *gorm.DB
	bus        *events.Bus
	log        *logrus.Entry
	staleAfter time.Duration
	alloc      *allocator.Allocator
	rolls      *roll.Service
	sessions   *session.Service
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts Options) (*gin.Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("api: db is required")
	}
	if opts.Log == nil {
		opts.Log = logging.Discard()
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 2 * time.Minute
	}
	var pub events.Publisher = events.Discard{}
	if opts.Bus != nil {
		pub = opts.Bus
	}

	s := &server{
		db:         opts.DB,
		bus:        opts.Bus,
		log:        opts.Log,
		staleAfter: opts.StaleAfter,
		alloc:      allocator.New(opts.DB, pub, opts.Audit, opts.Log.WithField("component", "allocator"), opts.MaxBatch),
		rolls:      roll.New(opts.DB, pub, opts.Audit, opts.Log.WithField("component", "roll")),
		sessions:   session.New(opts.DB, pub, opts.Audit, opts.Log.WithField("component", "session")),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Log))
	s.registerRoutes(router)
	return router, nil
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts.Options)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Log != nil {
		opts.Log.WithField("port", opts.Port).Info("http server listening")
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

func (s *server) registerRoutes(router *gin.Engine) {
	api := router.Group("/api")

	barcodes := api.Group("/barcodes")
	barcodes.GET("/sequence", s.handleNextSequence)
	barcodes.POST("/generate", s.handleGenerate)
	barcodes.GET("/gaps", s.handleGaps)

	mobile := api.Group("/mobile")
	mobile.GET("/scan/:barcode", s.handleScanStatus)
	mobile.POST("/transaction", s.handleTransaction)
	mobile.POST("/batch-out", s.handleBatchOut)
	mobile.GET("/missing-scans", s.handleMissingScans)

	api.GET("/inventory/:barcode", s.handleGetRoll)
	api.PUT("/inventory/:barcode", s.handleUpdateRoll)
	api.DELETE("/inventory/:barcode", s.handleDeleteRoll)
	api.PATCH("/missing/:barcode/damaged", s.handleMarkDamaged)

	sessions := api.Group("/sessions")
	sessions.POST("", s.handleCreateSession)
	sessions.GET("/active", s.handleActiveSessions)
	sessions.GET("/history", s.handleSessionHistory)
	sessions.POST("/:id/join", s.handleJoinSession)
	sessions.GET("/:id/preview", s.handlePreviewSession)
	sessions.POST("/:id/end", s.handleEndSession)
	sessions.GET("/:id/summary", s.handleSessionSummary)

	api.GET("/sizes", s.handleListSizes)
	api.GET("/sizes/stats", s.handleSizeStats)
	api.POST("/sizes", s.handleAddSize)
	api.DELETE("/sizes/:code", s.handleDeleteSize)

	api.GET("/scanners", s.handleListScanners)
	api.POST("/scanners", s.handleRegisterScanner)
	api.DELETE("/scanners/:id", s.handleDeleteScanner)

	api.GET("/employees", s.handleListEmployees)
	api.POST("/employees", s.handleAddEmployee)
	api.DELETE("/employees/:id", s.handleTerminateEmployee)

	api.GET("/stats/dashboard", s.handleDashboard)
	api.GET("/stats/list/:kind", s.handleStatsList)
	api.GET("/admin/audit-logs", s.handleAuditLogs)

	api.GET("/events", s.handleSSE)
	api.GET("/ws", s.handleWebSocket)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		}).Debug("request")
	}
}
