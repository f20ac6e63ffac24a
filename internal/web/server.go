// internal/web/server.go
package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"tracewipe/internal/config"
	"tracewipe/internal/metrics"
	"tracewipe/internal/pipeline"
	"tracewipe/internal/policy"
)

// Server is the HTTP surface the thin UI clients (rule editor, popup)
// talk to, plus event ingestion from the browser shim.
type Server struct {
	config  *config.Config
	engine  *pipeline.Engine
	rules   *policy.Store
	metrics *metrics.Collector
	router  *gin.Engine
	server  *http.Server

	wsMu      sync.Mutex
	wsClients map[*WSClient]bool
}

func NewServer(cfg *config.Config, engine *pipeline.Engine, rules *policy.Store, metricsCollector *metrics.Collector) *Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	server := &Server{
		config:    cfg,
		engine:    engine,
		rules:     rules,
		metrics:   metricsCollector,
		router:    router,
		wsClients: make(map[*WSClient]bool),
	}

	engine.OnLogEntry = func(entry pipeline.LogEntry) {
		server.broadcast(WSMessage{Type: "action_log", Data: entry})
	}

	server.setupRoutes()
	return server
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Server.Port,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	logrus.WithField("port", s.config.Server.Port).Info("Starting web server")

	go s.updateMetricsRoutine(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.PUT("/paused", s.setPaused)
		api.POST("/forget", s.forgetURL)
		api.POST("/test", s.testURL)

		api.GET("/log", s.getActionLog)
		api.DELETE("/log", s.clearActionLog)
		api.DELETE("/buffer", s.clearBuffer)

		api.GET("/rules", s.getRules)
		api.POST("/rules", s.createRule)
		api.GET("/rules/:id", s.getRule)
		api.PUT("/rules/:id", s.updateRule)
		api.DELETE("/rules/:id", s.deleteRule)

		events := api.Group("/events")
		{
			events.POST("/visit", s.eventVisit)
			events.POST("/navigation", s.eventNavigation)
			events.POST("/tab-close", s.eventTabClose)
			events.POST("/window-close", s.eventWindowClose)
		}

		api.GET("/health", s.healthCheck)
	}

	// WebSocket endpoint
	s.router.GET("/ws", s.handleWebSocket)

	// Prometheus metrics
	if s.config.Prometheus.Enabled {
		s.router.GET(s.config.Prometheus.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

func (s *Server) updateMetricsRoutine(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, failed, err := s.engine.Buffer().Stats()
			if err != nil {
				logrus.WithError(err).Error("Failed to update buffer metrics")
				continue
			}
			s.metrics.UpdateBufferDepth(pending, failed)
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
