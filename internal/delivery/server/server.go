// Package server is the relay's admin HTTP surface: health, Prometheus
// metrics, the list of running agents and a websocket stream of run events.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relay/internal/domain/run"
	"relay/internal/shared/logging"
	id "relay/internal/shared/utils/id"
)

const (
	shutdownTimeout = 10 * time.Second
	logIDHeader     = "X-Log-Id"
)

// RunLister reports the runs currently registered. *relay.Engine implements it.
type RunLister interface {
	Snapshot() []run.Summary
}

// Config configures the admin server.
type Config struct {
	Addr           string
	AllowedOrigins []string
	Version        string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
}

// Server serves the admin API.
type Server struct {
	cfg        Config
	runs       RunLister
	hub        *Hub
	gatherer   prometheus.Gatherer
	logger     logging.Logger
	engine     *gin.Engine
	upgrader   websocket.Upgrader
	httpServer *http.Server
	startedAt  time.Time
}

// New builds the server. gatherer defaults to the global Prometheus registry.
func New(cfg Config, runs RunLister, hub *Hub, gatherer prometheus.Gatherer, logger logging.Logger) (*Server, error) {
	if runs == nil || hub == nil {
		return nil, fmt.Errorf("admin server requires a run lister and an event hub")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("admin server address is empty")
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	logger = logging.OrNop(logger)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowMethods = []string{http.MethodGet, http.MethodOptions}
		corsConfig.AllowWebSockets = true
		engine.Use(cors.New(corsConfig))
	}

	s := &Server{
		cfg:       cfg,
		runs:      runs,
		hub:       hub,
		gatherer:  gatherer,
		logger:    logger,
		engine:    engine,
		startedAt: time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	api := s.engine.Group("/api")
	api.GET("/runs", s.handleRuns)
	s.engine.GET("/ws/runs", s.handleWebSocket)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("admin server listen %s: %w", s.cfg.Addr, err)
	}
	s.logger.Info("Admin server listening on %s", listener.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Admin server shutdown: %v", err)
		return err
	}
	s.logger.Info("Admin server stopped")
	return nil
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Uptime  string `json:"uptime"`
	Running int    `json:"running"`
	Clients int    `json:"stream_clients"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Version: s.cfg.Version,
		Uptime:  time.Since(s.startedAt).Round(time.Second).String(),
		Running: len(s.runs.Snapshot()),
		Clients: s.hub.Len(),
	})
}

type runsResponse struct {
	Runs []run.Summary `json:"runs"`
}

func (s *Server) handleRuns(c *gin.Context) {
	runs := s.runs.Snapshot()
	if runs == nil {
		runs = []run.Summary{}
	}
	c.JSON(http.StatusOK, runsResponse{Runs: runs})
}

func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		logID := c.GetHeader(logIDHeader)
		if logID == "" {
			logID = id.NewLogID()
		}
		c.Header(logIDHeader, logID)
		start := time.Now()
		c.Next()
		logging.WithLogID(logger, logID).Debug("%s %s -> %d in %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
