package livehttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"cryptotrader/internal/logger"

	"github.com/gin-gonic/gin"
)

// Server serves the trading API, health and metrics.
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig describes the dependencies of the HTTP server. Metrics and
// the optional Router fields may be nil.
type ServerConfig struct {
	Addr        string
	Orders      OrderService
	Positions   PositionService
	Events      EventSource
	Diagnostics DiagnosticsSource
	Paper       PaperMarket
	Metrics     http.Handler
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orders == nil && cfg.Positions == nil {
		return nil, errors.New("http server requires orders or positions")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	api, err := NewRouter(cfg.Orders, cfg.Positions)
	if err != nil {
		return nil, err
	}
	api.Events = cfg.Events
	api.Diagnostics = cfg.Diagnostics
	api.Paper = cfg.Paper
	api.Register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		if status >= http.StatusInternalServerError {
			logger.Warnf("HTTP %s %s status=%d ip=%s dur=%s", method, fullPath, status, client, dur)
			return
		}
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, fullPath, status, client, dur)
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Request contexts end with ctx so open event streams let Shutdown finish.
	srv.BaseContext = func(net.Listener) context.Context { return ctx }
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("HTTP server listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
