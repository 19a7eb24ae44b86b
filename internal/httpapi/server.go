// Package httpapi exposes the detection engine over HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/optim-dev/aina/internal/logging"
	"github.com/optim-dev/aina/internal/metrics"
	"github.com/optim-dev/aina/pkg/terminology"
	"github.com/optim-dev/aina/pkg/terminology/internalerr"
	"github.com/optim-dev/aina/pkg/terminology/lifecycle"
)

// Config tunes the server. Zero values fall back to the engine defaults.
type Config struct {
	Mode          string
	MaxBodyBytes  int64
	MaxBatch      int
	K             int
	Threshold     float64
	ContextWindow int
	Logging       LoggingConfig
}

// Server routes HTTP requests to the engine and the index lifecycle.
type Server struct {
	engine  *terminology.Engine
	manager *lifecycle.Manager
	metrics *metrics.Metrics
	log     logging.Logger
	cfg     Config
	router  *gin.Engine
}

// New builds the router. manager and m may be nil: without a manager the
// rebuild endpoints answer 503, without metrics /metrics is not mounted.
func New(engine *terminology.Engine, manager *lifecycle.Manager, m *metrics.Metrics, log logging.Logger, cfg Config) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 64
	}
	if cfg.Logging.SkipPaths == nil && cfg.Logging.SlowThreshold == 0 {
		cfg.Logging = DefaultLoggingConfig()
	}
	s := &Server{
		engine:  engine,
		manager: manager,
		metrics: m,
		log:     logging.OrDefault(log).Named("http"),
		cfg:     cfg,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(requestID(), recovery(s.log), requestLogging(s.log, s.cfg.Logging), s.countRequests(), limitBody(s.cfg.MaxBodyBytes))

	r.GET("/health", s.health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	r.POST("/detect", s.detect)
	r.POST("/detect/batch", s.detectBatch)
	r.POST("/detect-candidates", s.detectCandidates)
	r.POST("/search", s.search)
	r.GET("/entries/:id", s.entry)

	r.POST("/vectorize", s.vectorize)
	r.POST("/reload", s.reload)
	r.POST("/reload-variants", s.reload)

	r.NoRoute(func(c *gin.Context) {
		s.fail(c, fmt.Errorf("%w: no route %s %s", internalerr.ErrNotFound, c.Request.Method, c.Request.URL.Path))
	})
	return r
}

// ListenAndServe runs srv with this server's handler until ctx is done, then
// drains in-flight requests for at most grace.
func (s *Server) ListenAndServe(ctx context.Context, srv *http.Server, grace time.Duration) error {
	srv.Handler = s.router
	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", logging.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down", logging.Duration("grace", grace))
	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
