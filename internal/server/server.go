// Package server exposes the job queue and NLP analysis over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/skillbridge/skillbridge/internal/nlp"
	"github.com/skillbridge/skillbridge/internal/queue"
)

const apiPrefix = "/api/v1"

// NLPService is the slice of the model-server client the routes consume.
type NLPService interface {
	ListModels(ctx context.Context) ([]string, error)
	ExtractEntities(ctx context.Context, text, model string) ([]nlp.Entity, error)
	ExtractDistinctEntities(ctx context.Context, text string) ([]nlp.Entity, error)
}

// Config holds the HTTP listener settings.
type Config struct {
	Host  string
	Port  int
	Debug bool
}

// Server wires the route layer to the queue core and the NLP client.
type Server struct {
	cfg    Config
	logger *zap.Logger
	queue  *queue.Queue
	nlp    NLPService
	server *http.Server
}

// New creates the server and its router.
func New(cfg Config, q *queue.Queue, nlpService NLPService, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		queue:  q,
		nlp:    nlpService,
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.buildRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	router.GET("/", s.root)
	router.GET("/healthz", s.healthz)
	router.GET("/readyz", s.readyz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group(apiPrefix)
	{
		jobs := api.Group("/jobs")
		jobs.POST("/submit", s.submitJob)
		jobs.GET("/status/:job_id", s.jobStatus)
		jobs.GET("/queue/status", s.queueStatus)

		api.POST("/analyze", s.analyze)
		api.POST("/analyze/all", s.analyzeAll)
		api.GET("/models", s.listModels)
		api.POST("/compare-skills", s.compareSkills)
	}

	return router
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting http server", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
