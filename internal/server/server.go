// Package server assembles the HTTP surface: middleware, the operational
// endpoints and the business routes.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"btr-application-api/internal/common/config"
	apperrors "btr-application-api/internal/common/errors"
	"btr-application-api/internal/common/logger"
)

// Pinger answers readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Registrar mounts routes on the engine.
type Registrar interface {
	Register(r gin.IRoutes)
}

type Server struct {
	cfg    config.ServerConfig
	engine *gin.Engine
	http   *http.Server
	logger logger.Logger
}

// New builds the engine. ready may be nil, in which case /ready always
// reports unavailable.
func New(cfg config.ServerConfig, log logger.Logger, ready Pinger, routes ...Registrar) *Server {
	engine := gin.New()
	engine.HandleMethodNotAllowed = false

	engine.Use(
		RequestID(),
		Recovery(log),
		AccessLog(log),
		CORS(cfg.CORS.AllowedOrigins),
		Metrics(),
	)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	engine.GET("/ready", readyHandler(ready, log))
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	for _, r := range routes {
		r.Register(engine)
	}

	errHandler := apperrors.NewErrorHandler(log)
	engine.NoRoute(func(c *gin.Context) {
		errHandler.Respond(c, apperrors.NewNotFoundError(c.Request.URL.Path))
	})

	return &Server{
		cfg:    cfg,
		engine: engine,
		logger: log,
		http: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      engine,
			ReadTimeout:  config.GetDuration(cfg.ReadTimeout),
			WriteTimeout: config.GetDuration(cfg.WriteTimeout),
		},
	}
}

func readyHandler(ready Pinger, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := ready.Ping(ctx); err != nil {
			log.Warn("readiness check failed", map[string]interface{}{"error": err})
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unavailable",
				"time":   time.Now().Format(time.RFC3339),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
			"time":   time.Now().Format(time.RFC3339),
		})
	}
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", map[string]interface{}{"addr": s.http.Addr})
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
