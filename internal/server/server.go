// Package server exposes the augmented page and its controls over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tldrpost/internal/discovery"
	"tldrpost/internal/domain"
	"tldrpost/internal/page"
)

const shutdownTimeout = 10 * time.Second

type Page interface {
	Mutate(ctx context.Context, batch page.Batch) error
	ChangeModel(ctx context.Context, id domain.BlockID, model string) error
	Render(ctx context.Context) (string, error)
	Snapshot(ctx context.Context) (discovery.Snapshot, error)
}

type Models interface {
	Selection() domain.ModelSelection
}

type Server struct {
	addr   string
	engine *gin.Engine
	page   Page
	models Models
	log    *slog.Logger
}

func New(addr string, p Page, models Models, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(log))

	s := &Server{
		addr:   addr,
		engine: engine,
		page:   p,
		models: models,
		log:    log,
	}

	engine.GET("/", s.render)
	engine.POST("/mutations", s.mutate)
	engine.GET("/blocks", s.blocks)
	engine.POST("/blocks/:id/model", s.changeModel)
	engine.GET("/models", s.selection)
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.InfoContext(ctx, "HTTP server is listening",
			"addr", s.addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		log.DebugContext(c.Request.Context(), "Request is handled",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsedSeconds", time.Since(start).Seconds())
	}
}
