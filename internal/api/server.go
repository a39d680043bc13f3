// Package api serves the HTTP interface used by the recorder to submit
// sessions and segments, and by observers to read transcripts and follow
// progress.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leonardotrapani/segscribe/internal/progress"
	"github.com/leonardotrapani/segscribe/internal/queue"
	"github.com/leonardotrapani/segscribe/internal/storage"
	"github.com/leonardotrapani/segscribe/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Scheduler is the part of the segment queue the API drives.
type Scheduler interface {
	Enqueue(seg store.Segment)
	Resubmit(ctx context.Context, segmentID string) error
	Stats() queue.Stats
}

// Tracker is the part of the progress aggregator the API reads.
type Tracker interface {
	Snapshot() progress.Snapshot
	Subscribe() (<-chan progress.Change, func())
	Forget(sessionID string)
}

type Deps struct {
	Gateway  store.Gateway
	Files    storage.FileStorage
	Queue    Scheduler
	Progress Tracker
	Logger   zerolog.Logger
}

type Server struct {
	gateway  store.Gateway
	files    storage.FileStorage
	queue    Scheduler
	progress Tracker
	logger   zerolog.Logger
	engine   *gin.Engine
}

func New(deps Deps) *Server {
	s := &Server{
		gateway:  deps.Gateway,
		files:    deps.Files,
		queue:    deps.Queue,
		progress: deps.Progress,
		logger:   deps.Logger.With().Str("component", "api").Logger(),
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))
	s.routes(r)
	s.engine = r
	return s
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/status", s.status)
	r.GET("/events", s.events)

	sessions := r.Group("/sessions")
	sessions.POST("", s.createSession)
	sessions.GET("", s.listSessions)
	sessions.GET("/:id", s.getSession)
	sessions.GET("/:id/transcript", s.transcript)
	sessions.POST("/:id/segments", s.createSegment)
	sessions.POST("/:id/complete", s.completeSession)
	sessions.DELETE("/:id", s.deleteSession)

	r.POST("/segments/:id/retry", s.retrySegment)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve listens on addr until ctx is cancelled, then shuts down. Request
// contexts derive from ctx, so open event streams end with it.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("start http server")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := uuid.NewString()
		reqLogger := logger.With().Str("request_id", id).Logger()
		c.Request = c.Request.WithContext(reqLogger.WithContext(c.Request.Context()))
		c.Header("X-Request-ID", id)

		c.Next()

		reqLogger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
