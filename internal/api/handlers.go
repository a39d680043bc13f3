package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/leonardotrapani/segscribe/internal/queue"
	"github.com/leonardotrapani/segscribe/internal/storage"
	"github.com/leonardotrapani/segscribe/internal/store"
)

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.gateway.CreateSession(c.Request.Context(), req.Title, req.AudioPath)
	if err != nil {
		abortWithError(c, err)
		return
	}
	zerolog.Ctx(c.Request.Context()).Info().Str("session", id).Str("title", req.Title).Msg("session created")
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) createSegment(c *gin.Context) {
	var req createSegmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	sessionID := c.Param("id")
	id, err := s.gateway.CreateSegment(ctx, sessionID, *req.Index, req.Start, req.End, req.AudioPath)
	if err != nil {
		abortWithError(c, err)
		return
	}
	seg, err := s.gateway.Segment(ctx, id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	s.queue.Enqueue(*seg)

	zerolog.Ctx(ctx).Debug().Str("session", sessionID).Str("segment", id).Int("index", seg.Index).Msg("segment queued")
	c.JSON(http.StatusCreated, toSegment(seg))
}

func (s *Server) completeSession(c *gin.Context) {
	var req completeSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	duration := time.Duration(req.Duration * float64(time.Second))
	if err := s.gateway.CompleteSession(c.Request.Context(), c.Param("id"), duration); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listSessions(c *gin.Context) {
	descending := c.DefaultQuery("order", "desc") != "asc"
	sessions, err := s.gateway.Sessions(c.Request.Context(), descending)
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		resp = append(resp, toSession(&sessions[i], false))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.gateway.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSession(sess, true))
}

func (s *Server) transcript(c *gin.Context) {
	sess, err := s.gateway.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.String(http.StatusOK, sess.Transcript())
}

// deleteSession removes audio files first, best-effort, then the records.
func (s *Server) deleteSession(c *gin.Context) {
	ctx := c.Request.Context()
	logger := zerolog.Ctx(ctx)

	sess, err := s.gateway.Session(ctx, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	paths := make([]string, 0, len(sess.Segments)+1)
	for _, seg := range sess.Segments {
		paths = append(paths, seg.AudioPath)
	}
	if sess.AudioPath != "" {
		paths = append(paths, sess.AudioPath)
	}
	for _, p := range paths {
		if err := s.files.Remove(ctx, p); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.Warn().Err(err).Str("path", p).Msg("failed to remove audio")
		}
	}

	if err := s.gateway.DeleteSession(ctx, sess.ID); err != nil {
		abortWithError(c, err)
		return
	}
	s.progress.Forget(sess.ID)

	logger.Info().Str("session", sess.ID).Int("segments", len(sess.Segments)).Msg("session deleted")
	c.Status(http.StatusNoContent)
}

func (s *Server) retrySegment(c *gin.Context) {
	if err := s.queue.Resubmit(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"queue":    s.queue.Stats(),
		"progress": s.progress.Snapshot(),
	})
}

// events streams a snapshot followed by every progress change as
// server-sent events until the client goes away.
func (s *Server) events(c *gin.Context) {
	changes, unsubscribe := s.progress.Subscribe()
	defer unsubscribe()

	c.SSEvent("snapshot", s.progress.Snapshot())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case change, ok := <-changes:
			if !ok {
				return false
			}
			c.SSEvent("progress", change)
			return true
		}
	})
}

func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateSegment), errors.Is(err, queue.ErrNotFailed):
		status = http.StatusConflict
	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
