// Package mcpserver exposes stored sessions and transcripts to MCP clients
// over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/leonardotrapani/segscribe/internal/store"
)

// Reader is the read-only slice of the persistence gateway the tools use.
type Reader interface {
	Sessions(ctx context.Context, descending bool) ([]store.Session, error)
	Session(ctx context.Context, id string) (*store.Session, error)
}

type Server struct {
	reader Reader
	logger zerolog.Logger
	mcp    *server.MCPServer
}

func New(reader Reader, version string, logger zerolog.Logger) *Server {
	s := &Server{
		reader: reader,
		logger: logger.With().Str("component", "mcp").Logger(),
		mcp:    server.NewMCPServer("segscribe", version, server.WithToolCapabilities(false)),
	}

	s.mcp.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List recorded sessions with their transcription progress, newest first."),
		mcp.WithBoolean("ascending", mcp.Description("List oldest sessions first")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.listSessions)

	s.mcp.AddTool(mcp.NewTool("get_transcript",
		mcp.WithDescription("Get the transcript of a session, one line per transcribed segment."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID from list_sessions")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.getTranscript)

	return s
}

// Serve speaks MCP on in/out until ctx is cancelled or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info().Msg("serving mcp on stdio")
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

type sessionSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"createdAt"`
	Duration    float64   `json:"duration"`
	Completed   bool      `json:"completed"`
	Transcribed int       `json:"transcribedSegments"`
	Total       int       `json:"totalSegments"`
	Progress    float64   `json:"progress"`
}

func (s *Server) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	descending := !req.GetBool("ascending", false)
	sessions, err := s.reader.Sessions(ctx, descending)
	if err != nil {
		s.logger.Error().Err(err).Msg("list sessions")
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}

	out := make([]sessionSummary, 0, len(sessions))
	for i := range sessions {
		sess := &sessions[i]
		out = append(out, sessionSummary{
			ID:          sess.ID,
			Title:       sess.Title,
			CreatedAt:   sess.CreatedAt,
			Duration:    sess.Duration.Seconds(),
			Completed:   sess.Completed,
			Transcribed: sess.TranscribedSegments,
			Total:       sess.TotalSegments,
			Progress:    sess.Progress(),
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) getTranscript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	sess, err := s.reader.Session(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("session %s not found", id)), nil
	}
	if err != nil {
		s.logger.Error().Err(err).Str("session", id).Msg("load session")
		return mcp.NewToolResultError(fmt.Sprintf("failed to load session: %v", err)), nil
	}

	text := sess.Transcript()
	if text == "" {
		text = "No transcribed segments yet."
	}
	return mcp.NewToolResultText(text), nil
}
