package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a session or segment does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateSegment is returned when a session already has a segment
	// at the given index.
	ErrDuplicateSegment = errors.New("duplicate segment index")
)

// Gateway is the durable store consumed by the scheduler and the API.
type Gateway interface {
	CreateSession(ctx context.Context, title, audioPath string) (string, error)
	CreateSegment(ctx context.Context, sessionID string, index int, start, end float64, audioPath string) (string, error)
	UpdateSegmentStatus(ctx context.Context, segmentID string, status Status, retryCount int) error
	AttachResult(ctx context.Context, segmentID, text string, confidence float64, processingTime time.Duration, backend string) error
	CompleteSession(ctx context.Context, sessionID string, duration time.Duration) error
	Sessions(ctx context.Context, descending bool) ([]Session, error)
	Session(ctx context.Context, id string) (*Session, error)
	Segment(ctx context.Context, id string) (*Segment, error)
	UnfinishedSegments(ctx context.Context) ([]Segment, error)
	DeleteSession(ctx context.Context, id string) error
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	audioPath TEXT NOT NULL,
	createdAt REAL NOT NULL,
	duration REAL NOT NULL DEFAULT 0,
	completed INTEGER NOT NULL DEFAULT 0,
	totalSegments INTEGER NOT NULL DEFAULT 0,
	transcribedSegments INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS segments (
	id TEXT PRIMARY KEY,
	sessionId TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	segmentIndex INTEGER NOT NULL,
	startSec REAL NOT NULL,
	endSec REAL NOT NULL,
	audioPath TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	retryCount INTEGER NOT NULL DEFAULT 0,
	createdAt REAL NOT NULL,
	UNIQUE(sessionId, segmentIndex)
);

CREATE TABLE IF NOT EXISTS results (
	id TEXT PRIMARY KEY,
	segmentId TEXT NOT NULL UNIQUE REFERENCES segments(id) ON DELETE CASCADE,
	text TEXT NOT NULL,
	confidence REAL NOT NULL,
	processingMs INTEGER NOT NULL,
	backend TEXT NOT NULL,
	createdAt REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_segments_session ON segments(sessionId);
`

// SQLite is a Gateway backed by an embedded SQLite database.
//
// The pool is limited to one connection, so every statement (and every
// write transaction) runs through a single execution context.
type SQLite struct {
	db  *sql.DB
	wmu sync.Mutex
	now func() time.Time
}

// DefaultDBPath returns ~/.local/share/segscribe/segscribe.sqlite.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "segscribe", "segscribe.sqlite"), nil
}

// Open opens (creating if needed) the database at path. Use ":memory:" for a
// throwaway database.
func Open(path string) (*SQLite, error) {
	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLite) CreateSession(ctx context.Context, title, audioPath string) (string, error) {
	id := uuid.NewString()
	err := s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, title, audioPath, createdAt)
			VALUES (?, ?, ?, ?)`, id, title, audioPath, unixFromTime(s.now()))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

func (s *SQLite) CreateSegment(ctx context.Context, sessionID string, index int, start, end float64, audioPath string) (string, error) {
	id := uuid.NewString()
	err := s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sessions SET totalSegments = totalSegments + 1 WHERE id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if err := requireRow(res); err != nil {
			return fmt.Errorf("session %s: %w", sessionID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO segments (id, sessionId, segmentIndex, startSec, endSec, audioPath, status, createdAt)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, sessionID, index, start, end, audioPath, StatusPending, unixFromTime(s.now()))
		if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("segment %d of %s: %w", index, sessionID, ErrDuplicateSegment)
		}
		if err != nil {
			return fmt.Errorf("insert segment: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLite) UpdateSegmentStatus(ctx context.Context, segmentID string, status Status, retryCount int) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE segments SET status = ?, retryCount = ? WHERE id = ?`, status, retryCount, segmentID)
		if err != nil {
			return fmt.Errorf("update segment: %w", err)
		}
		if err := requireRow(res); err != nil {
			return fmt.Errorf("segment %s: %w", segmentID, err)
		}
		return nil
	})
}

// AttachResult stores the result for a segment, replacing any earlier one.
// The owning session's transcribed counter moves only the first time.
func (s *SQLite) AttachResult(ctx context.Context, segmentID, text string, confidence float64, processingTime time.Duration, backend string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		var sessionID string
		err := tx.QueryRowContext(ctx, `SELECT sessionId FROM segments WHERE id = ?`, segmentID).Scan(&sessionID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("segment %s: %w", segmentID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lookup segment: %w", err)
		}

		var existing int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM results WHERE segmentId = ?`, segmentID).Scan(&existing); err != nil {
			return fmt.Errorf("count results: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO results (id, segmentId, text, confidence, processingMs, backend, createdAt)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(segmentId) DO UPDATE SET
				text = excluded.text,
				confidence = excluded.confidence,
				processingMs = excluded.processingMs,
				backend = excluded.backend,
				createdAt = excluded.createdAt`,
			uuid.NewString(), segmentID, text, confidence, processingTime.Milliseconds(), backend, unixFromTime(s.now()))
		if err != nil {
			return fmt.Errorf("upsert result: %w", err)
		}

		if existing == 0 {
			_, err = tx.ExecContext(ctx, `
				UPDATE sessions
				SET transcribedSegments = MIN(transcribedSegments + 1, totalSegments)
				WHERE id = ?`, sessionID)
			if err != nil {
				return fmt.Errorf("update session progress: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLite) CompleteSession(ctx context.Context, sessionID string, duration time.Duration) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sessions SET completed = 1, duration = ? WHERE id = ?`, duration.Seconds(), sessionID)
		if err != nil {
			return fmt.Errorf("complete session: %w", err)
		}
		if err := requireRow(res); err != nil {
			return fmt.Errorf("session %s: %w", sessionID, err)
		}
		return nil
	})
}

// DeleteSession removes the session; segments and results cascade.
func (s *SQLite) DeleteSession(ctx context.Context, id string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		if err := requireRow(res); err != nil {
			return fmt.Errorf("session %s: %w", id, err)
		}
		return nil
	})
}

// Sessions returns all sessions ordered by creation time with their segments
// and results loaded.
func (s *SQLite) Sessions(ctx context.Context, descending bool) ([]Session, error) {
	order := "ASC"
	if descending {
		order = "DESC"
	}
	sessions, err := s.querySessions(ctx, `
		SELECT id, title, audioPath, createdAt, duration, completed, totalSegments, transcribedSegments
		FROM sessions
		ORDER BY createdAt `+order+`, rowid `+order)
	if err != nil {
		return nil, err
	}
	if err := s.loadSegments(ctx, sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Session returns one session with its segments and results.
func (s *SQLite) Session(ctx context.Context, id string) (*Session, error) {
	sessions, err := s.querySessions(ctx, `
		SELECT id, title, audioPath, createdAt, duration, completed, totalSegments, transcribedSegments
		FROM sessions
		WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err := s.loadSegments(ctx, sessions); err != nil {
		return nil, err
	}
	return &sessions[0], nil
}

// Segment returns one segment with its result, if any.
func (s *SQLite) Segment(ctx context.Context, id string) (*Segment, error) {
	segments, err := s.querySegments(ctx, segmentSelect+` WHERE s.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("segment %s: %w", id, ErrNotFound)
	}
	return &segments[0], nil
}

// UnfinishedSegments returns every segment not yet in a terminal status,
// oldest first.
func (s *SQLite) UnfinishedSegments(ctx context.Context) ([]Segment, error) {
	return s.querySegments(ctx, segmentSelect+`
		WHERE s.status NOT IN (?, ?, ?)
		ORDER BY s.createdAt ASC, s.rowid ASC`,
		StatusCompleted, StatusLocalCompleted, StatusFailed)
}

func (s *SQLite) querySessions(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var createdAt, duration float64
		var completed int
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.AudioPath, &createdAt, &duration,
			&completed, &sess.TotalSegments, &sess.TranscribedSegments); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.CreatedAt = timeFromUnix(createdAt)
		sess.Duration = time.Duration(duration * float64(time.Second))
		sess.Completed = completed != 0
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

const segmentSelect = `
	SELECT s.id, s.sessionId, s.segmentIndex, s.startSec, s.endSec, s.audioPath, s.status,
		s.retryCount, s.createdAt,
		r.id, r.text, r.confidence, r.processingMs, r.backend, r.createdAt
	FROM segments s
	LEFT JOIN results r ON r.segmentId = s.id`

func (s *SQLite) loadSegments(ctx context.Context, sessions []Session) error {
	if len(sessions) == 0 {
		return nil
	}

	ids := make([]any, len(sessions))
	byID := make(map[string]int, len(sessions))
	for i := range sessions {
		ids[i] = sessions[i].ID
		byID[sessions[i].ID] = i
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	segments, err := s.querySegments(ctx, segmentSelect+`
		WHERE s.sessionId IN (`+placeholders+`)
		ORDER BY s.sessionId, s.segmentIndex ASC`, ids...)
	if err != nil {
		return err
	}
	for _, seg := range segments {
		i := byID[seg.SessionID]
		sessions[i].Segments = append(sessions[i].Segments, seg)
	}
	return nil
}

func (s *SQLite) querySegments(ctx context.Context, query string, args ...any) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var seg Segment
		var status string
		var createdAt float64
		var resID, resText, resBackend sql.NullString
		var resConfidence, resCreatedAt sql.NullFloat64
		var resMs sql.NullInt64
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.Index, &seg.Start, &seg.End, &seg.AudioPath,
			&status, &seg.RetryCount, &createdAt,
			&resID, &resText, &resConfidence, &resMs, &resBackend, &resCreatedAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		seg.Status = Status(status)
		seg.CreatedAt = timeFromUnix(createdAt)
		if resID.Valid {
			seg.Result = &Result{
				ID:             resID.String,
				SegmentID:      seg.ID,
				Text:           resText.String,
				Confidence:     resConfidence.Float64,
				ProcessingTime: time.Duration(resMs.Int64) * time.Millisecond,
				Backend:        resBackend.String,
				CreatedAt:      timeFromUnix(resCreatedAt.Float64),
			}
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
