// Package store persists recording sessions, their audio segments and the
// transcription results produced for them.
package store

import (
	"fmt"
	"strings"
	"time"
)

// Status is the transcription state of a single segment.
type Status string

const (
	StatusPending         Status = "pending"
	StatusProcessing      Status = "processing"
	StatusLocalProcessing Status = "localProcessing"
	StatusCompleted       Status = "completed"
	StatusLocalCompleted  Status = "localCompleted"
	StatusFailed          Status = "failed"
)

// transitions lists the allowed next states for every status.
// pending -> failed is the missing-audio gate. failed -> pending exists only
// for manual re-submission.
var transitions = map[Status][]Status{
	StatusPending:         {StatusProcessing, StatusLocalProcessing, StatusFailed},
	StatusProcessing:      {StatusCompleted, StatusPending, StatusLocalProcessing},
	StatusLocalProcessing: {StatusLocalCompleted, StatusFailed},
	StatusFailed:          {StatusPending},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusLocalProcessing,
		StatusCompleted, StatusLocalCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic transition happens from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusLocalCompleted || s == StatusFailed
}

// IsCompleted reports whether s means a transcription result exists.
func (s Status) IsCompleted() bool {
	return s == StatusCompleted || s == StatusLocalCompleted
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Session is one recording, split into segments.
type Session struct {
	ID                  string
	Title               string
	AudioPath           string
	CreatedAt           time.Time
	Duration            time.Duration
	Completed           bool
	TotalSegments       int
	TranscribedSegments int
	Segments            []Segment
}

// Progress returns the transcribed fraction of the session, 0 when empty.
func (s *Session) Progress() float64 {
	if s.TotalSegments == 0 {
		return 0
	}
	return float64(s.TranscribedSegments) / float64(s.TotalSegments)
}

// Segment is a time-bounded slice of a session's recording.
type Segment struct {
	ID         string
	SessionID  string
	Index      int
	Start      float64 // seconds into the parent recording
	End        float64
	AudioPath  string
	Status     Status
	RetryCount int
	CreatedAt  time.Time
	Result     *Result
}

// Duration returns the segment length.
func (s *Segment) Duration() time.Duration {
	return time.Duration((s.End - s.Start) * float64(time.Second))
}

// Result is the transcription produced for one segment.
type Result struct {
	ID             string
	SegmentID      string
	Text           string
	Confidence     float64
	ProcessingTime time.Duration
	Backend        string
	CreatedAt      time.Time
}

// Transcript renders one line per transcribed segment, in index order,
// prefixed with the segment's start offset.
func (s *Session) Transcript() string {
	var b strings.Builder
	for _, seg := range s.Segments {
		if seg.Result == nil || seg.Result.Text == "" {
			continue
		}
		start := time.Duration(seg.Start * float64(time.Second)).Round(time.Second)
		fmt.Fprintf(&b, "[%02d:%02d] %s\n", int(start.Minutes()), int(start.Seconds())%60, seg.Result.Text)
	}
	return b.String()
}
