package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()

	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusLocalProcessing, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusPending, true},
		{StatusProcessing, StatusLocalProcessing, true},
		{StatusLocalProcessing, StatusLocalCompleted, true},
		{StatusLocalProcessing, StatusFailed, true},
		{StatusFailed, StatusPending, true},
		{StatusCompleted, StatusProcessing, false},
		{StatusLocalCompleted, StatusPending, false},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, true},
		{StatusLocalProcessing, StatusProcessing, false},
		{StatusProcessing, StatusFailed, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusLocalCompleted, StatusFailed} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusProcessing, StatusLocalProcessing} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestSessionProgress(t *testing.T) {
	s := Session{}
	if s.Progress() != 0 {
		t.Errorf("empty session progress = %v, want 0", s.Progress())
	}
	s = Session{TotalSegments: 4, TranscribedSegments: 1}
	if s.Progress() != 0.25 {
		t.Errorf("progress = %v, want 0.25", s.Progress())
	}
}

func TestCreateSessionAndSegments(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sessID, err := s.CreateSession(ctx, "standup", "rec.m4a")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := s.CreateSegment(ctx, sessID, i, float64(i*30), float64((i+1)*30), "seg.wav"); err != nil {
			t.Fatalf("CreateSegment %d: %v", i, err)
		}
	}

	sess, err := s.Session(ctx, sessID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess.TotalSegments != 3 {
		t.Errorf("TotalSegments = %d, want 3", sess.TotalSegments)
	}
	if len(sess.Segments) != 3 {
		t.Fatalf("len(Segments) = %d, want 3", len(sess.Segments))
	}
	for i, seg := range sess.Segments {
		if seg.Index != i {
			t.Errorf("segment %d has index %d", i, seg.Index)
		}
		if seg.Status != StatusPending {
			t.Errorf("segment %d status = %s, want pending", i, seg.Status)
		}
	}
}

func TestCreateSegmentUnknownSession(t *testing.T) {
	s := openTestStore(t)

	_, err := s.CreateSegment(context.Background(), "missing", 0, 0, 30, "seg.wav")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateSegmentDuplicateIndex(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sessID, _ := s.CreateSession(ctx, "dup", "rec.m4a")
	if _, err := s.CreateSegment(ctx, sessID, 0, 0, 30, "a.wav"); err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	_, err := s.CreateSegment(ctx, sessID, 0, 0, 30, "b.wav")
	if !errors.Is(err, ErrDuplicateSegment) {
		t.Fatalf("expected ErrDuplicateSegment, got %v", err)
	}

	sess, err := s.Session(ctx, sessID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess.TotalSegments != 1 {
		t.Errorf("TotalSegments = %d, want 1", sess.TotalSegments)
	}
}

func TestAttachResultCountsOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sessID, _ := s.CreateSession(ctx, "s", "rec.m4a")
	segID, _ := s.CreateSegment(ctx, sessID, 0, 0, 30, "seg.wav")
	if _, err := s.CreateSegment(ctx, sessID, 1, 30, 60, "seg1.wav"); err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}

	if err := s.AttachResult(ctx, segID, "first", 0.5, time.Second, "openai"); err != nil {
		t.Fatalf("AttachResult: %v", err)
	}
	if err := s.AttachResult(ctx, segID, "second", 0.9, 2*time.Second, "whisper-cpp"); err != nil {
		t.Fatalf("AttachResult replace: %v", err)
	}

	sess, err := s.Session(ctx, sessID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess.TranscribedSegments != 1 {
		t.Errorf("TranscribedSegments = %d, want 1", sess.TranscribedSegments)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM results WHERE segmentId = ?`, segID).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("result rows = %d, want 1", count)
	}

	seg, err := s.Segment(ctx, segID)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if seg.Result == nil || seg.Result.Text != "second" || seg.Result.Backend != "whisper-cpp" {
		t.Fatalf("result not replaced: %+v", seg.Result)
	}
	if seg.Result.ProcessingTime != 2*time.Second {
		t.Errorf("ProcessingTime = %v, want 2s", seg.Result.ProcessingTime)
	}
}

func TestProgressNeverExceedsTotal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sessID, _ := s.CreateSession(ctx, "s", "rec.m4a")
	var ids []string
	for i := 0; i < 4; i++ {
		id, _ := s.CreateSegment(ctx, sessID, i, 0, 1, "seg.wav")
		ids = append(ids, id)
	}

	last := 0
	for _, id := range append(ids, ids...) {
		if err := s.AttachResult(ctx, id, "text", 0.9, 0, "openai"); err != nil {
			t.Fatalf("AttachResult: %v", err)
		}
		sess, _ := s.Session(ctx, sessID)
		if sess.TranscribedSegments < last {
			t.Fatalf("transcribed went backwards: %d -> %d", last, sess.TranscribedSegments)
		}
		if sess.TranscribedSegments > sess.TotalSegments {
			t.Fatalf("transcribed %d exceeds total %d", sess.TranscribedSegments, sess.TotalSegments)
		}
		last = sess.TranscribedSegments
	}
	if last != 4 {
		t.Errorf("final transcribed = %d, want 4", last)
	}
}

func TestUpdateSegmentStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sessID, _ := s.CreateSession(ctx, "s", "rec.m4a")
	segID, _ := s.CreateSegment(ctx, sessID, 0, 0, 30, "seg.wav")

	if err := s.UpdateSegmentStatus(ctx, segID, StatusProcessing, 2); err != nil {
		t.Fatalf("UpdateSegmentStatus: %v", err)
	}
	seg, _ := s.Segment(ctx, segID)
	if seg.Status != StatusProcessing || seg.RetryCount != 2 {
		t.Errorf("got status=%s retry=%d", seg.Status, seg.RetryCount)
	}

	if err := s.UpdateSegmentStatus(ctx, "missing", StatusFailed, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateSegmentStatus(ctx, segID, Status("bogus"), 0); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	keep, _ := s.CreateSession(ctx, "keep", "a.m4a")
	if _, err := s.CreateSegment(ctx, keep, 0, 0, 30, "keep.wav"); err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}

	sessID, _ := s.CreateSession(ctx, "drop", "b.m4a")
	var first string
	for i := 0; i < 3; i++ {
		id, _ := s.CreateSegment(ctx, sessID, i, 0, 30, "seg.wav")
		if i == 0 {
			first = id
		}
	}
	if err := s.AttachResult(ctx, first, "hello", 0.9, time.Second, "openai"); err != nil {
		t.Fatalf("AttachResult: %v", err)
	}

	if err := s.DeleteSession(ctx, sessID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	var segments, results int
	s.db.QueryRow(`SELECT COUNT(*) FROM segments WHERE sessionId = ?`, sessID).Scan(&segments)
	s.db.QueryRow(`SELECT COUNT(*) FROM results`).Scan(&results)
	if segments != 0 {
		t.Errorf("segments left = %d, want 0", segments)
	}
	if results != 0 {
		t.Errorf("results left = %d, want 0", results)
	}

	sessions, err := s.Sessions(ctx, true)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != keep {
		t.Errorf("expected only the kept session, got %+v", sessions)
	}

	if err := s.DeleteSession(ctx, sessID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestSessionsOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	a, _ := s.CreateSession(ctx, "a", "a.m4a")
	b, _ := s.CreateSession(ctx, "b", "b.m4a")

	desc, err := s.Sessions(ctx, true)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(desc) != 2 || desc[0].ID != b || desc[1].ID != a {
		t.Errorf("descending order wrong: %+v", desc)
	}

	asc, _ := s.Sessions(ctx, false)
	if len(asc) != 2 || asc[0].ID != a {
		t.Errorf("ascending order wrong: %+v", asc)
	}
}

func TestUnfinishedSegments(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sessID, _ := s.CreateSession(ctx, "s", "rec.m4a")
	done, _ := s.CreateSegment(ctx, sessID, 0, 0, 30, "0.wav")
	stuck, _ := s.CreateSegment(ctx, sessID, 1, 30, 60, "1.wav")
	fresh, _ := s.CreateSegment(ctx, sessID, 2, 60, 90, "2.wav")

	s.UpdateSegmentStatus(ctx, done, StatusCompleted, 0)
	s.UpdateSegmentStatus(ctx, stuck, StatusProcessing, 1)

	segs, err := s.UnfinishedSegments(ctx)
	if err != nil {
		t.Fatalf("UnfinishedSegments: %v", err)
	}
	if len(segs) != 2 || segs[0].ID != stuck || segs[1].ID != fresh {
		t.Errorf("unexpected unfinished segments: %+v", segs)
	}
}

func TestCompleteSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sessID, _ := s.CreateSession(ctx, "s", "rec.m4a")
	if err := s.CompleteSession(ctx, sessID, 95*time.Second); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	sess, _ := s.Session(ctx, sessID)
	if !sess.Completed || sess.Duration != 95*time.Second {
		t.Errorf("got completed=%v duration=%v", sess.Completed, sess.Duration)
	}
}

func TestSessionTranscript(t *testing.T) {
	sess := Session{Segments: []Segment{
		{Index: 0, Start: 0, Result: &Result{Text: "Hello there."}},
		{Index: 1, Start: 30, Status: StatusFailed},
		{Index: 2, Start: 65, Result: &Result{Text: "General Kenobi."}},
	}}

	want := "[00:00] Hello there.\n[01:05] General Kenobi.\n"
	if got := sess.Transcript(); got != want {
		t.Errorf("Transcript() = %q, want %q", got, want)
	}
}
