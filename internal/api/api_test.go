package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/leonardotrapani/segscribe/internal/notify"
	"github.com/leonardotrapani/segscribe/internal/progress"
	"github.com/leonardotrapani/segscribe/internal/queue"
	"github.com/leonardotrapani/segscribe/internal/storage"
	"github.com/leonardotrapani/segscribe/internal/store"
	"github.com/leonardotrapani/segscribe/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeQueue struct {
	mu          sync.Mutex
	enqueued    []store.Segment
	resubmitted []string
	resubmitErr error
}

func (f *fakeQueue) Enqueue(seg store.Segment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, seg)
}

func (f *fakeQueue) Resubmit(ctx context.Context, segmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resubmitErr != nil {
		return f.resubmitErr
	}
	f.resubmitted = append(f.resubmitted, segmentID)
	return nil
}

func (f *fakeQueue) Stats() queue.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return queue.Stats{Pending: len(f.enqueued)}
}

type fixture struct {
	db       *store.SQLite
	files    *storage.Local
	queue    *fakeQueue
	progress *progress.Aggregator
	server   *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.OpenStore(t)
	files, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	q := &fakeQueue{}
	agg := progress.New(db, nil, zerolog.Nop())

	return &fixture{
		db:       db,
		files:    files,
		queue:    q,
		progress: agg,
		server: New(Deps{
			Gateway:  db,
			Files:    files,
			Queue:    q,
			Progress: agg,
			Logger:   zerolog.Nop(),
		}),
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestCreateSessionAndSegment(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/sessions", map[string]any{"title": "standup", "audioPath": "rec.m4a"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create session status = %d: %s", w.Code, w.Body.String())
	}
	sessionID := decode[map[string]string](t, w)["id"]
	if sessionID == "" {
		t.Fatal("expected session id")
	}

	w = f.do(t, http.MethodPost, "/sessions/"+sessionID+"/segments", map[string]any{
		"index": 0, "start": 0, "end": 30, "audioPath": "seg-0.wav",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create segment status = %d: %s", w.Code, w.Body.String())
	}
	seg := decode[segmentResponse](t, w)
	if seg.Status != store.StatusPending || seg.SessionID != sessionID || seg.Index != 0 {
		t.Errorf("unexpected segment %+v", seg)
	}
	if len(f.queue.enqueued) != 1 || f.queue.enqueued[0].ID != seg.ID {
		t.Errorf("expected segment to be enqueued, got %+v", f.queue.enqueued)
	}

	sess, err := f.db.Session(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess.TotalSegments != 1 {
		t.Errorf("TotalSegments = %d, want 1", sess.TotalSegments)
	}
}

func TestCreateSegmentErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sessionID, _ := f.db.CreateSession(ctx, "s", "rec.m4a")
	if _, err := f.db.CreateSegment(ctx, sessionID, 0, 0, 30, "seg-0.wav"); err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}

	tests := []struct {
		name    string
		session string
		body    map[string]any
		want    int
	}{
		{"missing index", sessionID, map[string]any{"start": 0, "end": 30, "audioPath": "a.wav"}, http.StatusBadRequest},
		{"missing audio path", sessionID, map[string]any{"index": 1, "start": 0, "end": 30}, http.StatusBadRequest},
		{"end before start", sessionID, map[string]any{"index": 1, "start": 30, "end": 10, "audioPath": "a.wav"}, http.StatusBadRequest},
		{"negative index", sessionID, map[string]any{"index": -1, "start": 0, "end": 30, "audioPath": "a.wav"}, http.StatusBadRequest},
		{"duplicate index", sessionID, map[string]any{"index": 0, "start": 0, "end": 30, "audioPath": "a.wav"}, http.StatusConflict},
		{"unknown session", "missing", map[string]any{"index": 0, "start": 0, "end": 30, "audioPath": "a.wav"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/sessions/"+tt.session+"/segments", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
	if len(f.queue.enqueued) != 0 {
		t.Errorf("rejected segments must not be enqueued, got %d", len(f.queue.enqueued))
	}
}

func TestCreateSessionRequiresTitle(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/sessions", map[string]any{"audioPath": "rec.m4a"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetSessionAndTranscript(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sessionID, _ := f.db.CreateSession(ctx, "interview", "rec.m4a")
	seg0, _ := f.db.CreateSegment(ctx, sessionID, 0, 0, 30, "seg-0.wav")
	f.db.CreateSegment(ctx, sessionID, 1, 30, 60, "seg-1.wav")
	if err := f.db.AttachResult(ctx, seg0, "Hello world.", 0.9, 2*time.Second, "openai"); err != nil {
		t.Fatalf("AttachResult: %v", err)
	}

	w := f.do(t, http.MethodGet, "/sessions/"+sessionID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	sess := decode[sessionResponse](t, w)
	if sess.TotalSegments != 2 || sess.TranscribedSegments != 1 || sess.Progress != 0.5 {
		t.Errorf("unexpected counters %+v", sess)
	}
	if len(sess.Segments) != 2 {
		t.Fatalf("len(Segments) = %d, want 2", len(sess.Segments))
	}
	if r := sess.Segments[0].Result; r == nil || r.Text != "Hello world." || r.ProcessingTime != 2000 || r.Backend != "openai" {
		t.Errorf("unexpected result %+v", r)
	}
	if sess.Segments[1].Result != nil {
		t.Errorf("segment 1 should have no result")
	}

	w = f.do(t, http.MethodGet, "/sessions/"+sessionID+"/transcript", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("transcript status = %d", w.Code)
	}
	if got := w.Body.String(); got != "[00:00] Hello world.\n" {
		t.Errorf("transcript = %q", got)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}

	for _, path := range []string{"/sessions/missing", "/sessions/missing/transcript"} {
		if w := f.do(t, http.MethodGet, path, nil); w.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, w.Code)
		}
	}
}

func TestListSessionsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _ := f.db.CreateSession(ctx, "first", "a.m4a")
	second, _ := f.db.CreateSession(ctx, "second", "b.m4a")

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{second, first}},
		{"?order=desc", []string{second, first}},
		{"?order=asc", []string{first, second}},
	}
	for _, tt := range tests {
		w := f.do(t, http.MethodGet, "/sessions"+tt.query, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		list := decode[[]sessionResponse](t, w)
		if len(list) != 2 || list[0].ID != tt.want[0] || list[1].ID != tt.want[1] {
			t.Errorf("order %q: got %+v", tt.query, list)
		}
		if list[0].Segments != nil {
			t.Errorf("list should not embed segments")
		}
	}
}

func TestCompleteSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessionID, _ := f.db.CreateSession(ctx, "s", "rec.m4a")

	w := f.do(t, http.MethodPost, "/sessions/"+sessionID+"/complete", map[string]any{"duration": 90.5})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	sess, _ := f.db.Session(ctx, sessionID)
	if !sess.Completed || sess.Duration != 90500*time.Millisecond {
		t.Errorf("session not completed: %+v", sess)
	}

	if w := f.do(t, http.MethodPost, "/sessions/missing/complete", map[string]any{"duration": 1}); w.Code != http.StatusNotFound {
		t.Errorf("missing session status = %d, want 404", w.Code)
	}
}

func TestDeleteSessionRemovesAudio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.files.Root()
	testutil.WriteAudio(t, root, "rec.m4a", 10)
	testutil.WriteAudio(t, root, "seg-0.wav", 10)

	sessionID, _ := f.db.CreateSession(ctx, "s", "rec.m4a")
	seg0, _ := f.db.CreateSegment(ctx, sessionID, 0, 0, 30, "seg-0.wav")
	// seg-1.wav never existed; removal must not block the delete.
	f.db.CreateSegment(ctx, sessionID, 1, 30, 60, "seg-1.wav")
	f.db.AttachResult(ctx, seg0, "hi there", 0.9, time.Second, "openai")
	f.progress.HandleEvent(notify.Event{Type: notify.SegmentCompleted, SegmentID: seg0, SessionID: sessionID})
	if _, ok := f.progress.Session(sessionID); !ok {
		t.Fatal("expected tracked progress before delete")
	}

	w := f.do(t, http.MethodDelete, "/sessions/"+sessionID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	for _, name := range []string{"rec.m4a", "seg-0.wav"} {
		if _, err := os.Stat(filepath.Join(root, name)); !os.IsNotExist(err) {
			t.Errorf("%s should be removed, stat err = %v", name, err)
		}
	}
	if _, err := f.db.Session(ctx, sessionID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected session to be deleted, got %v", err)
	}
	if _, ok := f.progress.Session(sessionID); ok {
		t.Error("expected progress to be forgotten")
	}

	if w := f.do(t, http.MethodDelete, "/sessions/"+sessionID, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestRetrySegment(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"not failed", queue.ErrNotFailed, http.StatusConflict},
		{"unknown", store.ErrNotFound, http.StatusNotFound},
		{"store error", errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.queue.resubmitErr = tt.err

			w := f.do(t, http.MethodPost, "/segments/seg-1/retry", nil)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.err == nil && (len(f.queue.resubmitted) != 1 || f.queue.resubmitted[0] != "seg-1") {
				t.Errorf("resubmitted = %v", f.queue.resubmitted)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.queue.Enqueue(store.Segment{ID: "a"})
	f.queue.Enqueue(store.Segment{ID: "b"})

	w := f.do(t, http.MethodGet, "/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Queue    queue.Stats       `json:"queue"`
		Progress progress.Snapshot `json:"progress"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Queue.Pending != 2 {
		t.Errorf("pending = %d, want 2", resp.Queue.Pending)
	}
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	next := func() (string, string) {
		t.Helper()
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			case line == "" && event != "":
				return event, data
			}
		}
	}

	if event, _ := next(); event != "snapshot" {
		t.Fatalf("first event = %q, want snapshot", event)
	}

	bg := context.Background()
	sessionID, _ := f.db.CreateSession(bg, "live", "rec.m4a")
	segID, _ := f.db.CreateSegment(bg, sessionID, 0, 0, 30, "seg-0.wav")
	f.db.AttachResult(bg, segID, "hello", 0.9, time.Second, "openai")
	f.progress.HandleEvent(notify.Event{Type: notify.SegmentCompleted, SegmentID: segID, SessionID: sessionID})

	event, data := next()
	if event != "progress" {
		t.Fatalf("event = %q, want progress", event)
	}
	var change progress.Change
	if err := json.Unmarshal([]byte(data), &change); err != nil {
		t.Fatalf("decode change %q: %v", data, err)
	}
	if change.SegmentID != segID || change.Session.Transcribed != 1 || change.Counters.Completed != 1 {
		t.Errorf("unexpected change %+v", change)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	f := newFixture(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.server.serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	testutil.WaitForCondition(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(2 * shutdownTimeout):
		t.Fatal("server did not stop")
	}
}
