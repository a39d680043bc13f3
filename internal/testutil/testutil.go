// Package testutil holds fakes and helpers shared by package tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leonardotrapani/segscribe/internal/notify"
	"github.com/leonardotrapani/segscribe/internal/store"
	"github.com/leonardotrapani/segscribe/internal/transcriber"
)

// OpenStore opens an in-memory store closed at test cleanup.
func OpenStore(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// WriteAudio creates a file of size bytes under dir and returns its name.
func WriteAudio(t *testing.T, dir, name string, size int) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return name
}

// CreateTempConfigFile creates a temporary config file for testing
func CreateTempConfigFile(t *testing.T, configContent string) string {
	t.Helper()

	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.toml")

	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}

	return configPath
}

// FakeBackend implements transcriber.Backend for testing.
type FakeBackend struct {
	BackendName    string
	TranscribeFunc func(ctx context.Context, seg store.Segment) (transcriber.Result, error)

	calls   atomic.Int64
	active  atomic.Int64
	maxSeen atomic.Int64
}

func NewFakeBackend(name string, fn func(ctx context.Context, seg store.Segment) (transcriber.Result, error)) *FakeBackend {
	return &FakeBackend{BackendName: name, TranscribeFunc: fn}
}

func (f *FakeBackend) Name() string {
	return f.BackendName
}

func (f *FakeBackend) Transcribe(ctx context.Context, seg store.Segment) (transcriber.Result, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	if f.TranscribeFunc != nil {
		return f.TranscribeFunc(ctx, seg)
	}
	return transcriber.Result{Text: "mock transcription", Confidence: 0.9}, nil
}

// Calls is the number of Transcribe invocations.
func (f *FakeBackend) Calls() int {
	return int(f.calls.Load())
}

// MaxConcurrent is the highest number of overlapping Transcribe calls seen.
func (f *FakeBackend) MaxConcurrent() int {
	return int(f.maxSeen.Load())
}

// StatusChange is one recorded UpdateSegmentStatus call.
type StatusChange struct {
	SegmentID  string
	Status     store.Status
	RetryCount int
}

// RecordingGateway wraps a gateway and records status writes. When Err is
// set, status writes are recorded but not persisted and Err is returned.
type RecordingGateway struct {
	store.Gateway
	Err error

	mu      sync.Mutex
	changes []StatusChange
}

func NewRecordingGateway(g store.Gateway) *RecordingGateway {
	return &RecordingGateway{Gateway: g}
}

func (r *RecordingGateway) UpdateSegmentStatus(ctx context.Context, segmentID string, status store.Status, retryCount int) error {
	r.mu.Lock()
	r.changes = append(r.changes, StatusChange{SegmentID: segmentID, Status: status, RetryCount: retryCount})
	r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	return r.Gateway.UpdateSegmentStatus(ctx, segmentID, status, retryCount)
}

// Path returns the statuses written for one segment, in order.
func (r *RecordingGateway) Path(segmentID string) []store.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var path []store.Status
	for _, c := range r.changes {
		if c.SegmentID == segmentID {
			path = append(path, c.Status)
		}
	}
	return path
}

// EventRecorder collects published events.
type EventRecorder struct {
	mu     sync.Mutex
	events []notify.Event
	// OnEvent runs synchronously inside Publish when set.
	OnEvent func(evt notify.Event)
	// OutcomesOnly drops status and resubmission events.
	OutcomesOnly bool
}

func (r *EventRecorder) Publish(evt notify.Event) {
	if r.OutcomesOnly && !evt.Type.IsOutcome() {
		return
	}
	if r.OnEvent != nil {
		r.OnEvent(evt)
	}
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *EventRecorder) HandleEvent(evt notify.Event) {
	r.Publish(evt)
}

func (r *EventRecorder) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Event, len(r.events))
	copy(out, r.events)
	return out
}

// WaitForCondition waits for a condition to be true or times out
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("Condition not met within %v", timeout)
		default:
			if condition() {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}
