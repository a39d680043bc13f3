// Package progress aggregates segment events into queue counters and
// per-session transcription progress for observers.
package progress

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/leonardotrapani/segscribe/internal/notify"
	"github.com/leonardotrapani/segscribe/internal/store"
)

// SessionReader is the slice of the persistence gateway the aggregator needs.
type SessionReader interface {
	Session(ctx context.Context, id string) (*store.Session, error)
}

type Counters struct {
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type SessionProgress struct {
	SessionID   string  `json:"sessionId"`
	Transcribed int     `json:"transcribed"`
	Total       int     `json:"total"`
	Progress    float64 `json:"progress"`
}

// Change is sent to subscribers whenever a segment gains a result or fails,
// and when a status step moves a session's totals.
type Change struct {
	Type      notify.EventType `json:"type"`
	SegmentID string           `json:"segmentId"`
	Session   SessionProgress  `json:"session"`
	Counters  Counters         `json:"counters"`
}

type Snapshot struct {
	Counters Counters          `json:"counters"`
	Sessions []SessionProgress `json:"sessions"`
}

const subscriberBuffer = 16

// Aggregator implements notify.Subscriber. Every segment event recomputes its
// session from the store. Completed and Failed count segments in that state:
// outcomes already counted for a segment are ignored until a resubmission
// retracts them.
type Aggregator struct {
	sessions SessionReader
	pending  func() int
	logger   zerolog.Logger

	mu        sync.Mutex
	counters  Counters
	completed map[string]bool
	failed    map[string]bool
	progress  map[string]SessionProgress
	subs      map[int]chan Change
	nextSub   int
}

// New returns an aggregator. pending reports the live queue size and may be nil.
func New(sessions SessionReader, pending func() int, logger zerolog.Logger) *Aggregator {
	if pending == nil {
		pending = func() int { return 0 }
	}
	return &Aggregator{
		sessions:  sessions,
		pending:   pending,
		logger:    logger.With().Str("component", "progress").Logger(),
		completed: make(map[string]bool),
		failed:    make(map[string]bool),
		progress:  make(map[string]SessionProgress),
		subs:      make(map[int]chan Change),
	}
}

func (a *Aggregator) HandleEvent(evt notify.Event) {
	a.mu.Lock()
	switch evt.Type {
	case notify.SegmentCompleted:
		if a.completed[evt.SegmentID] {
			a.mu.Unlock()
			return
		}
		a.completed[evt.SegmentID] = true
		a.counters.Completed++
	case notify.SegmentFailed:
		if a.failed[evt.SegmentID] {
			a.mu.Unlock()
			return
		}
		a.failed[evt.SegmentID] = true
		a.counters.Failed++
	case notify.SegmentResubmitted:
		if a.failed[evt.SegmentID] {
			delete(a.failed, evt.SegmentID)
			a.counters.Failed--
		}
		if a.completed[evt.SegmentID] {
			delete(a.completed, evt.SegmentID)
			a.counters.Completed--
		}
	case notify.SegmentStatusChanged:
	default:
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	sp, moved, ok := a.refresh(evt.SessionID)
	if !ok {
		return
	}
	if !evt.Type.IsOutcome() && !moved {
		return
	}

	a.mu.Lock()
	change := Change{
		Type:      evt.Type,
		SegmentID: evt.SegmentID,
		Session:   sp,
		Counters:  a.countersLocked(),
	}
	for _, ch := range a.subs {
		select {
		case ch <- change:
		default:
		}
	}
	a.mu.Unlock()
}

// refresh reloads one session's counts from the store and reports whether
// they differ from the cached ones. The transcribed count never decreases, so
// a stale read cannot move progress backwards.
func (a *Aggregator) refresh(sessionID string) (sp SessionProgress, moved, ok bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := a.sessions.Session(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		a.Forget(sessionID)
		return SessionProgress{}, false, false
	}
	if err != nil {
		a.logger.Warn().Err(err).Str("session", sessionID).Msg("failed to load session")
		return SessionProgress{}, false, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sp = SessionProgress{
		SessionID:   sess.ID,
		Transcribed: sess.TranscribedSegments,
		Total:       sess.TotalSegments,
	}
	prev, seen := a.progress[sessionID]
	if seen && prev.Transcribed > sp.Transcribed {
		sp.Transcribed = prev.Transcribed
	}
	if sp.Total < sp.Transcribed {
		sp.Total = sp.Transcribed
	}
	if sp.Total > 0 {
		sp.Progress = float64(sp.Transcribed) / float64(sp.Total)
	}
	a.progress[sessionID] = sp
	return sp, !seen || prev != sp, true
}

// Forget drops the cached progress of a deleted session.
func (a *Aggregator) Forget(sessionID string) {
	a.mu.Lock()
	delete(a.progress, sessionID)
	a.mu.Unlock()
}

// Subscribe returns a channel of changes and a function that unsubscribes.
// Changes are dropped for subscribers that fall behind.
func (a *Aggregator) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, subscriberBuffer)

	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = ch
	a.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, id)
			a.mu.Unlock()
			close(ch)
		})
	}
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{Counters: a.countersLocked()}
	for _, sp := range a.progress {
		snap.Sessions = append(snap.Sessions, sp)
	}
	sort.Slice(snap.Sessions, func(i, j int) bool {
		return snap.Sessions[i].SessionID < snap.Sessions[j].SessionID
	})
	return snap
}

func (a *Aggregator) Session(id string) (SessionProgress, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sp, ok := a.progress[id]
	return sp, ok
}

func (a *Aggregator) countersLocked() Counters {
	c := a.counters
	c.Pending = a.pending()
	return c
}
