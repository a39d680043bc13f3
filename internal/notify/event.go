// Package notify fans out segment lifecycle events to interested parties.
package notify

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type EventType string

const (
	// SegmentCompleted is published only after the result is persisted.
	SegmentCompleted EventType = "segment.completed"
	SegmentFailed    EventType = "segment.failed"
	// SegmentStatusChanged covers entering the queue and every non-terminal
	// status step.
	SegmentStatusChanged EventType = "segment.status"
	// SegmentResubmitted retracts an earlier failure of the segment.
	SegmentResubmitted EventType = "segment.resubmitted"
)

// IsOutcome reports whether t ends a transcription attempt.
func (t EventType) IsOutcome() bool {
	return t == SegmentCompleted || t == SegmentFailed
}

type Event struct {
	Type      EventType `json:"type"`
	SegmentID string    `json:"segmentId"`
	SessionID string    `json:"sessionId"`
	Status    string    `json:"status,omitempty"`
	Backend   string    `json:"backend,omitempty"`
	At        time.Time `json:"at"`
}

// Subscriber receives events. Handlers must tolerate duplicates.
type Subscriber interface {
	HandleEvent(evt Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(evt Event)

func (f SubscriberFunc) HandleEvent(evt Event) { f(evt) }

// Hub delivers every published event to all subscribers, best-effort.
type Hub struct {
	mu     sync.RWMutex
	subs   []Subscriber
	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{logger: logger.With().Str("component", "notify").Logger()}
}

func (h *Hub) Subscribe(s Subscriber) {
	h.mu.Lock()
	h.subs = append(h.subs, s)
	h.mu.Unlock()
}

func (h *Hub) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	h.mu.RLock()
	subs := make([]Subscriber, len(h.subs))
	copy(subs, h.subs)
	h.mu.RUnlock()

	for _, s := range subs {
		h.deliver(s, evt)
	}
}

func (h *Hub) deliver(s Subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Str("segment", evt.SegmentID).Msg("subscriber panicked")
		}
	}()
	s.HandleEvent(evt)
}
