package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

func TestHubFansOut(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	var mu sync.Mutex
	var got []string
	for _, name := range []string{"a", "b"} {
		name := name
		hub.Subscribe(SubscriberFunc(func(evt Event) {
			mu.Lock()
			got = append(got, name+":"+evt.SegmentID)
			mu.Unlock()
		}))
	}

	hub.Publish(Event{Type: SegmentCompleted, SegmentID: "seg-1", SessionID: "sess"})

	if strings.Join(got, ",") != "a:seg-1,b:seg-1" {
		t.Errorf("deliveries = %v", got)
	}
}

func TestHubSurvivesPanickingSubscriber(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	delivered := false

	hub.Subscribe(SubscriberFunc(func(Event) { panic("boom") }))
	hub.Subscribe(SubscriberFunc(func(Event) { delivered = true }))

	hub.Publish(Event{Type: SegmentCompleted, SegmentID: "seg-1"})

	if !delivered {
		t.Error("later subscribers should still receive the event")
	}
}

func TestHubStampsTime(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var at time.Time
	hub.Subscribe(SubscriberFunc(func(evt Event) { at = evt.At }))

	hub.Publish(Event{Type: SegmentCompleted})
	if at.IsZero() {
		t.Error("event time should be set")
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	l := Log{Logger: zerolog.New(&buf)}

	l.HandleEvent(Event{Type: SegmentCompleted, SegmentID: "seg-1", SessionID: "sess-1", Backend: "openai"})
	out := buf.String()
	for _, want := range []string{`"level":"info"`, `"segment":"seg-1"`, `"session":"sess-1"`, `"backend":"openai"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}

	buf.Reset()
	l.HandleEvent(Event{Type: SegmentFailed, SegmentID: "seg-2"})
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Errorf("failures should log at warn: %s", buf.String())
	}

	buf.Reset()
	l.HandleEvent(Event{Type: SegmentStatusChanged, SegmentID: "seg-3", Status: "processing"})
	if !strings.Contains(buf.String(), `"level":"debug"`) || !strings.Contains(buf.String(), `"status":"processing"`) {
		t.Errorf("status steps should log at debug: %s", buf.String())
	}
}

func TestEventTypeIsOutcome(t *testing.T) {
	tests := []struct {
		typ  EventType
		want bool
	}{
		{SegmentCompleted, true},
		{SegmentFailed, true},
		{SegmentStatusChanged, false},
		{SegmentResubmitted, false},
	}
	for _, tt := range tests {
		if got := tt.typ.IsOutcome(); got != tt.want {
			t.Errorf("%s.IsOutcome() = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestDesktopIgnoresCompletions(t *testing.T) {
	// completions never shell out, so this is safe without notify-send
	Desktop{Logger: zerolog.Nop()}.HandleEvent(Event{Type: SegmentCompleted})
}

func TestNopNotifier(t *testing.T) {
	var s Subscriber = Nop{}
	s.HandleEvent(Event{Type: SegmentFailed})
}

func TestDialAMQPGivesUp(t *testing.T) {
	attempts := 0
	orig := dial
	dial = func(url string) (*amqp.Connection, error) {
		attempts++
		return nil, errors.New("connection refused")
	}
	defer func() { dial = orig }()

	_, err := DialAMQP(context.Background(), AMQPConfig{URL: "amqp://localhost", MaxRetries: 2})
	if err == nil {
		t.Fatal("expected dial error")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}
