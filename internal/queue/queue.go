// Package queue schedules segment transcription: one segment in flight at a
// time, cloud first with bounded retry, local recognition as the fallback.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/leonardotrapani/segscribe/internal/notify"
	"github.com/leonardotrapani/segscribe/internal/secret"
	"github.com/leonardotrapani/segscribe/internal/storage"
	"github.com/leonardotrapani/segscribe/internal/store"
	"github.com/leonardotrapani/segscribe/internal/transcriber"
)

// ErrNotFailed is returned by Resubmit for segments that are not failed.
var ErrNotFailed = errors.New("segment is not failed")

// Config is the scheduling and retry policy.
type Config struct {
	TickInterval  time.Duration
	MinAudioBytes int64
	MaxRetries    int
	BaseDelay     time.Duration
	RetryFactor   float64
	MaxDelay      time.Duration
}

func DefaultConfig() Config {
	return Config{
		TickInterval:  500 * time.Millisecond,
		MinAudioBytes: 1024,
		MaxRetries:    5,
		BaseDelay:     2 * time.Second,
		RetryFactor:   1.5,
		MaxDelay:      30 * time.Second,
	}
}

// RetryDelay is min(MaxDelay, BaseDelay*RetryFactor*retryCount).
func (c Config) RetryDelay(retryCount int) time.Duration {
	d := time.Duration(float64(c.BaseDelay) * c.RetryFactor * float64(retryCount))
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

type Stats struct {
	Pending  int  `json:"pending"`
	InFlight bool `json:"inFlight"`
	Paused   bool `json:"paused"`
}

// Publisher receives segment events; notify.Hub satisfies it.
type Publisher interface {
	Publish(evt notify.Event)
}

// Deps are the collaborators a Queue drives.
type Deps struct {
	Gateway store.Gateway
	Files   storage.FileStorage
	Keys    secret.Store
	Cloud   transcriber.Backend
	Local   transcriber.Backend
	Events  Publisher
	Logger  zerolog.Logger
}

type Queue struct {
	deps   Deps
	config atomic.Pointer[Config]
	logger zerolog.Logger

	// inbox is the only state producers touch; the run loop drains it.
	mu    sync.Mutex
	inbox []store.Segment
	wake  chan struct{}
	done  chan struct{} // in-flight slot release, buffered

	pending  atomic.Int64
	inFlight atomic.Bool
	paused   atomic.Bool

	timerMu  sync.Mutex
	timers   map[string]*time.Timer
	stopping bool

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	stopped chan struct{}
}

func New(config Config, deps Deps) *Queue {
	q := &Queue{
		deps:    deps,
		logger:  deps.Logger.With().Str("component", "queue").Logger(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}, 1),
		timers:  make(map[string]*time.Timer),
		stopped: make(chan struct{}),
	}
	q.config.Store(&config)
	return q
}

// SetConfig swaps the policy; the running loop picks it up on its next wake.
func (q *Queue) SetConfig(config Config) {
	q.config.Store(&config)
	q.signal()
}

func (q *Queue) cfg() Config {
	return *q.config.Load()
}

// Enqueue appends seg to the tail of the queue without blocking on the
// scheduler. Observers see the segment as pending.
func (q *Queue) Enqueue(seg store.Segment) {
	q.pending.Add(1)
	q.push(seg)
	q.publishStatus(seg)
}

func (q *Queue) push(seg store.Segment) {
	q.mu.Lock()
	q.inbox = append(q.inbox, seg)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pause stops new dequeues. The in-flight segment keeps running.
func (q *Queue) Pause() {
	q.paused.Store(true)
	q.logger.Info().Msg("paused")
}

func (q *Queue) Resume() {
	q.paused.Store(false)
	q.logger.Info().Msg("resumed")
	q.signal()
}

func (q *Queue) Stats() Stats {
	return Stats{
		Pending:  int(q.pending.Load()),
		InFlight: q.inFlight.Load(),
		Paused:   q.paused.Load(),
	}
}

// Pending is the live queue size, including segments waiting out a retry delay.
func (q *Queue) Pending() int {
	return int(q.pending.Load())
}

// Resubmit moves a failed segment back to pending with a fresh retry budget.
func (q *Queue) Resubmit(ctx context.Context, segmentID string) error {
	seg, err := q.deps.Gateway.Segment(ctx, segmentID)
	if err != nil {
		return err
	}
	if seg.Status != store.StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, segmentID, seg.Status)
	}
	if err := q.deps.Gateway.UpdateSegmentStatus(ctx, segmentID, store.StatusPending, 0); err != nil {
		return fmt.Errorf("reset segment: %w", err)
	}
	seg.Status = store.StatusPending
	seg.RetryCount = 0
	seg.Result = nil

	q.logger.Info().Str("segment", segmentID).Msg("resubmitted")
	q.publish(notify.SegmentResubmitted, *seg, "")
	q.Enqueue(*seg)
	return nil
}

// Run starts the scheduling loop. It returns immediately.
func (q *Queue) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.wg.Add(1)
	go q.run(ctx)
}

// Stop cancels pending retry timers and waits for the loop and any
// in-flight segment to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.timerMu.Lock()
	q.stopping = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.timerMu.Unlock()
	q.wg.Wait()
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()

	interval := q.cfg().TickInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var fifo []store.Segment
	inFlight := false

	for {
		select {
		case <-ctx.Done():
			q.logger.Debug().Int("pending", len(fifo)).Msg("stopping")
			return
		case <-q.wake:
		case <-ticker.C:
		case <-q.done:
			inFlight = false
			q.inFlight.Store(false)
		}

		if next := q.cfg().TickInterval; next != interval {
			interval = next
			ticker.Reset(interval)
		}

		q.mu.Lock()
		fifo = append(fifo, q.inbox...)
		q.inbox = q.inbox[:0]
		q.mu.Unlock()

		if inFlight || q.paused.Load() || len(fifo) == 0 {
			continue
		}

		seg := fifo[0]
		fifo[0] = store.Segment{}
		fifo = fifo[1:]
		q.pending.Add(-1)

		inFlight = true
		q.inFlight.Store(true)
		q.wg.Add(1)
		go q.work(ctx, seg)
	}
}

// work processes one segment. The deferred send always frees the slot, even
// if processing panics.
func (q *Queue) work(ctx context.Context, seg store.Segment) {
	defer q.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().Interface("panic", r).Str("segment", seg.ID).Msg("segment processing panicked")
		}
		q.done <- struct{}{}
	}()
	q.process(ctx, seg)
}
