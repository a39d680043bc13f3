package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leonardotrapani/segscribe/internal/notify"
	"github.com/leonardotrapani/segscribe/internal/store"
	"github.com/leonardotrapani/segscribe/internal/transcriber"
)

func (q *Queue) process(ctx context.Context, seg store.Segment) {
	cfg := q.cfg()
	log := q.logger.With().Str("segment", seg.ID).Str("session", seg.SessionID).Logger()

	// the stored row is authoritative; a missing row means the session was deleted
	current, err := q.deps.Gateway.Segment(ctx, seg.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Debug().Msg("segment no longer exists, dropping")
		return
	case err != nil:
		log.Warn().Err(err).Msg("failed to reload segment, using queued copy")
	case current.Status.IsTerminal():
		log.Debug().Str("status", string(current.Status)).Msg("segment already settled, skipping")
		return
	default:
		// a retry count that failed to persist still counts
		retries := max(seg.RetryCount, current.RetryCount)
		seg = *current
		seg.Status = store.StatusPending
		seg.RetryCount = retries
	}

	if err := q.checkAudio(ctx, seg, cfg); err != nil {
		log.Warn().Err(err).Msg("audio rejected")
		q.transition(&seg, store.StatusFailed)
		q.publish(notify.SegmentFailed, seg, "")
		return
	}

	_, hasKey := q.deps.Keys.Get()
	if hasKey && seg.RetryCount < cfg.MaxRetries {
		q.transition(&seg, store.StatusProcessing)

		res, elapsed, err := q.call(ctx, q.deps.Cloud, seg)
		if err == nil {
			q.complete(seg, store.StatusCompleted, res, elapsed, q.deps.Cloud.Name())
			return
		}
		if ctx.Err() != nil {
			log.Info().Msg("interrupted by shutdown, back to pending")
			q.transition(&seg, store.StatusPending)
			return
		}

		seg.RetryCount++
		log.Warn().Err(err).Str("reason", string(transcriber.ReasonOf(err))).
			Int("retry", seg.RetryCount).Int("max", cfg.MaxRetries).Msg("cloud transcription failed")

		if seg.RetryCount < cfg.MaxRetries {
			q.transition(&seg, store.StatusPending)
			q.scheduleRetry(seg, cfg.RetryDelay(seg.RetryCount))
			return
		}
		log.Info().Msg("retry budget exhausted, falling back to local")
	}

	q.transition(&seg, store.StatusLocalProcessing)

	res, elapsed, err := q.call(ctx, q.deps.Local, seg)
	if err != nil {
		if ctx.Err() != nil {
			// left in localProcessing; requeued as pending on next start
			log.Info().Msg("local transcription interrupted by shutdown")
			return
		}
		log.Warn().Err(err).Str("reason", string(transcriber.ReasonOf(err))).Msg("local transcription failed")
		q.transition(&seg, store.StatusFailed)
		q.publish(notify.SegmentFailed, seg, q.deps.Local.Name())
		return
	}
	q.complete(seg, store.StatusLocalCompleted, res, elapsed, q.deps.Local.Name())
}

func (q *Queue) checkAudio(ctx context.Context, seg store.Segment, cfg Config) error {
	size, err := q.deps.Files.FileSize(ctx, seg.AudioPath)
	if err != nil {
		return err
	}
	if size == 0 {
		return errors.New("audio file is empty")
	}
	if size < cfg.MinAudioBytes {
		return fmt.Errorf("audio file too small: %d < %d bytes", size, cfg.MinAudioBytes)
	}
	return nil
}

// call runs one backend attempt. A panicking backend counts as a failed attempt.
func (q *Queue) call(ctx context.Context, backend transcriber.Backend, seg store.Segment) (res transcriber.Result, elapsed time.Duration, err error) {
	start := time.Now()
	defer func() {
		elapsed = time.Since(start)
		if r := recover(); r != nil {
			err = fmt.Errorf("%s backend panicked: %v", backend.Name(), r)
		}
	}()
	res, err = backend.Transcribe(ctx, seg)
	return res, elapsed, err
}

// complete persists the result and only then announces it.
func (q *Queue) complete(seg store.Segment, status store.Status, res transcriber.Result, elapsed time.Duration, backend string) {
	ctx := context.Background()
	log := q.logger.With().Str("segment", seg.ID).Logger()

	attachErr := q.deps.Gateway.AttachResult(ctx, seg.ID, res.Text, res.Confidence, elapsed, backend)
	if attachErr != nil {
		log.Error().Err(attachErr).Msg("failed to persist result")
	}
	q.transition(&seg, status)

	if attachErr != nil {
		return
	}
	log.Info().Str("backend", backend).Float64("confidence", res.Confidence).Dur("elapsed", elapsed).Msg("transcribed")
	q.publish(notify.SegmentCompleted, seg, backend)
}

// transition applies a state-machine step in memory and persists it. Store
// errors are logged and the in-memory state stands.
func (q *Queue) transition(seg *store.Segment, next store.Status) {
	if !seg.Status.CanTransition(next) {
		q.logger.Error().Str("segment", seg.ID).Str("from", string(seg.Status)).Str("to", string(next)).
			Msg("illegal status transition")
		return
	}
	seg.Status = next

	// persisted even when the queue is shutting down
	if err := q.deps.Gateway.UpdateSegmentStatus(context.Background(), seg.ID, next, seg.RetryCount); err != nil {
		q.logger.Error().Err(err).Str("segment", seg.ID).Str("status", string(next)).Msg("failed to persist status")
	}
	// terminal steps are announced by their outcome event
	if !next.IsTerminal() {
		q.publishStatus(*seg)
	}
}

func (q *Queue) publish(typ notify.EventType, seg store.Segment, backend string) {
	if q.deps.Events == nil {
		return
	}
	q.deps.Events.Publish(notify.Event{
		Type:      typ,
		SegmentID: seg.ID,
		SessionID: seg.SessionID,
		Status:    string(seg.Status),
		Backend:   backend,
	})
}

func (q *Queue) publishStatus(seg store.Segment) {
	q.publish(notify.SegmentStatusChanged, seg, "")
}

// scheduleRetry re-enqueues seg at the tail once delay has passed. The segment
// counts as pending while it waits.
// Once Stop has run nothing is armed; the segment stays pending in the store
// and is picked up again on the next start.
func (q *Queue) scheduleRetry(seg store.Segment, delay time.Duration) {
	q.timerMu.Lock()
	defer q.timerMu.Unlock()
	if q.stopping {
		q.logger.Debug().Str("segment", seg.ID).Msg("queue stopped, retry not scheduled")
		return
	}

	q.pending.Add(1)
	q.logger.Debug().Str("segment", seg.ID).Dur("delay", delay).Msg("retry scheduled")
	q.timers[seg.ID] = time.AfterFunc(delay, func() {
		q.timerMu.Lock()
		delete(q.timers, seg.ID)
		q.timerMu.Unlock()
		q.push(seg)
	})
}
