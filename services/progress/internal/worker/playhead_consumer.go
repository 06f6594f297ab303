// Package worker consumes playhead reports from JetStream and applies them
// through the progress orchestrator.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/learning-progress/internal/platform/idempotency"
	"github.com/example/learning-progress/services/progress/internal/domain"
)

const (
	SubjectPlayhead = "progress.playhead"
	DurableName     = "progress_playhead"
)

// PlayheadEvent is published by players while a video is watched.
type PlayheadEvent struct {
	EventID         string  `json:"event_id"`
	UserID          string  `json:"user_id"`
	VideoProgressID string  `json:"video_progress_id"`
	PositionSeconds float64 `json:"position_seconds"`
	ClientTsMs      int64   `json:"client_ts_ms"`
}

// Recorder is satisfied by progress.Orchestrator.
type Recorder interface {
	RecordPlayhead(ctx context.Context, userID, videoProgressID string, playheadSeconds float64) (*domain.VideoProgress, error)
}

// Fetcher is satisfied by *nats.Subscription from PullSubscribe.
type Fetcher interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
}

type disposition int

const (
	ack disposition = iota
	nak
	term
)

type Options struct {
	BatchSize int
	MaxWait   time.Duration
	Logger    *zap.Logger
}

type PlayheadConsumer struct {
	sub       Fetcher
	recorder  Recorder
	dedup     idempotency.Store
	log       *zap.Logger
	batchSize int
	maxWait   time.Duration
}

// Subscribe binds a durable pull consumer on SubjectPlayhead.
func Subscribe(js nats.JetStreamContext) (*nats.Subscription, error) {
	return js.PullSubscribe(SubjectPlayhead, DurableName, nats.AckExplicit())
}

func NewPlayheadConsumer(sub Fetcher, recorder Recorder, dedup idempotency.Store, opts Options) *PlayheadConsumer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 2 * time.Second
	}
	return &PlayheadConsumer{
		sub:       sub,
		recorder:  recorder,
		dedup:     dedup,
		log:       opts.Logger.With(zap.String("component", "playhead_consumer")),
		batchSize: opts.BatchSize,
		maxWait:   opts.MaxWait,
	}
}

// Run fetches batches until ctx is done. It always returns nil.
func (c *PlayheadConsumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := c.sub.Fetch(c.batchSize, nats.MaxWait(c.maxWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.log.Warn("fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, m := range msgs {
			var ackErr error
			switch c.process(ctx, m.Data) {
			case ack:
				ackErr = m.Ack()
			case nak:
				ackErr = m.Nak()
			case term:
				ackErr = m.Term()
			}
			if ackErr != nil {
				c.log.Warn("ack failed", zap.Error(ackErr))
			}
		}
	}
}

func (c *PlayheadConsumer) process(ctx context.Context, data []byte) disposition {
	var ev PlayheadEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.log.Warn("invalid playhead payload", zap.Error(err))
		return term
	}
	if strings.TrimSpace(ev.EventID) == "" || strings.TrimSpace(ev.UserID) == "" || strings.TrimSpace(ev.VideoProgressID) == "" {
		c.log.Warn("incomplete playhead event", zap.String("event_id", ev.EventID))
		return term
	}

	dup, err := c.dedup.Check(ctx, ev.EventID)
	if err != nil {
		c.log.Warn("idempotency check failed", zap.String("event_id", ev.EventID), zap.Error(err))
		return nak
	}
	if dup {
		return ack
	}

	_, err = c.recorder.RecordPlayhead(ctx, ev.UserID, ev.VideoProgressID, ev.PositionSeconds)
	switch {
	case err == nil:
		return ack
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidState):
		c.log.Info("dropping playhead event",
			zap.String("event_id", ev.EventID),
			zap.String("video_progress_id", ev.VideoProgressID),
			zap.Error(err))
		return term
	default:
		if ferr := c.dedup.Forget(ctx, ev.EventID); ferr != nil {
			c.log.Warn("idempotency forget failed", zap.String("event_id", ev.EventID), zap.Error(ferr))
		}
		c.log.Warn("playhead apply failed, will retry",
			zap.String("event_id", ev.EventID),
			zap.Bool("retryable", domain.IsRetryable(err)),
			zap.Error(err))
		return nak
	}
}
