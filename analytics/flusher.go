package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/influxdata/cron"
	"go.uber.org/zap"
)

// DefaultSchedule drains the sink at the start of every minute.
const DefaultSchedule = "* * * * *"

// Record is one drained snapshot.
type Record struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	Resources Snapshot  `json:"resources"`
}

// Persister stores drained snapshots.
type Persister interface {
	Persist(ctx context.Context, rec Record) error
}

// Flusher drains a Sink on a cron schedule and hands every non-empty
// snapshot to a Persister.
type Flusher struct {
	sink      *Sink
	persister Persister
	schedule  cron.Parsed
	clock     clock.Clock
	logger    *zap.Logger
	newID     func() string
}

// FlusherOption configures a Flusher.
type FlusherOption func(*Flusher) error

// WithSchedule sets the cron expression of the flusher.
func WithSchedule(expr string) FlusherOption {
	return func(f *Flusher) error {
		parsed, err := cron.ParseUTC(expr)
		if err != nil {
			return fmt.Errorf("invalid analytics schedule %q: %w", expr, err)
		}
		f.schedule = parsed
		return nil
	}
}

// WithFlusherClock sets the clock driving the schedule.
func WithFlusherClock(c clock.Clock) FlusherOption {
	return func(f *Flusher) error {
		f.clock = c
		return nil
	}
}

// WithFlusherLogger sets the logger of the flusher.
func WithFlusherLogger(l *zap.Logger) FlusherOption {
	return func(f *Flusher) error {
		f.logger = l
		return nil
	}
}

// NewFlusher returns a Flusher draining sink into persister.
func NewFlusher(sink *Sink, persister Persister, opts ...FlusherOption) (*Flusher, error) {
	f := &Flusher{
		sink:      sink,
		persister: persister,
		clock:     clock.New(),
		logger:    zap.NewNop(),
		newID:     uuid.NewString,
	}
	opts = append([]FlusherOption{WithSchedule(DefaultSchedule)}, opts...)
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Flush drains the sink and persists the snapshot. An empty snapshot is
// not persisted.
func (f *Flusher) Flush(ctx context.Context) error {
	snap := f.sink.ResetAll()
	if len(snap) == 0 {
		return nil
	}
	rec := Record{
		ID:        f.newID(),
		At:        f.clock.Now().UTC().Truncate(time.Minute),
		Resources: snap,
	}
	if err := f.persister.Persist(ctx, rec); err != nil {
		return fmt.Errorf("persist analytics record %s: %w", rec.ID, err)
	}
	f.logger.Debug("Analytics flushed",
		zap.String("id", rec.ID),
		zap.Time("at", rec.At),
		zap.Int("resources", len(rec.Resources)),
	)
	return nil
}

// Run flushes on every scheduled tick until ctx is done, then flushes one
// last time. Failed ticks are logged and do not stop the loop.
func (f *Flusher) Run(ctx context.Context) error {
	for {
		now := f.clock.Now()
		next, err := f.schedule.Next(now)
		if err != nil {
			return fmt.Errorf("next analytics flush: %w", err)
		}
		timer := f.clock.Timer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return f.Flush(context.WithoutCancel(ctx))
		case <-timer.C:
			if err := f.Flush(ctx); err != nil {
				f.logger.Error("Analytics flush failed", zap.Error(err))
			}
		}
	}
}
