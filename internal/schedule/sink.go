package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/altibiz/fieldgate/internal/cloudpush"
	"github.com/altibiz/fieldgate/internal/store"
)

// AsyncPushSink persists every measurement batch to Local synchronously
// (the write the measurement pipeline depends on succeeding) and forwards
// a copy to Pusher on its own loop, so a slow or unreachable remote
// ingestion endpoint never holds up local persistence.
type AsyncPushSink struct {
	Local  store.MeasurementSink
	Pusher cloudpush.Pusher
	Logger *slog.Logger

	pending chan []store.Measurement
}

func NewAsyncPushSink(local store.MeasurementSink, pusher cloudpush.Pusher, bufferSize int, logger *slog.Logger) *AsyncPushSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncPushSink{
		Local:   local,
		Pusher:  pusher,
		Logger:  logger,
		pending: make(chan []store.Measurement, bufferSize),
	}
}

// Store implements store.MeasurementSink.
func (s *AsyncPushSink) Store(ctx context.Context, batch []store.Measurement) error {
	if err := s.Local.Store(ctx, batch); err != nil {
		return err
	}
	select {
	case s.pending <- batch:
	default:
		s.Logger.Warn("schedule: push queue full, dropping batch", "size", len(batch))
	}
	return nil
}

// RunPushLoop drains pending batches and forwards them to Pusher until ctx
// is cancelled. interval only bounds how long the loop waits with nothing
// pending; it does not batch further.
func (s *AsyncPushSink) RunPushLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch := <-s.pending:
			if err := s.Pusher.Push(ctx, batch); err != nil {
				s.Logger.Warn("schedule: push failed", "err", err)
			}
		case <-ticker.C:
		}
	}
}
