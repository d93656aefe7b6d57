// Package schedule is a time.Ticker-based reference runner wiring the
// discover/measure/push/time/daily/nightly loops against the façade,
// grounded on the teacher's own ticker-driven
// internal/collector/manager.go and original_source's one-loop-per-process
// shape (process/{discover,measure,ping,daily,nightly,time}.rs).
package schedule

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/altibiz/fieldgate/internal/config"
	"github.com/altibiz/fieldgate/internal/discovery"
	"github.com/altibiz/fieldgate/internal/measurement"
	"github.com/altibiz/fieldgate/internal/modbus"
	"github.com/altibiz/fieldgate/internal/store"
)

// Intervals bundles every loop's period (§6 "discover/measure/push/time/
// daily/nightly loops").
type Intervals struct {
	Discover time.Duration
	Measure  time.Duration
	Push     time.Duration
	Time     time.Duration
	Daily    time.Duration
	Nightly  time.Duration
}

// Scheduler wires the façade, directory store, discovery matcher, and
// measurement pipeline into recurring loops. Calendar-aware daily/nightly
// triggering is out of scope (§3); the reference loops here simply fire on
// their configured interval.
type Scheduler struct {
	Service    *modbus.Service
	Store      store.DeviceStore
	Matcher    *discovery.Matcher
	Candidates discovery.CandidateSource
	Pipeline   *measurement.Pipeline
	Push       *AsyncPushSink // optional; nil disables the push loop
	Kinds      map[string]config.Resolved
	Logger     *slog.Logger

	Intervals Intervals
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Run starts every configured loop and blocks until ctx is cancelled or one
// loop returns a fatal error.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.discoverLoop(ctx) })
	g.Go(func() error { return s.measureLoop(ctx) })
	g.Go(func() error { return s.timeSyncLoop(ctx) })
	g.Go(func() error { return s.dailyLoop(ctx) })
	g.Go(func() error { return s.nightlyLoop(ctx) })
	if s.Push != nil {
		g.Go(func() error { return s.Push.RunPushLoop(ctx, s.Intervals.Push) })
	}

	return g.Wait()
}

func (s *Scheduler) tick(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (s *Scheduler) discoverLoop(ctx context.Context) error {
	if s.Matcher == nil || s.Candidates == nil {
		return nil
	}
	return s.tick(ctx, s.Intervals.Discover, func(ctx context.Context) {
		if err := s.Matcher.Run(ctx, s.Candidates); err != nil {
			s.logger().Warn("schedule: discover pass failed", "err", err)
		}
	})
}

func (s *Scheduler) measureLoop(ctx context.Context) error {
	if s.Pipeline == nil {
		return nil
	}
	return s.tick(ctx, s.Intervals.Measure, func(ctx context.Context) {
		known := s.knownDevices(ctx)
		s.Pipeline.Merge(ctx, known)
		if err := s.Pipeline.Poll(ctx); err != nil {
			s.logger().Warn("schedule: measurement poll failed", "err", err)
			return
		}
		now := time.Now()
		for _, d := range known {
			if err := s.Store.Touch(ctx, d.ID, now); err != nil {
				s.logger().Warn("schedule: touch device failed", "id", d.ID, "err", err)
			}
		}
	})
}

func (s *Scheduler) timeSyncLoop(ctx context.Context) error {
	return s.tick(ctx, s.Intervals.Time, func(ctx context.Context) {
		now := uint32(time.Now().Unix())
		for _, d := range s.knownDevices(ctx) {
			if !d.Kind.Time.Supported {
				continue
			}
			reg := d.Kind.Time.SyncRecord(now)
			if err := s.Service.WriteToID(ctx, d.ID, []modbus.ValueRegister{reg}); err != nil {
				s.logger().Warn("schedule: time sync failed", "id", d.ID, "err", err)
			}
		}
	})
}

func (s *Scheduler) dailyLoop(ctx context.Context) error {
	return s.tick(ctx, s.Intervals.Daily, func(ctx context.Context) {
		s.writeAll(ctx, func(d config.Resolved) []modbus.ValueRegister { return d.Daily })
	})
}

func (s *Scheduler) nightlyLoop(ctx context.Context) error {
	return s.tick(ctx, s.Intervals.Nightly, func(ctx context.Context) {
		s.writeAll(ctx, func(d config.Resolved) []modbus.ValueRegister { return d.Nightly })
	})
}

func (s *Scheduler) writeAll(ctx context.Context, registersFor func(config.Resolved) []modbus.ValueRegister) {
	for _, d := range s.knownDevices(ctx) {
		regs := registersFor(d.Kind)
		if len(regs) == 0 {
			continue
		}
		if err := s.Service.WriteToID(ctx, d.ID, regs); err != nil {
			s.logger().Warn("schedule: scheduled write failed", "id", d.ID, "err", err)
		}
	}
}

func (s *Scheduler) knownDevices(ctx context.Context) []measurement.Known {
	records, err := s.Store.List(ctx)
	if err != nil {
		s.logger().Warn("schedule: list devices failed", "err", err)
		return nil
	}
	out := make([]measurement.Known, 0, len(records))
	for _, rec := range records {
		kind, ok := s.Kinds[rec.Kind]
		if !ok {
			continue
		}
		out = append(out, measurement.Known{ID: rec.ID, Kind: kind})
	}
	return out
}
