package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/altibiz/fieldgate/internal/config"
	"github.com/altibiz/fieldgate/internal/modbus"
	"github.com/altibiz/fieldgate/internal/store"
)

// Matcher implements the device-kind matching algorithm of §4.F: for every
// candidate endpoint, try each configured device kind concurrently, falling
// back to slave iteration when the candidate supports it.
type Matcher struct {
	Service          *modbus.Service
	Store            store.DeviceStore
	Kinds            []config.Resolved
	DiscoveryTimeout time.Duration
	Logger           *slog.Logger
}

func (m *Matcher) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// Run consumes candidates from source until it closes or ctx is cancelled,
// matching and binding each one it can identify.
func (m *Matcher) Run(ctx context.Context, source CandidateSource) error {
	candidates, err := source.Candidates(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-candidates:
			if !ok {
				return nil
			}
			m.probe(ctx, c)
		}
	}
}

func (m *Matcher) probe(ctx context.Context, c Candidate) {
	dest := modbus.StandaloneFor(c.Transport)
	kind := m.firstMatch(ctx, dest)

	if kind == nil && c.HasSlaves {
		for _, slaveDest := range modbus.SlavesFor(c.Transport) {
			if k := m.firstMatch(ctx, slaveDest); k != nil {
				kind = k
				dest = slaveDest
				break
			}
		}
	}
	if kind == nil {
		return
	}

	id, err := m.computeID(ctx, dest, *kind)
	if err != nil {
		m.logger().Warn("discovery: id computation failed", "endpoint", dest.String(), "kind", kind.Kind, "err", err)
		return
	}

	now := time.Now()
	if err := m.Store.Upsert(ctx, store.DeviceRecord{ID: id, Kind: kind.Kind, Endpoint: dest, Seen: now, Pinged: now}); err != nil {
		m.logger().Warn("discovery: upsert failed", "id", id, "err", err)
		return
	}
	m.Service.Bind(id, dest)
}

// firstMatch fans out a detect read for every configured kind and returns
// the first one whose matcher is satisfied, cancelling the rest (§4.F step
// 1).
func (m *Matcher) firstMatch(ctx context.Context, dest modbus.Destination) *config.Resolved {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan *config.Resolved, len(m.Kinds))
	var wg sync.WaitGroup
	for i := range m.Kinds {
		k := m.Kinds[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			callCtx, cancelCall := context.WithTimeout(ctx, m.DiscoveryTimeout)
			defer cancelCall()
			if m.matchesKind(callCtx, dest, k) {
				select {
				case results <- &k:
				default:
				}
				cancel()
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		return r
	}
	return nil
}

func (m *Matcher) matchesKind(ctx context.Context, dest modbus.Destination, k config.Resolved) bool {
	if len(k.Detect) == 0 {
		return false
	}
	registers := make([]modbus.Register, len(k.Detect))
	for i, d := range k.Detect {
		registers[i] = d
	}
	values, err := m.Service.ReadFromDestination(ctx, dest, registers)
	if err != nil {
		return false
	}
	for i, v := range values {
		if !k.Detect[i].Match.Matches(v) {
			return false
		}
	}
	return true
}

func (m *Matcher) computeID(ctx context.Context, dest modbus.Destination, k config.Resolved) (string, error) {
	registers := make([]modbus.Register, len(k.ID))
	for i, idReg := range k.ID {
		registers[i] = idReg
	}
	values, err := m.Service.ReadFromDestination(ctx, dest, registers)
	if err != nil {
		return "", err
	}
	return modbus.MakeID(k.Kind, values), nil
}
