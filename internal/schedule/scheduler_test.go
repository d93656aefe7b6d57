package schedule

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/altibiz/fieldgate/internal/config"
	"github.com/altibiz/fieldgate/internal/discovery/fixture"
	"github.com/altibiz/fieldgate/internal/measurement"
	"github.com/altibiz/fieldgate/internal/modbus"
	"github.com/altibiz/fieldgate/internal/store"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[string]store.DeviceRecord
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]store.DeviceRecord)}
}

func (m *memoryStore) Upsert(ctx context.Context, rec store.DeviceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

func (m *memoryStore) Touch(ctx context.Context, id string, seen time.Time) error { return nil }

func (m *memoryStore) List(ctx context.Context) ([]store.DeviceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.DeviceRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}

type memorySink struct {
	mu      sync.Mutex
	batches [][]store.Measurement
}

func (s *memorySink) Store(ctx context.Context, batch []store.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func startFixtureServer(t *testing.T) (*fixture.Server, modbus.Transport) {
	t.Helper()
	srv := fixture.NewServer()
	addr, err := srv.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(srv.Close)
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return srv, modbus.Transport{Kind: modbus.TransportTCP, Host: host, Port: port}
}

func testServiceParams() modbus.ServiceParams {
	return modbus.ServiceParams{
		Worker: modbus.WorkerParams{
			RequestTimeout:       time.Second,
			CongestionBackoff:    time.Millisecond,
			CongestionBackoffCap: 10 * time.Millisecond,
			TerminationTimeout:   time.Second,
			PartialRetries:       2,
		},
		BatchThreshold:   4,
		StreamBufferSize: 8,
	}
}

func TestSchedulerMeasureLoopDeliversAndTimeSyncWrites(t *testing.T) {
	srv, transport := startFixtureServer(t)
	srv.SetHoldingRegister(0, 5)
	srv.SetHoldingRegister(1, 100)

	svc := modbus.NewService(testServiceParams(), nil)
	defer svc.Shutdown()
	dest := modbus.StandaloneFor(transport)
	svc.Bind("meter-5", dest)

	ds := newMemoryStore()
	ds.records["meter-5"] = store.DeviceRecord{ID: "meter-5", Kind: "meter", Endpoint: dest}

	kind := config.Resolved{
		Kind:        "meter",
		ID:          []modbus.IdRegister{{Address: 0, Kind: modbus.U16()}},
		Measurement: []modbus.MeasurementRegister{{Name: "active_power", Address: 1, Kind: modbus.U16()}},
		Time:        modbus.TimeRegister(modbus.ValueRegister{Address: 50, Values: []uint16{0, 0}}),
	}

	sink := &memorySink{}
	pipeline := measurement.NewPipeline(svc, sink, nil)

	sched := &Scheduler{
		Service: svc,
		Store:   ds,
		Pipeline: pipeline,
		Kinds:   map[string]config.Resolved{"meter": kind},
		Intervals: Intervals{
			Discover: time.Hour,
			Measure:  20 * time.Millisecond,
			Time:     20 * time.Millisecond,
			Daily:    time.Hour,
			Nightly:  time.Hour,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	deadline := time.Now().Add(1500 * time.Millisecond)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if sink.count() == 0 {
		t.Fatal("expected the measure loop to deliver at least one batch")
	}

	deadline = time.Now().Add(1 * time.Second)
	var synced uint16
	for time.Now().Before(deadline) {
		synced = srv.HoldingRegister(50)
		if synced != 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if synced == 0 {
		t.Fatal("expected the time sync loop to write a non-zero epoch word")
	}

	cancel()
	<-done
}
