package modbus

import (
	"context"
	"testing"
	"time"
)

func testServiceParams() ServiceParams {
	return ServiceParams{
		Worker:           testWorkerParams(),
		BatchThreshold:   4,
		StreamBufferSize: 8,
	}
}

func TestServiceReadFromID(t *testing.T) {
	srv, transport := startFixture(t)
	srv.SetHoldingRegister(100, 1)
	srv.SetHoldingRegister(101, 2)

	svc := NewService(testServiceParams(), nil)
	defer svc.Shutdown()

	dest := StandaloneFor(transport)
	svc.Bind("meter-1", dest)

	registers := []Register{
		IdRegister{Address: 100, Kind: U16()},
		IdRegister{Address: 101, Kind: U16()},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	values, err := svc.ReadFromID(ctx, "meter-1", registers)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("got %d values want 2", len(values))
	}
	if values[0].Decimal.IntPart() != 1 {
		t.Fatalf("got %s want 1", values[0].Decimal)
	}
	if values[1].Decimal.IntPart() != 2 {
		t.Fatalf("got %s want 2", values[1].Decimal)
	}
}

func TestServiceReadUnknownIDFails(t *testing.T) {
	svc := NewService(testServiceParams(), nil)
	defer svc.Shutdown()

	_, err := svc.ReadFromID(context.Background(), "missing", nil)
	if _, ok := err.(*DeviceNotFoundError); !ok {
		t.Fatalf("got %T want *DeviceNotFoundError", err)
	}
}

func TestServiceWriteToDestination(t *testing.T) {
	srv, transport := startFixture(t)
	svc := NewService(testServiceParams(), nil)
	defer svc.Shutdown()

	dest := StandaloneFor(transport)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := svc.WriteToDestination(ctx, dest, []ValueRegister{{Address: 200, Values: []uint16{42}}})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	srv.mu.RLock()
	got := srv.holdingRegisters[200]
	srv.mu.RUnlock()
	if got != 42 {
		t.Fatalf("got %d want 42", got)
	}
}

func TestServiceStopFromIDTearsDownUnreferencedWorker(t *testing.T) {
	_, transport := startFixture(t)
	svc := NewService(testServiceParams(), nil)
	defer svc.Shutdown()

	dest := StandaloneFor(transport)
	svc.Bind("meter-1", dest)
	svc.StopFromID("meter-1")

	svc.mu.Lock()
	_, stillTracked := svc.servers[dest.Key()]
	svc.mu.Unlock()
	if stillTracked {
		t.Fatal("worker should be torn down once its last id unbinds")
	}
}
