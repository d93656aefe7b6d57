package modbus

import (
	"context"
	"testing"
	"time"
)

func testWorkerParams() WorkerParams {
	return WorkerParams{
		RequestTimeout:       2 * time.Second,
		CongestionBackoff:    time.Millisecond,
		CongestionBackoffCap: 50 * time.Millisecond,
		TerminationTimeout:   time.Second,
		PartialRetries:       3,
	}
}

func runWorker(t *testing.T, dest Destination) (*Worker, func()) {
	t.Helper()
	w := NewWorker(dest, testWorkerParams(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return w, func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not terminate")
		}
	}
}

func TestWorkerOneshotRead(t *testing.T) {
	srv, transport := startFixture(t)
	srv.SetHoldingRegister(5, 77)
	dest := StandaloneFor(transport)

	w, stop := runWorker(t, dest)
	defer stop()

	batches := BatchSpans([]Span{{Address: 5, Quantity: 1}}, 4)
	reply := w.SubmitRead(context.Background(), batches, KindOneshot, 1)

	select {
	case r := <-reply:
		if r.Err != nil {
			t.Fatalf("read error: %v", r.Err)
		}
		if len(r.Results) != 1 || r.Results[0].Words[0] != 77 {
			t.Fatalf("got %+v", r.Results)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestWorkerWrite(t *testing.T) {
	srv, transport := startFixture(t)
	dest := StandaloneFor(transport)

	w, stop := runWorker(t, dest)
	defer stop()

	reply := w.SubmitWrite(context.Background(), []Record{{Address: 1, Values: []uint16{9}}})
	select {
	case r := <-reply:
		if r.Err != nil {
			t.Fatalf("write error: %v", r.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}

	srv.mu.RLock()
	got := srv.holdingRegisters[1]
	srv.mu.RUnlock()
	if got != 9 {
		t.Fatalf("got %d want 9", got)
	}
}

func TestWorkerCancellationStopsDelivery(t *testing.T) {
	_, transport := startFixture(t)
	dest := StandaloneFor(transport)

	w, stop := runWorker(t, dest)
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	batches := BatchSpans([]Span{{Address: 0, Quantity: 1}}, 4)
	reply := w.SubmitRead(ctx, batches, KindOneshot, 1)

	select {
	case r, ok := <-reply:
		if ok {
			t.Fatalf("expected no delivery after cancellation, got %+v", r)
		}
	case <-time.After(200 * time.Millisecond):
		// no delivery within the window is the expected outcome
	}
}

func TestWorkerTerminationDrainsWithDisconnectError(t *testing.T) {
	_, transport := startFixture(t)
	dest := StandaloneFor(transport)

	w := NewWorker(dest, testWorkerParams(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	batches := BatchSpans([]Span{{Address: 0, Quantity: 1}}, 4)
	reply := w.SubmitRead(context.Background(), batches, KindStream, 4)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not terminate")
	}

	var last ReadReply
	seen := 0
	for {
		select {
		case r := <-reply:
			last = r
			seen++
			continue
		default:
		}
		break
	}
	if seen == 0 {
		t.Fatal("expected at least one reply on the stream channel")
	}
	if _, ok := last.Err.(*ChannelDisconnectedError); !ok {
		t.Fatalf("last reply was %+v, want a terminal *ChannelDisconnectedError", last)
	}
}
