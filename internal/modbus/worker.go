package modbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RequestKind distinguishes one-reply requests from requests that keep
// refilling until the caller stops listening (§4.D).
type RequestKind int

const (
	KindOneshot RequestKind = iota
	KindStream
)

// WorkerParams tunes the scheduling loop; every field maps directly to a
// key in the configuration surface (SPEC_FULL §6).
type WorkerParams struct {
	RequestTimeout       time.Duration
	CongestionBackoff    time.Duration
	CongestionBackoffCap time.Duration
	TerminationTimeout   time.Duration
	PartialRetries       int
}

// Metrics is the per-pass error tally fed into TuneFunc (§4.D step 3).
type Metrics struct {
	Endpoint string
	Errors   []error
}

// TuneFunc may adjust live parameters in response to Metrics. The initial
// implementation is a no-op; the hook itself is a required surface (§4.D).
type TuneFunc func(Metrics)

// BatchResult is one batch's raw word response plus the instant the read
// completed (§4.E: "preserving each span's per-call acquisition timestamp").
type BatchResult struct {
	Words []uint16
	At    time.Time
}

// ReadReply answers a read/stream request with one BatchResult per
// submitted batch, aligned by index.
type ReadReply struct {
	Results []BatchResult
	Err     error
}

// WriteReply answers a write request.
type WriteReply struct {
	Err error
}

type readItem struct {
	id         uuid.UUID
	batches    []Batch
	partial    []*BatchResult
	kind       RequestKind
	reply      chan ReadReply
	cancel     <-chan struct{}
	errs       []error
	roundsLeft int
}

func (it *readItem) allDone() bool {
	for _, p := range it.partial {
		if p == nil {
			return false
		}
	}
	return true
}

func (it *readItem) resetRound() {
	for i := range it.partial {
		it.partial[i] = nil
	}
}

func (it *readItem) cancelled() bool {
	if it.cancel == nil {
		return false
	}
	select {
	case <-it.cancel:
		return true
	default:
		return false
	}
}

type writeItem struct {
	id         uuid.UUID
	records    []Record
	done       []bool
	reply      chan WriteReply
	cancel     <-chan struct{}
	errs       []error
	roundsLeft int
}

func (it *writeItem) allDone() bool {
	for _, d := range it.done {
		if !d {
			return false
		}
	}
	return true
}

func (it *writeItem) cancelled() bool {
	if it.cancel == nil {
		return false
	}
	select {
	case <-it.cancel:
		return true
	default:
		return false
	}
}

// submission is whatever arrives on a Worker's inbox.
type submission struct {
	read  *readItem
	write *writeItem
}

// Worker is the per-endpoint task of §4.D: it owns the Connection, a
// request inbox, and the oneshot/stream queues. One Worker exists per
// endpoint identity, created on demand by the Directory (§4.E).
type Worker struct {
	Endpoint Destination

	conn   *Connection
	params WorkerParams
	tune   TuneFunc

	in *inbox

	oneshots []*readItem
	streams  []*readItem
	writes   []*writeItem

	done chan struct{}
}

func NewWorker(dest Destination, params WorkerParams, tune TuneFunc) *Worker {
	if tune == nil {
		tune = func(Metrics) {}
	}
	return &Worker{
		Endpoint: dest,
		conn:     NewConnection(dest),
		params:   params,
		tune:     tune,
		in:       newInbox(),
		done:     make(chan struct{}),
	}
}

// SubmitRead enqueues a read or stream request and returns the channel it
// will be answered on. Oneshot replies have capacity 1; stream replies are
// bounded at streamBufferSize and drop the oldest round under lag (§4.D).
func (w *Worker) SubmitRead(ctx context.Context, batches []Batch, kind RequestKind, streamBufferSize int) <-chan ReadReply {
	capacity := 1
	if kind == KindStream {
		capacity = streamBufferSize
		if capacity <= 0 {
			capacity = 1024
		}
	}
	it := &readItem{
		id:         uuid.New(),
		batches:    batches,
		partial:    make([]*BatchResult, len(batches)),
		kind:       kind,
		reply:      make(chan ReadReply, capacity),
		cancel:     ctx.Done(),
		roundsLeft: w.params.PartialRetries + 1,
	}
	w.in.push(submission{read: it})
	return it.reply
}

// SubmitWrite enqueues a write request.
func (w *Worker) SubmitWrite(ctx context.Context, records []Record) <-chan WriteReply {
	it := &writeItem{
		id:         uuid.New(),
		records:    records,
		done:       make([]bool, len(records)),
		reply:      make(chan WriteReply, 1),
		cancel:     ctx.Done(),
		roundsLeft: w.params.PartialRetries + 1,
	}
	w.in.push(submission{write: it})
	return it.reply
}

// Run drives the scheduling loop until ctx is cancelled, then drains
// in-flight items within TerminationTimeout before returning (§4.D
// Termination). It is meant to be launched once per Worker, typically
// inside an errgroup owned by the Directory.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		w.in.close()
		return nil
	})
	g.Go(func() error {
		w.loop()
		return nil
	})
	return g.Wait()
}

func (w *Worker) loop() {
	for {
		if len(w.oneshots) == 0 && len(w.streams) == 0 && len(w.writes) == 0 {
			items, open := w.in.drainBlocking()
			if !open {
				w.terminate()
				return
			}
			w.admit(items)
			continue
		}

		items, open := w.in.drainNonBlocking()
		w.admit(items)
		if !open {
			w.drainPass()
			w.terminate()
			return
		}

		w.pass()
	}
}

func (w *Worker) admit(items []any) {
	for _, raw := range items {
		sub := raw.(submission)
		switch {
		case sub.read != nil:
			if sub.read.kind == KindStream {
				w.streams = append(w.streams, sub.read)
			} else {
				w.oneshots = append(w.oneshots, sub.read)
			}
		case sub.write != nil:
			w.writes = append(w.writes, sub.write)
		}
	}
}

// pass runs one scheduling pass: oneshots, then writes, then streams,
// applying congestion backoff between wire calls and doubling it for the
// rest of the pass on repeated timeouts (§4.D).
func (w *Worker) pass() {
	metrics := Metrics{Endpoint: w.Endpoint.String()}
	backoff := w.params.CongestionBackoff
	timeoutStreak := 0

	bump := func(timedOut bool) {
		if !timedOut {
			timeoutStreak = 0
			return
		}
		timeoutStreak++
		if timeoutStreak >= 2 {
			doubled := backoff * 2
			if w.params.CongestionBackoffCap > 0 && doubled > w.params.CongestionBackoffCap {
				doubled = w.params.CongestionBackoffCap
			}
			backoff = doubled
		}
	}

	remaining := w.oneshots[:0]
	for _, it := range w.oneshots {
		if it.cancelled() {
			continue
		}
		w.progressRead(it, &metrics, &backoff, bump)
		if it.allDone() {
			tryDeliverRead(it, ReadReply{Results: collectResults(it)})
			continue
		}
		it.roundsLeft--
		if it.roundsLeft <= 0 {
			tryDeliverRead(it, ReadReply{Err: &ServerFailedError{Endpoint: w.Endpoint.String(), Errors: it.errs}})
			continue
		}
		remaining = append(remaining, it)
	}
	w.oneshots = remaining

	writeRemaining := w.writes[:0]
	for _, it := range w.writes {
		if it.cancelled() {
			continue
		}
		w.progressWrite(it, &metrics, &backoff, bump)
		if it.allDone() {
			tryDeliverWrite(it, WriteReply{})
			continue
		}
		it.roundsLeft--
		if it.roundsLeft <= 0 {
			tryDeliverWrite(it, WriteReply{Err: &ServerFailedError{Endpoint: w.Endpoint.String(), Errors: it.errs}})
			continue
		}
		writeRemaining = append(writeRemaining, it)
	}
	w.writes = writeRemaining

	streamRemaining := w.streams[:0]
	for _, it := range w.streams {
		if it.cancelled() {
			continue
		}
		w.progressRead(it, &metrics, &backoff, bump)
		if it.allDone() {
			if !tryDeliverRead(it, ReadReply{Results: collectResults(it)}) {
				continue // reply channel closed, drop the stream
			}
			it.resetRound()
			streamRemaining = append(streamRemaining, it)
			continue
		}
		streamRemaining = append(streamRemaining, it)
	}
	w.streams = streamRemaining

	w.tune(metrics)
}

func (w *Worker) progressRead(it *readItem, metrics *Metrics, backoff *time.Duration, bump func(bool)) {
	for i, batch := range it.batches {
		if it.partial[i] != nil {
			continue
		}
		words, at, err := w.conn.Read(batch.Span(), w.params.RequestTimeout)
		if err != nil {
			it.errs = append(it.errs, err)
			metrics.Errors = append(metrics.Errors, err)
			readErr, _ := err.(*ReadError)
			bump(readErr != nil && readErr.Timeout)
		} else {
			it.partial[i] = &BatchResult{Words: words, At: at}
			bump(false)
		}
		time.Sleep(*backoff)
	}
}

func (w *Worker) progressWrite(it *writeItem, metrics *Metrics, backoff *time.Duration, bump func(bool)) {
	for i, rec := range it.records {
		if it.done[i] {
			continue
		}
		err := w.conn.Write(rec, w.params.RequestTimeout)
		if err != nil {
			it.errs = append(it.errs, err)
			metrics.Errors = append(metrics.Errors, err)
			writeErr, _ := err.(*WriteError)
			bump(writeErr != nil && writeErr.Timeout)
		} else {
			it.done[i] = true
			bump(false)
		}
		time.Sleep(*backoff)
	}
}

func collectResults(it *readItem) []BatchResult {
	out := make([]BatchResult, len(it.partial))
	for i, p := range it.partial {
		out[i] = *p
	}
	return out
}

// tryDeliverRead performs the non-blocking send described in §4.D ("worker
// try_sends the result... if the channel is full the oldest round is
// dropped"), reporting whether the channel is still usable.
func tryDeliverRead(it *readItem, reply ReadReply) bool {
	select {
	case it.reply <- reply:
		return true
	default:
		select {
		case <-it.reply:
			slog.Warn("modbus: reply channel full, dropped oldest round", "request", it.id)
		default:
		}
		select {
		case it.reply <- reply:
			return true
		default:
			return false
		}
	}
}

func tryDeliverWrite(it *writeItem, reply WriteReply) bool {
	select {
	case it.reply <- reply:
		return true
	default:
		return false
	}
}

func (w *Worker) drainPass() {
	deadline := time.Now().Add(w.params.TerminationTimeout)
	for (len(w.oneshots) > 0 || len(w.streams) > 0 || len(w.writes) > 0) && time.Now().Before(deadline) {
		w.pass()
	}
}

func (w *Worker) terminate() {
	for _, it := range w.oneshots {
		tryDeliverRead(it, ReadReply{Err: &ChannelDisconnectedError{}})
	}
	for _, it := range w.streams {
		tryDeliverRead(it, ReadReply{Err: &ChannelDisconnectedError{}})
	}
	for _, it := range w.writes {
		tryDeliverWrite(it, WriteReply{Err: &ChannelDisconnectedError{}})
	}
	w.oneshots, w.streams, w.writes = nil, nil, nil
	close(w.done)
}

// inbox is a small unbounded multi-producer single-consumer queue. Go
// channels are bounded by construction, so the "unbounded multi-producer
// channel" of §4.D is built directly on sync.Cond instead of reaching for
// an arbitrarily large buffered channel.
type inbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []any
	closed bool
}

func newInbox() *inbox {
	b := &inbox{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *inbox) push(v any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.items = append(b.items, v)
	b.cond.Signal()
}

func (b *inbox) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// drainBlocking waits for at least one item (or close), then returns every
// item currently queued. The bool return is false only when closed with an
// empty queue.
func (b *inbox) drainBlocking() ([]any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.items) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.items) == 0 && b.closed {
		return nil, false
	}
	out := b.items
	b.items = nil
	return out, true
}

// drainNonBlocking returns whatever is queued right now without waiting.
// The bool return is false once the inbox has been closed.
func (b *inbox) drainNonBlocking() ([]any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	return out, !b.closed
}
