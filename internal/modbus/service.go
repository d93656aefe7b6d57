package modbus

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ServiceParams configures every worker the Service creates (SPEC_FULL §6).
type ServiceParams struct {
	Worker           WorkerParams
	BatchThreshold   uint16
	StreamBufferSize int
}

// Register is anything with a wire address and quantity: DetectRegister,
// IdRegister, MeasurementRegister (§3).
type Register interface {
	Span() Span
}

func registerKind(r Register) RegisterKind {
	switch rr := r.(type) {
	case DetectRegister:
		return rr.Kind
	case IdRegister:
		return rr.Kind
	case MeasurementRegister:
		return rr.Kind
	default:
		panic(fmt.Sprintf("modbus: unknown register type %T", r))
	}
}

// binding is one entry of the `devices` map (§4.E).
type binding struct {
	endpoint Destination
}

type managedWorker struct {
	worker *Worker
	cancel context.CancelFunc
	refs   int
}

// Service is the Directory/Service façade of §4.E: it maps logical device
// ids to endpoints and endpoints to live workers, tearing a worker down
// once no id references its endpoint any more.
type Service struct {
	params ServiceParams
	tune   TuneFunc

	mu      sync.Mutex
	devices map[string]binding
	servers map[Key]*managedWorker

	group *errgroup.Group
	gctx  context.Context
}

func NewService(params ServiceParams, tune TuneFunc) *Service {
	g, ctx := errgroup.WithContext(context.Background())
	return &Service{
		params:  params,
		tune:    tune,
		devices: make(map[string]binding),
		servers: make(map[Key]*managedWorker),
		group:   g,
		gctx:    ctx,
	}
}

// Shutdown cancels every worker and waits for them to drain (§5 shutdown
// broadcast).
func (s *Service) Shutdown() error {
	s.mu.Lock()
	for _, mw := range s.servers {
		mw.cancel()
	}
	s.mu.Unlock()
	return s.group.Wait()
}

func (s *Service) workerFor(dest Destination) *managedWorker {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dest.Key()
	if mw, ok := s.servers[key]; ok {
		mw.refs++
		return mw
	}
	ctx, cancel := context.WithCancel(s.gctx)
	w := NewWorker(dest, s.params.Worker, s.tune)
	mw := &managedWorker{worker: w, cancel: cancel, refs: 1}
	s.servers[key] = mw
	s.group.Go(func() error { return w.Run(ctx) })
	return mw
}

func (s *Service) releaseWorker(dest Destination) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dest.Key()
	mw, ok := s.servers[key]
	if !ok {
		return
	}
	mw.refs--
	if mw.refs <= 0 {
		mw.cancel()
		delete(s.servers, key)
	}
}

// Bind creates (or reuses) the endpoint's worker and records id -> endpoint
// (§4.E).
func (s *Service) Bind(id string, dest Destination) {
	s.mu.Lock()
	existing, had := s.devices[id]
	s.mu.Unlock()
	if had {
		if existing.endpoint.Key() == dest.Key() {
			return
		}
		s.releaseWorker(existing.endpoint)
	}
	s.workerFor(dest)
	s.mu.Lock()
	s.devices[id] = binding{endpoint: dest}
	s.mu.Unlock()
}

// StopFromID removes the id binding and tears the worker down if nothing
// else references its endpoint (§4.E).
func (s *Service) StopFromID(id string) {
	s.mu.Lock()
	b, ok := s.devices[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.devices, id)
	s.mu.Unlock()
	s.releaseWorker(b.endpoint)
}

// StopFromEndpoint removes every id bound to dest and tears its worker down.
func (s *Service) StopFromEndpoint(dest Destination) {
	s.mu.Lock()
	key := dest.Key()
	var ids []string
	for id, b := range s.devices {
		if b.endpoint.Key() == key {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(s.devices, id)
	}
	s.mu.Unlock()
	for range ids {
		s.releaseWorker(dest)
	}
}

func (s *Service) lookup(id string) (Destination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.devices[id]
	if !ok {
		return Destination{}, &DeviceNotFoundError{ID: id}
	}
	return b.endpoint, nil
}

// ReadFromDestination batches the registers' spans (§4.B), submits a
// one-shot read to the endpoint's worker and decodes the reply against each
// register's kind (§4.A), returning one value per input register in order.
func (s *Service) ReadFromDestination(ctx context.Context, dest Destination, registers []Register) ([]RegisterValue, error) {
	mw := s.workerFor(dest)
	defer s.releaseWorker(dest)

	spans, kinds := spansAndKinds(registers)
	batches := BatchSpans(spans, s.params.BatchThreshold)
	reply := mw.worker.SubmitRead(ctx, batches, KindOneshot, 1)

	select {
	case r, ok := <-reply:
		if !ok {
			return nil, &ChannelDisconnectedError{}
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return decodeBatchResults(spans, kinds, batches, r.Results)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReadFromID resolves id through the devices map before delegating to
// ReadFromDestination.
func (s *Service) ReadFromID(ctx context.Context, id string, registers []Register) ([]RegisterValue, error) {
	dest, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.ReadFromDestination(ctx, dest, registers)
}

// WriteToDestination submits a one-shot write of the given value registers
// to the endpoint's worker (§4.C, §4.D).
func (s *Service) WriteToDestination(ctx context.Context, dest Destination, registers []ValueRegister) error {
	mw := s.workerFor(dest)
	defer s.releaseWorker(dest)

	records := make([]Record, len(registers))
	for i, r := range registers {
		records[i] = r.Record()
	}
	reply := mw.worker.SubmitWrite(ctx, records)
	select {
	case r, ok := <-reply:
		if !ok {
			return &ChannelDisconnectedError{}
		}
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteToID resolves id through the devices map before delegating to
// WriteToDestination.
func (s *Service) WriteToID(ctx context.Context, id string, registers []ValueRegister) error {
	dest, err := s.lookup(id)
	if err != nil {
		return err
	}
	return s.WriteToDestination(ctx, dest, registers)
}

// Stream is a receive-only handle onto a worker's stream queue, consumed by
// the measurement pipeline's non-blocking poll (§4.D, §4.G).
type Stream struct {
	replies <-chan ReadReply
	spans   []Span
	kinds   []RegisterKind
	batches []Batch
}

// Next polls for the next decoded round without blocking, returning
// (nil, false, nil) when none is ready yet.
func (st *Stream) Next() ([]RegisterValue, bool, error) {
	select {
	case r, ok := <-st.replies:
		if !ok {
			return nil, false, &ChannelDisconnectedError{}
		}
		if r.Err != nil {
			return nil, false, r.Err
		}
		values, err := decodeBatchResults(st.spans, st.kinds, st.batches, r.Results)
		return values, true, err
	default:
		return nil, false, nil
	}
}

// StreamFromDestination opens a long-lived stream that re-batches and
// redelivers registers every worker pass (§4.D, §4.G).
func (s *Service) StreamFromDestination(ctx context.Context, dest Destination, registers []Register) (*Stream, error) {
	mw := s.workerFor(dest)
	spans, kinds := spansAndKinds(registers)
	batches := BatchSpans(spans, s.params.BatchThreshold)
	reply := mw.worker.SubmitRead(ctx, batches, KindStream, s.params.StreamBufferSize)
	return &Stream{replies: reply, spans: spans, kinds: kinds, batches: batches}, nil
}

// StreamFromID resolves id through the devices map before delegating to
// StreamFromDestination.
func (s *Service) StreamFromID(ctx context.Context, id string, registers []Register) (*Stream, error) {
	dest, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.StreamFromDestination(ctx, dest, registers)
}

func spansAndKinds(registers []Register) ([]Span, []RegisterKind) {
	spans := make([]Span, len(registers))
	kinds := make([]RegisterKind, len(registers))
	for i, r := range registers {
		spans[i] = r.Span()
		kinds[i] = registerKind(r)
	}
	return spans, kinds
}

// decodeBatchResults re-parses a batch-aligned set of raw word responses
// back into one RegisterValue per original (unbatched) span/kind pair
// (§4.B "Parsing a Batch").
func decodeBatchResults(spans []Span, kinds []RegisterKind, batches []Batch, results []BatchResult) ([]RegisterValue, error) {
	addrToIdx := make(map[uint16]int, len(spans))
	for i, sp := range spans {
		addrToIdx[sp.Address] = i
	}

	values := make([]RegisterValue, len(spans))
	filled := make([]bool, len(spans))
	for bi, b := range batches {
		res := results[bi]
		for _, child := range b.Children {
			idx, ok := addrToIdx[child.Address]
			if !ok {
				continue
			}
			words := b.Slice(res.Words, child)
			v, err := Decode(kinds[idx], words, res.At)
			if err != nil {
				return nil, &ParsingFailedError{Err: err}
			}
			values[idx] = v
			filled[idx] = true
		}
	}
	for i, ok := range filled {
		if !ok {
			return nil, &ParsingFailedError{Err: fmt.Errorf("modbus: register at address %d not covered by any batch", spans[i].Address)}
		}
	}
	return values, nil
}
