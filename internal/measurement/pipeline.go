// Package measurement implements the background streaming pipeline of
// §4.G: one long-lived modbus.Stream per known device, polled
// non-blockingly, each frame verified against its device id before being
// handed to a store.MeasurementSink.
package measurement

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/altibiz/fieldgate/internal/config"
	"github.com/altibiz/fieldgate/internal/modbus"
	"github.com/altibiz/fieldgate/internal/store"
)

// deviceStream pairs a device's open stream with enough bookkeeping to
// split a decoded frame back into id values and named measurement values.
type deviceStream struct {
	id      string
	kind    string
	idCount int
	names   []string
	stream  *modbus.Stream
}

// Pipeline owns one deviceStream per currently-known device and drains
// them on every Poll call.
type Pipeline struct {
	Service *modbus.Service
	Sink    store.MeasurementSink
	Logger  *slog.Logger

	mu      sync.Mutex
	streams map[string]*deviceStream
}

func NewPipeline(service *modbus.Service, sink store.MeasurementSink, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		Service: service,
		Sink:    sink,
		Logger:  logger,
		streams: make(map[string]*deviceStream),
	}
}

// Known is one currently-bound device the pipeline should be streaming,
// supplied by whatever merges directory and discovery state (the sample
// daemon's scheduler, §6).
type Known struct {
	ID   string
	Kind config.Resolved
}

// Merge opens a stream for every device in devices not already streaming,
// and drops streams for devices no longer present, per §4.G: "streams
// whose producer ended ... are dropped and will be recreated when the
// device set is next merged".
func (p *Pipeline) Merge(ctx context.Context, devices []Known) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wanted := make(map[string]Known, len(devices))
	for _, d := range devices {
		wanted[d.ID] = d
	}

	for id := range p.streams {
		if _, ok := wanted[id]; !ok {
			delete(p.streams, id)
		}
	}

	for id, d := range wanted {
		if _, ok := p.streams[id]; ok {
			continue
		}
		ds, err := p.open(ctx, d)
		if err != nil {
			p.Logger.Warn("measurement: open stream failed", "id", id, "err", err)
			continue
		}
		p.streams[id] = ds
	}
}

func (p *Pipeline) open(ctx context.Context, d Known) (*deviceStream, error) {
	registers := make([]modbus.Register, 0, len(d.Kind.ID)+len(d.Kind.Measurement))
	names := make([]string, 0, len(d.Kind.Measurement))
	for _, idReg := range d.Kind.ID {
		registers = append(registers, idReg)
	}
	for _, mr := range d.Kind.Measurement {
		registers = append(registers, mr)
		names = append(names, mr.Name)
	}

	st, err := p.Service.StreamFromID(ctx, d.ID, registers)
	if err != nil {
		return nil, err
	}
	return &deviceStream{
		id:      d.ID,
		kind:    d.Kind.Kind,
		idCount: len(d.Kind.ID),
		names:   names,
		stream:  st,
	}, nil
}

// Poll drains every ready frame from every known stream's non-blocking
// Next, verifies it, and hands the verified batch to Sink.Store.
func (p *Pipeline) Poll(ctx context.Context) error {
	p.mu.Lock()
	streams := make([]*deviceStream, 0, len(p.streams))
	for _, ds := range p.streams {
		streams = append(streams, ds)
	}
	p.mu.Unlock()

	var batch []store.Measurement
	for _, ds := range streams {
		for {
			values, ok, err := ds.stream.Next()
			if err != nil {
				p.Logger.Warn("measurement: stream ended", "id", ds.id, "err", err)
				p.drop(ds.id)
				break
			}
			if !ok {
				break
			}
			m, verified := ds.verify(values)
			if !verified {
				p.Logger.Warn("measurement: id mismatch, dropping frame", "id", ds.id)
				continue
			}
			batch = append(batch, m)
		}
	}

	if len(batch) == 0 {
		return nil
	}
	return p.Sink.Store(ctx, batch)
}

func (p *Pipeline) drop(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.streams, id)
}

// verify re-derives the device id from the frame's id-register values and
// checks it against the bound id (§4.G). On success it builds the
// timestamped, named measurement.
func (ds *deviceStream) verify(values []modbus.RegisterValue) (store.Measurement, bool) {
	idValues := values[:ds.idCount]
	measurementValues := values[ds.idCount:]

	recomputed := modbus.MakeID(ds.kind, idValues)
	if recomputed != ds.id {
		return store.Measurement{}, false
	}

	var timestamp time.Time
	for i, v := range idValues {
		if i == 0 || v.Timestamp.Before(timestamp) {
			timestamp = v.Timestamp
		}
	}
	if len(idValues) == 0 && len(measurementValues) > 0 {
		timestamp = measurementValues[0].Timestamp
	}

	data := make(map[string]modbus.RegisterValue, len(measurementValues))
	for i, v := range measurementValues {
		data[ds.names[i]] = v
	}

	return store.Measurement{Source: ds.id, Timestamp: timestamp, Data: data}, true
}
