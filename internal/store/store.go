// Package store declares the persistence interfaces the field-bus core
// depends on. Relational store access is an external collaborator concern
// (§1 Non-goals); sqlstore and ormstore below are reference implementations
// kept for tests and the sample daemon, not required by the core itself.
package store

import (
	"context"
	"time"

	"github.com/altibiz/fieldgate/internal/modbus"
)

// DeviceRecord is one row of the device directory: a stable id bound to a
// device kind and the endpoint it was last seen on.
type DeviceRecord struct {
	ID       string
	Kind     string
	Endpoint modbus.Destination
	Seen     time.Time
	Pinged   time.Time
}

// DeviceStore is the discovery matcher's external collaborator (§4.F step
// 4): it upserts discovered devices and tracks when they were last seen or
// pinged.
type DeviceStore interface {
	Upsert(ctx context.Context, rec DeviceRecord) error
	Touch(ctx context.Context, id string, seen time.Time) error
	List(ctx context.Context) ([]DeviceRecord, error)
}

// Measurement is one verified, decoded measurement frame ready for
// persistence (§4.G, §6 stream payload).
type Measurement struct {
	Source    string
	Timestamp time.Time
	Data      map[string]modbus.RegisterValue
}

// MeasurementSink is the measurement pipeline's external collaborator
// (§4.G): verified frames are handed over in batches.
type MeasurementSink interface {
	Store(ctx context.Context, batch []Measurement) error
}
