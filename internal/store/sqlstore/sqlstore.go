// Package sqlstore is a raw database/sql reference implementation of
// store.DeviceStore and store.MeasurementSink, grounded on the teacher's
// internal/db/sqlite.go Open/migrate/Query pattern.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/altibiz/fieldgate/internal/modbus"
	"github.com/altibiz/fieldgate/internal/store"
)

// Store wraps a sqlite connection implementing both store.DeviceStore and
// store.MeasurementSink.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS devices (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    transport_kind INTEGER NOT NULL,
    host TEXT,
    port INTEGER,
    serial_path TEXT,
    baud_rate INTEGER,
    framing INTEGER NOT NULL,
    slave INTEGER,
    seen DATETIME,
    pinged DATETIME
);
CREATE TABLE IF NOT EXISTS measurements (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source TEXT NOT NULL,
    timestamp DATETIME NOT NULL,
    data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_measurements_source ON measurements(source);
CREATE INDEX IF NOT EXISTS idx_measurements_timestamp ON measurements(timestamp);
`
	_, err := s.db.Exec(schema)
	return err
}

// Upsert implements store.DeviceStore.
func (s *Store) Upsert(ctx context.Context, rec store.DeviceRecord) error {
	var slave sql.NullInt64
	if rec.Endpoint.Slave != nil {
		slave = sql.NullInt64{Int64: int64(*rec.Endpoint.Slave), Valid: true}
	}
	const q = `
INSERT INTO devices (id, kind, transport_kind, host, port, serial_path, baud_rate, framing, slave, seen, pinged)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    kind = excluded.kind,
    transport_kind = excluded.transport_kind,
    host = excluded.host,
    port = excluded.port,
    serial_path = excluded.serial_path,
    baud_rate = excluded.baud_rate,
    framing = excluded.framing,
    slave = excluded.slave,
    seen = excluded.seen,
    pinged = excluded.pinged;
`
	t := rec.Endpoint.Transport
	_, err := s.db.ExecContext(ctx, q, rec.ID, rec.Kind, int(t.Kind), t.Host, t.Port, t.SerialPath, t.BaudRate,
		int(rec.Endpoint.Framing), slave, rec.Seen, rec.Pinged)
	return err
}

// Touch implements store.DeviceStore.
func (s *Store) Touch(ctx context.Context, id string, seen time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE devices SET seen = ? WHERE id = ?`, seen, id)
	return err
}

// List implements store.DeviceStore.
func (s *Store) List(ctx context.Context) ([]store.DeviceRecord, error) {
	const q = `SELECT id, kind, transport_kind, host, port, serial_path, baud_rate, framing, slave, seen, pinged FROM devices ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.DeviceRecord
	for rows.Next() {
		var (
			rec           store.DeviceRecord
			transportKind int
			framing       int
			host          sql.NullString
			port          sql.NullInt64
			serialPath    sql.NullString
			baudRate      sql.NullInt64
			slave         sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.Kind, &transportKind, &host, &port, &serialPath, &baudRate, &framing, &slave, &rec.Seen, &rec.Pinged); err != nil {
			return nil, err
		}
		rec.Endpoint = modbus.Destination{
			Transport: modbus.Transport{
				Kind:       modbus.TransportKind(transportKind),
				Host:       host.String,
				Port:       int(port.Int64),
				SerialPath: serialPath.String,
				BaudRate:   int(baudRate.Int64),
			},
			Framing: modbus.Framing(framing),
		}
		if slave.Valid {
			v := uint8(slave.Int64)
			rec.Endpoint.Slave = &v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Store implements store.MeasurementSink: each measurement's register map
// is serialized to JSON via modbus.RegisterValue's own MarshalJSON (§4.A,
// §4.G) and persisted as one row.
func (s *Store) Store(ctx context.Context, batch []store.Measurement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO measurements (source, timestamp, data) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range batch {
		data, err := json.Marshal(m.Data)
		if err != nil {
			return fmt.Errorf("sqlstore: marshal measurement from %s: %w", m.Source, err)
		}
		if _, err := stmt.ExecContext(ctx, m.Source, m.Timestamp, string(data)); err != nil {
			return err
		}
	}
	return tx.Commit()
}
