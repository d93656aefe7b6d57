// Package ormstore is a gorm.io/gorm reference implementation of
// store.DeviceStore and store.MeasurementSink, grounded on the teacher's
// internal/db/orm.go + internal/model/{modbus,latest}.go.
package ormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/altibiz/fieldgate/internal/modbus"
	"github.com/altibiz/fieldgate/internal/store"
)

// Device mirrors the teacher's model.Device, widened to carry a full
// modbus.Destination instead of a bare slave id.
type Device struct {
	ID            string    `gorm:"column:id;primaryKey"`
	Kind          string    `gorm:"column:kind"`
	TransportKind int       `gorm:"column:transport_kind"`
	Host          string    `gorm:"column:host"`
	Port          int       `gorm:"column:port"`
	SerialPath    string    `gorm:"column:serial_path"`
	BaudRate      int       `gorm:"column:baud_rate"`
	Framing       int       `gorm:"column:framing"`
	Slave         *uint8    `gorm:"column:slave"`
	Seen          time.Time `gorm:"column:seen"`
	Pinged        time.Time `gorm:"column:pinged"`
}

func (Device) TableName() string { return "devices" }

// Measurement mirrors the teacher's model.PointValue/LatestDataValue shape,
// collapsed to one JSON-blob row per verified frame instead of one row per
// point, matching store.Measurement's already-aggregated form.
type Measurement struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Source    string    `gorm:"column:source;index"`
	Timestamp time.Time `gorm:"column:timestamp;index"`
	Data      string    `gorm:"column:data"`
}

func (Measurement) TableName() string { return "measurements" }

// Store wraps a GORM SQLite connection implementing both store.DeviceStore
// and store.MeasurementSink.
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Device{}, &Measurement{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Upsert implements store.DeviceStore.
func (s *Store) Upsert(ctx context.Context, rec store.DeviceRecord) error {
	t := rec.Endpoint.Transport
	row := Device{
		ID:            rec.ID,
		Kind:          rec.Kind,
		TransportKind: int(t.Kind),
		Host:          t.Host,
		Port:          t.Port,
		SerialPath:    t.SerialPath,
		BaudRate:      t.BaudRate,
		Framing:       int(rec.Endpoint.Framing),
		Slave:         rec.Endpoint.Slave,
		Seen:          rec.Seen,
		Pinged:        rec.Pinged,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

// Touch implements store.DeviceStore.
func (s *Store) Touch(ctx context.Context, id string, seen time.Time) error {
	return s.db.WithContext(ctx).Model(&Device{}).Where("id = ?", id).Update("seen", seen).Error
}

// List implements store.DeviceStore.
func (s *Store) List(ctx context.Context) ([]store.DeviceRecord, error) {
	var rows []Device
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.DeviceRecord, len(rows))
	for i, row := range rows {
		out[i] = store.DeviceRecord{
			ID:   row.ID,
			Kind: row.Kind,
			Endpoint: modbus.Destination{
				Transport: modbus.Transport{
					Kind:       modbus.TransportKind(row.TransportKind),
					Host:       row.Host,
					Port:       row.Port,
					SerialPath: row.SerialPath,
					BaudRate:   row.BaudRate,
				},
				Framing: modbus.Framing(row.Framing),
				Slave:   row.Slave,
			},
			Seen:   row.Seen,
			Pinged: row.Pinged,
		}
	}
	return out, nil
}

// Store implements store.MeasurementSink.
func (s *Store) Store(ctx context.Context, batch []store.Measurement) error {
	rows := make([]Measurement, len(batch))
	for i, m := range batch {
		data, err := json.Marshal(m.Data)
		if err != nil {
			return fmt.Errorf("ormstore: marshal measurement from %s: %w", m.Source, err)
		}
		rows[i] = Measurement{Source: m.Source, Timestamp: m.Timestamp, Data: string(data)}
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}
