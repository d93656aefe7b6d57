// Package config declares the configuration surface the field-bus core
// consumes. File/environment/flag merge and reload are an external
// collaborator concern; LoadYAML is one reference loader kept for tests and
// the sample daemon, in the teacher's own collector config idiom.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/altibiz/fieldgate/internal/modbus"
)

// Tuning mirrors the worker/façade knobs named in the external interface
// surface.
type Tuning struct {
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	CongestionBackoff    time.Duration `yaml:"congestion_backoff"`
	CongestionBackoffCap time.Duration `yaml:"congestion_backoff_cap"`
	TerminationTimeout   time.Duration `yaml:"termination_timeout"`
	PartialRetries       int           `yaml:"partial_retries"`
	BatchThreshold       uint16        `yaml:"batch_threshold"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	TariffTimeout        time.Duration `yaml:"tariff_timeout"`
	TimeTimeout          time.Duration `yaml:"time_timeout"`
	InactiveTimeout      time.Duration `yaml:"inactive_timeout"`
	DiscoveryTimeout     time.Duration `yaml:"discovery_timeout"`
	StreamBufferSize     int           `yaml:"stream_buffer_size"`
}

func (t *Tuning) applyDefaults() {
	if t.RequestTimeout <= 0 {
		t.RequestTimeout = 3 * time.Second
	}
	if t.CongestionBackoff <= 0 {
		t.CongestionBackoff = 10 * time.Millisecond
	}
	if t.CongestionBackoffCap <= 0 {
		t.CongestionBackoffCap = time.Second
	}
	if t.TerminationTimeout <= 0 {
		t.TerminationTimeout = 5 * time.Second
	}
	if t.PartialRetries <= 0 {
		t.PartialRetries = 3
	}
	if t.BatchThreshold <= 0 {
		t.BatchThreshold = 4
	}
	if t.PingTimeout <= 0 {
		t.PingTimeout = time.Second
	}
	if t.TariffTimeout <= 0 {
		t.TariffTimeout = 5 * time.Second
	}
	if t.TimeTimeout <= 0 {
		t.TimeTimeout = 5 * time.Second
	}
	if t.InactiveTimeout <= 0 {
		t.InactiveTimeout = time.Minute
	}
	if t.DiscoveryTimeout <= 0 {
		t.DiscoveryTimeout = 2 * time.Second
	}
	if t.StreamBufferSize <= 0 {
		t.StreamBufferSize = 1024
	}
}

// ServiceParams converts the tuning knobs into the shape
// modbus.NewService expects.
func (t Tuning) ServiceParams() modbus.ServiceParams {
	return modbus.ServiceParams{
		Worker: modbus.WorkerParams{
			RequestTimeout:       t.RequestTimeout,
			CongestionBackoff:    t.CongestionBackoff,
			CongestionBackoffCap: t.CongestionBackoffCap,
			TerminationTimeout:   t.TerminationTimeout,
			PartialRetries:       t.PartialRetries,
		},
		BatchThreshold:   t.BatchThreshold,
		StreamBufferSize: t.StreamBufferSize,
	}
}

// Network describes the scan range an external port scanner operates over
// and the default Modbus TCP port (§6).
type Network struct {
	IPRangeStart string        `yaml:"ip_range_start"`
	IPRangeEnd   string        `yaml:"ip_range_end"`
	Timeout      time.Duration `yaml:"timeout"`
	ModbusPort   int           `yaml:"modbus_port"`
}

func (n *Network) applyDefaults() {
	if n.Timeout <= 0 {
		n.Timeout = 2 * time.Second
	}
	if n.ModbusPort <= 0 {
		n.ModbusPort = 502
	}
}

// RegisterSpec is the YAML shape of a single register reference, generic
// enough to decode into any of modbus's role-tagged wrappers.
type RegisterSpec struct {
	Address    uint16  `yaml:"address"`
	Tag        string  `yaml:"type"` // u16|u32|u64|s16|s32|s64|f32|f64|string|raw
	Length     uint16  `yaml:"length"`
	Multiplier float64 `yaml:"multiplier"`
	Name       string  `yaml:"name"`
	Match      string  `yaml:"match"`
	Regex      bool    `yaml:"regex"`
}

func (r RegisterSpec) kind() (modbus.RegisterKind, error) {
	var k modbus.RegisterKind
	switch r.Tag {
	case "u16":
		k = modbus.U16()
	case "u32":
		k = modbus.U32()
	case "u64":
		k = modbus.U64()
	case "s16":
		k = modbus.S16()
	case "s32":
		k = modbus.S32()
	case "s64":
		k = modbus.S64()
	case "f32":
		k = modbus.F32()
	case "f64":
		k = modbus.F64()
	case "string":
		return modbus.StringKind(r.Length), nil
	case "raw":
		return modbus.RawKind(r.Length), nil
	default:
		return modbus.RegisterKind{}, fmt.Errorf("config: unknown register type %q", r.Tag)
	}
	if r.Multiplier != 0 {
		k = k.WithMultiplier(decimal.NewFromFloat(r.Multiplier))
	}
	return k, nil
}

func (r RegisterSpec) detect() (modbus.DetectRegister, error) {
	k, err := r.kind()
	if err != nil {
		return modbus.DetectRegister{}, err
	}
	var m modbus.Matcher
	if r.Regex {
		m, err = modbus.RegexMatcher(r.Match)
		if err != nil {
			return modbus.DetectRegister{}, err
		}
	} else {
		m = modbus.LiteralMatcher(r.Match)
	}
	return modbus.DetectRegister{Address: r.Address, Kind: k, Match: m}, nil
}

func (r RegisterSpec) id() (modbus.IdRegister, error) {
	k, err := r.kind()
	if err != nil {
		return modbus.IdRegister{}, err
	}
	return modbus.IdRegister{Address: r.Address, Kind: k}, nil
}

func (r RegisterSpec) measurement() (modbus.MeasurementRegister, error) {
	k, err := r.kind()
	if err != nil {
		return modbus.MeasurementRegister{}, err
	}
	return modbus.MeasurementRegister{Name: r.Name, Address: r.Address, Kind: k}, nil
}

// ValueSpec is the YAML shape of a write-side value register.
type ValueSpec struct {
	Address uint16   `yaml:"address"`
	Values  []uint16 `yaml:"values"`
}

func (v ValueSpec) register() modbus.ValueRegister {
	return modbus.ValueRegister{Address: v.Address, Values: v.Values}
}

// TimeSpec declares a device kind's clock-sync register, if any.
type TimeSpec struct {
	Supported bool      `yaml:"supported"`
	Register  ValueSpec `yaml:"register"`
}

func (t TimeSpec) implementation() modbus.TimeImplementation {
	if !t.Supported {
		return modbus.TimeUnsupported
	}
	return modbus.TimeRegister(t.register().register())
}

// DeviceKind is one device catalog entry (§3).
type DeviceKind struct {
	Kind          string         `yaml:"kind"`
	Detect        []RegisterSpec `yaml:"detect"`
	ID            []RegisterSpec `yaml:"id"`
	Measurement   []RegisterSpec `yaml:"measurement"`
	Configuration []ValueSpec    `yaml:"configuration"`
	Daily         []ValueSpec    `yaml:"daily"`
	Nightly       []ValueSpec    `yaml:"nightly"`
	Time          TimeSpec       `yaml:"time"`
}

// Resolved is DeviceKind translated into the modbus package's register
// wrappers, ready for discovery/measurement use.
type Resolved struct {
	Kind          string
	Detect        []modbus.DetectRegister
	ID            []modbus.IdRegister
	Measurement   []modbus.MeasurementRegister
	Configuration []modbus.ValueRegister
	Daily         []modbus.ValueRegister
	Nightly       []modbus.ValueRegister
	Time          modbus.TimeImplementation
}

func (d DeviceKind) resolve() (Resolved, error) {
	r := Resolved{Kind: d.Kind, Time: d.Time.implementation()}
	for _, spec := range d.Detect {
		dr, err := spec.detect()
		if err != nil {
			return Resolved{}, fmt.Errorf("config: device %s detect register at %d: %w", d.Kind, spec.Address, err)
		}
		r.Detect = append(r.Detect, dr)
	}
	for _, spec := range d.ID {
		ir, err := spec.id()
		if err != nil {
			return Resolved{}, fmt.Errorf("config: device %s id register at %d: %w", d.Kind, spec.Address, err)
		}
		r.ID = append(r.ID, ir)
	}
	for _, spec := range d.Measurement {
		mr, err := spec.measurement()
		if err != nil {
			return Resolved{}, fmt.Errorf("config: device %s measurement register at %d: %w", d.Kind, spec.Address, err)
		}
		r.Measurement = append(r.Measurement, mr)
	}
	for _, spec := range d.Configuration {
		r.Configuration = append(r.Configuration, spec.register())
	}
	for _, spec := range d.Daily {
		r.Daily = append(r.Daily, spec.register())
	}
	for _, spec := range d.Nightly {
		r.Nightly = append(r.Nightly, spec.register())
	}
	return r, nil
}

// Values is the root configuration document (§6).
type Values struct {
	Tuning  Tuning                `yaml:"tuning"`
	Network Network               `yaml:"network"`
	Devices map[string]DeviceKind `yaml:"devices"`
}

// Catalog resolves every configured device kind into its modbus register
// wrappers, keyed by kind name.
func (v Values) Catalog() (map[string]Resolved, error) {
	out := make(map[string]Resolved, len(v.Devices))
	for name, dk := range v.Devices {
		if dk.Kind == "" {
			dk.Kind = name
		}
		resolved, err := dk.resolve()
		if err != nil {
			return nil, err
		}
		out[name] = resolved
	}
	return out, nil
}

// LoadYAML reads and validates a configuration document from path, applying
// the same kind of zero-value defaulting the teacher's LoadYAML performs.
func LoadYAML(path string) (Values, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Values{}, err
	}
	var v Values
	if err := yaml.Unmarshal(b, &v); err != nil {
		return Values{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	v.Tuning.applyDefaults()
	v.Network.applyDefaults()
	if len(v.Devices) == 0 {
		return Values{}, fmt.Errorf("config: %s declares no device kinds", path)
	}
	return v, nil
}
