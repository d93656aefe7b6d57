package modbus

import "fmt"

// Framing selects the application data unit wrapped around a PDU (§6).
type Framing int

const (
	FramingTCP Framing = iota
	FramingRTU
)

// TransportKind selects how a Destination is physically reached (§3).
type TransportKind int

const (
	TransportTCP TransportKind = iota
	TransportSerial
)

// Transport carries the physical reach of a Destination: either a TCP
// socket address or a serial device path/baud rate.
type Transport struct {
	Kind TransportKind

	// TCP / RTU-over-TCP
	Host string
	Port int

	// Serial (real RTU over a UART, see DESIGN.md Open Question 1)
	SerialPath string
	BaudRate   int
}

func (t Transport) String() string {
	switch t.Kind {
	case TransportTCP:
		return fmt.Sprintf("tcp://%s:%d", t.Host, t.Port)
	case TransportSerial:
		return fmt.Sprintf("serial://%s@%d", t.SerialPath, t.BaudRate)
	default:
		return "unknown-transport"
	}
}

// Destination is the addressable wire target (§3 Endpoint): a transport, a
// framing, and an optional slave id present iff framing is RTU.
type Destination struct {
	Transport Transport
	Framing   Framing
	Slave     *uint8
}

// Key is a comparable identity used to key the worker map in the façade
// (§4.E): transport+framing identifies the physical wire, independent of
// which slave a given caller addresses on it.
type Key struct {
	Transport string
	Framing   Framing
}

func (d Destination) Key() Key {
	return Key{Transport: d.Transport.String(), Framing: d.Framing}
}

func (d Destination) String() string {
	if d.Slave != nil {
		return fmt.Sprintf("%s#%d", d.Transport, *d.Slave)
	}
	return d.Transport.String()
}

// MinSlave and MaxSlave bound the valid slave id range (§6): 0 is reserved
// for broadcast and never used, [248,255] is reserved.
const (
	MinSlave uint8 = 1
	MaxSlave uint8 = 247
)

// ValidateSlave reports a Slave error (§7) if slave is outside [1,247].
func ValidateSlave(slave uint8) error {
	if slave < MinSlave || slave > MaxSlave {
		return &SlaveError{Slave: slave}
	}
	return nil
}

// StandaloneFor returns a no-slave Destination for TCP framing discovery.
func StandaloneFor(t Transport) Destination {
	return Destination{Transport: t, Framing: FramingTCP}
}

// SlavesFor enumerates every valid slave id on t for RTU discovery.
func SlavesFor(t Transport) []Destination {
	out := make([]Destination, 0, int(MaxSlave-MinSlave)+1)
	for s := MinSlave; s <= MaxSlave; s++ {
		slave := s
		out = append(out, Destination{Transport: t, Framing: FramingRTU, Slave: &slave})
	}
	return out
}
