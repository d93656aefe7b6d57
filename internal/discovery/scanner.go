// Package discovery implements the device-kind matching step of §4.F; the
// network port scanner and serial-port enumerator that feed it candidate
// endpoints are external collaborators (§1 Non-goals).
package discovery

import (
	"context"

	"github.com/altibiz/fieldgate/internal/modbus"
)

// Candidate is one endpoint a port scanner or serial enumerator believes
// might host a device: a transport, plus whether slave iteration applies
// (RTU-over-TCP and real serial do; a bare TCP listener does not).
type Candidate struct {
	Transport modbus.Transport
	HasSlaves bool
}

// CandidateSource produces candidates for the matcher to probe. A concrete
// implementation (network sweep, serial enumeration) is an external
// collaborator concern; this repo ships only the test fixture in
// internal/discovery/fixture.
type CandidateSource interface {
	Candidates(ctx context.Context) (<-chan Candidate, error)
}
