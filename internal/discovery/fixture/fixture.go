package fixture

import (
	"context"

	"github.com/altibiz/fieldgate/internal/discovery"
	"github.com/altibiz/fieldgate/internal/modbus"
)

// Source wraps a fixed set of already-running fixture servers as a
// discovery.CandidateSource, standing in for a network port scanner or
// serial enumerator in tests.
type Source struct {
	Endpoints []Endpoint
}

// Endpoint pairs a fixture server's address with whether a real scanner
// would flag it as slave-addressable (bare TCP listeners are not; RTU-over-
// TCP gateways are).
type Endpoint struct {
	Host      string
	Port      int
	HasSlaves bool
}

func (s *Source) Candidates(ctx context.Context) (<-chan discovery.Candidate, error) {
	out := make(chan discovery.Candidate, len(s.Endpoints))
	for _, ep := range s.Endpoints {
		out <- discovery.Candidate{
			Transport: modbus.Transport{Kind: modbus.TransportTCP, Host: ep.Host, Port: ep.Port},
			HasSlaves: ep.HasSlaves,
		}
	}
	close(out)
	return out, nil
}
