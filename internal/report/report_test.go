package report

import (
	"strings"
	"testing"
	"time"

	"github.com/altibiz/fieldgate/internal/modbus"
	"github.com/altibiz/fieldgate/internal/store"
)

func TestBuildFlagsStaleDevices(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	records := []store.DeviceRecord{
		{ID: "meter-2", Kind: "meter", Seen: now.Add(-1 * time.Minute), Pinged: now},
		{ID: "meter-1", Kind: "meter", Seen: now.Add(-10 * time.Minute), Pinged: now},
	}

	lines := Build(records, now)
	if len(lines) != 2 {
		t.Fatalf("got %d lines want 2", len(lines))
	}
	if lines[0].ID != "meter-1" || lines[1].ID != "meter-2" {
		t.Fatalf("expected sorted output, got %+v", lines)
	}
	if !lines[0].Stale {
		t.Fatal("expected meter-1 to be flagged stale")
	}
	if lines[1].Stale {
		t.Fatal("expected meter-2 to not be stale")
	}
}

func TestRenderIncludesStaleMarker(t *testing.T) {
	now := time.Now()
	lines := Build([]store.DeviceRecord{
		{ID: "meter-1", Kind: "meter", Endpoint: modbus.Destination{}, Seen: now.Add(-time.Hour), Pinged: now},
	}, now)

	out := Render(lines)
	if !strings.Contains(out, "meter-1") {
		t.Fatalf("expected meter-1 in output, got %q", out)
	}
	if !strings.Contains(out, "(stale)") {
		t.Fatalf("expected stale marker, got %q", out)
	}
}
