// Package report renders a human-readable status summary of the known
// device set as health-check text, using the teacher's own
// github.com/dustin/go-humanize dependency for the relative-time
// formatting. The sample daemon does not call it.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/altibiz/fieldgate/internal/store"
)

// Line is one device's row in a rendered report.
type Line struct {
	ID       string
	Kind     string
	Endpoint string
	Seen     string
	Pinged   string
	Stale    bool
}

// StaleAfter is how long since a device was last seen before it is
// reported stale.
const StaleAfter = 5 * time.Minute

// Build turns a device directory snapshot into report lines, sorted by id
// for stable output.
func Build(records []store.DeviceRecord, now time.Time) []Line {
	lines := make([]Line, len(records))
	for i, rec := range records {
		lines[i] = Line{
			ID:       rec.ID,
			Kind:     rec.Kind,
			Endpoint: rec.Endpoint.String(),
			Seen:     humanize.Time(rec.Seen),
			Pinged:   humanize.Time(rec.Pinged),
			Stale:    now.Sub(rec.Seen) > StaleAfter,
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines
}

// Render writes a plain-text table, one row per device, flagging stale
// ones.
func Render(lines []Line) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-12s %-28s %-16s %-16s\n", "ID", "KIND", "ENDPOINT", "SEEN", "PINGED")
	for _, l := range lines {
		marker := ""
		if l.Stale {
			marker = " (stale)"
		}
		fmt.Fprintf(&b, "%-20s %-12s %-28s %-16s %-16s%s\n", l.ID, l.Kind, l.Endpoint, l.Seen, l.Pinged, marker)
	}
	return b.String()
}
