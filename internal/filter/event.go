package filter

import (
	"path/filepath"

	"github.com/dyluth/boardlink/pkg/events"
)

// Criteria defines filtering criteria for events.
// All filters are ANDed together - an event must match ALL criteria to pass.
type Criteria struct {
	SinceTimestampMs int64  // Unix timestamp in milliseconds, 0 = no filter
	UntilTimestampMs int64  // Unix timestamp in milliseconds, 0 = no filter
	TypeGlob         string // Glob pattern for event type (e.g. "player_*"), empty = no filter
	Source           string // Exact match on event source, empty = no filter
}

// Matches returns true if the event matches all filter criteria.
// Empty/zero criteria values are treated as "match all" for that criterion.
func (c *Criteria) Matches(evt *events.Event) bool {
	ts := evt.Timestamp.UnixMilli()
	if c.SinceTimestampMs > 0 && ts < c.SinceTimestampMs {
		return false
	}
	if c.UntilTimestampMs > 0 && ts > c.UntilTimestampMs {
		return false
	}

	if c.TypeGlob != "" {
		matched, err := filepath.Match(c.TypeGlob, string(evt.Type))
		if err != nil || !matched {
			return false
		}
	}

	if c.Source != "" && evt.Source != c.Source {
		return false
	}

	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return c.SinceTimestampMs > 0 ||
		c.UntilTimestampMs > 0 ||
		c.TypeGlob != "" ||
		c.Source != ""
}

// Apply returns the events that match, preserving order.
func (c *Criteria) Apply(evts []events.Event) []events.Event {
	if !c.HasFilters() {
		return evts
	}
	out := make([]events.Event, 0, len(evts))
	for i := range evts {
		if c.Matches(&evts[i]) {
			out = append(out, evts[i])
		}
	}
	return out
}
