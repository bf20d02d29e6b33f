package filter

import (
	"testing"
	"time"

	"github.com/dyluth/boardlink/pkg/events"
	"github.com/stretchr/testify/assert"
)

func TestCriteria_Matches(t *testing.T) {
	base := time.Date(2025, 10, 29, 13, 0, 0, 0, time.UTC)
	evt := events.Event{
		ID:        "01J",
		Type:      events.TypePlayerMoneyChanged,
		Source:    "listener.players",
		Timestamp: base,
	}

	tests := []struct {
		name     string
		criteria Criteria
		want     bool
	}{
		{"no filters", Criteria{}, true},
		{"since before", Criteria{SinceTimestampMs: base.Add(-time.Minute).UnixMilli()}, true},
		{"since after", Criteria{SinceTimestampMs: base.Add(time.Minute).UnixMilli()}, false},
		{"until after", Criteria{UntilTimestampMs: base.Add(time.Minute).UnixMilli()}, true},
		{"until before", Criteria{UntilTimestampMs: base.Add(-time.Minute).UnixMilli()}, false},
		{"type glob match", Criteria{TypeGlob: "player_*"}, true},
		{"type glob miss", Criteria{TypeGlob: "message_*"}, false},
		{"exact type", Criteria{TypeGlob: "player_money_changed"}, true},
		{"bad glob", Criteria{TypeGlob: "["}, false},
		{"source match", Criteria{Source: "listener.players"}, true},
		{"source miss", Criteria{Source: "listener.global"}, false},
		{"combined", Criteria{TypeGlob: "player_*", Source: "listener.players", SinceTimestampMs: base.UnixMilli()}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.criteria.Matches(&evt))
		})
	}
}

func TestCriteria_Apply(t *testing.T) {
	evts := []events.Event{
		{ID: "1", Type: events.TypePlayerAdded},
		{ID: "2", Type: events.TypeMessageAdded},
		{ID: "3", Type: events.TypePlayerRemoved},
	}

	c := Criteria{TypeGlob: "player_*"}
	got := c.Apply(evts)
	assert.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)

	empty := Criteria{}
	assert.False(t, empty.HasFilters())
	assert.Len(t, empty.Apply(evts), 3)
}
