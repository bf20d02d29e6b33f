package gamectx

import (
	"encoding/json"
	"fmt"

	"github.com/dyluth/boardlink/pkg/events"
)

// Snapshot is the persisted JSON form of a Context.
//
//	{"global": {...}, "events": [...], "players": {"1": {...}}, "board": {"spaces": [...]}}
type Snapshot struct {
	Global  GlobalSnapshot `json:"global"`
	Events  []events.Event `json:"events"`
	Players map[int]Player `json:"players"`
	Board   BoardSnapshot  `json:"board"`
}

// GlobalSnapshot holds the game-wide fields.
type GlobalSnapshot struct {
	Version     uint64    `json:"version"`
	Status      Status    `json:"status"`
	Message     string    `json:"message"`
	CurrentTurn int       `json:"current_turn"`
	PlayerCount int       `json:"player_count"`
	PlayerNames []string  `json:"player_names"`
	Properties  []Space   `json:"properties"`
	Messages    []Message `json:"messages"`
}

// BoardSnapshot holds every known board space.
type BoardSnapshot struct {
	Spaces []Space `json:"spaces"`
}

// ToSnapshot converts a context into its persisted form.
func ToSnapshot(c *Context) Snapshot {
	names := c.PlayerNames()
	props := c.OwnedProperties()
	if props == nil {
		props = []Space{}
	}
	msgs := c.Messages
	if msgs == nil {
		msgs = []Message{}
	}
	spaces := c.Board
	if spaces == nil {
		spaces = []Space{}
	}
	evts := c.Events
	if evts == nil {
		evts = []events.Event{}
	}
	players := c.Players
	if players == nil {
		players = map[int]Player{}
	}

	return Snapshot{
		Global: GlobalSnapshot{
			Version:     c.Version,
			Status:      c.Status,
			Message:     c.Message,
			CurrentTurn: c.CurrentTurn,
			PlayerCount: len(players),
			PlayerNames: names,
			Properties:  props,
			Messages:    msgs,
		},
		Events:  evts,
		Players: players,
		Board:   BoardSnapshot{Spaces: spaces},
	}
}

// FromSnapshot rebuilds a context from its persisted form.
func FromSnapshot(s Snapshot) *Context {
	c := &Context{
		Version:     s.Global.Version,
		Status:      s.Global.Status,
		Message:     s.Global.Message,
		CurrentTurn: s.Global.CurrentTurn,
		Players:     s.Players,
		Board:       s.Board.Spaces,
		Messages:    s.Global.Messages,
		Events:      s.Events,
	}
	if c.Players == nil {
		c.Players = map[int]Player{}
	}
	if c.Status == "" {
		c.Status = StatusStopped
	}
	return c
}

// Marshal encodes a context as indented snapshot JSON.
func Marshal(c *Context) ([]byte, error) {
	data, err := json.MarshalIndent(ToSnapshot(c), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context snapshot: %w", err)
	}
	return data, nil
}

// Unmarshal decodes snapshot JSON into a context.
func Unmarshal(data []byte) (*Context, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse context snapshot: %w", err)
	}
	return FromSnapshot(s), nil
}
