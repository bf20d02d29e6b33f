package events

import (
	"fmt"
	"maps"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type identifies the category of an Event.
type Type string

// Change categories produced by the state listener. Every change is published
// twice: once with its specific type and once with TypeAny.
const (
	TypePlayerAdded        Type = "player_added"
	TypePlayerRemoved      Type = "player_removed"
	TypePlayerMoneyChanged Type = "player_money_changed"
	TypePlayerNameChanged  Type = "player_name_changed"
	TypePlayerDiceChanged  Type = "player_dice_changed"
	TypePlayerGotoChanged  Type = "player_goto_changed"
	TypeMessageAdded       Type = "message_added"
	TypeMessageRemoved     Type = "message_removed"
	TypeTurnChanged        Type = "turn_changed"
	TypeSpaceChanged       Type = "space_changed"

	// TypeAny is the generic "something changed" event that mirrors every
	// specific change. Its data carries the specific type under DataKeyEventType.
	TypeAny Type = "*"
)

// Decision and service lifecycle types.
const (
	TypeDecisionRequested Type = "ai_decision_requested"
	TypeDecisionMade      Type = "ai_decision_made"
	TypeServiceStarted    Type = "service_started"
	TypeServiceStopped    Type = "service_stopped"
	TypeProcessExited     Type = "process_exited"
)

// DataKeyEventType is set on TypeAny events to the specific change type.
const DataKeyEventType = "event_type"

var knownTypes = map[Type]bool{
	TypePlayerAdded:        true,
	TypePlayerRemoved:      true,
	TypePlayerMoneyChanged: true,
	TypePlayerNameChanged:  true,
	TypePlayerDiceChanged:  true,
	TypePlayerGotoChanged:  true,
	TypeMessageAdded:       true,
	TypeMessageRemoved:     true,
	TypeTurnChanged:        true,
	TypeSpaceChanged:       true,
	TypeAny:                true,
	TypeDecisionRequested:  true,
	TypeDecisionMade:       true,
	TypeServiceStarted:     true,
	TypeServiceStopped:     true,
	TypeProcessExited:      true,
}

// Validate checks that the type belongs to the fixed vocabulary.
func (t Type) Validate() error {
	if !knownTypes[t] {
		return fmt.Errorf("unknown event type: %q", string(t))
	}
	return nil
}

// IsStateChange reports whether the type is one of the listener's change categories.
func (t Type) IsStateChange() bool {
	switch t {
	case TypePlayerAdded, TypePlayerRemoved, TypePlayerMoneyChanged, TypePlayerNameChanged,
		TypePlayerDiceChanged, TypePlayerGotoChanged, TypeMessageAdded, TypeMessageRemoved,
		TypeTurnChanged, TypeSpaceChanged:
		return true
	}
	return false
}

// Event is a single notification flowing through the bus.
// Events are immutable once published; handlers must not modify Data.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Data      map[string]any `json:"data"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
}

// New builds an event with a fresh ULID and a UTC timestamp.
// The data map is copied so later changes by the caller are not observed.
func New(t Type, data map[string]any, source string) Event {
	d := maps.Clone(data)
	if d == nil {
		d = map[string]any{}
	}
	return Event{
		ID:        ulid.Make().String(),
		Type:      t,
		Data:      d,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
}

// Generic returns the TypeAny mirror of a specific change event.
func (e Event) Generic() Event {
	data := maps.Clone(e.Data)
	if data == nil {
		data = map[string]any{}
	}
	data[DataKeyEventType] = string(e.Type)
	g := New(TypeAny, data, e.Source)
	g.Timestamp = e.Timestamp
	return g
}

// SpecificType returns the change type carried by a TypeAny event,
// or the event's own type otherwise.
func (e Event) SpecificType() Type {
	if e.Type != TypeAny {
		return e.Type
	}
	if s, ok := e.Data[DataKeyEventType].(string); ok {
		return Type(s)
	}
	return TypeAny
}
