package decision

import (
	"fmt"
	"strings"
)

// Confidence attached to each rung of the decision ladder.
const (
	ConfidenceBackend  = 0.9
	ConfidencePriority = 0.5
	ConfidenceFirst    = 0.3
	ConfidenceNone     = 0.0
)

// ChoiceNone is returned when there is nothing to choose from.
const ChoiceNone = "none"

// Reasons reported by the fallback rungs.
const (
	ReasonDefaultBackend = "strategic decision"
	ReasonPriority       = "default priority"
	ReasonFirstOption    = "first available option"
	ReasonNoOptions      = "no options available"
)

// PriorityOrder is the fallback preference when the backend cannot decide.
var PriorityOrder = []string{"buy", "next turn", "roll again", "auction", "trade", "back", "accounts"}

// Option is one selectable button on a popup.
type Option struct {
	Name  string         `json:"name"`
	Extra map[string]any `json:"extra,omitempty"`
}

// Request asks for a decision on one popup. Game is a copy taken when the
// request was made; requests end up in the event log and must not pin a
// live context.
type Request struct {
	PopupID   string       `json:"popup_id"`
	PopupText string       `json:"popup_text"`
	Options   []Option     `json:"options"`
	Game      *GameSummary `json:"game,omitempty"`
}

// GameSummary is the part of the game state the policy is shown.
type GameSummary struct {
	Players []PlayerSummary `json:"players"`
	Turn    int             `json:"turn"`
}

// PlayerSummary is one player line of a GameSummary.
type PlayerSummary struct {
	Name     string `json:"name"`
	Money    int    `json:"money"`
	Position int    `json:"position"`
}

// OptionNames returns the option names in order.
func (r Request) OptionNames() []string {
	names := make([]string, len(r.Options))
	for i, o := range r.Options {
		names[i] = o.Name
	}
	return names
}

// find returns the option whose name matches choice ignoring case and
// surrounding space.
func (r Request) find(choice string) (string, bool) {
	want := strings.ToLower(strings.TrimSpace(choice))
	if want == "" {
		return "", false
	}
	for _, o := range r.Options {
		if strings.ToLower(strings.TrimSpace(o.Name)) == want {
			return o.Name, true
		}
	}
	return "", false
}

// Result is the outcome of a decision. Choice is either an option name from
// the request or ChoiceNone.
type Result struct {
	PopupID    string  `json:"popup_id"`
	Choice     string  `json:"decision"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// Error wraps a backend failure. It never escapes Decide, which falls back
// instead, but is logged and counted.
type Error struct {
	PopupID string
	Stage   string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("decision %s: %s: %v", e.PopupID, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
