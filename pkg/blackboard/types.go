package blackboard

import (
	"fmt"
)

// DecisionRecord is a completed popup decision as mirrored to Redis.
type DecisionRecord struct {
	PopupID     string   `json:"popup_id"`
	PopupText   string   `json:"popup_text"`
	Options     []string `json:"options"`
	Choice      string   `json:"choice"`
	Reason      string   `json:"reason"`
	Confidence  float64  `json:"confidence"`
	DecidedAtMs int64    `json:"decided_at_ms"` // Unix timestamp in milliseconds
}

// Validate checks that the record is complete enough to store.
func (d *DecisionRecord) Validate() error {
	if d.PopupID == "" {
		return fmt.Errorf("popup_id is required")
	}
	if d.Choice == "" {
		return fmt.Errorf("choice is required (use \"none\" when nothing was chosen)")
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1, got %v", d.Confidence)
	}
	return nil
}
