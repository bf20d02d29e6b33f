package blackboard

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Array fields are
// JSON-encoded into single hash fields.

// DecisionToHash converts a DecisionRecord to a Redis hash format.
func DecisionToHash(d *DecisionRecord) (map[string]interface{}, error) {
	options := d.Options
	if options == nil {
		options = []string{}
	}
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal options: %w", err)
	}

	return map[string]interface{}{
		"popup_id":      d.PopupID,
		"popup_text":    d.PopupText,
		"options":       string(optionsJSON),
		"choice":        d.Choice,
		"reason":        d.Reason,
		"confidence":    strconv.FormatFloat(d.Confidence, 'f', -1, 64),
		"decided_at_ms": d.DecidedAtMs,
	}, nil
}

// HashToDecision converts a Redis hash to a DecisionRecord.
func HashToDecision(hash map[string]string) (*DecisionRecord, error) {
	confidence, err := strconv.ParseFloat(hash["confidence"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid confidence field: %w", err)
	}

	var options []string
	if raw := hash["options"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal options: %w", err)
		}
	}
	if options == nil {
		options = []string{}
	}

	decidedAtMs, _ := strconv.ParseInt(hash["decided_at_ms"], 10, 64)

	return &DecisionRecord{
		PopupID:     hash["popup_id"],
		PopupText:   hash["popup_text"],
		Options:     options,
		Choice:      hash["choice"],
		Reason:      hash["reason"],
		Confidence:  confidence,
		DecidedAtMs: decidedAtMs,
	}, nil
}
