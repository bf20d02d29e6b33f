package watch

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/dyluth/boardlink/pkg/events"
)

// OutputFormat selects how events are written.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	OutputFormatJSON    OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatDefault, OutputFormatJSON:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("unknown output format: %s", s)
}

// Formatter writes one event.
type Formatter interface {
	FormatEvent(evt *events.Event) error
}

// NewFormatter returns the formatter for format writing to w.
func NewFormatter(format OutputFormat, w io.Writer) (Formatter, error) {
	switch format {
	case OutputFormatDefault, "":
		return &defaultFormatter{writer: w}, nil
	case OutputFormatJSON:
		return &jsonFormatter{writer: w}, nil
	}
	return nil, fmt.Errorf("unknown output format: %s", format)
}

// defaultFormatter writes human-readable lines prefixed with the local time.
type defaultFormatter struct {
	writer io.Writer
}

func (f *defaultFormatter) FormatEvent(evt *events.Event) error {
	// Wildcard mirrors repeat the specific event.
	if evt.Type == events.TypeAny {
		return nil
	}
	line := describe(evt)
	ts := evt.Timestamp.Local().Format(time.TimeOnly)
	_, err := fmt.Fprintf(f.writer, "[%s] %s\n", ts, line)
	return err
}

func describe(evt *events.Event) string {
	d := evt.Data
	switch evt.Type {
	case events.TypePlayerAdded:
		return fmt.Sprintf("👤 Player joined: id=%v, name=%v, money=%v", num(d["id"]), d["name"], num(d["money"]))
	case events.TypePlayerRemoved:
		return fmt.Sprintf("👋 Player left: id=%v, name=%v", num(d["id"]), d["name"])
	case events.TypePlayerNameChanged:
		return fmt.Sprintf("✏️  Name changed: id=%v, %v → %v", num(d["id"]), d["old"], d["new"])
	case events.TypePlayerMoneyChanged:
		return fmt.Sprintf("💰 Money changed: %v %v → %v", d["name"], num(d["old"]), num(d["new"]))
	case events.TypePlayerDiceChanged:
		return fmt.Sprintf("🎲 Dice: %v rolled %v", d["name"], dice(d["new"]))
	case events.TypePlayerGotoChanged:
		return fmt.Sprintf("🚶 Moved: %v square %v → %v", d["name"], num(d["old"]), num(d["new"]))
	case events.TypeMessageAdded:
		return fmt.Sprintf("💬 Message: %v", d["text"])
	case events.TypeMessageRemoved:
		return fmt.Sprintf("🧹 Message cleared: id=%v", num(d["id"]))
	case events.TypeTurnChanged:
		return fmt.Sprintf("🔁 Turn %v", num(d["new"]))
	case events.TypeSpaceChanged:
		return fmt.Sprintf("🏠 Space %v (%v): owner=%v, houses=%v", num(d["index"]), d["name"], num(d["owner"]), num(d["houses"]))
	case events.TypeDecisionRequested:
		return fmt.Sprintf("❓ Decision requested: popup=%v, options=[%s]", d["popup_id"], strings.Join(stringList(d["options"]), ", "))
	case events.TypeDecisionMade:
		conf, _ := d["confidence"].(float64)
		return fmt.Sprintf("🤖 Decision made: popup=%v, choice=%v (confidence %.1f): %v", d["popup_id"], d["decision"], conf, d["reason"])
	case events.TypeServiceStarted:
		return fmt.Sprintf("▶️  Service started: %v", d["service"])
	case events.TypeServiceStopped:
		return fmt.Sprintf("⏹️  Service stopped: %v (%v)", d["service"], d["reason"])
	case events.TypeProcessExited:
		return fmt.Sprintf("💀 Process exited: %v (pid %v)", d["process"], num(d["pid"]))
	}
	return fmt.Sprintf("• %s from %s", evt.Type, evt.Source)
}

// num prints JSON numbers, which decode as float64, without a fraction.
func num(v any) any {
	if f, ok := v.(float64); ok && f == math.Trunc(f) {
		return int64(f)
	}
	return v
}

func dice(v any) string {
	switch d := v.(type) {
	case []int:
		parts := make([]string, len(d))
		for i, n := range d {
			parts[i] = fmt.Sprint(n)
		}
		return strings.Join(parts, "+")
	case []any:
		parts := make([]string, len(d))
		for i, n := range d {
			parts[i] = fmt.Sprint(num(n))
		}
		return strings.Join(parts, "+")
	}
	return fmt.Sprint(v)
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, s := range l {
			out = append(out, fmt.Sprint(s))
		}
		return out
	}
	return nil
}

// jsonFormatter writes line-delimited JSON.
type jsonFormatter struct {
	writer io.Writer
}

func (f *jsonFormatter) FormatEvent(evt *events.Event) error {
	if evt.Type == events.TypeAny {
		return nil
	}
	line, err := json.Marshal(map[string]any{
		"event":     evt.Type,
		"id":        evt.ID,
		"source":    evt.Source,
		"timestamp": evt.Timestamp.UTC().Format(time.RFC3339Nano),
		"data":      evt.Data,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(f.writer, "%s\n", line)
	return err
}
