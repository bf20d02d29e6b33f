package decision

import (
	"fmt"

	"github.com/dyluth/boardlink/pkg/events"
)

// Event data keys shared by decision requested and decision made events.
const (
	KeyPopupID    = "popup_id"
	KeyPopupText  = "popup_text"
	KeyOptions    = "options"
	KeyRequest    = "request"
	KeyDecision   = "decision"
	KeyReason     = "reason"
	KeyConfidence = "confidence"
)

// RequestEventData builds the payload of a decision requested event. The
// full Request rides along under KeyRequest so in-process subscribers keep
// the game context.
func RequestEventData(req Request) map[string]any {
	return map[string]any{
		KeyPopupID:   req.PopupID,
		KeyPopupText: req.PopupText,
		KeyOptions:   req.OptionNames(),
		KeyRequest:   req,
	}
}

// RequestFromEvent recovers a Request from a decision requested event.
func RequestFromEvent(evt events.Event) (Request, error) {
	if evt.Type != events.TypeDecisionRequested {
		return Request{}, fmt.Errorf("unexpected event type %q", evt.Type)
	}
	if req, ok := evt.Data[KeyRequest].(Request); ok {
		return req, nil
	}

	id, _ := evt.Data[KeyPopupID].(string)
	if id == "" {
		return Request{}, fmt.Errorf("decision request has no popup id")
	}
	text, _ := evt.Data[KeyPopupText].(string)
	req := Request{PopupID: id, PopupText: text}
	for _, name := range stringList(evt.Data[KeyOptions]) {
		req.Options = append(req.Options, Option{Name: name})
	}
	return req, nil
}

// ResultEventData builds the payload of a decision made event.
func ResultEventData(req Request, res Result) map[string]any {
	return map[string]any{
		KeyPopupID:    req.PopupID,
		KeyPopupText:  req.PopupText,
		KeyOptions:    req.OptionNames(),
		KeyDecision:   res.Choice,
		KeyReason:     res.Reason,
		KeyConfidence: res.Confidence,
	}
}

// ResultFromEvent recovers a Result from a decision made event.
func ResultFromEvent(evt events.Event) (Result, error) {
	if evt.Type != events.TypeDecisionMade {
		return Result{}, fmt.Errorf("unexpected event type %q", evt.Type)
	}
	id, _ := evt.Data[KeyPopupID].(string)
	if id == "" {
		return Result{}, fmt.Errorf("decision result has no popup id")
	}
	choice, _ := evt.Data[KeyDecision].(string)
	reason, _ := evt.Data[KeyReason].(string)
	confidence, _ := evt.Data[KeyConfidence].(float64)
	return Result{PopupID: id, Choice: choice, Reason: reason, Confidence: confidence}, nil
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
