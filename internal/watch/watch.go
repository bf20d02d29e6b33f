package watch

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/dyluth/boardlink/internal/filter"
	"github.com/dyluth/boardlink/pkg/blackboard"
	"github.com/dyluth/boardlink/pkg/events"
)

// PollForDecision polls the mirror for the decision on popupID.
// Returns the record or an error if timeout occurs.
// Polls every 200ms for the specified timeout duration.
func PollForDecision(ctx context.Context, client *blackboard.Client, popupID string, timeout time.Duration) (*blackboard.DecisionRecord, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for decision after %v", timeout)

		case <-ticker.C:
			rec, err := client.GetDecision(ctx, popupID)
			if err != nil {
				if blackboard.IsNotFound(err) {
					continue
				}
				return nil, fmt.Errorf("failed to query for decision: %w", err)
			}
			return rec, nil
		}
	}
}

// EventSource is a stream of events with a side channel of decode errors.
// *blackboard.Subscription satisfies it.
type EventSource interface {
	Events() <-chan *events.Event
	Errors() <-chan error
}

// StreamActivity subscribes to the session's mirrored events and writes
// every matching one to w until ctx is cancelled.
func StreamActivity(ctx context.Context, client *blackboard.Client, criteria filter.Criteria, format OutputFormat, w io.Writer) error {
	sub, err := client.SubscribeEvents(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	return StreamEvents(ctx, sub, criteria, format, w)
}

// StreamEvents formats events from src until ctx ends or src closes.
func StreamEvents(ctx context.Context, src EventSource, criteria filter.Criteria, format OutputFormat, w io.Writer) error {
	f, err := NewFormatter(format, w)
	if err != nil {
		return err
	}

	errs := src.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[WARN] [Watch] %v", err)
		case evt, ok := <-src.Events():
			if !ok {
				return nil
			}
			if !criteria.Matches(evt) {
				continue
			}
			if err := f.FormatEvent(evt); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}
		}
	}
}
