package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/dyluth/boardlink/internal/filter"
	"github.com/dyluth/boardlink/pkg/events"
)

// RemoteStream reads events from a bridge's websocket event stream. It
// satisfies EventSource.
type RemoteStream struct {
	conn   *websocket.Conn
	events chan *events.Event
	errors chan error
	cancel context.CancelFunc
	once   sync.Once
}

// StreamURL builds the websocket URL for a bridge API base URL such as
// "http://localhost:5000". Type and source filters are applied server side.
func StreamURL(base string, criteria filter.Criteria) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid API address %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid API address %q: scheme must be http or https", base)
	}
	u.Path += "/api/events/ws"

	q := url.Values{}
	if criteria.TypeGlob != "" {
		q.Set("type", criteria.TypeGlob)
	}
	if criteria.Source != "" {
		q.Set("source", criteria.Source)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DialStream connects to a websocket event stream. Events are delivered
// until ctx is cancelled, Close is called or the server goes away.
func DialStream(ctx context.Context, wsURL string) (*RemoteStream, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to event stream: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &RemoteStream{
		conn:   conn,
		events: make(chan *events.Event, 10),
		errors: make(chan error, 10),
		cancel: cancel,
	}
	go s.read(streamCtx)
	return s, nil
}

func (s *RemoteStream) read(ctx context.Context) {
	defer close(s.events)
	defer close(s.errors)
	defer s.conn.CloseNow()

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				s.sendErr(ctx, fmt.Errorf("event stream closed: %w", err))
			}
			return
		}

		var evt events.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			s.sendErr(ctx, fmt.Errorf("failed to unmarshal event: %w", err))
			continue
		}

		select {
		case s.events <- &evt:
		case <-ctx.Done():
			return
		}
	}
}

func (s *RemoteStream) sendErr(ctx context.Context, err error) {
	select {
	case s.errors <- err:
	case <-ctx.Done():
	}
}

// Events returns the channel of events. It is closed when the stream ends.
func (s *RemoteStream) Events() <-chan *events.Event {
	return s.events
}

// Errors returns decode and connection errors.
func (s *RemoteStream) Errors() <-chan error {
	return s.errors
}

// Close ends the stream. Safe to call multiple times.
func (s *RemoteStream) Close() error {
	s.once.Do(s.cancel)
	return nil
}
