package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/dyluth/boardlink/internal/filter"
	"github.com/dyluth/boardlink/pkg/events"
)

// streamBuffer is how many events a slow websocket client may fall behind
// before events are dropped for it.
const streamBuffer = 256

type wsWriter interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
}

var streamSeq atomic.Uint64

// handleEventStream upgrades to a websocket and forwards every bus event
// matching the optional type glob and source:
//
//	GET /api/events/ws?type=player_*&source=listener
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	criteria := filter.Criteria{
		TypeGlob: r.URL.Query().Get("type"),
		Source:   r.URL.Query().Get("source"),
	}

	ch := make(chan events.Event, streamBuffer)
	name := fmt.Sprintf("ws-stream-%d", streamSeq.Add(1))
	id, err := s.sess.Bus().SubscribeAll(name, func(evt events.Event) error {
		select {
		case ch <- evt:
		default:
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	defer s.sess.Bus().Unsubscribe(id)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	// Reads are only needed to notice the client going away.
	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, ch, criteria, conn); err != nil {
		if ctx.Err() == nil {
			log.Printf("[WARN] [API] Event stream %s ended: %v", name, err)
		}
		_ = conn.Close(websocket.StatusInternalError, "stream error")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

// streamEvents writes matching events as JSON text frames until ctx ends
// or ch is closed. Wildcard mirrors are skipped; the specific event they
// duplicate is always delivered too.
func streamEvents(ctx context.Context, ch <-chan events.Event, criteria filter.Criteria, writer wsWriter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if evt.Type == events.TypeAny || !criteria.Matches(&evt) {
				continue
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				return err
			}
			if err := writer.Write(ctx, websocket.MessageText, payload); err != nil {
				return err
			}
		}
	}
}
