package watch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/boardlink/internal/filter"
	"github.com/dyluth/boardlink/pkg/blackboard"
	"github.com/dyluth/boardlink/pkg/events"
)

func newClient(t *testing.T) *blackboard.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test-session")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPollForDecision(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)

	record := func(id string) *blackboard.DecisionRecord {
		return &blackboard.DecisionRecord{
			PopupID:     id,
			PopupText:   "Buy Mayfair?",
			Options:     []string{"buy", "auction"},
			Choice:      "buy",
			Reason:      "default priority",
			Confidence:  0.5,
			DecidedAtMs: time.Now().UnixMilli(),
		}
	}

	t.Run("returns decision when found immediately", func(t *testing.T) {
		id := uuid.New().String()
		require.NoError(t, client.SaveDecision(ctx, record(id)))

		rec, err := PollForDecision(ctx, client, id, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "buy", rec.Choice)
		assert.Equal(t, []string{"buy", "auction"}, rec.Options)
	})

	t.Run("returns decision when found after delay", func(t *testing.T) {
		id := uuid.New().String()
		go func() {
			time.Sleep(500 * time.Millisecond)
			_ = client.SaveDecision(context.Background(), record(id))
		}()

		start := time.Now()
		rec, err := PollForDecision(ctx, client, id, 2*time.Second)
		elapsed := time.Since(start)

		require.NoError(t, err)
		assert.Equal(t, id, rec.PopupID)
		assert.GreaterOrEqual(t, elapsed, 500*time.Millisecond)
		assert.Less(t, elapsed, 2*time.Second)
	})

	t.Run("returns error on timeout", func(t *testing.T) {
		_, err := PollForDecision(ctx, client, uuid.New().String(), 300*time.Millisecond)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout waiting for decision")
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(100 * time.Millisecond)
			cancel()
		}()
		_, err := PollForDecision(cctx, client, uuid.New().String(), 5*time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

type chanSource struct {
	events chan *events.Event
	errors chan error
}

func newChanSource() *chanSource {
	return &chanSource{events: make(chan *events.Event, 10), errors: make(chan error, 10)}
}

func (s *chanSource) Events() <-chan *events.Event { return s.events }
func (s *chanSource) Errors() <-chan error         { return s.errors }

func TestStreamEvents(t *testing.T) {
	src := newChanSource()
	money := events.New(events.TypePlayerMoneyChanged, map[string]any{"id": 1, "name": "Alice", "old": 1500, "new": 1400}, "listener.players")
	generic := money.Generic()
	turn := events.New(events.TypeTurnChanged, map[string]any{"old": 1, "new": 2}, "listener.global")

	src.events <- &money
	src.events <- &generic
	src.errors <- errors.New("failed to unmarshal event: bad json")
	src.events <- &turn
	close(src.events)

	var buf bytes.Buffer
	err := StreamEvents(context.Background(), src, filter.Criteria{TypeGlob: "player_*"}, OutputFormatDefault, &buf)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "💰 Money changed: Alice 1500 → 1400")
}

func TestStreamEvents_UnknownFormat(t *testing.T) {
	err := StreamEvents(context.Background(), newChanSource(), filter.Criteria{}, "yaml", &bytes.Buffer{})
	assert.ErrorContains(t, err, "unknown output format")
}

// syncBuffer guards a bytes.Buffer shared with the streaming goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStreamActivity(t *testing.T) {
	client := newClient(t)
	bus := events.NewBus()
	defer bus.Close()

	detach, err := client.Mirror(bus)
	require.NoError(t, err)
	defer detach()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- StreamActivity(ctx, client, filter.Criteria{}, OutputFormatJSON, out)
	}()

	// Keep publishing until the subscriber is attached and sees one.
	require.Eventually(t, func() bool {
		_, _ = bus.Publish(events.TypeServiceStarted, map[string]any{"service": "listener"}, "session")
		return strings.Contains(out.String(), `"event":"service_started"`)
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
}
