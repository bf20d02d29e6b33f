package gamectx

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/boardlink/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
	err   error
}

func (m *memStore) SaveSnapshot(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data = append([]byte(nil), data...)
	m.saves++
	return nil
}

func (m *memStore) LoadSnapshot(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, errors.New("no snapshot")
	}
	return m.data, nil
}

func (m *memStore) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

type memHistory struct {
	mu   sync.Mutex
	evts []events.Event
}

func (h *memHistory) Append(ctx context.Context, evt events.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evts = append(h.evts, evt)
	return nil
}

func playerAdded(id int, name string, money int) events.Event {
	return events.New(events.TypePlayerAdded, map[string]any{
		"id": id, "name": name, "money": money, "position": 0,
	}, "test")
}

func TestAggregator_ApplyPlayerChanges(t *testing.T) {
	agg := NewAggregator(events.NewBus(), &memStore{})

	require.NoError(t, agg.Apply(playerAdded(1, "Alice", 1500)))
	require.NoError(t, agg.Apply(playerAdded(2, "Bob", 1500)))
	require.NoError(t, agg.Apply(events.New(events.TypePlayerMoneyChanged, map[string]any{"id": 1, "old": 1500, "new": 1400}, "test")))
	require.NoError(t, agg.Apply(events.New(events.TypePlayerGotoChanged, map[string]any{"id": 1, "old": 0, "new": 12}, "test")))
	require.NoError(t, agg.Apply(events.New(events.TypePlayerNameChanged, map[string]any{"id": 2, "old": "Bob", "new": "Robert"}, "test")))
	require.NoError(t, agg.Apply(events.New(events.TypePlayerDiceChanged, map[string]any{"id": 2, "new": []int{2, 2}}, "test")))

	c := agg.Current()
	assert.Equal(t, uint64(6), c.Version)
	assert.Equal(t, 1400, c.Players[1].Money)
	assert.Equal(t, 12, c.Players[1].Position)
	assert.Equal(t, "Robert", c.Players[2].Name)
	assert.Equal(t, []int{2, 2}, c.Players[2].Dice)
	assert.Equal(t, []string{"Alice", "Robert"}, c.PlayerNames())

	require.NoError(t, agg.Apply(events.New(events.TypePlayerRemoved, map[string]any{"id": 1}, "test")))
	assert.NotContains(t, agg.Current().Players, 1)
}

func TestAggregator_ApplyGlobalChanges(t *testing.T) {
	agg := NewAggregator(events.NewBus(), nil)

	require.NoError(t, agg.Apply(events.New(events.TypeTurnChanged, map[string]any{"old": 0, "new": 3}, "test")))
	require.NoError(t, agg.Apply(events.New(events.TypeMessageAdded, map[string]any{"id": 2, "text": "Roll again"}, "test")))
	require.NoError(t, agg.Apply(events.New(events.TypeMessageAdded, map[string]any{"id": 1, "text": "Buy?"}, "test")))
	require.NoError(t, agg.Apply(events.New(events.TypeSpaceChanged, map[string]any{"index": 39, "name": "Boardwalk", "owner": 1, "houses": 2}, "test")))
	require.NoError(t, agg.Apply(events.New(events.TypeSpaceChanged, map[string]any{"index": 0, "name": "Go"}, "test")))
	require.NoError(t, agg.Apply(events.New(events.TypeMessageRemoved, map[string]any{"id": 2}, "test")))

	c := agg.Current()
	assert.Equal(t, 3, c.CurrentTurn)
	assert.Equal(t, []Message{{ID: 1, Text: "Buy?"}}, c.Messages)
	require.Len(t, c.Board, 2)
	assert.Equal(t, 0, c.Board[0].Index)
	assert.Equal(t, []Space{{Index: 39, Name: "Boardwalk", Owner: 1, Houses: 2}}, c.OwnedProperties())
}

func TestAggregator_VersionStrictlyIncreases(t *testing.T) {
	agg := NewAggregator(events.NewBus(), nil)

	last := agg.Current().Version
	for i := 0; i < 20; i++ {
		require.NoError(t, agg.Apply(events.New(events.TypeDecisionMade, map[string]any{"seq": i}, "test")))
		v := agg.Current().Version
		assert.Greater(t, v, last)
		last = v
	}
}

func TestAggregator_IgnoresGenericMirror(t *testing.T) {
	agg := NewAggregator(events.NewBus(), nil)

	evt := playerAdded(1, "Alice", 1500)
	require.NoError(t, agg.Apply(evt))
	require.NoError(t, agg.Apply(evt.Generic()))

	assert.Equal(t, uint64(1), agg.Current().Version)
	assert.Len(t, agg.Current().Events, 1)
}

func TestAggregator_HistoryBounded(t *testing.T) {
	hist := &memHistory{}
	agg := NewAggregator(events.NewBus(), nil, WithHistoryLimit(5), WithHistoryStore(hist))

	for i := 0; i < 12; i++ {
		require.NoError(t, agg.Apply(events.New(events.TypeTurnChanged, map[string]any{"new": i}, "test")))
	}

	c := agg.Current()
	require.Len(t, c.Events, 5)
	assert.Equal(t, 7, c.Events[0].Data["new"])
	assert.Equal(t, 11, c.Events[4].Data["new"])

	recent := agg.History(2)
	require.Len(t, recent, 2)
	assert.Equal(t, 10, recent[0].Data["new"])
	assert.Len(t, agg.History(0), 5)

	assert.Len(t, hist.evts, 12)
}

func TestAggregator_PersistedSnapshotMatchesMemory(t *testing.T) {
	store := &memStore{}
	agg := NewAggregator(events.NewBus(), store)

	require.NoError(t, agg.Apply(playerAdded(1, "Alice", 1500)))
	require.NoError(t, agg.Apply(events.New(events.TypeTurnChanged, map[string]any{"new": 2}, "test")))
	require.NoError(t, agg.Apply(events.New(events.TypeSpaceChanged, map[string]any{"index": 1, "name": "Mediterranean", "owner": 1}, "test")))
	agg.SetStatus(StatusRunning, "game initialized")
	agg.Close()

	assert.Equal(t, 4, store.saves)

	expected, err := Marshal(agg.Current())
	require.NoError(t, err)
	assert.JSONEq(t, string(expected), string(store.data))

	restored, err := Unmarshal(store.data)
	require.NoError(t, err)
	assert.Equal(t, agg.Current().Players, restored.Players)
	assert.Equal(t, agg.Current().Board, restored.Board)
	assert.Equal(t, agg.Current().Version, restored.Version)
	assert.Equal(t, StatusRunning, restored.Status)
	assert.Equal(t, 2, restored.CurrentTurn)
	require.Len(t, restored.Events, 3)
	assert.Equal(t, agg.Current().Events[0].ID, restored.Events[0].ID)
}

func TestSnapshot_Shape(t *testing.T) {
	c := Empty()
	c.Players[1] = Player{ID: 1, Name: "Alice", Money: 1500}
	c.CurrentTurn = 4

	data, err := Marshal(c)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "global")
	assert.Contains(t, raw, "events")
	assert.Contains(t, raw, "players")
	assert.Contains(t, raw, "board")

	var global map[string]any
	require.NoError(t, json.Unmarshal(raw["global"], &global))
	assert.Equal(t, "stopped", global["status"])
	assert.Equal(t, float64(4), global["current_turn"])
	assert.Equal(t, float64(1), global["player_count"])
	assert.Equal(t, []any{"Alice"}, global["player_names"])
	assert.Equal(t, []any{}, global["properties"])
	assert.True(t, strings.Contains(string(raw["players"]), `"1"`))
}

func TestAggregator_PersistenceFailureDoesNotStopAggregation(t *testing.T) {
	store := &memStore{}
	agg := NewAggregator(events.NewBus(), store)

	store.setErr(errors.New("disk full"))
	err := agg.Apply(playerAdded(1, "Alice", 1500))
	require.Error(t, err)

	var pe *PersistenceError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, "snapshot", pe.Op)
	assert.Equal(t, uint64(1), agg.PersistFailures())
	assert.Error(t, agg.LastPersistError())
	assert.Equal(t, "Alice", agg.Current().Players[1].Name)

	store.setErr(nil)
	require.NoError(t, agg.Apply(playerAdded(2, "Bob", 1500)))
	assert.NoError(t, agg.LastPersistError())
	assert.Len(t, agg.Current().Players, 2)
}

// blockingStore holds every save until release is closed and records the
// saved statuses in write order.
type blockingStore struct {
	release  chan struct{}
	entered  chan struct{}
	mu       sync.Mutex
	statuses []Status
}

func (b *blockingStore) SaveSnapshot(ctx context.Context, data []byte) error {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	c, err := Unmarshal(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = append(b.statuses, c.Status)
	return nil
}

func (b *blockingStore) LoadSnapshot(ctx context.Context) ([]byte, error) {
	return nil, errors.New("no snapshot")
}

func TestAggregator_SlowStoreDoesNotBlockStatus(t *testing.T) {
	store := &blockingStore{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	agg := NewAggregator(events.NewBus(), store)

	applied := make(chan error, 1)
	go func() { applied <- agg.Apply(playerAdded(1, "Alice", 1500)) }()

	select {
	case <-store.entered:
	case <-time.After(time.Second):
		t.Fatal("snapshot write never started")
	}

	statusSet := make(chan struct{})
	go func() {
		agg.SetStatus(StatusRunning, "game initialized")
		agg.Reset()
		close(statusSet)
	}()
	select {
	case <-statusSet:
	case <-time.After(time.Second):
		t.Fatal("SetStatus waited for a snapshot write")
	}
	assert.Equal(t, StatusStopped, agg.Current().Status)

	select {
	case <-applied:
		t.Fatal("Apply returned before its write completed")
	default:
	}

	close(store.release)
	require.NoError(t, <-applied)
	agg.Close()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, []Status{StatusStopped, StatusRunning}, store.statuses)
}

func TestAggregator_ResetAndRestore(t *testing.T) {
	store := &memStore{}
	agg := NewAggregator(events.NewBus(), store)

	require.NoError(t, agg.Apply(playerAdded(1, "Alice", 1500)))
	agg.Reset()
	assert.Empty(t, agg.Current().Players)
	assert.Equal(t, uint64(0), agg.Current().Version)
	assert.Equal(t, StatusStopped, agg.Current().Status)

	require.NoError(t, agg.Restore(context.Background()))
	assert.Equal(t, "Alice", agg.Current().Players[1].Name)
	assert.Equal(t, uint64(1), agg.Current().Version)
}

func TestAggregator_DropsChangesFromBeforeReset(t *testing.T) {
	agg := NewAggregator(events.NewBus(), &memStore{})

	stale := playerAdded(1, "Alice", 1500)
	stale.Timestamp = time.Now().Add(-time.Second).UTC()
	agg.Reset()

	require.NoError(t, agg.Apply(stale))
	assert.Empty(t, agg.Current().Players)
	assert.Equal(t, uint64(0), agg.Current().Version)

	require.NoError(t, agg.Apply(playerAdded(2, "Bob", 1500)))
	assert.Equal(t, "Bob", agg.Current().Players[2].Name)

	// Lifecycle events are kept whatever their stamp.
	svc := events.New(events.TypeServiceStarted, map[string]any{"service": "listener"}, "test")
	svc.Timestamp = stale.Timestamp
	require.NoError(t, agg.Apply(svc))
	assert.Equal(t, uint64(2), agg.Current().Version)
}

func TestAggregator_SubscribesThroughBus(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	agg := NewAggregator(bus, nil)
	require.NoError(t, agg.Start())
	require.NoError(t, agg.Start())
	assert.Equal(t, 1, bus.SubscriberCount())

	evt := playerAdded(7, "Carol", 1500)
	require.NoError(t, bus.PublishEvent(evt))
	require.NoError(t, bus.PublishEvent(evt.Generic()))

	require.Eventually(t, func() bool {
		return agg.Current().Version == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Carol", agg.Current().Players[7].Name)

	agg.Stop()
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestAggregator_ConcurrentReaders(t *testing.T) {
	agg := NewAggregator(events.NewBus(), nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					c := agg.Current()
					assert.Equal(t, int(c.Version), len(c.Players))
				}
			}
		}()
	}

	for i := 1; i <= 100; i++ {
		require.NoError(t, agg.Apply(playerAdded(i, "p", 1500)))
	}
	close(stop)
	wg.Wait()
}

func TestIntValue(t *testing.T) {
	assert.Equal(t, 3, intValue(3))
	assert.Equal(t, 3, intValue(int64(3)))
	assert.Equal(t, 3, intValue(float64(3)))
	assert.Equal(t, 3, intValue(json.Number("3")))
	assert.Equal(t, 0, intValue("3"))
	assert.Equal(t, []int{1, 2}, intSlice([]any{float64(1), float64(2)}))
}
