package gamectx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/boardlink/pkg/events"
)

// DefaultHistoryLimit bounds the event log kept inside the context.
const DefaultHistoryLimit = 200

// SnapshotStore persists encoded context snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, data []byte) error
	LoadSnapshot(ctx context.Context) ([]byte, error)
}

// HistoryStore archives applied events beyond the in-memory window.
type HistoryStore interface {
	Append(ctx context.Context, evt events.Event) error
}

// PersistenceError wraps a failed snapshot or history write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Aggregator folds events into a Context and writes it through to storage
// after every applied event.
//
// Readers call Current and get an immutable snapshot; writers build a new
// Context and swap it in atomically, so readers never see a half-applied
// event. Applies are serialized. Storage writes run on a single writer
// goroutine in swap order, outside the apply lock.
type Aggregator struct {
	bus          *events.Bus
	store        SnapshotStore
	history      HistoryStore
	historyLimit int
	timeout      time.Duration

	cur     atomic.Pointer[Context]
	applyMu sync.Mutex

	// writes is guarded by applyMu for sends and close.
	writes      chan write
	writesDone  chan struct{}
	writeClosed bool

	subMu sync.Mutex
	sub   events.SubscriptionID
	subOK bool

	persistFailures atomic.Uint64
	lastPersistErr  atomic.Pointer[PersistenceError]

	// resetAt is the wall time of the last Reset in unix nanoseconds. State
	// changes stamped earlier belong to a discarded game.
	resetAt atomic.Int64
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithHistoryLimit caps the in-memory event log.
func WithHistoryLimit(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.historyLimit = n
		}
	}
}

// WithHistoryStore archives every applied event.
func WithHistoryStore(h HistoryStore) Option {
	return func(a *Aggregator) { a.history = h }
}

// NewAggregator creates an aggregator. store may be nil to disable persistence.
func NewAggregator(bus *events.Bus, store SnapshotStore, opts ...Option) *Aggregator {
	a := &Aggregator{
		bus:          bus,
		store:        store,
		historyLimit: DefaultHistoryLimit,
		timeout:      5 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.cur.Store(Empty())
	a.writes = make(chan write, 64)
	a.writesDone = make(chan struct{})
	go a.writer()
	return a
}

// Start subscribes to the wildcard channel.
func (a *Aggregator) Start() error {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	if a.subOK {
		return nil
	}
	id, err := a.bus.SubscribeAll("context-aggregator", a.Apply)
	if err != nil {
		return fmt.Errorf("failed to subscribe aggregator: %w", err)
	}
	a.sub = id
	a.subOK = true
	return nil
}

// Stop unsubscribes from the bus.
func (a *Aggregator) Stop() {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	if a.subOK {
		a.bus.Unsubscribe(a.sub)
		a.subOK = false
	}
}

// Current returns the latest context. Never nil.
func (a *Aggregator) Current() *Context {
	return a.cur.Load()
}

// Apply folds one event into the context and persists the result.
//
// TypeAny mirrors are ignored because the wildcard subscription already
// receives the specific event they duplicate, and so are state changes
// stamped before the last Reset. Every other event bumps the version and
// enters the bounded event log.
func (a *Aggregator) Apply(evt events.Event) error {
	if evt.Type == events.TypeAny {
		return nil
	}
	if evt.Type.IsStateChange() && evt.Timestamp.UnixNano() < a.resetAt.Load() {
		return nil
	}

	a.applyMu.Lock()
	next := a.cur.Load().clone()
	next.Version++
	applyChange(next, evt)
	next.Events = append(next.Events, evt)
	if over := len(next.Events) - a.historyLimit; over > 0 {
		next.Events = append([]events.Event(nil), next.Events[over:]...)
	}
	a.cur.Store(next)
	w := write{ctx: next, evt: &evt, done: make(chan error, 1)}
	queued := a.enqueue(w)
	a.applyMu.Unlock()

	if !queued {
		return a.persist(w.ctx, w.evt)
	}
	return <-w.done
}

// SetStatus replaces the lifecycle status and message. The snapshot write
// happens in the background.
func (a *Aggregator) SetStatus(status Status, message string) {
	a.applyMu.Lock()
	next := a.cur.Load().clone()
	next.Status = status
	next.Message = message
	a.cur.Store(next)
	w := write{ctx: next}
	queued := a.enqueue(w)
	a.applyMu.Unlock()

	if !queued {
		_ = a.persist(w.ctx, nil)
	}
}

// Close stops the writer after draining queued writes. Later writes run on
// the caller's goroutine.
func (a *Aggregator) Close() {
	a.applyMu.Lock()
	if a.writeClosed {
		a.applyMu.Unlock()
		return
	}
	a.writeClosed = true
	close(a.writes)
	a.applyMu.Unlock()

	<-a.writesDone
}

type write struct {
	ctx  *Context
	evt  *events.Event
	done chan error
}

// enqueue hands w to the writer. Callers hold applyMu so writes keep swap
// order. It reports false once the writer is closed.
func (a *Aggregator) enqueue(w write) bool {
	if a.writeClosed {
		return false
	}
	a.writes <- w
	return true
}

func (a *Aggregator) writer() {
	defer close(a.writesDone)
	for w := range a.writes {
		err := a.persist(w.ctx, w.evt)
		if w.done != nil {
			w.done <- err
		}
	}
}

// Reset discards the current context and starts from an empty one.
func (a *Aggregator) Reset() {
	a.applyMu.Lock()
	defer a.applyMu.Unlock()

	a.cur.Store(Empty())
	a.lastPersistErr.Store(nil)
	a.resetAt.Store(time.Now().UnixNano())
}

// History returns up to n most recent events, oldest first. n <= 0 returns all.
func (a *Aggregator) History(n int) []events.Event {
	evts := a.Current().Events
	if n > 0 && len(evts) > n {
		evts = evts[len(evts)-n:]
	}
	out := make([]events.Event, len(evts))
	copy(out, evts)
	return out
}

// PersistFailures returns how many writes have failed since start.
func (a *Aggregator) PersistFailures() uint64 {
	return a.persistFailures.Load()
}

// LastPersistError returns the most recent write failure, cleared on success.
func (a *Aggregator) LastPersistError() error {
	if e := a.lastPersistErr.Load(); e != nil {
		return e
	}
	return nil
}

// Restore loads the persisted snapshot into memory.
func (a *Aggregator) Restore(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	data, err := a.store.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	restored, err := Unmarshal(data)
	if err != nil {
		return err
	}

	a.applyMu.Lock()
	a.cur.Store(restored)
	a.applyMu.Unlock()
	return nil
}

// persist writes the snapshot and, when evt is set, archives it.
func (a *Aggregator) persist(c *Context, evt *events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	var errs []error
	if a.store != nil {
		data, err := Marshal(c)
		if err == nil {
			err = a.store.SaveSnapshot(ctx, data)
		}
		if err != nil {
			errs = append(errs, &PersistenceError{Op: "snapshot", Err: err})
		}
	}
	if a.history != nil && evt != nil {
		if err := a.history.Append(ctx, *evt); err != nil {
			errs = append(errs, &PersistenceError{Op: "history", Err: err})
		}
	}

	if len(errs) == 0 {
		a.lastPersistErr.Store(nil)
		return nil
	}

	a.persistFailures.Add(1)
	var pe *PersistenceError
	errors.As(errs[0], &pe)
	a.lastPersistErr.Store(pe)
	log.Printf("[ERROR] [Context] Failed to persist version %d: %v", c.Version, errors.Join(errs...))
	return errors.Join(errs...)
}

// applyChange mutates c according to a specific change event.
func applyChange(c *Context, evt events.Event) {
	d := evt.Data
	switch evt.Type {
	case events.TypePlayerAdded:
		id := intValue(d["id"])
		c.Players[id] = Player{
			ID:       id,
			Name:     stringValue(d["name"]),
			Money:    intValue(d["money"]),
			Position: intValue(d["position"]),
			Dice:     intSlice(d["dice"]),
		}
	case events.TypePlayerRemoved:
		delete(c.Players, intValue(d["id"]))
	case events.TypePlayerMoneyChanged:
		updatePlayer(c, d, func(p *Player) { p.Money = intValue(d["new"]) })
	case events.TypePlayerNameChanged:
		updatePlayer(c, d, func(p *Player) { p.Name = stringValue(d["new"]) })
	case events.TypePlayerDiceChanged:
		updatePlayer(c, d, func(p *Player) { p.Dice = intSlice(d["new"]) })
	case events.TypePlayerGotoChanged:
		updatePlayer(c, d, func(p *Player) { p.Position = intValue(d["new"]) })
	case events.TypeMessageAdded:
		id := intValue(d["id"])
		c.Messages = removeMessage(c.Messages, id)
		c.Messages = append(c.Messages, Message{ID: id, Text: stringValue(d["text"])})
		sort.Slice(c.Messages, func(i, j int) bool { return c.Messages[i].ID < c.Messages[j].ID })
	case events.TypeMessageRemoved:
		c.Messages = removeMessage(c.Messages, intValue(d["id"]))
	case events.TypeTurnChanged:
		c.CurrentTurn = intValue(d["new"])
	case events.TypeSpaceChanged:
		s := Space{
			Index:  intValue(d["index"]),
			Name:   stringValue(d["name"]),
			Owner:  intValue(d["owner"]),
			Houses: intValue(d["houses"]),
		}
		c.Board = upsertSpace(c.Board, s)
	}
}

func updatePlayer(c *Context, d map[string]any, fn func(*Player)) {
	id := intValue(d["id"])
	p, ok := c.Players[id]
	if !ok {
		p = Player{ID: id, Name: stringValue(d["name"])}
	}
	fn(&p)
	c.Players[id] = p
}

func removeMessage(msgs []Message, id int) []Message {
	out := msgs[:0:0]
	for _, m := range msgs {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

func upsertSpace(board []Space, s Space) []Space {
	for i := range board {
		if board[i].Index == s.Index {
			board[i] = s
			return board
		}
	}
	board = append(board, s)
	sort.Slice(board, func(i, j int) bool { return board[i].Index < board[j].Index })
	return board
}

// intValue accepts the numeric shapes event data takes in-process and after
// a JSON round trip.
func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case int32:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func intSlice(v any) []int {
	switch s := v.(type) {
	case []int:
		return append([]int(nil), s...)
	case []any:
		out := make([]int, 0, len(s))
		for _, x := range s {
			out = append(out, intValue(x))
		}
		return out
	}
	return nil
}
