package listener

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/boardlink/pkg/events"
)

// ErrAlreadyRunning is returned by Start when the loops are active.
var ErrAlreadyRunning = errors.New("listener already running")

// Listener polls the external game and turns differences between
// consecutive polls into events.
//
// Two loops run concurrently:
//   - Global tick (default 30 per second): turn, messages and board spaces
//   - Player refresh (default every 100ms): the player collection
//
// Detection is edge-triggered. A value that stays the same produces nothing,
// and the first poll after Start or Reset reports every present entity as new.
// Each change is published with its specific type and then as events.TypeAny.
type Listener struct {
	reader         StateReader
	bus            *events.Bus
	clock          Clock
	tickInterval   time.Duration
	playerInterval time.Duration

	globalMu   sync.Mutex
	prevGlobal GlobalState

	playersMu   sync.Mutex
	prevPlayers map[int]PlayerState

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	published atomic.Uint64
	pollErrs  atomic.Uint64
}

// Option configures a Listener.
type Option func(*Listener)

// WithClock replaces the real clock, for tests.
func WithClock(c Clock) Option {
	return func(l *Listener) { l.clock = c }
}

// WithIntervals sets the global tick period and the player refresh period.
func WithIntervals(tick, players time.Duration) Option {
	return func(l *Listener) {
		if tick > 0 {
			l.tickInterval = tick
		}
		if players > 0 {
			l.playerInterval = players
		}
	}
}

// New creates a listener that reads from reader and publishes to bus.
func New(reader StateReader, bus *events.Bus, opts ...Option) *Listener {
	l := &Listener{
		reader:         reader,
		bus:            bus,
		clock:          RealClock{},
		tickInterval:   time.Second / 30,
		playerInterval: 100 * time.Millisecond,
		prevPlayers:    make(map[int]PlayerState),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches both polling loops and returns immediately.
// The loops stop when ctx is cancelled or Stop is called.
func (l *Listener) Start(ctx context.Context) error {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	if l.cancel != nil {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	log.Printf("[INFO] [Listener] Starting: tick=%s players=%s", l.tickInterval, l.playerInterval)

	l.wg.Add(2)
	go l.loop(runCtx, "global", l.tickInterval, l.PollGlobal)
	go l.loop(runCtx, "players", l.playerInterval, l.PollPlayers)

	return nil
}

// Stop cancels both loops and waits for them to exit. Safe to call when
// the listener is not running.
func (l *Listener) Stop() {
	l.runMu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	l.wg.Wait()
	log.Printf("[INFO] [Listener] Stopped after publishing %d changes", l.published.Load())
}

// Running reports whether the loops are active.
func (l *Listener) Running() bool {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	return l.cancel != nil
}

// Reset forgets the previous polls so the next poll reports everything as new.
func (l *Listener) Reset() {
	l.globalMu.Lock()
	l.prevGlobal = GlobalState{}
	l.globalMu.Unlock()

	l.playersMu.Lock()
	l.prevPlayers = make(map[int]PlayerState)
	l.playersMu.Unlock()
}

// Published returns how many specific change events have been published.
func (l *Listener) Published() uint64 {
	return l.published.Load()
}

func (l *Listener) loop(ctx context.Context, name string, interval time.Duration, poll func(context.Context) error) {
	defer l.wg.Done()
	defer log.Printf("[DEBUG] [Listener] %s loop exited", name)

	ticker := l.clock.NewTicker(interval)
	defer ticker.Stop()

	var lastErr string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			err := poll(ctx)
			switch {
			case err == nil:
				if lastErr != "" {
					log.Printf("[INFO] [Listener] %s poll recovered", name)
					lastErr = ""
				}
			case ctx.Err() != nil:
				return
			case err.Error() != lastErr:
				// Log once per distinct failure, not at tick rate.
				l.pollErrs.Add(1)
				log.Printf("[WARN] [Listener] %s poll failed: %v", name, err)
				lastErr = err.Error()
			default:
				l.pollErrs.Add(1)
			}
		}
	}
}

// PollGlobal reads the board-level state once and publishes its changes.
func (l *Listener) PollGlobal(ctx context.Context) error {
	cur, err := l.reader.ReadGlobal(ctx)
	if err != nil {
		return err
	}

	l.globalMu.Lock()
	changes := diffGlobal(l.prevGlobal, cur)
	l.prevGlobal = cur
	l.globalMu.Unlock()

	l.publish(changes)
	return nil
}

// PollPlayers reads the player collection once and publishes its changes.
func (l *Listener) PollPlayers(ctx context.Context) error {
	players, err := l.reader.ReadPlayers(ctx)
	if err != nil {
		return err
	}
	players = sortedPlayers(players)

	l.playersMu.Lock()
	changes := diffPlayers(l.prevPlayers, players)
	next := make(map[int]PlayerState, len(players))
	for _, p := range players {
		next[p.ID] = p
	}
	l.prevPlayers = next
	l.playersMu.Unlock()

	l.publish(changes)
	return nil
}

func (l *Listener) publish(changes []events.Event) {
	for _, evt := range changes {
		if err := l.bus.PublishEvent(evt); err != nil {
			log.Printf("[WARN] [Listener] Failed to publish %s: %v", evt.Type, err)
			return
		}
		if err := l.bus.PublishEvent(evt.Generic()); err != nil {
			log.Printf("[WARN] [Listener] Failed to publish generic %s: %v", evt.Type, err)
			return
		}
		l.published.Add(1)
	}
}
