// Package supervisor starts the external processes a session depends on in
// dependency order, gates each on its readiness probe, and tears them down in
// reverse order.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dyluth/boardlink/internal/config"
)

// State is the lifecycle state of a managed process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateFailed   State = "failed"
)

// ManagedProcess is the externally visible status of one process.
type ManagedProcess struct {
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	StartOrder int       `json:"start_order"`
	DependsOn  []string  `json:"depends_on,omitempty"`
	State      State     `json:"state"`
	ID         string    `json:"id,omitempty"`
	PID        int       `json:"pid,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	Message    string    `json:"message,omitempty"`
}

type entry struct {
	name      string
	spec      config.Process
	state     State
	handle    Handle
	message   string
	startedAt time.Time
}

// Supervisor owns the process registry. StartAll, StartOne and StopAll are
// serialized; status reads only take the registry lock.
type Supervisor struct {
	order       []string
	controllers map[string]Controller
	health      HealthChecker

	grace       time.Duration
	poll        time.Duration
	maxBackoff  time.Duration
	stopTimeout time.Duration

	opMu    sync.Mutex
	mu      sync.Mutex
	entries map[string]*entry
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithController registers the controller for a process kind.
func WithController(kind string, c Controller) Option {
	return func(s *Supervisor) {
		s.controllers[kind] = c
	}
}

// WithHealthChecker sets the readiness probe used during startup. Without
// one, a process is ready as soon as it is alive.
func WithHealthChecker(h HealthChecker) Option {
	return func(s *Supervisor) {
		s.health = h
	}
}

// WithTimings overrides the startup grace period, the initial probe interval
// and the per-process stop timeout. Zero values keep the defaults.
func WithTimings(grace, poll, stop time.Duration) Option {
	return func(s *Supervisor) {
		if grace > 0 {
			s.grace = grace
		}
		if poll > 0 {
			s.poll = poll
		}
		if stop > 0 {
			s.stopTimeout = stop
		}
	}
}

// New creates a supervisor for processes. Start order is ascending
// start_order with ties broken by name.
func New(processes map[string]config.Process, opts ...Option) *Supervisor {
	s := &Supervisor{
		controllers: make(map[string]Controller),
		grace:       30 * time.Second,
		poll:        500 * time.Millisecond,
		stopTimeout: 10 * time.Second,
		entries:     make(map[string]*entry, len(processes)),
	}
	for name, p := range processes {
		s.entries[name] = &entry{name: name, spec: p, state: StateStopped}
		s.order = append(s.order, name)
	}
	sort.Slice(s.order, func(i, j int) bool {
		a, b := processes[s.order[i]], processes[s.order[j]]
		if a.StartOrder != b.StartOrder {
			return a.StartOrder < b.StartOrder
		}
		return s.order[i] < s.order[j]
	})
	for _, opt := range opts {
		opt(s)
	}
	s.maxBackoff = max(s.poll, min(8*s.poll, 5*time.Second))
	return s
}

// Order returns process names in start order.
func (s *Supervisor) Order() []string {
	return slices.Clone(s.order)
}

// StartAll starts every stopped process in order. It stops at the first
// failure; later processes are not started. cb, if not nil, is called
// exactly once with the overall outcome.
func (s *Supervisor) StartAll(ctx context.Context, cb func(ok bool, message string)) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	notify := func(ok bool, msg string) {
		if cb != nil {
			cb(ok, msg)
		}
	}

	if len(s.order) == 0 {
		notify(true, "no processes configured")
		return nil
	}

	started := 0
	for _, name := range s.order {
		if s.aliveAndRunning(name) {
			continue
		}
		if err := s.start(ctx, name); err != nil {
			log.Printf("[ERROR] [Supervisor] Startup aborted at %s: %v", name, err)
			notify(false, fmt.Sprintf("startup failed at %s: %v", name, err))
			return err
		}
		started++
	}

	log.Printf("[INFO] [Supervisor] All processes running (%d started)", started)
	notify(true, fmt.Sprintf("all %d processes running", len(s.order)))
	return nil
}

// StartOne starts a single process whose dependencies are already running.
func (s *Supervisor) StartOne(ctx context.Context, name string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if _, ok := s.lookup(name); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProcess, name)
	}
	if s.aliveAndRunning(name) {
		return nil
	}
	return s.start(ctx, name)
}

func (s *Supervisor) start(ctx context.Context, name string) error {
	e, _ := s.lookup(name)
	spec := e.spec

	for _, dep := range spec.DependsOn {
		if !s.aliveAndRunning(dep) {
			err := fmt.Errorf("%s requires %s to be running: %w", name, dep, ErrDependencyUnhealthy)
			s.setState(name, StateFailed, err.Error(), nil)
			return err
		}
	}

	ctrl, ok := s.controllers[spec.Kind]
	if !ok {
		err := &ExternalProcessError{Name: name, Op: "launch", Err: fmt.Errorf("no controller for kind %q", spec.Kind)}
		s.setState(name, StateFailed, err.Error(), nil)
		return err
	}

	s.mu.Lock()
	prev := e.handle
	s.mu.Unlock()
	if prev != nil {
		if err := s.reap(ctx, name, prev); err != nil {
			s.setState(name, StateFailed, err.Error(), prev)
			return err
		}
		s.setState(name, StateStopped, "stopped", nil)
	}

	if err := ctrl.Cleanup(ctx, name); err != nil {
		log.Printf("[WARN] [Supervisor] Cleanup of stale %s failed: %v", name, err)
	}

	s.setState(name, StateStarting, "launching", nil)
	log.Printf("[INFO] [Supervisor] Starting %s (%s)", name, spec.Kind)

	h, err := ctrl.Launch(ctx, name, spec)
	if err != nil {
		perr := &ExternalProcessError{Name: name, Op: "launch", Err: err}
		s.setState(name, StateFailed, perr.Error(), nil)
		return perr
	}
	s.setState(name, StateStarting, "waiting for readiness", h)

	if err := s.awaitReady(ctx, name, h); err != nil {
		if kerr := s.reap(context.Background(), name, h); kerr != nil {
			// Keep the handle so a later StopAll can retry.
			s.setState(name, StateFailed, fmt.Sprintf("%v; %v", err, kerr), h)
			return errors.Join(err, kerr)
		}
		s.setState(name, StateFailed, err.Error(), nil)
		return err
	}

	s.mu.Lock()
	e.state = StateRunning
	e.message = "ready"
	e.startedAt = time.Now().UTC()
	s.mu.Unlock()

	log.Printf("[INFO] [Supervisor] %s is running (id=%s)", name, h.ID())
	return nil
}

// awaitReady polls the readiness probe with doubling delays, bounded by
// maxBackoff, until it passes or the grace period runs out.
func (s *Supervisor) awaitReady(ctx context.Context, name string, h Handle) error {
	deadline := time.Now().Add(s.grace)
	delay := s.poll
	last := "not probed"

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s startup cancelled: %w", name, err)
		}
		if !h.Alive() {
			return &ExternalProcessError{Name: name, Op: "start", Err: errors.New("exited during startup")}
		}
		if s.health == nil {
			return nil
		}
		ok, msg := s.health.ProbeProcess(ctx, name)
		if ok {
			return nil
		}
		last = msg

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%s not ready after %s (%s): %w", name, s.grace, last, ErrDependencyUnhealthy)
		}

		timer := time.NewTimer(min(delay, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s startup cancelled: %w", name, ctx.Err())
		case <-timer.C:
		}
		delay = min(delay*2, s.maxBackoff)
	}
}

// StopAll terminates every process that has a live handle, in reverse start
// order. Each process gets the stop timeout to exit before it is killed. A
// failure on one process does not stop the rest; a process that could not be
// killed keeps its handle in the failed state and is retried by the next
// call. Calling it with nothing running is a no-op.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var errs []error
	for i := len(s.order) - 1; i >= 0; i-- {
		name := s.order[i]

		s.mu.Lock()
		e := s.entries[name]
		h := e.handle
		s.mu.Unlock()

		if h == nil {
			continue
		}

		log.Printf("[INFO] [Supervisor] Stopping %s", name)
		if err := s.reap(ctx, name, h); err != nil {
			s.setState(name, StateFailed, err.Error(), h)
			errs = append(errs, err)
			continue
		}
		s.setState(name, StateStopped, "stopped", nil)
	}
	return errors.Join(errs...)
}

// reap stops h gracefully and kills it if that fails. A non-nil error means
// the process may still be alive.
func (s *Supervisor) reap(ctx context.Context, name string, h Handle) error {
	err := h.Terminate(ctx, s.stopTimeout)
	if err == nil {
		return nil
	}
	log.Printf("[WARN] [Supervisor] Graceful stop of %s failed, killing: %v", name, err)
	if kerr := h.Kill(); kerr != nil {
		log.Printf("[ERROR] [Supervisor] Failed to kill %s (id=%s): %v", name, h.ID(), kerr)
		return &ExternalProcessError{Name: name, Op: "kill", Err: kerr}
	}
	return nil
}

// Status returns every process in start order.
func (s *Supervisor) Status() []ManagedProcess {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ManagedProcess, 0, len(s.order))
	for _, name := range s.order {
		e := s.entries[name]
		mp := ManagedProcess{
			Name:       name,
			Kind:       e.spec.Kind,
			StartOrder: e.spec.StartOrder,
			DependsOn:  slices.Clone(e.spec.DependsOn),
			State:      e.state,
			StartedAt:  e.startedAt,
			Message:    e.message,
		}
		if e.handle != nil {
			mp.ID = e.handle.ID()
			mp.PID = e.handle.PID()
		}
		out = append(out, mp)
	}
	return out
}

// IsRunning reports whether name is in the running state and still alive.
func (s *Supervisor) IsRunning(name string) bool {
	return s.aliveAndRunning(name)
}

// Running reports whether any process is running.
func (s *Supervisor) Running() bool {
	for _, name := range s.order {
		if s.aliveAndRunning(name) {
			return true
		}
	}
	return false
}

// ProcessAlive reports whether name has a live handle, whatever its state.
func (s *Supervisor) ProcessAlive(name string) bool {
	s.mu.Lock()
	e, ok := s.entries[name]
	var h Handle
	if ok {
		h = e.handle
	}
	s.mu.Unlock()
	return h != nil && h.Alive()
}

// CheckExits marks running processes whose handle died as stopped and
// returns them.
func (s *Supervisor) CheckExits() []ManagedProcess {
	type candidate struct {
		name string
		h    Handle
	}

	s.mu.Lock()
	var running []candidate
	for _, name := range s.order {
		e := s.entries[name]
		if e.state == StateRunning && e.handle != nil {
			running = append(running, candidate{name, e.handle})
		}
	}
	s.mu.Unlock()

	var exited []ManagedProcess
	for _, c := range running {
		if c.h.Alive() {
			continue
		}

		s.mu.Lock()
		e := s.entries[c.name]
		if e.handle != c.h {
			s.mu.Unlock()
			continue
		}
		e.state = StateStopped
		e.message = "exited unexpectedly"
		e.handle = nil
		mp := ManagedProcess{Name: c.name, Kind: e.spec.Kind, StartOrder: e.spec.StartOrder, State: StateStopped, ID: c.h.ID(), PID: c.h.PID(), Message: e.message}
		s.mu.Unlock()

		log.Printf("[WARN] [Supervisor] %s exited unexpectedly (id=%s)", c.name, c.h.ID())
		exited = append(exited, mp)
	}
	return exited
}

// Watch runs the liveness watchdog until ctx is done, calling onExit for
// each process found dead.
func (s *Supervisor) Watch(ctx context.Context, interval time.Duration, onExit func(ManagedProcess)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, mp := range s.CheckExits() {
				if onExit != nil {
					onExit(mp)
				}
			}
		}
	}
}

func (s *Supervisor) lookup(name string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	return e, ok
}

func (s *Supervisor) aliveAndRunning(name string) bool {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok || e.state != StateRunning || e.handle == nil {
		s.mu.Unlock()
		return false
	}
	h := e.handle
	s.mu.Unlock()
	return h.Alive()
}

func (s *Supervisor) setState(name string, st State, msg string, h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[name]
	e.state = st
	e.message = msg
	e.handle = h
	if st != StateRunning {
		e.startedAt = time.Time{}
	}
}
