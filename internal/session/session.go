// Package session holds the explicit state of one bridge session: the bus,
// the listener and aggregator, the decision pipeline, the process supervisor
// and the health service. Everything the control surface touches hangs off a
// Session value; there are no package-level singletons.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/boardlink/internal/config"
	"github.com/dyluth/boardlink/internal/decision"
	dockerpkg "github.com/dyluth/boardlink/internal/docker"
	"github.com/dyluth/boardlink/internal/gamectx"
	"github.com/dyluth/boardlink/internal/health"
	"github.com/dyluth/boardlink/internal/listener"
	"github.com/dyluth/boardlink/internal/logbuf"
	"github.com/dyluth/boardlink/internal/store"
	"github.com/dyluth/boardlink/internal/supervisor"
	"github.com/dyluth/boardlink/pkg/blackboard"
	"github.com/dyluth/boardlink/pkg/events"
)

var (
	// ErrNotRunning is returned by operations that need a started game.
	ErrNotRunning = errors.New("session is not running")

	// ErrAlreadyRunning is returned by Start while a start is in progress or
	// the game is already running.
	ErrAlreadyRunning = errors.New("session is already running")

	// ErrUnknownPlayer is returned when an update names a player not in the
	// current context.
	ErrUnknownPlayer = errors.New("unknown player")

	errStartCancelled = errors.New("session start cancelled")
)

const source = "session"

// Session is one running bridge.
type Session struct {
	cfg   *config.Config
	runID string

	bus        *events.Bus
	reader     *listener.OverrideReader
	listener   *listener.Listener
	aggregator *gamectx.Aggregator
	snapshots  *store.FileStore
	policy     *decision.Policy
	popups     *decision.PopupService
	supervisor *supervisor.Supervisor
	health     *health.Service
	terminal   *logbuf.Terminal
	logs       *logbuf.Logs

	mirror       *blackboard.Client
	detachMirror func()
	history      *store.HistoryStore

	mu          sync.Mutex
	starting    bool
	initialized bool
	message     string
	gameCancel  context.CancelFunc
	closed      bool

	// gen increments on every Start and Stop. A start whose generation is no
	// longer current has been stopped and must not bring the game up.
	gen         uint64
	startCancel context.CancelFunc
}

// Option configures a Session.
type Option func(*builder)

type builder struct {
	reader      listener.StateReader
	backend     decision.Backend
	controllers map[string]supervisor.Controller
	probes      map[string]health.Probe
	listenerOps []listener.Option
	terminal    *logbuf.Terminal
	logs        *logbuf.Logs
	mirror      *blackboard.Client
	noDocker    bool
}

// WithReader replaces the state file reader.
func WithReader(r listener.StateReader) Option {
	return func(b *builder) { b.reader = r }
}

// WithBackend replaces the decision backend built from the policy config.
func WithBackend(be decision.Backend) Option {
	return func(b *builder) { b.backend = be }
}

// WithController replaces the controller for a process kind.
func WithController(kind string, c supervisor.Controller) Option {
	return func(b *builder) { b.controllers[kind] = c }
}

// WithProbe replaces a health probe kind.
func WithProbe(kind string, p health.Probe) Option {
	return func(b *builder) { b.probes[kind] = p }
}

// WithListenerOptions passes options through to the state listener.
func WithListenerOptions(opts ...listener.Option) Option {
	return func(b *builder) { b.listenerOps = append(b.listenerOps, opts...) }
}

// WithBuffers shares existing terminal and log buffers.
func WithBuffers(t *logbuf.Terminal, l *logbuf.Logs) Option {
	return func(b *builder) {
		b.terminal = t
		b.logs = l
	}
}

// WithMirror uses an established blackboard client instead of dialling
// redis.url.
func WithMirror(c *blackboard.Client) Option {
	return func(b *builder) { b.mirror = c }
}

// WithoutDocker skips connecting to the Docker daemon.
func WithoutDocker() Option {
	return func(b *builder) { b.noDocker = true }
}

// New builds every component of a session. Nothing is started; the
// decision pipeline and aggregator subscribe to the bus immediately.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Session, error) {
	b := &builder{
		controllers: make(map[string]supervisor.Controller),
		probes:      make(map[string]health.Probe),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.terminal == nil {
		b.terminal = logbuf.NewTerminal(logbuf.TerminalCapacity)
	}
	if b.logs == nil {
		b.logs = logbuf.NewLogs(logbuf.LogsCapacity, true)
	}
	if b.reader == nil {
		b.reader = listener.NewFileReader(cfg.Session.StateFile)
	}

	s := &Session{
		cfg:      cfg,
		runID:    uuid.New().String(),
		bus:      events.NewBus(),
		terminal: b.terminal,
		logs:     b.logs,
		message:  "not started",
	}

	// Persistence
	s.snapshots = store.NewFileStore(cfg.Context.File)
	var snapshots gamectx.SnapshotStore = s.snapshots
	if err := s.openMirror(ctx, b); err != nil {
		s.bus.Close()
		return nil, err
	}
	if s.mirror != nil {
		snapshots = store.NewTee(s.snapshots, s.mirror)
	}

	aggOpts := []gamectx.Option{gamectx.WithHistoryLimit(cfg.Context.HistoryLimitValue())}
	if cfg.Context.HistoryDB != "" {
		h, err := store.OpenHistory(cfg.Context.HistoryDB, store.DefaultArchiveLimit)
		if err != nil {
			s.closeMirror()
			s.bus.Close()
			return nil, err
		}
		s.history = h
		aggOpts = append(aggOpts, gamectx.WithHistoryStore(h))
	}
	s.aggregator = gamectx.NewAggregator(s.bus, snapshots, aggOpts...)

	// State listener
	s.reader = listener.NewOverrideReader(b.reader)
	lopts := append([]listener.Option{
		listener.WithIntervals(cfg.Listener.TickInterval(), cfg.Listener.PlayerIntervalDuration()),
	}, b.listenerOps...)
	s.listener = listener.New(s.reader, s.bus, lopts...)

	// Decision pipeline
	s.policy = decision.NewPolicy(policyOptions(cfg.Policy, b.backend)...)
	s.policy.SetEnabled(cfg.Policy.PolicyEnabled())
	s.popups = decision.NewPopupService(s.bus, s.aggregator.Current,
		decision.WithPendingTTL(3*cfg.Policy.TimeoutDuration()))

	// Processes and health
	healthOpts := []health.Option{}
	for kind, p := range b.probes {
		healthOpts = append(healthOpts, health.WithProbe(kind, p))
	}
	s.health = health.New(cfg, healthOpts...)

	supOpts := []supervisor.Option{
		supervisor.WithHealthChecker(s.health),
		supervisor.WithTimings(
			cfg.Supervisor.GracePeriodDuration(),
			cfg.Supervisor.PollIntervalDuration(),
			cfg.Supervisor.StopTimeoutDuration(),
		),
	}
	if _, ok := b.controllers[config.KindExec]; !ok {
		runDir := filepath.Join(os.TempDir(), "boardlink", cfg.Session.Name)
		b.controllers[config.KindExec] = supervisor.NewExecController(s.terminal, runDir)
	}
	if _, ok := b.controllers[config.KindDocker]; !ok && !b.noDocker && usesDocker(cfg) {
		cli, err := dockerpkg.NewClient(ctx)
		if err != nil {
			log.Printf("[WARN] [Session] Docker unavailable, docker processes cannot start: %v", err)
		} else {
			b.controllers[config.KindDocker] = supervisor.NewDockerController(cli, cfg.Session.Name)
		}
	}
	for kind, c := range b.controllers {
		supOpts = append(supOpts, supervisor.WithController(kind, c))
	}
	s.supervisor = supervisor.New(cfg.Processes, supOpts...)
	s.health.SetStarter(s.supervisor)
	s.health.SetProcessState(s.supervisor)

	if err := s.subscribe(); err != nil {
		s.Close()
		return nil, err
	}

	s.logEvent("session_created", map[string]interface{}{
		"processes":    len(cfg.Processes),
		"dependencies": len(cfg.Health.Dependencies),
		"backend":      s.policy.Status().Configured,
	})
	return s, nil
}

func (s *Session) openMirror(ctx context.Context, b *builder) error {
	if b.mirror != nil {
		s.mirror = b.mirror
	} else if s.cfg.Redis != nil {
		client, err := blackboard.NewClientFromURL(s.cfg.Redis.URL, s.cfg.Session.Name)
		if err != nil {
			return fmt.Errorf("failed to create redis mirror: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx); err != nil {
			client.Close()
			return fmt.Errorf("redis mirror unreachable at %s: %w", s.cfg.Redis.URL, err)
		}
		s.mirror = client
	}
	return nil
}

func (s *Session) closeMirror() {
	if s.detachMirror != nil {
		s.detachMirror()
		s.detachMirror = nil
	}
	if s.mirror != nil {
		s.mirror.Close()
		s.mirror = nil
	}
}

func (s *Session) subscribe() error {
	if err := s.aggregator.Start(); err != nil {
		return err
	}
	if err := s.policy.Attach(s.bus); err != nil {
		return err
	}
	if err := s.popups.Start(); err != nil {
		return err
	}
	if s.mirror != nil {
		detach, err := s.mirror.Mirror(s.bus)
		if err != nil {
			return err
		}
		s.detachMirror = detach
	}
	return nil
}

func policyOptions(pc config.PolicyConfig, backend decision.Backend) []decision.PolicyOption {
	opts := []decision.PolicyOption{
		decision.WithTimeout(pc.TimeoutDuration()),
		decision.WithRateLimit(pc.RatePerSecond),
		decision.WithBreaker(decision.NewCircuitBreaker(pc.BreakerThreshold, pc.BreakerCooldownDuration())),
	}
	if backend != nil {
		return append(opts, decision.WithBackend(backend, pc.Model))
	}

	key := os.Getenv(pc.APIKeyEnv)
	if key == "" {
		log.Printf("[INFO] [Session] %s not set, decisions use the fallback ladder only", pc.APIKeyEnv)
		return opts
	}
	ab, err := decision.NewAnthropicBackend(key, pc.Model, pc.MaxTokens)
	if err != nil {
		log.Printf("[WARN] [Session] Decision backend unavailable: %v", err)
		return opts
	}
	return append(opts, decision.WithBackend(ab, pc.Model))
}

func usesDocker(cfg *config.Config) bool {
	for _, p := range cfg.Processes {
		if p.Kind == config.KindDocker {
			return true
		}
	}
	for _, d := range cfg.Health.Dependencies {
		if d.Kind == config.ProbeDocker {
			return true
		}
	}
	return false
}

// logEvent logs a structured event in JSON format.
func (s *Session) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "session"
	data["event_type"] = eventType
	data["session"] = s.cfg.Session.Name
	data["run_id"] = s.runID

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Session] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}

// Accessors for the control surface.

func (s *Session) Config() *config.Config             { return s.cfg }
func (s *Session) RunID() string                      { return s.runID }
func (s *Session) Bus() *events.Bus                   { return s.bus }
func (s *Session) Aggregator() *gamectx.Aggregator    { return s.aggregator }
func (s *Session) Policy() *decision.Policy           { return s.policy }
func (s *Session) Popups() *decision.PopupService     { return s.popups }
func (s *Session) Supervisor() *supervisor.Supervisor { return s.supervisor }
func (s *Session) Health() *health.Service            { return s.health }
func (s *Session) Terminal() *logbuf.Terminal         { return s.terminal }
func (s *Session) Logs() *logbuf.Logs                 { return s.logs }
func (s *Session) History() *store.HistoryStore       { return s.history }
