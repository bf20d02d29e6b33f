// Package health probes the external dependencies a session needs and, when
// asked, brings missing ones up through the process supervisor.
package health

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dyluth/boardlink/internal/config"
)

// ErrUnknownDependency is returned by Probe for names not in the configuration.
var ErrUnknownDependency = errors.New("unknown dependency")

// Result is the outcome of probing one dependency.
type Result struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Target  string `json:"target"`
	Healthy bool   `json:"healthy"`
	Message string `json:"message"`
}

// SystemStatus is the combined result of probing every dependency.
type SystemStatus struct {
	Healthy      bool      `json:"healthy"`
	Dependencies []Result  `json:"dependencies"`
	CheckedAt    time.Time `json:"checked_at"`
}

// Lookup returns the result for name.
func (s SystemStatus) Lookup(name string) (Result, bool) {
	for _, r := range s.Dependencies {
		if r.Name == name {
			return r, true
		}
	}
	return Result{}, false
}

// Starter brings a managed process up. The supervisor implements it.
type Starter interface {
	StartOne(ctx context.Context, name string) error
}

// ProcessState reports whether a managed process is alive. The supervisor
// implements it.
type ProcessState interface {
	ProcessAlive(name string) bool
}

// Service is the health check service.
type Service struct {
	deps      map[string]config.Dependency
	processes map[string]config.Process
	probes    map[string]Probe
	timeout   time.Duration

	mu      sync.RWMutex
	starter Starter
	state   ProcessState
}

// Option configures a Service.
type Option func(*Service)

// WithProbe replaces the probe used for a dependency kind.
func WithProbe(kind string, p Probe) Option {
	return func(s *Service) {
		s.probes[kind] = p
	}
}

// WithTimeout bounds each individual probe.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a health service for the dependencies and processes in cfg.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		deps:      cfg.Health.Dependencies,
		processes: cfg.Processes,
		probes:    DefaultProbes(),
		timeout:   5 * time.Second,
	}
	if s.deps == nil {
		s.deps = map[string]config.Dependency{}
	}
	if s.processes == nil {
		s.processes = map[string]config.Process{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetStarter wires the component used for auto-start.
func (s *Service) SetStarter(st Starter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starter = st
}

// SetProcessState wires the component used for process liveness probes.
func (s *Service) SetProcessState(ps ProcessState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = ps
}

func (s *Service) names() []string {
	names := make([]string, 0, len(s.deps))
	for name := range s.deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetSystemStatus probes every dependency concurrently. Results are ordered
// by dependency name.
func (s *Service) GetSystemStatus(ctx context.Context) SystemStatus {
	names := s.names()
	results := make([]Result, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			results[i] = s.probe(gctx, name, s.deps[name])
			return nil
		})
	}
	_ = g.Wait()

	status := SystemStatus{Healthy: true, Dependencies: results, CheckedAt: time.Now().UTC()}
	for _, r := range results {
		if !r.Healthy {
			status.Healthy = false
		}
	}
	return status
}

// Probe checks a single named dependency.
func (s *Service) Probe(ctx context.Context, name string) (Result, error) {
	dep, ok := s.deps[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownDependency, name)
	}
	return s.probe(ctx, name, dep), nil
}

func (s *Service) probe(ctx context.Context, name string, dep config.Dependency) Result {
	r := Result{Name: name, Kind: dep.Kind, Target: dep.Target}

	probe, ok := s.probes[dep.Kind]
	if !ok {
		r.Message = fmt.Sprintf("no probe for kind %q", dep.Kind)
		return r
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := probe(pctx, dep.Target); err != nil {
		r.Message = err.Error()
		return r
	}
	r.Healthy = true
	r.Message = "ok"
	return r
}

// PerformStartupChecks probes every dependency. When autoStart is set, each
// unhealthy dependency backed by a managed process is started and probed
// again. It returns overall health and one diagnostic line per step, in
// dependency name order.
func (s *Service) PerformStartupChecks(ctx context.Context, autoStart bool) (bool, []string) {
	status := s.GetSystemStatus(ctx)

	s.mu.RLock()
	starter := s.starter
	s.mu.RUnlock()

	healthy := true
	var messages []string
	for _, r := range status.Dependencies {
		if r.Healthy {
			messages = append(messages, fmt.Sprintf("%s: healthy (%s %s)", r.Name, r.Kind, r.Target))
			continue
		}
		messages = append(messages, fmt.Sprintf("%s: unhealthy: %s", r.Name, r.Message))

		dep := s.deps[r.Name]
		if !autoStart {
			healthy = false
			continue
		}
		if dep.Process == "" || starter == nil {
			messages = append(messages, fmt.Sprintf("%s: cannot auto-start, no managed process provides it", r.Name))
			healthy = false
			continue
		}

		messages = append(messages, fmt.Sprintf("%s: starting process %s", r.Name, dep.Process))
		if err := starter.StartOne(ctx, dep.Process); err != nil {
			log.Printf("[WARN] [Health] Auto-start of %s failed: %v", dep.Process, err)
			messages = append(messages, fmt.Sprintf("%s: auto-start failed: %v", r.Name, err))
			healthy = false
			continue
		}

		again := s.probe(ctx, r.Name, dep)
		if again.Healthy {
			messages = append(messages, fmt.Sprintf("%s: healthy after auto-start", r.Name))
		} else {
			messages = append(messages, fmt.Sprintf("%s: still unhealthy after auto-start: %s", r.Name, again.Message))
			healthy = false
		}
	}

	if len(status.Dependencies) == 0 {
		messages = append(messages, "no dependencies configured")
	}
	return healthy, messages
}

// ProbeProcess checks the readiness probe of a managed process. Processes
// without a probe, or with a "process" probe, are ready once alive.
func (s *Service) ProbeProcess(ctx context.Context, name string) (bool, string) {
	p, ok := s.processes[name]
	if !ok {
		return false, fmt.Sprintf("unknown process %s", name)
	}

	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()

	if state != nil && !state.ProcessAlive(name) {
		return false, fmt.Sprintf("process %s is not alive", name)
	}
	if p.Health == nil || p.Health.Kind == config.ProbeProcess {
		return true, "alive"
	}

	probe, ok := s.probes[p.Health.Kind]
	if !ok {
		return false, fmt.Sprintf("no probe for kind %q", p.Health.Kind)
	}

	timeout := s.timeout
	if p.Health.Timeout != "" {
		timeout = p.Health.TimeoutDuration()
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := probe(pctx, p.Health.Target); err != nil {
		return false, err.Error()
	}
	return true, "ok"
}
