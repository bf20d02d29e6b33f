package decision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/dyluth/boardlink/pkg/events"
)

// Policy answers popups. It asks the backend first when one is configured and
// enabled, then falls back to the fixed priority ladder. Decide never fails.
type Policy struct {
	backend Backend
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	breaker *CircuitBreaker
	enabled atomic.Bool

	backendErrors atomic.Uint64

	// Bus wiring
	bus      *events.Bus
	sem      *semaphore.Weighted
	subMu    sync.Mutex
	sub      events.SubscriptionID
	attached bool
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithBackend sets the external backend. Without one, Decide always uses the
// fallback ladder.
func WithBackend(b Backend, model string) PolicyOption {
	return func(p *Policy) {
		p.backend = b
		p.model = model
	}
}

// WithTimeout bounds each backend call.
func WithTimeout(d time.Duration) PolicyOption {
	return func(p *Policy) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithRateLimit caps backend calls per second. Zero disables limiting.
func WithRateLimit(perSecond float64) PolicyOption {
	return func(p *Policy) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			p.limiter = nil
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *CircuitBreaker) PolicyOption {
	return func(p *Policy) {
		if cb != nil {
			p.breaker = cb
		}
	}
}

// WithMaxConcurrent bounds how many popups are decided at once when attached
// to a bus.
func WithMaxConcurrent(n int64) PolicyOption {
	return func(p *Policy) {
		if n > 0 {
			p.sem = semaphore.NewWeighted(n)
		}
	}
}

// NewPolicy creates a policy. The backend, if any, starts enabled.
func NewPolicy(opts ...PolicyOption) *Policy {
	p := &Policy{
		timeout: 10 * time.Second,
		limiter: rate.NewLimiter(rate.Limit(2), 1),
		breaker: NewCircuitBreaker(5, 30*time.Second),
		sem:     semaphore.NewWeighted(4),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.enabled.Store(true)
	return p
}

// BackendStatus reports backend availability for the control surface.
type BackendStatus struct {
	Available  bool   `json:"available"`
	Configured bool   `json:"configured"`
	Enabled    bool   `json:"enabled"`
	Model      string `json:"model,omitempty"`
	Breaker    string `json:"breaker"`
	Failures   uint64 `json:"failures"`
}

// Status returns the current backend status.
func (p *Policy) Status() BackendStatus {
	return BackendStatus{
		Available:  p.Available(),
		Configured: p.backend != nil,
		Enabled:    p.enabled.Load(),
		Model:      p.model,
		Breaker:    p.breaker.State().String(),
		Failures:   p.backendErrors.Load(),
	}
}

// Available reports whether Decide will consult the backend.
func (p *Policy) Available() bool {
	return p.backend != nil && p.enabled.Load()
}

// SetEnabled toggles use of the backend without discarding it.
func (p *Policy) SetEnabled(enabled bool) {
	p.enabled.Store(enabled)
	log.Printf("[INFO] [Decision] Backend enabled=%v", enabled)
}

// Decide computes a result for req. The backend answer wins at 0.9 when it
// names one of the options; otherwise the first PriorityOrder entry present
// wins at 0.5, then the first option at 0.3, then ChoiceNone at 0.0.
func (p *Policy) Decide(ctx context.Context, req Request) Result {
	if len(req.Options) == 0 {
		return Result{PopupID: req.PopupID, Choice: ChoiceNone, Reason: ReasonNoOptions, Confidence: ConfidenceNone}
	}

	if p.Available() {
		res, err := p.askBackend(ctx, req)
		if err == nil {
			return res
		}
		p.backendErrors.Add(1)
		log.Printf("[WARN] [Decision] Falling back for popup %s: %v", req.PopupID, err)
	}

	return fallback(req)
}

func fallback(req Request) Result {
	if len(req.Options) == 0 {
		return Result{PopupID: req.PopupID, Choice: ChoiceNone, Reason: ReasonNoOptions, Confidence: ConfidenceNone}
	}
	for _, want := range PriorityOrder {
		if name, ok := req.find(want); ok {
			return Result{PopupID: req.PopupID, Choice: name, Reason: ReasonPriority, Confidence: ConfidencePriority}
		}
	}
	return Result{PopupID: req.PopupID, Choice: req.Options[0].Name, Reason: ReasonFirstOption, Confidence: ConfidenceFirst}
}

var errOutOfVocabulary = errors.New("response is not one of the options")

func (p *Policy) askBackend(ctx context.Context, req Request) (Result, error) {
	if err := p.breaker.Allow(); err != nil {
		return Result{}, &Error{PopupID: req.PopupID, Stage: "breaker", Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if p.limiter != nil {
		if err := p.limiter.Wait(callCtx); err != nil {
			return Result{}, &Error{PopupID: req.PopupID, Stage: "rate limit", Err: err}
		}
	}

	start := time.Now()
	text, err := p.backend.Complete(callCtx, systemPrompt, BuildPrompt(req))
	if err != nil {
		p.breaker.RecordFailure()
		return Result{}, &Error{PopupID: req.PopupID, Stage: "backend", Err: err}
	}
	p.breaker.RecordSuccess()

	choice, reason := ParseResponse(text)
	name, ok := req.find(choice)
	if !ok {
		return Result{}, &Error{PopupID: req.PopupID, Stage: "parse", Err: fmt.Errorf("%w: %q", errOutOfVocabulary, choice)}
	}

	log.Printf("[DEBUG] [Decision] Backend chose %q for popup %s in %v", name, req.PopupID, time.Since(start))
	return Result{PopupID: req.PopupID, Choice: name, Reason: reason, Confidence: ConfidenceBackend}, nil
}

// Attach subscribes the policy to decision requests on bus. Each request is
// decided on its own goroutine and answered with a decision made event.
func (p *Policy) Attach(bus *events.Bus) error {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	if p.attached {
		return nil
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	id, err := bus.Subscribe(events.TypeDecisionRequested, "decision-policy", p.handleRequest)
	if err != nil {
		p.cancel()
		return fmt.Errorf("failed to subscribe decision policy: %w", err)
	}
	p.bus = bus
	p.sub = id
	p.attached = true
	return nil
}

// Detach unsubscribes and waits for in-flight decisions to finish.
func (p *Policy) Detach() {
	p.subMu.Lock()
	if !p.attached {
		p.subMu.Unlock()
		return
	}
	p.bus.Unsubscribe(p.sub)
	p.attached = false
	p.cancel()
	p.subMu.Unlock()

	p.wg.Wait()
}

func (p *Policy) handleRequest(evt events.Event) error {
	req, err := RequestFromEvent(evt)
	if err != nil {
		return err
	}

	p.subMu.Lock()
	if !p.attached {
		p.subMu.Unlock()
		return nil
	}
	ctx := p.ctx
	bus := p.bus
	p.wg.Add(1)
	p.subMu.Unlock()

	go func() {
		defer p.wg.Done()

		var res Result
		if err := p.sem.Acquire(ctx, 1); err != nil {
			// Detached while queued: answer without the backend.
			res = fallback(req)
		} else {
			defer p.sem.Release(1)
			res = p.Decide(ctx, req)
		}
		if _, err := bus.Publish(events.TypeDecisionMade, ResultEventData(req, res), "decision-policy"); err != nil {
			log.Printf("[WARN] [Decision] Failed to publish decision for popup %s: %v", req.PopupID, err)
			return
		}
		log.Printf("[INFO] [Decision] Popup %s -> %q (%.1f, %s)", req.PopupID, res.Choice, res.Confidence, res.Reason)
	}()
	return nil
}
