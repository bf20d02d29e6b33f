package decision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/boardlink/internal/gamectx"
	"github.com/dyluth/boardlink/pkg/events"
)

var (
	// ErrAlreadyPending is returned when a popup already has an outstanding request.
	ErrAlreadyPending = errors.New("popup already has an outstanding decision request")

	// ErrUnknownPopup is returned for popup ids that were never requested.
	ErrUnknownPopup = errors.New("unknown popup")
)

// maxResults bounds how many answered popups are remembered.
const maxResults = 100

// DefaultPendingTTL is how long a request may stay unanswered before its
// popup id can be requested again.
const DefaultPendingTTL = time.Minute

// Popup is an open decision point reported by the screen layer.
type Popup struct {
	ID      string
	Text    string
	Options []Option
}

// PopupService is the trigger side of the decision pipeline. It turns popups
// into decision requested events and collects the answers.
type PopupService struct {
	bus      *events.Bus
	contexts func() *gamectx.Context

	mu         sync.Mutex
	pending    map[string]*pendingRequest
	results    map[string]Result
	order      []string
	pendingTTL time.Duration
	now        func() time.Time

	sub    events.SubscriptionID
	subbed bool
}

type pendingRequest struct {
	done chan struct{}
	at   time.Time
}

// PopupOption configures a PopupService.
type PopupOption func(*PopupService)

// WithPendingTTL sets how long an unanswered request blocks its popup id.
func WithPendingTTL(d time.Duration) PopupOption {
	return func(s *PopupService) {
		if d > 0 {
			s.pendingTTL = d
		}
	}
}

// NewPopupService creates a trigger. contexts supplies the game context
// attached to each request and may be nil.
func NewPopupService(bus *events.Bus, contexts func() *gamectx.Context, opts ...PopupOption) *PopupService {
	s := &PopupService{
		bus:        bus,
		contexts:   contexts,
		pending:    make(map[string]*pendingRequest),
		results:    make(map[string]Result),
		pendingTTL: DefaultPendingTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes to decision made events.
func (s *PopupService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subbed {
		return nil
	}
	id, err := s.bus.Subscribe(events.TypeDecisionMade, "popup-service", s.handleResult)
	if err != nil {
		return fmt.Errorf("failed to subscribe popup service: %w", err)
	}
	s.sub = id
	s.subbed = true
	return nil
}

// Stop unsubscribes. Outstanding requests stay pending.
func (s *PopupService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subbed {
		s.bus.Unsubscribe(s.sub)
		s.subbed = false
	}
}

// Request publishes a decision request for p and returns its popup id. A
// fresh id is generated when p.ID is empty.
func (s *PopupService) Request(p Popup) (string, error) {
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}

	s.mu.Lock()
	s.expireStaleLocked()
	if _, busy := s.pending[id]; busy {
		s.mu.Unlock()
		return id, ErrAlreadyPending
	}
	s.pending[id] = &pendingRequest{done: make(chan struct{}), at: s.now()}
	delete(s.results, id)
	s.mu.Unlock()

	req := Request{PopupID: id, PopupText: p.Text, Options: p.Options}
	if s.contexts != nil {
		req.Game = NewGameSummary(s.contexts())
	}

	if _, err := s.bus.Publish(events.TypeDecisionRequested, RequestEventData(req), "popup-service"); err != nil {
		s.Expire(id)
		return id, fmt.Errorf("failed to publish decision request: %w", err)
	}

	log.Printf("[INFO] [Popup] Requested decision for popup %s (%d options)", id, len(p.Options))
	return id, nil
}

// Pending reports whether id has an outstanding request.
func (s *PopupService) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireStaleLocked()
	_, ok := s.pending[id]
	return ok
}

// Result returns the answer for id if one has arrived.
func (s *PopupService) Result(id string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[id]
	return r, ok
}

// Wait blocks until id is answered or ctx is done.
func (s *PopupService) Wait(ctx context.Context, id string) (Result, error) {
	s.mu.Lock()
	if r, ok := s.results[id]; ok {
		s.mu.Unlock()
		return r, nil
	}
	pr, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownPopup, id)
	}

	select {
	case <-pr.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	if r, ok := s.Result(id); ok {
		return r, nil
	}
	return Result{}, fmt.Errorf("%w: %s", ErrUnknownPopup, id)
}

func (s *PopupService) handleResult(evt events.Event) error {
	res, err := ResultFromEvent(evt)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.results[res.PopupID]; !seen {
		s.order = append(s.order, res.PopupID)
	}
	s.results[res.PopupID] = res
	for len(s.order) > maxResults {
		delete(s.results, s.order[0])
		s.order = s.order[1:]
	}
	if pr, ok := s.pending[res.PopupID]; ok {
		close(pr.done)
		delete(s.pending, res.PopupID)
	}
	return nil
}

// Expire abandons the outstanding request for id so it can be requested
// again. Waiters are released with ErrUnknownPopup.
func (s *PopupService) Expire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pr, ok := s.pending[id]; ok {
		close(pr.done)
		delete(s.pending, id)
	}
}

// expireStaleLocked drops requests older than the pending TTL. s.mu must be held.
func (s *PopupService) expireStaleLocked() {
	cutoff := s.now().Add(-s.pendingTTL)
	for id, pr := range s.pending {
		if pr.at.Before(cutoff) {
			log.Printf("[WARN] [Popup] Decision for popup %s not answered after %s, expiring", id, s.pendingTTL)
			close(pr.done)
			delete(s.pending, id)
		}
	}
}

// DecideAndWait is a convenience that requests a decision and waits for it,
// bounded by timeout. A request that times out is expired so the popup can
// be asked again.
func (s *PopupService) DecideAndWait(ctx context.Context, p Popup, timeout time.Duration) (Result, error) {
	id, err := s.Request(p)
	if err != nil && !errors.Is(err, ErrAlreadyPending) {
		return Result{}, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := s.Wait(waitCtx, id)
	if errors.Is(err, context.DeadlineExceeded) {
		s.Expire(id)
	}
	return res, err
}
