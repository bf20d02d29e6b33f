package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dyluth/boardlink/pkg/events"
	"github.com/redis/go-redis/v9"
)

// Client provides session-scoped Redis operations for the blackboard.
// All keys and channels are automatically namespaced with the session name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb     *redis.Client
	session string
}

// NewClient creates a new blackboard client for the specified session.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - session: session name (must not be empty)
//
// Returns an error if session is empty.
func NewClient(redisOpts *redis.Options, session string) (*Client, error) {
	if session == "" {
		return nil, fmt.Errorf("session name cannot be empty")
	}

	return &Client{
		rdb:     redis.NewClient(redisOpts),
		session: session,
	}, nil
}

// NewClientFromURL parses a redis:// URL and creates a client.
func NewClientFromURL(url, session string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return NewClient(opts, session)
}

// Session returns the namespace used for keys and channels.
func (c *Client) Session() string {
	return c.session
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// PublishEvent publishes the event JSON on the session's events channel.
func (c *Client) PublishEvent(ctx context.Context, evt events.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := c.rdb.Publish(ctx, EventsChannel(c.session), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// SaveSnapshot stores the context snapshot JSON. Together with LoadSnapshot
// this lets the client act as a snapshot mirror.
func (c *Client) SaveSnapshot(ctx context.Context, data []byte) error {
	if err := c.rdb.Set(ctx, ContextKey(c.session), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write context snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot, or redis.Nil if none exists.
// Use IsNotFound() to check for not-found errors.
func (c *Client) LoadSnapshot(ctx context.Context) ([]byte, error) {
	data, err := c.rdb.Get(ctx, ContextKey(c.session)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read context snapshot: %w", err)
	}
	return data, nil
}

// SaveDecision stores a decision record and indexes it by time.
func (c *Client) SaveDecision(ctx context.Context, d *DecisionRecord) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid decision: %w", err)
	}

	hash, err := DecisionToHash(d)
	if err != nil {
		return fmt.Errorf("failed to serialize decision: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, DecisionKey(c.session, d.PopupID), hash)
	pipe.ZAdd(ctx, DecisionIndexKey(c.session), redis.Z{Score: float64(d.DecidedAtMs), Member: d.PopupID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write decision to Redis: %w", err)
	}
	return nil
}

// GetDecision retrieves a decision by popup ID.
// Returns (nil, redis.Nil) if the decision doesn't exist.
func (c *Client) GetDecision(ctx context.Context, popupID string) (*DecisionRecord, error) {
	hashData, err := c.rdb.HGetAll(ctx, DecisionKey(c.session, popupID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read decision from Redis: %w", err)
	}

	// HGetAll returns empty map for non-existent keys
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	d, err := HashToDecision(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize decision: %w", err)
	}
	return d, nil
}

// RecentDecisions returns up to n decisions, newest first.
func (c *Client) RecentDecisions(ctx context.Context, n int) ([]*DecisionRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	ids, err := c.rdb.ZRevRange(ctx, DecisionIndexKey(c.session), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read decision index: %w", err)
	}

	out := make([]*DecisionRecord, 0, len(ids))
	for _, id := range ids {
		d, err := c.GetDecision(ctx, id)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Mirror forwards every bus event to the events channel and stores every
// decision. It returns a function that detaches the mirror.
func (c *Client) Mirror(bus *events.Bus) (func(), error) {
	id, err := bus.SubscribeAll("redis-mirror", func(evt events.Event) error {
		if evt.Type == events.TypeAny {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := c.PublishEvent(ctx, evt); err != nil {
			return err
		}
		if evt.Type == events.TypeDecisionMade {
			if rec := decisionFromEvent(evt); rec != nil {
				return c.SaveDecision(ctx, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach redis mirror: %w", err)
	}
	return func() { bus.Unsubscribe(id) }, nil
}

func decisionFromEvent(evt events.Event) *DecisionRecord {
	popupID, _ := evt.Data["popup_id"].(string)
	choice, _ := evt.Data["decision"].(string)
	if popupID == "" || choice == "" {
		return nil
	}
	reason, _ := evt.Data["reason"].(string)
	text, _ := evt.Data["popup_text"].(string)
	confidence, _ := evt.Data["confidence"].(float64)

	var options []string
	switch o := evt.Data["options"].(type) {
	case []string:
		options = o
	case []any:
		for _, v := range o {
			if s, ok := v.(string); ok {
				options = append(options, s)
			}
		}
	}

	return &DecisionRecord{
		PopupID:     popupID,
		PopupText:   text,
		Options:     options,
		Choice:      choice,
		Reason:      reason,
		Confidence:  confidence,
		DecidedAtMs: evt.Timestamp.UnixMilli(),
	}
}

// Subscription represents an active Pub/Sub subscription to bus events.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *events.Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of events.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *events.Event {
	return s.events
}

// Errors returns the channel of subscription errors.
// Errors include JSON unmarshaling failures; the subscription continues after errors.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeEvents subscribes to the session's events channel.
//
// Events are delivered on a buffered channel (size 10) to prevent blocking.
// If the subscriber is too slow, events may be dropped by Redis Pub/Sub (at-most-once delivery).
func (c *Client) SubscribeEvents(ctx context.Context) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, EventsChannel(c.session))

	// Wait for confirmation so no event published right after this call is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}

	eventsChan := make(chan *events.Event, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var evt events.Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					// Send error on error channel, skip message
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &evt:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
