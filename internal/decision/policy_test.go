package decision

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/boardlink/internal/gamectx"
)

// fakeBackend returns a canned answer and counts calls.
type fakeBackend struct {
	answer string
	err    error
	delay  time.Duration
	calls  atomic.Int32
	prompt atomic.Value
}

func (f *fakeBackend) Complete(ctx context.Context, system, prompt string) (string, error) {
	f.calls.Add(1)
	f.prompt.Store(prompt)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.answer, f.err
}

func options(names ...string) []Option {
	out := make([]Option, len(names))
	for i, n := range names {
		out[i] = Option{Name: n}
	}
	return out
}

func TestDecide_FallbackLadder(t *testing.T) {
	tests := []struct {
		name       string
		options    []string
		choice     string
		reason     string
		confidence float64
	}{
		{"buy beats auction", []string{"buy", "auction"}, "buy", ReasonPriority, 0.5},
		{"auction beats trade", []string{"auction", "trade"}, "auction", ReasonPriority, 0.5},
		{"priority order not option order", []string{"accounts", "back", "next turn"}, "next turn", ReasonPriority, 0.5},
		{"case insensitive keeps option spelling", []string{"Roll Again", "Trade"}, "Roll Again", ReasonPriority, 0.5},
		{"no priority match takes first", []string{"zzz", "yyy"}, "zzz", ReasonFirstOption, 0.3},
		{"empty options", nil, ChoiceNone, ReasonNoOptions, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPolicy()
			res := p.Decide(context.Background(), Request{PopupID: "p1", Options: options(tt.options...)})

			assert.Equal(t, "p1", res.PopupID)
			assert.Equal(t, tt.choice, res.Choice)
			assert.Equal(t, tt.reason, res.Reason)
			assert.InDelta(t, tt.confidence, res.Confidence, 1e-9)
		})
	}
}

func TestDecide_Backend(t *testing.T) {
	ctxWithPlayers := &gamectx.Context{
		CurrentTurn: 7,
		Players: map[int]gamectx.Player{
			2: {ID: 2, Name: "Bob", Money: 900, Position: 12},
			1: {ID: 1, Name: "Alice", Money: 1500, Position: 3},
		},
	}

	t.Run("valid answer wins at 0.9", func(t *testing.T) {
		b := &fakeBackend{answer: "Auction | too expensive"}
		p := NewPolicy(WithBackend(b, "test-model"), WithRateLimit(0))

		res := p.Decide(context.Background(), Request{
			PopupID:   "p1",
			PopupText: "Buy Park Place for 350?",
			Options:   options("buy", "auction"),
			Game:      NewGameSummary(ctxWithPlayers),
		})

		assert.Equal(t, "auction", res.Choice)
		assert.Equal(t, "too expensive", res.Reason)
		assert.InDelta(t, 0.9, res.Confidence, 1e-9)
		assert.EqualValues(t, 1, b.calls.Load())

		prompt := b.prompt.Load().(string)
		assert.Contains(t, prompt, "Players:\n- Alice: 1500, square 3\n- Bob: 900, square 12\nTurn: 7")
		assert.Contains(t, prompt, "Popup: Buy Park Place for 350?")
		assert.Contains(t, prompt, "Options: buy, auction")
	})

	t.Run("missing explanation uses default reason", func(t *testing.T) {
		p := NewPolicy(WithBackend(&fakeBackend{answer: "buy"}, "m"), WithRateLimit(0))
		res := p.Decide(context.Background(), Request{PopupID: "p1", Options: options("buy", "auction")})
		assert.Equal(t, "buy", res.Choice)
		assert.Equal(t, ReasonDefaultBackend, res.Reason)
	})

	t.Run("out of vocabulary falls back", func(t *testing.T) {
		p := NewPolicy(WithBackend(&fakeBackend{answer: "mortgage|cash"}, "m"), WithRateLimit(0))
		res := p.Decide(context.Background(), Request{PopupID: "p1", Options: options("auction", "trade")})
		assert.Equal(t, "auction", res.Choice)
		assert.InDelta(t, 0.5, res.Confidence, 1e-9)
		assert.EqualValues(t, 1, p.Status().Failures)
	})

	t.Run("error falls back", func(t *testing.T) {
		p := NewPolicy(WithBackend(&fakeBackend{err: errors.New("boom")}, "m"), WithRateLimit(0))
		res := p.Decide(context.Background(), Request{PopupID: "p1", Options: options("zzz")})
		assert.Equal(t, "zzz", res.Choice)
		assert.InDelta(t, 0.3, res.Confidence, 1e-9)
	})

	t.Run("timeout falls back", func(t *testing.T) {
		b := &fakeBackend{answer: "auction|slow", delay: time.Second}
		p := NewPolicy(WithBackend(b, "m"), WithTimeout(20*time.Millisecond), WithRateLimit(0))

		start := time.Now()
		res := p.Decide(context.Background(), Request{PopupID: "p1", Options: options("buy", "auction")})
		assert.Less(t, time.Since(start), 500*time.Millisecond)
		assert.Equal(t, "buy", res.Choice)
		assert.InDelta(t, 0.5, res.Confidence, 1e-9)
	})

	t.Run("disabled backend is skipped", func(t *testing.T) {
		b := &fakeBackend{answer: "auction|x"}
		p := NewPolicy(WithBackend(b, "m"), WithRateLimit(0))
		p.SetEnabled(false)

		res := p.Decide(context.Background(), Request{PopupID: "p1", Options: options("buy", "auction")})
		assert.Equal(t, "buy", res.Choice)
		assert.EqualValues(t, 0, b.calls.Load())
		assert.False(t, p.Status().Available)
		assert.True(t, p.Status().Configured)
	})

	t.Run("empty options never call backend", func(t *testing.T) {
		b := &fakeBackend{answer: "buy|x"}
		p := NewPolicy(WithBackend(b, "m"), WithRateLimit(0))
		res := p.Decide(context.Background(), Request{PopupID: "p1"})
		assert.Equal(t, ChoiceNone, res.Choice)
		assert.EqualValues(t, 0, b.calls.Load())
	})

	t.Run("open breaker skips backend", func(t *testing.T) {
		b := &fakeBackend{err: errors.New("down")}
		p := NewPolicy(WithBackend(b, "m"), WithRateLimit(0), WithBreaker(NewCircuitBreaker(2, time.Hour)))

		req := Request{PopupID: "p1", Options: options("buy")}
		for i := 0; i < 4; i++ {
			p.Decide(context.Background(), req)
		}
		assert.EqualValues(t, 2, b.calls.Load())
		assert.Equal(t, "open", p.Status().Breaker)
	})
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		in, choice, reason string
	}{
		{"buy|good value", "buy", "good value"},
		{"  Next Turn  |  nothing to do ", "next turn", "nothing to do"},
		{"auction", "auction", ReasonDefaultBackend},
		{"trade|", "trade", ReasonDefaultBackend},
		{"", "", ReasonDefaultBackend},
		{"a|b|c", "a", "b|c"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			choice, reason := ParseResponse(tt.in)
			assert.Equal(t, tt.choice, choice)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestSummarizeContext(t *testing.T) {
	assert.Equal(t, "No game context available", SummarizeContext(nil))
	assert.Equal(t, "Players:\nTurn: 0", SummarizeContext(gamectx.Empty()))
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(2, 10*time.Second)
	cb.now = func() time.Time { return now }

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	now = now.Add(11 * time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	now = now.Add(11 * time.Second)
	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}
