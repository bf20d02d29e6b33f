package listener

import (
	"context"
	"sync"
)

// PlayerOverride sets administrative values for one player. Nil fields keep
// the detected value.
type PlayerOverride struct {
	ID       int     `json:"id"`
	Name     *string `json:"name,omitempty"`
	Money    *int    `json:"money,omitempty"`
	Position *int    `json:"position,omitempty"`
}

// fieldOverride pins one reported field to value while the detected value
// stays at base, the value seen on the first read after the override was set.
type fieldOverride[T comparable] struct {
	value T
	base  T
	armed bool
}

func newFieldOverride[T comparable](v *T) *fieldOverride[T] {
	if v == nil {
		return nil
	}
	return &fieldOverride[T]{value: *v}
}

// apply returns the value to report and whether the override still holds.
// Once the detected value leaves base the game has moved on (or adopted the
// override) and the detected value wins from then on.
func (f *fieldOverride[T]) apply(detected T) (T, bool) {
	if !f.armed {
		f.base, f.armed = detected, true
		return f.value, true
	}
	if detected != f.base {
		return detected, false
	}
	return f.value, true
}

type playerOverride struct {
	name     *fieldOverride[string]
	money    *fieldOverride[int]
	position *fieldOverride[int]
}

func (o *playerOverride) empty() bool {
	return o.name == nil && o.money == nil && o.position == nil
}

// OverrideReader wraps a StateReader and applies administrative overrides on
// top of the detected player values. The listener then observes an override
// as an ordinary change on its next player refresh. Each overridden field is
// released as soon as the detected value changes, so later game moves such
// as a rent payment are still reported.
type OverrideReader struct {
	inner StateReader

	mu        sync.Mutex
	overrides map[int]*playerOverride
}

// NewOverrideReader wraps inner.
func NewOverrideReader(inner StateReader) *OverrideReader {
	return &OverrideReader{inner: inner, overrides: make(map[int]*playerOverride)}
}

// SetPlayer merges o into the override for o.ID.
func (r *OverrideReader) SetPlayer(o PlayerOverride) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.overrides[o.ID]
	if !ok {
		cur = &playerOverride{}
		r.overrides[o.ID] = cur
	}
	if f := newFieldOverride(o.Name); f != nil {
		cur.name = f
	}
	if f := newFieldOverride(o.Money); f != nil {
		cur.money = f
	}
	if f := newFieldOverride(o.Position); f != nil {
		cur.position = f
	}
	if cur.empty() {
		delete(r.overrides, o.ID)
	}
}

// Clear drops every override, used when the session resets.
func (r *OverrideReader) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides = make(map[int]*playerOverride)
}

// Active reports how many players still carry at least one override.
func (r *OverrideReader) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.overrides)
}

func (r *OverrideReader) ReadGlobal(ctx context.Context) (GlobalState, error) {
	return r.inner.ReadGlobal(ctx)
}

func (r *OverrideReader) ReadPlayers(ctx context.Context) ([]PlayerState, error) {
	players, err := r.inner.ReadPlayers(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PlayerState, len(players))
	for i, p := range players {
		if o, ok := r.overrides[p.ID]; ok {
			var held bool
			if o.name != nil {
				if p.Name, held = o.name.apply(p.Name); !held {
					o.name = nil
				}
			}
			if o.money != nil {
				if p.Money, held = o.money.apply(p.Money); !held {
					o.money = nil
				}
			}
			if o.position != nil {
				if p.Position, held = o.position.apply(p.Position); !held {
					o.position = nil
				}
			}
			if o.empty() {
				delete(r.overrides, p.ID)
			}
		}
		out[i] = p
	}
	return out, nil
}
