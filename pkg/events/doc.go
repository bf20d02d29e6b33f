// Package events provides the in-process event bus that connects the game
// state listener, the context aggregator and the decision pipeline.
//
// # Vocabulary
//
// Event types form a fixed vocabulary (see Type). State changes detected by
// the listener are always published twice: once with the specific type
// (for example TypePlayerMoneyChanged) and once as TypeAny, whose data
// carries the specific type under DataKeyEventType.
//
// # Delivery
//
// Handlers are invoked on a goroutine owned by their subscription, never on
// the publisher's goroutine. For a single publisher, each subscriber sees
// events in publish order. A handler that returns an error or panics is
// logged and skipped; other subscribers and the publisher are unaffected.
//
// Publish never blocks longer than the dispatch budget per subscriber. If a
// subscriber's queue is still full when the budget expires the event is
// dropped for that subscriber and counted in Dropped.
//
// # Usage
//
//	bus := events.NewBus()
//	defer bus.Close()
//
//	bus.Subscribe(events.TypePlayerMoneyChanged, "ledger", func(e events.Event) error {
//	    log.Printf("money changed: %v", e.Data)
//	    return nil
//	})
//	bus.Publish(events.TypePlayerMoneyChanged, map[string]any{"id": 1, "new": 1400}, "listener")
package events
