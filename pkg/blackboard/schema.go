package blackboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by session name so
// several boardlink sessions can share one Redis server.
//
// Key pattern: boardlink:{session}:{entity}[:{id}]
// Channel pattern: boardlink:{session}:events

// ContextKey returns the Redis key holding the latest context snapshot JSON.
// Pattern: boardlink:{session}:context
func ContextKey(session string) string {
	return fmt.Sprintf("boardlink:%s:context", session)
}

// DecisionKey returns the Redis key for a popup decision hash.
// Pattern: boardlink:{session}:decision:{popup_id}
func DecisionKey(session, popupID string) string {
	return fmt.Sprintf("boardlink:%s:decision:%s", session, popupID)
}

// DecisionIndexKey returns the Redis key of the sorted set indexing decisions by time.
// Pattern: boardlink:{session}:decisions
func DecisionIndexKey(session string) string {
	return fmt.Sprintf("boardlink:%s:decisions", session)
}

// EventsChannel returns the Pub/Sub channel carrying every bus event.
// Pattern: boardlink:{session}:events
func EventsChannel(session string) string {
	return fmt.Sprintf("boardlink:%s:events", session)
}
