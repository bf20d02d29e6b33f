// Package blackboard mirrors a boardlink session into Redis so other
// processes can follow it without talking to the HTTP API.
//
// # Overview
//
// Three things are mirrored:
//
// The events channel carries every event published on the in-process bus
// (generic "*" mirrors excluded) as JSON. "boardlink watch" subscribes to it.
//
// The context key holds the latest context snapshot, written through on every
// applied event alongside the local JSON file.
//
// Decision hashes record every completed popup decision, indexed by time in a
// sorted set.
//
// # Multi-Session Support
//
// All Redis keys and Pub/Sub channels are namespaced by session name so
// several sessions can share one Redis server without interference.
//
// # Redis Schema
//
// Context snapshot: boardlink:{session}:context
// Decision: boardlink:{session}:decision:{popup_id}
// Decision index: boardlink:{session}:decisions
// Events channel: boardlink:{session}:events
//
// # Usage Example
//
//	client, err := blackboard.NewClientFromURL("redis://localhost:6379/0", "default")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	detach, err := client.Mirror(bus)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer detach()
package blackboard
