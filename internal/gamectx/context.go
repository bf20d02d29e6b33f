package gamectx

import (
	"maps"
	"slices"
	"sort"

	"github.com/dyluth/boardlink/pkg/events"
)

// Status is the lifecycle state reported for the game context.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusError    Status = "error"
)

// Player is the aggregated view of one player.
type Player struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Money    int    `json:"money"`
	Position int    `json:"position"`
	Dice     []int  `json:"dice,omitempty"`
}

// Space is one board square as last reported.
type Space struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Owner  int    `json:"owner"`
	Houses int    `json:"houses"`
}

// Message is an on-screen message currently displayed.
type Message struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// Context is the aggregated, queryable game state. Values handed out by the
// Aggregator are never mutated afterwards; treat them as read-only.
type Context struct {
	Version     uint64
	Status      Status
	Message     string
	CurrentTurn int
	Players     map[int]Player
	Board       []Space
	Messages    []Message
	Events      []events.Event
}

// Empty returns a fresh context in the stopped state.
func Empty() *Context {
	return &Context{
		Status:  StatusStopped,
		Players: map[int]Player{},
	}
}

func (c *Context) clone() *Context {
	out := *c
	out.Players = maps.Clone(c.Players)
	if out.Players == nil {
		out.Players = map[int]Player{}
	}
	out.Board = slices.Clone(c.Board)
	out.Messages = slices.Clone(c.Messages)
	out.Events = slices.Clone(c.Events)
	return &out
}

// SortedPlayers returns players in ascending id order.
func (c *Context) SortedPlayers() []Player {
	ids := make([]int, 0, len(c.Players))
	for id := range c.Players {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]Player, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.Players[id])
	}
	return out
}

// PlayerNames returns names in ascending id order.
func (c *Context) PlayerNames() []string {
	players := c.SortedPlayers()
	names := make([]string, len(players))
	for i, p := range players {
		names[i] = p.Name
	}
	return names
}

// OwnedProperties returns board spaces that have an owner.
func (c *Context) OwnedProperties() []Space {
	var out []Space
	for _, s := range c.Board {
		if s.Owner != 0 {
			out = append(out, s)
		}
	}
	return out
}
