package listener

import (
	"context"
	"slices"
)

// PlayerState is one player as read from the external game.
type PlayerState struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Money    int    `json:"money"`
	Position int    `json:"position"`
	Dice     []int  `json:"dice,omitempty"`
}

// Message is an on-screen game message.
type Message struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// Space is one board square.
type Space struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Owner  int    `json:"owner"` // 0 = unowned
	Houses int    `json:"houses"`
}

// GlobalState is the board-level part of the game read on every tick.
type GlobalState struct {
	Turn     int       `json:"turn"`
	Messages []Message `json:"messages"`
	Board    []Space   `json:"board"`
}

// StateReader reads the external game. Implementations must be safe for
// concurrent use by the two polling loops.
type StateReader interface {
	ReadGlobal(ctx context.Context) (GlobalState, error)
	ReadPlayers(ctx context.Context) ([]PlayerState, error)
}

func sortedPlayers(players []PlayerState) []PlayerState {
	out := slices.Clone(players)
	slices.SortFunc(out, func(a, b PlayerState) int { return a.ID - b.ID })
	return out
}
