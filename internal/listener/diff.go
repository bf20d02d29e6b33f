package listener

import (
	"slices"
	"sort"

	"github.com/dyluth/boardlink/pkg/events"
)

const (
	sourceGlobal  = "listener.global"
	sourcePlayers = "listener.players"
)

// diffPlayers compares two player polls in ascending id order and returns
// one specific event per changed field. Within a player the field order is
// name, money, dice, position.
func diffPlayers(prev map[int]PlayerState, cur []PlayerState) []events.Event {
	curByID := make(map[int]PlayerState, len(cur))
	for _, p := range cur {
		curByID[p.ID] = p
	}

	ids := make([]int, 0, len(prev)+len(curByID))
	for id := range prev {
		ids = append(ids, id)
	}
	for id := range curByID {
		if _, ok := prev[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	var out []events.Event
	emit := func(t events.Type, data map[string]any) {
		out = append(out, events.New(t, data, sourcePlayers))
	}

	for _, id := range ids {
		old, had := prev[id]
		p, has := curByID[id]

		switch {
		case has && !had:
			emit(events.TypePlayerAdded, map[string]any{
				"id":       p.ID,
				"name":     p.Name,
				"money":    p.Money,
				"position": p.Position,
				"dice":     slices.Clone(p.Dice),
			})
		case had && !has:
			emit(events.TypePlayerRemoved, map[string]any{
				"id":   old.ID,
				"name": old.Name,
			})
		default:
			if old.Name != p.Name {
				emit(events.TypePlayerNameChanged, map[string]any{"id": id, "old": old.Name, "new": p.Name})
			}
			if old.Money != p.Money {
				emit(events.TypePlayerMoneyChanged, map[string]any{"id": id, "name": p.Name, "old": old.Money, "new": p.Money})
			}
			if !slices.Equal(old.Dice, p.Dice) {
				emit(events.TypePlayerDiceChanged, map[string]any{"id": id, "name": p.Name, "old": slices.Clone(old.Dice), "new": slices.Clone(p.Dice)})
			}
			if old.Position != p.Position {
				emit(events.TypePlayerGotoChanged, map[string]any{"id": id, "name": p.Name, "old": old.Position, "new": p.Position})
			}
		}
	}
	return out
}

// diffGlobal compares two board-level polls: turn first, then messages by
// ascending id, then board spaces by ascending index.
func diffGlobal(prev, cur GlobalState) []events.Event {
	var out []events.Event
	emit := func(t events.Type, data map[string]any) {
		out = append(out, events.New(t, data, sourceGlobal))
	}

	if prev.Turn != cur.Turn {
		emit(events.TypeTurnChanged, map[string]any{"old": prev.Turn, "new": cur.Turn})
	}

	prevMsgs := make(map[int]Message, len(prev.Messages))
	for _, m := range prev.Messages {
		prevMsgs[m.ID] = m
	}
	curMsgs := make(map[int]Message, len(cur.Messages))
	for _, m := range cur.Messages {
		curMsgs[m.ID] = m
	}
	msgIDs := make([]int, 0, len(prevMsgs)+len(curMsgs))
	for id := range prevMsgs {
		msgIDs = append(msgIDs, id)
	}
	for id := range curMsgs {
		if _, ok := prevMsgs[id]; !ok {
			msgIDs = append(msgIDs, id)
		}
	}
	sort.Ints(msgIDs)

	for _, id := range msgIDs {
		old, had := prevMsgs[id]
		m, has := curMsgs[id]
		switch {
		case has && !had:
			emit(events.TypeMessageAdded, map[string]any{"id": m.ID, "text": m.Text})
		case had && !has:
			emit(events.TypeMessageRemoved, map[string]any{"id": old.ID, "text": old.Text})
		case old.Text != m.Text:
			emit(events.TypeMessageRemoved, map[string]any{"id": old.ID, "text": old.Text})
			emit(events.TypeMessageAdded, map[string]any{"id": m.ID, "text": m.Text})
		}
	}

	prevSpaces := make(map[int]Space, len(prev.Board))
	for _, s := range prev.Board {
		prevSpaces[s.Index] = s
	}
	spaces := slices.Clone(cur.Board)
	slices.SortFunc(spaces, func(a, b Space) int { return a.Index - b.Index })
	for _, s := range spaces {
		if old, ok := prevSpaces[s.Index]; ok && old == s {
			continue
		}
		emit(events.TypeSpaceChanged, map[string]any{
			"index":  s.Index,
			"name":   s.Name,
			"owner":  s.Owner,
			"houses": s.Houses,
		})
	}

	return out
}
