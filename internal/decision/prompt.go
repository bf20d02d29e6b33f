package decision

import (
	"fmt"
	"strings"

	"github.com/dyluth/boardlink/internal/gamectx"
)

const systemPrompt = "You are an expert Monopoly player. Make strategic decisions to win the game."

// NewGameSummary copies the players and turn out of c. It returns nil for
// a nil context.
func NewGameSummary(c *gamectx.Context) *GameSummary {
	if c == nil {
		return nil
	}
	g := &GameSummary{Turn: c.CurrentTurn}
	for _, p := range c.SortedPlayers() {
		g.Players = append(g.Players, PlayerSummary{Name: p.Name, Money: p.Money, Position: p.Position})
	}
	return g
}

// String renders the summary as plain text for the prompt.
//
//	Players:
//	- Alice: 1500, square 3
//	Turn: 4
func (g *GameSummary) String() string {
	if g == nil {
		return "No game context available"
	}

	var b strings.Builder
	b.WriteString("Players:\n")
	for _, p := range g.Players {
		fmt.Fprintf(&b, "- %s: %d, square %d\n", p.Name, p.Money, p.Position)
	}
	fmt.Fprintf(&b, "Turn: %d", g.Turn)
	return b.String()
}

// SummarizeContext renders c the way the prompt shows it.
func SummarizeContext(c *gamectx.Context) string {
	return NewGameSummary(c).String()
}

// BuildPrompt renders the user prompt for one popup.
func BuildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Game situation:\n%s\n\n", req.Game.String())
	fmt.Fprintf(&b, "Popup: %s\n", req.PopupText)
	fmt.Fprintf(&b, "Options: %s\n\n", strings.Join(req.OptionNames(), ", "))
	b.WriteString("Choose the best option. Respond ONLY with the option name followed by | and a short explanation.\n")
	b.WriteString("Example: buy|good property to own")
	return b.String()
}

// ParseResponse splits "option|explanation". The choice is lower-cased and
// trimmed; a missing explanation yields ReasonDefaultBackend.
func ParseResponse(text string) (choice, reason string) {
	text = strings.TrimSpace(text)
	head, tail, found := strings.Cut(text, "|")
	choice = strings.ToLower(strings.TrimSpace(head))
	reason = ReasonDefaultBackend
	if found {
		if r := strings.TrimSpace(tail); r != "" {
			reason = r
		}
	}
	return choice, reason
}
