package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dyluth/boardlink/internal/gamectx"
	"github.com/dyluth/boardlink/internal/listener"
	"github.com/dyluth/boardlink/internal/printer"
)

var (
	playerName     string
	playerMoney    int
	playerPosition int
)

var playersCmd = &cobra.Command{
	Use:   "players",
	Short: "List players in the running game",
	RunE:  runPlayers,
}

var playersSetCmd = &cobra.Command{
	Use:   "set PLAYER_ID",
	Short: "Override a player's name, money or position",
	Long: `Override detected player values. The override is written through the
state reader and shows up in the game context on the next poll.

Examples:
  boardlink players set 1 --money 2000
  boardlink players set 2 --name Bob --position 0`,
	Args: cobra.ExactArgs(1),
	RunE: runPlayersSet,
}

func init() {
	playersSetCmd.Flags().StringVar(&playerName, "name", "", "New player name")
	playersSetCmd.Flags().IntVar(&playerMoney, "money", 0, "New money balance")
	playersSetCmd.Flags().IntVar(&playerPosition, "position", 0, "New board position (0-39)")
	playersCmd.AddCommand(playersSetCmd)
	rootCmd.AddCommand(playersCmd)
}

func runPlayers(cmd *cobra.Command, args []string) error {
	client, err := clientFor(cmd)
	if err != nil {
		return err
	}

	var resp struct {
		Players []gamectx.Player `json:"players"`
	}
	if err := client.get(commandContext(cmd), "/api/players", &resp); err != nil {
		return reportAPIError(client, "list players", err)
	}

	if len(resp.Players) == 0 {
		printer.Info("No players detected\n")
		return nil
	}
	printer.Printf("%-4s %-16s %8s %8s\n", "ID", "NAME", "MONEY", "SQUARE")
	for _, p := range resp.Players {
		printer.Printf("%-4d %-16s %8d %8d\n", p.ID, p.Name, p.Money, p.Position)
	}
	return nil
}

// overrideFromFlags builds an override from the flags the user set.
func overrideFromFlags(cmd *cobra.Command, idArg string) (listener.PlayerOverride, error) {
	id, err := strconv.Atoi(idArg)
	if err != nil {
		return listener.PlayerOverride{}, fmt.Errorf("invalid player id %q", idArg)
	}
	o := listener.PlayerOverride{ID: id}
	flags := cmd.Flags()
	if flags.Changed("name") {
		o.Name = &playerName
	}
	if flags.Changed("money") {
		o.Money = &playerMoney
	}
	if flags.Changed("position") {
		o.Position = &playerPosition
	}
	if o.Name == nil && o.Money == nil && o.Position == nil {
		return o, fmt.Errorf("nothing to update: set --name, --money or --position")
	}
	return o, nil
}

func runPlayersSet(cmd *cobra.Command, args []string) error {
	o, err := overrideFromFlags(cmd, args[0])
	if err != nil {
		return printer.Error("invalid player update", err.Error(), nil)
	}

	client, err := clientFor(cmd)
	if err != nil {
		return err
	}
	if err := client.post(commandContext(cmd), "/api/players", o, nil); err != nil {
		return reportAPIError(client, "update player", err)
	}
	printer.Success("Player %d updated\n", o.ID)
	return nil
}
