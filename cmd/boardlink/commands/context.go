package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/boardlink/internal/gamectx"
	"github.com/dyluth/boardlink/internal/printer"
	"github.com/dyluth/boardlink/internal/store"
	"github.com/dyluth/boardlink/pkg/blackboard"
)

var (
	contextFile string
	contextJSON bool
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Show the last persisted game context",
	Long: `Show the game context the bridge last persisted. Reads the context file
(context.file) by default, or the redis mirror's snapshot with --redis.
Works offline; the bridge does not need to be running.

Examples:
  boardlink context
  boardlink context --json | jq '.players'
  boardlink context --redis redis://localhost:6379`,
	RunE: runContext,
}

func init() {
	contextCmd.Flags().StringVar(&contextFile, "file", "", "Context file (overrides context.file)")
	contextCmd.Flags().BoolVar(&contextJSON, "json", false, "Print the raw snapshot JSON")
	addRedisFlags(contextCmd)
	rootCmd.AddCommand(contextCmd)
}

func runContext(cmd *cobra.Command, args []string) error {
	var src store.SnapshotStore
	where := ""

	if cmd.Flags().Changed("redis") {
		client, err := blackboardFor(cmd)
		if err != nil {
			return err
		}
		defer client.Close()
		src, where = client, redisURL
	} else {
		path := contextFile
		if path == "" {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			path = cfg.Context.File
		}
		src, where = store.NewFileStore(path), path
	}

	data, err := src.LoadSnapshot(commandContext(cmd))
	if errors.Is(err, store.ErrNoSnapshot) || blackboard.IsNotFound(err) {
		return printer.ErrorWithContext("no context saved yet", "The bridge has not persisted a game context.",
			map[string]string{"Source": where},
			[]string{"Start the game:\n  boardlink start"})
	}
	if err != nil {
		return fmt.Errorf("failed to load context: %w", err)
	}

	if contextJSON {
		printer.Println(strings.TrimSpace(string(data)))
		return nil
	}

	c, err := gamectx.Unmarshal(data)
	if err != nil {
		return err
	}
	printContext(c)
	return nil
}

func printContext(c *gamectx.Context) {
	printer.KeyValues(
		[]string{"status", "message", "turn", "version"},
		map[string]string{
			"status":  string(c.Status),
			"message": c.Message,
			"turn":    fmt.Sprint(c.CurrentTurn),
			"version": fmt.Sprint(c.Version),
		},
	)

	players := c.SortedPlayers()
	if len(players) > 0 {
		printer.Println()
		printer.Printf("%-4s %-16s %8s %8s\n", "ID", "NAME", "MONEY", "SQUARE")
		for _, p := range players {
			printer.Printf("%-4d %-16s %8d %8d\n", p.ID, p.Name, p.Money, p.Position)
		}
	}

	if owned := c.OwnedProperties(); len(owned) > 0 {
		printer.Println()
		printer.Println("Properties:")
		for _, s := range owned {
			printer.Printf("  %-24s owner %d, houses %d\n", s.Name, s.Owner, s.Houses)
		}
	}

	if len(c.Messages) > 0 {
		printer.Println()
		printer.Println("Messages:")
		for _, m := range c.Messages {
			printer.Printf("  %s\n", m.Text)
		}
	}
}
