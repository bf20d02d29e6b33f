package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyluth/boardlink/internal/filter"
	"github.com/dyluth/boardlink/internal/printer"
	"github.com/dyluth/boardlink/internal/store"
	"github.com/dyluth/boardlink/internal/timespec"
	"github.com/dyluth/boardlink/internal/watch"
)

var (
	historyDB     string
	historyOutput string
	historySince  string
	historyUntil  string
	historyType   string
	historySource string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query the archived event history",
	Long: `Query the sqlite event archive written by the bridge (context.history_db).
Works offline; the bridge does not need to be running.

Time Filters:
  --since  - Show events after this time
  --until  - Show events before this time
  Both accept a duration ("2h"), RFC3339 or a clock time ("13:04:05").

Content Filters:
  --type   - Filter by event type (glob pattern: "player_*")
  --source - Filter by source (exact match: "listener.players")

Examples:
  # Money changes in the last 30 minutes
  boardlink history --type player_money_changed --since 30m

  # Everything as JSON for jq
  boardlink history --output=json --limit 0 | jq .data`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDB, "db", "", "History database (overrides context.history_db)")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", "default", "Output format (default or json)")
	historyCmd.Flags().StringVar(&historySince, "since", "", "Show events after time (duration, RFC3339 or HH:MM:SS)")
	historyCmd.Flags().StringVar(&historyUntil, "until", "", "Show events before time (duration, RFC3339 or HH:MM:SS)")
	historyCmd.Flags().StringVar(&historyType, "type", "", "Filter by event type (glob pattern)")
	historyCmd.Flags().StringVar(&historySource, "source", "", "Filter by event source (exact match)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 100, "Show at most this many recent events (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	format, err := watch.ParseOutputFormat(historyOutput)
	if err != nil {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", historyOutput),
			[]string{"Valid formats: default, json"},
		)
	}

	since, until, err := timespec.ParseRange(historySince, historyUntil)
	if err != nil {
		return printer.Error("invalid time filter", err.Error(), []string{
			"Use a duration like '1h30m', RFC3339 like '2025-10-29T13:00:00Z' or a clock time like '13:04:05'",
		})
	}
	criteria := filter.Criteria{
		SinceTimestampMs: since,
		UntilTimestampMs: until,
		TypeGlob:         historyType,
		Source:           historySource,
	}

	path := historyDB
	if path == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		path = cfg.Context.HistoryDB
	}
	if path == "" {
		return printer.Error("history archive disabled", "context.history_db is empty in the configuration.", []string{
			"Point at a database file:\n  boardlink history --db data/context/history.db",
		})
	}
	if _, err := os.Stat(path); err != nil {
		return printer.ErrorWithContext("history archive not found", err.Error(), map[string]string{"Database": path}, []string{
			"The archive is created when the bridge first runs:\n  boardlink serve",
		})
	}

	h, err := store.OpenHistory(path, store.DefaultArchiveLimit)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer h.Close()

	evts, err := h.Query(commandContext(cmd), criteria, historyLimit)
	if err != nil {
		return err
	}

	f, err := watch.NewFormatter(format, printer.Out)
	if err != nil {
		return err
	}
	for i := range evts {
		if err := f.FormatEvent(&evts[i]); err != nil {
			return err
		}
	}
	if len(evts) == 0 && format == watch.OutputFormatDefault {
		printer.Info("No events match\n")
	}
	return nil
}
