package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyluth/boardlink/internal/filter"
	"github.com/dyluth/boardlink/internal/printer"
	"github.com/dyluth/boardlink/internal/watch"
	"github.com/dyluth/boardlink/pkg/blackboard"
)

var (
	watchOutputFormat string
	watchType         string
	watchSource       string

	redisURL     string
	redisSession string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor real-time game events",
	Long: `Monitor game events as the bridge emits them: player changes, messages,
turn changes, popup decisions and process lifecycle.

Events come from the redis mirror when one is configured (redis.url or
--redis), otherwise from the bridge's websocket stream.

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch everything
  boardlink watch

  # Only money changes
  boardlink watch --type player_money_changed

  # Export decisions as JSON
  boardlink watch --type 'ai_decision_*' --output=json > decisions.jsonl`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().StringVar(&watchType, "type", "", "Filter by event type (glob pattern)")
	watchCmd.Flags().StringVar(&watchSource, "source", "", "Filter by event source (exact match)")
	addRedisFlags(watchCmd)
	rootCmd.AddCommand(watchCmd)
}

// addRedisFlags registers the flags that select a redis mirror.
func addRedisFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&redisURL, "redis", "", "Redis URL of the mirror (overrides redis.url)")
	cmd.Flags().StringVar(&redisSession, "session", "", "Session name (overrides session.name)")
}

// mirrorTarget resolves the redis URL and session name from flags and
// config. The URL is empty when no mirror is configured.
func mirrorTarget(cmd *cobra.Command) (url, session string, err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", "", err
	}
	url = redisURL
	if url == "" && cfg.Redis != nil {
		url = cfg.Redis.URL
	}
	session = redisSession
	if session == "" {
		session = cfg.Session.Name
	}
	return url, session, nil
}

// blackboardFor connects to the redis mirror, which must be configured.
func blackboardFor(cmd *cobra.Command) (*blackboard.Client, error) {
	url, session, err := mirrorTarget(cmd)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, printer.Error(
			"no redis mirror configured",
			"This command reads the redis mirror, but neither redis.url nor --redis is set.",
			[]string{"Pass the mirror URL:\n  --redis redis://localhost:6379"},
		)
	}

	client, err := blackboard.NewClientFromURL(url, session)
	if err != nil {
		return nil, fmt.Errorf("failed to create blackboard client: %w", err)
	}
	if err := client.Ping(commandContext(cmd)); err != nil {
		client.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", url),
			map[string]string{"Session": session},
			[]string{"Check that the bridge's redis is running and reachable"},
		)
	}
	return client, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	outputFormat, err := watch.ParseOutputFormat(watchOutputFormat)
	if err != nil {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}
	criteria := filter.Criteria{TypeGlob: watchType, Source: watchSource}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	url, _, err := mirrorTarget(cmd)
	if err != nil {
		return err
	}
	if url != "" {
		client, err := blackboardFor(cmd)
		if err != nil {
			return err
		}
		defer client.Close()
		return watch.StreamActivity(ctx, client, criteria, outputFormat, printer.Out)
	}

	return watchRemote(ctx, cmd, criteria, outputFormat)
}

func watchRemote(ctx context.Context, cmd *cobra.Command, criteria filter.Criteria, format watch.OutputFormat) error {
	client, err := clientFor(cmd)
	if err != nil {
		return err
	}
	wsURL, err := watch.StreamURL(client.base, criteria)
	if err != nil {
		return err
	}
	stream, err := watch.DialStream(ctx, wsURL)
	if err != nil {
		return reportAPIError(client, "open event stream", err)
	}
	defer stream.Close()

	return watch.StreamEvents(ctx, stream, criteria, format, printer.Out)
}
