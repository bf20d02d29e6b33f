package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/boardlink/internal/decision"
	"github.com/dyluth/boardlink/internal/printer"
	"github.com/dyluth/boardlink/internal/watch"
)

var (
	decideText    string
	decideID      string
	decideTimeout time.Duration
	decideRecentN int
)

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Inspect and drive the decision policy",
	Long: `Inspect and drive the popup decision policy.

Examples:
  # Is the AI backend available?
  boardlink decide status

  # Fall back to the priority list only
  boardlink decide disable

  # Ask for a decision the way the engine would
  boardlink decide ask --text "Buy Mayfair for $400?" Buy Auction

  # Wait for the decision on an engine popup (needs redis)
  boardlink decide wait 7f0c1d

  # Show recent decisions recorded in redis
  boardlink decide recent -n 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var decideStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show decision backend status",
	RunE:  runDecideStatus,
}

var decideEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Let the policy consult the AI backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDecisionEnabled(cmd, true)
	},
}

var decideDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Use only the priority list and first-option fallbacks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDecisionEnabled(cmd, false)
	},
}

var decideAskCmd = &cobra.Command{
	Use:   "ask OPTION...",
	Short: "Submit a popup and print the decision",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDecideAsk,
}

var decideWaitCmd = &cobra.Command{
	Use:   "wait POPUP_ID",
	Short: "Wait for the decision on a popup via the redis mirror",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecideWait,
}

var decideRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recent decisions from the redis mirror",
	RunE:  runDecideRecent,
}

func init() {
	decideAskCmd.Flags().StringVar(&decideText, "text", "", "Popup text (required)")
	decideAskCmd.Flags().StringVar(&decideID, "id", "", "Popup ID (generated if omitted)")
	decideAskCmd.Flags().DurationVar(&decideTimeout, "timeout", 30*time.Second, "How long to wait for the decision")
	_ = decideAskCmd.MarkFlagRequired("text")

	decideWaitCmd.Flags().DurationVar(&decideTimeout, "timeout", 30*time.Second, "How long to wait for the decision")
	addRedisFlags(decideWaitCmd)

	decideRecentCmd.Flags().IntVarP(&decideRecentN, "number", "n", 10, "Number of decisions to show")
	addRedisFlags(decideRecentCmd)

	decideCmd.AddCommand(decideStatusCmd, decideEnableCmd, decideDisableCmd, decideAskCmd, decideWaitCmd, decideRecentCmd)
	rootCmd.AddCommand(decideCmd)
}

func printBackendStatus(st decision.BackendStatus) {
	model := st.Model
	if model == "" {
		model = "-"
	}
	printer.KeyValues(
		[]string{"available", "configured", "enabled", "model", "breaker", "failures"},
		map[string]string{
			"available":  fmt.Sprint(st.Available),
			"configured": fmt.Sprint(st.Configured),
			"enabled":    fmt.Sprint(st.Enabled),
			"model":      model,
			"breaker":    st.Breaker,
			"failures":   fmt.Sprint(st.Failures),
		},
	)
}

func runDecideStatus(cmd *cobra.Command, args []string) error {
	client, err := clientFor(cmd)
	if err != nil {
		return err
	}
	var st decision.BackendStatus
	if err := client.get(commandContext(cmd), "/api/decision", &st); err != nil {
		return reportAPIError(client, "query decision backend", err)
	}
	printBackendStatus(st)
	return nil
}

func setDecisionEnabled(cmd *cobra.Command, enabled bool) error {
	client, err := clientFor(cmd)
	if err != nil {
		return err
	}
	var st decision.BackendStatus
	if err := client.post(commandContext(cmd), "/api/decision", map[string]any{"enabled": enabled}, &st); err != nil {
		return reportAPIError(client, "toggle decision backend", err)
	}
	if enabled && !st.Configured {
		printer.Warning("Backend enabled but not configured, decisions use the priority list\n")
	} else if enabled {
		printer.Success("AI backend enabled\n")
	} else {
		printer.Success("AI backend disabled\n")
	}
	return nil
}

func runDecideAsk(cmd *cobra.Command, args []string) error {
	client, err := clientFor(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	body := map[string]any{"id": decideID, "text": decideText, "options": args}
	var created struct {
		PopupID string `json:"popup_id"`
	}
	if err := client.post(ctx, "/api/popups", body, &created); err != nil {
		return reportAPIError(client, "submit popup", err)
	}
	printer.Step("Popup %s submitted, waiting for decision...\n", created.PopupID)

	res, err := pollPopup(ctx, client, created.PopupID, decideTimeout)
	if err != nil {
		return reportAPIError(client, "get decision", err)
	}
	printDecision(res)
	return nil
}

// pollPopup polls GET /api/popups/{id} until the decision is available.
func pollPopup(ctx context.Context, client *apiClient, id string, timeout time.Duration) (decision.Result, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	timeoutCh := time.After(timeout)

	path := "/api/popups/" + url.PathEscape(id)
	for {
		var res decision.Result
		err := client.get(ctx, path, &res)
		if err == nil {
			return res, nil
		}
		var apiErr *apiError
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || apiErr.Body["pending"] != true {
			return decision.Result{}, err
		}

		select {
		case <-ctx.Done():
			return decision.Result{}, ctx.Err()
		case <-timeoutCh:
			return decision.Result{}, fmt.Errorf("timeout waiting for decision after %v", timeout)
		case <-ticker.C:
		}
	}
}

func printDecision(res decision.Result) {
	printer.Success("Decision: %s\n", res.Choice)
	printer.KeyValues(
		[]string{"popup", "reason", "confidence"},
		map[string]string{
			"popup":      res.PopupID,
			"reason":     res.Reason,
			"confidence": fmt.Sprintf("%.1f", res.Confidence),
		},
	)
}

func runDecideWait(cmd *cobra.Command, args []string) error {
	client, err := blackboardFor(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	rec, err := watch.PollForDecision(commandContext(cmd), client, args[0], decideTimeout)
	if err != nil {
		return printer.Error("no decision", err.Error(), []string{
			"Check the popup ID in the bridge logs:\n  boardlink watch --type 'ai_decision_*'",
		})
	}
	printDecision(decision.Result{
		PopupID:    rec.PopupID,
		Choice:     rec.Choice,
		Reason:     rec.Reason,
		Confidence: rec.Confidence,
	})
	return nil
}

func runDecideRecent(cmd *cobra.Command, args []string) error {
	client, err := blackboardFor(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	recs, err := client.RecentDecisions(commandContext(cmd), decideRecentN)
	if err != nil {
		return fmt.Errorf("failed to read decisions: %w", err)
	}
	if len(recs) == 0 {
		printer.Info("No decisions recorded\n")
		return nil
	}
	for _, r := range recs {
		at := time.UnixMilli(r.DecidedAtMs).Local().Format(time.TimeOnly)
		printer.Printf("[%s] %-10s %-12s %.1f  %s (options: %s)\n",
			at, shortID(r.PopupID), r.Choice, r.Confidence, r.Reason, strings.Join(r.Options, ", "))
	}
	return nil
}
