package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/boardlink/internal/health"
	"github.com/dyluth/boardlink/internal/printer"
)

var (
	healthRunChecks bool
	healthAutoStart bool
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check external dependencies",
	Long: `Probe the external dependencies declared under health.dependencies.

By default shows the current system status. With --check the bridge runs
its startup checks; adding --auto-start lets it launch the managed process
behind any dependency that is down.

Examples:
  boardlink health
  boardlink health --check --auto-start`,
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().BoolVar(&healthRunChecks, "check", false, "Run startup checks instead of reading status")
	healthCmd.Flags().BoolVar(&healthAutoStart, "auto-start", false, "Start missing dependencies (with --check)")
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	client, err := clientFor(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	if healthRunChecks {
		var resp struct {
			Success  bool     `json:"success"`
			Messages []string `json:"messages"`
		}
		body := map[string]any{"auto_start": healthAutoStart}
		if err := client.post(ctx, "/api/health/check", body, &resp); err != nil {
			return reportAPIError(client, "run health checks", err)
		}
		for _, m := range resp.Messages {
			printer.Info("  %s\n", m)
		}
		if !resp.Success {
			return printer.Error("startup checks failed", "One or more dependencies are unhealthy.", []string{
				"Start them automatically:\n  boardlink health --check --auto-start",
			})
		}
		printer.Success("All startup checks passed\n")
		return nil
	}

	var status health.SystemStatus
	if err := client.get(ctx, "/api/health", &status); err != nil {
		return reportAPIError(client, "query health", err)
	}
	printSystemStatus(status)
	if !status.Healthy {
		return printer.Error("dependencies unhealthy", "", []string{
			"Run startup checks with auto-start:\n  boardlink health --check --auto-start",
		})
	}
	return nil
}

func printSystemStatus(status health.SystemStatus) {
	if len(status.Dependencies) == 0 {
		printer.Info("No dependencies configured\n")
		return
	}
	printer.Println("Dependencies:")
	for _, d := range status.Dependencies {
		printer.Check(d.Healthy, d.Name, d.Kind+" "+d.Target+": "+d.Message)
	}
}
