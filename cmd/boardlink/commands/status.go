package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/boardlink/internal/gamectx"
	"github.com/dyluth/boardlink/internal/printer"
	"github.com/dyluth/boardlink/internal/supervisor"
)

type processStatus struct {
	Running         bool                        `json:"running"`
	GameInitialized bool                        `json:"game_initialized"`
	Starting        bool                        `json:"starting"`
	Message         string                      `json:"message"`
	Processes       []supervisor.ManagedProcess `json:"processes"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session, process and game status",
	RunE:  runStatus,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the managed processes and the game",
	RunE: func(cmd *cobra.Command, args []string) error {
		return processAction(cmd, "start processes", func(ctx context.Context, c *apiClient) error {
			return c.post(ctx, "/api/process/start", nil, nil)
		}, "Start requested, follow progress with:\n  boardlink status\n")
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the game and the managed processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return processAction(cmd, "stop processes", func(ctx context.Context, c *apiClient) error {
			return c.delete(ctx, "/api/process/stop", nil)
		}, "Stopped\n")
	},
}

var restartProcesses bool

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Reset the game context, optionally restarting processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{"restart_processes": restartProcesses}
		return processAction(cmd, "restart", func(ctx context.Context, c *apiClient) error {
			return c.post(ctx, "/api/restart", body, nil)
		}, "Restart requested\n")
	},
}

func init() {
	restartCmd.Flags().BoolVar(&restartProcesses, "processes", false, "Also restart the managed processes")
	rootCmd.AddCommand(statusCmd, startCmd, stopCmd, restartCmd)
}

func processAction(cmd *cobra.Command, action string, call func(context.Context, *apiClient) error, done string) error {
	client, err := clientFor(cmd)
	if err != nil {
		return err
	}
	if err := call(commandContext(cmd), client); err != nil {
		return reportAPIError(client, action, err)
	}
	printer.Success("%s", done)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := clientFor(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	var st processStatus
	if err := client.get(ctx, "/api/process/status", &st); err != nil {
		return reportAPIError(client, "query status", err)
	}
	var snap gamectx.Snapshot
	if err := client.get(ctx, "/api/context", &snap); err != nil {
		return reportAPIError(client, "query context", err)
	}

	printStatus(st, snap)
	return nil
}

func printStatus(st processStatus, snap gamectx.Snapshot) {
	printer.Println("Session:")
	printer.KeyValues(
		[]string{"status", "message", "running", "initialized", "turn", "players"},
		map[string]string{
			"status":      string(snap.Global.Status),
			"message":     snap.Global.Message,
			"running":     fmt.Sprint(st.Running),
			"initialized": fmt.Sprint(st.GameInitialized),
			"turn":        fmt.Sprint(snap.Global.CurrentTurn),
			"players":     strings.Join(snap.Global.PlayerNames, ", "),
		},
	)

	if len(st.Processes) == 0 {
		return
	}
	printer.Println()
	printer.Println("Processes:")
	for _, p := range st.Processes {
		detail := string(p.State)
		if p.PID > 0 {
			detail += fmt.Sprintf(" (pid %d)", p.PID)
		} else if p.ID != "" {
			detail += fmt.Sprintf(" (%s)", shortID(p.ID))
		}
		if p.Message != "" {
			detail += ": " + p.Message
		}
		printer.Check(p.State == supervisor.StateRunning, p.Name, detail)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
