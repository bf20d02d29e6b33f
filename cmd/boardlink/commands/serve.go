package commands

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/boardlink/internal/api"
	"github.com/dyluth/boardlink/internal/printer"
	"github.com/dyluth/boardlink/internal/session"
)

var (
	serveAddr      string
	serveAutoStart bool
	serveChecks    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge and its HTTP API",
	Long: `Run the bridge: load boardlink.yml, build the session and serve the HTTP
control surface until interrupted.

With --start the managed processes and the game are brought up right away;
otherwise POST /api/process/start (or "boardlink start") does it later.

Examples:
  # Serve with boardlink.yml from the current directory
  boardlink serve

  # Check dependencies, auto-starting what is missing, then start the game
  boardlink serve --check --start

  # Use another config and listen address
  boardlink serve --config prod.yml --addr 127.0.0.1:6000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides http.addr)")
	serveCmd.Flags().BoolVar(&serveAutoStart, "start", false, "Start processes and the game immediately")
	serveCmd.Flags().BoolVar(&serveChecks, "check", false, "Run startup dependency checks with auto-start first")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return printer.ErrorWithContext(
			"invalid configuration",
			err.Error(),
			map[string]string{"Config": configPath},
			[]string{"Fix the configuration file and try again"},
		)
	}
	if serveAddr != "" {
		cfg.HTTP.Addr = serveAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := session.New(ctx, cfg)
	if err != nil {
		return printer.Error("failed to create session", err.Error(), nil)
	}
	defer sess.Close()

	// Everything logged also lands in the terminal buffer served by the API.
	log.SetOutput(io.MultiWriter(os.Stderr, sess.Terminal()))
	defer log.SetOutput(os.Stderr)

	srv := api.NewServer(sess)
	if err := srv.Start(cfg.HTTP.Addr); err != nil {
		return printer.ErrorWithContext(
			"failed to start API server",
			err.Error(),
			map[string]string{"Address": cfg.HTTP.Addr},
			[]string{"Choose another address:\n  boardlink serve --addr :5001"},
		)
	}
	printer.Success("Session '%s' serving on %s\n", cfg.Session.Name, baseURL(srv.Addr()))

	go sess.RunWatchdog(ctx)

	if serveChecks {
		printer.Step("Running startup checks...\n")
		ok, messages := sess.Health().PerformStartupChecks(ctx, true)
		for _, m := range messages {
			printer.Info("  %s\n", m)
		}
		if !ok {
			printer.Warning("Some dependencies are unhealthy\n")
		}
	}

	if serveAutoStart {
		err := sess.Start(ctx, func(ok bool, message string) {
			if ok {
				printer.Success("Game started: %s\n", message)
			} else {
				printer.Warning("Game failed to start: %s\n", message)
			}
		})
		if err != nil {
			printer.Warning("Start skipped: %v\n", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	printer.Info("Received signal %v, shutting down gracefully...\n", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] [API] Shutdown: %v", err)
	}
	if err := sess.Close(); err != nil {
		return fmt.Errorf("failed to stop session cleanly: %w", err)
	}

	printer.Success("Bridge stopped\n")
	return nil
}
