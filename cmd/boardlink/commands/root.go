package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyluth/boardlink/internal/config"
)

var (
	version string
	commit  string
	date    string

	configPath string
	apiAddr    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "boardlink",
	Short: "Boardlink - game state bridge and decision service",
	Long: `Boardlink watches a running board game engine, turns raw memory state
into a stream of typed events and an aggregated game context, and answers
in-game popups with an AI-backed decision policy.

Run "boardlink serve" to start the bridge. The other commands talk to a
running bridge over its HTTP API or read its persisted files.`,
	Version: version,
	// Prevent silent success when unknown flags are passed to root command
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no subcommand is specified, show help
		return cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.LoadDotEnv(".env")
	},
	// Enable strict flag parsing - unknown flags will cause an error
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	defaultConfig := os.Getenv("BOARDLINK_CONFIG")
	if defaultConfig == "" {
		defaultConfig = config.DefaultPath
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfig, "Path to boardlink.yml (env BOARDLINK_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", os.Getenv("BOARDLINK_API"), "Bridge API base URL (default derived from http.addr)")
}

// loadConfig loads the selected config file, falling back to defaults when
// the default path does not exist. An explicitly named file must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if cmd.Flags().Changed("config") {
		return config.Load(configPath)
	}
	return config.LoadOrDefault(configPath)
}
