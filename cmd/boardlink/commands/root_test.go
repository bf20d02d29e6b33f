package commands

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRootCommand_ShowsHelpWhenNoSubcommand tests that the root command
// shows help instead of silently succeeding when invoked without a subcommand
func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	testRoot := &cobra.Command{
		Use:   "boardlink",
		Short: "Test root command",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	buf := new(bytes.Buffer)
	testRoot.SetOut(buf)
	testRoot.SetErr(buf)

	err := testRoot.Execute()

	assert.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "Usage:", "Help should be displayed")
	assert.Contains(t, output, "boardlink", "Help should show command name")
}

// TestRootCommand_RejectsSubcommandFlags tests that flags meant for
// subcommands (like --start) are rejected when passed to root command
func TestRootCommand_RejectsSubcommandFlags(t *testing.T) {
	testRoot := &cobra.Command{
		Use:   "boardlink",
		Short: "Test root command",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		FParseErrWhitelist: cobra.FParseErrWhitelist{},
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve subcommand",
		RunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}
	serve.Flags().Bool("start", false, "Start immediately")
	testRoot.AddCommand(serve)

	testRoot.SetArgs([]string{"--start"})

	buf := new(bytes.Buffer)
	testRoot.SetOut(buf)
	testRoot.SetErr(buf)

	err := testRoot.Execute()
	assert.Error(t, err, "Subcommand flag passed to root should cause error")
	assert.Contains(t, err.Error(), "unknown flag: --start")
}

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"serve", "status", "start", "stop", "restart", "health", "players", "decide", "watch", "history", "context", "init"} {
		assert.True(t, names[want], "missing command %s", want)
	}

	players, _, err := rootCmd.Find([]string{"players", "set"})
	require.NoError(t, err)
	assert.Equal(t, "set", players.Name())

	ask, _, err := rootCmd.Find([]string{"decide", "ask"})
	require.NoError(t, err)
	assert.NotNil(t, ask.Flags().Lookup("text"))
}

func TestSetVersionInfo(t *testing.T) {
	prev := rootCmd.Version
	t.Cleanup(func() { rootCmd.Version = prev })

	SetVersionInfo("1.2.3", "abc123", "2025-01-01")
	assert.Equal(t, "1.2.3 (commit: abc123, built: 2025-01-01)", rootCmd.Version)
}
