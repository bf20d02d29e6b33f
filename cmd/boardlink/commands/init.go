package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/boardlink/internal/printer"
	"github.com/dyluth/boardlink/internal/scaffold"
)

var (
	forceInit bool
	initDir   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a boardlink.yml and data directories",
	Long: `Initialize a bridge working directory.

Creates:
  • boardlink.yml - Bridge configuration with defaults and commented examples
  • .env.example  - Environment variables read at startup
  • data/state/ and data/context/ - State input and context output

Use --force to replace an existing boardlink.yml (data is kept).`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Replace an existing boardlink.yml")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to initialize")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if !forceInit {
		if err := scaffold.CheckExisting(initDir); err != nil {
			return printer.Error("already initialized", err.Error(), nil)
		}
	}

	created, err := scaffold.Initialize(initDir, forceInit)
	if err != nil {
		return printer.Error("initialization failed", err.Error(), nil)
	}

	printer.Success("Initialized boardlink in %s\n", initDir)
	printer.Println("\nCreated:")
	for _, path := range created {
		printer.Printf("  ✓ %s\n", path)
	}
	printer.Println("\nNext steps:")
	printer.Println("  1. Declare the engine and memory bridge under processes: in boardlink.yml")
	printer.Println("  2. Copy .env.example to .env and set ANTHROPIC_API_KEY")
	printer.Println("  3. Run 'boardlink serve --start'")
	return nil
}
