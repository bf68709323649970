// Root command for the pgbox CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/pgbox/internal/harness"
	"github.com/mesh-intelligence/pgbox/pkg/types"
)

// Exit codes. Setup failures use exitSetupError; a child command's exit
// code is propagated verbatim.
const (
	exitSuccess    = 0
	exitUsageError = 1
	exitSetupError = 2
)

// Global flag values.
var (
	flagConfigDir     string
	flagPreserve      bool
	flagFixtures      string
	flagMigrations    string
	flagEnvFile       string
	flagBinDir        string
	flagWorkDir       string
	flagReadyInterval time.Duration
	flagReadyTimeout  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "pgbox [flags] [--] <command> [args...]",
	Short: "Run a command against a disposable PostgreSQL instance",
	Long: `pgbox provisions a throwaway PostgreSQL instance bound to a private
unix-socket directory, loads fixtures, runs the given command with the
connection parameters exported in its environment, and tears the instance
down afterwards no matter how the command ends.

The pgbox exit code equals the command's exit code.`,
	Args:          cobra.MinimumNArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig(cmd)
		if err != nil {
			fmt.Fprintln(os.Stderr, "pgbox:", err)
			os.Exit(exitSetupError)
		}

		h := harness.New(cfg)
		code, err := h.Run(cmd.Context(), args[0], args[1:])
		if err != nil {
			fmt.Fprintln(os.Stderr, "pgbox:", err)
			os.Exit(exitSetupError)
		}

		os.Exit(code)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "configuration directory (default: platform config dir)")
	rootCmd.Flags().BoolVar(&flagPreserve, "preserve", false, "keep the workspace after the run and print its path")
	rootCmd.Flags().StringVar(&flagFixtures, "fixtures", "", "SQL file included by the fixture step")
	rootCmd.Flags().StringVar(&flagMigrations, "migrations", "", "goose migrations directory applied after fixtures")
	rootCmd.Flags().StringVar(&flagEnvFile, "env-file", "", "dotenv file merged into the command's environment")
	rootCmd.Flags().StringVar(&flagBinDir, "bin-dir", "", "directory holding the PostgreSQL executables (default: PATH)")
	rootCmd.Flags().StringVar(&flagWorkDir, "work-dir", "", "parent directory for workspaces (default: system temp)")
	rootCmd.Flags().DurationVar(&flagReadyInterval, "ready-interval", types.DefaultReadyInterval, "pause between readiness probes")
	rootCmd.Flags().DurationVar(&flagReadyTimeout, "ready-timeout", 0, "bound on the readiness poll (0 = poll forever)")

	// Flags of the child command must pass through untouched.
	rootCmd.Flags().SetInterspersed(false)

	rootCmd.AddCommand(versionCmd)
}
