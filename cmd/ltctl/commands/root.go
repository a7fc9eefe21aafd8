// Package commands implements the CLI commands for ltctl, the operator
// client for a lock table node's Admin/Stats Surface: stats, slaves,
// verbosity, lock-dump, rerun-queues, close.
package commands

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	adminAddr string
	timeout   time.Duration
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ltctl",
	Short: "ltctl - cluster lock table admin client",
	Long: `ltctl queries and operates on a single lock table node's admin
surface: stats, slave list, verbosity, lock dump, rerun-queues,
and socket close.

Use "ltctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminAddr, "addr", "127.0.0.1:40043", "lock table node admin_addr to connect to")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "round-trip timeout")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(slavesCmd)
	rootCmd.AddCommand(verbosityCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(rerunQueuesCmd)
	rootCmd.AddCommand(closeCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
	os.Exit(1)
}
