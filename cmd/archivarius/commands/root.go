// Package commands implements the archivarius command-line surface:
// one cobra subcommand per operation on an archive or a configured set
// of backup tasks.
package commands

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "archivarius",
	Short: "deduplicating, versioned filesystem backup engine",
	Long: `archivarius takes deduplicated, optionally encrypted and compressed
snapshots of a filesystem tree, and restores or verifies them later.

Run "archivarius [command] --help" for details on a specific command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var warningOccurred atomic.Bool

// reportWarning is passed as the OnWarning callback to every action
// package; it prints the warning and flips the process exit code to 1,
// mirroring the original CLI's report_warning closure.
func reportWarning(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	warningOccurred.Store(true)
}

// HadWarning reports whether any command invocation this process has
// run reported a warning, used by main to pick the exit code.
func HadWarning() bool {
	return warningOccurred.Load()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("cfg-file", "", "path to archivarius.conf (default: search the standard locations)")

	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(listFilesCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(versionCmd)
}
