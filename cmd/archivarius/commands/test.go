package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archivarius/archivarius/internal/restoreaction"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "verify every checksum in an archive and report any mismatch",
	RunE:  runTest,
}

func init() {
	addArchiveFlags(testCmd)
}

func runTest(cmd *cobra.Command, args []string) error {
	ra, err := resolveArchive(cmd)
	if err != nil {
		return err
	}

	if err := restoreaction.Test(restoreaction.TestOptions{
		ArchivePath: ra.Path,
		Password:    ra.Password,
		OnWarning:   reportWarning,
	}); err != nil {
		return err
	}
	fmt.Println("Test finished.")
	return nil
}
