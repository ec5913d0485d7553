package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/archivarius/archivarius/internal/restoreaction"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "restore a snapshot from an archive to a target directory",
	RunE:  runRestore,
}

func init() {
	addArchiveFlags(restoreCmd)
	restoreCmd.Flags().String("target-dir", "", "directory to restore into (required)")
	restoreCmd.Flags().Uint("id", 0, "snapshot id to restore, from 'list' (default: most recent)")
	restoreCmd.Flags().String("prefix", "", "restore only paths under this prefix, stripping its parent from the destination")
	_ = restoreCmd.MarkFlagRequired("target-dir")
}

func runRestore(cmd *cobra.Command, args []string) error {
	ra, err := resolveArchive(cmd)
	if err != nil {
		return err
	}
	targetDir, _ := cmd.Flags().GetString("target-dir")
	id, _ := cmd.Flags().GetUint("id")
	prefix, _ := cmd.Flags().GetString("prefix")
	prefix = strings.Trim(prefix, "/")

	return restoreaction.Restore(restoreaction.RestoreOptions{
		ArchivePath:   ra.Path,
		Password:      ra.Password,
		TargetDir:     targetDir,
		SnapshotIndex: int(id),
		Prefix:        prefix,
		OnWarning:     reportWarning,
	})
}
