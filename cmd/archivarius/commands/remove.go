package commands

import (
	"github.com/spf13/cobra"

	"github.com/archivarius/archivarius/internal/catalogue"
)

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "remove a snapshot from an archive",
	Long: `remove deletes one snapshot and its now-unreferenced content.

Only the oldest snapshot in the archive (the highest id from "list")
can be removed; removing any other id fails.`,
	RunE: runRemove,
}

func init() {
	addArchiveFlags(removeCmd)
	removeCmd.Flags().Uint("id", 0, "snapshot id to remove, from 'list' (required)")
	_ = removeCmd.MarkFlagRequired("id")
}

func runRemove(cmd *cobra.Command, args []string) error {
	ra, err := resolveArchive(cmd)
	if err != nil {
		return err
	}
	id, _ := cmd.Flags().GetUint("id")

	cat, err := catalogue.Open(ra.Path, ra.Password, nil)
	if err != nil {
		return err
	}
	defer cat.Close()

	if err := cat.RemoveSnapshot(int(id)); err != nil {
		return err
	}
	return cat.Commit()
}
