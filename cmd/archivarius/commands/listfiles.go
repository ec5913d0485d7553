package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/archivarius/archivarius/internal/catalogue"
	"github.com/archivarius/archivarius/internal/snapshot"
)

var listFilesCmd = &cobra.Command{
	Use:   "list-files",
	Short: "list every file recorded in one snapshot",
	RunE:  runListFiles,
}

func init() {
	addArchiveFlags(listFilesCmd)
	listFilesCmd.Flags().Uint("id", 0, "snapshot id to inspect, from 'list' (default: most recent)")
}

func runListFiles(cmd *cobra.Command, args []string) error {
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

	st, err := cat.FsState(int(id))
	if err != nil {
		return err
	}

	for _, f := range st.Files() {
		fmt.Println(f.Path)
		switch f.Type {
		case snapshot.TypeFile:
			fmt.Println("File")
			if f.ContentRef != nil {
				fmt.Printf("Stored in: %s\n", f.ContentRef.ContentFileName)
			}
		case snapshot.TypeDir:
			fmt.Println("Directory")
		case snapshot.TypeSymlink:
			fmt.Printf("Symlink to: %s\n", f.SymlinkTarget)
		}
		if f.HasModTime {
			t := time.Unix(0, int64(f.ModTimeNanos))
			fmt.Printf("Modification time: %s\n", t.Format("2006 January 02 15:04:05"))
		}
		fmt.Println()
	}
	return nil
}
