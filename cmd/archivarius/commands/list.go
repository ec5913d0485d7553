package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/archivarius/archivarius/internal/catalogue"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list the snapshots held in an archive, newest first",
	RunE:  runList,
}

func init() {
	addArchiveFlags(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ra, err := resolveArchive(cmd)
	if err != nil {
		return err
	}

	cat, err := catalogue.Open(ra.Path, ra.Password, nil)
	if err != nil {
		return err
	}
	defer cat.Close()

	n := cat.NumStates()
	for i := 0; i < n; i++ {
		nanos, err := cat.StateTime(i)
		if err != nil {
			return err
		}
		t := time.Unix(0, int64(nanos))
		fmt.Printf("%d: %s\n", i, t.Format("2006 January 02 15:04:05"))
	}
	return nil
}
