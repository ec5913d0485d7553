package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/archivarius/archivarius/internal/archerr"
	"github.com/archivarius/archivarius/internal/archiveaction"
	"github.com/archivarius/archivarius/internal/config"
)

// defaultMinContentFileSize is applied to a task that leaves
// min-content-file-size unset.
const defaultMinContentFileSize = 2 * 1024 * 1024 * 1024

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "read the config file and run its archiving tasks",
	RunE:  runArchive,
}

func init() {
	archiveCmd.Flags().String("name", "", "only run the task with this name; if unset, every task runs")
}

func runArchive(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	cfgPath, _ := cmd.Flags().GetString("cfg-file")

	tasks, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	taskFound := false
	for _, t := range tasks {
		if name != "" && t.Name != name {
			continue
		}
		taskFound = true

		fmt.Fprintf(os.Stdout, "---- %s ----\n", t.Name)
		if err := runOneArchiveTask(t); err != nil {
			reportWarning(fmt.Sprintf("stopped processing task %q: %v", t.Name, err))
		}
	}

	if name != "" && !taskFound {
		return archerr.Newf(archerr.UserInputError, "task %q not found in the config file", name)
	}
	return nil
}

func runOneArchiveTask(t config.Task) error {
	opts := archiveaction.Options{
		ArchivePath:        t.Archive,
		Password:           []byte(t.Password),
		Root:               t.Root,
		FilesToArchive:     t.Include,
		FilesToIgnore:      t.Exclude,
		ProcessACL:         t.ProcessACL,
		Compress:           t.Compress,
		MinContentFileSize: t.MinContentFileSize,
		OnWarning:          reportWarning,
	}
	if opts.MinContentFileSize == 0 {
		opts.MinContentFileSize = defaultMinContentFileSize
	}

	seconds, ok, err := t.MaxStorageTimeSeconds()
	if err != nil {
		return err
	}
	if ok {
		opts.HasMaxStorageTime = true
		opts.MaxStorageTimeSeconds = seconds
	}

	return archiveaction.Run(opts)
}
