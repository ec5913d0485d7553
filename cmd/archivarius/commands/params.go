package commands

import (
	"github.com/spf13/cobra"

	"github.com/archivarius/archivarius/internal/archerr"
	"github.com/archivarius/archivarius/internal/config"
)

// resolvedArchive is what every single-archive command (list, list-files,
// remove, restore, test) needs to open a Catalogue.
type resolvedArchive struct {
	Path     string
	Password []byte
}

// addArchiveFlags registers the --archive/--name/--password flag group
// shared by every command that operates on one archive.
func addArchiveFlags(cmd *cobra.Command) {
	cmd.Flags().String("archive", "", "path to the archive (mutually exclusive with --name)")
	cmd.Flags().String("name", "", "name of a task in the config file (mutually exclusive with --archive)")
	cmd.Flags().String("password", "", "password to the archive, when using --archive directly")
}

// resolveArchive implements the original's get_archive_params: exactly
// one of --archive or --name must be set. --archive supplies the path
// (and optional --password) directly; --name looks the task up in the
// config file instead.
func resolveArchive(cmd *cobra.Command) (resolvedArchive, error) {
	name, _ := cmd.Flags().GetString("name")
	archive, _ := cmd.Flags().GetString("archive")
	if (name != "") == (archive != "") {
		return resolvedArchive{}, archerr.New(archerr.UserInputError, "either --name or --archive must be set, but not both")
	}

	if archive != "" {
		password, _ := cmd.Flags().GetString("password")
		return resolvedArchive{Path: archive, Password: []byte(password)}, nil
	}

	cfgPath, _ := cmd.Flags().GetString("cfg-file")
	tasks, err := config.Load(cfgPath)
	if err != nil {
		return resolvedArchive{}, err
	}
	for _, t := range tasks {
		if t.Name != name {
			continue
		}
		return resolvedArchive{Path: t.Archive, Password: []byte(t.Password)}, nil
	}
	return resolvedArchive{}, archerr.Newf(archerr.UserInputError, "task %q not found in the config file", name)
}
