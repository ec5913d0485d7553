// Package config reads the TOML task-list configuration file that
// drives the `archive` subcommand (spec.md §6 Environment / CLI
// surface). Grounded in original_source/src/config.c++ for the field
// set, the config-file search path, and the max-storage-time suffix
// grammar, reimplemented over github.com/BurntSushi/toml in place of
// the original's bespoke property_tree parser.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/archivarius/archivarius/internal/archerr"
	"github.com/archivarius/archivarius/internal/hostfs"
)

// FileName is the configuration file's fixed base name.
const FileName = "archivarius.conf"

// Task is one `[[task]]` block: everything an Archive Action needs to
// run one backup job.
type Task struct {
	Name               string   `toml:"name"`
	Archive            string   `toml:"archive"`
	Root               string   `toml:"root"`
	Include            []string `toml:"include"`
	Exclude            []string `toml:"exclude"`
	MaxStorageTime     string   `toml:"max-storage-time"`
	ProcessACL         bool     `toml:"process-acl"`
	Password           string   `toml:"password"`
	MinContentFileSize uint64   `toml:"min-content-file-size"`
	// Compress turns on zstd compression for this task's content files
	// (spec.md §2 S1 describes the compression-off baseline); the
	// catalogue and snapshot state bodies are compressed regardless.
	Compress bool `toml:"compress"`
}

type fileFormat struct {
	Task []Task `toml:"task"`
}

// MaxStorageTimeSeconds parses t's max-storage-time suffix grammar
// (an integer followed by one of d/w/m/y) into a second count. Returns
// (0, false, nil) when the task has no max-storage-time set.
func (t Task) MaxStorageTimeSeconds() (seconds uint64, ok bool, err error) {
	if t.MaxStorageTime == "" {
		return 0, false, nil
	}
	var mult uint64
	switch t.MaxStorageTime[len(t.MaxStorageTime)-1] {
	case 'd':
		mult = 24 * 3600
	case 'w':
		mult = 7 * 24 * 3600
	case 'm':
		mult = 31 * 24 * 3600
	case 'y':
		mult = 365 * 24 * 3600
	default:
		return 0, false, archerr.New(archerr.UserInputError, "config: 'max-storage-time' value must end on 'd', 'w', 'm' or 'y'")
	}
	n, perr := strconv.ParseUint(t.MaxStorageTime[:len(t.MaxStorageTime)-1], 10, 64)
	if perr != nil {
		return 0, false, archerr.Wrap(archerr.UserInputError, "config: malformed 'max-storage-time' value", perr)
	}
	return n * mult, true, nil
}

// SearchPath returns the configuration file search order: the user's
// $HOME/.config directory first (if HOME is set), then the two system
// locations, matching spec.md §6 Environment.
func SearchPath() []string {
	var dirs []string
	if home := os.Getenv("HOME"); home != "" {
		dirs = append(dirs, filepath.Join(home, ".config"))
	}
	dirs = append(dirs, "/usr/local/etc", "/etc")
	paths := make([]string, len(dirs))
	for i, d := range dirs {
		paths[i] = filepath.Join(d, FileName)
	}
	return paths
}

// Locate finds the first existing configuration file along
// SearchPath, or returns an error naming every path it tried.
func Locate() (string, error) {
	tried := SearchPath()
	for _, p := range tried {
		if hostfs.Exists(p) {
			return p, nil
		}
	}
	return "", archerr.Newf(archerr.UserInputError, "config: %s was not found at: %s", FileName, strings.Join(tried, ", "))
}

// Load parses the configuration file at path (or the first one found
// via Locate, if path is empty) into its task list. ProcessACL is
// forced off for any task that requests it when the build cannot
// actually honor ACLs (spec.md §6 "the process_acls flag should be
// forced off").
func Load(path string) ([]Task, error) {
	if path == "" {
		var err error
		path, err = Locate()
		if err != nil {
			return nil, err
		}
	}

	var doc fileFormat
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, archerr.Wrapf(archerr.UserInputError, err, "config: can't read config file %s", path)
	}

	seenNames := make(map[string]bool, len(doc.Task))
	seenArchives := make(map[string]bool, len(doc.Task))
	for i := range doc.Task {
		t := &doc.Task[i]
		if seenNames[t.Name] {
			return nil, archerr.Newf(archerr.UserInputError, "config: task named %q already exists", t.Name)
		}
		seenNames[t.Name] = true
		if seenArchives[t.Archive] {
			return nil, archerr.Newf(archerr.UserInputError, "config: a task with archive %q already exists", t.Archive)
		}
		seenArchives[t.Archive] = true
		if t.Root == "" && len(t.Include) == 0 {
			return nil, archerr.Newf(archerr.UserInputError, "config: task %q must set either 'root' or 'include'", t.Name)
		}
		if t.ProcessACL && !hostfs.ACLSupported() {
			t.ProcessACL = false
		}
		if _, _, err := t.MaxStorageTimeSeconds(); err != nil {
			return nil, fmt.Errorf("config: task %q: %w", t.Name, err)
		}
	}
	return doc.Task, nil
}
