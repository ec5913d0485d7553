// Command archivarius is the CLI front-end over the internal/*
// archive, restore and test actions.
package main

import (
	"fmt"
	"os"

	"github.com/archivarius/archivarius/cmd/archivarius/commands"
)

func main() {
	err := commands.Execute()
	switch {
	case err != nil:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	case commands.HadWarning():
		os.Exit(1)
	default:
		os.Exit(0)
	}
}
