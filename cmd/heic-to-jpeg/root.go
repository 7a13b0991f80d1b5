package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

const (
	exitFatal        = 1
	exitFileFailures = 2
)

// These variables are set at build time using -ldflags.
var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = ""
)

// exitError carries the process exit code for a finished command.
type exitError struct {
	err  error
	code int
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// newRootCommand builds the command tree. reveal is invoked after a completed
// run when --open is given.
func newRootCommand(reveal RevealFunc) *cobra.Command {
	rootCommand := &cobra.Command{
		Use:   "heic-to-jpeg",
		Short: "Mirror a directory tree, converting HEIC/HEIF images to JPEG",
		Long: `heic-to-jpeg walks an input directory, converts every .heic/.heif image
to a .jpg (quality 95) and copies every other file unchanged into a parallel
output tree.

Available commands:
  convert  - Convert a directory tree
  version  - Print version information`,
		SilenceUsage: true,
	}

	rootCommand.AddCommand(newConvertCommand(reveal))
	rootCommand.AddCommand(newVersionCommand())

	return rootCommand
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			commit := gitCommit
			if commit == "" {
				commit = "unknown"
			}

			cmd.Printf("heic-to-jpeg %s (commit %s, built %s, %s)\n", version, commit, buildDate, runtime.Version())
		},
	}
}

func fatal(format string, args ...any) error {
	return &exitError{err: fmt.Errorf(format, args...), code: exitFatal}
}
