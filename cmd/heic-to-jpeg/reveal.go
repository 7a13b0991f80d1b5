package main

import (
	"fmt"
	"os/exec"
	"runtime"
)

// RevealFunc shows a directory to the user once a conversion completed.
type RevealFunc func(path string) error

// openInFileManager opens path with the platform file manager.
func openInFileManager(path string) error {
	var command *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		command = exec.Command("open", path)
	case "windows":
		command = exec.Command("explorer", path)
	default:
		command = exec.Command("xdg-open", path)
	}

	err := command.Start()
	if err != nil {
		return fmt.Errorf("start %s: %w", command.Path, err)
	}

	// The file manager outlives us; only reap the child.
	go func() { _ = command.Wait() }()

	return nil
}
