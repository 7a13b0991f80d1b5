// ./cmd/heic-to-jpeg/main.go
package main

import (
	"errors"
	"os"
)

func main() {
	rootCommand := newRootCommand(openInFileManager)

	err := rootCommand.Execute()
	if err == nil {
		return
	}

	var exit *exitError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}

	os.Exit(exitFatal)
}
