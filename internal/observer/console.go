package observer

import (
	"fmt"
	"io"
	"strings"

	"github.com/book-expert/heic-to-jpeg/internal/events"
)

const defaultBarWidth = 30

// Console prints one line per event and a textual progress bar after every file.
type Console struct {
	writer   io.Writer
	barWidth int
	quiet    bool
}

// NewConsole creates a console observer. In quiet mode only failures and the
// final line are printed.
func NewConsole(writer io.Writer, quiet bool) *Console {
	return &Console{
		writer:   writer,
		barWidth: defaultBarWidth,
		quiet:    quiet,
	}
}

func (c *Console) Observe(event events.Event) {
	switch typed := event.(type) {
	case events.FolderEntered:
		c.printVerbose("\nConverting folder %s\n", typed.RelativePath)
	case events.FileConverted:
		c.printVerbose("  converted %s -> %s\n", typed.Name, typed.OutputName)
	case events.FileCopied:
		c.printVerbose("  copied    %s\n", typed.Name)
	case events.FileFailed:
		c.printf("  failed    %s: %s\n", typed.Name, typed.Reason)
	case events.Progress:
		c.printVerbose("%s\n", RenderBar(typed, c.barWidth))
	case events.Completed:
		c.printf(
			"\n%d converted, %d copied, %d failed. Output: %s\n",
			typed.Converted,
			typed.Copied,
			typed.Failed,
			typed.OutputRoot,
		)
	}
}

// RenderBar draws progress as "[####------] 40% (4/10)".
func RenderBar(progress events.Progress, width int) string {
	filled := int(progress.Fraction() * float64(width))

	return fmt.Sprintf(
		"[%s%s] %3d%% (%d/%d)",
		strings.Repeat("#", filled),
		strings.Repeat("-", width-filled),
		progress.Percent(),
		progress.Processed,
		progress.Total,
	)
}

func (c *Console) printVerbose(format string, args ...any) {
	if c.quiet {
		return
	}

	c.printf(format, args...)
}

func (c *Console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.writer, format, args...)
}
