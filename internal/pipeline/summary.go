package pipeline

import (
	"fmt"
	"time"
)

// Outcome classifies how a run ended.
type Outcome string

const (
	// OutcomeSucceeded means every file was converted or copied.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeSucceededWithFailures means the run completed but some files failed.
	OutcomeSucceededWithFailures Outcome = "succeeded_with_failures"
	// OutcomeAborted means the run stopped before completion.
	OutcomeAborted Outcome = "aborted"
	// OutcomeEmpty means the input held nothing to process and no output was created.
	OutcomeEmpty Outcome = "empty"
)

// Action is what the pipeline did with a file.
type Action string

const (
	ActionConvert Action = "convert"
	ActionCopy    Action = "copy"
)

// FileError records why a single file failed. It never aborts a run.
type FileError struct {
	Err          error
	Name         string
	RelativePath string
	Action       Action
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Action, e.RelativePath, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// FileResult is the explicit outcome of processing one file.
type FileResult struct {
	ProcessedAt  time.Time
	Error        error
	SourcePath   string
	OutputPath   string
	RelativePath string
	Name         string
	Action       Action
	Success      bool
}

// Plan is computed once per run by Prepare.
type Plan struct {
	RunID      string
	InputRoot  string
	OutputRoot string
	TotalFiles int
}

// Summary is the terminal aggregate of one run.
type Summary struct {
	StartedAt  time.Time
	Duration   time.Duration
	RunID      string
	OutputRoot string
	Outcome    Outcome
	Failures   []*FileError
	TotalFiles int
	Processed  int
	Converted  int
	Copied     int
	Failed     int
}

// Succeeded reports whether the run completed with no failed file.
func (s *Summary) Succeeded() bool {
	return s.Outcome == OutcomeSucceeded
}

func (s *Summary) finish(aborted bool) {
	s.Duration = time.Since(s.StartedAt)

	switch {
	case aborted:
		s.Outcome = OutcomeAborted
	case s.Failed > 0:
		s.Outcome = OutcomeSucceededWithFailures
	default:
		s.Outcome = OutcomeSucceeded
	}
}
