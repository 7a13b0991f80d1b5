// Package events defines the conversion event stream emitted by the tree converter.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind names an event variant on the wire and in logs.
type Kind string

const (
	KindFolderEntered Kind = "folder_entered"
	KindFileConverted Kind = "file_converted"
	KindFileCopied    Kind = "file_copied"
	KindFileFailed    Kind = "file_failed"
	KindProgress      Kind = "progress"
	KindCompleted     Kind = "completed"
)

// Event is one entry of the conversion event stream. The set of variants is closed.
type Event interface {
	Kind() Kind
	isEvent()
}

// FolderEntered is emitted once per descendant directory of the input root.
type FolderEntered struct {
	RelativePath string `json:"RelativePath"`
}

func (FolderEntered) Kind() Kind { return KindFolderEntered }
func (FolderEntered) isEvent()   {}

// FileConverted is emitted after an image was re-encoded as JPEG.
type FileConverted struct {
	Name       string `json:"Name"`
	OutputName string `json:"OutputName"`
}

func (FileConverted) Kind() Kind { return KindFileConverted }
func (FileConverted) isEvent()   {}

// FileCopied is emitted after a pass-through file was duplicated.
type FileCopied struct {
	Name string `json:"Name"`
}

func (FileCopied) Kind() Kind { return KindFileCopied }
func (FileCopied) isEvent()   {}

// FileFailed is emitted when a file could not be converted or copied.
type FileFailed struct {
	Name   string `json:"Name"`
	Reason string `json:"Reason"`
}

func (FileFailed) Kind() Kind { return KindFileFailed }
func (FileFailed) isEvent()   {}

// Progress is emitted after every file, whatever its outcome.
type Progress struct {
	Processed int `json:"Processed"`
	Total     int `json:"Total"`
}

func (Progress) Kind() Kind { return KindProgress }
func (Progress) isEvent()   {}

// Fraction returns Processed/Total in [0,1]. A zero total reports 1.
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 1
	}

	fraction := float64(p.Processed) / float64(p.Total)
	if fraction > 1 {
		return 1
	}

	return fraction
}

// Percent returns the rounded percentage shown to users.
func (p Progress) Percent() int {
	return int(p.Fraction()*100 + 0.5)
}

// Completed is the last event of a run that was not aborted.
type Completed struct {
	Converted  int    `json:"Converted"`
	Copied     int    `json:"Copied"`
	Failed     int    `json:"Failed"`
	OutputRoot string `json:"OutputRoot"`
}

func (Completed) Kind() Kind { return KindCompleted }
func (Completed) isEvent()   {}

// Envelope is the JSON wire form of an event.
type Envelope struct {
	Timestamp time.Time       `json:"Timestamp"`
	RunID     string          `json:"RunID"`
	Kind      Kind            `json:"Kind"`
	Payload   json.RawMessage `json:"Payload"`
}

// NewEnvelope wraps event for publication.
func NewEnvelope(runID string, event Event, timestamp time.Time) (Envelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event.Kind(), err)
	}

	return Envelope{
		Timestamp: timestamp,
		RunID:     runID,
		Kind:      event.Kind(),
		Payload:   payload,
	}, nil
}

// ErrUnknownKind is returned by Decode for kinds outside the closed set.
var ErrUnknownKind = errors.New("unknown event kind")

// Decode restores the typed event carried by the envelope.
func (e Envelope) Decode() (Event, error) {
	var (
		event Event
		err   error
	)

	switch e.Kind {
	case KindFolderEntered:
		event, err = decodeAs[FolderEntered](e.Payload)
	case KindFileConverted:
		event, err = decodeAs[FileConverted](e.Payload)
	case KindFileCopied:
		event, err = decodeAs[FileCopied](e.Payload)
	case KindFileFailed:
		event, err = decodeAs[FileFailed](e.Payload)
	case KindProgress:
		event, err = decodeAs[Progress](e.Payload)
	case KindCompleted:
		event, err = decodeAs[Completed](e.Payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}

	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}

	return event, nil
}

func decodeAs[T Event](payload json.RawMessage) (Event, error) {
	var event T

	err := json.Unmarshal(payload, &event)
	if err != nil {
		return nil, err
	}

	return event, nil
}
