// Package observer renders, records and forwards the conversion event stream.
package observer

import (
	"sync"

	"github.com/book-expert/heic-to-jpeg/internal/events"
)

// Observer matches pipeline.Observer.
type Observer interface {
	Observe(event events.Event)
}

// Func adapts a plain function to the Observer interface.
type Func func(event events.Event)

func (f Func) Observe(event events.Event) {
	f(event)
}

// Multi fans every event out to each observer in order.
type Multi []Observer

func (m Multi) Observe(event events.Event) {
	for _, observer := range m {
		if observer != nil {
			observer.Observe(event)
		}
	}
}

// Recorder keeps every event it receives. It is safe for concurrent use.
type Recorder struct {
	events []events.Event
	mutex  sync.Mutex
}

func NewRecorder() *Recorder {
	return &Recorder{
		events: nil,
		mutex:  sync.Mutex{},
	}
}

func (r *Recorder) Observe(event events.Event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events in arrival order.
func (r *Recorder) Events() []events.Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	recorded := make([]events.Event, len(r.events))
	copy(recorded, r.events)

	return recorded
}

// Failures returns the recorded FileFailed events.
func (r *Recorder) Failures() []events.FileFailed {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var failures []events.FileFailed

	for _, event := range r.events {
		if failure, ok := event.(events.FileFailed); ok {
			failures = append(failures, failure)
		}
	}

	return failures
}
