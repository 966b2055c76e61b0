// Package notification reports pipeline outcomes to the user-facing shell.
package notification

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"framesense/src/failure"
	"framesense/src/logutil"
	"framesense/src/screenshot"
)

// Kind tags an Event.
type Kind string

const (
	KindCaptureCopied      Kind = "capture_copied"
	KindPermissionRequired Kind = "permission_required"
	KindCaptureFailed      Kind = "capture_failed"
	KindInfo               Kind = "info"
)

// Event is one user-visible notification.
type Event struct {
	Kind      Kind               `json:"kind"`
	Sequence  string             `json:"sequence,omitempty"`
	Title     string             `json:"title"`
	Message   string             `json:"message"`
	ErrorKind failure.Kind       `json:"error_kind,omitempty"`
	Missing   []string           `json:"missing,omitempty"`
	Bounds    *screenshot.Bounds `json:"bounds,omitempty"`
	At        time.Time          `json:"at"`
}

// Notifier delivers events. Implementations must not block the caller for
// longer than a local hand-off.
type Notifier interface {
	Notify(ev Event)
}

// Func adapts a function to Notifier.
type Func func(Event)

func (f Func) Notify(ev Event) { f(ev) }

// Fanout delivers every event to each notifier in order. Nil entries are skipped.
type Fanout []Notifier

func (f Fanout) Notify(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	for _, n := range f {
		if n != nil {
			n.Notify(ev)
		}
	}
}

// Log writes events to the structured log.
type Log struct {
	log zerolog.Logger
}

// NewLog returns a notifier that logs under the notification component.
func NewLog() *Log { return &Log{log: logutil.Component("notification")} }

func (l *Log) Notify(ev Event) {
	var e *zerolog.Event
	switch ev.Kind {
	case KindCaptureFailed:
		e = l.log.Error()
	case KindPermissionRequired:
		e = l.log.Warn()
	default:
		e = l.log.Info()
	}
	e = e.Str("kind", string(ev.Kind)).Str("sequence", ev.Sequence).Str("title", ev.Title)
	if ev.ErrorKind != "" {
		e = e.Str("error_kind", string(ev.ErrorKind))
	}
	if len(ev.Missing) > 0 {
		e = e.Strs("missing", ev.Missing)
	}
	if ev.Bounds != nil {
		e = e.Stringer("bounds", *ev.Bounds)
	}
	e.Msg(logutil.Sanitize(ev.Message))
}

// Recorder keeps every event in memory. Used by tests and the status endpoint.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Last returns the most recent event.
func (r *Recorder) Last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}
