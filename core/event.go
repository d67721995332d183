package core

import (
	"time"

	apperrors "github.com/Skryldev/imgconv/errors"
)

// Counts are cumulative per-batch totals carried on every event.
type Counts struct {
	Total     int
	Succeeded int
	Failed    int
	Cancelled int
}

// Done is the number of jobs that reached a terminal state.
func (c Counts) Done() int { return c.Succeeded + c.Failed + c.Cancelled }

// Complete reports whether every job of the batch is terminal.
func (c Counts) Complete() bool { return c.Done() >= c.Total }

// Event is emitted once for every state a job enters.
type Event struct {
	JobID   string
	BatchID string
	Source  string // logical source name
	State   JobState

	BytesIn    int64
	BytesOut   int64
	OutputPath string
	Quality    int

	// Kind and Err are set on StateFailed events.
	Kind apperrors.Kind
	Err  error

	// Notices carries informational annotations on terminal events.
	Notices []Notice

	Counts Counts
	Time   time.Time
}

// Saved is the number of bytes saved by the conversion; negative when the
// output grew.
func (e Event) Saved() int64 {
	if e.State != StateSucceeded {
		return 0
	}
	return e.BytesIn - e.BytesOut
}

// Sink receives progress events.  Implementations must be safe for concurrent
// use and must not call back into the Pool synchronously.
type Sink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }

// MultiSink fans events out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Publish(ev Event) {
	for _, s := range m {
		s.Publish(ev)
	}
}
