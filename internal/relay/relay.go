// Package relay carries live output from provider sessions to observers
// without letting a slow or absent observer stall the session goroutine.
package relay

import (
	"log"
	"sync/atomic"
	"time"
)

// Kind classifies a relay event.
type Kind string

const (
	// KindStream is a raw chunk of provider output.
	KindStream Kind = "stream"
	// KindActivity is a short human-readable action, like a tool call.
	KindActivity Kind = "activity"
	// KindStatus is an orchestration state change.
	KindStatus Kind = "status"
	// KindMessageStart marks the beginning of one speaker's turn.
	KindMessageStart Kind = "message_start"
	// KindMessageComplete marks the end of one speaker's turn.
	KindMessageComplete Kind = "message_complete"
)

// Event is one unit of live output.
type Event struct {
	Kind    Kind
	Speaker string
	Text    string
	// Rendered overrides Text for display when set.
	Rendered string
}

// DisplayText returns the string an observer should show for the event.
func (e Event) DisplayText() string {
	if e.Rendered != "" {
		return e.Rendered
	}
	return e.Text
}

// DefaultBuffer is the channel capacity used when none is given.
const DefaultBuffer = 256

// publishGrace is how long Publish waits on a full channel before dropping.
const publishGrace = 100 * time.Millisecond

// Relay is a bounded fan-in channel for live events. Publishing never
// blocks longer than the grace period; overflow is dropped and counted.
type Relay struct {
	events  chan Event
	dropped atomic.Uint64
}

// New creates a relay with the given buffer size, or DefaultBuffer if
// size is not positive.
func New(size int) *Relay {
	if size <= 0 {
		size = DefaultBuffer
	}
	return &Relay{events: make(chan Event, size)}
}

// Publish sends an event, waiting up to the grace period when the channel
// is full before dropping it.
func (r *Relay) Publish(ev Event) {
	select {
	case r.events <- ev:
		return
	default:
	}

	select {
	case r.events <- ev:
	case <-time.After(publishGrace):
		count := r.dropped.Add(1)
		if count%10 == 1 {
			log.Printf("[relay] channel full, dropped event (total dropped: %d): kind=%s", count, ev.Kind)
		}
	}
}

// Dropped returns how many events have been dropped so far.
func (r *Relay) Dropped() uint64 {
	return r.dropped.Load()
}

// Events returns the read side of the relay.
func (r *Relay) Events() <-chan Event {
	return r.events
}

// Close closes the channel. No Publish may follow.
func (r *Relay) Close() {
	close(r.events)
}
