package relay

import (
	"strings"
	"sync"
	"time"
)

// DefaultMaxDisplay caps the accumulated display buffer.
const DefaultMaxDisplay = 256 * 1024

// flushSpacing is the minimum gap between observer callbacks.
const flushSpacing = 50 * time.Millisecond

// keepaliveEvery is how long the consumer stays silent before emitting a
// keepalive to show the session is still working.
const keepaliveEvery = 2 * time.Second

// ObserverFunc receives the accumulated display buffer after each flush.
type ObserverFunc func(display string)

// KeepaliveFunc is called when no events have arrived for a while.
type KeepaliveFunc func(elapsed time.Duration)

// TruncationNotice prefixes the display once its front has been dropped.
const TruncationNotice = "[earlier output truncated]\n"

// Consumer drains a relay greedily and forwards batched output to an
// observer, pacing callbacks and bounding the display buffer so a
// long-running session cannot grow memory without limit.
type Consumer struct {
	events    <-chan Event
	observer  ObserverFunc
	keepalive KeepaliveFunc
	maxBytes  int

	// Render, when set, converts each event to its display text in place
	// of DisplayText. Set it before Run.
	Render func(Event) string

	mu  sync.Mutex
	buf strings.Builder
	// truncated is set once the front of the buffer has been discarded.
	truncated bool
}

// NewConsumer creates a consumer over the relay's event stream. observer
// may be nil; keepalive may be nil. maxBytes falls back to
// DefaultMaxDisplay when not positive.
func NewConsumer(r *Relay, observer ObserverFunc, keepalive KeepaliveFunc, maxBytes int) *Consumer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDisplay
	}
	return &Consumer{
		events:    r.Events(),
		observer:  observer,
		keepalive: keepalive,
		maxBytes:  maxBytes,
	}
}

// Run drains events until the relay closes or stop is signalled. It flushes
// to the observer at bounded spacing and emits keepalives during silence.
func (c *Consumer) Run(stop <-chan struct{}) {
	flush := time.NewTicker(flushSpacing)
	defer flush.Stop()

	lastEvent := time.Now()
	dirty := false

	for {
		select {
		case <-stop:
			c.flushIf(dirty)
			return

		case ev, ok := <-c.events:
			if !ok {
				c.flushIf(dirty)
				return
			}
			c.absorb(ev)
			dirty = true
			lastEvent = time.Now()
			// Drain whatever else is queued before waiting again.
			for drained := true; drained; {
				select {
				case ev, ok := <-c.events:
					if !ok {
						c.flushIf(true)
						return
					}
					c.absorb(ev)
				default:
					drained = false
				}
			}

		case <-flush.C:
			if dirty {
				c.flushIf(true)
				dirty = false
			} else if elapsed := time.Since(lastEvent); elapsed >= keepaliveEvery {
				if c.keepalive != nil {
					c.keepalive(elapsed)
				}
				lastEvent = time.Now()
			}
		}
	}
}

// absorb appends an event's display text to the bounded buffer.
func (c *Consumer) absorb(ev Event) {
	text := ev.DisplayText()
	if c.Render != nil {
		text = c.Render(ev)
	}
	if text == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf.WriteString(text)
	if c.buf.Len() > c.maxBytes {
		s := c.buf.String()
		cut := len(s) - c.maxBytes
		// Prefer resuming at a line boundary.
		if nl := strings.IndexByte(s[cut:], '\n'); nl >= 0 && nl < 1024 {
			cut += nl + 1
		}
		c.buf.Reset()
		c.buf.WriteString(s[cut:])
		c.truncated = true
	}
}

func (c *Consumer) flushIf(dirty bool) {
	if !dirty || c.observer == nil {
		return
	}
	c.observer(c.Display())
}

// Display returns the current bounded display buffer, with a truncation
// notice once the front has been discarded.
func (c *Consumer) Display() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.truncated {
		return TruncationNotice + c.buf.String()
	}
	return c.buf.String()
}
