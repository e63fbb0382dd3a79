package relay

import (
	"testing"
	"time"
)

func TestPublishDelivers(t *testing.T) {
	r := New(4)
	r.Publish(Event{Kind: KindStream, Text: "hello"})

	select {
	case ev := <-r.Events():
		if ev.Text != "hello" {
			t.Errorf("Text = %q, want hello", ev.Text)
		}
	default:
		t.Fatal("event should be buffered")
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	r := New(1)
	r.Publish(Event{Kind: KindStream, Text: "first"})

	start := time.Now()
	r.Publish(Event{Kind: KindStream, Text: "overflow"})
	elapsed := time.Since(start)

	if r.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", r.Dropped())
	}
	if elapsed < publishGrace {
		t.Errorf("Publish returned after %v, want at least the grace period", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("Publish blocked for %v, should drop after the grace period", elapsed)
	}
}

func TestPublishDefaultBuffer(t *testing.T) {
	r := New(0)
	if cap(r.events) != DefaultBuffer {
		t.Errorf("cap = %d, want %d", cap(r.events), DefaultBuffer)
	}
}

func TestDisplayTextPrefersRendered(t *testing.T) {
	ev := Event{Text: "raw", Rendered: "pretty"}
	if got := ev.DisplayText(); got != "pretty" {
		t.Errorf("DisplayText = %q, want pretty", got)
	}
	ev.Rendered = ""
	if got := ev.DisplayText(); got != "raw" {
		t.Errorf("DisplayText = %q, want raw", got)
	}
}

func TestConsumerForwardsToObserver(t *testing.T) {
	r := New(16)
	updates := make(chan string, 16)
	c := NewConsumer(r, func(display string) { updates <- display }, nil, 0)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		c.Run(stop)
		close(done)
	}()

	r.Publish(Event{Kind: KindStream, Text: "chunk one\n"})
	r.Publish(Event{Kind: KindStream, Text: "chunk two\n"})

	select {
	case display := <-updates:
		if display == "" {
			t.Error("observer received empty display")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("observer was never called")
	}

	close(stop)
	<-done
}

func TestConsumerFlushesOnClose(t *testing.T) {
	r := New(16)
	var last string
	updates := make(chan struct{}, 16)
	c := NewConsumer(r, func(display string) {
		last = display
		updates <- struct{}{}
	}, nil, 0)

	done := make(chan struct{})
	go func() {
		c.Run(nil)
		close(done)
	}()

	r.Publish(Event{Kind: KindStream, Text: "final words"})
	r.Close()
	<-done

	if last == "" {
		t.Fatal("close should force a final flush")
	}
	if last != "final words" {
		t.Errorf("display = %q, want %q", last, "final words")
	}
}

func TestConsumerRenderHook(t *testing.T) {
	r := New(16)
	c := NewConsumer(r, nil, nil, 0)
	c.Render = func(ev Event) string {
		if ev.Kind == KindStatus {
			return "[" + ev.Text + "]\n"
		}
		return ev.DisplayText()
	}

	c.absorb(Event{Kind: KindStatus, Text: "verifying"})
	c.absorb(Event{Kind: KindStream, Text: "raw chunk"})

	if got := c.Display(); got != "[verifying]\nraw chunk" {
		t.Errorf("Display = %q, want rendered status followed by raw chunk", got)
	}
}

func TestConsumerFrontTruncation(t *testing.T) {
	r := New(16)
	c := NewConsumer(r, nil, nil, 32)

	c.absorb(Event{Text: "aaaaaaaaaaaaaaaa\n"})
	c.absorb(Event{Text: "bbbbbbbbbbbbbbbb\n"})
	c.absorb(Event{Text: "cccccccccccccccc\n"})

	display := c.Display()
	if len(display) > 32+64 {
		t.Errorf("display length = %d, should stay near the cap", len(display))
	}
	if !c.truncated {
		t.Error("buffer should be marked truncated")
	}
	if display[:1] != "[" {
		t.Errorf("truncated display should carry a notice, got %q", display[:20])
	}
}

func TestConsumerKeepalive(t *testing.T) {
	r := New(16)
	kept := make(chan time.Duration, 4)
	c := NewConsumer(r, nil, func(elapsed time.Duration) { kept <- elapsed }, 0)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		c.Run(stop)
		close(done)
	}()

	select {
	case elapsed := <-kept:
		if elapsed < keepaliveEvery {
			t.Errorf("keepalive fired after %v, want at least %v", elapsed, keepaliveEvery)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("keepalive never fired during silence")
	}

	close(stop)
	<-done
}
