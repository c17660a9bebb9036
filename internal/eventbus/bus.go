// Package eventbus implements the process-wide agent-event bus (C10):
// publish/subscribe keyed by run id, with at-least-once delivery to
// live subscribers and automatic unsubscribe on terminal lifecycle
// events. Generalizes the teacher's notify.Service driver-registry
// dispatch (internal/notify/service.go) into a per-key fan-out
// channel registry instead of a fixed driver set.
package eventbus

import (
	"sync"
)

// Stream names an event's channel, per spec.md §3/§4.10.
type Stream string

const (
	StreamLifecycle Stream = "lifecycle"
	StreamAssistant Stream = "assistant"
)

// Phase names a lifecycle event's phase.
type Phase string

const (
	PhaseStart Phase = "start"
	PhaseEnd   Phase = "end"
	PhaseError Phase = "error"
)

// Event is a single agent-run event published on the bus. Usage
// fields are only meaningful on a terminal lifecycle "end" event.
type Event struct {
	RunID        string
	Stream       Stream
	Phase        Phase
	Payload      string
	Err          error
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// IsTerminal reports whether this event should cause subscribers to
// unsubscribe (a lifecycle end or error), per spec.md §4.10.
func (e Event) IsTerminal() bool {
	return e.Stream == StreamLifecycle && (e.Phase == PhaseEnd || e.Phase == PhaseError)
}

const subscriberBuffer = 32

// subscriber is one live listener for a runId's events.
type subscriber struct {
	ch chan Event
}

// Bus is the process-wide pub/sub registry. Publishers are expected
// to be single-producer per runId (the agent engine); the bus itself
// is safe for concurrent use across different runIds.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*subscriber
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]*subscriber)}
}

// Subscribe registers a new listener for runId and returns a channel
// that receives every published event for it, FIFO. Call Unsubscribe
// (or let a terminal event drive it) to release the channel.
func (b *Bus) Subscribe(runID string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	b.subs[runID] = append(b.subs[runID], sub)
	return sub.ch
}

// Unsubscribe removes the channel returned by Subscribe from runId's
// fan-out list and closes it. Safe to call more than once.
func (b *Bus) Unsubscribe(runID string, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[runID]
	for i, sub := range list {
		if chansEqual(sub.ch, ch) {
			list = append(list[:i], list[i+1:]...)
			close(sub.ch)
			break
		}
	}
	if len(list) == 0 {
		delete(b.subs, runID)
	} else {
		b.subs[runID] = list
	}
}

// Publish delivers event to every live subscriber of event.RunID, or
// drops it if there are none. Terminal events cause every subscriber
// for that runId to be unsubscribed after delivery.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	list := b.subs[event.RunID]
	delivered := make([]*subscriber, len(list))
	copy(delivered, list)
	terminal := event.IsTerminal()
	if terminal {
		delete(b.subs, event.RunID)
	}
	b.mu.Unlock()

	for _, sub := range delivered {
		sub.ch <- event
		if terminal {
			close(sub.ch)
		}
	}
}

func chansEqual(a chan Event, b <-chan Event) bool {
	return (<-chan Event)(a) == b
}
