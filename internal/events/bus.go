// Package events is an in-process broadcast bus for operational events.
// The pipeline, tool executor, memory consolidator and janitor publish;
// the metrics collector and MQTT publisher subscribe. Publishing on a
// nil *Bus is a no-op.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Sources.
const (
	SourcePipeline = "pipeline"
	SourceTools    = "tools"
	SourceMemory   = "memory"
	SourceJanitor  = "janitor"
)

// Kinds.
const (
	// KindTurnStart opens a turn.
	// Data: session_id, uid.
	KindTurnStart = "turn_start"
	// KindStageDone ends one pipeline stage.
	// Data: session_id, stage, ok, duration_ms.
	KindStageDone = "stage_done"
	// KindPolicyNotice reports a notice sent to the client.
	// Data: session_id, kind.
	KindPolicyNotice = "policy_notice"
	// KindTurnComplete closes a turn.
	// Data: session_id, route, status (ok or an error code), elapsed_ms.
	KindTurnComplete = "turn_complete"

	// KindToolExecuted reports a server tool execution.
	// Data: tool, status.
	KindToolExecuted = "tool_executed"

	// KindMemoryUpdated reports a finished consolidation.
	// Data: session_id, ok, commitments_added.
	KindMemoryUpdated = "memory_updated"

	// KindSweep reports a janitor pass.
	// Data: job, removed.
	KindSweep = "sweep"
)

// Event is one operational event.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus fans events out to buffered subscriber channels. A subscriber
// whose buffer is full misses the event; publishers never block.
type Bus struct {
	mu      sync.RWMutex
	subs    map[chan Event]struct{}
	byRecv  map[<-chan Event]chan Event
	dropped atomic.Int64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs:   make(map[chan Event]struct{}),
		byRecv: make(map[<-chan Event]chan Event),
	}
}

// Publish delivers e to every subscriber with room for it. A zero
// Timestamp is set to now.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel with room for bufSize events. Call
// Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.byRecv[ch] = ch
	return ch
}

// Unsubscribe removes the subscription and closes its channel. Unknown
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.byRecv[ch]
	if !ok {
		return
	}
	delete(b.subs, send)
	delete(b.byRecv, ch)
	close(send)
}

// SubscriberCount returns the number of subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a
// subscriber was full.
func (b *Bus) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
