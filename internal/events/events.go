package events

import (
	"sync"
	"time"
)

// Type classifies progress messages.
type Type string

const (
	TypeStatus  Type = "status"
	TypeSegment Type = "segment"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

// Event is a sequenced progress notification for one task.
type Event struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id"`
	Type      Type      `json:"type"`
	Status    string    `json:"status,omitempty"`
	SegmentID int       `json:"segment_id,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Publisher is the write side used by the coordinator and workers.
type Publisher interface {
	Publish(event Event) Event
}

// Bus keeps a bounded window of recent events and wakes waiters on publish.
type Bus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	notify    chan struct{}
}

// NewBus creates a bus retaining at most maxEvents events.
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &Bus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		notify:    make(chan struct{}),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *Bus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	close(b.notify)
	b.notify = make(chan struct{})
	return event
}

// Since returns events for taskID with sequence strictly greater than seq.
// An empty taskID matches every task.
func (b *Bus) Since(taskID string, seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, event := range b.events {
		if event.Seq <= seq {
			continue
		}
		if taskID != "" && event.TaskID != taskID {
			continue
		}
		out = append(out, event)
	}
	return out
}

// Wait returns a channel closed on the next Publish.
func (b *Bus) Wait() <-chan struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.notify
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(event Event) Event { return event }
