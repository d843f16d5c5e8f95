package queue

import (
	"sync"
	"time"

	"transcritor/internal/domain"
)

// EventType classifies messages emitted while the queue drains.
type EventType string

const (
	EventTypeFileStatus EventType = "file-status"
	EventTypeProgress   EventType = "progress"
	EventTypeQueueState EventType = "queue-state"
	EventTypeNotice     EventType = "notice"
	EventTypeSummary    EventType = "summary"
)

// Event is a sequenced payload consumed by UI subscribers. Every
// user-visible failure carries a Title plus Message pair.
type Event struct {
	Seq        int64             `json:"seq"`
	Timestamp  time.Time         `json:"timestamp"`
	Type       EventType         `json:"type"`
	FileID     string            `json:"fileId,omitempty"`
	FileStatus domain.FileStatus `json:"fileStatus,omitempty"`
	QueueState domain.QueueState `json:"queueState,omitempty"`
	Progress   int               `json:"progress,omitempty"`
	Title      string            `json:"title,omitempty"`
	Message    string            `json:"message,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
}

// EventBus stores recent events and provides incremental reads. An
// optional notify hook pushes each published event to the UI runtime.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	notify    func(Event)
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// SetNotify installs a hook invoked synchronously on every publish.
func (b *EventBus) SetNotify(notify func(Event)) {
	b.mu.Lock()
	b.notify = notify
	b.mu.Unlock()
}

// Publish appends one event, assigning sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
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
	notify := b.notify
	b.mu.Unlock()

	if notify != nil {
		notify(event)
	}
	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}
