package docsync

import (
	"sync"
	"time"
)

// EventKind names a lifecycle notification.
type EventKind string

const (
	// EventChange is emitted when a document record is updated.
	EventChange EventKind = "change"
	// EventProgress is emitted when a request for a document is issued.
	EventProgress EventKind = "progress"
	// EventComplete is emitted when a request finishes, successfully or not.
	EventComplete EventKind = "complete"
	// EventStarted and EventFinished bracket a run.
	EventStarted  EventKind = "started"
	EventFinished EventKind = "finished"
)

// Event is a notification about a document or a run.
type Event struct {
	Kind     EventKind     `json:"kind"`
	RunID    string        `json:"run_id,omitempty"`
	Name     string        `json:"name,omitempty"`
	Action   Action        `json:"action,omitempty"`
	Status   ResolveStatus `json:"status,omitempty"`
	Document *Document     `json:"document,omitempty"`
	Success  bool          `json:"success,omitempty"`
	Error    string        `json:"error,omitempty"`
	Report   *Report       `json:"report,omitempty"`
	Time     time.Time     `json:"time"`
}

// Observer receives events. Notify must not block for long; it runs on the
// goroutine that produced the event.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Notify calls f(e).
func (f ObserverFunc) Notify(e Event) { f(e) }

// Observers fans an event out to several observers in order.
type Observers []Observer

// Notify delivers e to every non-nil observer.
func (o Observers) Notify(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Notify(e)
		}
	}
}

type nopObserver struct{}

func (nopObserver) Notify(Event) {}

// Broadcaster delivers events to channel subscribers. Slow subscribers miss
// events rather than stall the producer.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	buffer int
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold up to
// buffer events.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}

	return &Broadcaster{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe returns a channel of events and a function that unsubscribes
// and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++

	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			delete(b.subs, id)
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs)
}

// Notify delivers e to every subscriber without blocking.
func (b *Broadcaster) Notify(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
