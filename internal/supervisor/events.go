package supervisor

import (
	"sync"
	"time"

	"github.com/orpheus-engine/conductor/internal/service"
)

// EventType identifies a lifecycle event on the supervisor's stream.
type EventType string

const (
	EventStartupBegin        EventType = "startup-begin"
	EventStatusChange        EventType = "status-change"
	EventStartupComplete     EventType = "startup-complete"
	EventGroupServiceStarted EventType = "group-service-started"
	EventGroupServiceStopped EventType = "group-service-stopped"
)

// Event is one entry on the lifecycle stream consumed by the presentation
// layer. Status is populated for status-change events; GroupID and Name for
// group events.
type Event struct {
	Type    EventType       `json:"type"`
	At      time.Time       `json:"at"`
	Status  *service.Status `json:"status,omitempty"`
	GroupID string          `json:"group_id,omitempty"`
	Name    string          `json:"name,omitempty"`
}

// Sink receives events synchronously, in emission order. Sinks run on the
// supervisor's transition path and must be fast and must not call back into
// the supervisor.
type Sink interface {
	Notify(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Notify(e Event) { f(e) }

// subscriberBuffer is the per-subscription channel depth. A subscriber that
// falls further behind than this loses events; sinks never do.
const subscriberBuffer = 256

type bus struct {
	mu    sync.Mutex
	sinks []Sink
	subs  map[int]chan Event
	next  int
}

func newBus() *bus {
	return &bus{subs: make(map[int]chan Event)}
}

func (b *bus) addSink(s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// subscribe returns a channel of events and a cancel function. Events arrive
// in emission order; the channel is buffered and drops when full.
func (b *bus) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
}

func (b *bus) emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sinks {
		s.Notify(e)
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// slow subscriber; dropping beats blocking a transition
		}
	}
}
