package jobs

import "sync"

// Mailbox is an unbounded multi-producer queue drained by a single consumer.
// Publish never blocks, so workers are never held up by a busy consumer.
type Mailbox struct {
	mu     sync.Mutex
	events []Event
	ready  chan struct{}
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

// Publish enqueues one event and signals the consumer.
func (m *Mailbox) Publish(event Event) {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Ready fires after at least one Publish since the last Drain.
func (m *Mailbox) Ready() <-chan struct{} {
	return m.ready
}

// Drain removes and returns all queued events in publish order.
func (m *Mailbox) Drain() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.events
	m.events = nil
	return out
}
