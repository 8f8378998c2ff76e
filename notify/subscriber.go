package notify

import (
	"sync"
	"sync/atomic"
)

// Subscriber receives events from its topics over a buffered channel with
// credit-based flow control: each delivery consumes one credit, and the
// broker skips the subscriber at zero. Clients replenish credits as they
// drain their side.
type Subscriber struct {
	id string
	ch chan *Event

	credits atomic.Int64

	mu     sync.RWMutex
	topics map[string]struct{}

	// sendMu orders sends against Close so a broadcast can never hit a
	// freshly closed channel.
	sendMu sync.RWMutex
	closed bool
}

func newSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits replenishes flow-control credits.
func (s *Subscriber) AddCredits(n int64) { s.credits.Add(n) }

// Credits returns the current credit count.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// Topics returns a copy of the subscribed topic names.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// send delivers an event without blocking. Returns false when the event
// was dropped: no credits, closed, or full buffer.
func (s *Subscriber) send(evt *Event) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return false
	}
	for {
		current := s.credits.Load()
		if current <= 0 {
			return false
		}
		if s.credits.CompareAndSwap(current, current-1) {
			break
		}
	}
	select {
	case s.ch <- evt:
		return true
	default:
		// Buffer full; give the credit back.
		s.credits.Add(1)
		return false
	}
}

// Close closes the subscriber channel. Safe to call multiple times and
// safe against concurrent sends.
func (s *Subscriber) Close() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
