package session

import (
	"sync"
	"time"
)

// Event reports a phase change.
type Event struct {
	Phase      Phase
	Previous   Phase
	Peripheral string
	Err        error
	At         time.Time
}

type subscriber struct {
	ch chan Event
}

// eventBus fans phase changes out to subscribers. Slow subscribers miss
// events rather than stall the session.
type eventBus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[*subscriber]struct{})}
}

func (b *eventBus) subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, 32)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}

func (b *eventBus) publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Subscribe returns phase-change events and a function that unsubscribes
// and closes the channel.
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}
