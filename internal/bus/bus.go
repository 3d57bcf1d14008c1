package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus. Subscribers register a
// namespace prefix and receive every event whose Kind starts with it.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	ch        chan Event
	// lossless subscribers make Publish wait for buffer space; done is
	// closed on unsubscribe to release a waiting publisher.
	lossless bool
	done     chan struct{}
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Publish delivers evt to every matching subscriber. A regular subscriber
// whose buffer is full misses the event; a lossless one makes Publish wait
// until it has room or unsubscribes.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	var waiting []*subscription
	b.mu.RLock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.namespace) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			if sub.lossless {
				waiting = append(waiting, sub)
			}
		}
	}
	b.mu.RUnlock()

	// Blocked sends happen outside the lock so Subscribe and unsubscribe
	// never queue behind a slow consumer.
	for _, sub := range waiting {
		select {
		case sub.ch <- evt:
		case <-sub.done:
		}
	}
}

// Subscribe returns a buffered channel of events under namespace and a
// function that removes the subscription. Events are dropped while the
// buffer is full.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	return b.subscribe(namespace, bufSize, false)
}

// SubscribeLossless is like Subscribe, but a full buffer applies back-pressure
// to publishers instead of dropping events. The consumer must keep draining
// the channel until it unsubscribes.
func (b *Bus) SubscribeLossless(namespace string, bufSize int) (<-chan Event, func()) {
	return b.subscribe(namespace, bufSize, true)
}

func (b *Bus) subscribe(namespace string, bufSize int, lossless bool) (<-chan Event, func()) {
	sub := &subscription{
		namespace: namespace,
		ch:        make(chan Event, bufSize),
		lossless:  lossless,
		done:      make(chan struct{}),
	}
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			close(sub.done)
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}
