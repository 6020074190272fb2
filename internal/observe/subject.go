// Package observe provides a small observable value for pushing playback
// state, time and speed changes to any number of subscribers.
package observe

import (
	"sync"
	"sync/atomic"
)

// QueueLimit is the number of undelivered values a subscription holds. When
// a subscriber falls further behind, the oldest queued values are dropped so
// the newest value is always delivered.
const QueueLimit = 256

// Subject holds the latest value of T and fans every published value out to
// its subscribers in publish order. Publish never blocks on a slow
// subscriber; each subscription queues up to QueueLimit undelivered values.
type Subject[T any] struct {
	mu     sync.Mutex
	value  T
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// NewSubject creates a Subject holding initial.
func NewSubject[T any](initial T) *Subject[T] {
	return &Subject[T]{
		value: initial,
		subs:  make(map[*Subscription[T]]struct{}),
	}
}

// Value returns the most recently published value.
func (s *Subject[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Publish records v as the current value and queues it for every
// subscriber. Publishing to a closed Subject only updates Value.
func (s *Subject[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	if s.closed {
		return
	}
	for sub := range s.subs {
		sub.push(v)
	}
}

// Subscribe returns a subscription whose channel first receives the current
// value and then every later publish. Subscribing to a closed Subject returns
// a subscription whose channel is already closed.
func (s *Subject[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{
		subject: s,
		out:     make(chan T),
		done:    make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.stop()
		close(sub.out)
		return sub
	}
	sub.queue = append(sub.queue, s.value)
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.deliver()
	return sub
}

// Len returns the number of live subscriptions.
func (s *Subject[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close ends every subscription. Later Subscribe calls get a closed channel.
func (s *Subject[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = make(map[*Subscription[T]]struct{})
	s.mu.Unlock()

	for sub := range subs {
		sub.stop()
	}
}

func (s *Subject[T]) remove(sub *Subscription[T]) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

// Subscription is one subscriber's view of a Subject.
type Subscription[T any] struct {
	subject *Subject[T]
	out     chan T
	done    chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []T
	closed  bool
	once    sync.Once
	dropped atomic.Uint64
}

// C returns the delivery channel. It is closed after Close.
func (sub *Subscription[T]) C() <-chan T { return sub.out }

// Dropped returns how many values were discarded because the subscriber
// fell more than QueueLimit values behind.
func (sub *Subscription[T]) Dropped() uint64 { return sub.dropped.Load() }

// Close unsubscribes. Undelivered values are dropped. It is safe to call
// more than once and from any goroutine.
func (sub *Subscription[T]) Close() {
	sub.subject.remove(sub)
	sub.stop()
}

func (sub *Subscription[T]) stop() {
	sub.once.Do(func() {
		sub.mu.Lock()
		sub.closed = true
		sub.queue = nil
		sub.cond.Signal()
		sub.mu.Unlock()
		close(sub.done)
	})
}

func (sub *Subscription[T]) push(v T) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	if len(sub.queue) >= QueueLimit {
		n := len(sub.queue) - QueueLimit + 1
		sub.queue = append(sub.queue[:0], sub.queue[n:]...)
		sub.dropped.Add(uint64(n))
	}
	sub.queue = append(sub.queue, v)
	sub.cond.Signal()
}

func (sub *Subscription[T]) deliver() {
	defer close(sub.out)
	for {
		sub.mu.Lock()
		for len(sub.queue) == 0 && !sub.closed {
			sub.cond.Wait()
		}
		if sub.closed {
			sub.mu.Unlock()
			return
		}
		v := sub.queue[0]
		var zero T
		sub.queue[0] = zero
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		select {
		case sub.out <- v:
		case <-sub.done:
			return
		}
	}
}
