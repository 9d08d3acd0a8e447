// Package eventbus implements the in-process pub/sub fan-out of spec §4.7:
// node and job update events delivered to subscribers in publish order,
// best-effort and at-most-once. Grounded on the teacher's
// pkg/scheduler/events.go subscriber-registry pattern, generalized to a
// single generic bus type shared by both the node and job event streams.
package eventbus

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// queueCapacity bounds each subscriber's backlog. Spec §4.7 only requires
// "bounded only by memory" with a never-block publisher; see DESIGN.md for
// why a concrete bound with drop-oldest-on-overflow was chosen instead of
// literal unbounded growth.
const queueCapacity = 1024

// Bus is a generic, process-wide fan-out of events of type T. Zero value is
// not usable; construct with New.
type Bus[T any] struct {
	mu          sync.Mutex
	subscribers map[*Subscription[T]]struct{}
}

// Subscription is the handle returned by Subscribe. Events arrive on
// Events(); callers must keep draining it or Unsubscribe when done.
type Subscription[T any] struct {
	ch chan T
}

func (s *Subscription[T]) Events() <-chan T {
	return s.ch
}

func New[T any]() *Bus[T] {
	return &Bus[T]{subscribers: make(map[*Subscription[T]]struct{})}
}

// Subscribe registers a new subscriber and returns its handle.
func (b *Bus[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{ch: make(chan T, queueCapacity)}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel, dropping any
// subscriber whose consumer has already stopped consuming.
func (b *Bus[T]) Unsubscribe(sub *Subscription[T]) {
	b.mu.Lock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub.ch)
	}
	b.mu.Unlock()
}

// Publish enqueues event to every current subscriber. Never blocks: a full
// subscriber queue has its oldest pending event dropped to make room,
// preserving the "publish never blocks on a slow subscriber beyond a
// single enqueue" guarantee of spec §5.
func (b *Bus[T]) Publish(event T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		select {
		case sub.ch <- event:
		default:
			select {
			case <-sub.ch:
				log.Warn().Msg("eventbus: dropped oldest event, subscriber queue saturated")
			default:
			}
			select {
			case sub.ch <- event:
			default:
				log.Warn().Msg("eventbus: dropped event, subscriber queue saturated")
			}
		}
	}
}

// SubscriberCount reports the current subscriber count, useful for
// diagnostics endpoints.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
