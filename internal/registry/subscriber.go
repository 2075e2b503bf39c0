package registry

import "sync"

const defaultSubscriberBuffer = 16

// Subscriber is a per-connection delivery target for session events. Its
// lifetime is bounded by the client connection that created it; closing it
// detaches it from every broadcaster it was subscribed to.
type Subscriber struct {
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewSubscriber() *Subscriber {
	return &Subscriber{
		events: make(chan Event, defaultSubscriberBuffer),
		done:   make(chan struct{}),
	}
}

// Events is the channel the owning connection drains.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// Close detaches the subscriber. Safe to call more than once; pending
// deliveries after Close are dropped.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Done is closed when the subscriber goes away.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// deliver pushes an event without ever blocking the sampler. Progress events
// are droppable when the subscriber is slow; lifecycle events (info, done,
// error) wait on buffer space so they are only lost if the subscriber itself
// is gone. Returns false only when the subscriber is closed.
func (s *Subscriber) deliver(ev Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	if ev.Type == EventProgress {
		select {
		case s.events <- ev:
			return true
		case <-s.done:
			return false
		default:
			// Slow consumer, drop this sample rather than stall or detach.
			return true
		}
	}

	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}
