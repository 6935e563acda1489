package audio

import (
	"sync"
	"sync/atomic"
)

// Source fans one capture feed out to any number of subscribers. The
// device layer publishes at its native cadence and never blocks on a
// slow subscriber: each subscriber has a bounded queue and overflow
// drops the newest frame, counted per subscriber.
//
// The source runs for the lifetime of the process; subscriptions come
// and go with sessions.
type Source struct {
	sampleRate   int
	frameSamples int

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewSource returns a source producing frames of sampleRate/50 samples
// (20 ms).
func NewSource(sampleRate int) *Source {
	return &Source{
		sampleRate:   sampleRate,
		frameSamples: sampleRate / 50,
		subs:         make(map[*Subscription]struct{}),
	}
}

func (s *Source) SampleRate() int   { return s.sampleRate }
func (s *Source) FrameSamples() int { return s.frameSamples }

// Subscribe registers a new subscriber queue and returns its handle.
// Closing the handle releases the queue; close is idempotent.
func (s *Source) Subscribe() *Subscription {
	sub := &Subscription{
		src: s,
		ch:  make(chan Frame, subscriberQueueDepth),
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

// Publish delivers one frame to every subscriber. Each subscriber is
// visited exactly once; a full queue costs that subscriber one dropped
// frame and nobody else anything. The lock is held only for the
// enumeration; the sends are non-blocking.
func (s *Source) Publish(f Frame) {
	s.mu.Lock()
	for sub := range s.subs {
		select {
		case sub.ch <- f:
		default:
			sub.dropped.Add(1)
		}
	}
	s.mu.Unlock()
}

// Subscribers reports the current subscriber count.
func (s *Source) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Source) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	delete(s.subs, sub)
	close(sub.ch)
	s.mu.Unlock()
}

// Subscription is one subscriber's bounded frame queue.
type Subscription struct {
	src     *Source
	ch      chan Frame
	dropped atomic.Uint64
	once    sync.Once
}

// Frames returns the receive side of the queue. The channel is closed
// when the subscription is closed.
func (sub *Subscription) Frames() <-chan Frame { return sub.ch }

// Dropped reports how many frames overflowed this subscriber's queue.
func (sub *Subscription) Dropped() uint64 { return sub.dropped.Load() }

// Close detaches the subscriber from the source and closes its queue.
func (sub *Subscription) Close() {
	sub.once.Do(func() { sub.src.unsubscribe(sub) })
}
