// internal/notify/dispatcher.go
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graphstore/api/schemas"
)

// Dispatcher delivers committed graph changes to pattern subscriptions.
//
// Publish never blocks on a listener: each subscription owns an ordered queue
// and one delivery goroutine, so a slow listener only delays itself. Batches
// reach a listener in the order they were published.
type Dispatcher struct {
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool

	wg sync.WaitGroup
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger: logger.Named("notify"),
		subs:   make(map[string]*subscription),
	}
}

// Subscribe registers l for events whose triple matches p. A zero delay
// delivers each published batch on its own; a positive delay coalesces every
// batch published within the window after the first one into a single call.
// It returns the subscription id, or "" if the dispatcher is closed.
func (d *Dispatcher) Subscribe(l schemas.Listener, p schemas.Pattern, delay time.Duration) string {
	if l == nil {
		return ""
	}
	if delay < 0 {
		delay = 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("Subscribe called on closed dispatcher")
		return ""
	}

	s := &subscription{
		id:       uuid.NewString(),
		listener: l,
		pattern:  p,
		delay:    delay,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		logger:   d.logger,
	}
	d.subs[s.id] = s

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		s.run()
	}()

	d.logger.Debug("Listener subscribed", zap.String("id", s.id), zap.Duration("delay", delay))
	return s.id
}

// Unsubscribe stops delivery to the subscription and drops its pending events.
// It does not wait for an in-flight callback, so it is safe to call from
// inside a listener.
func (d *Dispatcher) Unsubscribe(id string) {
	d.mu.Lock()
	s, ok := d.subs[id]
	if ok {
		delete(d.subs, id)
	}
	d.mu.Unlock()

	if ok {
		s.stop()
		d.logger.Debug("Listener unsubscribed", zap.String("id", id))
	}
}

// Publish hands one committed batch to every subscription whose pattern
// matches at least one event. Callers publish while still holding the graph's
// write lock, which fixes the commit order seen by listeners.
func (d *Dispatcher) Publish(events []schemas.Event) {
	if len(events) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	for _, s := range d.subs {
		var matched []schemas.Event
		for _, ev := range events {
			if s.pattern.Matches(ev.Triple) {
				matched = append(matched, ev)
			}
		}
		if len(matched) > 0 {
			s.enqueue(matched)
		}
	}
}

// Len reports the number of active subscriptions.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Close stops every subscription and waits for the delivery goroutines to
// exit. It must not be called from inside a listener.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	subs := d.subs
	d.subs = make(map[string]*subscription)
	d.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	d.wg.Wait()
}

type subscription struct {
	id       string
	listener schemas.Listener
	pattern  schemas.Pattern
	delay    time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	pending [][]schemas.Event

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (s *subscription) enqueue(batch []schemas.Event) {
	s.mu.Lock()
	s.pending = append(s.pending, batch)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
	})
}

func (s *subscription) drain() [][]schemas.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	batches := s.pending
	s.pending = nil
	return batches
}

func (s *subscription) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		if s.delay > 0 {
			timer := time.NewTimer(s.delay)
			select {
			case <-s.done:
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		batches := s.drain()
		if len(batches) == 0 {
			continue
		}

		if s.delay > 0 {
			var merged []schemas.Event
			for _, b := range batches {
				merged = append(merged, b...)
			}
			batches = [][]schemas.Event{merged}
		}

		for _, b := range batches {
			if s.stopped() {
				return
			}
			s.deliver(b)
		}
	}
}

func (s *subscription) deliver(events []schemas.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Listener panicked", zap.String("id", s.id), zap.Any("panic", r))
		}
	}()
	s.listener.GraphChanged(events)
}
