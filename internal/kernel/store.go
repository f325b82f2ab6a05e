package kernel

import (
	"log/slog"
	"sync"
	"time"
)

// Subscriber observes every dispatched event. It runs on the dispatching goroutine.
type Subscriber func(state, prev State, ev Event)

// Store holds the current state and notifies subscribers after each reduction.
type Store struct {
	// dispatchMu serializes Dispatch including notification, so subscribers
	// see transitions in order.
	dispatchMu sync.Mutex

	mu     sync.RWMutex
	state  State
	subs   map[int]Subscriber
	order  []int
	nextID int

	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a store with the given initial state.
func NewStore(initial State, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		state:  initial,
		subs:   make(map[int]Subscriber),
		logger: logger,
		now:    time.Now,
	}
}

// State returns the current state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Dispatch reduces ev into the current state, notifies subscribers and
// returns the new state. Subscribers must not call Dispatch synchronously.
func (s *Store) Dispatch(ev Event) State {
	if ev.At.IsZero() {
		ev.At = s.now()
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	prev := s.state
	next, ok := reduce(prev, ev)
	s.state = next
	subs := s.snapshotSubs()
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("transition_blocked",
			slog.String("event", string(ev.Type)),
			slog.String("phase", string(prev.Phase)))
	} else if next.Phase != prev.Phase {
		s.logger.Info("phase_changed",
			slog.String("event", string(ev.Type)),
			slog.String("from", string(prev.Phase)),
			slog.String("to", string(next.Phase)))
	}

	for _, fn := range subs {
		fn(next, prev, ev)
	}
	return next
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Subscriber) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.order = append(s.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

// snapshotSubs copies subscribers in registration order. Caller holds mu.
func (s *Store) snapshotSubs() []Subscriber {
	out := make([]Subscriber, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.subs[id])
	}
	return out
}
