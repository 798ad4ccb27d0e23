// Package notification provides the notification manager for broadcasting playback state.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tapedeck/internal/app/session/state"
)

// DefaultMaxPending bounds the backlog of a subscriber that stopped reading.
const DefaultMaxPending = 256

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	mu     sync.Mutex
	queue  []state.PlaybackState
	notify chan struct{}
	out    chan state.PlaybackState
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) enqueue(snapshot state.PlaybackState, maxPending int) {
	s.mu.Lock()
	if len(s.queue) >= maxPending {
		// Drop the oldest; delivery stays ordered.
		s.queue = s.queue[1:]
		zlog.Debug().Msgf("notification: subscriber backlog full, dropping oldest: id=%s", s.id)
	}
	s.queue = append(s.queue, snapshot)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// Manager manages state subscriptions and broadcasting.
// Every subscriber sees snapshots in the order they were broadcast,
// starting with the snapshot current at subscription time.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	current       state.PlaybackState
	sequenceNo    uint64
	maxPending    int
	closed        bool
	wg            sync.WaitGroup
}

// NewManager creates a new notification manager seeded with the initial snapshot.
func NewManager(initial state.PlaybackState) *Manager {
	m := &Manager{
		subscriptions: make(map[string]*subscription),
		maxPending:    DefaultMaxPending,
	}
	m.current = m.stampLocked(initial)
	return m
}

// stampLocked assigns the next sequence number. Must be called with m.mu held.
func (m *Manager) stampLocked(s state.PlaybackState) state.PlaybackState {
	m.sequenceNo++
	s.Seq = m.sequenceNo
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	return s.Clone()
}

// Subscribe returns a channel yielding the current snapshot followed by every later one.
// The channel is closed when ctx ends or the manager is closed.
func (m *Manager) Subscribe(ctx context.Context) <-chan state.PlaybackState {
	sub := &subscription{
		id:     uuid.New().String(),
		notify: make(chan struct{}, 1),
		out:    make(chan state.PlaybackState),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(sub.out)
		return sub.out
	}
	sub.enqueue(m.current, m.maxPending)
	m.subscriptions[sub.id] = sub
	m.wg.Add(1)
	m.mu.Unlock()

	go m.pump(ctx, sub)
	return sub.out
}

func (m *Manager) pump(ctx context.Context, sub *subscription) {
	defer m.wg.Done()
	defer close(sub.out)
	defer m.unsubscribe(sub.id)

	for {
		sub.mu.Lock()
		if len(sub.queue) == 0 {
			sub.mu.Unlock()
			select {
			case <-sub.notify:
				continue
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			}
		}
		next := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		select {
		case sub.out <- next:
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		}
	}
}

func (m *Manager) unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, id)
}

// Broadcast publishes a snapshot to all subscribers and returns it with its sequence number.
func (m *Manager) Broadcast(s state.PlaybackState) state.PlaybackState {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.UpdatedAt = time.Time{}
	stamped := m.stampLocked(s)
	m.current = stamped
	if m.closed {
		return stamped
	}
	for _, sub := range m.subscriptions {
		sub.enqueue(stamped, m.maxPending)
	}
	return stamped
}

// Current returns the last broadcast snapshot.
func (m *Manager) Current() state.PlaybackState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close ends all subscriptions and waits for their channels to close.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	m.wg.Wait()
}
