// Package events pushes session snapshots to subscribers of a session id.
// Every event carries the full session, so a dropped event is repaired by the next one.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"arena-ai/backend/internal/model"
)

// EventResponseUpdate is the name of the event published on every session change.
const EventResponseUpdate = "response-update"

const subscriberBuffer = 64

// Event is one frame delivered to a subscriber. Version is the snapshot's session version.
type Event struct {
	Name    string
	Version int64
	Data    []byte
}

// Subscriber receives the events of one session.
type Subscriber struct {
	id        string
	sessionID string
	events    chan Event
}

// ID returns the subscriber's unique identifier.
func (s *Subscriber) ID() string { return s.id }

// Events returns the channel for receiving events. It is closed on unsubscribe.
func (s *Subscriber) Events() <-chan Event { return s.events }

// send delivers without blocking. It returns false if the subscriber is too slow.
func (s *Subscriber) send(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	default:
		slog.Warn("Subscriber channel full, dropping event", "subscriber_id", s.id, "session_id", s.sessionID)
		return false
	}
}

// Hub manages subscribers per session id.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Subscriber
	closed   bool
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[string]map[string]*Subscriber)}
}

// Subscribe registers a subscriber for a session. The returned func unsubscribes it.
func (h *Hub) Subscribe(sessionID string) (*Subscriber, func()) {
	sub := &Subscriber{
		id:        uuid.NewString(),
		sessionID: sessionID,
		events:    make(chan Event, subscriberBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.events)
		return sub, func() {}
	}
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[string]*Subscriber)
	}
	h.sessions[sessionID][sub.id] = sub
	slog.Debug("Subscriber registered", "subscriber_id", sub.id, "session_id", sessionID)

	var once sync.Once
	return sub, func() { once.Do(func() { h.unsubscribe(sub) }) }
}

func (h *Hub) unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.sessions[sub.sessionID]
	if !ok {
		return
	}
	if _, ok := subs[sub.id]; !ok {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(h.sessions, sub.sessionID)
	}
	close(sub.events)
	slog.Debug("Subscriber unregistered", "subscriber_id", sub.id, "session_id", sub.sessionID)
}

// Publish sends a response-update event carrying the snapshot to every subscriber of the session.
func (h *Hub) Publish(sessionID string, snapshot *model.SessionState) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.sessions[sessionID]
	if len(subs) == 0 {
		return
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		slog.Error("Failed to marshal session snapshot", "session_id", sessionID, "error", err)
		return
	}
	ev := Event{Name: EventResponseUpdate, Version: snapshot.Version, Data: data}
	for _, sub := range subs {
		sub.send(ev)
	}
}

// Subscribers returns the number of subscribers of a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Close disconnects every subscriber. Later subscriptions receive a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, subs := range h.sessions {
		for _, sub := range subs {
			close(sub.events)
		}
		delete(h.sessions, id)
	}
}
