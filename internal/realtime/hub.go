// Package realtime fans message events out to the websocket streams of the
// user that owns them.
package realtime

import (
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/unifiedinbox/internal/models"
)

type EventType string

const (
	MessageCreated EventType = "message.created"
	MessageUpdated EventType = "message.updated"
	ContactMerged  EventType = "contact.merged"
)

type Event struct {
	Type    EventType       `json:"type"`
	Message *models.Message `json:"message,omitempty"`
	Contact *models.Contact `json:"contact,omitempty"`
}

// Publisher is what the ingest, send and dispatch paths depend on.
type Publisher interface {
	Publish(userID uuid.UUID, ev Event)
}

const streamBuffer = 64

// Hub is an in-process pub/sub keyed by user id.
type Hub struct {
	mu      sync.RWMutex
	streams map[uuid.UUID]map[string]chan Event
}

func NewHub() *Hub {
	return &Hub{streams: map[uuid.UUID]map[string]chan Event{}}
}

// Subscribe registers a stream for userID. The returned cancel func closes
// the channel and must be called exactly once.
func (h *Hub) Subscribe(userID uuid.UUID) (<-chan Event, func()) {
	streamID := uuid.NewString()
	ch := make(chan Event, streamBuffer)

	h.mu.Lock()
	streams, ok := h.streams[userID]
	if !ok {
		streams = map[string]chan Event{}
		h.streams[userID] = streams
	}
	streams[streamID] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		streams := h.streams[userID]
		if current, ok := streams[streamID]; ok {
			delete(streams, streamID)
			close(current)
		}
		if len(streams) == 0 {
			delete(h.streams, userID)
		}
	}
	return ch, cancel
}

// Publish never blocks. Events for a slow subscriber are dropped.
func (h *Hub) Publish(userID uuid.UUID, ev Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.streams[userID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers reports the number of open streams for userID.
func (h *Hub) Subscribers(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[userID])
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(uuid.UUID, Event) {}
