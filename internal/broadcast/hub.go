package broadcast

import (
	"sync"

	"github.com/khalid-1/antigravity-mobile/internal/logging"
)

// Event types pushed to connected clients.
const (
	TypeToken                = "chat:token"
	TypeAction               = "chat:action"
	TypeDone                 = "chat:done"
	TypeStop                 = "chat:stopped"
	TypeConversationsChanged = "chats:refresh"
	TypeProjectsChanged      = "projects:refresh"
	TypeDevStarted           = "dev:started"
	TypeDevStopped           = "dev:stopped"
	TypeLogLine              = "dev:log"
)

// Event is a single fan-out message. Only the fields relevant to its
// Type are populated.
type Event struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
	Token     string `json:"token,omitempty"`
	Action    string `json:"action,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Line      string `json:"line,omitempty"`
	IsError   bool   `json:"isError,omitempty"`
}

const subscriberBuffer = 256

// Hub fans events out to all subscribers. Delivery is best effort: a
// subscriber that cannot keep up has events dropped rather than blocking
// the agent loop.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a new listener. The returned cancel func must be
// called when the listener goes away.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if existing, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber without blocking.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			logging.DevLog("broadcast: dropping %s event for slow subscriber %d", event.Type, id)
		}
	}
}

// SubscriberCount reports how many listeners are connected.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
