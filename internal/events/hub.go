// Package events fans scan progress out to subscribers, one topic per
// network.
package events

import (
	"sync"
	"time"
)

// Event types published during a scan.
const (
	TypeLog      = "log"      // one scan log line
	TypeTopology = "topology" // the topology changed, refetch it
	TypeStatus   = "status"   // scan lifecycle transition
	TypeChannels = "channels" // in-flight work summary
)

// Event is one notification on a network topic.
type Event struct {
	Type      string    `json:"type"`
	NetworkID string    `json:"network_id"`
	ScanID    string    `json:"scan_id,omitempty"`
	Level     string    `json:"level,omitempty"`
	Message   string    `json:"message,omitempty"`
	Status    string    `json:"status,omitempty"`
	// Channels lists the addresses currently mid-discovery, for
	// TypeChannels events.
	Channels []string  `json:"channels,omitempty"`
	Time     time.Time `json:"time"`
}

type subscriber struct {
	ch chan Event
}

// Hub is the in-process pub/sub switchboard. Delivery is best-effort:
// a subscriber that cannot keep up loses events rather than stalling
// the publisher.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*subscriber]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers a listener on a network topic. The returned
// cancel func must be called exactly once; it closes the channel.
func (h *Hub) Subscribe(networkID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, 64)}

	h.mu.Lock()
	topic, ok := h.topics[networkID]
	if !ok {
		topic = make(map[*subscriber]struct{})
		h.topics[networkID] = topic
	}
	topic[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.topics[networkID], sub)
			// Drop the topic when its last subscriber leaves.
			if len(h.topics[networkID]) == 0 {
				delete(h.topics, networkID)
			}
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers an event to every subscriber of its network topic.
// Publishing to a topic with no subscribers is a no-op.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.topics[ev.NetworkID] {
		select {
		case sub.ch <- ev:
		default:
			// subscriber is full, drop
		}
	}
}

// SubscriberCount reports the number of listeners on a topic.
func (h *Hub) SubscriberCount(networkID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[networkID])
}
