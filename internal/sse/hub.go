package sse

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Topics clients subscribe to. Admins receive sync progress; a client only
// sees activity on their own threads.
const TopicAdmins = "admins"

func UserTopic(userID string) string {
	return "user:" + userID
}

// Event is one server-sent event. Data is sent as JSON.
type Event struct {
	Name string
	Data any
}

// Frame renders the event in text/event-stream framing.
func (e Event) Frame() ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.Name, err)
	}
	return []byte("event: " + e.Name + "\ndata: " + string(data) + "\n\n"), nil
}

type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan []byte]struct{})}
}

// Subscribe registers a channel on every given topic. The returned function
// unsubscribes and closes the channel.
func (h *Hub) Subscribe(topics ...string) (<-chan []byte, func()) {
	ch := make(chan []byte, 8)
	h.mu.Lock()
	for _, topic := range topics {
		if _, ok := h.subs[topic]; !ok {
			h.subs[topic] = make(map[chan []byte]struct{})
		}
		h.subs[topic][ch] = struct{}{}
	}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			for _, topic := range topics {
				if subscribers, ok := h.subs[topic]; ok {
					delete(subscribers, ch)
					if len(subscribers) == 0 {
						delete(h.subs, topic)
					}
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers the event to the subscribers of each topic, once per
// subscriber. Slow subscribers miss events rather than block the publisher.
func (h *Hub) Publish(event Event, topics ...string) error {
	frame, err := event.Frame()
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := make(map[chan []byte]struct{})
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		for ch := range h.subs[topic] {
			if _, done := delivered[ch]; done {
				continue
			}
			delivered[ch] = struct{}{}
			select {
			case ch <- frame:
			default:
			}
		}
	}
	return nil
}
