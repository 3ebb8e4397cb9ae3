package notify

import "sync"

// Hub fans events out to in-process subscribers. Topics are natural keys
// (attempt IDs); "*" receives everything. The domain layer publishes here
// after commit, so observers never see uncommitted state. Delivery is
// best-effort: a subscriber that falls behind misses events rather than
// blocking the publisher, and can re-sync from the event log.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[chan Event]struct{}{}}
}

// Subscribe registers interest in a topic. The returned cancel func must be
// called on teardown; afterwards the channel is closed.
func (h *Hub) Subscribe(topic string) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = map[chan Event]struct{}{}
	}
	h.subs[topic][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[topic], ch)
			if len(h.subs[topic]) == 0 {
				delete(h.subs, topic)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, topic := range []string{e.Key, "*"} {
		for ch := range h.subs[topic] {
			select {
			case ch <- e:
			default: // slow subscriber, drop
			}
		}
	}
}
