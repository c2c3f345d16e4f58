package relay

import "sync"

// Hub wakes stream sessions when their mailbox receives a signal. It only
// sees enqueues handled by this process; sessions also poll on a timer.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan struct{}]struct{})}
}

// Subscribe returns a channel that receives a value whenever user's mailbox
// changes. Wakeups coalesce. Call the returned func to unsubscribe.
func (h *Hub) Subscribe(user string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	set, ok := h.subs[user]
	if !ok {
		set = make(map[chan struct{}]struct{})
		h.subs[user] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[user], ch)
			if len(h.subs[user]) == 0 {
				delete(h.subs, user)
			}
		})
	}
}

// Notify wakes every session subscribed to user without blocking.
func (h *Hub) Notify(user string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[user] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Sessions returns the number of live subscriptions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}
