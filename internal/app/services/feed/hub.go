package feed

import (
	"sync"

	feeddomain "github.com/noospace-net/noospace/internal/app/domain/feed"
	"github.com/noospace-net/noospace/pkg/logger"
)

// subscriberBuffer bounds each subscriber's channel; slow consumers drop
// events instead of blocking publishers.
const subscriberBuffer = 16

// Hub fans stored posts out to live subscribers.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan feeddomain.Post
	log    *logger.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("feed-hub")
	}
	return &Hub{subs: make(map[int]chan feeddomain.Post), log: log}
}

// Subscribe registers a listener. The returned cancel function unregisters it
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan feeddomain.Post, func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	ch := make(chan feeddomain.Post, subscriberBuffer)
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers a post to every subscriber. Full buffers are skipped.
func (h *Hub) Publish(p feeddomain.Post) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		select {
		case ch <- p:
		default:
			h.log.WithField("subscriber", id).Debug("live feed subscriber lagging; event dropped")
		}
	}
}

// Len reports the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
