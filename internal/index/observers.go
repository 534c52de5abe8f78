package index

import (
	"context"
	"sync"
	"time"
)

// Hub re-emits aggregate stats to subscribers whenever the store mutates.
// Notifications are coalesced: a burst of writes produces one recomputation.
// Slow subscribers miss intermediate snapshots rather than blocking writers.
type Hub struct {
	mu          sync.Mutex
	subscribers map[int]chan Stats
	nextID      int
	ticks       chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
}

func newHub() *Hub {
	return &Hub{
		subscribers: make(map[int]chan Stats),
		ticks:       make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

func (h *Hub) start(store *Store) {
	go h.run(store)
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// notify signals that the store mutated. Non-blocking; pending notifications
// coalesce into one.
func (h *Hub) notify() {
	select {
	case h.ticks <- struct{}{}:
	default:
	}
}

func (h *Hub) subscribe() (<-chan Stats, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Stats, 1)
	h.subscribers[id] = ch
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[id]; ok {
			delete(h.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (h *Hub) run(store *Store) {
	for {
		select {
		case <-h.done:
			return
		case <-h.ticks:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			stats, err := store.Stats(ctx)
			cancel()
			if err != nil {
				continue
			}
			h.broadcast(stats)
		}
	}
}

func (h *Hub) broadcast(stats Stats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		// Replace a stale pending snapshot instead of blocking.
		select {
		case ch <- stats:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- stats:
			default:
			}
		}
	}
}
