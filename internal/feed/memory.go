package feed

import (
	"context"
	"sync"
)

type memorySub struct {
	*stream
	filter Filter
}

// Hub is an in-process feed. Stores publish into it and watchers subscribe
// to it; Fail simulates a broken stream for every current subscriber.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*memorySub]struct{}
	buffer int
}

func NewHub() *Hub { return &Hub{subs: make(map[*memorySub]struct{}), buffer: 64} }

func (h *Hub) Subscribe(ctx context.Context, f Filter) (Subscription, error) {
	sub := &memorySub{filter: f}
	sub.stream = newStream(h.buffer, func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
	})
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub, nil
}

func (h *Hub) Publish(ctx context.Context, c Change) error {
	return h.PublishBatch(ctx, []Change{c})
}

// PublishBatch delivers the changes to every subscriber as a single batch.
func (h *Hub) PublishBatch(ctx context.Context, changes []Change) error {
	for _, sub := range h.snapshot() {
		sub.deliver(ctx, sub.filter.Apply(changes))
	}
	return ctx.Err()
}

func (h *Hub) Fail(err error) {
	for _, sub := range h.snapshot() {
		sub.fail(err)
	}
}

// Subscribers is the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) snapshot() []*memorySub {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*memorySub, 0, len(h.subs))
	for s := range h.subs {
		out = append(out, s)
	}
	return out
}
