package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisFeed carries changes over a Redis pub/sub channel. Messages are not
// buffered by Redis, so anything published while no subscriber is
// connected is lost.
type RedisFeed struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisFeed(client *redis.Client, channel string, logger *slog.Logger) *RedisFeed {
	return &RedisFeed{client: client, channel: channel, logger: logger}
}

func (r *RedisFeed) Publish(ctx context.Context, c Change) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, b).Err()
}

func (r *RedisFeed) Subscribe(ctx context.Context, f Filter) (Subscription, error) {
	ps := r.client.Subscribe(ctx, r.channel)
	// wait for the subscription to be confirmed so errors surface here
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s := newStream(16, func() {
		cancel()
		_ = ps.Close()
	})
	go r.loop(loopCtx, ps, s, f)
	return s, nil
}

func (r *RedisFeed) loop(ctx context.Context, ps *redis.PubSub, s *stream, f Filter) {
	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.fail(fmt.Errorf("redis pubsub %s: %w", r.channel, err))
			}
			return
		}
		changes, err := decodeChanges([]byte(msg.Payload))
		if err != nil {
			r.logger.Warn("dropping undecodable change", "channel", r.channel, "error", err)
			continue
		}
		if !s.deliver(ctx, f.Apply(changes)) {
			return
		}
	}
}
