package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaFeed reads change-data-capture messages from a topic. Each
// subscription joins the consumer group afresh.
type KafkaFeed struct {
	brokers []string
	topic   string
	group   string
	logger  *slog.Logger
}

func NewKafkaFeed(brokers []string, topic, group string, logger *slog.Logger) *KafkaFeed {
	return &KafkaFeed{brokers: brokers, topic: topic, group: group, logger: logger}
}

func (k *KafkaFeed) Subscribe(ctx context.Context, f Filter) (Subscription, error) {
	if len(k.brokers) == 0 {
		return nil, fmt.Errorf("kafka feed: no brokers configured")
	}
	r := kafka.NewReader(kafka.ReaderConfig{Brokers: k.brokers, Topic: k.topic, GroupID: k.group, MinBytes: 1, MaxBytes: 10e6})

	loopCtx, cancel := context.WithCancel(context.Background())
	s := newStream(16, func() {
		cancel()
		_ = r.Close()
	})
	go k.loop(loopCtx, r, s, f)
	return s, nil
}

func (k *KafkaFeed) loop(ctx context.Context, r *kafka.Reader, s *stream, f Filter) {
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.fail(fmt.Errorf("kafka read %s: %w", k.topic, err))
			}
			return
		}
		changes, err := decodeChanges(m.Value)
		if err != nil {
			k.logger.Warn("dropping undecodable change", "topic", k.topic, "offset", m.Offset, "error", err)
			continue
		}
		if !s.deliver(ctx, f.Apply(changes)) {
			return
		}
	}
}

// KafkaPublisher relays store changes onto the CDC topic, keyed by
// reservation id so a document's changes stay ordered.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic, Balancer: &kafka.Hash{}}
	return &KafkaPublisher{writer: w}
}

func (k *KafkaPublisher) Publish(ctx context.Context, c Change) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(c.ID), Value: b})
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
