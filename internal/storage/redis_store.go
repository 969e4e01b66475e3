package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/example/reservation-notifier/internal/feed"
	"github.com/example/reservation-notifier/internal/models"
)

const maxTxRetries = 5

// RedisStore keeps each reservation and driver as a JSON document under
// reservations:<id> and drivers:<id>.
type RedisStore struct {
	client    *redis.Client
	publisher feed.Publisher
	logger    *slog.Logger
}

func NewRedisStore(client *redis.Client, publisher feed.Publisher, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, publisher: publisher, logger: logger}
}

func reservationKey(id string) string { return "reservations:" + id }
func driverKey(id string) string      { return "drivers:" + id }

func (s *RedisStore) PutReservation(ctx context.Context, r models.Reservation) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, reservationKey(r.ID), b, 0).Err()
}

func (s *RedisStore) PutDriver(ctx context.Context, d models.Driver) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, driverKey(d.ID), b, 0).Err()
}

func (s *RedisStore) GetReservation(ctx context.Context, id string) (models.Reservation, error) {
	b, err := s.client.Get(ctx, reservationKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Reservation{}, fmt.Errorf("reservation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Reservation{}, fmt.Errorf("get reservation %s: %w", id, err)
	}
	return decodeReservation(id, b)
}

func (s *RedisStore) GetDriver(ctx context.Context, id string) (models.Driver, error) {
	b, err := s.client.Get(ctx, driverKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Driver{}, fmt.Errorf("driver %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Driver{}, fmt.Errorf("get driver %s: %w", id, err)
	}
	var d models.Driver
	if err := json.Unmarshal(b, &d); err != nil {
		return models.Driver{}, fmt.Errorf("decode driver %s: %w", id, err)
	}
	if d.ID == "" {
		d.ID = id
	}
	return d, nil
}

// UpdateStatus rewrites only the status field of the stored document,
// leaving every other field byte-for-byte as it was.
func (s *RedisStore) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	key := reservationKey(id)
	var before, after models.Reservation

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("reservation %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode reservation %s: %w", id, err)
		}
		if before, err = decodeReservation(id, raw); err != nil {
			return err
		}
		encoded, err := json.Marshal(status)
		if err != nil {
			return err
		}
		doc["status"] = encoded
		updated, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		after = before.Clone()
		after.Status = status

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("update reservation %s: %w", id, err)
	}

	publishChange(ctx, s.publisher, s.logger, feed.Change{Op: feed.OpUpdate, ID: id, Before: &before, After: &after})
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func decodeReservation(id string, b []byte) (models.Reservation, error) {
	var r models.Reservation
	if err := json.Unmarshal(b, &r); err != nil {
		return models.Reservation{}, fmt.Errorf("decode reservation %s: %w", id, err)
	}
	if r.ID == "" {
		r.ID = id
	}
	return r, nil
}
