package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/reservation-notifier/internal/feed"
	"github.com/example/reservation-notifier/internal/models"
)

// ErrNotFound is returned (wrapped) for a reservation or driver that does not exist.
var ErrNotFound = errors.New("not found")

// Store is the read/update surface used by the notifier. It never creates
// reservations; UpdateStatus changes the status field and nothing else.
type Store interface {
	GetReservation(ctx context.Context, id string) (models.Reservation, error)
	GetDriver(ctx context.Context, id string) (models.Driver, error)
	UpdateStatus(ctx context.Context, id string, status models.Status) error
}

type MemoryStore struct {
	mu           sync.RWMutex
	reservations map[string]models.Reservation
	drivers      map[string]models.Driver
	publisher    feed.Publisher
	logger       *slog.Logger
}

// NewMemoryStore returns an empty store. When publisher is non-nil every
// status update is published as a change.
func NewMemoryStore(publisher feed.Publisher, logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		reservations: make(map[string]models.Reservation),
		drivers:      make(map[string]models.Driver),
		publisher:    publisher,
		logger:       logger,
	}
}

func (m *MemoryStore) PutReservation(r models.Reservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservations[r.ID] = r.Clone()
}

func (m *MemoryStore) PutDriver(d models.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = d
}

func (m *MemoryStore) GetReservation(ctx context.Context, id string) (models.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reservations[id]
	if !ok {
		return models.Reservation{}, fmt.Errorf("reservation %s: %w", id, ErrNotFound)
	}
	return r.Clone(), nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, id string) (models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return models.Driver{}, fmt.Errorf("driver %s: %w", id, ErrNotFound)
	}
	return d, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	m.mu.Lock()
	r, ok := m.reservations[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("reservation %s: %w", id, ErrNotFound)
	}
	before := r.Clone()
	r.Status = status
	m.reservations[id] = r
	after := r.Clone()
	m.mu.Unlock()

	publishChange(ctx, m.publisher, m.logger, feed.Change{Op: feed.OpUpdate, ID: id, Before: &before, After: &after})
	return nil
}

// publishChange is best effort: the write has already happened.
func publishChange(ctx context.Context, p feed.Publisher, logger *slog.Logger, c feed.Change) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, c); err != nil && logger != nil {
		logger.Error("publish reservation change failed", "reservation_id", c.ID, "error", err)
	}
}
