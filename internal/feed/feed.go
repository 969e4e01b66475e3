// Package feed models a live change feed over reservation documents.
//
// Backends report document-level changes (Op plus optional before/after
// snapshots). A Filter turns those into query-relative changes: a document
// entering the filtered set is Added, one changing while inside it is
// Modified, one leaving it is Removed.
package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/example/reservation-notifier/internal/models"
)

// Op is what happened to the document at the source.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is a document-level change as reported by a backend. Before is nil
// when the source does not know the prior state.
type Change struct {
	Op     Op                  `json:"op"`
	ID     string              `json:"id"`
	Before *models.Reservation `json:"before,omitempty"`
	After  *models.Reservation `json:"after,omitempty"`
}

type Kind int

const (
	Added Kind = iota + 1
	Modified
	Removed
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// DocChange is a change relative to the subscription's filter.
type DocChange struct {
	Kind     Kind
	ID       string
	Doc      models.Reservation
	Previous *models.Reservation
}

type Batch []DocChange

// Filter restricts a subscription to reservations in one of Statuses. An
// empty filter matches everything.
type Filter struct {
	Statuses []models.Status
}

func (f Filter) Match(r *models.Reservation) bool {
	if r == nil {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

// Classify maps a document change onto the filtered view. The second
// return is false when the change is invisible to this filter.
func (f Filter) Classify(c Change) (DocChange, bool) {
	id := c.ID
	switch c.Op {
	case OpInsert:
		if !f.Match(c.After) {
			return DocChange{}, false
		}
		return DocChange{Kind: Added, ID: idOf(id, c.After), Doc: *c.After}, true
	case OpDelete:
		if c.Before != nil && !f.Match(c.Before) {
			return DocChange{}, false
		}
		dc := DocChange{Kind: Removed, ID: id}
		if c.Before != nil {
			dc.ID = idOf(id, c.Before)
			dc.Doc = *c.Before
		}
		return dc, true
	case OpUpdate:
		afterIn := f.Match(c.After)
		if c.Before == nil {
			if !afterIn {
				return DocChange{}, false
			}
			return DocChange{Kind: Modified, ID: idOf(id, c.After), Doc: *c.After}, true
		}
		beforeIn := f.Match(c.Before)
		switch {
		case beforeIn && afterIn:
			prev := *c.Before
			return DocChange{Kind: Modified, ID: idOf(id, c.After), Doc: *c.After, Previous: &prev}, true
		case afterIn:
			return DocChange{Kind: Added, ID: idOf(id, c.After), Doc: *c.After}, true
		case beforeIn:
			dc := DocChange{Kind: Removed, ID: idOf(id, c.Before), Doc: *c.Before}
			if c.After != nil {
				dc.Doc = *c.After
			}
			return dc, true
		}
	}
	return DocChange{}, false
}

// Apply classifies a group of changes, dropping the invisible ones.
func (f Filter) Apply(changes []Change) Batch {
	out := make(Batch, 0, len(changes))
	for _, c := range changes {
		if dc, ok := f.Classify(c); ok {
			out = append(out, dc)
		}
	}
	return out
}

func idOf(id string, r *models.Reservation) string {
	if id != "" {
		return id
	}
	return r.ID
}

// Subscription delivers change batches until it fails or is closed. After
// Close returns no further batches are delivered.
type Subscription interface {
	Batches() <-chan Batch
	Errors() <-chan error
	Close() error
}

type Feed interface {
	Subscribe(ctx context.Context, f Filter) (Subscription, error)
}

// Publisher pushes document-level changes into a feed.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

var ErrClosed = errors.New("feed: subscription closed")

// stream is the channel plumbing shared by every backend.
type stream struct {
	batches chan Batch
	errs    chan error
	done    chan struct{}
	once    sync.Once
	onClose func()
}

func newStream(buffer int, onClose func()) *stream {
	return &stream{
		batches: make(chan Batch, buffer),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

func (s *stream) Batches() <-chan Batch { return s.batches }
func (s *stream) Errors() <-chan error  { return s.errs }

func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

func (s *stream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// deliver blocks until the batch is handed over or the stream is closed.
func (s *stream) deliver(ctx context.Context, b Batch) bool {
	if len(b) == 0 {
		return !s.closed()
	}
	select {
	case s.batches <- b:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// fail reports a terminal error. Only the first one is kept.
func (s *stream) fail(err error) {
	if s.closed() {
		return
	}
	select {
	case s.errs <- err:
	default:
	}
}
