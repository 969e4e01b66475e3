// Package watcher turns reservation status transitions seen on the change
// feed into notifications.
//
// Failure handling is asymmetric. Anything that goes wrong
// while handling a single change (store lookups, provider errors, panics)
// is logged and the next change is processed. Anything that breaks the
// subscription itself closes it, waits a fixed delay and opens a new one.
// Changes made while no subscription is open may never be observed.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/reservation-notifier/internal/feed"
	"github.com/example/reservation-notifier/internal/models"
	"github.com/example/reservation-notifier/internal/observability"
	"github.com/example/reservation-notifier/internal/storage"
)

const DefaultResubscribeDelay = 5 * time.Second

var ErrAlreadyRunning = errors.New("watcher already running")

// MonitoredStatuses is the feed filter: only reservations in one of these
// statuses are streamed.
var MonitoredStatuses = []models.Status{models.StatusConfirmed, models.StatusCancelled}

type State int32

const (
	StateStopped State = iota
	StateSubscribing
	StateActive
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Notifier sends one notification; see notify.Dispatcher.
type Notifier interface {
	Send(ctx context.Context, transition models.TransitionType, to models.Recipient, r models.Reservation, drv models.Driver) error
}

// DriverGetter looks up the driver attached to a reservation.
type DriverGetter interface {
	GetDriver(ctx context.Context, id string) (models.Driver, error)
}

type Options struct {
	// ResubscribeDelay is the fixed wait before reopening a failed
	// subscription. Zero means DefaultResubscribeDelay.
	ResubscribeDelay time.Duration
	// NotifyDriver also emails the driver on every transition.
	NotifyDriver bool
}

type Watcher struct {
	feed     feed.Feed
	drivers  DriverGetter
	notifier Notifier
	logger   *slog.Logger
	opts     Options
	after    func(time.Duration) <-chan time.Time

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

func New(f feed.Feed, drivers DriverGetter, notifier Notifier, logger *slog.Logger, opts Options) *Watcher {
	if opts.ResubscribeDelay <= 0 {
		opts.ResubscribeDelay = DefaultResubscribeDelay
	}
	return &Watcher{
		feed:     f,
		drivers:  drivers,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
		after:    time.After,
	}
}

// Start launches the subscription loop. It returns immediately; the loop
// runs until Stop is called or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		select {
		case <-w.done:
		default:
			return ErrAlreadyRunning
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(ctx, w.done)
	return nil
}

// Stop cancels the loop and waits for the current subscription to be released.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	w.mu.Lock()
	if w.done == done {
		w.cancel, w.done = nil, nil
	}
	w.mu.Unlock()
}

func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	observability.WatcherState.Set(float64(s))
}

func (w *Watcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer w.setState(StateStopped)

	filter := feed.Filter{Statuses: MonitoredStatuses}
	for {
		w.setState(StateSubscribing)
		w.logger.Info("subscribing to reservation changes", "statuses", MonitoredStatuses)
		sub, err := w.feed.Subscribe(ctx, filter)
		if err == nil {
			w.setState(StateActive)
			err = w.consume(ctx, sub)
			if cerr := sub.Close(); cerr != nil {
				w.logger.Warn("closing subscription", "error", cerr)
			}
		}
		if ctx.Err() != nil {
			w.logger.Info("watcher stopped")
			return
		}

		w.setState(StateReconnecting)
		observability.WatcherResubscribesTotal.Inc()
		w.logger.Error("change feed failed, resubscribing", "error", err, "delay", w.opts.ResubscribeDelay.String())
		select {
		case <-ctx.Done():
			return
		case <-w.after(w.opts.ResubscribeDelay):
		}
	}
}

// consume reads from sub until it fails. A panic while consuming counts as
// a subscription failure.
func (w *Watcher) consume(ctx context.Context, sub feed.Subscription) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("watcher panic: %v", rec)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Errors():
			if err == nil {
				err = feed.ErrClosed
			}
			return err
		case batch := <-sub.Batches():
			w.HandleBatch(ctx, batch)
		}
	}
}

// HandleBatch processes each change in order. No change can stop the ones after it.
func (w *Watcher) HandleBatch(ctx context.Context, batch feed.Batch) {
	for _, change := range batch {
		w.handleChangeSafely(ctx, change)
	}
}

func (w *Watcher) handleChangeSafely(ctx context.Context, change feed.DocChange) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.WatcherEventsTotal.WithLabelValues("panic").Inc()
			w.logger.Error("panic handling reservation change", "reservation_id", change.ID, "error", fmt.Sprint(rec))
		}
	}()
	outcome := w.handleChange(ctx, change)
	observability.WatcherEventsTotal.WithLabelValues(outcome).Inc()
}

func (w *Watcher) handleChange(ctx context.Context, change feed.DocChange) string {
	if change.Kind != feed.Modified {
		return "ignored"
	}
	if change.Previous == nil {
		w.logger.Warn("no previous snapshot for reservation change", "reservation_id", change.ID)
		return "no_previous"
	}
	next := change.Doc
	if next.ID == "" {
		next.ID = change.ID
	}
	t := models.Transition{ReservationID: change.ID, Previous: change.Previous.Status, Next: next.Status, Snapshot: next}
	if t.Previous == t.Next {
		return "unchanged"
	}
	transition, ok := models.TransitionFor(t.Next)
	if !ok {
		return "ignored"
	}

	drv, err := w.lookupDriver(ctx, next)
	if err != nil {
		w.logger.Error("driver lookup failed", "reservation_id", change.ID, "driver_id", next.DriverID, "error", err)
		return "store_error"
	}

	w.logger.Info("reservation status changed", "reservation_id", change.ID, "from", t.Previous, "to", t.Next)
	failed := false
	for _, to := range w.recipients(next, drv) {
		if err := w.notifier.Send(ctx, transition, to, next, drv); err != nil {
			failed = true
			w.logger.Error("notification failed", "reservation_id", change.ID, "role", to.Role, "transition", transition, "error", err)
		}
	}
	if failed {
		return "notify_failed"
	}
	return "notified"
}

// lookupDriver tolerates a missing driver; the email falls back to
// placeholder values.
func (w *Watcher) lookupDriver(ctx context.Context, r models.Reservation) (models.Driver, error) {
	if r.DriverID == "" {
		return models.Driver{}, nil
	}
	drv, err := w.drivers.GetDriver(ctx, r.DriverID)
	if errors.Is(err, storage.ErrNotFound) {
		w.logger.Warn("driver not found", "reservation_id", r.ID, "driver_id", r.DriverID)
		return models.Driver{ID: r.DriverID}, nil
	}
	return drv, err
}

func (w *Watcher) recipients(r models.Reservation, drv models.Driver) []models.Recipient {
	var out []models.Recipient
	if r.Client != nil && r.Client.Email != "" {
		out = append(out, models.Recipient{Email: r.Client.Email, Role: models.RoleClient})
	} else {
		w.logger.Warn("reservation has no client email", "reservation_id", r.ID)
	}
	if w.opts.NotifyDriver && drv.Email != "" {
		out = append(out, models.Recipient{Email: drv.Email, Role: models.RoleDriver})
	}
	return out
}
