package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/example/reservation-notifier/internal/models"
	"github.com/example/reservation-notifier/internal/observability"
	"github.com/example/reservation-notifier/internal/storage"
)

var ErrMissingDriverID = errors.New("driverId is required")

// FailurePolicy decides what a failed notification does to the response.
// The status write happens under every policy.
type FailurePolicy string

const (
	// PolicyReport persists the confirmation, then returns a NotificationError.
	PolicyReport FailurePolicy = "report"
	// PolicyIgnore persists the confirmation and reports success.
	PolicyIgnore FailurePolicy = "ignore"
)

func ParsePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyReport, PolicyIgnore:
		return p, nil
	case "":
		return PolicyReport, nil
	default:
		return "", fmt.Errorf("unknown notification failure policy %q", s)
	}
}

// NotificationError lists the sends that failed. The reservation was
// confirmed regardless.
type NotificationError struct {
	Failures map[models.Role]error
}

func (e *NotificationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, role := range []models.Role{models.RoleClient, models.RoleDriver} {
		if err, ok := e.Failures[role]; ok {
			parts = append(parts, fmt.Sprintf("%s: %v", role, err))
		}
	}
	return "notification failed: " + strings.Join(parts, "; ")
}

func (e *NotificationError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, role := range []models.Role{models.RoleClient, models.RoleDriver} {
		if err, ok := e.Failures[role]; ok {
			out = append(out, err)
		}
	}
	return out
}

type Notifier interface {
	Send(ctx context.Context, transition models.TransitionType, to models.Recipient, r models.Reservation, drv models.Driver) error
}

type Service struct {
	store    storage.Store
	notifier Notifier
	policy   FailurePolicy
	logger   *slog.Logger
}

func NewService(store storage.Store, notifier Notifier, policy FailurePolicy, logger *slog.Logger) *Service {
	if policy == "" {
		policy = PolicyReport
	}
	return &Service{store: store, notifier: notifier, policy: policy, logger: logger}
}

// Confirm runs the driver-confirms-reservation workflow: both records are
// read concurrently, both parties are notified concurrently, and only then
// is the status written.
func (s *Service) Confirm(ctx context.Context, reservationID, driverID string) error {
	if strings.TrimSpace(driverID) == "" {
		observability.ConfirmationsTotal.WithLabelValues("invalid").Inc()
		return ErrMissingDriverID
	}

	r, drv, err := s.load(ctx, reservationID, driverID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			observability.ConfirmationsTotal.WithLabelValues("not_found").Inc()
		} else {
			observability.ConfirmationsTotal.WithLabelValues("error").Inc()
		}
		return err
	}

	failures := s.notifyBoth(ctx, r, drv)
	for role, ferr := range failures {
		s.logger.Error("confirmation notification failed", "reservation_id", reservationID, "role", role, "error", ferr)
	}

	// the write outlives a caller that went away during the sends
	if err := s.store.UpdateStatus(context.WithoutCancel(ctx), reservationID, models.StatusConfirmed); err != nil {
		observability.ConfirmationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("persist confirmation: %w", err)
	}
	s.logger.Info("reservation confirmed", "reservation_id", reservationID, "driver_id", driverID, "notification_failures", len(failures))

	if len(failures) > 0 && s.policy == PolicyReport {
		observability.ConfirmationsTotal.WithLabelValues("notify_failed").Inc()
		return &NotificationError{Failures: failures}
	}
	observability.ConfirmationsTotal.WithLabelValues("ok").Inc()
	return nil
}

func (s *Service) load(ctx context.Context, reservationID, driverID string) (models.Reservation, models.Driver, error) {
	var (
		wg     sync.WaitGroup
		r      models.Reservation
		drv    models.Driver
		rErr   error
		drvErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		r, rErr = s.store.GetReservation(ctx, reservationID)
	}()
	go func() {
		defer wg.Done()
		drv, drvErr = s.store.GetDriver(ctx, driverID)
	}()
	wg.Wait()

	// not-found wins over other errors so the caller can answer 404
	for _, err := range []error{rErr, drvErr} {
		if errors.Is(err, storage.ErrNotFound) {
			return r, drv, err
		}
	}
	if rErr != nil {
		return r, drv, rErr
	}
	return r, drv, drvErr
}

func (s *Service) notifyBoth(ctx context.Context, r models.Reservation, drv models.Driver) map[models.Role]error {
	var clientEmail string
	if r.Client != nil {
		clientEmail = r.Client.Email
	}
	recipients := []models.Recipient{
		{Email: clientEmail, Role: models.RoleClient},
		{Email: drv.Email, Role: models.RoleDriver},
	}

	errs := make([]error, len(recipients))
	var wg sync.WaitGroup
	for i, to := range recipients {
		wg.Add(1)
		go func(i int, to models.Recipient) {
			defer wg.Done()
			errs[i] = s.notifier.Send(ctx, models.TransitionConfirm, to, r, drv)
		}(i, to)
	}
	wg.Wait()

	var failures map[models.Role]error
	for i, err := range errs {
		if err == nil {
			continue
		}
		if failures == nil {
			failures = make(map[models.Role]error)
		}
		failures[recipients[i].Role] = err
	}
	return failures
}
