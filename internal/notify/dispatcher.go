package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/reservation-notifier/internal/models"
	"github.com/example/reservation-notifier/internal/observability"
	"github.com/example/reservation-notifier/internal/templates"
)

// Identity is the sender shown to recipients.
type Identity struct {
	Email string
	Name  string
}

// Message is one fully resolved outbound email.
type Message struct {
	To       models.Recipient
	From     Identity
	Template templates.TemplateRef
	Data     map[string]any
}

// Sender delivers a message through an email provider.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ProviderError carries what the email provider said about a rejected send.
type ProviderError struct {
	StatusCode int
	Message    string
	Detail     any
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("email provider: %d %s", e.StatusCode, e.Message)
	}
	return "email provider: " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Err }

type Dispatcher struct {
	registry *templates.Registry
	sender   Sender
	from     Identity
	format   *Formatter
	logger   *slog.Logger
	now      func() time.Time
}

func NewDispatcher(registry *templates.Registry, sender Sender, from Identity, format *Formatter, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		sender:   sender,
		from:     from,
		format:   format,
		logger:   logger,
		now:      time.Now,
	}
}

// Send renders and sends one email. Unknown templates and recipients
// without an address are skipped and return nil. Provider errors are
// returned untouched; nothing here retries.
func (d *Dispatcher) Send(ctx context.Context, transition models.TransitionType, to models.Recipient, r models.Reservation, drv models.Driver) error {
	key := templates.Key{Role: to.Role, Transition: transition}
	ref, ok := d.registry.Resolve(to.Role, transition)
	if !ok {
		d.logger.Warn("no template for notification", "reservation_id", r.ID, "template_key", key.String())
		observability.NotificationsTotal.WithLabelValues(string(to.Role), string(transition), "skipped").Inc()
		return nil
	}
	if to.Email == "" {
		d.logger.Warn("recipient has no email address", "reservation_id", r.ID, "role", to.Role)
		observability.NotificationsTotal.WithLabelValues(string(to.Role), string(transition), "skipped").Inc()
		return nil
	}

	data := BuildRenderData(to.Role, r, drv, d.now(), d.format)
	msg := Message{To: to, From: d.from, Template: ref, Data: data.Map()}

	start := time.Now()
	err := d.sender.Send(ctx, msg)
	observability.NotificationLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.NotificationsTotal.WithLabelValues(string(to.Role), string(transition), "failed").Inc()
		return fmt.Errorf("send %s to %s: %w", key, to.Role, err)
	}
	observability.NotificationsTotal.WithLabelValues(string(to.Role), string(transition), "sent").Inc()
	d.logger.Info("notification sent", "reservation_id", r.ID, "role", to.Role, "transition", transition, "template", ref.ID)
	return nil
}
