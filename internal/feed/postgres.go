package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// DefaultPostgresChannel matches the pg_notify channel used by the
// reservations trigger in migrations/.
const DefaultPostgresChannel = "reservation_changes"

// PostgresFeed listens for trigger notifications via LISTEN/NOTIFY. The
// trigger payload is already a Change in JSON form.
type PostgresFeed struct {
	dsn          string
	channel      string
	pingInterval time.Duration
	logger       *slog.Logger
}

func NewPostgresFeed(dsn, channel string, logger *slog.Logger) *PostgresFeed {
	if channel == "" {
		channel = DefaultPostgresChannel
	}
	return &PostgresFeed{dsn: dsn, channel: channel, pingInterval: 90 * time.Second, logger: logger}
}

func (p *PostgresFeed) Subscribe(ctx context.Context, f Filter) (Subscription, error) {
	events := make(chan error, 1)
	l := pq.NewListener(p.dsn, time.Second, 30*time.Second, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
			if err == nil {
				err = fmt.Errorf("listener event %d", ev)
			}
			select {
			case events <- err:
			default:
			}
		}
	})
	if err := l.Listen(p.channel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("listen %s: %w", p.channel, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s := newStream(16, func() {
		cancel()
		_ = l.Close()
	})
	go p.loop(loopCtx, l, events, s, f)
	return s, nil
}

// listener is the part of *pq.Listener the loop reads from.
type listener interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
}

func (p *PostgresFeed) loop(ctx context.Context, l listener, events <-chan error, s *stream, f Filter) {
	ticker := time.NewTicker(p.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-events:
			s.fail(fmt.Errorf("postgres listener: %w", err))
			return
		case <-ticker.C:
			if err := l.Ping(); err != nil {
				s.fail(fmt.Errorf("postgres listener ping: %w", err))
				return
			}
		case n, ok := <-l.NotificationChannel():
			if !ok {
				s.fail(ErrClosed)
				return
			}
			if n == nil {
				// sent after a reconnect; the gap may have lost notifications
				continue
			}
			changes, err := decodeChanges([]byte(n.Extra))
			if err != nil {
				p.logger.Warn("dropping undecodable change", "channel", p.channel, "error", err)
				continue
			}
			if !s.deliver(ctx, f.Apply(changes)) {
				return
			}
		}
	}
}
