package notify

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the log instead of sending them. It is
// wired in when no provider API key is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (l *LogSender) Send(ctx context.Context, msg Message) error {
	l.Logger.InfoContext(ctx, "email not sent (log sender)",
		"to", msg.To.Email,
		"role", msg.To.Role,
		"template", msg.Template.ID,
		"subject", msg.Template.Subject,
		"data", msg.Data,
	)
	return nil
}
