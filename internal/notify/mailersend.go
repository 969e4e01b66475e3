package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mailersend/mailersend-go"
)

// MailerSendSender sends template emails through the MailerSend API.
type MailerSendSender struct {
	client  *mailersend.Mailersend
	timeout time.Duration
	logger  *slog.Logger
}

// NewMailerSendSender builds a sender. A zero timeout leaves deadlines to
// the caller's context.
func NewMailerSendSender(apiKey string, timeout time.Duration, logger *slog.Logger) *MailerSendSender {
	return &MailerSendSender{
		client:  mailersend.NewMailersend(apiKey),
		timeout: timeout,
		logger:  logger,
	}
}

func (m *MailerSendSender) Send(ctx context.Context, msg Message) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	res, err := m.client.Email.Send(ctx, buildMessage(m.client, msg))
	if err != nil {
		return providerError(err)
	}
	if res != nil && res.Response != nil {
		m.logger.Debug("email accepted", "template", msg.Template.ID, "message_id", res.Header.Get("X-Message-Id"))
	}
	return nil
}

func buildMessage(client *mailersend.Mailersend, msg Message) *mailersend.Message {
	message := client.Email.NewMessage()
	message.SetFrom(mailersend.From{Name: msg.From.Name, Email: msg.From.Email})
	message.SetRecipients([]mailersend.Recipient{{Email: msg.To.Email}})
	if msg.Template.Subject != "" {
		message.SetSubject(msg.Template.Subject)
	}
	message.SetTemplateID(msg.Template.ID)
	message.SetPersonalization([]mailersend.Personalization{{Email: msg.To.Email, Data: msg.Data}})
	return message
}

// providerError keeps what MailerSend reported: the HTTP status and the
// API message. Auth failures come back as their own type.
func providerError(err error) error {
	var (
		apiErr  *mailersend.ErrorResponse
		authErr *mailersend.AuthError
		res     *http.Response
		message string
	)
	switch {
	case errors.As(err, &apiErr):
		res, message = apiErr.Response, apiErr.Message
	case errors.As(err, &authErr):
		res, message = authErr.Response, authErr.Message
	default:
		return &ProviderError{Message: err.Error(), Err: err}
	}

	pe := &ProviderError{Message: message, Err: err}
	if res != nil {
		pe.StatusCode = res.StatusCode
	}
	pe.Detail = map[string]any{"statusCode": pe.StatusCode, "message": message}
	return pe
}
