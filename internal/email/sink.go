package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"polity/engine/internal/notify"
	"polity/engine/internal/poll"
)

const deliveryTimeout = 30 * time.Second

type Sender interface {
	SendEmail(to []string, subject, body string) error
}

// Recipients resolves who is told about a tenant's polls.
type Recipients interface {
	MemberEmails(ctx context.Context, tenantID string) ([]string, error)
}

// Sink mails every confirmed member of the poll's tenant. Delivery runs in
// the background and failures are only logged.
type Sink struct {
	Sender     Sender
	Recipients Recipients
	Logger     *slog.Logger

	inflight notify.Inflight
}

func (s *Sink) Notify(ctx context.Context, event poll.Event, p poll.Poll) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	s.inflight.Go(func() {
		defer cancel()
		if err := s.deliver(ctx, event, p); err != nil {
			s.logger().Warn("poll email delivery failed",
				"event", "poll_email_failed",
				"module", "email",
				"layer", "sink",
				"poll_id", p.Info().ID,
				"poll_event", string(event),
				"error", err.Error(),
			)
		}
	})
}

// Wait blocks until queued mails are handed to the relay or ctx ends.
func (s *Sink) Wait(ctx context.Context) error {
	return s.inflight.Wait(ctx)
}

func (s *Sink) deliver(ctx context.Context, event poll.Event, p poll.Poll) error {
	meta := p.Info()
	to, err := s.Recipients.MemberEmails(ctx, meta.TenantID)
	if err != nil {
		return fmt.Errorf("load recipients: %w", err)
	}
	if len(to) == 0 {
		return nil
	}
	subject, body := message(event, p)
	if err := s.Sender.SendEmail(to, subject, body); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (s *Sink) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func message(event poll.Event, p poll.Poll) (string, string) {
	meta := p.Info()
	switch event {
	case poll.EventStarted:
		return fmt.Sprintf("Poll started: %s", meta.Name),
			fmt.Sprintf("Voting on %q is open until %s.\r\n", meta.Name, meta.Deadline.UTC().Format(time.RFC1123))
	case poll.EventAboutToEnd:
		return fmt.Sprintf("Poll closing soon: %s", meta.Name),
			fmt.Sprintf("Voting on %q closes at %s.\r\n", meta.Name, meta.Deadline.UTC().Format(time.RFC1123))
	default:
		return fmt.Sprintf("Poll ended: %s", meta.Name),
			fmt.Sprintf("Voting on %q has ended.\r\n\r\nResult:\r\n%s\r\n", meta.Name, meta.Result)
	}
}
