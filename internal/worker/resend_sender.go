package worker

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/resend/resend-go/v3"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
)

// ResendAPI is the slice of the Resend emails service the sender calls
type ResendAPI interface {
	Send(params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendSender delivers email through Resend
type ResendSender struct {
	emails ResendAPI
	from   string
	logger *zap.Logger
}

func NewResendSender(apiKey, from string, logger *zap.Logger) *ResendSender {
	client := resend.NewClient(apiKey)
	return NewResendSenderWithClient(client.Emails, from, logger)
}

func NewResendSenderWithClient(emails ResendAPI, from string, logger *zap.Logger) *ResendSender {
	return &ResendSender{emails: emails, from: from, logger: logger}
}

func (s *ResendSender) Send(ctx context.Context, d *Delivery) error {
	if d.Channel != db.ChannelEmail {
		return fmt.Errorf("resend sender only supports email, got: %s", d.Channel)
	}
	to, err := recipientEmail(d)
	if err != nil {
		return err
	}

	body := textBody(d.Notification)
	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("Beacon <%s>", s.from),
		To:      []string{to},
		Subject: subject(d.Notification),
		Text:    body,
		Html:    "<p>" + strings.ReplaceAll(html.EscapeString(body), "\n", "<br>") + "</p>",
	}

	resp, err := s.emails.Send(params)
	if err != nil {
		return fmt.Errorf("resend send failed: %w", err)
	}

	s.logger.Info("email sent via Resend",
		zap.String("id", d.Notification.ID.String()),
		zap.String("message_id", resp.Id),
	)
	return nil
}

func (s *ResendSender) SupportsChannel(channel db.Channel) bool {
	return channel == db.ChannelEmail
}
