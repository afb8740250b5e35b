package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/realtime"
)

// InAppSender emits the created notification on the recipient's realtime topic
type InAppSender struct {
	publisher realtime.Publisher
}

func NewInAppSender(publisher realtime.Publisher) *InAppSender {
	return &InAppSender{publisher: publisher}
}

func (s *InAppSender) Send(ctx context.Context, d *Delivery) error {
	ev := realtime.Event{
		Type:         realtime.EventNotificationCreated,
		UserID:       d.Notification.RecipientID,
		Notification: d.Notification,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish realtime event: %w", err)
	}
	return nil
}

func (s *InAppSender) SupportsChannel(channel db.Channel) bool {
	return channel == db.ChannelInApp
}

func subject(n *db.Notification) string {
	return n.DisplayTitle()
}

// textBody renders the plain-text body shared by email and SMS
func textBody(n *db.Notification) string {
	var b strings.Builder
	b.WriteString(n.DisplayMessage())
	if n.ActionURL != "" {
		label := n.ActionLabel
		if label == "" {
			label = "Open"
		}
		fmt.Fprintf(&b, "\n\n%s: %s", label, n.ActionURL)
	}
	return b.String()
}

// recipientEmail validates the email channel's recipient data
func recipientEmail(d *Delivery) (string, error) {
	if d.Recipient == nil {
		return "", ErrNoRecipient
	}
	if d.Recipient.Email == "" {
		return "", fmt.Errorf("%w: email", ErrNoAddress)
	}
	return d.Recipient.Email, nil
}
