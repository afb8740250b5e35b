package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
)

var (
	ErrNoRecipient = errors.New("recipient not loaded")
	ErrNoAddress   = errors.New("recipient has no address for channel")
	ErrNoTokens    = errors.New("recipient has no active push tokens")
)

// Sender is the unified interface for all delivery channels
// Implementations: in-app (realtime), email (SES, Resend), SMS (SNS), push (Expo, SNS)
type Sender interface {
	Send(ctx context.Context, d *Delivery) error
	SupportsChannel(channel db.Channel) bool
}

// Delivery is one notification bound for one channel, with the recipient
// data that channel needs
type Delivery struct {
	Channel      db.Channel
	Notification *db.Notification
	Recipient    *db.User
	Tokens       []*db.PushToken
}

// MultiSender routes deliveries to the first sender supporting the channel
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router that uses multiple underlying senders
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
		logger:  logger,
	}
}

// Send routes the delivery to the appropriate sender based on channel
func (m *MultiSender) Send(ctx context.Context, d *Delivery) error {
	for _, sender := range m.senders {
		if sender.SupportsChannel(d.Channel) {
			m.logger.Debug("routing delivery to sender",
				zap.String("channel", string(d.Channel)),
				zap.String("notification_id", d.Notification.ID.String()),
			)
			return sender.Send(ctx, d)
		}
	}

	return fmt.Errorf("no sender found for channel: %s", d.Channel)
}

// SupportsChannel checks if any underlying sender supports the channel
func (m *MultiSender) SupportsChannel(channel db.Channel) bool {
	for _, sender := range m.senders {
		if sender.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogSender logs deliveries instead of calling a provider (development mode)
type LogSender struct {
	channels map[db.Channel]bool
	logger   *zap.Logger
}

// NewLogSender handles the given channels, or every external channel when
// none are given
func NewLogSender(logger *zap.Logger, channels ...db.Channel) *LogSender {
	if len(channels) == 0 {
		channels = []db.Channel{db.ChannelEmail, db.ChannelSMS, db.ChannelPush}
	}
	set := make(map[db.Channel]bool, len(channels))
	for _, c := range channels {
		set[c] = true
	}
	return &LogSender{channels: set, logger: logger}
}

func (s *LogSender) Send(ctx context.Context, d *Delivery) error {
	fields := []zap.Field{
		zap.String("id", d.Notification.ID.String()),
		zap.String("channel", string(d.Channel)),
		zap.String("recipient_id", d.Notification.RecipientID.String()),
		zap.String("title", d.Notification.Title),
	}
	if d.Channel == db.ChannelPush {
		fields = append(fields, zap.Int("tokens", len(d.Tokens)))
	}
	s.logger.Info("logging delivery (development mode)", fields...)
	return nil
}

func (s *LogSender) SupportsChannel(channel db.Channel) bool {
	return s.channels[channel]
}
