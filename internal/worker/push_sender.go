package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
)

// PushGateway hands a notification to a push provider for a set of devices
type PushGateway interface {
	Push(ctx context.Context, tokens []*db.PushToken, n *db.Notification) error
}

// PushSender delivers the push channel to the recipient's active devices
type PushSender struct {
	gateway PushGateway
	logger  *zap.Logger
}

func NewPushSender(gateway PushGateway, logger *zap.Logger) *PushSender {
	return &PushSender{gateway: gateway, logger: logger}
}

func (s *PushSender) Send(ctx context.Context, d *Delivery) error {
	if d.Channel != db.ChannelPush {
		return fmt.Errorf("push sender only supports push, got: %s", d.Channel)
	}
	if len(d.Tokens) == 0 {
		return ErrNoTokens
	}
	if err := s.gateway.Push(ctx, d.Tokens, d.Notification); err != nil {
		return err
	}
	s.logger.Info("push delivered",
		zap.String("id", d.Notification.ID.String()),
		zap.Int("devices", len(d.Tokens)),
	)
	return nil
}

func (s *PushSender) SupportsChannel(channel db.Channel) bool {
	return channel == db.ChannelPush
}
