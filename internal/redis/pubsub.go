package redis

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// PubSub publishes to and listens on one Redis Pub/Sub channel
type PubSub struct {
	client  *Client
	channel string
	logger  *zap.Logger
}

func NewPubSub(client *Client, channel string, logger *zap.Logger) *PubSub {
	return &PubSub{client: client, channel: channel, logger: logger}
}

// Publish sends payload to every instance listening on the channel
func (p *PubSub) Publish(ctx context.Context, payload []byte) error {
	if err := p.client.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Listen subscribes, calls ready once the subscription is confirmed, then
// calls handle for each message until ctx is done. It returns once the
// subscription is torn down.
func (p *PubSub) Listen(ctx context.Context, ready func(), handle func([]byte)) error {
	sub := p.client.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", p.channel, err)
	}

	p.logger.Info("redis subscription established", zap.String("channel", p.channel))
	ready()

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("redis subscription %s closed", p.channel)
			}
			handle([]byte(msg.Payload))
		}
	}
}
