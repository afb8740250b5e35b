package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultResubscribeEvery = 2 * time.Second

// Broker is a fan-out transport shared by every gateway instance. Listen
// calls ready once the subscription is live.
type Broker interface {
	Publish(ctx context.Context, payload []byte) error
	Listen(ctx context.Context, ready func(), handle func([]byte)) error
}

type envelope struct {
	Event
	SentAt time.Time `json:"sentAt"`
}

// Bridge publishes events through the broker and replays broker messages into
// the local hub, so a stream on any instance sees events created on any other.
// While the broker subscription is down, events go straight to the local hub.
type Bridge struct {
	broker      Broker
	hub         *Hub
	logger      *zap.Logger
	resubscribe time.Duration
	subscribed  atomic.Bool
}

type BridgeOption func(*Bridge)

// WithResubscribeInterval sets the wait between failed subscription attempts
func WithResubscribeInterval(d time.Duration) BridgeOption {
	return func(b *Bridge) { b.resubscribe = d }
}

func NewBridge(broker Broker, hub *Hub, logger *zap.Logger, opts ...BridgeOption) *Bridge {
	b := &Bridge{broker: broker, hub: hub, logger: logger, resubscribe: defaultResubscribeEvery}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bridge) Publish(ctx context.Context, ev Event) error {
	if !b.subscribed.Load() {
		b.hub.Deliver(ev)
		return nil
	}

	body, err := json.Marshal(envelope{Event: ev, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode realtime event: %w", err)
	}
	if err := b.broker.Publish(ctx, body); err != nil {
		b.logger.Warn("realtime broker publish failed, delivering locally", zap.Error(err))
		b.hub.Deliver(ev)
	}
	return nil
}

// Run forwards broker messages to the hub until ctx is cancelled, subscribing
// again whenever the subscription fails or drops
func (b *Bridge) Run(ctx context.Context) {
	for {
		err := b.broker.Listen(ctx, func() {
			b.subscribed.Store(true)
			b.logger.Info("realtime bridge subscribed")
		}, b.forward)
		b.subscribed.Store(false)

		if ctx.Err() != nil {
			return
		}
		b.logger.Warn("realtime subscription down, retrying",
			zap.Error(err),
			zap.Duration("retry_in", b.resubscribe),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.resubscribe):
		}
	}
}

func (b *Bridge) forward(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logger.Warn("dropping malformed realtime message", zap.Error(err))
		return
	}
	if env.Type == "" {
		return
	}
	b.hub.Deliver(env.Event)
}
