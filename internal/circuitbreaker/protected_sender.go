package circuitbreaker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/worker"
)

// ProtectedSender wraps a worker.Sender with a CircuitBreaker. Errors caused
// by missing recipient data never count against the provider.
type ProtectedSender struct {
	sender  worker.Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

func NewProtectedSender(sender worker.Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send returns ErrCircuitOpen without calling the provider while open
func (p *ProtectedSender) Send(ctx context.Context, d *worker.Delivery) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected delivery",
			zap.String("breaker", p.breaker.Name()),
			zap.String("notification_id", d.Notification.ID.String()),
			zap.String("channel", string(d.Channel)),
		)
		return fmt.Errorf("%w: %s sender unavailable", ErrCircuitOpen, p.breaker.Name())
	}

	err := p.sender.Send(ctx, d)
	switch {
	case err == nil:
		p.breaker.RecordSuccess()
	case isRecipientError(err):
		// provider was not reached
		p.breaker.RecordSuccess()
	default:
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.Name()),
			zap.Error(err),
		)
	}
	return err
}

func (p *ProtectedSender) SupportsChannel(channel db.Channel) bool {
	return p.sender.SupportsChannel(channel)
}

func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}

func isRecipientError(err error) bool {
	return errors.Is(err, worker.ErrNoRecipient) ||
		errors.Is(err, worker.ErrNoAddress) ||
		errors.Is(err, worker.ErrNoTokens)
}
