package worker

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
)

// smsLimit keeps messages inside a single concatenated SMS
const smsLimit = 480

// SNSAPI is the slice of the SNS client the SMS sender calls
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSender sends SMS deliveries via AWS SNS
type SNSSender struct {
	client SNSAPI
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

// NewSNSSender creates a new SNS sender for SMS deliveries
func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return NewSNSSenderWithClient(sns.NewFromConfig(awsCfg), logger), nil
}

func NewSNSSenderWithClient(client SNSAPI, logger *zap.Logger) *SNSSender {
	return &SNSSender{client: client, logger: logger}
}

// Send sends an SMS delivery via AWS SNS
func (s *SNSSender) Send(ctx context.Context, d *Delivery) error {
	if d.Channel != db.ChannelSMS {
		return fmt.Errorf("SNS sender only supports SMS, got: %s", d.Channel)
	}
	if d.Recipient == nil {
		return ErrNoRecipient
	}
	if d.Recipient.Phone == "" {
		return fmt.Errorf("%w: phone", ErrNoAddress)
	}

	msg := subject(d.Notification) + ": " + textBody(d.Notification)
	if r := []rune(msg); len(r) > smsLimit {
		msg = string(r[:smsLimit-1]) + "…"
	}

	result, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(d.Recipient.Phone),
		Message:     aws.String(msg),
	})
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("SMS sent via SNS",
		zap.String("id", d.Notification.ID.String()),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

// SupportsChannel checks if this sender supports the SMS channel
func (s *SNSSender) SupportsChannel(channel db.Channel) bool {
	return channel == db.ChannelSMS
}
