// Package sqs hands external-channel deliveries to a queue drained by a
// separate delivery fleet.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/worker"
)

type Config struct {
	Region   string
	QueueURL string
	// Channels handed to the queue; defaults to email, sms and push
	Channels []db.Channel
}

// API is the slice of the SQS client the producer calls
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Message is the queue payload for one channel delivery
type Message struct {
	NotificationID string     `json:"notification_id"`
	RecipientID    string     `json:"recipient_id"`
	Channel        db.Channel `json:"channel"`
	Type           string     `json:"type"`
	Priority       string     `json:"priority"`
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	ActionURL      string     `json:"action_url,omitempty"`
	Address        string     `json:"address,omitempty"`
	Tokens         []string   `json:"tokens,omitempty"`
	EnqueuedAt     int64      `json:"enqueued_at"`
}

// Producer implements worker.Sender by enqueueing deliveries
type Producer struct {
	client   API
	queueURL string
	channels map[db.Channel]bool
	logger   *zap.Logger
}

func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs producer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return NewProducerWithClient(sqs.NewFromConfig(awsCfg), cfg, logger), nil
}

func NewProducerWithClient(client API, cfg Config, logger *zap.Logger) *Producer {
	channels := cfg.Channels
	if len(channels) == 0 {
		channels = []db.Channel{db.ChannelEmail, db.ChannelSMS, db.ChannelPush}
	}
	set := make(map[db.Channel]bool, len(channels))
	for _, c := range channels {
		if c != db.ChannelInApp {
			set[c] = true
		}
	}
	return &Producer{
		client:   client,
		queueURL: cfg.QueueURL,
		channels: set,
		logger:   logger,
	}
}

// Send enqueues the delivery. A successful enqueue counts as delivered.
func (p *Producer) Send(ctx context.Context, d *worker.Delivery) error {
	msg, err := newMessage(d)
	if err != nil {
		return err
	}
	_, err = p.Enqueue(ctx, msg)
	return err
}

func (p *Producer) SupportsChannel(channel db.Channel) bool {
	return p.channels[channel]
}

// Enqueue sends one message and returns its queue message id
func (p *Producer) Enqueue(ctx context.Context, msg Message) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"channel": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Channel)),
			},
		},
	}

	result, err := p.client.SendMessage(ctx, input)
	if err != nil {
		p.logger.Error("failed to send message to sqs",
			zap.Error(err),
			zap.String("notification_id", msg.NotificationID),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}

func newMessage(d *worker.Delivery) (Message, error) {
	n := d.Notification
	msg := Message{
		NotificationID: n.ID.String(),
		RecipientID:    n.RecipientID.String(),
		Channel:        d.Channel,
		Type:           string(n.Type),
		Priority:       string(n.Priority),
		Title:          n.Title,
		Body:           n.Message,
		ActionURL:      n.ActionURL,
		EnqueuedAt:     time.Now().UnixNano(),
	}

	switch d.Channel {
	case db.ChannelEmail, db.ChannelSMS:
		if d.Recipient == nil {
			return Message{}, worker.ErrNoRecipient
		}
		msg.Address = d.Recipient.Email
		if d.Channel == db.ChannelSMS {
			msg.Address = d.Recipient.Phone
		}
		if msg.Address == "" {
			return Message{}, fmt.Errorf("%w: %s", worker.ErrNoAddress, d.Channel)
		}
	case db.ChannelPush:
		if len(d.Tokens) == 0 {
			return Message{}, worker.ErrNoTokens
		}
		for _, t := range d.Tokens {
			msg.Tokens = append(msg.Tokens, t.Token)
		}
	default:
		return Message{}, fmt.Errorf("sqs producer does not handle channel %s", d.Channel)
	}
	return msg, nil
}
