// Package sns fans push notifications out through an SNS topic, where
// platform subscribers (APNs, FCM bridges) pick them up.
package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/lalithlochan/beacon/internal/db"
)

// API is the slice of the SNS client the publisher calls
type API interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher publishes push messages to one topic
type Publisher struct {
	client   API
	topicARN string
}

// Device is one target of a push message
type Device struct {
	Token    string      `json:"token"`
	Platform db.Platform `json:"platform"`
}

// Message is the topic payload consumed by platform subscribers
type Message struct {
	NotificationID string              `json:"notification_id"`
	RecipientID    string              `json:"recipient_id"`
	Type           db.NotificationType `json:"type"`
	Priority       db.Priority         `json:"priority"`
	Title          string              `json:"title"`
	Body           string              `json:"body"`
	ActionURL      string              `json:"action_url,omitempty"`
	Devices        []Device            `json:"devices"`
}

// NewPublisher creates an SNS publisher for the given topic
func NewPublisher(ctx context.Context, topicARN string, optFns ...func(*config.LoadOptions) error) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewPublisherWithClient(sns.NewFromConfig(cfg), topicARN), nil
}

// NewPublisherWithEndpoint creates a publisher with custom endpoint (for LocalStack)
func NewPublisherWithEndpoint(ctx context.Context, topicARN, endpoint, region string) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(cfg, func(o *sns.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	return NewPublisherWithClient(client, topicARN), nil
}

func NewPublisherWithClient(client API, topicARN string) *Publisher {
	return &Publisher{client: client, topicARN: topicARN}
}

// Push implements worker.PushGateway
func (p *Publisher) Push(ctx context.Context, tokens []*db.PushToken, n *db.Notification) error {
	msg := Message{
		NotificationID: n.ID.String(),
		RecipientID:    n.RecipientID.String(),
		Type:           n.Type,
		Priority:       n.Priority,
		Title:          n.DisplayTitle(),
		Body:           n.DisplayMessage(),
		ActionURL:      n.ActionURL,
		Devices:        make([]Device, 0, len(tokens)),
	}
	for _, t := range tokens {
		msg.Devices = append(msg.Devices, Device{Token: t.Token, Platform: t.Platform})
	}

	_, err := p.Publish(ctx, msg)
	return err
}

// Publish sends msg with attributes subscribers can filter on
func (p *Publisher) Publish(ctx context.Context, msg Message) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Type)),
			},
			"priority": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Priority)),
			},
		},
	}

	result, err := p.client.Publish(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to publish to SNS: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}
