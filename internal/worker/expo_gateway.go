package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
)

const (
	// expoBatchLimit is the most messages the Expo push API accepts per request
	expoBatchLimit = 100

	expoDeviceNotRegistered = "DeviceNotRegistered"
)

// TokenPruner deactivates a device token the push service reports as gone
type TokenPruner interface {
	DeactivatePushToken(ctx context.Context, userID uuid.UUID, token string) error
}

// ExpoGateway posts push messages to the Expo push service
type ExpoGateway struct {
	url    string
	client *http.Client
	pruner TokenPruner
	logger *zap.Logger
}

type ExpoOption func(*ExpoGateway)

// WithTokenPruner deactivates tokens whose tickets come back DeviceNotRegistered
func WithTokenPruner(p TokenPruner) ExpoOption {
	return func(g *ExpoGateway) { g.pruner = p }
}

type ExpoConfig struct {
	URL     string
	Timeout time.Duration
}

type expoMessage struct {
	To       string          `json:"to"`
	Title    string          `json:"title"`
	Body     string          `json:"body"`
	Sound    string          `json:"sound,omitempty"`
	Priority string          `json:"priority,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type expoTicket struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details"`
}

type expoResponse struct {
	Data []expoTicket `json:"data"`
}

// NewExpoGateway creates a gateway posting to cfg.URL
func NewExpoGateway(logger *zap.Logger, cfg ExpoConfig, opts ...ExpoOption) *ExpoGateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	g := &ExpoGateway{
		url: cfg.URL,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Push sends one message per device. The call succeeds when at least one
// device ticket is accepted.
func (g *ExpoGateway) Push(ctx context.Context, tokens []*db.PushToken, n *db.Notification) error {
	data, err := json.Marshal(map[string]string{
		"notificationId": n.ID.String(),
		"type":           string(n.Type),
		"actionUrl":      n.ActionURL,
	})
	if err != nil {
		return fmt.Errorf("encode push data: %w", err)
	}

	priority := "default"
	if n.Priority == db.PriorityHigh || n.Priority == db.PriorityUrgent {
		priority = "high"
	}

	accepted := 0
	var lastErr error
	for start := 0; start < len(tokens); start += expoBatchLimit {
		end := start + expoBatchLimit
		if end > len(tokens) {
			end = len(tokens)
		}

		batch := make([]expoMessage, 0, end-start)
		for _, t := range tokens[start:end] {
			batch = append(batch, expoMessage{
				To:       t.Token,
				Title:    n.DisplayTitle(),
				Body:     n.DisplayMessage(),
				Sound:    "default",
				Priority: priority,
				Data:     data,
			})
		}

		ok, err := g.post(ctx, batch, tokens[start:end])
		accepted += ok
		if err != nil {
			lastErr = err
		}
	}

	if accepted == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("expo rejected all %d devices", len(tokens))
		}
		return lastErr
	}

	g.logger.Debug("expo push accepted",
		zap.String("id", n.ID.String()),
		zap.Int("accepted", accepted),
		zap.Int("devices", len(tokens)),
	)
	return nil
}

// post sends one batch. Tickets come back in message order, so ticket i
// belongs to tokens[i].
func (g *ExpoGateway) post(ctx context.Context, batch []expoMessage, tokens []*db.PushToken) (int, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return 0, fmt.Errorf("encode expo batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create expo request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Beacon/1.0.0")

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("expo request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("expo returned non-2xx status: %d, body: %.256s", resp.StatusCode, string(respBody))
	}

	var parsed expoResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return 0, fmt.Errorf("decode expo response: %w", err)
	}

	ok := 0
	for i, ticket := range parsed.Data {
		if ticket.Status == "ok" {
			ok++
			continue
		}
		g.logger.Warn("expo ticket rejected",
			zap.String("reason", ticket.Message),
			zap.String("error", ticket.Details.Error),
		)
		if ticket.Details.Error == expoDeviceNotRegistered && i < len(tokens) {
			g.prune(ctx, tokens[i])
		}
	}
	return ok, nil
}

func (g *ExpoGateway) prune(ctx context.Context, t *db.PushToken) {
	if g.pruner == nil {
		return
	}
	err := g.pruner.DeactivatePushToken(ctx, t.UserID, t.Token)
	if errors.Is(err, db.ErrNotFound) {
		return
	}
	if err != nil {
		g.logger.Warn("failed to deactivate unregistered push token",
			zap.Error(err),
			zap.String("user_id", t.UserID.String()),
		)
		return
	}
	g.logger.Info("deactivated unregistered push token", zap.String("user_id", t.UserID.String()))
}
