package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// IdempotencyTTL is how long a completed response is replayed
	IdempotencyTTL = 24 * time.Hour

	// ProcessingTTL bounds how long a crashed request can hold its key. Live
	// requests keep their reservation with Extend.
	ProcessingTTL = 5 * time.Minute

	processingMarker = "processing"
)

var (
	// ErrRequestInFlight means another request holding the same key has not finished
	ErrRequestInFlight = errors.New("request with this idempotency key is still processing")

	// ErrReservationLost means the key no longer holds this request's reservation
	ErrReservationLost = errors.New("idempotency reservation no longer held")
)

// extendScript pushes out the expiry only while the key is still reserved,
// so a completed result keeps its own TTL
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// IdempotencyResult is the cached response of a completed request
type IdempotencyResult struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	CreatedAt  int64           `json:"created_at"`
}

// IdempotencyService replays responses for repeated Idempotency-Key requests
type IdempotencyService struct {
	client *Client
	logger *zap.Logger
	ttl    time.Duration
}

func NewIdempotencyService(client *Client, logger *zap.Logger) *IdempotencyService {
	return &IdempotencyService{
		client: client,
		logger: logger,
		ttl:    IdempotencyTTL,
	}
}

// keys are scoped by caller so two admins can reuse a key
func (s *IdempotencyService) buildKey(scope, idempotencyKey string) string {
	return fmt.Sprintf("idempotency:%s:%s", scope, idempotencyKey)
}

// Begin returns the cached result when the key already completed, or
// reserves the key and returns (nil, nil). A reserved key not yet completed
// yields ErrRequestInFlight.
func (s *IdempotencyService) Begin(ctx context.Context, scope, idempotencyKey string) (*IdempotencyResult, error) {
	key := s.buildKey(scope, idempotencyKey)

	reserved, err := s.client.rdb.SetNX(ctx, key, processingMarker, ProcessingTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx failed: %w", err)
	}
	if reserved {
		return nil, nil
	}

	val, err := s.client.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return s.Begin(ctx, scope, idempotencyKey)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	if val == processingMarker {
		return nil, ErrRequestInFlight
	}

	var result IdempotencyResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		s.logger.Error("failed to unmarshal idempotency result", zap.Error(err))
		return nil, fmt.Errorf("invalid cached result: %w", err)
	}

	s.logger.Debug("idempotency cache hit",
		zap.String("scope", scope),
		zap.String("key", idempotencyKey),
	)
	return &result, nil
}

// Complete replaces the reservation with the final response
func (s *IdempotencyService) Complete(ctx context.Context, scope, idempotencyKey string, result *IdempotencyResult) error {
	if result.CreatedAt == 0 {
		result.CreatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := s.client.rdb.Set(ctx, s.buildKey(scope, idempotencyKey), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Extend renews a reservation made by Begin for another ProcessingTTL
func (s *IdempotencyService) Extend(ctx context.Context, scope, idempotencyKey string) error {
	renewed, err := extendScript.Run(ctx, s.client.rdb,
		[]string{s.buildKey(scope, idempotencyKey)},
		processingMarker, ProcessingTTL.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("redis extend failed: %w", err)
	}
	if renewed == 0 {
		return ErrReservationLost
	}
	return nil
}

// Release drops a reservation so a failed request can be retried
func (s *IdempotencyService) Release(ctx context.Context, scope, idempotencyKey string) error {
	if err := s.client.rdb.Del(ctx, s.buildKey(scope, idempotencyKey)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
