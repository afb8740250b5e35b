package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/apperr"
	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/notify"
	"github.com/lalithlochan/beacon/internal/redis"
)

const idempotencyWriteTimeout = 5 * time.Second

// Broadcast handles POST /v1/admin/notifications/broadcast. A repeated
// Idempotency-Key from the same caller replays the first response.
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.Header.Get("Idempotency-Key")
	scope := caller(r).UserID.String()

	var opts notify.BroadcastOptions
	if err := decode(r, &opts); err != nil {
		h.fail(w, r, err)
		return
	}

	useIdempotency := key != "" && h.idempotency != nil
	if useIdempotency {
		cached, err := h.idempotency.Begin(ctx, scope, key)
		switch {
		case errors.Is(err, redis.ErrRequestInFlight):
			h.fail(w, r, apperr.Conflict("a request with this idempotency key is still in progress"))
			return
		case err != nil:
			// keep serving when redis is unhealthy
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", key),
			)
			useIdempotency = false
		case cached != nil:
			metrics.RecordIdempotencyHit()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Body)
			return
		}
	}

	stopRenew := func() {}
	if useIdempotency {
		stopRenew = h.holdReservation(ctx, scope, key)
	}
	result, err := h.notifications.Broadcast(ctx, opts)
	stopRenew()

	// the broadcast may outlive the request deadline
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idempotencyWriteTimeout)
	defer cancel()

	if err != nil {
		if useIdempotency {
			if rerr := h.idempotency.Release(persistCtx, scope, key); rerr != nil {
				h.logger.Warn("failed to release idempotency key", zap.Error(rerr), zap.String("idempotency_key", key))
			}
		}
		h.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(Response{Message: "broadcast sent", Data: result})

	if useIdempotency {
		stored := &redis.IdempotencyResult{
			StatusCode: http.StatusCreated,
			Body:       json.RawMessage(bytes.TrimSpace(buf.Bytes())),
			CreatedAt:  time.Now().Unix(),
		}
		if err := h.idempotency.Complete(persistCtx, scope, key, stored); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", key),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(buf.Bytes())
}

// holdReservation renews the idempotency reservation until the returned func
// is called
func (h *Handler) holdReservation(ctx context.Context, scope, key string) func() {
	ctx = context.WithoutCancel(ctx)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(h.renewEvery)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				renewCtx, cancel := context.WithTimeout(ctx, idempotencyWriteTimeout)
				err := h.idempotency.Extend(renewCtx, scope, key)
				cancel()
				if errors.Is(err, redis.ErrReservationLost) {
					h.logger.Warn("idempotency reservation lost during broadcast", zap.String("idempotency_key", key))
					return
				}
				if err != nil {
					h.logger.Warn("failed to renew idempotency reservation", zap.Error(err), zap.String("idempotency_key", key))
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}
