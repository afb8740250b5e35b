package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lalithlochan/beacon/internal/auth"
	"github.com/lalithlochan/beacon/internal/redis"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func withIdentity(r *http.Request, role string) *http.Request {
	return r.WithContext(auth.WithIdentity(r.Context(), &auth.Identity{UserID: uuid.New(), Role: role}))
}

func TestUserKeyFunc(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	if got := UserKeyFunc(req); got != "" {
		t.Errorf("expected empty key without identity, got %q", got)
	}

	id := uuid.New()
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: id}))
	if got := UserKeyFunc(req); got != "user:"+id.String() {
		t.Errorf("unexpected key %q", got)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(auth.RoleAdmin)(okHandler())

	tests := []struct {
		name     string
		role     string
		identify bool
		expected int
	}{
		{"no identity", "", false, http.StatusUnauthorized},
		{"member", "member", true, http.StatusForbidden},
		{"admin", auth.RoleAdmin, true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/admin", nil)
			if tt.identify {
				req = withIdentity(req, tt.role)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, rec.Code)
			}
		})
	}
}

func TestAuthenticate_AcceptsQueryToken(t *testing.T) {
	verifier := auth.NewVerifier(testSecret)
	id := uuid.New()
	tok, err := verifier.Issue(auth.Identity{UserID: id, Role: "member"}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var seen uuid.UUID
	handler := Authenticate(verifier, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = caller(r).UserID
	}))

	req := httptest.NewRequest("GET", "/v1/notifications/stream?access_token="+tok, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen != id {
		t.Error("expected identity in context")
	}
}

func TestRateLimitMiddleware_NoLimiter(t *testing.T) {
	wrapped := RateLimitMiddleware(nil, zap.NewNop())(okHandler())

	req := withIdentity(httptest.NewRequest("GET", "/test", nil), "member")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_RejectsOverLimit(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	limiter := redis.NewRateLimiter(redis.Wrap(rdb, zap.NewNop()), zap.NewNop(), redis.RateLimitConfig{
		Limit:  2,
		Window: time.Minute,
	})
	wrapped := RateLimitMiddleware(limiter, zap.NewNop())(okHandler())

	req := withIdentity(httptest.NewRequest("GET", "/test", nil), "member")
	var codes []int
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		wrapped.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected 200,200,429 got %v", codes)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if last.Header().Get("X-RateLimit-Limit") != "2" {
		t.Errorf("expected limit header 2, got %q", last.Header().Get("X-RateLimit-Limit"))
	}

	// another user has their own window
	other := withIdentity(httptest.NewRequest("GET", "/test", nil), "member")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Errorf("expected other user allowed, got %d", rec.Code)
	}
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := middleware.RequestID(RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/brew", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusTeapot) {
		t.Errorf("expected status 418 logged, got %v", fields["status"])
	}
	if fields["path"] != "/brew" {
		t.Errorf("expected path logged, got %v", fields["path"])
	}
	if fields["request_id"] == "" {
		t.Error("expected request id logged")
	}
}
