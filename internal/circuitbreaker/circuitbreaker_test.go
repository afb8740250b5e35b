package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/worker"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, recovery time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	cb := New(Config{Name: "test", MaxFailures: maxFailures, RecoveryTimeout: recovery}, testLogger(), WithClock(clock.Now))
	return cb, clock
}

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Allow()
		cb.RecordFailure()
	}
}

func TestCircuitBreaker_StartsInClosedState(t *testing.T) {
	cb := New(DefaultConfig("test"), testLogger())
	if cb.GetState() != StateClosed {
		t.Fatalf("expected StateClosed, got %s", cb.GetState())
	}
	for i := 0; i < 10; i++ {
		if !cb.Allow() {
			t.Fatalf("request %d should be allowed", i)
		}
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	trip(cb, 2)
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed below threshold, got %s", cb.GetState())
	}
	trip(cb, 1)
	if cb.GetState() != StateOpen {
		t.Fatalf("expected StateOpen, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Fatal("should reject when open")
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb, clock := newTestBreaker(2, 30*time.Second)
	trip(cb, 2)

	clock.Advance(29 * time.Second)
	if cb.Allow() {
		t.Fatal("should still reject before recovery timeout")
	}

	clock.Advance(time.Second)
	if !cb.Allow() {
		t.Fatal("should allow a probe after recovery timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Fatal("half-open allows a single probe")
	}
}

func TestCircuitBreaker_ProbeOutcome(t *testing.T) {
	tests := []struct {
		name    string
		succeed bool
		want    State
	}{
		{"success_closes", true, StateClosed},
		{"failure_reopens", false, StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clock := newTestBreaker(2, time.Second)
			trip(cb, 2)
			clock.Advance(time.Second)
			cb.Allow()
			if tt.succeed {
				cb.RecordSuccess()
			} else {
				cb.RecordFailure()
			}
			if cb.GetState() != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, cb.GetState())
			}
		})
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	trip(cb, 2)
	cb.Allow()
	cb.RecordSuccess()
	trip(cb, 2)
	if cb.GetState() != StateClosed {
		t.Fatalf("failures are consecutive; expected closed, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_ResetAndStats(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)
	cb.Allow()
	cb.RecordSuccess()
	trip(cb, 2)
	cb.Allow()

	s := cb.Stats()
	if s.State != "open" || s.TotalSuccesses != 1 || s.TotalFailures != 2 || s.TotalRejected != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if s.LastFailure == "" {
		t.Error("last failure should be recorded")
	}

	cb.Reset()
	if cb.GetState() != StateClosed || !cb.Allow() {
		t.Fatal("reset should close the breaker")
	}
}

func TestCircuitBreaker_ExportsStateGauge(t *testing.T) {
	cb := New(Config{Name: "gauge-test", MaxFailures: 1}, zap.NewNop())
	trip(cb, 1)
	if cb.GetState() != StateOpen {
		t.Fatal("expected open")
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `beacon_circuit_breaker_state{name="gauge-test"} 1`) {
		t.Error("expected open state exported for gauge-test")
	}
}

func TestCircuitBreaker_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig("ses")
	if cfg.MaxFailures != 5 || cfg.RecoveryTimeout != 30*time.Second || cfg.HalfOpenMaxRequests != 1 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	cb := New(Config{Name: "zero"}, zap.NewNop())
	if cb.config.MaxFailures != 5 {
		t.Errorf("zero config should fall back to defaults, got %d", cb.config.MaxFailures)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d) = %s, want %s", tt.s, got, tt.want)
		}
	}
}

// --- ProtectedSender Tests ---

type mockSender struct {
	sendErr   error
	channel   db.Channel
	sendCalls int
}

func (m *mockSender) Send(ctx context.Context, d *worker.Delivery) error {
	m.sendCalls++
	return m.sendErr
}

func (m *mockSender) SupportsChannel(channel db.Channel) bool {
	return channel == m.channel
}

func testDelivery(ch db.Channel) *worker.Delivery {
	return &worker.Delivery{Channel: ch, Notification: &db.Notification{ID: uuid.New()}}
}

func TestProtectedSender_PassesThrough(t *testing.T) {
	mock := &mockSender{channel: db.ChannelEmail}
	ps := NewProtectedSender(mock, New(Config{Name: "test", MaxFailures: 5}, testLogger()), testLogger())
	if err := ps.Send(context.Background(), testDelivery(db.ChannelEmail)); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if mock.sendCalls != 1 {
		t.Fatalf("calls = %d", mock.sendCalls)
	}
	if !ps.SupportsChannel(db.ChannelEmail) || ps.SupportsChannel(db.ChannelPush) {
		t.Fatal("SupportsChannel should delegate")
	}
}

func TestProtectedSender_FailFastWhenOpen(t *testing.T) {
	mock := &mockSender{sendErr: errors.New("down"), channel: db.ChannelEmail}
	ps := NewProtectedSender(mock, New(Config{Name: "test", MaxFailures: 2}, testLogger()), testLogger())
	ps.Send(context.Background(), testDelivery(db.ChannelEmail))
	ps.Send(context.Background(), testDelivery(db.ChannelEmail))
	mock.sendCalls = 0

	err := ps.Send(context.Background(), testDelivery(db.ChannelEmail))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got: %v", err)
	}
	if mock.sendCalls != 0 {
		t.Fatalf("sender called %d times when circuit open", mock.sendCalls)
	}
}

func TestProtectedSender_RecipientErrorsDoNotTrip(t *testing.T) {
	mock := &mockSender{sendErr: fmt.Errorf("%w: phone", worker.ErrNoAddress), channel: db.ChannelSMS}
	cb := New(Config{Name: "test", MaxFailures: 2}, testLogger())
	ps := NewProtectedSender(mock, cb, testLogger())

	for i := 0; i < 5; i++ {
		if err := ps.Send(context.Background(), testDelivery(db.ChannelSMS)); !errors.Is(err, worker.ErrNoAddress) {
			t.Fatalf("expected recipient error to surface, got %v", err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("recipient errors must not open the breaker, got %s", cb.GetState())
	}
}

func TestProtectedSender_FullLifecycle(t *testing.T) {
	mock := &mockSender{channel: db.ChannelEmail}
	cb, clock := newTestBreaker(3, 50*time.Millisecond)
	ps := NewProtectedSender(mock, cb, testLogger())
	d := testDelivery(db.ChannelEmail)

	if err := ps.Send(context.Background(), d); err != nil {
		t.Fatalf("healthy: %v", err)
	}

	mock.sendErr = errors.New("SES down")
	for i := 0; i < 3; i++ {
		ps.Send(context.Background(), d)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	mock.sendCalls = 0
	if err := ps.Send(context.Background(), d); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected fail fast: %v", err)
	}
	if mock.sendCalls != 0 {
		t.Fatal("sender should not be called while open")
	}

	clock.Advance(60 * time.Millisecond)
	mock.sendErr = nil
	if err := ps.Send(context.Background(), d); err != nil {
		t.Fatalf("recovery probe: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.GetState())
	}
}
