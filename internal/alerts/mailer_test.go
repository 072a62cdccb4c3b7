package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"orderbot_backend/internal/events"
	"orderbot_backend/platform/logger"
)

type alertTestConfig struct {
	enabled bool
}

func (c alertTestConfig) IsAlertsEnabled() bool      { return c.enabled }
func (alertTestConfig) GetSMTPHost() string          { return "smtp.example.test" }
func (alertTestConfig) GetSMTPPort() int             { return 587 }
func (alertTestConfig) GetSMTPUsername() string      { return "engine" }
func (alertTestConfig) GetSMTPPassword() string      { return "secret" }
func (alertTestConfig) GetAlertFromAddress() string  { return "engine@example.test" }
func (alertTestConfig) GetAlertToAddress() string    { return "ops@example.test" }

type deliveryRecorder struct {
	mu       sync.Mutex
	subjects []string
}

func (r *deliveryRecorder) record(_ context.Context, subject, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return nil
}

func (r *deliveryRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subjects)
}

func newTestMailer(t *testing.T) (*Mailer, *deliveryRecorder, events.Bus) {
	t.Helper()
	m := NewMailer(alertTestConfig{enabled: true}, logger.New("development"))
	if m == nil {
		t.Fatal("expected mailer when alerts are enabled")
	}
	recorder := &deliveryRecorder{}
	m.deliver = recorder.record

	bus := events.NewInMemoryBus(logger.New("development"))
	m.Register(bus)
	return m, recorder, bus
}

func TestMailerDisabledIsNil(t *testing.T) {
	if m := NewMailer(alertTestConfig{enabled: false}, logger.New("development")); m != nil {
		t.Fatal("expected nil mailer when alerts are disabled")
	}
}

func TestCriticalHealthTriggersAlert(t *testing.T) {
	_, recorder, bus := newTestMailer(t)
	ctx := context.Background()

	if err := bus.PublishSync(ctx, events.HealthDegraded{
		BaseEvent: events.NewBaseEvent(), Level: "critical", Reason: "restart limit exceeded",
	}); err != nil {
		t.Fatal(err)
	}
	if got := recorder.count(); got != 1 {
		t.Fatalf("expected 1 alert, got %d", got)
	}
}

func TestDegradedHealthDoesNotAlert(t *testing.T) {
	_, recorder, bus := newTestMailer(t)

	if err := bus.PublishSync(context.Background(), events.HealthDegraded{
		BaseEvent: events.NewBaseEvent(), Level: "degraded", Reason: "probe failed",
	}); err != nil {
		t.Fatal(err)
	}
	if got := recorder.count(); got != 0 {
		t.Fatalf("expected no alert below critical, got %d", got)
	}
}

func TestTransientConnectionLossDoesNotAlert(t *testing.T) {
	_, recorder, bus := newTestMailer(t)

	if err := bus.PublishSync(context.Background(), events.ConnectionLost{
		BaseEvent: events.NewBaseEvent(), Reason: "NAVIGATION",
	}); err != nil {
		t.Fatal(err)
	}
	if got := recorder.count(); got != 0 {
		t.Fatalf("expected no alert for a transient drop, got %d", got)
	}
}

func TestRepeatedAlertsAreThrottled(t *testing.T) {
	m, recorder, bus := newTestMailer(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	ev := events.HealthDegraded{BaseEvent: events.NewBaseEvent(), Level: "critical", Reason: "flap"}
	for i := 0; i < 3; i++ {
		if err := bus.PublishSync(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	if got := recorder.count(); got != 1 {
		t.Fatalf("expected throttling to hold alerts to 1, got %d", got)
	}

	m.now = func() time.Time { return base.Add(throttle + time.Minute) }
	if err := bus.PublishSync(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if got := recorder.count(); got != 2 {
		t.Fatalf("expected alert after the throttle window, got %d", got)
	}
}
