package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"orderbot_backend/internal/resilience"
	"orderbot_backend/internal/suppression"
	"orderbot_backend/internal/validation"
	"orderbot_backend/internal/whatsapp"
	"orderbot_backend/platform/apperr"
	"orderbot_backend/platform/logger"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeSource struct {
	mu     sync.Mutex
	orders []Order
}

func (s *fakeSource) FetchOrders(context.Context) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Order(nil), s.orders...), nil
}

func (s *fakeSource) set(orders ...Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = orders
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []Job
	sendErr error
	events  chan whatsapp.Event
}

func newFakeSender() *fakeSender {
	return &fakeSender{events: make(chan whatsapp.Event, 1)}
}

func (f *fakeSender) Initialize(context.Context) error { return nil }
func (f *fakeSender) Destroy(context.Context) error    { return nil }
func (f *fakeSender) GetState(context.Context) (whatsapp.ClientState, error) {
	return whatsapp.StateConnected, nil
}
func (f *fakeSender) IsRegistered(context.Context, string) (bool, error) { return true, nil }
func (f *fakeSender) Events() <-chan whatsapp.Event                      { return f.events }

func (f *fakeSender) SendMessage(_ context.Context, recipient, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, Job{Recipient: recipient, Body: body})
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeGate struct {
	mu        sync.Mutex
	connected bool
}

func (g *fakeGate) IsConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}
func (g *fakeGate) NoteSuccessfulSend() {}
func (g *fakeGate) set(connected bool) {
	g.mu.Lock()
	g.connected = connected
	g.mu.Unlock()
}

type fakeDelayer struct {
	mu        sync.Mutex
	followUps map[string]time.Duration
	reminders map[string]time.Duration
}

func newFakeDelayer() *fakeDelayer {
	return &fakeDelayer{followUps: map[string]time.Duration{}, reminders: map[string]time.Duration{}}
}

func (d *fakeDelayer) ScheduleFollowUp(_ context.Context, orderID string, delay time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.followUps[orderID] = delay
	return nil
}

func (d *fakeDelayer) ScheduleReminder(_ context.Context, orderID string, delay time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reminders[orderID] = delay
	return nil
}

type dispatchTestConfig struct{}

func (dispatchTestConfig) GetPollInterval() time.Duration  { return time.Minute }
func (dispatchTestConfig) GetReminderDelay() time.Duration { return 24 * time.Hour }
func (dispatchTestConfig) GetFollowUpDelay() time.Duration { return 45 * time.Minute }
func (dispatchTestConfig) GetStatusMapFile() string        { return "" }

type validationTestConfig struct{}

func (validationTestConfig) GetValidationTTL() time.Duration { return 24 * time.Hour }
func (validationTestConfig) GetDefaultRegion() string        { return "NL" }

type retryTestConfig struct{}

func (retryTestConfig) GetRetryMaxAttempts() int          { return 1 }
func (retryTestConfig) GetRetryBaseDelay() time.Duration  { return time.Millisecond }
func (retryTestConfig) GetRetryMaxDelay() time.Duration   { return time.Millisecond }
func (retryTestConfig) GetBreakerThreshold() int          { return 100 }
func (retryTestConfig) GetBreakerCooldown() time.Duration { return time.Second }
func (retryTestConfig) GetBreakerHalfOpenProbes() int     { return 1 }

// =============================================================================
// Harness
// =============================================================================

type engineHarness struct {
	engine  *Engine
	source  *fakeSource
	sender  *fakeSender
	gate    *fakeGate
	worker  *Worker
	guard   *suppression.Guard
	tracker *Tracker
	delayer *fakeDelayer
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()
	log := logger.New("development")

	source := &fakeSource{}
	sender := newFakeSender()
	gate := &fakeGate{connected: true}
	guard := suppression.NewGuard(suppression.NewMemoryStore(), log)
	delayer := newFakeDelayer()

	exec := resilience.NewExecutor("whatsapp", retryTestConfig{}, log).WithGate(func() error {
		if !gate.IsConnected() {
			return apperr.Unavailable("chat connection is down")
		}
		return nil
	})
	validator := validation.New(validationTestConfig{}, sender, exec, gate.IsConnected, log)

	table, err := NewStatusTable("")
	if err != nil {
		t.Fatal(err)
	}
	renderer, err := NewTemplateRenderer()
	if err != nil {
		t.Fatal(err)
	}

	worker := NewWorker(sender, gate, guard, exec, nil, log)
	tracker := NewTracker(NewMemoryHistoryStore())

	engine := NewEngine(source, table, tracker, guard,
		validator, renderer, worker, delayer, nil, dispatchTestConfig{}, log)

	return &engineHarness{
		engine: engine, source: source, sender: sender,
		gate: gate, worker: worker, guard: guard, tracker: tracker, delayer: delayer,
	}
}

func (h *engineHarness) pollAndDrain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := h.engine.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	h.worker.drain(ctx)
}

func testOrder(status string) Order {
	return Order{
		ID: "ORD-1", CustomerName: "Anna", Phone: "+31612345678",
		Product: "Bureaulamp", Amount: "49.95", RawStatus: status, Row: 2,
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestNewOrderSendsWelcomeMessage(t *testing.T) {
	h := newEngineHarness(t)
	h.source.set(testOrder("Nieuw"))

	h.pollAndDrain(t)

	if got := h.sender.sentCount(); got != 1 {
		t.Fatalf("expected 1 send, got %d", got)
	}
	rec, err := h.guard.Check(context.Background(), "ORD-1", suppression.TypeNewOrder)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Allowed {
		t.Fatal("expected follow-up send of same type suppressed after success")
	}
}

func TestUnchangedStatusSendsNothing(t *testing.T) {
	h := newEngineHarness(t)
	h.source.set(testOrder("Nieuw"))

	h.pollAndDrain(t)
	h.pollAndDrain(t)
	h.pollAndDrain(t)

	if got := h.sender.sentCount(); got != 1 {
		t.Fatalf("expected a single send across repeated polls, got %d", got)
	}
}

func TestStatusChangeWithinWindowIsSuppressed(t *testing.T) {
	h := newEngineHarness(t)

	h.source.set(testOrder("Nieuw"))
	h.pollAndDrain(t) // newOrder sent

	h.source.set(testOrder("geen gehoor"))
	h.pollAndDrain(t) // noAnswer sent

	h.source.set(testOrder("Nieuw"))
	h.pollAndDrain(t) // newOrder again, inside its 30m window

	if got := h.sender.sentCount(); got != 2 {
		t.Fatalf("expected flip-flop suppressed, got %d sends", got)
	}
	counters := h.guard.Counters()
	if counters.SuppressedTotal != 1 || counters.SuppressedByType["newOrder"] != 1 {
		t.Fatalf("unexpected suppression counters: %+v", counters)
	}
}

func TestImplausibleRecipientNeverSends(t *testing.T) {
	h := newEngineHarness(t)
	order := testOrder("Nieuw")
	order.Phone = "12"
	h.source.set(order)

	h.pollAndDrain(t)

	if got := h.sender.sentCount(); got != 0 {
		t.Fatalf("expected no send for an implausible number, got %d", got)
	}
	rec, err := h.guard.Check(context.Background(), "ORD-1", suppression.TypeNewOrder)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Allowed {
		t.Fatal("a rejected recipient must not leave a pending record behind")
	}
	if got := h.guard.Counters().SuppressedTotal; got != 0 {
		t.Fatalf("a rejected recipient must not count as suppressed, got %d", got)
	}
}

func TestCorrectedPhoneStillGetsWelcome(t *testing.T) {
	h := newEngineHarness(t)
	bad := testOrder("Nieuw")
	bad.Phone = "12"
	h.source.set(bad)

	h.pollAndDrain(t)
	if got := h.sender.sentCount(); got != 0 {
		t.Fatalf("expected no send for the broken number, got %d", got)
	}

	// The operator fixes the phone; the first-seen transition must not
	// have been consumed by the rejected row.
	h.source.set(testOrder("Nieuw"))
	h.pollAndDrain(t)

	if got := h.sender.sentCount(); got != 1 {
		t.Fatalf("expected welcome message after the phone was corrected, got %d sends", got)
	}
}

func TestDisconnectedSendsAreDeferredNotDropped(t *testing.T) {
	h := newEngineHarness(t)
	h.gate.set(false)
	h.source.set(testOrder("Nieuw"))

	h.pollAndDrain(t)

	if got := h.sender.sentCount(); got != 0 {
		t.Fatalf("expected no send while disconnected, got %d", got)
	}
	if got := h.worker.Pending(); got != 1 {
		t.Fatalf("expected 1 deferred job, got %d", got)
	}

	h.gate.set(true)
	h.worker.drain(context.Background())

	if got := h.sender.sentCount(); got != 1 {
		t.Fatalf("expected deferred job delivered after reconnect, got %d", got)
	}
}

func TestFailedSendAllowsRetryOnNextTransition(t *testing.T) {
	h := newEngineHarness(t)
	h.sender.sendErr = errors.New("relay exploded")
	h.source.set(testOrder("Nieuw"))

	h.pollAndDrain(t) // all attempts fail, record marked failed

	if got := h.sender.sentCount(); got != 0 {
		t.Fatalf("expected no delivery, got %d", got)
	}

	// The order flips away and back; the failed record does not suppress.
	h.sender.sendErr = nil
	h.source.set(testOrder("verzonden"))
	h.pollAndDrain(t)
	h.source.set(testOrder("Nieuw"))
	h.pollAndDrain(t)

	if got := h.sender.sentCount(); got != 2 {
		t.Fatalf("expected shipped plus retried newOrder, got %d sends", got)
	}
}

func TestNewOrderSchedulesFollowUp(t *testing.T) {
	h := newEngineHarness(t)
	h.source.set(testOrder("Nieuw"))

	h.pollAndDrain(t)

	h.delayer.mu.Lock()
	defer h.delayer.mu.Unlock()
	if got := h.delayer.followUps["ORD-1"]; got != 45*time.Minute {
		t.Fatalf("expected 45m follow-up scheduled, got %v", got)
	}
}

func TestNoAnswerSchedulesReminder(t *testing.T) {
	h := newEngineHarness(t)
	h.source.set(testOrder("geen gehoor"))

	h.pollAndDrain(t)

	h.delayer.mu.Lock()
	defer h.delayer.mu.Unlock()
	if got := h.delayer.reminders["ORD-1"]; got != 24*time.Hour {
		t.Fatalf("expected 24h reminder scheduled, got %v", got)
	}
}

func TestHandleFollowUpRechecksCurrentStatus(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	h.source.set(testOrder("verzonden"))
	h.pollAndDrain(t) // shipped message

	if err := h.engine.HandleFollowUp(ctx, "ORD-1"); err != nil {
		t.Fatal(err)
	}
	h.worker.drain(ctx)
	if got := h.sender.sentCount(); got != 1 {
		t.Fatalf("follow-up must not fire on a shipped order, got %d sends", got)
	}
}

func TestHandleReminderSendsForWaitingOrder(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	h.source.set(testOrder("geen gehoor"))
	h.pollAndDrain(t) // noAnswer message

	if err := h.engine.HandleReminder(ctx, "ORD-1"); err != nil {
		t.Fatal(err)
	}
	h.worker.drain(ctx)

	if got := h.sender.sentCount(); got != 2 {
		t.Fatalf("expected noAnswer plus reminder, got %d sends", got)
	}
}

func TestParkedOrderGetsRecurringReminders(t *testing.T) {
	h := newEngineHarness(t)
	h.source.set(testOrder("geen gehoor"))

	h.pollAndDrain(t) // noAnswer message

	// The order sits unchanged past the reminder delay.
	h.tracker.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	h.pollAndDrain(t)

	if got := h.sender.sentCount(); got != 2 {
		t.Fatalf("expected reminder once the wait exceeded the delay, got %d sends", got)
	}

	// Inside the reminder window the next cycle stays quiet.
	h.pollAndDrain(t)
	if got := h.sender.sentCount(); got != 2 {
		t.Fatalf("expected follow-on reminder suppressed inside its window, got %d sends", got)
	}
}

func TestDelayedTaskBeforeFirstPollIsRetried(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	if err := h.engine.HandleFollowUp(ctx, "ORD-1"); err == nil {
		t.Fatal("expected an error before the first poll so the task stays queued")
	}
	if err := h.engine.HandleReminder(ctx, "ORD-1"); err == nil {
		t.Fatal("expected an error before the first poll so the task stays queued")
	}

	h.source.set()
	h.pollAndDrain(t)

	// After a poll an unknown order is dropped for good.
	if err := h.engine.HandleFollowUp(ctx, "ORD-1"); err != nil {
		t.Fatalf("unknown order after a poll must be dropped, got %v", err)
	}
	if got := h.sender.sentCount(); got != 0 {
		t.Fatalf("expected no sends, got %d", got)
	}
}

type breakerTripConfig struct{ retryTestConfig }

func (breakerTripConfig) GetBreakerThreshold() int { return 1 }

func TestWorkerFailsFastWhileBreakerOpen(t *testing.T) {
	log := logger.New("development")
	sender := newFakeSender()
	sender.sendErr = errors.New("relay exploded")
	gate := &fakeGate{connected: true}
	guard := suppression.NewGuard(suppression.NewMemoryStore(), log)
	exec := resilience.NewExecutor("whatsapp", breakerTripConfig{}, log)
	worker := NewWorker(sender, gate, guard, exec, nil, log)

	worker.Enqueue(Job{OrderID: "ORD-1", MessageType: suppression.TypeNewOrder, Recipient: "+31612345678", Body: "hoi"})
	worker.Enqueue(Job{OrderID: "ORD-2", MessageType: suppression.TypeNewOrder, Recipient: "+31612345679", Body: "hoi"})
	worker.drain(context.Background())

	if got := exec.Breaker().State(); got != resilience.StateOpen {
		t.Fatalf("expected breaker open after the failed send, got %s", got)
	}
	if got := worker.Pending(); got != 1 {
		t.Fatalf("expected second job held behind the open breaker, got %d pending", got)
	}
	if got := sender.sentCount(); got != 0 {
		t.Fatalf("expected no deliveries, got %d", got)
	}
}

func TestSendTestBypassesGuard(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := h.engine.SendTest(ctx, "+31612345678", "ping"); err != nil {
			t.Fatalf("send test: %v", err)
		}
	}
	h.worker.drain(ctx)

	if got := h.sender.sentCount(); got != 2 {
		t.Fatalf("expected both test messages delivered, got %d", got)
	}
}
