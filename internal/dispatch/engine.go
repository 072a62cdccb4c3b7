package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"orderbot_backend/internal/events"
	"orderbot_backend/internal/suppression"
	"orderbot_backend/internal/validation"
	"orderbot_backend/platform/config"
	"orderbot_backend/platform/logger"
)

// Delayer schedules the delayed re-entries: follow-ups after a first
// contact and reminders for orders stuck in a waiting status. A nil
// Delayer disables both without affecting direct dispatch.
type Delayer interface {
	ScheduleFollowUp(ctx context.Context, orderID string, delay time.Duration) error
	ScheduleReminder(ctx context.Context, orderID string, delay time.Duration) error
}

// Engine polls the order source and turns status transitions into
// outbound jobs. All sends pass through the suppression guard; the engine
// never talks to the chat client directly.
type Engine struct {
	source    Source
	table     *StatusTable
	tracker   *Tracker
	guard     *suppression.Guard
	validator *validation.Cache
	renderer  Renderer
	worker    *Worker
	delayer   Delayer
	bus       events.Bus
	cfg       config.DispatchConfig
	log       *logger.Logger

	mu        sync.Mutex
	snapshot  map[string]Order
	lastPoll  time.Time
	pollCount int64
}

func NewEngine(
	source Source,
	table *StatusTable,
	tracker *Tracker,
	guard *suppression.Guard,
	validator *validation.Cache,
	renderer Renderer,
	worker *Worker,
	delayer Delayer,
	bus events.Bus,
	cfg config.DispatchConfig,
	log *logger.Logger,
) *Engine {
	return &Engine{
		source:    source,
		table:     table,
		tracker:   tracker,
		guard:     guard,
		validator: validator,
		renderer:  renderer,
		worker:    worker,
		delayer:   delayer,
		bus:       bus,
		cfg:       cfg,
		log:       log.WithComponent("dispatch"),
		snapshot:  make(map[string]Order),
	}
}

// Run polls on the configured interval until the context is done. A
// failing poll is logged and retried on the next tick; the source already
// spent its own retry budget.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.GetPollInterval())
	defer ticker.Stop()

	if err := e.Poll(ctx); err != nil {
		e.log.SourceError("initial poll", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Poll(ctx); err != nil {
				e.log.SourceError("poll", err)
			}
		}
	}
}

// Poll fetches the current orders and processes every row. Row failures
// are isolated: one bad row never blocks the rest of the sheet.
func (e *Engine) Poll(ctx context.Context) error {
	orders, err := e.source.FetchOrders(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.lastPoll = time.Now()
	e.pollCount++
	e.snapshot = make(map[string]Order, len(orders))
	for _, order := range orders {
		e.snapshot[order.ID] = order
	}
	e.mu.Unlock()

	for _, order := range orders {
		if err := e.processOrder(ctx, order); err != nil {
			e.log.Error("process order", "orderId", order.ID, "row", order.Row, "error", err)
		}
	}
	return nil
}

func (e *Engine) processOrder(ctx context.Context, order Order) error {
	status := e.table.Normalize(order.RawStatus)

	// Validation runs before history. A rejected recipient leaves no
	// trace, so the same transition fires once the upstream data is fixed.
	result := e.validator.Validate(ctx, order.Phone)
	if !result.Valid {
		e.log.Warn("recipient rejected, row skipped",
			"orderId", order.ID, "row", order.Row, "reason", result.Reason)
		return nil
	}

	transition, err := e.tracker.Observe(ctx, order.ID, status)
	if err != nil {
		return err
	}

	switch transition.Kind {
	case TransitionNew, TransitionChanged:
		e.publish(events.OrderStatusChanged{
			BaseEvent: events.NewBaseEvent(),
			OrderID:   order.ID, PreviousStatus: transition.Previous,
			Status: status, FirstSeen: transition.Kind == TransitionNew,
		})
		messageType, ok := ActionFor(status)
		if !ok {
			return nil
		}
		if err := e.dispatch(ctx, order, messageType); err != nil {
			return err
		}
		e.scheduleDelayed(ctx, order.ID, status)

	case TransitionUnchanged:
		// An order parked in a waiting status earns a reminder every
		// cycle the delay has elapsed; the guard's window spaces them.
		if ReminderEligible(status) && transition.SinceChange >= e.cfg.GetReminderDelay() {
			return e.dispatch(ctx, order, suppression.TypeReminder)
		}
	}
	return nil
}

// dispatch runs the full validate-guard-render-enqueue path for one
// message. Validation gates the candidate before suppression gates the
// type, so a rejected recipient never touches the counters.
func (e *Engine) dispatch(ctx context.Context, order Order, messageType suppression.MessageType) error {
	result := e.validator.Validate(ctx, order.Phone)
	if !result.Valid {
		e.log.Warn("recipient rejected",
			"orderId", order.ID, "row", order.Row, "reason", result.Reason)
		return nil
	}

	decision, err := e.guard.Check(ctx, order.ID, messageType)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		e.log.SuppressedSend(order.ID, string(messageType), decision.SincePrior.Minutes())
		e.publish(events.MessageSuppressed{
			BaseEvent: events.NewBaseEvent(), OrderID: order.ID,
			MessageType: string(messageType), SincePrior: decision.SincePrior,
		})
		return nil
	}

	body, err := e.renderer.Render(messageType, order)
	if err != nil {
		return err
	}

	if err := e.guard.MarkPending(ctx, order.ID, messageType); err != nil {
		return err
	}
	e.worker.Enqueue(Job{
		OrderID:     order.ID,
		MessageType: messageType,
		Recipient:   result.Recipient,
		Body:        body,
	})
	return nil
}

// scheduleDelayed queues the delayed re-entries a transition earns.
func (e *Engine) scheduleDelayed(ctx context.Context, orderID, status string) {
	if e.delayer == nil {
		return
	}
	if status == StatusNew {
		if err := e.delayer.ScheduleFollowUp(ctx, orderID, e.cfg.GetFollowUpDelay()); err != nil {
			e.log.Error("schedule follow-up", "orderId", orderID, "error", err)
		}
	}
	if ReminderEligible(status) {
		if err := e.delayer.ScheduleReminder(ctx, orderID, e.cfg.GetReminderDelay()); err != nil {
			e.log.Error("schedule reminder", "orderId", orderID, "error", err)
		}
	}
}

// HandleFollowUp is the delayed follow-up re-entry. It re-checks the
// current status so a follow-up never lands on an order that moved on.
func (e *Engine) HandleFollowUp(ctx context.Context, orderID string) error {
	order, ok := e.Order(orderID)
	if !ok {
		// Before the first poll the snapshot is empty; failing the task
		// keeps it in the queue instead of consuming it.
		if !e.hasPolled() {
			return fmt.Errorf("follow-up for %s before first poll completed", orderID)
		}
		e.log.Debug("follow-up for unknown order dropped", "orderId", orderID)
		return nil
	}
	if e.table.Normalize(order.RawStatus) != StatusNew {
		return nil
	}
	return e.dispatch(ctx, order, suppression.TypeFollowUp)
}

// HandleReminder is the delayed reminder re-entry.
func (e *Engine) HandleReminder(ctx context.Context, orderID string) error {
	order, ok := e.Order(orderID)
	if !ok {
		if !e.hasPolled() {
			return fmt.Errorf("reminder for %s before first poll completed", orderID)
		}
		e.log.Debug("reminder for unknown order dropped", "orderId", orderID)
		return nil
	}
	if !ReminderEligible(e.table.Normalize(order.RawStatus)) {
		return nil
	}
	return e.dispatch(ctx, order, suppression.TypeReminder)
}

// SendTest sends an ad-hoc message through the normal validation and
// delivery path, bypassing the suppression guard. Operator use only.
func (e *Engine) SendTest(ctx context.Context, recipient, body string) (string, error) {
	result := e.validator.Validate(ctx, recipient)
	if !result.Valid {
		return "", &InvalidRecipientError{Recipient: recipient, Reason: result.Reason}
	}
	e.worker.Enqueue(Job{
		OrderID:     "test",
		MessageType: suppression.TypeTest,
		Recipient:   result.Recipient,
		Body:        body,
	})
	return result.Recipient, nil
}

// Order returns the order as of the last poll.
func (e *Engine) Order(orderID string) (Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.snapshot[orderID]
	return order, ok
}

func (e *Engine) hasPolled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pollCount > 0
}

// Stats summarizes engine activity for the status endpoint.
type Stats struct {
	LastPoll    time.Time `json:"lastPoll"`
	PollCount   int64     `json:"pollCount"`
	OrdersKnown int       `json:"ordersKnown"`
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{LastPoll: e.lastPoll, PollCount: e.pollCount, OrdersKnown: len(e.snapshot)}
}

// InvalidRecipientError reports a recipient that failed validation.
type InvalidRecipientError struct {
	Recipient string
	Reason    string
}

func (e *InvalidRecipientError) Error() string {
	return "invalid recipient " + e.Recipient + ": " + e.Reason
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(context.Background(), ev)
	}
}
