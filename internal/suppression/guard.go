package suppression

import (
	"context"
	"fmt"
	"sync"
	"time"

	"orderbot_backend/platform/logger"
)

// defaultWindows are the minimum resend intervals per message type.
var defaultWindows = map[MessageType]time.Duration{
	TypeNewOrder:      30 * time.Minute,
	TypeNoAnswer:      60 * time.Minute,
	TypeShipped:       240 * time.Minute,
	TypeRejectedOffer: 1440 * time.Minute,
	TypeReminder:      720 * time.Minute,
	TypeFollowUp:      180 * time.Minute,
}

// fallbackWindow applies to message types without an explicit window.
const fallbackWindow = 60 * time.Minute

// Decision is the outcome of a suppression check.
type Decision struct {
	Allowed    bool
	SincePrior time.Duration // zero when no prior record exists
}

// Counters is a read-only view of suppression statistics.
type Counters struct {
	SuppressedTotal  int64            `json:"suppressedTotal"`
	SuppressedByType map[string]int64 `json:"suppressedByType"`
}

// Guard enforces the at-most-one-message-per-window invariant. All state
// mutation funnels through its methods; callers never touch the store maps.
type Guard struct {
	store   Store
	windows map[MessageType]time.Duration
	log     *logger.Logger
	now     func() time.Time

	mu               sync.Mutex
	suppressedTotal  int64
	suppressedByType map[MessageType]int64
}

// NewGuard creates a guard over the given store with the default windows.
func NewGuard(store Store, log *logger.Logger) *Guard {
	windows := make(map[MessageType]time.Duration, len(defaultWindows))
	for k, v := range defaultWindows {
		windows[k] = v
	}
	return &Guard{
		store:            store,
		windows:          windows,
		log:              log,
		now:              time.Now,
		suppressedByType: make(map[MessageType]int64),
	}
}

// Window returns the minimum resend interval for a message type.
func (g *Guard) Window(messageType MessageType) time.Duration {
	if w, ok := g.windows[messageType]; ok {
		return w
	}
	return fallbackWindow
}

// Check decides whether a send of messageType to orderID may proceed.
// Absent record: allowed. Prior failed attempt: allowed. Otherwise allowed
// only once the type-specific window has elapsed since the prior attempt.
// Suppressed attempts increment the global and per-type counters.
func (g *Guard) Check(ctx context.Context, orderID string, messageType MessageType) (Decision, error) {
	rec, err := g.store.Get(ctx, orderID, messageType)
	if err != nil {
		return Decision{}, fmt.Errorf("suppression lookup: %w", err)
	}
	if rec == nil {
		return Decision{Allowed: true}, nil
	}

	elapsed := g.now().Sub(rec.Timestamp)
	if rec.Status == StatusFailed {
		return Decision{Allowed: true, SincePrior: elapsed}, nil
	}

	if elapsed >= g.Window(messageType) {
		return Decision{Allowed: true, SincePrior: elapsed}, nil
	}

	g.mu.Lock()
	g.suppressedTotal++
	g.suppressedByType[messageType]++
	g.mu.Unlock()

	g.log.SuppressedSend(orderID, string(messageType), elapsed.Minutes())
	return Decision{Allowed: false, SincePrior: elapsed}, nil
}

// MarkPending records that a send attempt is in flight.
func (g *Guard) MarkPending(ctx context.Context, orderID string, messageType MessageType) error {
	return g.put(ctx, orderID, messageType, StatusPending)
}

// MarkSent records a completed send.
func (g *Guard) MarkSent(ctx context.Context, orderID string, messageType MessageType) error {
	return g.put(ctx, orderID, messageType, StatusSent)
}

// MarkFailed records a failed send; the next Check will allow a retry.
func (g *Guard) MarkFailed(ctx context.Context, orderID string, messageType MessageType) error {
	return g.put(ctx, orderID, messageType, StatusFailed)
}

func (g *Guard) put(ctx context.Context, orderID string, messageType MessageType, status SendStatus) error {
	return g.store.Put(ctx, SentRecord{
		OrderID:     orderID,
		MessageType: messageType,
		Timestamp:   g.now(),
		Status:      status,
	})
}

// Counters returns a copy of the suppression statistics.
func (g *Guard) Counters() Counters {
	g.mu.Lock()
	defer g.mu.Unlock()

	byType := make(map[string]int64, len(g.suppressedByType))
	for k, v := range g.suppressedByType {
		byType[string(k)] = v
	}
	return Counters{
		SuppressedTotal:  g.suppressedTotal,
		SuppressedByType: byType,
	}
}
