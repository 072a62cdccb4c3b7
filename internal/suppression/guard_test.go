package suppression

import (
	"context"
	"testing"
	"time"

	"orderbot_backend/platform/logger"
)

func newTestGuard(t *testing.T) (*Guard, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	g := NewGuard(NewMemoryStore(), logger.New("development"))
	g.now = func() time.Time { return now }
	return g, &now
}

func TestGuardAllowsFirstSend(t *testing.T) {
	g, _ := newTestGuard(t)

	dec, err := g.Check(context.Background(), "order-1", TypeNewOrder)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !dec.Allowed {
		t.Fatal("expected first send to be allowed")
	}
}

func TestGuardSuppressesWithinWindowAllowsAfter(t *testing.T) {
	g, now := newTestGuard(t)
	ctx := context.Background()

	if err := g.MarkSent(ctx, "order-1", TypeNewOrder); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	// 29 minutes later: suppressed.
	*now = now.Add(29 * time.Minute)
	dec, err := g.Check(ctx, "order-1", TypeNewOrder)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if dec.Allowed {
		t.Fatal("expected suppression at t0+29m for newOrder")
	}

	// 31 minutes after the send: allowed.
	*now = now.Add(2 * time.Minute)
	dec, err = g.Check(ctx, "order-1", TypeNewOrder)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !dec.Allowed {
		t.Fatal("expected resend allowed at t0+31m for newOrder")
	}
}

func TestGuardWindowsArePerType(t *testing.T) {
	g, now := newTestGuard(t)
	ctx := context.Background()

	for _, mt := range []MessageType{TypeNewOrder, TypeNoAnswer, TypeShipped, TypeRejectedOffer, TypeReminder} {
		if err := g.MarkSent(ctx, "order-1", mt); err != nil {
			t.Fatalf("mark sent %s: %v", mt, err)
		}
	}

	// 45 minutes later only newOrder (30m) has cleared its window.
	*now = now.Add(45 * time.Minute)
	for _, tc := range []struct {
		mt      MessageType
		allowed bool
	}{
		{TypeNewOrder, true},
		{TypeNoAnswer, false},
		{TypeShipped, false},
		{TypeRejectedOffer, false},
		{TypeReminder, false},
	} {
		dec, err := g.Check(ctx, "order-1", tc.mt)
		if err != nil {
			t.Fatalf("check %s: %v", tc.mt, err)
		}
		if dec.Allowed != tc.allowed {
			t.Fatalf("%s: expected allowed=%v after 45m, got %v", tc.mt, tc.allowed, dec.Allowed)
		}
	}
}

func TestGuardSeparatesOrdersAndTypes(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	if err := g.MarkSent(ctx, "order-1", TypeNewOrder); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	dec, err := g.Check(ctx, "order-2", TypeNewOrder)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !dec.Allowed {
		t.Fatal("expected a different order to be unaffected")
	}

	dec, err = g.Check(ctx, "order-1", TypeShipped)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !dec.Allowed {
		t.Fatal("expected a different message type to be unaffected")
	}
}

func TestGuardAllowsRetryAfterFailure(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	if err := g.MarkFailed(ctx, "order-1", TypeShipped); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	dec, err := g.Check(ctx, "order-1", TypeShipped)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !dec.Allowed {
		t.Fatal("expected retry after a failed attempt")
	}
}

func TestGuardPendingBlocksDuplicate(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	if err := g.MarkPending(ctx, "order-1", TypeNewOrder); err != nil {
		t.Fatalf("mark pending: %v", err)
	}

	dec, err := g.Check(ctx, "order-1", TypeNewOrder)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if dec.Allowed {
		t.Fatal("expected in-flight send to suppress a duplicate")
	}
}

func TestGuardCountsSuppressedAttempts(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	if err := g.MarkSent(ctx, "order-1", TypeNewOrder); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := g.MarkSent(ctx, "order-2", TypeReminder); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := g.Check(ctx, "order-1", TypeNewOrder); err != nil {
			t.Fatalf("check failed: %v", err)
		}
	}
	if _, err := g.Check(ctx, "order-2", TypeReminder); err != nil {
		t.Fatalf("check failed: %v", err)
	}

	counters := g.Counters()
	if counters.SuppressedTotal != 4 {
		t.Fatalf("expected 4 suppressed, got %d", counters.SuppressedTotal)
	}
	if counters.SuppressedByType["newOrder"] != 3 {
		t.Fatalf("expected 3 newOrder suppressions, got %d", counters.SuppressedByType["newOrder"])
	}
	if counters.SuppressedByType["reminder"] != 1 {
		t.Fatalf("expected 1 reminder suppression, got %d", counters.SuppressedByType["reminder"])
	}
}
