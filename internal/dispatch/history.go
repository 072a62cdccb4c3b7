package dispatch

import (
	"context"
	"sync"
	"time"
)

// TransitionKind classifies one poll observation of an order.
type TransitionKind int

const (
	TransitionNew TransitionKind = iota
	TransitionChanged
	TransitionUnchanged
)

// Transition is the result of comparing an observed status against history.
type Transition struct {
	Kind        TransitionKind
	Previous    string
	Status      string
	FirstSeen   time.Time
	SinceChange time.Duration // time spent in the current status
}

// HistoryEntry is the per-order status record.
type HistoryEntry struct {
	OrderID        string    `json:"orderId"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus"`
	FirstSeen      time.Time `json:"firstSeen"`
	LastChanged    time.Time `json:"lastChanged"`
	LastSeen       time.Time `json:"lastSeen"`
}

// HistoryStore persists per-order status history.
type HistoryStore interface {
	Get(ctx context.Context, orderID string) (HistoryEntry, bool, error)
	Put(ctx context.Context, entry HistoryEntry) error
}

// Tracker compares observed statuses against history. The comparison
// result is captured before the stored entry is overwritten, so a
// transition is never lost to its own bookkeeping.
type Tracker struct {
	store HistoryStore

	now func() time.Time
}

func NewTracker(store HistoryStore) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// Observe records one sighting of an order and reports what changed.
func (t *Tracker) Observe(ctx context.Context, orderID, status string) (Transition, error) {
	entry, found, err := t.store.Get(ctx, orderID)
	if err != nil {
		return Transition{}, err
	}
	now := t.now()

	if !found {
		transition := Transition{Kind: TransitionNew, Status: status, FirstSeen: now}
		err := t.store.Put(ctx, HistoryEntry{
			OrderID:   orderID,
			Status:    status,
			FirstSeen: now, LastChanged: now, LastSeen: now,
		})
		return transition, err
	}

	if entry.Status != status {
		transition := Transition{
			Kind:      TransitionChanged,
			Previous:  entry.Status,
			Status:    status,
			FirstSeen: entry.FirstSeen,
		}
		entry.PreviousStatus = entry.Status
		entry.Status = status
		entry.LastChanged = now
		entry.LastSeen = now
		return transition, t.store.Put(ctx, entry)
	}

	transition := Transition{
		Kind:        TransitionUnchanged,
		Previous:    entry.PreviousStatus,
		Status:      status,
		FirstSeen:   entry.FirstSeen,
		SinceChange: now.Sub(entry.LastChanged),
	}
	entry.LastSeen = now
	return transition, t.store.Put(ctx, entry)
}

// MemoryHistoryStore is the in-process store used when no database is
// configured. History then survives reconnects but not restarts.
type MemoryHistoryStore struct {
	mu      sync.Mutex
	entries map[string]HistoryEntry
}

func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{entries: make(map[string]HistoryEntry)}
}

func (s *MemoryHistoryStore) Get(_ context.Context, orderID string) (HistoryEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[orderID]
	return entry, ok, nil
}

func (s *MemoryHistoryStore) Put(_ context.Context, entry HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.OrderID] = entry
	return nil
}
