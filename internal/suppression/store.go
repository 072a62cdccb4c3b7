// Package suppression prevents duplicate sends of the same message type to
// the same order within a minimum per-type interval.
package suppression

import (
	"context"
	"sync"
	"time"
)

// MessageType identifies the business meaning of an outbound message.
type MessageType string

const (
	TypeNewOrder      MessageType = "newOrder"
	TypeNoAnswer      MessageType = "noAnswer"
	TypeShipped       MessageType = "shipped"
	TypeRejectedOffer MessageType = "rejectedOffer"
	TypeReminder      MessageType = "reminder"
	TypeFollowUp      MessageType = "followUp"

	// TypeTest marks operator test messages; they bypass suppression.
	TypeTest MessageType = "test"
)

// SendStatus is the lifecycle state of a send attempt.
type SendStatus string

const (
	StatusPending SendStatus = "pending"
	StatusSent    SendStatus = "sent"
	StatusFailed  SendStatus = "failed"
)

// SentRecord tracks the last send attempt per (order, message type).
type SentRecord struct {
	OrderID     string
	MessageType MessageType
	Timestamp   time.Time
	Status      SendStatus
}

// Store persists SentRecords. A durable implementation must preserve records
// across restarts to keep the suppression invariant valid.
type Store interface {
	Get(ctx context.Context, orderID string, messageType MessageType) (*SentRecord, error)
	Put(ctx context.Context, record SentRecord) error
}

// MemoryStore is the in-process Store used when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]SentRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]SentRecord)}
}

func recordKey(orderID string, messageType MessageType) string {
	return orderID + "|" + string(messageType)
}

// Get returns the record for (orderID, messageType), or nil when absent.
func (s *MemoryStore) Get(_ context.Context, orderID string, messageType MessageType) (*SentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recordKey(orderID, messageType)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Put inserts or overwrites the record for its (orderID, messageType) key.
func (s *MemoryStore) Put(_ context.Context, record SentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[recordKey(record.OrderID, record.MessageType)] = record
	return nil
}

var _ Store = (*MemoryStore)(nil)
