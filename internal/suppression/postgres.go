package suppression

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable Store implementation. It preserves sent
// records across restarts so the suppression invariant survives a crash.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Get returns the record for (orderID, messageType), or nil when absent.
func (s *PostgresStore) Get(ctx context.Context, orderID string, messageType MessageType) (*SentRecord, error) {
	const query = `
		SELECT order_id, message_type, sent_at, status
		FROM sent_records
		WHERE order_id = $1 AND message_type = $2`

	var rec SentRecord
	err := s.pool.QueryRow(ctx, query, orderID, string(messageType)).
		Scan(&rec.OrderID, &rec.MessageType, &rec.Timestamp, &rec.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put upserts the record for its (orderID, messageType) key.
func (s *PostgresStore) Put(ctx context.Context, record SentRecord) error {
	const query = `
		INSERT INTO sent_records (order_id, message_type, sent_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id, message_type)
		DO UPDATE SET sent_at = EXCLUDED.sent_at, status = EXCLUDED.status`

	_, err := s.pool.Exec(ctx, query,
		record.OrderID, string(record.MessageType), record.Timestamp, string(record.Status))
	return err
}

var _ Store = (*PostgresStore)(nil)
