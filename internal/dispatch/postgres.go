package dispatch

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresHistoryStore is the durable HistoryStore implementation. With it
// a restart does not re-trigger messages for statuses already observed.
type PostgresHistoryStore struct {
	pool *pgxpool.Pool
}

// NewPostgresHistoryStore creates a store backed by the given connection pool.
func NewPostgresHistoryStore(pool *pgxpool.Pool) *PostgresHistoryStore {
	return &PostgresHistoryStore{pool: pool}
}

func (s *PostgresHistoryStore) Get(ctx context.Context, orderID string) (HistoryEntry, bool, error) {
	const query = `
		SELECT order_id, status, previous_status, first_seen, last_changed, last_seen
		FROM status_history
		WHERE order_id = $1`

	var entry HistoryEntry
	err := s.pool.QueryRow(ctx, query, orderID).
		Scan(&entry.OrderID, &entry.Status, &entry.PreviousStatus,
			&entry.FirstSeen, &entry.LastChanged, &entry.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return HistoryEntry{}, false, nil
	}
	if err != nil {
		return HistoryEntry{}, false, err
	}
	return entry, true, nil
}

func (s *PostgresHistoryStore) Put(ctx context.Context, entry HistoryEntry) error {
	const query = `
		INSERT INTO status_history (order_id, status, previous_status, first_seen, last_changed, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id)
		DO UPDATE SET status = EXCLUDED.status,
		              previous_status = EXCLUDED.previous_status,
		              last_changed = EXCLUDED.last_changed,
		              last_seen = EXCLUDED.last_seen`

	_, err := s.pool.Exec(ctx, query,
		entry.OrderID, entry.Status, entry.PreviousStatus,
		entry.FirstSeen, entry.LastChanged, entry.LastSeen)
	return err
}

var _ HistoryStore = (*PostgresHistoryStore)(nil)
