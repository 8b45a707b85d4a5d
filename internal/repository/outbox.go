package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type OutboxEvent struct {
	ID          int64
	AggregateID uuid.UUID
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at
	          FROM outbox_events WHERE processed_at IS NULL
	          ORDER BY id
	          LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event row: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark outbox event processed: %w", err)
	}
	return nil
}

// ExpireAbandonedOrders fails pending orders last touched before the cutoff and releases their
// pending coupon redemptions. Processing orders are left for the provider to confirm.
func (r *Repository) ExpireAbandonedOrders(ctx context.Context, before time.Time) (int64, error) {
	query := `WITH expired AS (
	              UPDATE orders
	              SET order_status = 'failed', payment_status = 'failed', failure_reason = 'abandoned', updated_at = NOW()
	              WHERE order_status = 'pending' AND updated_at < $1
	              RETURNING id
	          ), released AS (
	              UPDATE coupon_redemptions SET status = 'failed', updated_at = NOW()
	              WHERE status = 'pending' AND order_id IN (SELECT id FROM expired)
	              RETURNING id
	          )
	          SELECT (SELECT COUNT(*) FROM expired), (SELECT COUNT(*) FROM released)`

	var orders, redemptions int64
	if err := r.db.QueryRowContext(ctx, query, before).Scan(&orders, &redemptions); err != nil {
		return 0, fmt.Errorf("expire abandoned orders: %w", err)
	}
	return orders, nil
}

// ExpireStaleRedemptions fails pending redemptions past their soft expiry.
func (r *Repository) ExpireStaleRedemptions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE coupon_redemptions SET status = 'failed', updated_at = NOW() WHERE status = 'pending' AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("expire stale redemptions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire stale redemptions rows affected: %w", err)
	}
	return n, nil
}
