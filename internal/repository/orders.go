package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	d "github.com/fjod/go_market/domain"
	"github.com/google/uuid"
)

const orderColumns = `id, order_number, user_id, subtotal, discount, total, base_currency,
	paid_amount, paid_currency, fx_rate, payment_status, order_status, payment_provider,
	provider_reference, coupon_id, email, failure_reason, created_at, updated_at, settled_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*d.Order, error) {
	var o d.Order
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.UserID,
		&o.Subtotal,
		&o.Discount,
		&o.Total,
		&o.BaseCurrency,
		&o.PaidAmount,
		&o.PaidCurrency,
		&o.FxRate,
		&o.PaymentStatus,
		&o.OrderStatus,
		&o.PaymentProvider,
		&o.ProviderReference,
		&o.CouponID,
		&o.Email,
		&o.FailureReason,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (*d.Order, error) {
	return r.getOrder(ctx, r.db, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// GetOrderForUser hides orders of other users behind ErrOrderNotFound.
func (r *Repository) GetOrderForUser(ctx context.Context, id uuid.UUID, userID int64) (*d.Order, error) {
	return r.getOrder(ctx, r.db, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND user_id = $2`, id, userID)
}

func (r *Repository) getOrder(ctx context.Context, q querier, query string, args ...any) (*d.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	if order.Items, err = orderItems(ctx, q, order.ID); err != nil {
		return nil, err
	}
	return order, nil
}

// FindResumableOrders returns the user's newest open orders created at or after since.
func (r *Repository) FindResumableOrders(ctx context.Context, userID int64, since time.Time, limit int) ([]*d.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
	          WHERE user_id = $1 AND order_status IN ('pending', 'processing') AND created_at >= $2
	          ORDER BY created_at DESC
	          LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query resumable orders: %w", err)
	}
	defer rows.Close()

	var orders []*d.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	for _, order := range orders {
		if order.Items, err = orderItems(ctx, r.db, order.ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func orderItems(ctx context.Context, q querier, orderID uuid.UUID) ([]d.OrderItem, error) {
	query := `SELECT id, order_id, product_id, variation_id, seller_id, name, quantity, price, subtotal, download_url
	          FROM order_items WHERE order_id = $1 ORDER BY id`

	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []d.OrderItem
	for rows.Next() {
		var item d.OrderItem
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.VariationID,
			&item.SellerID,
			&item.Name,
			&item.Quantity,
			&item.Price,
			&item.Subtotal,
			&item.DownloadURL,
		); err != nil {
			return nil, fmt.Errorf("scan order item row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

// CreateOrder writes the order, its items, the billing address and the coupon redemption in one
// transaction. A clash on order_number comes back as ErrDuplicateOrderNumber so the caller can
// retry with a fresh number.
func (r *Repository) CreateOrder(ctx context.Context, draft *OrderDraft) error {
	o := draft.Order
	return r.withTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO orders (id, order_number, user_id, subtotal, discount, total, base_currency,
		                              paid_amount, paid_currency, fx_rate, payment_status, order_status,
		                              payment_provider, provider_reference, coupon_id, email, created_at, updated_at)
		          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())
		          RETURNING created_at, updated_at`

		err := tx.QueryRowContext(ctx, query,
			o.ID,
			o.OrderNumber,
			o.UserID,
			o.Subtotal,
			o.Discount,
			o.Total,
			o.BaseCurrency,
			o.PaidAmount,
			o.PaidCurrency,
			o.FxRate,
			d.PaymentStatusPending,
			d.OrderStatusPending,
			o.PaymentProvider,
			o.ProviderReference,
			o.CouponID,
			o.Email,
		).Scan(&o.CreatedAt, &o.UpdatedAt)
		if isUniqueViolation(err, "orders_order_number_key") {
			return ErrDuplicateOrderNumber
		}
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		o.PaymentStatus = d.PaymentStatusPending
		o.OrderStatus = d.OrderStatusPending

		for i := range o.Items {
			if err := insertOrderItem(ctx, tx, o.ID, &o.Items[i]); err != nil {
				return err
			}
		}
		if err := insertAddress(ctx, tx, o.ID, &draft.Address); err != nil {
			return err
		}
		if draft.Redemption != nil {
			return insertRedemption(ctx, tx, o.ID, draft.Redemption)
		}
		return nil
	})
}

func insertOrderItem(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, item *d.OrderItem) error {
	query := `INSERT INTO order_items (order_id, product_id, variation_id, seller_id, name, quantity, price, subtotal, download_url)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          RETURNING id`

	item.OrderID = orderID
	if err := tx.QueryRowContext(ctx, query,
		orderID,
		item.ProductID,
		item.VariationID,
		item.SellerID,
		item.Name,
		item.Quantity,
		item.Price,
		item.Subtotal,
		item.DownloadURL,
	).Scan(&item.ID); err != nil {
		return fmt.Errorf("insert order item: %w", err)
	}
	return nil
}

func insertAddress(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, a *d.MarketplaceAddress) error {
	query := `INSERT INTO marketplace_addresses (order_id, user_id, first_name, last_name, email, phone,
	                                             line1, line2, city, state, postal_code, country)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	          ON CONFLICT (order_id) DO UPDATE SET
	              first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name, email = EXCLUDED.email,
	              phone = EXCLUDED.phone, line1 = EXCLUDED.line1, line2 = EXCLUDED.line2, city = EXCLUDED.city,
	              state = EXCLUDED.state, postal_code = EXCLUDED.postal_code, country = EXCLUDED.country
	          RETURNING id`

	a.OrderID = orderID
	if err := tx.QueryRowContext(ctx, query,
		orderID,
		a.UserID,
		a.FirstName,
		a.LastName,
		a.Email,
		a.Phone,
		a.Line1,
		a.Line2,
		a.City,
		a.State,
		a.PostalCode,
		a.Country,
	).Scan(&a.ID); err != nil {
		return fmt.Errorf("upsert address: %w", err)
	}
	return nil
}

func insertRedemption(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, red *d.CouponRedemption) error {
	if red.ID == uuid.Nil {
		red.ID = uuid.New()
	}
	red.OrderID = orderID
	red.Status = d.RedemptionStatusPending

	query := `INSERT INTO coupon_redemptions (id, coupon_id, order_id, user_id, status, discount_total, expires_at, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	          RETURNING created_at`
	if err := tx.QueryRowContext(ctx, query,
		red.ID,
		red.CouponID,
		orderID,
		red.UserID,
		red.Status,
		red.DiscountTotal,
		red.ExpiresAt,
	).Scan(&red.CreatedAt); err != nil {
		return fmt.Errorf("insert coupon redemption: %w", err)
	}

	for i := range red.Items {
		item := &red.Items[i]
		if err := tx.QueryRowContext(ctx,
			`INSERT INTO coupon_redemption_items (redemption_id, product_id, variation_id, amount)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			red.ID, item.ProductID, item.VariationID, item.Amount,
		).Scan(&item.ID); err != nil {
			return fmt.Errorf("insert coupon redemption item: %w", err)
		}
	}
	return nil
}

type itemKey struct {
	productID   int64
	variationID int64
}

// ReuseOrder refreshes an open order for a new payment attempt. Item rows are synchronised in
// place and every unsettled coupon redemption is replaced; no new order row is written.
func (r *Repository) ReuseOrder(ctx context.Context, draft *OrderDraft) error {
	o := draft.Order
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var status d.OrderStatus
		err := tx.QueryRowContext(ctx,
			`SELECT order_status FROM orders WHERE id = $1 AND user_id = $2 FOR UPDATE`, o.ID, o.UserID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if !status.IsOpen() {
			return ErrOrderNotOpen
		}

		query := `UPDATE orders
		          SET subtotal = $2, discount = $3, total = $4, base_currency = $5, paid_amount = $6,
		              paid_currency = $7, fx_rate = $8, payment_provider = $9, provider_reference = $10,
		              coupon_id = $11, email = $12, order_status = 'pending', payment_status = 'pending',
		              updated_at = NOW()
		          WHERE id = $1
		          RETURNING updated_at`
		if err := tx.QueryRowContext(ctx, query,
			o.ID,
			o.Subtotal,
			o.Discount,
			o.Total,
			o.BaseCurrency,
			o.PaidAmount,
			o.PaidCurrency,
			o.FxRate,
			o.PaymentProvider,
			o.ProviderReference,
			o.CouponID,
			o.Email,
		).Scan(&o.UpdatedAt); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		o.OrderStatus = d.OrderStatusPending
		o.PaymentStatus = d.PaymentStatusPending

		if err := syncOrderItems(ctx, tx, o); err != nil {
			return err
		}
		if err := insertAddress(ctx, tx, o.ID, &draft.Address); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM coupon_redemptions WHERE order_id = $1 AND status <> 'successful'`, o.ID); err != nil {
			return fmt.Errorf("drop stale redemptions: %w", err)
		}
		if draft.Redemption != nil {
			return insertRedemption(ctx, tx, o.ID, draft.Redemption)
		}
		return nil
	})
}

func syncOrderItems(ctx context.Context, tx *sql.Tx, o *d.Order) error {
	existing, err := orderItems(ctx, tx, o.ID)
	if err != nil {
		return err
	}
	byKey := make(map[itemKey]d.OrderItem, len(existing))
	for _, item := range existing {
		byKey[itemKey{item.ProductID, item.VariationID}] = item
	}

	for i := range o.Items {
		item := &o.Items[i]
		key := itemKey{item.ProductID, item.VariationID}
		current, ok := byKey[key]
		if !ok {
			if err := insertOrderItem(ctx, tx, o.ID, item); err != nil {
				return err
			}
			continue
		}
		delete(byKey, key)
		item.ID = current.ID
		item.OrderID = o.ID
		if _, err := tx.ExecContext(ctx,
			`UPDATE order_items SET seller_id = $2, name = $3, quantity = $4, price = $5, subtotal = $6, download_url = $7
			 WHERE id = $1`,
			item.ID, item.SellerID, item.Name, item.Quantity, item.Price, item.Subtotal, item.DownloadURL); err != nil {
			return fmt.Errorf("update order item: %w", err)
		}
	}

	for _, stale := range byKey {
		if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE id = $1`, stale.ID); err != nil {
			return fmt.Errorf("delete order item: %w", err)
		}
	}
	return nil
}

func (r *Repository) MarkOrderProcessing(ctx context.Context, id uuid.UUID, reference string) error {
	query := `UPDATE orders
	          SET order_status = 'processing', provider_reference = COALESCE(NULLIF($2, ''), provider_reference), updated_at = NOW()
	          WHERE id = $1 AND order_status IN ('pending', 'processing')`

	res, err := r.db.ExecContext(ctx, query, id, reference)
	if err != nil {
		return fmt.Errorf("mark order processing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark order processing rows affected: %w", err)
	}
	if n == 0 {
		return ErrOrderNotOpen
	}
	return nil
}

// FailOrder closes an open order as failed and releases its pending redemption. Failing an order
// that already failed is a no-op; a settled order is never touched.
func (r *Repository) FailOrder(ctx context.Context, id uuid.UUID, reason string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var status d.OrderStatus
		err := tx.QueryRowContext(ctx, `SELECT order_status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		switch {
		case status == d.OrderStatusSuccessful:
			return ErrAlreadySettled
		case !d.CanTransitionTo(status, d.OrderStatusFailed):
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET order_status = 'failed', payment_status = 'failed', failure_reason = $2, updated_at = NOW()
			 WHERE id = $1`, id, reason); err != nil {
			return fmt.Errorf("fail order: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE coupon_redemptions SET status = 'failed', updated_at = NOW() WHERE order_id = $1 AND status = 'pending'`,
			id); err != nil {
			return fmt.Errorf("fail coupon redemption: %w", err)
		}
		return nil
	})
}
