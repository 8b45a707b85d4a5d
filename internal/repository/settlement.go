package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	d "github.com/fjod/go_market/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const EventOrderSettled = "order.settled"

// OrderSettledEvent is the outbox payload written when an order settles.
type OrderSettledEvent struct {
	OrderID      uuid.UUID          `json:"order_id"`
	OrderNumber  string             `json:"order_number"`
	UserID       int64              `json:"user_id"`
	Total        decimal.Decimal    `json:"total"`
	BaseCurrency string             `json:"base_currency"`
	PaidAmount   decimal.Decimal    `json:"paid_amount"`
	PaidCurrency string             `json:"paid_currency"`
	Provider     string             `json:"payment_provider"`
	Reference    string             `json:"provider_reference"`
	Items        []SettledEventItem `json:"items"`
	SettledAt    time.Time          `json:"settled_at"`
}

type SettledEventItem struct {
	ProductID   int64           `json:"product_id"`
	VariationID int64           `json:"variation_id"`
	SellerID    int64           `json:"seller_id"`
	Quantity    int             `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// SettleOrder applies every side effect of a confirmed payment in one transaction: product stock
// is decremented under row locks, the buyer's cart is cleared, the coupon redemption is finalised
// and an order.settled event is queued. Products are locked in id order so concurrent settlements
// cannot deadlock.
func (r *Repository) SettleOrder(ctx context.Context, id uuid.UUID, reference string) (*d.Order, error) {
	var settled *d.Order
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		order, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if order.OrderStatus == d.OrderStatusSuccessful {
			return ErrAlreadySettled
		}
		if !d.CanTransitionTo(order.OrderStatus, d.OrderStatusSuccessful) {
			return ErrOrderNotOpen
		}
		if order.Items, err = orderItems(ctx, tx, id); err != nil {
			return err
		}

		if err := decrementStock(ctx, tx, order.Items); err != nil {
			return err
		}
		if err := clearCart(ctx, tx, order.UserID); err != nil {
			return err
		}
		if err := finalizeRedemption(ctx, tx, id); err != nil {
			return err
		}

		if reference == "" {
			reference = order.ProviderReference
		}
		if err := tx.QueryRowContext(ctx,
			`UPDATE orders
			 SET order_status = 'successful', payment_status = 'successful', provider_reference = $2,
			     failure_reason = '', settled_at = NOW(), updated_at = NOW()
			 WHERE id = $1
			 RETURNING settled_at, updated_at`, id, reference).Scan(&order.SettledAt, &order.UpdatedAt); err != nil {
			return fmt.Errorf("settle order: %w", err)
		}
		order.OrderStatus = d.OrderStatusSuccessful
		order.PaymentStatus = d.PaymentStatusSuccessful
		order.ProviderReference = reference

		if err := insertSettledEvent(ctx, tx, order); err != nil {
			return err
		}
		settled = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

func decrementStock(ctx context.Context, tx *sql.Tx, items []d.OrderItem) error {
	wanted := make(map[int64]int64, len(items))
	for _, item := range items {
		wanted[item.ProductID] += int64(item.Quantity)
	}
	ids := make([]int64, 0, len(wanted))
	for id := range wanted {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, productID := range ids {
		var stock *int64
		err := tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&stock)
		if err != nil {
			return fmt.Errorf("lock product %d: %w", productID, err)
		}
		if stock == nil {
			continue
		}
		qty := wanted[productID]
		if *stock < qty {
			return fmt.Errorf("%w: product %d has %d, order needs %d", ErrInsufficientStockAtSettlement, productID, *stock, qty)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE products SET stock = stock - $2, in_stock = (stock - $2) > 0, updated_at = NOW() WHERE id = $1`,
			productID, qty); err != nil {
			return fmt.Errorf("decrement stock for product %d: %w", productID, err)
		}
	}
	return nil
}

// finalizeRedemption marks the order's latest redemption successful and counts the coupon use.
// Only a redemption for the coupon the order was priced with counts; an order that carries no
// coupon never moves a usage count. A redemption that is already successful is left alone so the
// count moves once per order.
func finalizeRedemption(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) error {
	var (
		redemptionID uuid.UUID
		couponID     int64
		status       d.RedemptionStatus
	)
	err := tx.QueryRowContext(ctx,
		`SELECT cr.id, cr.coupon_id, cr.status
		 FROM coupon_redemptions cr
		 JOIN orders o ON o.id = cr.order_id AND o.coupon_id = cr.coupon_id
		 WHERE cr.order_id = $1
		 ORDER BY cr.created_at DESC LIMIT 1
		 FOR UPDATE OF cr`, orderID).Scan(&redemptionID, &couponID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock coupon redemption: %w", err)
	}
	if status == d.RedemptionStatusSuccessful {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE coupon_redemptions SET status = 'successful', updated_at = NOW() WHERE id = $1`, redemptionID); err != nil {
		return fmt.Errorf("finalize coupon redemption: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE coupons SET usage_count = usage_count + 1 WHERE id = $1`, couponID); err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	return nil
}

func insertSettledEvent(ctx context.Context, tx *sql.Tx, o *d.Order) error {
	event := OrderSettledEvent{
		OrderID:      o.ID,
		OrderNumber:  o.OrderNumber,
		UserID:       o.UserID,
		Total:        o.Total,
		BaseCurrency: o.BaseCurrency,
		PaidAmount:   o.PaidAmount,
		PaidCurrency: o.PaidCurrency,
		Provider:     o.PaymentProvider,
		Reference:    o.ProviderReference,
		Items:        make([]SettledEventItem, 0, len(o.Items)),
	}
	if o.SettledAt != nil {
		event.SettledAt = *o.SettledAt
	}
	for _, item := range o.Items {
		event.Items = append(event.Items, SettledEventItem{
			ProductID:   item.ProductID,
			VariationID: item.VariationID,
			SellerID:    item.SellerID,
			Quantity:    item.Quantity,
			Subtotal:    item.Subtotal,
		})
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal settled event: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at) VALUES ($1, $2, $3, NOW())`,
		o.ID, EventOrderSettled, payload); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}
