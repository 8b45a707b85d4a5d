package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	d "github.com/fjod/go_market/domain"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

func (r *Repository) GetActiveCart(ctx context.Context, userID int64) (*d.Cart, error) {
	query := `SELECT id, user_id, active, subtotal, discount, total, coupon_id, coupon_code, updated_at
	          FROM carts WHERE user_id = $1 AND active`

	var cart d.Cart
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.Active,
		&cart.Subtotal,
		&cart.Discount,
		&cart.Total,
		&cart.CouponID,
		&cart.CouponCode,
		&cart.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query active cart: %w", err)
	}

	items, err := r.cartItems(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	cart.Items = items
	return &cart, nil
}

func (r *Repository) cartItems(ctx context.Context, cartID int64) ([]d.CartItem, error) {
	query := `SELECT ci.id, ci.cart_id, ci.product_id, ci.variation_id, ci.quantity, ci.price, ci.subtotal,
	                 p.id, p.seller_id, p.category_id, p.name, p.price, p.original_price, p.sale_end_date,
	                 p.stock, p.in_stock, p.status, p.download_url,
	                 s.id, s.name, s.kyc_status, s.is_merchant, s.is_staff
	          FROM cart_items ci
	          JOIN products p ON p.id = ci.product_id
	          JOIN sellers s ON s.id = p.seller_id
	          WHERE ci.cart_id = $1
	          ORDER BY ci.id`

	rows, err := r.db.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	var items []d.CartItem
	for rows.Next() {
		var item d.CartItem
		p := &item.Product
		if err := rows.Scan(
			&item.ID,
			&item.CartID,
			&item.ProductID,
			&item.VariationID,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&p.ID,
			&p.SellerID,
			&p.CategoryID,
			&p.Name,
			&p.Price,
			&p.OriginalPrice,
			&p.SaleEndDate,
			&p.Stock,
			&p.InStock,
			&p.Status,
			&p.DownloadURL,
			&p.Seller.ID,
			&p.Seller.Name,
			&p.Seller.KycStatus,
			&p.Seller.IsMerchant,
			&p.Seller.IsStaff,
		); err != nil {
			return nil, fmt.Errorf("scan cart item row: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

// RemoveCartItems deletes the given items and recomputes the cart totals from what is left.
func (r *Repository) RemoveCartItems(ctx context.Context, cartID int64, itemIDs []int64) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT id FROM carts WHERE id = $1 FOR UPDATE`, cartID); err != nil {
			return fmt.Errorf("lock cart: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cart_items WHERE cart_id = $1 AND id = ANY($2)`, cartID, pq.Array(itemIDs)); err != nil {
			return fmt.Errorf("delete cart items: %w", err)
		}
		return recomputeCartTotals(ctx, tx, cartID)
	})
}

func recomputeCartTotals(ctx context.Context, q querier, cartID int64) error {
	query := `UPDATE carts c
	          SET subtotal = s.sum, total = GREATEST(s.sum - c.discount, 0), updated_at = NOW()
	          FROM (SELECT COALESCE(SUM(subtotal), 0) AS sum FROM cart_items WHERE cart_id = $1) s
	          WHERE c.id = $1`
	if _, err := q.ExecContext(ctx, query, cartID); err != nil {
		return fmt.Errorf("recompute cart totals: %w", err)
	}
	return nil
}

// RefreshCartPrices overwrites stale per-item price snapshots and the cart totals.
func (r *Repository) RefreshCartPrices(ctx context.Context, cartID int64, lines []PricedLine, totals CartTotals) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, line := range lines {
			if _, err := tx.ExecContext(ctx,
				`UPDATE cart_items SET price = $1, subtotal = $2 WHERE id = $3 AND cart_id = $4`,
				line.UnitPrice, line.Subtotal, line.ItemID, cartID); err != nil {
				return fmt.Errorf("refresh cart item %d: %w", line.ItemID, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE carts SET subtotal = $1, discount = $2, total = $3, updated_at = NOW() WHERE id = $4`,
			totals.Subtotal, totals.Discount, totals.Total, cartID); err != nil {
			return fmt.Errorf("refresh cart totals: %w", err)
		}
		return nil
	})
}

// DetachCoupon clears the cart's coupon and zeroes its discount. It reports false when another
// request already detached it.
func (r *Repository) DetachCoupon(ctx context.Context, cartID int64) (bool, error) {
	query := `UPDATE carts
	          SET coupon_id = NULL, coupon_code = '', discount = 0, total = subtotal, updated_at = NOW()
	          WHERE id = $1 AND (coupon_id IS NOT NULL OR coupon_code <> '' OR discount <> 0)`

	res, err := r.db.ExecContext(ctx, query, cartID)
	if err != nil {
		return false, fmt.Errorf("detach coupon: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("detach coupon rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *Repository) GetCoupon(ctx context.Context, id int64) (*d.Coupon, error) {
	query := `SELECT id, code, discount_type, discount_value, max_discount_amount, min_order_amount,
	                 applies_to, applies_to_ids, usage_limit, usage_count, start_date, end_date, is_active
	          FROM coupons WHERE id = $1`

	var c d.Coupon
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.Code,
		&c.DiscountType,
		&c.DiscountValue,
		&c.MaxDiscountAmount,
		&c.MinOrderAmount,
		&c.AppliesTo,
		pq.Array(&c.AppliesToIDs),
		&c.UsageLimit,
		&c.UsageCount,
		&c.StartDate,
		&c.EndDate,
		&c.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query coupon: %w", err)
	}
	return &c, nil
}

// clearCart empties the user's active cart inside a settlement transaction.
func clearCart(ctx context.Context, tx *sql.Tx, userID int64) error {
	var cartID int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM carts WHERE user_id = $1 AND active FOR UPDATE`, userID).Scan(&cartID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock cart: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("clear cart items: %w", err)
	}
	zero := decimal.Zero
	if _, err := tx.ExecContext(ctx,
		`UPDATE carts SET subtotal = $1, discount = $1, total = $1, coupon_id = NULL, coupon_code = '', updated_at = NOW()
		 WHERE id = $2`, zero, cartID); err != nil {
		return fmt.Errorf("reset cart: %w", err)
	}
	return nil
}
