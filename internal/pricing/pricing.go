package pricing

import (
	"time"

	d "github.com/fjod/go_market/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// EffectivePrice is what the buyer pays for one unit. A sale whose end date has passed reverts
// to the original price even when the catalog still lists the discounted one.
func EffectivePrice(p d.Product, now time.Time) decimal.Decimal {
	if !p.OriginalPrice.Valid || !p.OriginalPrice.Decimal.GreaterThan(p.Price) {
		return p.Price
	}
	if p.SaleEndDate != nil && p.SaleEndDate.Before(now) {
		return p.OriginalPrice.Decimal
	}
	return p.Price
}

func LineTotal(item d.CartItem, now time.Time) decimal.Decimal {
	return EffectivePrice(item.Product, now).Mul(decimal.NewFromInt(int64(item.Quantity))).Round(2)
}

func Subtotal(items []d.CartItem, now time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(LineTotal(item, now))
	}
	return total
}

// EligibleLines returns the indexes of items the coupon discounts and their combined value.
func EligibleLines(c *d.Coupon, items []d.CartItem, now time.Time) ([]int, decimal.Decimal) {
	var idx []int
	total := decimal.Zero
	for i, item := range items {
		if !c.Covers(item.Product) {
			continue
		}
		idx = append(idx, i)
		total = total.Add(LineTotal(item, now))
	}
	return idx, total
}

// CouponDiscount never exceeds the eligible subtotal nor the coupon's cap.
func CouponDiscount(c *d.Coupon, eligibleSubtotal decimal.Decimal) decimal.Decimal {
	if eligibleSubtotal.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	var discount decimal.Decimal
	switch c.DiscountType {
	case d.DiscountPercentage:
		discount = eligibleSubtotal.Mul(c.DiscountValue).Div(hundred)
	default:
		discount = c.DiscountValue
	}

	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(eligibleSubtotal) {
		discount = eligibleSubtotal
	}
	if c.MaxDiscountAmount.Valid && c.MaxDiscountAmount.Decimal.IsPositive() && discount.GreaterThan(c.MaxDiscountAmount.Decimal) {
		discount = c.MaxDiscountAmount.Decimal
	}
	return discount.Round(2)
}

// ValidateCoupon is the begin-time gate. An empty reason means the coupon may be applied.
func ValidateCoupon(c *d.Coupon, orderSubtotal, eligibleSubtotal decimal.Decimal, now time.Time) d.CouponNoticeReason {
	switch {
	case c == nil:
		return d.CouponNotFound
	case !c.IsActive:
		return d.CouponInactive
	case c.StartDate != nil && now.Before(*c.StartDate):
		return d.CouponNotStarted
	case c.EndDate != nil && now.After(*c.EndDate):
		return d.CouponExpired
	case c.UsageLimit != nil && *c.UsageLimit > 0 && c.UsageCount >= *c.UsageLimit:
		return d.CouponUsageLimitReached
	case c.MinOrderAmount.Valid && orderSubtotal.LessThan(c.MinOrderAmount.Decimal):
		return d.CouponBelowMinimum
	case !eligibleSubtotal.IsPositive():
		return d.CouponNotApplicable
	}
	return ""
}

// Quote is the priced view of a cart in the base currency.
type Quote struct {
	Subtotal     decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
	Coupon       *d.Coupon
	Allocations  []d.CouponRedemptionItem
	CouponNotice *d.CouponNotice
}

// PriceCart prices the items and applies the coupon when it passes the gate. A rejected coupon
// comes back as a notice; the caller owns detaching it from the cart.
func PriceCart(items []d.CartItem, coupon *d.Coupon, couponCode string, now time.Time) Quote {
	q := Quote{Subtotal: Subtotal(items, now), Discount: decimal.Zero}
	q.Total = q.Subtotal

	if coupon == nil && couponCode == "" {
		return q
	}

	code := couponCode
	if coupon != nil && code == "" {
		code = coupon.Code
	}

	var idx []int
	eligible := decimal.Zero
	if coupon != nil {
		idx, eligible = EligibleLines(coupon, items, now)
	}
	if reason := ValidateCoupon(coupon, q.Subtotal, eligible, now); reason != "" {
		q.CouponNotice = &d.CouponNotice{Code: code, Reason: reason}
		return q
	}

	q.Coupon = coupon
	q.Discount = CouponDiscount(coupon, eligible)
	q.Total = q.Subtotal.Sub(q.Discount)

	weights := make([]decimal.Decimal, len(idx))
	for i, j := range idx {
		weights[i] = LineTotal(items[j], now)
	}
	shares := Allocate(q.Discount, weights)
	for i, j := range idx {
		q.Allocations = append(q.Allocations, d.CouponRedemptionItem{
			ProductID:   items[j].ProductID,
			VariationID: items[j].VariationID,
			Amount:      shares[i],
		})
	}
	return q
}
