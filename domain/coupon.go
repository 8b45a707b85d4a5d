package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type AppliesTo string

const (
	AppliesToAll      AppliesTo = "all"
	AppliesToProduct  AppliesTo = "product"
	AppliesToCategory AppliesTo = "category"
)

type Coupon struct {
	ID                int64
	Code              string
	DiscountType      DiscountType
	DiscountValue     decimal.Decimal
	MaxDiscountAmount decimal.NullDecimal
	MinOrderAmount    decimal.NullDecimal
	AppliesTo         AppliesTo
	AppliesToIDs      []int64
	UsageLimit        *int64
	UsageCount        int64
	StartDate         *time.Time
	EndDate           *time.Time
	IsActive          bool
}

// Covers reports whether the coupon discounts the given product.
func (c *Coupon) Covers(p Product) bool {
	switch c.AppliesTo {
	case AppliesToProduct:
		return containsID(c.AppliesToIDs, p.ID)
	case AppliesToCategory:
		return containsID(c.AppliesToIDs, p.CategoryID)
	default:
		return true
	}
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// CouponNoticeReason tells the buyer why a coupon was taken off their cart.
type CouponNoticeReason string

const (
	CouponNotFound          CouponNoticeReason = "not_found"
	CouponInactive          CouponNoticeReason = "inactive"
	CouponNotStarted        CouponNoticeReason = "not_started"
	CouponExpired           CouponNoticeReason = "expired"
	CouponUsageLimitReached CouponNoticeReason = "usage_limit_reached"
	CouponBelowMinimum      CouponNoticeReason = "below_minimum"
	CouponNotApplicable     CouponNoticeReason = "not_applicable"
)

type CouponNotice struct {
	Code   string             `json:"code"`
	Reason CouponNoticeReason `json:"reason"`
}

type CouponRedemptionItem struct {
	ID          int64
	ProductID   int64
	VariationID int64
	Amount      decimal.Decimal
}

type CouponRedemption struct {
	ID            uuid.UUID
	CouponID      int64
	OrderID       uuid.UUID
	UserID        int64
	Status        RedemptionStatus
	DiscountTotal decimal.Decimal
	ExpiresAt     time.Time
	Items         []CouponRedemptionItem
	CreatedAt     time.Time
}
