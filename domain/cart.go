package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProductStatus string

const (
	ProductStatusDraft     ProductStatus = "draft"
	ProductStatusPublished ProductStatus = "published"
	ProductStatusArchived  ProductStatus = "archived"
)

type KycStatus string

const (
	KycApproved KycStatus = "approved"
	KycPending  KycStatus = "pending"
	KycRejected KycStatus = "rejected"
	KycExempt   KycStatus = "exempt"
)

type Seller struct {
	ID         int64
	Name       string
	KycStatus  KycStatus
	IsMerchant bool
	IsStaff    bool
}

// CanSell reports whether buyers other than the seller may check out the seller's products.
func (s Seller) CanSell() bool {
	return s.KycStatus == KycApproved || s.KycStatus == KycExempt || s.IsMerchant || s.IsStaff
}

type Product struct {
	ID            int64
	SellerID      int64
	CategoryID    int64
	Name          string
	Price         decimal.Decimal
	OriginalPrice decimal.NullDecimal
	SaleEndDate   *time.Time
	Stock         *int64 // nil means unlimited
	InStock       bool
	Status        ProductStatus
	DownloadURL   string
	Seller        Seller
}

// HasStockFor reports whether qty units can be sold right now.
func (p Product) HasStockFor(qty int) bool {
	if !p.InStock {
		return false
	}
	if p.Stock == nil {
		return true
	}
	return *p.Stock >= int64(qty)
}

type CartItem struct {
	ID          int64
	CartID      int64
	ProductID   int64
	VariationID int64
	Quantity    int
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal
	Product     Product
}

type Cart struct {
	ID         int64
	UserID     int64
	Active     bool
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	Total      decimal.Decimal
	CouponID   *int64
	CouponCode string
	Items      []CartItem
	UpdatedAt  time.Time
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// Signature fingerprints the cart contents, see CartSignature.
func (c *Cart) Signature() string {
	lines := make([]SignatureLine, 0, len(c.Items))
	for _, item := range c.Items {
		lines = append(lines, SignatureLine{
			ProductID:   item.ProductID,
			VariationID: item.VariationID,
			Quantity:    item.Quantity,
		})
	}
	return CartSignature(lines)
}
