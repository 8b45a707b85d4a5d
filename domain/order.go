package domain

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderItem struct {
	ID          int64
	OrderID     uuid.UUID
	ProductID   int64
	VariationID int64
	SellerID    int64
	Name        string
	Quantity    int
	Price       decimal.Decimal
	Subtotal    decimal.Decimal
	DownloadURL string
}

type Order struct {
	ID                uuid.UUID
	OrderNumber       string
	UserID            int64
	Subtotal          decimal.Decimal
	Discount          decimal.Decimal
	Total             decimal.Decimal
	BaseCurrency      string
	PaidAmount        decimal.Decimal
	PaidCurrency      string
	FxRate            decimal.Decimal
	PaymentStatus     PaymentStatus
	OrderStatus       OrderStatus
	PaymentProvider   string
	ProviderReference string
	CouponID          *int64
	Email             string
	FailureReason     string
	Items             []OrderItem
	CreatedAt         time.Time
	UpdatedAt         time.Time
	SettledAt         *time.Time
}

func (o *Order) Signature() string {
	lines := make([]SignatureLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, SignatureLine{
			ProductID:   item.ProductID,
			VariationID: item.VariationID,
			Quantity:    item.Quantity,
		})
	}
	return CartSignature(lines)
}

func (o *Order) IsSettled() bool {
	return o.OrderStatus == OrderStatusSuccessful
}

// MarketplaceAddress is the billing snapshot taken for a single checkout attempt.
type MarketplaceAddress struct {
	ID         int64
	OrderID    uuid.UUID
	UserID     int64
	FirstName  string
	LastName   string
	Email      string
	Phone      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewOrderNumber returns ORD-<UTC yyyymmddhhmmss>-<6 random chars>. The timestamp part lets
// support staff read the creation time straight off a receipt.
func NewOrderNumber(now time.Time) (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	suffix := make([]byte, len(buf))
	for i, b := range buf {
		suffix[i] = crockford[int(b)%len(crockford)]
	}
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102150405"), suffix), nil
}

// OrderNumberTime decodes the creation time embedded in an order number.
func OrderNumberTime(orderNumber string) (time.Time, error) {
	if len(orderNumber) != len("ORD-20060102150405-XXXXXX") || orderNumber[:4] != "ORD-" || orderNumber[18] != '-' {
		return time.Time{}, fmt.Errorf("malformed order number %q", orderNumber)
	}
	return time.Parse("20060102150405", orderNumber[4:18])
}
