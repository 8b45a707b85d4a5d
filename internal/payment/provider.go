package payment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	d "github.com/fjod/go_market/domain"
	"github.com/fjod/go_market/internal/currency"
	"github.com/shopspring/decimal"
)

var (
	ErrCurrencyNotSupported = errors.New("currency not supported by payment provider")
	ErrInvalidAmount        = errors.New("charge amount must be positive")
	ErrUnknownProvider      = errors.New("unknown payment provider")
	// ErrVerificationMismatch means the provider reported a charge that does not match the order.
	ErrVerificationMismatch = errors.New("payment verification mismatch")
	ErrPaymentDeclined      = errors.New("payment declined by provider")
	// ErrProviderUnavailable covers network failures and 5xx answers; the attempt may be retried.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
)

type Kind string

const (
	// KindReference providers are confirmed by the server through a verify-by-reference call.
	KindReference Kind = "reference"
	// KindCallback providers are confirmed by the status carried in the client SDK callback.
	KindCallback Kind = "callback"
)

type Initiation struct {
	Reference string
	PublicKey string
}

type VerifyRequest struct {
	Order     *d.Order
	Reference string
	Payload   json.RawMessage
}

type Verification struct {
	Settled   bool
	Status    string
	Reference string
	Amount    decimal.Decimal
	Currency  string
}

type Provider interface {
	Name() string
	Kind() Kind
	PublicKey() string
	Supports(currency string) bool
	Initiate(ctx context.Context, order *d.Order) (Initiation, error)
	Verify(ctx context.Context, req VerifyRequest) (Verification, error)
}

// CheckCharge is the allowlist gate every charge passes before a widget is opened.
func CheckCharge(p Provider, code string, amount decimal.Decimal) error {
	if !p.Supports(code) {
		return ErrCurrencyNotSupported
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

type currencySet map[string]struct{}

func newCurrencySet(override, defaults []string) currencySet {
	src := override
	if len(src) == 0 {
		src = defaults
	}
	set := make(currencySet, len(src))
	for _, c := range src {
		set[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	return set
}

func (s currencySet) supports(code string) bool {
	_, ok := s[strings.ToUpper(code)]
	return ok
}

// MinorUnits converts an amount into the provider's integer representation.
func MinorUnits(amount decimal.Decimal, code string) int64 {
	return amount.Shift(currency.Decimals(code)).Round(0).IntPart()
}

// fromMinorUnits is the inverse of MinorUnits.
func fromMinorUnits(amount int64, code string) decimal.Decimal {
	return decimal.New(amount, -currency.Decimals(code))
}
