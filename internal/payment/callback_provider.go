package payment

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	d "github.com/fjod/go_market/domain"
	"github.com/shopspring/decimal"
)

const CallbackProviderName = "callback"

var defaultCallbackCurrencies = []string{"USD", "EUR", "GBP", "NGN", "GHS", "KES", "ZAR", "CAD"}

var settledStatuses = map[string]bool{
	"successful": true,
	"completed":  true,
	"settled":    true,
}

type CallbackConfig struct {
	PublicKey  string
	Currencies []string
}

// CallbackProvider trusts the status carried in the client SDK callback. Anything other than a
// completed status leaves the order processing until a later confirmation.
type CallbackProvider struct {
	cfg        CallbackConfig
	currencies currencySet
}

func NewCallbackProvider(cfg CallbackConfig) *CallbackProvider {
	return &CallbackProvider{
		cfg:        cfg,
		currencies: newCurrencySet(cfg.Currencies, defaultCallbackCurrencies),
	}
}

func (p *CallbackProvider) Name() string      { return CallbackProviderName }
func (p *CallbackProvider) Kind() Kind        { return KindCallback }
func (p *CallbackProvider) PublicKey() string { return p.cfg.PublicKey }

func (p *CallbackProvider) Supports(currency string) bool {
	return p.currencies.supports(currency)
}

func (p *CallbackProvider) Initiate(_ context.Context, order *d.Order) (Initiation, error) {
	if order.OrderNumber == "" {
		return Initiation{}, errors.New("order number is required to build a reference")
	}
	suffix, err := randomSuffix(6)
	if err != nil {
		return Initiation{}, fmt.Errorf("generate reference suffix: %w", err)
	}
	return Initiation{
		Reference: fmt.Sprintf("tx-%s-%s", order.OrderNumber, suffix),
		PublicKey: p.cfg.PublicKey,
	}, nil
}

type callbackAmount struct {
	Amount   *decimal.Decimal `json:"amount"`
	Currency string           `json:"currency"`
}

type callbackPayload struct {
	Status string `json:"status"`
	callbackAmount
	TxRef string `json:"tx_ref"`
	Data  *struct {
		Status string `json:"status"`
		callbackAmount
	} `json:"data"`
	Transaction *struct {
		Status string `json:"status"`
		callbackAmount
	} `json:"transaction"`
}

func (c callbackPayload) status() string {
	switch {
	case c.Status != "":
		return c.Status
	case c.Data != nil && c.Data.Status != "":
		return c.Data.Status
	case c.Transaction != nil && c.Transaction.Status != "":
		return c.Transaction.Status
	}
	return ""
}

func (c callbackPayload) charge() callbackAmount {
	switch {
	case c.Amount != nil:
		return c.callbackAmount
	case c.Data != nil && c.Data.Amount != nil:
		return c.Data.callbackAmount
	case c.Transaction != nil && c.Transaction.Amount != nil:
		return c.Transaction.callbackAmount
	}
	return callbackAmount{}
}

// Verify reads the composite status from the payload. Amount and currency are only compared
// when the SDK reports them.
func (p *CallbackProvider) Verify(_ context.Context, req VerifyRequest) (Verification, error) {
	var payload callbackPayload
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return Verification{}, fmt.Errorf("%w: unreadable callback payload: %v", ErrVerificationMismatch, err)
		}
	}

	status := strings.ToLower(strings.TrimSpace(payload.status()))
	v := Verification{
		Status:    status,
		Reference: req.Reference,
		Amount:    req.Order.PaidAmount,
		Currency:  req.Order.PaidCurrency,
	}
	if payload.TxRef != "" {
		v.Reference = payload.TxRef
	}

	if status == "failed" || status == "cancelled" {
		return v, fmt.Errorf("%w: status %s", ErrPaymentDeclined, status)
	}

	charge := payload.charge()
	if charge.Currency != "" && !strings.EqualFold(charge.Currency, req.Order.PaidCurrency) {
		return v, fmt.Errorf("%w: currency %s, expected %s", ErrVerificationMismatch, charge.Currency, req.Order.PaidCurrency)
	}
	if charge.Amount != nil {
		got := MinorUnits(*charge.Amount, req.Order.PaidCurrency)
		if want := MinorUnits(req.Order.PaidAmount, req.Order.PaidCurrency); got != want {
			return v, fmt.Errorf("%w: amount %s, expected %s", ErrVerificationMismatch, charge.Amount, req.Order.PaidAmount)
		}
	}

	v.Settled = settledStatuses[status]
	return v, nil
}

const referenceAlphabet = "ABCDEFGHJKMNPQRSTVWXYZ0123456789"

func randomSuffix(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = referenceAlphabet[int(b)%len(referenceAlphabet)]
	}
	return string(buf), nil
}
