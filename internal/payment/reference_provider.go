package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	d "github.com/fjod/go_market/domain"
	"github.com/fjod/go_market/pkg/circuitbreaker"
)

const ReferenceProviderName = "reference"

var defaultReferenceCurrencies = []string{"NGN", "USD", "GHS", "ZAR", "KES"}

type ReferenceConfig struct {
	PublicKey  string
	SecretKey  string
	BaseURL    string
	Currencies []string
	Timeout    time.Duration
}

// ReferenceProvider issues a reference when the order is created and later confirms the charge
// with the provider's verify-by-reference endpoint.
type ReferenceProvider struct {
	cfg        ReferenceConfig
	client     *http.Client
	currencies currencySet
	breaker    *circuitbreaker.Breaker[*verifyResponse]
	logger     *slog.Logger
	now        func() time.Time
}

func NewReferenceProvider(cfg ReferenceConfig, client *http.Client, logger *slog.Logger) *ReferenceProvider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ReferenceProvider{
		cfg:        cfg,
		client:     client,
		currencies: newCurrencySet(cfg.Currencies, defaultReferenceCurrencies),
		breaker: circuitbreaker.New[*verifyResponse](circuitbreaker.Settings{
			Name:   "reference-provider-verify",
			Logger: logger,
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, ErrProviderUnavailable)
			},
		}),
		logger: logger,
		now:    time.Now,
	}
}

func (p *ReferenceProvider) Name() string      { return ReferenceProviderName }
func (p *ReferenceProvider) Kind() Kind        { return KindReference }
func (p *ReferenceProvider) PublicKey() string { return p.cfg.PublicKey }

func (p *ReferenceProvider) Supports(currency string) bool {
	return p.currencies.supports(currency)
}

func (p *ReferenceProvider) Initiate(_ context.Context, order *d.Order) (Initiation, error) {
	if order.OrderNumber == "" {
		return Initiation{}, errors.New("order number is required to build a reference")
	}
	return Initiation{
		Reference: fmt.Sprintf("%s-%d", order.OrderNumber, p.now().UnixMilli()),
		PublicKey: p.cfg.PublicKey,
	}, nil
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status    string `json:"status"`
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Metadata  struct {
			OrderID string `json:"order_id"`
		} `json:"metadata"`
	} `json:"data"`
}

// Verify compares the provider's record of the charge with the stored order. Any difference in
// amount, currency, reference or order id is a hard failure, never a partial success.
func (p *ReferenceProvider) Verify(ctx context.Context, req VerifyRequest) (Verification, error) {
	order := req.Order
	reference := req.Reference
	if reference == "" {
		reference = order.ProviderReference
	}
	if reference == "" {
		return Verification{}, fmt.Errorf("%w: missing reference", ErrVerificationMismatch)
	}

	body, err := p.breaker.Execute(func() (*verifyResponse, error) {
		return p.fetch(ctx, reference)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return Verification{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if err != nil {
		return Verification{}, err
	}

	v := Verification{
		Status:    strings.ToLower(body.Data.Status),
		Reference: body.Data.Reference,
		Amount:    fromMinorUnits(body.Data.Amount, body.Data.Currency),
		Currency:  strings.ToUpper(body.Data.Currency),
	}

	switch v.Status {
	case "success":
	case "failed", "abandoned", "reversed":
		return v, fmt.Errorf("%w: status %s", ErrPaymentDeclined, v.Status)
	default:
		// ongoing, pending, processing, queued
		return v, nil
	}

	if body.Data.Reference != reference {
		return v, fmt.Errorf("%w: reference %q, expected %q", ErrVerificationMismatch, body.Data.Reference, reference)
	}
	if body.Data.Metadata.OrderID != order.ID.String() {
		return v, fmt.Errorf("%w: order id %q, expected %q", ErrVerificationMismatch, body.Data.Metadata.OrderID, order.ID)
	}
	if v.Currency != strings.ToUpper(order.PaidCurrency) {
		return v, fmt.Errorf("%w: currency %s, expected %s", ErrVerificationMismatch, v.Currency, order.PaidCurrency)
	}
	if want := MinorUnits(order.PaidAmount, order.PaidCurrency); body.Data.Amount != want {
		return v, fmt.Errorf("%w: amount %d, expected %d", ErrVerificationMismatch, body.Data.Amount, want)
	}

	v.Settled = true
	return v, nil
}

func (p *ReferenceProvider) fetch(ctx context.Context, reference string) (*verifyResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/transaction/verify/%s", p.cfg.BaseURL, url.PathEscape(reference))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: verify returned %d", ErrProviderUnavailable, resp.StatusCode)
	}

	if resp.StatusCode == http.StatusNotFound {
		p.logger.WarnContext(ctx, "reference not known to provider", "reference", reference)
		return nil, fmt.Errorf("%w: reference %s not found", ErrPaymentDeclined, reference)
	}

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode verify response: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK || !body.Status {
		p.logger.WarnContext(ctx, "reference verification rejected",
			"reference", reference, "http_status", resp.StatusCode, "message", body.Message)
		return nil, fmt.Errorf("%w: %s", ErrPaymentDeclined, body.Message)
	}
	return &body, nil
}
