package checkoutflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrUnexpectedResponse = errors.New("unexpected checkout api response")

type Buyer struct {
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"address_line1"`
	Line2      string `json:"address_line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
}

type BeginInput struct {
	Buyer
	ExistingOrderID string `json:"existing_order_id,omitempty"`
}

type CouponNotice struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// BeginResult holds both answers of the begin endpoint. Success tells them apart.
type BeginResult struct {
	Success           bool            `json:"success"`
	PublicKey         string          `json:"public_key"`
	PaymentProvider   string          `json:"payment_provider"`
	ProviderReference string          `json:"provider_reference"`
	OrderID           string          `json:"order_id"`
	OrderNumber       string          `json:"order_number"`
	Amount            decimal.Decimal `json:"amount"`
	AmountMinor       int64           `json:"amount_minor"`
	Currency          string          `json:"currency"`
	BaseAmount        decimal.Decimal `json:"base_amount"`
	BaseCurrency      string          `json:"base_currency"`
	FxRate            decimal.Decimal `json:"fx_rate"`
	ViewerCurrency    string          `json:"viewer_currency"`
	Customer          Buyer           `json:"customer"`
	CouponNotice      *CouponNotice   `json:"coupon_notice"`
	AlreadyPaid       bool            `json:"already_paid"`
	Resumed           bool            `json:"resumed"`

	Kind         string            `json:"kind"`
	Reason       string            `json:"reason"`
	Message      string            `json:"message"`
	Errors       map[string]string `json:"errors"`
	RemovedItems []string          `json:"removed_items"`
}

type FinalizeInput struct {
	OrderID   string          `json:"order_id"`
	Status    string          `json:"status"`
	Reference string          `json:"reference,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Email     string          `json:"email,omitempty"`
}

type FinalizeResult struct {
	Success     bool   `json:"success"`
	Settled     bool   `json:"settled"`
	OrderNumber string `json:"order_number"`
	Message     string `json:"message"`
	Kind        string `json:"kind"`
	Reason      string `json:"reason"`
}

// API is the server side of the protocol.
type API interface {
	Begin(ctx context.Context, in BeginInput) (*BeginResult, error)
	Finalize(ctx context.Context, in FinalizeInput) (*FinalizeResult, error)
}

// Client talks to the checkout service over HTTP. Token returns the buyer's bearer token.
type Client struct {
	baseURL string
	token   func() string
	http    *http.Client
}

func NewClient(baseURL string, token func() string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

func (c *Client) Begin(ctx context.Context, in BeginInput) (*BeginResult, error) {
	var out BeginResult
	if err := c.post(ctx, "/api/v1/checkout/begin", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Finalize(ctx context.Context, in FinalizeInput) (*FinalizeResult, error) {
	var out FinalizeResult
	if err := c.post(ctx, "/api/v1/checkout/finalize", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// post decodes any body that carries a success flag into out, whatever the status code. Other
// responses (auth, rate limit, proxies) come back as errors.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	var probe struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Success == nil {
		return fmt.Errorf("%w: %s returned %d", ErrUnexpectedResponse, path, resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
