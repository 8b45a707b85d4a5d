package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	d "github.com/fjod/go_market/domain"
	"github.com/fjod/go_market/internal/currency"
	"github.com/fjod/go_market/internal/payment"
	r "github.com/fjod/go_market/internal/repository"
	"github.com/fjod/go_market/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CheckoutHandler struct {
	svc     service.CheckoutService
	timeout time.Duration
	logger  *slog.Logger
}

func NewCheckoutHandler(svc service.CheckoutService, timeout time.Duration, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		svc:     svc,
		timeout: timeout,
		logger:  logger,
	}
}

type BeginRequestDTO struct {
	d.BuyerFields
	ExistingOrderID string `json:"existing_order_id,omitempty"`
}

type BeginResponseDTO struct {
	Success           bool            `json:"success"`
	PublicKey         string          `json:"public_key,omitempty"`
	PaymentProvider   string          `json:"payment_provider,omitempty"`
	ProviderReference string          `json:"provider_reference,omitempty"`
	OrderID           string          `json:"order_id"`
	OrderNumber       string          `json:"order_number"`
	Amount            decimal.Decimal `json:"amount"`
	AmountMinor       int64           `json:"amount_minor"`
	Currency          string          `json:"currency"`
	BaseAmount        decimal.Decimal `json:"base_amount"`
	BaseCurrency      string          `json:"base_currency"`
	FxRate            decimal.Decimal `json:"fx_rate"`
	ViewerCurrency    string          `json:"viewer_currency,omitempty"`
	Customer          d.BuyerFields   `json:"customer"`
	CouponNotice      *d.CouponNotice `json:"coupon_notice,omitempty"`
	AlreadyPaid       bool            `json:"already_paid,omitempty"`
	Resumed           bool            `json:"resumed,omitempty"`
}

type FailureResponseDTO struct {
	Success      bool              `json:"success"`
	Kind         d.ErrorKind       `json:"kind"`
	Reason       string            `json:"reason"`
	Message      string            `json:"message"`
	OrderNumber  string            `json:"order_number,omitempty"`
	Errors       map[string]string `json:"errors,omitempty"`
	RemovedItems []string          `json:"removed_items,omitempty"`
	CouponNotice *d.CouponNotice   `json:"coupon_notice,omitempty"`
}

type FinalizeRequestDTO struct {
	OrderID   string          `json:"order_id"`
	Status    string          `json:"status"`
	Reference string          `json:"reference"`
	Payload   json.RawMessage `json:"payload"`
	Email     string          `json:"email,omitempty"`
}

type FinalizeResponseDTO struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	OrderNumber string `json:"order_number"`
	Settled     bool   `json:"settled"`
}

type OrderItemDTO struct {
	ProductID   int64           `json:"product_id"`
	Name        string          `json:"name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	DownloadURL string          `json:"download_url,omitempty"`
}

type OrderResponseDTO struct {
	ID            string          `json:"id"`
	OrderNumber   string          `json:"order_number"`
	OrderStatus   d.OrderStatus   `json:"order_status"`
	PaymentStatus d.PaymentStatus `json:"payment_status"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	BaseCurrency  string          `json:"base_currency"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	PaidCurrency  string          `json:"paid_currency"`
	Items         []OrderItemDTO  `json:"items"`
	CreatedAt     string          `json:"created_at"`
	SettledAt     string          `json:"settled_at,omitempty"`
}

// POST /api/v1/checkout/begin
func (h *CheckoutHandler) Begin(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(req.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var body BeginRequestDTO
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	in := &d.BeginRequest{
		UserID:        userID,
		Buyer:         body.BuyerFields,
		ViewerCountry: currency.CountryFromRequest(req),
	}
	if body.ExistingOrderID != "" {
		id, err := uuid.Parse(body.ExistingOrderID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_order_id", "existing_order_id must be a UUID")
			return
		}
		in.ExistingOrderID = &id
	}

	out, err := h.svc.Begin(ctx, in)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	switch o := out.(type) {
	case *d.BeginAccepted:
		respondJSON(w, http.StatusOK, BeginResponseDTO{
			Success:           true,
			PublicKey:         o.PublicKey,
			PaymentProvider:   o.PaymentProvider,
			ProviderReference: o.ProviderReference,
			OrderID:           o.OrderID.String(),
			OrderNumber:       o.OrderNumber,
			Amount:            o.Amount,
			AmountMinor:       payment.MinorUnits(o.Amount, o.Currency),
			Currency:          o.Currency,
			BaseAmount:        o.BaseAmount,
			BaseCurrency:      o.BaseCurrency,
			FxRate:            o.FxRate,
			ViewerCurrency:    o.ViewerCurrency,
			Customer:          o.Customer,
			CouponNotice:      o.CouponNotice,
			AlreadyPaid:       o.AlreadyPaid,
			Resumed:           o.Resumed,
		})
	case *d.BeginRejected:
		respondJSON(w, statusForFailure(o.Kind, o.Reason), FailureResponseDTO{
			Kind:         o.Kind,
			Reason:       o.Reason,
			Message:      o.Message,
			Errors:       o.Errors,
			RemovedItems: o.RemovedItems,
			CouponNotice: o.CouponNotice,
		})
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// POST /api/v1/checkout/finalize
func (h *CheckoutHandler) Finalize(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(req.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var body FinalizeRequestDTO
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	orderID, err := uuid.Parse(body.OrderID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return
	}
	status := d.FinalizeStatus(strings.ToLower(strings.TrimSpace(body.Status)))
	if status != d.FinalizeSuccess && status != d.FinalizeError {
		respondError(w, http.StatusBadRequest, "invalid_status", "status must be success or error")
		return
	}

	out, err := h.svc.Finalize(ctx, &d.FinalizeRequest{
		UserID:    userID,
		OrderID:   orderID,
		Status:    status,
		Reference: body.Reference,
		Payload:   body.Payload,
		Email:     body.Email,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	switch o := out.(type) {
	case *d.FinalizeSucceeded:
		respondJSON(w, http.StatusOK, FinalizeResponseDTO{
			Success:     true,
			Message:     o.Message,
			OrderNumber: o.OrderNumber,
			Settled:     o.Settled,
		})
	case *d.FinalizeFailed:
		respondJSON(w, statusForFailure(o.Kind, o.Reason), FailureResponseDTO{
			Kind:        o.Kind,
			Reason:      o.Reason,
			Message:     o.Message,
			OrderNumber: o.OrderNumber,
		})
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// GET /api/v1/orders/{order_id}
func (h *CheckoutHandler) GetOrder(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(req.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(req, "order_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return
	}

	order, err := h.svc.GetOrder(ctx, userID, orderID)
	if errors.Is(err, r.ErrOrderNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "order not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "get order failed", "order_id", orderID.String(), "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, toOrderDTO(order))
}

func toOrderDTO(o *d.Order) OrderResponseDTO {
	dto := OrderResponseDTO{
		ID:            o.ID.String(),
		OrderNumber:   o.OrderNumber,
		OrderStatus:   o.OrderStatus,
		PaymentStatus: o.PaymentStatus,
		Subtotal:      o.Subtotal,
		Discount:      o.Discount,
		Total:         o.Total,
		BaseCurrency:  o.BaseCurrency,
		PaidAmount:    o.PaidAmount,
		PaidCurrency:  o.PaidCurrency,
		Items:         make([]OrderItemDTO, 0, len(o.Items)),
		CreatedAt:     o.CreatedAt.UTC().Format(time.RFC3339),
	}
	if o.SettledAt != nil {
		dto.SettledAt = o.SettledAt.UTC().Format(time.RFC3339)
	}
	for _, item := range o.Items {
		it := OrderItemDTO{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Subtotal:  item.Subtotal,
		}
		// Download links are only handed out once the order is paid.
		if o.IsSettled() {
			it.DownloadURL = item.DownloadURL
		}
		dto.Items = append(dto.Items, it)
	}
	return dto
}

func statusForFailure(kind d.ErrorKind, reason string) int {
	if reason == d.ReasonOrderNotFound {
		return http.StatusNotFound
	}
	switch kind {
	case d.KindValidation:
		return http.StatusUnprocessableEntity
	case d.KindAvailability, d.KindCoupon, d.KindIdempotencyConflict, d.KindFatalConsistency:
		return http.StatusConflict
	case d.KindProvider:
		return http.StatusPaymentRequired
	case d.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
