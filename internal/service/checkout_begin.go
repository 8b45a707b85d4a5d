package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	d "github.com/fjod/go_market/domain"
	"github.com/fjod/go_market/internal/currency"
	"github.com/fjod/go_market/internal/payment"
	"github.com/fjod/go_market/internal/pricing"
	r "github.com/fjod/go_market/internal/repository"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const orderNumberAttempts = 3

// Begin turns the user's active cart into a pending order ready to be charged, or resumes the
// order a previous attempt left behind. Every expected failure comes back as *d.BeginRejected;
// the error is reserved for storage failures that leave nothing to tell the buyer.
func (s *CheckoutServiceImpl) Begin(ctx context.Context, req *d.BeginRequest) (d.BeginOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.begin", trace.WithAttributes(attribute.Int64("user_id", req.UserID)))
	defer span.End()
	start := s.now()

	out, err := s.begin(ctx, req)
	outcome := "error"
	switch o := out.(type) {
	case *d.BeginAccepted:
		outcome = "accepted"
		if o.AlreadyPaid {
			outcome = "already_paid"
		}
		span.SetAttributes(attribute.String("order_id", o.OrderID.String()))
	case *d.BeginRejected:
		outcome = o.Reason
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	s.metrics.BeginOutcome(outcome)
	s.metrics.ObserveStage("begin", s.now().Sub(start))
	if err != nil {
		span.RecordError(err)
		s.logger.ErrorContext(ctx, "begin checkout failed", "user_id", req.UserID, "error", err)
	}
	return out, err
}

func (s *CheckoutServiceImpl) begin(ctx context.Context, req *d.BeginRequest) (d.BeginOutcome, error) {
	if errs := validateBuyer(req.Buyer); len(errs) > 0 {
		return &d.BeginRejected{
			Kind:    d.KindValidation,
			Reason:  d.ReasonInvalidFields,
			Message: "Please correct the highlighted fields.",
			Errors:  errs,
		}, nil
	}
	buyer := normalizeBuyer(req.Buyer)
	now := s.now()

	var supplied *d.Order
	if req.ExistingOrderID != nil {
		o, err := s.repo.GetOrderForUser(ctx, *req.ExistingOrderID, req.UserID)
		switch {
		case errors.Is(err, r.ErrOrderNotFound):
			s.logger.InfoContext(ctx, "supplied order not found, ignoring", "order_id", req.ExistingOrderID.String())
		case err != nil:
			return nil, fmt.Errorf("load supplied order: %w", err)
		default:
			supplied = o
		}
	}

	cart, err := s.repo.GetActiveCart(ctx, req.UserID)
	if err != nil && !errors.Is(err, r.ErrCartNotFound) {
		return nil, fmt.Errorf("load cart: %w", err)
	}

	// A double submit after a slow response lands here with the cart already cleared.
	if supplied != nil && supplied.IsSettled() && (cart.IsEmpty() || cart.Signature() == supplied.Signature()) {
		return s.receipt(supplied, buyer), nil
	}

	if cart.IsEmpty() {
		return &d.BeginRejected{
			Kind:    d.KindAvailability,
			Reason:  d.ReasonEmptyCart,
			Message: "Your cart is empty.",
		}, nil
	}

	rejected, err := s.validateCart(ctx, req.UserID, cart)
	if err != nil {
		return nil, err
	}
	if rejected != nil {
		return rejected, nil
	}

	quote, err := s.priceCart(ctx, cart, now)
	if err != nil {
		return nil, err
	}

	provider := s.providers.Resolve(ctx)
	res := s.currency.Resolve(ctx, quote.Total, req.ViewerCountry, provider)
	if err := payment.CheckCharge(provider, res.PaidCurrency, res.PaidAmount); err != nil {
		return chargeRejection(err, quote.CouponNotice), nil
	}

	recent, err := s.repo.FindResumableOrders(ctx, req.UserID, now.Add(-s.opts.ResumeWindow), s.opts.ResumeCandidates)
	if err != nil {
		return nil, fmt.Errorf("find resumable orders: %w", err)
	}

	signature := cart.Signature()
	decision := decideResume(signature, supplied, recent)
	if decision.stale != nil {
		s.logger.InfoContext(ctx, "supplied order no longer matches cart, starting a new order",
			"kind", d.KindIdempotencyConflict, "stale_order_id", decision.stale.ID.String())
	}

	draft := s.buildDraft(req.UserID, buyer, cart, quote, res, provider, now)

	var order *d.Order
	switch decision.action {
	case resumeSettled:
		return s.receipt(decision.order, buyer), nil
	case resumeReuse:
		order, err = s.reuseOrder(ctx, decision.order, draft, provider)
		if errors.Is(err, r.ErrOrderNotOpen) {
			s.logger.InfoContext(ctx, "resumable order closed concurrently, creating a new one",
				"order_id", decision.order.ID.String())
			order, err = s.createOrder(ctx, draft, provider)
			decision.action = resumeCreate
		}
	default:
		order, err = s.createOrder(ctx, draft, provider)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "could not persist order", "action", decision.action.String(), "error", err)
		return &d.BeginRejected{
			Kind:         d.KindTransient,
			Reason:       d.ReasonCheckoutFailed,
			Message:      "We could not start your checkout. Please try again.",
			CouponNotice: quote.CouponNotice,
		}, nil
	}

	s.logger.InfoContext(ctx, "checkout begun",
		"order_id", order.ID.String(),
		"order_number", order.OrderNumber,
		"action", decision.action.String(),
		"provider", provider.Name(),
		"currency", order.PaidCurrency,
	)

	return &d.BeginAccepted{
		PublicKey:         provider.PublicKey(),
		PaymentProvider:   provider.Name(),
		ProviderReference: order.ProviderReference,
		OrderID:           order.ID,
		OrderNumber:       order.OrderNumber,
		Amount:            order.PaidAmount,
		Currency:          order.PaidCurrency,
		BaseAmount:        order.Total,
		BaseCurrency:      order.BaseCurrency,
		FxRate:            order.FxRate,
		ViewerCurrency:    res.ViewerCurrency,
		Customer:          buyer,
		CouponNotice:      quote.CouponNotice,
		Resumed:           decision.action == resumeReuse,
	}, nil
}

// priceCart applies the coupon gate and writes refreshed prices back to the cart. A coupon that
// fails the gate is detached; the notice is only surfaced by the request that detached it.
func (s *CheckoutServiceImpl) priceCart(ctx context.Context, cart *d.Cart, now time.Time) (pricing.Quote, error) {
	var coupon *d.Coupon
	if cart.CouponID != nil {
		c, err := s.repo.GetCoupon(ctx, *cart.CouponID)
		if err != nil && !errors.Is(err, r.ErrCouponNotFound) {
			return pricing.Quote{}, fmt.Errorf("load coupon: %w", err)
		}
		coupon = c
	}

	quote := pricing.PriceCart(cart.Items, coupon, cart.CouponCode, now)
	if quote.CouponNotice != nil {
		detached, err := s.repo.DetachCoupon(ctx, cart.ID)
		if err != nil {
			return pricing.Quote{}, fmt.Errorf("detach coupon: %w", err)
		}
		s.logger.InfoContext(ctx, "coupon detached from cart",
			"kind", d.KindCoupon, "cart_id", cart.ID, "code", quote.CouponNotice.Code, "reason", quote.CouponNotice.Reason)
		if !detached {
			quote.CouponNotice = nil
		}
	}

	var lines []r.PricedLine
	for _, item := range cart.Items {
		unit := pricing.EffectivePrice(item.Product, now)
		line := pricing.LineTotal(item, now)
		if !unit.Equal(item.UnitPrice) || !line.Equal(item.Subtotal) {
			lines = append(lines, r.PricedLine{ItemID: item.ID, UnitPrice: unit, Subtotal: line})
		}
	}
	changed := !quote.Subtotal.Equal(cart.Subtotal) || !quote.Discount.Equal(cart.Discount) || !quote.Total.Equal(cart.Total)
	if len(lines) > 0 || changed {
		totals := r.CartTotals{Subtotal: quote.Subtotal, Discount: quote.Discount, Total: quote.Total}
		if err := s.repo.RefreshCartPrices(ctx, cart.ID, lines, totals); err != nil {
			s.logger.WarnContext(ctx, "refresh cart prices failed", "cart_id", cart.ID, "error", err)
		}
	}
	return quote, nil
}

func chargeRejection(err error, notice *d.CouponNotice) *d.BeginRejected {
	if errors.Is(err, payment.ErrCurrencyNotSupported) {
		return &d.BeginRejected{
			Kind:         d.KindProvider,
			Reason:       d.ReasonCurrencyNotSupported,
			Message:      "This payment method does not support your currency.",
			CouponNotice: notice,
		}
	}
	return &d.BeginRejected{
		Kind:         d.KindValidation,
		Reason:       d.ReasonInvalidAmount,
		Message:      "The order total must be greater than zero.",
		CouponNotice: notice,
	}
}

func (s *CheckoutServiceImpl) buildDraft(
	userID int64,
	buyer d.BuyerFields,
	cart *d.Cart,
	quote pricing.Quote,
	res currency.Resolution,
	provider payment.Provider,
	now time.Time,
) *r.OrderDraft {
	order := &d.Order{
		UserID:          userID,
		Subtotal:        quote.Subtotal,
		Discount:        quote.Discount,
		Total:           quote.Total,
		BaseCurrency:    res.BaseCurrency,
		PaidAmount:      res.PaidAmount,
		PaidCurrency:    res.PaidCurrency,
		FxRate:          res.FxRate,
		PaymentProvider: provider.Name(),
		Email:           buyer.Email,
	}
	for _, item := range cart.Items {
		order.Items = append(order.Items, d.OrderItem{
			ProductID:   item.ProductID,
			VariationID: item.VariationID,
			SellerID:    item.Product.SellerID,
			Name:        item.Product.Name,
			Quantity:    item.Quantity,
			Price:       pricing.EffectivePrice(item.Product, now),
			Subtotal:    pricing.LineTotal(item, now),
			DownloadURL: item.Product.DownloadURL,
		})
	}

	draft := &r.OrderDraft{
		Order: order,
		Address: d.MarketplaceAddress{
			UserID:     userID,
			FirstName:  buyer.FirstName,
			LastName:   buyer.LastName,
			Email:      buyer.Email,
			Phone:      buyer.Phone,
			Line1:      buyer.Line1,
			Line2:      buyer.Line2,
			City:       buyer.City,
			State:      buyer.State,
			PostalCode: buyer.PostalCode,
			Country:    buyer.Country,
		},
	}
	if quote.Coupon != nil && quote.Discount.IsPositive() {
		couponID := quote.Coupon.ID
		order.CouponID = &couponID
		draft.Redemption = &d.CouponRedemption{
			CouponID:      couponID,
			UserID:        userID,
			DiscountTotal: quote.Discount,
			ExpiresAt:     now.Add(s.opts.RedemptionTTL),
			Items:         quote.Allocations,
		}
	}
	return draft
}

func (s *CheckoutServiceImpl) createOrder(ctx context.Context, draft *r.OrderDraft, provider payment.Provider) (*d.Order, error) {
	for attempt := 1; attempt <= orderNumberAttempts; attempt++ {
		number, err := d.NewOrderNumber(s.now())
		if err != nil {
			return nil, err
		}
		draft.Order.ID = uuid.New()
		draft.Order.OrderNumber = number

		initiation, err := provider.Initiate(ctx, draft.Order)
		if err != nil {
			return nil, fmt.Errorf("initiate payment: %w", err)
		}
		draft.Order.ProviderReference = initiation.Reference
		if draft.Redemption != nil {
			draft.Redemption.ID = uuid.Nil
		}

		err = s.repo.CreateOrder(ctx, draft)
		if errors.Is(err, r.ErrDuplicateOrderNumber) {
			s.logger.WarnContext(ctx, "order number collision, retrying", "order_number", number, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		return draft.Order, nil
	}
	return nil, ErrOrderNumberExhausted
}

// reuseOrder keeps the existing id and number; totals, currency and the provider reference are
// refreshed for the new attempt.
func (s *CheckoutServiceImpl) reuseOrder(ctx context.Context, existing *d.Order, draft *r.OrderDraft, provider payment.Provider) (*d.Order, error) {
	draft.Order.ID = existing.ID
	draft.Order.OrderNumber = existing.OrderNumber
	draft.Order.CreatedAt = existing.CreatedAt

	initiation, err := provider.Initiate(ctx, draft.Order)
	if err != nil {
		return nil, fmt.Errorf("initiate payment: %w", err)
	}
	draft.Order.ProviderReference = initiation.Reference

	if err := s.repo.ReuseOrder(ctx, draft); err != nil {
		return nil, err
	}
	return draft.Order, nil
}

// receipt answers a begin call for an order that is already paid. No charge is opened.
func (s *CheckoutServiceImpl) receipt(o *d.Order, buyer d.BuyerFields) *d.BeginAccepted {
	return &d.BeginAccepted{
		PaymentProvider:   o.PaymentProvider,
		ProviderReference: o.ProviderReference,
		OrderID:           o.ID,
		OrderNumber:       o.OrderNumber,
		Amount:            o.PaidAmount,
		Currency:          o.PaidCurrency,
		BaseAmount:        o.Total,
		BaseCurrency:      o.BaseCurrency,
		FxRate:            o.FxRate,
		Customer:          buyer,
		AlreadyPaid:       true,
	}
}
