package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	d "github.com/fjod/go_market/domain"
	"github.com/fjod/go_market/internal/archive"
	"github.com/fjod/go_market/internal/payment"
	r "github.com/fjod/go_market/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	msgSettled    = "Payment received. Your order is confirmed."
	msgProcessing = "Your payment is being processed. We will email you once it is confirmed."
)

// Finalize settles an order after the storefront reports the provider outcome. Duplicate calls
// for a settled order answer with the same receipt and touch nothing.
func (s *CheckoutServiceImpl) Finalize(ctx context.Context, req *d.FinalizeRequest) (d.FinalizeOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.finalize", trace.WithAttributes(
		attribute.Int64("user_id", req.UserID),
		attribute.String("order_id", req.OrderID.String()),
		attribute.String("status", string(req.Status)),
	))
	defer span.End()
	start := s.now()

	out, err := s.finalize(ctx, req)
	outcome := "error"
	switch o := out.(type) {
	case *d.FinalizeSucceeded:
		outcome = "processing"
		if o.Settled {
			outcome = "settled"
		}
	case *d.FinalizeFailed:
		outcome = o.Reason
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	s.metrics.FinalizeOutcome(outcome)
	s.metrics.ObserveStage("finalize", s.now().Sub(start))
	if err != nil {
		span.RecordError(err)
		s.logger.ErrorContext(ctx, "finalize checkout failed", "order_id", req.OrderID.String(), "error", err)
	}
	return out, err
}

func (s *CheckoutServiceImpl) finalize(ctx context.Context, req *d.FinalizeRequest) (d.FinalizeOutcome, error) {
	if req.Status != d.FinalizeSuccess && req.Status != d.FinalizeError {
		return &d.FinalizeFailed{
			Kind:    d.KindValidation,
			Reason:  d.ReasonInvalidFields,
			Message: "Unknown payment status.",
		}, nil
	}

	order, err := s.repo.GetOrderForUser(ctx, req.OrderID, req.UserID)
	if errors.Is(err, r.ErrOrderNotFound) {
		return &d.FinalizeFailed{
			Kind:    d.KindValidation,
			Reason:  d.ReasonOrderNotFound,
			Message: "We could not find this order.",
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}

	s.archivePayload(ctx, order, req)

	if order.IsSettled() {
		return &d.FinalizeSucceeded{OrderNumber: order.OrderNumber, Message: msgSettled, Settled: true}, nil
	}
	if order.OrderStatus == d.OrderStatusFailed {
		if req.Status == d.FinalizeError {
			return paymentFailed(order), nil
		}
		s.logger.WarnContext(ctx, "success reported for a closed order",
			"kind", d.KindFatalConsistency, "order_id", order.ID.String(), "failure_reason", order.FailureReason)
		return &d.FinalizeFailed{
			OrderNumber: order.OrderNumber,
			Kind:        d.KindFatalConsistency,
			Reason:      d.ReasonOrderClosed,
			Message:     "This order was closed before the payment was confirmed. Please contact support.",
		}, nil
	}

	if req.Status == d.FinalizeError {
		return s.failOrder(ctx, order, "payment_error", paymentFailed(order))
	}

	provider, err := s.providers.Get(order.PaymentProvider)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrUnknownOrderProvider, order.PaymentProvider, err)
	}

	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = order.ProviderReference
	}

	vctx, cancel := context.WithTimeout(ctx, s.opts.ProviderCallTimeout)
	verification, err := provider.Verify(vctx, payment.VerifyRequest{Order: order, Reference: reference, Payload: req.Payload})
	cancel()

	switch {
	case errors.Is(err, payment.ErrPaymentDeclined):
		s.metrics.ProviderVerify(provider.Name(), "declined")
		return s.failOrder(ctx, order, "declined", paymentFailed(order))
	case errors.Is(err, payment.ErrVerificationMismatch):
		s.metrics.ProviderVerify(provider.Name(), "mismatch")
		s.logger.WarnContext(ctx, "provider verification mismatch",
			"kind", d.KindProvider, "order_id", order.ID.String(), "provider", provider.Name(), "error", err)
		return s.failOrder(ctx, order, "verification_mismatch", &d.FinalizeFailed{
			OrderNumber: order.OrderNumber,
			Kind:        d.KindProvider,
			Reason:      d.ReasonVerificationFailed,
			Message:     "We could not verify your payment. You have not been charged for this order.",
		})
	case err != nil:
		s.metrics.ProviderVerify(provider.Name(), "unavailable")
		s.logger.WarnContext(ctx, "provider verification unavailable",
			"kind", d.KindTransient, "order_id", order.ID.String(), "provider", provider.Name(), "error", err)
		return &d.FinalizeFailed{
			OrderNumber: order.OrderNumber,
			Kind:        d.KindTransient,
			Reason:      d.ReasonProviderUnavailable,
			Message:     "We could not reach the payment provider. Please try again in a moment.",
		}, nil
	}

	if verification.Reference != "" {
		reference = verification.Reference
	}
	if !verification.Settled {
		s.metrics.ProviderVerify(provider.Name(), "processing")
		if err := s.repo.MarkOrderProcessing(ctx, order.ID, reference); err != nil && !errors.Is(err, r.ErrOrderNotOpen) {
			return nil, fmt.Errorf("mark order processing: %w", err)
		}
		s.logger.InfoContext(ctx, "payment still processing",
			"order_id", order.ID.String(), "provider", provider.Name(), "provider_status", verification.Status)
		return &d.FinalizeSucceeded{OrderNumber: order.OrderNumber, Message: msgProcessing}, nil
	}
	s.metrics.ProviderVerify(provider.Name(), "settled")

	return s.settle(ctx, order, reference, req.Email)
}

func (s *CheckoutServiceImpl) settle(ctx context.Context, order *d.Order, reference, email string) (d.FinalizeOutcome, error) {
	settled, err := s.repo.SettleOrder(ctx, order.ID, reference)
	switch {
	case errors.Is(err, r.ErrAlreadySettled):
		s.logger.InfoContext(ctx, "order settled by a concurrent call", "order_id", order.ID.String())
		return &d.FinalizeSucceeded{OrderNumber: order.OrderNumber, Message: msgSettled, Settled: true}, nil
	case errors.Is(err, r.ErrInsufficientStockAtSettlement):
		s.logger.ErrorContext(ctx, "stock ran out before settlement",
			"kind", d.KindFatalConsistency, "order_id", order.ID.String(), "reference", reference)
		return &d.FinalizeFailed{
			OrderNumber: order.OrderNumber,
			Kind:        d.KindFatalConsistency,
			Reason:      d.ReasonInsufficientStockAtSettlement,
			Message:     "An item sold out while your payment was processing. Our team will contact you about a refund.",
		}, nil
	case errors.Is(err, r.ErrOrderNotOpen):
		return &d.FinalizeFailed{
			OrderNumber: order.OrderNumber,
			Kind:        d.KindFatalConsistency,
			Reason:      d.ReasonOrderClosed,
			Message:     "This order was closed before the payment was confirmed. Please contact support.",
		}, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "settlement transaction failed", "order_id", order.ID.String(), "error", err)
		return &d.FinalizeFailed{
			OrderNumber: order.OrderNumber,
			Kind:        d.KindTransient,
			Reason:      d.ReasonCheckoutFailed,
			Message:     "We could not complete your order. Please try again.",
		}, nil
	}

	s.logger.InfoContext(ctx, "order settled",
		"order_id", settled.ID.String(), "order_number", settled.OrderNumber, "provider", settled.PaymentProvider)
	s.sendConfirmation(ctx, settled, email)

	return &d.FinalizeSucceeded{OrderNumber: settled.OrderNumber, Message: msgSettled, Settled: true}, nil
}

// failOrder closes the order and answers with failed. An order that settled in the meantime wins.
func (s *CheckoutServiceImpl) failOrder(ctx context.Context, order *d.Order, reason string, failed *d.FinalizeFailed) (d.FinalizeOutcome, error) {
	err := s.repo.FailOrder(ctx, order.ID, reason)
	if errors.Is(err, r.ErrAlreadySettled) {
		return &d.FinalizeSucceeded{OrderNumber: order.OrderNumber, Message: msgSettled, Settled: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fail order: %w", err)
	}
	s.logger.InfoContext(ctx, "order failed", "order_id", order.ID.String(), "reason", reason)
	return failed, nil
}

func paymentFailed(order *d.Order) *d.FinalizeFailed {
	return &d.FinalizeFailed{
		OrderNumber: order.OrderNumber,
		Kind:        d.KindProvider,
		Reason:      d.ReasonPaymentFailed,
		Message:     "Your payment was not completed. You can try again from your cart.",
	}
}

func (s *CheckoutServiceImpl) archivePayload(ctx context.Context, order *d.Order, req *d.FinalizeRequest) {
	if s.archive == nil {
		return
	}
	rec := archive.Record{
		OrderID:    order.ID.String(),
		UserID:     req.UserID,
		Provider:   order.PaymentProvider,
		Status:     string(req.Status),
		Reference:  req.Reference,
		RawPayload: string(req.Payload),
		ReceivedAt: s.now().UTC(),
	}
	if err := s.archive.Store(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "archive provider payload failed", "order_id", order.ID.String(), "error", err)
	}
}

// sendConfirmation runs after commit and outlives the request's cancellation.
func (s *CheckoutServiceImpl) sendConfirmation(ctx context.Context, order *d.Order, email string) {
	if s.notifier == nil {
		return
	}
	recipient := order.Email
	if addr, err := mail.ParseAddress(strings.TrimSpace(email)); err == nil {
		recipient = strings.ToLower(addr.Address)
	}
	if recipient == "" {
		return
	}

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.NotifyTimeout)
	defer cancel()
	if err := s.notifier.SendOrderConfirmation(nctx, order, recipient); err != nil {
		s.logger.WarnContext(nctx, "order confirmation email failed",
			"kind", d.KindTransient, "order_id", order.ID.String(), "error", err)
	}
}
