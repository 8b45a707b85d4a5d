package domain

import "fmt"

// ErrorKind classifies every way a checkout call can end without a settled order.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindAvailability        ErrorKind = "availability"
	KindCoupon              ErrorKind = "coupon"
	KindIdempotencyConflict ErrorKind = "idempotency_conflict"
	KindProvider            ErrorKind = "provider"
	KindTransient           ErrorKind = "transient"
	KindFatalConsistency    ErrorKind = "fatal_consistency"
)

// Machine-checkable reasons surfaced to the storefront.
const (
	ReasonInvalidFields                 = "INVALID_FIELDS"
	ReasonEmptyCart                     = "EMPTY_CART"
	ReasonUnavailableItems              = "UNAVAILABLE_ITEMS"
	ReasonUnapprovedSeller              = "UNAPPROVED_SELLER"
	ReasonInsufficientStock             = "INSUFFICIENT_STOCK"
	ReasonInsufficientStockAtSettlement = "INSUFFICIENT_STOCK_AT_SETTLEMENT"
	ReasonCurrencyNotSupported          = "CURRENCY_NOT_SUPPORTED"
	ReasonInvalidAmount                 = "INVALID_AMOUNT"
	ReasonOrderNotFound                 = "ORDER_NOT_FOUND"
	ReasonOrderClosed                   = "ORDER_CLOSED"
	ReasonPaymentFailed                 = "PAYMENT_FAILED"
	ReasonVerificationFailed            = "VERIFICATION_FAILED"
	ReasonProviderUnavailable           = "PROVIDER_UNAVAILABLE"
	ReasonCheckoutFailed                = "CHECKOUT_FAILED"
)

type CheckoutError struct {
	Kind    ErrorKind
	Reason  string
	Message string
	Err     error
}

func (e *CheckoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Reason, e.Message)
}

func (e *CheckoutError) Unwrap() error {
	return e.Err
}
