package domain

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BuyerFields are the contact and billing fields typed into the checkout form.
type BuyerFields struct {
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

type BeginRequest struct {
	UserID          int64
	Buyer           BuyerFields
	ExistingOrderID *uuid.UUID
	ViewerCountry   string
}

// BeginOutcome is either *BeginAccepted or *BeginRejected.
type BeginOutcome interface {
	beginOutcome()
}

// BeginAccepted carries everything the storefront needs to open the payment widget. AlreadyPaid
// is set when the matched order had settled already and no new charge is expected.
type BeginAccepted struct {
	PublicKey         string
	PaymentProvider   string
	ProviderReference string
	OrderID           uuid.UUID
	OrderNumber       string
	Amount            decimal.Decimal
	Currency          string
	BaseAmount        decimal.Decimal
	BaseCurrency      string
	FxRate            decimal.Decimal
	ViewerCurrency    string
	Customer          BuyerFields
	CouponNotice      *CouponNotice
	AlreadyPaid       bool
	Resumed           bool
}

type BeginRejected struct {
	Kind         ErrorKind
	Reason       string
	Message      string
	Errors       map[string]string
	RemovedItems []string
	CouponNotice *CouponNotice
}

func (*BeginAccepted) beginOutcome() {}
func (*BeginRejected) beginOutcome() {}

type FinalizeStatus string

const (
	FinalizeSuccess FinalizeStatus = "success"
	FinalizeError   FinalizeStatus = "error"
)

type FinalizeRequest struct {
	UserID    int64
	OrderID   uuid.UUID
	Status    FinalizeStatus
	Reference string
	Payload   json.RawMessage
	Email     string
}

// FinalizeOutcome is either *FinalizeSucceeded or *FinalizeFailed.
type FinalizeOutcome interface {
	finalizeOutcome()
}

// FinalizeSucceeded with Settled=false means the provider is still processing the charge.
type FinalizeSucceeded struct {
	OrderNumber string
	Message     string
	Settled     bool
}

type FinalizeFailed struct {
	OrderNumber string
	Kind        ErrorKind
	Reason      string
	Message     string
}

func (*FinalizeSucceeded) finalizeOutcome() {}
func (*FinalizeFailed) finalizeOutcome() {}
