package http

import (
	"context"

	d "github.com/fjod/go_market/domain"
	"github.com/google/uuid"
)

// MockCheckoutService implements service.CheckoutService for testing
type MockCheckoutService struct {
	BeginOut    d.BeginOutcome
	FinalizeOut d.FinalizeOutcome
	Order       *d.Order
	Err         error

	BeginReq    *d.BeginRequest
	FinalizeReq *d.FinalizeRequest
	GetUserID   int64
	BeginCalls  int
}

func (m *MockCheckoutService) Begin(_ context.Context, req *d.BeginRequest) (d.BeginOutcome, error) {
	m.BeginCalls++
	m.BeginReq = req
	return m.BeginOut, m.Err
}

func (m *MockCheckoutService) Finalize(_ context.Context, req *d.FinalizeRequest) (d.FinalizeOutcome, error) {
	m.FinalizeReq = req
	return m.FinalizeOut, m.Err
}

func (m *MockCheckoutService) GetOrder(_ context.Context, userID int64, _ uuid.UUID) (*d.Order, error) {
	m.GetUserID = userID
	return m.Order, m.Err
}
