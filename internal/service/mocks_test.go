package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	d "github.com/fjod/go_market/domain"
	"github.com/fjod/go_market/internal/archive"
	"github.com/fjod/go_market/internal/currency"
	"github.com/fjod/go_market/internal/payment"
	r "github.com/fjod/go_market/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockRepository is an in-memory Repository. It keeps enough state for begin and finalize to be
// called repeatedly against the same cart and orders.
type MockRepository struct {
	mu      sync.Mutex
	carts   map[int64]*d.Cart
	coupons map[int64]*d.Coupon
	orders  map[uuid.UUID]*d.Order
	seq     map[uuid.UUID]int
	stock   map[int64]int64
	next    int

	// CreateErrs are returned by successive CreateOrder calls before it starts succeeding.
	CreateErrs []error
	SettleErr  error
	GetErr     error

	CreateCalls  int
	ReuseCalls   int
	SettleCalls  int
	FailCalls    int
	RefreshCalls int
	DetachCalls  int
	RemovedItems []int64
	Redemptions  []*d.CouponRedemption
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		carts:   make(map[int64]*d.Cart),
		coupons: make(map[int64]*d.Coupon),
		orders:  make(map[uuid.UUID]*d.Order),
		seq:     make(map[uuid.UUID]int),
		stock:   make(map[int64]int64),
	}
}

func (m *MockRepository) PutCart(c *d.Cart) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[c.UserID] = c
	for _, item := range c.Items {
		if item.Product.Stock != nil {
			m.stock[item.ProductID] = *item.Product.Stock
		}
	}
}

func (m *MockRepository) PutCoupon(c *d.Coupon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coupons[c.ID] = c
}

func (m *MockRepository) PutOrder(o *d.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.orders[o.ID] = copyOrder(o)
	m.seq[o.ID] = m.next
}

func (m *MockRepository) Order(id uuid.UUID) *d.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		return copyOrder(o)
	}
	return nil
}

func (m *MockRepository) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *MockRepository) Stock(productID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[productID]
}

func (m *MockRepository) Cart(userID int64) *d.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.carts[userID]
}

func (m *MockRepository) SetQuantity(userID, productID int64, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.carts[userID].Items {
		if m.carts[userID].Items[i].ProductID == productID {
			m.carts[userID].Items[i].Quantity = qty
		}
	}
}

func (m *MockRepository) GetActiveCart(_ context.Context, userID int64) (*d.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		return nil, r.ErrCartNotFound
	}
	cp := *c
	cp.Items = append([]d.CartItem(nil), c.Items...)
	return &cp, nil
}

func (m *MockRepository) RemoveCartItems(_ context.Context, cartID int64, itemIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RemovedItems = append(m.RemovedItems, itemIDs...)
	drop := make(map[int64]bool, len(itemIDs))
	for _, id := range itemIDs {
		drop[id] = true
	}
	for _, c := range m.carts {
		if c.ID != cartID {
			continue
		}
		var kept []d.CartItem
		for _, item := range c.Items {
			if !drop[item.ID] {
				kept = append(kept, item)
			}
		}
		c.Items = kept
	}
	return nil
}

func (m *MockRepository) RefreshCartPrices(_ context.Context, cartID int64, lines []r.PricedLine, totals r.CartTotals) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RefreshCalls++
	for _, c := range m.carts {
		if c.ID != cartID {
			continue
		}
		for _, line := range lines {
			for i := range c.Items {
				if c.Items[i].ID == line.ItemID {
					c.Items[i].UnitPrice = line.UnitPrice
					c.Items[i].Subtotal = line.Subtotal
				}
			}
		}
		c.Subtotal, c.Discount, c.Total = totals.Subtotal, totals.Discount, totals.Total
	}
	return nil
}

func (m *MockRepository) DetachCoupon(_ context.Context, cartID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DetachCalls++
	for _, c := range m.carts {
		if c.ID == cartID && c.CouponID != nil {
			c.CouponID = nil
			c.CouponCode = ""
			return true, nil
		}
	}
	return false, nil
}

func (m *MockRepository) GetCoupon(_ context.Context, id int64) (*d.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[id]
	if !ok {
		return nil, r.ErrCouponNotFound
	}
	return c, nil
}

func (m *MockRepository) GetOrder(_ context.Context, id uuid.UUID) (*d.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, r.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (m *MockRepository) GetOrderForUser(ctx context.Context, id uuid.UUID, userID int64) (*d.Order, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	o, err := m.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, r.ErrOrderNotFound
	}
	return o, nil
}

func (m *MockRepository) FindResumableOrders(_ context.Context, userID int64, since time.Time, limit int) ([]*d.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*d.Order
	for _, o := range m.orders {
		if o.UserID == userID && o.OrderStatus.IsOpen() && !o.CreatedAt.Before(since) {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.seq[out[i].ID] > m.seq[out[j].ID] })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockRepository) CreateOrder(_ context.Context, draft *r.OrderDraft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if len(m.CreateErrs) > 0 {
		err := m.CreateErrs[0]
		m.CreateErrs = m.CreateErrs[1:]
		if err != nil {
			return err
		}
	}
	o := copyOrder(draft.Order)
	o.OrderStatus = d.OrderStatusPending
	o.PaymentStatus = d.PaymentStatusPending
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	m.next++
	m.orders[o.ID] = o
	m.seq[o.ID] = m.next
	if draft.Redemption != nil {
		m.Redemptions = append(m.Redemptions, draft.Redemption)
	}
	return nil
}

func (m *MockRepository) ReuseOrder(_ context.Context, draft *r.OrderDraft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReuseCalls++
	existing, ok := m.orders[draft.Order.ID]
	if !ok {
		return r.ErrOrderNotFound
	}
	if !existing.OrderStatus.IsOpen() {
		return r.ErrOrderNotOpen
	}
	o := copyOrder(draft.Order)
	o.OrderStatus = existing.OrderStatus
	o.PaymentStatus = existing.PaymentStatus
	o.CreatedAt = existing.CreatedAt
	o.UpdatedAt = time.Now()
	m.orders[o.ID] = o
	if draft.Redemption != nil {
		m.Redemptions = append(m.Redemptions, draft.Redemption)
	}
	return nil
}

func (m *MockRepository) MarkOrderProcessing(_ context.Context, id uuid.UUID, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || !o.OrderStatus.IsOpen() {
		return r.ErrOrderNotOpen
	}
	o.OrderStatus = d.OrderStatusProcessing
	if reference != "" {
		o.ProviderReference = reference
	}
	return nil
}

func (m *MockRepository) SettleOrder(_ context.Context, id uuid.UUID, reference string) (*d.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SettleErr != nil {
		return nil, m.SettleErr
	}
	o, ok := m.orders[id]
	switch {
	case !ok:
		return nil, r.ErrOrderNotFound
	case o.OrderStatus == d.OrderStatusSuccessful:
		return nil, r.ErrAlreadySettled
	case !o.OrderStatus.IsOpen():
		return nil, r.ErrOrderNotOpen
	}
	for _, item := range o.Items {
		if left, limited := m.stock[item.ProductID]; limited && left < int64(item.Quantity) {
			return nil, r.ErrInsufficientStockAtSettlement
		}
	}
	m.SettleCalls++
	for _, item := range o.Items {
		if _, limited := m.stock[item.ProductID]; limited {
			m.stock[item.ProductID] -= int64(item.Quantity)
		}
	}
	if c, ok := m.carts[o.UserID]; ok {
		c.Items = nil
		c.CouponID = nil
		c.CouponCode = ""
		c.Subtotal, c.Discount, c.Total = decimal.Zero, decimal.Zero, decimal.Zero
	}
	if reference != "" {
		o.ProviderReference = reference
	}
	now := time.Now()
	o.OrderStatus = d.OrderStatusSuccessful
	o.PaymentStatus = d.PaymentStatusSuccessful
	o.SettledAt = &now
	return copyOrder(o), nil
}

func (m *MockRepository) FailOrder(_ context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailCalls++
	o, ok := m.orders[id]
	switch {
	case !ok:
		return r.ErrOrderNotFound
	case o.OrderStatus == d.OrderStatusSuccessful:
		return r.ErrAlreadySettled
	case o.OrderStatus == d.OrderStatusFailed:
		return nil
	}
	o.OrderStatus = d.OrderStatusFailed
	o.PaymentStatus = d.PaymentStatusFailed
	o.FailureReason = reason
	return nil
}

func copyOrder(o *d.Order) *d.Order {
	cp := *o
	cp.Items = append([]d.OrderItem(nil), o.Items...)
	return &cp
}

// MockProvider implements payment.Provider.
type MockProvider struct {
	mu         sync.Mutex
	name       string
	kind       payment.Kind
	currencies map[string]bool

	Verification payment.Verification
	VerifyErr    error
	InitiateErr  error

	InitiateCalls int
	VerifyCalls   int
	LastVerify    payment.VerifyRequest
}

func NewMockProvider(name string, currencies ...string) *MockProvider {
	set := make(map[string]bool, len(currencies))
	for _, c := range currencies {
		set[c] = true
	}
	return &MockProvider{
		name:         name,
		kind:         payment.KindReference,
		currencies:   set,
		Verification: payment.Verification{Settled: true, Status: "success"},
	}
}

func (p *MockProvider) Name() string              { return p.name }
func (p *MockProvider) Kind() payment.Kind        { return p.kind }
func (p *MockProvider) PublicKey() string         { return "pk_" + p.name }
func (p *MockProvider) Supports(cur string) bool  { return p.currencies[cur] }

func (p *MockProvider) Initiate(_ context.Context, order *d.Order) (payment.Initiation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.InitiateErr != nil {
		return payment.Initiation{}, p.InitiateErr
	}
	p.InitiateCalls++
	return payment.Initiation{
		Reference: fmt.Sprintf("%s-%d", order.OrderNumber, p.InitiateCalls),
		PublicKey: p.PublicKey(),
	}, nil
}

func (p *MockProvider) Verify(_ context.Context, req payment.VerifyRequest) (payment.Verification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.VerifyCalls++
	p.LastVerify = req
	if p.VerifyErr != nil {
		return payment.Verification{}, p.VerifyErr
	}
	return p.Verification, nil
}

// MockRegistry implements ProviderRegistry with a fixed active provider.
type MockRegistry struct {
	Active    payment.Provider
	providers map[string]payment.Provider
}

func NewMockRegistry(active payment.Provider, others ...payment.Provider) *MockRegistry {
	reg := &MockRegistry{Active: active, providers: map[string]payment.Provider{active.Name(): active}}
	for _, p := range others {
		reg.providers[p.Name()] = p
	}
	return reg
}

func (m *MockRegistry) Resolve(_ context.Context) payment.Provider {
	return m.Active
}

func (m *MockRegistry) Get(name string) (payment.Provider, error) {
	p, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", payment.ErrUnknownProvider, name)
	}
	return p, nil
}

// MockRates implements currency.RateSource from a fixed table; a missing pair fails.
type MockRates struct {
	Rates map[string]decimal.Decimal
	Err   error
	Calls int
}

func (m *MockRates) Rate(_ context.Context, base, quote string) (decimal.Decimal, error) {
	m.Calls++
	if m.Err != nil {
		return decimal.Zero, m.Err
	}
	rate, ok := m.Rates[base+quote]
	if !ok {
		return decimal.Zero, currency.ErrRateUnavailable
	}
	return rate, nil
}

type MockNotifier struct {
	mu         sync.Mutex
	Err        error
	Sent       []string
	CtxErrSeen error
}

func (m *MockNotifier) SendOrderConfirmation(ctx context.Context, order *d.Order, recipient string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, order.OrderNumber+" "+recipient)
	m.CtxErrSeen = ctx.Err()
	return m.Err
}

type MockArchive struct {
	mu      sync.Mutex
	Records []archive.Record
	Err     error
}

func (m *MockArchive) Store(_ context.Context, rec archive.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, rec)
	return m.Err
}

type MockRecorder struct {
	mu       sync.Mutex
	Begins   []string
	Finals   []string
	Verifies []string
	Stages   []string
}

func (m *MockRecorder) BeginOutcome(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Begins = append(m.Begins, outcome)
}

func (m *MockRecorder) FinalizeOutcome(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Finals = append(m.Finals, outcome)
}

func (m *MockRecorder) ProviderVerify(provider, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Verifies = append(m.Verifies, provider+":"+result)
}

func (m *MockRecorder) ObserveStage(stage string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stages = append(m.Stages, stage)
}

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
