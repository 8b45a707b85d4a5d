package checkoutflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const DefaultWatchdog = 60 * time.Second

var ErrSubmitInFlight = errors.New("a checkout is already in progress")

// WidgetConfig is what the provider's embedded widget needs to open.
type WidgetConfig struct {
	Provider    string
	PublicKey   string
	Reference   string
	Email       string
	AmountMinor int64
	Currency    string
	Metadata    map[string]string
}

// Widget is the provider's embedded checkout. Open must return once the widget is showing and
// report every later event through onEvent. Close restores the page and must be safe to call
// more than once.
type Widget interface {
	Open(ctx context.Context, cfg WidgetConfig, onEvent func(Callback)) error
	Close()
}

type State int

const (
	StateIdle State = iota
	StateBeginning
	StateWidgetOpen
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBeginning:
		return "beginning"
	case StateWidgetOpen:
		return "widget_open"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Result is what one submit ended with. Rejected is set when begin refused the cart; Finalized
// is set when the server was told the outcome. A cancel or timeout carries neither.
type Result struct {
	Outcome Outcome
	// TimedOut is set when the watchdog closed the widget.
	TimedOut  bool
	Begin     *BeginResult
	Rejected  *BeginResult
	Finalized *FinalizeResult
}

type Options struct {
	Watchdog      time.Duration
	OnStateChange func(State)
	Logger        *slog.Logger
}

type Controller struct {
	api    API
	widget Widget
	opts   Options
	logger *slog.Logger

	mu           sync.Mutex
	busy         bool
	state        State
	pendingOrder string
}

func NewController(api API, widget Widget, opts Options) *Controller {
	if opts.Watchdog <= 0 {
		opts.Watchdog = DefaultWatchdog
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		api:    api,
		widget: widget,
		opts:   opts,
		logger: logger.With("component", "checkout_controller"),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PendingOrder is the order a cancelled or timed out attempt left open. The next submit resumes it.
func (c *Controller) PendingOrder() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingOrder
}

// Submit runs one checkout attempt end to end and blocks until it is decided. A second call
// while one is running fails fast with ErrSubmitInFlight.
func (c *Controller) Submit(ctx context.Context, buyer Buyer) (*Result, error) {
	if !c.acquire() {
		return nil, ErrSubmitInFlight
	}
	defer c.release()

	c.setState(StateBeginning)
	begin, err := c.api.Begin(ctx, BeginInput{Buyer: buyer, ExistingOrderID: c.PendingOrder()})
	if err != nil {
		return nil, fmt.Errorf("begin checkout: %w", err)
	}
	if !begin.Success {
		return &Result{Rejected: begin}, nil
	}
	if begin.AlreadyPaid {
		c.setPendingOrder("")
		return &Result{
			Outcome:   OutcomeSuccess,
			Begin:     begin,
			Finalized: &FinalizeResult{Success: true, Settled: true, OrderNumber: begin.OrderNumber},
		}, nil
	}
	c.setPendingOrder(begin.OrderID)

	cb, timedOut, err := c.runWidget(ctx, begin, buyer.Email)
	if err != nil {
		return nil, err
	}
	if timedOut {
		c.logger.WarnContext(ctx, "payment widget timed out", "order_id", begin.OrderID)
		return &Result{Outcome: OutcomeCancel, TimedOut: true, Begin: begin}, nil
	}

	outcome := Classify(cb)
	if outcome == OutcomeCancel {
		c.logger.InfoContext(ctx, "payment widget cancelled", "order_id", begin.OrderID)
		return &Result{Outcome: OutcomeCancel, Begin: begin}, nil
	}

	c.setState(StateFinalizing)
	fin, err := c.finalize(ctx, begin, buyer.Email, cb, outcome)
	if err != nil {
		return nil, err
	}
	if fin.Settled || outcome == OutcomeError {
		c.setPendingOrder("")
	}
	return &Result{Outcome: outcome, Begin: begin, Finalized: fin}, nil
}

// runWidget opens the widget and waits for the first callback, the watchdog or ctx. The widget
// is always closed on return.
func (c *Controller) runWidget(ctx context.Context, begin *BeginResult, email string) (Callback, bool, error) {
	events := make(chan Callback, 1)
	onEvent := func(cb Callback) {
		select {
		case events <- cb:
		default:
			// first callback wins
		}
	}

	cfg := WidgetConfig{
		Provider:    begin.PaymentProvider,
		PublicKey:   begin.PublicKey,
		Reference:   begin.ProviderReference,
		Email:       email,
		AmountMinor: begin.AmountMinor,
		Currency:    begin.Currency,
		Metadata: map[string]string{
			"order_id":     begin.OrderID,
			"order_number": begin.OrderNumber,
		},
	}
	defer c.widget.Close()
	if err := c.widget.Open(ctx, cfg, onEvent); err != nil {
		return Callback{}, false, fmt.Errorf("open payment widget: %w", err)
	}
	c.setState(StateWidgetOpen)

	watchdog := time.NewTimer(c.opts.Watchdog)
	defer watchdog.Stop()
	select {
	case cb := <-events:
		return cb, false, nil
	case <-watchdog.C:
		return Callback{}, true, nil
	case <-ctx.Done():
		return Callback{}, false, ctx.Err()
	}
}

func (c *Controller) finalize(ctx context.Context, begin *BeginResult, email string, cb Callback, outcome Outcome) (*FinalizeResult, error) {
	status := "error"
	if outcome == OutcomeSuccess {
		status = "success"
	}
	reference := Reference(cb.Payload)
	if reference == "" {
		reference = begin.ProviderReference
	}
	payload, err := json.Marshal(cb.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal widget payload: %w", err)
	}

	fin, err := c.api.Finalize(ctx, FinalizeInput{
		OrderID:   begin.OrderID,
		Status:    status,
		Reference: reference,
		Payload:   payload,
		Email:     email,
	})
	if err != nil {
		return nil, fmt.Errorf("finalize order %s: %w", begin.OrderNumber, err)
	}
	return fin, nil
}

func (c *Controller) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return false
	}
	c.busy = true
	return true
}

func (c *Controller) release() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
	c.setState(StateIdle)
}

func (c *Controller) setPendingOrder(id string) {
	c.mu.Lock()
	c.pendingOrder = id
	c.mu.Unlock()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}
