package service

import (
	"context"
	"log/slog"
	"time"

	d "github.com/fjod/go_market/domain"
	"github.com/fjod/go_market/internal/archive"
	"github.com/fjod/go_market/internal/currency"
	"github.com/fjod/go_market/internal/payment"
	r "github.com/fjod/go_market/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type CheckoutService interface {
	Begin(ctx context.Context, req *d.BeginRequest) (d.BeginOutcome, error)
	Finalize(ctx context.Context, req *d.FinalizeRequest) (d.FinalizeOutcome, error)
	GetOrder(ctx context.Context, userID int64, orderID uuid.UUID) (*d.Order, error)
}

type Repository interface {
	r.CartRepository
	r.OrderRepository
}

type ProviderRegistry interface {
	Resolve(ctx context.Context) payment.Provider
	Get(name string) (payment.Provider, error)
}

type CurrencyResolver interface {
	Resolve(ctx context.Context, total decimal.Decimal, country string, provider currency.Allowlist) currency.Resolution
}

// Notifier renders and sends the order confirmation email.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order *d.Order, recipient string) error
}

type PayloadArchive interface {
	Store(ctx context.Context, rec archive.Record) error
}

type Recorder interface {
	BeginOutcome(outcome string)
	FinalizeOutcome(outcome string)
	ProviderVerify(provider, result string)
	ObserveStage(stage string, elapsed time.Duration)
}

type Options struct {
	ResumeWindow        time.Duration
	ResumeCandidates    int
	RedemptionTTL       time.Duration
	ProviderCallTimeout time.Duration
	NotifyTimeout       time.Duration
}

type CheckoutServiceImpl struct {
	repo      Repository
	providers ProviderRegistry
	currency  CurrencyResolver
	notifier  Notifier
	archive   PayloadArchive
	metrics   Recorder
	logger    *slog.Logger
	tracer    trace.Tracer
	opts      Options
	now       func() time.Time
}

func NewCheckoutService(
	repo Repository,
	providers ProviderRegistry,
	fx CurrencyResolver,
	notifier Notifier,
	payloads PayloadArchive,
	metrics Recorder,
	logger *slog.Logger,
	opts Options,
) *CheckoutServiceImpl {
	if opts.ResumeWindow == 0 {
		opts.ResumeWindow = 15 * time.Minute
	}
	if opts.ResumeCandidates == 0 {
		opts.ResumeCandidates = 3
	}
	if opts.RedemptionTTL == 0 {
		opts.RedemptionTTL = 30 * time.Minute
	}
	if opts.ProviderCallTimeout == 0 {
		opts.ProviderCallTimeout = 10 * time.Second
	}
	if opts.NotifyTimeout == 0 {
		opts.NotifyTimeout = 15 * time.Second
	}
	return &CheckoutServiceImpl{
		repo:      repo,
		providers: providers,
		currency:  fx,
		notifier:  notifier,
		archive:   payloads,
		metrics:   metrics,
		logger:    logger,
		tracer:    otel.Tracer("github.com/fjod/go_market/internal/service"),
		opts:      opts,
		now:       time.Now,
	}
}

func (s *CheckoutServiceImpl) GetOrder(ctx context.Context, userID int64, orderID uuid.UUID) (*d.Order, error) {
	return s.repo.GetOrderForUser(ctx, orderID, userID)
}
