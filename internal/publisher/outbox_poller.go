package publisher

import (
	"context"
	"log/slog"
	"time"

	r "github.com/fjod/go_market/internal/repository"
	"github.com/segmentio/kafka-go"
)

const batchSize = 100

// MessageWriter is the subset of *kafka.Writer the poller needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Recorder interface {
	OutboxPending(n int)
	ExpiredRows(kind string, n int64)
}

type Config struct {
	Brokers      []string
	Topic        string
	EventTick    time.Duration
	RecoveryTick time.Duration
	// AbandonAfter is how long a pending order may sit untouched before the sweep fails it.
	AbandonAfter time.Duration
}

type OutboxPoller struct {
	eventTick    time.Duration
	recoveryTick time.Duration
	abandonAfter time.Duration
	repo         r.OutboxRepository
	writer       MessageWriter
	metrics      Recorder
	logger       *slog.Logger
	now          func() time.Time
}

func NewOutboxPoller(repo r.OutboxRepository, cfg Config, metrics Recorder, logger *slog.Logger) *OutboxPoller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newOutboxPoller(repo, w, cfg, metrics, logger)
}

func newOutboxPoller(repo r.OutboxRepository, w MessageWriter, cfg Config, metrics Recorder, logger *slog.Logger) *OutboxPoller {
	if cfg.EventTick <= 0 {
		cfg.EventTick = time.Second
	}
	if cfg.RecoveryTick <= 0 {
		cfg.RecoveryTick = time.Minute
	}
	if cfg.AbandonAfter <= 0 {
		cfg.AbandonAfter = 24 * time.Hour
	}
	return &OutboxPoller{
		eventTick:    cfg.EventTick,
		recoveryTick: cfg.RecoveryTick,
		abandonAfter: cfg.AbandonAfter,
		repo:         repo,
		writer:       w,
		metrics:      metrics,
		logger:       logger.With("component", "outbox_poller"),
		now:          time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	recoveryTicker := time.NewTicker(p.recoveryTick)
	defer eventTicker.Stop()
	defer recoveryTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-recoveryTicker.C:
			p.expireAbandoned(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.repo.GetUnprocessedEvents(ctx, batchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to fetch outbox events", "error", err)
		return
	}

	pending := len(events)
	p.recordPending(pending)
	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			// later events for the same order must not overtake this one
			p.logger.WarnContext(ctx, "failed to publish outbox event", "event_id", event.ID, "error", err)
			return
		}
		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.logger.ErrorContext(ctx, "failed to mark outbox event as processed", "event_id", event.ID, "error", err)
			return
		}
		pending--
		p.recordPending(pending)
	}
}

func (p *OutboxPoller) publish(ctx context.Context, event *r.OutboxEvent) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.AggregateID.String()),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	})
}

// expireAbandoned fails pending orders nobody came back to and releases coupon holds that
// outlived their soft expiry. Processing orders are never touched here.
func (p *OutboxPoller) expireAbandoned(ctx context.Context) {
	now := p.now()

	orders, err := p.repo.ExpireAbandonedOrders(ctx, now.Add(-p.abandonAfter))
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to expire abandoned orders", "error", err)
	} else if orders > 0 {
		p.logger.InfoContext(ctx, "expired abandoned orders", "count", orders)
		p.recordExpired("order", orders)
	}

	redemptions, err := p.repo.ExpireStaleRedemptions(ctx, now)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to expire stale coupon redemptions", "error", err)
	} else if redemptions > 0 {
		p.logger.InfoContext(ctx, "expired stale coupon redemptions", "count", redemptions)
		p.recordExpired("coupon_redemption", redemptions)
	}
}

func (p *OutboxPoller) recordPending(n int) {
	if p.metrics != nil {
		p.metrics.OutboxPending(n)
	}
}

func (p *OutboxPoller) recordExpired(kind string, n int64) {
	if p.metrics != nil {
		p.metrics.ExpiredRows(kind, n)
	}
}
