package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	d "github.com/fjod/go_market/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var (
	ErrCartNotFound         = errors.New("active cart not found")
	ErrCouponNotFound       = errors.New("coupon not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrDuplicateOrderNumber = errors.New("order number already taken")
	ErrOrderNotOpen         = errors.New("order is no longer open")
	ErrAlreadySettled       = errors.New("order already settled")
	// ErrInsufficientStockAtSettlement aborts the settlement transaction; nothing it touched is kept.
	ErrInsufficientStockAtSettlement = errors.New("insufficient stock at settlement")
)

const pqUniqueViolation = "23505"

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// PricedLine is the refreshed price snapshot of one cart item.
type PricedLine struct {
	ItemID    int64
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

type CartTotals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// OrderDraft is everything written when an order is created or reused. Redemption is nil when
// no coupon applies.
type OrderDraft struct {
	Order      *d.Order
	Address    d.MarketplaceAddress
	Redemption *d.CouponRedemption
}

type CartRepository interface {
	GetActiveCart(ctx context.Context, userID int64) (*d.Cart, error)
	RemoveCartItems(ctx context.Context, cartID int64, itemIDs []int64) error
	RefreshCartPrices(ctx context.Context, cartID int64, lines []PricedLine, totals CartTotals) error
	DetachCoupon(ctx context.Context, cartID int64) (bool, error)
	GetCoupon(ctx context.Context, id int64) (*d.Coupon, error)
}

type OrderRepository interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*d.Order, error)
	GetOrderForUser(ctx context.Context, id uuid.UUID, userID int64) (*d.Order, error)
	FindResumableOrders(ctx context.Context, userID int64, since time.Time, limit int) ([]*d.Order, error)
	CreateOrder(ctx context.Context, draft *OrderDraft) error
	ReuseOrder(ctx context.Context, draft *OrderDraft) error
	MarkOrderProcessing(ctx context.Context, id uuid.UUID, reference string) error
	SettleOrder(ctx context.Context, id uuid.UUID, reference string) (*d.Order, error)
	FailOrder(ctx context.Context, id uuid.UUID, reason string) error
}

type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
	ExpireAbandonedOrders(ctx context.Context, before time.Time) (int64, error)
	ExpireStaleRedemptions(ctx context.Context, now time.Time) (int64, error)
}

type RepoInterface interface {
	CartRepository
	OrderRepository
	OutboxRepository
	RunMigrations(*Credentials) error
	Close() error
}

type Repository struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewRepository(cred *Credentials) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "checkout_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// withTx runs fn in a transaction and rolls back on any returned error.
func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation &&
		(constraint == "" || pqErr.Constraint == constraint)
}
