package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fotocopias/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("conflict")
)

// Checkout write steps, in the order the orchestrator performs them.
const (
	StepClientBalance  = "client_balance"
	StepSaleHeader     = "sale_header"
	StepSaleLines      = "sale_lines"
	StepStockDecrement = "stock_decrement"
)

type CatalogStore interface {
	ListProducts(ctx context.Context, query string) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	// DecrementStock lowers stock only when enough units remain, otherwise it
	// returns ErrInsufficientStock and leaves the row untouched.
	DecrementStock(ctx context.Context, productID int64, qty int) error
}

type ClientStore interface {
	ListClients(ctx context.Context, query string) ([]domain.Client, error)
	GetClient(ctx context.Context, id int64) (*domain.Client, error)
	CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error)
	UpdateClient(ctx context.Context, client domain.Client) (*domain.Client, error)
	UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error
}

type SalesStore interface {
	// InsertSaleHeader stores the sale without lines and returns the assigned id.
	InsertSaleHeader(ctx context.Context, sale domain.Sale) (int64, error)
	InsertSaleLines(ctx context.Context, saleID int64, lines []domain.SaleLine) error
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSales(ctx context.Context, limit int) ([]domain.Sale, error)
	ListSalesSince(ctx context.Context, since time.Time) ([]domain.Sale, error)
	ListPendingWebOrders(ctx context.Context) ([]domain.Sale, error)
	CompleteWebOrder(ctx context.Context, id int64) (*domain.Sale, error)
	// DeletePendingSale removes a pending sale and its lines.
	DeletePendingSale(ctx context.Context, id int64) error
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)
}

type Repository interface {
	CatalogStore
	ClientStore
	SalesStore
	UserStore
	AuditStore
}

// CheckoutCommit is the full write set of one checkout.
type CheckoutCommit struct {
	Sale       domain.Sale
	Decrements []domain.StockDecrement
}

// AtomicCheckout is implemented by stores able to apply a whole checkout in a
// single transaction.
type AtomicCheckout interface {
	CommitCheckout(ctx context.Context, commit CheckoutCommit) (int64, error)
}

// StepError reports which checkout write failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
