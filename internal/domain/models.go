package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	SalePrice decimal.Decimal `json:"sale_price"`
	CostPrice decimal.Decimal `json:"-"`
	Stock     int             `json:"stock"`
	MinStock  int             `json:"min_stock"`
	SKU       string          `json:"sku,omitempty"`
	ImageURL  string          `json:"image_url,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// LowStock reports whether the product is under its replenishment threshold.
func (p Product) LowStock() bool {
	return p.Stock < p.MinStock
}

type ProductCreateRequest struct {
	Name      string          `json:"name" validate:"required,max=200"`
	Category  string          `json:"category" validate:"required,oneof=Escolar Oficina Servicios Arte"`
	SalePrice decimal.Decimal `json:"sale_price"`
	CostPrice decimal.Decimal `json:"cost_price"`
	Stock     int             `json:"stock" validate:"gte=0"`
	MinStock  *int            `json:"min_stock,omitempty" validate:"omitempty,gte=0"`
	SKU       string          `json:"sku" validate:"max=64"`
	ImageURL  string          `json:"image_url" validate:"omitempty,url"`
}

type ProductUpdateRequest struct {
	Name      *string          `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Category  *string          `json:"category,omitempty" validate:"omitempty,oneof=Escolar Oficina Servicios Arte"`
	SalePrice *decimal.Decimal `json:"sale_price,omitempty"`
	CostPrice *decimal.Decimal `json:"cost_price,omitempty"`
	Stock     *int             `json:"stock,omitempty" validate:"omitempty,gte=0"`
	MinStock  *int             `json:"min_stock,omitempty" validate:"omitempty,gte=0"`
	SKU       *string          `json:"sku,omitempty" validate:"omitempty,max=64"`
	ImageURL  *string          `json:"image_url,omitempty" validate:"omitempty,url"`
}

type Client struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Phone     string          `json:"phone,omitempty"`
	Notes     string          `json:"notes,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

type ClientCreateRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Phone string `json:"phone" validate:"max=50"`
	Notes string `json:"notes" validate:"max=500"`
}

type ClientUpdateRequest struct {
	Name  *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Phone *string `json:"phone,omitempty" validate:"omitempty,max=50"`
	Notes *string `json:"notes,omitempty" validate:"omitempty,max=500"`
}

type BalanceAdjustmentRequest struct {
	Kind   string          `json:"kind" validate:"required,oneof=payment charge"`
	Amount decimal.Decimal `json:"amount"`
}

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentDebit    PaymentMethod = "debit"
	PaymentCredit   PaymentMethod = "credit"
	PaymentAccount  PaymentMethod = "account"
	PaymentWeb      PaymentMethod = "web"
	// PaymentWebCash marks a web order paid in cash when it was picked up.
	PaymentWebCash PaymentMethod = "web_cash"
)

// WebOrder reports whether a sale came from the storefront.
func (m PaymentMethod) WebOrder() bool {
	return m == PaymentWeb || m == PaymentWebCash
}

// Valid reports whether the method may be chosen at the counter. Web orders are
// created by the storefront, never by a cashier.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentTransfer, PaymentDebit, PaymentCredit, PaymentAccount:
		return true
	default:
		return false
	}
}

const (
	SaleStatusCompleted = "completed"
	SaleStatusPending   = "pending"
)

type Sale struct {
	ID            int64           `json:"id"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	ClientID      *int64          `json:"client_id,omitempty"`
	OperatorID    string          `json:"operator_id"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	Lines         []SaleLine      `json:"lines"`
}

type SaleLine struct {
	SaleID      int64           `json:"sale_id"`
	ProductID   *int64          `json:"product_id,omitempty"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// Manual reports whether the line was entered by hand rather than picked from
// the catalog.
func (l SaleLine) Manual() bool {
	return l.ProductID == nil
}

type StockDecrement struct {
	ProductID int64
	Quantity  int
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated operator running a request.
type Actor struct {
	Username string
	Role     string
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type CashierCreateRequest struct {
	Username string `json:"username" validate:"required,min=4,max=64"`
	Password string `json:"password" validate:"required,min=6"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type Dashboard struct {
	SalesToday    int             `json:"sales_today"`
	RevenueToday  decimal.Decimal `json:"revenue_today"`
	LowStockCount int             `json:"low_stock_count"`
	RecentSales   []Sale          `json:"recent_sales"`
}

type ReceiptResponse struct {
	SaleID       int64    `json:"sale_id"`
	Provisional  bool     `json:"provisional"`
	Lines        []string `json:"lines"`
	PreviewText  string   `json:"preview_text"`
	EscposBase64 string   `json:"escpos_base64"`
	FileName     string   `json:"file_name"`
}

var Categories = []string{"Escolar", "Oficina", "Servicios", "Arte"}

// AdminProduct exposes the cost price, which cashier-facing views omit.
type AdminProduct struct {
	Product
	CostPrice decimal.Decimal `json:"cost_price"`
}

func NewAdminProduct(p Product) AdminProduct {
	return AdminProduct{Product: p, CostPrice: p.CostPrice}
}
