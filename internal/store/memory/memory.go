package memory

import (
	"cmp"
	"context"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"fotocopias/backend/internal/domain"
	"fotocopias/backend/internal/store"
	"fotocopias/backend/internal/xid"
)

var (
	_ store.Repository     = (*Store)(nil)
	_ store.AtomicCheckout = (*Store)(nil)
)

// Store keeps the whole shop in process memory. Every method takes the lock,
// so DecrementStock and CommitCheckout are atomic with respect to each other.
type Store struct {
	mu              sync.RWMutex
	products        map[int64]domain.Product
	clients         map[int64]domain.Client
	sales           map[int64]*domain.Sale
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
	nextProductID   int64
	nextClientID    int64
	nextSaleID      int64
	now             func() time.Time
}

var (
	_ store.Repository     = (*Store)(nil)
	_ store.AtomicCheckout = (*Store)(nil)
)

// seedUsers builds the dev accounts. Passwords come from SEED_ADMIN_PASSWORD
// and SEED_CASHIER_PASSWORD, falling back to fixed dev defaults.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		slog.Warn("memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic("memory store: hash seed password for " + u.username + ": " + err.Error())
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New returns an empty store with the dev user accounts.
func New() *Store {
	return &Store{
		products:        map[int64]domain.Product{},
		clients:         map[int64]domain.Client{},
		sales:           map[int64]*domain.Sale{},
		auditLogs:       make([]domain.AuditLog, 0, 64),
		usersByUsername: seedUsers(),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// NewSeeded returns a store with a small stationery catalog and two clients.
func NewSeeded() *Store {
	s := New()
	ctx := context.Background()
	for _, p := range []domain.Product{
		{Name: "Cuaderno Universitario", Category: "Escolar", SalePrice: decimal.NewFromInt(4500), CostPrice: decimal.NewFromInt(2800), Stock: 24, MinStock: 5, SKU: "CU-100"},
		{Name: "Set de Geometría", Category: "Escolar", SalePrice: decimal.NewFromInt(1200), CostPrice: decimal.NewFromInt(700), Stock: 5, MinStock: 5, SKU: "GEO-01"},
		{Name: "Resma A4 500h", Category: "Oficina", SalePrice: decimal.NewFromInt(6500), CostPrice: decimal.NewFromInt(4900), Stock: 50, MinStock: 10, SKU: "RES-A4"},
		{Name: "Bolígrafo Azul", Category: "Oficina", SalePrice: decimal.NewFromInt(400), CostPrice: decimal.NewFromInt(150), Stock: 120, MinStock: 20, SKU: "BOL-AZ"},
		{Name: "Mochila Básica", Category: "Escolar", SalePrice: decimal.NewFromInt(25000), CostPrice: decimal.NewFromInt(16000), Stock: 0, MinStock: 2, SKU: "MOC-01"},
		{Name: "Témperas x6", Category: "Arte", SalePrice: decimal.NewFromInt(3200), CostPrice: decimal.NewFromInt(1900), Stock: 12, MinStock: 5, SKU: "TEM-06"},
	} {
		if _, err := s.CreateProduct(ctx, p); err != nil {
			panic("memory store: seed product " + p.Name + ": " + err.Error())
		}
	}
	for _, c := range []domain.Client{
		{Name: "Librería del Centro", Phone: "555-0101", Balance: decimal.NewFromInt(12000)},
		{Name: "María González", Phone: "555-0199"},
	} {
		if _, err := s.CreateClient(ctx, c); err != nil {
			panic("memory store: seed client " + c.Name + ": " + err.Error())
		}
	}
	return s
}

func validProduct(p domain.Product) bool {
	return strings.TrimSpace(p.Name) != "" &&
		strings.TrimSpace(p.Category) != "" &&
		p.SalePrice.IsPositive() &&
		!p.CostPrice.IsNegative() &&
		p.Stock >= 0 &&
		p.MinStock >= 0
}

func matches(query string, fields ...string) bool {
	if query == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), query) {
			return true
		}
	}
	return false
}

func (s *Store) ListProducts(_ context.Context, query string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query = strings.ToLower(strings.TrimSpace(query))
	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if matches(query, p.Name, p.SKU) {
			products = append(products, p)
		}
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validProduct(product) {
		return nil, store.ErrInvalidInput
	}
	if product.SKU != "" {
		for _, existing := range s.products {
			if existing.SKU == product.SKU {
				return nil, store.ErrConflict
			}
		}
	}
	s.nextProductID++
	product.ID = s.nextProductID
	if product.CreatedAt.IsZero() {
		product.CreatedAt = s.now()
	}
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validProduct(product) {
		return nil, store.ErrInvalidInput
	}
	existing, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if product.SKU != "" {
		for id, other := range s.products {
			if id != product.ID && other.SKU == product.SKU {
				return nil, store.ErrConflict
			}
		}
	}
	product.CreatedAt = existing.CreatedAt
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) DecrementStock(_ context.Context, productID int64, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decrementLocked(productID, qty)
}

func (s *Store) decrementLocked(productID int64, qty int) error {
	if qty < 1 {
		return store.ErrInvalidInput
	}
	product, exists := s.products[productID]
	if !exists {
		return store.ErrNotFound
	}
	if product.Stock < qty {
		return store.ErrInsufficientStock
	}
	product.Stock -= qty
	s.products[productID] = product
	return nil
}

func (s *Store) ListClients(_ context.Context, query string) ([]domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query = strings.ToLower(strings.TrimSpace(query))
	clients := make([]domain.Client, 0, len(s.clients))
	for _, c := range s.clients {
		if matches(query, c.Name, c.Phone) {
			clients = append(clients, c)
		}
	}
	slices.SortFunc(clients, func(a, b domain.Client) int {
		return cmp.Or(b.Balance.Cmp(a.Balance), cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return clients, nil
}

func (s *Store) GetClient(_ context.Context, id int64) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, exists := s.clients[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &client, nil
}

func (s *Store) CreateClient(_ context.Context, client domain.Client) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(client.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	s.nextClientID++
	client.ID = s.nextClientID
	if client.CreatedAt.IsZero() {
		client.CreatedAt = s.now()
	}
	s.clients[client.ID] = client
	return &client, nil
}

// UpdateClient changes contact details. The balance is left alone; it only
// moves through UpdateBalance.
func (s *Store) UpdateClient(_ context.Context, client domain.Client) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(client.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	existing, exists := s.clients[client.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	existing.Name = client.Name
	existing.Phone = client.Phone
	existing.Notes = client.Notes
	s.clients[client.ID] = existing
	return &existing, nil
}

func (s *Store) UpdateBalance(_ context.Context, id int64, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, exists := s.clients[id]
	if !exists {
		return store.ErrNotFound
	}
	client.Balance = balance
	s.clients[id] = client
	return nil
}

func (s *Store) InsertSaleHeader(_ context.Context, sale domain.Sale) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertHeaderLocked(sale)
}

func (s *Store) insertHeaderLocked(sale domain.Sale) (int64, error) {
	if sale.Total.IsNegative() || sale.PaymentMethod == "" {
		return 0, store.ErrInvalidInput
	}
	if sale.ClientID != nil {
		if _, exists := s.clients[*sale.ClientID]; !exists {
			return 0, store.ErrNotFound
		}
	}
	s.nextSaleID++
	sale.ID = s.nextSaleID
	if sale.Status == "" {
		sale.Status = domain.SaleStatusCompleted
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = s.now()
	}
	sale.Lines = nil
	s.sales[sale.ID] = &sale
	return sale.ID, nil
}

func (s *Store) InsertSaleLines(_ context.Context, saleID int64, lines []domain.SaleLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLinesLocked(saleID, lines)
}

func (s *Store) insertLinesLocked(saleID int64, lines []domain.SaleLine) error {
	sale, exists := s.sales[saleID]
	if !exists {
		return store.ErrNotFound
	}
	for _, line := range lines {
		if line.Quantity < 1 || strings.TrimSpace(line.Description) == "" {
			return store.ErrInvalidInput
		}
	}
	for _, line := range lines {
		line.SaleID = saleID
		sale.Lines = append(sale.Lines, line)
	}
	return nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.sales[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := s.collectSales(func(*domain.Sale) bool { return true })
	sortNewestFirst(sales)
	if limit > 0 && len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) ListSalesSince(_ context.Context, since time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := s.collectSales(func(sale *domain.Sale) bool { return !sale.CreatedAt.Before(since) })
	sortNewestFirst(sales)
	return sales, nil
}

func (s *Store) ListPendingWebOrders(_ context.Context) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := s.collectSales(func(sale *domain.Sale) bool {
		return sale.PaymentMethod == domain.PaymentWeb && sale.Status == domain.SaleStatusPending
	})
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return sales, nil
}

func (s *Store) CompleteWebOrder(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, err := s.pendingLocked(id)
	if err != nil {
		return nil, err
	}
	sale.Status = domain.SaleStatusCompleted
	sale.PaymentMethod = domain.PaymentWebCash
	return cloneSale(sale), nil
}

func (s *Store) DeletePendingSale(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.pendingLocked(id); err != nil {
		return err
	}
	delete(s.sales, id)
	return nil
}

func (s *Store) pendingLocked(id int64) (*domain.Sale, error) {
	sale, exists := s.sales[id]
	if !exists || !sale.PaymentMethod.WebOrder() {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusPending {
		return nil, store.ErrConflict
	}
	return sale, nil
}

// CommitCheckout validates the whole write set before touching anything, so
// a failing step leaves no partial sale behind.
func (s *Store) CommitCheckout(_ context.Context, commit store.CheckoutCommit) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale := commit.Sale
	var client domain.Client
	if sale.PaymentMethod == domain.PaymentAccount {
		if sale.ClientID == nil {
			return 0, &store.StepError{Step: store.StepClientBalance, Err: store.ErrInvalidInput}
		}
		existing, exists := s.clients[*sale.ClientID]
		if !exists {
			return 0, &store.StepError{Step: store.StepClientBalance, Err: store.ErrNotFound}
		}
		client = existing
	}
	if sale.Total.IsNegative() || sale.PaymentMethod == "" {
		return 0, &store.StepError{Step: store.StepSaleHeader, Err: store.ErrInvalidInput}
	}
	if sale.ClientID != nil {
		if _, exists := s.clients[*sale.ClientID]; !exists {
			return 0, &store.StepError{Step: store.StepSaleHeader, Err: store.ErrNotFound}
		}
	}
	for _, line := range sale.Lines {
		if line.Quantity < 1 || strings.TrimSpace(line.Description) == "" {
			return 0, &store.StepError{Step: store.StepSaleLines, Err: store.ErrInvalidInput}
		}
	}
	need := map[int64]int{}
	for _, d := range commit.Decrements {
		need[d.ProductID] += d.Quantity
	}
	for productID, qty := range need {
		product, exists := s.products[productID]
		if !exists {
			return 0, &store.StepError{Step: store.StepStockDecrement, Err: store.ErrNotFound}
		}
		if qty < 1 || product.Stock < qty {
			return 0, &store.StepError{Step: store.StepStockDecrement, Err: store.ErrInsufficientStock}
		}
	}

	if sale.PaymentMethod == domain.PaymentAccount {
		client.Balance = client.Balance.Add(sale.Total)
		s.clients[client.ID] = client
	}
	id, err := s.insertHeaderLocked(sale)
	if err != nil {
		return 0, &store.StepError{Step: store.StepSaleHeader, Err: err}
	}
	if err := s.insertLinesLocked(id, sale.Lines); err != nil {
		return 0, &store.StepError{Step: store.StepSaleLines, Err: err}
	}
	for productID, qty := range need {
		if err := s.decrementLocked(productID, qty); err != nil {
			return 0, &store.StepError{Step: store.StepStockDecrement, Err: err}
		}
	}
	return id, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := slices.Clone(s.auditLogs)
	slices.Reverse(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) collectSales(keep func(*domain.Sale) bool) []domain.Sale {
	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if keep(sale) {
			sales = append(sales, *cloneSale(sale))
		}
	}
	return sales
}

func sortNewestFirst(sales []domain.Sale) {
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
}

func cloneSale(src *domain.Sale) *domain.Sale {
	out := *src
	out.Lines = slices.Clone(src.Lines)
	if src.ClientID != nil {
		id := *src.ClientID
		out.ClientID = &id
	}
	return &out
}
