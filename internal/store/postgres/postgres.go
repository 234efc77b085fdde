package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"fotocopias/backend/internal/domain"
	"fotocopias/backend/internal/store"
	"fotocopias/backend/internal/xid"
)

var (
	_ store.Repository     = (*Store)(nil)
	_ store.AtomicCheckout = (*Store)(nil)
)

type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx so the checkout steps can
// run standalone or inside one transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, name, category, sale_price, cost_price, stock, min_stock, COALESCE(sku, ''), image_url, created_at`

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.SalePrice, &p.CostPrice, &p.Stock, &p.MinStock, &p.SKU, &p.ImageURL, &p.CreatedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, err
}

func validProduct(p domain.Product) bool {
	return strings.TrimSpace(p.Name) != "" &&
		strings.TrimSpace(p.Category) != "" &&
		p.SalePrice.IsPositive() &&
		!p.CostPrice.IsNegative() &&
		p.Stock >= 0 &&
		p.MinStock >= 0
}

func (s *Store) ListProducts(ctx context.Context, query string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE $1::text = ''
			OR name ILIKE '%' || $1 || '%'
			OR category ILIKE '%' || $1 || '%'
			OR COALESCE(sku, '') ILIKE '%' || $1 || '%'
		ORDER BY name
	`, strings.TrimSpace(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if !validProduct(product) {
		return nil, store.ErrInvalidInput
	}
	created, err := scanProduct(s.db.QueryRowContext(ctx, `
		INSERT INTO products (name, category, sale_price, cost_price, stock, min_stock, sku, image_url, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7, ''),$8,now())
		RETURNING `+productColumns,
		product.Name, product.Category, product.SalePrice, product.CostPrice, product.Stock, product.MinStock, product.SKU, product.ImageURL))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID < 1 || !validProduct(product) {
		return nil, store.ErrInvalidInput
	}
	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, sale_price = $4, cost_price = $5, stock = $6,
			min_stock = $7, sku = NULLIF($8, ''), image_url = $9
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.Name, product.Category, product.SalePrice, product.CostPrice, product.Stock, product.MinStock, product.SKU, product.ImageURL))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) DecrementStock(ctx context.Context, productID int64, qty int) error {
	return decrementStock(ctx, s.db, productID, qty)
}

// decrementStock only succeeds while enough units remain, so concurrent
// checkouts can never drive stock negative.
func decrementStock(ctx context.Context, q querier, productID int64, qty int) error {
	if qty < 1 {
		return store.ErrInvalidInput
	}
	res, err := q.ExecContext(ctx, `
		UPDATE products SET stock = stock - $2
		WHERE id = $1 AND stock >= $2
	`, productID, qty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrInsufficientStock
}

const clientColumns = `id, name, phone, notes, balance, created_at`

func scanClient(row scanner) (domain.Client, error) {
	var c domain.Client
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Notes, &c.Balance, &c.CreatedAt)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, err
}

func (s *Store) ListClients(ctx context.Context, query string) ([]domain.Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE $1::text = '' OR name ILIKE '%' || $1 || '%' OR phone ILIKE '%' || $1 || '%'
		ORDER BY balance DESC, name
	`, strings.TrimSpace(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clients := make([]domain.Client, 0, 32)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return clients, nil
}

func (s *Store) GetClient(ctx context.Context, id int64) (*domain.Client, error) {
	return getClient(ctx, s.db, id, false)
}

func getClient(ctx context.Context, q querier, id int64, forUpdate bool) (*domain.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	c, err := scanClient(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	if strings.TrimSpace(client.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	created, err := scanClient(s.db.QueryRowContext(ctx, `
		INSERT INTO clients (name, phone, notes, balance, created_at)
		VALUES ($1,$2,$3,$4,now())
		RETURNING `+clientColumns,
		client.Name, client.Phone, client.Notes, client.Balance))
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) UpdateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	if client.ID < 1 || strings.TrimSpace(client.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	updated, err := scanClient(s.db.QueryRowContext(ctx, `
		UPDATE clients SET name = $2, phone = $3, notes = $4
		WHERE id = $1
		RETURNING `+clientColumns,
		client.ID, client.Name, client.Phone, client.Notes))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	return updateBalance(ctx, s.db, id, balance)
}

func updateBalance(ctx context.Context, q querier, id int64, balance decimal.Decimal) error {
	res, err := q.ExecContext(ctx, `UPDATE clients SET balance = $2 WHERE id = $1`, id, balance)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) InsertSaleHeader(ctx context.Context, sale domain.Sale) (int64, error) {
	return insertSaleHeader(ctx, s.db, sale)
}

func insertSaleHeader(ctx context.Context, q querier, sale domain.Sale) (int64, error) {
	if sale.Total.IsNegative() || sale.PaymentMethod == "" {
		return 0, store.ErrInvalidInput
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusCompleted
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO sales (total, payment_method, client_id, operator_id, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, sale.Total, string(sale.PaymentMethod), sale.ClientID, sale.OperatorID, sale.Status, sale.CreatedAt).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return id, nil
}

func (s *Store) InsertSaleLines(ctx context.Context, saleID int64, lines []domain.SaleLine) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertSaleLines(ctx, tx, saleID, lines); err != nil {
		return err
	}
	return tx.Commit()
}

func insertSaleLines(ctx context.Context, q querier, saleID int64, lines []domain.SaleLine) error {
	for _, line := range lines {
		if line.Quantity < 1 || strings.TrimSpace(line.Description) == "" {
			return store.ErrInvalidInput
		}
	}
	for _, line := range lines {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, product_id, description, quantity, unit_price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, saleID, line.ProductID, line.Description, line.Quantity, line.UnitPrice, line.Subtotal); err != nil {
			if isForeignKeyViolation(err) {
				return store.ErrNotFound
			}
			return err
		}
	}
	return nil
}

const saleColumns = `id, total, payment_method, client_id, operator_id, status, created_at`

func scanSale(row scanner) (domain.Sale, error) {
	var (
		sale     domain.Sale
		method   string
		clientID sql.NullInt64
	)
	if err := row.Scan(&sale.ID, &sale.Total, &method, &clientID, &sale.OperatorID, &sale.Status, &sale.CreatedAt); err != nil {
		return domain.Sale{}, err
	}
	sale.PaymentMethod = domain.PaymentMethod(method)
	if clientID.Valid {
		id := clientID.Int64
		sale.ClientID = &id
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.Lines = []domain.SaleLine{}
	return sale, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	sales, err := s.querySales(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return nil, store.ErrNotFound
	}
	return &sales[0], nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 50
	}
	return s.querySales(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
}

func (s *Store) ListSalesSince(ctx context.Context, since time.Time) ([]domain.Sale, error) {
	return s.querySales(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE created_at >= $1
		ORDER BY created_at DESC, id DESC
	`, since)
}

func (s *Store) ListPendingWebOrders(ctx context.Context) ([]domain.Sale, error) {
	return s.querySales(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE payment_method = $1 AND status = $2
		ORDER BY created_at, id
	`, string(domain.PaymentWeb), domain.SaleStatusPending)
}

// querySales loads sale headers and attaches their lines with one extra query.
func (s *Store) querySales(ctx context.Context, query string, args ...any) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, 16)
	index := map[int64]int{}
	ids := make([]int64, 0, 16)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[sale.ID] = len(sales)
		ids = append(ids, sale.ID)
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if len(ids) == 0 {
		return sales, nil
	}

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, product_id, description, quantity, unit_price, subtotal
		FROM sale_lines
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var (
			line      domain.SaleLine
			productID sql.NullInt64
		)
		if err := lineRows.Scan(&line.SaleID, &productID, &line.Description, &line.Quantity, &line.UnitPrice, &line.Subtotal); err != nil {
			return nil, err
		}
		if productID.Valid {
			id := productID.Int64
			line.ProductID = &id
		}
		i := index[line.SaleID]
		sales[i].Lines = append(sales[i].Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) CompleteWebOrder(ctx context.Context, id int64) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockPendingWebOrder(ctx, tx, id); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sales SET status = $2, payment_method = $3 WHERE id = $1`,
		id, domain.SaleStatusCompleted, string(domain.PaymentWebCash)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetSale(ctx, id)
}

func (s *Store) DeletePendingSale(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockPendingWebOrder(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func lockPendingWebOrder(ctx context.Context, q querier, id int64) error {
	var method, status string
	err := q.QueryRowContext(ctx, `SELECT payment_method, status FROM sales WHERE id = $1 FOR UPDATE`, id).Scan(&method, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if !domain.PaymentMethod(method).WebOrder() {
		return store.ErrNotFound
	}
	if status != domain.SaleStatusPending {
		return store.ErrConflict
	}
	return nil
}

// CommitCheckout applies the whole checkout in one serializable transaction.
// The first failing step is reported and nothing is kept.
func (s *Store) CommitCheckout(ctx context.Context, commit store.CheckoutCommit) (int64, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	sale := commit.Sale
	if sale.PaymentMethod == domain.PaymentAccount {
		if sale.ClientID == nil {
			return 0, &store.StepError{Step: store.StepClientBalance, Err: store.ErrInvalidInput}
		}
		client, err := getClient(ctx, tx, *sale.ClientID, true)
		if err != nil {
			return 0, &store.StepError{Step: store.StepClientBalance, Err: err}
		}
		if err := updateBalance(ctx, tx, client.ID, client.Balance.Add(sale.Total)); err != nil {
			return 0, &store.StepError{Step: store.StepClientBalance, Err: err}
		}
	}

	id, err := insertSaleHeader(ctx, tx, sale)
	if err != nil {
		return 0, &store.StepError{Step: store.StepSaleHeader, Err: err}
	}
	if err := insertSaleLines(ctx, tx, id, sale.Lines); err != nil {
		return 0, &store.StepError{Step: store.StepSaleLines, Err: err}
	}
	for _, d := range commit.Decrements {
		if err := decrementStock(ctx, tx, d.ProductID, d.Quantity); err != nil {
			return 0, &store.StepError{Step: store.StepStockDecrement, Err: fmt.Errorf("product %d: %w", d.ProductID, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
