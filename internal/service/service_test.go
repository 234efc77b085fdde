package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fotocopias/backend/internal/cache"
	"fotocopias/backend/internal/cart"
	"fotocopias/backend/internal/domain"
	"fotocopias/backend/internal/pricing"
	"fotocopias/backend/internal/store"
	"fotocopias/backend/internal/store/memory"
)

// Seeded catalog ids, in creation order.
const (
	productCuaderno int64 = 1
	productGeometry int64 = 2
	productMochila  int64 = 5
	clientLibreria  int64 = 1
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, repo store.Repository, opts Options) *Service {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	return New(repo, opts)
}

func cashierCtx(username string) context.Context {
	return WithActor(context.Background(), domain.Actor{Username: username, Role: domain.RoleCashier})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func productStock(t *testing.T, repo store.Repository, id int64) int {
	t.Helper()
	p, err := repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

// failingStockRepo accepts every write except stock decrements.
type failingStockRepo struct {
	store.Repository
}

func (failingStockRepo) DecrementStock(context.Context, int64, int) error {
	return errors.New("stock table locked")
}

// blockingRepo parks the sale header write until release is closed.
type blockingRepo struct {
	store.Repository
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingRepo) InsertSaleHeader(ctx context.Context, sale domain.Sale) (int64, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.Repository.InsertSaleHeader(ctx, sale)
}

func TestOperationsRequireOperator(t *testing.T) {
	svc := newTestService(t, memory.NewSeeded(), Options{})

	_, err := svc.Ticket(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.ErrorIs(t, err, ErrNoOperator)

	_, err = svc.Checkout(context.Background(), CheckoutRequest{PaymentMethod: domain.PaymentCash})
	require.ErrorAs(t, err, &authErr)
}

func TestCashCheckoutRecordsSale(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newTestService(t, repo, Options{})
	ctx := cashierCtx("ana")

	_, err := svc.AddToTicket(ctx, productCuaderno, 2)
	require.NoError(t, err)
	ticket, err := svc.AddManualToTicket(ctx, "Escaneo", decimal.NewFromInt(300), 3)
	require.NoError(t, err)
	require.True(t, ticket.Total.Equal(decimal.NewFromInt(9900)))

	result, err := svc.Checkout(ctx, CheckoutRequest{PaymentMethod: domain.PaymentCash})
	require.NoError(t, err)
	assert.Equal(t, StateSettled, result.State)
	assert.Equal(t, NoticeSuccess, result.Notice.Level)
	require.NotNil(t, result.Sale)
	require.NotNil(t, result.Receipt)
	assert.False(t, result.Receipt.Provisional)
	assert.Empty(t, result.Ticket.Lines)

	sales, err := repo.ListSales(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	sale := sales[0]
	assert.True(t, sale.Total.Equal(decimal.NewFromInt(9900)))
	assert.Equal(t, "ana", sale.OperatorID)
	assert.Equal(t, domain.SaleStatusCompleted, sale.Status)
	require.Len(t, sale.Lines, 2)

	sum := decimal.Zero
	for _, line := range sale.Lines {
		sum = sum.Add(line.Subtotal)
	}
	assert.True(t, sum.Equal(sale.Total), "lines must add up to the sale total")
	assert.Equal(t, 22, productStock(t, repo, productCuaderno))

	rec, err := svc.LastReceipt(ctx)
	require.NoError(t, err)
	assert.Equal(t, sale.ID, rec.SaleID)
	assert.Contains(t, rec.PreviewText, "Ticket #000001")
}

func TestAccountCheckoutChargesClient(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newTestService(t, repo, Options{})
	ctx := cashierCtx("ana")

	_, err := svc.AddToTicket(ctx, productGeometry, 2)
	require.NoError(t, err)

	clientID := clientLibreria
	_, err = svc.Checkout(ctx, CheckoutRequest{PaymentMethod: domain.PaymentAccount, ClientID: &clientID})
	require.NoError(t, err)

	client, err := repo.GetClient(context.Background(), clientLibreria)
	require.NoError(t, err)
	assert.True(t, client.Balance.Equal(decimal.NewFromInt(14400)), "got balance %s", client.Balance)
}

func TestAccountCheckoutWithoutClientIsRejectedBeforeWrites(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newTestService(t, repo, Options{})
	ctx := cashierCtx("ana")

	_, err := svc.AddToTicket(ctx, productCuaderno, 1)
	require.NoError(t, err)

	result, err := svc.Checkout(ctx, CheckoutRequest{PaymentMethod: domain.PaymentAccount})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrClientRequired)
	assert.Equal(t, StateIdle, result.State)
	assert.Len(t, result.Ticket.Lines, 1)

	sales, err := repo.ListSales(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, sales)
	assert.Equal(t, 24, productStock(t, repo, productCuaderno))
}

func TestCheckoutValidation(t *testing.T) {
	svc := newTestService(t, memory.NewSeeded(), Options{})
	ctx := cashierCtx("ana")

	_, err := svc.Checkout(ctx, CheckoutRequest{PaymentMethod: domain.PaymentCash})
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = svc.AddToTicket(ctx, productCuaderno, 1)
	require.NoError(t, err)
	_, err = svc.Checkout(ctx, CheckoutRequest{PaymentMethod: domain.PaymentWeb})
	assert.ErrorIs(t, err, ErrInvalidPayment)
}

func TestStockDecrementFailureRestoresTicket(t *testing.T) {
	mem := memory.NewSeeded()
	svc := newTestService(t, failingStockRepo{Repository: mem}, Options{})
	ctx := cashierCtx("ana")

	_, err := svc.AddToTicket(ctx, productCuaderno, 2)
	require.NoError(t, err)

	result, err := svc.Checkout(ctx, CheckoutRequest{PaymentMethod: domain.PaymentCash})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, store.StepStockDecrement, perr.Step)
	assert.Equal(t, StateRolledBack, result.State)
	assert.Equal(t, NoticeError, result.Notice.Level)
	assert.Nil(t, result.Sale)

	require.Len(t, result.Ticket.Lines, 1)
	assert.Equal(t, 2, result.Ticket.Lines[0].Quantity)

	// Writes before the failing step are kept.
	sales, err := mem.ListSales(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Len(t, sales[0].Lines, 1)
	assert.Equal(t, 24, productStock(t, mem, productCuaderno))

	_, err = svc.LastReceipt(ctx)
	assert.ErrorIs(t, err, ErrNoReceipt)
}

func TestRolledBackCheckoutKeepsPreviousReceipt(t *testing.T) {
	mem := memory.NewSeeded()
	ctx := cashierCtx("ana")

	ok := newTestService(t, mem, Options{})
	_, err := ok.AddManualToTicket(ctx, "Anillado", decimal.NewFromInt(1500), 1)
	require.NoError(t, err)
	_, err = ok.Checkout(ctx, CheckoutRequest{PaymentMethod: domain.PaymentCash})
	require.NoError(t, err)

	// Same session registry, failing store.
	ok.repo = failingStockRepo{Repository: mem}
	_, err = ok.AddToTicket(ctx, productCuaderno, 1)
	require.NoError(t, err)
	_, err = ok.Checkout(ctx, CheckoutRequest{PaymentMethod: domain.PaymentCash})
	require.Error(t, err)

	rec, err := ok.LastReceipt(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.SaleID)
}

func TestAtomicCheckoutLeavesNoPartialSale(t *testing.T) {
	mem := memory.NewSeeded()
	svc := newTestService(t, mem, Options{AtomicCheckout: true})
	ctx := cashierCtx("ana")

	_, err := svc.AddToTicket(ctx, productGeometry, 5)
	require.NoError(t, err)
	// Another terminal sells one unit first.
	require.NoError(t, mem.DecrementStock(context.Background(), productGeometry, 1))

	clientID := clientLibreria
	result, err := svc.Checkout(ctx, CheckoutRequest{PaymentMethod: domain.PaymentAccount, ClientID: &clientID})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, store.StepStockDecrement, perr.Step)
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, StateRolledBack, result.State)

	sales, err := mem.ListSales(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, sales)
	client, err := mem.GetClient(context.Background(), clientLibreria)
	require.NoError(t, err)
	assert.True(t, client.Balance.Equal(decimal.NewFromInt(12000)))
	assert.Equal(t, 4, productStock(t, mem, productGeometry))
}

func TestCheckoutPublishesProvisionalReceiptAndRefusesSecondCheckout(t *testing.T) {
	repo := &blockingRepo{
		Repository: memory.NewSeeded(),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	svc := newTestService(t, repo, Options{})
	ctx := cashierCtx("ana")

	_, err := svc.AddToTicket(ctx, productCuaderno, 1)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Checkout(ctx, CheckoutRequest{PaymentMethod: domain.PaymentCash})
		done <- err
	}()

	select {
	case <-repo.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("checkout never reached the store")
	}

	rec, err := svc.LastReceipt(ctx)
	require.NoError(t, err)
	assert.True(t, rec.Provisional)
	assert.Equal(t, int64(0), rec.SaleID)
	assert.Contains(t, rec.PreviewText, "Ticket #------")

	ticket, err := svc.Ticket(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCommitting, ticket.State)
	assert.Empty(t, ticket.Lines)

	_, err = svc.Checkout(ctx, CheckoutRequest{PaymentMethod: domain.PaymentCash})
	assert.ErrorIs(t, err, ErrCheckoutInProgress)

	// Other operators are not blocked by ana's session.
	_, err = svc.AddToTicket(cashierCtx("beto"), productCuaderno, 1)
	require.NoError(t, err)

	close(repo.release)
	require.NoError(t, <-done)

	rec, err = svc.LastReceipt(ctx)
	require.NoError(t, err)
	assert.False(t, rec.Provisional)
	assert.Equal(t, int64(1), rec.SaleID)
}

func TestRollbackReportsLinesScannedDuringCheckout(t *testing.T) {
	repo := &blockingRepo{
		Repository: failingStockRepo{Repository: memory.NewSeeded()},
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	svc := newTestService(t, repo, Options{})
	ctx := cashierCtx("ana")

	_, err := svc.AddToTicket(ctx, productCuaderno, 1)
	require.NoError(t, err)

	done := make(chan CheckoutResult, 1)
	go func() {
		result, _ := svc.Checkout(ctx, CheckoutRequest{PaymentMethod: domain.PaymentCash})
		done <- result
	}()

	select {
	case <-repo.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("checkout never reached the store")
	}

	// The ticket was cleared, so the next customer can be served.
	ticket, err := svc.AddManualToTicket(ctx, "Escaneo", decimal.NewFromInt(300), 1)
	require.NoError(t, err)
	require.Len(t, ticket.Lines, 1)

	close(repo.release)
	result := <-done

	assert.Equal(t, StateRolledBack, result.State)
	assert.Equal(t, NoticeError, result.Notice.Level)
	assert.Contains(t, result.Notice.Message, "1 line(s) scanned during the checkout were discarded")
	require.Len(t, result.Ticket.Lines, 1)
	assert.Equal(t, cart.CatalogLineID(productCuaderno), result.Ticket.Lines[0].LineID)
}

func TestConcurrentOperatorsNeverOversell(t *testing.T) {
	mem := memory.NewSeeded()
	svc := newTestService(t, mem, Options{AtomicCheckout: true})

	operators := []string{"ana", "beto", "carla", "dario"}
	for _, op := range operators {
		_, err := svc.AddToTicket(cashierCtx(op), productGeometry, 3)
		require.NoError(t, err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
	)
	for _, op := range operators {
		wg.Add(1)
		go func(op string) {
			defer wg.Done()
			result, _ := svc.Checkout(cashierCtx(op), CheckoutRequest{PaymentMethod: domain.PaymentCash})
			if result.State == StateSettled {
				mu.Lock()
				settled++
				mu.Unlock()
			}
		}(op)
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
	assert.Equal(t, 2, productStock(t, mem, productGeometry))
	sales, err := mem.ListSales(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, sales, 1)
}

func TestCheckoutInvalidatesReadModels(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newTestService(t, repo, Options{Cache: cache.NewMemory(), CacheTTL: time.Hour})
	ctx := cashierCtx("ana")

	findStock := func() int {
		products, err := svc.ListProducts(ctx, "")
		require.NoError(t, err)
		for _, p := range products {
			if p.ID == productCuaderno {
				return p.Stock
			}
		}
		t.Fatalf("product %d missing from catalog", productCuaderno)
		return 0
	}
	require.Equal(t, 24, findStock())

	sales, err := svc.ListSales(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, sales)

	_, err = svc.AddToTicket(ctx, productCuaderno, 4)
	require.NoError(t, err)
	_, err = svc.Checkout(ctx, CheckoutRequest{PaymentMethod: domain.PaymentCash})
	require.NoError(t, err)

	assert.Equal(t, 20, findStock())
	sales, err = svc.ListSales(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, sales, 1)
}

func TestTicketOperations(t *testing.T) {
	svc := newTestService(t, memory.NewSeeded(), Options{})
	ctx := cashierCtx("ana")

	_, err := svc.AddToTicket(ctx, productGeometry, 6)
	assert.ErrorIs(t, err, cart.ErrInsufficientStock)

	_, err = svc.AddToTicket(ctx, productMochila, 1)
	assert.ErrorIs(t, err, cart.ErrInsufficientStock)

	_, err = svc.AddToTicket(ctx, 999, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)

	ticket, err := svc.AddToTicket(ctx, productGeometry, 2)
	require.NoError(t, err)
	lineID := ticket.Lines[0].LineID

	ticket, err = svc.SetTicketQuantity(ctx, lineID, 5)
	require.NoError(t, err)
	assert.True(t, ticket.Total.Equal(decimal.NewFromInt(6000)))

	_, err = svc.SetTicketQuantity(ctx, lineID, 6)
	assert.ErrorIs(t, err, cart.ErrInsufficientStock)

	ticket, err = svc.RemoveFromTicket(ctx, lineID)
	require.NoError(t, err)
	assert.Empty(t, ticket.Lines)

	_, err = svc.AddManualToTicket(ctx, "Encuadernación", decimal.NewFromInt(2000), 1)
	require.NoError(t, err)
	ticket, err = svc.ClearTicket(ctx)
	require.NoError(t, err)
	assert.Empty(t, ticket.Lines)
	assert.True(t, ticket.Total.IsZero())

	// Tickets are per operator.
	_, err = svc.AddManualToTicket(ctx, "Escaneo", decimal.NewFromInt(300), 1)
	require.NoError(t, err)
	other, err := svc.Ticket(cashierCtx("beto"))
	require.NoError(t, err)
	assert.Empty(t, other.Lines)
}

func TestQuantityEditRespectsStockSoldByAnotherOperator(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newTestService(t, repo, Options{})
	ana := cashierCtx("ana")
	beto := cashierCtx("beto")

	_, err := svc.AddToTicket(ana, productGeometry, 1)
	require.NoError(t, err)
	_, err = svc.AddToTicket(beto, productGeometry, 4)
	require.NoError(t, err)
	_, err = svc.Checkout(beto, CheckoutRequest{PaymentMethod: domain.PaymentCash})
	require.NoError(t, err)
	require.Equal(t, 1, productStock(t, repo, productGeometry))

	before, err := repo.ListSales(context.Background(), 50)
	require.NoError(t, err)

	ticket, err := svc.SetTicketQuantity(ana, cart.CatalogLineID(productGeometry), 5)
	assert.ErrorIs(t, err, cart.ErrInsufficientStock)
	require.Len(t, ticket.Lines, 1)
	assert.Equal(t, 1, ticket.Lines[0].Quantity)

	result, err := svc.Checkout(ana, CheckoutRequest{PaymentMethod: domain.PaymentCash})
	require.NoError(t, err)
	assert.Equal(t, StateSettled, result.State)

	after, err := repo.ListSales(context.Background(), 50)
	require.NoError(t, err)
	assert.Len(t, after, len(before)+1)
	assert.Equal(t, 0, productStock(t, repo, productGeometry))
}

func TestQuantityEditOfDeletedProduct(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newTestService(t, repo, Options{})
	ctx := cashierCtx("ana")

	_, err := svc.AddToTicket(ctx, productGeometry, 1)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteProduct(adminCtx(), productGeometry))

	_, err = svc.SetTicketQuantity(ctx, cart.CatalogLineID(productGeometry), 2)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestQuotePrintJobAddsManualLine(t *testing.T) {
	svc := newTestService(t, memory.NewSeeded(), Options{})
	ctx := cashierCtx("ana")

	job := pricing.Job{Copies: 2, Pages: 2, Mode: pricing.Mono, Size: pricing.A4, Binding: true, Lamination: true}
	result, err := svc.QuotePrintJob(ctx, job, false)
	require.NoError(t, err)
	assert.Nil(t, result.Ticket)
	assert.True(t, result.Quote.Total.Equal(decimal.NewFromInt(5200)))

	result, err = svc.QuotePrintJob(ctx, job, true)
	require.NoError(t, err)
	require.NotNil(t, result.Ticket)
	require.Len(t, result.Ticket.Lines, 1)
	line := result.Ticket.Lines[0]
	assert.Equal(t, cart.KindManual, line.Kind)
	assert.Equal(t, "Fotocopias BN A4 (2 págs) + Anillado + Plastificado", line.Name)
	assert.Equal(t, 2, line.Quantity)
	assert.True(t, line.UnitPrice.Equal(decimal.NewFromInt(2600)))

	_, err = svc.QuotePrintJob(ctx, pricing.Job{Copies: 0, Pages: 1, Mode: pricing.Mono, Size: pricing.A4}, false)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, pricing.ErrInvalidJob)
}

func TestProductAdministration(t *testing.T) {
	svc := newTestService(t, memory.NewSeeded(), Options{Cache: cache.NewMemory()})

	_, err := svc.CreateProduct(cashierCtx("ana"), domain.ProductCreateRequest{Name: "Lápiz", Category: "Escolar", SalePrice: decimal.NewFromInt(300)})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{Name: "Lápiz", Category: "Cocina", SalePrice: decimal.NewFromInt(300)})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	created, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:      "Lápiz Grafito",
		Category:  "Escolar",
		SalePrice: decimal.NewFromInt(300),
		CostPrice: decimal.NewFromInt(120),
		Stock:     3,
		SKU:       " lap-hb ",
	})
	require.NoError(t, err)
	assert.Equal(t, "LAP-HB", created.SKU)
	assert.Equal(t, 5, created.MinStock)
	assert.True(t, created.CostPrice.Equal(decimal.NewFromInt(120)))

	low, err := svc.LowStock(cashierCtx("ana"))
	require.NoError(t, err)
	names := make([]string, 0, len(low))
	for _, p := range low {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"Mochila Básica", "Lápiz Grafito"}, names)

	stock := 40
	updated, err := svc.UpdateProduct(adminCtx(), created.ID, domain.ProductUpdateRequest{Stock: &stock})
	require.NoError(t, err)
	assert.Equal(t, 40, updated.Stock)

	require.NoError(t, svc.DeleteProduct(adminCtx(), created.ID))
	_, err = svc.GetProduct(adminCtx(), created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	logs, err := svc.ListAuditLogs(adminCtx(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "product_delete", logs[0].Action)

	_, err = svc.ListAuditLogs(cashierCtx("ana"), 10)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestClientAccounts(t *testing.T) {
	svc := newTestService(t, memory.NewSeeded(), Options{Cache: cache.NewMemory()})
	ctx := cashierCtx("ana")

	created, err := svc.CreateClient(ctx, domain.ClientCreateRequest{Name: "  Colegio San José ", Phone: "555-0300"})
	require.NoError(t, err)
	assert.Equal(t, "Colegio San José", created.Name)

	_, err = svc.CreateClient(ctx, domain.ClientCreateRequest{Name: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	client, err := svc.AdjustBalance(ctx, clientLibreria, domain.BalanceAdjustmentRequest{Kind: AdjustmentPayment, Amount: decimal.NewFromInt(2000)})
	require.NoError(t, err)
	assert.True(t, client.Balance.Equal(decimal.NewFromInt(10000)))

	client, err = svc.AdjustBalance(ctx, created.ID, domain.BalanceAdjustmentRequest{Kind: AdjustmentCharge, Amount: decimal.NewFromInt(700)})
	require.NoError(t, err)
	assert.True(t, client.Balance.Equal(decimal.NewFromInt(700)))

	_, err = svc.AdjustBalance(ctx, clientLibreria, domain.BalanceAdjustmentRequest{Kind: AdjustmentPayment, Amount: decimal.Zero})
	assert.ErrorIs(t, err, ErrInvalidInput)

	clients, err := svc.ListClients(ctx, "")
	require.NoError(t, err)
	require.Len(t, clients, 3)
	assert.Equal(t, "Librería del Centro", clients[0].Name)

	name := "Colegio San José de Calasanz"
	updated, err := svc.UpdateClient(ctx, created.ID, domain.ClientUpdateRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)

	logs, err := svc.ListAuditLogs(adminCtx(), 50)
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, entry := range logs {
		actions = append(actions, entry.Action)
	}
	assert.Contains(t, actions, "client_create")
	assert.Contains(t, actions, "client_balance_"+AdjustmentCharge)
	assert.Contains(t, actions, "client_update")

	_, err = svc.GetClient(ctx, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWebOrders(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newTestService(t, repo, Options{})
	ctx := cashierCtx("ana")

	insert := func(total int64) int64 {
		id, err := repo.InsertSaleHeader(context.Background(), domain.Sale{
			Total:         decimal.NewFromInt(total),
			PaymentMethod: domain.PaymentWeb,
			OperatorID:    "web",
			Status:        domain.SaleStatusPending,
		})
		require.NoError(t, err)
		return id
	}
	first := insert(4500)
	second := insert(1200)

	orders, err := svc.ListWebOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	sale, err := svc.CompleteWebOrder(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCompleted, sale.Status)
	assert.Equal(t, domain.PaymentWebCash, sale.PaymentMethod)

	_, err = svc.CompleteWebOrder(ctx, first)
	assert.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, svc.CancelWebOrder(ctx, second))
	_, err = repo.GetSale(context.Background(), second)
	assert.ErrorIs(t, err, store.ErrNotFound)

	orders, err = svc.ListWebOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestDashboardCountsCompletedSalesToday(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newTestService(t, repo, Options{})
	ctx := cashierCtx("ana")

	_, err := svc.AddToTicket(ctx, productCuaderno, 2)
	require.NoError(t, err)
	_, err = svc.Checkout(ctx, CheckoutRequest{PaymentMethod: domain.PaymentCash})
	require.NoError(t, err)

	_, err = repo.InsertSaleHeader(context.Background(), domain.Sale{
		Total:         decimal.NewFromInt(3200),
		PaymentMethod: domain.PaymentWeb,
		OperatorID:    "web",
		Status:        domain.SaleStatusPending,
	})
	require.NoError(t, err)

	dash, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dash.SalesToday)
	assert.True(t, dash.RevenueToday.Equal(decimal.NewFromInt(9000)), "got revenue %s", dash.RevenueToday)
	assert.Equal(t, 1, dash.LowStockCount)
	assert.Len(t, dash.RecentSales, 2)
}

func TestDashboardDayStartsAtUTCMidnight(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newTestService(t, repo, Options{})
	svc.now = func() time.Time { return time.Date(2026, 10, 15, 1, 30, 0, 0, time.UTC) }

	for _, at := range []time.Time{
		time.Date(2026, 10, 14, 23, 45, 0, 0, time.UTC),
		time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 15, 1, 0, 0, 0, time.UTC),
	} {
		_, err := repo.InsertSaleHeader(context.Background(), domain.Sale{
			Total:         decimal.NewFromInt(1000),
			PaymentMethod: domain.PaymentCash,
			OperatorID:    "ana",
			CreatedAt:     at,
		})
		require.NoError(t, err)
	}

	dash, err := svc.Dashboard(cashierCtx("ana"))
	require.NoError(t, err)
	assert.Equal(t, 2, dash.SalesToday)
	assert.True(t, dash.RevenueToday.Equal(decimal.NewFromInt(2000)), "got revenue %s", dash.RevenueToday)
}

func TestSaleReceipt(t *testing.T) {
	svc := newTestService(t, memory.NewSeeded(), Options{})
	ctx := cashierCtx("ana")

	_, err := svc.AddToTicket(ctx, productGeometry, 1)
	require.NoError(t, err)
	result, err := svc.Checkout(ctx, CheckoutRequest{PaymentMethod: domain.PaymentDebit})
	require.NoError(t, err)

	rec, err := svc.SaleReceipt(ctx, result.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, "receipt-000001.bin", rec.FileName)
	assert.NotEmpty(t, rec.EscposBase64)
	assert.Contains(t, rec.PreviewText, "Set de Geometría")

	_, err = svc.SaleReceipt(ctx, 42)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
