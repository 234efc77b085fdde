package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fotocopias/backend/internal/cache"
	"fotocopias/backend/internal/cart"
	"fotocopias/backend/internal/domain"
	"fotocopias/backend/internal/pricing"
	"fotocopias/backend/internal/readmodel"
	"fotocopias/backend/internal/receipt"
	"fotocopias/backend/internal/store"
	"fotocopias/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Metrics receives checkout outcomes and read model lookups.
type Metrics interface {
	CheckoutOutcome(outcome string, paymentMethod string, elapsed time.Duration)
	CacheLookup(namespace string, hit bool)
}

type noopMetrics struct{}

func (noopMetrics) CheckoutOutcome(string, string, time.Duration) {}
func (noopMetrics) CacheLookup(string, bool)                      {}

type Options struct {
	Cache          cache.Store
	CacheTTL       time.Duration
	Tariff         pricing.Tariff
	Header         receipt.Header
	Logger         *slog.Logger
	Metrics        Metrics
	AtomicCheckout bool
}

const (
	nsCatalog = "catalog"
	nsClients = "clients"
	nsSales   = "sales"
)

type Service struct {
	repo     store.Repository
	calc     *pricing.Calculator
	header   receipt.Header
	logger   *slog.Logger
	metrics  Metrics
	atomic   bool
	sessions *sessions
	now      func() time.Time

	catalog *readmodel.Query[[]domain.Product]
	clients *readmodel.Query[[]domain.Client]
	sales   *readmodel.Query[[]domain.Sale]
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Cache == nil {
		opts.Cache = cache.Noop{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.Tariff == (pricing.Tariff{}) {
		opts.Tariff = pricing.DefaultTariff()
	}
	if opts.Header == (receipt.Header{}) {
		opts.Header = receipt.DefaultHeader()
	}

	rmOpts := []readmodel.Option{readmodel.WithLogger(opts.Logger), readmodel.WithRecorder(opts.Metrics)}
	return &Service{
		repo:     repo,
		calc:     pricing.NewCalculator(opts.Tariff),
		header:   opts.Header,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		atomic:   opts.AtomicCheckout,
		sessions: newSessions(),
		now:      func() time.Time { return time.Now().UTC() },
		catalog: readmodel.New(nsCatalog, opts.Cache, opts.CacheTTL, func(ctx context.Context, filter string) ([]domain.Product, error) {
			return repo.ListProducts(ctx, filter)
		}, rmOpts...),
		clients: readmodel.New(nsClients, opts.Cache, opts.CacheTTL, func(ctx context.Context, filter string) ([]domain.Client, error) {
			return repo.ListClients(ctx, filter)
		}, rmOpts...),
		sales: readmodel.New(nsSales, opts.Cache, opts.CacheTTL, func(ctx context.Context, filter string) ([]domain.Sale, error) {
			return repo.ListSales(ctx, parseLimit(filter))
		}, rmOpts...),
	}
}

func (s *Service) operator(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || strings.TrimSpace(actor.Username) == "" {
		return domain.Actor{}, &AuthError{Err: ErrNoOperator}
	}
	return actor, nil
}

func (s *Service) requireAdmin(ctx context.Context) error {
	actor, err := s.operator(ctx)
	if err != nil {
		return err
	}
	if actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

func (s *Service) session(ctx context.Context) (*Session, error) {
	actor, err := s.operator(ctx)
	if err != nil {
		return nil, err
	}
	return s.sessions.get(actor.Username), nil
}

func (s *Service) Ticket(ctx context.Context) (Ticket, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return Ticket{}, err
	}
	return sess.update(func(*cart.Cart) error { return nil })
}

// AddToTicket scans a catalog product into the operator's ticket using the
// product's current stock as the bound.
func (s *Service) AddToTicket(ctx context.Context, productID int64, qty int) (Ticket, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return Ticket{}, err
	}
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return Ticket{}, err
	}
	return sess.update(func(c *cart.Cart) error {
		return c.AddItem(cart.Item{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.SalePrice,
			Stock:     product.Stock,
		}, qty)
	})
}

func (s *Service) AddManualToTicket(ctx context.Context, description string, unitPrice decimal.Decimal, qty int) (Ticket, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return Ticket{}, err
	}
	return sess.update(func(c *cart.Cart) error {
		_, err := c.AddManual(description, unitPrice, qty)
		return err
	})
}

func (s *Service) SetTicketQuantity(ctx context.Context, lineID string, qty int) (Ticket, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return Ticket{}, err
	}
	productID, ok := cart.CatalogProductID(lineID)
	if !ok {
		return sess.update(func(c *cart.Cart) error {
			return c.SetQuantity(lineID, qty)
		})
	}
	// Other terminals may have sold units since the line was scanned.
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return Ticket{}, err
	}
	return sess.update(func(c *cart.Cart) error {
		return c.SetQuantityWithStock(lineID, qty, product.Stock)
	})
}

func (s *Service) RemoveFromTicket(ctx context.Context, lineID string) (Ticket, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return Ticket{}, err
	}
	return sess.update(func(c *cart.Cart) error {
		c.RemoveItem(lineID)
		return nil
	})
}

func (s *Service) ClearTicket(ctx context.Context) (Ticket, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return Ticket{}, err
	}
	return sess.update(func(c *cart.Cart) error {
		c.Clear()
		return nil
	})
}

// invalidate marks read models stale after a write. Failures only delay
// freshness, so they are logged and swallowed.
func (s *Service) invalidate(ctx context.Context, namespaces ...string) {
	for _, ns := range namespaces {
		var err error
		switch ns {
		case nsCatalog:
			err = s.catalog.Invalidate(ctx)
		case nsClients:
			err = s.clients.Invalidate(ctx)
		case nsSales:
			err = s.sales.Invalidate(ctx)
		}
		if err != nil {
			s.logger.WarnContext(ctx, "read model invalidation failed", "namespace", ns, "error", err)
		}
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log write failed", "action", action, "entity_type", entityType, "entity_id", entityID, "error", err)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, limit)
}
