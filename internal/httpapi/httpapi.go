package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/unrolled/secure"

	"fotocopias/backend/internal/cart"
	"fotocopias/backend/internal/domain"
	"fotocopias/backend/internal/observability"
	"fotocopias/backend/internal/service"
	"fotocopias/backend/internal/store"
)

type Config struct {
	AllowedOrigin string
	Production    bool
	// LoginAttempts per minute and client IP.
	LoginAttempts int
}

type API struct {
	service   *service.Service
	auth      *AuthManager
	cfg       Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	validate  *validator.Validate
	csrf      *csrfSigner
	secureMid *secure.Secure
	router    http.Handler
}

func New(svc *service.Service, auth *AuthManager, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *API {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LoginAttempts <= 0 {
		cfg.LoginAttempts = 5
	}
	secret := make([]byte, 32)
	_, _ = rand.Read(secret)

	a := &API{
		service:  svc,
		auth:     auth,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		validate: validator.New(),
		csrf:     &csrfSigner{secret: secret},
		secureMid: secure.New(secure.Options{
			FrameDeny:             true,
			ContentTypeNosniff:    true,
			BrowserXssFilter:      true,
			ReferrerPolicy:        "strict-origin-when-cross-origin",
			ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
			SSLRedirect:           cfg.Production,
			SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
			IsDevelopment:         !cfg.Production,
		}),
	}
	a.router = a.routes()
	return a
}

// Handler returns the router. It is built once so rate limit state is shared
// by every caller.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, chimw.RequestID, chimw.Recoverer)
	r.Use(a.metrics.Middleware)
	r.Use(a.requestLog, a.secureHeaders, a.cors, a.limitBody, a.checkCSRF)

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", a.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.With(httprate.Limit(a.cfg.LoginAttempts, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))).
			Post("/auth/login", a.handleLogin)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleCashier, domain.RoleAdmin))

			r.Get("/products", a.handleListProducts)
			r.Get("/products/low-stock", a.handleLowStock)

			r.Get("/clients", a.handleListClients)
			r.Post("/clients", a.handleCreateClient)
			r.Get("/clients/{id}", a.handleGetClient)
			r.Patch("/clients/{id}", a.handleUpdateClient)
			r.Post("/clients/{id}/adjustments", a.handleAdjustBalance)

			r.Get("/ticket", a.handleGetTicket)
			r.Delete("/ticket", a.handleClearTicket)
			r.Post("/ticket/items", a.handleAddTicketItem)
			r.Post("/ticket/manual", a.handleAddManualLine)
			r.Patch("/ticket/items/{lineID}", a.handleSetTicketQuantity)
			r.Delete("/ticket/items/{lineID}", a.handleRemoveTicketLine)

			r.Post("/calculator/quote", a.handleQuote)
			r.Post("/checkout", a.handleCheckout)
			r.Get("/receipts/last", a.handleLastReceipt)

			r.Get("/sales", a.handleListSales)
			r.Get("/sales/{id}/receipt", a.handleSaleReceipt)
			r.Get("/dashboard", a.handleDashboard)

			r.Get("/web-orders", a.handleListWebOrders)
			r.Post("/web-orders/{id}/complete", a.handleCompleteWebOrder)
			r.Delete("/web-orders/{id}", a.handleCancelWebOrder)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleAdmin))

			r.Post("/products", a.handleCreateProduct)
			r.Get("/products/{id}", a.handleGetProduct)
			r.Patch("/products/{id}", a.handleUpdateProduct)
			r.Delete("/products/{id}", a.handleDeleteProduct)

			r.Get("/users/cashiers", a.handleListCashiers)
			r.Post("/users/cashiers", a.handleCreateCashier)
			r.Get("/audit-logs", a.handleAuditLogs)
		})
	})
	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}
			actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}
			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(startedAt),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func (a *API) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.secureMid.Process(w, r); err != nil {
			a.logger.WarnContext(r.Context(), "secure headers blocked request", "error", err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", a.cfg.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Add("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		next.ServeHTTP(w, r)
	})
}

// decodeJSON reads a strict JSON body and runs struct tag validation.
func (a *API) decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	if err := a.validate.Struct(dest); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" failed "+fe.Tag())
			}
			return badRequest("validation failed: " + strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}

type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string {
	return e.msg
}

func badRequest(msg string) error {
	return &badRequestError{msg: msg}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid " + name)
	}
	return id, nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps service and store errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		authErr    *service.AuthError
		persistErr *service.PersistenceError
		svcInvalid *service.ValidationError
		cartErr    *cart.ValidationError
		badReq     *badRequestError
	)
	switch {
	case errors.As(err, &persistErr):
		return http.StatusBadGateway
	case errors.As(err, &authErr), errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInactiveAccount):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrCheckoutInProgress),
		errors.Is(err, cart.ErrInsufficientStock),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound), errors.Is(err, service.ErrNoReceipt), errors.Is(err, cart.ErrLineNotFound):
		return http.StatusNotFound
	case errors.As(err, &svcInvalid), errors.As(err, &cartErr), errors.As(err, &badReq), errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusBadGateway {
		// Checkout store failures are shown verbatim to the operator.
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}
	if status >= 500 {
		a.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
