package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"fotocopias/backend/internal/domain"
	"fotocopias/backend/internal/pricing"
	"fotocopias/backend/internal/service"
)

type ticketItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

type manualLineRequest struct {
	Description string          `json:"description" validate:"required,max=200"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity" validate:"required,gt=0"`
}

type quantityRequest struct {
	Quantity int `json:"quantity" validate:"gte=0"`
}

type quoteRequest struct {
	Job         pricing.Job `json:"job"`
	AddToTicket bool        `json:"add_to_ticket"`
}

type checkoutRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required,oneof=cash transfer debit credit account"`
	ClientID      *int64 `json:"client_id,omitempty" validate:"omitempty,gt=0"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.logger.WarnContext(r.Context(), "login rejected", "username", req.Username, "error", err)
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": products})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.LowStock(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	product, err := a.service.GetProduct(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	var req domain.ProductUpdateRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), id, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if err := a.service.DeleteProduct(r.Context(), id); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := a.service.ListClients(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": clients})
}

func (a *API) handleGetClient(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	client, err := a.service.GetClient(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (a *API) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req domain.ClientCreateRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	client, err := a.service.CreateClient(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, client)
}

func (a *API) handleUpdateClient(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	var req domain.ClientUpdateRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	client, err := a.service.UpdateClient(r.Context(), id, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (a *API) handleAdjustBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	var req domain.BalanceAdjustmentRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	client, err := a.service.AdjustBalance(r.Context(), id, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (a *API) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := a.service.Ticket(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (a *API) handleClearTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := a.service.ClearTicket(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (a *API) handleAddTicketItem(w http.ResponseWriter, r *http.Request) {
	var req ticketItemRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	ticket, err := a.service.AddToTicket(r.Context(), req.ProductID, req.Quantity)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (a *API) handleAddManualLine(w http.ResponseWriter, r *http.Request) {
	var req manualLineRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	ticket, err := a.service.AddManualToTicket(r.Context(), req.Description, req.UnitPrice, req.Quantity)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (a *API) handleSetTicketQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	ticket, err := a.service.SetTicketQuantity(r.Context(), chi.URLParam(r, "lineID"), req.Quantity)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (a *API) handleRemoveTicketLine(w http.ResponseWriter, r *http.Request) {
	ticket, err := a.service.RemoveFromTicket(r.Context(), chi.URLParam(r, "lineID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (a *API) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	result, err := a.service.QuotePrintJob(r.Context(), req.Job, req.AddToTicket)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCheckout always returns the checkout result alongside an error so
// the client can redraw the restored ticket.
func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	result, err := a.service.Checkout(r.Context(), service.CheckoutRequest{
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		ClientID:      req.ClientID,
	})
	if err != nil {
		status := statusFor(err)
		if result.State == "" || (status >= http.StatusInternalServerError && status != http.StatusBadGateway) {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, status, map[string]any{"error": err.Error(), "result": result})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleLastReceipt(w http.ResponseWriter, r *http.Request) {
	rec, err := a.service.LastReceipt(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
	sales, err := a.service.ListSales(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": sales})
}

func (a *API) handleSaleReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	rec, err := a.service.SaleReceipt(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := a.service.Dashboard(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (a *API) handleListWebOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.service.ListWebOrders(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orders})
}

func (a *API) handleCompleteWebOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	sale, err := a.service.CompleteWebOrder(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleCancelWebOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if err := a.service.CancelWebOrder(r.Context(), id); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	user, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": logs})
}
