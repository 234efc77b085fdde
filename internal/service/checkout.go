package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"fotocopias/backend/internal/cart"
	"fotocopias/backend/internal/domain"
	"fotocopias/backend/internal/receipt"
	"fotocopias/backend/internal/store"
)

type CheckoutRequest struct {
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	ClientID      *int64               `json:"client_id,omitempty"`
}

const (
	NoticeSuccess = "success"
	NoticeWarning = "warning"
	NoticeError   = "error"
)

// Notice is the operator-facing message produced by a checkout.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type CheckoutResult struct {
	State   CheckoutState           `json:"state"`
	Sale    *domain.Sale            `json:"sale,omitempty"`
	Receipt *domain.ReceiptResponse `json:"receipt,omitempty"`
	Ticket  Ticket                  `json:"ticket"`
	Notice  Notice                  `json:"notice"`
}

// Checkout turns the operator's ticket into a sale.
//
// The ticket is validated, then cleared and a provisional receipt (sale id 0)
// is published before any store write. The writes run in a fixed order:
// client balance, sale header, sale lines, stock decrements. On failure the
// ticket is restored and the provisional receipt withdrawn, replacing any
// lines scanned while committing (the notice reports them); writes that
// already succeeded stay in the store. With atomic checkout enabled and a
// store that supports it, all writes commit in one store transaction.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	actor, err := s.operator(ctx)
	if err != nil {
		return CheckoutResult{}, err
	}
	sess := s.sessions.get(actor.Username)
	if !sess.checkout.TryLock() {
		return CheckoutResult{}, ErrCheckoutInProgress
	}
	defer sess.checkout.Unlock()

	sess.mu.Lock()
	sess.state = StateValidating
	if err := validateCheckout(sess.cart, req); err != nil {
		sess.state = StateIdle
		ticket := sess.view()
		sess.mu.Unlock()
		return CheckoutResult{State: StateIdle, Ticket: ticket, Notice: Notice{Level: NoticeWarning, Message: err.Error()}}, err
	}

	backup := sess.cart.Snapshot()
	previous := sess.published
	sale := s.buildSale(actor, sess.cart.Lines(), req)
	sess.cart.Clear()
	provisional := sale
	provisional.Lines = slices.Clone(sale.Lines)
	sess.published = &provisional
	sess.state = StateCommitting
	sess.mu.Unlock()

	started := time.Now()
	id, err := s.commit(ctx, sale)
	elapsed := time.Since(started)

	if err != nil {
		sess.mu.Lock()
		discarded := sess.cart.Len()
		sess.cart.Restore(backup)
		sess.published = previous
		sess.state = StateRolledBack
		ticket := sess.view()
		sess.mu.Unlock()

		var perr *PersistenceError
		if !errors.As(err, &perr) {
			perr = &PersistenceError{Step: "unknown", Err: err}
		}
		s.metrics.CheckoutOutcome(string(StateRolledBack), string(req.PaymentMethod), elapsed)
		s.logger.ErrorContext(ctx, "checkout rolled back",
			"operator", actor.Username, "step", perr.Step, "total", sale.Total.String(), "discarded_lines", discarded, "error", perr.Err)
		message := perr.Error()
		if discarded > 0 {
			message = fmt.Sprintf("%s; %d line(s) scanned during the checkout were discarded", message, discarded)
		}
		return CheckoutResult{
			State:  StateRolledBack,
			Ticket: ticket,
			Notice: Notice{Level: NoticeError, Message: message},
		}, perr
	}

	sale.ID = id
	for i := range sale.Lines {
		sale.Lines[i].SaleID = id
	}
	settled := sale
	sess.mu.Lock()
	sess.published = &settled
	sess.state = StateSettled
	ticket := sess.view()
	sess.mu.Unlock()

	s.invalidate(ctx, nsCatalog, nsClients, nsSales)
	s.logAudit(ctx, "checkout", "sale", fmt.Sprint(id),
		fmt.Sprintf("total=%s,method=%s,lines=%d", sale.Total.String(), sale.PaymentMethod, len(sale.Lines)))
	s.metrics.CheckoutOutcome(string(StateSettled), string(req.PaymentMethod), elapsed)
	s.logger.InfoContext(ctx, "checkout settled", "operator", actor.Username, "sale_id", id, "total", sale.Total.String())

	rec := s.renderReceipt(sale)
	return CheckoutResult{
		State:   StateSettled,
		Sale:    &sale,
		Receipt: &rec,
		Ticket:  ticket,
		Notice:  Notice{Level: NoticeSuccess, Message: fmt.Sprintf("Sale %s recorded, total %s", receipt.TicketNumber(id), receipt.Amount(sale.Total))},
	}, nil
}

func validateCheckout(c *cart.Cart, req CheckoutRequest) error {
	if c.Empty() {
		return invalid(ErrEmptyCart, "the ticket is empty")
	}
	if !req.PaymentMethod.Valid() {
		return invalid(ErrInvalidPayment, "payment method %q is not accepted", req.PaymentMethod)
	}
	if req.PaymentMethod == domain.PaymentAccount && req.ClientID == nil {
		return invalid(ErrClientRequired, "select a client to sell on account")
	}
	return nil
}

func (s *Service) buildSale(actor domain.Actor, lines []cart.Line, req CheckoutRequest) domain.Sale {
	sale := domain.Sale{
		PaymentMethod: req.PaymentMethod,
		OperatorID:    actor.Username,
		Status:        domain.SaleStatusCompleted,
		CreatedAt:     s.now(),
		Total:         decimal.Zero,
		Lines:         make([]domain.SaleLine, 0, len(lines)),
	}
	if req.ClientID != nil {
		id := *req.ClientID
		sale.ClientID = &id
	}
	for _, line := range lines {
		saleLine := domain.SaleLine{
			Description: line.Name,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Subtotal:    line.Subtotal(),
		}
		if !line.Manual() {
			productID := line.ProductID
			saleLine.ProductID = &productID
		}
		sale.Lines = append(sale.Lines, saleLine)
		sale.Total = sale.Total.Add(saleLine.Subtotal)
	}
	return sale
}

func (s *Service) commit(ctx context.Context, sale domain.Sale) (int64, error) {
	if atomic, ok := s.repo.(store.AtomicCheckout); ok && s.atomic {
		id, err := atomic.CommitCheckout(ctx, store.CheckoutCommit{Sale: sale, Decrements: decrements(sale.Lines)})
		if err != nil {
			var stepErr *store.StepError
			if errors.As(err, &stepErr) {
				return 0, &PersistenceError{Step: stepErr.Step, Err: stepErr.Err}
			}
			return 0, &PersistenceError{Step: "transaction", Err: err}
		}
		return id, nil
	}
	return s.commitSequential(ctx, sale)
}

func (s *Service) commitSequential(ctx context.Context, sale domain.Sale) (int64, error) {
	if sale.PaymentMethod == domain.PaymentAccount {
		client, err := s.repo.GetClient(ctx, *sale.ClientID)
		if err != nil {
			return 0, &PersistenceError{Step: store.StepClientBalance, Err: err}
		}
		if err := s.repo.UpdateBalance(ctx, client.ID, client.Balance.Add(sale.Total)); err != nil {
			return 0, &PersistenceError{Step: store.StepClientBalance, Err: err}
		}
	}

	header := sale
	header.Lines = nil
	id, err := s.repo.InsertSaleHeader(ctx, header)
	if err != nil {
		return 0, &PersistenceError{Step: store.StepSaleHeader, Err: err}
	}

	if err := s.repo.InsertSaleLines(ctx, id, sale.Lines); err != nil {
		return 0, &PersistenceError{Step: store.StepSaleLines, Err: err}
	}

	for _, d := range decrements(sale.Lines) {
		if err := s.repo.DecrementStock(ctx, d.ProductID, d.Quantity); err != nil {
			return 0, &PersistenceError{Step: store.StepStockDecrement, Err: fmt.Errorf("product %d: %w", d.ProductID, err)}
		}
	}
	return id, nil
}

func decrements(lines []domain.SaleLine) []domain.StockDecrement {
	out := make([]domain.StockDecrement, 0, len(lines))
	for _, line := range lines {
		if line.Manual() {
			continue
		}
		out = append(out, domain.StockDecrement{ProductID: *line.ProductID, Quantity: line.Quantity})
	}
	return out
}

// LastReceipt returns the receipt most recently published on the operator's
// session. It is provisional while the checkout is still committing.
func (s *Service) LastReceipt(ctx context.Context) (domain.ReceiptResponse, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}
	sale, ok := sess.lastSale()
	if !ok {
		return domain.ReceiptResponse{}, ErrNoReceipt
	}
	return s.renderReceipt(sale), nil
}

func (s *Service) renderReceipt(sale domain.Sale) domain.ReceiptResponse {
	r := receipt.Render(sale, s.header)
	name := "receipt-pending.bin"
	if sale.ID > 0 {
		name = fmt.Sprintf("receipt-%06d.bin", sale.ID)
	}
	return domain.ReceiptResponse{
		SaleID:       sale.ID,
		Provisional:  sale.ID == 0,
		Lines:        r.Lines,
		PreviewText:  r.Text(),
		EscposBase64: base64.StdEncoding.EncodeToString(receipt.ESCPOS(r)),
		FileName:     name,
	}
}
