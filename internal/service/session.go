package service

import (
	"sync"

	"github.com/shopspring/decimal"

	"fotocopias/backend/internal/cart"
	"fotocopias/backend/internal/domain"
)

type CheckoutState string

const (
	StateIdle       CheckoutState = "idle"
	StateValidating CheckoutState = "validating"
	StateCommitting CheckoutState = "committing"
	StateSettled    CheckoutState = "settled"
	StateRolledBack CheckoutState = "rolled_back"
)

// Session is the live ticket of one operator. mu guards the cart, the state
// and the published sale; checkout is held for the whole of a checkout so a
// second one on the same session is refused instead of queued.
type Session struct {
	operator string

	mu        sync.Mutex
	cart      *cart.Cart
	state     CheckoutState
	published *domain.Sale

	checkout sync.Mutex
}

func newSession(operator string) *Session {
	return &Session{
		operator: operator,
		cart:     cart.New(),
		state:    StateIdle,
	}
}

// Ticket is a point-in-time view of a session.
type Ticket struct {
	Operator string          `json:"operator"`
	State    CheckoutState   `json:"state"`
	Lines    []cart.Line     `json:"lines"`
	Total    decimal.Decimal `json:"total"`
}

func (s *Session) view() Ticket {
	return Ticket{
		Operator: s.operator,
		State:    s.state,
		Lines:    s.cart.Lines(),
		Total:    s.cart.Total(),
	}
}

// update runs fn against the cart under the session lock and returns the
// resulting view.
func (s *Session) update(fn func(c *cart.Cart) error) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.cart); err != nil {
		return s.view(), err
	}
	return s.view(), nil
}

func (s *Session) lastSale() (domain.Sale, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.published == nil {
		return domain.Sale{}, false
	}
	return *s.published, true
}

type sessions struct {
	mu   sync.Mutex
	byOp map[string]*Session
}

func newSessions() *sessions {
	return &sessions{byOp: map[string]*Session{}}
}

func (r *sessions) get(operator string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byOp[operator]
	if !ok {
		sess = newSession(operator)
		r.byOp[operator] = sess
	}
	return sess
}
