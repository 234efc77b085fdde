package cart

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"fotocopias/backend/internal/xid"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInvalidPrice      = errors.New("unit price must be positive")
	ErrInvalidLine       = errors.New("invalid line")
	ErrLineNotFound      = errors.New("line not found")
)

// ValidationError is a rejected cart operation. The cart is left unchanged.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func reject(err error, format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...), Err: err}
}

type Kind string

const (
	KindCatalog Kind = "catalog"
	KindManual  Kind = "manual"
)

// Item is a catalog product as seen when it is scanned into the ticket.
type Item struct {
	ProductID int64
	Name      string
	UnitPrice decimal.Decimal
	Stock     int
}

// Line is one ticket entry. Catalog lines carry ProductID and the stock bound
// captured when the product was added; manual lines carry only a description.
type Line struct {
	LineID    string          `json:"line_id"`
	Kind      Kind            `json:"kind"`
	ProductID int64           `json:"product_id,omitempty"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Stock     int             `json:"stock,omitempty"`
}

func (l Line) Manual() bool {
	return l.Kind == KindManual
}

func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// CatalogLineID is the line id used for a catalog product.
func CatalogLineID(productID int64) string {
	return "p-" + strconv.FormatInt(productID, 10)
}

// CatalogProductID reports the product behind a catalog line id.
func CatalogProductID(lineID string) (int64, bool) {
	raw, ok := strings.CutPrefix(lineID, "p-")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Cart is the in-progress ticket of one operator. It is not safe for
// concurrent use; callers serialize access.
type Cart struct {
	lines []Line
}

func New() *Cart {
	return &Cart{}
}

// AddItem adds qty units of a catalog product, merging into an existing line
// for the same product.
func (c *Cart) AddItem(item Item, qty int) error {
	if qty <= 0 {
		return reject(ErrInvalidQuantity, "quantity must be at least 1")
	}
	if item.ProductID <= 0 || !item.UnitPrice.IsPositive() {
		return reject(ErrInvalidLine, "product %d cannot be sold", item.ProductID)
	}

	idx := c.indexOf(CatalogLineID(item.ProductID))
	current := 0
	if idx >= 0 {
		current = c.lines[idx].Quantity
	}
	if current+qty > item.Stock {
		return reject(ErrInsufficientStock, "not enough stock for %s: %d available, %d requested", item.Name, item.Stock, current+qty)
	}

	if idx >= 0 {
		c.lines[idx].Quantity = current + qty
		c.lines[idx].Stock = item.Stock
		return nil
	}
	c.lines = append(c.lines, Line{
		LineID:    CatalogLineID(item.ProductID),
		Kind:      KindCatalog,
		ProductID: item.ProductID,
		Name:      item.Name,
		UnitPrice: item.UnitPrice,
		Quantity:  qty,
		Stock:     item.Stock,
	})
	return nil
}

// AddManual appends an ad-hoc line. Manual lines never merge, even with an
// identical description.
func (c *Cart) AddManual(description string, unitPrice decimal.Decimal, qty int) (Line, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Line{}, reject(ErrInvalidLine, "description is required")
	}
	if !unitPrice.IsPositive() {
		return Line{}, reject(ErrInvalidPrice, "unit price must be greater than zero")
	}
	if qty <= 0 {
		return Line{}, reject(ErrInvalidQuantity, "quantity must be at least 1")
	}

	line := Line{
		LineID:    xid.New("m"),
		Kind:      KindManual,
		Name:      description,
		UnitPrice: unitPrice,
		Quantity:  qty,
	}
	c.lines = append(c.lines, line)
	return line, nil
}

// SetQuantity replaces the quantity of a line, honouring the stock bound
// captured for catalog lines.
func (c *Cart) SetQuantity(lineID string, qty int) error {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return reject(ErrLineNotFound, "line %s is not in the ticket", lineID)
	}
	return c.setQuantity(idx, qty, c.lines[idx].Stock)
}

// SetQuantityWithStock is SetQuantity against a freshly read stock level. On
// success the line keeps the new bound.
func (c *Cart) SetQuantityWithStock(lineID string, qty int, stock int) error {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return reject(ErrLineNotFound, "line %s is not in the ticket", lineID)
	}
	return c.setQuantity(idx, qty, stock)
}

func (c *Cart) setQuantity(idx int, qty int, stock int) error {
	if qty <= 0 {
		return reject(ErrInvalidQuantity, "quantity must be at least 1")
	}
	line := c.lines[idx]
	if line.Manual() {
		c.lines[idx].Quantity = qty
		return nil
	}
	if qty > stock {
		return reject(ErrInsufficientStock, "not enough stock for %s: %d available, %d requested", line.Name, stock, qty)
	}
	c.lines[idx].Quantity = qty
	c.lines[idx].Stock = stock
	return nil
}

// RemoveItem deletes a line. Unknown ids are ignored.
func (c *Cart) RemoveItem(lineID string) {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return
	}
	c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
}

func (c *Cart) Clear() {
	c.lines = nil
}

// Total is recomputed from the lines on every call.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.lines {
		total = total.Add(line.Subtotal())
	}
	return total
}

func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Len() int {
	return len(c.lines)
}

func (c *Cart) Empty() bool {
	return len(c.lines) == 0
}

// Quantity returns the units of a product currently in the ticket.
func (c *Cart) Quantity(productID int64) int {
	idx := c.indexOf(CatalogLineID(productID))
	if idx < 0 {
		return 0
	}
	return c.lines[idx].Quantity
}

// Snapshot is an immutable copy of the cart contents.
type Snapshot struct {
	lines []Line
}

func (s Snapshot) Lines() []Line {
	out := make([]Line, len(s.lines))
	copy(out, s.lines)
	return out
}

func (c *Cart) Snapshot() Snapshot {
	return Snapshot{lines: c.Lines()}
}

// Restore replaces the cart contents with a snapshot.
func (c *Cart) Restore(s Snapshot) {
	c.lines = s.Lines()
}

func (c *Cart) indexOf(lineID string) int {
	for i, line := range c.lines {
		if line.LineID == lineID {
			return i
		}
	}
	return -1
}
