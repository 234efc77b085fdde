package receipt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"fotocopias/backend/internal/domain"
)

// Width is the printable column count of a 58mm thermal roll.
const Width = 32

// decimalSeparator matches the Spanish locale used for grouping.
const decimalSeparator = ","

type Header struct {
	ShopName string
	Address  string
	Phone    string
	Footer   string
}

func DefaultHeader() Header {
	return Header{
		ShopName: "Fotocopias Ramos",
		Address:  "Dirección del Local, 123",
		Phone:    "Tel: (123) 456-7890",
		Footer:   "¡Gracias por su compra!",
	}
}

type Receipt struct {
	SaleID int64    `json:"sale_id"`
	Lines  []string `json:"lines"`
}

func (r Receipt) Text() string {
	return strings.Join(r.Lines, "\n")
}

// Amount formats money the way it is printed on the ticket. Only the whole
// part goes through the locale printer, so cents stay exact.
func Amount(v decimal.Decimal) string {
	v = v.Round(2)
	sign := ""
	if v.IsNegative() {
		sign = "-"
		v = v.Abs()
	}
	printer := message.NewPrinter(language.Spanish)
	whole := printer.Sprint(number.Decimal(v.IntPart()))
	if v.IsInteger() {
		return "$" + sign + whole
	}
	fixed := v.StringFixed(2)
	return "$" + sign + whole + decimalSeparator + fixed[len(fixed)-2:]
}

// TicketNumber zero-pads the sale id; id 0 marks a sale not yet confirmed by
// the store.
func TicketNumber(id int64) string {
	if id <= 0 {
		return "Ticket #------"
	}
	return fmt.Sprintf("Ticket #%06d", id)
}

// Render lays out a sale as printable lines. It has no side effects.
func Render(sale domain.Sale, header Header) Receipt {
	rule := strings.Repeat("-", Width)
	lines := make([]string, 0, len(sale.Lines)+12)
	for _, h := range []string{header.ShopName, header.Address, header.Phone} {
		if h != "" {
			lines = append(lines, center(h))
		}
	}
	lines = append(lines,
		rule,
		"Fecha: "+sale.CreatedAt.Format("02/01/2006 15:04"),
		TicketNumber(sale.ID),
		rule,
	)
	for _, item := range sale.Lines {
		left := fmt.Sprintf("%d x %s", item.Quantity, item.Description)
		lines = append(lines, columns(left, Amount(item.Subtotal)))
	}
	lines = append(lines,
		rule,
		columns("TOTAL", Amount(sale.Total)),
	)
	if header.Footer != "" {
		lines = append(lines, "", center(header.Footer))
	}
	return Receipt{SaleID: sale.ID, Lines: lines}
}

// ESCPOS wraps the receipt in printer init and paper cut commands.
func ESCPOS(r Receipt) []byte {
	out := []byte{0x1b, 0x40}
	for _, line := range r.Lines {
		out = append(out, []byte(line)...)
		out = append(out, '\n')
	}
	out = append(out, '\n', '\n')
	return append(out, 0x1d, 0x56, 0x41, 0x10)
}

func columns(left, right string) string {
	room := Width - utf8.RuneCountInString(right) - 1
	if room < 1 {
		return left + " " + right
	}
	left = truncate(left, room)
	pad := Width - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	return left + strings.Repeat(" ", pad) + right
}

func center(s string) string {
	s = truncate(s, Width)
	pad := (Width - utf8.RuneCountInString(s)) / 2
	return strings.Repeat(" ", pad) + s
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
