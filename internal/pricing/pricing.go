package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidJob = errors.New("invalid print job")

type ColorMode string

const (
	Mono  ColorMode = "BN"
	Color ColorMode = "COLOR"
)

type SheetSize string

const (
	A4 SheetSize = "A4"
	A3 SheetSize = "A3"
)

type Sides string

const (
	Simplex Sides = "simplex"
	Duplex  Sides = "duplex"
)

// Tariff holds the per-sheet prices and per-copy add-on fees of the shop.
type Tariff struct {
	MonoA4     decimal.Decimal
	ColorA4    decimal.Decimal
	MonoA3     decimal.Decimal
	ColorA3    decimal.Decimal
	Binding    decimal.Decimal
	Lamination decimal.Decimal
}

func DefaultTariff() Tariff {
	return Tariff{
		MonoA4:     decimal.NewFromInt(50),
		ColorA4:    decimal.NewFromInt(250),
		MonoA3:     decimal.NewFromInt(100),
		ColorA3:    decimal.NewFromInt(500),
		Binding:    decimal.NewFromInt(1500),
		Lamination: decimal.NewFromInt(1000),
	}
}

// PerSheet looks up the price of one printed sheet.
func (t Tariff) PerSheet(size SheetSize, mode ColorMode) (decimal.Decimal, error) {
	switch {
	case size == A4 && mode == Mono:
		return t.MonoA4, nil
	case size == A4 && mode == Color:
		return t.ColorA4, nil
	case size == A3 && mode == Mono:
		return t.MonoA3, nil
	case size == A3 && mode == Color:
		return t.ColorA3, nil
	}
	return decimal.Zero, fmt.Errorf("%w: no tariff for %s %s", ErrInvalidJob, mode, size)
}

type Job struct {
	Copies     int       `json:"copies"`
	Pages      int       `json:"pages"`
	Mode       ColorMode `json:"mode"`
	Size       SheetSize `json:"size"`
	Sides      Sides     `json:"sides,omitempty"`
	Binding    bool      `json:"binding"`
	Lamination bool      `json:"lamination"`
}

type Quote struct {
	Job           Job             `json:"job"`
	PerSheet      decimal.Decimal `json:"per_sheet"`
	PrintSubtotal decimal.Decimal `json:"print_subtotal"`
	Extras        decimal.Decimal `json:"extras"`
	Total         decimal.Decimal `json:"total"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Description   string          `json:"description"`
}

type Calculator struct {
	tariff Tariff
}

func NewCalculator(tariff Tariff) *Calculator {
	return &Calculator{tariff: tariff}
}

func (c *Calculator) Tariff() Tariff {
	return c.tariff
}

// Quote prices a job. Sides is recorded but does not change the price.
func (c *Calculator) Quote(job Job) (Quote, error) {
	if job.Copies < 1 {
		return Quote{}, fmt.Errorf("%w: copies must be at least 1", ErrInvalidJob)
	}
	if job.Pages < 1 {
		return Quote{}, fmt.Errorf("%w: pages must be at least 1", ErrInvalidJob)
	}
	if job.Sides == "" {
		job.Sides = Simplex
	}
	if job.Sides != Simplex && job.Sides != Duplex {
		return Quote{}, fmt.Errorf("%w: unknown sides %q", ErrInvalidJob, job.Sides)
	}
	perSheet, err := c.tariff.PerSheet(job.Size, job.Mode)
	if err != nil {
		return Quote{}, err
	}

	copies := decimal.NewFromInt(int64(job.Copies))
	printSubtotal := perSheet.Mul(decimal.NewFromInt(int64(job.Pages))).Mul(copies)
	extras := decimal.Zero
	if job.Binding {
		extras = extras.Add(c.tariff.Binding.Mul(copies))
	}
	if job.Lamination {
		extras = extras.Add(c.tariff.Lamination.Mul(copies))
	}
	total := printSubtotal.Add(extras)

	return Quote{
		Job:           job,
		PerSheet:      perSheet,
		PrintSubtotal: printSubtotal,
		Extras:        extras,
		Total:         total,
		UnitPrice:     total.DivRound(copies, 2),
		Description:   describe(job),
	}, nil
}

func describe(job Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Fotocopias %s %s (%d págs)", job.Mode, job.Size, job.Pages)
	if job.Binding {
		b.WriteString(" + Anillado")
	}
	if job.Lamination {
		b.WriteString(" + Plastificado")
	}
	return b.String()
}
