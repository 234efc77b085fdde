package service

import (
	"context"

	"fotocopias/backend/internal/pricing"
)

type QuoteResult struct {
	Quote  pricing.Quote `json:"quote"`
	Ticket *Ticket       `json:"ticket,omitempty"`
}

func (s *Service) Tariff() pricing.Tariff {
	return s.calc.Tariff()
}

// QuotePrintJob prices a print job and, when addToTicket is set, appends it
// to the operator's ticket as a manual line of one unit per copy.
func (s *Service) QuotePrintJob(ctx context.Context, job pricing.Job, addToTicket bool) (QuoteResult, error) {
	quote, err := s.calc.Quote(job)
	if err != nil {
		return QuoteResult{}, &ValidationError{Message: err.Error(), Err: err}
	}
	if !addToTicket {
		return QuoteResult{Quote: quote}, nil
	}
	ticket, err := s.AddManualToTicket(ctx, quote.Description, quote.UnitPrice, quote.Job.Copies)
	if err != nil {
		return QuoteResult{}, err
	}
	return QuoteResult{Quote: quote, Ticket: &ticket}, nil
}
