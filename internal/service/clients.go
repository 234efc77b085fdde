package service

import (
	"context"
	"fmt"
	"strings"

	"fotocopias/backend/internal/domain"
)

const (
	AdjustmentPayment = "payment"
	AdjustmentCharge  = "charge"
)

// ListClients serves the clients read model, highest balance first.
func (s *Service) ListClients(ctx context.Context, query string) ([]domain.Client, error) {
	if _, err := s.operator(ctx); err != nil {
		return nil, err
	}
	return s.clients.Fetch(ctx, strings.ToLower(strings.TrimSpace(query)))
}

func (s *Service) GetClient(ctx context.Context, id int64) (domain.Client, error) {
	if _, err := s.operator(ctx); err != nil {
		return domain.Client{}, err
	}
	client, err := s.repo.GetClient(ctx, id)
	if err != nil {
		return domain.Client{}, err
	}
	return *client, nil
}

func (s *Service) CreateClient(ctx context.Context, req domain.ClientCreateRequest) (domain.Client, error) {
	if _, err := s.operator(ctx); err != nil {
		return domain.Client{}, err
	}
	client := domain.Client{
		Name:  strings.TrimSpace(req.Name),
		Phone: strings.TrimSpace(req.Phone),
		Notes: strings.TrimSpace(req.Notes),
	}
	if client.Name == "" {
		return domain.Client{}, invalid(ErrInvalidInput, "client name is required")
	}

	created, err := s.repo.CreateClient(ctx, client)
	if err != nil {
		return domain.Client{}, err
	}
	s.invalidate(ctx, nsClients)
	s.logAudit(ctx, "client_create", "client", fmt.Sprint(created.ID), "name="+created.Name)
	return *created, nil
}

func (s *Service) UpdateClient(ctx context.Context, id int64, req domain.ClientUpdateRequest) (domain.Client, error) {
	if _, err := s.operator(ctx); err != nil {
		return domain.Client{}, err
	}
	existing, err := s.repo.GetClient(ctx, id)
	if err != nil {
		return domain.Client{}, err
	}
	updated := *existing
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Notes != nil {
		updated.Notes = strings.TrimSpace(*req.Notes)
	}
	if updated.Name == "" {
		return domain.Client{}, invalid(ErrInvalidInput, "client name is required")
	}

	saved, err := s.repo.UpdateClient(ctx, updated)
	if err != nil {
		return domain.Client{}, err
	}
	s.invalidate(ctx, nsClients)
	s.logAudit(ctx, "client_update", "client", fmt.Sprint(id), "name="+saved.Name)
	return *saved, nil
}

// AdjustBalance records a manual movement on a client account: a payment
// lowers the balance, a charge raises it.
func (s *Service) AdjustBalance(ctx context.Context, id int64, req domain.BalanceAdjustmentRequest) (domain.Client, error) {
	if _, err := s.operator(ctx); err != nil {
		return domain.Client{}, err
	}
	if !req.Amount.IsPositive() {
		return domain.Client{}, invalid(ErrInvalidInput, "amount must be greater than zero")
	}
	client, err := s.repo.GetClient(ctx, id)
	if err != nil {
		return domain.Client{}, err
	}

	balance := client.Balance
	switch req.Kind {
	case AdjustmentPayment:
		balance = balance.Sub(req.Amount)
	case AdjustmentCharge:
		balance = balance.Add(req.Amount)
	default:
		return domain.Client{}, invalid(ErrInvalidInput, "adjustment kind must be %q or %q", AdjustmentPayment, AdjustmentCharge)
	}
	if err := s.repo.UpdateBalance(ctx, id, balance); err != nil {
		return domain.Client{}, err
	}
	client.Balance = balance

	s.invalidate(ctx, nsClients)
	s.logAudit(ctx, "client_balance_"+req.Kind, "client", fmt.Sprint(id),
		fmt.Sprintf("amount=%s,balance=%s", req.Amount.String(), balance.String()))
	return *client, nil
}
