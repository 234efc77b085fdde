package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"fotocopias/backend/internal/domain"
)

const (
	defaultSalesLimit = 50
	maxSalesLimit     = 500
	dashboardRecent   = 5
)

func parseLimit(filter string) int {
	limit, err := strconv.Atoi(filter)
	if err != nil || limit <= 0 {
		return defaultSalesLimit
	}
	if limit > maxSalesLimit {
		return maxSalesLimit
	}
	return limit
}

// ListSales serves the recent sales read model, newest first.
func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if _, err := s.operator(ctx); err != nil {
		return nil, err
	}
	return s.sales.Fetch(ctx, strconv.Itoa(parseLimit(strconv.Itoa(limit))))
}

func (s *Service) SaleReceipt(ctx context.Context, id int64) (domain.ReceiptResponse, error) {
	if _, err := s.operator(ctx); err != nil {
		return domain.ReceiptResponse{}, err
	}
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}
	return s.renderReceipt(*sale), nil
}

// Dashboard summarizes the current UTC day.
func (s *Service) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	if _, err := s.operator(ctx); err != nil {
		return domain.Dashboard{}, err
	}
	startOfDay := s.now().UTC().Truncate(24 * time.Hour)

	today, err := s.repo.ListSalesSince(ctx, startOfDay)
	if err != nil {
		return domain.Dashboard{}, err
	}
	dash := domain.Dashboard{RevenueToday: decimal.Zero}
	for _, sale := range today {
		if sale.Status != domain.SaleStatusCompleted {
			continue
		}
		dash.SalesToday++
		dash.RevenueToday = dash.RevenueToday.Add(sale.Total)
	}

	low, err := s.LowStock(ctx)
	if err != nil {
		return domain.Dashboard{}, err
	}
	dash.LowStockCount = len(low)

	recent, err := s.sales.Fetch(ctx, strconv.Itoa(dashboardRecent))
	if err != nil {
		return domain.Dashboard{}, err
	}
	dash.RecentSales = recent
	return dash, nil
}

// ListWebOrders returns storefront orders waiting for pickup, oldest first.
func (s *Service) ListWebOrders(ctx context.Context) ([]domain.Sale, error) {
	if _, err := s.operator(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListPendingWebOrders(ctx)
}

// CompleteWebOrder marks a pending web order as delivered and paid.
func (s *Service) CompleteWebOrder(ctx context.Context, id int64) (domain.Sale, error) {
	if _, err := s.operator(ctx); err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.CompleteWebOrder(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	s.invalidate(ctx, nsSales)
	s.logAudit(ctx, "web_order_complete", "sale", fmt.Sprint(id), "total="+sale.Total.String())
	return *sale, nil
}

// CancelWebOrder deletes a pending web order and its lines.
func (s *Service) CancelWebOrder(ctx context.Context, id int64) error {
	if _, err := s.operator(ctx); err != nil {
		return err
	}
	if err := s.repo.DeletePendingSale(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, nsSales)
	s.logAudit(ctx, "web_order_cancel", "sale", fmt.Sprint(id), "")
	return nil
}
