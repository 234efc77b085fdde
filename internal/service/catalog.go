package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"fotocopias/backend/internal/domain"
)

const defaultMinStock = 5

// ListProducts serves the catalog read model keyed by search text.
func (s *Service) ListProducts(ctx context.Context, query string) ([]domain.Product, error) {
	if _, err := s.operator(ctx); err != nil {
		return nil, err
	}
	return s.catalog.Fetch(ctx, strings.ToLower(strings.TrimSpace(query)))
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.AdminProduct, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.AdminProduct{}, err
	}
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.AdminProduct{}, err
	}
	return domain.NewAdminProduct(*product), nil
}

// LowStock lists products under their own minimum stock threshold.
func (s *Service) LowStock(ctx context.Context) ([]domain.Product, error) {
	if _, err := s.operator(ctx); err != nil {
		return nil, err
	}
	products, err := s.catalog.Fetch(ctx, "")
	if err != nil {
		return nil, err
	}
	low := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if p.LowStock() {
			low = append(low, p)
		}
	}
	slices.SortFunc(low, func(a, b domain.Product) int {
		return a.Stock - b.Stock
	})
	return low, nil
}

func validateProduct(p domain.Product) error {
	if p.Name == "" {
		return invalid(ErrInvalidInput, "product name is required")
	}
	if !slices.Contains(domain.Categories, p.Category) {
		return invalid(ErrInvalidInput, "category must be one of %s", strings.Join(domain.Categories, ", "))
	}
	if !p.SalePrice.IsPositive() {
		return invalid(ErrInvalidInput, "sale price must be greater than zero")
	}
	if p.CostPrice.IsNegative() {
		return invalid(ErrInvalidInput, "cost price cannot be negative")
	}
	if p.Stock < 0 || p.MinStock < 0 {
		return invalid(ErrInvalidInput, "stock values cannot be negative")
	}
	return nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.AdminProduct, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.AdminProduct{}, err
	}

	product := domain.Product{
		Name:      strings.TrimSpace(req.Name),
		Category:  strings.TrimSpace(req.Category),
		SalePrice: req.SalePrice,
		CostPrice: req.CostPrice,
		Stock:     req.Stock,
		MinStock:  defaultMinStock,
		SKU:       strings.ToUpper(strings.TrimSpace(req.SKU)),
		ImageURL:  strings.TrimSpace(req.ImageURL),
	}
	if req.MinStock != nil {
		product.MinStock = *req.MinStock
	}
	if err := validateProduct(product); err != nil {
		return domain.AdminProduct{}, err
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.AdminProduct{}, err
	}
	s.invalidate(ctx, nsCatalog)
	s.logAudit(ctx, "product_create", "product", fmt.Sprint(created.ID),
		fmt.Sprintf("name=%s,price=%s,stock=%d", created.Name, created.SalePrice.String(), created.Stock))
	return domain.NewAdminProduct(*created), nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.AdminProduct, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.AdminProduct{}, err
	}
	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.AdminProduct{}, err
	}

	updated := *existing
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.SalePrice != nil {
		updated.SalePrice = *req.SalePrice
	}
	if req.CostPrice != nil {
		updated.CostPrice = *req.CostPrice
	}
	if req.Stock != nil {
		updated.Stock = *req.Stock
	}
	if req.MinStock != nil {
		updated.MinStock = *req.MinStock
	}
	if req.SKU != nil {
		updated.SKU = strings.ToUpper(strings.TrimSpace(*req.SKU))
	}
	if req.ImageURL != nil {
		updated.ImageURL = strings.TrimSpace(*req.ImageURL)
	}
	if err := validateProduct(updated); err != nil {
		return domain.AdminProduct{}, err
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.AdminProduct{}, err
	}
	s.invalidate(ctx, nsCatalog)
	s.logAudit(ctx, "product_update", "product", fmt.Sprint(saved.ID),
		fmt.Sprintf("price=%s->%s,stock=%d->%d", existing.SalePrice.String(), saved.SalePrice.String(), existing.Stock, saved.Stock))
	return domain.NewAdminProduct(*saved), nil
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, nsCatalog)
	s.logAudit(ctx, "product_delete", "product", fmt.Sprint(id), "")
	return nil
}
