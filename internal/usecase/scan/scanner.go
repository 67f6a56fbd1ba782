// Package scan reads the persisted catalog back for a full rebuild.
package scan

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsync/internal/domain"
)

// Repository is the read side of the keyed store.
type Repository interface {
	ScanProducts(ctx context.Context, tenant string, fn func(domain.ProductSummary) error) error
	ScanVariants(ctx context.Context, tenant string, fn func(domain.VariantRecord) error) error
}

// Catalog is the scanned state of one tenant.
type Catalog struct {
	Products map[string]domain.ProductSummary
	// Variants are grouped by product id in scan order.
	Variants map[string][]domain.VariantRecord
	// ProductOrder lists product ids of Variants in first-seen order.
	ProductOrder []string
}

// VariantCount returns the number of scanned variants.
func (c *Catalog) VariantCount() int {
	n := 0
	for _, vs := range c.Variants {
		n += len(vs)
	}
	return n
}

// Scanner performs full, read-only scans.
type Scanner struct {
	repo    Repository
	summary *domain.Summary
	logger  *zap.Logger
}

// New creates a Scanner.
func New(repo Repository, summary *domain.Summary, logger *zap.Logger) *Scanner {
	if summary == nil {
		summary = domain.NewSummary(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{repo: repo, summary: summary, logger: logger}
}

// Products returns every product keyed by id.
func (s *Scanner) Products(ctx context.Context, tenant string) (map[string]domain.ProductSummary, error) {
	out := make(map[string]domain.ProductSummary)
	err := s.repo.ScanProducts(ctx, tenant, func(p domain.ProductSummary) error {
		out[p.ID] = p
		s.summary.ProductsScanned.Add(1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan products: %w", err)
	}
	return out, nil
}

// VariantsByProduct returns every variant grouped by product id, plus the
// product ids in first-seen order.
func (s *Scanner) VariantsByProduct(ctx context.Context, tenant string) (map[string][]domain.VariantRecord, []string, error) {
	groups := make(map[string][]domain.VariantRecord)
	var order []string
	err := s.repo.ScanVariants(ctx, tenant, func(v domain.VariantRecord) error {
		if _, ok := groups[v.ProductID]; !ok {
			order = append(order, v.ProductID)
		}
		groups[v.ProductID] = append(groups[v.ProductID], v)
		s.summary.VariantsScanned.Add(1)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan variants: %w", err)
	}
	return groups, order, nil
}

// Scan runs both scans.
func (s *Scanner) Scan(ctx context.Context, tenant string) (*Catalog, error) {
	products, err := s.Products(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	variants, order, err := s.VariantsByProduct(ctx, tenant)
	if err != nil {
		return nil, err
	}

	c := &Catalog{Products: products, Variants: variants, ProductOrder: order}
	s.logger.Info("Catalog scanned",
		zap.Int("products", len(products)),
		zap.Int("variants", c.VariantCount()),
		zap.Int("variant_groups", len(variants)),
	)
	return c, nil
}
