// Package publish turns the scanned catalog into flat per-variant search
// documents and bulk-indexes them.
package publish

import (
	"strings"
	"time"

	"github.com/kailas-cloud/catalogsync/internal/domain"
	"github.com/kailas-cloud/catalogsync/internal/usecase/aggregate"
	"github.com/kailas-cloud/catalogsync/internal/usecase/scan"
)

// Vectors maps an embedded text to its vector.
type Vectors map[string][]float32

func (v Vectors) lookup(text string) []float32 {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return v[text]
}

// Build creates one document per scanned variant. Product fields come from
// the best-known product snapshot; a variant whose product was not scanned
// still gets a document with empty product fields and is reported through
// onMissing.
func Build(
	tenant string, cat *scan.Catalog, vecs Vectors, now time.Time, onMissing func(*domain.RecordError),
) []domain.SearchDocument {
	docs := make([]domain.SearchDocument, 0, cat.VariantCount())
	updatedAt := now.Unix()

	for _, productID := range cat.ProductOrder {
		variants := cat.Variants[productID]
		product, ok := cat.Products[productID]
		if !ok {
			product = domain.ProductSummary{ID: productID}
			if onMissing != nil {
				for _, v := range variants {
					onMissing(&domain.RecordError{
						Category: domain.CategoryProductMissing,
						ID:       v.ID,
						Err:      domain.ErrProductMissing,
					})
				}
			}
		}

		siblings := aggregate.Siblings(variants)
		for i, v := range variants {
			docs = append(docs, document(tenant, product, v, siblings[i], vecs, updatedAt))
		}
	}
	return docs
}

func document(
	tenant string, p domain.ProductSummary, v domain.VariantRecord, s domain.Siblings, vecs Vectors, updatedAt int64,
) domain.SearchDocument {
	merchant := p.Merchant
	if merchant == "" {
		merchant = tenant
	}
	featured := p.FeaturedImage
	if featured == "" && len(p.Images) > 0 {
		featured = p.Images[0].URL
	}

	doc := domain.SearchDocument{
		Merchant:           merchant,
		ProductID:          v.ProductID,
		ProductTitle:       p.Title,
		Handle:             p.Handle,
		Vendor:             p.Vendor,
		ProductType:        p.ProductType,
		Tags:               nonNil(p.Tags),
		ProductCategory:    p.Category,
		ProductGender:      p.Gender,
		ProductAgeGroup:    p.AgeGroup,
		FeaturedImage:      featured,
		Images:             p.Images,
		Description:        p.Description,
		DescriptionCurated: p.DescriptionCurated,

		DescriptionEmbed:        vecs.lookup(p.Description),
		DescriptionCuratedEmbed: vecs.lookup(p.DescriptionCurated),

		VariantID:          v.ID,
		VariantTitle:       v.Title,
		SKU:                v.SKU,
		Available:          v.Available,
		ImageURL:           v.ImageURL,
		Options:            v.Options,
		InventoryAvailable: v.InventoryAvailable,

		NumOtherVariants:          s.NumOtherVariants,
		NumOtherAvailableVariants: s.NumOtherAvailableVariants,
		OtherOptions:              s.OtherOptions,
		OtherAvailableOptions:     s.OtherAvailableOptions,

		UpdatedAt: updatedAt,
	}
	if doc.Images == nil {
		doc.Images = []domain.Image{}
	}
	if doc.Options == nil {
		doc.Options = []domain.OptionValue{}
	}
	if v.Price != nil {
		doc.Price = v.Price.Amount.InexactFloat64()
		doc.Currency = v.Price.Currency
	}
	return doc
}

// Texts returns the distinct non-empty texts worth embedding, in first-seen order.
func Texts(cat *scan.Catalog) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, id := range cat.ProductOrder {
		p, ok := cat.Products[id]
		if !ok {
			continue
		}
		add(p.Description)
		add(p.DescriptionCurated)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
