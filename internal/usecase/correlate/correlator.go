// Package correlate joins inventory levels to their variants when the export
// stream delivers them in arbitrary order.
package correlate

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsync/internal/domain"
	"github.com/kailas-cloud/catalogsync/internal/domain/record"
)

// Stats describes one correlation pass. Orphans == Children - Attached.
type Stats struct {
	Products               int64
	Variants               int64
	Children               int64
	Attached               int64
	Orphans                int64
	VariantsWithoutProduct int64
}

// Correlator is single-use and not safe for concurrent use.
//
// Products are complete on arrival and are returned from Add. Variants are
// held until Finish because their inventory levels may arrive at any point
// of the stream. A variant is addressable both by its inventory item id and
// by its own id, since levels may reference either.
type Correlator struct {
	buf      ChildBuffer
	logger   *zap.Logger
	onError  func(*domain.RecordError)
	variants []*domain.Variant
	byRef    map[string]*domain.Variant
	products map[string]struct{}
	stats    Stats
	finished bool
}

// Option customizes a Correlator.
type Option func(*Correlator)

// WithRecordErrors receives orphan and missing-product reports.
func WithRecordErrors(fn func(*domain.RecordError)) Option {
	return func(c *Correlator) { c.onError = fn }
}

// New creates a Correlator buffering unmatched children in buf.
func New(buf ChildBuffer, logger *zap.Logger, opts ...Option) *Correlator {
	if buf == nil {
		buf = NewMemoryBuffer()
	}
	c := &Correlator{
		buf:      buf,
		logger:   logger,
		byRef:    make(map[string]*domain.Variant),
		products: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Add consumes one record and returns the entities that became final.
// Unknown records are ignored.
func (c *Correlator) Add(rec record.Record) ([]domain.Entity, error) {
	if c.finished {
		return nil, fmt.Errorf("correlator: add after finish")
	}

	switch r := rec.(type) {
	case *record.Product:
		p := r.Product
		c.products[p.ID] = struct{}{}
		c.stats.Products++
		return []domain.Entity{&p}, nil

	case *record.Variant:
		return nil, c.addVariant(r.Variant)

	case *record.InventoryLevel:
		c.stats.Children++
		if v, ok := c.byRef[r.Parent]; ok {
			c.attach(v, r.Level)
			return nil, nil
		}
		if err := c.buf.Append(r.Parent, r.Level); err != nil {
			return nil, fmt.Errorf("buffer inventory level for %s: %w", r.Parent, err)
		}
		return nil, nil
	}
	return nil, nil
}

func (c *Correlator) addVariant(in domain.Variant) error {
	v, seen := c.byRef[in.ID]
	if seen && v.ID == in.ID {
		levels := v.InventoryLevels
		*v = in
		v.InventoryLevels = levels
	} else {
		v = &in
		c.variants = append(c.variants, v)
		c.stats.Variants++
	}

	refs := []string{v.ID}
	if v.InventoryItemID != "" && v.InventoryItemID != v.ID {
		refs = append(refs, v.InventoryItemID)
	}
	for _, ref := range refs {
		c.byRef[ref] = v
		levels, err := c.buf.Drain(ref)
		if err != nil {
			return fmt.Errorf("drain inventory levels for %s: %w", ref, err)
		}
		for _, l := range levels {
			c.attach(v, l)
		}
	}
	return nil
}

func (c *Correlator) attach(v *domain.Variant, l domain.InventoryLevel) {
	if v.InventoryItemID != "" {
		l.InventoryItemID = v.InventoryItemID
	}
	v.AttachLevel(l)
	c.stats.Attached++
}

// Finish ends the pass and returns the variants in first-seen order with
// whatever levels arrived. Children still buffered are dropped as orphans.
func (c *Correlator) Finish() ([]*domain.Variant, Stats, error) {
	if c.finished {
		return nil, c.stats, fmt.Errorf("correlator: already finished")
	}
	c.finished = true

	remaining, err := c.buf.Remaining()
	if err != nil {
		return nil, c.stats, fmt.Errorf("inspect buffered inventory levels: %w", err)
	}
	parents := make([]string, 0, len(remaining))
	for parent := range remaining {
		parents = append(parents, parent)
	}
	sort.Strings(parents)
	for _, parent := range parents {
		n := remaining[parent]
		c.stats.Orphans += int64(n)
		c.logger.Warn("Dropping orphaned inventory levels",
			zap.String("parent_id", parent),
			zap.Int("count", n),
		)
		c.report(&domain.RecordError{
			Category: domain.CategoryOrphan,
			ID:       parent,
			Err:      fmt.Errorf("%w: %d inventory level(s)", domain.ErrOrphanedChild, n),
		})
	}

	for _, v := range c.variants {
		if _, ok := c.products[v.ProductID]; ok {
			continue
		}
		c.stats.VariantsWithoutProduct++
		c.logger.Warn("Variant without product in stream",
			zap.String("variant_id", v.ID),
			zap.String("product_id", v.ProductID),
		)
		c.report(&domain.RecordError{
			Category: domain.CategoryProductMissing,
			ID:       v.ID,
			Err:      fmt.Errorf("%w: product %q not in export", domain.ErrProductMissing, v.ProductID),
		})
	}

	if err := c.buf.Close(); err != nil {
		c.logger.Warn("Failed to close child buffer", zap.Error(err))
	}
	return c.variants, c.stats, nil
}

// Stats returns the counters so far.
func (c *Correlator) Stats() Stats { return c.stats }

func (c *Correlator) report(e *domain.RecordError) {
	if c.onError != nil {
		c.onError(e)
	}
}
