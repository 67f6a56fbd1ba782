// Package record decodes the self-describing lines of a bulk catalog export
// into a closed set of record kinds.
package record

import (
	"github.com/kailas-cloud/catalogsync/internal/domain"
)

// Kind is the value of the "__typename" discriminator.
type Kind string

// Known record kinds.
const (
	KindProduct        Kind = "Product"
	KindVariant        Kind = "ProductVariant"
	KindInventoryLevel Kind = "InventoryLevel"
)

// Record is one decoded export line. The set of implementations is closed:
// Product, Variant, InventoryLevel and Unknown.
type Record interface {
	Kind() Kind
	// ID is the record's own identifier, empty if the line had none.
	ID() string
	// ParentID is the "__parentId" reference, empty for root records.
	ParentID() string
	sealed()
}

// Product is a root record.
type Product struct {
	Product domain.Product
}

func (r *Product) Kind() Kind       { return KindProduct }
func (r *Product) ID() string       { return r.Product.ID }
func (r *Product) ParentID() string { return "" }
func (*Product) sealed()            {}

// Variant is a child of a product. Its inventory item id is the parent
// reference used by inventory level records.
type Variant struct {
	Variant domain.Variant
}

func (r *Variant) Kind() Kind       { return KindVariant }
func (r *Variant) ID() string       { return r.Variant.ID }
func (r *Variant) ParentID() string { return r.Variant.ProductID }
func (*Variant) sealed()            {}

// InventoryLevel is a child of an inventory item (or of the variant that owns it).
type InventoryLevel struct {
	Parent string
	Level  domain.InventoryLevel
}

func (r *InventoryLevel) Kind() Kind       { return KindInventoryLevel }
func (r *InventoryLevel) ID() string       { return r.Level.ID }
func (r *InventoryLevel) ParentID() string { return r.Parent }
func (*InventoryLevel) sealed()            {}

// Unknown keeps a well-formed line of a kind this version does not handle.
type Unknown struct {
	TypeName string
	RecordID string
	Parent   string
	Raw      []byte
}

func (r *Unknown) Kind() Kind       { return Kind(r.TypeName) }
func (r *Unknown) ID() string       { return r.RecordID }
func (r *Unknown) ParentID() string { return r.Parent }
func (*Unknown) sealed()            {}

// Result is one element of a record stream: a record or a recoverable error.
type Result struct {
	Line   int
	Record Record
	Err    *domain.RecordError
}
