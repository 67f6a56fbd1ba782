package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// EntityKind partitions the keyed store.
type EntityKind string

// Stored entity kinds.
const (
	KindProduct EntityKind = "product"
	KindVariant EntityKind = "variant"
)

// Sort-key prefixes per entity kind.
const (
	ProductKeyPrefix = "PRODUCT#"
	VariantKeyPrefix = "VARIANT#"
	TenantKeyPrefix  = "MERCHANT#"
)

// Key is the composite (partition, sort) key of a stored entity.
type Key struct {
	PK string
	SK string
}

func (k Key) String() string { return k.PK + "|" + k.SK }

// TenantPK returns the partition key for a tenant (merchant/shop domain).
func TenantPK(tenant string) string { return TenantKeyPrefix + tenant }

// Entity is anything the batch persister can write.
type Entity interface {
	Kind() EntityKind
	Key(tenant string) Key
	EntityID() string
}

// Image is a catalog image reference.
type Image struct {
	URL     string `json:"url"`
	AltText string `json:"alt_text,omitempty"`
}

// Attribute is a free-form metadata value: either a plain string or a
// reference to an image. Unknown references keep their raw JSON.
type Attribute struct {
	Value     string `json:"value,omitempty"`
	Image     *Image `json:"image,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// Product is a catalog product as persisted in the keyed store.
type Product struct {
	ID              string
	Handle          string
	Title           string
	Description     string
	DescriptionHTML string
	Vendor          string
	ProductType     string
	Tags            []string
	Images          []Image
	Accessibility   map[string]Attribute
}

// Kind implements Entity.
func (p *Product) Kind() EntityKind { return KindProduct }

// EntityID implements Entity.
func (p *Product) EntityID() string { return p.ID }

// Key implements Entity.
func (p *Product) Key(tenant string) Key {
	return Key{PK: TenantPK(tenant), SK: ProductKeyPrefix + p.ID}
}

// OptionValue is one option assignment on a variant, e.g. Size=M.
type OptionValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Money is an exact decimal amount with an optional currency code.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// InventoryLevel is the stock of one inventory item at one location.
type InventoryLevel struct {
	ID              string
	InventoryItemID string
	LocationID      string
	LocationName    string
	Quantities      map[string]int64
}

// Available returns the "available" quantity, or zero when not reported.
func (l InventoryLevel) Available() int64 { return l.Quantities["available"] }

// Variant is a purchasable product variant with its attached inventory levels.
type Variant struct {
	ID              string
	ProductID       string
	SKU             string
	Title           string
	Price           *Money
	Available       bool
	Options         []OptionValue
	Image           *Image
	InventoryItemID string
	FitNote         string
	InventoryLevels []InventoryLevel
}

// Kind implements Entity.
func (v *Variant) Kind() EntityKind { return KindVariant }

// EntityID implements Entity.
func (v *Variant) EntityID() string { return v.ID }

// Key implements Entity.
func (v *Variant) Key(tenant string) Key {
	return Key{PK: TenantPK(tenant), SK: VariantKeyPrefix + v.ID}
}

// AttachLevel adds a level, replacing an earlier one with the same id or location.
func (v *Variant) AttachLevel(l InventoryLevel) {
	for i := range v.InventoryLevels {
		cur := &v.InventoryLevels[i]
		if (l.ID != "" && cur.ID == l.ID) || (l.ID == "" && cur.LocationID == l.LocationID) {
			*cur = l
			return
		}
	}
	v.InventoryLevels = append(v.InventoryLevels, l)
}

// IDFromSortKey strips the kind prefix from a sort key.
func IDFromSortKey(sk string) string {
	if _, rest, ok := strings.Cut(sk, "#"); ok {
		return rest
	}
	return sk
}
