package domain

// ProductSummary is the projection of a stored product used for denormalization.
// Category, Gender, AgeGroup and DescriptionCurated are written by external
// classification jobs and may be absent.
type ProductSummary struct {
	ID                 string
	Merchant           string
	Handle             string
	Title              string
	Vendor             string
	ProductType        string
	Tags               []string
	Description        string
	DescriptionHTML    string
	DescriptionCurated string
	Category           string
	Gender             string
	AgeGroup           string
	FeaturedImage      string
	Images             []Image
}

// VariantRecord is the projection of a stored variant used for aggregation.
type VariantRecord struct {
	ID                 string
	ProductID          string
	Title              string
	SKU                string
	Price              *Money
	Available          bool
	Options            []OptionValue
	ImageURL           string
	InventoryAvailable int64
}

// Siblings holds the cross-sibling aggregates of one variant.
type Siblings struct {
	NumOtherVariants          int
	NumOtherAvailableVariants int
	OtherOptions              map[string][]string
	OtherAvailableOptions     map[string][]string
}

// SearchDocument is the flat per-variant document published to the search index.
// VariantID doubles as the index document id.
type SearchDocument struct {
	Merchant           string   `json:"merchant"`
	ProductID          string   `json:"product_id"`
	ProductTitle       string   `json:"product_title"`
	Handle             string   `json:"handle"`
	Vendor             string   `json:"vendor"`
	ProductType        string   `json:"product_type"`
	Tags               []string `json:"tags"`
	ProductCategory    string   `json:"product_category"`
	ProductGender      string   `json:"product_gender"`
	ProductAgeGroup    string   `json:"product_age_group"`
	FeaturedImage      string   `json:"featured_image"`
	Images             []Image  `json:"images"`
	Description        string   `json:"product_description"`
	DescriptionCurated string   `json:"product_description_curated"`

	DescriptionEmbed        []float32 `json:"product_description_embed,omitempty"`
	DescriptionCuratedEmbed []float32 `json:"product_description_curated_embed,omitempty"`

	VariantID          string        `json:"variant_id"`
	VariantTitle       string        `json:"variant_title"`
	SKU                string        `json:"sku"`
	Price              float64       `json:"price"`
	Currency           string        `json:"currency"`
	Available          bool          `json:"available"`
	ImageURL           string        `json:"image_url"`
	Options            []OptionValue `json:"options"`
	InventoryAvailable int64         `json:"inventory_available"`

	NumOtherVariants          int                 `json:"num_other_variants"`
	NumOtherAvailableVariants int                 `json:"num_other_available_variants"`
	OtherOptions              map[string][]string `json:"other_options"`
	OtherAvailableOptions     map[string][]string `json:"other_available_options"`

	UpdatedAt int64 `json:"updated_at"`
}
