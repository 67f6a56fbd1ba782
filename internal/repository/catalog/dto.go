package catalog

import (
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/shopspring/decimal"

	"github.com/kailas-cloud/catalogsync/internal/domain"
)

// Attribute names shared with the classification jobs that enrich the table.
const (
	attrPK       = "PK"
	attrSK       = "SK"
	attrEntity   = "entity"
	attrShop     = "shop_domain"
	attrProduct  = "product_gid"
	attrVariant  = "variant_gid"
	attrCategory = "product_category"
)

// number stores an exact decimal as a DynamoDB N attribute.
type number struct {
	decimal.Decimal
}

func (n number) MarshalDynamoDBAttributeValue(av *dynamodb.AttributeValue) error {
	av.N = aws.String(n.String())
	return nil
}

func (n *number) UnmarshalDynamoDBAttributeValue(av *dynamodb.AttributeValue) error {
	var raw string
	switch {
	case av.N != nil:
		raw = *av.N
	case av.S != nil:
		raw = *av.S
	case av.NULL != nil:
		return nil
	default:
		return fmt.Errorf("price: unsupported attribute %v", av)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("price %q: %w", raw, err)
	}
	n.Decimal = d
	return nil
}

// imageRef accepts a plain URL string or an {url, altText} map.
type imageRef struct {
	URL     string `dynamodbav:"url"`
	AltText string `dynamodbav:"altText,omitempty"`
}

func (r *imageRef) UnmarshalDynamoDBAttributeValue(av *dynamodb.AttributeValue) error {
	switch {
	case av.S != nil:
		r.URL = *av.S
	case av.M != nil:
		if u := av.M["url"]; u != nil && u.S != nil {
			r.URL = *u.S
		}
		if a := av.M["altText"]; a != nil && a.S != nil {
			r.AltText = *a.S
		}
	}
	return nil
}

type optionItem struct {
	Name  string `dynamodbav:"name"`
	Value string `dynamodbav:"value"`
}

type attributeItem struct {
	Value     string    `dynamodbav:"value,omitempty"`
	Image     *imageRef `dynamodbav:"image,omitempty"`
	Reference string    `dynamodbav:"reference,omitempty"`
}

type variantA11y struct {
	FitNote string `dynamodbav:"fit_note"`
}

type levelItem struct {
	LevelID    string           `dynamodbav:"level_id,omitempty"`
	LocationID string           `dynamodbav:"location_id"`
	Location   string           `dynamodbav:"location,omitempty"`
	Available  int64            `dynamodbav:"available"`
	Quantities map[string]int64 `dynamodbav:"quantities,omitempty"`
}

type productItem struct {
	PK              string                   `dynamodbav:"PK"`
	SK              string                   `dynamodbav:"SK"`
	Entity          string                   `dynamodbav:"entity"`
	Shop            string                   `dynamodbav:"shop_domain"`
	ProductGID      string                   `dynamodbav:"product_gid"`
	Handle          string                   `dynamodbav:"handle,omitempty"`
	Title           string                   `dynamodbav:"title,omitempty"`
	Description     string                   `dynamodbav:"description,omitempty"`
	DescriptionHTML string                   `dynamodbav:"descriptionHtml,omitempty"`
	Vendor          string                   `dynamodbav:"vendor,omitempty"`
	ProductType     string                   `dynamodbav:"productType,omitempty"`
	Tags            []string                 `dynamodbav:"tags"`
	Images          []imageRef               `dynamodbav:"images"`
	A11y            map[string]attributeItem `dynamodbav:"a11y,omitempty"`
	GSI1PK          string                   `dynamodbav:"GSI1PK,omitempty"`
	GSI1SK          string                   `dynamodbav:"GSI1SK,omitempty"`
}

type variantItem struct {
	PK              string       `dynamodbav:"PK"`
	SK              string       `dynamodbav:"SK"`
	Entity          string       `dynamodbav:"entity"`
	Shop            string       `dynamodbav:"shop_domain"`
	ProductGID      string       `dynamodbav:"product_gid"`
	VariantGID      string       `dynamodbav:"variant_gid"`
	SKU             string       `dynamodbav:"sku,omitempty"`
	Title           string       `dynamodbav:"title,omitempty"`
	Price           *number      `dynamodbav:"price,omitempty"`
	Currency        string       `dynamodbav:"currencyCode,omitempty"`
	Available       bool         `dynamodbav:"availableForSale"`
	Options         []optionItem `dynamodbav:"selectedOptions"`
	Image           *imageRef    `dynamodbav:"image,omitempty"`
	InventoryItemID string       `dynamodbav:"inventoryItemId,omitempty"`
	A11y            *variantA11y `dynamodbav:"a11y,omitempty"`
	InventoryLevels []levelItem  `dynamodbav:"inventoryLevels"`
}

// productSummaryItem is the scan projection for products, including the
// attributes written by the classification jobs.
type productSummaryItem struct {
	SK                 string     `dynamodbav:"SK"`
	Shop               string     `dynamodbav:"shop_domain"`
	ProductGID         string     `dynamodbav:"product_gid"`
	Handle             string     `dynamodbav:"handle"`
	Title              string     `dynamodbav:"title"`
	Vendor             string     `dynamodbav:"vendor"`
	ProductType        string     `dynamodbav:"productType"`
	Tags               []string   `dynamodbav:"tags"`
	Description        string     `dynamodbav:"description"`
	DescriptionHTML    string     `dynamodbav:"descriptionHtml"`
	DescriptionCurated string     `dynamodbav:"description_curated"`
	Category           string     `dynamodbav:"product_category"`
	Gender             string     `dynamodbav:"gender"`
	AgeGroup           string     `dynamodbav:"age_group"`
	FeaturedImage      *imageRef  `dynamodbav:"featuredImage"`
	Images             []imageRef `dynamodbav:"images"`
}

var productProjection = []string{
	attrSK, attrShop, attrProduct, "handle", "title", "vendor", "productType", "tags",
	"description", "descriptionHtml", "description_curated", attrCategory, "gender",
	"age_group", "featuredImage", "images",
}

// variantRecordItem is the scan projection for variants.
type variantRecordItem struct {
	SK              string       `dynamodbav:"SK"`
	ProductGID      string       `dynamodbav:"product_gid"`
	VariantGID      string       `dynamodbav:"variant_gid"`
	Title           string       `dynamodbav:"title"`
	SKU             string       `dynamodbav:"sku"`
	Price           *number      `dynamodbav:"price"`
	Currency        string       `dynamodbav:"currencyCode"`
	Available       bool         `dynamodbav:"availableForSale"`
	Options         []optionItem `dynamodbav:"selectedOptions"`
	Image           *imageRef    `dynamodbav:"image"`
	InventoryLevels []levelItem  `dynamodbav:"inventoryLevels"`
}

var variantProjection = []string{
	attrSK, attrProduct, attrVariant, "title", "sku", "price", "currencyCode",
	"availableForSale", "selectedOptions", "image", "inventoryLevels",
}

func toProductItem(tenant string, p *domain.Product) productItem {
	k := p.Key(tenant)
	it := productItem{
		PK:              k.PK,
		SK:              k.SK,
		Entity:          string(domain.KindProduct),
		Shop:            tenant,
		ProductGID:      p.ID,
		Handle:          p.Handle,
		Title:           p.Title,
		Description:     p.Description,
		DescriptionHTML: p.DescriptionHTML,
		Vendor:          p.Vendor,
		ProductType:     p.ProductType,
		Tags:            nonNil(p.Tags),
		Images:          make([]imageRef, 0, len(p.Images)),
	}
	for _, img := range p.Images {
		it.Images = append(it.Images, imageRef{URL: img.URL, AltText: img.AltText})
	}
	if len(p.Accessibility) > 0 {
		it.A11y = make(map[string]attributeItem, len(p.Accessibility))
		for key, a := range p.Accessibility {
			ai := attributeItem{Value: a.Value, Reference: a.Reference}
			if a.Image != nil {
				ai.Image = &imageRef{URL: a.Image.URL, AltText: a.Image.AltText}
			}
			it.A11y[key] = ai
		}
	}
	if p.Handle != "" {
		it.GSI1PK = k.PK
		it.GSI1SK = "HANDLE#" + p.Handle
	}
	return it
}

func toVariantItem(tenant string, v *domain.Variant) variantItem {
	k := v.Key(tenant)
	it := variantItem{
		PK:              k.PK,
		SK:              k.SK,
		Entity:          string(domain.KindVariant),
		Shop:            tenant,
		ProductGID:      v.ProductID,
		VariantGID:      v.ID,
		SKU:             v.SKU,
		Title:           v.Title,
		Available:       v.Available,
		Options:         make([]optionItem, 0, len(v.Options)),
		InventoryItemID: v.InventoryItemID,
		InventoryLevels: make([]levelItem, 0, len(v.InventoryLevels)),
	}
	if v.Price != nil {
		it.Price = &number{v.Price.Amount}
		it.Currency = v.Price.Currency
	}
	for _, o := range v.Options {
		it.Options = append(it.Options, optionItem{Name: o.Name, Value: o.Value})
	}
	if v.Image != nil {
		it.Image = &imageRef{URL: v.Image.URL, AltText: v.Image.AltText}
	}
	if v.FitNote != "" {
		it.A11y = &variantA11y{FitNote: v.FitNote}
	}
	for _, l := range v.InventoryLevels {
		it.InventoryLevels = append(it.InventoryLevels, levelItem{
			LevelID:    l.ID,
			LocationID: l.LocationID,
			Location:   l.LocationName,
			Available:  l.Available(),
			Quantities: l.Quantities,
		})
	}
	return it
}

func (it productSummaryItem) toDomain() domain.ProductSummary {
	id := it.ProductGID
	if id == "" {
		id = domain.IDFromSortKey(it.SK)
	}
	ps := domain.ProductSummary{
		ID:                 id,
		Merchant:           it.Shop,
		Handle:             it.Handle,
		Title:              it.Title,
		Vendor:             it.Vendor,
		ProductType:        it.ProductType,
		Tags:               nonNil(it.Tags),
		Description:        it.Description,
		DescriptionHTML:    it.DescriptionHTML,
		DescriptionCurated: it.DescriptionCurated,
		Category:           it.Category,
		Gender:             it.Gender,
		AgeGroup:           it.AgeGroup,
		Images:             make([]domain.Image, 0, len(it.Images)),
	}
	if it.FeaturedImage != nil {
		ps.FeaturedImage = it.FeaturedImage.URL
	}
	for _, img := range it.Images {
		if img.URL == "" {
			continue
		}
		ps.Images = append(ps.Images, domain.Image{URL: img.URL, AltText: img.AltText})
	}
	return ps
}

func (it variantRecordItem) toDomain() domain.VariantRecord {
	id := it.VariantGID
	if id == "" {
		id = domain.IDFromSortKey(it.SK)
	}
	vr := domain.VariantRecord{
		ID:        id,
		ProductID: it.ProductGID,
		Title:     it.Title,
		SKU:       it.SKU,
		Available: it.Available,
		Options:   make([]domain.OptionValue, 0, len(it.Options)),
	}
	if it.Price != nil {
		vr.Price = &domain.Money{Amount: it.Price.Decimal, Currency: it.Currency}
	}
	for _, o := range it.Options {
		if o.Name == "" || o.Value == "" {
			continue
		}
		vr.Options = append(vr.Options, domain.OptionValue{Name: o.Name, Value: o.Value})
	}
	if it.Image != nil {
		vr.ImageURL = it.Image.URL
	}
	for _, l := range it.InventoryLevels {
		vr.InventoryAvailable += l.Available
	}
	return vr
}

// projection aliases every attribute so reserved words never collide.
func projection(attrs []string) (string, map[string]*string) {
	names := make(map[string]*string, len(attrs))
	expr := make([]byte, 0, len(attrs)*5)
	for i, a := range attrs {
		alias := "#a" + strconv.Itoa(i)
		names[alias] = aws.String(a)
		if i > 0 {
			expr = append(expr, ", "...)
		}
		expr = append(expr, alias...)
	}
	return string(expr), names
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
