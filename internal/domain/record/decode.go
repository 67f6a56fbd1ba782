package record

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kailas-cloud/catalogsync/internal/domain"
)

// Accessibility metafield aliases requested by the export query.
const (
	fieldA11ySummary = "a11y_summary"
	fieldA11yTactile = "a11y_tactile"
	fieldA11yDetails = "a11y_details"
	fieldA11yFit     = "a11y_fit"
)

type envelope struct {
	TypeName string `json:"__typename"`
	ParentID string `json:"__parentId"`
	ID       string `json:"id"`
}

// Decode parses one export line. Errors wrap domain.ErrMalformedRecord.
func Decode(line []byte) (Record, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedRecord, err)
	}

	switch Kind(env.TypeName) {
	case KindProduct:
		return decodeProduct(line, env)
	case KindVariant:
		return decodeVariant(line, env)
	case KindInventoryLevel:
		return decodeLevel(line, env)
	default:
		return &Unknown{
			TypeName: env.TypeName,
			RecordID: env.ID,
			Parent:   env.ParentID,
			Raw:      append([]byte(nil), line...),
		}, nil
	}
}

func malformed(kind Kind, reason string) error {
	return fmt.Errorf("%w: %s %s", domain.ErrMalformedRecord, kind, reason)
}

type wireImage struct {
	URL     string `json:"url"`
	AltText string `json:"altText"`
}

func (w *wireImage) toDomain() *domain.Image {
	if w == nil || w.URL == "" {
		return nil
	}
	return &domain.Image{URL: w.URL, AltText: w.AltText}
}

// wireImages accepts either a connection ({"edges":[{"node":{...}}]}) or a plain list.
type wireImages []wireImage

func (w *wireImages) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*w = nil
		return nil
	}
	if data[0] == '[' {
		var list []wireImage
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*w = list
		return nil
	}
	var conn struct {
		Edges []struct {
			Node wireImage `json:"node"`
		} `json:"edges"`
	}
	if err := json.Unmarshal(data, &conn); err != nil {
		return err
	}
	out := make([]wireImage, 0, len(conn.Edges))
	for _, e := range conn.Edges {
		out = append(out, e.Node)
	}
	*w = out
	return nil
}

type wireMetafield struct {
	Value     *string         `json:"value"`
	Reference *wireMetaobject `json:"reference"`
}

type wireMetaobject struct {
	Fields []struct {
		Key       string          `json:"key"`
		Value     *string         `json:"value"`
		Reference json.RawMessage `json:"reference"`
	} `json:"fields"`
}

type wireProduct struct {
	Handle          string         `json:"handle"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	DescriptionHTML string         `json:"descriptionHtml"`
	Vendor          string         `json:"vendor"`
	ProductType     string         `json:"productType"`
	Tags            []string       `json:"tags"`
	Images          wireImages     `json:"images"`
	Summary         *wireMetafield `json:"a11y_summary"`
	Tactile         *wireMetafield `json:"a11y_tactile"`
	Details         *wireMetafield `json:"a11y_details"`
}

func decodeProduct(line []byte, env envelope) (Record, error) {
	if env.ID == "" {
		return nil, malformed(KindProduct, "without id")
	}
	var w wireProduct
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedRecord, err)
	}

	p := domain.Product{
		ID:              env.ID,
		Handle:          w.Handle,
		Title:           w.Title,
		Description:     w.Description,
		DescriptionHTML: w.DescriptionHTML,
		Vendor:          w.Vendor,
		ProductType:     w.ProductType,
		Tags:            w.Tags,
	}
	for i := range w.Images {
		if img := w.Images[i].toDomain(); img != nil {
			p.Images = append(p.Images, *img)
		}
	}
	p.Accessibility = accessibility(w)
	return &Product{Product: p}, nil
}

// accessibility flattens the a11y metafields; metaobject fields are keyed "details.<key>".
func accessibility(w wireProduct) map[string]domain.Attribute {
	out := make(map[string]domain.Attribute)
	if w.Summary != nil && w.Summary.Value != nil {
		out["summary"] = domain.Attribute{Value: *w.Summary.Value}
	}
	if w.Tactile != nil && w.Tactile.Value != nil {
		out["tactile_features"] = domain.Attribute{Value: *w.Tactile.Value}
	}
	if w.Details != nil && w.Details.Reference != nil {
		for _, f := range w.Details.Reference.Fields {
			if f.Key == "" {
				continue
			}
			key := "details." + f.Key
			switch {
			case len(f.Reference) > 0 && !bytes.Equal(f.Reference, []byte("null")):
				out[key] = referenceAttribute(f.Reference)
			case f.Value != nil:
				out[key] = domain.Attribute{Value: *f.Value}
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func referenceAttribute(raw json.RawMessage) domain.Attribute {
	var media struct {
		Image *wireImage `json:"image"`
	}
	if err := json.Unmarshal(raw, &media); err == nil {
		if img := media.Image.toDomain(); img != nil {
			return domain.Attribute{Image: img}
		}
	}
	return domain.Attribute{Reference: string(raw)}
}

// wirePrice accepts a number, a numeric string or {"amount", "currencyCode"}.
type wirePrice struct {
	money *domain.Money
}

func (w *wirePrice) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '{' {
		var obj struct {
			Amount       *decimal.Decimal `json:"amount"`
			CurrencyCode string           `json:"currencyCode"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		if obj.Amount == nil {
			return nil
		}
		w.money = &domain.Money{Amount: *obj.Amount, Currency: obj.CurrencyCode}
		return nil
	}
	var amount decimal.Decimal
	if err := amount.UnmarshalJSON(data); err != nil {
		return err
	}
	w.money = &domain.Money{Amount: amount}
	return nil
}

type wireVariant struct {
	SKU              string               `json:"sku"`
	Title            string               `json:"title"`
	Price            wirePrice            `json:"price"`
	AvailableForSale bool                 `json:"availableForSale"`
	SelectedOptions  []domain.OptionValue `json:"selectedOptions"`
	Image            *wireImage           `json:"image"`
	InventoryItem    *struct {
		ID string `json:"id"`
	} `json:"inventoryItem"`
	Fit *wireMetafield `json:"a11y_fit"`
}

func decodeVariant(line []byte, env envelope) (Record, error) {
	if env.ID == "" {
		return nil, malformed(KindVariant, "without id")
	}
	var w wireVariant
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedRecord, err)
	}

	v := domain.Variant{
		ID:        env.ID,
		ProductID: env.ParentID,
		SKU:       w.SKU,
		Title:     w.Title,
		Price:     w.Price.money,
		Available: w.AvailableForSale,
		Image:     w.Image.toDomain(),
	}
	seen := make(map[string]bool, len(w.SelectedOptions))
	for _, o := range w.SelectedOptions {
		if o.Name == "" || seen[o.Name] {
			continue
		}
		seen[o.Name] = true
		v.Options = append(v.Options, o)
	}
	if w.InventoryItem != nil {
		v.InventoryItemID = w.InventoryItem.ID
	}
	if w.Fit != nil && w.Fit.Value != nil {
		v.FitNote = *w.Fit.Value
	}
	return &Variant{Variant: v}, nil
}

type wireLevel struct {
	Location *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"location"`
	Quantities []struct {
		Name     string `json:"name"`
		Quantity *int64 `json:"quantity"`
	} `json:"quantities"`
	Available *int64 `json:"available"`
}

func decodeLevel(line []byte, env envelope) (Record, error) {
	if env.ParentID == "" {
		return nil, malformed(KindInventoryLevel, "without __parentId")
	}
	var w wireLevel
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedRecord, err)
	}

	lvl := domain.InventoryLevel{
		ID:              env.ID,
		InventoryItemID: env.ParentID,
		Quantities:      make(map[string]int64, len(w.Quantities)+1),
	}
	if w.Location != nil {
		lvl.LocationID = w.Location.ID
		lvl.LocationName = w.Location.Name
	}
	for _, q := range w.Quantities {
		if q.Name != "" && q.Quantity != nil {
			lvl.Quantities[q.Name] = *q.Quantity
		}
	}
	// Older API versions report a bare "available" scalar.
	if _, ok := lvl.Quantities["available"]; !ok && w.Available != nil {
		lvl.Quantities["available"] = *w.Available
	}
	return &InventoryLevel{Parent: env.ParentID, Level: lvl}, nil
}
