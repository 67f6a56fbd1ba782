package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/shopspring/decimal"

	"github.com/kailas-cloud/catalogsync/internal/domain"
)

func sampleEntities() []domain.Entity {
	return []domain.Entity{
		&domain.Product{
			ID:          "gid://shopify/Product/1",
			Handle:      "tee",
			Title:       "Tee",
			Description: "Soft cotton tee",
			Vendor:      "Acme",
			Tags:        []string{"cotton", "summer"},
			Images:      []domain.Image{{URL: "https://cdn/tee.png", AltText: "front"}},
			Accessibility: map[string]domain.Attribute{
				"summary":             {Value: "Tagless"},
				"details.tactile_map": {Image: &domain.Image{URL: "https://cdn/map.png"}},
			},
		},
		&domain.Variant{
			ID:              "gid://shopify/ProductVariant/11",
			ProductID:       "gid://shopify/Product/1",
			SKU:             "TEE-S",
			Title:           "S",
			Price:           &domain.Money{Amount: decimal.RequireFromString("19.90"), Currency: "USD"},
			Available:       true,
			Options:         []domain.OptionValue{{Name: "Size", Value: "S"}},
			Image:           &domain.Image{URL: "https://cdn/tee-s.png"},
			InventoryItemID: "gid://shopify/InventoryItem/111",
			FitNote:         "Runs small",
			InventoryLevels: []domain.InventoryLevel{
				{LocationID: "L1", LocationName: "Main", Quantities: map[string]int64{"available": 5}},
				{LocationID: "L2", Quantities: map[string]int64{"available": 2, "committed": 1}},
			},
		},
	}
}

func TestWriteBatch_ItemShape(t *testing.T) {
	s := newMemStore()
	r := New(s, 0, nil)

	if err := r.WriteBatch(context.Background(), "shop.example", sampleEntities()); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	p := s.items["MERCHANT#shop.example|PRODUCT#gid://shopify/Product/1"]
	if p == nil {
		t.Fatal("product item missing")
	}
	if aws.StringValue(p["entity"].S) != "product" || aws.StringValue(p["shop_domain"].S) != "shop.example" {
		t.Errorf("unexpected product keys: %v", p)
	}
	if aws.StringValue(p["GSI1SK"].S) != "HANDLE#tee" {
		t.Errorf("expected handle GSI, got %v", p["GSI1SK"])
	}
	if len(p["tags"].L) != 2 {
		t.Errorf("expected tags list, got %v", p["tags"])
	}

	v := s.items["MERCHANT#shop.example|VARIANT#gid://shopify/ProductVariant/11"]
	if v == nil {
		t.Fatal("variant item missing")
	}
	if aws.StringValue(v["price"].N) != "19.9" {
		t.Errorf("expected exact N price, got %v", v["price"])
	}
	if len(v["inventoryLevels"].L) != 2 {
		t.Errorf("expected 2 inventory levels, got %v", v["inventoryLevels"])
	}
	if aws.StringValue(v["a11y"].M["fit_note"].S) != "Runs small" {
		t.Errorf("expected fit note, got %v", v["a11y"])
	}
}

func TestWriteBatch_Idempotent(t *testing.T) {
	s := newMemStore()
	r := New(s, 0, nil)
	ents := sampleEntities()

	if err := r.WriteBatch(context.Background(), "shop", ents); err != nil {
		t.Fatal(err)
	}
	first := len(s.items)
	if err := r.WriteBatch(context.Background(), "shop", ents); err != nil {
		t.Fatal(err)
	}
	if len(s.items) != first || first != 2 {
		t.Errorf("expected 2 stable keys, got %d then %d", first, len(s.items))
	}
}

func TestWriteBatch_StoreError(t *testing.T) {
	s := newMemStore()
	s.putErr = domain.ErrWriteExhausted
	r := New(s, 0, nil)

	err := r.WriteBatch(context.Background(), "shop", sampleEntities())
	if !errors.Is(err, domain.ErrWriteExhausted) {
		t.Errorf("expected ErrWriteExhausted, got %v", err)
	}
}

func TestScanProducts_RoundTrip(t *testing.T) {
	s := newMemStore()
	r := New(s, 50, nil)
	if err := r.WriteBatch(context.Background(), "shop", sampleEntities()); err != nil {
		t.Fatal(err)
	}

	var got []domain.ProductSummary
	err := r.ScanProducts(context.Background(), "shop", func(p domain.ProductSummary) error {
		got = append(got, p)
		return nil
	})
	if err != nil {
		t.Fatalf("ScanProducts: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 product, got %d", len(got))
	}
	p := got[0]
	if p.ID != "gid://shopify/Product/1" || p.Merchant != "shop" || p.Title != "Tee" || p.Description != "Soft cotton tee" {
		t.Errorf("unexpected summary: %+v", p)
	}
	if len(p.Images) != 1 || p.Images[0].AltText != "front" {
		t.Errorf("unexpected images: %+v", p.Images)
	}
	if s.lastReq.PageSize != 50 {
		t.Errorf("expected page size 50, got %d", s.lastReq.PageSize)
	}
}

func TestScanProducts_EnrichedAttributesAndFallbackID(t *testing.T) {
	s := newMemStore()
	s.items["MERCHANT#shop|PRODUCT#42"] = map[string]*dynamodb.AttributeValue{
		"PK":                  {S: aws.String("MERCHANT#shop")},
		"SK":                  {S: aws.String("PRODUCT#42")},
		"entity":              {S: aws.String("product")},
		"product_category":    {S: aws.String("Apparel")},
		"gender":              {S: aws.String("female")},
		"age_group":           {S: aws.String("adult")},
		"description_curated": {S: aws.String("Curated text")},
		"featuredImage":       {M: map[string]*dynamodb.AttributeValue{"url": {S: aws.String("https://cdn/f.png")}}},
	}
	r := New(s, 0, nil)

	var got domain.ProductSummary
	err := r.ScanProducts(context.Background(), "shop", func(p domain.ProductSummary) error {
		got = p
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "42" {
		t.Errorf("expected id from sort key, got %q", got.ID)
	}
	if got.Category != "Apparel" || got.Gender != "female" || got.AgeGroup != "adult" ||
		got.DescriptionCurated != "Curated text" || got.FeaturedImage != "https://cdn/f.png" {
		t.Errorf("unexpected enrichment: %+v", got)
	}
	if got.Tags == nil {
		t.Error("tags should default to empty, not nil")
	}
}

func TestScanVariants_RoundTrip(t *testing.T) {
	s := newMemStore()
	r := New(s, 0, nil)
	if err := r.WriteBatch(context.Background(), "shop", sampleEntities()); err != nil {
		t.Fatal(err)
	}

	var got []domain.VariantRecord
	err := r.ScanVariants(context.Background(), "shop", func(v domain.VariantRecord) error {
		got = append(got, v)
		return nil
	})
	if err != nil {
		t.Fatalf("ScanVariants: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 variant, got %d", len(got))
	}
	v := got[0]
	if v.ProductID != "gid://shopify/Product/1" || v.SKU != "TEE-S" || !v.Available {
		t.Errorf("unexpected record: %+v", v)
	}
	if v.Price == nil || !v.Price.Amount.Equal(decimal.RequireFromString("19.90")) || v.Price.Currency != "USD" {
		t.Errorf("unexpected price: %+v", v.Price)
	}
	if v.InventoryAvailable != 7 {
		t.Errorf("expected inventory 7, got %d", v.InventoryAvailable)
	}
	if v.ImageURL != "https://cdn/tee-s.png" {
		t.Errorf("unexpected image: %q", v.ImageURL)
	}
	if len(v.Options) != 1 || v.Options[0] != (domain.OptionValue{Name: "Size", Value: "S"}) {
		t.Errorf("unexpected options: %+v", v.Options)
	}
}

func TestScanVariants_TenantIsolation(t *testing.T) {
	s := newMemStore()
	r := New(s, 0, nil)
	if err := r.WriteBatch(context.Background(), "other", sampleEntities()); err != nil {
		t.Fatal(err)
	}

	n := 0
	err := r.ScanVariants(context.Background(), "shop", func(domain.VariantRecord) error {
		n++
		return nil
	})
	if err != nil || n != 0 {
		t.Errorf("expected no variants for another tenant, got %d (err %v)", n, err)
	}
}

func TestScanVariants_SkipsUndecodableItem(t *testing.T) {
	s := newMemStore()
	s.items["MERCHANT#shop|VARIANT#bad"] = map[string]*dynamodb.AttributeValue{
		"PK":     {S: aws.String("MERCHANT#shop")},
		"SK":     {S: aws.String("VARIANT#bad")},
		"entity": {S: aws.String("variant")},
		"price":  {S: aws.String("not-a-number")},
	}
	var reported []*domain.RecordError
	r := New(s, 0, nil, WithDecodeErrors(func(e *domain.RecordError) { reported = append(reported, e) }))
	if err := r.WriteBatch(context.Background(), "shop", sampleEntities()); err != nil {
		t.Fatal(err)
	}

	n := 0
	err := r.ScanVariants(context.Background(), "shop", func(domain.VariantRecord) error {
		n++
		return nil
	})
	if err != nil {
		t.Fatalf("ScanVariants: %v", err)
	}
	if n != 1 {
		t.Errorf("expected the good variant only, got %d", n)
	}
	if len(reported) != 1 {
		t.Fatalf("expected one decode report, got %d", len(reported))
	}
	if e := reported[0]; e.Category != domain.CategoryUndecodable || e.ID != "VARIANT#bad" || e.Err == nil {
		t.Errorf("unexpected decode report %+v", e)
	}
}

func TestScanProducts_DecodeErrorsWithoutCallback(t *testing.T) {
	s := newMemStore()
	s.items["MERCHANT#shop|PRODUCT#bad"] = map[string]*dynamodb.AttributeValue{
		"PK":     {S: aws.String("MERCHANT#shop")},
		"SK":     {S: aws.String("PRODUCT#bad")},
		"entity": {S: aws.String("product")},
		"tags":   {N: aws.String("7")},
	}
	r := New(s, 0, nil)

	err := r.ScanProducts(context.Background(), "shop", func(domain.ProductSummary) error { return nil })
	if err != nil {
		t.Fatalf("undecodable items must be skipped, got %v", err)
	}
}

func TestScan_CallbackErrorPropagates(t *testing.T) {
	s := newMemStore()
	r := New(s, 0, nil)
	if err := r.WriteBatch(context.Background(), "shop", sampleEntities()); err != nil {
		t.Fatal(err)
	}

	stop := errors.New("stop")
	err := r.ScanProducts(context.Background(), "shop", func(domain.ProductSummary) error { return stop })
	if !errors.Is(err, stop) {
		t.Errorf("expected callback error, got %v", err)
	}
}

func TestProjection_AliasesEveryAttribute(t *testing.T) {
	expr, names := projection([]string{"SK", "title", "size"})
	if expr != "#a0, #a1, #a2" {
		t.Errorf("unexpected expression %q", expr)
	}
	if aws.StringValue(names["#a2"]) != "size" || len(names) != 3 {
		t.Errorf("unexpected names %v", names)
	}
}
