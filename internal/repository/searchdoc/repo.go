// Package searchdoc publishes per-variant search documents as RediSearch
// JSON documents and owns their FT index definition.
package searchdoc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kailas-cloud/catalogsync/internal/db"
	"github.com/kailas-cloud/catalogsync/internal/domain"
)

// Vector field names.
const (
	FieldDescriptionEmbed        = "product_description_embed"
	FieldDescriptionCuratedEmbed = "product_description_curated_embed"
)

// store is the consumer interface for the search engine (ISP).
type store interface {
	IndexExists(ctx context.Context, name string) (bool, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	JSONSetMulti(ctx context.Context, items []db.JSONSetItem) error
	SearchCount(ctx context.Context, index, query string) (int, error)
}

// Config describes the index.
type Config struct {
	Index      string
	KeyPrefix  string // document keys are <KeyPrefix><Index>:<variant_id>
	Dimensions int    // 0 = no vector fields
	Algorithm  db.VectorAlgorithm
	Distance   db.DistanceMetric
	HNSWM      int
	HNSWEF     int
	BlockSize  int // FLAT only
}

// Repo implements the index side of the document publisher.
type Repo struct {
	store store
	cfg   Config
	def   *db.IndexDefinition
}

// New validates the index definition and creates the repository.
func New(s store, cfg Config) (*Repo, error) {
	r := &Repo{store: s, cfg: cfg}
	def, err := r.definition().Build()
	if err != nil {
		return nil, fmt.Errorf("index definition: %w", err)
	}
	r.def = def
	return r, nil
}

func (r *Repo) definition() *db.IndexBuilder {
	b := db.NewIndex(r.cfg.Index).Prefix(r.prefix()).
		JSONField("merchant", db.IndexFieldTag).
		JSONField("product_id", db.IndexFieldTag).
		Text("$.product_title").As("product_title").
		JSONField("handle", db.IndexFieldTag).
		JSONField("vendor", db.IndexFieldTag).
		JSONField("product_type", db.IndexFieldTag).
		Tag("$.tags[*]").As("tags").
		JSONField("product_category", db.IndexFieldTag).
		JSONField("product_gender", db.IndexFieldTag).
		JSONField("product_age_group", db.IndexFieldTag).
		Text("$.product_description").As("product_description").
		Text("$.product_description_curated").As("product_description_curated").
		JSONField("variant_id", db.IndexFieldTag).
		Text("$.variant_title").As("variant_title").
		JSONField("sku", db.IndexFieldTag).
		TagWithOpts("$.options[*].value", ",", false).As("option_values").
		Numeric("$.price").As("price").
		Numeric("$.inventory_available").As("inventory_available").
		Numeric("$.num_other_available_variants").As("num_other_available_variants").
		Numeric("$.updated_at").As("updated_at")

	if r.cfg.Dimensions > 0 {
		for _, f := range []string{FieldDescriptionEmbed, FieldDescriptionCuratedEmbed} {
			b = r.vector(b, "$."+f).As(f)
		}
	}
	return b
}

func (r *Repo) vector(b *db.IndexBuilder, path string) *db.IndexBuilder {
	distance := r.cfg.Distance
	if distance == "" {
		distance = db.DistanceCosine
	}
	if r.cfg.Algorithm == db.VectorFlat {
		return b.VectorFlat(path, r.cfg.Dimensions, distance, r.cfg.BlockSize)
	}
	return b.VectorHNSW(path, r.cfg.Dimensions, distance, r.cfg.HNSWM, r.cfg.HNSWEF)
}

// Definition returns the FT index definition.
func (r *Repo) Definition() *db.IndexDefinition { return r.def }

func (r *Repo) prefix() string { return r.cfg.KeyPrefix + r.cfg.Index + ":" }

// Key returns the document key of a variant.
func (r *Repo) Key(variantID string) string { return r.prefix() + variantID }

// EnsureIndex creates the index if it does not exist. It never drops or
// alters an existing index. Returns true when the index was created.
func (r *Repo) EnsureIndex(ctx context.Context) (bool, error) {
	exists, err := r.store.IndexExists(ctx, r.def.Name)
	if err != nil {
		return false, fmt.Errorf("check index %s: %w: %w", r.def.Name, domain.ErrIndexCreate, err)
	}
	if exists {
		return false, nil
	}
	if err := r.store.CreateIndex(ctx, r.def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return false, nil
		}
		return false, fmt.Errorf("create index %s: %w: %w", r.def.Name, domain.ErrIndexCreate, err)
	}
	return true, nil
}

// Put writes docs in one pipelined round-trip, overwriting by variant id.
func (r *Repo) Put(ctx context.Context, docs []domain.SearchDocument) error {
	if len(docs) == 0 {
		return nil
	}
	items := make([]db.JSONSetItem, 0, len(docs))
	for i := range docs {
		data, err := json.Marshal(&docs[i])
		if err != nil {
			return fmt.Errorf("marshal document %s: %w", docs[i].VariantID, err)
		}
		items = append(items, db.JSONSetItem{Key: r.Key(docs[i].VariantID), Path: "$", Data: data})
	}
	if err := r.store.JSONSetMulti(ctx, items); err != nil {
		return fmt.Errorf("json.set %d documents: %w", len(items), err)
	}
	return nil
}

// Count returns the number of documents of a merchant, or of the whole index
// when merchant is empty.
func (r *Repo) Count(ctx context.Context, merchant string) (int, error) {
	query := "*"
	if merchant != "" {
		query = "@merchant:{" + escapeTag(merchant) + "}"
	}
	n, err := r.store.SearchCount(ctx, r.def.Name, query)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", r.def.Name, err)
	}
	return n, nil
}

// escapeTag escapes RediSearch TAG punctuation.
func escapeTag(s string) string {
	out := make([]byte, 0, len(s)*2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case ',', '.', '<', '>', '{', '}', '[', ']', '"', '\'', ':', ';', '!', '@', '#',
			'$', '%', '^', '&', '*', '(', ')', '-', '+', '=', '~', '|', '/', '\\', ' ':
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}
