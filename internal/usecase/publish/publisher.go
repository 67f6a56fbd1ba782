package publish

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsync/internal/domain"
	"github.com/kailas-cloud/catalogsync/internal/metrics"
	"github.com/kailas-cloud/catalogsync/internal/retry"
	"github.com/kailas-cloud/catalogsync/internal/usecase/scan"
)

// Options configures a Publisher.
type Options struct {
	ChunkSize      int
	Workers        int
	EmbedChunkSize int
	Retry          retry.Policy
	DryRun         bool
	Summary        *domain.Summary
	Logger         *zap.Logger
	Now            func() time.Time
}

// Publisher builds documents from a scanned catalog and indexes them.
type Publisher struct {
	indexer  *Indexer
	enricher *Enricher
	summary  *domain.Summary
	logger   *zap.Logger
	now      func() time.Time
}

// NewPublisher creates a Publisher. A nil embedder disables enrichment.
func NewPublisher(idx Index, emb domain.Embedder, opts Options) *Publisher {
	if opts.Summary == nil {
		opts.Summary = domain.NewSummary(0)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Publisher{
		indexer: NewIndexer(idx, IndexerOptions{
			ChunkSize: opts.ChunkSize,
			Workers:   opts.Workers,
			Retry:     opts.Retry,
			DryRun:    opts.DryRun,
			Summary:   opts.Summary,
			Logger:    opts.Logger,
		}),
		enricher: NewEnricher(emb, opts.EmbedChunkSize, opts.Workers, opts.Summary, opts.Logger),
		summary:  opts.Summary,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Prepare creates the index if it is missing. Failure is fatal.
func (p *Publisher) Prepare(ctx context.Context) error {
	if err := p.indexer.Ensure(ctx); err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}
	return nil
}

// Build embeds product texts and builds one document per variant.
func (p *Publisher) Build(ctx context.Context, tenant string, cat *scan.Catalog) ([]domain.SearchDocument, error) {
	vecs, err := p.enricher.Embed(ctx, Texts(cat))
	if err != nil {
		return nil, err
	}

	docs := Build(tenant, cat, vecs, p.now(), func(e *domain.RecordError) {
		p.summary.Record(e)
		metrics.RecordsSkippedTotal.WithLabelValues(string(domain.CategoryProductMissing)).Inc()
		p.logger.Warn("Variant without scanned product", zap.String("variant_id", e.ID))
	})
	p.summary.DocumentsBuilt.Add(int64(len(docs)))
	return docs, nil
}

// Index submits documents and reports the resulting index size for tenant.
func (p *Publisher) Index(ctx context.Context, tenant string, docs []domain.SearchDocument) error {
	if err := p.indexer.Index(ctx, docs); err != nil {
		return err
	}

	n, err := p.indexer.Count(ctx, tenant)
	if err != nil {
		// informational only
		p.logger.Warn("Index count failed", zap.Error(err))
		return nil
	}
	p.summary.IndexDocCount.Store(int64(n))
	p.logger.Info("Documents indexed",
		zap.Int64("indexed", p.summary.DocumentsIndexed.Load()),
		zap.Int("index_doc_count", n),
	)
	return nil
}

// Publish runs Prepare, Build and Index.
func (p *Publisher) Publish(ctx context.Context, tenant string, cat *scan.Catalog) error {
	if err := p.Prepare(ctx); err != nil {
		return err
	}
	docs, err := p.Build(ctx, tenant, cat)
	if err != nil {
		return err
	}
	return p.Index(ctx, tenant, docs)
}
