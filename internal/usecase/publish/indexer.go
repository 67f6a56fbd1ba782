package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsync/internal/domain"
	"github.com/kailas-cloud/catalogsync/internal/metrics"
	"github.com/kailas-cloud/catalogsync/internal/retry"
)

// Defaults.
const (
	DefaultChunkSize = 50
	DefaultWorkers   = 4
)

// Index is the search-engine side of publishing.
type Index interface {
	EnsureIndex(ctx context.Context) (bool, error)
	Put(ctx context.Context, docs []domain.SearchDocument) error
	Count(ctx context.Context, merchant string) (int, error)
}

// IndexerOptions configures an Indexer.
type IndexerOptions struct {
	ChunkSize int
	Workers   int
	Retry     retry.Policy
	DryRun    bool
	Summary   *domain.Summary
	Logger    *zap.Logger
}

// Indexer bulk-indexes documents in chunks over a bounded worker pool.
type Indexer struct {
	index Index
	opts  IndexerOptions
}

// NewIndexer creates an Indexer.
func NewIndexer(idx Index, opts IndexerOptions) *Indexer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.Default
	}
	if opts.Summary == nil {
		opts.Summary = domain.NewSummary(0)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Indexer{index: idx, opts: opts}
}

// Ensure creates the index if missing. Failure is fatal for the run.
func (x *Indexer) Ensure(ctx context.Context) error {
	if x.opts.DryRun {
		return nil
	}
	created, err := x.index.EnsureIndex(ctx)
	if err != nil {
		return err
	}
	if created {
		x.opts.Logger.Info("Search index created")
	}
	return nil
}

// Index writes all documents. Every chunk is attempted; chunks that still
// fail after retries are counted and reported together as domain.ErrIndexWrite.
func (x *Indexer) Index(ctx context.Context, docs []domain.SearchDocument) error {
	if len(docs) == 0 {
		return nil
	}

	pool, err := ants.NewPool(x.opts.Workers)
	if err != nil {
		return fmt.Errorf("index pool: %w", err)
	}
	defer pool.Release()

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for start := 0; start < len(docs); start += x.opts.ChunkSize {
		chunk := docs[start:min(start+x.opts.ChunkSize, len(docs))]
		task := func() {
			defer wg.Done()
			if err := x.indexChunk(ctx, chunk); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}
		wg.Add(1)
		if err := pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("%d of %d chunks failed: %w: %w",
			len(errs), (len(docs)+x.opts.ChunkSize-1)/x.opts.ChunkSize, domain.ErrIndexWrite, errors.Join(errs...))
	}
	return nil
}

func (x *Indexer) indexChunk(ctx context.Context, chunk []domain.SearchDocument) error {
	if x.opts.DryRun {
		metrics.BatchesTotal.WithLabelValues(metrics.StageIndex, metrics.StatusDryRun).Inc()
		x.opts.Logger.Info("Dry run: would index chunk",
			zap.Int("documents", len(chunk)),
			zap.String("first", chunk[0].VariantID),
			zap.String("last", chunk[len(chunk)-1].VariantID),
		)
		return nil
	}

	start := time.Now()
	err := retry.Do(ctx, x.opts.Retry, func(ctx context.Context, attempt int) error {
		err := x.index.Put(ctx, chunk)
		if err != nil {
			x.opts.Logger.Debug("Index chunk attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
	metrics.BatchDuration.WithLabelValues(metrics.StageIndex).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.BatchesTotal.WithLabelValues(metrics.StageIndex, metrics.StatusFailed).Inc()
		metrics.DocumentsIndexedTotal.WithLabelValues(metrics.StatusFailed).Add(float64(len(chunk)))
		x.opts.Summary.ChunksFailed.Add(1)
		x.opts.Logger.Error("Index chunk failed",
			zap.Int("documents", len(chunk)),
			zap.String("first", chunk[0].VariantID),
			zap.Error(err),
		)
		return fmt.Errorf("chunk starting at %s: %w", chunk[0].VariantID, err)
	}

	metrics.BatchesTotal.WithLabelValues(metrics.StageIndex, metrics.StatusOK).Inc()
	metrics.DocumentsIndexedTotal.WithLabelValues(metrics.StatusOK).Add(float64(len(chunk)))
	x.opts.Summary.DocumentsIndexed.Add(int64(len(chunk)))
	return nil
}

// Count reports the indexed document count for a merchant. Dry runs report 0.
func (x *Indexer) Count(ctx context.Context, merchant string) (int, error) {
	if x.opts.DryRun {
		return 0, nil
	}
	return x.index.Count(ctx, merchant)
}
