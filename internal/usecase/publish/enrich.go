package publish

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsync/internal/domain"
)

// Enricher embeds product texts. Failures leave the text without a vector.
type Enricher struct {
	embedder  domain.Embedder
	chunkSize int
	workers   int
	summary   *domain.Summary
	logger    *zap.Logger
}

// NewEnricher creates an Enricher. A nil embedder disables enrichment.
func NewEnricher(e domain.Embedder, chunkSize, workers int, summary *domain.Summary, logger *zap.Logger) *Enricher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if summary == nil {
		summary = domain.NewSummary(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{embedder: e, chunkSize: chunkSize, workers: workers, summary: summary, logger: logger}
}

// Embed returns vectors for every text it could embed.
func (e *Enricher) Embed(ctx context.Context, texts []string) (Vectors, error) {
	out := make(Vectors, len(texts))
	if e.embedder == nil || len(texts) == 0 {
		return out, nil
	}

	pool, err := ants.NewPool(e.workers)
	if err != nil {
		return nil, fmt.Errorf("embedding pool: %w", err)
	}
	defer pool.Release()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for start := 0; start < len(texts); start += e.chunkSize {
		chunk := texts[start:min(start+e.chunkSize, len(texts))]
		task := func() {
			defer wg.Done()
			vecs := e.embedChunk(ctx, chunk)
			mu.Lock()
			for i, v := range vecs {
				if len(v) > 0 {
					out[chunk[i]] = v
				}
			}
			mu.Unlock()
		}
		wg.Add(1)
		if err := pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	e.logger.Info("Texts embedded",
		zap.Int("texts", len(texts)),
		zap.Int("embedded", len(out)),
		zap.Int64("failures", e.summary.EmbeddingFailures.Load()),
	)
	return out, ctx.Err()
}

// embedChunk tries one batch call and falls back to per-text calls so a
// single bad text only loses its own vector.
func (e *Enricher) embedChunk(ctx context.Context, chunk []string) [][]float32 {
	if be, ok := e.embedder.(domain.BatchEmbedder); ok {
		res, err := be.BatchEmbed(ctx, chunk)
		if err == nil && len(res.Embeddings) == len(chunk) {
			return res.Embeddings
		}
		e.logger.Warn("Batch embedding failed, retrying per text",
			zap.Int("chunk_size", len(chunk)),
			zap.Error(err),
		)
	}

	out := make([][]float32, len(chunk))
	for i, text := range chunk {
		if ctx.Err() != nil {
			return out
		}
		res, err := e.embedder.Embed(ctx, text)
		if err != nil {
			e.summary.EmbeddingFailures.Add(1)
			e.summary.Record(&domain.RecordError{
				Category: domain.CategoryEmbedding,
				ID:       preview(text),
				Err:      err,
			})
			continue
		}
		out[i] = res.Embedding
	}
	return out
}

func preview(s string) string {
	const n = 40
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
