package publish

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kailas-cloud/catalogsync/internal/domain"
	"github.com/kailas-cloud/catalogsync/internal/retry"
)

var fastRetry = retry.Policy{MaxAttempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond}

type fakeIndex struct {
	mu        sync.Mutex
	docs      map[string]domain.SearchDocument
	puts      int
	ensured   int
	ensureErr error
	countErr  error
	// putFn overrides Put when set.
	putFn func(docs []domain.SearchDocument) error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: make(map[string]domain.SearchDocument)}
}

func (f *fakeIndex) EnsureIndex(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured++
	return f.ensured == 1, f.ensureErr
}

func (f *fakeIndex) Put(_ context.Context, docs []domain.SearchDocument) error {
	f.mu.Lock()
	f.puts++
	fn := f.putFn
	f.mu.Unlock()
	if fn != nil {
		if err := fn(docs); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range docs {
		f.docs[d.VariantID] = d
	}
	return nil
}

func (f *fakeIndex) Count(_ context.Context, merchant string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	n := 0
	for _, d := range f.docs {
		if merchant == "" || d.Merchant == merchant {
			n++
		}
	}
	return n, nil
}

type fakeEmbedder struct {
	mu       sync.Mutex
	calls    []string
	batches  int
	failText string
	batchErr error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	if text == f.failText {
		return domain.EmbeddingResult{}, domain.ErrEmbeddingProviderError
	}
	return domain.EmbeddingResult{Embedding: []float32{float32(len(text))}}, nil
}

func (f *fakeEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	f.mu.Lock()
	f.batches++
	batchErr := f.batchErr
	f.mu.Unlock()
	if batchErr != nil {
		return domain.BatchEmbeddingResult{}, batchErr
	}
	return domain.BatchFallback(ctx, f, texts)
}

var errFlaky = errors.New("connection reset")
