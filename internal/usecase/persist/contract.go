package persist

import (
	"context"

	"github.com/kailas-cloud/catalogsync/internal/domain"
)

// Writer upserts one batch of entities for a tenant. Entities in a batch
// have distinct keys. Implementations retry on their own and return
// domain.ErrWriteExhausted when they give up.
type Writer interface {
	WriteBatch(ctx context.Context, tenant string, batch []domain.Entity) error
}
