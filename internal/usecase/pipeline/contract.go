package pipeline

import (
	"context"
	"io"

	"github.com/kailas-cloud/catalogsync/internal/domain"
	"github.com/kailas-cloud/catalogsync/internal/usecase/correlate"
	"github.com/kailas-cloud/catalogsync/internal/usecase/export"
	"github.com/kailas-cloud/catalogsync/internal/usecase/scan"
)

// Exporter runs a remote bulk export and opens its result.
type Exporter interface {
	Run(ctx context.Context, query string) (io.ReadCloser, export.Status, error)
}

// Publisher turns a scanned catalog into indexed documents.
type Publisher interface {
	Prepare(ctx context.Context) error
	Build(ctx context.Context, tenant string, cat *scan.Catalog) ([]domain.SearchDocument, error)
	Index(ctx context.Context, tenant string, docs []domain.SearchDocument) error
}

// BufferFactory creates the child buffer for one correlation pass.
type BufferFactory func() (correlate.ChildBuffer, error)
