package export

import (
	"context"
	"io"
	"time"

	"github.com/kailas-cloud/catalogsync/internal/domain"
)

// Job identifies a started remote bulk export.
type Job struct {
	ID        string
	StartedAt time.Time
}

// Status is one observation of a remote job.
type Status struct {
	State       domain.JobStatus
	URL         string
	ErrorCode   string
	ObjectCount int64
}

// Source starts and observes bulk export jobs.
type Source interface {
	StartExport(ctx context.Context, query string) (Job, error)
	PollExport(ctx context.Context, job Job) (Status, error)
}

// Opener opens a finished export's result location for streaming.
type Opener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}
