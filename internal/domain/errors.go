package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidConfig signals an unusable run configuration.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrJobFailed signals that the upstream export job reported FAILED.
	ErrJobFailed = errors.New("export job failed")
	// ErrJobCanceled signals that the upstream export job was canceled.
	ErrJobCanceled = errors.New("export job canceled")
	// ErrJobTimeout signals that the export job did not finish within the poll budget.
	ErrJobTimeout = errors.New("export job timed out")

	// ErrMalformedRecord signals an undecodable stream line.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrOrphanedChild signals a child record whose parent never appeared.
	ErrOrphanedChild = errors.New("orphaned child record")
	// ErrProductMissing signals a variant whose product was not found at build time.
	ErrProductMissing = errors.New("product missing")

	// ErrWriteExhausted signals a keyed-store batch that kept failing after all retries.
	ErrWriteExhausted = errors.New("batch write retries exhausted")
	// ErrIndexCreate signals that the search index could not be created.
	ErrIndexCreate = errors.New("search index creation failed")
	// ErrIndexWrite signals that a bulk-index chunk kept failing after all retries.
	ErrIndexWrite = errors.New("bulk index failed")

	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)

// ErrorCategory classifies recoverable problems for the run summary.
type ErrorCategory string

// Recoverable error categories.
const (
	CategoryMalformed      ErrorCategory = "malformed"
	CategoryUnknownKind    ErrorCategory = "unknown_kind"
	CategoryOrphan         ErrorCategory = "orphan"
	CategoryProductMissing ErrorCategory = "product_missing"
	CategoryEmbedding      ErrorCategory = "embedding"
	CategoryUndecodable    ErrorCategory = "undecodable" // stored item failed to decode on scan
)

// RecordError describes one recoverable per-record failure.
type RecordError struct {
	Category ErrorCategory
	Line     int    // 1-based stream line, 0 when not stream-bound
	ID       string // entity id, when known
	Err      error
}

func (e *RecordError) Error() string {
	switch {
	case e.Line > 0 && e.ID != "":
		return fmt.Sprintf("%s: line %d (%s): %v", e.Category, e.Line, e.ID, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("%s: line %d: %v", e.Category, e.Line, e.Err)
	case e.ID != "":
		return fmt.Sprintf("%s: %s: %v", e.Category, e.ID, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	}
}

func (e *RecordError) Unwrap() error { return e.Err }

// JobError carries the remote status and error code of a failed export job.
type JobError struct {
	JobID     string
	Status    JobStatus
	ErrorCode string
	Err       error
}

func (e *JobError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("job %s %s (%s): %v", e.JobID, e.Status, e.ErrorCode, e.Err)
	}
	return fmt.Sprintf("job %s %s: %v", e.JobID, e.Status, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }
