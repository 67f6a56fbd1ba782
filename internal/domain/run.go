package domain

import (
	"sync"
	"sync/atomic"
)

// JobStatus is the remote state of a bulk export job.
type JobStatus string

// Export job states.
const (
	JobCreated   JobStatus = "CREATED"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCanceled  JobStatus = "CANCELED"
	JobCanceling JobStatus = "CANCELING"
	JobExpired   JobStatus = "EXPIRED"
)

// Terminal reports whether no further polling can change the status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCanceled, JobExpired:
		return true
	}
	return false
}

// Stage is the run-level state machine position.
type Stage string

// Run stages in order.
const (
	StagePending     Stage = "PENDING"
	StagePolling     Stage = "POLLING"
	StageStreaming   Stage = "STREAMING"
	StagePersisting  Stage = "PERSISTING"
	StageScanning    Stage = "SCANNING"
	StageAggregating Stage = "AGGREGATING"
	StageIndexing    Stage = "INDEXING"
	StageDone        Stage = "DONE"
	StageFailed      Stage = "FAILED"
)

// DefaultErrorSamples is how many errors per category a Summary keeps.
const DefaultErrorSamples = 5

// Summary collects run counters. Counters are safe for concurrent use.
type Summary struct {
	RecordsRead            atomic.Int64
	ProductsSeen           atomic.Int64
	VariantsSeen           atomic.Int64
	LevelsSeen             atomic.Int64
	LevelsAttached         atomic.Int64
	OrphansDropped         atomic.Int64
	MalformedLines         atomic.Int64
	UnknownRecords         atomic.Int64
	VariantsWithoutProduct atomic.Int64
	EntitiesPersisted      atomic.Int64
	BatchesWritten         atomic.Int64
	BatchesFailed          atomic.Int64
	ProductsScanned        atomic.Int64
	VariantsScanned        atomic.Int64
	ItemsUndecodable       atomic.Int64
	DocumentsBuilt         atomic.Int64
	DocumentsIndexed       atomic.Int64
	ChunksFailed           atomic.Int64
	EmbeddingFailures      atomic.Int64
	IndexDocCount          atomic.Int64

	maxSamples int
	mu         sync.Mutex
	stage      Stage
	samples    map[ErrorCategory][]string
}

// NewSummary creates a Summary keeping up to maxSamples errors per category.
func NewSummary(maxSamples int) *Summary {
	if maxSamples <= 0 {
		maxSamples = DefaultErrorSamples
	}
	return &Summary{
		maxSamples: maxSamples,
		stage:      StagePending,
		samples:    make(map[ErrorCategory][]string),
	}
}

// SetStage records the current stage.
func (s *Summary) SetStage(st Stage) {
	s.mu.Lock()
	s.stage = st
	s.mu.Unlock()
}

// Stage returns the current stage.
func (s *Summary) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Record keeps the error as a sample if its category still has room.
func (s *Summary) Record(e *RecordError) {
	if e == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples[e.Category]) < s.maxSamples {
		s.samples[e.Category] = append(s.samples[e.Category], e.Error())
	}
}

// Samples returns a copy of the kept error samples.
func (s *Summary) Samples() map[ErrorCategory][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ErrorCategory][]string, len(s.samples))
	for k, v := range s.samples {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Snapshot is a point-in-time copy of a Summary, suitable for JSON.
type Snapshot struct {
	Stage                  Stage                      `json:"stage"`
	RecordsRead            int64                      `json:"records_read"`
	ProductsSeen           int64                      `json:"products_seen"`
	VariantsSeen           int64                      `json:"variants_seen"`
	LevelsSeen             int64                      `json:"inventory_levels_seen"`
	LevelsAttached         int64                      `json:"inventory_levels_attached"`
	OrphansDropped         int64                      `json:"orphans_dropped"`
	MalformedLines         int64                      `json:"malformed_lines"`
	UnknownRecords         int64                      `json:"unknown_records"`
	VariantsWithoutProduct int64                      `json:"variants_without_product"`
	EntitiesPersisted      int64                      `json:"entities_persisted"`
	BatchesWritten         int64                      `json:"batches_written"`
	BatchesFailed          int64                      `json:"batches_failed"`
	ProductsScanned        int64                      `json:"products_scanned"`
	VariantsScanned        int64                      `json:"variants_scanned"`
	ItemsUndecodable       int64                      `json:"items_undecodable"`
	DocumentsBuilt         int64                      `json:"documents_built"`
	DocumentsIndexed       int64                      `json:"documents_indexed"`
	ChunksFailed           int64                      `json:"chunks_failed"`
	EmbeddingFailures      int64                      `json:"embedding_failures"`
	IndexDocCount          int64                      `json:"index_doc_count"`
	Errors                 map[ErrorCategory][]string `json:"errors,omitempty"`
}

// Snapshot copies the current counters.
func (s *Summary) Snapshot() Snapshot {
	return Snapshot{
		Stage:                  s.Stage(),
		RecordsRead:            s.RecordsRead.Load(),
		ProductsSeen:           s.ProductsSeen.Load(),
		VariantsSeen:           s.VariantsSeen.Load(),
		LevelsSeen:             s.LevelsSeen.Load(),
		LevelsAttached:         s.LevelsAttached.Load(),
		OrphansDropped:         s.OrphansDropped.Load(),
		MalformedLines:         s.MalformedLines.Load(),
		UnknownRecords:         s.UnknownRecords.Load(),
		VariantsWithoutProduct: s.VariantsWithoutProduct.Load(),
		EntitiesPersisted:      s.EntitiesPersisted.Load(),
		BatchesWritten:         s.BatchesWritten.Load(),
		BatchesFailed:          s.BatchesFailed.Load(),
		ProductsScanned:        s.ProductsScanned.Load(),
		VariantsScanned:        s.VariantsScanned.Load(),
		ItemsUndecodable:       s.ItemsUndecodable.Load(),
		DocumentsBuilt:         s.DocumentsBuilt.Load(),
		DocumentsIndexed:       s.DocumentsIndexed.Load(),
		ChunksFailed:           s.ChunksFailed.Load(),
		EmbeddingFailures:      s.EmbeddingFailures.Load(),
		IndexDocCount:          s.IndexDocCount.Load(),
		Errors:                 s.Samples(),
	}
}
