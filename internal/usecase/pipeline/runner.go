// Package pipeline runs one catalog sync: export, correlate and persist the
// catalog, then scan it back and publish search documents.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsync/internal/domain"
	"github.com/kailas-cloud/catalogsync/internal/domain/record"
	"github.com/kailas-cloud/catalogsync/internal/logger"
	"github.com/kailas-cloud/catalogsync/internal/metrics"
	"github.com/kailas-cloud/catalogsync/internal/usecase/correlate"
	"github.com/kailas-cloud/catalogsync/internal/usecase/export"
	"github.com/kailas-cloud/catalogsync/internal/usecase/persist"
	"github.com/kailas-cloud/catalogsync/internal/usecase/scan"
	"github.com/kailas-cloud/catalogsync/internal/usecase/stream"
)

var allStages = []string{
	string(domain.StagePending),
	string(domain.StagePolling),
	string(domain.StageStreaming),
	string(domain.StagePersisting),
	string(domain.StageScanning),
	string(domain.StageAggregating),
	string(domain.StageIndexing),
	string(domain.StageDone),
	string(domain.StageFailed),
}

// Config describes one run.
type Config struct {
	// RunID identifies the run in logs; generated when empty.
	RunID  string
	Tenant string
	// Query is the bulk export query. Ignored when Input is set.
	Query string
	// Input is a local or remote export location that bypasses the export job.
	Input        string
	BatchSize    int
	Workers      int
	MaxLineBytes int
}

// Deps are the collaborators of a run. Ingest needs Exporter unless
// Config.Input is set, in which case it needs Opener. Publish needs neither.
type Deps struct {
	Exporter  Exporter
	Opener    export.Opener
	Writer    persist.Writer
	Catalog   scan.Repository
	Publisher Publisher
	Buffers   BufferFactory
}

// Runner executes the pipeline stages. A Runner is used for one run; its
// Summary is live while the run progresses.
type Runner struct {
	cfg     Config
	deps    Deps
	summary *domain.Summary
	logger  *zap.Logger
	runID   string
}

// New creates a Runner reporting into summary.
func New(cfg Config, deps Deps, summary *domain.Summary, log *zap.Logger) (*Runner, error) {
	if cfg.Tenant == "" {
		return nil, fmt.Errorf("%w: tenant is required", domain.ErrInvalidConfig)
	}
	if cfg.Input != "" && deps.Opener == nil {
		return nil, fmt.Errorf("%w: input given without an opener", domain.ErrInvalidConfig)
	}
	if deps.Buffers == nil {
		deps.Buffers = func() (correlate.ChildBuffer, error) { return correlate.NewMemoryBuffer(), nil }
	}
	if summary == nil {
		summary = domain.NewSummary(0)
	}
	if log == nil {
		log = zap.NewNop()
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Runner{
		cfg:     cfg,
		deps:    deps,
		summary: summary,
		logger:  logger.ForRun(log, runID, cfg.Tenant),
		runID:   runID,
	}, nil
}

// ID returns the run id.
func (r *Runner) ID() string { return r.runID }

// Summary returns the live run summary.
func (r *Runner) Summary() *domain.Summary { return r.summary }

// Run ingests and then publishes.
func (r *Runner) Run(ctx context.Context) error {
	return r.track(ctx, func(ctx context.Context) error {
		if err := r.ingest(ctx); err != nil {
			return err
		}
		return r.publish(ctx)
	})
}

// Ingest exports, correlates and persists the catalog.
func (r *Runner) Ingest(ctx context.Context) error {
	return r.track(ctx, r.ingest)
}

// Publish scans the persisted catalog and indexes search documents.
func (r *Runner) Publish(ctx context.Context) error {
	return r.track(ctx, r.publish)
}

func (r *Runner) track(ctx context.Context, fn func(context.Context) error) error {
	ctx = logger.ContextWithLogger(ctx, r.logger)
	start := time.Now()
	r.logger.Info("Run started")

	if err := fn(ctx); err != nil {
		failedAt := r.summary.Stage()
		r.setStage(domain.StageFailed)
		r.logger.Error("Run failed",
			zap.String("stage", string(failedAt)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return fmt.Errorf("%s: %w", failedAt, err)
	}

	r.setStage(domain.StageDone)
	r.logger.Info("Run finished", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// enter moves to the next stage unless the run was canceled.
func (r *Runner) enter(ctx context.Context, st domain.Stage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.setStage(st)
	r.logger.Info("Stage started", zap.String("stage", string(st)))
	return nil
}

func (r *Runner) setStage(st domain.Stage) {
	r.summary.SetStage(st)
	metrics.SetStage(string(st), allStages)
}

func (r *Runner) open(ctx context.Context) (io.ReadCloser, error) {
	if r.cfg.Input != "" {
		r.logger.Info("Reading export from input", zap.String("input", r.cfg.Input))
		return r.deps.Opener.Open(ctx, r.cfg.Input)
	}
	if r.deps.Exporter == nil {
		return nil, fmt.Errorf("%w: no export source and no input", domain.ErrInvalidConfig)
	}
	rc, st, err := r.deps.Exporter.Run(ctx, r.cfg.Query)
	if err != nil {
		return nil, err
	}
	r.logger.Info("Export ready", zap.Int64("objects", st.ObjectCount))
	return rc, nil
}

func (r *Runner) ingest(ctx context.Context) (err error) {
	if err := r.enter(ctx, domain.StagePolling); err != nil {
		return err
	}
	body, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer body.Close()

	buf, err := r.deps.Buffers()
	if err != nil {
		return fmt.Errorf("child buffer: %w", err)
	}
	// Finish closes the buffer on success; this covers the failure paths.
	defer func() {
		if cerr := buf.Close(); cerr != nil {
			r.logger.Warn("Failed to close child buffer", zap.Error(cerr))
		}
	}()
	corr := correlate.New(buf, r.logger, correlate.WithRecordErrors(r.recordError))

	p := persist.New(r.deps.Writer, persist.Options{
		Tenant:    r.cfg.Tenant,
		BatchSize: r.cfg.BatchSize,
		Workers:   r.cfg.Workers,
		Summary:   r.summary,
		Logger:    r.logger,
	})
	defer func() {
		if cerr := p.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := r.enter(ctx, domain.StageStreaming); err != nil {
		return err
	}
	if err := r.stream(ctx, body, corr, p); err != nil {
		return err
	}

	if err := r.enter(ctx, domain.StagePersisting); err != nil {
		return err
	}
	variants, stats, err := corr.Finish()
	if err != nil {
		return err
	}
	r.summary.LevelsAttached.Store(stats.Attached)
	r.summary.OrphansDropped.Store(stats.Orphans)
	r.summary.VariantsWithoutProduct.Store(stats.VariantsWithoutProduct)
	metrics.RecordsSkippedTotal.WithLabelValues(string(domain.CategoryOrphan)).Add(float64(stats.Orphans))

	for _, v := range variants {
		if err := p.Enqueue(ctx, v); err != nil {
			return err
		}
	}
	if err := p.Close(ctx); err != nil {
		return err
	}

	r.logger.Info("Catalog persisted",
		zap.Int64("products", stats.Products),
		zap.Int64("variants", stats.Variants),
		zap.Int64("inventory_levels_attached", stats.Attached),
		zap.Int64("orphans_dropped", stats.Orphans),
		zap.Int64("entities_persisted", r.summary.EntitiesPersisted.Load()),
	)
	return nil
}

func (r *Runner) stream(ctx context.Context, body io.Reader, corr *correlate.Correlator, p *persist.Persister) error {
	rd := stream.NewReader(body, stream.Options{MaxLineBytes: r.cfg.MaxLineBytes, Logger: r.logger})

	for res := range rd.All() {
		r.summary.RecordsRead.Add(1)
		if res.Err != nil {
			r.summary.MalformedLines.Add(1)
			r.recordError(res.Err)
			continue
		}

		rec := res.Record
		metrics.RecordsTotal.WithLabelValues(string(rec.Kind())).Inc()
		switch rec.(type) {
		case *record.Product:
			r.summary.ProductsSeen.Add(1)
		case *record.Variant:
			r.summary.VariantsSeen.Add(1)
		case *record.InventoryLevel:
			r.summary.LevelsSeen.Add(1)
		case *record.Unknown:
			r.summary.UnknownRecords.Add(1)
			metrics.RecordsSkippedTotal.WithLabelValues(string(domain.CategoryUnknownKind)).Inc()
			r.logger.Debug("Skipping unknown record",
				zap.Int("line", res.Line),
				zap.String("kind", string(rec.Kind())),
			)
		}

		ready, err := corr.Add(rec)
		if err != nil {
			return err
		}
		for _, e := range ready {
			if err := p.Enqueue(ctx, e); err != nil {
				return err
			}
		}
	}
	if err := rd.Err(); err != nil {
		return err
	}
	return p.Err()
}

func (r *Runner) publish(ctx context.Context) error {
	if err := r.enter(ctx, domain.StageScanning); err != nil {
		return err
	}
	cat, err := scan.New(r.deps.Catalog, r.summary, r.logger).Scan(ctx, r.cfg.Tenant)
	if err != nil {
		return err
	}

	if err := r.enter(ctx, domain.StageAggregating); err != nil {
		return err
	}
	docs, err := r.deps.Publisher.Build(ctx, r.cfg.Tenant, cat)
	if err != nil {
		return err
	}

	if err := r.enter(ctx, domain.StageIndexing); err != nil {
		return err
	}
	if err := r.deps.Publisher.Prepare(ctx); err != nil {
		return err
	}
	return r.deps.Publisher.Index(ctx, r.cfg.Tenant, docs)
}

func (r *Runner) recordError(e *domain.RecordError) { RecordSkipped(r.summary)(e) }

// RecordSkipped reports recoverable record errors into summary and the
// skipped-records counter. Components built before the Runner, such as the
// catalog scan, use it to report into the same run.
func RecordSkipped(summary *domain.Summary) func(*domain.RecordError) {
	return func(e *domain.RecordError) {
		if e.Category == domain.CategoryUndecodable {
			summary.ItemsUndecodable.Add(1)
		}
		summary.Record(e)
		// orphans are counted per level in ingest
		if e.Category != domain.CategoryOrphan {
			metrics.RecordsSkippedTotal.WithLabelValues(string(e.Category)).Inc()
		}
	}
}
