package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsync/internal/config"
	"github.com/kailas-cloud/catalogsync/internal/db"
	"github.com/kailas-cloud/catalogsync/internal/db/dynamo"
	dbRedis "github.com/kailas-cloud/catalogsync/internal/db/redis"
	"github.com/kailas-cloud/catalogsync/internal/domain"
	logpkg "github.com/kailas-cloud/catalogsync/internal/logger"
	"github.com/kailas-cloud/catalogsync/internal/metrics"
	"github.com/kailas-cloud/catalogsync/internal/repository/catalog"
	"github.com/kailas-cloud/catalogsync/internal/repository/embcache"
	"github.com/kailas-cloud/catalogsync/internal/repository/searchdoc"
	"github.com/kailas-cloud/catalogsync/internal/repository/spill"
	chiTransport "github.com/kailas-cloud/catalogsync/internal/transport/chi"
	"github.com/kailas-cloud/catalogsync/internal/transport/exportfile"
	openaiEmb "github.com/kailas-cloud/catalogsync/internal/transport/openai"
	"github.com/kailas-cloud/catalogsync/internal/transport/shopify"
	"github.com/kailas-cloud/catalogsync/internal/usecase/correlate"
	embeddinguc "github.com/kailas-cloud/catalogsync/internal/usecase/embedding"
	"github.com/kailas-cloud/catalogsync/internal/usecase/export"
	healthuc "github.com/kailas-cloud/catalogsync/internal/usecase/health"
	"github.com/kailas-cloud/catalogsync/internal/usecase/persist"
	"github.com/kailas-cloud/catalogsync/internal/usecase/pipeline"
	"github.com/kailas-cloud/catalogsync/internal/usecase/publish"
	"github.com/kailas-cloud/catalogsync/internal/version"
)

const shutdownTimeout = 10 * time.Second

// app carries what Before prepared into the command actions.
type app struct {
	env    string
	cfg    config.Config
	logger *zap.Logger
}

func main() {
	a := &app{}
	runFlags := []cli.Flag{
		&cli.StringFlag{Name: "tenant", Aliases: []string{"t"}, Usage: "Merchant shop domain (overrides config tenant)"},
		&cli.StringFlag{Name: "table", Usage: "DynamoDB table (overrides store.table)"},
		&cli.StringFlag{Name: "index", Usage: "Search index name (overrides search.index)"},
		&cli.BoolFlag{Name: "dry-run", Usage: "Print planned batches instead of writing"},
		&cli.StringFlag{Name: "spill-dir", Usage: "Directory for the disk-backed correlation buffer"},
	}
	ingestFlags := append([]cli.Flag{
		&cli.StringFlag{
			Name:    "input",
			Aliases: []string{"i"},
			Usage:   "Read an existing export (path, file://, https:// or s3://) instead of starting a bulk job",
		},
	}, runFlags...)

	cliApp := &cli.App{
		Name:    "catalogsync",
		Usage:   "Sync a merchant catalog into the keyed store and the search index",
		Version: fmt.Sprintf("%s (%s, %s)", version.Version, version.Commit, version.Date),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env", Usage: "Config environment (local, dev, docker, prod)", Value: config.GetEnv()},
			&cli.StringFlag{Name: "log-level", Aliases: []string{"l"}, Usage: "Set logging level (debug, info, warn, error)"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Ops server listen address (overrides metrics.addr)"},
		},
		Before: a.setup,
		After:  a.teardown,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Export, persist and publish the catalog",
				Flags:  ingestFlags,
				Action: a.action(func(ctx context.Context, r *pipeline.Runner) error { return r.Run(ctx) }),
			},
			{
				Name:   "ingest",
				Usage:  "Export and persist the catalog only",
				Flags:  ingestFlags,
				Action: a.action(func(ctx context.Context, r *pipeline.Runner) error { return r.Ingest(ctx) }),
			},
			{
				Name:   "publish",
				Usage:  "Rebuild search documents from the persisted catalog",
				Flags:  runFlags,
				Action: a.action(func(ctx context.Context, r *pipeline.Runner) error { return r.Publish(ctx) }),
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "catalogsync:", err)
		os.Exit(1)
	}
}

func (a *app) setup(c *cli.Context) error {
	a.env = c.String("env")
	cfg, err := config.Load(a.env)
	if err != nil {
		return err
	}
	level := cfg.Logging.Level
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	logger, err := logpkg.NewLogger(a.env, level)
	if err != nil {
		return err
	}
	if addr := c.String("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}

	// Register metrics explicitly (no init())
	metrics.Register(prometheus.DefaultRegisterer)

	a.cfg, a.logger = cfg, logger
	return nil
}

func (a *app) teardown(*cli.Context) error {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return nil
}

func (a *app) action(stage func(context.Context, *pipeline.Runner) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := a.cfg
		if v := c.String("tenant"); v != "" {
			cfg.Tenant = v
		}
		if v := c.String("table"); v != "" {
			cfg.Store.Table = v
		}
		if v := c.String("index"); v != "" {
			cfg.Search.Index = v
		}
		if v := c.String("spill-dir"); v != "" {
			cfg.Correlator.SpillDir = v
		}
		opts := runOptions{dryRun: c.Bool("dry-run"), input: c.String("input")}
		if cfg.Tenant == "" {
			return cli.Exit("tenant is required (--tenant or config tenant)", 2)
		}

		runID := uuid.NewString()
		logger := logpkg.ForRun(a.logger, runID, cfg.Tenant)
		logger.Info("Starting catalogsync",
			zap.String("version", version.Version),
			zap.String("env", a.env),
			zap.String("command", c.Command.Name),
			zap.Bool("dry_run", opts.dryRun),
		)

		summary := domain.NewSummary(cfg.Summary.ErrorsPerCategory)
		w, err := wire(ctx, cfg, opts, runID, summary, a.logger)
		if err != nil {
			logger.Error("Failed to initialize", zap.Error(err))
			return cli.Exit(err, 1)
		}
		defer w.close()

		stopOps := w.serveOps(cfg.Metrics, logger)
		defer stopOps()

		runErr := stage(ctx, w.runner)
		printSummary(os.Stdout, w.runner.ID(), summary.Snapshot())
		logger.Info("Run summary", zap.Any("summary", summary.Snapshot()))
		if runErr != nil {
			return cli.Exit(runErr, 1)
		}
		return nil
	}
}

type runOptions struct {
	dryRun bool
	input  string
}

// wiring owns the clients of one run.
type wiring struct {
	runner  *pipeline.Runner
	health  *healthuc.Service
	summary *domain.Summary
	tenant  string
	redis   *dbRedis.Store
}

func (w *wiring) close() {
	if w.redis != nil {
		w.redis.Close()
	}
}

// wire is the composition root.
func wire(
	ctx context.Context, cfg config.Config, opts runOptions, runID string,
	summary *domain.Summary, base *zap.Logger,
) (*wiring, error) {
	w := &wiring{summary: summary, tenant: cfg.Tenant}
	logger := logpkg.ForRun(base, runID, cfg.Tenant)

	dyn, err := dynamo.New(dynamo.Config{
		Region:          cfg.Store.Region,
		Endpoint:        cfg.Store.Endpoint,
		Table:           cfg.Store.Table,
		AccessKeyID:     cfg.Store.AccessKeyID,
		SecretAccessKey: cfg.Store.SecretAccessKey,
		Retry:           cfg.Store.Retry.Policy(),
	}, logger)
	if err != nil {
		return nil, err
	}
	catalogRepo := catalog.New(dyn, cfg.Store.ScanPageSize, logger,
		catalog.WithDecodeErrors(pipeline.RecordSkipped(summary)))

	var writer persist.Writer = catalogRepo
	if opts.dryRun {
		writer = persist.NewDryRunWriter(os.Stdout)
	}

	var searchStore *dbRedis.Store
	if !opts.dryRun {
		searchStore, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Search.Addrs,
			Username: cfg.Search.Username,
			Password: cfg.Search.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("search store: %w", err)
		}
		w.redis = searchStore
		if err := searchStore.WaitForReady(ctx, time.Duration(cfg.Search.ReadinessTimeout)*time.Second); err != nil {
			w.close()
			return nil, fmt.Errorf("search store not ready: %w", err)
		}
	}

	idxCfg := searchdoc.Config{
		Index:     cfg.Search.Index,
		KeyPrefix: cfg.Search.KeyPrefix,
		Algorithm: db.VectorAlgorithm(cfg.Search.VectorAlgorithm),
		Distance:  db.DistanceMetric(cfg.Search.DistanceMetric),
		HNSWM:     cfg.Search.HNSWM,
		HNSWEF:    cfg.Search.HNSWEFConstruct,
		BlockSize: cfg.Search.FlatBlockSize,
	}
	var embedder domain.Embedder
	if cfg.Embedding.Enabled && !opts.dryRun {
		embedder = buildEmbedder(cfg.Embedding, searchStore, logger)
		idxCfg.Dimensions = cfg.Embedding.Dimensions
	}
	var searchRepo *searchdoc.Repo
	if searchStore != nil {
		searchRepo, err = searchdoc.New(searchStore, idxCfg)
	} else {
		// Dry runs never reach the store; New only validates the definition.
		searchRepo, err = searchdoc.New(nil, idxCfg)
	}
	if err != nil {
		w.close()
		return nil, err
	}

	publisher := publish.NewPublisher(searchRepo, embedder, publish.Options{
		ChunkSize:      cfg.Search.BulkSize,
		Workers:        cfg.Search.Workers,
		EmbedChunkSize: cfg.Embedding.ChunkSize,
		Retry:          cfg.Search.Retry.Policy(),
		DryRun:         opts.dryRun,
		Summary:        summary,
		Logger:         logger,
	})

	deps := pipeline.Deps{
		Writer:    writer,
		Catalog:   catalogRepo,
		Publisher: publisher,
		Buffers:   childBuffers(cfg.Correlator.SpillDir, logger),
	}

	s3api, err := exportfile.NewS3(cfg.Source.AWSRegion)
	if err != nil {
		w.close()
		return nil, err
	}
	opener := exportfile.New(nil, s3api, logger)
	deps.Opener = opener
	if opts.input == "" && cfg.Source.Shop != "" {
		src, err := shopify.New(shopify.Config{
			Shop:       cfg.Source.Shop,
			Token:      cfg.Source.Token,
			APIVersion: cfg.Source.APIVersion,
		}, logger)
		if err != nil {
			w.close()
			return nil, err
		}
		deps.Exporter = export.NewPoller(src, opener, pollPolicy(cfg.Source.Poll), logger,
			export.WithObserver(func(st export.Status) {
				metrics.ExportPollsTotal.WithLabelValues(string(st.State)).Inc()
			}),
		)
	}

	runner, err := pipeline.New(pipeline.Config{
		RunID:        runID,
		Tenant:       cfg.Tenant,
		Query:        shopify.ProductsQuery,
		Input:        opts.input,
		BatchSize:    cfg.Store.BatchSize,
		Workers:      cfg.Store.Workers,
		MaxLineBytes: cfg.Source.MaxLineBytes,
	}, deps, summary, base)
	if err != nil {
		w.close()
		return nil, err
	}
	w.runner = runner

	// Pass nil interfaces, not typed nil pointers, for absent components.
	var searchPinger healthuc.Pinger
	if searchStore != nil {
		searchPinger = searchStore
	}
	var embChecker healthuc.EmbeddingChecker
	if hc, ok := embedder.(domain.HealthChecker); ok {
		embChecker = hc
	}
	w.health = healthuc.New(dyn, searchPinger, embChecker)
	return w, nil
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented.
func buildEmbedder(cfg config.EmbeddingConfig, cache *dbRedis.Store, logger *zap.Logger) domain.Embedder {
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Provider:   cfg.Provider,
		Logger:     logger,
	})

	var embedder domain.Embedder = base
	if cfg.Cache && cache != nil {
		ttl := time.Duration(cfg.CacheTTLHours) * time.Hour
		embedder = embcache.New(base, cache, cfg.Model, ttl, metrics.EmbeddingCacheTotal, logger)
	}

	return &healthyEmbedder{
		InstrumentedEmbedder: embeddinguc.NewInstrumentedEmbedder(
			embedder, cfg.Provider, cfg.Model,
			embeddinguc.NewLimiter(cfg.RequestsPerSecond, cfg.Burst), logger,
		),
		base: base,
	}
}

// healthyEmbedder exposes the provider health check through the decorator chain.
type healthyEmbedder struct {
	*embeddinguc.InstrumentedEmbedder
	base *openaiEmb.Embedder
}

func (h *healthyEmbedder) HealthCheck(ctx context.Context) error {
	if err := h.base.HealthCheck(ctx); err != nil {
		return fmt.Errorf("embedding health check: %w", err)
	}
	return nil
}

func childBuffers(spillDir string, logger *zap.Logger) pipeline.BufferFactory {
	if spillDir == "" {
		return nil
	}
	return func() (correlate.ChildBuffer, error) {
		buf, err := spill.Open(spillDir, logger)
		if err != nil {
			return nil, err
		}
		return buf, nil
	}
}

func pollPolicy(p config.PollConfig) export.Policy {
	policy := export.DefaultPolicy
	policy.Backoff.Initial = time.Duration(p.InitialSec) * time.Second
	policy.Backoff.Max = time.Duration(p.MaxSec) * time.Second
	policy.MaxWait = time.Duration(p.MaxWaitMin) * time.Minute
	policy.MaxConsecutiveErrors = p.MaxConsecutiveErrors
	return policy
}

// serveOps starts the ops server when configured and returns its shutdown func.
func (w *wiring) serveOps(cfg config.MetricsConfig, logger *zap.Logger) func() {
	if cfg.Addr == "" {
		return func() {}
	}
	ops := chiTransport.NewServer(w.health, prometheus.DefaultGatherer, logger)
	ops.Track(w.runner.ID(), w.tenant, w.summary)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           ops.Router(cfg.APIKeys),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Starting ops server", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Ops server error", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Error during ops server shutdown", zap.Error(err))
		}
	}
}
