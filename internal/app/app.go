// Package app builds the long-lived harvester services from configuration
// and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/api"
	fscache "github.com/TontonTremblay/cvpr-scrape2plot/internal/cache/fs"
	memcache "github.com/TontonTremblay/cvpr-scrape2plot/internal/cache/memory"
	sqlitecache "github.com/TontonTremblay/cvpr-scrape2plot/internal/cache/sqlite"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/clock/system"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/config"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/crawler"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/export"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/extract"
	collyfetcher "github.com/TontonTremblay/cvpr-scrape2plot/internal/fetcher/colly"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/hash/sha256"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/id/uuid"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/policy/ratelimit"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/progress"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/progress/sinks"
	pubsubpublisher "github.com/TontonTremblay/cvpr-scrape2plot/internal/publisher/pubsub"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/storage/gcs"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/storage/local"
	memstorage "github.com/TontonTremblay/cvpr-scrape2plot/internal/storage/memory"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/storage/postgres"
)

// BlobStore is what the app needs from a snapshot and export backend.
type BlobStore interface {
	crawler.BlobStore
	export.SnapshotReader
}

// App holds the shared services of one process.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	blobs    BlobStore
	hub      *progress.Hub
	orch     *crawler.Orchestrator
	server   *http.Server
	handler  http.Handler

	closers []func(context.Context) error
}

// Option overrides a collaborator, mainly for tests.
type Option func(*options)

type options struct {
	transport crawler.Transport
	blobs     BlobStore
	publisher crawler.Publisher
}

// WithTransport replaces the Colly transport.
func WithTransport(t crawler.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithBlobStore replaces the configured output backend.
func WithBlobStore(b BlobStore) Option {
	return func(o *options) { o.blobs = b }
}

// WithPublisher replaces the Pub/Sub publisher. The topic still comes from
// pubsub.topic.
func WithPublisher(p crawler.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// New wires every service described by cfg. On error, whatever was already
// opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.blobs = o.blobs
	if a.blobs == nil {
		if a.blobs, err = a.openBlobStore(ctx); err != nil {
			return nil, err
		}
	}

	fetcher, err := a.buildFetcher(ctx, o.transport)
	if err != nil {
		return nil, err
	}

	sinkOpts := []crawler.SinkOption{
		crawler.WithSinkClock(system.New(time.Millisecond)),
		crawler.WithSinkLogger(logger.Named("sink")),
	}
	progressSinks := []progress.Sink{sinks.NewLogSink(logger.Named("progress"))}
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, err
	}
	progressSinks = append(progressSinks, promSink)

	ready := map[string]api.ReadinessCheck{}
	var progressHandler *api.ProgressHandler
	if cfg.DB.DSN != "" {
		records, repo, ping, err := a.openPostgres(ctx)
		if err != nil {
			return nil, err
		}
		sinkOpts = append(sinkOpts, crawler.WithRecordStore(records))
		progressSinks = append(progressSinks, sinks.NewStoreSink(repo, logger.Named("progress_store")))
		progressHandler = api.NewProgressHandler(repo, logger.Named("api"))
		ready["postgres"] = ping
	}

	publisher := o.publisher
	if publisher == nil && cfg.PubSub.ProjectID != "" {
		if publisher, err = a.openPubSub(ctx); err != nil {
			return nil, err
		}
	}
	if publisher != nil && cfg.PubSub.Topic != "" {
		sinkOpts = append(sinkOpts, crawler.WithPublisher(publisher, cfg.PubSub.Topic))
	}

	a.hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		Logger:         logger.Named("hub"),
	}, progressSinks...)
	a.closers = append(a.closers, a.hub.Close)

	extractor := extract.New()
	a.orch, err = crawler.NewOrchestrator(cfg.CrawlConfig(), crawler.OrchestratorDeps{
		Fetcher:     fetcher,
		Extractor:   extractor,
		Index:       extractor,
		Blobs:       a.blobs,
		SinkOptions: sinkOpts,
		IDs:         uuid.New(),
		Emitter:     a.hub,
		Logger:      logger.Named("orchestrator"),
	})
	if err != nil {
		return nil, err
	}

	srv, err := api.NewServer(api.Options{
		Status:     a.orch,
		Hub:        a.hub,
		Progress:   progressHandler,
		Gatherer:   prometheus.Gatherers{a.registry, prometheus.DefaultGatherer},
		Registerer: a.registry,
		Ready:      ready,
		Logger:     logger.Named("api"),
	})
	if err != nil {
		return nil, err
	}
	a.handler = srv.Handler()
	return a, nil
}

func (a *App) openBlobStore(ctx context.Context) (BlobStore, error) {
	out := a.cfg.Output
	switch out.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		a.logger.Info("writing output to gcs", zap.String("bucket", out.GCSBucket), zap.String("prefix", out.GCSPrefix))
		return gcs.New(client, gcs.Config{Bucket: out.GCSBucket, Prefix: out.GCSPrefix})
	case "memory":
		return memstorage.NewBlobStore(), nil
	default:
		a.logger.Info("writing output locally", zap.String("dir", out.Dir))
		return local.New(local.Config{BaseDir: out.Dir})
	}
}

func (a *App) buildFetcher(ctx context.Context, transport crawler.Transport) (*crawler.PageFetcher, error) {
	cfg := a.cfg
	if transport == nil {
		transport = collyfetcher.New(collyfetcher.Config{
			UserAgent:           cfg.Fetch.UserAgent,
			RespectRobots:       cfg.Fetch.RespectRobots,
			Timeout:             cfg.Timeout(),
			MaxIdleConnsPerHost: cfg.Fetch.MaxIdleConnsPerHost,
		})
	}

	opts := []crawler.FetcherOption{
		crawler.WithFetcherClock(system.New(time.Millisecond)),
		crawler.WithFetcherLogger(a.logger.Named("fetcher")),
	}
	if cfg.Fetch.RPS > 0 {
		delays := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_ratelimit_delay_seconds",
			Help:    "Time requests spent waiting on the per-host rate limiter.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"host"})
		if err := a.registry.Register(delays); err != nil {
			return nil, fmt.Errorf("register rate limit collector: %w", err)
		}
		opts = append(opts, crawler.WithRateLimiter(ratelimit.New(ratelimit.Config{
			RPS:   cfg.Fetch.RPS,
			Burst: cfg.Fetch.Burst,
			Observer: func(host string, waited time.Duration) {
				delays.WithLabelValues(host).Observe(waited.Seconds())
			},
		})))
	}

	if cfg.Cache.Enabled {
		cache, err := a.openCache(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, crawler.WithCache(cache, sha256.New(cfg.Cache.Namespace)))
	}
	return crawler.NewPageFetcher(transport, cfg.FetcherConfig(), opts...), nil
}

func (a *App) openCache(ctx context.Context) (crawler.Cache, error) {
	c := a.cfg.Cache
	switch c.Backend {
	case "sqlite":
		cache, err := sqlitecache.Open(ctx, c.Dir)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return cache.Close() })
		a.logger.Info("page cache ready", zap.String("backend", "sqlite"), zap.String("path", cache.Path()))
		return cache, nil
	case "memory":
		return memcache.New(), nil
	default:
		cache, err := fscache.New(filepath.Join(c.Dir, "pages"))
		if err != nil {
			return nil, err
		}
		a.logger.Info("page cache ready", zap.String("backend", "fs"), zap.String("dir", cache.Dir()))
		return cache, nil
	}
}

func (a *App) openPostgres(
	ctx context.Context,
) (*postgres.RecordStore, *postgres.ProgressStore, api.ReadinessCheck, error) {
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{DSN: a.cfg.DB.DSN, MaxConns: a.cfg.DB.MaxConns})
	if err != nil {
		return nil, nil, nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
	if a.cfg.DB.Migrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			return nil, nil, nil, err
		}
	}
	records, err := postgres.NewRecordStore(pool, a.cfg.DB.RecordTable)
	if err != nil {
		return nil, nil, nil, err
	}
	repo, err := postgres.NewProgressStore(pool)
	if err != nil {
		return nil, nil, nil, err
	}
	ping := func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		return nil
	}
	return records, repo, ping, nil
}

func (a *App) openPubSub(ctx context.Context) (crawler.Publisher, error) {
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client)
	a.closers = append(a.closers, func(context.Context) error {
		pub.Stop()
		return client.Close()
	})
	return pub, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Blobs returns the output backend.
func (a *App) Blobs() BlobStore { return a.blobs }

// Handler returns the status API.
func (a *App) Handler() http.Handler { return a.handler }

// Orchestrator returns the harvest orchestrator.
func (a *App) Orchestrator() *crawler.Orchestrator { return a.orch }

// Report is what Harvest hands back to the CLI.
type Report struct {
	Result     crawler.RunResult
	ExportURIs []string
}

// Harvest runs the configured years and writes the final export. A canceled
// run still exports what was accepted and returns the cancellation error.
func (a *App) Harvest(ctx context.Context) (Report, error) {
	format, err := export.ParseFormat(a.cfg.Output.Format)
	if err != nil {
		return Report{}, err
	}
	res, runErr := a.orch.Run(ctx, a.cfg.RunRequest())
	if runErr != nil && !errors.Is(runErr, crawler.ErrCanceled) {
		return Report{Result: res}, runErr
	}
	// The export must land even when ctx was canceled mid-run.
	exportCtx := context.WithoutCancel(ctx)
	uris, err := export.Write(exportCtx, a.blobs, "", format, res.Records)
	if err != nil {
		return Report{Result: res}, errors.Join(runErr, err)
	}
	return Report{Result: res, ExportURIs: uris}, runErr
}

// Merge rebuilds the export from the snapshots under the partial prefix.
func (a *App) Merge(ctx context.Context) (records []crawler.PaperRecord, years []int, uris []string, err error) {
	format, err := export.ParseFormat(a.cfg.Output.Format)
	if err != nil {
		return nil, nil, nil, err
	}
	records, years, err = export.Merge(ctx, a.blobs, a.cfg.Harvest.PartialPrefix)
	if err != nil {
		return nil, nil, nil, err
	}
	uris, err = export.Write(ctx, a.blobs, "", format, records)
	if err != nil {
		return nil, nil, nil, err
	}
	return records, years, uris, nil
}

// Serve starts the status API on server.port in the background.
func (a *App) Serve() {
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("status server started", zap.Int("port", a.cfg.Server.Port))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("status server error", zap.Error(err))
		}
	}()
}

// Close stops the server and releases resources in reverse order of
// acquisition. The progress hub is drained before the stores it writes to
// are closed.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown status server: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
