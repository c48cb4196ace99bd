// Package app builds the long-lived services of the crawler from a Config and
// owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/winerank-crawler/internal/api"
	"github.com/JakeFAU/winerank-crawler/internal/clock/system"
	"github.com/JakeFAU/winerank-crawler/internal/config"
	"github.com/JakeFAU/winerank-crawler/internal/crawler"
	"github.com/JakeFAU/winerank-crawler/internal/discovery"
	llmscorer "github.com/JakeFAU/winerank-crawler/internal/discovery/llm"
	"github.com/JakeFAU/winerank-crawler/internal/download"
	"github.com/JakeFAU/winerank-crawler/internal/extract"
	"github.com/JakeFAU/winerank-crawler/internal/fallback"
	"github.com/JakeFAU/winerank-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/winerank-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/winerank-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/winerank-crawler/internal/hash/sha256"
	"github.com/JakeFAU/winerank-crawler/internal/headless/detector"
	"github.com/JakeFAU/winerank-crawler/internal/id/uuid"
	"github.com/JakeFAU/winerank-crawler/internal/jobs"
	"github.com/JakeFAU/winerank-crawler/internal/listing/michelin"
	"github.com/JakeFAU/winerank-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/winerank-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/winerank-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/winerank-crawler/internal/search/duckduckgo"
	storagecombined "github.com/JakeFAU/winerank-crawler/internal/storage"
	badgerstore "github.com/JakeFAU/winerank-crawler/internal/storage/badger"
	gcsstorage "github.com/JakeFAU/winerank-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/winerank-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/winerank-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/winerank-crawler/internal/storage/postgres"
	redisstore "github.com/JakeFAU/winerank-crawler/internal/storage/redis"
	"github.com/JakeFAU/winerank-crawler/internal/workflow"
)

// App holds the services shared by every command.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store      crawler.Store
	blobs      crawler.BlobStore
	gcsClient  *storage.Client
	publisher  crawler.Publisher
	pubsub     *gcppublisher.Publisher
	headless   *headlessfetcher.Fetcher
	fetcher    crawler.PageFetcher
	source     *michelin.Source
	downloader *download.Downloader
	extractor  *extract.Extractor
	engine     *workflow.Engine
	jobs       *jobs.Controller
	clock      crawler.Clock
}

// Build creates the application's dependencies. On error every service built
// so far is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New()}
	defer func() {
		if err != nil {
			if cerr := a.Close(); cerr != nil {
				logger.Warn("partial shutdown failed", zap.Error(cerr))
			}
		}
	}()

	logger.Info("building application dependencies",
		zap.String("store", cfg.Storage.Backend),
		zap.String("checkpoints", checkpointBackendName(cfg)),
		zap.String("blobs", cfg.Storage.Blob),
	)
	if err := a.setupStore(ctx); err != nil {
		return nil, err
	}
	if err := a.setupBlobs(ctx); err != nil {
		return nil, err
	}
	if err := a.setupPublisher(ctx); err != nil {
		return nil, err
	}
	if err := a.setupFetchers(); err != nil {
		return nil, err
	}
	a.setupPipeline()
	return a, nil
}

func checkpointBackendName(cfg config.Config) string {
	if cfg.Storage.CheckpointBackend == "" {
		return cfg.Storage.Backend
	}
	return cfg.Storage.CheckpointBackend
}

func (a *App) setupStore(ctx context.Context) error {
	var base crawler.Store
	switch a.cfg.Storage.Backend {
	case "badger":
		s, err := badgerstore.Open(badgerstore.Config{Dir: a.cfg.Storage.BadgerDir}, a.logger.Named("badger"))
		if err != nil {
			return fmt.Errorf("badger store init failed: %w", err)
		}
		base = s
	case "postgres":
		s, err := pgstore.New(ctx, pgstore.Config{
			DSN:      a.cfg.DB.DSN,
			MaxConns: int32(a.cfg.DB.MaxConns), //nolint:gosec // bounded by config validation
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		base = s
	default:
		a.logger.Warn("using in-memory store, nothing survives this process")
		base = memorystorage.NewStore()
	}

	if a.cfg.Storage.CheckpointBackend != "redis" {
		a.store = base
		return nil
	}
	checkpoints, err := redisstore.New(redisstore.Config{
		Addr:   a.cfg.Redis.Addr,
		Prefix: a.cfg.Redis.Prefix,
		TTL:    a.cfg.CheckpointTTL(),
	})
	if err != nil {
		if cerr := base.Close(); cerr != nil {
			a.logger.Warn("store close failed", zap.Error(cerr))
		}
		return fmt.Errorf("redis checkpoint store init failed: %w", err)
	}
	a.store = storagecombined.Combine(base, checkpoints)
	return nil
}

func (a *App) setupBlobs(ctx context.Context) error {
	switch a.cfg.Storage.Blob {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.blobs = blobs
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.DownloadDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = blobs
	default:
		a.blobs = memorystorage.NewBlobStore()
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if !a.cfg.PubSub.Enabled {
		a.publisher = memorypublisher.New()
		return nil
	}
	p, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.logger.Named("pubsub"))
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub = p
	a.publisher = p
	a.logger.Info("pubsub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

// setupFetchers layers retries over a rate-limited colly probe, promoting to
// chromedp when headless rendering is enabled.
func (a *App) setupFetchers() error {
	rps := a.cfg.HTTP.RPS
	if delay := a.cfg.CrawlDelay(); delay > 0 {
		rps = min(rps, 1/delay.Seconds())
	}
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: rps, DefaultBurst: a.cfg.HTTP.Burst})
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RespectRobots: a.cfg.Crawler.RespectRobots,
		Timeout:       a.cfg.RequestTimeout(),
	}, limiter, a.logger.Named("colly"))

	var base crawler.PageFetcher = probe
	if a.cfg.Headless.Enabled {
		h, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Crawler.UserAgent,
			NavigationTimeout: a.cfg.NavTimeout(),
		}, a.logger.Named("headless"))
		if err != nil {
			return fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.headless = h
		base = fetcher.NewPromoting(probe, h, detector.NewHeuristic(a.cfg.Headless.PromotionThresh), a.logger.Named("promote"))
		a.logger.Info("headless promotion enabled", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	}
	a.fetcher = fetcher.NewRetrying(base, a.retryPolicy(), a.logger.Named("retry"))
	return nil
}

func (a *App) retryPolicy() crawler.RetryPolicy {
	return crawler.NewRetryPolicy(a.cfg.HTTP.MaxRetries, a.cfg.BackoffInitial(), a.cfg.BackoffMax())
}

func (a *App) setupPipeline() {
	a.source = michelin.New(a.fetcher, michelin.Config{
		BaseURL:       a.cfg.Listing.BaseURL,
		SiteBlocklist: a.cfg.Listing.SiteBlocklist,
	}, a.logger.Named("michelin"))

	var scorer discovery.LinkScorer = discovery.NewKeywordScorer()
	if a.cfg.LLM.Enabled {
		scorer = llmscorer.New(llmscorer.Config{
			APIKey:    a.cfg.LLM.APIKey,
			Model:     a.cfg.LLM.Model,
			MaxTokens: a.cfg.LLM.MaxTokens,
		}, scorer, a.logger.Named("llm"))
		a.logger.Info("llm link scoring enabled", zap.String("model", a.cfg.LLM.Model))
	}
	site := discovery.New(a.fetcher, scorer, discovery.Config{
		MaxDepth:  a.cfg.Crawler.MaxDepth,
		MaxPages:  a.cfg.Crawler.MaxPages,
		MenuDepth: a.cfg.Crawler.MenuDepth,
		MinScore:  a.cfg.Crawler.MinScore,
	}, a.logger.Named("discovery"))

	searcher := duckduckgo.New(a.fetcher, duckduckgo.Config{BaseURL: a.cfg.Fallback.SearchBaseURL}, a.logger.Named("search"))
	fallbackFinder := fallback.New(searcher, a.fetcher, fallback.Config{
		Domain:    a.cfg.Fallback.Domain,
		PassDelay: a.cfg.PassDelay(),
	}, a.logger.Named("fallback"))

	a.downloader = download.New(a.fetcher, sha256.New(), a.logger.Named("download"))
	a.extractor = extract.New(a.logger.Named("extract"))
	a.engine = workflow.New(workflow.Deps{
		Entities:   a.store,
		Source:     a.source,
		Site:       site,
		Fallback:   fallbackFinder,
		Downloader: a.downloader,
		Extractor:  a.extractor,
		Blobs:      a.blobs,
		Publisher:  a.publisher,
		Clock:      a.clock,
	}, workflow.Config{
		BlobPrefix: a.cfg.Storage.Prefix,
		Topic:      a.cfg.PubSub.TopicName,
	}, a.logger.Named("workflow"))

	a.jobs = jobs.New(jobs.Deps{
		Store:  a.store,
		Source: a.source,
		Runner: a.engine,
		IDs:    uuid.New(),
		Clock:  a.clock,
	}, jobs.Config{
		Concurrency:       a.cfg.Crawler.Concurrency,
		BreakerThreshold:  a.cfg.Crawler.ListingBreakerThreshold,
		PauseBetweenPages: a.cfg.PageDelay(),
		Retry:             a.retryPolicy(),
	}, a.logger.Named("jobs"))
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Jobs returns the job controller.
func (a *App) Jobs() *jobs.Controller {
	return a.jobs
}

// Store returns the configured persistence backend.
func (a *App) Store() crawler.Store {
	return a.store
}

// Scope builds the listing scope for a distinction, defaulting to the
// configured one.
func (a *App) Scope(distinction string) crawler.Scope {
	if distinction == "" {
		distinction = a.cfg.Listing.Distinction
	}
	return crawler.Scope{Source: a.cfg.Listing.Source, Distinction: distinction}
}

// Serve runs the status server until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	server := api.NewServer(a.jobs, a.store, api.Config{
		APIKey:         a.cfg.Server.APIKey,
		RequestTimeout: a.cfg.RequestTimeout(),
	}, a.logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	a.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// Close releases every service in reverse build order.
func (a *App) Close() error {
	var errs []error
	if a.headless != nil {
		if err := a.headless.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close headless fetcher: %w", err))
		}
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub publisher: %w", err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs client: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return errors.Join(errs...)
}
