// Package app initializes and holds long-lived application services, acting
// as the composition root for the CLI and the HTTP server.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/towdesk/leadpipe/internal/config"
	"github.com/towdesk/leadpipe/internal/directory"
	"github.com/towdesk/leadpipe/internal/events"
	eventspubsub "github.com/towdesk/leadpipe/internal/events/pubsub"
	"github.com/towdesk/leadpipe/internal/extract"
	"github.com/towdesk/leadpipe/internal/governor"
	"github.com/towdesk/leadpipe/internal/logging"
	"github.com/towdesk/leadpipe/internal/metrics"
	"github.com/towdesk/leadpipe/internal/pipeline"
	snapshotgcs "github.com/towdesk/leadpipe/internal/snapshot/gcs"
	snapshotlocal "github.com/towdesk/leadpipe/internal/snapshot/local"
	"github.com/towdesk/leadpipe/internal/store"
	storememory "github.com/towdesk/leadpipe/internal/store/memory"
	storepostgres "github.com/towdesk/leadpipe/internal/store/postgres"
)

// App holds the shared, long-lived services. It is initialized once at
// startup and closed once at shutdown.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Store        store.Store
	Orchestrator *pipeline.Orchestrator

	renderer  *extract.ChromeRenderer
	publisher *eventspubsub.Publisher
	gcsClient *gcsclient.Client
	psClient  *pubsub.Client
}

// New builds every service the pipeline needs from configuration. It fails
// fast when a configured backend cannot be reached.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	a := &App{Config: cfg, Logger: logger}

	if err := a.initStore(ctx, cfg); err != nil {
		return nil, err
	}

	archive, err := a.initArchive(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	publisher, err := a.initPublisher(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	dirClient := directory.NewHTTPClient(directory.Config{
		BaseURL:      cfg.Directory.BaseURL,
		Token:        cfg.Directory.Token,
		ActorID:      cfg.Directory.ActorID,
		Timeout:      cfg.DirectoryTimeout(),
		PollInterval: cfg.DirectoryPollInterval(),
	}, logger.Named("directory"))

	extractor := a.initExtractor(cfg, archive)

	gov := governor.New(cfg.Governor.MaxConcurrent)
	a.Orchestrator = pipeline.New(a.Store, dirClient, extractor, gov, publisher, logger.Named("pipeline"))
	return a, nil
}

// Close releases every backend resource the App owns.
func (a *App) Close() {
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.psClient != nil {
		if err := a.psClient.Close(); err != nil {
			a.Logger.Warn("closing pubsub client failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.Logger.Warn("closing storage client failed", zap.Error(err))
		}
	}
	if a.Store != nil {
		a.Store.Close()
	}
	_ = a.Logger.Sync()
}

func (a *App) initStore(ctx context.Context, cfg config.Config) error {
	if cfg.DB.DSN == "" {
		a.Logger.Info("no database configured, using in-memory store")
		a.Store = storememory.New()
		return nil
	}
	pg, err := storepostgres.New(ctx, storepostgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxConns),
		MinConns: int32(cfg.DB.MinConns),
	})
	if err != nil {
		return fmt.Errorf("init postgres store: %w", err)
	}
	a.Logger.Info("using postgres store")
	a.Store = pg
	return nil
}

func (a *App) initArchive(ctx context.Context, cfg config.Config) (extract.Archiver, error) {
	switch cfg.Snapshot.Backend {
	case "", "none":
		return nil, nil
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init storage client: %w", err)
		}
		a.gcsClient = client
		archive, err := snapshotgcs.New(client, snapshotgcs.Config{Bucket: cfg.Snapshot.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		a.Logger.Info("archiving snapshots to gcs", zap.String("bucket", cfg.Snapshot.GCSBucket))
		return archive, nil
	case "local":
		archive, err := snapshotlocal.New(snapshotlocal.Config{BaseDir: cfg.Snapshot.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		a.Logger.Info("archiving snapshots locally", zap.String("dir", cfg.Snapshot.LocalDir))
		return archive, nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend: %s", cfg.Snapshot.Backend)
	}
}

func (a *App) initPublisher(ctx context.Context, cfg config.Config) (events.Publisher, error) {
	if cfg.PubSub.ProjectID == "" {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	a.psClient = client
	publisher, err := eventspubsub.New(client)
	if err != nil {
		return nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.publisher = publisher
	a.Logger.Info("publishing events to pubsub", zap.String("project", cfg.PubSub.ProjectID))
	return publisher, nil
}

func (a *App) initExtractor(cfg config.Config, archive extract.Archiver) extract.Extractor {
	fetcher := extract.NewCollyFetcher(extract.FetcherConfig{
		UserAgent: cfg.Extractor.UserAgent,
		Timeout:   time.Duration(cfg.Extractor.FetchTimeoutSeconds) * time.Second,
	})

	var renderer extract.Renderer
	if cfg.Headless.Enabled {
		chrome, err := extract.NewChromeRenderer(extract.RendererConfig{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Extractor.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			DomainQPS:         cfg.Headless.DomainQPS,
		})
		if err != nil {
			a.Logger.Warn("headless renderer init failed, JS pages will use static bodies", zap.Error(err))
		} else {
			a.renderer = chrome
			renderer = chrome
		}
	}

	return extract.NewSiteExtractor(extract.SiteExtractorConfig{
		Timeout: time.Duration(cfg.Extractor.TotalTimeoutSeconds) * time.Second,
	}, fetcher, renderer, archive, a.Logger.Named("extract"))
}
