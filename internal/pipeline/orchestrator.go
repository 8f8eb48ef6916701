// Package pipeline coordinates discovery, storage and website enrichment for
// a zone. It is the only layer that touches every other component; the HTTP
// API and the CLI both call into it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/towdesk/leadpipe/internal/directory"
	"github.com/towdesk/leadpipe/internal/events"
	"github.com/towdesk/leadpipe/internal/extract"
	"github.com/towdesk/leadpipe/internal/governor"
	"github.com/towdesk/leadpipe/internal/listing"
	"github.com/towdesk/leadpipe/internal/metrics"
	"github.com/towdesk/leadpipe/internal/store"
)

// Defaults applied when a crawl request leaves options unset.
const (
	DefaultSearchQuery = "towing service"
	DefaultMaxResults  = 100
)

// CrawlOptions tune a single zone crawl.
type CrawlOptions struct {
	SearchQuery    string
	MaxResults     int
	ScrapeWebsites bool
	// ScrapeProfiles requests social profile enrichment. The stage exists in
	// the state machine but no profile scraper ships yet; the flag is
	// accepted and logged so callers don't have to change later.
	ScrapeProfiles bool
}

// Orchestrator drives the enrichment pipeline for zones.
type Orchestrator struct {
	store     store.Store
	dir       directory.Client
	extractor extract.Extractor
	gov       *governor.Governor
	publisher events.Publisher
	logger    *zap.Logger

	now func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New wires an orchestrator. publisher may be nil when no event sink is
// configured.
func New(
	st store.Store,
	dir directory.Client,
	extractor extract.Extractor,
	gov *governor.Governor,
	publisher events.Publisher,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gov == nil {
		gov = governor.New(0)
	}
	o := &Orchestrator{
		store:     st,
		dir:       dir,
		extractor: extractor,
		gov:       gov,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CrawlZone discovers listings for a zone, persists them and optionally
// enriches each listed website. One listing's failure never aborts the batch;
// only discovery being unavailable is fatal.
func (o *Orchestrator) CrawlZone(ctx context.Context, zone listing.Zone, opts CrawlOptions) (listing.CrawlSummary, error) {
	query := opts.SearchQuery
	if query == "" {
		query = DefaultSearchQuery
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	log := o.logger.With(zap.String("zone_id", zone.ID), zap.String("query", query))
	log.Info("starting zone crawl",
		zap.Bool("scrape_websites", opts.ScrapeWebsites),
		zap.Int("max_results", opts.MaxResults))
	if opts.ScrapeProfiles {
		log.Debug("profile scraping requested but no profile scraper is configured")
	}

	res, err := o.dir.Discover(ctx, zone.Location(), query, opts.MaxResults)
	if err != nil {
		metrics.ObserveCrawl("discovery_failed")
		return listing.CrawlSummary{}, fmt.Errorf("discover zone %s: %w", zone.ID, err)
	}
	if res.Partial {
		log.Warn("discovery returned partial results", zap.Int("count", len(res.Listings)))
	}

	summary := listing.CrawlSummary{
		CompaniesFound:   len(res.Listings),
		DiscoveryPartial: res.Partial,
	}

	var (
		work []listing.Record
		seen = make(map[string]struct{}, len(res.Listings))
	)
	for _, raw := range res.Listings {
		rec, created, upsertErr := o.store.UpsertFromDiscovery(ctx, zone.ID, raw)
		if upsertErr != nil {
			log.Error("discovery upsert failed",
				zap.String("external_url", raw.ExternalURL),
				zap.Error(upsertErr))
			continue
		}
		metrics.ObserveDiscovery(zone.ID, created)
		if created {
			summary.CompaniesNew++
		} else {
			summary.CompaniesUpdated++
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		if opts.ScrapeWebsites && rec.Website != "" {
			work = append(work, rec)
		}
	}

	scraped, failed := o.enrichBatch(ctx, log, work)
	summary.WebsitesScraped = scraped
	summary.WebsitesFailed = failed

	breakdown, err := o.store.StageBreakdown(ctx, zone.ID)
	if err != nil {
		return listing.CrawlSummary{}, fmt.Errorf("stage breakdown for zone %s: %w", zone.ID, err)
	}
	summary.StageBreakdown = breakdown
	for stage, count := range breakdown {
		metrics.SetStageGauge(zone.ID, string(stage), count)
	}

	o.publish(ctx, log, events.TopicCrawlCompleted, events.CrawlCompleted{
		ZoneID:      zone.ID,
		Found:       summary.CompaniesFound,
		New:         summary.CompaniesNew,
		Updated:     summary.CompaniesUpdated,
		Scraped:     summary.WebsitesScraped,
		Failed:      summary.WebsitesFailed,
		CompletedAt: o.now().UTC(),
	})
	metrics.ObserveCrawl("completed")
	log.Info("zone crawl finished",
		zap.Int("found", summary.CompaniesFound),
		zap.Int("new", summary.CompaniesNew),
		zap.Int("updated", summary.CompaniesUpdated),
		zap.Int("scraped", summary.WebsitesScraped),
		zap.Int("failed", summary.WebsitesFailed))
	return summary, nil
}

// RefreshStale re-runs website extraction for records whose last attempt is
// older than daysStale days, or that were never attempted.
func (o *Orchestrator) RefreshStale(ctx context.Context, zoneID string, daysStale, limit int) (listing.RefreshSummary, error) {
	if daysStale <= 0 {
		return listing.RefreshSummary{}, errors.New("days stale must be positive")
	}
	cutoff := o.now().UTC().AddDate(0, 0, -daysStale)
	log := o.logger.With(zap.String("zone_id", zoneID))

	records, err := o.store.FindStale(ctx, zoneID, cutoff, limit)
	if err != nil {
		return listing.RefreshSummary{}, fmt.Errorf("find stale for zone %s: %w", zoneID, err)
	}
	log.Info("refreshing stale listings",
		zap.Int("count", len(records)),
		zap.Time("cutoff", cutoff))

	scraped, failed := o.enrichBatch(ctx, log, records)
	return listing.RefreshSummary{
		CompaniesProcessed: len(records),
		WebsitesScraped:    scraped,
		WebsitesFailed:     failed,
	}, nil
}

// Status reports a zone's pipeline progress.
func (o *Orchestrator) Status(ctx context.Context, zoneID string) (listing.StatusReport, error) {
	report, err := o.store.StatusReport(ctx, zoneID)
	if err != nil {
		return listing.StatusReport{}, fmt.Errorf("status for zone %s: %w", zoneID, err)
	}
	return report, nil
}

// enrichBatch fans extraction out under the governor and writes each outcome
// back. Returns success and failure tallies.
func (o *Orchestrator) enrichBatch(ctx context.Context, log *zap.Logger, records []listing.Record) (scraped, failed int) {
	if len(records) == 0 || o.extractor == nil {
		return 0, 0
	}

	var mu sync.Mutex
	tasks := make([]governor.Task, len(records))
	for i, rec := range records {
		tasks[i] = func(ctx context.Context) error {
			ok := o.enrichOne(ctx, log, rec)
			mu.Lock()
			if ok {
				scraped++
			} else {
				failed++
			}
			mu.Unlock()
			if !ok {
				return fmt.Errorf("enrich %s", rec.ID)
			}
			return nil
		}
	}

	errs := o.gov.Run(ctx, tasks)
	// Tasks the governor never started still count as failures.
	for i, err := range errs {
		if err != nil && errors.Is(err, ctx.Err()) {
			mu.Lock()
			failed++
			mu.Unlock()
			log.Warn("enrichment skipped", zap.String("listing_id", records[i].ID), zap.Error(err))
		}
	}
	return scraped, failed
}

// enrichOne runs one extraction attempt and persists its outcome. Reports
// whether the attempt succeeded.
func (o *Orchestrator) enrichOne(ctx context.Context, log *zap.Logger, rec listing.Record) bool {
	metrics.IncExtractionsInFlight()
	defer metrics.DecExtractionsInFlight()

	start := o.now()
	result, err := o.extractor.Extract(ctx, rec.Website)
	attemptedAt := o.now().UTC()

	var ext listing.Extraction
	if err != nil {
		var exErr *extract.Error
		kind := "error"
		if errors.As(err, &exErr) {
			kind = string(exErr.Kind)
		}
		metrics.ObserveExtraction(rec.Website, kind, time.Since(start))
		log.Warn("website extraction failed",
			zap.String("listing_id", rec.ID),
			zap.String("website", rec.Website),
			zap.String("kind", kind),
			zap.Error(err))
		ext = listing.Extraction{
			Status:      listing.ScrapeFailed,
			AttemptedAt: attemptedAt,
		}
	} else {
		metrics.ObserveExtraction(rec.Website, "success", time.Since(start))
		ext = listing.Extraction{
			Status:            listing.ScrapeSuccess,
			Hours:             result.Hours,
			HasImpound:        result.Impound.Bool(),
			ImpoundConfidence: result.Impound.Score,
			Services:          result.Services,
			SnapshotURI:       result.SnapshotURI,
			AttemptedAt:       attemptedAt,
		}
	}

	if updateErr := o.store.UpdateExtractionResult(ctx, rec.ID, ext); updateErr != nil {
		log.Error("persisting extraction result failed",
			zap.String("listing_id", rec.ID),
			zap.Error(updateErr))
		return false
	}

	stage := listing.StageAfterExtraction(rec.Stage, ext.Status)
	o.publish(ctx, log, events.TopicListingEnriched, events.ListingEnriched{
		ListingID:    rec.ID,
		ZoneID:       rec.ZoneID,
		Stage:        string(stage),
		ScrapeStatus: string(ext.Status),
		HasImpound:   ext.HasImpound,
		AttemptedAt:  attemptedAt,
	})
	return err == nil
}

func (o *Orchestrator) publish(ctx context.Context, log *zap.Logger, topic string, payload any) {
	if o.publisher == nil {
		return
	}
	if _, err := o.publisher.Publish(ctx, topic, payload); err != nil {
		log.Warn("event publish failed", zap.String("topic", topic), zap.Error(err))
	}
}
