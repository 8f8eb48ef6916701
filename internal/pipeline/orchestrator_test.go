package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/towdesk/leadpipe/internal/directory"
	"github.com/towdesk/leadpipe/internal/events"
	eventsmem "github.com/towdesk/leadpipe/internal/events/memory"
	"github.com/towdesk/leadpipe/internal/extract"
	"github.com/towdesk/leadpipe/internal/governor"
	"github.com/towdesk/leadpipe/internal/listing"
	"github.com/towdesk/leadpipe/internal/metrics"
	storemem "github.com/towdesk/leadpipe/internal/store/memory"
)

func init() {
	metrics.Init()
}

type fakeDirectory struct {
	result directory.Result
	err    error

	location string
	query    string
	maxRes   int
}

func (f *fakeDirectory) Discover(_ context.Context, location, query string, maxResults int) (directory.Result, error) {
	f.location = location
	f.query = query
	f.maxRes = maxResults
	return f.result, f.err
}

// fakeExtractor fails any URL in failURLs and succeeds otherwise.
type fakeExtractor struct {
	mu       sync.Mutex
	calls    []string
	failURLs map[string]error
	result   extract.Result
}

func (f *fakeExtractor) Extract(_ context.Context, url string) (extract.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	if err, ok := f.failURLs[url]; ok {
		return extract.Result{}, err
	}
	return f.result, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func seqIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("rec-%d", n)
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var testZone = listing.Zone{ID: "dallas-tx", Name: "Dallas", State: "TX"}

func rawListing(name, website string) listing.RawListing {
	return listing.RawListing{
		Name:        name,
		ExternalURL: "https://maps.example/" + name,
		Website:     website,
		Phone:       "555-0100",
		Address:     "123 Main St, Dallas, TX 75201",
		Source:      "directory_search",
	}
}

func TestCrawlZone_EndToEnd(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st := storemem.New(storemem.WithIDs(seqIDs()), storemem.WithClock(fixedClock(now)))
	dir := &fakeDirectory{result: directory.Result{Listings: []listing.RawListing{
		rawListing("ace-towing", "https://acetowing.test"),
		rawListing("budget-tow", ""),
		{Address: "nowhere"}, // dropped by the client in production, ignored here
	}}}
	ext := &fakeExtractor{result: extract.Result{
		Hours:    &listing.Hours{AlwaysOpen: true},
		Impound:  extract.ImpoundSignal{Verdict: extract.VerdictYes, Score: 0.8},
		Services: []string{"roadside assistance"},
	}}
	pub := eventsmem.New()
	o := New(st, dir, ext, governor.New(2), pub, zap.NewNop(), WithClock(fixedClock(now)))

	summary, err := o.CrawlZone(context.Background(), testZone, CrawlOptions{
		ScrapeWebsites: true,
		MaxResults:     50,
	})
	require.NoError(t, err)

	assert.Equal(t, "Dallas, TX", dir.location)
	assert.Equal(t, DefaultSearchQuery, dir.query)
	assert.Equal(t, 50, dir.maxRes)

	assert.Equal(t, 3, summary.CompaniesFound)
	assert.Equal(t, 3, summary.CompaniesNew)
	assert.Equal(t, 0, summary.CompaniesUpdated)
	assert.Equal(t, 1, summary.WebsitesScraped)
	assert.Equal(t, 0, summary.WebsitesFailed)
	assert.False(t, summary.DiscoveryPartial)

	assert.Equal(t, 0, summary.StageBreakdown[listing.StageGoogleMaps])
	assert.Equal(t, 1, summary.StageBreakdown[listing.StageWebsiteScraped])
	assert.Equal(t, 2, summary.StageBreakdown[listing.StageFullyEnriched])

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, events.TopicListingEnriched, msgs[0].Topic)
	enriched := msgs[0].Payload.(events.ListingEnriched)
	assert.Equal(t, string(listing.StageWebsiteScraped), enriched.Stage)
	assert.True(t, enriched.HasImpound)
	assert.Equal(t, events.TopicCrawlCompleted, msgs[1].Topic)
	completed := msgs[1].Payload.(events.CrawlCompleted)
	assert.Equal(t, "dallas-tx", completed.ZoneID)
	assert.Equal(t, 1, completed.Scraped)
}

func TestCrawlZone_PartialFailuresIsolated(t *testing.T) {
	t.Parallel()

	st := storemem.New(storemem.WithIDs(seqIDs()))
	raws := make([]listing.RawListing, 10)
	failURLs := map[string]error{}
	for i := range raws {
		website := fmt.Sprintf("https://tow%d.test", i)
		raws[i] = rawListing(fmt.Sprintf("tow-%d", i), website)
		if i == 3 || i == 7 {
			failURLs[website] = &extract.Error{Kind: extract.KindTimeout, URL: website}
		}
	}
	dir := &fakeDirectory{result: directory.Result{Listings: raws}}
	ext := &fakeExtractor{failURLs: failURLs}
	o := New(st, dir, ext, governor.New(5), nil, zap.NewNop())

	summary, err := o.CrawlZone(context.Background(), testZone, CrawlOptions{ScrapeWebsites: true})
	require.NoError(t, err)

	assert.Equal(t, 10, summary.CompaniesFound)
	assert.Equal(t, 8, summary.WebsitesScraped)
	assert.Equal(t, 2, summary.WebsitesFailed)
	assert.Equal(t, 8, summary.StageBreakdown[listing.StageWebsiteScraped])
	assert.Equal(t, 2, summary.StageBreakdown[listing.StageFailed])
}

func TestCrawlZone_DirectoryUnavailableIsFatal(t *testing.T) {
	t.Parallel()

	st := storemem.New()
	dir := &fakeDirectory{err: fmt.Errorf("run failed: %w", directory.ErrUnavailable)}
	o := New(st, dir, &fakeExtractor{}, governor.New(2), nil, zap.NewNop())

	_, err := o.CrawlZone(context.Background(), testZone, CrawlOptions{})
	require.ErrorIs(t, err, directory.ErrUnavailable)
}

func TestCrawlZone_PartialDiscoveryStillPersists(t *testing.T) {
	t.Parallel()

	st := storemem.New(storemem.WithIDs(seqIDs()))
	dir := &fakeDirectory{result: directory.Result{
		Listings: []listing.RawListing{rawListing("ace-towing", "")},
		Partial:  true,
	}}
	o := New(st, dir, &fakeExtractor{}, governor.New(2), nil, zap.NewNop())

	summary, err := o.CrawlZone(context.Background(), testZone, CrawlOptions{})
	require.NoError(t, err)
	assert.True(t, summary.DiscoveryPartial)
	assert.Equal(t, 1, summary.CompaniesNew)
}

func TestCrawlZone_RepeatCrawlIsIdempotent(t *testing.T) {
	t.Parallel()

	st := storemem.New(storemem.WithIDs(seqIDs()))
	dir := &fakeDirectory{result: directory.Result{Listings: []listing.RawListing{
		rawListing("ace-towing", "https://acetowing.test"),
	}}}
	ext := &fakeExtractor{}
	o := New(st, dir, ext, governor.New(2), nil, zap.NewNop())

	first, err := o.CrawlZone(context.Background(), testZone, CrawlOptions{ScrapeWebsites: true})
	require.NoError(t, err)
	assert.Equal(t, 1, first.CompaniesNew)

	second, err := o.CrawlZone(context.Background(), testZone, CrawlOptions{ScrapeWebsites: true})
	require.NoError(t, err)
	assert.Equal(t, 0, second.CompaniesNew)
	assert.Equal(t, 1, second.CompaniesUpdated)

	report, err := o.Status(context.Background(), testZone.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalCompanies)
}

func TestCrawlZone_DefaultsMaxResults(t *testing.T) {
	t.Parallel()

	st := storemem.New(storemem.WithIDs(seqIDs()))
	dir := &fakeDirectory{}
	o := New(st, dir, &fakeExtractor{}, governor.New(2), nil, zap.NewNop())

	_, err := o.CrawlZone(context.Background(), testZone, CrawlOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxResults, dir.maxRes)

	_, err = o.CrawlZone(context.Background(), testZone, CrawlOptions{MaxResults: 25})
	require.NoError(t, err)
	assert.Equal(t, 25, dir.maxRes)
}

func TestCrawlZone_NoScrapeWhenDisabled(t *testing.T) {
	t.Parallel()

	st := storemem.New(storemem.WithIDs(seqIDs()))
	dir := &fakeDirectory{result: directory.Result{Listings: []listing.RawListing{
		rawListing("ace-towing", "https://acetowing.test"),
	}}}
	ext := &fakeExtractor{}
	o := New(st, dir, ext, governor.New(2), nil, zap.NewNop())

	summary, err := o.CrawlZone(context.Background(), testZone, CrawlOptions{ScrapeWebsites: false})
	require.NoError(t, err)
	assert.Zero(t, summary.WebsitesScraped)
	assert.Zero(t, ext.callCount())
	assert.Equal(t, 1, summary.StageBreakdown[listing.StageGoogleMaps])
}

func TestRefreshStale_ReprocessesOldRecords(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st := storemem.New(storemem.WithIDs(seqIDs()), storemem.WithClock(fixedClock(now)))

	// Seed one stale and one fresh record through the discovery path.
	for i, scrapedAgo := range []time.Duration{40 * 24 * time.Hour, 24 * time.Hour} {
		raw := rawListing(fmt.Sprintf("tow-%d", i), fmt.Sprintf("https://tow%d.test", i))
		rec, _, err := st.UpsertFromDiscovery(context.Background(), testZone.ID, raw)
		require.NoError(t, err)
		require.NoError(t, st.UpdateExtractionResult(context.Background(), rec.ID, listing.Extraction{
			Status:      listing.ScrapeSuccess,
			AttemptedAt: now.Add(-scrapedAgo),
		}))
	}

	ext := &fakeExtractor{}
	o := New(st, &fakeDirectory{}, ext, governor.New(2), nil, zap.NewNop(), WithClock(fixedClock(now)))

	summary, err := o.RefreshStale(context.Background(), testZone.ID, 30, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CompaniesProcessed)
	assert.Equal(t, 1, summary.WebsitesScraped)
	assert.Equal(t, 0, summary.WebsitesFailed)
	assert.Equal(t, []string{"https://tow0.test"}, ext.calls)
}

func TestRefreshStale_RejectsNonPositiveDays(t *testing.T) {
	t.Parallel()

	o := New(storemem.New(), &fakeDirectory{}, &fakeExtractor{}, governor.New(2), nil, zap.NewNop())
	_, err := o.RefreshStale(context.Background(), testZone.ID, 0, 10)
	require.Error(t, err)
}

func TestCrawlZone_StoreUpdateFailureCountsAsFailed(t *testing.T) {
	t.Parallel()

	st := &failingUpdateStore{Store: storemem.New(storemem.WithIDs(seqIDs()))}
	dir := &fakeDirectory{result: directory.Result{Listings: []listing.RawListing{
		rawListing("ace-towing", "https://acetowing.test"),
	}}}
	o := New(st, dir, &fakeExtractor{}, governor.New(2), nil, zap.NewNop())

	summary, err := o.CrawlZone(context.Background(), testZone, CrawlOptions{ScrapeWebsites: true})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.WebsitesScraped)
	assert.Equal(t, 1, summary.WebsitesFailed)
}

type failingUpdateStore struct {
	*storemem.Store
}

func (s *failingUpdateStore) UpdateExtractionResult(context.Context, string, listing.Extraction) error {
	return errors.New("write refused")
}
