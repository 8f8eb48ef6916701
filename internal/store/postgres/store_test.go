package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/towdesk/leadpipe/internal/listing"
	"github.com/towdesk/leadpipe/internal/store"
)

var listingColumns = []string{
	"id", "zone_id", "external_url", "name", "phone", "website",
	"address_street", "address_city", "address_state", "address_zip",
	"rating", "review_count", "hours", "hours_website",
	"has_impound_service", "impound_confidence", "services", "snapshot_uri",
	"stage", "website_scrape_status", "website_scraped_at",
	"source", "created_at", "updated_at",
}

func fullRow(id string, website string, scrapedAt *time.Time) *pgxmock.Rows {
	now := time.Unix(1700000000, 0).UTC()
	return pgxmock.NewRows(listingColumns).AddRow(
		id, "zone-1", "https://maps.example.com/"+id, "Ace Towing", "555-0100", website,
		"123 Main St", "Dallas", "TX", "75201",
		(*float64)(nil), (*int)(nil), []byte(nil), []byte(nil),
		(*bool)(nil), 0.0, []byte(nil), "",
		"google_maps", "pending", scrapedAt,
		"directory_search", now, now,
	)
}

func TestUpsertInsertsWhenAbsent(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT(.|\n)+FROM listings WHERE external_url").
		WithArgs("https://maps.example.com/ace").
		WillReturnRows(pgxmock.NewRows(listingColumns))
	mock.ExpectExec("INSERT INTO listings").
		WithArgs(
			pgxmock.AnyArg(), "zone-1", "https://maps.example.com/ace", "Ace Towing", "555-0100",
			"https://ace.example.com", "123 Main St", "Dallas", "TX", "75201",
			(*float64)(nil), (*int)(nil), []byte(nil), "google_maps", "pending",
			"directory_search", pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec, created, err := s.UpsertFromDiscovery(context.Background(), "zone-1", listing.RawListing{
		Name:        "Ace Towing",
		Phone:       "555-0100",
		ExternalURL: "https://maps.example.com/ace",
		Website:     "https://ace.example.com",
		Address:     "123 Main St, Dallas, TX 75201",
		Source:      "directory_search",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, listing.StageGoogleMaps, rec.Stage)
	assert.Equal(t, listing.ScrapePending, rec.ScrapeStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertMergesWhenPresent(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT(.|\n)+FROM listings WHERE external_url").
		WithArgs("https://maps.example.com/ace").
		WillReturnRows(fullRow("ace", "https://ace.example.com", nil))
	mock.ExpectExec("UPDATE listings SET").
		WithArgs(
			"ace", "zone-1", "Ace Towing Rebranded", "555-0100", "https://ace.example.com",
			"123 Main St", "Dallas", "TX", "75201",
			(*float64)(nil), (*int)(nil), []byte(nil), "directory_search",
			"google_maps", "pending", pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rec, created, err := s.UpsertFromDiscovery(context.Background(), "zone-1", listing.RawListing{
		Name:        "Ace Towing Rebranded",
		ExternalURL: "https://maps.example.com/ace",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Ace Towing Rebranded", rec.Name)
	assert.Equal(t, "555-0100", rec.Phone, "merge keeps existing fields the discovery omitted")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateExtractionResultSuccess(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock)
	require.NoError(t, err)

	attempted := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE listings SET").
		WithArgs(
			"rec-1", "success", attempted,
			[]byte(`{"always_open":true}`), true, 0.8, []byte(`["roadside assistance"]`), "file:///snap/abc.html",
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = s.UpdateExtractionResult(context.Background(), "rec-1", listing.Extraction{
		Status:            listing.ScrapeSuccess,
		Hours:             &listing.Hours{AlwaysOpen: true},
		HasImpound:        true,
		ImpoundConfidence: 0.8,
		Services:          []string{"roadside assistance"},
		SnapshotURI:       "file:///snap/abc.html",
		AttemptedAt:       attempted,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateExtractionResultRetriesConflictOnce(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock)
	require.NoError(t, err)

	attempted := time.Unix(1700000000, 0).UTC()
	args := []any{
		"rec-1", "failed", attempted,
		[]byte(nil), false, 0.0, []byte(`null`), "",
	}

	mock.ExpectExec("UPDATE listings SET").
		WithArgs(args...).
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectExec("UPDATE listings SET").
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = s.UpdateExtractionResult(context.Background(), "rec-1", listing.Extraction{
		Status:      listing.ScrapeFailed,
		AttemptedAt: attempted,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateExtractionResultMissingRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE listings SET").
		WithArgs(
			"missing", "failed", time.Unix(1700000000, 0).UTC(),
			[]byte(nil), false, 0.0, []byte(`null`), "",
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = s.UpdateExtractionResult(context.Background(), "missing", listing.Extraction{
		Status:      listing.ScrapeFailed,
		AttemptedAt: time.Unix(1700000000, 0).UTC(),
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindStaleQueriesOldestFirst(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock)
	require.NoError(t, err)

	cutoff := time.Unix(1700000000, 0).UTC()
	old := cutoff.Add(-40 * 24 * time.Hour)

	rows := fullRow("never", "https://never.example.com", nil).AddRow(
		"old", "zone-1", "https://maps.example.com/old", "Old Towing", "", "https://old.example.com",
		"", "", "", "",
		(*float64)(nil), (*int)(nil), []byte(nil), []byte(nil),
		(*bool)(nil), 0.0, []byte(nil), "",
		"failed", "failed", &old,
		"directory_search", cutoff, cutoff,
	)

	mock.ExpectQuery("SELECT(.|\n)+FROM listings(.|\n)+website_scraped_at IS NULL OR website_scraped_at").
		WithArgs("zone-1", cutoff, 50).
		WillReturnRows(rows)

	stale, err := s.FindStale(context.Background(), "zone-1", cutoff, 50)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "never", stale[0].ID)
	assert.Nil(t, stale[0].ScrapedAt)
	assert.Equal(t, listing.StageFailed, stale[1].Stage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStageBreakdownZeroFills(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT stage, COUNT").
		WithArgs("zone-1").
		WillReturnRows(pgxmock.NewRows([]string{"stage", "count"}).
			AddRow("website_scraped", 3).
			AddRow("fully_enriched", 1))

	breakdown, err := s.StageBreakdown(context.Background(), "zone-1")
	require.NoError(t, err)
	assert.Equal(t, 3, breakdown[listing.StageWebsiteScraped])
	assert.Equal(t, 1, breakdown[listing.StageFullyEnriched])
	assert.Equal(t, 0, breakdown[listing.StageGoogleMaps])
	assert.Equal(t, 0, breakdown[listing.StageFailed])
}

func TestStatusReport(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT stage, COUNT").
		WithArgs("zone-1").
		WillReturnRows(pgxmock.NewRows([]string{"stage", "count"}).AddRow("fully_enriched", 2))
	mock.ExpectQuery("SELECT(.|\n)+COUNT(.|\n)+FROM listings").
		WithArgs("zone-1").
		WillReturnRows(pgxmock.NewRows([]string{"total", "with_web", "scraped", "failed"}).
			AddRow(2, 1, 1, 0))

	report, err := s.StatusReport(context.Background(), "zone-1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalCompanies)
	assert.Equal(t, 1, report.WithWebsites)
	assert.Equal(t, 1, report.WebsitesScraped)
	assert.Equal(t, 2, report.StageBreakdown[listing.StageFullyEnriched])
}
