// Package postgres implements the listing Store on top of pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/towdesk/leadpipe/internal/listing"
	"github.com/towdesk/leadpipe/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists listing records in the listings table.
type Store struct {
	pool querier
}

// New connects a pool and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool, primarily for tests.
func NewWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const recordColumns = `
	id, zone_id, external_url, name, phone, website,
	address_street, address_city, address_state, address_zip,
	rating, review_count, hours, hours_website,
	has_impound_service, impound_confidence, services, snapshot_uri,
	stage, website_scrape_status, website_scraped_at,
	source, created_at, updated_at`

// UpsertFromDiscovery creates or merges a record keyed by external URL. The
// select-then-write pair is not transactional; the orchestrator runs discovery
// upserts sequentially, so the only concurrent writers touch other columns.
func (s *Store) UpsertFromDiscovery(ctx context.Context, zoneID string, raw listing.RawListing) (listing.Record, bool, error) {
	existing, err := s.getByExternalURL(ctx, raw.ExternalURL)
	switch {
	case err == nil:
		merged, err := s.mergeDiscovery(ctx, existing, zoneID, raw)
		return merged, false, err
	case errors.Is(err, store.ErrNotFound):
		created, err := s.insertFromDiscovery(ctx, zoneID, raw)
		return created, true, err
	default:
		return listing.Record{}, false, err
	}
}

func (s *Store) insertFromDiscovery(ctx context.Context, zoneID string, raw listing.RawListing) (listing.Record, error) {
	addr := listing.ParseAddress(raw.Address)
	now := time.Now().UTC()

	rec := listing.Record{
		ID:          uuid.NewString(),
		ZoneID:      zoneID,
		ExternalURL: raw.ExternalURL,
		Name:        raw.Name,
		Phone:       raw.Phone,
		Website:     raw.Website,

		AddressStreet: addr.Street,
		AddressCity:   addr.City,
		AddressState:  addr.State,
		AddressZip:    addr.Zip,

		Rating:      raw.Rating,
		ReviewCount: raw.ReviewCount,
		Source:      raw.Source,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if len(raw.Hours) > 0 {
		rec.Hours = &listing.Hours{Days: raw.Hours}
	}
	rec.Stage = listing.StageAfterDiscovery(listing.StageInitial)
	if rec.Website == "" {
		rec.ScrapeStatus = listing.ScrapeNoWebsite
		rec.Stage = listing.StageForNoWebsite(rec.Stage)
	} else {
		rec.ScrapeStatus = listing.ScrapePending
	}

	hoursJSON, err := marshalHours(rec.Hours)
	if err != nil {
		return listing.Record{}, err
	}

	const q = `
INSERT INTO listings (
	id, zone_id, external_url, name, phone, website,
	address_street, address_city, address_state, address_zip,
	rating, review_count, hours, stage, website_scrape_status,
	source, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`

	_, err = s.pool.Exec(ctx, q,
		rec.ID, rec.ZoneID, rec.ExternalURL, rec.Name, rec.Phone, rec.Website,
		rec.AddressStreet, rec.AddressCity, rec.AddressState, rec.AddressZip,
		rec.Rating, rec.ReviewCount, hoursJSON, string(rec.Stage), string(rec.ScrapeStatus),
		rec.Source, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return listing.Record{}, fmt.Errorf("insert listing: %w", mapConflict(err))
	}
	return rec, nil
}

// mergeDiscovery overwrites only the discovery allow-list so enrichment
// columns survive re-discovery untouched.
func (s *Store) mergeDiscovery(ctx context.Context, rec listing.Record, zoneID string, raw listing.RawListing) (listing.Record, error) {
	rec.ZoneID = zoneID
	if raw.Name != "" {
		rec.Name = raw.Name
	}
	if raw.Phone != "" {
		rec.Phone = raw.Phone
	}
	if raw.Website != "" {
		rec.Website = raw.Website
	}
	if raw.Address != "" {
		addr := listing.ParseAddress(raw.Address)
		rec.AddressStreet = addr.Street
		rec.AddressCity = addr.City
		rec.AddressState = addr.State
		rec.AddressZip = addr.Zip
	}
	if raw.Rating != nil {
		rec.Rating = raw.Rating
	}
	if raw.ReviewCount != nil {
		rec.ReviewCount = raw.ReviewCount
	}
	if len(raw.Hours) > 0 {
		rec.Hours = &listing.Hours{Days: raw.Hours}
	}
	if raw.Source != "" {
		rec.Source = raw.Source
	}
	rec.Stage = listing.StageAfterDiscovery(rec.Stage)
	switch {
	case rec.Website == "":
		rec.ScrapeStatus = listing.ScrapeNoWebsite
		rec.Stage = listing.StageForNoWebsite(rec.Stage)
	case rec.ScrapeStatus == listing.ScrapeNoWebsite:
		// A website surfaced for a record previously short-circuited as
		// no_website; make it eligible for extraction again.
		rec.ScrapeStatus = listing.ScrapePending
		rec.Stage = listing.StageGoogleMaps
	}
	rec.UpdatedAt = time.Now().UTC()

	hoursJSON, err := marshalHours(rec.Hours)
	if err != nil {
		return listing.Record{}, err
	}

	const q = `
UPDATE listings SET
	zone_id = $2, name = $3, phone = $4, website = $5,
	address_street = $6, address_city = $7, address_state = $8, address_zip = $9,
	rating = $10, review_count = $11, hours = $12, source = $13,
	stage = $14, website_scrape_status = $15, updated_at = $16
WHERE id = $1`

	_, err = s.pool.Exec(ctx, q,
		rec.ID, rec.ZoneID, rec.Name, rec.Phone, rec.Website,
		rec.AddressStreet, rec.AddressCity, rec.AddressState, rec.AddressZip,
		rec.Rating, rec.ReviewCount, hoursJSON, rec.Source,
		string(rec.Stage), string(rec.ScrapeStatus), rec.UpdatedAt,
	)
	if err != nil {
		return listing.Record{}, fmt.Errorf("merge listing: %w", mapConflict(err))
	}
	return rec, nil
}

// UpdateExtractionResult writes one extraction outcome. The stage transition
// runs inside the statement so concurrent readers never observe a half-applied
// update; a detected write conflict is retried once with the same data.
func (s *Store) UpdateExtractionResult(ctx context.Context, id string, res listing.Extraction) error {
	err := s.execExtractionUpdate(ctx, id, res)
	if errors.Is(err, store.ErrWriteConflict) {
		err = s.execExtractionUpdate(ctx, id, res)
	}
	return err
}

func (s *Store) execExtractionUpdate(ctx context.Context, id string, res listing.Extraction) error {
	attempted := res.AttemptedAt
	if attempted.IsZero() {
		attempted = time.Now().UTC()
	}
	hoursJSON, err := marshalHours(res.Hours)
	if err != nil {
		return err
	}
	servicesJSON, err := json.Marshal(res.Services)
	if err != nil {
		return fmt.Errorf("marshal services: %w", err)
	}

	const q = `
UPDATE listings SET
	website_scrape_status = $2,
	website_scraped_at = $3,
	hours_website = CASE WHEN $2 = 'success' THEN $4 ELSE hours_website END,
	has_impound_service = CASE WHEN $2 = 'success' THEN $5 ELSE has_impound_service END,
	impound_confidence = CASE WHEN $2 = 'success' THEN $6 ELSE impound_confidence END,
	services = CASE WHEN $2 = 'success' THEN $7 ELSE services END,
	snapshot_uri = CASE WHEN $2 = 'success' THEN $8 ELSE snapshot_uri END,
	stage = CASE
		WHEN $2 = 'success' THEN 'website_scraped'
		WHEN $2 = 'failed' THEN 'failed'
		ELSE stage
	END,
	updated_at = $3
WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q,
		id, string(res.Status), attempted,
		hoursJSON, res.HasImpound, res.ImpoundConfidence, servicesJSON, res.SnapshotURI,
	)
	if err != nil {
		return fmt.Errorf("update extraction result: %w", mapConflict(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// FindStale selects never-attempted records first, then oldest attempts.
func (s *Store) FindStale(ctx context.Context, zoneID string, olderThan time.Time, limit int) ([]listing.Record, error) {
	q := `
SELECT ` + recordColumns + `
FROM listings
WHERE ($1 = '' OR zone_id = $1)
  AND website <> ''
  AND website_scrape_status <> 'no_website'
  AND (website_scraped_at IS NULL OR website_scraped_at < $2)
ORDER BY website_scraped_at ASC NULLS FIRST
LIMIT $3`

	rows, err := s.pool.Query(ctx, q, zoneID, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale listings: %w", err)
	}
	defer rows.Close()

	var out []listing.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale listings: %w", err)
	}
	return out, nil
}

// StageBreakdown counts records per stage, zero-filling absent stages.
func (s *Store) StageBreakdown(ctx context.Context, zoneID string) (map[listing.Stage]int, error) {
	const q = `
SELECT stage, COUNT(*)
FROM listings
WHERE ($1 = '' OR zone_id = $1)
GROUP BY stage`

	rows, err := s.pool.Query(ctx, q, zoneID)
	if err != nil {
		return nil, fmt.Errorf("query stage breakdown: %w", err)
	}
	defer rows.Close()

	breakdown := make(map[listing.Stage]int, len(listing.Stages()))
	for _, st := range listing.Stages() {
		breakdown[st] = 0
	}
	for rows.Next() {
		var stage string
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, fmt.Errorf("scan stage row: %w", err)
		}
		breakdown[listing.Stage(stage)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage rows: %w", err)
	}
	return breakdown, nil
}

// StatusReport aggregates zone counters plus the stage breakdown.
func (s *Store) StatusReport(ctx context.Context, zoneID string) (listing.StatusReport, error) {
	breakdown, err := s.StageBreakdown(ctx, zoneID)
	if err != nil {
		return listing.StatusReport{}, err
	}

	const q = `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE website <> ''),
	COUNT(*) FILTER (WHERE website_scrape_status = 'success'),
	COUNT(*) FILTER (WHERE website_scrape_status = 'failed')
FROM listings
WHERE ($1 = '' OR zone_id = $1)`

	report := listing.StatusReport{StageBreakdown: breakdown}
	err = s.pool.QueryRow(ctx, q, zoneID).Scan(
		&report.TotalCompanies,
		&report.WithWebsites,
		&report.WebsitesScraped,
		&report.WebsitesFailed,
	)
	if err != nil {
		return listing.StatusReport{}, fmt.Errorf("query status report: %w", err)
	}
	return report, nil
}

// Get fetches one record by id.
func (s *Store) Get(ctx context.Context, id string) (listing.Record, error) {
	q := `SELECT ` + recordColumns + ` FROM listings WHERE id = $1`
	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return listing.Record{}, fmt.Errorf("query listing: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return listing.Record{}, fmt.Errorf("query listing: %w", err)
		}
		return listing.Record{}, store.ErrNotFound
	}
	return scanRecord(rows)
}

func (s *Store) getByExternalURL(ctx context.Context, externalURL string) (listing.Record, error) {
	if externalURL == "" {
		return listing.Record{}, store.ErrNotFound
	}
	q := `SELECT ` + recordColumns + ` FROM listings WHERE external_url = $1`
	rows, err := s.pool.Query(ctx, q, externalURL)
	if err != nil {
		return listing.Record{}, fmt.Errorf("query listing by url: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return listing.Record{}, fmt.Errorf("query listing by url: %w", err)
		}
		return listing.Record{}, store.ErrNotFound
	}
	return scanRecord(rows)
}

func scanRecord(rows pgx.Rows) (listing.Record, error) {
	var (
		rec          listing.Record
		hoursJSON    []byte
		hoursWebJSON []byte
		servicesJSON []byte
		stage        string
		status       string
	)
	err := rows.Scan(
		&rec.ID, &rec.ZoneID, &rec.ExternalURL, &rec.Name, &rec.Phone, &rec.Website,
		&rec.AddressStreet, &rec.AddressCity, &rec.AddressState, &rec.AddressZip,
		&rec.Rating, &rec.ReviewCount, &hoursJSON, &hoursWebJSON,
		&rec.HasImpound, &rec.ImpoundConfidence, &servicesJSON, &rec.SnapshotURI,
		&stage, &status, &rec.ScrapedAt,
		&rec.Source, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return listing.Record{}, fmt.Errorf("scan listing row: %w", err)
	}
	rec.Stage = listing.Stage(stage)
	rec.ScrapeStatus = listing.ScrapeStatus(status)
	if rec.Hours, err = unmarshalHours(hoursJSON); err != nil {
		return listing.Record{}, err
	}
	if rec.HoursWebsite, err = unmarshalHours(hoursWebJSON); err != nil {
		return listing.Record{}, err
	}
	if len(servicesJSON) > 0 {
		if err := json.Unmarshal(servicesJSON, &rec.Services); err != nil {
			return listing.Record{}, fmt.Errorf("unmarshal services: %w", err)
		}
	}
	return rec, nil
}

func marshalHours(h *listing.Hours) ([]byte, error) {
	if h.Empty() {
		return nil, nil
	}
	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshal hours: %w", err)
	}
	return data, nil
}

func unmarshalHours(data []byte) (*listing.Hours, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var h listing.Hours
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("unmarshal hours: %w", err)
	}
	return &h, nil
}

// mapConflict translates Postgres concurrency failures into ErrWriteConflict.
func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return store.ErrWriteConflict
		}
	}
	return err
}
