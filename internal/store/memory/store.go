// Package memory provides an in-memory Store for development and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/towdesk/leadpipe/internal/listing"
	"github.com/towdesk/leadpipe/internal/store"
)

// Store keeps listing records in a map guarded by a RWMutex.
type Store struct {
	mu      sync.RWMutex
	records map[string]listing.Record // keyed by id
	byURL   map[string]string         // external_url -> id
	nowFunc func() time.Time
	idFunc  func() string
}

// Option customizes a Store, mainly for deterministic tests.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFunc = now }
}

// WithIDs overrides the id generator.
func WithIDs(next func() string) Option {
	return func(s *Store) { s.idFunc = next }
}

// New constructs an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[string]listing.Record),
		byURL:   make(map[string]string),
		nowFunc: func() time.Time { return time.Now().UTC() },
		idFunc:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpsertFromDiscovery creates or merges a record keyed by external URL.
func (s *Store) UpsertFromDiscovery(_ context.Context, zoneID string, raw listing.RawListing) (listing.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	addr := listing.ParseAddress(raw.Address)

	if id, ok := s.byURL[raw.ExternalURL]; ok && raw.ExternalURL != "" {
		rec := s.records[id]
		mergeDiscovery(&rec, zoneID, raw, addr)
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
		rec.UpdatedAt = now
		s.records[id] = rec
		return rec, false, nil
	}

	rec := listing.Record{
		ID:          s.idFunc(),
		ExternalURL: raw.ExternalURL,
		Stage:       listing.StageInitial,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	mergeDiscovery(&rec, zoneID, raw, addr)
	rec.Stage = listing.StageAfterDiscovery(rec.Stage)
	if rec.Website == "" {
		rec.ScrapeStatus = listing.ScrapeNoWebsite
		rec.Stage = listing.StageForNoWebsite(rec.Stage)
	} else {
		rec.ScrapeStatus = listing.ScrapePending
	}
	s.records[rec.ID] = rec
	if rec.ExternalURL != "" {
		s.byURL[rec.ExternalURL] = rec.ID
	}
	return rec, true, nil
}

// mergeDiscovery overwrites only the explicit discovery allow-list, so a
// schema change upstream can never silently clobber enrichment fields.
func mergeDiscovery(rec *listing.Record, zoneID string, raw listing.RawListing, addr listing.Address) {
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
}

// UpdateExtractionResult records one extraction attempt and advances stage.
func (s *Store) UpdateExtractionResult(_ context.Context, id string, res listing.Extraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}

	rec.ScrapeStatus = res.Status
	attempted := res.AttemptedAt
	if attempted.IsZero() {
		attempted = s.nowFunc()
	}
	rec.ScrapedAt = &attempted

	if res.Status == listing.ScrapeSuccess {
		rec.HoursWebsite = res.Hours
		impound := res.HasImpound
		rec.HasImpound = &impound
		rec.ImpoundConfidence = res.ImpoundConfidence
		rec.Services = res.Services
		rec.SnapshotURI = res.SnapshotURI
	}

	rec.Stage = listing.StageAfterExtraction(rec.Stage, res.Status)
	rec.UpdatedAt = s.nowFunc()
	s.records[id] = rec
	return nil
}

// FindStale returns never-attempted records first, then oldest attempts.
func (s *Store) FindStale(_ context.Context, zoneID string, olderThan time.Time, limit int) ([]listing.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []listing.Record
	for _, rec := range s.records {
		if zoneID != "" && rec.ZoneID != zoneID {
			continue
		}
		if rec.Website == "" || rec.ScrapeStatus == listing.ScrapeNoWebsite {
			continue
		}
		if rec.ScrapedAt == nil || rec.ScrapedAt.Before(olderThan) {
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ScrapedAt, out[j].ScrapedAt
		switch {
		case a == nil && b == nil:
			return out[i].ID < out[j].ID
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// StageBreakdown counts records per stage for a zone.
func (s *Store) StageBreakdown(_ context.Context, zoneID string) (map[listing.Stage]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	breakdown := make(map[listing.Stage]int, len(listing.Stages()))
	for _, st := range listing.Stages() {
		breakdown[st] = 0
	}
	for _, rec := range s.records {
		if zoneID != "" && rec.ZoneID != zoneID {
			continue
		}
		breakdown[rec.Stage]++
	}
	return breakdown, nil
}

// StatusReport summarizes pipeline progress for a zone.
func (s *Store) StatusReport(ctx context.Context, zoneID string) (listing.StatusReport, error) {
	breakdown, err := s.StageBreakdown(ctx, zoneID)
	if err != nil {
		return listing.StatusReport{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	report := listing.StatusReport{StageBreakdown: breakdown}
	for _, rec := range s.records {
		if zoneID != "" && rec.ZoneID != zoneID {
			continue
		}
		report.TotalCompanies++
		if rec.Website != "" {
			report.WithWebsites++
		}
		switch rec.ScrapeStatus {
		case listing.ScrapeSuccess:
			report.WebsitesScraped++
		case listing.ScrapeFailed:
			report.WebsitesFailed++
		}
	}
	return report, nil
}

// Get fetches a record by id.
func (s *Store) Get(_ context.Context, id string) (listing.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return listing.Record{}, store.ErrNotFound
	}
	return rec, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() {}
