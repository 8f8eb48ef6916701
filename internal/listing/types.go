// Package listing defines the core types shared across the enrichment pipeline.
package listing

import (
	"fmt"
	"time"
)

// Stage represents a record's position in the enrichment pipeline.
type Stage string

// Pipeline stages persisted on each listing record.
const (
	StageInitial         Stage = "initial"
	StageGoogleMaps      Stage = "google_maps"
	StageWebsiteScraped  Stage = "website_scraped"
	StageFacebookScraped Stage = "facebook_scraped"
	StageFullyEnriched   Stage = "fully_enriched"
	StageFailed          Stage = "failed"
)

// Stages lists every stage in pipeline order, for breakdown reports.
func Stages() []Stage {
	return []Stage{
		StageInitial,
		StageGoogleMaps,
		StageWebsiteScraped,
		StageFacebookScraped,
		StageFullyEnriched,
		StageFailed,
	}
}

// ScrapeStatus tracks the outcome of the most recent website extraction attempt.
type ScrapeStatus string

// Website scrape status values.
const (
	ScrapePending   ScrapeStatus = "pending"
	ScrapeSuccess   ScrapeStatus = "success"
	ScrapeFailed    ScrapeStatus = "failed"
	ScrapeNoWebsite ScrapeStatus = "no_website"
)

// Hours is a weekly schedule extracted from a directory listing or a website.
type Hours struct {
	Days       map[string]string `json:"days,omitempty"`
	AlwaysOpen bool              `json:"always_open,omitempty"`
}

// Empty reports whether no schedule information was found.
func (h *Hours) Empty() bool {
	return h == nil || (len(h.Days) == 0 && !h.AlwaysOpen)
}

// Record is a towing-company listing persisted in the store.
type Record struct {
	ID          string `json:"id"`
	ZoneID      string `json:"zone_id"`
	ExternalURL string `json:"external_url"`

	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Website string `json:"website,omitempty"`

	AddressStreet string `json:"address_street"`
	AddressCity   string `json:"address_city"`
	AddressState  string `json:"address_state"`
	AddressZip    string `json:"address_zip"`

	Rating      *float64 `json:"rating,omitempty"`
	ReviewCount *int     `json:"review_count,omitempty"`

	// Hours comes from the directory listing; HoursWebsite from extraction.
	Hours        *Hours `json:"hours,omitempty"`
	HoursWebsite *Hours `json:"hours_website,omitempty"`

	HasImpound        *bool    `json:"has_impound_service,omitempty"`
	ImpoundConfidence float64  `json:"impound_confidence,omitempty"`
	Services          []string `json:"services,omitempty"`
	SnapshotURI       string   `json:"snapshot_uri,omitempty"`

	Stage        Stage        `json:"stage"`
	ScrapeStatus ScrapeStatus `json:"website_scrape_status"`
	ScrapedAt    *time.Time   `json:"website_scraped_at,omitempty"`

	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RawListing is a normalized item produced by the directory client.
type RawListing struct {
	Name        string            `json:"name"`
	Phone       string            `json:"phone"`
	Website     string            `json:"website"`
	ExternalURL string            `json:"external_url"`
	Address     string            `json:"address"`
	Rating      *float64          `json:"rating,omitempty"`
	ReviewCount *int              `json:"review_count,omitempty"`
	Hours       map[string]string `json:"hours,omitempty"`
	Source      string            `json:"source"`
}

// Valid reports whether the raw listing passes the import filter. A listing
// lacking both a name and a canonical listing URL is excluded.
func (r RawListing) Valid() bool {
	return r.Name != "" || r.ExternalURL != ""
}

// Extraction is the per-record write-back produced by one extraction attempt.
type Extraction struct {
	Status            ScrapeStatus
	Hours             *Hours
	HasImpound        bool
	ImpoundConfidence float64
	Services          []string
	SnapshotURI       string
	AttemptedAt       time.Time
}

// Zone is the geographic grouping under which listings are discovered.
type Zone struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state,omitempty"`
}

// Location renders the zone as a directory search location string.
func (z Zone) Location() string {
	if z.State == "" {
		return z.Name
	}
	return fmt.Sprintf("%s, %s", z.Name, z.State)
}

// CrawlSummary is returned by a zone crawl. It is never persisted.
type CrawlSummary struct {
	CompaniesFound   int           `json:"companies_found"`
	CompaniesNew     int           `json:"companies_new"`
	CompaniesUpdated int           `json:"companies_updated"`
	WebsitesScraped  int           `json:"websites_scraped"`
	WebsitesFailed   int           `json:"websites_failed"`
	StageBreakdown   map[Stage]int `json:"stage_breakdown"`
	DiscoveryPartial bool          `json:"discovery_partial,omitempty"`
}

// RefreshSummary is returned by a stale-refresh sweep.
type RefreshSummary struct {
	CompaniesProcessed int `json:"companies_processed"`
	WebsitesScraped    int `json:"websites_scraped"`
	WebsitesFailed     int `json:"websites_failed"`
}

// StatusReport is a point-in-time view of a zone's pipeline progress.
type StatusReport struct {
	TotalCompanies  int           `json:"total_companies"`
	WithWebsites    int           `json:"with_websites"`
	WebsitesScraped int           `json:"websites_scraped"`
	WebsitesFailed  int           `json:"websites_failed"`
	StageBreakdown  map[Stage]int `json:"stage_breakdown"`
}
