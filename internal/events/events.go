// Package events defines the outbound event surface. Downstream consumers
// (lead scoring, CRM sync) subscribe to enrichment events instead of polling
// the listings table.
package events

import (
	"context"
	"time"
)

// Topic names.
const (
	TopicListingEnriched = "listing-enriched"
	TopicCrawlCompleted  = "crawl-completed"
)

// Publisher delivers domain events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ListingEnriched is emitted after each completed extraction attempt.
type ListingEnriched struct {
	ListingID    string    `json:"listing_id"`
	ZoneID       string    `json:"zone_id"`
	Stage        string    `json:"stage"`
	ScrapeStatus string    `json:"scrape_status"`
	HasImpound   bool      `json:"has_impound"`
	AttemptedAt  time.Time `json:"attempted_at"`
}

// CrawlCompleted is emitted once per finished zone crawl.
type CrawlCompleted struct {
	ZoneID      string    `json:"zone_id"`
	Found       int       `json:"found"`
	New         int       `json:"new"`
	Updated     int       `json:"updated"`
	Scraped     int       `json:"scraped"`
	Failed      int       `json:"failed"`
	CompletedAt time.Time `json:"completed_at"`
}
