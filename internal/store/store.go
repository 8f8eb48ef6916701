// Package store defines the persistence contract for listing records.
// Implementations live in the memory and postgres subpackages so the
// orchestrator stays decoupled from any particular backend.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/towdesk/leadpipe/internal/listing"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("listing record not found")

// ErrWriteConflict signals a concurrent-modification conflict on a single
// record update. Callers retry the write once with fresh data before treating
// it as a per-record failure.
var ErrWriteConflict = errors.New("concurrent write conflict")

// Store persists listing records and owns their stage/status fields.
type Store interface {
	// UpsertFromDiscovery looks a raw listing up by its external URL. Absent,
	// it creates the record and bumps it to the google_maps stage; present, it
	// merges the discovery allow-list fields over the existing record without
	// touching enrichment data. Returns the stored record and whether it was
	// newly created.
	UpsertFromDiscovery(ctx context.Context, zoneID string, raw listing.RawListing) (listing.Record, bool, error)

	// UpdateExtractionResult writes one extraction attempt's outcome and
	// advances the stage per the pipeline state machine.
	UpdateExtractionResult(ctx context.Context, id string, res listing.Extraction) error

	// FindStale returns records with a website whose last extraction attempt
	// is older than the cutoff or missing entirely, never-attempted first,
	// then oldest first, bounded by limit.
	FindStale(ctx context.Context, zoneID string, olderThan time.Time, limit int) ([]listing.Record, error)

	// StageBreakdown counts records per stage for a zone.
	StageBreakdown(ctx context.Context, zoneID string) (map[listing.Stage]int, error)

	// StatusReport summarizes a zone's pipeline progress.
	StatusReport(ctx context.Context, zoneID string) (listing.StatusReport, error)

	// Get fetches a single record by id.
	Get(ctx context.Context, id string) (listing.Record, error)

	// Close releases backend resources.
	Close()
}
