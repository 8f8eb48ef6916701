// Package extract fetches company websites and pulls structured enrichment
// signals out of the rendered pages: weekly hours, an impound-service verdict
// and free-text service tags. Target sites are arbitrary small-business pages
// and frequently JavaScript-driven, so a static fetch is only a probe; pages
// that need script execution are promoted to a headless browser render.
package extract

import (
	"context"
	"fmt"
	"net/http"

	"github.com/towdesk/leadpipe/internal/listing"
)

// Kind classifies an extraction failure.
type Kind string

// Failure kinds. All are non-fatal to a batch; each maps to a failed scrape
// status on the record with no forward stage progress.
const (
	KindTimeout     Kind = "timeout"
	KindUnreachable Kind = "unreachable"
	KindBlocked     Kind = "blocked"
	KindMalformed   Kind = "malformed"
)

// Error is a per-record extraction failure.
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("extract %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("extract %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Verdict is the three-valued impound-service outcome.
type Verdict string

// Impound verdicts.
const (
	VerdictYes     Verdict = "yes"
	VerdictNo      Verdict = "no"
	VerdictUnknown Verdict = "unknown"
)

// ImpoundSignal carries the verdict with its heuristic confidence score.
type ImpoundSignal struct {
	Verdict Verdict
	Score   float64
}

// Bool projects the signal to the boolean stored on the record. Unknown
// projects to false with its low score, never to null.
func (s ImpoundSignal) Bool() bool { return s.Verdict == VerdictYes }

// Result is a successful extraction.
type Result struct {
	Hours        *listing.Hours
	Impound      ImpoundSignal
	Services     []string
	SnapshotURI  string
	FinalURL     string
	UsedHeadless bool
}

// Page is a fetched (or rendered) document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	UsedJS     bool
}

// Extractor turns a website URL into enrichment signals.
type Extractor interface {
	Extract(ctx context.Context, url string) (Result, error)
}

// Fetcher retrieves a page without executing scripts.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Renderer retrieves a page with JavaScript executed.
type Renderer interface {
	Render(ctx context.Context, url string) (Page, error)
	Close()
}
