// Package directory wraps the third-party crawling platform used to discover
// business listings. The platform runs searches as asynchronous actor runs:
// submit a run, poll until it reaches a terminal status, then fetch the
// resulting dataset items.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/towdesk/leadpipe/internal/listing"
)

// ErrUnavailable indicates the directory service could not be reached or
// rejected the request outright. Fatal for the current zone's discovery phase
// only; other zones are unaffected.
var ErrUnavailable = errors.New("directory service unavailable")

// Client discovers listings near a location.
type Client interface {
	// Discover runs a search and returns normalized listings. On search
	// timeout it returns whatever items were already produced and marks the
	// result partial instead of failing.
	Discover(ctx context.Context, location, query string, maxResults int) (Result, error)
}

// Result is the discovery envelope.
type Result struct {
	Listings []listing.RawListing
	Partial  bool
}

// Config controls the HTTP client.
type Config struct {
	BaseURL      string
	Token        string
	ActorID      string
	Timeout      time.Duration
	PollInterval time.Duration
}

// HTTPClient implements Client against the platform's REST API.
type HTTPClient struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewHTTPClient builds a client with defaults filled in.
func NewHTTPClient(cfg Config, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ActorID == "" {
		cfg.ActorID = "compass~crawler-google-places"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &HTTPClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

type runEnvelope struct {
	Data struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		StatusMessage string `json:"statusMessage"`
	} `json:"data"`
}

// rawItem mirrors the dataset item shape returned by the search actor.
type rawItem struct {
	Title        string            `json:"title"`
	Address      string            `json:"address"`
	Phone        string            `json:"phone"`
	Website      string            `json:"website"`
	URL          string            `json:"url"`
	Rating       *float64          `json:"rating"`
	ReviewsCount *int              `json:"reviewsCount"`
	OpeningHours map[string]string `json:"openingHours"`
}

// Discover submits a search run, waits for it to finish and fetches items.
func (c *HTTPClient) Discover(ctx context.Context, location, query string, maxResults int) (Result, error) {
	runID, err := c.startRun(ctx, location, query, maxResults)
	if err != nil {
		return Result{}, err
	}

	partial, err := c.awaitRun(ctx, runID)
	if err != nil {
		return Result{}, err
	}

	items, err := c.fetchItems(ctx, runID)
	if err != nil {
		if partial {
			// The run timed out and the partial dataset is also unreadable;
			// nothing was retrieved.
			return Result{Partial: true}, nil
		}
		return Result{}, err
	}

	listings := make([]listing.RawListing, 0, len(items))
	for _, item := range items {
		raw := normalizeItem(item)
		if !raw.Valid() {
			c.logger.Debug("dropping invalid directory item", zap.String("address", item.Address))
			continue
		}
		listings = append(listings, raw)
	}
	if maxResults > 0 && len(listings) > maxResults {
		listings = listings[:maxResults]
	}
	return Result{Listings: listings, Partial: partial}, nil
}

func (c *HTTPClient) startRun(ctx context.Context, location, query string, maxResults int) (string, error) {
	input := map[string]any{
		"searchStringsArray":        []string{fmt.Sprintf("%s %s", query, location)},
		"maxCrawledPlacesPerSearch": maxResults,
		"language":                  "en",
		"includeWebResults":         true,
	}
	body, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal run input: %w", err)
	}

	url := fmt.Sprintf("%s/v2/acts/%s/runs", c.cfg.BaseURL, c.cfg.ActorID)
	var env runEnvelope
	if err := c.doJSON(ctx, http.MethodPost, url, bytes.NewReader(body), &env); err != nil {
		return "", fmt.Errorf("start search run: %w", err)
	}
	if env.Data.ID == "" {
		return "", fmt.Errorf("start search run: %w: empty run id", ErrUnavailable)
	}
	c.logger.Debug("directory run started", zap.String("run_id", env.Data.ID))
	return env.Data.ID, nil
}

// awaitRun polls until the run reaches a terminal status. A deadline hit
// returns partial=true rather than an error so callers can still collect
// whatever the run produced.
func (c *HTTPClient) awaitRun(ctx context.Context, runID string) (bool, error) {
	deadline := time.NewTimer(c.cfg.Timeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.cfg.PollInterval)
	defer tick.Stop()

	url := fmt.Sprintf("%s/v2/actor-runs/%s", c.cfg.BaseURL, runID)
	for {
		var env runEnvelope
		if err := c.doJSON(ctx, http.MethodGet, url, nil, &env); err != nil {
			return false, fmt.Errorf("poll search run: %w", err)
		}
		switch env.Data.Status {
		case "SUCCEEDED":
			return false, nil
		case "FAILED", "ABORTED", "TIMED-OUT":
			return false, fmt.Errorf("search run %s: %w: %s", env.Data.Status, ErrUnavailable, env.Data.StatusMessage)
		}

		select {
		case <-ctx.Done():
			return false, fmt.Errorf("await search run: %w", ctx.Err())
		case <-deadline.C:
			c.logger.Warn("directory run still going at deadline, collecting partial results",
				zap.String("run_id", runID))
			return true, nil
		case <-tick.C:
		}
	}
}

func (c *HTTPClient) fetchItems(ctx context.Context, runID string) ([]rawItem, error) {
	url := fmt.Sprintf("%s/v2/actor-runs/%s/dataset/items", c.cfg.BaseURL, runID)
	var items []rawItem
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &items); err != nil {
		return nil, fmt.Errorf("fetch run items: %w", err)
	}
	return items, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, url string, body *bytes.Reader, out any) error {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, url, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// normalizeItem maps a dataset item onto the listing schema deterministically.
func normalizeItem(item rawItem) listing.RawListing {
	return listing.RawListing{
		Name:        item.Title,
		Phone:       item.Phone,
		Website:     item.Website,
		ExternalURL: item.URL,
		Address:     item.Address,
		Rating:      item.Rating,
		ReviewCount: item.ReviewsCount,
		Hours:       item.OpeningHours,
		Source:      "directory_search",
	}
}
