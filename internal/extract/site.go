package extract

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Archiver persists a rendered page body and returns a stable URI for it.
type Archiver interface {
	Save(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// SiteExtractorConfig tunes a SiteExtractor.
type SiteExtractorConfig struct {
	// Timeout bounds a whole extraction attempt, probe and render included.
	Timeout time.Duration
}

// SiteExtractor implements Extractor. The flow is probe first, promote to a
// headless render only when the static body looks like a script shell, then
// parse the winning document. Snapshot archiving is best effort.
type SiteExtractor struct {
	cfg      SiteExtractorConfig
	fetcher  Fetcher
	renderer Renderer
	detector *Detector
	archive  Archiver
	logger   *zap.Logger
}

// NewSiteExtractor wires an extractor. renderer and archive may be nil; a nil
// renderer disables headless promotion and a nil archive disables snapshots.
func NewSiteExtractor(cfg SiteExtractorConfig, fetcher Fetcher, renderer Renderer, archive Archiver, logger *zap.Logger) *SiteExtractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SiteExtractor{
		cfg:      cfg,
		fetcher:  fetcher,
		renderer: renderer,
		detector: NewDetector(0),
		archive:  archive,
		logger:   logger,
	}
}

// Extract fetches a website and pulls enrichment signals out of it.
func (s *SiteExtractor) Extract(ctx context.Context, rawURL string) (Result, error) {
	if err := validateURL(rawURL); err != nil {
		return Result{}, &Error{Kind: KindUnreachable, URL: rawURL, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	page, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		if page.StatusCode >= 400 {
			return Result{}, &Error{Kind: KindBlocked, URL: rawURL, Err: err}
		}
		return Result{}, classify(rawURL, err)
	}
	if page.StatusCode >= 400 {
		return Result{}, &Error{Kind: KindBlocked, URL: rawURL, Err: fmt.Errorf("status %d", page.StatusCode)}
	}

	if s.renderer != nil && s.detector.NeedsRender(page) {
		rendered, rerr := s.renderer.Render(ctx, rawURL)
		if rerr != nil {
			if ctx.Err() != nil {
				return Result{}, classify(rawURL, rerr)
			}
			// The static body is still usable; fall back to it.
			s.logger.Warn("headless render failed, using static body",
				zap.String("url", rawURL),
				zap.Error(rerr))
		} else {
			page = rendered
		}
	}

	text, perr := pageText(page.Body)
	if perr != nil {
		return Result{}, &Error{Kind: KindMalformed, URL: rawURL, Err: perr}
	}
	if looksBotWalled(text) {
		return Result{}, &Error{Kind: KindBlocked, URL: rawURL, Err: errors.New("bot challenge page")}
	}
	if strings.TrimSpace(text) == "" {
		return Result{}, &Error{Kind: KindMalformed, URL: rawURL, Err: errors.New("no extractable text")}
	}

	res := Result{
		Hours:        parseHours(text),
		Impound:      detectImpound(text),
		Services:     extractServices(text),
		FinalURL:     page.FinalURL,
		UsedHeadless: page.UsedJS,
	}

	if s.archive != nil {
		uri, aerr := s.archive.Save(ctx, rawURL, "text/html", page.Body)
		if aerr != nil {
			s.logger.Warn("snapshot archive failed",
				zap.String("url", rawURL),
				zap.Error(aerr))
		} else {
			res.SnapshotURI = uri
		}
	}
	return res, nil
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url has no host")
	}
	return nil
}

// classify maps transport failures onto extraction kinds.
func classify(rawURL string, err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, URL: rawURL, Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindTimeout, URL: rawURL, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, URL: rawURL, Err: err}
	}
	return &Error{Kind: KindUnreachable, URL: rawURL, Err: err}
}
